package m307

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Bridge operation constants.
const (
	// defaultPollInterval is used when BridgeConfig.PollInterval is zero.
	defaultPollInterval = 60 * time.Second

	// defaultLogRate is the sync_clock log rate when none is configured.
	defaultLogRate = 5
)

// Bridge exposes one M307 on MQTT. It handles:
//   - Polling the status at a fixed interval and publishing it retained
//   - Writing each status and drained log entry to telemetry
//   - Receiving commands via MQTT and acknowledging them
//   - Health reporting and graceful shutdown
//
// Each device operation opens its own session and closes it afterwards. A
// mutex keeps at most one session in flight, since the device serves a
// single request at a time.
//
// Thread Safety: All methods are safe for concurrent use.
type Bridge struct {
	cfg       BridgeConfig
	version   string
	mqtt      MQTTClient
	telemetry Telemetry   // Optional time-series sink
	store     RecordStore // Optional record backup store
	health    *HealthReporter

	// deviceMu serialises device sessions.
	deviceMu sync.Mutex

	// Device view for health reporting
	stateMu   sync.RWMutex
	lastPoll  time.Time
	lastError string
	reachable bool

	polls      atomic.Uint64
	pollErrors atomic.Uint64
	commands   atomic.Uint64
	logEntries atomic.Uint64

	// Shutdown coordination (stopMu orders command dispatch against Stop)
	stopMu    sync.Mutex
	done      chan struct{}
	wg        sync.WaitGroup
	stopOnce  sync.Once
	ctx       context.Context    // Bridge-level context, cancelled on Stop()
	ctxCancel context.CancelFunc // Cancel function for ctx

	// Logger
	logger   Logger
	loggerMu sync.RWMutex
}

// BridgeConfig holds the bridge service settings.
type BridgeConfig struct {
	// DeviceID names the device in topics, telemetry and backups.
	DeviceID string

	// Session is the device connection configuration.
	Session SessionConfig

	// LogRate is the log interval sync_clock sets when the command does not
	// carry one.
	LogRate int

	// PollInterval is how often the status is read.
	// Default: 60 seconds.
	PollInterval time.Duration

	// HealthInterval is how often health is published.
	// Default: 30 seconds.
	HealthInterval time.Duration

	// DrainOnStart continues the log drain once before the first poll.
	DrainOnStart bool
}

// MQTTClient is the interface for MQTT operations.
// This allows mocking in tests and flexibility in implementation.
type MQTTClient interface {
	// Publish sends a message to a topic.
	Publish(topic string, payload []byte, qos byte, retained bool) error

	// Subscribe registers a handler for a topic pattern.
	Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error

	// IsConnected returns true if connected to the broker.
	IsConnected() bool

	// Disconnect closes the connection gracefully.
	Disconnect(quiesce uint)
}

// Telemetry receives measurements for long-term storage.
// This interface is satisfied by *influxdb.Client.
type Telemetry interface {
	WriteStatus(deviceID string, st Status, at time.Time)
	WriteLogEntry(deviceID string, e LogEntry)
}

// RecordStore keeps backups of the user records.
// This interface is satisfied by *recordstore.SQLiteRepository.
type RecordStore interface {
	// SaveBackup stores one image of every user record and returns the
	// backup ID.
	SaveBackup(ctx context.Context, deviceID string, records []Record) (string, error)
}

// BridgeOptions holds configuration for creating a bridge.
type BridgeOptions struct {
	// Config is the bridge configuration.
	Config BridgeConfig

	// Version is reported in health messages.
	Version string

	// MQTTClient is the MQTT client implementation.
	MQTTClient MQTTClient

	// Telemetry is optional. Without it, drain_log fails with NOT_CONFIGURED.
	Telemetry Telemetry

	// Store is optional. Without it, backup_records fails with NOT_CONFIGURED.
	Store RecordStore

	// Logger is optional structured logger.
	Logger Logger
}

// NewBridge creates a new bridge instance.
// Call Start() to begin operation.
func NewBridge(opts BridgeOptions) (*Bridge, error) {
	if opts.Config.DeviceID == "" {
		return nil, fmt.Errorf("%w: device ID is required", ErrValidation)
	}
	if opts.Config.Session.Address == "" {
		return nil, fmt.Errorf("%w: device address is required", ErrValidation)
	}
	if opts.MQTTClient == nil {
		return nil, fmt.Errorf("%w: MQTT client is required", ErrValidation)
	}

	cfg := opts.Config
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.LogRate == 0 {
		cfg.LogRate = defaultLogRate
	}

	ctx, ctxCancel := context.WithCancel(context.Background())

	b := &Bridge{
		cfg:       cfg,
		version:   opts.Version,
		mqtt:      opts.MQTTClient,
		telemetry: opts.Telemetry,
		store:     opts.Store,
		done:      make(chan struct{}),
		ctx:       ctx,
		ctxCancel: ctxCancel,
		logger:    opts.Logger,
	}

	b.health = NewHealthReporter(HealthReporterConfig{
		DeviceID:  cfg.DeviceID,
		Version:   opts.Version,
		Interval:  cfg.HealthInterval,
		Publisher: opts.MQTTClient,
		Monitor:   b,
	})
	if opts.Logger != nil {
		b.health.SetLogger(opts.Logger)
	}

	return b, nil
}

// Start begins bridge operation.
// This subscribes to the command topic and starts polling and health
// reporting. Polling stops when ctx is cancelled or Stop is called.
func (b *Bridge) Start(ctx context.Context) error {
	if err := b.health.PublishStarting(); err != nil {
		b.logError("failed to publish starting status", err)
	}

	commandTopic := CommandTopic(b.cfg.DeviceID)
	if err := b.mqtt.Subscribe(commandTopic, 1, b.handleMQTTMessage); err != nil {
		return fmt.Errorf("subscribe to commands: %w", err)
	}
	b.logInfo("subscribed to commands", "topic", commandTopic)

	b.health.Start(ctx)

	b.wg.Add(1)
	go b.pollLoop(ctx)

	b.logInfo("bridge started",
		"device_id", b.cfg.DeviceID,
		"address", b.cfg.Session.Address,
		"poll_interval", b.cfg.PollInterval)

	return nil
}

// Stop gracefully shuts down the bridge.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		b.stopMu.Lock()
		close(b.done)
		b.stopMu.Unlock()

		// Cancel bridge context to abort in-flight device operations
		b.ctxCancel()

		// Wait for the poll loop and running commands
		b.wg.Wait()

		// Stop health reporting (publishes "stopping" status)
		b.health.Stop()

		b.logInfo("bridge stopped")
	})
}

// SetLogger sets the logger for the bridge and its health reporter.
func (b *Bridge) SetLogger(logger Logger) {
	b.loggerMu.Lock()
	b.logger = logger
	b.loggerMu.Unlock()
	b.health.SetLogger(logger)
}

// pollLoop polls the device once immediately and then every interval.
func (b *Bridge) pollLoop(ctx context.Context) {
	defer b.wg.Done()

	ctx, cancel := b.mergedContext(ctx)
	defer cancel()

	if b.cfg.DrainOnStart && b.telemetry != nil {
		if n, err := b.DrainLog(ctx, false); err != nil {
			b.logError("startup log drain failed", err)
		} else {
			b.logInfo("startup log drain complete", "entries", n)
		}
	}

	b.pollAndReport(ctx)

	ticker := time.NewTicker(b.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.pollAndReport(ctx)
		}
	}
}

// mergedContext returns a context cancelled when either ctx or the bridge
// context is done.
func (b *Bridge) mergedContext(ctx context.Context) (context.Context, context.CancelFunc) {
	merged, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(b.ctx, cancel)
	return merged, func() {
		stop()
		cancel()
	}
}

// pollAndReport runs one poll and logs the outcome.
func (b *Bridge) pollAndReport(ctx context.Context) {
	if _, err := b.Poll(ctx); err != nil && ctx.Err() == nil {
		b.logError("status poll failed", err)
	}
}

// Poll reads the status once, publishes it and writes it to telemetry.
func (b *Bridge) Poll(ctx context.Context) (Status, error) {
	var st Status
	err := b.withDevice(ctx, func(c *Client) error {
		var err error
		st, err = c.ReadStatus(ctx)
		return err
	})
	now := time.Now()
	b.recordPoll(now, err)
	if err != nil {
		return Status{}, err
	}

	b.publishState(st, now)
	if b.telemetry != nil {
		b.telemetry.WriteStatus(b.cfg.DeviceID, st, now)
	}
	b.logDebug("status polled",
		"device_id", b.cfg.DeviceID,
		"alarm", st.AnyAlarm())
	return st, nil
}

// SyncClock sets the device clock to now with the given log rate.
func (b *Bridge) SyncClock(ctx context.Context, rate int) (time.Time, error) {
	now := time.Now()
	err := b.withDevice(ctx, func(c *Client) error {
		return c.SetClockAndLogRate(ctx, now, rate)
	})
	return now, err
}

// DrainLog streams log entries to telemetry and returns how many were
// written. With reset the drain starts at the oldest entry, otherwise it
// continues from the device's log pointer.
func (b *Bridge) DrainLog(ctx context.Context, reset bool) (int, error) {
	if b.telemetry == nil {
		return 0, fmt.Errorf("%w: no telemetry sink for log drain", errNotConfigured)
	}

	n := 0
	err := b.withDevice(ctx, func(c *Client) error {
		_, err := c.ReadLog(ctx, reset, func(e LogEntry) error {
			b.telemetry.WriteLogEntry(b.cfg.DeviceID, e)
			n++
			return nil
		})
		return err
	})
	b.logEntries.Add(uint64(n))
	return n, err
}

// BackupRecords reads all user records and stores them, returning the
// backup ID.
func (b *Bridge) BackupRecords(ctx context.Context) (string, error) {
	if b.store == nil {
		return "", fmt.Errorf("%w: no record store for backup", errNotConfigured)
	}

	records := make([]Record, 0, RecordCount)
	err := b.withDevice(ctx, func(c *Client) error {
		for i := range RecordCount {
			rec, err := c.ReadUserRecord(ctx, i)
			if err != nil {
				return err
			}
			records = append(records, rec)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return b.store.SaveBackup(ctx, b.cfg.DeviceID, records)
}

// withDevice runs fn on a fresh session, holding the device lock.
func (b *Bridge) withDevice(ctx context.Context, fn func(*Client) error) error {
	b.deviceMu.Lock()
	defer b.deviceMu.Unlock()
	return WithSession(ctx, b.cfg.Session, fn)
}

// recordPoll updates the device view after a poll.
func (b *Bridge) recordPoll(at time.Time, err error) {
	b.stateMu.Lock()
	defer b.stateMu.Unlock()

	if err != nil {
		b.pollErrors.Add(1)
		b.reachable = false
		b.lastError = err.Error()
		return
	}
	b.polls.Add(1)
	b.reachable = true
	b.lastError = ""
	b.lastPoll = at
}

// DeviceState implements DeviceMonitor.
func (b *Bridge) DeviceState() DeviceConnection {
	b.stateMu.RLock()
	defer b.stateMu.RUnlock()

	dev := DeviceConnection{
		Address:   b.cfg.Session.Address,
		Reachable: b.reachable,
		LastError: b.lastError,
	}
	if !b.lastPoll.IsZero() {
		last := b.lastPoll.UTC()
		dev.LastPoll = &last
	}
	return dev
}

// Statistics implements DeviceMonitor.
func (b *Bridge) Statistics() BridgeStatistics {
	return BridgeStatistics{
		Polls:      b.polls.Load(),
		PollErrors: b.pollErrors.Load(),
		Commands:   b.commands.Load(),
		LogEntries: b.logEntries.Load(),
	}
}

// ─── MQTT ──────────────────────────────────────────────────────────

// handleMQTTMessage parses a command and runs it in the background so the
// MQTT client is not blocked by long operations such as a log drain.
func (b *Bridge) handleMQTTMessage(_ string, payload []byte) {
	var cmd CommandMessage
	if err := json.Unmarshal(payload, &cmd); err != nil {
		b.logError("failed to parse command", err)
		cmd.ID = uuid.NewString()
		b.publishAckError(cmd, ErrCodeInvalidCommand, err.Error())
		return
	}
	if cmd.ID == "" {
		cmd.ID = uuid.NewString()
	}

	b.stopMu.Lock()
	select {
	case <-b.done:
		b.stopMu.Unlock()
		b.publishAckError(cmd, ErrCodeBridgeError, "bridge stopping")
		return
	default:
	}
	b.wg.Add(1)
	b.stopMu.Unlock()

	b.logInfo("received command",
		"command_id", cmd.ID,
		"command", cmd.Command,
		"source", cmd.Source)

	go func() {
		defer b.wg.Done()
		b.handleCommand(cmd)
	}()
}

// handleCommand executes one command and publishes its acknowledgement.
func (b *Bridge) handleCommand(cmd CommandMessage) {
	b.commands.Add(1)

	result, err := b.executeCommand(b.ctx, cmd)
	if err != nil {
		b.publishAckError(cmd, errorCode(err), err.Error())
		return
	}
	b.publishAck(cmd, result)
}

// executeCommand dispatches a command by name.
func (b *Bridge) executeCommand(ctx context.Context, cmd CommandMessage) (map[string]any, error) {
	switch cmd.Command {
	case CommandReadStatus:
		st, err := b.Poll(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]any{"status": st}, nil

	case CommandSyncClock:
		rate, ok, err := cmd.intParam("log_rate")
		if err != nil {
			return nil, err
		}
		if !ok {
			rate = b.cfg.LogRate
		}
		at, err := b.SyncClock(ctx, rate)
		if err != nil {
			return nil, err
		}
		return map[string]any{"clock": at.Format(time.DateTime), "log_rate": rate}, nil

	case CommandDrainLog:
		reset, err := cmd.boolParam("reset")
		if err != nil {
			return nil, err
		}
		n, err := b.DrainLog(ctx, reset)
		if err != nil {
			return nil, fmt.Errorf("after %d entries: %w", n, err)
		}
		return map[string]any{"entries": n, "reset": reset}, nil

	case CommandBackupRecords:
		id, err := b.BackupRecords(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]any{"backup_id": id}, nil

	default:
		return nil, fmt.Errorf("%w: %q", errUnknownCommand, cmd.Command)
	}
}

// publishState publishes the retained status snapshot.
func (b *Bridge) publishState(st Status, at time.Time) {
	payload, err := json.Marshal(NewStateMessage(b.cfg.DeviceID, st, at))
	if err != nil {
		b.logError("failed to marshal state", err)
		return
	}
	if err := b.mqtt.Publish(StateTopic(b.cfg.DeviceID), payload, 1, true); err != nil {
		b.logError("failed to publish state", err)
	}
}

func (b *Bridge) publishAck(cmd CommandMessage, result map[string]any) {
	ack := NewAckMessage(cmd, b.cfg.DeviceID, AckAccepted, result)

	payload, err := json.Marshal(ack)
	if err != nil {
		b.logError("failed to marshal ack", err)
		return
	}

	if err := b.mqtt.Publish(AckTopic(b.cfg.DeviceID), payload, 1, false); err != nil {
		b.logError("failed to publish ack", err)
	}
}

func (b *Bridge) publishAckError(cmd CommandMessage, code, message string) {
	ack := NewAckError(cmd, b.cfg.DeviceID, code, message)

	payload, err := json.Marshal(ack)
	if err != nil {
		b.logError("failed to marshal ack error", err)
		return
	}

	if err := b.mqtt.Publish(AckTopic(b.cfg.DeviceID), payload, 1, false); err != nil {
		b.logError("failed to publish ack error", err)
	}

	b.logError("command failed",
		fmt.Errorf("command=%s code=%s message=%s", cmd.Command, code, message))
}

// logInfo logs an info message if logger is set.
func (b *Bridge) logInfo(msg string, keysAndValues ...any) {
	b.loggerMu.RLock()
	logger := b.logger
	b.loggerMu.RUnlock()

	if logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

// logError logs an error message if logger is set.
func (b *Bridge) logError(msg string, err error) {
	b.loggerMu.RLock()
	logger := b.logger
	b.loggerMu.RUnlock()

	if logger != nil {
		logger.Error(msg, "error", err)
	}
}

// logDebug logs a debug message if logger is set.
func (b *Bridge) logDebug(msg string, keysAndValues ...any) {
	b.loggerMu.RLock()
	logger := b.logger
	b.loggerMu.RUnlock()

	if logger != nil {
		logger.Debug(msg, keysAndValues...)
	}
}
