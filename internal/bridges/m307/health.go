package m307

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

const (
	// defaultHealthInterval is used when HealthReporterConfig.Interval is zero.
	defaultHealthInterval = 30 * time.Second

	// healthQoS is the QoS of health messages. They are always retained.
	healthQoS = 1
)

// HealthReporter publishes the bridge's health document to
// m307/health/{device} on a fixed interval, plus once at start and once at
// stop.
type HealthReporter struct {
	deviceID  string
	version   string
	startTime time.Time
	interval  time.Duration
	publisher HealthPublisher
	monitor   DeviceMonitor

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once

	mu     sync.RWMutex
	logger Logger
}

// HealthPublisher is the slice of the MQTT client the reporter needs.
type HealthPublisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	IsConnected() bool
}

// DeviceMonitor reports the bridge's view of the device. Bridge implements it.
type DeviceMonitor interface {
	DeviceState() DeviceConnection
	Statistics() BridgeStatistics
}

// HealthReporterConfig configures a HealthReporter.
type HealthReporterConfig struct {
	// DeviceID names the device in the message and the topic.
	DeviceID string

	// Version is the bridge software version.
	Version string

	// Interval between reports. Default: 30 seconds.
	Interval time.Duration

	// Publisher receives the messages. With none, publishing is a no-op.
	Publisher HealthPublisher

	// Monitor supplies reachability and counters. Optional.
	Monitor DeviceMonitor
}

// NewHealthReporter returns a reporter that is idle until Start.
func NewHealthReporter(cfg HealthReporterConfig) *HealthReporter {
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultHealthInterval
	}

	return &HealthReporter{
		deviceID:  cfg.DeviceID,
		version:   cfg.Version,
		startTime: time.Now(),
		interval:  interval,
		publisher: cfg.Publisher,
		monitor:   cfg.Monitor,
		done:      make(chan struct{}),
	}
}

// Start publishes the current health and then reports every interval until
// ctx ends or Stop is called.
func (h *HealthReporter) Start(ctx context.Context) {
	h.wg.Add(1)
	go h.reportLoop(ctx)
}

// Stop ends the report loop and publishes a final "stopping" message.
// Later calls do nothing.
func (h *HealthReporter) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)
		h.wg.Wait()

		if err := h.publishStatus(HealthStopping, "bridge stopping"); err != nil {
			h.logError("failed to publish stopping health", err)
		}
	})
}

// SetLogger sets the logger for publish failures.
func (h *HealthReporter) SetLogger(logger Logger) {
	h.mu.Lock()
	h.logger = logger
	h.mu.Unlock()
}

// PublishStarting publishes a "starting" message.
func (h *HealthReporter) PublishStarting() error {
	return h.publishStatus(HealthStarting, "bridge starting")
}

// PublishNow publishes the current health outside the interval, for example
// right after a poll changes device reachability.
func (h *HealthReporter) PublishNow() error {
	status, reason := h.determineStatus()
	return h.publishStatus(status, reason)
}

// LWTPayload returns the will message for this reporter's device.
func (h *HealthReporter) LWTPayload() ([]byte, error) {
	return LWTPayload(h.deviceID)
}

// LWTTopic returns the topic the will is published on.
func (h *HealthReporter) LWTTopic() string {
	return HealthTopic(h.deviceID)
}

// LWTPayload returns the offline health message the broker publishes for
// deviceID when the bridge vanishes. The MQTT connection is made before the
// bridge exists, so this is also available without a reporter.
func LWTPayload(deviceID string) ([]byte, error) {
	return json.Marshal(NewLWTMessage(deviceID))
}

func (h *HealthReporter) reportLoop(ctx context.Context) {
	defer h.wg.Done()

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		if err := h.PublishNow(); err != nil {
			h.logError("failed to publish health", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-h.done:
			return
		case <-ticker.C:
		}
	}
}

// determineStatus is healthy only while both the broker and the device are
// reachable.
func (h *HealthReporter) determineStatus() (HealthStatus, string) {
	if h.publisher == nil || !h.publisher.IsConnected() {
		return HealthDegraded, "MQTT disconnected"
	}
	if h.monitor == nil {
		return HealthHealthy, ""
	}

	dev := h.monitor.DeviceState()
	switch {
	case dev.Reachable:
		return HealthHealthy, ""
	case dev.LastError != "":
		return HealthDegraded, "device unreachable: " + dev.LastError
	default:
		return HealthDegraded, "device not polled yet"
	}
}

func (h *HealthReporter) publishStatus(status HealthStatus, reason string) error {
	if h.publisher == nil {
		return nil
	}

	var (
		dev   DeviceConnection
		stats BridgeStatistics
	)
	if h.monitor != nil {
		dev = h.monitor.DeviceState()
		stats = h.monitor.Statistics()
	}

	msg := NewHealthMessage(h.deviceID, h.version, status, dev, stats, h.startTime)
	msg.Reason = reason

	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return h.publisher.Publish(HealthTopic(h.deviceID), payload, healthQoS, true)
}

func (h *HealthReporter) logError(msg string, err error) {
	h.mu.RLock()
	logger := h.logger
	h.mu.RUnlock()

	if logger != nil {
		logger.Error(msg, "error", err)
	}
}
