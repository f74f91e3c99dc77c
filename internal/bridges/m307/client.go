package m307

import (
	"bytes"
	"context"
	"fmt"
	"time"
)

// Client implements the M307 command set over a Transport.
//
// A Client is not safe for concurrent use: the protocol allows one request
// in flight per connection.
type Client struct {
	t      Transport
	logger Logger

	// resolution is learned from the most recent status read and used to
	// scale log temperatures.
	resolution Resolution
}

// NewClient returns a client using t. A nil logger disables logging.
func NewClient(t Transport, logger Logger) *Client {
	if logger == nil {
		logger = nopLogger{}
	}
	return &Client{t: t, logger: logger}
}

// Connect dials the device and returns a client owning the session.
func Connect(ctx context.Context, cfg SessionConfig) (*Client, error) {
	s, err := Dial(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return NewClient(s, cfg.Logger), nil
}

// WithSession connects, runs fn, and closes the session on every exit path,
// including a panic in fn. A close error is returned only if fn succeeded.
func WithSession(ctx context.Context, cfg SessionConfig, fn func(*Client) error) (err error) {
	c, err := Connect(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := c.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return fn(c)
}

// Close closes the underlying transport.
func (c *Client) Close() error {
	return c.t.Close()
}

// exchange builds a request packet and sends it.
func (c *Client) exchange(ctx context.Context, cmd Command, payload []byte) (Packet, error) {
	req, err := NewPacket(cmd, payload)
	if err != nil {
		return Packet{}, err
	}
	reply, err := c.t.Exchange(ctx, req)
	if err != nil {
		return Packet{}, fmt.Errorf("%s: %w", CommandName(cmd), err)
	}
	return reply, nil
}

// ─── Status ────────────────────────────────────────────────────────

// ReadStatus reads a fresh status snapshot.
func (c *Client) ReadStatus(ctx context.Context) (Status, error) {
	reply, err := c.exchange(ctx, CmdReadStatus, nil)
	if err != nil {
		return Status{}, err
	}
	st := DecodeStatus(reply)
	c.resolution = st.Resolution
	return st, nil
}

// Resolution returns the device temperature resolution, reading the status
// once if it is not known yet.
func (c *Client) Resolution(ctx context.Context) (Resolution, error) {
	if c.resolution != ResolutionUnknown {
		return c.resolution, nil
	}
	st, err := c.ReadStatus(ctx)
	if err != nil {
		return ResolutionUnknown, err
	}
	return st.Resolution, nil
}

// ─── User records ──────────────────────────────────────────────────

// ReadUserRecord reads the full image of user record index (0-5).
//
// Returns:
//   - Record: The 60-byte image
//   - error: ErrValidation for a bad index (nothing is sent), ErrProtocol if
//     the reply is not for the requested record
func (c *Client) ReadUserRecord(ctx context.Context, index int) (Record, error) {
	cmd, err := ReadRecordCommand(index)
	if err != nil {
		return Record{}, err
	}
	reply, err := c.exchange(ctx, cmd, nil)
	if err != nil {
		return Record{}, err
	}
	if got := reply.Command(); got != cmd {
		return Record{}, fmt.Errorf("%w: read record %d: reply command %s, want %s", ErrProtocol, index, got, cmd)
	}
	return Record(reply), nil
}

// WriteUserRecord writes 56 payload bytes to user record index and verifies
// the device echoed them back.
//
// The device answers a write with the read command of the same record and
// the data it stored. Anything else is a failed write.
//
// Returns:
//   - error: ErrValidation for a bad index or payload length (nothing is
//     sent), ErrProtocol if verification fails
func (c *Client) WriteUserRecord(ctx context.Context, index int, payload []byte) error {
	cmd, err := WriteRecordCommand(index)
	if err != nil {
		return err
	}
	if len(payload) != PayloadSize {
		return fmt.Errorf("%w: record payload is %d bytes, want %d", ErrValidation, len(payload), PayloadSize)
	}

	reply, err := c.exchange(ctx, cmd, payload)
	if err != nil {
		return err
	}

	readCmd, _ := ReadRecordCommand(index)
	if got := reply.Command(); got != readCmd {
		return fmt.Errorf("%w: write record %d: verification reply command %s, want %s", ErrProtocol, index, got, readCmd)
	}
	if !bytes.Equal(reply[CommandSize:], payload) {
		return fmt.Errorf("%w: write record %d: verification data mismatch", ErrProtocol, index)
	}

	c.logger.Info("m307 record written", "record", index)
	return nil
}

// WriteRecord writes a full record image.
func (c *Client) WriteRecord(ctx context.Context, rec Record) error {
	return c.WriteUserRecord(ctx, rec.Index(), rec.Payload())
}

// ReadFields reads record index and decodes it through its field table.
func (c *Client) ReadFields(ctx context.Context, index int) (map[string]any, error) {
	layout, err := LayoutFor(index)
	if err != nil {
		return nil, err
	}
	rec, err := c.ReadUserRecord(ctx, index)
	if err != nil {
		return nil, err
	}
	return layout.Decode(rec), nil
}

// UpdateFields changes the named fields of record index and leaves every
// other byte as the device had it. The values are checked before anything
// is sent.
func (c *Client) UpdateFields(ctx context.Context, index int, values map[string]any) error {
	layout, err := LayoutFor(index)
	if err != nil {
		return err
	}
	scratch, _ := NewRecord(index)
	if _, err := layout.Encode(scratch, values); err != nil {
		return err
	}
	return c.modify(ctx, index, func(rec Record) (Record, error) {
		return layout.Encode(rec, values)
	})
}

// modify performs an explicit read-modify-write of one record.
func (c *Client) modify(ctx context.Context, index int, fn func(Record) (Record, error)) error {
	base, err := c.ReadUserRecord(ctx, index)
	if err != nil {
		return err
	}
	updated, err := fn(base)
	if err != nil {
		return err
	}
	return c.WriteRecord(ctx, updated)
}

// ─── Typed records ─────────────────────────────────────────────────

// ReadLimits reads record 0.
func (c *Client) ReadLimits(ctx context.Context) (Limits, error) {
	rec, err := c.ReadUserRecord(ctx, RecordLimits)
	if err != nil {
		return Limits{}, err
	}
	return DecodeLimits(rec)
}

// WriteLimits replaces every limit in record 0, preserving unmapped bytes.
func (c *Client) WriteLimits(ctx context.Context, l Limits) error {
	scratch, _ := NewRecord(RecordLimits)
	if _, err := l.Apply(scratch); err != nil {
		return err
	}
	return c.modify(ctx, RecordLimits, l.Apply)
}

// UpdateLimits reads record 0, lets fn change it and writes it back.
func (c *Client) UpdateLimits(ctx context.Context, fn func(*Limits)) (Limits, error) {
	var out Limits
	err := c.modify(ctx, RecordLimits, func(rec Record) (Record, error) {
		l, err := DecodeLimits(rec)
		if err != nil {
			return rec, err
		}
		fn(&l)
		out = l
		return l.Apply(rec)
	})
	return out, err
}

// ReadDeviceInfo reads record 1.
func (c *Client) ReadDeviceInfo(ctx context.Context) (DeviceInfo, error) {
	rec, err := c.ReadUserRecord(ctx, RecordDeviceInfo)
	if err != nil {
		return DeviceInfo{}, err
	}
	return DecodeDeviceInfo(rec)
}

// UpdateDeviceInfo reads record 1, lets fn change it and writes it back.
func (c *Client) UpdateDeviceInfo(ctx context.Context, fn func(*DeviceInfo)) (DeviceInfo, error) {
	var out DeviceInfo
	err := c.modify(ctx, RecordDeviceInfo, func(rec Record) (Record, error) {
		d, err := DecodeDeviceInfo(rec)
		if err != nil {
			return rec, err
		}
		fn(&d)
		out = d
		return d.Apply(rec)
	})
	return out, err
}

// ReadSensorNames reads name record 2, 3 or 5.
func (c *Client) ReadSensorNames(ctx context.Context, index int) (SensorNames, error) {
	if _, _, err := nameRecordFields(index); err != nil {
		return SensorNames{}, err
	}
	rec, err := c.ReadUserRecord(ctx, index)
	if err != nil {
		return SensorNames{}, err
	}
	return DecodeSensorNames(rec)
}

// SetSensorNames writes both names of record 2, 3 or 5. Names longer than
// 20 characters are truncated.
func (c *Client) SetSensorNames(ctx context.Context, index int, first, second string) error {
	names := SensorNames{Index: index, First: first, Second: second}
	scratch, err := NewRecord(index)
	if err != nil {
		return err
	}
	if _, err := names.Apply(scratch); err != nil {
		return err
	}
	return c.modify(ctx, index, names.Apply)
}

// SetTemperatureSensorNames names the two external probes.
func (c *Client) SetTemperatureSensorNames(ctx context.Context, sensor1, sensor2 string) error {
	return c.SetSensorNames(ctx, RecordTempNames, sensor1, sensor2)
}

// SetDoorSensorNames names the two door inputs.
func (c *Client) SetDoorSensorNames(ctx context.Context, door1, door2 string) error {
	return c.SetSensorNames(ctx, RecordDoorNames, door1, door2)
}

// SetInternalSensorNames names the internal temperature and humidity
// sensors. The device only raises alarms for named sensors.
func (c *Client) SetInternalSensorNames(ctx context.Context, temperature, humidity string) error {
	return c.SetSensorNames(ctx, RecordInternalNames, temperature, humidity)
}

// ReadSettings reads record 4.
func (c *Client) ReadSettings(ctx context.Context) (Settings, error) {
	rec, err := c.ReadUserRecord(ctx, RecordSettings)
	if err != nil {
		return Settings{}, err
	}
	return DecodeSettings(rec)
}

// UpdateSettings reads record 4, lets fn change it and writes it back.
func (c *Client) UpdateSettings(ctx context.Context, fn func(*Settings)) (Settings, error) {
	var out Settings
	err := c.modify(ctx, RecordSettings, func(rec Record) (Record, error) {
		s, err := DecodeSettings(rec)
		if err != nil {
			return rec, err
		}
		fn(&s)
		out = s
		return s.Apply(rec)
	})
	return out, err
}

// ─── Clock and log ─────────────────────────────────────────────────

// SetClockAndLogRate sets the device clock to the wall time of t and the log
// interval to rate minutes (1-60). Seconds are not settable.
func (c *Client) SetClockAndLogRate(ctx context.Context, t time.Time, rate int) error {
	payload, err := EncodeClock(t, rate)
	if err != nil {
		return err
	}
	if _, err := c.exchange(ctx, CmdSetClock, payload); err != nil {
		return err
	}
	c.logger.Info("m307 clock set", "time", t.Format(time.DateTime), "log_rate", rate)
	return nil
}

// ReadLogInfo reads the device clock, log interval and stored entry count.
func (c *Client) ReadLogInfo(ctx context.Context) (LogInfo, error) {
	reply, err := c.exchange(ctx, CmdReadLogInfo, nil)
	if err != nil {
		return LogInfo{}, err
	}
	return DecodeLogInfo(reply)
}

// ReadLogEntry requests the next log entry. With reset set the device first
// rewinds its log pointer to the oldest entry.
//
// Returns:
//   - LogEntry: The entry, when ok
//   - bool: false when the device answered with the end marker
//   - error: Transport or decode failure
func (c *Client) ReadLogEntry(ctx context.Context, reset bool, res Resolution) (LogEntry, bool, error) {
	payload := []byte{logStepNext}
	if reset {
		payload[0] = logStepReset
	}
	reply, err := c.exchange(ctx, CmdReadLogEntry, payload)
	if err != nil {
		return LogEntry{}, false, err
	}

	data := reply[CommandSize:]
	if bytes.HasPrefix(data, []byte(logEndMarker)) {
		return LogEntry{}, false, nil
	}
	entry, err := DecodeLogEntry(data[:LogEntrySize], res)
	if err != nil {
		return LogEntry{}, false, err
	}
	return entry, true, nil
}
