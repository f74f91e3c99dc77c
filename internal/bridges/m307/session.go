package m307

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// Default timeouts for device communication.
const (
	// defaultConnectTimeout is the maximum time to wait for the TCP connect.
	defaultConnectTimeout = 5 * time.Second

	// defaultRequestTimeout is the maximum time for one request/reply pair.
	defaultRequestTimeout = 5 * time.Second
)

// SessionConfig holds device connection configuration.
type SessionConfig struct {
	// Address is "host:port" or a bare host, in which case DefaultPort is used.
	Address string

	// ConnectTimeout is the maximum time to wait for the TCP connection.
	// Default: 5 seconds.
	ConnectTimeout time.Duration

	// RequestTimeout bounds each request/reply exchange.
	// Default: 5 seconds.
	RequestTimeout time.Duration

	// Logger receives connection and exchange diagnostics. Optional.
	Logger Logger
}

// SessionStats holds operational statistics of one session.
type SessionStats struct {
	Exchanges    uint64
	Errors       uint64
	LastActivity time.Time
	Open         bool
}

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// nopLogger discards everything.
type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// Transport performs one synchronous request/reply exchange.
// Session implements it; tests substitute fakes.
type Transport interface {
	Exchange(ctx context.Context, req Packet) (Packet, error)
	Close() error
}

// Ensure Session implements Transport.
var _ Transport = (*Session)(nil)

// Session is one TCP connection to a device.
//
// A session carries exactly one request at a time and has no internal
// request lock; callers serialise. After any failed exchange the session
// closes itself, since the byte stream can no longer be trusted to be on a
// packet boundary. Open a new session to continue.
type Session struct {
	cfg    SessionConfig
	conn   net.Conn
	logger Logger

	closeOnce sync.Once
	closed    atomic.Bool

	exchanges    atomic.Uint64
	errorsTotal  atomic.Uint64
	lastActivity atomic.Int64 // Unix nanoseconds
}

// Dial opens a session to the device.
//
// Parameters:
//   - ctx: Context for cancellation of the connect
//   - cfg: Connection configuration
//
// Returns:
//   - *Session: Open session ready for exchanges
//   - error: ErrValidation for a bad address, ErrConnection if the connect
//     is refused, cannot resolve or times out
func Dial(ctx context.Context, cfg SessionConfig) (*Session, error) {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = nopLogger{}
	}

	address, err := normalizeAddress(cfg.Address)
	if err != nil {
		return nil, err
	}
	cfg.Address = address

	connectCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	var dialer net.Dialer
	conn, err := dialer.DialContext(connectCtx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %w", ErrConnection, address, err)
	}

	s := &Session{
		cfg:    cfg,
		conn:   conn,
		logger: cfg.Logger,
	}
	s.lastActivity.Store(time.Now().UnixNano())
	s.logger.Debug("m307 session opened", "address", address)
	return s, nil
}

// normalizeAddress appends DefaultPort to a bare host.
func normalizeAddress(addr string) (string, error) {
	if addr == "" {
		return "", fmt.Errorf("%w: device address is empty", ErrValidation)
	}
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		// No port (or a bare IPv6 literal): use the device default.
		return net.JoinHostPort(addr, strconv.Itoa(DefaultPort)), nil
	}
	if host == "" {
		return "", fmt.Errorf("%w: device address %q has no host", ErrValidation, addr)
	}
	if n, err := strconv.Atoi(port); err != nil || n <= 0 || n > 65535 {
		return "", fmt.Errorf("%w: device address %q has invalid port", ErrValidation, addr)
	}
	return addr, nil
}

// Address returns the host:port the session is connected to.
func (s *Session) Address() string {
	return s.cfg.Address
}

// Exchange sends one packet and waits for exactly one 60-byte reply.
//
// The exchange is bounded by RequestTimeout, or by the context deadline when
// that is sooner. Cancelling ctx aborts blocked I/O.
//
// Returns:
//   - Packet: The reply
//   - error: ErrNotConnected, ErrTimeout, ErrConnection or ErrProtocol
func (s *Session) Exchange(ctx context.Context, req Packet) (Packet, error) {
	if s.closed.Load() {
		return Packet{}, ErrNotConnected
	}

	select {
	case <-ctx.Done():
		return Packet{}, s.fail(ctx, "exchange", ctx.Err())
	default:
	}

	deadline := time.Now().Add(s.cfg.RequestTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := s.conn.SetDeadline(deadline); err != nil {
		return Packet{}, s.fail(ctx, "set deadline", err)
	}

	// Unblock pending I/O as soon as ctx is cancelled.
	stop := context.AfterFunc(ctx, func() {
		_ = s.conn.SetDeadline(time.Now())
	})
	defer stop()

	if _, err := s.conn.Write(req[:]); err != nil {
		return Packet{}, s.fail(ctx, "write", err)
	}

	var buf [PacketSize]byte
	if _, err := io.ReadFull(s.conn, buf[:]); err != nil {
		return Packet{}, s.fail(ctx, "read", err)
	}

	reply, err := ParsePacket(buf[:])
	if err != nil {
		return Packet{}, s.fail(ctx, "parse", err)
	}

	s.exchanges.Add(1)
	s.lastActivity.Store(time.Now().UnixNano())
	s.logger.Debug("m307 exchange",
		"command", CommandName(req.Command()),
		"request", req.Bytes(),
		"reply", reply.Bytes(),
	)
	return reply, nil
}

// fail classifies an exchange error and closes the session.
func (s *Session) fail(ctx context.Context, op string, err error) error {
	s.errorsTotal.Add(1)

	var classified error
	var netErr net.Error
	switch {
	case errors.Is(err, ErrProtocol):
		classified = err
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		classified = fmt.Errorf("%w: %s: %w", ErrTimeout, op, context.DeadlineExceeded)
	case ctx.Err() != nil:
		classified = fmt.Errorf("%w: %s cancelled: %w", ErrConnection, op, ctx.Err())
	case errors.As(err, &netErr) && netErr.Timeout():
		classified = fmt.Errorf("%w: %s after %s: %w", ErrTimeout, op, s.cfg.RequestTimeout, err)
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		classified = fmt.Errorf("%w: %s: device closed the connection: %w", ErrConnection, op, err)
	default:
		classified = fmt.Errorf("%w: %s: %w", ErrConnection, op, err)
	}

	s.logger.Warn("m307 exchange failed, closing session", "address", s.cfg.Address, "op", op, "error", classified)
	_ = s.Close()
	return classified
}

// IsOpen reports whether the session can still be used.
func (s *Session) IsOpen() bool {
	return !s.closed.Load()
}

// Stats returns a snapshot of session statistics.
func (s *Session) Stats() SessionStats {
	return SessionStats{
		Exchanges:    s.exchanges.Load(),
		Errors:       s.errorsTotal.Load(),
		LastActivity: time.Unix(0, s.lastActivity.Load()),
		Open:         s.IsOpen(),
	}
}

// Close releases the connection. Safe to call multiple times.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		if cerr := s.conn.Close(); cerr != nil {
			err = fmt.Errorf("m307: close: %w", cerr)
		}
		s.logger.Debug("m307 session closed", "address", s.cfg.Address)
	})
	return err
}
