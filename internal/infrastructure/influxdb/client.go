package influxdb

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/m307-core/internal/infrastructure/config"
)

const (
	pingTimeout = 5 * time.Second

	// A full log drain is at most 4000 points; 500 keeps it to a handful
	// of requests while a status poll still flushes on the timer.
	defaultBatchSize     = 500
	defaultFlushInterval = 10 * time.Second
)

// Client writes M307 status snapshots and log entries to one InfluxDB bucket.
//
// Writes are non-blocking and batched by the underlying write API. Failed
// batches are reported to the SetOnError callback. All methods are safe for
// concurrent use; writes after Close are dropped.
type Client struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
	bucket   string

	closed  atomic.Bool
	written atomic.Uint64

	mu      sync.RWMutex
	onError func(err error)
}

// Connect creates a client for cfg and checks the server answers a ping.
//
// Timestamps are written with second precision; the device clock has no
// finer resolution.
//
// Returns:
//   - *Client: Client ready for writes
//   - error: ErrDisabled when cfg.Enabled is false, ErrConnectionFailed if
//     the ping fails
func Connect(cfg config.InfluxDBConfig) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, clientOptions(cfg))

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	healthy, err := client.Ping(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: ping %s: %w", ErrConnectionFailed, cfg.URL, err)
	}
	if !healthy {
		client.Close()
		return nil, fmt.Errorf("%w: %s is not healthy", ErrConnectionFailed, cfg.URL)
	}

	c := &Client{
		client:   client,
		writeAPI: client.WriteAPI(cfg.Org, cfg.Bucket),
		bucket:   cfg.Bucket,
	}
	go c.reportErrors(c.writeAPI.Errors())
	return c, nil
}

// clientOptions maps the batch settings, falling back to the defaults for
// unset or negative values.
func clientOptions(cfg config.InfluxDBConfig) *influxdb2.Options {
	batch := uint(defaultBatchSize)
	if cfg.BatchSize > 0 {
		batch = uint(cfg.BatchSize) // #nosec G115 -- checked positive
	}
	flush := defaultFlushInterval
	if cfg.FlushInterval > 0 {
		flush = time.Duration(cfg.FlushInterval) * time.Second
	}
	return influxdb2.DefaultOptions().
		SetBatchSize(batch).
		SetFlushInterval(uint(flush.Milliseconds())). // #nosec G115 -- positive duration
		SetPrecision(time.Second)
}

func (c *Client) reportErrors(errs <-chan error) {
	for err := range errs {
		c.mu.RLock()
		callback := c.onError
		c.mu.RUnlock()
		if callback != nil {
			callback(fmt.Errorf("write to bucket %s: %w", c.bucket, err))
		}
	}
}

// SetOnError sets the callback for failed batch writes.
func (c *Client) SetOnError(callback func(err error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onError = callback
}

// write queues p unless the client is closed.
func (c *Client) write(p *write.Point) {
	if c.closed.Load() {
		return
	}
	c.writeAPI.WritePoint(p)
	c.written.Add(1)
}

// Written returns the number of points queued since Connect.
func (c *Client) Written() uint64 {
	return c.written.Load()
}

// Flush sends buffered points now. It is a no-op after Close.
func (c *Client) Flush() {
	if c.closed.Load() {
		return
	}
	c.writeAPI.Flush()
}

// HealthCheck pings the server.
func (c *Client) HealthCheck(ctx context.Context) error {
	if c.closed.Load() {
		return ErrClosed
	}
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	healthy, err := c.client.Ping(ctx)
	if err != nil {
		return fmt.Errorf("influxdb health check: %w", err)
	}
	if !healthy {
		return fmt.Errorf("influxdb health check: server not healthy")
	}
	return nil
}

// IsConnected reports whether the client is open.
func (c *Client) IsConnected() bool {
	return !c.closed.Load()
}

// Close flushes pending points and closes the client. Calling it again is a
// no-op.
func (c *Client) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	c.writeAPI.Flush()
	c.client.Close()
	return nil
}
