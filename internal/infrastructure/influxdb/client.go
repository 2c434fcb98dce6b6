package influxdb

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/nerrad567/neasmart-gateway/internal/infrastructure/config"
	"github.com/nerrad567/neasmart-gateway/internal/infrastructure/logging"
)

const (
	connectTimeout = 10 * time.Second
	pingTimeout    = 5 * time.Second

	defaultBatchSize     = 100
	defaultFlushInterval = 10 // seconds
)

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger that receives batch write failures.
func WithLogger(l *logging.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// Client writes plant samples to one InfluxDB v2 bucket.
//
// Writes are queued and sent in batches; a failed batch is logged and
// dropped. A zero Client, or one that has been closed, silently ignores
// writes. All methods are safe for concurrent use.
type Client struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
	logger   *logging.Logger
	open     atomic.Bool
}

// Connect pings the server and opens the batched write API for
// cfg.Org/cfg.Bucket.
func Connect(cfg config.InfluxDBConfig, opts ...Option) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	c := &Client{logger: logging.Discard()}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "influxdb", "bucket", cfg.Bucket)

	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, writeOptions(cfg))

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	if err := ping(ctx, client); err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: %s: %w", ErrConnectionFailed, cfg.URL, err)
	}

	c.client = client
	c.writeAPI = client.WriteAPI(cfg.Org, cfg.Bucket)
	c.open.Store(true)
	go c.logWriteErrors(c.writeAPI.Errors())
	return c, nil
}

// writeOptions applies the batching settings, falling back to 100 points
// and 10 seconds when unset.
func writeOptions(cfg config.InfluxDBConfig) *influxdb2.Options {
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}
	flush := cfg.FlushInterval
	if flush <= 0 {
		flush = defaultFlushInterval
	}
	// #nosec G115 -- both positive after the fallbacks above
	return influxdb2.DefaultOptions().
		SetBatchSize(uint(batch)).
		SetFlushInterval(uint(flush) * uint(time.Second/time.Millisecond))
}

func ping(ctx context.Context, client influxdb2.Client) error {
	ready, err := client.Ping(ctx)
	if err != nil {
		return err
	}
	if !ready {
		return errors.New("server not ready")
	}
	return nil
}

// logWriteErrors drains the write API's error channel until Close.
func (c *Client) logWriteErrors(errs <-chan error) {
	for err := range errs {
		c.logger.Warn("influxdb batch write failed", "error", err)
	}
}

// HealthCheck pings the server.
func (c *Client) HealthCheck(ctx context.Context) error {
	if !c.open.Load() {
		return ErrNotConnected
	}
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := ping(ctx, c.client); err != nil {
		return fmt.Errorf("influxdb health check: %w", err)
	}
	return nil
}

// Close flushes queued points and releases the client. Later calls are
// no-ops.
func (c *Client) Close() error {
	if !c.open.CompareAndSwap(true, false) {
		return nil
	}
	c.writeAPI.Flush()
	c.client.Close()
	return nil
}
