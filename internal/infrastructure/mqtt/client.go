package mqtt

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/neasmart-gateway/internal/infrastructure/config"
	"github.com/nerrad567/neasmart-gateway/internal/infrastructure/logging"
)

// MessageHandler receives one command message. A returned error is logged;
// the message is not redelivered.
type MessageHandler func(topic string, payload []byte) error

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the client's logger.
func WithLogger(l *logging.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// Client is the gateway's broker connection.
//
// It publishes retained entity state, routes command topics to handlers and
// keeps neasmart/system/status current: online after every connect, offline
// on Close, and the broker's will if the process dies. Routes added with
// Subscribe survive reconnects. All methods are safe for concurrent use.
type Client struct {
	paho     pahomqtt.Client
	clientID string
	qos      byte
	logger   *logging.Logger

	connected atomic.Bool

	mu        sync.Mutex
	routes    map[string]route
	onConnect func()
}

type route struct {
	qos     byte
	handler MessageHandler
}

var errTimeout = errors.New("timed out")

func newClient(cfg config.MQTTConfig, opts ...Option) *Client {
	c := &Client{
		clientID: resolveClientID(cfg.Broker.ClientID),
		qos:      byte(cfg.QoS), //nolint:gosec // validated to 0..2 by config
		logger:   logging.Discard(),
		routes:   make(map[string]route),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "mqtt", "client_id", c.clientID)
	return c
}

// Connect dials the broker and waits for the first session. Later drops are
// repaired in the background with exponential backoff.
//
// An empty client id is replaced by "neasmartd-" plus a random suffix so
// that several gateways can share a broker.
func Connect(cfg config.MQTTConfig, opts ...Option) (*Client, error) {
	c := newClient(cfg, opts...)

	po := buildClientOptions(cfg, c.clientID)
	po.SetOnConnectHandler(func(pahomqtt.Client) { c.handleConnect() })
	po.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) { c.handleConnectionLost(err) })
	po.SetReconnectingHandler(func(pahomqtt.Client, *pahomqtt.ClientOptions) {
		c.logger.Warn("mqtt reconnecting")
	})

	c.paho = pahomqtt.NewClient(po)
	if err := wait(c.paho.Connect(), connectTimeout); err != nil {
		return nil, fmt.Errorf("%w: %s:%d: %w", ErrConnectionFailed, cfg.Broker.Host, cfg.Broker.Port, err)
	}
	// The connect handler runs asynchronously; mark the link up now so
	// callers can publish as soon as Connect returns.
	c.connected.Store(true)
	return c, nil
}

// handleConnect runs after every successful (re)connect.
func (c *Client) handleConnect() {
	c.connected.Store(true)
	c.logger.Info("mqtt session established")

	c.mu.Lock()
	routes := make(map[string]route, len(c.routes))
	for filter, r := range c.routes {
		routes[filter] = r
	}
	callback := c.onConnect
	c.mu.Unlock()

	for filter, r := range routes {
		if err := wait(c.paho.Subscribe(filter, r.qos, c.deliver(r.handler)), subscribeTimeout); err != nil {
			c.logger.Error("restoring subscription failed", "topic", filter, "error", err)
		}
	}

	status := Topics{}.SystemStatus()
	if err := wait(c.paho.Publish(status, c.qos, true, onlinePayload(c.clientID, time.Now())), publishTimeout); err != nil {
		c.logger.Warn("publishing online status failed", "error", err)
	}

	if callback != nil {
		callback()
	}
}

func (c *Client) handleConnectionLost(err error) {
	c.connected.Store(false)
	c.logger.Warn("mqtt connection lost", "error", err)
}

// SetOnConnect registers fn to run after every reconnect, once routes are
// restored and the online status is out.
func (c *Client) SetOnConnect(fn func()) {
	c.mu.Lock()
	c.onConnect = fn
	c.mu.Unlock()
}

// IsConnected reports whether the broker link is up.
func (c *Client) IsConnected() bool {
	return c.paho != nil && c.connected.Load() && c.paho.IsConnected()
}

// ClientID returns the identifier the client connected with.
func (c *Client) ClientID() string {
	return c.clientID
}

// Close publishes a graceful offline status and disconnects.
func (c *Client) Close() error {
	if c == nil || c.paho == nil {
		return nil
	}
	if c.IsConnected() {
		status := Topics{}.SystemStatus()
		if err := wait(c.paho.Publish(status, c.qos, true, offlinePayload(c.clientID, time.Now())), publishTimeout); err != nil {
			c.logger.Warn("publishing offline status failed", "error", err)
		}
	}
	c.paho.Disconnect(disconnectQuiesceMillis)
	c.connected.Store(false)
	return nil
}

// wait blocks on t for at most d.
func wait(t pahomqtt.Token, d time.Duration) error {
	if !t.WaitTimeout(d) {
		return fmt.Errorf("%w after %v", errTimeout, d)
	}
	return t.Error()
}
