package mqtt

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/neasmart-gateway/internal/infrastructure/config"
	"github.com/nerrad567/neasmart-gateway/internal/infrastructure/logging"
)

// Nothing in this file dials a broker; see integration_test.go for that.

func testConfig() config.MQTTConfig {
	return config.MQTTConfig{
		Enabled: true,
		Broker: config.MQTTBrokerConfig{
			Host:     "127.0.0.1",
			Port:     1883,
			ClientID: "neasmartd-test",
		},
		QoS: 1,
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     5,
		},
	}
}

// fakeToken completes immediately with err.
type fakeToken struct{ err error }

func (fakeToken) Wait() bool                     { return true }
func (fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t fakeToken) Error() error                 { return t.err }
func (fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

type sent struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

// fakePaho records what the client asks of the broker. Methods the client
// never calls are left to the embedded nil interface.
type fakePaho struct {
	pahomqtt.Client

	mu            sync.Mutex
	up            bool
	sent          []sent
	subscriptions map[string]pahomqtt.MessageHandler
	subscribes    int
	disconnected  bool
	publishErr    error
	subscribeErr  error
}

func newFakePaho() *fakePaho {
	return &fakePaho{up: true, subscriptions: make(map[string]pahomqtt.MessageHandler)}
}

func (f *fakePaho) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.up
}

func (f *fakePaho) Publish(topic string, qos byte, retained bool, payload interface{}) pahomqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.publishErr != nil {
		return fakeToken{err: f.publishErr}
	}
	f.sent = append(f.sent, sent{topic: topic, qos: qos, retained: retained, payload: payload.([]byte)})
	return fakeToken{}
}

func (f *fakePaho) Subscribe(topic string, _ byte, callback pahomqtt.MessageHandler) pahomqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribes++
	if f.subscribeErr != nil {
		return fakeToken{err: f.subscribeErr}
	}
	f.subscriptions[topic] = callback
	return fakeToken{}
}

func (f *fakePaho) Disconnect(uint) {
	f.mu.Lock()
	f.disconnected = true
	f.up = false
	f.mu.Unlock()
}

// deliver hands a message to the callback registered for filter.
func (f *fakePaho) deliver(filter, topic string, payload []byte) {
	f.mu.Lock()
	cb := f.subscriptions[filter]
	f.mu.Unlock()
	cb(f, fakeMessage{topic: topic, payload: payload})
}

// fakeMessage implements pahomqtt.Message.
type fakeMessage struct {
	topic   string
	payload []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 1 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 1 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

// connectedClient returns a client attached to a fake broker, and the
// buffer its JSON logs go to.
func connectedClient(t *testing.T) (*Client, *fakePaho, *bytes.Buffer) {
	t.Helper()
	var logs bytes.Buffer
	logger := logging.NewWithWriter(config.LoggingConfig{Level: "debug", Format: "json"}, "test", &logs)
	c := newClient(testConfig(), WithLogger(logger))
	f := newFakePaho()
	c.paho = f
	c.connected.Store(true)
	return c, f, &logs
}

func decodeStatus(t *testing.T, payload []byte) statusMessage {
	t.Helper()
	var m statusMessage
	if err := json.Unmarshal(payload, &m); err != nil {
		t.Fatalf("status payload %q: %v", payload, err)
	}
	return m
}

func TestTopicBuilders(t *testing.T) {
	topics := Topics{}
	tests := []struct {
		name string
		got  string
		want string
	}{
		{"StateZone", topics.StateZone(2, 5), "neasmart/state/zone/2/5"},
		{"StateMixedGroup", topics.StateMixedGroup(3), "neasmart/state/mixedgroup/3"},
		{"StateOutside", topics.StateOutside(), "neasmart/state/outside"},
		{"StateNotifications", topics.StateNotifications(), "neasmart/state/notifications"},
		{"StateMode", topics.StateMode(), "neasmart/state/mode"},
		{"StateGlobalState", topics.StateGlobalState(), "neasmart/state/globalstate"},
		{"StateDehumidifier", topics.StateDehumidifier(4), "neasmart/state/dehumidifier/4"},
		{"StatePump", topics.StatePump(5), "neasmart/state/pump/5"},
		{"CommandMode", topics.CommandMode(), "neasmart/command/mode"},
		{"CommandGlobalState", topics.CommandGlobalState(), "neasmart/command/globalstate"},
		{"SystemStatus", topics.SystemStatus(), "neasmart/system/status"},
		{"AllZoneCommands", topics.AllZoneCommands(), "neasmart/command/zone/+/+"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("%s = %q, want %q", tt.name, tt.got, tt.want)
			}
		})
	}
}

func TestParseZoneCommand(t *testing.T) {
	tests := []struct {
		topic string
		base  int
		zone  int
		ok    bool
	}{
		{"neasmart/command/zone/2/5", 2, 5, true},
		{"neasmart/command/zone/9/99", 9, 99, true},
		{"neasmart/command/zone/2", 0, 0, false},
		{"neasmart/command/zone/2/5/x", 0, 0, false},
		{"neasmart/command/zone/a/5", 0, 0, false},
		{"neasmart/command/zone/2/b", 0, 0, false},
		{"neasmart/command/mode", 0, 0, false},
		{"other/command/zone/2/5", 0, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.topic, func(t *testing.T) {
			base, zone, ok := ParseZoneCommand(tt.topic)
			if ok != tt.ok {
				t.Fatalf("ParseZoneCommand() ok = %v, want %v", ok, tt.ok)
			}
			if ok && (base != tt.base || zone != tt.zone) {
				t.Errorf("ParseZoneCommand() = (%d, %d), want (%d, %d)", base, zone, tt.base, tt.zone)
			}
		})
	}
}

func TestBuildClientOptions(t *testing.T) {
	cfg := testConfig()
	cfg.Auth.Username = "gateway"
	cfg.Auth.Password = "secret"

	opts := buildClientOptions(cfg, "neasmartd-a1b2c3d4")

	if len(opts.Servers) != 1 || opts.Servers[0].String() != "tcp://127.0.0.1:1883" {
		t.Errorf("Servers = %v, want [tcp://127.0.0.1:1883]", opts.Servers)
	}
	if opts.ClientID != "neasmartd-a1b2c3d4" {
		t.Errorf("ClientID = %q", opts.ClientID)
	}
	if opts.Username != "gateway" || opts.Password != "secret" {
		t.Errorf("credentials = %q/%q", opts.Username, opts.Password)
	}
	if !opts.AutoReconnect || !opts.ConnectRetry || !opts.CleanSession {
		t.Errorf("AutoReconnect/ConnectRetry/CleanSession = %v/%v/%v, want all true",
			opts.AutoReconnect, opts.ConnectRetry, opts.CleanSession)
	}
	if opts.MaxReconnectInterval != 5*time.Second {
		t.Errorf("MaxReconnectInterval = %v, want 5s", opts.MaxReconnectInterval)
	}
	if opts.TLSConfig != nil && len(opts.TLSConfig.Certificates) > 0 {
		t.Errorf("unexpected TLS certificates")
	}

	if !opts.WillEnabled || opts.WillTopic != "neasmart/system/status" || opts.WillQos != 1 || !opts.WillRetained {
		t.Fatalf("will = %v %q qos %d retained %v", opts.WillEnabled, opts.WillTopic, opts.WillQos, opts.WillRetained)
	}
	will := decodeStatus(t, opts.WillPayload)
	if will.Status != "offline" || will.Reason != "unexpected_disconnect" || will.ClientID != "neasmartd-a1b2c3d4" {
		t.Errorf("will payload = %+v", will)
	}
}

func TestBuildClientOptions_TLS(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.TLS = true
	cfg.Broker.Port = 8883

	opts := buildClientOptions(cfg, "id")
	if opts.Servers[0].String() != "ssl://127.0.0.1:8883" {
		t.Errorf("Servers[0] = %s, want ssl://127.0.0.1:8883", opts.Servers[0])
	}
	if opts.TLSConfig == nil || opts.TLSConfig.MinVersion == 0 {
		t.Errorf("TLSConfig = %+v, want a minimum version", opts.TLSConfig)
	}
	if opts.Username != "" {
		t.Errorf("Username = %q without configured credentials", opts.Username)
	}
}

func TestStatusPayloads(t *testing.T) {
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.FixedZone("CET", 3600))

	online := decodeStatus(t, onlinePayload("gw", at))
	if online.Status != "online" || online.Reason != "" || online.Timestamp != "2026-03-01T08:00:00Z" {
		t.Errorf("online = %+v", online)
	}
	if strings.Contains(string(onlinePayload("gw", at)), "reason") {
		t.Errorf("online payload should omit reason")
	}

	offline := decodeStatus(t, offlinePayload("gw", at))
	if offline.Status != "offline" || offline.Reason != "graceful_shutdown" || offline.ClientID != "gw" {
		t.Errorf("offline = %+v", offline)
	}
}

func TestResolveClientID(t *testing.T) {
	if got := resolveClientID("fixed"); got != "fixed" {
		t.Errorf("resolveClientID(fixed) = %q", got)
	}

	a, b := resolveClientID(""), resolveClientID("")
	if !strings.HasPrefix(a, "neasmartd-") || len(a) != len("neasmartd-")+8 {
		t.Errorf("generated id = %q, want neasmartd- plus 8 characters", a)
	}
	if a == b {
		t.Errorf("two generated ids are equal: %q", a)
	}
}

func TestPublish(t *testing.T) {
	c, f, _ := connectedClient(t)

	if err := c.Publish("neasmart/state/mode", []byte(`{"mode":2}`), 1, true); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if len(f.sent) != 1 {
		t.Fatalf("broker saw %d publishes, want 1", len(f.sent))
	}
	got := f.sent[0]
	if got.topic != "neasmart/state/mode" || got.qos != 1 || !got.retained || string(got.payload) != `{"mode":2}` {
		t.Errorf("published %+v", got)
	}
}

func TestPublish_Errors(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(*Client, *fakePaho)
		topic   string
		payload []byte
		qos     byte
		want    error
	}{
		{"empty topic", nil, "", []byte("x"), 0, ErrInvalidTopic},
		{"qos 3", nil, "t", []byte("x"), 3, ErrInvalidQoS},
		{"oversized payload", nil, "t", make([]byte, maxPayloadSize+1), 0, ErrPublishFailed},
		{"link down", func(_ *Client, f *fakePaho) { f.up = false }, "t", []byte("x"), 0, ErrNotConnected},
		{"connection lost", func(c *Client, _ *fakePaho) { c.handleConnectionLost(errors.New("eof")) }, "t", []byte("x"), 0, ErrNotConnected},
		{"broker refuses", func(_ *Client, f *fakePaho) { f.publishErr = errors.New("not authorized") }, "t", []byte("x"), 0, ErrPublishFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, f, _ := connectedClient(t)
			if tt.setup != nil {
				tt.setup(c, f)
			}
			if err := c.Publish(tt.topic, tt.payload, tt.qos, false); !errors.Is(err, tt.want) {
				t.Errorf("Publish() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestPublish_NeverConnected(t *testing.T) {
	c := newClient(testConfig())
	if err := c.Publish("t", nil, 0, false); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Publish() error = %v, want ErrNotConnected", err)
	}
}

func TestSubscribe(t *testing.T) {
	c, f, _ := connectedClient(t)

	var got []string
	err := c.Subscribe(Topics{}.AllZoneCommands(), 1, func(topic string, payload []byte) error {
		got = append(got, topic+" "+string(payload))
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	f.deliver("neasmart/command/zone/+/+", "neasmart/command/zone/1/2", []byte(`{"state":3}`))
	if len(got) != 1 || got[0] != `neasmart/command/zone/1/2 {"state":3}` {
		t.Errorf("handler saw %v", got)
	}
	if len(c.routes) != 1 {
		t.Errorf("routes = %d, want 1", len(c.routes))
	}
}

func TestSubscribe_Errors(t *testing.T) {
	noop := func(string, []byte) error { return nil }
	tests := []struct {
		name    string
		setup   func(*fakePaho)
		topic   string
		qos     byte
		handler MessageHandler
		want    error
	}{
		{"empty topic", nil, "", 0, noop, ErrInvalidTopic},
		{"qos 5", nil, "t", 5, noop, ErrInvalidQoS},
		{"nil handler", nil, "t", 0, nil, ErrSubscribeFailed},
		{"link down", func(f *fakePaho) { f.up = false }, "t", 0, noop, ErrNotConnected},
		{"broker refuses", func(f *fakePaho) { f.subscribeErr = errors.New("denied") }, "t", 0, noop, ErrSubscribeFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, f, _ := connectedClient(t)
			if tt.setup != nil {
				tt.setup(f)
			}
			if err := c.Subscribe(tt.topic, tt.qos, tt.handler); !errors.Is(err, tt.want) {
				t.Errorf("Subscribe() error = %v, want %v", err, tt.want)
			}
			if len(c.routes) != 0 {
				t.Errorf("failed subscribe left %d routes", len(c.routes))
			}
		})
	}
}

func TestHandleConnect_RestoresRoutes(t *testing.T) {
	c, f, _ := connectedClient(t)
	noop := func(string, []byte) error { return nil }
	for _, filter := range []string{Topics{}.AllZoneCommands(), Topics{}.CommandMode()} {
		if err := c.Subscribe(filter, 1, noop); err != nil {
			t.Fatalf("Subscribe(%s) error = %v", filter, err)
		}
	}

	sentBeforeCallback := -1
	c.SetOnConnect(func() {
		f.mu.Lock()
		sentBeforeCallback = len(f.sent)
		f.mu.Unlock()
	})

	c.handleConnectionLost(errors.New("broker restarted"))
	if c.IsConnected() {
		t.Fatal("IsConnected() = true after connection lost")
	}
	f.subscriptions = make(map[string]pahomqtt.MessageHandler)
	f.subscribes = 0

	c.handleConnect()

	if !c.IsConnected() {
		t.Error("IsConnected() = false after reconnect")
	}
	if f.subscribes != 2 || len(f.subscriptions) != 2 {
		t.Errorf("resubscribed %d filters (%d calls), want 2", len(f.subscriptions), f.subscribes)
	}
	if len(f.sent) != 1 || f.sent[0].topic != "neasmart/system/status" || !f.sent[0].retained {
		t.Fatalf("sent = %+v, want one retained status", f.sent)
	}
	if st := decodeStatus(t, f.sent[0].payload); st.Status != "online" || st.ClientID != "neasmartd-test" {
		t.Errorf("status = %+v", st)
	}
	if sentBeforeCallback != 1 {
		t.Errorf("callback saw %d publishes, want it after the status", sentBeforeCallback)
	}
}

func TestDeliver_LogsErrorsAndRecovers(t *testing.T) {
	c, f, logs := connectedClient(t)

	calls := 0
	err := c.Subscribe("neasmart/command/mode", 1, func(_ string, payload []byte) error {
		calls++
		switch string(payload) {
		case "bad":
			return errors.New("invalid mode")
		case "boom":
			panic("handler bug")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	f.deliver("neasmart/command/mode", "neasmart/command/mode", []byte("bad"))
	f.deliver("neasmart/command/mode", "neasmart/command/mode", []byte("boom"))
	f.deliver("neasmart/command/mode", "neasmart/command/mode", []byte("ok"))

	if calls != 3 {
		t.Errorf("handler called %d times, want 3", calls)
	}
	out := logs.String()
	for _, want := range []string{"mqtt command rejected", "invalid mode", "mqtt handler panicked"} {
		if !strings.Contains(out, want) {
			t.Errorf("logs missing %q:\n%s", want, out)
		}
	}
}

func TestClose(t *testing.T) {
	c, f, _ := connectedClient(t)

	if err := c.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if !f.disconnected {
		t.Error("Close() did not disconnect")
	}
	if len(f.sent) != 1 {
		t.Fatalf("sent %d messages, want the offline status", len(f.sent))
	}
	if st := decodeStatus(t, f.sent[0].payload); st.Status != "offline" || st.Reason != "graceful_shutdown" {
		t.Errorf("status = %+v", st)
	}
	if c.IsConnected() {
		t.Error("IsConnected() = true after Close")
	}
}

func TestClose_NotConnected(t *testing.T) {
	var nilClient *Client
	if err := nilClient.Close(); err != nil {
		t.Errorf("nil Close() error = %v", err)
	}
	if err := newClient(testConfig()).Close(); err != nil {
		t.Errorf("Close() before Connect error = %v", err)
	}

	c, f, _ := connectedClient(t)
	f.up = false
	if err := c.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if len(f.sent) != 0 {
		t.Errorf("offline status sent over a dead link")
	}
}

func TestNewClient(t *testing.T) {
	c := newClient(testConfig())
	if c.ClientID() != "neasmartd-test" || c.qos != 1 {
		t.Errorf("ClientID/qos = %q/%d", c.ClientID(), c.qos)
	}

	cfg := testConfig()
	cfg.Broker.ClientID = ""
	if id := newClient(cfg).ClientID(); !strings.HasPrefix(id, "neasmartd-") {
		t.Errorf("generated ClientID = %q", id)
	}
}
