package bridge

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/neasmart-gateway/internal/addrmap"
	"github.com/nerrad567/neasmart-gateway/internal/gateway"
	"github.com/nerrad567/neasmart-gateway/internal/infrastructure/config"
	"github.com/nerrad567/neasmart-gateway/internal/infrastructure/influxdb"
	"github.com/nerrad567/neasmart-gateway/internal/infrastructure/logging"
	"github.com/nerrad567/neasmart-gateway/internal/infrastructure/mqtt"
	"github.com/nerrad567/neasmart-gateway/internal/registers"
)

// MQTTClient is the subset of *mqtt.Client the bridge uses.
type MQTTClient interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	IsConnected() bool
}

// Telemetry receives plant samples. *influxdb.Client satisfies it.
type Telemetry interface {
	WriteZone(base, zone int, r influxdb.ZoneReading, ts time.Time)
	WriteMixedGroup(group int, r influxdb.MixedGroupReading, ts time.Time)
	WriteOutside(outside, filtered float64, ts time.Time)
}

// ChangeSource notifies the bridge of committed register writes.
type ChangeSource interface {
	OnChange(fn registers.Observer)
}

// Recorder counts publishes and commands. *metrics.Metrics satisfies it.
type Recorder interface {
	ObservePublish(ok bool)
	ObserveCommand(kind string, ok bool)
}

// Options configures a Bridge. Gateway and Changes are required, and at
// least one of MQTT or Telemetry must be set.
type Options struct {
	Config    config.BridgeConfig
	QoS       byte
	Gateway   *gateway.Service
	Changes   ChangeSource
	MQTT      MQTTClient
	Telemetry Telemetry
	Recorder  Recorder
	Logger    *logging.Logger

	// Now overrides the clock for telemetry timestamps.
	Now func() time.Time
}

// Bridge publishes plant state and applies MQTT commands.
//
// Thread Safety: All methods are safe for concurrent use.
type Bridge struct {
	gw        *gateway.Service
	changes   ChangeSource
	mqtt      MQTTClient
	telemetry Telemetry
	recorder  Recorder
	logger    *logging.Logger
	now       func() time.Time

	qos      byte
	interval time.Duration
	debounce time.Duration

	// last holds the most recent payload published per topic.
	last   map[string]string
	lastMu sync.Mutex

	// publishMu serialises snapshot publication.
	publishMu sync.Mutex

	dirty     chan struct{}
	forceNext atomic.Bool

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
	started  atomic.Bool
}

// New creates a bridge. Call Start to begin publishing.
func New(opts Options) (*Bridge, error) {
	if opts.Gateway == nil {
		return nil, fmt.Errorf("bridge: gateway is required")
	}
	if opts.Changes == nil {
		return nil, fmt.Errorf("bridge: change source is required")
	}
	if opts.MQTT == nil && opts.Telemetry == nil {
		return nil, ErrNoSink
	}

	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	return &Bridge{
		gw:        opts.Gateway.As(registers.SourceMQTT),
		changes:   opts.Changes,
		mqtt:      opts.MQTT,
		telemetry: opts.Telemetry,
		recorder:  opts.Recorder,
		logger:    logger.With("component", "bridge"),
		now:       now,
		qos:       opts.QoS,
		interval:  time.Duration(opts.Config.PublishInterval) * time.Second,
		debounce:  time.Duration(opts.Config.Debounce) * time.Millisecond,
		last:      make(map[string]string),
		dirty:     make(chan struct{}, 1),
		done:      make(chan struct{}),
	}, nil
}

// Start subscribes to command topics, registers for register changes and
// starts the publish loop. The loop exits when ctx is cancelled or Stop is
// called.
func (b *Bridge) Start(ctx context.Context) error {
	if !b.started.CompareAndSwap(false, true) {
		return fmt.Errorf("bridge: already started")
	}

	if b.mqtt != nil {
		if err := b.subscribeCommands(); err != nil {
			return err
		}
	}

	b.changes.OnChange(func(registers.Change) { b.markDirty() })

	b.wg.Add(1)
	go b.run(ctx)

	b.logger.Info("bridge started",
		"mqtt", b.mqtt != nil,
		"telemetry", b.telemetry != nil,
		"interval", b.interval,
		"debounce", b.debounce)
	return nil
}

// Stop ends the publish loop and waits for it to return.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		close(b.done)
		b.wg.Wait()
		b.logger.Info("bridge stopped")
	})
}

// Resync forgets what was published and schedules a full publish. Wire it
// to the MQTT client's reconnect callback so retained state is restored
// after a broker restart.
func (b *Bridge) Resync() {
	b.forceNext.Store(true)
	b.markDirty()
}

func (b *Bridge) markDirty() {
	select {
	case b.dirty <- struct{}{}:
	default:
	}
}

func (b *Bridge) run(ctx context.Context) {
	defer b.wg.Done()

	b.publish(true)

	var tick <-chan time.Time
	if b.interval > 0 {
		ticker := time.NewTicker(b.interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	var (
		timer   *time.Timer
		settled <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-b.done:
			return
		case <-tick:
			b.publish(true)
		case <-b.dirty:
			if b.debounce <= 0 {
				b.publish(b.forceNext.Swap(false))
				continue
			}
			if timer == nil {
				timer = time.NewTimer(b.debounce)
			} else {
				timer.Reset(b.debounce)
			}
			settled = timer.C
		case <-settled:
			settled = nil
			b.publish(b.forceNext.Swap(false))
		}
	}
}

// PublishNow reads a snapshot and publishes every entity, changed or not.
func (b *Bridge) PublishNow() error {
	return b.publish(true)
}

// publish reads one snapshot and sends it to every configured sink. With
// force unset only MQTT topics whose payload changed are published.
func (b *Bridge) publish(force bool) error {
	b.publishMu.Lock()
	defer b.publishMu.Unlock()

	plant, err := b.gw.Snapshot()
	if err != nil {
		b.logger.Error("snapshot failed", "error", err)
		return err
	}

	if b.telemetry != nil {
		b.writeTelemetry(plant)
	}
	if b.mqtt == nil {
		return nil
	}
	if !b.mqtt.IsConnected() {
		b.logger.Debug("mqtt not connected, skipping state publish")
		return mqtt.ErrNotConnected
	}

	messages, err := stateMessages(plant)
	if err != nil {
		return err
	}

	var failed int
	for _, m := range messages {
		if !force && b.unchanged(m.topic, m.payload) {
			continue
		}
		if err := b.mqtt.Publish(m.topic, m.payload, b.qos, true); err != nil {
			failed++
			b.observePublish(false)
			b.forget(m.topic)
			b.logger.Warn("state publish failed", "topic", m.topic, "error", err)
			continue
		}
		b.observePublish(true)
		b.remember(m.topic, m.payload)
	}
	if failed > 0 {
		return fmt.Errorf("bridge: %d of %d state publishes failed", failed, len(messages))
	}
	return nil
}

func (b *Bridge) writeTelemetry(p gateway.Plant) {
	ts := b.now()
	for _, z := range p.Zones {
		b.telemetry.WriteZone(z.Base, z.ID, influxdb.ZoneReading{
			State:            z.State,
			Setpoint:         z.Setpoint,
			Temperature:      z.Temperature,
			RelativeHumidity: z.RelativeHumidity,
		}, ts)
	}
	for i, g := range p.MixedGroups {
		b.telemetry.WriteMixedGroup(addrmap.MinMixedGroup+i, influxdb.MixedGroupReading{
			PumpState:         g.PumpState,
			ValveOpening:      g.ValveOpening,
			FlowTemperature:   g.FlowTemperature,
			ReturnTemperature: g.ReturnTemperature,
		}, ts)
	}
	b.telemetry.WriteOutside(p.Outside.Outside, p.Outside.Filtered, ts)
}

func (b *Bridge) unchanged(topic string, payload []byte) bool {
	b.lastMu.Lock()
	defer b.lastMu.Unlock()
	prev, ok := b.last[topic]
	return ok && prev == string(payload)
}

func (b *Bridge) remember(topic string, payload []byte) {
	b.lastMu.Lock()
	b.last[topic] = string(payload)
	b.lastMu.Unlock()
}

func (b *Bridge) forget(topic string) {
	b.lastMu.Lock()
	delete(b.last, topic)
	b.lastMu.Unlock()
}

func (b *Bridge) observePublish(ok bool) {
	if b.recorder != nil {
		b.recorder.ObservePublish(ok)
	}
}

func (b *Bridge) observeCommand(kind string, ok bool) {
	if b.recorder != nil {
		b.recorder.ObserveCommand(kind, ok)
	}
}
