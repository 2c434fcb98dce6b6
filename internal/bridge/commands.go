package bridge

import (
	"fmt"

	"github.com/nerrad567/neasmart-gateway/internal/gateway"
	"github.com/nerrad567/neasmart-gateway/internal/infrastructure/mqtt"
)

// Command kinds, used as metric labels.
const (
	kindZone  = "zone"
	kindMode  = "mode"
	kindState = "globalstate"
)

func (b *Bridge) subscribeCommands() error {
	topics := mqtt.Topics{}
	for _, topic := range []string{
		topics.AllZoneCommands(),
		topics.CommandMode(),
		topics.CommandGlobalState(),
	} {
		if err := b.mqtt.Subscribe(topic, b.qos, b.HandleCommand); err != nil {
			return fmt.Errorf("subscribe to %s: %w", topic, err)
		}
		b.logger.Info("subscribed to commands", "topic", topic)
	}
	return nil
}

// HandleCommand applies one MQTT command. Payloads follow the HTTP write
// bodies. The returned error is logged by the MQTT client.
func (b *Bridge) HandleCommand(topic string, payload []byte) error {
	kind, err := b.apply(topic, payload)
	if kind != "" {
		b.observeCommand(kind, err == nil)
	}
	if err != nil {
		return fmt.Errorf("command %s: %w", topic, err)
	}
	b.logger.Debug("command applied", "topic", topic)
	return nil
}

func (b *Bridge) apply(topic string, payload []byte) (string, error) {
	topics := mqtt.Topics{}
	switch topic {
	case topics.CommandMode():
		mode, err := gateway.DecodeModeWrite(payload)
		if err != nil {
			return kindMode, err
		}
		return kindMode, b.gw.WriteMode(mode)

	case topics.CommandGlobalState():
		state, err := gateway.DecodeStateWrite(payload)
		if err != nil {
			return kindState, err
		}
		return kindState, b.gw.WriteState(state)
	}

	base, zone, ok := mqtt.ParseZoneCommand(topic)
	if !ok {
		return "", ErrUnknownCommand
	}
	w, err := gateway.DecodeZoneWrite(payload)
	if err != nil {
		return kindZone, err
	}
	return kindZone, b.gw.WriteZone(base, zone, w)
}
