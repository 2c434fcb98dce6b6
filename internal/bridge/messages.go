package bridge

import (
	"encoding/json"
	"fmt"

	"github.com/nerrad567/neasmart-gateway/internal/addrmap"
	"github.com/nerrad567/neasmart-gateway/internal/gateway"
	"github.com/nerrad567/neasmart-gateway/internal/infrastructure/mqtt"
)

// message is one retained state publication.
type message struct {
	topic   string
	payload []byte
}

// stateMessages renders a plant snapshot as one message per entity, in a
// stable order.
func stateMessages(p gateway.Plant) ([]message, error) {
	topics := mqtt.Topics{}
	out := make([]message, 0, 4+len(p.MixedGroups)+len(p.Dehumidifiers)+len(p.Pumps)+len(p.Zones))

	add := func(topic string, v any) error {
		payload, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("encoding %s: %w", topic, err)
		}
		out = append(out, message{topic: topic, payload: payload})
		return nil
	}

	if err := add(topics.StateMode(), p.Mode); err != nil {
		return nil, err
	}
	if err := add(topics.StateGlobalState(), p.State); err != nil {
		return nil, err
	}
	if err := add(topics.StateNotifications(), p.Notifications); err != nil {
		return nil, err
	}
	if err := add(topics.StateOutside(), p.Outside); err != nil {
		return nil, err
	}
	for i, g := range p.MixedGroups {
		if err := add(topics.StateMixedGroup(addrmap.MinMixedGroup+i), g); err != nil {
			return nil, err
		}
	}
	for i, d := range p.Dehumidifiers {
		if err := add(topics.StateDehumidifier(addrmap.MinDehumidifier+i), d); err != nil {
			return nil, err
		}
	}
	for i, n := range p.Pumps {
		if err := add(topics.StatePump(addrmap.MinPump+i), n); err != nil {
			return nil, err
		}
	}
	for _, z := range p.Zones {
		if err := add(topics.StateZone(z.Base, z.ID), z.Zone); err != nil {
			return nil, err
		}
	}
	return out, nil
}
