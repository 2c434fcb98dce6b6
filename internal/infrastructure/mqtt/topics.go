package mqtt

import (
	"fmt"
	"strconv"
	"strings"
)

// Topic roots for the gateway's MQTT tree.
//
// State is published retained under neasmart/state/..., commands arrive on
// neasmart/command/... and availability lives on neasmart/system/status.
const (
	// TopicPrefix is the root of every gateway topic.
	TopicPrefix = "neasmart"

	// TopicPrefixState is the base for retained entity state.
	TopicPrefixState = TopicPrefix + "/state"

	// TopicPrefixCommand is the base for write commands.
	TopicPrefixCommand = TopicPrefix + "/command"

	// TopicPrefixSystem is the base for system topics.
	TopicPrefixSystem = TopicPrefix + "/system"
)

// Topics provides builders for gateway MQTT topics.
// Using these helpers keeps publisher and subscriber naming in step.
//
//	topics := mqtt.Topics{}
//	stateTopic := topics.StateZone(2, 5)
//	// Returns: "neasmart/state/zone/2/5"
type Topics struct{}

// StateZone returns the retained state topic of one zone.
//
// Example: neasmart/state/zone/2/5
func (Topics) StateZone(base, zone int) string {
	return fmt.Sprintf("%s/zone/%d/%d", TopicPrefixState, base, zone)
}

// StateMixedGroup returns the retained state topic of one mixed group.
//
// Example: neasmart/state/mixedgroup/3
func (Topics) StateMixedGroup(group int) string {
	return fmt.Sprintf("%s/mixedgroup/%d", TopicPrefixState, group)
}

// StateOutside returns the outside temperature topic.
//
// Example: neasmart/state/outside
func (Topics) StateOutside() string {
	return TopicPrefixState + "/outside"
}

// StateNotifications returns the plant notification topic.
//
// Example: neasmart/state/notifications
func (Topics) StateNotifications() string {
	return TopicPrefixState + "/notifications"
}

// StateMode returns the global mode topic.
//
// Example: neasmart/state/mode
func (Topics) StateMode() string {
	return TopicPrefixState + "/mode"
}

// StateGlobalState returns the global state topic.
//
// Example: neasmart/state/globalstate
func (Topics) StateGlobalState() string {
	return TopicPrefixState + "/globalstate"
}

// StateDehumidifier returns the retained state topic of one dehumidifier.
//
// Example: neasmart/state/dehumidifier/4
func (Topics) StateDehumidifier(id int) string {
	return fmt.Sprintf("%s/dehumidifier/%d", TopicPrefixState, id)
}

// StatePump returns the retained state topic of one pump.
//
// Example: neasmart/state/pump/5
func (Topics) StatePump(id int) string {
	return fmt.Sprintf("%s/pump/%d", TopicPrefixState, id)
}

// CommandMode returns the global mode command topic.
//
// Example: neasmart/command/mode
func (Topics) CommandMode() string {
	return TopicPrefixCommand + "/mode"
}

// CommandGlobalState returns the global state command topic.
//
// Example: neasmart/command/globalstate
func (Topics) CommandGlobalState() string {
	return TopicPrefixCommand + "/globalstate"
}

// SystemStatus returns the availability topic carrying online/offline and the LWT.
//
// Example: neasmart/system/status
func (Topics) SystemStatus() string {
	return TopicPrefixSystem + "/status"
}

// AllZoneCommands returns a pattern matching every zone command.
//
// Pattern: neasmart/command/zone/+/+
func (Topics) AllZoneCommands() string {
	return TopicPrefixCommand + "/zone/+/+"
}

// ParseZoneCommand extracts base and zone from a zone command topic.
// Segments that are not decimal integers are reported as not matching;
// range checks are left to the gateway.
func ParseZoneCommand(topic string) (base, zone int, ok bool) {
	rest, found := strings.CutPrefix(topic, TopicPrefixCommand+"/zone/")
	if !found {
		return 0, 0, false
	}
	parts := strings.Split(rest, "/")
	if len(parts) != 2 {
		return 0, 0, false
	}
	base, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, false
	}
	zone, err = strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, false
	}
	return base, zone, true
}
