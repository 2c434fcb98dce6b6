package bridge

import "errors"

var (
	// ErrNoSink is returned when neither MQTT nor telemetry is configured.
	ErrNoSink = errors.New("bridge: no MQTT client or telemetry sink")

	// ErrUnknownCommand is returned for command topics the bridge does not handle.
	ErrUnknownCommand = errors.New("bridge: unknown command topic")
)
