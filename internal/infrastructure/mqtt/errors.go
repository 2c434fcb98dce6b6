package mqtt

import "errors"

var (
	// ErrNotConnected means the broker link is down. Publishers should drop
	// or retry later; the client reconnects on its own.
	ErrNotConnected = errors.New("mqtt: not connected to broker")

	// ErrConnectionFailed wraps the reason the first connect did not succeed.
	ErrConnectionFailed = errors.New("mqtt: cannot reach broker")

	ErrPublishFailed   = errors.New("mqtt: publish failed")
	ErrSubscribeFailed = errors.New("mqtt: subscribe failed")

	ErrInvalidTopic = errors.New("mqtt: empty topic")
	ErrInvalidQoS   = errors.New("mqtt: qos must be 0, 1 or 2")
)
