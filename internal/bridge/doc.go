// Package bridge mirrors the register bank onto MQTT and InfluxDB.
//
// A Bridge publishes one retained JSON message per entity under
// neasmart/state/..., re-publishing only entities whose payload changed
// since the last publish. Publishes are triggered by committed register
// writes (debounced) and by a periodic full refresh. Each snapshot is also
// written to InfluxDB when telemetry is configured.
//
// Commands on neasmart/command/... are decoded with the same rules as the
// HTTP API and applied through the gateway tagged with the mqtt source.
package bridge
