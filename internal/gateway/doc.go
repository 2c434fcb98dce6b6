// Package gateway implements the controller's entity-level operations on top
// of the register bank: zones, mixed groups, outside temperature,
// notifications, global mode and state, dehumidifiers and extra pumps.
//
// Every operation validates its identifiers and payload before touching the
// bank, so a rejected request never writes anything. Temperatures and
// setpoints are DPT 9.001 encoded in their registers; everything else is the
// raw register value.
//
// The HTTP API and the MQTT bridge both drive a *Service. The Modbus servers
// share the same bank directly, so a field-bus write is visible to the next
// gateway read and vice versa without further synchronisation.
package gateway
