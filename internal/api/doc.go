// Package api provides the HTTP management API and WebSocket change feed.
//
// Routes follow the add-on's original surface (/zones/{base}/{zone},
// /mixedgroups/{id}, /mode, ...). Reads answer 200 with JSON, accepted writes
// answer 202, and rejected input answers 400 with an error body naming the
// field. Every write goes through the gateway operations, so HTTP and Modbus
// clients see the same register bank.
//
// The server follows the same lifecycle as the other front ends:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
package api
