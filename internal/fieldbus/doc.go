// Package fieldbus serves the register bank to Modbus masters.
//
// The holding-register table of the server is the register store itself:
// register N on the wire is store address N. Coils are a volatile table
// kept in memory; discrete inputs and input registers always read as zero.
//
// Two transports are provided:
//
//	TCP  github.com/simonvetter/modbus server, one RequestHandler
//	RTU  github.com/tbrandon/mbserver frames over github.com/goburrow/serial
//
// Both drive the same Handler, so request validation and error mapping do
// not depend on the transport.
//
// Unit addressing differs by transport. Over TCP a request for another unit
// gets exception 0x0B. On the serial bus other slaves may share the line,
// so frames for another unit are dropped without a reply and broadcast
// writes are applied without one. The serial line also answers Read Device
// Identification (function 43, MEI 0x0E) from the Handler's Identity.
package fieldbus
