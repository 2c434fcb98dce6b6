// Package registers owns the gateway's single bank of 65536 holding
// registers.
//
// The Store is shared by the Modbus servers and the HTTP/MQTT front ends.
// One mutex covers both the in-memory array and the durable write, so a
// reader never sees a half-applied write and memory never runs ahead of
// disk:
//
//	Set(addr, values)
//	  lock
//	  backend.Put(addr, values)   one transaction, committed or not at all
//	  copy values into memory     only after the commit succeeded
//	  unlock
//	  notify observers            outside the lock, in commit order
//
// Observers of two racing writes to the same address are called in the
// order the writes committed, so a change feed never ends on a stale value.
//
// A failed Put leaves memory untouched and returns ErrStorage. Nothing is
// retried here; callers own their retry policy.
//
// Open loads the whole bank from the backend. An empty backend is seeded
// with zeros; anything other than a complete, gap-free bank is ErrCorrupt
// and the process should refuse to start.
package registers
