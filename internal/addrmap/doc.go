// Package addrmap projects controller entities onto holding-register
// addresses.
//
// All addresses are zero-based. The layout is:
//
//	1           global operating mode
//	2           global state
//	3, 4, 5     hints, warnings and errors present (1 = present)
//	7, 8        outside temperature and filtered outside temperature
//	10*G + f    mixed group G (1..3): pump 0, valve 1, flow 2, return 3
//	40 + D      dehumidifier D (1..9)
//	50 + P      extra pump P (1..5)
//	(B-1)*1200 + Z*100 + f
//	            zone Z (1..12) of base B (1..4): state 0, setpoint 1,
//	            temperature 2, relative humidity 10
//
// Identifiers are checked before an address is computed, so a bad identifier
// never reaches the register store. Validate checks the whole table for
// overlaps and is run once at startup.
package addrmap
