// Package dpt9001 implements the KNX DPT 9.001 two-byte float used by the
// controller for temperatures and setpoints.
//
// A packed value occupies one holding register:
//
//	bit 15     sign
//	bits 14-11 exponent e (0..15)
//	bits 10-0  mantissa, low 11 bits of a 12-bit two's-complement m
//
// The decoded value is 0.01 * m * 2^e, giving 0.01 resolution near zero and a
// range of -671088.64 to 670760.96.
//
// Pack rounds half to even. The arithmetic is done in exact decimal on the
// shortest representation of the float64 input, so 21.005 is a real tie and
// not 21.00499999... in binary.
package dpt9001
