package dpt9001

import "errors"

// ErrEncodingRange is returned by Pack when a value has no DPT 9.001
// representation (NaN, infinity, or a magnitude beyond the format).
var ErrEncodingRange = errors.New("dpt9001: value out of encoding range")
