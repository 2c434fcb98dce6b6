package gateway

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"math"
	"strconv"
)

// DecodeZoneWrite parses a zone write body such as {"state": 3} or
// {"setpoint": 21.5}. A null field counts as absent. Unknown keys are
// ignored.
func DecodeZoneWrite(body []byte) (ZoneWrite, error) {
	obj, err := decodeObject(body)
	if err != nil {
		return ZoneWrite{}, err
	}

	var w ZoneWrite
	if raw, ok := present(obj, "state"); ok {
		v, err := integer(raw)
		if err != nil {
			return ZoneWrite{}, invalid("state", "invalid state")
		}
		w.State = &v
	}
	if raw, ok := present(obj, "setpoint"); ok {
		v, err := number(raw)
		if err != nil {
			return ZoneWrite{}, invalid("setpoint", "invalid setpoint")
		}
		w.Setpoint = &v
	}
	if w.State == nil && w.Setpoint == nil {
		return ZoneWrite{}, invalid("", "one of state or setpoint need to be specified")
	}
	return w, nil
}

// DecodeModeWrite parses {"mode": n}.
func DecodeModeWrite(body []byte) (int, error) {
	return decodeSingle(body, "mode")
}

// DecodeStateWrite parses {"state": n}.
func DecodeStateWrite(body []byte) (int, error) {
	return decodeSingle(body, "state")
}

func decodeSingle(body []byte, key string) (int, error) {
	obj, err := decodeObject(body)
	if err != nil {
		return 0, err
	}
	raw, ok := present(obj, key)
	if !ok {
		return 0, invalid(key, "missing "+key+" key in payload")
	}
	v, err := integer(raw)
	if err != nil {
		return 0, invalid(key, "invalid "+key)
	}
	return v, nil
}

func decodeObject(body []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, &PayloadError{Reason: "malformed JSON", cause: err}
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, invalid("", "trailing data after JSON object")
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, invalid("", "payload must be a JSON object")
	}
	return obj, nil
}

func present(obj map[string]any, key string) (any, bool) {
	v, ok := obj[key]
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}

var errNotNumber = errors.New("not a number")

// integer accepts only JSON integer literals: 3 is valid, 3.0 and 3e0 are
// not.
func integer(v any) (int, error) {
	n, ok := v.(json.Number)
	if !ok {
		return 0, errNotNumber
	}
	i, err := strconv.ParseInt(string(n), 10, 32)
	if err != nil {
		return 0, errNotNumber
	}
	return int(i), nil
}

func number(v any) (float64, error) {
	n, ok := v.(json.Number)
	if !ok {
		return 0, errNotNumber
	}
	f, err := n.Float64()
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, errNotNumber
	}
	return f, nil
}
