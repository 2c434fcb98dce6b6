package influxdb

import (
	"strconv"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	MeasurementZone       = "neasmart_zone"
	MeasurementMixedGroup = "neasmart_mixed_group"
	MeasurementOutside    = "neasmart_outside"
)

// ZoneReading is one zone sample.
type ZoneReading struct {
	State            uint16
	Setpoint         float64
	Temperature      float64
	RelativeHumidity uint16
}

// MixedGroupReading is one mixed-group sample.
type MixedGroupReading struct {
	PumpState         uint16
	ValveOpening      uint16
	FlowTemperature   float64
	ReturnTemperature float64
}

// ZonePoint builds the point for one zone.
func ZonePoint(base, zone int, r ZoneReading, ts time.Time) *write.Point {
	return write.NewPoint(
		MeasurementZone,
		map[string]string{
			"base": strconv.Itoa(base),
			"zone": strconv.Itoa(zone),
		},
		map[string]interface{}{
			"state":             int64(r.State),
			"setpoint":          r.Setpoint,
			"temperature":       r.Temperature,
			"relative_humidity": int64(r.RelativeHumidity),
		},
		ts,
	)
}

// MixedGroupPoint builds the point for one mixed group.
func MixedGroupPoint(group int, r MixedGroupReading, ts time.Time) *write.Point {
	return write.NewPoint(
		MeasurementMixedGroup,
		map[string]string{
			"group": strconv.Itoa(group),
		},
		map[string]interface{}{
			"pump_state":         int64(r.PumpState),
			"valve_opening":      int64(r.ValveOpening),
			"flow_temperature":   r.FlowTemperature,
			"return_temperature": r.ReturnTemperature,
		},
		ts,
	)
}

// OutsidePoint builds the outside temperature point.
func OutsidePoint(outside, filtered float64, ts time.Time) *write.Point {
	return write.NewPoint(
		MeasurementOutside,
		nil,
		map[string]interface{}{
			"outside_temperature":          outside,
			"filtered_outside_temperature": filtered,
		},
		ts,
	)
}

// WriteZone records one zone sample. No-op when disconnected.
func (c *Client) WriteZone(base, zone int, r ZoneReading, ts time.Time) {
	c.writePoint(ZonePoint(base, zone, r, ts))
}

// WriteMixedGroup records one mixed-group sample. No-op when disconnected.
func (c *Client) WriteMixedGroup(group int, r MixedGroupReading, ts time.Time) {
	c.writePoint(MixedGroupPoint(group, r, ts))
}

// WriteOutside records the outside sensor values. No-op when disconnected.
func (c *Client) WriteOutside(outside, filtered float64, ts time.Time) {
	c.writePoint(OutsidePoint(outside, filtered, ts))
}

func (c *Client) writePoint(p *write.Point) {
	if !c.open.Load() {
		return
	}
	c.writeAPI.WritePoint(p)
}
