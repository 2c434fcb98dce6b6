// Package influxdb records NEA SMART plant telemetry in InfluxDB v2.
//
// [Client] wraps the official influxdb-client-go v2 write API. The bridge
// writes one point per zone, one per mixed group and one for the outside
// sensor on every plant snapshot.
//
// # Measurements
//
//	neasmart_zone         tags base, zone; fields state, setpoint, temperature, relative_humidity
//	neasmart_mixed_group  tag group; fields pump_state, valve_opening, flow_temperature, return_temperature
//	neasmart_outside      fields outside_temperature, filtered_outside_temperature
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB, influxdb.WithLogger(log))
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteZone(2, 5, influxdb.ZoneReading{Setpoint: 21.5, Temperature: 20.9}, time.Now())
//
// Writes are non-blocking and batched according to batch_size and
// flush_interval. A failed batch is logged and dropped; Close flushes
// whatever is still queued.
package influxdb
