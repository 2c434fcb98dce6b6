package gateway

// Zone is the state of one heating zone.
type Zone struct {
	State            uint16  `json:"state"`
	Setpoint         float64 `json:"setpoint"`
	Temperature      float64 `json:"temperature"`
	RelativeHumidity uint16  `json:"relative_humidity"`
}

// ZoneWrite updates a zone. At least one field must be set.
type ZoneWrite struct {
	State    *int     `json:"state,omitempty"`
	Setpoint *float64 `json:"setpoint,omitempty"`
}

// MixedGroup is the state of one mixing-valve circuit.
type MixedGroup struct {
	PumpState         uint16  `json:"pump_state"`
	ValveOpening      uint16  `json:"mixing_valve_opening_percentage"`
	FlowTemperature   float64 `json:"flow_temperature"`
	ReturnTemperature float64 `json:"return_temperature"`
}

// OutsideTemperature holds the raw and filtered outside sensor values.
type OutsideTemperature struct {
	Outside  float64 `json:"outside_temperature"`
	Filtered float64 `json:"filtered_outside_temperature"`
}

// Notifications reports whether hints, warnings or errors are pending.
type Notifications struct {
	Hints    bool `json:"hints_present"`
	Warnings bool `json:"warnings_present"`
	Errors   bool `json:"error_present"`
}

// Mode is the global operating mode.
type Mode struct {
	Mode uint16 `json:"mode"`
}

// GlobalState is the global operating state.
type GlobalState struct {
	State uint16 `json:"state"`
}

// Dehumidifier is the state of one dehumidifier.
type Dehumidifier struct {
	State uint16 `json:"dehumidifier_state"`
}

// Pump is the state of one extra pump.
type Pump struct {
	State uint16 `json:"pump_state"`
}

// ZoneSnapshot is a zone with its identifiers.
type ZoneSnapshot struct {
	Base int `json:"base"`
	ID   int `json:"zone"`
	Zone
}

// Plant is every entity read from one consistent view of the bank.
type Plant struct {
	Mode          Mode               `json:"mode"`
	State         GlobalState        `json:"state"`
	Notifications Notifications      `json:"notifications"`
	Outside       OutsideTemperature `json:"outside"`
	MixedGroups   []MixedGroup       `json:"mixed_groups"`
	Dehumidifiers []Dehumidifier     `json:"dehumidifiers"`
	Pumps         []Pump             `json:"pumps"`
	Zones         []ZoneSnapshot     `json:"zones"`
}

// Write ranges.
const (
	MinZoneState, MaxZoneState     = 1, 6
	MinMode, MaxMode               = 1, 5
	MinGlobalState, MaxGlobalState = 0, 6
)
