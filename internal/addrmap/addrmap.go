package addrmap

import (
	"fmt"
	"sort"
)

// RegisterCount is the size of the holding-register bank.
const RegisterCount = 65536

// Identifier ranges, as accepted by the management API.
const (
	MinBase, MaxBase                 = 1, 4
	MinZone, MaxZone                 = 1, 12
	MinMixedGroup, MaxMixedGroup     = 1, 3
	MinDehumidifier, MaxDehumidifier = 1, 9
	MinPump, MaxPump                 = 1, 5
)

// Singleton registers.
const (
	GlobalMode          = 1
	GlobalState         = 2
	HintsPresent        = 3
	WarningsPresent     = 4
	ErrorsPresent       = 5
	OutsideTemp         = 7
	FilteredOutsideTemp = 8
)

// Repeating blocks.
const (
	baseStride = 1200
	zoneStride = 100

	zoneState       = 0
	zoneSetpoint    = 1
	zoneTemperature = 2
	zoneHumidity    = 10

	mixedGroupStride = 10
	mixedPump        = 0
	mixedValve       = 1
	mixedFlowTemp    = 2
	mixedReturnTemp  = 3

	dehumidifierBase = 40
	pumpBase         = 50
)

// Kind identifies an entity type in the map.
type Kind string

// Entity kinds.
const (
	KindZone         Kind = "zone"
	KindMixedGroup   Kind = "mixedgroup"
	KindDehumidifier Kind = "dehumidifier"
	KindPump         Kind = "pump"
	KindOutside      Kind = "outside"
	KindNotification Kind = "notification"
	KindMode         Kind = "mode"
	KindState        Kind = "state"
)

// Location is the resolved address of one entity: its base register and the
// absolute address of each field.
type Location struct {
	Kind   Kind
	Base   int
	Fields map[string]int
}

// Field names used in Location.Fields.
const (
	FieldState       = "state"
	FieldSetpoint    = "setpoint"
	FieldTemperature = "temperature"
	FieldHumidity    = "relative_humidity"
	FieldPump        = "pump_state"
	FieldValve       = "valve_opening"
	FieldFlowTemp    = "flow_temperature"
	FieldReturnTemp  = "return_temperature"
	FieldOutside     = "outside_temperature"
	FieldFiltered    = "filtered_outside_temperature"
	FieldHints       = "hints_present"
	FieldWarnings    = "warnings_present"
	FieldErrors      = "errors_present"
	FieldMode        = "mode"
)

// ZoneAddr holds the registers of one zone.
type ZoneAddr struct {
	State       int
	Setpoint    int
	Temperature int
	Humidity    int
}

// Zone resolves zone of base.
func Zone(base, zone int) (ZoneAddr, error) {
	if err := checkID(IDBase, base, MinBase, MaxBase); err != nil {
		return ZoneAddr{}, err
	}
	if err := checkID(IDZone, zone, MinZone, MaxZone); err != nil {
		return ZoneAddr{}, err
	}
	start := (base-1)*baseStride + zone*zoneStride
	return ZoneAddr{
		State:       start + zoneState,
		Setpoint:    start + zoneSetpoint,
		Temperature: start + zoneTemperature,
		Humidity:    start + zoneHumidity,
	}, nil
}

// MixedGroupAddr holds the registers of one mixed group. The four fields are
// contiguous starting at Pump.
type MixedGroupAddr struct {
	Pump       int
	Valve      int
	FlowTemp   int
	ReturnTemp int
}

// MixedGroup resolves mixed group id.
func MixedGroup(id int) (MixedGroupAddr, error) {
	if err := checkID(IDGroup, id, MinMixedGroup, MaxMixedGroup); err != nil {
		return MixedGroupAddr{}, err
	}
	start := id * mixedGroupStride
	return MixedGroupAddr{
		Pump:       start + mixedPump,
		Valve:      start + mixedValve,
		FlowTemp:   start + mixedFlowTemp,
		ReturnTemp: start + mixedReturnTemp,
	}, nil
}

// Dehumidifier returns the state register of dehumidifier id.
func Dehumidifier(id int) (int, error) {
	if err := checkID(IDDehumidifier, id, MinDehumidifier, MaxDehumidifier); err != nil {
		return 0, err
	}
	return dehumidifierBase + id, nil
}

// Pump returns the state register of extra pump id.
func Pump(id int) (int, error) {
	if err := checkID(IDPump, id, MinPump, MaxPump); err != nil {
		return 0, err
	}
	return pumpBase + id, nil
}

// Lookup is the generic form of the typed resolvers. Zones take two ids
// (base, zone), mixed groups, dehumidifiers and pumps take one, the
// singleton kinds take none.
func Lookup(kind Kind, ids ...int) (Location, error) {
	want := arity(kind)
	if want < 0 {
		return Location{}, fmt.Errorf("%w: unknown kind %q", ErrInvalidIdentifier, kind)
	}
	if len(ids) != want {
		return Location{}, fmt.Errorf("%w: %s takes %d identifiers, got %d", ErrInvalidIdentifier, kind, want, len(ids))
	}

	switch kind {
	case KindZone:
		z, err := Zone(ids[0], ids[1])
		if err != nil {
			return Location{}, err
		}
		return Location{Kind: kind, Base: z.State, Fields: map[string]int{
			FieldState:       z.State,
			FieldSetpoint:    z.Setpoint,
			FieldTemperature: z.Temperature,
			FieldHumidity:    z.Humidity,
		}}, nil
	case KindMixedGroup:
		g, err := MixedGroup(ids[0])
		if err != nil {
			return Location{}, err
		}
		return Location{Kind: kind, Base: g.Pump, Fields: map[string]int{
			FieldPump:       g.Pump,
			FieldValve:      g.Valve,
			FieldFlowTemp:   g.FlowTemp,
			FieldReturnTemp: g.ReturnTemp,
		}}, nil
	case KindDehumidifier:
		a, err := Dehumidifier(ids[0])
		if err != nil {
			return Location{}, err
		}
		return Location{Kind: kind, Base: a, Fields: map[string]int{FieldState: a}}, nil
	case KindPump:
		a, err := Pump(ids[0])
		if err != nil {
			return Location{}, err
		}
		return Location{Kind: kind, Base: a, Fields: map[string]int{FieldState: a}}, nil
	case KindOutside:
		return Location{Kind: kind, Base: OutsideTemp, Fields: map[string]int{
			FieldOutside:  OutsideTemp,
			FieldFiltered: FilteredOutsideTemp,
		}}, nil
	case KindNotification:
		return Location{Kind: kind, Base: HintsPresent, Fields: map[string]int{
			FieldHints:    HintsPresent,
			FieldWarnings: WarningsPresent,
			FieldErrors:   ErrorsPresent,
		}}, nil
	case KindMode:
		return Location{Kind: kind, Base: GlobalMode, Fields: map[string]int{FieldMode: GlobalMode}}, nil
	default: // KindState
		return Location{Kind: kind, Base: GlobalState, Fields: map[string]int{FieldState: GlobalState}}, nil
	}
}

func arity(kind Kind) int {
	switch kind {
	case KindZone:
		return 2
	case KindMixedGroup, KindDehumidifier, KindPump:
		return 1
	case KindOutside, KindNotification, KindMode, KindState:
		return 0
	default:
		return -1
	}
}

// Entry is one mapped register with a human-readable owner.
type Entry struct {
	Address int
	Owner   string
}

// Entries enumerates every mapped register in address order.
func Entries() []Entry {
	var out []Entry
	add := func(loc Location, owner string) {
		for field, addr := range loc.Fields {
			out = append(out, Entry{Address: addr, Owner: owner + "." + field})
		}
	}

	for _, k := range []Kind{KindMode, KindState, KindNotification, KindOutside} {
		loc, _ := Lookup(k) //nolint:errcheck // singletons cannot fail
		add(loc, string(k))
	}
	for g := MinMixedGroup; g <= MaxMixedGroup; g++ {
		loc, _ := Lookup(KindMixedGroup, g) //nolint:errcheck // id in range
		add(loc, fmt.Sprintf("mixedgroup[%d]", g))
	}
	for d := MinDehumidifier; d <= MaxDehumidifier; d++ {
		loc, _ := Lookup(KindDehumidifier, d) //nolint:errcheck // id in range
		add(loc, fmt.Sprintf("dehumidifier[%d]", d))
	}
	for p := MinPump; p <= MaxPump; p++ {
		loc, _ := Lookup(KindPump, p) //nolint:errcheck // id in range
		add(loc, fmt.Sprintf("pump[%d]", p))
	}
	for b := MinBase; b <= MaxBase; b++ {
		for z := MinZone; z <= MaxZone; z++ {
			loc, _ := Lookup(KindZone, b, z) //nolint:errcheck // ids in range
			add(loc, fmt.Sprintf("zone[%d/%d]", b, z))
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out
}

// Validate checks that every mapped register lies inside the bank and that no
// two entity fields share a register.
func Validate() error {
	entries := Entries()
	for i, e := range entries {
		if e.Address < 0 || e.Address >= RegisterCount {
			return fmt.Errorf("%w: %s at %d outside [0, %d]", ErrLayout, e.Owner, e.Address, RegisterCount-1)
		}
		if i > 0 && entries[i-1].Address == e.Address {
			return fmt.Errorf("%w: %s and %s share register %d", ErrLayout, entries[i-1].Owner, e.Owner, e.Address)
		}
	}
	return nil
}
