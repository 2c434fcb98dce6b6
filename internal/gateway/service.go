package gateway

import (
	"fmt"

	"github.com/nerrad567/neasmart-gateway/internal/addrmap"
	"github.com/nerrad567/neasmart-gateway/internal/dpt9001"
	"github.com/nerrad567/neasmart-gateway/internal/registers"
)

// Registers is the part of the register store the gateway needs.
// *registers.Store satisfies it.
type Registers interface {
	Get(addr, count int) ([]uint16, error)
	SetFrom(source registers.Source, addr int, values []uint16) error
}

// Service runs gateway operations against a register bank.
type Service struct {
	regs   Registers
	source registers.Source
}

// New checks the address layout and returns a Service writing as
// registers.SourceInternal.
func New(regs Registers) (*Service, error) {
	if err := addrmap.Validate(); err != nil {
		return nil, err
	}
	return &Service{regs: regs, source: registers.SourceInternal}, nil
}

// As returns a copy of the service that tags its writes with source.
func (s *Service) As(source registers.Source) *Service {
	c := *s
	c.source = source
	return &c
}

// ReadZone returns the state of zone in base. The zone's registers are read
// in one call, so the fields are mutually consistent.
func (s *Service) ReadZone(base, zone int) (Zone, error) {
	a, err := addrmap.Zone(base, zone)
	if err != nil {
		return Zone{}, err
	}
	block, err := s.regs.Get(a.State, a.Humidity-a.State+1)
	if err != nil {
		return Zone{}, err
	}
	return zoneFrom(block, a, a.State), nil
}

// WriteZone validates w and writes it to zone in base. When both state and
// setpoint are given they are written together in one call.
func (s *Service) WriteZone(base, zone int, w ZoneWrite) error {
	a, err := addrmap.Zone(base, zone)
	if err != nil {
		return err
	}
	state, setpoint, err := w.encode()
	if err != nil {
		return err
	}

	switch {
	case state != nil && setpoint != nil:
		// Setpoint directly follows state.
		return s.regs.SetFrom(s.source, a.State, []uint16{*state, *setpoint})
	case state != nil:
		return s.regs.SetFrom(s.source, a.State, []uint16{*state})
	default:
		return s.regs.SetFrom(s.source, a.Setpoint, []uint16{*setpoint})
	}
}

// encode validates the write and returns the register values to store.
func (w ZoneWrite) encode() (state, setpoint *uint16, err error) {
	if w.State == nil && w.Setpoint == nil {
		return nil, nil, invalid("", "one of state or setpoint need to be specified")
	}
	if w.State != nil {
		if *w.State < MinZoneState || *w.State > MaxZoneState {
			return nil, nil, invalid("state", "invalid state")
		}
		v := uint16(*w.State)
		state = &v
	}
	if w.Setpoint != nil {
		raw, err := dpt9001.Pack(*w.Setpoint)
		if err != nil {
			return nil, nil, &PayloadError{Field: "setpoint", Reason: "invalid setpoint", cause: err}
		}
		setpoint = &raw
	}
	return state, setpoint, nil
}

// ReadMixedGroup returns the state of mixed group id.
func (s *Service) ReadMixedGroup(id int) (MixedGroup, error) {
	a, err := addrmap.MixedGroup(id)
	if err != nil {
		return MixedGroup{}, err
	}
	block, err := s.regs.Get(a.Pump, a.ReturnTemp-a.Pump+1)
	if err != nil {
		return MixedGroup{}, err
	}
	return mixedGroupFrom(block, a, a.Pump), nil
}

// ReadOutsideTemperature returns the outside sensor values.
func (s *Service) ReadOutsideTemperature() (OutsideTemperature, error) {
	block, err := s.regs.Get(addrmap.OutsideTemp, addrmap.FilteredOutsideTemp-addrmap.OutsideTemp+1)
	if err != nil {
		return OutsideTemperature{}, err
	}
	return outsideFrom(block, addrmap.OutsideTemp), nil
}

// ReadNotifications reports pending hints, warnings and errors. A flag is
// set only when its register holds exactly 1.
func (s *Service) ReadNotifications() (Notifications, error) {
	block, err := s.regs.Get(addrmap.HintsPresent, addrmap.ErrorsPresent-addrmap.HintsPresent+1)
	if err != nil {
		return Notifications{}, err
	}
	return notificationsFrom(block, addrmap.HintsPresent), nil
}

// ReadMode returns the global operating mode.
func (s *Service) ReadMode() (Mode, error) {
	v, err := s.one(addrmap.GlobalMode)
	return Mode{Mode: v}, err
}

// WriteMode sets the global operating mode, 1 to 5.
func (s *Service) WriteMode(mode int) error {
	if mode < MinMode || mode > MaxMode {
		return invalid("mode", "invalid mode")
	}
	return s.regs.SetFrom(s.source, addrmap.GlobalMode, []uint16{uint16(mode)})
}

// ReadState returns the global operating state.
func (s *Service) ReadState() (GlobalState, error) {
	v, err := s.one(addrmap.GlobalState)
	return GlobalState{State: v}, err
}

// WriteState sets the global operating state, 0 to 6.
func (s *Service) WriteState(state int) error {
	if state < MinGlobalState || state > MaxGlobalState {
		return invalid("state", "invalid state")
	}
	return s.regs.SetFrom(s.source, addrmap.GlobalState, []uint16{uint16(state)})
}

// ReadDehumidifier returns the state of dehumidifier id.
func (s *Service) ReadDehumidifier(id int) (Dehumidifier, error) {
	addr, err := addrmap.Dehumidifier(id)
	if err != nil {
		return Dehumidifier{}, err
	}
	v, err := s.one(addr)
	return Dehumidifier{State: v}, err
}

// ReadPump returns the state of extra pump id.
func (s *Service) ReadPump(id int) (Pump, error) {
	addr, err := addrmap.Pump(id)
	if err != nil {
		return Pump{}, err
	}
	v, err := s.one(addr)
	return Pump{State: v}, err
}

// Snapshot reads every entity from a single read of the mapped range.
func (s *Service) Snapshot() (Plant, error) {
	entries := addrmap.Entries()
	last := entries[len(entries)-1].Address

	bank, err := s.regs.Get(0, last+1)
	if err != nil {
		return Plant{}, fmt.Errorf("reading plant snapshot: %w", err)
	}

	p := Plant{
		Mode:          Mode{Mode: bank[addrmap.GlobalMode]},
		State:         GlobalState{State: bank[addrmap.GlobalState]},
		Notifications: notificationsFrom(bank, 0),
		Outside:       outsideFrom(bank, 0),
	}
	for g := addrmap.MinMixedGroup; g <= addrmap.MaxMixedGroup; g++ {
		a, _ := addrmap.MixedGroup(g) //nolint:errcheck // id in range
		p.MixedGroups = append(p.MixedGroups, mixedGroupFrom(bank, a, 0))
	}
	for d := addrmap.MinDehumidifier; d <= addrmap.MaxDehumidifier; d++ {
		addr, _ := addrmap.Dehumidifier(d) //nolint:errcheck // id in range
		p.Dehumidifiers = append(p.Dehumidifiers, Dehumidifier{State: bank[addr]})
	}
	for n := addrmap.MinPump; n <= addrmap.MaxPump; n++ {
		addr, _ := addrmap.Pump(n) //nolint:errcheck // id in range
		p.Pumps = append(p.Pumps, Pump{State: bank[addr]})
	}
	for b := addrmap.MinBase; b <= addrmap.MaxBase; b++ {
		for z := addrmap.MinZone; z <= addrmap.MaxZone; z++ {
			a, _ := addrmap.Zone(b, z) //nolint:errcheck // ids in range
			p.Zones = append(p.Zones, ZoneSnapshot{Base: b, ID: z, Zone: zoneFrom(bank, a, 0)})
		}
	}
	return p, nil
}

func (s *Service) one(addr int) (uint16, error) {
	v, err := s.regs.Get(addr, 1)
	if err != nil {
		return 0, err
	}
	return v[0], nil
}

// The decoders below read fields from block, where block[0] holds register
// origin.

func zoneFrom(block []uint16, a addrmap.ZoneAddr, origin int) Zone {
	return Zone{
		State:            block[a.State-origin],
		Setpoint:         dpt9001.Unpack(block[a.Setpoint-origin]),
		Temperature:      dpt9001.Unpack(block[a.Temperature-origin]),
		RelativeHumidity: block[a.Humidity-origin],
	}
}

func mixedGroupFrom(block []uint16, a addrmap.MixedGroupAddr, origin int) MixedGroup {
	return MixedGroup{
		PumpState:         block[a.Pump-origin],
		ValveOpening:      block[a.Valve-origin],
		FlowTemperature:   dpt9001.Unpack(block[a.FlowTemp-origin]),
		ReturnTemperature: dpt9001.Unpack(block[a.ReturnTemp-origin]),
	}
}

func outsideFrom(block []uint16, origin int) OutsideTemperature {
	return OutsideTemperature{
		Outside:  dpt9001.Unpack(block[addrmap.OutsideTemp-origin]),
		Filtered: dpt9001.Unpack(block[addrmap.FilteredOutsideTemp-origin]),
	}
}

func notificationsFrom(block []uint16, origin int) Notifications {
	return Notifications{
		Hints:    block[addrmap.HintsPresent-origin] == 1,
		Warnings: block[addrmap.WarningsPresent-origin] == 1,
		Errors:   block[addrmap.ErrorsPresent-origin] == 1,
	}
}
