package testutil

import (
	"context"
	"fmt"
	"sync"

	"github.com/Agrid-Dev/ditraheat/internal/account"
	"github.com/Agrid-Dev/ditraheat/schluter"
)

// FakeThermostatService is a reusable fake implementing ports.ThermostatService.
// Put ONLY what multiple test packages need here.
type FakeThermostatService struct {
	mu sync.Mutex

	S           map[string]schluter.Thermostat
	FetchErr    error
	FetchCalled int

	SetTemperatureCalled bool
	SetTemperatureSerial string
	SetTemperatureArg    float64
	SetTemperatureWire   int
	SetTemperatureOK     bool
	SetTemperatureErr    error

	SetModeCalled bool
	SetModeSerial string
	SetModeArg    schluter.RegulationMode
	SetModeOK     bool
	SetModeErr    error
}

func NewFakeThermostatService() *FakeThermostatService {
	return &FakeThermostatService{
		S: map[string]schluter.Thermostat{
			"1084135": {
				SerialNumber:        "1084135",
				Name:                "Bathroom",
				GroupID:             31125,
				GroupName:           "Home",
				Temperature:         22.5,
				SetPointTemperature: 22,
				ManualTemperature:   21,
				MaxTemperature:      40,
				MinTemperature:      5,
				IsOnline:            true,
				RegulationMode:      schluter.RegulationModeSchedule,
				SoftwareVersion:     "1.15",
				LoadMeasuredWatt:    480,
			},
			"2001337": {
				SerialNumber:        "2001337",
				Name:                "Kitchen",
				GroupID:             31125,
				GroupName:           "Home",
				Temperature:         19.5,
				SetPointTemperature: 21,
				ManualTemperature:   21,
				MaxTemperature:      40,
				MinTemperature:      5,
				IsOnline:            true,
				IsHeating:           true,
				RegulationMode:      schluter.RegulationModeManual,
				SoftwareVersion:     "1.15",
				LoadMeasuredWatt:    650,
			},
		},
		SetTemperatureOK: true,
		SetModeOK:        true,
	}
}

func (f *FakeThermostatService) Thermostats(_ context.Context) (map[string]schluter.Thermostat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.FetchCalled++
	if f.FetchErr != nil {
		return nil, f.FetchErr
	}
	out := make(map[string]schluter.Thermostat, len(f.S))
	for k, v := range f.S {
		out[k] = v
	}
	return out, nil
}

func (f *FakeThermostatService) Thermostat(ctx context.Context, serial string) (schluter.Thermostat, error) {
	ts, err := f.Thermostats(ctx)
	if err != nil {
		return schluter.Thermostat{}, err
	}
	th, ok := ts[serial]
	if !ok {
		return schluter.Thermostat{}, fmt.Errorf("%w: %s", account.ErrUnknownThermostat, serial)
	}
	return th, nil
}

func (f *FakeThermostatService) SetTemperature(_ context.Context, serial string, degrees float64) (bool, error) {
	return f.setWire(serial, degrees, schluter.WireTemperature(degrees))
}

func (f *FakeThermostatService) SetWireTemperature(_ context.Context, serial string, wire int) (bool, error) {
	return f.setWire(serial, float64(wire)/schluter.TemperatureScale, wire)
}

func (f *FakeThermostatService) setWire(serial string, degrees float64, wire int) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.SetTemperatureCalled = true
	f.SetTemperatureSerial = serial
	f.SetTemperatureArg = degrees
	f.SetTemperatureWire = wire
	if f.SetTemperatureErr != nil {
		return false, f.SetTemperatureErr
	}
	if f.SetTemperatureOK {
		th := f.S[serial]
		th.ManualTemperature = schluter.DisplayTemperature(wire)
		th.RegulationMode = schluter.RegulationModeManual
		f.S[serial] = th
	}
	return f.SetTemperatureOK, nil
}

func (f *FakeThermostatService) SetRegulationMode(_ context.Context, serial string, mode schluter.RegulationMode) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.SetModeCalled = true
	f.SetModeSerial = serial
	f.SetModeArg = mode
	if f.SetModeErr != nil {
		return false, f.SetModeErr
	}
	if f.SetModeOK {
		th := f.S[serial]
		th.RegulationMode = mode
		f.S[serial] = th
	}
	return f.SetModeOK, nil
}

// Snapshot returns a copy of the current fake state for assertions.
func (f *FakeThermostatService) Snapshot(serial string) schluter.Thermostat {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.S[serial]
}

// Update replaces one thermostat under the lock, for tests that change
// state while a controller is running.
func (f *FakeThermostatService) Update(th schluter.Thermostat) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.S[th.SerialNumber] = th
}

func (f *FakeThermostatService) LastSetTemperature() (serial string, degrees float64, called bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.SetTemperatureSerial, f.SetTemperatureArg, f.SetTemperatureCalled
}

// LastSetWireTemperature reports the wire value of the last temperature write.
func (f *FakeThermostatService) LastSetWireTemperature() (serial string, wire int, called bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.SetTemperatureSerial, f.SetTemperatureWire, f.SetTemperatureCalled
}

func (f *FakeThermostatService) LastSetRegulationMode() (serial string, mode schluter.RegulationMode, called bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.SetModeSerial, f.SetModeArg, f.SetModeCalled
}
