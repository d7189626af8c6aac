package ports

import (
	"context"

	"github.com/Agrid-Dev/ditraheat/schluter"
)

// ThermostatService is the control-plane port used by controllers (HTTP/MQTT/Modbus).
// Every call reaches the Schluter cloud; nothing is served from memory.
type ThermostatService interface {
	Thermostats(ctx context.Context) (map[string]schluter.Thermostat, error)
	Thermostat(ctx context.Context, serialNumber string) (schluter.Thermostat, error)
	SetTemperature(ctx context.Context, serialNumber string, degrees float64) (bool, error)
	// SetWireTemperature takes hundredths of a degree, as the cloud stores them.
	SetWireTemperature(ctx context.Context, serialNumber string, wire int) (bool, error)
	SetRegulationMode(ctx context.Context, serialNumber string, mode schluter.RegulationMode) (bool, error)
}
