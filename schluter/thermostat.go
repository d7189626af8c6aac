package schluter

import (
	"encoding/json"
	"fmt"
	"math"
)

// TemperatureScale is the number of wire units per degree.
const TemperatureScale = 100

// Thermostat is a snapshot of one device as reported by a single fetch.
// Temperatures are in degrees, rounded to the nearest half degree.
type Thermostat struct {
	SerialNumber string
	Name         string
	GroupID      int
	GroupName    string

	Temperature         float64
	SetPointTemperature float64
	ManualTemperature   float64
	MaxTemperature      float64
	MinTemperature      float64

	IsOnline              bool
	IsHeating             bool
	IsEarlyStartOfHeating bool

	RegulationMode      RegulationMode
	SoftwareVersion     string
	KwhCharge           float64
	LoadMeasuringActive bool
	LoadMeasuredWatt    int
	LoadManuallySetWatt int
	ErrorCode           int
	Confirmed           bool
	Email               string
	TZOffset            string
	HasBeenAssigned     bool
	DistributerID       int
	Support             json.RawMessage

	// Scheduling fields are passed through as received.
	VacationEnabled     bool
	VacationBeginDay    string
	VacationEndDay      string
	VacationTemperature int
	ComfortTemperature  int
	ComfortEndTime      string
}

func newThermostat(r thermostatRecord) Thermostat {
	return Thermostat{
		SerialNumber: r.SerialNumber,
		Name:         r.Room,
		GroupID:      r.GroupID,
		GroupName:    r.GroupName,

		Temperature:         DisplayTemperature(r.Temperature),
		SetPointTemperature: DisplayTemperature(r.SetPointTemp),
		ManualTemperature:   DisplayTemperature(r.ManualTemperature),
		MaxTemperature:      DisplayTemperature(r.MaxTemp),
		MinTemperature:      DisplayTemperature(r.MinTemp),

		IsOnline:              r.Online,
		IsHeating:             r.Heating,
		IsEarlyStartOfHeating: r.EarlyStartOfHeating,

		RegulationMode:      r.RegulationMode,
		SoftwareVersion:     r.SWVersion,
		KwhCharge:           r.KwhCharge,
		LoadMeasuringActive: r.LoadMeasuringActive,
		LoadMeasuredWatt:    r.LoadMeasuredWatt,
		LoadManuallySetWatt: r.LoadManuallySetWatt,
		ErrorCode:           r.ErrorCode,
		Confirmed:           r.Confirmed,
		Email:               r.Email,
		TZOffset:            r.TZOffset,
		HasBeenAssigned:     r.HasBeenAssigned,
		DistributerID:       r.DistributerID,
		Support:             r.Support,

		VacationEnabled:     r.VacationEnabled,
		VacationBeginDay:    r.VacationBeginDay,
		VacationEndDay:      r.VacationEndDay,
		VacationTemperature: r.VacationTemperature,
		ComfortTemperature:  r.ComfortTemperature,
		ComfortEndTime:      r.ComfortEndTime,
	}
}

func (t Thermostat) String() string {
	return fmt.Sprintf("Thermostat: %s, %s", t.SerialNumber, t.Name)
}

// DisplayTemperature converts a wire temperature to degrees rounded to the
// nearest half degree. Exact quarter-degree midpoints round half to even,
// so 2225 gives 22.0 and 2275 gives 23.0.
func DisplayTemperature(raw int) float64 {
	return math.RoundToEven(float64(raw)/TemperatureScale*2) / 2
}

// WireTemperature converts degrees to the wire representation, truncating
// toward zero: 22.499 gives 2249.
func WireTemperature(degrees float64) int {
	return int(degrees * TemperatureScale)
}
