package schluter

import "encoding/json"

// Wire payloads. Field names follow the Schluter API exactly.

type authRequest struct {
	Email       string `json:"Email"`
	Password    string `json:"Password"`
	Application int    `json:"Application"`
}

type authResponse struct {
	SessionID string `json:"SessionId"`
	ErrorCode int    `json:"ErrorCode"`
}

type thermostatsResponse struct {
	Groups []group `json:"Groups"`
}

type group struct {
	Thermostats []thermostatRecord `json:"Thermostats"`
}

// thermostatRecord is one flat attribute mapping as returned by
// GET /api/thermostats. Temperatures are hundredths of a degree.
type thermostatRecord struct {
	SerialNumber        string          `json:"SerialNumber"`
	Room                string          `json:"Room"`
	GroupName           string          `json:"GroupName"`
	GroupID             int             `json:"GroupId"`
	Temperature         int             `json:"Temperature"`
	SetPointTemp        int             `json:"SetPointTemp"`
	RegulationMode      RegulationMode  `json:"RegulationMode"`
	VacationEnabled     bool            `json:"VacationEnabled"`
	VacationBeginDay    string          `json:"VacationBeginDay"`
	VacationEndDay      string          `json:"VacationEndDay"`
	VacationTemperature int             `json:"VacationTemperature"`
	ComfortTemperature  int             `json:"ComfortTemperature"`
	ComfortEndTime      string          `json:"ComfortEndTime"`
	ManualTemperature   int             `json:"ManualTemperature"`
	Online              bool            `json:"Online"`
	Heating             bool            `json:"Heating"`
	EarlyStartOfHeating bool            `json:"EarlyStartOfHeating"`
	MaxTemp             int             `json:"MaxTemp"`
	MinTemp             int             `json:"MinTemp"`
	ErrorCode           int             `json:"ErrorCode"`
	Confirmed           bool            `json:"Confirmed"`
	Email               string          `json:"Email"`
	TZOffset            string          `json:"TZOffset"`
	KwhCharge           float64         `json:"KwhCharge"`
	LoadMeasuringActive bool            `json:"LoadMeasuringActive"`
	LoadManuallySetWatt int             `json:"LoadManuallySetWatt"`
	LoadMeasuredWatt    int             `json:"LoadMeasuredWatt"`
	SWVersion           string          `json:"SWVersion"`
	HasBeenAssigned     bool            `json:"HasBeenAssigned"`
	DistributerID       int             `json:"DistributerId"`
	Support             json.RawMessage `json:"Support"`
}

type setTemperatureRequest struct {
	ManualTemperature int  `json:"ManualTemperature"`
	RegulationMode    int  `json:"RegulationMode"`
	VacationEnabled   bool `json:"VacationEnabled"`
}

type setRegulationModeRequest struct {
	SerialNumber   string         `json:"SerialNumber"`
	RegulationMode RegulationMode `json:"RegulationMode"`
}

type setThermostatResponse struct {
	Success bool `json:"Success"`
}
