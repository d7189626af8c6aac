package schluter

import "fmt"

// RegulationMode is the thermostat operating mode, as an integer enum
// matching the wire values.
type RegulationMode int

const (
	RegulationModeUnknown  RegulationMode = 0
	RegulationModeSchedule RegulationMode = 1
	RegulationModeManual   RegulationMode = 2
	RegulationModeAway     RegulationMode = 3
)

func (m RegulationMode) Valid() bool {
	return m == RegulationModeSchedule || m == RegulationModeManual || m == RegulationModeAway
}

func (m RegulationMode) String() string {
	switch m {
	case RegulationModeSchedule:
		return "schedule"
	case RegulationModeManual:
		return "manual"
	case RegulationModeAway:
		return "away"
	default:
		return "unknown"
	}
}

func ParseRegulationMode(s string) (RegulationMode, error) {
	switch s {
	case "schedule":
		return RegulationModeSchedule, nil
	case "manual":
		return RegulationModeManual, nil
	case "away":
		return RegulationModeAway, nil
	default:
		return RegulationModeUnknown, fmt.Errorf("invalid regulation mode: %q", s)
	}
}
