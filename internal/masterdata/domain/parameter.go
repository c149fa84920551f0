package masterdata

import "errors"

type DataType string

const (
	DataTypeFloat   DataType = "float"
	DataTypeBool    DataType = "bool"
	DataTypeInteger DataType = "integer"
)

// Category groups parameter types by physical meaning.
type Category string

const (
	CategoryPressure    Category = "pressure"
	CategoryTemperature Category = "temperature"
	CategoryStatus      Category = "status"
	CategoryVibration   Category = "vibration"
	CategoryComposition Category = "composition"
	CategoryControl     Category = "control"
)

// ParameterType describes a measurable or control signal.
type ParameterType struct {
	ID          string   `json:"id" yaml:"id"`
	Code        string   `json:"code" yaml:"code"`
	DisplayName string   `json:"display_name" yaml:"display_name"`
	Unit        string   `json:"unit" yaml:"unit"`
	DataType    DataType `json:"data_type" yaml:"data_type"`
	Precision   int      `json:"precision" yaml:"precision"`
	NormalMin   *float64 `json:"normal_min,omitempty" yaml:"normal_min"`
	NormalMax   *float64 `json:"normal_max,omitempty" yaml:"normal_max"`
	Description string   `json:"description,omitempty" yaml:"description"`
	Category    Category `json:"category" yaml:"category"`
}

// Validate checks parameter type invariants.
func (p ParameterType) Validate() error {
	if p.Code == "" {
		return errors.New("parameter type: empty code")
	}
	switch p.DataType {
	case DataTypeFloat, DataTypeBool, DataTypeInteger:
	default:
		return errors.New("parameter type: invalid data type")
	}
	if p.NormalMin != nil && p.NormalMax != nil && *p.NormalMin > *p.NormalMax {
		return errors.New("parameter type: normal min above max")
	}
	return nil
}

// InNormalRange reports whether value sits inside the normal range.
// Parameters without a range are always in range.
func (p ParameterType) InNormalRange(value float64) bool {
	if p.NormalMin != nil && value < *p.NormalMin {
		return false
	}
	if p.NormalMax != nil && value > *p.NormalMax {
		return false
	}
	return true
}

func bound(v float64) *float64 { return &v }

// DefaultParameterTypes is the standard wellhead signal catalog.
func DefaultParameterTypes() []ParameterType {
	return []ParameterType{
		{ID: "P01", Code: "THP", DisplayName: "Tubing Head Pressure", Unit: "psi", DataType: DataTypeFloat, Precision: 1, NormalMin: bound(0), NormalMax: bound(5000), Description: "Pressure at tubing head", Category: CategoryPressure},
		{ID: "P02", Code: "FLP", DisplayName: "Flowline Pressure", Unit: "psi", DataType: DataTypeFloat, Precision: 1, NormalMin: bound(0), NormalMax: bound(5000), Description: "Pressure in flowline", Category: CategoryPressure},
		{ID: "P03", Code: "CSP", DisplayName: "Casing Pressure", Unit: "psi", DataType: DataTypeFloat, Precision: 1, NormalMin: bound(0), NormalMax: bound(5000), Description: "Casing annulus pressure", Category: CategoryPressure},
		{ID: "P04", Code: "FLT", DisplayName: "Flowline Temperature", Unit: "°C", DataType: DataTypeFloat, Precision: 1, NormalMin: bound(-40), NormalMax: bound(200), Description: "Temperature in flowline", Category: CategoryTemperature},
		{ID: "P05", Code: "THT", DisplayName: "Tubing Head Temperature", Unit: "°C", DataType: DataTypeFloat, Precision: 1, NormalMin: bound(-40), NormalMax: bound(200), Description: "Temperature at tubing head", Category: CategoryTemperature},
		{ID: "P06", Code: "ANB", DisplayName: "Annulus B", Unit: "psi", DataType: DataTypeFloat, Precision: 1, NormalMin: bound(0), NormalMax: bound(5000), Description: "Annulus B pressure", Category: CategoryPressure},
		{ID: "P07", Code: "DHP", DisplayName: "Downhole Pressure", Unit: "psi", DataType: DataTypeFloat, Precision: 1, NormalMin: bound(0), NormalMax: bound(10000), Description: "Reservoir downhole pressure", Category: CategoryPressure},
		{ID: "P08", Code: "DHT", DisplayName: "Downhole Temperature", Unit: "°C", DataType: DataTypeFloat, Precision: 1, NormalMin: bound(0), NormalMax: bound(250), Description: "Reservoir downhole temperature", Category: CategoryTemperature},
		{ID: "P09", Code: "SDV_ST", DisplayName: "SDV Status", Unit: "boolean", DataType: DataTypeBool, Description: "Shutdown valve status", Category: CategoryStatus},
		{ID: "P10", Code: "SSV_ST", DisplayName: "SSV Status", Unit: "boolean", DataType: DataTypeBool, Description: "Surface safety valve status", Category: CategoryStatus},
		{ID: "P11", Code: "VIB", DisplayName: "Vibration Monitoring", Unit: "g", DataType: DataTypeFloat, Precision: 2, NormalMin: bound(0), NormalMax: bound(50), Description: "Wellhead vibration monitoring", Category: CategoryVibration},
		{ID: "P12", Code: "AMB_T", DisplayName: "Ambient Temperature", Unit: "°C", DataType: DataTypeFloat, Precision: 1, NormalMin: bound(-50), NormalMax: bound(80), Description: "External environment temperature", Category: CategoryTemperature},
		{ID: "P13", Code: "WCUT", DisplayName: "Water Cut", Unit: "%", DataType: DataTypeFloat, Precision: 1, NormalMin: bound(0), NormalMax: bound(100), Description: "Percentage of water in produced fluids", Category: CategoryComposition},
		{ID: "P14", Code: "SSV_CTRL", DisplayName: "SSV Control", Unit: "boolean", DataType: DataTypeBool, Description: "Command to operate SSV", Category: CategoryControl},
		{ID: "P15", Code: "SDV_CTRL", DisplayName: "SDV Control", Unit: "boolean", DataType: DataTypeBool, Description: "Command to operate SDV", Category: CategoryControl},
		{ID: "P16", Code: "WING_CTRL", DisplayName: "Wing Valve Control", Unit: "boolean", DataType: DataTypeBool, Description: "Command to operate wing valve", Category: CategoryControl},
		{ID: "P17", Code: "CHOKE_CTRL", DisplayName: "Choke Valve Control", Unit: "boolean", DataType: DataTypeBool, Description: "Command to operate choke valve", Category: CategoryControl},
	}
}
