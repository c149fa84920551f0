package memory

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	alarms "wellhead-monitor/internal/alarms/domain"
	masterdata "wellhead-monitor/internal/masterdata/domain"
)

const defaultWellheads = 5

// seedFile is the YAML layout of a catalog seed. When parameters are
// omitted the standard catalog is used; when wellheads is set and devices
// are omitted, WH-001..WH-n are generated with every parameter mapped.
type seedFile struct {
	Fields     []masterdata.Field            `yaml:"fields"`
	Locations  []masterdata.Location         `yaml:"locations"`
	Devices    []masterdata.Device           `yaml:"devices"`
	Parameters []masterdata.ParameterType    `yaml:"parameters"`
	Mappings   []masterdata.ParameterMapping `yaml:"mappings"`
	Rules      []seedRule                    `yaml:"rules"`
	Wellheads  int                           `yaml:"wellheads"`
	FieldID    string                        `yaml:"field_id"`
	LocationID string                        `yaml:"location_id"`
}

// seedRule defaults active to true when the key is absent.
type seedRule struct {
	ID            string  `yaml:"id"`
	Name          string  `yaml:"name"`
	ParameterCode string  `yaml:"parameter_code"`
	Severity      string  `yaml:"severity"`
	Operator      string  `yaml:"operator"`
	Threshold     float64 `yaml:"threshold"`
	Active        *bool   `yaml:"active"`
}

// StaticLoader serves catalog data held in memory.
type StaticLoader struct {
	mu   sync.RWMutex
	data masterdata.CatalogData
}

// NewStaticLoader constructs a loader.
func NewStaticLoader(data masterdata.CatalogData) *StaticLoader {
	return &StaticLoader{data: data}
}

// Load implements masterdata.Loader.
func (l *StaticLoader) Load(ctx context.Context) (masterdata.CatalogData, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.data, nil
}

// Replace swaps the served data. The next catalog refresh picks it up.
func (l *StaticLoader) Replace(data masterdata.CatalogData) {
	l.mu.Lock()
	l.data = data
	l.mu.Unlock()
}

// LoadSeedFile reads a YAML seed.
func LoadSeedFile(path string) (masterdata.CatalogData, error) {
	if path == "" {
		return masterdata.CatalogData{}, errors.New("catalog seed: empty path")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return masterdata.CatalogData{}, err
	}
	return ParseSeed(raw)
}

// ParseSeed decodes a YAML seed and fills defaults.
func ParseSeed(raw []byte) (masterdata.CatalogData, error) {
	var seed seedFile
	if err := yaml.Unmarshal(raw, &seed); err != nil {
		return masterdata.CatalogData{}, fmt.Errorf("catalog seed: %w", err)
	}
	data := masterdata.CatalogData{
		Fields:     seed.Fields,
		Locations:  seed.Locations,
		Devices:    seed.Devices,
		Parameters: seed.Parameters,
		Mappings:   seed.Mappings,
	}
	for _, rule := range seed.Rules {
		active := rule.Active == nil || *rule.Active
		data.Rules = append(data.Rules, alarms.AlarmRule{
			ID:            rule.ID,
			Name:          rule.Name,
			ParameterCode: rule.ParameterCode,
			Severity:      rule.Severity,
			Operator:      alarms.Operator(rule.Operator),
			Threshold:     rule.Threshold,
			Active:        active,
		})
	}
	if len(data.Parameters) == 0 {
		data.Parameters = masterdata.DefaultParameterTypes()
	}
	if len(data.Devices) == 0 && seed.Wellheads > 0 {
		generated := Wellheads(seed.Wellheads, seed.FieldID, seed.LocationID, data.Parameters)
		if len(data.Fields) == 0 {
			data.Fields = generated.Fields
		}
		if len(data.Locations) == 0 {
			data.Locations = generated.Locations
		}
		data.Devices = generated.Devices
		data.Mappings = append(data.Mappings, generated.Mappings...)
	}
	return data, nil
}

// DefaultCatalogData is the catalog served when no seed is configured.
func DefaultCatalogData() masterdata.CatalogData {
	data := Wellheads(defaultWellheads, "", "", masterdata.DefaultParameterTypes())
	data.Parameters = masterdata.DefaultParameterTypes()
	data.Rules = DefaultRules()
	return data
}

// Wellheads generates n wellheads on one location with every parameter mapped.
func Wellheads(n int, fieldID, locationID string, params []masterdata.ParameterType) masterdata.CatalogData {
	if fieldID == "" {
		fieldID = "FIELD-01"
	}
	if locationID == "" {
		locationID = "LOC-01"
	}
	data := masterdata.CatalogData{
		Fields:    []masterdata.Field{{ID: fieldID, Name: "Field " + fieldID}},
		Locations: []masterdata.Location{{ID: locationID, FieldID: fieldID, Name: "Location " + locationID}},
	}
	for i := 1; i <= n; i++ {
		id := fmt.Sprintf("WH-%03d", i)
		data.Devices = append(data.Devices, masterdata.Device{
			ID:         id,
			LocationID: locationID,
			Name:       "Wellhead " + id,
			DeviceType: "wellhead",
			Status:     masterdata.DeviceStatusActive,
		})
		for _, param := range params {
			data.Mappings = append(data.Mappings, masterdata.ParameterMapping{DeviceID: id, ParameterCode: param.Code, Active: true})
		}
	}
	return data
}

// DefaultRules is a starter rule set over the standard catalog.
func DefaultRules() []alarms.AlarmRule {
	return []alarms.AlarmRule{
		{ID: "rule-thp-high", Name: "High Tubing Head Pressure", ParameterCode: "THP", Severity: alarms.SeverityCritical, Operator: alarms.OperatorGreater, Threshold: 3000, Active: true},
		{ID: "rule-flp-low", Name: "Low Flowline Pressure", ParameterCode: "FLP", Severity: alarms.SeverityMedium, Operator: alarms.OperatorLess, Threshold: 50, Active: true},
		{ID: "rule-flt-high", Name: "High Flowline Temperature", ParameterCode: "FLT", Severity: alarms.SeverityHigh, Operator: alarms.OperatorGreater, Threshold: 120, Active: true},
		{ID: "rule-vib-high", Name: "High Vibration", ParameterCode: "VIB", Severity: alarms.SeverityHigh, Operator: alarms.OperatorGreater, Threshold: 10, Active: true},
		{ID: "rule-ssv-closed", Name: "SSV Closed", ParameterCode: "SSV_ST", Severity: alarms.SeverityHigh, Operator: alarms.OperatorEqual, Threshold: 0, Active: true},
		{ID: "rule-wcut-high", Name: "High Water Cut", ParameterCode: "WCUT", Severity: alarms.SeverityLow, Operator: alarms.OperatorGreater, Threshold: 80, Active: true},
	}
}
