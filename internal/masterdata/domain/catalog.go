package masterdata

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	alarms "wellhead-monitor/internal/alarms/domain"
)

// ErrCatalogNotLoaded is returned before the first successful load.
var ErrCatalogNotLoaded = errors.New("masterdata: catalog not loaded")

// CatalogData is the raw metadata a Catalog is built from.
type CatalogData struct {
	Fields     []Field
	Locations  []Location
	Devices    []Device
	Parameters []ParameterType
	Mappings   []ParameterMapping
	Rules      []alarms.AlarmRule
}

// Loader reads catalog data from a backing source.
type Loader interface {
	Load(ctx context.Context) (CatalogData, error)
}

// LoaderFunc adapts a function to Loader.
type LoaderFunc func(ctx context.Context) (CatalogData, error)

// Load implements Loader.
func (f LoaderFunc) Load(ctx context.Context) (CatalogData, error) { return f(ctx) }

// Catalog is an immutable metadata snapshot. All lookups are safe for concurrent use.
type Catalog struct {
	fields           map[string]Field
	locations        map[string]Location
	devices          map[string]Device
	parameters       map[string]ParameterType
	mappings         map[string]map[string]bool
	rules            map[string]alarms.AlarmRule
	rulesByParameter map[string][]alarms.AlarmRule
	loadedAt         time.Time
}

// Placement is a device together with its location and field.
type Placement struct {
	Device   Device
	Location Location
	Field    Field
}

// NewCatalog indexes data. Rule operators are not checked here; the
// evaluator reports unsupported operators per reading.
func NewCatalog(data CatalogData, loadedAt time.Time) (*Catalog, error) {
	c := &Catalog{
		fields:           make(map[string]Field, len(data.Fields)),
		locations:        make(map[string]Location, len(data.Locations)),
		devices:          make(map[string]Device, len(data.Devices)),
		parameters:       make(map[string]ParameterType, len(data.Parameters)),
		mappings:         make(map[string]map[string]bool),
		rules:            make(map[string]alarms.AlarmRule, len(data.Rules)),
		rulesByParameter: make(map[string][]alarms.AlarmRule),
		loadedAt:         loadedAt.UTC(),
	}
	for _, field := range data.Fields {
		if err := field.Validate(); err != nil {
			return nil, err
		}
		c.fields[field.ID] = field
	}
	for _, location := range data.Locations {
		if err := location.Validate(); err != nil {
			return nil, err
		}
		c.locations[location.ID] = location
	}
	for _, device := range data.Devices {
		if err := device.Validate(); err != nil {
			return nil, err
		}
		if _, ok := c.devices[device.ID]; ok {
			return nil, fmt.Errorf("masterdata: duplicate device %s", device.ID)
		}
		c.devices[device.ID] = device
	}
	for _, param := range data.Parameters {
		if err := param.Validate(); err != nil {
			return nil, err
		}
		if _, ok := c.parameters[param.Code]; ok {
			return nil, fmt.Errorf("masterdata: duplicate parameter %s", param.Code)
		}
		c.parameters[param.Code] = param
	}
	for _, mapping := range data.Mappings {
		if mapping.DeviceID == "" || mapping.ParameterCode == "" {
			return nil, errors.New("masterdata: mapping missing device or parameter")
		}
		byCode := c.mappings[mapping.DeviceID]
		if byCode == nil {
			byCode = make(map[string]bool)
			c.mappings[mapping.DeviceID] = byCode
		}
		byCode[mapping.ParameterCode] = mapping.Active
	}
	for _, rule := range data.Rules {
		if rule.ID == "" || rule.ParameterCode == "" {
			return nil, errors.New("masterdata: rule missing id or parameter")
		}
		if _, ok := c.rules[rule.ID]; ok {
			return nil, fmt.Errorf("masterdata: duplicate rule %s", rule.ID)
		}
		c.rules[rule.ID] = rule
		c.rulesByParameter[rule.ParameterCode] = append(c.rulesByParameter[rule.ParameterCode], rule)
	}
	for code := range c.rulesByParameter {
		list := c.rulesByParameter[code]
		sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	}
	return c, nil
}

// LoadedAt returns when the snapshot was built.
func (c *Catalog) LoadedAt() time.Time {
	if c == nil {
		return time.Time{}
	}
	return c.loadedAt
}

// Device looks up a wellhead.
func (c *Catalog) Device(id string) (Device, bool) {
	if c == nil {
		return Device{}, false
	}
	device, ok := c.devices[id]
	return device, ok
}

// Location looks up a location.
func (c *Catalog) Location(id string) (Location, bool) {
	if c == nil {
		return Location{}, false
	}
	location, ok := c.locations[id]
	return location, ok
}

// Field looks up a field.
func (c *Catalog) Field(id string) (Field, bool) {
	if c == nil {
		return Field{}, false
	}
	field, ok := c.fields[id]
	return field, ok
}

// Parameter looks up a parameter type by code.
func (c *Catalog) Parameter(code string) (ParameterType, bool) {
	if c == nil {
		return ParameterType{}, false
	}
	param, ok := c.parameters[code]
	return param, ok
}

// MappingActive reports whether the device carries an active mapping for code.
func (c *Catalog) MappingActive(deviceID, code string) bool {
	if c == nil {
		return false
	}
	return c.mappings[deviceID][code]
}

// Placement resolves a device with its location and field. Missing parents
// leave the corresponding zero value.
func (c *Catalog) Placement(deviceID string) (Placement, bool) {
	device, ok := c.Device(deviceID)
	if !ok {
		return Placement{}, false
	}
	placement := Placement{Device: device}
	if location, ok := c.Location(device.LocationID); ok {
		placement.Location = location
		if field, ok := c.Field(location.FieldID); ok {
			placement.Field = field
		}
	}
	return placement, true
}

// RulesForParameter returns every rule, active or not, targeting code.
func (c *Catalog) RulesForParameter(code string) []alarms.AlarmRule {
	if c == nil {
		return nil
	}
	list := c.rulesByParameter[code]
	out := make([]alarms.AlarmRule, len(list))
	copy(out, list)
	return out
}

// Rule looks up a rule by id.
func (c *Catalog) Rule(id string) (alarms.AlarmRule, bool) {
	if c == nil {
		return alarms.AlarmRule{}, false
	}
	rule, ok := c.rules[id]
	return rule, ok
}

// Parameters returns all parameter types ordered by code.
func (c *Catalog) Parameters() []ParameterType {
	if c == nil {
		return nil
	}
	out := make([]ParameterType, 0, len(c.parameters))
	for _, param := range c.parameters {
		out = append(out, param)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

// Devices returns all devices ordered by id.
func (c *Catalog) Devices() []Device {
	if c == nil {
		return nil
	}
	out := make([]Device, 0, len(c.devices))
	for _, device := range c.devices {
		out = append(out, device)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Counts summarizes the snapshot size.
func (c *Catalog) Counts() map[string]int {
	if c == nil {
		return map[string]int{}
	}
	mappings := 0
	for _, byCode := range c.mappings {
		mappings += len(byCode)
	}
	return map[string]int{
		"fields":     len(c.fields),
		"locations":  len(c.locations),
		"devices":    len(c.devices),
		"parameters": len(c.parameters),
		"mappings":   mappings,
		"rules":      len(c.rules),
	}
}
