package application

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"wellhead-monitor/internal/analytics/domain/rollup"
	masterdata "wellhead-monitor/internal/masterdata/domain"
)

type definitionsFile struct {
	Rollups []definitionConfig `yaml:"rollups"`
}

type definitionConfig struct {
	Name            string   `yaml:"name"`
	BucketWidth     string   `yaml:"bucket_width"`
	Codes           []string `yaml:"codes"`
	DataTypes       []string `yaml:"data_types"`
	Categories      []string `yaml:"categories"`
	Dimensions      []string `yaml:"dimensions"`
	Aggregates      []string `yaml:"aggregates"`
	RefreshInterval string   `yaml:"refresh_interval"`
	Lookback        string   `yaml:"lookback"`
	Lag             string   `yaml:"lag"`
}

// LoadDefinitions reads rollup definitions from a yaml file. An empty path
// yields the built-in defaults.
func LoadDefinitions(path string) ([]rollup.Definition, error) {
	if path == "" {
		return DefaultDefinitions(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseDefinitions(data)
}

// ParseDefinitions decodes and validates yaml definitions.
func ParseDefinitions(data []byte) ([]rollup.Definition, error) {
	var file definitionsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, err
	}
	if len(file.Rollups) == 0 {
		return nil, fmt.Errorf("%w: no rollups configured", rollup.ErrInvalidDefinition)
	}
	defs := make([]rollup.Definition, 0, len(file.Rollups))
	for _, cfg := range file.Rollups {
		def, err := cfg.definition()
		if err != nil {
			return nil, err
		}
		if err := def.Validate(); err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	return defs, nil
}

func (c definitionConfig) definition() (rollup.Definition, error) {
	def := rollup.Definition{Name: c.Name}
	fields := []struct {
		name  string
		value string
		dst   *time.Duration
	}{
		{"bucket_width", c.BucketWidth, &def.BucketWidth},
		{"refresh_interval", c.RefreshInterval, &def.RefreshInterval},
		{"lookback", c.Lookback, &def.Lookback},
		{"lag", c.Lag, &def.Lag},
	}
	for _, field := range fields {
		if field.value == "" {
			continue
		}
		d, err := ParseDuration(field.value)
		if err != nil {
			return def, fmt.Errorf("%w: %s: %s: %v", rollup.ErrInvalidDefinition, c.Name, field.name, err)
		}
		*field.dst = d
	}
	def.Filter.Codes = c.Codes
	for _, v := range c.DataTypes {
		def.Filter.DataTypes = append(def.Filter.DataTypes, masterdata.DataType(v))
	}
	for _, v := range c.Categories {
		def.Filter.Categories = append(def.Filter.Categories, masterdata.Category(v))
	}
	for _, v := range c.Dimensions {
		def.Dimensions = append(def.Dimensions, rollup.Dimension(v))
	}
	for _, v := range c.Aggregates {
		def.Aggregates = append(def.Aggregates, rollup.Aggregate(v))
	}
	return def, nil
}

// ParseDuration extends time.ParseDuration with a whole-day suffix ("7d").
func ParseDuration(value string) (time.Duration, error) {
	value = strings.TrimSpace(value)
	if days, ok := strings.CutSuffix(value, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q", value)
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	return time.ParseDuration(value)
}

// DefaultDefinitions mirrors the maintained aggregates of the wellhead
// database: 15 minute pressure, hourly temperature and a daily field summary.
func DefaultDefinitions() []rollup.Definition {
	basic := []rollup.Aggregate{rollup.AggregateAvg, rollup.AggregateMin, rollup.AggregateMax, rollup.AggregateCount}
	return []rollup.Definition{
		{
			Name:            "pressure_15m",
			BucketWidth:     15 * time.Minute,
			Filter:          rollup.Filter{Codes: []string{"THP", "FLP", "CSP", "ANB", "DHP"}},
			Dimensions:      []rollup.Dimension{rollup.DimensionDevice, rollup.DimensionParameter},
			Aggregates:      basic,
			RefreshInterval: 5 * time.Minute,
			Lookback:        24 * time.Hour,
			Lag:             15 * time.Minute,
		},
		{
			Name:            "temperature_1h",
			BucketWidth:     time.Hour,
			Filter:          rollup.Filter{Categories: []masterdata.Category{masterdata.CategoryTemperature}},
			Dimensions:      []rollup.Dimension{rollup.DimensionDevice, rollup.DimensionParameter},
			Aggregates:      basic,
			RefreshInterval: 30 * time.Minute,
			Lookback:        7 * 24 * time.Hour,
			Lag:             time.Hour,
		},
		{
			Name:            "field_daily",
			BucketWidth:     24 * time.Hour,
			Filter:          rollup.Filter{DataTypes: []masterdata.DataType{masterdata.DataTypeFloat}},
			Dimensions:      []rollup.Dimension{rollup.DimensionField, rollup.DimensionLocation, rollup.DimensionParameter},
			Aggregates:      append(append([]rollup.Aggregate{}, basic...), rollup.AggregateStdDev),
			RefreshInterval: time.Hour,
			Lookback:        30 * 24 * time.Hour,
			Lag:             24 * time.Hour,
		},
	}
}
