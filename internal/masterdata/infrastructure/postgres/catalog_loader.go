package postgres

import (
	"context"
	"errors"
	"fmt"

	alarms "wellhead-monitor/internal/alarms/domain"
	masterdata "wellhead-monitor/internal/masterdata/domain"
)

// RuleStore lists and saves alarm rules.
type RuleStore interface {
	ListRules(ctx context.Context) ([]alarms.AlarmRule, error)
	SaveRule(ctx context.Context, rule alarms.AlarmRule) error
}

// CatalogLoader builds CatalogData from the metadata tables.
type CatalogLoader struct {
	assets *AssetRepository
	rules  RuleStore
}

// NewCatalogLoader constructs a loader.
func NewCatalogLoader(assets *AssetRepository, rules RuleStore) (*CatalogLoader, error) {
	if assets == nil {
		return nil, errors.New("catalog loader: nil asset repository")
	}
	if rules == nil {
		return nil, errors.New("catalog loader: nil rule store")
	}
	return &CatalogLoader{assets: assets, rules: rules}, nil
}

// Load implements masterdata.Loader.
func (l *CatalogLoader) Load(ctx context.Context) (masterdata.CatalogData, error) {
	var data masterdata.CatalogData
	var err error
	if data.Fields, err = l.assets.ListFields(ctx); err != nil {
		return data, fmt.Errorf("load fields: %w", err)
	}
	if data.Locations, err = l.assets.ListLocations(ctx); err != nil {
		return data, fmt.Errorf("load locations: %w", err)
	}
	if data.Devices, err = l.assets.ListDevices(ctx); err != nil {
		return data, fmt.Errorf("load devices: %w", err)
	}
	if data.Parameters, err = l.assets.ListParameterTypes(ctx); err != nil {
		return data, fmt.Errorf("load parameter types: %w", err)
	}
	if data.Mappings, err = l.assets.ListMappings(ctx); err != nil {
		return data, fmt.Errorf("load mappings: %w", err)
	}
	if data.Rules, err = l.rules.ListRules(ctx); err != nil {
		return data, fmt.Errorf("load alarm rules: %w", err)
	}
	return data, nil
}

// Seed upserts data into the metadata tables in dependency order.
func (l *CatalogLoader) Seed(ctx context.Context, data masterdata.CatalogData) error {
	for _, field := range data.Fields {
		if err := l.assets.SaveField(ctx, field); err != nil {
			return fmt.Errorf("seed field %s: %w", field.ID, err)
		}
	}
	for _, location := range data.Locations {
		if err := l.assets.SaveLocation(ctx, location); err != nil {
			return fmt.Errorf("seed location %s: %w", location.ID, err)
		}
	}
	for _, device := range data.Devices {
		if err := l.assets.SaveDevice(ctx, device); err != nil {
			return fmt.Errorf("seed device %s: %w", device.ID, err)
		}
	}
	for _, param := range data.Parameters {
		if err := l.assets.SaveParameterType(ctx, param); err != nil {
			return fmt.Errorf("seed parameter %s: %w", param.Code, err)
		}
	}
	for _, mapping := range data.Mappings {
		if err := l.assets.SaveMapping(ctx, mapping); err != nil {
			return fmt.Errorf("seed mapping %s/%s: %w", mapping.DeviceID, mapping.ParameterCode, err)
		}
	}
	for _, rule := range data.Rules {
		if err := l.rules.SaveRule(ctx, rule); err != nil {
			return fmt.Errorf("seed rule %s: %w", rule.ID, err)
		}
	}
	return nil
}
