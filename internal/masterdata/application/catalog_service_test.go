package application

import (
	"context"
	"errors"
	"testing"

	masterdata "wellhead-monitor/internal/masterdata/domain"
)

func TestCatalogServiceRefreshSwapsSnapshot(t *testing.T) {
	devices := []masterdata.Device{{ID: "WH-001", LocationID: "L1"}}
	loader := masterdata.LoaderFunc(func(context.Context) (masterdata.CatalogData, error) {
		return masterdata.CatalogData{Devices: devices}, nil
	})
	service, err := NewCatalogService(loader)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	if service.Current() != nil {
		t.Fatalf("expected nil snapshot before refresh")
	}
	if _, err := service.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	first := service.Current()
	if _, ok := first.Device("WH-001"); !ok {
		t.Fatalf("device missing after refresh")
	}

	devices = append(devices, masterdata.Device{ID: "WH-002", LocationID: "L1"})
	if _, err := service.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if _, ok := service.Current().Device("WH-002"); !ok {
		t.Fatalf("new device missing after refresh")
	}
	if _, ok := first.Device("WH-002"); ok {
		t.Fatalf("old snapshot must not change")
	}
}

func TestCatalogServiceKeepsSnapshotOnError(t *testing.T) {
	fail := false
	loader := masterdata.LoaderFunc(func(context.Context) (masterdata.CatalogData, error) {
		if fail {
			return masterdata.CatalogData{}, errors.New("db down")
		}
		return masterdata.CatalogData{Devices: []masterdata.Device{{ID: "WH-001", LocationID: "L1"}}}, nil
	})
	service, err := NewCatalogService(loader)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	if _, err := service.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	fail = true
	if _, err := service.Refresh(context.Background()); err == nil {
		t.Fatalf("expected error")
	}
	if _, ok := service.Current().Device("WH-001"); !ok {
		t.Fatalf("previous snapshot lost")
	}
}

func TestNewCatalogServiceRejectsNilLoader(t *testing.T) {
	if _, err := NewCatalogService(nil); err == nil {
		t.Fatalf("expected error")
	}
}
