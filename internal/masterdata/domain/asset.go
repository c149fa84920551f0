package masterdata

import (
	"errors"
	"time"
)

// Field is a production field grouping well locations.
type Field struct {
	ID        string    `json:"id" yaml:"id"`
	Name      string    `json:"name" yaml:"name"`
	Region    string    `json:"region,omitempty" yaml:"region"`
	CreatedAt time.Time `json:"created_at" yaml:"-"`
}

// Validate checks field invariants.
func (f Field) Validate() error {
	if f.ID == "" {
		return errors.New("field: empty id")
	}
	if f.Name == "" {
		return errors.New("field: empty name")
	}
	return nil
}

// Location is a well pad inside a field.
type Location struct {
	ID        string    `json:"id" yaml:"id"`
	FieldID   string    `json:"field_id" yaml:"field_id"`
	Name      string    `json:"name" yaml:"name"`
	Latitude  float64   `json:"latitude" yaml:"latitude"`
	Longitude float64   `json:"longitude" yaml:"longitude"`
	CreatedAt time.Time `json:"created_at" yaml:"-"`
}

// Validate checks location invariants.
func (l Location) Validate() error {
	if l.ID == "" {
		return errors.New("location: empty id")
	}
	if l.FieldID == "" {
		return errors.New("location: empty field id")
	}
	return nil
}

const (
	DeviceStatusActive   = "active"
	DeviceStatusInactive = "inactive"
)

// Device is a wellhead bound to a location.
type Device struct {
	ID         string    `json:"id" yaml:"id"`
	LocationID string    `json:"location_id" yaml:"location_id"`
	Name       string    `json:"name" yaml:"name"`
	DeviceType string    `json:"device_type" yaml:"device_type"`
	Status     string    `json:"status" yaml:"status"`
	CreatedAt  time.Time `json:"created_at" yaml:"-"`
}

// Validate checks device invariants.
func (d Device) Validate() error {
	if d.ID == "" {
		return errors.New("device: empty id")
	}
	if d.LocationID == "" {
		return errors.New("device: empty location id")
	}
	return nil
}

// ParameterMapping enables a parameter on a device.
type ParameterMapping struct {
	DeviceID      string `json:"device_id" yaml:"device_id"`
	ParameterCode string `json:"parameter_code" yaml:"parameter_code"`
	Active        bool   `json:"active" yaml:"active"`
}
