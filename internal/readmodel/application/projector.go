package application

import (
	"errors"
	"time"

	"wellhead-monitor/internal/analytics/domain/rollup"
	alarms "wellhead-monitor/internal/alarms/domain"
	masterdata "wellhead-monitor/internal/masterdata/domain"
	telemetry "wellhead-monitor/internal/telemetry/domain"
)

// CatalogSource exposes the current metadata snapshot.
type CatalogSource interface {
	Current() *masterdata.Catalog
}

// Placement carries the descriptive names of a device's position. IDs stay
// set even when the catalog no longer knows them.
type Placement struct {
	DeviceID     string `json:"device_id,omitempty"`
	DeviceName   string `json:"device_name,omitempty"`
	LocationID   string `json:"location_id,omitempty"`
	LocationName string `json:"location_name,omitempty"`
	FieldID      string `json:"field_id,omitempty"`
	FieldName    string `json:"field_name,omitempty"`
}

// Parameter carries the descriptive fields of a parameter type.
type Parameter struct {
	ParameterCode string              `json:"parameter_code,omitempty"`
	ParameterName string              `json:"parameter_name,omitempty"`
	Unit          string              `json:"unit,omitempty"`
	DataType      masterdata.DataType `json:"data_type,omitempty"`
	Category      masterdata.Category `json:"category,omitempty"`
}

// ReadingView is a reading joined with metadata.
type ReadingView struct {
	ID string `json:"id"`
	Placement
	Parameter
	TS         time.Time `json:"ts"`
	Value      float64   `json:"value"`
	ReceivedAt time.Time `json:"received_at"`
	OutOfRange bool      `json:"out_of_range"`
}

// AlarmView is an alarm event joined with its rule and metadata.
type AlarmView struct {
	alarms.AlarmEvent
	Placement       Placement       `json:"placement"`
	ParameterName   string          `json:"parameter_name,omitempty"`
	Unit            string          `json:"unit,omitempty"`
	RuleName        string          `json:"rule_name,omitempty"`
	Operator        alarms.Operator `json:"operator,omitempty"`
	Threshold       *float64        `json:"threshold,omitempty"`
	Status          string          `json:"status"`
	DurationSeconds *float64        `json:"duration_seconds,omitempty"`
}

// BucketView is a rollup bucket with the aggregates its definition exposes.
type BucketView struct {
	Definition  string    `json:"definition"`
	BucketStart time.Time `json:"bucket_start"`
	BucketEnd   time.Time `json:"bucket_end"`
	Placement
	Parameter
	Values map[rollup.Aggregate]float64 `json:"values"`
}

// LatestView is the newest value of one parameter on a device.
type LatestView struct {
	Parameter
	TS         time.Time `json:"ts"`
	Value      float64   `json:"value"`
	OutOfRange bool      `json:"out_of_range"`
}

const (
	StatusOpen    = "open"
	StatusCleared = "cleared"
)

// Projector joins facts with the current metadata snapshot on every call.
// It keeps no state of its own.
type Projector struct {
	catalog CatalogSource
}

// NewProjector constructs a projector.
func NewProjector(catalog CatalogSource) (*Projector, error) {
	if catalog == nil {
		return nil, errors.New("readmodel: nil catalog")
	}
	return &Projector{catalog: catalog}, nil
}

// Readings projects readings.
func (p *Projector) Readings(readings []telemetry.Reading) []ReadingView {
	catalog := p.catalog.Current()
	out := make([]ReadingView, 0, len(readings))
	for _, reading := range readings {
		param, known := catalog.Parameter(reading.ParameterCode)
		out = append(out, ReadingView{
			ID:         reading.ID,
			Placement:  placement(catalog, reading.DeviceID),
			Parameter:  parameter(catalog, reading.ParameterCode),
			TS:         reading.TS,
			Value:      reading.Value,
			ReceivedAt: reading.ReceivedAt,
			OutOfRange: known && !param.InNormalRange(reading.Value),
		})
	}
	return out
}

// Alarms projects alarm events.
func (p *Projector) Alarms(events []alarms.AlarmEvent) []AlarmView {
	catalog := p.catalog.Current()
	out := make([]AlarmView, 0, len(events))
	for _, event := range events {
		view := AlarmView{
			AlarmEvent: event,
			Placement:  placement(catalog, event.DeviceID),
			Status:     StatusOpen,
		}
		if param, ok := catalog.Parameter(event.ParameterCode); ok {
			view.ParameterName = param.DisplayName
			view.Unit = param.Unit
		}
		if rule, ok := catalog.Rule(event.RuleID); ok {
			threshold := rule.Threshold
			view.RuleName = rule.Name
			view.Operator = rule.Operator
			view.Threshold = &threshold
		}
		if event.ClearedAt != nil {
			view.Status = StatusCleared
			seconds := event.ClearedAt.Sub(event.TriggeredAt).Seconds()
			view.DurationSeconds = &seconds
		}
		out = append(out, view)
	}
	return out
}

// Buckets projects buckets of def.
func (p *Projector) Buckets(def rollup.Definition, buckets []rollup.Bucket) []BucketView {
	catalog := p.catalog.Current()
	out := make([]BucketView, 0, len(buckets))
	for _, bucket := range buckets {
		view := BucketView{
			Definition:  bucket.Definition,
			BucketStart: bucket.BucketStart,
			BucketEnd:   bucket.BucketEnd,
			Values:      make(map[rollup.Aggregate]float64, len(def.Aggregates)),
		}
		if bucket.DeviceID != "" {
			view.Placement = placement(catalog, bucket.DeviceID)
		} else {
			view.Placement = Placement{LocationID: bucket.LocationID, FieldID: bucket.FieldID}
			if location, ok := catalog.Location(bucket.LocationID); ok {
				view.LocationName = location.Name
			}
			if field, ok := catalog.Field(bucket.FieldID); ok {
				view.FieldName = field.Name
			}
		}
		if bucket.ParameterCode != "" {
			view.Parameter = parameter(catalog, bucket.ParameterCode)
		}
		for _, agg := range def.Aggregates {
			view.Values[agg] = bucket.Value(agg)
		}
		out = append(out, view)
	}
	return out
}

// Latest projects cached latest values.
func (p *Projector) Latest(values []telemetry.LatestValue) []LatestView {
	catalog := p.catalog.Current()
	out := make([]LatestView, 0, len(values))
	for _, value := range values {
		param, known := catalog.Parameter(value.ParameterCode)
		out = append(out, LatestView{
			Parameter:  parameter(catalog, value.ParameterCode),
			TS:         value.TS,
			Value:      value.Value,
			OutOfRange: known && !param.InNormalRange(value.Value),
		})
	}
	return out
}

// Device returns the placement of a device, false when unknown.
func (p *Projector) Device(deviceID string) (Placement, bool) {
	catalog := p.catalog.Current()
	if _, ok := catalog.Device(deviceID); !ok {
		return Placement{DeviceID: deviceID}, false
	}
	return placement(catalog, deviceID), true
}

func placement(catalog *masterdata.Catalog, deviceID string) Placement {
	out := Placement{DeviceID: deviceID}
	resolved, ok := catalog.Placement(deviceID)
	if !ok {
		return out
	}
	out.DeviceName = resolved.Device.Name
	out.LocationID = resolved.Device.LocationID
	out.LocationName = resolved.Location.Name
	out.FieldID = resolved.Location.FieldID
	out.FieldName = resolved.Field.Name
	return out
}

func parameter(catalog *masterdata.Catalog, code string) Parameter {
	out := Parameter{ParameterCode: code}
	if param, ok := catalog.Parameter(code); ok {
		out.ParameterName = param.DisplayName
		out.Unit = param.Unit
		out.DataType = param.DataType
		out.Category = param.Category
	}
	return out
}
