package telemetry

import (
	"context"
	"math"
	"time"
)

// Reading is one accepted sensor sample. Boolean parameters are stored as 0 or 1.
type Reading struct {
	ID            string    `json:"id"`
	DeviceID      string    `json:"device_id"`
	ParameterCode string    `json:"parameter_code"`
	TS            time.Time `json:"ts"`
	Value         float64   `json:"value"`
	ReceivedAt    time.Time `json:"received_at"`
}

// Finite reports whether the value takes part in aggregates.
func (r Reading) Finite() bool {
	return !math.IsNaN(r.Value) && !math.IsInf(r.Value, 0)
}

// ReadingInput is the intake payload before validation.
type ReadingInput struct {
	DeviceID      string    `json:"deviceId"`
	ParameterCode string    `json:"parameterCode"`
	TimestampUTC  time.Time `json:"timestampUtc"`
	Value         *float64  `json:"value"`
}

// ReadingQuery selects readings in the half-open range [From, To).
type ReadingQuery struct {
	DeviceID       string
	ParameterCodes []string
	From           time.Time
	To             time.Time
	Limit          int
}

// Matches applies the query to a reading.
func (q ReadingQuery) Matches(r Reading) bool {
	if q.DeviceID != "" && r.DeviceID != q.DeviceID {
		return false
	}
	if len(q.ParameterCodes) > 0 {
		found := false
		for _, code := range q.ParameterCodes {
			if code == r.ParameterCode {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if !q.From.IsZero() && r.TS.Before(q.From) {
		return false
	}
	if !q.To.IsZero() && !r.TS.Before(q.To) {
		return false
	}
	return true
}

// ReadingRepository persists readings. Readings are unique per
// (device, parameter, ts): Insert keeps the first one and returns it with
// inserted=false on a repeat.
type ReadingRepository interface {
	Insert(ctx context.Context, reading Reading) (stored Reading, inserted bool, err error)
	ListRange(ctx context.Context, query ReadingQuery) ([]Reading, error)
}

// LatestValue is the most recent value for one parameter of a device.
type LatestValue struct {
	ParameterCode string    `json:"parameter_code"`
	Value         float64   `json:"value"`
	TS            time.Time `json:"ts"`
}

// LatestCache keeps the newest value per device and parameter.
type LatestCache interface {
	Put(ctx context.Context, reading Reading) error
	Latest(ctx context.Context, deviceID string) ([]LatestValue, error)
}

// Validate checks the input fields that do not need metadata.
func (in ReadingInput) Validate() error {
	if in.DeviceID == "" {
		return invalid("deviceId", "required")
	}
	if in.ParameterCode == "" {
		return invalid("parameterCode", "required")
	}
	if in.TimestampUTC.IsZero() {
		return invalid("timestampUtc", "required")
	}
	if in.Value == nil {
		return invalid("value", "required")
	}
	if math.IsNaN(*in.Value) || math.IsInf(*in.Value, 0) {
		return invalid("value", "must be finite")
	}
	return nil
}

// UnknownDevice reports a device missing from metadata.
func UnknownDevice(deviceID string) error {
	return invalid("deviceId", "unknown device "+deviceID)
}

// UnknownParameter reports a parameter code missing from metadata.
func UnknownParameter(code string) error {
	return invalid("parameterCode", "unknown parameter "+code)
}

// UnmappedParameter reports a device/parameter pair with no active mapping.
func UnmappedParameter(deviceID, code string) error {
	return invalid("parameterCode", "no active mapping for "+deviceID+"/"+code)
}
