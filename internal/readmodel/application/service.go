package application

import (
	"context"
	"errors"
	"time"

	telemetry "wellhead-monitor/internal/telemetry/domain"
)

const (
	defaultReadingLimit = 1000
	maxReadingLimit     = 10000
)

// ErrUnknownDevice is returned for devices missing from metadata.
var ErrUnknownDevice = errors.New("readmodel: unknown device")

// ReadingSource lists stored readings.
type ReadingSource interface {
	ListRange(ctx context.Context, query telemetry.ReadingQuery) ([]telemetry.Reading, error)
}

// DeviceLatest is the hot view of one device.
type DeviceLatest struct {
	Device Placement    `json:"device"`
	Values []LatestView `json:"values"`
}

// ReadingService serves enriched reading queries.
type ReadingService struct {
	readings  ReadingSource
	latest    telemetry.LatestCache
	projector *Projector
}

// NewReadingService constructs a service. latest may be nil, in which case
// the newest values are read from storage.
func NewReadingService(readings ReadingSource, latest telemetry.LatestCache, projector *Projector) (*ReadingService, error) {
	if readings == nil {
		return nil, errors.New("readmodel: nil reading source")
	}
	if projector == nil {
		return nil, errors.New("readmodel: nil projector")
	}
	return &ReadingService{readings: readings, latest: latest, projector: projector}, nil
}

// Readings lists readings of one device in [from, to).
func (s *ReadingService) Readings(ctx context.Context, query telemetry.ReadingQuery) ([]ReadingView, error) {
	if query.DeviceID == "" {
		return nil, errors.New("readmodel: device id required")
	}
	if !query.From.IsZero() && !query.To.IsZero() && !query.From.Before(query.To) {
		return nil, errors.New("readmodel: invalid time range")
	}
	switch {
	case query.Limit <= 0:
		query.Limit = defaultReadingLimit
	case query.Limit > maxReadingLimit:
		query.Limit = maxReadingLimit
	}
	readings, err := s.readings.ListRange(ctx, query)
	if err != nil {
		return nil, err
	}
	return s.projector.Readings(readings), nil
}

// Latest returns the newest value per parameter of a device.
func (s *ReadingService) Latest(ctx context.Context, deviceID string, now time.Time) (*DeviceLatest, error) {
	device, ok := s.projector.Device(deviceID)
	if !ok {
		return nil, ErrUnknownDevice
	}
	var values []telemetry.LatestValue
	if s.latest != nil {
		cached, err := s.latest.Latest(ctx, deviceID)
		if err != nil {
			return nil, err
		}
		values = cached
	}
	if len(values) == 0 {
		// cold cache: fall back to the last day of storage
		readings, err := s.readings.ListRange(ctx, telemetry.ReadingQuery{DeviceID: deviceID, From: now.Add(-24 * time.Hour)})
		if err != nil {
			return nil, err
		}
		values = newestPerParameter(readings)
	}
	return &DeviceLatest{Device: device, Values: s.projector.Latest(values)}, nil
}

func newestPerParameter(readings []telemetry.Reading) []telemetry.LatestValue {
	index := make(map[string]int)
	var out []telemetry.LatestValue
	for _, reading := range readings {
		value := telemetry.LatestValue{ParameterCode: reading.ParameterCode, Value: reading.Value, TS: reading.TS}
		if i, ok := index[reading.ParameterCode]; ok {
			if reading.TS.After(out[i].TS) {
				out[i] = value
			}
			continue
		}
		index[reading.ParameterCode] = len(out)
		out = append(out, value)
	}
	return out
}
