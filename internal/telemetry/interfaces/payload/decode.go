// Package payload decodes reading payloads shared by the HTTP, MQTT and Kafka
// intake adapters.
package payload

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	telemetry "wellhead-monitor/internal/telemetry/domain"
)

// ErrMalformed reports a payload that cannot be decoded into readings.
var ErrMalformed = errors.New("payload: malformed")

// ErrEmpty reports a payload without readings.
var ErrEmpty = errors.New("payload: no readings")

// reading covers both the intake shape and one wellhead entry of a simulator
// batch.
type reading struct {
	DeviceID      string          `json:"deviceId"`
	ParameterCode string          `json:"parameterCode"`
	TimestampUTC  json.RawMessage `json:"timestampUtc"`
	Value         *float64        `json:"value"`

	WellheadID string              `json:"wellhead_id"`
	Timestamp  json.RawMessage     `json:"timestamp"`
	Parameters map[string]*float64 `json:"parameters"`
}

type envelope struct {
	reading
	Readings []reading `json:"readings"`
}

// Decode accepts a single reading object, {"readings": [...]}, a JSON array of
// readings, or a simulator batch
// [{"timestamp": ..., "wellhead_id": ..., "parameters": {code: value}}].
// Field-level problems such as a missing value are left to intake validation.
func Decode(raw []byte) ([]telemetry.ReadingInput, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, ErrEmpty
	}
	var items []reading
	switch raw[0] {
	case '[':
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
	case '{':
		var env envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		if env.Readings != nil {
			items = env.Readings
		} else {
			items = []reading{env.reading}
		}
	default:
		return nil, fmt.Errorf("%w: expected object or array", ErrMalformed)
	}

	var inputs []telemetry.ReadingInput
	for i, item := range items {
		expanded, err := item.inputs()
		if err != nil {
			return nil, fmt.Errorf("%w: item %d: %v", ErrMalformed, i, err)
		}
		inputs = append(inputs, expanded...)
	}
	if len(inputs) == 0 {
		return nil, ErrEmpty
	}
	return inputs, nil
}

func (r reading) inputs() ([]telemetry.ReadingInput, error) {
	if r.WellheadID != "" || r.Parameters != nil {
		ts, err := ParseTimestamp(r.Timestamp)
		if err != nil {
			return nil, err
		}
		codes := make([]string, 0, len(r.Parameters))
		for code := range r.Parameters {
			codes = append(codes, code)
		}
		sort.Strings(codes)
		out := make([]telemetry.ReadingInput, 0, len(codes))
		for _, code := range codes {
			out = append(out, telemetry.ReadingInput{
				DeviceID:      r.WellheadID,
				ParameterCode: code,
				TimestampUTC:  ts,
				Value:         r.Parameters[code],
			})
		}
		return out, nil
	}
	ts, err := ParseTimestamp(r.TimestampUTC)
	if err != nil {
		return nil, err
	}
	return []telemetry.ReadingInput{{
		DeviceID:      r.DeviceID,
		ParameterCode: r.ParameterCode,
		TimestampUTC:  ts,
		Value:         r.Value,
	}}, nil
}

var zonelessLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// ParseTimestamp reads an RFC 3339 string, an ISO string without zone (taken
// as UTC), or unix seconds/milliseconds. A missing timestamp yields the zero
// time so intake validation reports it.
func ParseTimestamp(raw json.RawMessage) (time.Time, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return time.Time{}, nil
	}
	if raw[0] != '"' {
		n, err := strconv.ParseInt(string(raw), 10, 64)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid timestamp %s", raw)
		}
		return fromEpoch(n)
	}
	var text string
	if err := json.Unmarshal(raw, &text); err != nil {
		return time.Time{}, err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return time.Time{}, nil
	}
	if ts, err := time.Parse(time.RFC3339Nano, text); err == nil {
		return ts.UTC(), nil
	}
	for _, layout := range zonelessLayouts {
		if ts, err := time.ParseInLocation(layout, text, time.UTC); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid timestamp %q", text)
}

func fromEpoch(value int64) (time.Time, error) {
	if value <= 0 {
		return time.Time{}, errors.New("invalid ts")
	}
	// milliseconds or seconds
	if value > 1_000_000_000_000 {
		return time.UnixMilli(value).UTC(), nil
	}
	return time.Unix(value, 0).UTC(), nil
}
