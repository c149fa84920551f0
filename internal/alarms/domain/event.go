package alarms

import "time"

// PairKey identifies the (device, rule) pair an event belongs to.
type PairKey struct {
	DeviceID string
	RuleID   string
}

func (k PairKey) String() string {
	return k.DeviceID + "|" + k.RuleID
}

// AlarmEvent is one open or closed episode for a (device, rule) pair.
type AlarmEvent struct {
	ID               string     `json:"id"`
	RuleID           string     `json:"rule_id"`
	DeviceID         string     `json:"device_id"`
	ParameterCode    string     `json:"parameter_code"`
	Severity         string     `json:"severity"`
	TriggeredAt      time.Time  `json:"triggered_at"`
	TriggeredValue   float64    `json:"triggered_value"`
	TriggerReadingID string     `json:"trigger_reading_id,omitempty"`
	ClearedAt        *time.Time `json:"cleared_at,omitempty"`
	ClearedValue     *float64   `json:"cleared_value,omitempty"`
	ClearReadingID   string     `json:"clear_reading_id,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// Key returns the pair key of the event.
func (e AlarmEvent) Key() PairKey {
	return PairKey{DeviceID: e.DeviceID, RuleID: e.RuleID}
}

// IsOpen reports whether the event has not been cleared.
func (e AlarmEvent) IsOpen() bool {
	return e.ClearedAt == nil
}

// Clearance describes the reading that closed an event.
type Clearance struct {
	At        time.Time
	Value     float64
	ReadingID string
}

type TransitionType string

const (
	TransitionOpened TransitionType = "opened"
	TransitionClosed TransitionType = "closed"
)

// Transition is a state change produced by evaluating one reading against one rule.
type Transition struct {
	Type  TransitionType `json:"type"`
	Event AlarmEvent     `json:"event"`
}

// EventFilter narrows event queries. Zero values mean no constraint.
type EventFilter struct {
	DeviceID      string
	RuleID        string
	ParameterCode string
	Severity      string
	OpenOnly      bool
	From          time.Time
	To            time.Time
	Limit         int
}

// Matches applies the filter to an event. From/To bound TriggeredAt, half-open.
func (f EventFilter) Matches(e AlarmEvent) bool {
	if f.DeviceID != "" && e.DeviceID != f.DeviceID {
		return false
	}
	if f.RuleID != "" && e.RuleID != f.RuleID {
		return false
	}
	if f.ParameterCode != "" && e.ParameterCode != f.ParameterCode {
		return false
	}
	if f.Severity != "" && e.Severity != f.Severity {
		return false
	}
	if f.OpenOnly && !e.IsOpen() {
		return false
	}
	if !f.From.IsZero() && e.TriggeredAt.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && !e.TriggeredAt.Before(f.To) {
		return false
	}
	return true
}
