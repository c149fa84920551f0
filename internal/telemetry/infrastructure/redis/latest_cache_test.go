package redis

import (
	"testing"
	"time"
)

func TestDecodeEntry(t *testing.T) {
	value, ok := decodeEntry("THP", "1740823200000|3500.5")
	if !ok {
		t.Fatalf("expected decode")
	}
	want := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	if !value.TS.Equal(want) || value.Value != 3500.5 || value.ParameterCode != "THP" {
		t.Fatalf("unexpected value: %+v", value)
	}
	for _, raw := range []string{"", "abc|1", "1|abc", "123"} {
		if _, ok := decodeEntry("THP", raw); ok {
			t.Fatalf("expected %q to be rejected", raw)
		}
	}
}

func TestNewLatestCacheRejectsNilClient(t *testing.T) {
	if _, err := NewLatestCache(nil); err == nil {
		t.Fatalf("expected error")
	}
}
