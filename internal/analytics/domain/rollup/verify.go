package rollup

import (
	"math"
	"sort"
)

// Mismatch is one bucket whose stored aggregates differ from a recomputation.
type Mismatch struct {
	Key       string    `json:"key"`
	Aggregate Aggregate `json:"aggregate"`
	Expected  float64   `json:"expected"`
	Actual    float64   `json:"actual"`
	// Missing is "stored" when only the recomputation has the bucket and
	// "computed" when only the store has it.
	Missing string `json:"missing,omitempty"`
}

// Verify compares stored buckets of def with expected ones. Counts, minima
// and maxima must match exactly; avg and stddev within tolerance, relative
// to the expected magnitude when it exceeds one.
func Verify(def Definition, expected, stored []Bucket, tolerance float64) []Mismatch {
	byKey := make(map[string]Bucket, len(stored))
	for _, bucket := range stored {
		byKey[bucket.Key()] = bucket
	}
	var out []Mismatch
	for _, want := range expected {
		key := want.Key()
		got, ok := byKey[key]
		if !ok {
			out = append(out, Mismatch{Key: key, Missing: "stored"})
			continue
		}
		delete(byKey, key)
		for _, agg := range def.Aggregates {
			e, a := want.Value(agg), got.Value(agg)
			if !aggregateEqual(agg, e, a, tolerance) {
				out = append(out, Mismatch{Key: key, Aggregate: agg, Expected: e, Actual: a})
			}
		}
	}
	for key := range byKey {
		out = append(out, Mismatch{Key: key, Missing: "computed"})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Key != out[j].Key {
			return out[i].Key < out[j].Key
		}
		return out[i].Aggregate < out[j].Aggregate
	})
	return out
}

func aggregateEqual(agg Aggregate, expected, actual, tolerance float64) bool {
	switch agg {
	case AggregateAvg, AggregateStdDev:
		scale := math.Max(1, math.Abs(expected))
		return math.Abs(expected-actual) <= tolerance*scale
	default:
		return expected == actual
	}
}
