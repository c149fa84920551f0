package rollup

import "math"

// Stats is a mergeable summary of finite values. Mean and deviation come
// from count, sum and sum of squares so merging partial summaries in any
// order gives the same result.
type Stats struct {
	Count      int64   `json:"count"`
	Sum        float64 `json:"sum"`
	SumSquares float64 `json:"sum_squares"`
	Min        float64 `json:"min"`
	Max        float64 `json:"max"`
}

// Add folds one value in. NaN and infinities are ignored.
func (s *Stats) Add(value float64) {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return
	}
	if s.Count == 0 || value < s.Min {
		s.Min = value
	}
	if s.Count == 0 || value > s.Max {
		s.Max = value
	}
	s.Count++
	s.Sum += value
	s.SumSquares += value * value
}

// Merge folds other in.
func (s *Stats) Merge(other Stats) {
	if other.Count == 0 {
		return
	}
	if s.Count == 0 {
		*s = other
		return
	}
	s.Min = math.Min(s.Min, other.Min)
	s.Max = math.Max(s.Max, other.Max)
	s.Count += other.Count
	s.Sum += other.Sum
	s.SumSquares += other.SumSquares
}

// Mean is 0 for an empty summary.
func (s Stats) Mean() float64 {
	if s.Count == 0 {
		return 0
	}
	return s.Sum / float64(s.Count)
}

// StdDev is the sample standard deviation, 0 below two values.
func (s Stats) StdDev() float64 {
	if s.Count < 2 {
		return 0
	}
	n := float64(s.Count)
	variance := (s.SumSquares - s.Sum*s.Sum/n) / (n - 1)
	if variance < 0 {
		// rounding on near-constant series
		return 0
	}
	return math.Sqrt(variance)
}
