// Package util contains misc internal utilities.
package util

import (
	"math"
	"strings"
	"time"
)

// MergeErrors converts a slice of errors into a single error.  nil entries
// are skipped, and nil is returned if nothing is left
func MergeErrors(errs []error) error {
	var strs []string
	for _, err := range errs {
		if err != nil {
			strs = append(strs, err.Error())
		}
	}
	if len(strs) == 0 {
		return nil
	}
	return mergedError(strings.Join(strs, "\n"))
}

type mergedError string

func (e mergedError) Error() string { return string(e) }

// Clamp limits v to [low, high]
func Clamp(v, low, high float64) float64 {
	return math.Max(low, math.Min(v, high))
}

// ClampInt limits v to [low, high]
func ClampInt(v, low, high int) int {
	if v < low {
		return low
	}
	if v > high {
		return high
	}
	return v
}

// ClampDuration limits d to [low, high]
func ClampDuration(d, low, high time.Duration) time.Duration {
	if d < low {
		return low
	}
	if d > high {
		return high
	}
	return d
}

// SecsToDuration converts a floating point number of seconds to a duration.
// Values beyond the range of a duration saturate, and NaN is zero
func SecsToDuration(secs float64) time.Duration {
	ns := math.Round(secs * 1e9)
	switch {
	case math.IsNaN(ns):
		return 0
	case ns >= math.MaxInt64:
		return math.MaxInt64
	case ns <= math.MinInt64:
		return math.MinInt64
	}
	return time.Duration(ns)
}

// FindClosest returns the index of the element of vals nearest to v.
// Ties go to the lowest index.  -1 is returned if vals is empty
func FindClosest(v float64, vals []float64) int {
	best := -1
	dist := math.Inf(1)
	for i, x := range vals {
		if d := math.Abs(x - v); d < dist {
			best, dist = i, d
		}
	}
	return best
}

// MaxFloat returns the largest element of vals, or 0 if it is empty
func MaxFloat(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	m := vals[0]
	for _, v := range vals[1:] {
		if v > m {
			m = v
		}
	}
	return m
}
