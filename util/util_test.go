package util_test

import (
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/nasa-jpl/camflow/util"
)

func ExampleFindClosest() {
	fmt.Println(util.FindClosest(2.9, []float64{1, 2, 4}))
	// Output: 1
}

func TestMergeErrors(t *testing.T) {
	if err := util.MergeErrors([]error{nil, nil}); err != nil {
		t.Errorf("expected nil got %v", err)
	}
	err := util.MergeErrors([]error{errors.New("a"), nil, errors.New("b")})
	if err == nil || err.Error() != "a\nb" {
		t.Errorf("expected a\\nb got %v", err)
	}
}

func TestClamp(t *testing.T) {
	if got := util.Clamp(5, 0, 1); got != 1 {
		t.Errorf("expected 1 got %v", got)
	}
	if got := util.ClampInt(-3, 1, 4); got != 1 {
		t.Errorf("expected 1 got %v", got)
	}
	if got := util.ClampDuration(time.Hour, 0, time.Minute); got != time.Minute {
		t.Errorf("expected 1m got %v", got)
	}
}

func TestSecsToDuration(t *testing.T) {
	if got := util.SecsToDuration(0.0015); got != 1500*time.Microsecond {
		t.Errorf("expected 1.5ms got %v", got)
	}
	tests := []struct {
		secs     float64
		expected time.Duration
	}{
		{1e20, math.MaxInt64},
		{math.Inf(1), math.MaxInt64},
		{-1e20, math.MinInt64},
		{math.NaN(), 0},
	}
	for _, tt := range tests {
		if got := util.SecsToDuration(tt.secs); got != tt.expected {
			t.Errorf("expected %v to saturate to %v got %v", tt.secs, tt.expected, got)
		}
	}
}

func TestFindClosestEmpty(t *testing.T) {
	if got := util.FindClosest(1, nil); got != -1 {
		t.Errorf("expected -1 got %d", got)
	}
	if got := util.MaxFloat([]float64{3, 9, 1}); got != 9 {
		t.Errorf("expected 9 got %v", got)
	}
}
