package model

import (
	"math"
	"testing"
	"time"

	"gotest.tools/v3/assert"
)

func TestMbps(t *testing.T) {
	tests := []struct {
		name  string
		bytes int64
		d     time.Duration
		want  float64
	}{
		{"5MiB-in-1s", 5 << 20, time.Second, 41.94304},
		{"1MB-in-8s", 1000000, 8 * time.Second, 1},
		{"zero-bytes", 0, time.Second, 0},
		{"zero-duration", 1 << 20, 0, 0},
		{"negative-duration", 1 << 20, -time.Second, 0},
		{"negative-bytes", -1, time.Second, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Mbps(tt.bytes, tt.d)
			assert.Assert(t, !math.IsNaN(got) && !math.IsInf(got, 0))
			assert.Assert(t, got >= 0)
			assert.Assert(t, math.Abs(got-tt.want) < 1e-9, "got %v want %v", got, tt.want)
		})
	}
}

func TestSample(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s := &Sample{NumBytes: 2500000, Start: start, End: start.Add(500 * time.Millisecond)}
	assert.Equal(t, s.Elapsed(), 500*time.Millisecond)
	assert.Equal(t, s.Rate(), 40.0)
	assert.Equal(t, s.Millis(), 500.0)

	backwards := &Sample{NumBytes: 10, Start: start, End: start.Add(-time.Second)}
	assert.Equal(t, backwards.Elapsed(), time.Duration(0))
	assert.Equal(t, backwards.Rate(), 0.0)
}

func TestRound2(t *testing.T) {
	assert.Equal(t, Round2(41.94304), 41.94)
	assert.Equal(t, Round2(1.234), 1.23)
}
