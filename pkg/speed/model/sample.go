package model

import (
	"math"
	"time"

	"github.com/robertodauria/speedcheck/pkg/speed/spec"
)

// Sample is a single timed transfer. Start is taken immediately before the
// request is issued, End once the transfer is complete.
type Sample struct {
	Kind     spec.SubtestKind
	NumBytes int64
	Start    time.Time
	End      time.Time
}

// Elapsed returns End - Start, or zero if the clock went backwards.
func (s *Sample) Elapsed() time.Duration {
	d := s.End.Sub(s.Start)
	if d < 0 {
		return 0
	}
	return d
}

// Rate returns the sample's throughput in megabits per second.
func (s *Sample) Rate() float64 {
	return Mbps(s.NumBytes, s.Elapsed())
}

// Millis returns the elapsed time in milliseconds.
func (s *Sample) Millis() float64 {
	return float64(s.Elapsed()) / float64(time.Millisecond)
}

// Mbps converts a byte count transferred over d into megabits per second.
// It returns 0 when either the byte count or the duration is not positive.
func Mbps(numBytes int64, d time.Duration) float64 {
	if numBytes <= 0 || d <= 0 {
		return 0
	}
	rate := float64(numBytes) * 8 / d.Seconds() / 1e6
	if math.IsNaN(rate) || math.IsInf(rate, 0) {
		return 0
	}
	return rate
}

// Round2 rounds v to two decimal places.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}
