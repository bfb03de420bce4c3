package runner

import "time"

// Stats accumulates per-record outcomes and timings for one run.
type Stats struct {
	StartedAt time.Time
	Attempted int
	Succeeded int
	Failed    int
	Durations []time.Duration
}

// NewStats starts the run clock.
func NewStats() *Stats {
	return &Stats{StartedAt: time.Now()}
}

// Record registers one attempted record with its outcome and duration.
func (s *Stats) Record(d time.Duration, ok bool) {
	s.Attempted++
	if ok {
		s.Succeeded++
	} else {
		s.Failed++
	}
	s.Durations = append(s.Durations, d)
}

// Average returns the mean per-record duration, zero before the first
// attempt completes.
func (s *Stats) Average() time.Duration {
	if len(s.Durations) == 0 {
		return 0
	}
	var total time.Duration
	for _, d := range s.Durations {
		total += d
	}
	return total / time.Duration(len(s.Durations))
}

// ETA estimates the time left for remaining records at the observed
// average pace. Zero until at least one attempt has completed.
func (s *Stats) ETA(remaining int) time.Duration {
	avg := s.Average()
	if avg == 0 || remaining <= 0 {
		return 0
	}
	return avg * time.Duration(remaining)
}

// Elapsed is the wall time since the run started.
func (s *Stats) Elapsed() time.Duration {
	return time.Since(s.StartedAt)
}
