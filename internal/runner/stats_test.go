package runner

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStatsAverageAndETA(t *testing.T) {
	s := NewStats()
	s.Record(3*time.Second, true)
	s.Record(5*time.Second, false)

	assert.Equal(t, 2, s.Attempted)
	assert.Equal(t, 1, s.Succeeded)
	assert.Equal(t, 1, s.Failed)
	assert.Equal(t, 4*time.Second, s.Average())
	assert.Equal(t, 32*time.Second, s.ETA(8))
}

func TestStatsETAWithoutSamples(t *testing.T) {
	s := NewStats()
	assert.Equal(t, time.Duration(0), s.Average())
	assert.Equal(t, time.Duration(0), s.ETA(10))
}

func TestStatsETANothingRemaining(t *testing.T) {
	s := NewStats()
	s.Record(2*time.Second, true)
	assert.Equal(t, time.Duration(0), s.ETA(0))
}
