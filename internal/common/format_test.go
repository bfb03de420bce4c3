package common

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		input    time.Duration
		expected string
	}{
		{250 * time.Millisecond, "250ms"},
		{12 * time.Second, "12s"},
		{12*time.Minute + 5*time.Second, "12m 5s"},
		{time.Hour + 23*time.Minute + 45*time.Second, "1h 23m 45s"},
		{-3 * time.Second, "0ms"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, FormatDuration(tt.input), "input %v", tt.input)
	}
}
