package common

import (
	"fmt"
	"time"
)

// FormatDuration renders a duration for progress lines: "1h 23m 45s",
// "12s", "250ms".
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	s := int(d.Seconds())
	switch {
	case s >= 3600:
		return fmt.Sprintf("%dh %dm %ds", s/3600, (s%3600)/60, s%60)
	case s >= 60:
		return fmt.Sprintf("%dm %ds", s/60, s%60)
	case s >= 1:
		return fmt.Sprintf("%ds", s)
	default:
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
}
