package incident

import (
	"math"
	"time"
)

const (
	urgencyPerMinute = 2
	urgencyTimeCap   = 20
)

// Urgency is base(severity) + min(2 * whole minutes elapsed, 20).
func Urgency(severity Severity, elapsed time.Duration) int {
	var base int
	switch severity {
	case SeverityCritical:
		base = 100
	case SeverityHigh:
		base = 80
	case SeverityMedium:
		base = 60
	default:
		base = 40
	}
	if elapsed < 0 {
		elapsed = 0
	}
	minutes := int(math.Floor(elapsed.Minutes()))
	bonus := urgencyPerMinute * minutes
	if bonus > urgencyTimeCap {
		bonus = urgencyTimeCap
	}
	return base + bonus
}
