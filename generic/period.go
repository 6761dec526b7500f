package generic

import (
	"fmt"
	"time"
)

// =============================================================================
// PERIOD - The window periodProgress is measured against
// =============================================================================

// Period is a half-open time window [Start, End).
type Period struct {
	Start time.Time
	End   time.Time
}

// Contains returns true if t is within [Start, End).
func (p Period) Contains(t time.Time) bool {
	return !t.Before(p.Start) && t.Before(p.End)
}

// String returns a string representation of the period.
func (p Period) String() string {
	return "[" + p.Start.Format(time.RFC3339) + ", " + p.End.Format(time.RFC3339) + ")"
}

// WeekOf returns the ISO week (Monday 00:00 UTC, seven days) containing t.
func WeekOf(t time.Time) Period {
	t = t.UTC()
	// Monday is 0
	offset := (int(t.Weekday()) + 6) % 7
	start := time.Date(t.Year(), t.Month(), t.Day()-offset, 0, 0, 0, 0, time.UTC)
	return Period{Start: start, End: start.AddDate(0, 0, 7)}
}

// WeekKey names the ISO week of p.Start, e.g. "2025-W11".
func (p Period) WeekKey() string {
	year, week := p.Start.ISOWeek()
	return fmt.Sprintf("%d-W%02d", year, week)
}

// NextPeriod returns the period following this one
func (p Period) NextPeriod() Period {
	d := p.End.Sub(p.Start)
	return Period{Start: p.End, End: p.End.Add(d)}
}

// PreviousPeriod returns the period before this one
func (p Period) PreviousPeriod() Period {
	d := p.End.Sub(p.Start)
	return Period{Start: p.Start.Add(-d), End: p.Start}
}
