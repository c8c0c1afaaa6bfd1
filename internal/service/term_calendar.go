package service

import (
	"time"

	"github.com/noah-isme/campus-health-api/internal/models"
)

// Clock returns the current time. Services take one so tests can pin "today".
type Clock func() time.Time

func systemClock() time.Time { return time.Now() }

// ResolvePeriod maps a date onto the declared periods of a year. Periods are
// checked in declaration order and the first one whose start and end are both
// set and contain the date wins, so overlapping ranges resolve to the earlier
// declaration. Bounds are inclusive and compared by calendar day.
func ResolvePeriod(def *models.TermDefinition, date time.Time) (models.PeriodLabel, bool) {
	if def == nil {
		return "", false
	}
	day := calendarDay(date)
	for _, p := range def.Periods {
		if p.StartDate == nil || p.EndDate == nil {
			continue
		}
		if day.Before(calendarDay(*p.StartDate)) || day.After(calendarDay(*p.EndDate)) {
			continue
		}
		return p.Label, true
	}
	return "", false
}

// CurrentPeriod resolves today against the definition.
func CurrentPeriod(def *models.TermDefinition) (models.PeriodLabel, bool) {
	return ResolvePeriod(def, time.Now())
}

// TermCalendar resolves periods against an injected clock.
type TermCalendar struct {
	now Clock
}

// NewTermCalendar builds a calendar; a nil clock uses the system time.
func NewTermCalendar(now Clock) *TermCalendar {
	if now == nil {
		now = systemClock
	}
	return &TermCalendar{now: now}
}

// Resolve is ResolvePeriod.
func (c *TermCalendar) Resolve(def *models.TermDefinition, date time.Time) (models.PeriodLabel, bool) {
	return ResolvePeriod(def, date)
}

// Current resolves the calendar's "today".
func (c *TermCalendar) Current(def *models.TermDefinition) (models.PeriodLabel, bool) {
	return ResolvePeriod(def, c.now())
}

// Today returns the calendar's notion of now.
func (c *TermCalendar) Today() time.Time {
	return c.now()
}

func calendarDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
