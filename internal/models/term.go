package models

import "time"

// YearStatus tracks the administrative lifecycle of an academic year.
type YearStatus string

const (
	YearStatusUpcoming  YearStatus = "upcoming"
	YearStatusActive    YearStatus = "active"
	YearStatusCompleted YearStatus = "completed"
)

// Valid reports whether the status is one of the known values.
func (s YearStatus) Valid() bool {
	switch s {
	case YearStatusUpcoming, YearStatusActive, YearStatusCompleted:
		return true
	}
	return false
}

// PeriodLabel names a sub-range of a year such as a semester.
type PeriodLabel string

const (
	PeriodFirst  PeriodLabel = "first"
	PeriodSecond PeriodLabel = "second"
	PeriodSummer PeriodLabel = "summer"
)

// CanonicalPeriods lists period labels in declaration order.
var CanonicalPeriods = []PeriodLabel{PeriodFirst, PeriodSecond, PeriodSummer}

// Valid reports whether the label is a canonical period.
func (p PeriodLabel) Valid() bool {
	return p.Position() >= 0
}

// Position returns the canonical declaration index of the label, or -1.
func (p PeriodLabel) Position() int {
	for i, label := range CanonicalPeriods {
		if label == p {
			return i
		}
	}
	return -1
}

// PeriodPtr is a helper for optional period arguments.
func PeriodPtr(p PeriodLabel) *PeriodLabel {
	return &p
}

// PeriodString renders an optional period, using "unassigned" for nil.
func PeriodString(p *PeriodLabel) string {
	if p == nil {
		return "unassigned"
	}
	return string(*p)
}

// Year is a bounded academic cycle such as "2025-2026".
type Year struct {
	ID        string     `db:"id" json:"id"`
	Label     string     `db:"label" json:"label"`
	StartDate time.Time  `db:"start_date" json:"start_date"`
	EndDate   time.Time  `db:"end_date" json:"end_date"`
	Status    YearStatus `db:"status" json:"status"`
	IsCurrent bool       `db:"is_current" json:"is_current"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt time.Time  `db:"updated_at" json:"updated_at"`
}

// PeriodRange is an optional date range attached to a year. Either bound may
// be missing and ranges of the same year may overlap.
type PeriodRange struct {
	YearID    string      `db:"year_id" json:"year_id"`
	Label     PeriodLabel `db:"label" json:"label"`
	Position  int         `db:"position" json:"position"`
	StartDate *time.Time  `db:"start_date" json:"start_date,omitempty"`
	EndDate   *time.Time  `db:"end_date" json:"end_date,omitempty"`
}

// TermDefinition is a year together with its declared periods in order.
type TermDefinition struct {
	Year    Year          `json:"year"`
	Periods []PeriodRange `json:"periods"`
}

// YearFilter defines filters supported by year listings.
type YearFilter struct {
	Status   YearStatus
	Page     int
	PageSize int
}

// Pagination contains pagination metadata returned in list responses.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
}
