package models

import "time"

// EventKind enumerates appointment types.
type EventKind string

const (
	EventKindConsultation EventKind = "consultation"
	EventKindDental       EventKind = "dental"
	EventKindLaboratory   EventKind = "laboratory"
	EventKindMedicalExam  EventKind = "medical_exam"
)

// ScheduledEvent is an appointment. Period is assigned once, after creation.
type ScheduledEvent struct {
	ID          string       `db:"id" json:"id"`
	SubjectID   string       `db:"subject_id" json:"subject_id"`
	Kind        EventKind    `db:"kind" json:"kind"`
	ScheduledAt time.Time    `db:"scheduled_at" json:"scheduled_at"`
	Period      *PeriodLabel `db:"period" json:"period,omitempty"`
	CreatedAt   time.Time    `db:"created_at" json:"created_at"`
}

// StampReport lists the outcome of a batch stamping run.
type StampReport struct {
	YearID     string   `json:"year_id"`
	Assigned   []string `json:"assigned"`
	Unassigned []string `json:"unassigned"`
	Skipped    []string `json:"skipped"`
}
