package models

import "time"

// RecordKind distinguishes the term-scoped record types.
type RecordKind string

const (
	RecordKindProfile RecordKind = "profile"
	RecordKindWaiver  RecordKind = "waiver"
)

// RecordKinds lists every kind subject to the one-per-term invariant.
var RecordKinds = []RecordKind{RecordKindProfile, RecordKindWaiver}

// TermScopedRecord is unique per (kind, subject, year, period) among
// non-deleted rows. A nil Period means unassigned and is a distinct key value.
type TermScopedRecord struct {
	ID        string       `db:"id" json:"id"`
	Kind      RecordKind   `db:"kind" json:"kind"`
	SubjectID string       `db:"subject_id" json:"subject_id"`
	YearID    string       `db:"year_id" json:"year_id"`
	Period    *PeriodLabel `db:"period" json:"period,omitempty"`
	Payload   Payload      `db:"payload" json:"payload"`
	Revision  int          `db:"revision" json:"revision"`
	CreatedAt time.Time    `db:"created_at" json:"created_at"`
	UpdatedAt time.Time    `db:"updated_at" json:"updated_at"`
	DeletedAt *time.Time   `db:"deleted_at" json:"deleted_at,omitempty"`
}

// Unassigned reports whether the record has no period yet.
func (r *TermScopedRecord) Unassigned() bool {
	return r.Period == nil
}

// Key returns the uniqueness key of the record.
func (r *TermScopedRecord) Key() RecordKey {
	return RecordKey{Kind: r.Kind, SubjectID: r.SubjectID, YearID: r.YearID, Period: r.Period}
}

// RecordKey identifies a term-scoped record.
type RecordKey struct {
	Kind      RecordKind   `db:"kind" json:"kind"`
	SubjectID string       `db:"subject_id" json:"subject_id"`
	YearID    string       `db:"year_id" json:"year_id"`
	Period    *PeriodLabel `db:"period" json:"period,omitempty"`
}

// MergeAction summarises what a reconciliation did.
type MergeAction string

const (
	MergeActionNone         MergeAction = "none"
	MergeActionMerged       MergeAction = "merged"
	MergeActionAssigned     MergeAction = "assigned"
	MergeActionManualReview MergeAction = "manual_review"
)

// Merge rules recorded per changed field.
const (
	MergeRuleCopied  = "copied"
	MergeRuleUnioned = "unioned"
)

// FieldChange records one field modified on the target during a merge.
type FieldChange struct {
	Field  string      `json:"field"`
	Rule   string      `json:"rule"`
	Before interface{} `json:"before"`
	After  interface{} `json:"after"`
}

// MergeReport is the audit summary of a reconciliation.
type MergeReport struct {
	Kind           RecordKind    `json:"kind"`
	SubjectID      string        `json:"subject_id"`
	YearID         string        `json:"year_id"`
	Action         MergeAction   `json:"action"`
	SourceID       string        `json:"source_id,omitempty"`
	TargetID       string        `json:"target_id,omitempty"`
	AssignedPeriod *PeriodLabel  `json:"assigned_period,omitempty"`
	Changes        []FieldChange `json:"changes,omitempty"`
	CandidateIDs   []string      `json:"candidate_ids,omitempty"`
	Note           string        `json:"note,omitempty"`
}

// ChangedFields lists the names of fields touched by a merge.
func (r *MergeReport) ChangedFields() []string {
	fields := make([]string, 0, len(r.Changes))
	for _, c := range r.Changes {
		fields = append(fields, c.Field)
	}
	return fields
}
