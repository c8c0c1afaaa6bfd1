package models

import "time"

// CertificationStatus captures workflow states for certification documents.
type CertificationStatus string

const (
	CertificationPending  CertificationStatus = "pending"
	CertificationVerified CertificationStatus = "verified"
	CertificationIssued   CertificationStatus = "issued"
	CertificationRejected CertificationStatus = "rejected"
)

var certificationTransitions = map[CertificationStatus][]CertificationStatus{
	CertificationPending:  {CertificationVerified, CertificationRejected},
	CertificationVerified: {CertificationIssued, CertificationRejected},
	CertificationRejected: {CertificationPending},
}

// CanTransitionTo reports whether next is reachable from s in one step.
func (s CertificationStatus) CanTransitionTo(next CertificationStatus) bool {
	for _, allowed := range certificationTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// DocumentKind identifies a certification document type.
type DocumentKind string

const (
	DocumentKindHealthCertificate DocumentKind = "health_certificate"
)

// DocumentRequirements lists the payload fields that must be filled before a
// document of the given kind can be verified.
var DocumentRequirements = map[DocumentKind][]string{
	DocumentKindHealthCertificate: {
		"first_name",
		"last_name",
		"birth_date",
		"sex",
		"blood_type",
		"photo",
		"emergency_contact_name",
		"emergency_contact_phone",
		"chest_xray_result",
		"lab_results",
	},
}

// CertificationDocument is unique per (subject, year, period) and shares its
// payload with the owning profile record.
type CertificationDocument struct {
	ID               string              `db:"id" json:"id"`
	Kind             DocumentKind        `db:"kind" json:"kind"`
	SubjectID        string              `db:"subject_id" json:"subject_id"`
	YearID           string              `db:"year_id" json:"year_id"`
	Period           *PeriodLabel        `db:"period" json:"period,omitempty"`
	RecordID         string              `db:"record_id" json:"record_id"`
	Status           CertificationStatus `db:"status" json:"status"`
	ArtifactHandle   *string             `db:"artifact_handle" json:"artifact_handle,omitempty"`
	ReviewedBy       *string             `db:"reviewed_by" json:"reviewed_by,omitempty"`
	ReviewedAt       *time.Time          `db:"reviewed_at" json:"reviewed_at,omitempty"`
	IssuedAt         *time.Time          `db:"issued_at" json:"issued_at,omitempty"`
	RejectionReason  *string             `db:"rejection_reason" json:"rejection_reason,omitempty"`
	RejectedRevision *int                `db:"rejected_revision" json:"rejected_revision,omitempty"`
	SubmittedAt      *time.Time          `db:"submitted_at" json:"submitted_at,omitempty"`
	CreatedAt        time.Time           `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time           `db:"updated_at" json:"updated_at"`
}
