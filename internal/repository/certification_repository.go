package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/campus-health-api/internal/models"
	"github.com/noah-isme/campus-health-api/pkg/database"
	appErrors "github.com/noah-isme/campus-health-api/pkg/errors"
)

const documentColumns = `id, kind, subject_id, year_id, period, record_id, status, artifact_handle, reviewed_by, reviewed_at,
	issued_at, rejection_reason, rejected_revision, submitted_at, created_at, updated_at`

// CertificationRepository persists certification documents.
type CertificationRepository struct {
	db *sqlx.DB
}

// NewCertificationRepository constructs the repository.
func NewCertificationRepository(db *sqlx.DB) *CertificationRepository {
	return &CertificationRepository{db: db}
}

// Create inserts a pending document; the per-term unique index turns a
// duplicate into a conflict.
func (r *CertificationRepository) Create(ctx context.Context, doc *models.CertificationDocument) error {
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	if doc.Status == "" {
		doc.Status = models.CertificationPending
	}
	now := time.Now().UTC()
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	doc.UpdatedAt = now

	const query = `INSERT INTO certification_documents
	(id, kind, subject_id, year_id, period, record_id, status, created_at, updated_at)
	VALUES (:id, :kind, :subject_id, :year_id, :period, :record_id, :status, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, doc); err != nil {
		if database.IsUniqueViolation(err) {
			return appErrors.Wrap(err, appErrors.ErrConflict.Code, appErrors.ErrConflict.Status, "certification document already exists for term")
		}
		return fmt.Errorf("create certification document: %w", err)
	}
	return nil
}

// FindByID fetches a document by identifier.
func (r *CertificationRepository) FindByID(ctx context.Context, id string) (*models.CertificationDocument, error) {
	const query = `SELECT ` + documentColumns + ` FROM certification_documents WHERE id = $1`
	var doc models.CertificationDocument
	if err := r.db.GetContext(ctx, &doc, query, id); err != nil {
		return nil, err
	}
	return &doc, nil
}

// FindByKey fetches the document of a subject for a year and period.
func (r *CertificationRepository) FindByKey(ctx context.Context, subjectID, yearID string, period *models.PeriodLabel) (*models.CertificationDocument, error) {
	query := `SELECT ` + documentColumns + ` FROM certification_documents WHERE subject_id = $1 AND year_id = $2`
	args := []interface{}{subjectID, yearID}
	if period == nil {
		query += " AND period IS NULL"
	} else {
		query += " AND period = $3"
		args = append(args, *period)
	}
	var doc models.CertificationDocument
	if err := r.db.GetContext(ctx, &doc, query, args...); err != nil {
		return nil, err
	}
	return &doc, nil
}

// ListByStatus returns documents in the given status, oldest first.
func (r *CertificationRepository) ListByStatus(ctx context.Context, status models.CertificationStatus, limit int) ([]models.CertificationDocument, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query := fmt.Sprintf(`SELECT %s FROM certification_documents WHERE status = $1 ORDER BY created_at ASC LIMIT %d`, documentColumns, limit)
	var docs []models.CertificationDocument
	if err := r.db.SelectContext(ctx, &docs, query, status); err != nil {
		return nil, fmt.Errorf("list certification documents: %w", err)
	}
	return docs, nil
}

// MarkSubmitted stamps submitted_at on a pending document the first time it
// is submitted. It reports whether the stamp was written.
func (r *CertificationRepository) MarkSubmitted(ctx context.Context, id string, at time.Time) (bool, error) {
	const query = `UPDATE certification_documents SET submitted_at = $1, updated_at = $1
	WHERE id = $2 AND status = $3 AND submitted_at IS NULL`
	result, err := r.db.ExecContext(ctx, query, at, id, models.CertificationPending)
	if err != nil {
		return false, fmt.Errorf("mark document submitted: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("check submit rows: %w", err)
	}
	return rows > 0, nil
}

// UpdateTransition persists next only when the stored row still has status
// from and the updated_at the caller read. Losing the race yields
// sql.ErrNoRows, including when the row cycled back to the same status.
func (r *CertificationRepository) UpdateTransition(ctx context.Context, next *models.CertificationDocument, from models.CertificationStatus, lastUpdated time.Time) error {
	next.UpdatedAt = time.Now().UTC().Truncate(time.Microsecond)
	const query = `UPDATE certification_documents SET
	status = :status,
	artifact_handle = :artifact_handle,
	reviewed_by = :reviewed_by,
	reviewed_at = :reviewed_at,
	issued_at = :issued_at,
	rejection_reason = :rejection_reason,
	rejected_revision = :rejected_revision,
	updated_at = :updated_at
	WHERE id = :id AND status = :from_status AND updated_at = :last_updated`
	result, err := r.db.NamedExecContext(ctx, query, map[string]interface{}{
		"id":                next.ID,
		"status":            next.Status,
		"artifact_handle":   next.ArtifactHandle,
		"reviewed_by":       next.ReviewedBy,
		"reviewed_at":       next.ReviewedAt,
		"issued_at":         next.IssuedAt,
		"rejection_reason":  next.RejectionReason,
		"rejected_revision": next.RejectedRevision,
		"updated_at":        next.UpdatedAt,
		"from_status":       from,
		"last_updated":      lastUpdated,
	})
	if err != nil {
		return fmt.Errorf("update document status: %w", err)
	}
	return requireRows(result, "document transition")
}
