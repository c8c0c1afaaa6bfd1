package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/campus-health-api/internal/models"
	"github.com/noah-isme/campus-health-api/pkg/database"
	appErrors "github.com/noah-isme/campus-health-api/pkg/errors"
)

// ErrMergeBlocked is returned when certification documents still reference
// the source record after a merge attempted to move or drop them.
var ErrMergeBlocked = errors.New("certification document blocks merge")

const recordColumns = `id, kind, subject_id, year_id, period, payload, revision, created_at, updated_at, deleted_at`

// RecordRepository persists term-scoped records.
type RecordRepository struct {
	db *sqlx.DB
}

// NewRecordRepository constructs the repository.
func NewRecordRepository(db *sqlx.DB) *RecordRepository {
	return &RecordRepository{db: db}
}

// FindByKey loads the live record for a key. A nil period matches only
// unassigned rows.
func (r *RecordRepository) FindByKey(ctx context.Context, key models.RecordKey) (*models.TermScopedRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM term_scoped_records
	WHERE kind = $1 AND subject_id = $2 AND year_id = $3 AND deleted_at IS NULL`
	args := []interface{}{key.Kind, key.SubjectID, key.YearID}
	if key.Period == nil {
		query += " AND period IS NULL"
	} else {
		query += " AND period = $4"
		args = append(args, *key.Period)
	}
	var record models.TermScopedRecord
	if err := r.db.GetContext(ctx, &record, query+" LIMIT 1", args...); err != nil {
		return nil, err
	}
	return &record, nil
}

// FindByID loads a live record by identifier.
func (r *RecordRepository) FindByID(ctx context.Context, id string) (*models.TermScopedRecord, error) {
	const query = `SELECT ` + recordColumns + ` FROM term_scoped_records WHERE id = $1 AND deleted_at IS NULL`
	var record models.TermScopedRecord
	if err := r.db.GetContext(ctx, &record, query, id); err != nil {
		return nil, err
	}
	return &record, nil
}

// ListBySubjectYear returns every live record of a kind for the subject and
// year, oldest first.
func (r *RecordRepository) ListBySubjectYear(ctx context.Context, kind models.RecordKind, subjectID, yearID string) ([]models.TermScopedRecord, error) {
	const query = `SELECT ` + recordColumns + ` FROM term_scoped_records
	WHERE kind = $1 AND subject_id = $2 AND year_id = $3 AND deleted_at IS NULL
	ORDER BY created_at ASC, id ASC`
	var records []models.TermScopedRecord
	if err := r.db.SelectContext(ctx, &records, query, kind, subjectID, yearID); err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	return records, nil
}

// ListUnassignedKeys returns the distinct (kind, subject, year) groups of a
// year that still hold unassigned records.
func (r *RecordRepository) ListUnassignedKeys(ctx context.Context, yearID string) ([]models.RecordKey, error) {
	const query = `SELECT DISTINCT kind, subject_id, year_id FROM term_scoped_records
	WHERE year_id = $1 AND period IS NULL AND deleted_at IS NULL
	ORDER BY subject_id, kind`
	var keys []models.RecordKey
	if err := r.db.SelectContext(ctx, &keys, query, yearID); err != nil {
		return nil, fmt.Errorf("list unassigned record keys: %w", err)
	}
	return keys, nil
}

// Create inserts a record. A unique index violation is reported as a
// conflict so callers can re-read the winning row.
func (r *RecordRepository) Create(ctx context.Context, record *models.TermScopedRecord) error {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.Payload == nil {
		record.Payload = models.Payload{}
	}
	if record.Revision == 0 {
		record.Revision = 1
	}
	now := time.Now().UTC()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	record.UpdatedAt = now

	const query = `INSERT INTO term_scoped_records
	(id, kind, subject_id, year_id, period, payload, revision, created_at, updated_at)
	VALUES (:id, :kind, :subject_id, :year_id, :period, :payload, :revision, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, record); err != nil {
		if database.IsUniqueViolation(err) {
			return appErrors.Wrap(err, appErrors.ErrConflict.Code, appErrors.ErrConflict.Status, "record already exists for key")
		}
		return fmt.Errorf("create record: %w", err)
	}
	return nil
}

// UpdatePayload replaces the payload when the stored revision still matches
// expectedRevision and bumps the revision.
func (r *RecordRepository) UpdatePayload(ctx context.Context, id string, payload models.Payload, expectedRevision int) error {
	const query = `UPDATE term_scoped_records
	SET payload = $1, revision = revision + 1, updated_at = $2
	WHERE id = $3 AND revision = $4 AND deleted_at IS NULL`
	result, err := r.db.ExecContext(ctx, query, payload, time.Now().UTC(), id, expectedRevision)
	if err != nil {
		return fmt.Errorf("update record payload: %w", err)
	}
	return requireRows(result, "record payload")
}

// AssignPeriod stamps an unassigned record and its certification documents.
// Records that already carry a period are left untouched.
func (r *RecordRepository) AssignPeriod(ctx context.Context, id string, period models.PeriodLabel) error {
	now := time.Now().UTC()
	return database.WithTx(ctx, r.db, func(tx *sqlx.Tx) error {
		result, err := tx.ExecContext(ctx, `UPDATE term_scoped_records SET period = $1, updated_at = $2
		WHERE id = $3 AND period IS NULL AND deleted_at IS NULL`, period, now, id)
		if err != nil {
			if database.IsUniqueViolation(err) {
				return appErrors.Wrap(err, appErrors.ErrConflict.Code, appErrors.ErrConflict.Status, "record already exists for period")
			}
			return fmt.Errorf("assign record period: %w", err)
		}
		if err := requireRows(result, "record period"); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `UPDATE certification_documents SET period = $1, updated_at = $2 WHERE record_id = $3`, period, now, id); err != nil {
			if database.IsUniqueViolation(err) {
				return appErrors.Wrap(err, appErrors.ErrConflict.Code, appErrors.ErrConflict.Status, "certification document already exists for period")
			}
			return fmt.Errorf("assign document period: %w", err)
		}
		return nil
	})
}

// MergeParams groups the writes of a single reconciliation merge.
type MergeParams struct {
	SourceID         string
	TargetID         string
	TargetPeriod     models.PeriodLabel
	Payload          models.Payload
	ExpectedRevision int
	// SourceRevision is the source revision the merged payload was built from.
	SourceRevision   int
}

// Merge writes the merged payload to the target, soft-deletes the unassigned
// source and moves or drops its certification documents in one transaction.
// Either all of it commits or nothing does. A revision mismatch on either
// record yields sql.ErrNoRows.
func (r *RecordRepository) Merge(ctx context.Context, params MergeParams) error {
	now := time.Now().UTC()
	return database.WithTx(ctx, r.db, func(tx *sqlx.Tx) error {
		result, err := tx.ExecContext(ctx, `UPDATE term_scoped_records
		SET payload = $1, revision = revision + 1, updated_at = $2
		WHERE id = $3 AND revision = $4 AND deleted_at IS NULL`, params.Payload, now, params.TargetID, params.ExpectedRevision)
		if err != nil {
			return fmt.Errorf("merge target payload: %w", err)
		}
		if err := requireRows(result, "merge target"); err != nil {
			return err
		}

		result, err = tx.ExecContext(ctx, `UPDATE term_scoped_records SET deleted_at = $1, updated_at = $1
		WHERE id = $2 AND revision = $3 AND period IS NULL AND deleted_at IS NULL`, now, params.SourceID, params.SourceRevision)
		if err != nil {
			return fmt.Errorf("retire merge source: %w", err)
		}
		if err := requireRows(result, "merge source"); err != nil {
			return err
		}

		var targetDocs int
		if err := tx.GetContext(ctx, &targetDocs, `SELECT COUNT(*) FROM certification_documents WHERE record_id = $1`, params.TargetID); err != nil {
			return fmt.Errorf("count target documents: %w", err)
		}
		if targetDocs == 0 {
			if _, err := tx.ExecContext(ctx, `UPDATE certification_documents SET record_id = $1, period = $2, updated_at = $3
			WHERE record_id = $4`, params.TargetID, params.TargetPeriod, now, params.SourceID); err != nil {
				return fmt.Errorf("re-anchor documents: %w", err)
			}
		} else {
			if _, err := tx.ExecContext(ctx, `DELETE FROM certification_documents WHERE record_id = $1 AND status = $2`,
				params.SourceID, models.CertificationPending); err != nil {
				return fmt.Errorf("drop pending source documents: %w", err)
			}
		}

		var remaining int
		if err := tx.GetContext(ctx, &remaining, `SELECT COUNT(*) FROM certification_documents WHERE record_id = $1`, params.SourceID); err != nil {
			return fmt.Errorf("count source documents: %w", err)
		}
		if remaining > 0 {
			return ErrMergeBlocked
		}
		return nil
	})
}

// Purge hard-deletes a record together with its certification documents and
// returns the artifact handles those documents referenced.
func (r *RecordRepository) Purge(ctx context.Context, id string) ([]string, error) {
	var handles []string
	err := database.WithTx(ctx, r.db, func(tx *sqlx.Tx) error {
		var deleted []sql.NullString
		if err := tx.SelectContext(ctx, &deleted, `DELETE FROM certification_documents WHERE record_id = $1 RETURNING artifact_handle`, id); err != nil {
			return fmt.Errorf("purge documents: %w", err)
		}
		for _, h := range deleted {
			if h.Valid && h.String != "" {
				handles = append(handles, h.String)
			}
		}
		result, err := tx.ExecContext(ctx, `DELETE FROM term_scoped_records WHERE id = $1`, id)
		if err != nil {
			return fmt.Errorf("purge record: %w", err)
		}
		return requireRows(result, "purge record")
	})
	if err != nil {
		return nil, err
	}
	return handles, nil
}

func requireRows(result sql.Result, what string) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check %s rows: %w", what, err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}
