package repository

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/campus-health-api/internal/models"
	appErrors "github.com/noah-isme/campus-health-api/pkg/errors"
)

func newRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

var recordRowColumns = []string{"id", "kind", "subject_id", "year_id", "period", "payload", "revision", "created_at", "updated_at", "deleted_at"}

func TestRecordRepositoryFindByKeyUnassigned(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewRecordRepository(db)
	now := time.Now()
	rows := sqlmock.NewRows(recordRowColumns).
		AddRow("rec-1", "profile", "sub-1", "year-1", nil, []byte(`{"blood_type":"O+"}`), 2, now, now, nil)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, kind, subject_id") + ".*period IS NULL").
		WithArgs("profile", "sub-1", "year-1").
		WillReturnRows(rows)

	record, err := repo.FindByKey(context.Background(), models.RecordKey{Kind: models.RecordKindProfile, SubjectID: "sub-1", YearID: "year-1"})
	require.NoError(t, err)
	require.True(t, record.Unassigned())
	require.Equal(t, "O+", record.Payload["blood_type"])
	require.Equal(t, 2, record.Revision)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordRepositoryFindByKeyWithPeriod(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewRecordRepository(db)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, kind, subject_id") + ".*period = \\$4").
		WithArgs("profile", "sub-1", "year-1", "first").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.FindByKey(context.Background(), models.RecordKey{
		Kind:      models.RecordKindProfile,
		SubjectID: "sub-1",
		YearID:    "year-1",
		Period:    models.PeriodPtr(models.PeriodFirst),
	})
	require.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordRepositoryCreateMapsUniqueViolation(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewRecordRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO term_scoped_records")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	record := &models.TermScopedRecord{Kind: models.RecordKindProfile, SubjectID: "sub-1", YearID: "year-1"}
	require.NoError(t, repo.Create(context.Background(), record))
	require.NotEmpty(t, record.ID)
	require.Equal(t, 1, record.Revision)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO term_scoped_records")).
		WillReturnError(&pq.Error{Code: "23505", Message: "duplicate key value violates unique constraint"})
	err := repo.Create(context.Background(), &models.TermScopedRecord{Kind: models.RecordKindProfile, SubjectID: "sub-1", YearID: "year-1"})
	require.ErrorIs(t, err, appErrors.ErrConflict)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordRepositoryUpdatePayloadRevisionMismatch(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewRecordRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE term_scoped_records")).
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), "rec-1", 3).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.UpdatePayload(context.Background(), "rec-1", models.Payload{"sex": "F"}, 3))

	mock.ExpectExec(regexp.QuoteMeta("UPDATE term_scoped_records")).
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), "rec-1", 3).
		WillReturnResult(sqlmock.NewResult(0, 0))
	err := repo.UpdatePayload(context.Background(), "rec-1", models.Payload{"sex": "F"}, 3)
	require.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordRepositoryAssignPeriodOnlyWhenUnassigned(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewRecordRepository(db)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE term_scoped_records SET period")).
		WithArgs("second", sqlmock.AnyArg(), "rec-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE certification_documents SET period")).
		WithArgs("second", sqlmock.AnyArg(), "rec-1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()
	require.NoError(t, repo.AssignPeriod(context.Background(), "rec-1", models.PeriodSecond))

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE term_scoped_records SET period")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()
	err := repo.AssignPeriod(context.Background(), "rec-1", models.PeriodSecond)
	require.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordRepositoryMergeReanchorsDocument(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewRecordRepository(db)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE term_scoped_records")+".*SET payload").
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), "target", 1).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE term_scoped_records SET deleted_at")).
		WithArgs(sqlmock.AnyArg(), "source", 2).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM certification_documents")).
		WithArgs("target").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE certification_documents SET record_id")).
		WithArgs("target", "first", sqlmock.AnyArg(), "source").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM certification_documents")).
		WithArgs("source").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectCommit()

	err := repo.Merge(context.Background(), MergeParams{
		SourceID:         "source",
		TargetID:         "target",
		TargetPeriod:     models.PeriodFirst,
		Payload:          models.Payload{"blood_type": "O+"},
		ExpectedRevision: 1,
		SourceRevision:   2,
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordRepositoryAssignPeriodDocumentConflictRollsBack(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewRecordRepository(db)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE term_scoped_records SET period")).
		WithArgs("second", sqlmock.AnyArg(), "rec-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE certification_documents SET period")).
		WithArgs("second", sqlmock.AnyArg(), "rec-1").
		WillReturnError(&pq.Error{Code: "23505", Message: "duplicate key value violates unique constraint"})
	mock.ExpectRollback()

	err := repo.AssignPeriod(context.Background(), "rec-1", models.PeriodSecond)
	require.ErrorIs(t, err, appErrors.ErrConflict)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordRepositoryMergeStaleSourceRollsBack(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewRecordRepository(db)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE term_scoped_records")+".*SET payload").
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), "target", 1).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE term_scoped_records SET deleted_at")+".*revision = \\$3").
		WithArgs(sqlmock.AnyArg(), "source", 4).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := repo.Merge(context.Background(), MergeParams{
		SourceID:         "source",
		TargetID:         "target",
		TargetPeriod:     models.PeriodFirst,
		Payload:          models.Payload{"phone": "555"},
		ExpectedRevision: 1,
		SourceRevision:   4,
	})
	require.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordRepositoryMergeBlockedByDocumentRollsBack(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewRecordRepository(db)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE term_scoped_records")+".*SET payload").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE term_scoped_records SET deleted_at")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM certification_documents")).
		WithArgs("target").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM certification_documents")).
		WithArgs("source", "pending").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM certification_documents")).
		WithArgs("source").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectRollback()

	err := repo.Merge(context.Background(), MergeParams{SourceID: "source", TargetID: "target", TargetPeriod: models.PeriodFirst, ExpectedRevision: 1})
	require.True(t, errors.Is(err, ErrMergeBlocked))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordRepositoryPurgeReturnsArtifactHandles(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewRecordRepository(db)
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("DELETE FROM certification_documents")).
		WithArgs("rec-1").
		WillReturnRows(sqlmock.NewRows([]string{"artifact_handle"}).AddRow("certificates/y/doc.pdf").AddRow(nil))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM term_scoped_records")).
		WithArgs("rec-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	handles, err := repo.Purge(context.Background(), "rec-1")
	require.NoError(t, err)
	require.Equal(t, []string{"certificates/y/doc.pdf"}, handles)
	require.NoError(t, mock.ExpectationsWereMet())
}
