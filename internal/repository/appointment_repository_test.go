package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/campus-health-api/internal/models"
)

func TestAppointmentRepositoryAssignPeriodIsWriteOnce(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewAppointmentRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE scheduled_events SET period = $1 WHERE id = $2 AND period IS NULL")).
		WithArgs("first", "evt-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE scheduled_events SET period = $1 WHERE id = $2 AND period IS NULL")).
		WithArgs("second", "evt-1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	assigned, err := repo.AssignPeriod(context.Background(), "evt-1", models.PeriodFirst)
	require.NoError(t, err)
	require.True(t, assigned)

	assigned, err = repo.AssignPeriod(context.Background(), "evt-1", models.PeriodSecond)
	require.NoError(t, err)
	require.False(t, assigned)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAppointmentRepositoryListUnassignedBetween(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewAppointmentRepository(db)
	from := time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	at := time.Date(2025, 9, 3, 9, 0, 0, 0, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, subject_id, kind, scheduled_at, period, created_at FROM scheduled_events")).
		WithArgs(from, to).
		WillReturnRows(sqlmock.NewRows([]string{"id", "subject_id", "kind", "scheduled_at", "period", "created_at"}).
			AddRow("evt-1", "sub-1", "dental", at, nil, at))

	events, err := repo.ListUnassignedBetween(context.Background(), from, to)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Nil(t, events[0].Period)
	require.Equal(t, models.EventKindDental, events[0].Kind)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAppointmentRepositoryCreateKeepsStampedPeriod(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewAppointmentRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO scheduled_events")).
		WillReturnResult(sqlmock.NewResult(1, 1))

	event := &models.ScheduledEvent{SubjectID: "sub-1", Kind: models.EventKindConsultation, ScheduledAt: time.Now(), Period: models.PeriodPtr(models.PeriodSummer)}
	require.NoError(t, repo.Create(context.Background(), event))
	require.NotEmpty(t, event.ID)
	require.Equal(t, models.PeriodSummer, *event.Period)
	require.NoError(t, mock.ExpectationsWereMet())
}
