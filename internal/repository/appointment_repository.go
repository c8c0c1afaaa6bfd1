package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/campus-health-api/internal/models"
)

const eventColumns = `id, subject_id, kind, scheduled_at, period, created_at`

// AppointmentRepository persists scheduled events.
type AppointmentRepository struct {
	db *sqlx.DB
}

// NewAppointmentRepository constructs the repository.
func NewAppointmentRepository(db *sqlx.DB) *AppointmentRepository {
	return &AppointmentRepository{db: db}
}

// Create inserts an event with whatever period it was stamped with.
func (r *AppointmentRepository) Create(ctx context.Context, event *models.ScheduledEvent) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO scheduled_events (id, subject_id, kind, scheduled_at, period, created_at)
	VALUES (:id, :subject_id, :kind, :scheduled_at, :period, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, event); err != nil {
		return fmt.Errorf("create scheduled event: %w", err)
	}
	return nil
}

// FindByID loads an event.
func (r *AppointmentRepository) FindByID(ctx context.Context, id string) (*models.ScheduledEvent, error) {
	const query = `SELECT ` + eventColumns + ` FROM scheduled_events WHERE id = $1`
	var event models.ScheduledEvent
	if err := r.db.GetContext(ctx, &event, query, id); err != nil {
		return nil, err
	}
	return &event, nil
}

// ListUnassignedBetween returns events without a period scheduled within
// [from, to), ordered by schedule time.
func (r *AppointmentRepository) ListUnassignedBetween(ctx context.Context, from, to time.Time) ([]models.ScheduledEvent, error) {
	const query = `SELECT ` + eventColumns + ` FROM scheduled_events
	WHERE period IS NULL AND scheduled_at >= $1 AND scheduled_at < $2
	ORDER BY scheduled_at ASC`
	var events []models.ScheduledEvent
	if err := r.db.SelectContext(ctx, &events, query, from, to); err != nil {
		return nil, fmt.Errorf("list unassigned events: %w", err)
	}
	return events, nil
}

// ListBetween returns every event scheduled within [from, to).
func (r *AppointmentRepository) ListBetween(ctx context.Context, from, to time.Time) ([]models.ScheduledEvent, error) {
	const query = `SELECT ` + eventColumns + ` FROM scheduled_events
	WHERE scheduled_at >= $1 AND scheduled_at < $2
	ORDER BY scheduled_at ASC`
	var events []models.ScheduledEvent
	if err := r.db.SelectContext(ctx, &events, query, from, to); err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	return events, nil
}

// AssignPeriod sets the period of an event that has none. It reports false
// when the event already carried a period.
func (r *AppointmentRepository) AssignPeriod(ctx context.Context, id string, period models.PeriodLabel) (bool, error) {
	result, err := r.db.ExecContext(ctx, `UPDATE scheduled_events SET period = $1 WHERE id = $2 AND period IS NULL`, period, id)
	if err != nil {
		return false, fmt.Errorf("assign event period: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("check event period rows: %w", err)
	}
	return rows > 0, nil
}

// OverwritePeriod replaces the period of an event. Only the administrative
// restamp batch calls it; a nil period clears the stamp.
func (r *AppointmentRepository) OverwritePeriod(ctx context.Context, id string, period *models.PeriodLabel) error {
	result, err := r.db.ExecContext(ctx, `UPDATE scheduled_events SET period = $1 WHERE id = $2`, period, id)
	if err != nil {
		return fmt.Errorf("overwrite event period: %w", err)
	}
	return requireRows(result, "event period")
}
