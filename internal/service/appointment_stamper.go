package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/noah-isme/campus-health-api/internal/models"
	appErrors "github.com/noah-isme/campus-health-api/pkg/errors"
)

type eventStore interface {
	Create(ctx context.Context, event *models.ScheduledEvent) error
	ListUnassignedBetween(ctx context.Context, from, to time.Time) ([]models.ScheduledEvent, error)
	ListBetween(ctx context.Context, from, to time.Time) ([]models.ScheduledEvent, error)
	AssignPeriod(ctx context.Context, id string, period models.PeriodLabel) (bool, error)
	OverwritePeriod(ctx context.Context, id string, period *models.PeriodLabel) error
}

// CreateEventRequest describes a new appointment.
type CreateEventRequest struct {
	SubjectID   string           `json:"subject_id" validate:"required"`
	Kind        models.EventKind `json:"kind" validate:"required,oneof=consultation dental laboratory medical_exam"`
	ScheduledAt time.Time        `json:"scheduled_at" validate:"required"`
}

// AppointmentStamper annotates appointments with the period they fall in.
// A stamped period is never changed except by Restamp.
type AppointmentStamper struct {
	events    eventStore
	terms     termDefinitions
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
}

// NewAppointmentStamper constructs the stamper. metrics may be nil.
func NewAppointmentStamper(events eventStore, terms termDefinitions, metrics *MetricsService, logger *zap.Logger) *AppointmentStamper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AppointmentStamper{events: events, terms: terms, metrics: metrics, validator: validator.New(), logger: logger}
}

// StampOnCreate resolves the period of a new appointment and persists it.
// Appointments outside every period are stored unassigned.
func (s *AppointmentStamper) StampOnCreate(ctx context.Context, req CreateEventRequest, def *models.TermDefinition) (*models.ScheduledEvent, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid appointment payload")
	}
	event := &models.ScheduledEvent{SubjectID: req.SubjectID, Kind: req.Kind, ScheduledAt: req.ScheduledAt}
	outcome := "unassigned"
	if label, ok := ResolvePeriod(def, req.ScheduledAt); ok {
		event.Period = &label
		outcome = "assigned"
	}
	if err := s.events.Create(ctx, event); err != nil {
		return nil, appErrors.Internal(err, "failed to create appointment")
	}
	s.metrics.RecordStamp("create", outcome, 1)
	s.logger.Debug("appointment stamped",
		zap.String("event_id", event.ID),
		zap.String("period", models.PeriodString(event.Period)))
	return event, nil
}

// Backfill tries once to stamp each event that has no period yet. Events that
// still do not resolve are reported as unassigned; events already stamped,
// here or concurrently, are reported as skipped.
func (s *AppointmentStamper) Backfill(ctx context.Context, events []models.ScheduledEvent, def *models.TermDefinition) (*models.StampReport, error) {
	report := &models.StampReport{}
	if def != nil {
		report.YearID = def.Year.ID
	}
	var errs []error
	for _, event := range events {
		if event.Period != nil {
			report.Skipped = append(report.Skipped, event.ID)
			continue
		}
		label, ok := ResolvePeriod(def, event.ScheduledAt)
		if !ok {
			report.Unassigned = append(report.Unassigned, event.ID)
			continue
		}
		assigned, err := s.events.AssignPeriod(ctx, event.ID, label)
		if err != nil {
			errs = append(errs, fmt.Errorf("event %s: %w", event.ID, err))
			continue
		}
		if !assigned {
			report.Skipped = append(report.Skipped, event.ID)
			continue
		}
		report.Assigned = append(report.Assigned, event.ID)
	}
	s.recordReport("backfill", report)
	if err := errors.Join(errs...); err != nil {
		return report, appErrors.Internal(err, "failed to stamp some appointments")
	}
	return report, nil
}

// BackfillYear backfills every unassigned appointment scheduled within the
// year's bounds.
func (s *AppointmentStamper) BackfillYear(ctx context.Context, yearID string) (report *models.StampReport, err error) {
	ctx, span := startSpan(ctx, "AppointmentStamper.BackfillYear", attribute.String("year.id", yearID))
	defer func() { endSpan(span, err) }()

	def, err := s.terms.Definition(ctx, yearID)
	if err != nil {
		return nil, err
	}
	from, to := yearWindow(def.Year)
	events, err := s.events.ListUnassignedBetween(ctx, from, to)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to list unassigned appointments")
	}
	return s.Backfill(ctx, events, def)
}

// Restamp recomputes the period of every appointment in the year, replacing
// stamped values. It is the explicit repair path after a calendar fix.
func (s *AppointmentStamper) Restamp(ctx context.Context, yearID, actor string) (report *models.StampReport, err error) {
	ctx, span := startSpan(ctx, "AppointmentStamper.Restamp", attribute.String("year.id", yearID))
	defer func() { endSpan(span, err) }()

	def, err := s.terms.Definition(ctx, yearID)
	if err != nil {
		return nil, err
	}
	from, to := yearWindow(def.Year)
	events, err := s.events.ListBetween(ctx, from, to)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to list appointments")
	}

	report = &models.StampReport{YearID: yearID}
	var errs []error
	for _, event := range events {
		var next *models.PeriodLabel
		if label, ok := ResolvePeriod(def, event.ScheduledAt); ok {
			next = &label
		}
		if samePeriod(event.Period, next) {
			report.Skipped = append(report.Skipped, event.ID)
			continue
		}
		if err := s.events.OverwritePeriod(ctx, event.ID, next); err != nil {
			errs = append(errs, fmt.Errorf("event %s: %w", event.ID, err))
			continue
		}
		if next == nil {
			report.Unassigned = append(report.Unassigned, event.ID)
		} else {
			report.Assigned = append(report.Assigned, event.ID)
		}
	}
	s.recordReport("restamp", report)
	s.logger.Info("appointments restamped",
		zap.String("year_id", yearID),
		zap.String("actor", actor),
		zap.Int("assigned", len(report.Assigned)),
		zap.Int("unassigned", len(report.Unassigned)),
		zap.Int("unchanged", len(report.Skipped)))
	if err := errors.Join(errs...); err != nil {
		return report, appErrors.Internal(err, "failed to restamp some appointments")
	}
	return report, nil
}

func (s *AppointmentStamper) recordReport(mode string, report *models.StampReport) {
	s.metrics.RecordStamp(mode, "assigned", len(report.Assigned))
	s.metrics.RecordStamp(mode, "unassigned", len(report.Unassigned))
	s.metrics.RecordStamp(mode, "skipped", len(report.Skipped))
}

// yearWindow returns [start of first day, start of the day after the last).
func yearWindow(year models.Year) (time.Time, time.Time) {
	return calendarDay(year.StartDate), calendarDay(year.EndDate).AddDate(0, 0, 1)
}

func samePeriod(a, b *models.PeriodLabel) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
