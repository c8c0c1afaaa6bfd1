package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/noah-isme/campus-health-api/internal/models"
	"github.com/noah-isme/campus-health-api/internal/repository"
	appErrors "github.com/noah-isme/campus-health-api/pkg/errors"
)

type recordStore interface {
	FindByKey(ctx context.Context, key models.RecordKey) (*models.TermScopedRecord, error)
	FindByID(ctx context.Context, id string) (*models.TermScopedRecord, error)
	ListBySubjectYear(ctx context.Context, kind models.RecordKind, subjectID, yearID string) ([]models.TermScopedRecord, error)
	ListUnassignedKeys(ctx context.Context, yearID string) ([]models.RecordKey, error)
	Create(ctx context.Context, record *models.TermScopedRecord) error
	UpdatePayload(ctx context.Context, id string, payload models.Payload, expectedRevision int) error
	AssignPeriod(ctx context.Context, id string, period models.PeriodLabel) error
	Merge(ctx context.Context, params repository.MergeParams) error
	Purge(ctx context.Context, id string) ([]string, error)
}

// SubjectProvider exposes read-only identity attributes used for autofill.
type SubjectProvider interface {
	GetSubject(ctx context.Context, id string) (*models.Subject, error)
}

type termDefinitions interface {
	Definition(ctx context.Context, yearID string) (*models.TermDefinition, error)
}

type artifactRemover interface {
	Delete(handle string) error
}

// UpdatePayloadRequest carries a partial payload edit. A nil value clears the
// field. ExpectedRevision must match the stored revision.
type UpdatePayloadRequest struct {
	Changes          models.Payload `json:"changes" validate:"required,min=1"`
	ExpectedRevision int            `json:"expected_revision" validate:"required,min=1"`
	Actor            string         `json:"actor"`
}

// RecordService owns the one-record-per-term invariant: idempotent creation
// with autofill, payload edits and duplicate reconciliation.
type RecordService struct {
	store     recordStore
	subjects  SubjectProvider
	terms     termDefinitions
	calendar  *TermCalendar
	audit     auditLogger
	metrics   *MetricsService
	artifacts artifactRemover
	validator *validator.Validate
	logger    *zap.Logger
}

// RecordServiceOption configures the service.
type RecordServiceOption func(*RecordService)

// WithRecordClock pins the clock used to resolve the current period.
func WithRecordClock(clock Clock) RecordServiceOption {
	return func(s *RecordService) {
		if clock != nil {
			s.calendar = NewTermCalendar(clock)
		}
	}
}

// WithRecordAudit enables audit trail persistence.
func WithRecordAudit(audit auditLogger) RecordServiceOption {
	return func(s *RecordService) {
		s.audit = audit
	}
}

// WithRecordMetrics attaches Prometheus counters.
func WithRecordMetrics(metrics *MetricsService) RecordServiceOption {
	return func(s *RecordService) {
		s.metrics = metrics
	}
}

// WithRecordArtifacts lets Purge remove artifacts of deleted documents.
func WithRecordArtifacts(artifacts artifactRemover) RecordServiceOption {
	return func(s *RecordService) {
		s.artifacts = artifacts
	}
}

// NewRecordService constructs the service with defaults.
func NewRecordService(store recordStore, subjects SubjectProvider, terms termDefinitions, logger *zap.Logger, opts ...RecordServiceOption) *RecordService {
	if logger == nil {
		logger = zap.NewNop()
	}
	svc := &RecordService{
		store:     store,
		subjects:  subjects,
		terms:     terms,
		calendar:  NewTermCalendar(nil),
		validator: validator.New(),
		logger:    logger,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(svc)
		}
	}
	return svc
}

// Get returns a live record by ID.
func (s *RecordService) Get(ctx context.Context, id string) (*models.TermScopedRecord, error) {
	record, err := s.store.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "record not found")
		}
		return nil, appErrors.Internal(err, "failed to load record")
	}
	return record, nil
}

// GetOrCreate returns the record for (kind, subject, year, period), creating
// it with autofilled payload on first use. A nil period is resolved against
// the year's calendar for today and stays unassigned when nothing matches.
// Losing a concurrent create is not an error: the winner is re-read once.
func (s *RecordService) GetOrCreate(ctx context.Context, kind models.RecordKind, subjectID, yearID string, period *models.PeriodLabel) (record *models.TermScopedRecord, err error) {
	ctx, span := startSpan(ctx, "RecordService.GetOrCreate",
		attribute.String("record.kind", string(kind)),
		attribute.String("subject.id", subjectID),
		attribute.String("year.id", yearID))
	defer func() { endSpan(span, err) }()

	schema, ok := models.SchemaFor(kind)
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown record kind %q", kind))
	}
	if subjectID == "" || yearID == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "subject and year are required")
	}
	if period != nil && !period.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown period %q", *period))
	}
	if period == nil {
		def, err := s.terms.Definition(ctx, yearID)
		if err != nil {
			return nil, err
		}
		if label, ok := s.calendar.Current(def); ok {
			period = &label
		}
	}
	span.SetAttributes(attribute.String("record.period", models.PeriodString(period)))

	key := models.RecordKey{Kind: kind, SubjectID: subjectID, YearID: yearID, Period: period}
	existing, err := s.store.FindByKey(ctx, key)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Internal(err, "failed to look up record")
	}

	subject, err := s.subjects.GetSubject(ctx, subjectID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "subject not found")
		}
		return nil, appErrors.Internal(err, "failed to load subject")
	}

	record = &models.TermScopedRecord{
		Kind:      kind,
		SubjectID: subjectID,
		YearID:    yearID,
		Period:    period,
		Payload:   Autofill(schema, models.Payload{}, subject),
	}
	if err := s.store.Create(ctx, record); err != nil {
		if !errors.Is(err, appErrors.ErrConflict) {
			return nil, appErrors.Internal(err, "failed to create record")
		}
		winner, ferr := s.store.FindByKey(ctx, key)
		if ferr != nil {
			s.logger.Warn("record create conflict without readable winner",
				zap.String("kind", string(kind)), zap.String("subject_id", subjectID), zap.String("year_id", yearID), zap.Error(ferr))
			return nil, err
		}
		s.logger.Debug("record create lost race, returning winner", zap.String("record_id", winner.ID))
		return winner, nil
	}

	s.logger.Info("record created",
		zap.String("record_id", record.ID),
		zap.String("kind", string(kind)),
		zap.String("subject_id", subjectID),
		zap.String("period", models.PeriodString(period)))
	emitAudit(ctx, s.audit, s.logger, "record-service", &models.AuditLog{
		Action:     models.AuditActionRecordCreate,
		Resource:   "term_scoped_record",
		ResourceID: &record.ID,
		NewValues:  auditJSON(record.Payload),
	})
	return record, nil
}

// UpdatePayload applies a partial edit and bumps the revision marker that
// resubmission checks rely on.
func (s *RecordService) UpdatePayload(ctx context.Context, id string, req UpdatePayloadRequest) (*models.TermScopedRecord, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid payload update")
	}
	record, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	schema, _ := models.SchemaFor(record.Kind)
	for field := range req.Changes {
		if _, ok := schema.Fields[field]; !ok {
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown field %q for %s", field, record.Kind))
		}
	}
	if record.Revision != req.ExpectedRevision {
		return nil, appErrors.Clone(appErrors.ErrConflict, "record was modified concurrently")
	}

	before := record.Payload.Clone()
	next := record.Payload.Clone()
	for field, value := range req.Changes {
		if value == nil {
			delete(next, field)
			continue
		}
		next[field] = value
	}
	if err := s.store.UpdatePayload(ctx, id, next, req.ExpectedRevision); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "record was modified concurrently")
		}
		return nil, appErrors.Internal(err, "failed to update record")
	}
	record.Payload = next
	record.Revision = req.ExpectedRevision + 1

	emitAudit(ctx, s.audit, s.logger, "record-service", &models.AuditLog{
		UserID:     optionalString(req.Actor),
		Action:     models.AuditActionRecordUpdate,
		Resource:   "term_scoped_record",
		ResourceID: &record.ID,
		OldValues:  auditJSON(before),
		NewValues:  auditJSON(next),
	})
	return record, nil
}

// ReconcileDuplicates settles the records of one kind for a subject and year.
// One unassigned record next to one resolved twin is merged into the twin and
// retired; a lone unassigned record gets today's period; anything with more
// candidates is reported for manual review and left untouched.
func (s *RecordService) ReconcileDuplicates(ctx context.Context, kind models.RecordKind, subjectID, yearID string) (report *models.MergeReport, err error) {
	ctx, span := startSpan(ctx, "RecordService.ReconcileDuplicates",
		attribute.String("record.kind", string(kind)),
		attribute.String("subject.id", subjectID),
		attribute.String("year.id", yearID))
	defer func() {
		if report != nil {
			span.SetAttributes(attribute.String("merge.action", string(report.Action)))
			s.metrics.RecordReconcile(string(kind), string(report.Action))
		}
		endSpan(span, err)
	}()

	schema, ok := models.SchemaFor(kind)
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown record kind %q", kind))
	}
	records, err := s.store.ListBySubjectYear(ctx, kind, subjectID, yearID)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to list records")
	}

	var unassigned, resolved []models.TermScopedRecord
	for _, r := range records {
		if r.Unassigned() {
			unassigned = append(unassigned, r)
		} else {
			resolved = append(resolved, r)
		}
	}

	report = &models.MergeReport{Kind: kind, SubjectID: subjectID, YearID: yearID, Action: models.MergeActionNone}
	switch {
	case len(unassigned) == 0:
		return report, nil
	case len(unassigned) > 1 || len(resolved) > 1:
		return s.manualReview(ctx, report, append(unassigned, resolved...),
			fmt.Sprintf("%d unassigned and %d resolved records", len(unassigned), len(resolved)))
	case len(resolved) == 0:
		return s.assignCurrent(ctx, report, &unassigned[0])
	}

	source, target := unassigned[0], resolved[0]
	merged, changes := MergePayloads(schema, source.Payload, target.Payload)
	report.SourceID = source.ID
	report.TargetID = target.ID

	err = s.store.Merge(ctx, repository.MergeParams{
		SourceID:         source.ID,
		TargetID:         target.ID,
		TargetPeriod:     *target.Period,
		Payload:          merged,
		ExpectedRevision: target.Revision,
		SourceRevision:   source.Revision,
	})
	switch {
	case errors.Is(err, repository.ErrMergeBlocked):
		return s.manualReview(ctx, report, []models.TermScopedRecord{source, target}, "certification document on the unassigned record cannot be moved")
	case errors.Is(err, sql.ErrNoRows):
		return nil, appErrors.Clone(appErrors.ErrConflict, "records changed during reconciliation")
	case err != nil:
		return nil, appErrors.Internal(err, "failed to merge records")
	}

	report.Action = models.MergeActionMerged
	report.Changes = changes
	s.logger.Info("duplicate records merged",
		zap.String("kind", string(kind)),
		zap.String("subject_id", subjectID),
		zap.String("year_id", yearID),
		zap.String("source_id", source.ID),
		zap.String("target_id", target.ID),
		zap.Strings("fields", report.ChangedFields()))
	emitAudit(ctx, s.audit, s.logger, "record-service", &models.AuditLog{
		Action:     models.AuditActionRecordMerge,
		Resource:   "term_scoped_record",
		ResourceID: &target.ID,
		OldValues:  auditJSON(map[string]interface{}{"source": source.Payload, "target": target.Payload}),
		NewValues:  auditJSON(report),
	})
	return report, nil
}

func (s *RecordService) assignCurrent(ctx context.Context, report *models.MergeReport, record *models.TermScopedRecord) (*models.MergeReport, error) {
	def, err := s.terms.Definition(ctx, record.YearID)
	if err != nil {
		return nil, err
	}
	label, ok := s.calendar.Current(def)
	if !ok {
		report.Note = "current period unresolved"
		return report, nil
	}
	report.SourceID = record.ID
	if err := s.store.AssignPeriod(ctx, record.ID, label); err != nil {
		switch {
		case errors.Is(err, sql.ErrNoRows):
			report.Note = "record already assigned"
			return report, nil
		case errors.Is(err, appErrors.ErrConflict):
			return nil, appErrors.Clone(appErrors.ErrConflict, fmt.Sprintf("a %s record already exists for period %s", record.Kind, label))
		}
		return nil, appErrors.Internal(err, "failed to assign record period")
	}

	report.Action = models.MergeActionAssigned
	report.TargetID = record.ID
	report.AssignedPeriod = &label
	s.logger.Info("unassigned record stamped with current period",
		zap.String("record_id", record.ID), zap.String("period", string(label)))
	emitAudit(ctx, s.audit, s.logger, "record-service", &models.AuditLog{
		Action:     models.AuditActionRecordAssign,
		Resource:   "term_scoped_record",
		ResourceID: &record.ID,
		NewValues:  auditJSON(report),
	})
	return report, nil
}

func (s *RecordService) manualReview(ctx context.Context, report *models.MergeReport, candidates []models.TermScopedRecord, note string) (*models.MergeReport, error) {
	report.Action = models.MergeActionManualReview
	report.Note = note
	report.CandidateIDs = make([]string, 0, len(candidates))
	for _, c := range candidates {
		report.CandidateIDs = append(report.CandidateIDs, c.ID)
	}
	s.logger.Warn("duplicate records need manual review",
		zap.String("kind", string(report.Kind)),
		zap.String("subject_id", report.SubjectID),
		zap.String("year_id", report.YearID),
		zap.Strings("candidates", report.CandidateIDs),
		zap.String("note", note))
	return report, appErrors.Clone(appErrors.ErrAmbiguousMerge, note)
}

// ReconcileAll reconciles every record kind for the subject and year. Each
// kind is attempted; failures are joined.
func (s *RecordService) ReconcileAll(ctx context.Context, subjectID, yearID string) ([]*models.MergeReport, error) {
	reports := make([]*models.MergeReport, 0, len(models.RecordKinds))
	var errs []error
	for _, kind := range models.RecordKinds {
		report, err := s.ReconcileDuplicates(ctx, kind, subjectID, yearID)
		if report != nil {
			reports = append(reports, report)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", kind, err))
		}
	}
	return reports, errors.Join(errs...)
}

// ReconcileYear runs reconciliation for every group of a year that still has
// unassigned records.
func (s *RecordService) ReconcileYear(ctx context.Context, yearID string) ([]*models.MergeReport, error) {
	keys, err := s.store.ListUnassignedKeys(ctx, yearID)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to list unassigned records")
	}
	reports := make([]*models.MergeReport, 0, len(keys))
	var errs []error
	for _, key := range keys {
		report, err := s.ReconcileDuplicates(ctx, key.Kind, key.SubjectID, key.YearID)
		if report != nil {
			reports = append(reports, report)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("%s/%s: %w", key.Kind, key.SubjectID, err))
		}
	}
	return reports, errors.Join(errs...)
}

// Purge hard-deletes a record and its documents. Stored artifacts are removed
// best effort afterwards.
func (s *RecordService) Purge(ctx context.Context, id, actor string) error {
	record, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	handles, err := s.store.Purge(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "record not found")
		}
		return appErrors.Internal(err, "failed to purge record")
	}
	if s.artifacts != nil {
		for _, handle := range handles {
			if err := s.artifacts.Delete(handle); err != nil {
				s.logger.Warn("failed to delete purged artifact", zap.String("handle", handle), zap.Error(err))
			}
		}
	}
	s.logger.Info("record purged", zap.String("record_id", id), zap.String("actor", actor), zap.Int("artifacts", len(handles)))
	emitAudit(ctx, s.audit, s.logger, "record-service", &models.AuditLog{
		UserID:     optionalString(actor),
		Action:     models.AuditActionRecordPurge,
		Resource:   "term_scoped_record",
		ResourceID: &record.ID,
		OldValues:  auditJSON(record),
	})
	return nil
}
