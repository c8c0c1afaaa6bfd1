package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/noah-isme/campus-health-api/internal/models"
	appErrors "github.com/noah-isme/campus-health-api/pkg/errors"
)

type certificationStore interface {
	Create(ctx context.Context, doc *models.CertificationDocument) error
	FindByID(ctx context.Context, id string) (*models.CertificationDocument, error)
	FindByKey(ctx context.Context, subjectID, yearID string, period *models.PeriodLabel) (*models.CertificationDocument, error)
	MarkSubmitted(ctx context.Context, id string, at time.Time) (bool, error)
	UpdateTransition(ctx context.Context, next *models.CertificationDocument, from models.CertificationStatus, lastUpdated time.Time) error
}

type recordReader interface {
	FindByID(ctx context.Context, id string) (*models.TermScopedRecord, error)
}

// CertificateRenderer turns a document payload into the issued artifact.
type CertificateRenderer interface {
	Render(ctx context.Context, doc *models.CertificationDocument, payload models.Payload) ([]byte, error)
}

// ArtifactStore keeps rendered artifacts and hands back opaque handles.
type ArtifactStore interface {
	Save(name string, data []byte) (string, error)
	Delete(handle string) error
}

// IssuanceNotifier is told about documents once issuance has committed.
type IssuanceNotifier interface {
	NotifyIssued(ctx context.Context, doc *models.CertificationDocument) error
}

// CertificationConfig tunes the workflow gates.
type CertificationConfig struct {
	VerifyThreshold int
	RenderTimeout   time.Duration
}

// RejectRequest carries a reviewer's rejection.
type RejectRequest struct {
	Reviewer string `json:"reviewer" validate:"required"`
	Reason   string `json:"reason" validate:"required,max=500"`
}

// CompletenessReport is the derived completeness of a document.
type CompletenessReport struct {
	DocumentID string   `json:"document_id"`
	Percent    int      `json:"percent"`
	Missing    []string `json:"missing,omitempty"`
	Threshold  int      `json:"threshold"`
}

// CertificationService drives documents through pending, verified, issued
// and rejected. Its transition methods are the only writers of status.
type CertificationService struct {
	docs      certificationStore
	records   recordReader
	renderer  CertificateRenderer
	artifacts ArtifactStore
	notifier  IssuanceNotifier
	audit     auditLogger
	metrics   *MetricsService
	cfg       CertificationConfig
	now       Clock
	validator *validator.Validate
	logger    *zap.Logger
}

// CertificationServiceOption configures the service.
type CertificationServiceOption func(*CertificationService)

// WithCertificationClock overrides the timestamp source.
func WithCertificationClock(clock Clock) CertificationServiceOption {
	return func(s *CertificationService) {
		if clock != nil {
			s.now = clock
		}
	}
}

// WithCertificationNotifier sets who hears about issued documents.
func WithCertificationNotifier(notifier IssuanceNotifier) CertificationServiceOption {
	return func(s *CertificationService) {
		s.notifier = notifier
	}
}

// WithCertificationAudit enables audit trail persistence.
func WithCertificationAudit(audit auditLogger) CertificationServiceOption {
	return func(s *CertificationService) {
		s.audit = audit
	}
}

// WithCertificationMetrics attaches Prometheus counters.
func WithCertificationMetrics(metrics *MetricsService) CertificationServiceOption {
	return func(s *CertificationService) {
		s.metrics = metrics
	}
}

// NewCertificationService constructs the workflow.
func NewCertificationService(docs certificationStore, records recordReader, renderer CertificateRenderer, artifacts ArtifactStore, cfg CertificationConfig, logger *zap.Logger, opts ...CertificationServiceOption) *CertificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.VerifyThreshold <= 0 || cfg.VerifyThreshold > 100 {
		cfg.VerifyThreshold = 100
	}
	svc := &CertificationService{
		docs:      docs,
		records:   records,
		renderer:  renderer,
		artifacts: artifacts,
		cfg:       cfg,
		now:       systemClock,
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

// Create opens the pending document of a profile record. Calling it again for
// the same term returns the existing document.
func (s *CertificationService) Create(ctx context.Context, record *models.TermScopedRecord) (*models.CertificationDocument, error) {
	if record == nil || record.Kind != models.RecordKindProfile {
		return nil, appErrors.Clone(appErrors.ErrValidation, "certification documents belong to profile records")
	}
	existing, err := s.docs.FindByKey(ctx, record.SubjectID, record.YearID, record.Period)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Internal(err, "failed to look up certification document")
	}

	doc := &models.CertificationDocument{
		Kind:      models.DocumentKindHealthCertificate,
		SubjectID: record.SubjectID,
		YearID:    record.YearID,
		Period:    record.Period,
		RecordID:  record.ID,
		Status:    models.CertificationPending,
	}
	if err := s.docs.Create(ctx, doc); err != nil {
		if !errors.Is(err, appErrors.ErrConflict) {
			return nil, appErrors.Internal(err, "failed to create certification document")
		}
		winner, ferr := s.docs.FindByKey(ctx, record.SubjectID, record.YearID, record.Period)
		if ferr != nil {
			return nil, err
		}
		return winner, nil
	}
	return doc, nil
}

// Get returns a document by ID.
func (s *CertificationService) Get(ctx context.Context, id string) (*models.CertificationDocument, error) {
	doc, err := s.docs.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "certification document not found")
		}
		return nil, appErrors.Internal(err, "failed to load certification document")
	}
	return doc, nil
}

// Completeness derives the completeness of a document from its record payload.
func (s *CertificationService) Completeness(ctx context.Context, id string) (*CompletenessReport, error) {
	doc, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	record, err := s.owningRecord(ctx, doc)
	if err != nil {
		return nil, err
	}
	return &CompletenessReport{
		DocumentID: doc.ID,
		Percent:    ComputeCompleteness(doc.Kind, record.Payload),
		Missing:    MissingFields(doc.Kind, record.Payload),
		Threshold:  s.cfg.VerifyThreshold,
	}, nil
}

// Submit records the subject's submission of a pending document. Repeated
// submissions are no-ops; any other state is rejected.
func (s *CertificationService) Submit(ctx context.Context, id string) (*models.CertificationDocument, error) {
	doc, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if doc.Status != models.CertificationPending {
		return nil, invalidState("submit", doc.Status)
	}
	now := s.now().UTC()
	stamped, err := s.docs.MarkSubmitted(ctx, id, now)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to submit certification document")
	}
	if !stamped {
		current, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if current.Status != models.CertificationPending {
			return nil, invalidState("submit", current.Status)
		}
		return current, nil
	}
	doc.SubmittedAt = &now
	emitAudit(ctx, s.audit, s.logger, "certification-service", &models.AuditLog{
		UserID:     &doc.SubjectID,
		Action:     models.AuditActionCertSubmit,
		Resource:   "certification_document",
		ResourceID: &doc.ID,
	})
	return doc, nil
}

// Verify moves a pending document to verified once it is complete enough.
func (s *CertificationService) Verify(ctx context.Context, id, reviewer string) (doc *models.CertificationDocument, err error) {
	ctx, span := startSpan(ctx, "CertificationService.Verify", attribute.String("document.id", id))
	defer func() { endSpan(span, err) }()

	if strings.TrimSpace(reviewer) == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "reviewer is required")
	}
	doc, err = s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !doc.Status.CanTransitionTo(models.CertificationVerified) {
		return nil, invalidState("verify", doc.Status)
	}
	record, err := s.owningRecord(ctx, doc)
	if err != nil {
		return nil, err
	}
	if pct := ComputeCompleteness(doc.Kind, record.Payload); pct < s.cfg.VerifyThreshold {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed,
			fmt.Sprintf("document is %d%% complete, %d%% required (missing: %s)", pct, s.cfg.VerifyThreshold, strings.Join(MissingFields(doc.Kind, record.Payload), ", ")))
	}

	now := s.now().UTC()
	next := *doc
	next.Status = models.CertificationVerified
	next.ReviewedBy = &reviewer
	next.ReviewedAt = &now
	if err := s.transition(ctx, doc, &next, models.AuditActionCertVerify, reviewer); err != nil {
		return nil, err
	}
	return &next, nil
}

// Reject sends a pending or verified document back to the subject with a
// reason. The record revision at rejection gates the next resubmission.
func (s *CertificationService) Reject(ctx context.Context, id string, req RejectRequest) (doc *models.CertificationDocument, err error) {
	ctx, span := startSpan(ctx, "CertificationService.Reject", attribute.String("document.id", id))
	defer func() { endSpan(span, err) }()

	req.Reason = strings.TrimSpace(req.Reason)
	req.Reviewer = strings.TrimSpace(req.Reviewer)
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "reviewer and a non-empty reason are required")
	}
	doc, err = s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !doc.Status.CanTransitionTo(models.CertificationRejected) {
		return nil, invalidState("reject", doc.Status)
	}
	record, err := s.owningRecord(ctx, doc)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	revision := record.Revision
	next := *doc
	next.Status = models.CertificationRejected
	next.ReviewedBy = &req.Reviewer
	next.ReviewedAt = &now
	next.RejectionReason = &req.Reason
	next.RejectedRevision = &revision
	next.ArtifactHandle = nil
	next.IssuedAt = nil
	if err := s.transition(ctx, doc, &next, models.AuditActionCertReject, req.Reviewer); err != nil {
		return nil, err
	}
	s.logger.Info("certification document rejected",
		zap.String("document_id", doc.ID),
		zap.String("reviewer", req.Reviewer),
		zap.String("reason", req.Reason),
		zap.Int("record_revision", revision))
	return &next, nil
}

// Resubmit reopens a rejected document, provided the subject changed the
// payload after the rejection.
func (s *CertificationService) Resubmit(ctx context.Context, id, actor string) (doc *models.CertificationDocument, err error) {
	ctx, span := startSpan(ctx, "CertificationService.Resubmit", attribute.String("document.id", id))
	defer func() { endSpan(span, err) }()

	doc, err = s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if doc.Status != models.CertificationRejected {
		return nil, invalidState("resubmit", doc.Status)
	}
	record, err := s.owningRecord(ctx, doc)
	if err != nil {
		return nil, err
	}
	if doc.RejectedRevision == nil {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "rejected document has no recorded revision")
	}
	if record.Revision <= *doc.RejectedRevision {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "payload has not changed since rejection")
	}

	next := *doc
	next.Status = models.CertificationPending
	next.RejectionReason = nil
	next.RejectedRevision = nil
	next.ReviewedBy = nil
	next.ReviewedAt = nil
	if err := s.transition(ctx, doc, &next, models.AuditActionCertResubmit, actor); err != nil {
		return nil, err
	}
	return &next, nil
}

// Issue renders and stores the certificate of a verified document, then marks
// it issued. Render or storage failures leave the document verified so Issue
// can simply be called again.
func (s *CertificationService) Issue(ctx context.Context, id, reviewer string) (doc *models.CertificationDocument, err error) {
	ctx, span := startSpan(ctx, "CertificationService.Issue", attribute.String("document.id", id))
	defer func() { endSpan(span, err) }()

	if strings.TrimSpace(reviewer) == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "reviewer is required")
	}
	doc, err = s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !doc.Status.CanTransitionTo(models.CertificationIssued) {
		return nil, invalidState("issue", doc.Status)
	}
	record, err := s.owningRecord(ctx, doc)
	if err != nil {
		return nil, err
	}

	renderCtx := ctx
	if s.cfg.RenderTimeout > 0 {
		var cancel context.CancelFunc
		renderCtx, cancel = context.WithTimeout(ctx, s.cfg.RenderTimeout)
		defer cancel()
	}
	start := time.Now()
	data, err := s.renderer.Render(renderCtx, doc, record.Payload.Clone())
	s.metrics.ObserveRender(time.Since(start))
	if err != nil {
		s.logger.Error("certificate render failed", zap.String("document_id", doc.ID), zap.Error(err))
		return nil, appErrors.Internal(err, "failed to render certificate")
	}

	now := s.now().UTC()
	handle, err := s.artifacts.Save(fmt.Sprintf("certificates/%s/%s-%d.pdf", doc.YearID, doc.ID, now.Unix()), data)
	if err != nil {
		s.logger.Error("certificate store failed", zap.String("document_id", doc.ID), zap.Error(err))
		return nil, appErrors.Internal(err, "failed to store certificate")
	}

	next := *doc
	next.Status = models.CertificationIssued
	next.ArtifactHandle = &handle
	next.IssuedAt = &now
	next.ReviewedBy = &reviewer
	next.ReviewedAt = &now
	if err := s.transition(ctx, doc, &next, models.AuditActionCertIssue, reviewer); err != nil {
		if derr := s.artifacts.Delete(handle); derr != nil {
			s.logger.Warn("failed to remove orphaned certificate", zap.String("handle", handle), zap.Error(derr))
		}
		return nil, err
	}

	if s.notifier != nil {
		if err := s.notifier.NotifyIssued(ctx, &next); err != nil {
			s.logger.Warn("issuance notification not dispatched", zap.String("document_id", next.ID), zap.Error(err))
		}
	}
	return &next, nil
}

func (s *CertificationService) transition(ctx context.Context, current, next *models.CertificationDocument, action, actor string) error {
	err := s.docs.UpdateTransition(ctx, next, current.Status, current.UpdatedAt)
	s.metrics.RecordTransition(string(next.Status), err)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrInvalidState, "document changed state concurrently")
		}
		return appErrors.Internal(err, "failed to update certification document")
	}
	s.logger.Info("certification transition",
		zap.String("document_id", current.ID),
		zap.String("from", string(current.Status)),
		zap.String("to", string(next.Status)),
		zap.String("actor", actor))
	emitAudit(ctx, s.audit, s.logger, "certification-service", &models.AuditLog{
		UserID:     optionalString(actor),
		Action:     action,
		Resource:   "certification_document",
		ResourceID: &current.ID,
		OldValues:  auditJSON(current),
		NewValues:  auditJSON(next),
	})
	return nil
}

func (s *CertificationService) owningRecord(ctx context.Context, doc *models.CertificationDocument) (*models.TermScopedRecord, error) {
	record, err := s.records.FindByID(ctx, doc.RecordID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "owning record not found")
		}
		return nil, appErrors.Internal(err, "failed to load owning record")
	}
	return record, nil
}

func invalidState(op string, status models.CertificationStatus) error {
	return appErrors.Clone(appErrors.ErrInvalidState, fmt.Sprintf("cannot %s a %s document", op, status))
}
