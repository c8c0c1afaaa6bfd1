package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/campus-health-api/internal/models"
	"github.com/noah-isme/campus-health-api/pkg/config"
	"github.com/noah-isme/campus-health-api/pkg/jobs"
)

// Notifier delivers an issued artifact to its subject.
type Notifier interface {
	Notify(ctx context.Context, subjectID, handle string) error
}

type issuedNotification struct {
	DocumentID string
	SubjectID  string
	Handle     string
}

// NotificationService dispatches issuance notifications off the request path.
// Delivery is attempted once; failures are logged by the queue.
type NotificationService struct {
	queue    *jobs.Queue
	notifier Notifier
	logger   *zap.Logger
}

// NewNotificationService wires the dispatcher queue.
func NewNotificationService(notifier Notifier, cfg config.NotificationConfig, logger *zap.Logger) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	svc := &NotificationService{notifier: notifier, logger: logger}
	svc.queue = jobs.NewQueue("certificate-notifications", svc.handle, jobs.Config{
		Workers:    cfg.Workers,
		BufferSize: cfg.BufferSize,
		JobTimeout: cfg.Timeout,
		Logger:     logger,
	})
	return svc
}

// Start launches the workers.
func (s *NotificationService) Start(ctx context.Context) {
	s.queue.Start(ctx)
}

// Stop cancels in-flight deliveries and discards queued ones.
func (s *NotificationService) Stop() {
	s.queue.Stop()
}

// Drain gives queued notifications up to timeout to be delivered, then stops.
// Short-lived processes call it instead of Stop.
func (s *NotificationService) Drain(timeout time.Duration) {
	s.queue.Drain(timeout)
}

// NotifyIssued queues a notification without blocking the caller.
func (s *NotificationService) NotifyIssued(_ context.Context, doc *models.CertificationDocument) error {
	if doc == nil || doc.ArtifactHandle == nil {
		return fmt.Errorf("document has no artifact to deliver")
	}
	return s.queue.TryEnqueue(jobs.Job{
		ID:   doc.ID,
		Type: "certificate_issued",
		Payload: issuedNotification{
			DocumentID: doc.ID,
			SubjectID:  doc.SubjectID,
			Handle:     *doc.ArtifactHandle,
		},
	})
}

func (s *NotificationService) handle(ctx context.Context, job jobs.Job) error {
	payload, ok := job.Payload.(issuedNotification)
	if !ok {
		return fmt.Errorf("unexpected payload %T", job.Payload)
	}
	if err := s.notifier.Notify(ctx, payload.SubjectID, payload.Handle); err != nil {
		return fmt.Errorf("notify subject %s for document %s: %w", payload.SubjectID, payload.DocumentID, err)
	}
	return nil
}

type downloadSigner interface {
	Generate(subjectID, handle string) (string, time.Time, error)
}

// LogNotifier is the default sender. It emits a structured log line carrying
// a signed download token for the artifact.
type LogNotifier struct {
	signer downloadSigner
	logger *zap.Logger
}

// NewLogNotifier constructs the notifier.
func NewLogNotifier(signer downloadSigner, logger *zap.Logger) *LogNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogNotifier{signer: signer, logger: logger}
}

// Notify implements Notifier.
func (n *LogNotifier) Notify(_ context.Context, subjectID, handle string) error {
	token, expiresAt, err := n.signer.Generate(subjectID, handle)
	if err != nil {
		return fmt.Errorf("sign download: %w", err)
	}
	n.logger.Info("certificate ready for subject",
		zap.String("subject_id", subjectID),
		zap.String("handle", handle),
		zap.String("download_token", token),
		zap.Time("expires_at", expiresAt))
	return nil
}
