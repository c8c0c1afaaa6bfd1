package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/noah-isme/campus-health-api/internal/models"
	"github.com/noah-isme/campus-health-api/internal/repository"
	appErrors "github.com/noah-isme/campus-health-api/pkg/errors"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func datePtr(y int, m time.Month, d int) *time.Time {
	t := day(y, m, d)
	return &t
}

func fixedClock(t time.Time) Clock {
	return func() time.Time { return t }
}

// academicYear is first=[Aug 15, Dec 20], second=[Jan 15, May 31] inside 2025-2026.
func academicYear() *models.TermDefinition {
	return &models.TermDefinition{
		Year: models.Year{
			ID:        "year-1",
			Label:     "2025-2026",
			StartDate: day(2025, time.August, 1),
			EndDate:   day(2026, time.July, 31),
			Status:    models.YearStatusActive,
			IsCurrent: true,
		},
		Periods: []models.PeriodRange{
			{YearID: "year-1", Label: models.PeriodFirst, Position: 0, StartDate: datePtr(2025, time.August, 15), EndDate: datePtr(2025, time.December, 20)},
			{YearID: "year-1", Label: models.PeriodSecond, Position: 1, StartDate: datePtr(2026, time.January, 15), EndDate: datePtr(2026, time.May, 31)},
			{YearID: "year-1", Label: models.PeriodSummer, Position: 2},
		},
	}
}

type termsStub struct {
	mu    sync.Mutex
	defs  map[string]*models.TermDefinition
	calls int
}

func newTermsStub(defs ...*models.TermDefinition) *termsStub {
	s := &termsStub{defs: make(map[string]*models.TermDefinition)}
	for _, d := range defs {
		s.defs[d.Year.ID] = d
	}
	return s
}

func (s *termsStub) Definition(ctx context.Context, yearID string) (*models.TermDefinition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	def, ok := s.defs[yearID]
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "year not found")
	}
	return def, nil
}

type subjectStub struct {
	subjects map[string]*models.Subject
}

func (s *subjectStub) GetSubject(ctx context.Context, id string) (*models.Subject, error) {
	if subject, ok := s.subjects[id]; ok {
		return subject, nil
	}
	return nil, sql.ErrNoRows
}

func newSubjectStub() *subjectStub {
	return &subjectStub{subjects: map[string]*models.Subject{
		"sub-1": {
			ID:        "sub-1",
			FirstName: "Ana",
			LastName:  "Reyes",
			Email:     "ana@campus.test",
			Category:  models.SubjectCategoryStudent,
			Sex:       "F",
			City:      "Springfield",
		},
	}}
}

type auditSink struct {
	mu   sync.Mutex
	logs []*models.AuditLog
}

func (a *auditSink) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.logs = append(a.logs, log)
	return nil
}

func (a *auditSink) actions() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.logs))
	for _, l := range a.logs {
		out = append(out, l.Action)
	}
	return out
}

// recordStoreStub mimics the partial unique index of term_scoped_records.
type recordStoreStub struct {
	mu       sync.Mutex
	records  map[string]*models.TermScopedRecord
	seq      int
	inserts  int
	finds    int
	findHook func(call int) error
	// beforeMerge runs under the lock ahead of the revision checks.
	beforeMerge func()
	mergeErr    error
	merges      []repository.MergeParams
	purged      []string
}

func newRecordStoreStub() *recordStoreStub {
	return &recordStoreStub{records: make(map[string]*models.TermScopedRecord)}
}

func samePeriodKey(a, b *models.PeriodLabel) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func (s *recordStoreStub) put(r models.TermScopedRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.Revision == 0 {
		r.Revision = 1
	}
	s.records[r.ID] = &r
}

func (s *recordStoreStub) live(id string) *models.TermScopedRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[id]
	if !ok || r.DeletedAt != nil {
		return nil
	}
	out := *r
	out.Payload = r.Payload.Clone()
	return &out
}

func (s *recordStoreStub) lookup(key models.RecordKey) *models.TermScopedRecord {
	for _, r := range s.records {
		if r.DeletedAt != nil {
			continue
		}
		if r.Kind == key.Kind && r.SubjectID == key.SubjectID && r.YearID == key.YearID && samePeriodKey(r.Period, key.Period) {
			return r
		}
	}
	return nil
}

func (s *recordStoreStub) FindByKey(ctx context.Context, key models.RecordKey) (*models.TermScopedRecord, error) {
	s.mu.Lock()
	s.finds++
	call, hook := s.finds, s.findHook
	s.mu.Unlock()
	if hook != nil {
		if err := hook(call); err != nil {
			return nil, err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.lookup(key)
	if r == nil {
		return nil, sql.ErrNoRows
	}
	out := *r
	return &out, nil
}

func (s *recordStoreStub) FindByID(ctx context.Context, id string) (*models.TermScopedRecord, error) {
	if r := s.live(id); r != nil {
		return r, nil
	}
	return nil, sql.ErrNoRows
}

func (s *recordStoreStub) ListBySubjectYear(ctx context.Context, kind models.RecordKind, subjectID, yearID string) ([]models.TermScopedRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.TermScopedRecord
	for _, r := range s.records {
		if r.DeletedAt == nil && r.Kind == kind && r.SubjectID == subjectID && r.YearID == yearID {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *recordStoreStub) ListUnassignedKeys(ctx context.Context, yearID string) ([]models.RecordKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := map[string]bool{}
	var keys []models.RecordKey
	for _, r := range s.records {
		if r.DeletedAt != nil || r.Period != nil || r.YearID != yearID {
			continue
		}
		k := fmt.Sprintf("%s|%s", r.Kind, r.SubjectID)
		if seen[k] {
			continue
		}
		seen[k] = true
		keys = append(keys, models.RecordKey{Kind: r.Kind, SubjectID: r.SubjectID, YearID: r.YearID})
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].SubjectID+string(keys[i].Kind) < keys[j].SubjectID+string(keys[j].Kind) })
	return keys, nil
}

func (s *recordStoreStub) Create(ctx context.Context, record *models.TermScopedRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lookup(record.Key()) != nil {
		return appErrors.Wrap(errors.New("duplicate key value"), appErrors.ErrConflict.Code, appErrors.ErrConflict.Status, "record already exists for key")
	}
	s.seq++
	if record.ID == "" {
		record.ID = fmt.Sprintf("rec-%d", s.seq)
	}
	record.Revision = 1
	stored := *record
	stored.Payload = record.Payload.Clone()
	s.records[record.ID] = &stored
	s.inserts++
	return nil
}

func (s *recordStoreStub) UpdatePayload(ctx context.Context, id string, payload models.Payload, expectedRevision int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[id]
	if !ok || r.DeletedAt != nil || r.Revision != expectedRevision {
		return sql.ErrNoRows
	}
	r.Payload = payload.Clone()
	r.Revision++
	return nil
}

func (s *recordStoreStub) AssignPeriod(ctx context.Context, id string, period models.PeriodLabel) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[id]
	if !ok || r.DeletedAt != nil || r.Period != nil {
		return sql.ErrNoRows
	}
	key := r.Key()
	key.Period = &period
	if s.lookup(key) != nil {
		return appErrors.Wrap(errors.New("duplicate key value"), appErrors.ErrConflict.Code, appErrors.ErrConflict.Status, "record already exists for period")
	}
	r.Period = &period
	return nil
}

func (s *recordStoreStub) Merge(ctx context.Context, params repository.MergeParams) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mergeErr != nil {
		return s.mergeErr
	}
	if s.beforeMerge != nil {
		s.beforeMerge()
	}
	target, source := s.records[params.TargetID], s.records[params.SourceID]
	if target == nil || source == nil || target.Revision != params.ExpectedRevision || source.Revision != params.SourceRevision {
		return sql.ErrNoRows
	}
	s.merges = append(s.merges, params)
	target.Payload = params.Payload.Clone()
	target.Revision++
	now := time.Now()
	source.DeletedAt = &now
	return nil
}

func (s *recordStoreStub) Purge(ctx context.Context, id string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[id]; !ok {
		return nil, sql.ErrNoRows
	}
	delete(s.records, id)
	return s.purged, nil
}
