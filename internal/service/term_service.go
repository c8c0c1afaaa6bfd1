package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/noah-isme/campus-health-api/internal/models"
	appErrors "github.com/noah-isme/campus-health-api/pkg/errors"
)

type yearRepository interface {
	List(ctx context.Context, filter models.YearFilter) ([]models.Year, int, error)
	FindByID(ctx context.Context, id string) (*models.Year, error)
	FindCurrent(ctx context.Context) (*models.Year, error)
	ExistsByLabel(ctx context.Context, label, excludeID string) (bool, error)
	Create(ctx context.Context, year *models.Year) error
	Update(ctx context.Context, year *models.Year) error
	SetCurrent(ctx context.Context, id string) error
	ReplacePeriods(ctx context.Context, yearID string, periods []models.PeriodRange) error
	LoadDefinition(ctx context.Context, yearID string) (*models.TermDefinition, error)
}

// CreateYearRequest describes payload for creating academic years.
type CreateYearRequest struct {
	Label     string            `json:"label" validate:"required,max=32"`
	StartDate time.Time         `json:"start_date" validate:"required"`
	EndDate   time.Time         `json:"end_date" validate:"required"`
	Status    models.YearStatus `json:"status" validate:"omitempty,year_status"`
}

// UpdateYearRequest updates mutable fields on a year.
type UpdateYearRequest struct {
	Label     string            `json:"label" validate:"required,max=32"`
	StartDate time.Time         `json:"start_date" validate:"required"`
	EndDate   time.Time         `json:"end_date" validate:"required"`
	Status    models.YearStatus `json:"status" validate:"required,year_status"`
}

// PeriodRangeRequest declares one period of a year. Either bound may be left out.
type PeriodRangeRequest struct {
	Label     models.PeriodLabel `json:"label" validate:"required,period_label"`
	StartDate *time.Time         `json:"start_date"`
	EndDate   *time.Time         `json:"end_date"`
}

// ReplacePeriodsRequest swaps the declared periods of a year.
type ReplacePeriodsRequest struct {
	Periods []PeriodRangeRequest `json:"periods" validate:"dive"`
}

// YearService administers years and serves term definitions to the rest of
// the lifecycle.
type YearService struct {
	repo      yearRepository
	cache     *CacheService
	cacheTTL  time.Duration
	audit     auditLogger
	validator *validator.Validate
	logger    *zap.Logger
	loads     singleflight.Group
}

// NewYearService creates a new year service instance. cache may be nil.
func NewYearService(repo yearRepository, cache *CacheService, cacheTTL time.Duration, audit auditLogger, validate *validator.Validate, logger *zap.Logger) *YearService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	svc := &YearService{repo: repo, cache: cache, cacheTTL: cacheTTL, audit: audit, validator: validate, logger: logger}
	svc.validator.RegisterValidation("year_status", func(fl validator.FieldLevel) bool {
		return models.YearStatus(fl.Field().String()).Valid()
	})
	svc.validator.RegisterValidation("period_label", func(fl validator.FieldLevel) bool {
		return models.PeriodLabel(fl.Field().String()).Valid()
	})
	return svc
}

// List returns paginated years.
func (s *YearService) List(ctx context.Context, filter models.YearFilter) ([]models.Year, *models.Pagination, error) {
	years, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list years")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	return years, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// Get returns a year by ID.
func (s *YearService) Get(ctx context.Context, id string) (*models.Year, error) {
	year, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "year not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load year")
	}
	return year, nil
}

// GetCurrent returns the year flagged as current.
func (s *YearService) GetCurrent(ctx context.Context) (*models.Year, error) {
	year, err := s.repo.FindCurrent(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "current year not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load current year")
	}
	return year, nil
}

// Create adds a new year ensuring label uniqueness and sane bounds.
func (s *YearService) Create(ctx context.Context, req CreateYearRequest) (*models.Year, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid year payload")
	}
	if req.EndDate.Before(req.StartDate) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "start_date must not be after end_date")
	}
	exists, err := s.repo.ExistsByLabel(ctx, req.Label, "")
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check year label")
	}
	if exists {
		return nil, appErrors.Clone(appErrors.ErrConflict, "year label already exists")
	}

	year := &models.Year{Label: req.Label, StartDate: req.StartDate, EndDate: req.EndDate, Status: req.Status}
	if err := s.repo.Create(ctx, year); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create year")
	}
	return year, nil
}

// Update modifies an existing year.
func (s *YearService) Update(ctx context.Context, id string, req UpdateYearRequest) (*models.Year, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid year payload")
	}
	if req.EndDate.Before(req.StartDate) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "start_date must not be after end_date")
	}
	year, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	exists, err := s.repo.ExistsByLabel(ctx, req.Label, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check year label")
	}
	if exists {
		return nil, appErrors.Clone(appErrors.ErrConflict, "year label already exists")
	}

	year.Label = req.Label
	year.StartDate = req.StartDate
	year.EndDate = req.EndDate
	year.Status = req.Status
	if err := s.repo.Update(ctx, year); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update year")
	}
	s.invalidate(ctx, id)
	return year, nil
}

// SetCurrent flags a year as current. Nothing else in the lifecycle reads the
// flag implicitly; callers resolve it and pass the year explicitly.
func (s *YearService) SetCurrent(ctx context.Context, id, actor string) (*models.Year, error) {
	year, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.repo.SetCurrent(ctx, id); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to set current year")
	}
	year.IsCurrent = true
	s.logger.Info("current year changed", zap.String("year_id", id), zap.String("label", year.Label), zap.String("actor", actor))
	emitAudit(ctx, s.audit, s.logger, "year-service", &models.AuditLog{
		UserID:     optionalString(actor),
		Action:     models.AuditActionYearSetCurrent,
		Resource:   "year",
		ResourceID: &year.ID,
	})
	return year, nil
}

// ReplacePeriods swaps the declared periods of a year. Ranges are not checked
// for overlap; they are stored in canonical label order, which is the order
// resolution walks.
func (s *YearService) ReplacePeriods(ctx context.Context, yearID string, req ReplacePeriodsRequest) (*models.TermDefinition, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid period payload")
	}
	seen := make(map[models.PeriodLabel]bool, len(req.Periods))
	periods := make([]models.PeriodRange, 0, len(req.Periods))
	for _, p := range req.Periods {
		if seen[p.Label] {
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("period %s declared twice", p.Label))
		}
		seen[p.Label] = true
		if p.StartDate != nil && p.EndDate != nil && p.EndDate.Before(*p.StartDate) {
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("period %s ends before it starts", p.Label))
		}
		periods = append(periods, models.PeriodRange{Label: p.Label, StartDate: p.StartDate, EndDate: p.EndDate})
	}
	sort.SliceStable(periods, func(i, j int) bool {
		return periods[i].Label.Position() < periods[j].Label.Position()
	})

	if _, err := s.Get(ctx, yearID); err != nil {
		return nil, err
	}
	if err := s.repo.ReplacePeriods(ctx, yearID, periods); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to replace periods")
	}
	s.invalidate(ctx, yearID)
	return s.Definition(ctx, yearID)
}

// Definition returns the term definition of a year. Reads go through the
// cache when enabled and concurrent loads of the same year are collapsed.
func (s *YearService) Definition(ctx context.Context, yearID string) (*models.TermDefinition, error) {
	key := definitionCacheKey(yearID)
	var cached models.TermDefinition
	if hit, _ := s.cache.Get(ctx, key, &cached); hit {
		return &cached, nil
	}

	v, err, _ := s.loads.Do(yearID, func() (interface{}, error) {
		def, err := s.repo.LoadDefinition(ctx, yearID)
		if err != nil {
			return nil, err
		}
		_ = s.cache.Set(ctx, key, def, s.cacheTTL)
		return def, nil
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "year not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load term definition")
	}
	def := v.(*models.TermDefinition)
	out := *def
	out.Periods = append([]models.PeriodRange(nil), def.Periods...)
	return &out, nil
}

// CurrentDefinition returns the definition of the year flagged as current.
func (s *YearService) CurrentDefinition(ctx context.Context) (*models.TermDefinition, error) {
	year, err := s.GetCurrent(ctx)
	if err != nil {
		return nil, err
	}
	return s.Definition(ctx, year.ID)
}

func (s *YearService) invalidate(ctx context.Context, yearID string) {
	_ = s.cache.Invalidate(ctx, definitionCacheKey(yearID))
}

func definitionCacheKey(yearID string) string {
	return "calendar:definition:" + yearID
}
