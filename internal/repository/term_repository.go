package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/campus-health-api/internal/models"
	"github.com/noah-isme/campus-health-api/pkg/database"
)

const yearColumns = `id, label, start_date, end_date, status, is_current, created_at, updated_at`

// YearRepository handles persistence for academic years and their periods.
type YearRepository struct {
	db *sqlx.DB
}

// NewYearRepository instantiates a year repository.
func NewYearRepository(db *sqlx.DB) *YearRepository {
	return &YearRepository{db: db}
}

// List returns years matching provided filters, latest first.
func (r *YearRepository) List(ctx context.Context, filter models.YearFilter) ([]models.Year, int, error) {
	base := "FROM years WHERE 1=1"
	var conditions []string
	var args []interface{}

	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)+1))
		args = append(args, filter.Status)
	}
	if len(conditions) > 0 {
		base += " AND " + strings.Join(conditions, " AND ")
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf("SELECT %s %s ORDER BY start_date DESC LIMIT %d OFFSET %d", yearColumns, base, size, offset)

	var years []models.Year
	if err := r.db.SelectContext(ctx, &years, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list years: %w", err)
	}

	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) "+base, args...); err != nil {
		return nil, 0, fmt.Errorf("count years: %w", err)
	}
	return years, total, nil
}

// FindByID loads a year by identifier.
func (r *YearRepository) FindByID(ctx context.Context, id string) (*models.Year, error) {
	const query = `SELECT ` + yearColumns + ` FROM years WHERE id = $1`
	var year models.Year
	if err := r.db.GetContext(ctx, &year, query, id); err != nil {
		return nil, err
	}
	return &year, nil
}

// FindCurrent returns the year flagged as current.
func (r *YearRepository) FindCurrent(ctx context.Context) (*models.Year, error) {
	const query = `SELECT ` + yearColumns + ` FROM years WHERE is_current = TRUE LIMIT 1`
	var year models.Year
	if err := r.db.GetContext(ctx, &year, query); err != nil {
		return nil, err
	}
	return &year, nil
}

// ExistsByLabel checks whether another year already uses label.
func (r *YearRepository) ExistsByLabel(ctx context.Context, label, excludeID string) (bool, error) {
	query := "SELECT 1 FROM years WHERE label = $1"
	args := []interface{}{label}
	if excludeID != "" {
		query += " AND id <> $2"
		args = append(args, excludeID)
	}
	var exists int
	if err := r.db.GetContext(ctx, &exists, query+" LIMIT 1", args...); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check year label: %w", err)
	}
	return true, nil
}

// Create inserts a new year.
func (r *YearRepository) Create(ctx context.Context, year *models.Year) error {
	if year.ID == "" {
		year.ID = uuid.NewString()
	}
	if year.Status == "" {
		year.Status = models.YearStatusUpcoming
	}
	now := time.Now().UTC()
	if year.CreatedAt.IsZero() {
		year.CreatedAt = now
	}
	year.UpdatedAt = now

	const query = `INSERT INTO years (id, label, start_date, end_date, status, is_current, created_at, updated_at)
	VALUES (:id, :label, :start_date, :end_date, :status, FALSE, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, year); err != nil {
		return fmt.Errorf("create year: %w", err)
	}
	return nil
}

// Update modifies label, bounds and status of a year. The current flag is
// only changed through SetCurrent.
func (r *YearRepository) Update(ctx context.Context, year *models.Year) error {
	year.UpdatedAt = time.Now().UTC()
	const query = `UPDATE years SET label = :label, start_date = :start_date, end_date = :end_date, status = :status, updated_at = :updated_at WHERE id = :id`
	result, err := r.db.NamedExecContext(ctx, query, year)
	if err != nil {
		return fmt.Errorf("update year: %w", err)
	}
	return requireRows(result, "year update")
}

// SetCurrent flags the provided year as current and clears the rest.
func (r *YearRepository) SetCurrent(ctx context.Context, id string) error {
	now := time.Now().UTC()
	return database.WithTx(ctx, r.db, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `UPDATE years SET is_current = FALSE, updated_at = $1 WHERE is_current = TRUE AND id <> $2`, now, id); err != nil {
			return fmt.Errorf("clear current year: %w", err)
		}
		result, err := tx.ExecContext(ctx, `UPDATE years SET is_current = TRUE, updated_at = $2 WHERE id = $1`, id, now)
		if err != nil {
			return fmt.Errorf("set current year: %w", err)
		}
		return requireRows(result, "current year")
	})
}

// ListPeriods returns the declared periods of a year in declaration order.
func (r *YearRepository) ListPeriods(ctx context.Context, yearID string) ([]models.PeriodRange, error) {
	const query = `SELECT year_id, label, position, start_date, end_date FROM term_periods WHERE year_id = $1 ORDER BY position ASC`
	var periods []models.PeriodRange
	if err := r.db.SelectContext(ctx, &periods, query, yearID); err != nil {
		return nil, fmt.Errorf("list term periods: %w", err)
	}
	return periods, nil
}

// ReplacePeriods swaps the declared periods of a year. Positions follow the
// order of the slice.
func (r *YearRepository) ReplacePeriods(ctx context.Context, yearID string, periods []models.PeriodRange) error {
	return database.WithTx(ctx, r.db, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM term_periods WHERE year_id = $1`, yearID); err != nil {
			return fmt.Errorf("clear term periods: %w", err)
		}
		for i := range periods {
			periods[i].YearID = yearID
			periods[i].Position = i
			const insert = `INSERT INTO term_periods (year_id, label, position, start_date, end_date)
			VALUES (:year_id, :label, :position, :start_date, :end_date)`
			if _, err := tx.NamedExecContext(ctx, insert, periods[i]); err != nil {
				return fmt.Errorf("insert term period %s: %w", periods[i].Label, err)
			}
		}
		return nil
	})
}

// LoadDefinition returns a year with its declared periods.
func (r *YearRepository) LoadDefinition(ctx context.Context, yearID string) (*models.TermDefinition, error) {
	year, err := r.FindByID(ctx, yearID)
	if err != nil {
		return nil, err
	}
	periods, err := r.ListPeriods(ctx, yearID)
	if err != nil {
		return nil, err
	}
	return &models.TermDefinition{Year: *year, Periods: periods}, nil
}
