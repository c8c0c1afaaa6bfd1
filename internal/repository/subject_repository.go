package repository

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/campus-health-api/internal/models"
)

// SubjectRepository reads identities mirrored from the identity provider.
// The table is owned upstream; this service never writes to it.
type SubjectRepository struct {
	db *sqlx.DB
}

// NewSubjectRepository creates a new repository instance.
func NewSubjectRepository(db *sqlx.DB) *SubjectRepository {
	return &SubjectRepository{db: db}
}

// GetSubject loads a subject by identifier.
func (r *SubjectRepository) GetSubject(ctx context.Context, id string) (*models.Subject, error) {
	const query = `SELECT id, first_name, middle_name, last_name, email, phone, category, sex, birth_date, address_line, city, province
	FROM subjects WHERE id = $1`
	var subject models.Subject
	if err := r.db.GetContext(ctx, &subject, query, id); err != nil {
		return nil, err
	}
	return &subject, nil
}
