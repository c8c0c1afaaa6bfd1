package models

import (
	"strings"
	"time"
)

// SubjectCategory classifies the identity a record belongs to.
type SubjectCategory string

const (
	SubjectCategoryStudent   SubjectCategory = "student"
	SubjectCategoryEmployee  SubjectCategory = "employee"
	SubjectCategoryDependent SubjectCategory = "dependent"
)

// Subject attributes used for autofill.
const (
	AttrFirstName  = "first_name"
	AttrMiddleName = "middle_name"
	AttrLastName   = "last_name"
	AttrFullName   = "full_name"
	AttrEmail      = "email"
	AttrPhone      = "phone"
	AttrCategory   = "category"
	AttrSex        = "sex"
	AttrBirthDate  = "birth_date"
	AttrAddress    = "address"
	AttrCity       = "city"
	AttrProvince   = "province"
)

// Subject is the read-only identity record owned by the identity provider.
type Subject struct {
	ID          string          `db:"id" json:"id"`
	FirstName   string          `db:"first_name" json:"first_name"`
	MiddleName  string          `db:"middle_name" json:"middle_name"`
	LastName    string          `db:"last_name" json:"last_name"`
	Email       string          `db:"email" json:"email"`
	Phone       string          `db:"phone" json:"phone"`
	Category    SubjectCategory `db:"category" json:"category"`
	Sex         string          `db:"sex" json:"sex"`
	BirthDate   *time.Time      `db:"birth_date" json:"birth_date,omitempty"`
	AddressLine string          `db:"address_line" json:"address_line"`
	City        string          `db:"city" json:"city"`
	Province    string          `db:"province" json:"province"`
}

// FullName joins the non-empty name parts.
func (s Subject) FullName() string {
	parts := make([]string, 0, 3)
	for _, p := range []string{s.FirstName, s.MiddleName, s.LastName} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, " ")
}

// Attributes exposes the stable attributes by name. Empty values are omitted.
func (s Subject) Attributes() map[string]string {
	attrs := map[string]string{
		AttrFirstName:  s.FirstName,
		AttrMiddleName: s.MiddleName,
		AttrLastName:   s.LastName,
		AttrFullName:   s.FullName(),
		AttrEmail:      s.Email,
		AttrPhone:      s.Phone,
		AttrCategory:   string(s.Category),
		AttrSex:        s.Sex,
		AttrAddress:    s.AddressLine,
		AttrCity:       s.City,
		AttrProvince:   s.Province,
	}
	if s.BirthDate != nil && !s.BirthDate.IsZero() {
		attrs[AttrBirthDate] = s.BirthDate.Format("2006-01-02")
	}
	for k, v := range attrs {
		if strings.TrimSpace(v) == "" {
			delete(attrs, k)
		}
	}
	return attrs
}
