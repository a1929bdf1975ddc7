package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/enrollease/enrollease-api/internal/models"
	appErrors "github.com/enrollease/enrollease-api/pkg/errors"
)

type studentFinder interface {
	FindBy(ctx context.Context, field models.StudentLookupField, value string) ([]models.StudentRecord, error)
}

// StudentResolver resolves students by the single configured lookup field.
type StudentResolver struct {
	store studentFinder
	field models.StudentLookupField
}

// NewStudentResolver validates the configured field.
func NewStudentResolver(store studentFinder, field models.StudentLookupField) (*StudentResolver, error) {
	if !field.Valid() {
		return nil, fmt.Errorf("unsupported student lookup field %q", field)
	}
	return &StudentResolver{store: store, field: field}, nil
}

// Field returns the configured lookup field.
func (r *StudentResolver) Field() models.StudentLookupField {
	return r.field
}

// Resolve returns the one student whose lookup field equals value.
func (r *StudentResolver) Resolve(ctx context.Context, value string) (models.StudentRecord, error) {
	value = strings.TrimSpace(value)
	if r.field == models.LookupByEmail {
		value = strings.ToLower(value)
	}
	if value == "" {
		return models.StudentRecord{}, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("%s is required", r.field))
	}
	records, err := r.store.FindBy(ctx, r.field, value)
	if err != nil {
		return models.StudentRecord{}, err
	}
	switch len(records) {
	case 0:
		return models.StudentRecord{}, appErrors.Clone(appErrors.ErrNotFound, "student not found")
	case 1:
		return records[0], nil
	default:
		return models.StudentRecord{}, appErrors.Clone(appErrors.ErrConflict, fmt.Sprintf("more than one student has this %s", r.field))
	}
}
