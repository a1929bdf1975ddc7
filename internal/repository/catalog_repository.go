package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/enrollease/enrollease-api/internal/models"
)

// CatalogRepository reads programs and miscellaneous fees.
type CatalogRepository struct {
	db *sqlx.DB
}

// NewCatalogRepository constructs a CatalogRepository.
func NewCatalogRepository(db *sqlx.DB) *CatalogRepository {
	return &CatalogRepository{db: db}
}

// ListPrograms returns programs ordered by name. Inactive programs are included only when
// requested.
func (r *CatalogRepository) ListPrograms(ctx context.Context, includeInactive bool) ([]models.Program, error) {
	query := "SELECT code, name, active FROM programs"
	if !includeInactive {
		query += " WHERE active = TRUE"
	}
	query += " ORDER BY name ASC"

	var programs []models.Program
	if err := r.db.SelectContext(ctx, &programs, query); err != nil {
		return nil, fmt.Errorf("list programs: %w", err)
	}
	return programs, nil
}

// FindProgram returns one program by code.
func (r *CatalogRepository) FindProgram(ctx context.Context, code string) (*models.Program, error) {
	var program models.Program
	if err := r.db.GetContext(ctx, &program, "SELECT code, name, active FROM programs WHERE code = $1", code); err != nil {
		return nil, fmt.Errorf("find program %s: %w", code, err)
	}
	return &program, nil
}

// ListFees returns the fees that apply to a program, including program-agnostic fees.
func (r *CatalogRepository) ListFees(ctx context.Context, programCode string) ([]models.MiscFee, error) {
	const query = `SELECT id, code, label, amount_cents, program_code FROM misc_fees
		WHERE program_code IS NULL OR program_code = $1
		ORDER BY code ASC`
	var fees []models.MiscFee
	if err := r.db.SelectContext(ctx, &fees, query, programCode); err != nil {
		return nil, fmt.Errorf("list fees for %s: %w", programCode, err)
	}
	return fees, nil
}

// Ping checks database connectivity.
func (r *CatalogRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}
