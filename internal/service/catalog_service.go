package service

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/enrollease/enrollease-api/internal/models"
	"github.com/enrollease/enrollease-api/pkg/collaborator"
	appErrors "github.com/enrollease/enrollease-api/pkg/errors"
	"github.com/enrollease/enrollease-api/pkg/export"
)

const (
	catalogProgramsKey  = "catalog:programs"
	catalogFeesPrefix   = "catalog:fees:"
	catalogCachePattern = "catalog:*"
)

type catalogRepository interface {
	ListPrograms(ctx context.Context, includeInactive bool) ([]models.Program, error)
	ListFees(ctx context.Context, programCode string) ([]models.MiscFee, error)
}

// CatalogService serves programs and fees, read through the cache.
type CatalogService struct {
	repo   catalogRepository
	cache  *CacheService
	caller *collaborator.Caller
	ttl    time.Duration
	logger *zap.Logger
}

// NewCatalogService constructs a CatalogService.
func NewCatalogService(repo catalogRepository, cache *CacheService, caller *collaborator.Caller, ttl time.Duration, logger *zap.Logger) *CatalogService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if caller == nil {
		caller = collaborator.NewCaller(collaborator.Options{Logger: logger})
	}
	return &CatalogService{repo: repo, cache: cache, caller: caller, ttl: ttl, logger: logger}
}

// Programs lists the active programs.
func (s *CatalogService) Programs(ctx context.Context) ([]models.Program, error) {
	return Remember(ctx, s.cache, catalogProgramsKey, s.ttl, func(ctx context.Context) ([]models.Program, error) {
		programs, err := collaborator.Call(ctx, s.caller, collaborator.DocumentStore, "list_programs", func(ctx context.Context) ([]models.Program, error) {
			return s.repo.ListPrograms(ctx, false)
		})
		if err != nil {
			return nil, err
		}
		if programs == nil {
			programs = []models.Program{}
		}
		return programs, nil
	})
}

// ProgramOffered reports whether code names an active program.
func (s *CatalogService) ProgramOffered(ctx context.Context, code string) (bool, error) {
	programs, err := s.Programs(ctx)
	if err != nil {
		return false, err
	}
	code = strings.TrimSpace(code)
	for _, program := range programs {
		if strings.EqualFold(program.Code, code) {
			return true, nil
		}
	}
	return false, nil
}

// Fees returns the fee lines for a program.
func (s *CatalogService) Fees(ctx context.Context, programCode string) ([]models.MiscFee, error) {
	return Remember(ctx, s.cache, catalogFeesPrefix+programCode, s.ttl, func(ctx context.Context) ([]models.MiscFee, error) {
		fees, err := collaborator.Call(ctx, s.caller, collaborator.DocumentStore, "list_fees", func(ctx context.Context) ([]models.MiscFee, error) {
			return s.repo.ListFees(ctx, programCode)
		})
		if err != nil {
			return nil, err
		}
		if fees == nil {
			fees = []models.MiscFee{}
		}
		return fees, nil
	})
}

// FeeSummary totals the fees of a program.
func (s *CatalogService) FeeSummary(ctx context.Context, programCode string, paid bool) (*models.FeeSummary, error) {
	if strings.TrimSpace(programCode) == "" {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "no program is recorded on your application")
	}
	fees, err := s.Fees(ctx, programCode)
	if err != nil {
		return nil, err
	}
	var total int64
	for _, fee := range fees {
		total += fee.AmountCents
	}
	return &models.FeeSummary{
		Program:    programCode,
		Items:      fees,
		TotalCents: total,
		Total:      export.FormatPeso(total),
		Paid:       paid,
	}, nil
}

// Invalidate drops cached catalog entries.
func (s *CatalogService) Invalidate(ctx context.Context) error {
	return s.cache.Invalidate(ctx, catalogCachePattern)
}
