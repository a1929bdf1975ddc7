package service

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/enrollease/enrollease-api/internal/models"
)

const defaultNormalizeBatch = 100

type legacyRecordStore interface {
	LegacyDocuments(ctx context.Context, afterID string, limit int) ([]models.RecordSnapshot, error)
	Merge(ctx context.Context, writer Writer, id string, patch models.DocumentPatch) (models.StudentRecord, error)
	RemoveFields(ctx context.Context, id string, keys []string) (models.StudentRecord, error)
}

// MigrationService rewrites legacy payment and certificate fields into the canonical ones and
// replaces plain-text student passwords with bcrypt hashes.
type MigrationService struct {
	store     legacyRecordStore
	batchSize int
	hashCost  int
	logger    *zap.Logger
}

// NewMigrationService constructs a MigrationService.
func NewMigrationService(store legacyRecordStore, batchSize int, logger *zap.Logger) *MigrationService {
	if batchSize <= 0 {
		batchSize = defaultNormalizeBatch
	}
	return &MigrationService{store: store, batchSize: batchSize, hashCost: bcrypt.DefaultCost, logger: loggerOrNop(logger)}
}

// NormalizeAll walks every document that still carries legacy fields. With dryRun set it only
// counts the documents that would be rewritten. A document that fails is reported and skipped.
func (s *MigrationService) NormalizeAll(ctx context.Context, dryRun bool) (*models.NormalizationReport, error) {
	report := &models.NormalizationReport{DryRun: dryRun}
	afterID := ""
	for {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		batch, err := s.store.LegacyDocuments(ctx, afterID, s.batchSize)
		if err != nil {
			return report, err
		}
		for _, snap := range batch {
			report.Scanned++
			rewritten, err := s.normalize(ctx, snap, dryRun)
			if err != nil {
				report.Failed = append(report.Failed, snap.ID)
				s.logger.Warn("normalize student document failed", zap.String("document_id", snap.ID), zap.Error(err))
				continue
			}
			if rewritten {
				report.Rewritten++
			}
		}
		if len(batch) < s.batchSize {
			break
		}
		afterID = batch[len(batch)-1].ID
	}
	s.logger.Info("legacy normalization finished",
		zap.Int("scanned", report.Scanned),
		zap.Int("rewritten", report.Rewritten),
		zap.Int("failed", len(report.Failed)),
		zap.Bool("dry_run", dryRun),
	)
	return report, nil
}

func (s *MigrationService) normalize(ctx context.Context, snap models.RecordSnapshot, dryRun bool) (bool, error) {
	doc, err := models.ParseStudentDocument(snap.Data)
	if err != nil {
		return false, err
	}
	patch := models.NormalizationPatch(doc)
	if patch == nil {
		return false, nil
	}
	legacy, err := legacyKeys(snap.Data)
	if err != nil {
		return false, err
	}
	if dryRun {
		return true, nil
	}
	if doc.StudentPassword != "" && doc.PasswordHash == "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(doc.StudentPassword), s.hashCost)
		if err != nil {
			return false, fmt.Errorf("hash legacy password: %w", err)
		}
		patch[models.FieldPasswordHash] = string(hash)
	}
	if len(patch) > 0 {
		if _, err := s.store.Merge(ctx, WriterRegistrar, snap.ID, patch); err != nil {
			return false, err
		}
	}
	if len(legacy) > 0 {
		if _, err := s.store.RemoveFields(ctx, snap.ID, legacy); err != nil {
			return false, err
		}
	}
	return true, nil
}

func legacyKeys(raw []byte) ([]string, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(models.LegacyFields))
	for _, key := range models.LegacyFields {
		if _, ok := fields[key]; ok {
			keys = append(keys, key)
		}
	}
	return keys, nil
}
