package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/enrollease/enrollease-api/internal/models"
	"github.com/enrollease/enrollease-api/pkg/collaborator"
	appErrors "github.com/enrollease/enrollease-api/pkg/errors"
)

type studentDocumentRepository interface {
	Get(ctx context.Context, id string) (models.RecordSnapshot, error)
	Query(ctx context.Context, field models.StudentLookupField, value string) ([]models.RecordSnapshot, error)
	Set(ctx context.Context, id string, patch models.DocumentPatch, merge bool) (models.RecordSnapshot, error)
	Update(ctx context.Context, id string, patch models.DocumentPatch) (models.RecordSnapshot, error)
	RemoveFields(ctx context.Context, id string, keys []string) (models.RecordSnapshot, error)
	List(ctx context.Context, filter models.StudentFilter) ([]models.RecordSnapshot, int, error)
	ListLegacy(ctx context.Context, afterID string, limit int) ([]models.RecordSnapshot, error)
}

// RecordFeed publishes and subscribes to committed document snapshots.
type RecordFeed interface {
	Publish(ctx context.Context, snap models.RecordSnapshot) error
	Subscribe(ctx context.Context, id string) (models.FeedSubscription, error)
}

// Writer identifies who is writing a student document.
type Writer string

const (
	WriterApplicant Writer = "applicant"
	WriterStudent   Writer = "student"
	WriterRegistrar Writer = "registrar"
	// WriterAuth may only replace the password hash.
	WriterAuth Writer = "auth"
)

// RecordStore is the remote student record: document reads and writes through the collaborator
// caller, with every committed write published to the feed.
type RecordStore struct {
	repo   studentDocumentRepository
	feed   RecordFeed
	caller *collaborator.Caller
	logger *zap.Logger
}

// NewRecordStore constructs a RecordStore.
func NewRecordStore(repo studentDocumentRepository, feed RecordFeed, caller *collaborator.Caller, logger *zap.Logger) *RecordStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	if caller == nil {
		caller = collaborator.NewCaller(collaborator.Options{Logger: logger})
	}
	return &RecordStore{repo: repo, feed: feed, caller: caller, logger: logger}
}

// Snapshot returns the raw current snapshot of a document.
func (s *RecordStore) Snapshot(ctx context.Context, id string) (models.RecordSnapshot, error) {
	return collaborator.Call(ctx, s.caller, collaborator.DocumentStore, "get", func(ctx context.Context) (models.RecordSnapshot, error) {
		return s.repo.Get(ctx, id)
	})
}

// Get returns the decoded record.
func (s *RecordStore) Get(ctx context.Context, id string) (models.StudentRecord, error) {
	snap, err := s.Snapshot(ctx, id)
	if err != nil {
		return models.StudentRecord{}, err
	}
	return decodeSnapshot(snap)
}

// Document returns the stored wire document, including legacy fields.
func (s *RecordStore) Document(ctx context.Context, id string) (models.StudentDocument, error) {
	snap, err := s.Snapshot(ctx, id)
	if err != nil {
		return models.StudentDocument{}, err
	}
	doc, err := models.ParseStudentDocument(snap.Data)
	if err != nil {
		return models.StudentDocument{}, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to decode student record")
	}
	return doc, nil
}

// FindBy returns the records whose field equals value, oldest first.
func (s *RecordStore) FindBy(ctx context.Context, field models.StudentLookupField, value string) ([]models.StudentRecord, error) {
	snaps, err := collaborator.Call(ctx, s.caller, collaborator.DocumentStore, "query", func(ctx context.Context) ([]models.RecordSnapshot, error) {
		return s.repo.Query(ctx, field, value)
	})
	if err != nil {
		return nil, err
	}
	return decodeSnapshots(snaps)
}

// List returns a page of submitted records for the registrar.
func (s *RecordStore) List(ctx context.Context, filter models.StudentFilter) ([]models.StudentRecord, int, error) {
	var (
		snaps []models.RecordSnapshot
		total int
	)
	err := s.caller.Do(ctx, collaborator.DocumentStore, "list", func(ctx context.Context) error {
		var err error
		snaps, total, err = s.repo.List(ctx, filter)
		return err
	})
	if err != nil {
		return nil, 0, err
	}
	records, err := decodeSnapshots(snaps)
	return records, total, err
}

// LegacyDocuments pages through documents that still carry legacy fields.
func (s *RecordStore) LegacyDocuments(ctx context.Context, afterID string, limit int) ([]models.RecordSnapshot, error) {
	return collaborator.Call(ctx, s.caller, collaborator.DocumentStore, "list_legacy", func(ctx context.Context) ([]models.RecordSnapshot, error) {
		return s.repo.ListLegacy(ctx, afterID, limit)
	})
}

// Create writes a new document, replacing any document with the same id.
func (s *RecordStore) Create(ctx context.Context, id string, patch models.DocumentPatch) (models.StudentRecord, error) {
	if err := checkOwnership(WriterApplicant, patch); err != nil {
		return models.StudentRecord{}, err
	}
	return s.commit(ctx, "create", func(ctx context.Context) (models.RecordSnapshot, error) {
		return s.repo.Set(ctx, id, patch, false)
	})
}

// Merge merges patch into the document, creating it when absent.
func (s *RecordStore) Merge(ctx context.Context, writer Writer, id string, patch models.DocumentPatch) (models.StudentRecord, error) {
	if err := checkOwnership(writer, patch); err != nil {
		return models.StudentRecord{}, err
	}
	return s.commit(ctx, "set", func(ctx context.Context) (models.RecordSnapshot, error) {
		return s.repo.Set(ctx, id, patch, true)
	})
}

// Update merges patch into an existing document.
func (s *RecordStore) Update(ctx context.Context, writer Writer, id string, patch models.DocumentPatch) (models.StudentRecord, error) {
	if err := checkOwnership(writer, patch); err != nil {
		return models.StudentRecord{}, err
	}
	return s.commit(ctx, "update", func(ctx context.Context) (models.RecordSnapshot, error) {
		return s.repo.Update(ctx, id, patch)
	})
}

// RemoveFields drops legacy top-level fields. Only maintenance jobs call it.
func (s *RecordStore) RemoveFields(ctx context.Context, id string, keys []string) (models.StudentRecord, error) {
	return s.commit(ctx, "remove_fields", func(ctx context.Context) (models.RecordSnapshot, error) {
		return s.repo.RemoveFields(ctx, id, keys)
	})
}

// Subscribe opens a snapshot subscription for one document.
func (s *RecordStore) Subscribe(ctx context.Context, id string) (models.FeedSubscription, error) {
	return collaborator.Call(ctx, s.caller, collaborator.Feed, "subscribe", func(ctx context.Context) (models.FeedSubscription, error) {
		return s.feed.Subscribe(ctx, id)
	})
}

func (s *RecordStore) commit(ctx context.Context, operation string, write func(context.Context) (models.RecordSnapshot, error)) (models.StudentRecord, error) {
	snap, err := collaborator.Call(ctx, s.caller, collaborator.DocumentStore, operation, write)
	if err != nil {
		return models.StudentRecord{}, err
	}
	s.publish(ctx, snap)
	return decodeSnapshot(snap)
}

func (s *RecordStore) publish(ctx context.Context, snap models.RecordSnapshot) {
	if s.feed == nil {
		return
	}
	// subscribers resynchronise on their own, so a lost publish only delays them
	err := s.caller.Do(ctx, collaborator.Feed, "publish", func(ctx context.Context) error {
		return s.feed.Publish(ctx, snap)
	})
	if err != nil {
		s.logger.Warn("publish student snapshot failed",
			zap.String("document_id", snap.ID),
			zap.Int64("version", snap.Version),
			zap.Error(err),
		)
	}
}

func checkOwnership(writer Writer, patch models.DocumentPatch) error {
	switch writer {
	case WriterRegistrar:
		return nil
	case WriterStudent:
		if patch.OnlyTouches(models.StudentProgressFields...) {
			return nil
		}
	case WriterApplicant:
		if patch.OnlyTouches(models.ApplicationFields...) {
			return nil
		}
	case WriterAuth:
		if patch.OnlyTouches(models.FieldPasswordHash) {
			return nil
		}
	}
	return appErrors.Clone(appErrors.ErrForbidden, "this field can only be changed by the registrar")
}

func decodeSnapshot(snap models.RecordSnapshot) (models.StudentRecord, error) {
	record, err := snap.Decode()
	if err != nil {
		return models.StudentRecord{}, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to decode student record")
	}
	return record, nil
}

func decodeSnapshots(snaps []models.RecordSnapshot) ([]models.StudentRecord, error) {
	records := make([]models.StudentRecord, 0, len(snaps))
	for _, snap := range snaps {
		record, err := decodeSnapshot(snap)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, nil
}
