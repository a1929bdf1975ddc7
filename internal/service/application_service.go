package service

import (
	"context"
	"fmt"
	"net/http"
	"path"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/enrollease/enrollease-api/internal/enrollment"
	"github.com/enrollease/enrollease-api/internal/models"
	"github.com/enrollease/enrollease-api/pkg/collaborator"
	appErrors "github.com/enrollease/enrollease-api/pkg/errors"
)

const draftKeyPrefix = "draft:"

type applicationStore interface {
	Get(ctx context.Context, id string) (models.StudentRecord, error)
	FindBy(ctx context.Context, field models.StudentLookupField, value string) ([]models.StudentRecord, error)
	Create(ctx context.Context, id string, patch models.DocumentPatch) (models.StudentRecord, error)
	Merge(ctx context.Context, writer Writer, id string, patch models.DocumentPatch) (models.StudentRecord, error)
}

type objectUploader interface {
	Upload(ctx context.Context, objectPath string, data []byte, contentType string) error
}

type draftCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

type programCatalog interface {
	ProgramOffered(ctx context.Context, code string) (bool, error)
}

// ConfirmationTracker is told about committed writes so live views can show them as pending
// until the snapshot arrives.
type ConfirmationTracker interface {
	ExpectConfirmation(id string, action enrollment.Action, version int64)
}

// ApplicationConfig bounds uploads and drafts.
type ApplicationConfig struct {
	MaxUploadBytes int64
	AllowedMIMEs   []string
	DraftTTL       time.Duration
}

// ApplicationService runs the applicant side of the journey up to submission.
type ApplicationService struct {
	store    applicationStore
	objects  objectUploader
	drafts   draftCache
	catalog  programCatalog
	tracker  ConfirmationTracker
	calendar Calendar
	caller   *collaborator.Caller
	config   ApplicationConfig
	logger   *zap.Logger
}

// NewApplicationService constructs an ApplicationService.
func NewApplicationService(store applicationStore, objects objectUploader, drafts draftCache, catalog programCatalog, tracker ConfirmationTracker, cal Calendar, caller *collaborator.Caller, config ApplicationConfig, logger *zap.Logger) *ApplicationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if caller == nil {
		caller = collaborator.NewCaller(collaborator.Options{Logger: logger})
	}
	if config.MaxUploadBytes <= 0 {
		config.MaxUploadBytes = 5 * 1024 * 1024
	}
	if len(config.AllowedMIMEs) == 0 {
		config.AllowedMIMEs = []string{"image/*", "application/pdf"}
	}
	if config.DraftTTL <= 0 {
		config.DraftTTL = 30 * 24 * time.Hour
	}
	return &ApplicationService{
		store:    store,
		objects:  objects,
		drafts:   drafts,
		catalog:  catalog,
		tracker:  tracker,
		calendar: cal,
		caller:   caller,
		config:   config,
		logger:   logger,
	}
}

// Start creates the application document for an applicant session. The document id is the
// session id, so calling Start again returns the existing document.
func (s *ApplicationService) Start(ctx context.Context, applicantUID string) (models.StudentRecord, error) {
	record, err := s.store.Get(ctx, applicantUID)
	if err == nil {
		if record.ApplicantUID != applicantUID {
			return models.StudentRecord{}, appErrors.Clone(appErrors.ErrForbidden, "application belongs to another session")
		}
		return record, nil
	}
	if !appErrors.IsCode(err, appErrors.ErrNotFound.Code) {
		return models.StudentRecord{}, err
	}
	record, err = s.store.Create(ctx, applicantUID, models.NewApplicationPatch(applicantUID, s.calendar.now()))
	if err != nil {
		return models.StudentRecord{}, err
	}
	s.logger.Info("application started", zap.String("document_id", record.ID))
	return record, nil
}

// Get returns the applicant's own application.
func (s *ApplicationService) Get(ctx context.Context, applicantUID, id string) (models.StudentRecord, error) {
	return s.owned(ctx, applicantUID, id)
}

// UploadDocument stores one required document and records its path on the application.
func (s *ApplicationService) UploadDocument(ctx context.Context, applicantUID, id, rawKind string, data []byte, contentType string) (models.StudentRecord, error) {
	kind, ok := models.ParseDocumentKind(rawKind)
	if !ok {
		return models.StudentRecord{}, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown document %q", rawKind))
	}
	if len(data) == 0 {
		return models.StudentRecord{}, appErrors.Clone(appErrors.ErrValidation, "the uploaded file is empty")
	}
	if int64(len(data)) > s.config.MaxUploadBytes {
		return models.StudentRecord{}, appErrors.Clone(appErrors.ErrPayloadTooLarge, fmt.Sprintf("file must be at most %d MB", s.config.MaxUploadBytes/(1024*1024)))
	}
	contentType = normalizeContentType(contentType, data)
	if !mimeAllowed(contentType, s.config.AllowedMIMEs) {
		return models.StudentRecord{}, appErrors.Clone(appErrors.ErrValidation, "only images and PDF files can be uploaded")
	}

	record, err := s.owned(ctx, applicantUID, id)
	if err != nil {
		return models.StudentRecord{}, err
	}
	if err := enrollment.CanPerform(enrollment.ActionSubmitApplication, record, s.calendar.Windows, s.calendar.now()).Err(); err != nil {
		return models.StudentRecord{}, err
	}

	objectPath := path.Join(id, "documents", string(kind)+extensionFor(contentType))
	err = s.caller.Do(ctx, collaborator.ObjectStore, "upload", func(ctx context.Context) error {
		return s.objects.Upload(ctx, objectPath, data, contentType)
	})
	if err != nil {
		s.logger.Warn("document upload failed", zap.String("document_id", id), zap.String("kind", string(kind)), zap.Error(err))
		return models.StudentRecord{}, err
	}

	return s.store.Merge(ctx, WriterApplicant, id, models.DocumentUploadPatch(kind, objectPath))
}

// SaveDraft caches an unsubmitted form.
func (s *ApplicationService) SaveDraft(ctx context.Context, applicantUID, id string, form models.ApplicationForm) error {
	if _, err := s.owned(ctx, applicantUID, id); err != nil {
		return err
	}
	if s.drafts == nil {
		return appErrors.Clone(appErrors.ErrUnavailable, "drafts are not available")
	}
	return s.caller.Do(ctx, collaborator.Cache, "save_draft", func(ctx context.Context) error {
		return s.drafts.Set(ctx, draftKeyPrefix+id, form, s.config.DraftTTL)
	})
}

// LoadDraft returns the cached form.
func (s *ApplicationService) LoadDraft(ctx context.Context, applicantUID, id string) (*models.ApplicationForm, error) {
	if _, err := s.owned(ctx, applicantUID, id); err != nil {
		return nil, err
	}
	if s.drafts == nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "no saved draft")
	}
	var form models.ApplicationForm
	err := s.caller.Do(ctx, collaborator.Cache, "load_draft", func(ctx context.Context) error {
		return s.drafts.Get(ctx, draftKeyPrefix+id, &form)
	})
	if err != nil {
		if appErrors.IsCode(err, appErrors.ErrCacheMiss.Code) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "no saved draft")
		}
		return nil, err
	}
	return &form, nil
}

// ClearDraft removes the cached form.
func (s *ApplicationService) ClearDraft(ctx context.Context, applicantUID, id string) error {
	if _, err := s.owned(ctx, applicantUID, id); err != nil {
		return err
	}
	if s.drafts == nil {
		return nil
	}
	return s.caller.Do(ctx, collaborator.Cache, "clear_draft", func(ctx context.Context) error {
		return s.drafts.Delete(ctx, draftKeyPrefix+id)
	})
}

// Submit validates and writes the application. Re-submitting the same document is allowed
// until an assessment is booked; an e-mail held by another document is a conflict.
func (s *ApplicationService) Submit(ctx context.Context, applicantUID, id string, form models.ApplicationForm) (models.StudentRecord, error) {
	record, err := s.owned(ctx, applicantUID, id)
	if err != nil {
		return models.StudentRecord{}, err
	}
	now := s.calendar.now()
	if err := enrollment.CanPerform(enrollment.ActionSubmitApplication, record, s.calendar.Windows, now).Err(); err != nil {
		return models.StudentRecord{}, err
	}

	identity := form.Identity()
	input := enrollment.ApplicationInput{
		Identity:    identity,
		Application: form.Application(record.Application),
		DocumentID:  id,
	}
	if err := enrollment.CheckApplication(input, now, s.calendar.Windows.Loc()).Err(); err != nil {
		return models.StudentRecord{}, err
	}

	if s.catalog != nil {
		offered, err := s.catalog.ProgramOffered(ctx, input.Application.Program)
		if err != nil {
			return models.StudentRecord{}, err
		}
		if !offered {
			return models.StudentRecord{}, appErrors.Clone(appErrors.ErrValidation, "Please select a program that is currently offered.")
		}
	}

	owners, err := s.store.FindBy(ctx, models.LookupByEmail, identity.Email)
	if err != nil {
		return models.StudentRecord{}, err
	}
	for _, owner := range owners {
		if owner.ID != id {
			input.EmailOwner = owner.ID
			break
		}
	}
	if err := enrollment.CheckApplication(input, now, s.calendar.Windows.Loc()).Err(); err != nil {
		return models.StudentRecord{}, err
	}

	updated, err := s.store.Merge(ctx, WriterApplicant, id, models.ApplicationSubmitPatch(identity, input.Application, now))
	if err != nil {
		return models.StudentRecord{}, err
	}
	if s.tracker != nil {
		s.tracker.ExpectConfirmation(id, enrollment.ActionSubmitApplication, updated.Version)
	}
	if s.drafts != nil {
		if err := s.drafts.Delete(ctx, draftKeyPrefix+id); err != nil {
			s.logger.Warn("clear draft after submit failed", zap.String("document_id", id), zap.Error(err))
		}
	}
	s.logger.Info("application submitted", zap.String("document_id", id), zap.Bool("resubmission", record.Application.Submitted()))
	return updated, nil
}

func (s *ApplicationService) owned(ctx context.Context, applicantUID, id string) (models.StudentRecord, error) {
	if applicantUID == "" || applicantUID != id {
		return models.StudentRecord{}, appErrors.Clone(appErrors.ErrForbidden, "application belongs to another session")
	}
	record, err := s.store.Get(ctx, id)
	if err != nil {
		return models.StudentRecord{}, err
	}
	if record.ApplicantUID != applicantUID {
		return models.StudentRecord{}, appErrors.Clone(appErrors.ErrForbidden, "application belongs to another session")
	}
	return record, nil
}

func normalizeContentType(contentType string, data []byte) string {
	contentType = strings.ToLower(strings.TrimSpace(contentType))
	if i := strings.Index(contentType, ";"); i >= 0 {
		contentType = strings.TrimSpace(contentType[:i])
	}
	if contentType == "" || contentType == "application/octet-stream" {
		detected := http.DetectContentType(data)
		if i := strings.Index(detected, ";"); i >= 0 {
			detected = detected[:i]
		}
		return detected
	}
	return contentType
}

func mimeAllowed(contentType string, allowed []string) bool {
	for _, pattern := range allowed {
		pattern = strings.ToLower(strings.TrimSpace(pattern))
		if strings.HasSuffix(pattern, "/*") {
			if strings.HasPrefix(contentType, strings.TrimSuffix(pattern, "*")) {
				return true
			}
			continue
		}
		if contentType == pattern {
			return true
		}
	}
	return false
}

func extensionFor(contentType string) string {
	switch contentType {
	case "application/pdf":
		return ".pdf"
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	}
	return ""
}
