package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/enrollease/enrollease-api/internal/enrollment"
	"github.com/enrollease/enrollease-api/internal/models"
	"github.com/enrollease/enrollease-api/pkg/collaborator"
	appErrors "github.com/enrollease/enrollease-api/pkg/errors"
)

type studentRecordStore interface {
	Get(ctx context.Context, id string) (models.StudentRecord, error)
	Update(ctx context.Context, writer Writer, id string, patch models.DocumentPatch) (models.StudentRecord, error)
}

type objectLinker interface {
	DownloadURL(ctx context.Context, objectPath string) (string, time.Time, error)
}

type feeCatalog interface {
	FeeSummary(ctx context.Context, programCode string, paid bool) (*models.FeeSummary, error)
}

func loggerOrNop(logger *zap.Logger) *zap.Logger {
	if logger == nil {
		return zap.NewNop()
	}
	return logger
}

func expect(tracker ConfirmationTracker, id string, action enrollment.Action, version int64) {
	if tracker != nil {
		tracker.ExpectConfirmation(id, action, version)
	}
}

// AssessmentService books assessment appointments.
type AssessmentService struct {
	store    studentRecordStore
	tracker  ConfirmationTracker
	calendar Calendar
	logger   *zap.Logger
}

// NewAssessmentService constructs an AssessmentService.
func NewAssessmentService(store studentRecordStore, tracker ConfirmationTracker, cal Calendar, logger *zap.Logger) *AssessmentService {
	return &AssessmentService{store: store, tracker: tracker, calendar: cal, logger: loggerOrNop(logger)}
}

// Book writes a pending appointment. A disapproved appointment may be rebooked.
func (s *AssessmentService) Book(ctx context.Context, id string, booking enrollment.Booking) (models.StudentRecord, error) {
	record, err := s.store.Get(ctx, id)
	if err != nil {
		return models.StudentRecord{}, err
	}
	now := s.calendar.now()
	if err := enrollment.CheckBooking(record, booking, s.calendar.Windows, now).Err(); err != nil {
		return models.StudentRecord{}, err
	}

	bookedAt := now.UTC()
	updated, err := s.store.Update(ctx, WriterStudent, id, models.AppointmentPatch(models.Appointment{
		Date:     booking.Date,
		Time:     booking.Time,
		Status:   models.AppointmentPending,
		BookedAt: &bookedAt,
	}))
	if err != nil {
		return models.StudentRecord{}, err
	}
	expect(s.tracker, id, enrollment.ActionBookAssessment, updated.Version)
	s.logger.Info("assessment booked", zap.String("document_id", id), zap.String("date", booking.Date), zap.String("slot", string(booking.Time)))
	return updated, nil
}

// PreRegistrationService accepts the pre-registration form.
type PreRegistrationService struct {
	store    studentRecordStore
	tracker  ConfirmationTracker
	calendar Calendar
	logger   *zap.Logger
}

// NewPreRegistrationService constructs a PreRegistrationService.
func NewPreRegistrationService(store studentRecordStore, tracker ConfirmationTracker, cal Calendar, logger *zap.Logger) *PreRegistrationService {
	return &PreRegistrationService{store: store, tracker: tracker, calendar: cal, logger: loggerOrNop(logger)}
}

// Submit writes the form once the appointment is approved.
func (s *PreRegistrationService) Submit(ctx context.Context, id string, payload models.PreRegistrationPayload) (models.StudentRecord, error) {
	record, err := s.store.Get(ctx, id)
	if err != nil {
		return models.StudentRecord{}, err
	}
	now := s.calendar.now()
	if err := enrollment.CheckPreRegistration(record, payload, s.calendar.Windows, now).Err(); err != nil {
		return models.StudentRecord{}, err
	}
	updated, err := s.store.Update(ctx, WriterStudent, id, models.PreRegistrationPatch(payload, now))
	if err != nil {
		return models.StudentRecord{}, err
	}
	expect(s.tracker, id, enrollment.ActionSubmitPreRegistration, updated.Version)
	s.logger.Info("pre-registration submitted", zap.String("document_id", id))
	return updated, nil
}

// LineupService shows and acknowledges the course line-up.
type LineupService struct {
	store    studentRecordStore
	tracker  ConfirmationTracker
	calendar Calendar
	logger   *zap.Logger
}

// NewLineupService constructs a LineupService.
func NewLineupService(store studentRecordStore, tracker ConfirmationTracker, cal Calendar, logger *zap.Logger) *LineupService {
	return &LineupService{store: store, tracker: tracker, calendar: cal, logger: loggerOrNop(logger)}
}

// View returns the published line-up.
func (s *LineupService) View(ctx context.Context, id string) (*models.LineupView, error) {
	record, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := enrollment.CanPerform(enrollment.ActionViewCourseLineup, record, s.calendar.Windows, s.calendar.now()).Err(); err != nil {
		return nil, err
	}
	return lineupOf(record), nil
}

// Acknowledge submits the line-up. A second acknowledgement is rejected.
func (s *LineupService) Acknowledge(ctx context.Context, id string) (*models.LineupView, error) {
	record, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := enrollment.CanPerform(enrollment.ActionAcknowledgeCourseLineup, record, s.calendar.Windows, s.calendar.now()).Err(); err != nil {
		return nil, err
	}
	updated, err := s.store.Update(ctx, WriterStudent, id, models.RegistrationSubmittedPatch())
	if err != nil {
		return nil, err
	}
	expect(s.tracker, id, enrollment.ActionAcknowledgeCourseLineup, updated.Version)
	s.logger.Info("course line-up acknowledged", zap.String("document_id", id), zap.Float64("units", updated.TotalUnits()))
	return lineupOf(updated), nil
}

func lineupOf(record models.StudentRecord) *models.LineupView {
	schedules := record.Schedules
	if schedules == nil {
		schedules = []models.CourseMeeting{}
	}
	return &models.LineupView{
		Schedules:    schedules,
		TotalUnits:   record.TotalUnits(),
		Acknowledged: record.RegistrationStatus == models.RegistrationSubmitted,
	}
}

// FinanceService shows fees and the certificate of registration.
type FinanceService struct {
	store    studentRecordStore
	catalog  feeCatalog
	objects  objectLinker
	caller   *collaborator.Caller
	calendar Calendar
	logger   *zap.Logger
}

// NewFinanceService constructs a FinanceService.
func NewFinanceService(store studentRecordStore, catalog feeCatalog, objects objectLinker, caller *collaborator.Caller, cal Calendar, logger *zap.Logger) *FinanceService {
	logger = loggerOrNop(logger)
	if caller == nil {
		caller = collaborator.NewCaller(collaborator.Options{Logger: logger})
	}
	return &FinanceService{store: store, catalog: catalog, objects: objects, caller: caller, calendar: cal, logger: logger}
}

// Fees returns the fee assessment for the student's program.
func (s *FinanceService) Fees(ctx context.Context, id string) (*models.FeeSummary, error) {
	record, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := enrollment.CanPerform(enrollment.ActionViewFees, record, s.calendar.Windows, s.calendar.now()).Err(); err != nil {
		return nil, err
	}
	return s.catalog.FeeSummary(ctx, record.Application.Program, record.Finance.Paid)
}

// Certificate returns a link to the certificate of registration. Stored certificates get a
// signed, expiring URL.
func (s *FinanceService) Certificate(ctx context.Context, id string) (*models.CertificateLink, error) {
	record, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := enrollment.CanPerform(enrollment.ActionViewCertificate, record, s.calendar.Windows, s.calendar.now()).Err(); err != nil {
		return nil, err
	}
	cert := record.Certificate
	if cert.URL != "" {
		return &models.CertificateLink{URL: cert.URL}, nil
	}
	if s.objects == nil {
		return nil, appErrors.Clone(appErrors.ErrInternal, "certificate storage is not configured")
	}

	var expires time.Time
	url, err := collaborator.Call(ctx, s.caller, collaborator.ObjectStore, "certificate_url", func(ctx context.Context) (string, error) {
		link, exp, err := s.objects.DownloadURL(ctx, cert.Path)
		expires = exp
		return link, err
	})
	if err != nil {
		return nil, err
	}
	return &models.CertificateLink{URL: url, ExpiresAt: expires.UTC().Format(time.RFC3339)}, nil
}

// ProgressService answers one-shot progress reads for clients that do not stream.
type ProgressService struct {
	store    studentRecordStore
	calendar Calendar
}

// NewProgressService constructs a ProgressService.
func NewProgressService(store studentRecordStore, cal Calendar) *ProgressService {
	return &ProgressService{store: store, calendar: cal}
}

// Current derives the progress view from the stored record.
func (s *ProgressService) Current(ctx context.Context, id string) (ProgressView, error) {
	record, err := s.store.Get(ctx, id)
	if err != nil {
		return ProgressView{}, err
	}
	return BuildProgressView(record, s.calendar), nil
}

// Record returns the student's record.
func (s *ProgressService) Record(ctx context.Context, id string) (models.StudentRecord, error) {
	return s.store.Get(ctx, id)
}
