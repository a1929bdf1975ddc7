package service

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/enrollease/enrollease-api/internal/enrollment"
	"github.com/enrollease/enrollease-api/internal/models"
	"github.com/enrollease/enrollease-api/pkg/collaborator"
	appErrors "github.com/enrollease/enrollease-api/pkg/errors"
	"github.com/enrollease/enrollease-api/pkg/export"
	"github.com/enrollease/enrollease-api/pkg/mail"
	"github.com/enrollease/enrollease-api/pkg/validation"
)

const (
	defaultRegistrarPageSize = 20
	maxRegistrarPageSize     = 100
	studentIDAttempts        = 5
	temporaryPasswordLength  = 10
	temporaryPasswordChars   = "ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnpqrstuvwxyz23456789"
)

type registrarRecordStore interface {
	Get(ctx context.Context, id string) (models.StudentRecord, error)
	FindBy(ctx context.Context, field models.StudentLookupField, value string) ([]models.StudentRecord, error)
	List(ctx context.Context, filter models.StudentFilter) ([]models.StudentRecord, int, error)
	Update(ctx context.Context, writer Writer, id string, patch models.DocumentPatch) (models.StudentRecord, error)
}

type studentLookup interface {
	Resolve(ctx context.Context, value string) (models.StudentRecord, error)
}

type certificateScheduler interface {
	Enqueue(documentID string) error
}

type tableRenderer interface {
	Render(table export.Table) ([]byte, error)
}

// RegistrarStudent is a student row in registrar listings.
type RegistrarStudent struct {
	models.StudentRecord
	Stage enrollment.Stage `json:"stage"`
}

// RegistrarService is the back-office side of the journey: approvals, line-ups, payments,
// certificates and credentials.
type RegistrarService struct {
	store        registrarRecordStore
	resolver     studentLookup
	certificates certificateScheduler
	mailer       mail.Sender
	csv          tableRenderer
	caller       *collaborator.Caller
	validator    *validation.Validator
	calendar     Calendar
	appName      string
	logger       *zap.Logger
}

// NewRegistrarService constructs a RegistrarService.
func NewRegistrarService(store registrarRecordStore, resolver studentLookup, certificates certificateScheduler, mailer mail.Sender, caller *collaborator.Caller, validate *validation.Validator, cal Calendar, appName string, logger *zap.Logger) *RegistrarService {
	logger = loggerOrNop(logger)
	if caller == nil {
		caller = collaborator.NewCaller(collaborator.Options{Logger: logger})
	}
	if validate == nil {
		validate = validation.New()
	}
	return &RegistrarService{
		store:        store,
		resolver:     resolver,
		certificates: certificates,
		mailer:       mailer,
		csv:          export.NewCSVExporter(),
		caller:       caller,
		validator:    validate,
		calendar:     cal,
		appName:      appName,
		logger:       logger,
	}
}

// List returns a page of students with their derived stage.
func (s *RegistrarService) List(ctx context.Context, filter models.StudentFilter) ([]RegistrarStudent, *models.Pagination, error) {
	if filter.Page <= 0 {
		filter.Page = 1
	}
	if filter.PageSize <= 0 {
		filter.PageSize = defaultRegistrarPageSize
	}
	if filter.PageSize > maxRegistrarPageSize {
		filter.PageSize = maxRegistrarPageSize
	}
	records, total, err := s.store.List(ctx, filter)
	if err != nil {
		return nil, nil, err
	}
	rows := make([]RegistrarStudent, 0, len(records))
	for _, record := range records {
		rows = append(rows, RegistrarStudent{StudentRecord: record, Stage: enrollment.DeriveStage(record)})
	}
	return rows, &models.Pagination{Page: filter.Page, PageSize: filter.PageSize, TotalCount: total}, nil
}

// Get returns one student by document id.
func (s *RegistrarService) Get(ctx context.Context, id string) (*RegistrarStudent, error) {
	record, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return &RegistrarStudent{StudentRecord: record, Stage: enrollment.DeriveStage(record)}, nil
}

// Lookup resolves a student by the configured lookup field.
func (s *RegistrarService) Lookup(ctx context.Context, value string) (*RegistrarStudent, error) {
	record, err := s.resolver.Resolve(ctx, value)
	if err != nil {
		return nil, err
	}
	return &RegistrarStudent{StudentRecord: record, Stage: enrollment.DeriveStage(record)}, nil
}

// DecideAppointment approves or disapproves a pending appointment.
func (s *RegistrarService) DecideAppointment(ctx context.Context, id string, decision models.AppointmentDecision, req models.AppointmentDecisionRequest) (models.StudentRecord, error) {
	status, ok := decision.Status()
	if !ok {
		return models.StudentRecord{}, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown decision %q", decision))
	}
	if err := s.validator.Struct(req); err != nil {
		return models.StudentRecord{}, err
	}
	record, err := s.store.Get(ctx, id)
	if err != nil {
		return models.StudentRecord{}, err
	}
	if record.AppointmentStatus() != models.AppointmentPending {
		return models.StudentRecord{}, appErrors.Clone(appErrors.ErrPreconditionFailed, "only pending appointments can be decided")
	}

	decidedAt := s.calendar.now().UTC()
	appointment := *record.Appointment
	appointment.Status = status
	appointment.DecidedAt = &decidedAt
	appointment.Remarks = strings.TrimSpace(req.Remarks)

	updated, err := s.store.Update(ctx, WriterRegistrar, id, models.AppointmentPatch(appointment))
	if err != nil {
		return models.StudentRecord{}, err
	}
	s.logger.Info("appointment decided", zap.String("document_id", id), zap.String("status", string(status)))
	return updated, nil
}

// PublishSchedules publishes the course line-up once pre-registration is submitted. Publishing
// again replaces the line-up until the student acknowledges it.
func (s *RegistrarService) PublishSchedules(ctx context.Context, id string, req models.SchedulesRequest) (models.StudentRecord, error) {
	if err := s.validator.Struct(req); err != nil {
		return models.StudentRecord{}, err
	}
	record, err := s.store.Get(ctx, id)
	if err != nil {
		return models.StudentRecord{}, err
	}
	if record.RegistrationStatus == models.RegistrationSubmitted {
		return models.StudentRecord{}, appErrors.Clone(appErrors.ErrAlreadySubmitted, "the student already acknowledged the course line-up")
	}
	if !record.PreRegistrationSubmitted() {
		return models.StudentRecord{}, appErrors.Clone(appErrors.ErrPreconditionFailed, "the student has not submitted pre-registration")
	}
	updated, err := s.store.Update(ctx, WriterRegistrar, id, models.SchedulesPatch(req.Schedules))
	if err != nil {
		return models.StudentRecord{}, err
	}
	s.logger.Info("course line-up published", zap.String("document_id", id), zap.Int("courses", len(req.Schedules)))
	return updated, nil
}

// MarkPaid records payment in the canonical finance field and schedules the certificate.
func (s *RegistrarService) MarkPaid(ctx context.Context, id string, req models.PaymentRequest) (models.StudentRecord, error) {
	if err := s.validator.Struct(req); err != nil {
		return models.StudentRecord{}, err
	}
	record, err := s.store.Get(ctx, id)
	if err != nil {
		return models.StudentRecord{}, err
	}
	if record.Finance.Paid {
		return models.StudentRecord{}, appErrors.Clone(appErrors.ErrAlreadySubmitted, "payment was already recorded")
	}
	if record.RegistrationStatus != models.RegistrationSubmitted {
		return models.StudentRecord{}, appErrors.Clone(appErrors.ErrPreconditionFailed, "the student has not acknowledged the course line-up")
	}

	updated, err := s.store.Update(ctx, WriterRegistrar, id, models.FinancePaidPatch(s.calendar.now(), strings.TrimSpace(req.Reference)))
	if err != nil {
		return models.StudentRecord{}, err
	}
	if s.certificates != nil && !updated.Certificate.Present() {
		if err := s.certificates.Enqueue(id); err != nil {
			s.logger.Warn("enqueue certificate failed", zap.String("document_id", id), zap.Error(err))
		}
	}
	s.logger.Info("payment recorded", zap.String("document_id", id))
	return updated, nil
}

// AttachCertificate sets an externally produced certificate by URL or stored path.
func (s *RegistrarService) AttachCertificate(ctx context.Context, id string, req models.CertificateRequest) (models.StudentRecord, error) {
	if err := s.validator.Struct(req); err != nil {
		return models.StudentRecord{}, err
	}
	req.URL = strings.TrimSpace(req.URL)
	req.Path = strings.Trim(strings.TrimSpace(req.Path), "/")
	if (req.URL == "") == (req.Path == "") {
		return models.StudentRecord{}, appErrors.Clone(appErrors.ErrValidation, "provide exactly one of url or path")
	}
	if req.Path != "" && !strings.HasPrefix(req.Path, id+"/") {
		return models.StudentRecord{}, appErrors.Clone(appErrors.ErrValidation, "path must be inside the student's folder")
	}
	record, err := s.store.Get(ctx, id)
	if err != nil {
		return models.StudentRecord{}, err
	}
	if !record.Finance.Paid {
		return models.StudentRecord{}, appErrors.Clone(appErrors.ErrPreconditionFailed, "a certificate can only be attached after payment")
	}
	issuedAt := s.calendar.now().UTC()
	return s.store.Update(ctx, WriterRegistrar, id, models.CertificatePatch(models.Certificate{URL: req.URL, Path: req.Path, IssuedAt: &issuedAt}))
}

// IssueCredentials assigns a student id and temporary password to an approved applicant and
// e-mails them. A mail failure does not undo the assignment.
func (s *RegistrarService) IssueCredentials(ctx context.Context, id string) (*models.CredentialsResponse, error) {
	record, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if record.AppointmentStatus() != models.AppointmentApproved {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "credentials are issued after the assessment is approved")
	}
	if record.Identity.StudentID != "" {
		return nil, appErrors.Clone(appErrors.ErrAlreadySubmitted, "credentials were already issued")
	}

	studentID, err := s.newStudentID(ctx)
	if err != nil {
		return nil, err
	}
	password, err := temporaryPassword()
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to generate password")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to hash password")
	}
	if _, err := s.store.Update(ctx, WriterRegistrar, id, models.CredentialsPatch(studentID, string(hash))); err != nil {
		return nil, err
	}

	resp := &models.CredentialsResponse{DocumentID: id, StudentID: studentID, TemporaryPassword: password}
	if s.mailer != nil && record.Identity.Email != "" {
		err := s.caller.Do(ctx, collaborator.Mail, "send_credentials", func(ctx context.Context) error {
			return s.mailer.Send(ctx, credentialsMessage(s.appName, record.Identity, studentID, password))
		})
		if err != nil {
			s.logger.Warn("credentials e-mail failed", zap.String("document_id", id), zap.Error(err))
		} else {
			resp.Emailed = true
		}
	}
	s.logger.Info("credentials issued", zap.String("document_id", id), zap.String("student_id", studentID))
	return resp, nil
}

// ExportRoster renders every matching student as CSV.
func (s *RegistrarService) ExportRoster(ctx context.Context, search string) ([]byte, error) {
	table := export.Table{Columns: []string{"Document ID", "Student ID", "Name", "Email", "Program", "Category", "Stage", "Units", "Paid"}}
	filter := models.StudentFilter{Search: search, Page: 1, PageSize: maxRegistrarPageSize}
	for {
		rows, page, err := s.List(ctx, filter)
		if err != nil {
			return nil, err
		}
		for _, row := range rows {
			table.Rows = append(table.Rows, []string{
				row.ID,
				row.Identity.StudentID,
				row.Identity.FullName(),
				row.Identity.Email,
				row.Application.Program,
				string(row.Application.Category),
				string(row.Stage),
				strconv.FormatFloat(row.TotalUnits(), 'f', -1, 64),
				strconv.FormatBool(row.Finance.Paid),
			})
		}
		if len(rows) == 0 || page.Page*page.PageSize >= page.TotalCount {
			break
		}
		filter.Page++
	}
	return s.csv.Render(table)
}

func (s *RegistrarService) newStudentID(ctx context.Context) (string, error) {
	year := s.calendar.now().In(s.calendar.Windows.Loc()).Year()
	for attempt := 0; attempt < studentIDAttempts; attempt++ {
		n, err := rand.Int(rand.Reader, big.NewInt(100000))
		if err != nil {
			return "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to generate student id")
		}
		candidate := fmt.Sprintf("%d-%05d", year, n.Int64())
		existing, err := s.store.FindBy(ctx, models.LookupByStudentID, candidate)
		if err != nil {
			return "", err
		}
		if len(existing) == 0 {
			return candidate, nil
		}
	}
	return "", appErrors.Clone(appErrors.ErrConflict, "could not allocate a unique student id, please retry")
}

func temporaryPassword() (string, error) {
	var b strings.Builder
	limit := big.NewInt(int64(len(temporaryPasswordChars)))
	for i := 0; i < temporaryPasswordLength; i++ {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", err
		}
		b.WriteByte(temporaryPasswordChars[n.Int64()])
	}
	return b.String(), nil
}

func credentialsMessage(appName string, identity models.Identity, studentID, password string) mail.Message {
	text := fmt.Sprintf("Hello %s,\n\nYour assessment was approved. Sign in to %s with:\n\nStudent ID: %s\nTemporary password: %s\n\nPlease change your password after signing in.\n",
		identity.FirstName, appName, studentID, password)
	return mail.Message{
		To:       identity.Email,
		ToName:   identity.FullName(),
		Subject:  appName + " student credentials",
		Text:     text,
		Category: "credentials",
	}
}
