package service

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/enrollease/enrollease-api/internal/enrollment"
	"github.com/enrollease/enrollease-api/internal/models"
	appErrors "github.com/enrollease/enrollease-api/pkg/errors"
)

const (
	pendingDoc      = `{"email":"p@b.co","firstName":"Pia","lastName":"Reyes","submittedAt":"2024-05-01T00:00:00Z","appointment":{"date":"2024-06-05","time":"AM","status":"pending"}}`
	acknowledgedDoc = `{"email":"a@b.co","program":"BSIT","registrationStatus":"submitted","schedules":[{"course_id":"IT101","course_name":"Intro","units":3}]}`
)

type mockCertificateScheduler struct {
	mu  sync.Mutex
	ids []string
	err error
}

func (m *mockCertificateScheduler) Enqueue(documentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.ids = append(m.ids, documentID)
	return nil
}

type registrarFixture struct {
	svc    *RegistrarService
	repo   *mockDocumentRepo
	certs  *mockCertificateScheduler
	mailer *mockMailer
}

func newRegistrarFixture(t *testing.T) registrarFixture {
	t.Helper()
	store, repo, _ := newTestRecordStore()
	resolver, err := NewStudentResolver(store, models.LookupByEmail)
	require.NoError(t, err)
	f := registrarFixture{repo: repo, certs: &mockCertificateScheduler{}, mailer: &mockMailer{}}
	f.svc = NewRegistrarService(store, resolver, f.certs, f.mailer, testCaller(), nil, testCalendar(), "EnrollEase", nil)
	return f
}

func TestRegistrarServiceListAndLookup(t *testing.T) {
	f := newRegistrarFixture(t)
	ctx := context.Background()
	f.repo.seed(t, "doc-1", pendingDoc)
	f.repo.seed(t, "doc-2", acknowledgedDoc)
	f.repo.seed(t, "draft", `{"applicantUid":"draft"}`)

	rows, page, err := f.svc.List(ctx, models.StudentFilter{})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, &models.Pagination{Page: 1, PageSize: 20, TotalCount: 2}, page)
	assert.Equal(t, enrollment.StageAssessmentPendingApproval, rows[0].Stage)
	assert.Equal(t, enrollment.StageFinanceOpen, rows[1].Stage)

	found, err := f.svc.Lookup(ctx, "P@B.CO")
	require.NoError(t, err)
	assert.Equal(t, "doc-1", found.ID)
}

func TestRegistrarServiceDecideAppointment(t *testing.T) {
	f := newRegistrarFixture(t)
	ctx := context.Background()
	f.repo.seed(t, "doc-1", pendingDoc)

	_, err := f.svc.DecideAppointment(ctx, "doc-1", models.AppointmentDecision("maybe"), models.AppointmentDecisionRequest{})
	assert.True(t, appErrors.IsCode(err, appErrors.ErrValidation.Code))

	record, err := f.svc.DecideAppointment(ctx, "doc-1", models.DecisionDisapprove, models.AppointmentDecisionRequest{Remarks: " Please rebook "})
	require.NoError(t, err)
	assert.Equal(t, models.AppointmentDisapproved, record.Appointment.Status)
	assert.Equal(t, "Please rebook", record.Appointment.Remarks)
	assert.Equal(t, "2024-06-05", record.Appointment.Date)
	assert.NotNil(t, record.Appointment.DecidedAt)

	_, err = f.svc.DecideAppointment(ctx, "doc-1", models.DecisionApprove, models.AppointmentDecisionRequest{})
	assert.True(t, appErrors.IsCode(err, appErrors.ErrPreconditionFailed.Code))
}

func TestRegistrarServicePublishSchedules(t *testing.T) {
	f := newRegistrarFixture(t)
	ctx := context.Background()
	f.repo.seed(t, "doc-1", approvedDoc)
	req := models.SchedulesRequest{Schedules: []models.CourseMeeting{{CourseID: "IT101", CourseName: "Intro", Units: 3}}}

	_, err := f.svc.PublishSchedules(ctx, "doc-1", req)
	assert.True(t, appErrors.IsCode(err, appErrors.ErrPreconditionFailed.Code))

	_, err = f.svc.PublishSchedules(ctx, "doc-1", models.SchedulesRequest{})
	assert.True(t, appErrors.IsCode(err, appErrors.ErrValidation.Code))

	f.repo.seed(t, "doc-1", preRegisteredDoc)
	record, err := f.svc.PublishSchedules(ctx, "doc-1", req)
	require.NoError(t, err)
	assert.Len(t, record.Schedules, 1)
	assert.Equal(t, enrollment.StageCourseLineupPending, enrollment.DeriveStage(record))

	f.repo.seed(t, "doc-2", acknowledgedDoc)
	_, err = f.svc.PublishSchedules(ctx, "doc-2", req)
	assert.True(t, appErrors.IsCode(err, appErrors.ErrAlreadySubmitted.Code))
}

func TestRegistrarServiceMarkPaid(t *testing.T) {
	f := newRegistrarFixture(t)
	ctx := context.Background()
	f.repo.seed(t, "doc-1", lineupDoc)
	f.repo.seed(t, "doc-2", acknowledgedDoc)

	_, err := f.svc.MarkPaid(ctx, "doc-1", models.PaymentRequest{})
	assert.True(t, appErrors.IsCode(err, appErrors.ErrPreconditionFailed.Code))

	record, err := f.svc.MarkPaid(ctx, "doc-2", models.PaymentRequest{Reference: "OR-1234"})
	require.NoError(t, err)
	assert.True(t, record.Finance.Paid)
	assert.Equal(t, "OR-1234", record.Finance.Reference)
	assert.Equal(t, enrollment.StageFinalized, enrollment.DeriveStage(record))
	assert.Equal(t, []string{"doc-2"}, f.certs.ids)

	_, err = f.svc.MarkPaid(ctx, "doc-2", models.PaymentRequest{})
	assert.True(t, appErrors.IsCode(err, appErrors.ErrAlreadySubmitted.Code))
}

func TestRegistrarServiceMarkPaidQueueFailureKeepsPayment(t *testing.T) {
	f := newRegistrarFixture(t)
	f.certs.err = errors.New("queue stopped")
	f.repo.seed(t, "doc-1", acknowledgedDoc)

	record, err := f.svc.MarkPaid(context.Background(), "doc-1", models.PaymentRequest{})
	require.NoError(t, err)
	assert.True(t, record.Finance.Paid)
}

func TestRegistrarServiceAttachCertificate(t *testing.T) {
	f := newRegistrarFixture(t)
	ctx := context.Background()
	f.repo.seed(t, "doc-1", acknowledgedDoc)

	_, err := f.svc.AttachCertificate(ctx, "doc-1", models.CertificateRequest{URL: "https://x.example/c.pdf", Path: "doc-1/c.pdf"})
	assert.True(t, appErrors.IsCode(err, appErrors.ErrValidation.Code))

	_, err = f.svc.AttachCertificate(ctx, "doc-1", models.CertificateRequest{Path: "doc-2/c.pdf"})
	assert.True(t, appErrors.IsCode(err, appErrors.ErrValidation.Code))

	_, err = f.svc.AttachCertificate(ctx, "doc-1", models.CertificateRequest{URL: "https://x.example/c.pdf"})
	assert.True(t, appErrors.IsCode(err, appErrors.ErrPreconditionFailed.Code))

	_, err = f.svc.MarkPaid(ctx, "doc-1", models.PaymentRequest{})
	require.NoError(t, err)
	record, err := f.svc.AttachCertificate(ctx, "doc-1", models.CertificateRequest{URL: "https://x.example/c.pdf"})
	require.NoError(t, err)
	assert.Equal(t, "https://x.example/c.pdf", record.Certificate.URL)
}

var studentIDPattern = regexp.MustCompile(`^2024-\d{5}$`)

func TestRegistrarServiceIssueCredentials(t *testing.T) {
	f := newRegistrarFixture(t)
	ctx := context.Background()
	f.repo.seed(t, "doc-1", pendingDoc)

	_, err := f.svc.IssueCredentials(ctx, "doc-1")
	assert.True(t, appErrors.IsCode(err, appErrors.ErrPreconditionFailed.Code))

	_, err = f.svc.DecideAppointment(ctx, "doc-1", models.DecisionApprove, models.AppointmentDecisionRequest{})
	require.NoError(t, err)

	resp, err := f.svc.IssueCredentials(ctx, "doc-1")
	require.NoError(t, err)
	assert.Regexp(t, studentIDPattern, resp.StudentID)
	assert.Len(t, resp.TemporaryPassword, temporaryPasswordLength)
	assert.True(t, resp.Emailed)

	record := f.repo.record(t, "doc-1")
	assert.Equal(t, resp.StudentID, record.Identity.StudentID)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(record.PasswordHash), []byte(resp.TemporaryPassword)))

	require.Len(t, f.mailer.sent, 1)
	assert.Equal(t, "p@b.co", f.mailer.sent[0].To)
	assert.Contains(t, f.mailer.sent[0].Text, resp.StudentID)

	_, err = f.svc.IssueCredentials(ctx, "doc-1")
	assert.True(t, appErrors.IsCode(err, appErrors.ErrAlreadySubmitted.Code))
}

func TestRegistrarServiceIssueCredentialsMailFailure(t *testing.T) {
	f := newRegistrarFixture(t)
	f.mailer.err = errors.New("smtp down")
	f.repo.seed(t, "doc-1", approvedDoc)

	resp, err := f.svc.IssueCredentials(context.Background(), "doc-1")
	require.NoError(t, err)
	assert.False(t, resp.Emailed)
	assert.Equal(t, resp.StudentID, f.repo.record(t, "doc-1").Identity.StudentID)
}

func TestRegistrarServiceExportRoster(t *testing.T) {
	f := newRegistrarFixture(t)
	f.repo.seed(t, "doc-1", pendingDoc)
	f.repo.seed(t, "doc-2", acknowledgedDoc)

	data, err := f.svc.ExportRoster(context.Background(), "")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "Document ID,Student ID,Name"))
	assert.Contains(t, lines[1], "Pia Reyes")
	assert.Contains(t, lines[1], string(enrollment.StageAssessmentPendingApproval))
	assert.Contains(t, lines[2], "BSIT")
}
