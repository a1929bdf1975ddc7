package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/enrollease/enrollease-api/internal/enrollment"
	"github.com/enrollease/enrollease-api/internal/models"
	appErrors "github.com/enrollease/enrollease-api/pkg/errors"
)

const (
	submittedDoc = `{"applicantUid":"doc-1","email":"a@b.co","program":"BSIT","submittedAt":"2024-05-01T00:00:00Z"}`
	lineupDoc    = `{"email":"a@b.co","program":"BSIT","submittedAt":"2024-05-01T00:00:00Z",` +
		`"appointment":{"date":"2024-05-31","time":"AM","status":"approved"},"preRegistration":{"status":"submitted"},` +
		`"schedules":[{"course_id":"IT101","course_name":"Intro to Computing","units":3},{"course_id":"IT102","course_name":"Programming","units":2.5}]}`
	paidDoc = `{"email":"a@b.co","program":"BSIT","registrationStatus":"submitted","finance":{"paid":true},` +
		`"certificate":{"path":"doc-1/certificates/certificate-of-registration.pdf"}}`
)

func validPreRegistration() models.PreRegistrationPayload {
	return models.PreRegistrationPayload{
		EntryLevel:     "First Year",
		Semester:       "First Semester",
		PresentAddress: models.Address{City: "Quezon City", Province: "Metro Manila"},
		Education: models.Education{
			Elementary:   models.SchoolAttended{School: "San Roque Elementary", YearGrad: "2012"},
			JuniorHigh:   models.SchoolAttended{School: "Rizal High", YearGrad: "2016"},
			SeniorHigh:   models.SchoolAttended{School: "Rizal High", YearGrad: "2018"},
			SeniorStrand: "STEM",
		},
		Family: models.Family{
			ParentName:   "Jose Santos",
			Relationship: "Father",
			Occupation:   "Engineer",
			Mobile:       "09181234567",
			Address:      "Quezon City",
		},
	}
}

func TestAssessmentServiceBook(t *testing.T) {
	store, repo, _ := newTestRecordStore()
	tracker := &mockTracker{}
	svc := NewAssessmentService(store, tracker, testCalendar(), nil)
	ctx := context.Background()
	repo.seed(t, "doc-1", submittedDoc)

	_, err := svc.Book(ctx, "doc-1", enrollment.Booking{Date: "2024-06-07", Time: models.SlotPM})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Friday")

	record, err := svc.Book(ctx, "doc-1", enrollment.Booking{Date: "2024-06-07", Time: models.SlotAM})
	require.NoError(t, err)
	require.NotNil(t, record.Appointment)
	assert.Equal(t, models.AppointmentPending, record.Appointment.Status)
	assert.NotNil(t, record.Appointment.BookedAt)
	assert.Equal(t, enrollment.StageAssessmentPendingApproval, enrollment.DeriveStage(record))
	require.Len(t, tracker.expected, 1)
	assert.Equal(t, enrollment.ActionBookAssessment, tracker.expected[0].action)

	_, err = svc.Book(ctx, "doc-1", enrollment.Booking{Date: "2024-06-10", Time: models.SlotAM})
	assert.True(t, appErrors.IsCode(err, appErrors.ErrAlreadySubmitted.Code))
}

func TestAssessmentServiceRebookAfterDisapproval(t *testing.T) {
	store, repo, _ := newTestRecordStore()
	svc := NewAssessmentService(store, nil, testCalendar(), nil)
	repo.seed(t, "doc-1", `{"email":"a@b.co","submittedAt":"2024-05-01T00:00:00Z","appointment":{"date":"2024-05-31","time":"AM","status":"disapproved"}}`)

	record, err := svc.Book(context.Background(), "doc-1", enrollment.Booking{Date: "2024-06-03", Time: models.SlotPM})
	require.NoError(t, err)
	assert.Equal(t, "2024-06-03", record.Appointment.Date)
	assert.Equal(t, models.AppointmentPending, record.Appointment.Status)
}

func TestPreRegistrationServiceSubmit(t *testing.T) {
	store, repo, _ := newTestRecordStore()
	svc := NewPreRegistrationService(store, nil, testCalendar(), nil)
	ctx := context.Background()
	repo.seed(t, "doc-1", submittedDoc)

	_, err := svc.Submit(ctx, "doc-1", validPreRegistration())
	assert.True(t, appErrors.IsCode(err, appErrors.ErrPreconditionFailed.Code))

	repo.seed(t, "doc-1", approvedDoc)
	payload := validPreRegistration()
	payload.Family.Occupation = " "
	_, err = svc.Submit(ctx, "doc-1", payload)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "occupation")

	record, err := svc.Submit(ctx, "doc-1", validPreRegistration())
	require.NoError(t, err)
	assert.True(t, record.PreRegistrationSubmitted())
	assert.Equal(t, "STEM", record.PreRegistration.Payload.Education.SeniorStrand)

	_, err = svc.Submit(ctx, "doc-1", validPreRegistration())
	assert.True(t, appErrors.IsCode(err, appErrors.ErrAlreadySubmitted.Code))
}

func TestLineupServiceViewAndAcknowledge(t *testing.T) {
	store, repo, _ := newTestRecordStore()
	svc := NewLineupService(store, nil, testCalendar(), nil)
	ctx := context.Background()

	repo.seed(t, "doc-1", preRegisteredDoc)
	_, err := svc.View(ctx, "doc-1")
	assert.True(t, appErrors.IsCode(err, appErrors.ErrPreconditionFailed.Code))

	repo.seed(t, "doc-1", lineupDoc)
	view, err := svc.View(ctx, "doc-1")
	require.NoError(t, err)
	assert.Len(t, view.Schedules, 2)
	assert.Equal(t, 5.5, view.TotalUnits)
	assert.False(t, view.Acknowledged)

	view, err = svc.Acknowledge(ctx, "doc-1")
	require.NoError(t, err)
	assert.True(t, view.Acknowledged)
	assert.Equal(t, enrollment.StageFinanceOpen, enrollment.DeriveStage(repo.record(t, "doc-1")))

	_, err = svc.Acknowledge(ctx, "doc-1")
	assert.True(t, appErrors.IsCode(err, appErrors.ErrAlreadySubmitted.Code))
}

func TestFinanceServiceFees(t *testing.T) {
	store, repo, _ := newTestRecordStore()
	catalog, _ := newTestCatalog(false)
	svc := NewFinanceService(store, catalog, newMockObjectStore(), testCaller(), testCalendar(), nil)
	ctx := context.Background()

	repo.seed(t, "doc-1", lineupDoc)
	_, err := svc.Fees(ctx, "doc-1")
	assert.True(t, appErrors.IsCode(err, appErrors.ErrPreconditionFailed.Code))

	repo.seed(t, "doc-2", paidDoc)
	summary, err := svc.Fees(ctx, "doc-2")
	require.NoError(t, err)
	assert.Equal(t, "BSIT", summary.Program)
	assert.True(t, summary.Paid)
	assert.Equal(t, int64(400050), summary.TotalCents)
}

func TestFinanceServiceCertificate(t *testing.T) {
	store, repo, _ := newTestRecordStore()
	objects := newMockObjectStore()
	svc := NewFinanceService(store, nil, objects, testCaller(), testCalendar(), nil)
	ctx := context.Background()

	repo.seed(t, "doc-1", `{"email":"a@b.co","registrationStatus":"submitted","finance":{"paid":true}}`)
	_, err := svc.Certificate(ctx, "doc-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "being prepared")

	repo.seed(t, "doc-2", `{"email":"a@b.co","paymentStatus":"paid","certificateUrl":"https://legacy.example/cor.pdf"}`)
	link, err := svc.Certificate(ctx, "doc-2")
	require.NoError(t, err)
	assert.Equal(t, "https://legacy.example/cor.pdf", link.URL)
	assert.Empty(t, link.ExpiresAt)

	repo.seed(t, "doc-3", paidDoc)
	_, err = svc.Certificate(ctx, "doc-3")
	assert.True(t, appErrors.IsCode(err, appErrors.ErrNotFound.Code))

	objects.objects["doc-1/certificates/certificate-of-registration.pdf"] = []byte("%PDF")
	link, err = svc.Certificate(ctx, "doc-3")
	require.NoError(t, err)
	assert.Equal(t, "https://files.example/doc-1/certificates/certificate-of-registration.pdf", link.URL)
	assert.Equal(t, "2024-06-03T08:30:00Z", link.ExpiresAt)
}

func TestProgressServiceCurrent(t *testing.T) {
	store, repo, _ := newTestRecordStore()
	svc := NewProgressService(store, testCalendar())
	repo.seed(t, "doc-1", approvedDoc)

	view, err := svc.Current(context.Background(), "doc-1")
	require.NoError(t, err)
	assert.Equal(t, enrollment.StagePreRegistrationOpen, view.Stage)
	assert.Equal(t, int64(1), view.Version)

	_, err = svc.Current(context.Background(), "missing")
	assert.True(t, appErrors.IsCode(err, appErrors.ErrNotFound.Code))
}
