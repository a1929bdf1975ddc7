package enrollment

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/enrollease/enrollease-api/internal/models"
	appErrors "github.com/enrollease/enrollease-api/pkg/errors"
)

// Monday 2024-06-03, 08:00 UTC.
var guardNow = time.Date(2024, 6, 3, 8, 0, 0, 0, time.UTC)

func openWindows() Windows {
	return Windows{Location: time.UTC}
}

func closedWindow() Window {
	end := guardNow.Add(-time.Hour)
	return Window{End: &end}
}

// subsets calls fn with every assignment of n booleans.
func subsets(n int, fn func(flags []bool)) {
	for mask := 0; mask < 1<<n; mask++ {
		flags := make([]bool, n)
		for i := range flags {
			flags[i] = mask&(1<<i) != 0
		}
		fn(flags)
	}
}

func all(flags []bool) bool {
	for _, f := range flags {
		if !f {
			return false
		}
	}
	return true
}

func TestBookAssessmentPreconditionSubsets(t *testing.T) {
	// enrollment open, appointment window open, application submitted, no pending, no approved
	subsets(5, func(f []bool) {
		windows := openWindows()
		if !f[0] {
			windows.Enrollment = closedWindow()
		}
		if !f[1] {
			windows.Appointment = closedWindow()
		}
		shape := recordShape{applied: f[2]}
		switch {
		case !f[3]:
			shape.appointment = models.AppointmentPending
		case !f[4]:
			shape.appointment = models.AppointmentApproved
		}
		result := CanPerform(ActionBookAssessment, shape.build(), windows, guardNow)
		if all(f) {
			assert.True(t, result.Allowed, "%v", f)
		} else {
			assert.False(t, result.Allowed, "%v", f)
			assert.NotEmpty(t, result.Reason)
		}
	})
}

func TestBookAssessmentAllowsRebookAfterDisapproval(t *testing.T) {
	record := recordShape{applied: true, appointment: models.AppointmentDisapproved}.build()
	assert.True(t, CanPerform(ActionBookAssessment, record, openWindows(), guardNow).Allowed)
}

func TestSubmitPreRegistrationPreconditionSubsets(t *testing.T) {
	// enrollment open, appointment approved, not yet submitted
	subsets(3, func(f []bool) {
		windows := openWindows()
		if !f[0] {
			windows.Enrollment = closedWindow()
		}
		shape := recordShape{applied: true, appointment: models.AppointmentPending}
		if f[1] {
			shape.appointment = models.AppointmentApproved
		}
		shape.preReg = !f[2]
		result := CanPerform(ActionSubmitPreRegistration, shape.build(), windows, guardNow)
		assert.Equal(t, all(f), result.Allowed, "%v", f)
	})
}

func TestAcknowledgeCourseLineupPreconditionSubsets(t *testing.T) {
	// enrollment open, schedules present, not yet acknowledged
	subsets(3, func(f []bool) {
		windows := openWindows()
		if !f[0] {
			windows.Enrollment = closedWindow()
		}
		shape := recordShape{applied: true, appointment: models.AppointmentApproved, preReg: true, schedules: f[1], registered: !f[2]}
		result := CanPerform(ActionAcknowledgeCourseLineup, shape.build(), windows, guardNow)
		assert.Equal(t, all(f), result.Allowed, "%v", f)
	})
}

func TestViewCertificatePreconditionSubsets(t *testing.T) {
	// paid, certificate present
	subsets(2, func(f []bool) {
		record := recordShape{paid: f[0]}.build()
		if f[1] {
			record.Certificate = &models.Certificate{Path: "students/doc-1/certificate.pdf"}
		}
		result := CanPerform(ActionViewCertificate, record, openWindows(), guardNow)
		assert.Equal(t, all(f), result.Allowed, "%v", f)
	})
}

func TestViewActionsIgnoreEnrollmentWindow(t *testing.T) {
	windows := Windows{Enrollment: closedWindow(), Location: time.UTC}
	record := recordShape{registered: true, schedules: true}.build()
	assert.True(t, CanPerform(ActionViewFees, record, windows, guardNow).Allowed)
	assert.True(t, CanPerform(ActionViewCourseLineup, record, windows, guardNow).Allowed)
	assert.False(t, CanPerform(ActionAcknowledgeCourseLineup, record, windows, guardNow).Allowed)
}

func TestAcknowledgeIsRejectedTheSecondTime(t *testing.T) {
	record := recordShape{applied: true, appointment: models.AppointmentApproved, preReg: true, schedules: true}.build()
	first := CanPerform(ActionAcknowledgeCourseLineup, record, openWindows(), guardNow)
	require.True(t, first.Allowed)

	record.RegistrationStatus = models.RegistrationSubmitted
	second := CanPerform(ActionAcknowledgeCourseLineup, record, openWindows(), guardNow)
	assert.False(t, second.Allowed)
	assert.Equal(t, CodeAlreadySubmitted, second.Code)
	assert.True(t, appErrors.IsCode(second.Err(), appErrors.ErrAlreadySubmitted.Code))
}

func TestEnabledActions(t *testing.T) {
	record := recordShape{applied: true}.build()
	enabled, blocked := EnabledActions(record, openWindows(), guardNow)
	assert.Equal(t, []Action{ActionSubmitApplication, ActionBookAssessment}, enabled)
	assert.Contains(t, blocked, ActionSubmitPreRegistration)
	assert.NotContains(t, blocked, ActionBookAssessment)

	booked := recordShape{applied: true, appointment: models.AppointmentPending}.build()
	enabled, blocked = EnabledActions(booked, openWindows(), guardNow)
	assert.Empty(t, enabled)
	assert.Equal(t, "You already have an appointment awaiting approval.", blocked[ActionBookAssessment])

	enabled, _ = EnabledActions(recordShape{}.build(), openWindows(), guardNow)
	assert.Equal(t, []Action{ActionSubmitApplication}, enabled)
}

func TestUnknownAction(t *testing.T) {
	result := CanPerform(Action("fly"), models.StudentRecord{}, openWindows(), guardNow)
	assert.False(t, result.Allowed)
	assert.Equal(t, CodeValidation, result.Code)
}

func validApplication() ApplicationInput {
	return ApplicationInput{
		Identity: models.Identity{
			Email:        "juan@school.ph",
			FirstName:    "Juan",
			MiddleNameNA: true,
			LastName:     "Cruz",
			Gender:       "Male",
			DOB:          "2000-01-15",
			Mobile:       "09171234567",
		},
		Application: models.Application{
			Category: models.CategoryNewStudent,
			Program:  "BSIT",
			Documents: map[models.DocumentKind]string{
				models.DocumentPicture:   "students/doc-1/picture.png",
				models.DocumentBirthCert: "students/doc-1/birthCert.pdf",
				models.DocumentSchoolID:  "students/doc-1/schoolId.png",
			},
			Hardcopy: map[models.DocumentKind]bool{models.DocumentGrades: true},
		},
		DocumentID: "doc-1",
	}
}

func TestCheckApplicationAccepts(t *testing.T) {
	assert.True(t, CheckApplication(validApplication(), guardNow, time.UTC).Allowed)
}

func TestCheckApplicationFirstFailureWins(t *testing.T) {
	in := validApplication()
	in.Identity.FirstName = "Jo"
	in.Identity.Mobile = "123"
	result := CheckApplication(in, guardNow, time.UTC)
	assert.Equal(t, "First name must be 3 to 15 characters.", result.Reason)
}

func TestCheckApplicationConditions(t *testing.T) {
	cases := map[string]func(*ApplicationInput){
		"category":    func(in *ApplicationInput) { in.Application.Category = "Alien" },
		"program":     func(in *ApplicationInput) { in.Application.Program = " " },
		"long first":  func(in *ApplicationInput) { in.Identity.FirstName = "Maximilianoooooo" },
		"middle name": func(in *ApplicationInput) { in.Identity.MiddleNameNA = false; in.Identity.MiddleName = "" },
		"last name":   func(in *ApplicationInput) { in.Identity.LastName = "Li" },
		"gender":      func(in *ApplicationInput) { in.Identity.Gender = "" },
		"dob":         func(in *ApplicationInput) { in.Identity.DOB = "15/01/2000" },
		"minor":       func(in *ApplicationInput) { in.Identity.DOB = "2010-01-01" },
		"mobile":      func(in *ApplicationInput) { in.Identity.Mobile = "639171234567" },
		"email":       func(in *ApplicationInput) { in.Identity.Email = "juan@school" },
		"document":    func(in *ApplicationInput) { in.Application.Hardcopy = nil },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			in := validApplication()
			mutate(&in)
			result := CheckApplication(in, guardNow, time.UTC)
			assert.False(t, result.Allowed)
			assert.Equal(t, CodeValidation, result.Code)
		})
	}
}

func TestCheckApplicationMobileExamples(t *testing.T) {
	for mobile, ok := range map[string]bool{"09171234567": true, "091712345": false, "639171234567": false} {
		in := validApplication()
		in.Identity.Mobile = mobile
		assert.Equal(t, ok, CheckApplication(in, guardNow, time.UTC).Allowed, mobile)
	}
}

func TestCheckApplicationAgeGate(t *testing.T) {
	in := validApplication()
	in.Identity.DOB = "2006-06-03"
	assert.True(t, CheckApplication(in, guardNow, time.UTC).Allowed)

	in.Identity.DOB = "2006-06-04"
	result := CheckApplication(in, guardNow, time.UTC)
	assert.False(t, result.Allowed)
	assert.Contains(t, result.Reason, "18")
}

func TestCheckApplicationDuplicateEmail(t *testing.T) {
	in := validApplication()
	in.EmailOwner = "doc-1"
	assert.True(t, CheckApplication(in, guardNow, time.UTC).Allowed)

	in.EmailOwner = "doc-2"
	result := CheckApplication(in, guardNow, time.UTC)
	assert.Equal(t, CodeDuplicateEmail, result.Code)
	assert.True(t, appErrors.IsCode(result.Err(), appErrors.ErrDuplicateEmail.Code))
}

func TestCheckBooking(t *testing.T) {
	record := recordShape{applied: true}.build()
	cases := []struct {
		booking Booking
		ok      bool
		reason  string
	}{
		{Booking{Date: "2024-06-04", Time: models.SlotPM}, true, ""},
		{Booking{Date: "2024-06-03", Time: models.SlotAM}, true, ""},
		{Booking{Date: "2024-06-07", Time: models.SlotAM}, true, ""},
		{Booking{Date: "2024-06-07", Time: models.SlotPM}, false, "Friday appointments are available in the morning (AM) only."},
		{Booking{Date: "2024-06-08", Time: models.SlotAM}, false, "Appointments are only available on weekdays."},
		{Booking{Date: "2024-05-31", Time: models.SlotAM}, false, "Appointment date cannot be in the past."},
		{Booking{Date: "tomorrow", Time: models.SlotAM}, false, "Please choose a valid appointment date."},
		{Booking{Date: "2024-06-04", Time: "NOON"}, false, "Please choose an AM or PM slot."},
	}
	for _, tc := range cases {
		result := CheckBooking(record, tc.booking, openWindows(), guardNow)
		assert.Equal(t, tc.ok, result.Allowed, "%+v", tc.booking)
		assert.Equal(t, tc.reason, result.Reason, "%+v", tc.booking)
	}
}

func TestCheckBookingFullSubsets(t *testing.T) {
	// record preconditions, valid slot, weekday, not Friday PM
	subsets(4, func(f []bool) {
		record := recordShape{applied: true}.build()
		if !f[0] {
			record.Appointment = &models.Appointment{Status: models.AppointmentPending}
		}
		booking := Booking{Date: "2024-06-05", Time: models.SlotPM}
		if !f[1] {
			booking.Time = "EVENING"
		}
		if !f[2] {
			booking.Date = "2024-06-09"
		}
		if !f[3] {
			booking.Date = "2024-06-07"
			if f[1] {
				booking.Time = models.SlotPM
			}
		}
		result := CheckBooking(record, booking, openWindows(), guardNow)
		assert.Equal(t, all(f), result.Allowed, "%v %+v", f, booking)
	})
}

func fullPayload() models.PreRegistrationPayload {
	return models.PreRegistrationPayload{
		EntryLevel:     "First Year",
		Semester:       "1st",
		PresentAddress: models.Address{City: "Quezon City", Province: "Metro Manila"},
		Education: models.Education{
			Elementary:   models.SchoolAttended{School: "QC Elementary", YearGrad: "2012"},
			JuniorHigh:   models.SchoolAttended{School: "QC High", YearGrad: "2016"},
			SeniorHigh:   models.SchoolAttended{School: "QC Senior High", YearGrad: "2018"},
			SeniorStrand: "STEM",
		},
		Family: models.Family{ParentName: "Maria Cruz", Relationship: "Mother", Occupation: "Teacher", Mobile: "09181234567", Address: "Quezon City"},
	}
}

func TestCheckPreRegistration(t *testing.T) {
	record := recordShape{applied: true, appointment: models.AppointmentApproved}.build()
	assert.True(t, CheckPreRegistration(record, fullPayload(), openWindows(), guardNow).Allowed)

	payload := fullPayload()
	payload.Semester = ""
	payload.Family.Occupation = ""
	result := CheckPreRegistration(record, payload, openWindows(), guardNow)
	assert.Equal(t, "Please provide your semester.", result.Reason)

	payload = fullPayload()
	payload.Education.SeniorStrand = " "
	assert.Equal(t, "Please provide your senior high strand.", CheckPreRegistration(record, payload, openWindows(), guardNow).Reason)

	pending := recordShape{applied: true, appointment: models.AppointmentPending}.build()
	assert.Equal(t, CodePrecondition, CheckPreRegistration(pending, fullPayload(), openWindows(), guardNow).Code)
}

func TestGuardsDoNotMutate(t *testing.T) {
	record := recordShape{applied: true, appointment: models.AppointmentApproved}.build()
	before := DeriveStage(record)
	_ = CheckPreRegistration(record, fullPayload(), openWindows(), guardNow)
	_ = CheckBooking(record, Booking{Date: "2024-06-04", Time: models.SlotAM}, openWindows(), guardNow)
	assert.Equal(t, before, DeriveStage(record))
	assert.Nil(t, record.PreRegistration)
}
