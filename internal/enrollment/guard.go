package enrollment

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/enrollease/enrollease-api/internal/models"
	appErrors "github.com/enrollease/enrollease-api/pkg/errors"
	"github.com/enrollease/enrollease-api/pkg/validation"
)

// Action is something a student may attempt on their record.
type Action string

const (
	ActionSubmitApplication       Action = "submitApplication"
	ActionBookAssessment          Action = "bookAssessment"
	ActionSubmitPreRegistration   Action = "submitPreRegistration"
	ActionViewCourseLineup        Action = "viewCourseLineup"
	ActionAcknowledgeCourseLineup Action = "acknowledgeCourseLineup"
	ActionViewFees                Action = "viewFees"
	ActionViewCertificate         Action = "viewCertificate"
)

// Actions lists every action in journey order.
var Actions = []Action{
	ActionSubmitApplication,
	ActionBookAssessment,
	ActionSubmitPreRegistration,
	ActionViewCourseLineup,
	ActionAcknowledgeCourseLineup,
	ActionViewFees,
	ActionViewCertificate,
}

// progression actions write to the record and are gated by the enrollment window.
var progression = map[Action]bool{
	ActionSubmitApplication:       true,
	ActionBookAssessment:          true,
	ActionSubmitPreRegistration:   true,
	ActionAcknowledgeCourseLineup: true,
}

// Failure codes carried by a denied GuardResult.
const (
	CodeValidation       = "VALIDATION_ERROR"
	CodePrecondition     = "PRECONDITION_FAILED"
	CodeAlreadySubmitted = "ALREADY_SUBMITTED"
	CodeDuplicateEmail   = "DUPLICATE_EMAIL"
)

// GuardResult is the outcome of a guard evaluation. Reason is the user-facing message for the
// first unmet condition.
type GuardResult struct {
	Allowed bool   `json:"allowed"`
	Code    string `json:"code,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

var allowed = GuardResult{Allowed: true}

func deny(code, format string, args ...interface{}) GuardResult {
	return GuardResult{Code: code, Reason: fmt.Sprintf(format, args...)}
}

// Err converts a denied result into a typed application error.
func (r GuardResult) Err() error {
	if r.Allowed {
		return nil
	}
	switch r.Code {
	case CodeValidation:
		return appErrors.Clone(appErrors.ErrValidation, r.Reason)
	case CodeAlreadySubmitted:
		return appErrors.Clone(appErrors.ErrAlreadySubmitted, r.Reason)
	case CodeDuplicateEmail:
		return appErrors.Clone(appErrors.ErrDuplicateEmail, r.Reason)
	default:
		return appErrors.Clone(appErrors.ErrPreconditionFailed, r.Reason)
	}
}

// CanPerform evaluates the record-level preconditions of action in a fixed order. Payload
// checks (CheckApplication, CheckBooking, CheckPreRegistration) run on top of this.
func CanPerform(action Action, record models.StudentRecord, windows Windows, now time.Time) GuardResult {
	if progression[action] && !windows.Enrollment.Contains(now) {
		return deny(CodePrecondition, "Enrollment is currently closed.")
	}

	switch action {
	case ActionSubmitApplication:
		if record.Appointment != nil || DeriveStage(record).AtLeast(StageAssessmentPendingApproval) {
			return deny(CodeAlreadySubmitted, "Your application has already been processed.")
		}
		return allowed

	case ActionBookAssessment:
		if !windows.Appointment.Contains(now) {
			return deny(CodePrecondition, "Assessment booking is currently closed.")
		}
		if !record.Application.Submitted() {
			return deny(CodePrecondition, "Please submit your application before booking an assessment.")
		}
		switch record.AppointmentStatus() {
		case models.AppointmentPending:
			return deny(CodeAlreadySubmitted, "You already have an appointment awaiting approval.")
		case models.AppointmentApproved:
			return deny(CodeAlreadySubmitted, "Your assessment appointment has already been approved.")
		}
		if stage := DeriveStage(record); stage != StageAwaitingAssessment && stage != StageAssessmentDisapproved {
			return deny(CodePrecondition, "Assessment booking is no longer available.")
		}
		return allowed

	case ActionSubmitPreRegistration:
		if record.AppointmentStatus() != models.AppointmentApproved {
			return deny(CodePrecondition, "Pre-registration opens once your assessment appointment is approved.")
		}
		if record.PreRegistrationSubmitted() {
			return deny(CodeAlreadySubmitted, "You have already submitted your pre-registration.")
		}
		return allowed

	case ActionViewCourseLineup:
		if len(record.Schedules) == 0 {
			return deny(CodePrecondition, "Your course line-up is not available yet.")
		}
		return allowed

	case ActionAcknowledgeCourseLineup:
		if len(record.Schedules) == 0 {
			return deny(CodePrecondition, "Your course line-up is not available yet.")
		}
		if record.RegistrationStatus == models.RegistrationSubmitted {
			return deny(CodeAlreadySubmitted, "You have already submitted your course line-up.")
		}
		return allowed

	case ActionViewFees:
		if !DeriveStage(record).AtLeast(StageFinanceOpen) {
			return deny(CodePrecondition, "Fees are shown after you submit your course line-up.")
		}
		return allowed

	case ActionViewCertificate:
		if !record.Finance.Paid {
			return deny(CodePrecondition, "Your certificate of registration is available once payment is confirmed.")
		}
		if !record.Certificate.Present() {
			return deny(CodePrecondition, "Your certificate of registration is still being prepared.")
		}
		return allowed
	}

	return deny(CodeValidation, "Unknown action %q.", action)
}

// EnabledActions returns the actions currently permitted, in journey order, and the reason
// each of the others is blocked.
func EnabledActions(record models.StudentRecord, windows Windows, now time.Time) ([]Action, map[Action]string) {
	enabled := make([]Action, 0, len(Actions))
	blocked := make(map[Action]string)
	for _, action := range Actions {
		result := CanPerform(action, record, windows, now)
		if result.Allowed {
			enabled = append(enabled, action)
			continue
		}
		blocked[action] = result.Reason
	}
	return enabled, blocked
}

// ApplicationInput is a submitted application form. EmailOwner is the id of the document that
// already holds the e-mail, or "" when the e-mail is unused.
type ApplicationInput struct {
	Identity    models.Identity
	Application models.Application
	DocumentID  string
	EmailOwner  string
}

var documentLabels = map[models.DocumentKind]string{
	models.DocumentPicture:   "2x2 picture",
	models.DocumentBirthCert: "birth certificate",
	models.DocumentSchoolID:  "school ID",
	models.DocumentGrades:    "report card",
}

// CheckApplication validates an application form. Conditions are checked in form order so
// the first message is deterministic; the duplicate e-mail conflict is reported last.
func CheckApplication(in ApplicationInput, now time.Time, loc *time.Location) GuardResult {
	id, app := in.Identity, in.Application

	if !app.Category.Valid() {
		return deny(CodeValidation, "Please select a category.")
	}
	if strings.TrimSpace(app.Program) == "" {
		return deny(CodeValidation, "Please select a program.")
	}
	if !nameLength(id.FirstName) {
		return deny(CodeValidation, "First name must be 3 to 15 characters.")
	}
	if !id.MiddleNameNA && !nameLength(id.MiddleName) {
		return deny(CodeValidation, "Middle name must be 3 to 15 characters, or mark it as N/A.")
	}
	if !nameLength(id.LastName) {
		return deny(CodeValidation, "Last name must be 3 to 15 characters.")
	}
	if strings.TrimSpace(id.Gender) == "" {
		return deny(CodeValidation, "Please select a gender.")
	}
	dob, err := ParseDate(id.DOB, loc)
	if err != nil {
		return deny(CodeValidation, "Please enter a valid date of birth.")
	}
	if AgeOn(dob, now, loc) < 18 {
		return deny(CodeValidation, "You must be at least 18 years old to apply.")
	}
	if !validation.IsMobile(id.Mobile) {
		return deny(CodeValidation, "Mobile number must be 11 digits and start with 09.")
	}
	if !validation.IsEmail(id.Email) {
		return deny(CodeValidation, "Please enter a valid e-mail address.")
	}
	for _, kind := range models.RequiredDocuments {
		if !app.DocumentSatisfied(kind) {
			return deny(CodeValidation, "Please upload your %s or mark it for hardcopy submission.", documentLabels[kind])
		}
	}
	if in.EmailOwner != "" && in.EmailOwner != in.DocumentID {
		return deny(CodeDuplicateEmail, "This e-mail is already used by a different applicant.")
	}
	return allowed
}

func nameLength(raw string) bool {
	n := utf8.RuneCountInString(strings.TrimSpace(raw))
	return n >= 3 && n <= 15
}

// Booking is a requested assessment slot.
type Booking struct {
	Date string      `json:"date"`
	Time models.Slot `json:"time"`
}

// CheckBooking validates an assessment booking: record-level conditions first, then the slot,
// the date and the Friday morning rule.
func CheckBooking(record models.StudentRecord, booking Booking, windows Windows, now time.Time) GuardResult {
	if result := CanPerform(ActionBookAssessment, record, windows, now); !result.Allowed {
		return result
	}
	if booking.Time != models.SlotAM && booking.Time != models.SlotPM {
		return deny(CodeValidation, "Please choose an AM or PM slot.")
	}
	loc := windows.Loc()
	day, err := ParseDate(booking.Date, loc)
	if err != nil {
		return deny(CodeValidation, "Please choose a valid appointment date.")
	}
	if day.Before(startOfDay(now, loc)) {
		return deny(CodeValidation, "Appointment date cannot be in the past.")
	}
	if !IsWeekday(day) {
		return deny(CodeValidation, "Appointments are only available on weekdays.")
	}
	if day.Weekday() == time.Friday && booking.Time != models.SlotAM {
		return deny(CodeValidation, "Friday appointments are available in the morning (AM) only.")
	}
	return allowed
}

type requiredField struct {
	label string
	value string
}

// CheckPreRegistration validates a pre-registration submission. Missing sections are
// reported in form order.
func CheckPreRegistration(record models.StudentRecord, payload models.PreRegistrationPayload, windows Windows, now time.Time) GuardResult {
	if result := CanPerform(ActionSubmitPreRegistration, record, windows, now); !result.Allowed {
		return result
	}
	edu, fam := payload.Education, payload.Family
	required := []requiredField{
		{"entry level", payload.EntryLevel},
		{"semester", payload.Semester},
		{"present address city", payload.PresentAddress.City},
		{"present address province", payload.PresentAddress.Province},
		{"elementary school name", edu.Elementary.School},
		{"elementary year graduated", edu.Elementary.YearGrad},
		{"junior high school name", edu.JuniorHigh.School},
		{"junior high year graduated", edu.JuniorHigh.YearGrad},
		{"senior high school name", edu.SeniorHigh.School},
		{"senior high year graduated", edu.SeniorHigh.YearGrad},
		{"senior high strand", edu.SeniorStrand},
		{"parent or guardian name", fam.ParentName},
		{"relationship", fam.Relationship},
		{"parent or guardian occupation", fam.Occupation},
		{"parent or guardian mobile", fam.Mobile},
		{"parent or guardian address", fam.Address},
	}
	for _, field := range required {
		if strings.TrimSpace(field.value) == "" {
			return deny(CodeValidation, "Please provide your %s.", field.label)
		}
	}
	return allowed
}
