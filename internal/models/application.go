package models

import "strings"

// ApplicationForm is the applicant-facing application payload. It doubles as the draft cached
// between sessions.
type ApplicationForm struct {
	Category     Category              `json:"category"`
	Program      string                `json:"program"`
	FirstName    string                `json:"first_name"`
	MiddleName   string                `json:"middle_name"`
	MiddleNameNA bool                  `json:"middle_name_na"`
	LastName     string                `json:"last_name"`
	Gender       string                `json:"gender"`
	DOB          string                `json:"dob"`
	Mobile       string                `json:"mobile"`
	Email        string                `json:"email"`
	Hardcopy     map[DocumentKind]bool `json:"hardcopy,omitempty"`
}

// Identity returns the personal fields of the form with whitespace trimmed and the e-mail
// lower-cased.
func (f ApplicationForm) Identity() Identity {
	middle := strings.TrimSpace(f.MiddleName)
	if f.MiddleNameNA {
		middle = ""
	}
	return Identity{
		Email:        strings.ToLower(strings.TrimSpace(f.Email)),
		FirstName:    strings.TrimSpace(f.FirstName),
		MiddleName:   middle,
		MiddleNameNA: f.MiddleNameNA,
		LastName:     strings.TrimSpace(f.LastName),
		Gender:       strings.TrimSpace(f.Gender),
		DOB:          strings.TrimSpace(f.DOB),
		Mobile:       strings.TrimSpace(f.Mobile),
	}
}

// Application merges the form with documents already uploaded to the record.
func (f ApplicationForm) Application(existing Application) Application {
	app := Application{
		Category:     f.Category,
		Program:      strings.TrimSpace(f.Program),
		Documents:    map[DocumentKind]string{},
		Hardcopy:     map[DocumentKind]bool{},
		UploadErrors: existing.UploadErrors,
	}
	for _, kind := range RequiredDocuments {
		app.Documents[kind] = existing.Documents[kind]
		app.Hardcopy[kind] = f.Hardcopy[kind] || existing.Hardcopy[kind]
	}
	return app
}

// AppointmentDecision is the registrar's ruling on a pending appointment.
type AppointmentDecision string

const (
	DecisionApprove    AppointmentDecision = "approve"
	DecisionDisapprove AppointmentDecision = "disapprove"
)

// Status maps the decision to the resulting appointment status.
func (d AppointmentDecision) Status() (AppointmentStatus, bool) {
	switch d {
	case DecisionApprove:
		return AppointmentApproved, true
	case DecisionDisapprove:
		return AppointmentDisapproved, true
	}
	return "", false
}

// AppointmentDecisionRequest carries optional remarks for the student.
type AppointmentDecisionRequest struct {
	Remarks string `json:"remarks" validate:"max=500"`
}

// SchedulesRequest publishes a course line-up.
type SchedulesRequest struct {
	Schedules []CourseMeeting `json:"schedules" validate:"required,min=1,dive"`
}

// PaymentRequest records a confirmed payment.
type PaymentRequest struct {
	Reference string `json:"reference" validate:"max=64"`
}

// CertificateRequest attaches an externally produced certificate.
type CertificateRequest struct {
	URL  string `json:"url" validate:"omitempty,url"`
	Path string `json:"path"`
}

// CredentialsResponse returns the issued student id and temporary password.
type CredentialsResponse struct {
	DocumentID        string `json:"document_id"`
	StudentID         string `json:"student_id"`
	TemporaryPassword string `json:"temporary_password"`
	Emailed           bool   `json:"emailed"`
}

// CertificateLink is a download link for the certificate of registration.
type CertificateLink struct {
	URL       string `json:"url"`
	ExpiresAt string `json:"expires_at,omitempty"`
}

// LineupView is the student's course line-up.
type LineupView struct {
	Schedules    []CourseMeeting `json:"schedules"`
	TotalUnits   float64         `json:"total_units"`
	Acknowledged bool            `json:"acknowledged"`
}

// NormalizationReport summarises a legacy field rewrite.
type NormalizationReport struct {
	Scanned   int      `json:"scanned"`
	Rewritten int      `json:"rewritten"`
	Failed    []string `json:"failed,omitempty"`
	DryRun    bool     `json:"dry_run"`
}
