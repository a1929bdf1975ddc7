package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Top-level keys of a stored student document. Writes merge at this granularity.
const (
	FieldApplicantUID       = "applicantUid"
	FieldStudentID          = "studentId"
	FieldEmail              = "email"
	FieldAppointment        = "appointment"
	FieldPreRegistration    = "preRegistration"
	FieldSchedules          = "schedules"
	FieldRegistrationStatus = "registrationStatus"
	FieldFinance            = "finance"
	FieldCertificate        = "certificate"
	FieldPasswordHash       = "passwordHash"
	FieldSubmittedAt        = "submittedAt"
	FieldCreatedAt          = "createdAt"

	legacyPaymentStatus  = "paymentStatus"
	legacyFinances       = "finances"
	legacyFinancials     = "financials"
	legacyCertificateURL = "certificateUrl"
	// legacyStudentPassword held the student's password in plain text.
	legacyStudentPassword = "studentpassword"
)

// LegacyPaidFields are the synonyms older writers used for payment state.
var LegacyPaidFields = []string{legacyPaymentStatus, legacyFinances, legacyFinancials, legacyCertificateURL}

// LegacyFields are every top-level key normalisation removes.
var LegacyFields = append(append([]string(nil), LegacyPaidFields...), legacyStudentPassword)

type paidFlag struct {
	Paid *bool `json:"paid,omitempty"`
}

type appointmentDoc struct {
	Date      string     `json:"date"`
	Time      string     `json:"time"`
	Status    string     `json:"status"`
	BookedAt  *time.Time `json:"bookedAt,omitempty"`
	DecidedAt *time.Time `json:"decidedAt,omitempty"`
	Remarks   string     `json:"remarks,omitempty"`
}

type preRegistrationDoc struct {
	Status      string                 `json:"status"`
	Payload     PreRegistrationPayload `json:"payload"`
	SubmittedAt *time.Time             `json:"submittedAt,omitempty"`
}

type financeDoc struct {
	Paid      bool       `json:"paid"`
	PaidAt    *time.Time `json:"paidAt,omitempty"`
	Reference string     `json:"reference,omitempty"`
}

type certificateDoc struct {
	URL      string     `json:"url,omitempty"`
	Path     string     `json:"path,omitempty"`
	IssuedAt *time.Time `json:"issuedAt,omitempty"`
}

// StudentDocument is the stored wire shape of a student, including legacy synonyms. Every
// field is optional; DecodeStudentDocument resolves defaults once.
type StudentDocument struct {
	ApplicantUID string `json:"applicantUid,omitempty"`
	StudentID    string `json:"studentId,omitempty"`
	Email        string `json:"email,omitempty"`
	Category     string `json:"category,omitempty"`
	Program      string `json:"program,omitempty"`
	FirstName    string `json:"firstName,omitempty"`
	MiddleName   string `json:"middleName,omitempty"`
	MiddleNameNA bool   `json:"middleNameNA,omitempty"`
	LastName     string `json:"lastName,omitempty"`
	Gender       string `json:"gender,omitempty"`
	DOB          string `json:"dob,omitempty"`
	Mobile       string `json:"mobile,omitempty"`

	Picture           string   `json:"picture,omitempty"`
	PictureHardcopy   bool     `json:"pictureHardcopy,omitempty"`
	BirthCert         string   `json:"birthCert,omitempty"`
	BirthCertHardcopy bool     `json:"birthCertHardcopy,omitempty"`
	SchoolID          string   `json:"schoolId,omitempty"`
	SchoolIDHardcopy  bool     `json:"schoolIdHardcopy,omitempty"`
	Grades            string   `json:"grades,omitempty"`
	GradesHardcopy    bool     `json:"gradesHardcopy,omitempty"`
	UploadErrors      []string `json:"uploadErrors,omitempty"`

	SubmittedAt *time.Time `json:"submittedAt,omitempty"`
	CreatedAt   *time.Time `json:"createdAt,omitempty"`
	UpdatedAt   *time.Time `json:"updatedAt,omitempty"`

	Appointment        *appointmentDoc     `json:"appointment,omitempty"`
	PreRegistration    *preRegistrationDoc `json:"preRegistration,omitempty"`
	Schedules          []CourseMeeting     `json:"schedules,omitempty"`
	RegistrationStatus string              `json:"registrationStatus,omitempty"`
	Finance            *financeDoc         `json:"finance,omitempty"`
	Certificate        *certificateDoc     `json:"certificate,omitempty"`
	PasswordHash       string              `json:"passwordHash,omitempty"`

	PaymentStatus  string    `json:"paymentStatus,omitempty"`
	Finances       *paidFlag `json:"finances,omitempty"`
	Financials     *paidFlag `json:"financials,omitempty"`
	CertificateURL string    `json:"certificateUrl,omitempty"`

	StudentPassword string `json:"studentpassword,omitempty"`
}

// ParseStudentDocument parses stored JSON without resolving defaults.
func ParseStudentDocument(raw []byte) (StudentDocument, error) {
	var doc StudentDocument
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &doc); err != nil {
			return StudentDocument{}, err
		}
	}
	return doc, nil
}

// DecodeStudentDocument parses stored JSON into the canonical record.
func DecodeStudentDocument(id string, version int64, raw []byte) (StudentRecord, error) {
	doc, err := ParseStudentDocument(raw)
	if err != nil {
		return StudentRecord{}, fmt.Errorf("decode student document %s: %w", id, err)
	}
	return doc.Record(id, version), nil
}

// Record resolves the document into a StudentRecord, folding legacy synonyms into their
// canonical fields.
func (d StudentDocument) Record(id string, version int64) StudentRecord {
	record := StudentRecord{
		ID:           id,
		Version:      version,
		ApplicantUID: d.ApplicantUID,
		Identity: Identity{
			StudentID:    strings.TrimSpace(d.StudentID),
			Email:        strings.ToLower(strings.TrimSpace(d.Email)),
			FirstName:    d.FirstName,
			MiddleName:   d.MiddleName,
			MiddleNameNA: d.MiddleNameNA,
			LastName:     d.LastName,
			Gender:       d.Gender,
			DOB:          d.DOB,
			Mobile:       d.Mobile,
		},
		Application: Application{
			Category: Category(d.Category),
			Program:  d.Program,
			Documents: map[DocumentKind]string{
				DocumentPicture:   d.Picture,
				DocumentBirthCert: d.BirthCert,
				DocumentSchoolID:  d.SchoolID,
				DocumentGrades:    d.Grades,
			},
			Hardcopy: map[DocumentKind]bool{
				DocumentPicture:   d.PictureHardcopy,
				DocumentBirthCert: d.BirthCertHardcopy,
				DocumentSchoolID:  d.SchoolIDHardcopy,
				DocumentGrades:    d.GradesHardcopy,
			},
			UploadErrors: d.UploadErrors,
			SubmittedAt:  d.SubmittedAt,
		},
		Schedules:    d.Schedules,
		PasswordHash: d.PasswordHash,
		CreatedAt:    d.CreatedAt,
		UpdatedAt:    d.UpdatedAt,
	}
	if record.Schedules == nil {
		record.Schedules = []CourseMeeting{}
	}
	// Older clients wrote the whole application in one call without submittedAt or an
	// applicant session.
	if record.Application.SubmittedAt == nil && d.ApplicantUID == "" && record.Identity.Email != "" {
		submitted := time.Time{}
		if d.CreatedAt != nil {
			submitted = *d.CreatedAt
		}
		record.Application.SubmittedAt = &submitted
	}

	if d.Appointment != nil && d.Appointment.Status != "" {
		record.Appointment = &Appointment{
			Date:      d.Appointment.Date,
			Time:      Slot(strings.ToUpper(d.Appointment.Time)),
			Status:    AppointmentStatus(strings.ToLower(d.Appointment.Status)),
			BookedAt:  d.Appointment.BookedAt,
			DecidedAt: d.Appointment.DecidedAt,
			Remarks:   d.Appointment.Remarks,
		}
	}

	if d.PreRegistration != nil {
		status := PreRegistrationStatus(strings.ToLower(d.PreRegistration.Status))
		if status != PreRegistrationSubmitted {
			status = PreRegistrationUnsubmitted
		}
		record.PreRegistration = &PreRegistration{
			Status:      status,
			Payload:     d.PreRegistration.Payload,
			SubmittedAt: d.PreRegistration.SubmittedAt,
		}
	}

	switch strings.ToLower(d.RegistrationStatus) {
	case string(RegistrationSubmitted), "paid":
		record.RegistrationStatus = RegistrationSubmitted
	}

	if d.Finance != nil {
		record.Finance = Finance{Paid: d.Finance.Paid, PaidAt: d.Finance.PaidAt, Reference: d.Finance.Reference}
	}
	if !record.Finance.Paid && d.LegacyPaid() {
		record.Finance.Paid = true
	}

	switch {
	case d.Certificate != nil && (d.Certificate.URL != "" || d.Certificate.Path != ""):
		record.Certificate = &Certificate{URL: d.Certificate.URL, Path: d.Certificate.Path, IssuedAt: d.Certificate.IssuedAt}
	case d.CertificateURL != "":
		record.Certificate = &Certificate{URL: d.CertificateURL}
	}

	return record
}

// LegacyPaid reports whether any legacy synonym marks the student as paid.
func (d StudentDocument) LegacyPaid() bool {
	if strings.EqualFold(d.PaymentStatus, "paid") || strings.EqualFold(d.RegistrationStatus, "paid") {
		return true
	}
	if d.Finances != nil && d.Finances.Paid != nil && *d.Finances.Paid {
		return true
	}
	return d.Financials != nil && d.Financials.Paid != nil && *d.Financials.Paid
}

// HasLegacyFields reports whether the document still carries fields that normalisation rewrites.
func (d StudentDocument) HasLegacyFields() bool {
	return d.PaymentStatus != "" || d.Finances != nil || d.Financials != nil ||
		d.CertificateURL != "" || strings.EqualFold(d.RegistrationStatus, "paid") ||
		d.StudentPassword != ""
}
