package models

import (
	"sort"
	"strings"
	"time"
)

// DocumentPatch is a set of top-level document fields merged into a stored student document.
type DocumentPatch map[string]interface{}

// Keys returns the patched fields in sorted order.
func (p DocumentPatch) Keys() []string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// OnlyTouches reports whether every key of p is in allowed.
func (p DocumentPatch) OnlyTouches(allowed ...string) bool {
	set := make(map[string]struct{}, len(allowed))
	for _, k := range allowed {
		set[k] = struct{}{}
	}
	for k := range p {
		if _, ok := set[k]; !ok {
			return false
		}
	}
	return true
}

// Fields a student may write once the application is approved.
var StudentProgressFields = []string{FieldAppointment, FieldPreRegistration, FieldRegistrationStatus}

// Fields written only by the registrar or the certificate worker.
var RegistrarOwnedFields = []string{FieldSchedules, FieldFinance, FieldCertificate, FieldStudentID, FieldPasswordHash}

// ApplicationFields are the keys an applicant writes before approval.
var ApplicationFields = []string{
	FieldApplicantUID, FieldEmail, FieldCreatedAt, FieldSubmittedAt,
	"category", "program", "firstName", "middleName", "middleNameNA", "lastName", "gender", "dob", "mobile",
	"picture", "pictureHardcopy", "birthCert", "birthCertHardcopy", "schoolId", "schoolIdHardcopy",
	"grades", "gradesHardcopy", "uploadErrors",
}

// NewApplicationPatch creates the initial document bound to an anonymous applicant session.
func NewApplicationPatch(applicantUID string, now time.Time) DocumentPatch {
	return DocumentPatch{FieldApplicantUID: applicantUID, FieldCreatedAt: now.UTC()}
}

// DocumentUploadPatch records an uploaded document path.
func DocumentUploadPatch(kind DocumentKind, objectPath string) DocumentPatch {
	return DocumentPatch{string(kind): objectPath}
}

// ApplicationSubmitPatch writes the submitted application form.
func ApplicationSubmitPatch(identity Identity, app Application, now time.Time) DocumentPatch {
	patch := DocumentPatch{
		"category":       string(app.Category),
		"program":        app.Program,
		"firstName":      identity.FirstName,
		"middleName":     identity.MiddleName,
		"middleNameNA":   identity.MiddleNameNA,
		"lastName":       identity.LastName,
		"gender":         identity.Gender,
		"dob":            identity.DOB,
		"mobile":         identity.Mobile,
		FieldEmail:       identity.Email,
		FieldSubmittedAt: now.UTC(),
	}
	for _, kind := range RequiredDocuments {
		if path := app.Documents[kind]; path != "" {
			patch[string(kind)] = path
		}
		patch[string(kind)+"Hardcopy"] = app.Hardcopy[kind]
	}
	if len(app.UploadErrors) > 0 {
		patch["uploadErrors"] = app.UploadErrors
	}
	return patch
}

// AppointmentPatch writes an assessment appointment.
func AppointmentPatch(a Appointment) DocumentPatch {
	return DocumentPatch{FieldAppointment: appointmentDoc{
		Date:      a.Date,
		Time:      string(a.Time),
		Status:    string(a.Status),
		BookedAt:  a.BookedAt,
		DecidedAt: a.DecidedAt,
		Remarks:   a.Remarks,
	}}
}

// PreRegistrationPatch writes a submitted pre-registration form.
func PreRegistrationPatch(payload PreRegistrationPayload, now time.Time) DocumentPatch {
	at := now.UTC()
	return DocumentPatch{FieldPreRegistration: preRegistrationDoc{
		Status:      string(PreRegistrationSubmitted),
		Payload:     payload,
		SubmittedAt: &at,
	}}
}

// RegistrationSubmittedPatch acknowledges the course line-up.
func RegistrationSubmittedPatch() DocumentPatch {
	return DocumentPatch{FieldRegistrationStatus: string(RegistrationSubmitted)}
}

// SchedulesPatch publishes the course line-up.
func SchedulesPatch(meetings []CourseMeeting) DocumentPatch {
	if meetings == nil {
		meetings = []CourseMeeting{}
	}
	return DocumentPatch{FieldSchedules: meetings}
}

// FinancePaidPatch marks the student as paid in the canonical field.
func FinancePaidPatch(paidAt time.Time, reference string) DocumentPatch {
	at := paidAt.UTC()
	return DocumentPatch{FieldFinance: financeDoc{Paid: true, PaidAt: &at, Reference: reference}}
}

// CertificatePatch attaches the certificate of registration.
func CertificatePatch(cert Certificate) DocumentPatch {
	return DocumentPatch{FieldCertificate: certificateDoc{URL: cert.URL, Path: cert.Path, IssuedAt: cert.IssuedAt}}
}

// CredentialsPatch assigns the student id and password hash at approval.
func CredentialsPatch(studentID, passwordHash string) DocumentPatch {
	return DocumentPatch{FieldStudentID: studentID, FieldPasswordHash: passwordHash}
}

// PasswordPatch replaces the password hash.
func PasswordPatch(passwordHash string) DocumentPatch {
	return DocumentPatch{FieldPasswordHash: passwordHash}
}

// NormalizationPatch rewrites legacy payment and certificate fields into canonical ones. It
// returns nil when the document needs no rewrite.
func NormalizationPatch(doc StudentDocument) DocumentPatch {
	if !doc.HasLegacyFields() {
		return nil
	}
	patch := DocumentPatch{}
	if doc.LegacyPaid() && (doc.Finance == nil || !doc.Finance.Paid) {
		finance := financeDoc{Paid: true}
		if doc.Finance != nil {
			finance.PaidAt = doc.Finance.PaidAt
			finance.Reference = doc.Finance.Reference
		}
		patch[FieldFinance] = finance
	}
	if strings.EqualFold(doc.RegistrationStatus, "paid") {
		patch[FieldRegistrationStatus] = string(RegistrationSubmitted)
	}
	if doc.CertificateURL != "" && (doc.Certificate == nil || (doc.Certificate.URL == "" && doc.Certificate.Path == "")) {
		patch[FieldCertificate] = certificateDoc{URL: doc.CertificateURL}
	}
	return patch
}
