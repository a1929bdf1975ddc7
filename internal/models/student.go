package models

import "time"

// Category is the applicant category chosen on the application form.
type Category string

const (
	CategoryNewStudent Category = "New Student"
	CategoryTransferee Category = "Transferee"
)

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	return c == CategoryNewStudent || c == CategoryTransferee
}

// DocumentKind names a required application document.
type DocumentKind string

const (
	DocumentPicture   DocumentKind = "picture"
	DocumentBirthCert DocumentKind = "birthCert"
	DocumentSchoolID  DocumentKind = "schoolId"
	DocumentGrades    DocumentKind = "grades"
)

// RequiredDocuments lists the documents every application needs, in checking order.
var RequiredDocuments = []DocumentKind{DocumentPicture, DocumentBirthCert, DocumentSchoolID, DocumentGrades}

// ParseDocumentKind validates raw against RequiredDocuments.
func ParseDocumentKind(raw string) (DocumentKind, bool) {
	for _, kind := range RequiredDocuments {
		if string(kind) == raw {
			return kind, true
		}
	}
	return "", false
}

// Slot is the half-day of an assessment appointment.
type Slot string

const (
	SlotAM Slot = "AM"
	SlotPM Slot = "PM"
)

// AppointmentStatus is the registrar decision on an assessment appointment.
type AppointmentStatus string

const (
	AppointmentPending     AppointmentStatus = "pending"
	AppointmentApproved    AppointmentStatus = "approved"
	AppointmentDisapproved AppointmentStatus = "disapproved"
)

// PreRegistrationStatus tracks the pre-registration form.
type PreRegistrationStatus string

const (
	PreRegistrationUnsubmitted PreRegistrationStatus = "unsubmitted"
	PreRegistrationSubmitted   PreRegistrationStatus = "submitted"
)

// RegistrationStatus is the student's acknowledgement of the course line-up.
type RegistrationStatus string

const (
	RegistrationUnset     RegistrationStatus = ""
	RegistrationSubmitted RegistrationStatus = "submitted"
)

// Identity holds the personal fields of a student.
type Identity struct {
	StudentID    string `json:"student_id,omitempty"`
	Email        string `json:"email"`
	FirstName    string `json:"first_name"`
	MiddleName   string `json:"middle_name,omitempty"`
	MiddleNameNA bool   `json:"middle_name_na"`
	LastName     string `json:"last_name"`
	Gender       string `json:"gender"`
	DOB          string `json:"dob"`
	Mobile       string `json:"mobile"`
}

// FullName joins the name parts, skipping an N/A middle name.
func (i Identity) FullName() string {
	name := i.FirstName
	if !i.MiddleNameNA && i.MiddleName != "" {
		name += " " + i.MiddleName
	}
	if i.LastName != "" {
		name += " " + i.LastName
	}
	return name
}

// Application holds the initial application form and its documents.
type Application struct {
	Category     Category                `json:"category"`
	Program      string                  `json:"program"`
	Documents    map[DocumentKind]string `json:"documents"`
	Hardcopy     map[DocumentKind]bool   `json:"hardcopy"`
	UploadErrors []string                `json:"upload_errors,omitempty"`
	SubmittedAt  *time.Time              `json:"submitted_at,omitempty"`
}

// Submitted reports whether the application has been submitted.
func (a Application) Submitted() bool {
	return a.SubmittedAt != nil
}

// DocumentSatisfied reports whether kind is uploaded or flagged for hardcopy submission.
func (a Application) DocumentSatisfied(kind DocumentKind) bool {
	return a.Documents[kind] != "" || a.Hardcopy[kind]
}

// Appointment is an assessment booking.
type Appointment struct {
	Date      string            `json:"date"`
	Time      Slot              `json:"time"`
	Status    AppointmentStatus `json:"status"`
	BookedAt  *time.Time        `json:"booked_at,omitempty"`
	DecidedAt *time.Time        `json:"decided_at,omitempty"`
	Remarks   string            `json:"remarks,omitempty"`
}

// Address is a postal address on the pre-registration form.
type Address struct {
	HouseNo  string `json:"house_no,omitempty"`
	Street   string `json:"street,omitempty"`
	Barangay string `json:"barangay,omitempty"`
	City     string `json:"city"`
	Province string `json:"province"`
	Zip      string `json:"zip,omitempty"`
}

// SchoolAttended is one prior school on the pre-registration form.
type SchoolAttended struct {
	School   string `json:"school"`
	YearGrad string `json:"year_grad"`
	Address  string `json:"address,omitempty"`
}

// Education holds the student's school history.
type Education struct {
	Elementary   SchoolAttended `json:"elementary"`
	JuniorHigh   SchoolAttended `json:"junior_high"`
	SeniorHigh   SchoolAttended `json:"senior_high"`
	SeniorStrand string         `json:"senior_strand"`
}

// Family holds the parent or guardian contact.
type Family struct {
	FatherName   string `json:"father_name,omitempty"`
	MotherName   string `json:"mother_name,omitempty"`
	GuardianName string `json:"guardian_name,omitempty"`
	ParentName   string `json:"parent_name"`
	Relationship string `json:"relationship"`
	Occupation   string `json:"occupation"`
	Mobile       string `json:"mobile"`
	Address      string `json:"address"`
}

// PreRegistrationPayload is the structured pre-registration form. Field order is the order in
// which missing sections are reported.
type PreRegistrationPayload struct {
	EntryLevel       string    `json:"entry_level"`
	Semester         string    `json:"semester"`
	PresentAddress   Address   `json:"present_address"`
	PermanentAddress *Address  `json:"permanent_address,omitempty"`
	Education        Education `json:"education"`
	Family           Family    `json:"family"`
}

// PreRegistration is the submitted pre-registration form.
type PreRegistration struct {
	Status      PreRegistrationStatus  `json:"status"`
	Payload     PreRegistrationPayload `json:"payload"`
	SubmittedAt *time.Time             `json:"submitted_at,omitempty"`
}

// CourseMeeting is one scheduled class in a student's course line-up.
type CourseMeeting struct {
	CourseID   string  `json:"course_id" validate:"notblank"`
	CourseName string  `json:"course_name" validate:"notblank"`
	Section    string  `json:"section"`
	Day        string  `json:"day"`
	Time       string  `json:"time"`
	Room       string  `json:"room"`
	Instructor string  `json:"instructor"`
	Units      float64 `json:"units" validate:"gte=0"`
}

// Finance is the canonical payment state.
type Finance struct {
	Paid      bool       `json:"paid"`
	PaidAt    *time.Time `json:"paid_at,omitempty"`
	Reference string     `json:"reference,omitempty"`
}

// Certificate points at the certificate of registration, by URL or object store path.
type Certificate struct {
	URL      string     `json:"url,omitempty"`
	Path     string     `json:"path,omitempty"`
	IssuedAt *time.Time `json:"issued_at,omitempty"`
}

// Present reports whether a URL or path is set.
func (c *Certificate) Present() bool {
	return c != nil && (c.URL != "" || c.Path != "")
}

// StudentRecord is the canonical, fully-defaulted view of a student document.
type StudentRecord struct {
	ID                 string             `json:"id"`
	Version            int64              `json:"version"`
	ApplicantUID       string             `json:"-"`
	Identity           Identity           `json:"identity"`
	Application        Application        `json:"application"`
	Appointment        *Appointment       `json:"appointment,omitempty"`
	PreRegistration    *PreRegistration   `json:"pre_registration,omitempty"`
	Schedules          []CourseMeeting    `json:"schedules"`
	RegistrationStatus RegistrationStatus `json:"registration_status"`
	Finance            Finance            `json:"finance"`
	Certificate        *Certificate       `json:"certificate,omitempty"`
	PasswordHash       string             `json:"-"`
	CreatedAt          *time.Time         `json:"created_at,omitempty"`
	UpdatedAt          *time.Time         `json:"updated_at,omitempty"`
}

// AppointmentStatus returns the appointment status or "" when none is booked.
func (r StudentRecord) AppointmentStatus() AppointmentStatus {
	if r.Appointment == nil {
		return ""
	}
	return r.Appointment.Status
}

// PreRegistrationSubmitted reports whether the pre-registration form was submitted.
func (r StudentRecord) PreRegistrationSubmitted() bool {
	return r.PreRegistration != nil && r.PreRegistration.Status == PreRegistrationSubmitted
}

// TotalUnits sums the units of all scheduled courses.
func (r StudentRecord) TotalUnits() float64 {
	var total float64
	for _, meeting := range r.Schedules {
		total += meeting.Units
	}
	return total
}

// StudentLookupField names the single field used to resolve students outside of a session.
type StudentLookupField string

const (
	LookupByStudentID StudentLookupField = "studentId"
	LookupByEmail     StudentLookupField = "email"
)

// Valid reports whether f is a supported lookup field.
func (f StudentLookupField) Valid() bool {
	return f == LookupByStudentID || f == LookupByEmail
}

// StudentFilter captures registrar listing criteria.
type StudentFilter struct {
	Search   string
	Page     int
	PageSize int
}
