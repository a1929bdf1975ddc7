package export

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/jung-kurt/gofpdf"
)

// CertificateCourse is one row of the enrolled course table.
type CertificateCourse struct {
	CourseID   string
	CourseName string
	Section    string
	Day        string
	Time       string
	Room       string
	Instructor string
	Units      float64
}

// CertificateFee is one line of the fee assessment.
type CertificateFee struct {
	Label       string
	AmountCents int64
}

// Certificate holds everything printed on a certificate of registration.
type Certificate struct {
	Institution string
	StudentID   string
	FullName    string
	Program     string
	Category    string
	Email       string
	Courses     []CertificateCourse
	Fees        []CertificateFee
	PaidAt      *time.Time
	IssuedAt    time.Time
}

// TotalUnits sums course units.
func (c Certificate) TotalUnits() float64 {
	var total float64
	for _, course := range c.Courses {
		total += course.Units
	}
	return total
}

// TotalFeesCents sums fee amounts.
func (c Certificate) TotalFeesCents() int64 {
	var total int64
	for _, fee := range c.Fees {
		total += fee.AmountCents
	}
	return total
}

// CertificateRenderer renders certificates of registration as A4 PDFs.
type CertificateRenderer struct {
	pageSize string
}

// NewCertificateRenderer constructs a renderer.
func NewCertificateRenderer() *CertificateRenderer {
	return &CertificateRenderer{pageSize: "A4"}
}

// Render produces the PDF bytes for cert.
func (r *CertificateRenderer) Render(cert Certificate) ([]byte, error) {
	if cert.StudentID == "" {
		return nil, fmt.Errorf("certificate requires a student id")
	}
	if len(cert.Courses) == 0 {
		return nil, fmt.Errorf("certificate requires at least one course")
	}

	pdf := gofpdf.New("P", "mm", r.pageSize, "")
	pdf.SetMargins(12, 15, 12)
	pdf.SetTitle("Certificate of Registration", true)
	pdf.AddPage()

	pdf.SetFont("Arial", "B", 14)
	pdf.CellFormat(0, 8, strings.ToUpper(cert.Institution), "", 1, "C", false, 0, "")
	pdf.SetFont("Arial", "B", 12)
	pdf.CellFormat(0, 8, "CERTIFICATE OF REGISTRATION", "", 1, "C", false, 0, "")
	pdf.Ln(4)

	pdf.SetFont("Arial", "", 10)
	identity := [][2]string{
		{"Student ID", cert.StudentID},
		{"Name", cert.FullName},
		{"Program", cert.Program},
		{"Category", cert.Category},
		{"E-mail", cert.Email},
	}
	for _, row := range identity {
		pdf.SetFont("Arial", "B", 10)
		pdf.CellFormat(35, 6, row[0], "", 0, "", false, 0, "")
		pdf.SetFont("Arial", "", 10)
		pdf.CellFormat(0, 6, row[1], "", 1, "", false, 0, "")
	}
	pdf.Ln(4)

	widths := []float64{22, 52, 16, 16, 24, 16, 26, 14}
	headers := []string{"Code", "Course", "Section", "Day", "Time", "Room", "Instructor", "Units"}
	pdf.SetFont("Arial", "B", 9)
	for i, header := range headers {
		pdf.CellFormat(widths[i], 7, header, "1", 0, "C", false, 0, "")
	}
	pdf.Ln(-1)
	pdf.SetFont("Arial", "", 8)
	for _, course := range cert.Courses {
		cells := []string{course.CourseID, course.CourseName, course.Section, course.Day, course.Time, course.Room, course.Instructor, formatUnits(course.Units)}
		for i, cell := range cells {
			pdf.CellFormat(widths[i], 6, cell, "1", 0, "", false, 0, "")
		}
		pdf.Ln(-1)
	}
	pdf.SetFont("Arial", "B", 9)
	pdf.CellFormat(widths[0]+widths[1]+widths[2]+widths[3]+widths[4]+widths[5]+widths[6], 7, "Total units", "1", 0, "R", false, 0, "")
	pdf.CellFormat(widths[7], 7, formatUnits(cert.TotalUnits()), "1", 1, "", false, 0, "")
	pdf.Ln(4)

	if len(cert.Fees) > 0 {
		pdf.SetFont("Arial", "B", 10)
		pdf.CellFormat(0, 7, "Assessment of fees", "", 1, "", false, 0, "")
		pdf.SetFont("Arial", "", 9)
		for _, fee := range cert.Fees {
			pdf.CellFormat(140, 6, fee.Label, "", 0, "", false, 0, "")
			pdf.CellFormat(0, 6, FormatPeso(fee.AmountCents), "", 1, "R", false, 0, "")
		}
		pdf.SetFont("Arial", "B", 9)
		pdf.CellFormat(140, 7, "Total", "T", 0, "", false, 0, "")
		pdf.CellFormat(0, 7, FormatPeso(cert.TotalFeesCents()), "T", 1, "R", false, 0, "")
		pdf.Ln(4)
	}

	pdf.SetFont("Arial", "I", 8)
	if cert.PaidAt != nil {
		pdf.CellFormat(0, 5, "Paid on "+cert.PaidAt.Format("January 2, 2006"), "", 1, "", false, 0, "")
	}
	pdf.CellFormat(0, 5, "Issued "+cert.IssuedAt.Format("January 2, 2006 15:04 MST"), "", 1, "", false, 0, "")

	buf := &bytes.Buffer{}
	if err := pdf.Output(buf); err != nil {
		return nil, fmt.Errorf("render certificate: %w", err)
	}
	return buf.Bytes(), nil
}

// FormatPeso renders centavos as "PHP 1,234.50".
func FormatPeso(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	whole := fmt.Sprintf("%d", cents/100)
	var grouped strings.Builder
	for i, digit := range whole {
		if i > 0 && (len(whole)-i)%3 == 0 {
			grouped.WriteByte(',')
		}
		grouped.WriteRune(digit)
	}
	return fmt.Sprintf("%sPHP %s.%02d", sign, grouped.String(), cents%100)
}

func formatUnits(units float64) string {
	if units == float64(int64(units)) {
		return fmt.Sprintf("%d", int64(units))
	}
	return fmt.Sprintf("%.1f", units)
}
