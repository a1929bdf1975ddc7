package models

// Program is an academic program offered on the application form.
type Program struct {
	Code   string `db:"code" json:"code"`
	Name   string `db:"name" json:"name"`
	Active bool   `db:"active" json:"active"`
}

// MiscFee is a miscellaneous fee line. A nil ProgramCode applies to every program.
type MiscFee struct {
	ID          string  `db:"id" json:"id"`
	Code        string  `db:"code" json:"code"`
	Label       string  `db:"label" json:"label"`
	AmountCents int64   `db:"amount_cents" json:"amount_cents"`
	ProgramCode *string `db:"program_code" json:"program_code,omitempty"`
}

// FeeSummary is the fee assessment shown to a student.
type FeeSummary struct {
	Program    string    `json:"program"`
	Items      []MiscFee `json:"items"`
	TotalCents int64     `json:"total_cents"`
	Total      string    `json:"total"`
	Paid       bool      `json:"paid"`
}
