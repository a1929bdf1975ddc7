// Package enrollment holds the enrollment progress state machine: stage derivation from a
// student record, transition guards and the time windows that gate them. Everything here is
// pure; callers pass the record, the configured windows and the current time explicitly.
package enrollment

import "github.com/enrollease/enrollease-api/internal/models"

// Stage is a step of the enrollment journey.
type Stage string

const (
	StageNotStarted                Stage = "NOT_STARTED"
	StageAwaitingAssessment        Stage = "AWAITING_ASSESSMENT"
	StageAssessmentPendingApproval Stage = "ASSESSMENT_PENDING_APPROVAL"
	StageAssessmentDisapproved     Stage = "ASSESSMENT_DISAPPROVED"
	StagePreRegistrationOpen       Stage = "PRE_REGISTRATION_OPEN"
	StagePreRegistrationSubmitted  Stage = "PRE_REGISTRATION_SUBMITTED"
	StageCourseLineupPending       Stage = "COURSE_LINEUP_PENDING"
	// StageCourseLineupSubmitted and StageFinancePaid are ordering markers; DeriveStage never
	// returns them.
	StageCourseLineupSubmitted Stage = "COURSE_LINEUP_SUBMITTED"
	StageFinanceOpen           Stage = "FINANCE_OPEN"
	StageFinancePaid           Stage = "FINANCE_PAID"
	StageFinalized             Stage = "FINALIZED"
)

// Stages lists every stage in forward order.
var Stages = []Stage{
	StageNotStarted,
	StageAwaitingAssessment,
	StageAssessmentPendingApproval,
	StageAssessmentDisapproved,
	StagePreRegistrationOpen,
	StagePreRegistrationSubmitted,
	StageCourseLineupPending,
	StageCourseLineupSubmitted,
	StageFinanceOpen,
	StageFinancePaid,
	StageFinalized,
}

// Rank returns the forward position of s, or -1 for an unknown stage.
func (s Stage) Rank() int {
	for i, stage := range Stages {
		if stage == s {
			return i
		}
	}
	return -1
}

// AtLeast reports whether s is at or beyond other.
func (s Stage) AtLeast(other Stage) bool {
	return s.Rank() >= other.Rank()
}

// DeriveStage maps a record snapshot to its stage. The first matching rule wins: payment
// supersedes everything, and line-up availability supersedes pre-registration.
func DeriveStage(record models.StudentRecord) Stage {
	switch {
	case record.Finance.Paid:
		return StageFinalized
	case record.RegistrationStatus == models.RegistrationSubmitted:
		return StageFinanceOpen
	case len(record.Schedules) > 0:
		return StageCourseLineupPending
	case record.PreRegistrationSubmitted():
		return StagePreRegistrationSubmitted
	}

	switch record.AppointmentStatus() {
	case models.AppointmentApproved:
		return StagePreRegistrationOpen
	case models.AppointmentDisapproved:
		return StageAssessmentDisapproved
	case models.AppointmentPending:
		return StageAssessmentPendingApproval
	}

	if !record.Application.Submitted() {
		return StageNotStarted
	}
	return StageAwaitingAssessment
}
