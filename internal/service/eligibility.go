package service

import (
	"strings"
	"time"

	"github.com/noah-isme/lms-api/internal/models"
)

// EligibilityOutcome tags the three possible results of an eligibility check.
type EligibilityOutcome string

const (
	// OutcomeAllowed means the caller may create the enrollment.
	OutcomeAllowed EligibilityOutcome = "ALLOWED"
	// OutcomeRejected means enrollment is denied with a reason code.
	OutcomeRejected EligibilityOutcome = "REJECTED"
	// OutcomeRequiresApproval means the caller must create an enrollment
	// request instead of an enrollment.
	OutcomeRequiresApproval EligibilityOutcome = "REQUIRES_APPROVAL"
)

// Rejection reason codes surfaced to clients.
const (
	ReasonMethodDisabled   = "method_disabled"
	ReasonWrongMethodType  = "wrong_method_type"
	ReasonNotInWindow      = "not_in_window"
	ReasonCapacityFull     = "capacity_full"
	ReasonInvalidKey       = "invalid_key"
	ReasonAlreadyEnrolled  = "already_enrolled"
	ReasonDuplicateRequest = "duplicate_pending_request"
)

// EligibilityFacts carries the state the evaluator cannot look up itself.
// Callers load these before evaluating so the function stays pure.
type EligibilityFacts struct {
	AlreadyEnrolled   bool
	HasPendingRequest bool
	// SelfInitiated marks a learner-initiated attempt. Only self, key and
	// approval methods accept it; staff-driven method types reject.
	SelfInitiated bool
	// StaffOverride skips the window and capacity rules for staff-initiated
	// manual and bulk enrollment. Duplicate checks still apply.
	StaffOverride bool
}

// EligibilityResult is the tagged outcome of an evaluation.
type EligibilityResult struct {
	Outcome EligibilityOutcome
	Reason  string
	Role    models.CourseRole
	// TimeEnd is set when the method grants a bounded access window.
	TimeEnd *time.Time
}

func rejected(reason string) EligibilityResult {
	return EligibilityResult{Outcome: OutcomeRejected, Reason: reason}
}

// EvaluateEligibility decides whether an enrollment may proceed. Rules run
// in a fixed order and the first failure wins:
//
//  1. duplicate enrollment / duplicate pending request
//  2. method enabled
//  3. method type applicable to the invoking action
//  4. current time inside the enrollment window
//  5. seats remaining (read-time pre-filter; the orchestrator re-checks
//     capacity atomically at write time)
//  6. method-type specifics (key match, approval redirect)
func EvaluateEligibility(method *models.CourseEnrollmentMethod, facts EligibilityFacts, suppliedKey string, now time.Time) EligibilityResult {
	if facts.AlreadyEnrolled {
		return rejected(ReasonAlreadyEnrolled)
	}
	if facts.HasPendingRequest {
		return rejected(ReasonDuplicateRequest)
	}

	if !method.IsEnabled {
		return rejected(ReasonMethodDisabled)
	}

	if facts.SelfInitiated {
		switch method.MethodType {
		case models.MethodSelf, models.MethodKey, models.MethodApproval:
		default:
			return rejected(ReasonWrongMethodType)
		}
	}

	if !facts.StaffOverride {
		if !method.InWindow(now) {
			return rejected(ReasonNotInWindow)
		}
		if method.AtCapacity() {
			return rejected(ReasonCapacityFull)
		}
	}

	switch method.MethodType {
	case models.MethodKey:
		if method.EnrollmentKey == nil || !keyMatches(*method.EnrollmentKey, suppliedKey, method.KeyCaseSensitive) {
			return rejected(ReasonInvalidKey)
		}
	case models.MethodApproval:
		if !facts.StaffOverride {
			return EligibilityResult{Outcome: OutcomeRequiresApproval, Role: method.DefaultRole}
		}
	}

	result := EligibilityResult{Outcome: OutcomeAllowed, Role: method.DefaultRole}
	if method.EnrollmentDurationDays != nil && *method.EnrollmentDurationDays > 0 {
		end := now.AddDate(0, 0, *method.EnrollmentDurationDays)
		result.TimeEnd = &end
	}
	return result
}

// keyMatches compares keys with exact equality, lowercasing both sides when
// the method is case-insensitive. No whitespace trimming.
func keyMatches(expected, supplied string, caseSensitive bool) bool {
	if caseSensitive {
		return expected == supplied
	}
	return strings.ToLower(expected) == strings.ToLower(supplied)
}
