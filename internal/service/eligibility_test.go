package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/lms-api/internal/models"
)

func keyMethod(key string, caseSensitive bool, max, current int) *models.CourseEnrollmentMethod {
	return &models.CourseEnrollmentMethod{
		ID:                 "method-1",
		CourseID:           "course-1",
		MethodType:         models.MethodKey,
		IsEnabled:          true,
		MaxEnrollments:     &max,
		CurrentEnrollments: current,
		DefaultRole:        models.CourseRoleStudent,
		EnrollmentKey:      &key,
		KeyCaseSensitive:   caseSensitive,
	}
}

func TestEvaluateEligibilityOrderedRules(t *testing.T) {
	now := time.Now()
	past := now.Add(-48 * time.Hour)

	method := keyMethod("Abc123", false, 10, 10)
	method.IsEnabled = false
	method.EnrollmentEndDate = &past

	// Disabled wins over window and capacity even though all three fail.
	result := EvaluateEligibility(method, EligibilityFacts{}, "Abc123", now)
	require.Equal(t, OutcomeRejected, result.Outcome)
	require.Equal(t, ReasonMethodDisabled, result.Reason)

	method.IsEnabled = true
	result = EvaluateEligibility(method, EligibilityFacts{}, "Abc123", now)
	require.Equal(t, ReasonNotInWindow, result.Reason)

	method.EnrollmentEndDate = nil
	result = EvaluateEligibility(method, EligibilityFacts{}, "Abc123", now)
	require.Equal(t, ReasonCapacityFull, result.Reason)
}

func TestEvaluateEligibilityDuplicateChecksFirst(t *testing.T) {
	method := keyMethod("Abc123", false, 10, 0)

	result := EvaluateEligibility(method, EligibilityFacts{AlreadyEnrolled: true}, "Abc123", time.Now())
	require.Equal(t, OutcomeRejected, result.Outcome)
	require.Equal(t, ReasonAlreadyEnrolled, result.Reason)

	result = EvaluateEligibility(method, EligibilityFacts{HasPendingRequest: true}, "Abc123", time.Now())
	require.Equal(t, ReasonDuplicateRequest, result.Reason)
}

func TestEvaluateEligibilityKeyCaseInsensitive(t *testing.T) {
	method := keyMethod("Abc123", false, 10, 0)

	for _, supplied := range []string{"abc123", "ABC123", "Abc123"} {
		result := EvaluateEligibility(method, EligibilityFacts{}, supplied, time.Now())
		require.Equal(t, OutcomeAllowed, result.Outcome, "key %q", supplied)
	}

	result := EvaluateEligibility(method, EligibilityFacts{}, " Abc123", time.Now())
	require.Equal(t, ReasonInvalidKey, result.Reason, "whitespace is not trimmed")
}

func TestEvaluateEligibilityKeyCaseSensitive(t *testing.T) {
	method := keyMethod("Abc123", true, 10, 0)

	result := EvaluateEligibility(method, EligibilityFacts{}, "abc123", time.Now())
	require.Equal(t, OutcomeRejected, result.Outcome)
	require.Equal(t, ReasonInvalidKey, result.Reason)

	result = EvaluateEligibility(method, EligibilityFacts{}, "Abc123", time.Now())
	require.Equal(t, OutcomeAllowed, result.Outcome)
}

func TestEvaluateEligibilityApprovalRedirects(t *testing.T) {
	method := &models.CourseEnrollmentMethod{
		MethodType:  models.MethodApproval,
		IsEnabled:   true,
		DefaultRole: models.CourseRoleStudent,
	}

	result := EvaluateEligibility(method, EligibilityFacts{}, "", time.Now())
	require.Equal(t, OutcomeRequiresApproval, result.Outcome)
	require.Equal(t, models.CourseRoleStudent, result.Role)

	// Staff enrolling directly skips the request workflow.
	result = EvaluateEligibility(method, EligibilityFacts{StaffOverride: true}, "", time.Now())
	require.Equal(t, OutcomeAllowed, result.Outcome)
}

func TestEvaluateEligibilitySelfInitiatedMethodGate(t *testing.T) {
	now := time.Now()
	facts := EligibilityFacts{SelfInitiated: true}

	for _, methodType := range []models.EnrollmentMethodType{models.MethodManual, models.MethodBulk, models.MethodCohort} {
		method := keyMethod("Abc123", false, 10, 0)
		method.MethodType = methodType

		result := EvaluateEligibility(method, facts, "Abc123", now)
		require.Equal(t, OutcomeRejected, result.Outcome, "method %s", methodType)
		require.Equal(t, ReasonWrongMethodType, result.Reason, "method %s", methodType)
	}

	selfMethod := keyMethod("", false, 10, 0)
	selfMethod.MethodType = models.MethodSelf
	selfMethod.EnrollmentKey = nil
	result := EvaluateEligibility(selfMethod, facts, "", now)
	require.Equal(t, OutcomeAllowed, result.Outcome)

	keyed := keyMethod("Abc123", false, 10, 0)
	result = EvaluateEligibility(keyed, facts, "Abc123", now)
	require.Equal(t, OutcomeAllowed, result.Outcome)

	approval := keyMethod("", false, 10, 0)
	approval.MethodType = models.MethodApproval
	approval.EnrollmentKey = nil
	result = EvaluateEligibility(approval, facts, "", now)
	require.Equal(t, OutcomeRequiresApproval, result.Outcome)

	// Staff acting through a manual method still pass; the gate only binds
	// learner-initiated attempts.
	manual := keyMethod("", false, 10, 0)
	manual.MethodType = models.MethodManual
	manual.EnrollmentKey = nil
	result = EvaluateEligibility(manual, EligibilityFacts{}, "", now)
	require.Equal(t, OutcomeAllowed, result.Outcome)
}

func TestEvaluateEligibilityStaffOverrideScope(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Hour)
	method := keyMethod("Abc123", false, 1, 1)
	method.MethodType = models.MethodManual
	method.EnrollmentEndDate = &past

	// Override skips window and capacity.
	result := EvaluateEligibility(method, EligibilityFacts{StaffOverride: true}, "", now)
	require.Equal(t, OutcomeAllowed, result.Outcome)

	// But never the duplicate check.
	result = EvaluateEligibility(method, EligibilityFacts{StaffOverride: true, AlreadyEnrolled: true}, "", now)
	require.Equal(t, ReasonAlreadyEnrolled, result.Reason)

	// And never the enabled flag.
	method.IsEnabled = false
	result = EvaluateEligibility(method, EligibilityFacts{StaffOverride: true}, "", now)
	require.Equal(t, ReasonMethodDisabled, result.Reason)
}

func TestEvaluateEligibilityAccessWindow(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	days := 30
	method := keyMethod("k", false, 10, 0)
	method.MethodType = models.MethodSelf
	method.EnrollmentDurationDays = &days

	result := EvaluateEligibility(method, EligibilityFacts{}, "", now)
	require.Equal(t, OutcomeAllowed, result.Outcome)
	require.NotNil(t, result.TimeEnd)
	require.Equal(t, now.AddDate(0, 0, 30), *result.TimeEnd)

	method.EnrollmentDurationDays = nil
	result = EvaluateEligibility(method, EligibilityFacts{}, "", now)
	require.Nil(t, result.TimeEnd)
}
