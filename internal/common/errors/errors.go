// Package errors provides the error taxonomy shared by the matching engine
// and the job workers, plus the mapping onto BPMN errors.
package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
	"time"
)

// ErrorCode is a stable, machine readable error kind.
type ErrorCode string

// Weekly run outcomes.
const (
	// ErrCodeEnumerationFailed aborts a whole run.
	ErrCodeEnumerationFailed ErrorCode = "ENUMERATION_FAILED"

	// Per-user, recoverable: recorded in the run report, never abort the batch.
	ErrCodeCandidateLookupFailed ErrorCode = "CANDIDATE_LOOKUP_FAILED"
	ErrCodeExclusionLookupFailed ErrorCode = "EXCLUSION_LOOKUP_FAILED"
	ErrCodePersistenceFailed     ErrorCode = "PERSISTENCE_FAILED"
	ErrCodeValidationFailed      ErrorCode = "VALIDATION_FAILED"

	// Informational; a user with no candidates is a success with zero matches.
	ErrCodeNoEligibleCandidates ErrorCode = "NO_ELIGIBLE_CANDIDATES"
)

// Infrastructure and job level codes.
const (
	ErrCodeRunInProgress            ErrorCode = "RUN_ALREADY_IN_PROGRESS"
	ErrCodeInvalidJobInput          ErrorCode = "INVALID_JOB_INPUT"
	ErrCodeProfileNotFound          ErrorCode = "PROFILE_NOT_FOUND"
	ErrCodeDatabaseConnectionFailed ErrorCode = "DATABASE_CONNECTION_FAILED"
	ErrCodeQueryExecutionFailed     ErrorCode = "QUERY_EXECUTION_FAILED"
	ErrCodeSearchQueryFailed        ErrorCode = "SEARCH_QUERY_FAILED"
	ErrCodeCacheFailed              ErrorCode = "CACHE_FAILED"
	ErrCodePublishFailed            ErrorCode = "REPORT_PUBLISH_FAILED"
	ErrCodeBrokerUnavailable        ErrorCode = "BROKER_UNAVAILABLE"
	ErrCodeBrokerRejected           ErrorCode = "BROKER_REJECTED"
	ErrCodeInternal                 ErrorCode = "INTERNAL_ERROR"
)

// StandardError is the concrete error type returned across package boundaries.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Cause     error                  `json:"-"`
}

func (e *StandardError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("StandardError[%s]: %s: %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

func (e *StandardError) Unwrap() error {
	return e.Cause
}

// WithMetadata attaches a key to the error and returns it for chaining.
func (e *StandardError) WithMetadata(key string, value interface{}) *StandardError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]interface{})
	}
	e.Metadata[key] = value
	return e
}

func newError(code ErrorCode, message string, retryable bool, cause error) *StandardError {
	e := &StandardError{
		Code:      code,
		Message:   message,
		Retryable: retryable,
		Timestamp: time.Now().UTC(),
		Cause:     cause,
	}
	if cause != nil {
		e.Details = cause.Error()
	}
	return e
}

// BPMNError is what gets thrown back to the workflow engine.
type BPMNError struct {
	Code           string                 `json:"code"`
	Message        string                 `json:"message"`
	Details        string                 `json:"details,omitempty"`
	Retryable      bool                   `json:"retryable"`
	Retries        int                    `json:"retries"`
	ErrorVariables map[string]interface{} `json:"errorVariables,omitempty"`
}

func (e *BPMNError) Error() string {
	return fmt.Sprintf("BPMNError[%s]: %s", e.Code, e.Message)
}

// ToErrorVariables returns the variables attached to fail/throw commands.
func (e *BPMNError) ToErrorVariables() map[string]interface{} {
	vars := map[string]interface{}{
		"errorCode":    e.Code,
		"errorMessage": e.Message,
		"errorDetails": e.Details,
		"retryable":    e.Retryable,
	}
	for k, v := range e.ErrorVariables {
		vars[k] = v
	}
	return vars
}

func NewEnumerationFailedError(cycle string, err error) *StandardError {
	return newError(ErrCodeEnumerationFailed, "failed to enumerate users needing matches", true, err).
		WithMetadata("cycle", cycle)
}

func NewCandidateLookupError(userID string, err error) *StandardError {
	return newError(ErrCodeCandidateLookupFailed, "candidate lookup failed", true, err).
		WithMetadata("userId", userID)
}

func NewExclusionLookupError(userID string, err error) *StandardError {
	return newError(ErrCodeExclusionLookupFailed, "match history lookup failed", true, err).
		WithMetadata("userId", userID)
}

func NewPersistenceError(userID string, err error) *StandardError {
	return newError(ErrCodePersistenceFailed, "failed to persist matches", true, err).
		WithMetadata("userId", userID)
}

// NewValidationError reports a profile that cannot be matched as stored.
func NewValidationError(userID, details string) *StandardError {
	e := newError(ErrCodeValidationFailed, "profile failed validation", false, nil)
	e.Details = details
	return e.WithMetadata("userId", userID)
}

func NewProfileNotFoundError(userID string) *StandardError {
	e := newError(ErrCodeProfileNotFound, "profile not found", false, nil)
	e.Details = userID
	return e
}

func NewRunInProgressError(cycle string) *StandardError {
	e := newError(ErrCodeRunInProgress, "a match run for this cycle is already in progress", false, nil)
	e.Details = cycle
	return e
}

func NewInvalidJobInputError(details string) *StandardError {
	e := newError(ErrCodeInvalidJobInput, "invalid job input", false, nil)
	e.Details = details
	return e
}

func NewDatabaseConnectionFailedError(err error) *StandardError {
	return newError(ErrCodeDatabaseConnectionFailed, "database connection failed", true, err)
}

func NewQueryExecutionFailedError(queryType string, err error) *StandardError {
	return newError(ErrCodeQueryExecutionFailed, fmt.Sprintf("query %q failed", queryType), true, err)
}

func NewSearchQueryFailedError(queryType string, err error) *StandardError {
	return newError(ErrCodeSearchQueryFailed, fmt.Sprintf("search %q failed", queryType), true, err)
}

func NewCacheError(op string, err error) *StandardError {
	return newError(ErrCodeCacheFailed, fmt.Sprintf("cache %s failed", op), true, err)
}

func NewPublishFailedError(channel string, err error) *StandardError {
	return newError(ErrCodePublishFailed, fmt.Sprintf("publishing report to %s failed", channel), true, err)
}

// NewBrokerError wraps a workflow broker failure. Transport failures are
// retryable, rejections are not.
func NewBrokerError(op string, err error, transient bool) *StandardError {
	if transient {
		return newError(ErrCodeBrokerUnavailable, fmt.Sprintf("broker operation %q failed", op), true, err)
	}
	return newError(ErrCodeBrokerRejected, fmt.Sprintf("broker rejected %q", op), false, err)
}

func NewInternalError(err error) *StandardError {
	return newError(ErrCodeInternal, "unexpected error", false, err)
}

// KindOf returns the code of the outermost StandardError in err's chain.
// Anything else classifies as INTERNAL_ERROR.
func KindOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	var se *StandardError
	if stderrors.As(err, &se) {
		return se.Code
	}
	return ErrCodeInternal
}

// Is reports whether err carries the given code.
func Is(err error, code ErrorCode) bool {
	return err != nil && KindOf(err) == code
}

// IsPerUserRecoverable reports whether the code may be recorded against a
// single user without failing the run.
func IsPerUserRecoverable(code ErrorCode) bool {
	switch code {
	case ErrCodeCandidateLookupFailed,
		ErrCodeExclusionLookupFailed,
		ErrCodePersistenceFailed,
		ErrCodeValidationFailed,
		ErrCodeInternal:
		return true
	}
	return false
}

// BPMNErrorMapping translates internal codes to BPMN error codes used in the process models.
var BPMNErrorMapping = map[ErrorCode]string{
	ErrCodeEnumerationFailed: "MATCH_RUN_FAILED",
	ErrCodeRunInProgress:     "MATCH_RUN_IN_PROGRESS",
	ErrCodeInvalidJobInput:   "INVALID_INPUT",
	ErrCodeProfileNotFound:   "PROFILE_NOT_FOUND",
}

func GetRetryCount(code ErrorCode) int {
	switch code {
	case ErrCodeEnumerationFailed,
		ErrCodeDatabaseConnectionFailed,
		ErrCodeQueryExecutionFailed,
		ErrCodeSearchQueryFailed,
		ErrCodeCacheFailed,
		ErrCodeBrokerUnavailable:
		return 3
	case ErrCodePublishFailed:
		return 1
	default:
		return 0
	}
}

func ConvertToBPMNError(stdErr *StandardError) *BPMNError {
	bpmnCode, ok := BPMNErrorMapping[stdErr.Code]
	if !ok {
		bpmnCode = string(stdErr.Code)
	}

	retries := 0
	if stdErr.Retryable && IsRetryableErrorCode(stdErr.Code) {
		retries = GetRetryCount(stdErr.Code)
	}

	return &BPMNError{
		Code:      bpmnCode,
		Message:   stdErr.Message,
		Details:   stdErr.Details,
		Retryable: stdErr.Retryable,
		Retries:   retries,
		ErrorVariables: map[string]interface{}{
			"originalErrorCode": string(stdErr.Code),
			"timestamp":         stdErr.Timestamp.Format(time.RFC3339),
		},
	}
}

func IsRetryableErrorCode(code ErrorCode) bool {
	return GetRetryCount(code) > 0
}

func GetErrorCategory(code ErrorCode) string {
	s := string(code)
	switch {
	case strings.Contains(s, "ENUMERATION") || strings.Contains(s, "RUN"):
		return "RUN"
	case strings.Contains(s, "CANDIDATE") || strings.Contains(s, "SEARCH"):
		return "SEARCH"
	case strings.Contains(s, "EXCLUSION") || strings.Contains(s, "PERSISTENCE") ||
		strings.Contains(s, "DATABASE") || strings.Contains(s, "QUERY"):
		return "DATABASE"
	case strings.Contains(s, "BROKER"):
		return "WORKFLOW"
	case strings.Contains(s, "CACHE"):
		return "CACHE"
	case strings.Contains(s, "PUBLISH"):
		return "REPORTING"
	case strings.Contains(s, "INVALID") || strings.Contains(s, "VALIDATION") || strings.Contains(s, "NOT_FOUND"):
		return "VALIDATION"
	default:
		return "OTHER"
	}
}
