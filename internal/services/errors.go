package services

import (
	"errors"
	"fmt"

	apperrors "github.com/lusia-studio/quiz-engine/internal/errors"
	"github.com/lusia-studio/quiz-engine/internal/repositories"
)

// ===== COMMON SERVICE ERRORS =====

var (
	ErrValidationFailed = errors.New("validation failed")

	// Quiz / question bank errors
	ErrQuizNotFound     = errors.New("quiz not found")
	ErrNotAQuiz         = errors.New("artifact is not a quiz")
	ErrQuestionNotFound = errors.New("question not found in this quiz")

	// Attempt errors
	ErrAttemptNotFound         = errors.New("attempt not found")
	ErrAttemptAccessDenied     = errors.New("access denied to attempt")
	ErrAttemptAlreadySubmitted = errors.New("attempt already submitted")
	ErrAttemptNotEditable      = errors.New("attempt is no longer editable")
	ErrAttemptOverdue          = errors.New("attempt due date has passed")
	ErrAttemptNotTerminal      = errors.New("attempt has not been submitted")

	// Session errors
	ErrSessionNotFound = errors.New("no active session for attempt")
	ErrSessionClosed   = errors.New("session has been torn down")
)

// ===== CUSTOM ERROR TYPES =====

// Use shared validation errors from the errors package.
type ValidationError = apperrors.ValidationError
type ValidationErrors = apperrors.ValidationErrors

// SubmissionError wraps a failed final submission. It is surfaced as a
// blocking notification; the attempt stays in Taking and the learner
// may retry.
type SubmissionError struct {
	AttemptID string
	Err       error
}

func (se *SubmissionError) Error() string {
	return fmt.Sprintf("submission failed for attempt %s: %v", se.AttemptID, se.Err)
}

func (se *SubmissionError) Unwrap() error {
	return se.Err
}

func NewSubmissionError(attemptID string, err error) *SubmissionError {
	return &SubmissionError{AttemptID: attemptID, Err: err}
}

// ===== ERROR HELPERS =====

func IsNotFound(err error) bool {
	return errors.Is(err, ErrAttemptNotFound) ||
		errors.Is(err, ErrQuizNotFound) ||
		errors.Is(err, ErrQuestionNotFound) ||
		errors.Is(err, ErrSessionNotFound) ||
		repositories.IsNotFoundError(err)
}

func IsConflict(err error) bool {
	return errors.Is(err, ErrAttemptAlreadySubmitted) ||
		repositories.IsConflictError(err)
}

func IsForbidden(err error) bool {
	return errors.Is(err, ErrAttemptAccessDenied) ||
		errors.Is(err, ErrAttemptNotEditable) ||
		errors.Is(err, ErrAttemptOverdue) ||
		repositories.IsUnauthorizedError(err)
}

func IsValidation(err error) bool {
	if errors.Is(err, ErrValidationFailed) {
		return true
	}
	var ve apperrors.ValidationErrors
	return errors.As(err, &ve)
}

func IsSubmission(err error) bool {
	var se *SubmissionError
	return errors.As(err, &se)
}
