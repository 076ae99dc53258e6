package models

import "time"

// AttemptStatus uses the stable wire values already persisted for
// historical attempts. Do not rename.
type AttemptStatus string

const (
	AttemptNotStarted AttemptStatus = "not_started"
	AttemptInProgress AttemptStatus = "in_progress"
	AttemptSubmitted  AttemptStatus = "submitted"
	AttemptGraded     AttemptStatus = "graded"
)

// Terminal reports whether the learner's answers are frozen.
func (s AttemptStatus) Terminal() bool {
	return s == AttemptSubmitted || s == AttemptGraded
}

// ProgressEnvelope is the autosaved draft state. QuestionKeys records
// the content signature of each question the answers were written
// against, so a later load can migrate the map after the quiz's
// question set is regenerated without fetching the dead questions.
type ProgressEnvelope struct {
	Answers      AnswerMap         `json:"answers"`
	QuestionKeys map[string]string `json:"question_keys,omitempty"` // question id -> signature
}

// SubmissionEnvelope is the final answer state recorded at submit time.
// Grading is embedded by the engine when auto-grading succeeds.
type SubmissionEnvelope struct {
	Answers AnswerMap         `json:"answers"`
	Grading *EvaluationResult `json:"grading,omitempty"`
}

// Attempt is one learner's record of taking a specific quiz instance.
// It is mutated only through the attempt store.
type Attempt struct {
	ID         string              `json:"id"`
	ArtifactID string              `json:"artifact_id"`
	StudentID  string              `json:"student_id"`
	Status     AttemptStatus       `json:"status" validate:"omitempty,attempt_status"`
	Progress   *ProgressEnvelope   `json:"progress"`
	Submission *SubmissionEnvelope `json:"submission"`
	Grade      *float64            `json:"grade"`
	Feedback   *string             `json:"feedback,omitempty"`
	AutoGraded bool                `json:"auto_graded"`
	DueDate    *time.Time          `json:"due_date"`

	StartedAt   *time.Time `json:"started_at"`
	SubmittedAt *time.Time `json:"submitted_at"`
	GradedAt    *time.Time `json:"graded_at"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`

	// Version increments on every store write; patches carry the
	// version they were read at so the store can detect lost updates.
	Version int64 `json:"version"`
}

// Editable reports whether the learner may still change answers:
// not terminal and not past the due date.
func (a *Attempt) Editable(now time.Time) bool {
	if a.Status.Terminal() {
		return false
	}
	if a.DueDate != nil && !now.Before(*a.DueDate) {
		return false
	}
	return true
}

// SeedAnswers picks the answer map a session should start from: the
// final submission when the attempt is terminal, the draft otherwise.
func (a *Attempt) SeedAnswers() (AnswerMap, map[string]string) {
	if a.Status.Terminal() && a.Submission != nil {
		return a.Submission.Answers.Clone(), nil
	}
	if a.Progress != nil {
		return a.Progress.Answers.Clone(), a.Progress.QuestionKeys
	}
	return AnswerMap{}, nil
}

// AttemptPatch is a partial update written to the attempt store. Nil
// fields are left untouched.
type AttemptPatch struct {
	Progress   *ProgressEnvelope   `json:"progress,omitempty"`
	Submission *SubmissionEnvelope `json:"submission,omitempty"`
	Status     *AttemptStatus      `json:"status,omitempty"`
	Grade      *float64            `json:"grade,omitempty"`
	Feedback   *string             `json:"feedback,omitempty"`
	AutoGraded *bool               `json:"auto_graded,omitempty"`

	// ExpectedVersion is the version the caller read; the store
	// rejects the write with a conflict when it no longer matches.
	ExpectedVersion int64 `json:"expected_version"`
}
