package events

import (
	"time"

	"github.com/google/uuid"
)

// EventType represents different types of attempt lifecycle events
type EventType string

const (
	EventAttemptStarted    EventType = "attempt.started"
	EventAttemptSubmitted  EventType = "attempt.submitted"
	EventAttemptGraded     EventType = "attempt.graded"
	EventAttemptOverridden EventType = "attempt.overridden"
)

// AttemptEvent is the base event structure for all attempt events
type AttemptEvent struct {
	ID        string                 `json:"id"`
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Source    string                 `json:"source"`
	Version   string                 `json:"version"`
	Data      interface{}            `json:"data"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// Attempt event payloads

type AttemptStartedEvent struct {
	AttemptID  string    `json:"attempt_id"`
	ArtifactID string    `json:"artifact_id"`
	StudentID  string    `json:"student_id"`
	StartedAt  time.Time `json:"started_at"`
}

type AttemptSubmittedEvent struct {
	AttemptID     string    `json:"attempt_id"`
	ArtifactID    string    `json:"artifact_id"`
	StudentID     string    `json:"student_id"`
	SubmittedAt   time.Time `json:"submitted_at"`
	AnsweredCount int       `json:"answered_count"`
	TotalCount    int       `json:"total_count"`
}

type AttemptGradedEvent struct {
	AttemptID    string    `json:"attempt_id"`
	ArtifactID   string    `json:"artifact_id"`
	StudentID    string    `json:"student_id"`
	GradedAt     time.Time `json:"graded_at"`
	Score        float64   `json:"score"`
	CorrectCount int       `json:"correct_count"`
	TotalCount   int       `json:"total_count"`
	AutoGraded   bool      `json:"auto_graded"`
}

type AttemptOverriddenEvent struct {
	AttemptID  string    `json:"attempt_id"`
	ArtifactID string    `json:"artifact_id"`
	StudentID  string    `json:"student_id"`
	GraderID   string    `json:"grader_id"`
	GradedAt   time.Time `json:"graded_at"`
	Score      float64   `json:"score"`
}

// Event factory functions

func NewAttemptStartedEvent(attemptID, artifactID, studentID string, startedAt time.Time) *AttemptEvent {
	return newAttemptEvent(EventAttemptStarted, AttemptStartedEvent{
		AttemptID:  attemptID,
		ArtifactID: artifactID,
		StudentID:  studentID,
		StartedAt:  startedAt,
	})
}

func NewAttemptSubmittedEvent(attemptID, artifactID, studentID string, submittedAt time.Time, answered, total int) *AttemptEvent {
	return newAttemptEvent(EventAttemptSubmitted, AttemptSubmittedEvent{
		AttemptID:     attemptID,
		ArtifactID:    artifactID,
		StudentID:     studentID,
		SubmittedAt:   submittedAt,
		AnsweredCount: answered,
		TotalCount:    total,
	})
}

func NewAttemptGradedEvent(attemptID, artifactID, studentID string, gradedAt time.Time, score float64, correct, total int, autoGraded bool) *AttemptEvent {
	return newAttemptEvent(EventAttemptGraded, AttemptGradedEvent{
		AttemptID:    attemptID,
		ArtifactID:   artifactID,
		StudentID:    studentID,
		GradedAt:     gradedAt,
		Score:        score,
		CorrectCount: correct,
		TotalCount:   total,
		AutoGraded:   autoGraded,
	})
}

func NewAttemptOverriddenEvent(attemptID, artifactID, studentID, graderID string, gradedAt time.Time, score float64) *AttemptEvent {
	return newAttemptEvent(EventAttemptOverridden, AttemptOverriddenEvent{
		AttemptID:  attemptID,
		ArtifactID: artifactID,
		StudentID:  studentID,
		GraderID:   graderID,
		GradedAt:   gradedAt,
		Score:      score,
	})
}

func newAttemptEvent(eventType EventType, data interface{}) *AttemptEvent {
	return &AttemptEvent{
		ID:        uuid.NewString(),
		Type:      eventType,
		Timestamp: time.Now(),
		Source:    "quiz-engine",
		Version:   "1.0",
		Data:      data,
	}
}
