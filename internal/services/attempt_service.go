package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/lusia-studio/quiz-engine/internal/events"
	"github.com/lusia-studio/quiz-engine/internal/models"
	"github.com/lusia-studio/quiz-engine/internal/repositories"
	"github.com/lusia-studio/quiz-engine/internal/utils"
)

// StartAttemptRequest creates (or resumes) a student's attempt at a
// quiz artifact.
type StartAttemptRequest struct {
	ArtifactID string     `json:"artifact_id" validate:"required"`
	StudentID  string     `json:"student_id" validate:"required"`
	DueDate    *time.Time `json:"due_date,omitempty"`
}

// OverrideRequest is a teacher's per-question correctness override.
type OverrideRequest struct {
	GraderID  string          `json:"grader_id" validate:"required"`
	Overrides map[string]bool `json:"overrides" validate:"required,min=1"`
	Feedback  *string         `json:"feedback,omitempty"`
}

// AttemptService covers the attempt operations that do not need an
// open session: creation, record reads, results and teacher overrides.
type AttemptService struct {
	repo      repositories.Repository
	quizzes   *QuizService
	publisher events.EventPublisher
	validator *utils.Validator
	logger    utils.Logger
	clock     func() time.Time
}

func NewAttemptService(repo repositories.Repository, quizzes *QuizService, publisher events.EventPublisher, validator *utils.Validator, logger utils.Logger) *AttemptService {
	return &AttemptService{
		repo:      repo,
		quizzes:   quizzes,
		publisher: publisher,
		validator: validator,
		logger:    logger,
		clock:     time.Now,
	}
}

// Start returns the student's attempt for an artifact, creating a
// fresh not_started record when none exists. A student has at most one
// attempt per artifact.
func (s *AttemptService) Start(ctx context.Context, req StartAttemptRequest) (*models.Attempt, error) {
	if err := s.validator.Validate(req); err != nil {
		return nil, err
	}

	// The artifact must resolve to a quiz before an attempt exists.
	if _, _, err := s.quizzes.GetQuiz(ctx, req.ArtifactID); err != nil {
		return nil, err
	}

	existing, err := s.repo.Attempt().GetForStudent(ctx, req.ArtifactID, req.StudentID)
	if err == nil {
		return existing, nil
	}
	if !repositories.IsNotFoundError(err) {
		return nil, fmt.Errorf("failed to look up attempt: %w", err)
	}

	now := s.clock()
	attempt := &models.Attempt{
		ID:         uuid.NewString(),
		ArtifactID: req.ArtifactID,
		StudentID:  req.StudentID,
		Status:     models.AttemptNotStarted,
		Progress:   &models.ProgressEnvelope{Answers: models.AnswerMap{}},
		DueDate:    req.DueDate,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.repo.Attempt().Create(ctx, attempt); err != nil {
		return nil, fmt.Errorf("failed to create attempt: %w", err)
	}

	s.logger.InfoContext(ctx, "attempt created",
		"attempt_id", attempt.ID,
		"artifact_id", attempt.ArtifactID,
		"student_id", attempt.StudentID)
	return attempt, nil
}

// Get fetches an attempt record, enforcing ownership.
func (s *AttemptService) Get(ctx context.Context, attemptID, studentID string) (*models.Attempt, error) {
	attempt, err := s.repo.Attempt().GetByID(ctx, attemptID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrAttemptNotFound
		}
		return nil, fmt.Errorf("failed to load attempt %s: %w", attemptID, err)
	}
	if studentID != "" && attempt.StudentID != studentID {
		return nil, ErrAttemptAccessDenied
	}
	return attempt, nil
}

// Results returns the grading stored with a terminal attempt.
func (s *AttemptService) Results(ctx context.Context, attemptID, studentID string) (*models.Attempt, *models.EvaluationResult, error) {
	attempt, err := s.Get(ctx, attemptID, studentID)
	if err != nil {
		return nil, nil, err
	}
	if !attempt.Status.Terminal() || attempt.Submission == nil || attempt.Submission.Grading == nil {
		return nil, nil, ErrAttemptNotTerminal
	}
	return attempt, attempt.Submission.Grading, nil
}

// Override applies a teacher's per-question correctness decisions to a
// graded submission and rescores it. The attempt keeps its graded
// status but stops counting as auto-graded.
func (s *AttemptService) Override(ctx context.Context, attemptID string, req OverrideRequest) (*models.Attempt, error) {
	if err := s.validator.Validate(req); err != nil {
		return nil, err
	}

	attempt, err := s.Get(ctx, attemptID, "")
	if err != nil {
		return nil, err
	}
	if !attempt.Status.Terminal() || attempt.Submission == nil || attempt.Submission.Grading == nil {
		return nil, ErrAttemptNotTerminal
	}

	grading := *attempt.Submission.Grading
	grading.Results = make([]models.QuestionResult, len(attempt.Submission.Grading.Results))
	copy(grading.Results, attempt.Submission.Grading.Results)

	byID := make(map[string]int, len(grading.Results))
	for i, r := range grading.Results {
		byID[r.QuestionID] = i
	}
	for questionID, isCorrect := range req.Overrides {
		i, ok := byID[questionID]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrQuestionNotFound, questionID)
		}
		grading.Results[i].IsCorrect = isCorrect
		grading.Results[i].TeacherOverride = true
	}
	grading = Rescore(grading)

	grade := clampGrade(grading.Score)
	status := models.AttemptGraded
	autoGraded := false
	submission := models.SubmissionEnvelope{
		Answers: attempt.Submission.Answers,
		Grading: &grading,
	}
	updated, err := s.repo.Attempt().Update(ctx, attemptID, models.AttemptPatch{
		Submission:      &submission,
		Status:          &status,
		Grade:           &grade,
		Feedback:        req.Feedback,
		AutoGraded:      &autoGraded,
		ExpectedVersion: attempt.Version,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to store override for attempt %s: %w", attemptID, err)
	}

	if s.publisher != nil {
		event := events.NewAttemptOverriddenEvent(updated.ID, updated.ArtifactID, updated.StudentID, req.GraderID, s.clock(), grade)
		if err := s.publisher.PublishAttemptEvent(ctx, event); err != nil {
			s.logger.LogError(err, "failed to publish override event", "attempt_id", updated.ID)
		}
	}
	return updated, nil
}

func clampGrade(score float64) float64 {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}
