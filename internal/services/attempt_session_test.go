package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lusia-studio/quiz-engine/internal/cache"
	"github.com/lusia-studio/quiz-engine/internal/events"
	"github.com/lusia-studio/quiz-engine/internal/models"
	"github.com/lusia-studio/quiz-engine/internal/repositories"
	"github.com/lusia-studio/quiz-engine/internal/repositories/memory"
	"github.com/lusia-studio/quiz-engine/internal/utils"
)

func newTestEnv(t *testing.T) (*memory.Repository, *events.MockEventPublisher, *SessionManager) {
	t.Helper()
	repo := memory.NewRepository()
	logger := utils.NewDevelopmentLogger()
	publisher := events.NewMockEventPublisher(utils.ToSlogLogger(logger))
	quizzes := NewQuizService(repo.Quiz(), cache.NewNoopCache(), logger)
	manager := NewSessionManager(repo.Attempt(), quizzes, publisher, logger, testDebounce, testIndicator)
	t.Cleanup(manager.Shutdown)
	return repo, publisher, manager
}

func seedQuiz(repo *memory.Repository) {
	repo.QuizStore().PutDefinition(models.QuizDefinition{
		ArtifactID:  "quiz-1",
		Title:       "Geography basics",
		QuestionIDs: []string{"q1", "q2"},
	})
	repo.QuizStore().PutQuestions(
		singleChoiceQ("q1", "a"),
		models.Question{
			ID: "q2", Type: models.ShortAnswer, Prompt: "Name the capital of France",
			Content: models.QuestionContent{CorrectAnswers: []string{"paris"}},
		},
	)
}

func seedAttempt(repo *memory.Repository, status models.AttemptStatus) *models.Attempt {
	attempt := &models.Attempt{
		ID:         "att-1",
		ArtifactID: "quiz-1",
		StudentID:  "stu-1",
		Status:     status,
		Progress:   &models.ProgressEnvelope{Answers: models.AnswerMap{}},
	}
	if status != models.AttemptNotStarted {
		now := time.Now().UTC()
		attempt.StartedAt = &now
	}
	_ = repo.AttemptStore().Create(context.Background(), attempt)
	return attempt
}

func TestSession_LoadStartsNotStartedAttempt(t *testing.T) {
	repo, publisher, manager := newTestEnv(t)
	seedQuiz(repo)
	seedAttempt(repo, models.AttemptNotStarted)

	session, err := manager.Start(context.Background(), "att-1", "stu-1")
	require.NoError(t, err)

	assert.Equal(t, SessionTaking, session.State())
	assert.Equal(t, models.AttemptInProgress, session.Attempt().Status)
	assert.NotNil(t, session.Attempt().StartedAt)

	published := publisher.GetPublishedEvents()
	require.Len(t, published, 1)
	assert.Equal(t, events.EventAttemptStarted, published[0].Type)
}

func TestSession_LoadRestoresDefinitionOrder(t *testing.T) {
	repo, _, manager := newTestEnv(t)
	repo.QuizStore().PutDefinition(models.QuizDefinition{
		ArtifactID:  "quiz-1",
		QuestionIDs: []string{"q2", "q1", "missing"},
	})
	repo.QuizStore().PutQuestions(
		singleChoiceQ("q1", "a"),
		singleChoiceQ("q2", "b"),
	)
	seedAttempt(repo, models.AttemptInProgress)

	session, err := manager.Start(context.Background(), "att-1", "stu-1")
	require.NoError(t, err)

	questions := session.Questions()
	require.Len(t, questions, 2, "ids the bank no longer has are dropped")
	assert.Equal(t, "q2", questions[0].ID)
	assert.Equal(t, "q1", questions[1].ID)
}

func TestSession_LoadSeedsDraftAnswers(t *testing.T) {
	repo, _, manager := newTestEnv(t)
	seedQuiz(repo)
	attempt := &models.Attempt{
		ID:         "att-1",
		ArtifactID: "quiz-1",
		StudentID:  "stu-1",
		Status:     models.AttemptInProgress,
		Progress: &models.ProgressEnvelope{
			Answers: models.AnswerMap{"q2": models.ShortAnswerValue("Paris")},
		},
	}
	require.NoError(t, repo.AttemptStore().Create(context.Background(), attempt))

	session, err := manager.Start(context.Background(), "att-1", "stu-1")
	require.NoError(t, err)

	answers := session.Answers()
	require.Contains(t, answers, "q2")
	assert.Equal(t, 1, session.AnsweredCount())
}

func TestSession_LoadMigratesRegeneratedQuestionIDs(t *testing.T) {
	repo, _, manager := newTestEnv(t)

	oldQuestions := []models.Question{
		{ID: "old-1", Type: models.ShortAnswer, Prompt: "Name the capital of France"},
		{ID: "old-2", Type: models.SingleChoice, Prompt: "pick one"},
	}
	newQuestions := []models.Question{
		singleChoiceQ("new-2", "a"),
		{ID: "new-1", Type: models.ShortAnswer, Prompt: "Name the capital of   FRANCE",
			Content: models.QuestionContent{CorrectAnswers: []string{"paris"}}},
	}
	repo.QuizStore().PutDefinition(models.QuizDefinition{
		ArtifactID:  "quiz-1",
		QuestionIDs: []string{"new-1", "new-2"},
	})
	repo.QuizStore().PutQuestions(newQuestions...)

	attempt := &models.Attempt{
		ID:         "att-1",
		ArtifactID: "quiz-1",
		StudentID:  "stu-1",
		Status:     models.AttemptInProgress,
		Progress: &models.ProgressEnvelope{
			Answers: models.AnswerMap{
				"old-1": models.ShortAnswerValue("Paris"),
				"old-2": models.SingleChoiceAnswer("a"),
			},
			QuestionKeys: QuestionKeys(oldQuestions),
		},
	}
	require.NoError(t, repo.AttemptStore().Create(context.Background(), attempt))

	session, err := manager.Start(context.Background(), "att-1", "stu-1")
	require.NoError(t, err)

	answers := session.Answers()
	require.Len(t, answers, 2)
	assert.Equal(t, models.ShortAnswerValue("Paris"), answers["new-1"])
	assert.NotContains(t, answers, "old-1")
	assert.NotContains(t, answers, "old-2")
}

func TestSession_SetAnswerSchedulesDraftWrite(t *testing.T) {
	repo, _, manager := newTestEnv(t)
	seedQuiz(repo)
	seedAttempt(repo, models.AttemptInProgress)
	updates := make(chan models.Attempt, 10)
	repo.AttemptStore().Updates = updates

	session, err := manager.Start(context.Background(), "att-1", "stu-1")
	require.NoError(t, err)

	require.NoError(t, session.SetAnswer("q1", models.SingleChoiceAnswer("a")))
	require.NoError(t, session.SetAnswer("q2", models.ShortAnswerValue("Paris")))

	select {
	case stored := <-updates:
		assert.Equal(t, models.AttemptInProgress, stored.Status)
		require.NotNil(t, stored.Progress)
		assert.Len(t, stored.Progress.Answers, 2)
		assert.NotEmpty(t, stored.Progress.QuestionKeys, "draft writes persist question signatures")
	case <-time.After(time.Second):
		t.Fatal("expected a draft write")
	}

	// Both edits coalesced into the single write above.
	select {
	case <-updates:
		t.Fatal("expected exactly one draft write")
	case <-time.After(4 * testDebounce):
	}
}

func TestSession_SetAnswerValidatesQuestionAndShape(t *testing.T) {
	repo, _, manager := newTestEnv(t)
	seedQuiz(repo)
	seedAttempt(repo, models.AttemptInProgress)

	session, err := manager.Start(context.Background(), "att-1", "stu-1")
	require.NoError(t, err)

	err = session.SetAnswer("nope", models.ShortAnswerValue("x"))
	assert.ErrorIs(t, err, ErrQuestionNotFound)

	err = session.SetAnswer("q1", models.FillBlankAnswer(map[string]string{"b1": "x"}))
	assert.ErrorIs(t, err, ErrValidationFailed)
}

func TestSession_ConcurrentWriterDropsAutosaveSilently(t *testing.T) {
	repo, _, manager := newTestEnv(t)
	seedQuiz(repo)
	seedAttempt(repo, models.AttemptInProgress)
	updates := make(chan models.Attempt, 10)
	repo.AttemptStore().Updates = updates

	session, err := manager.Start(context.Background(), "att-1", "stu-1")
	require.NoError(t, err)

	require.NoError(t, session.SetAnswer("q1", models.SingleChoiceAnswer("a")))
	// Another tab wrote first.
	repo.AttemptStore().Bump("att-1")

	select {
	case <-updates:
		t.Fatal("conflicted draft write must be dropped")
	case <-time.After(4 * testDebounce):
	}
	assert.NotEqual(t, SaveError, session.SaveState(), "a conflict is not an error")

	answers := session.Answers()
	assert.Contains(t, answers, "q1", "local edits survive the dropped write")
}

func TestSession_SubmitGradesAndFreezes(t *testing.T) {
	repo, publisher, manager := newTestEnv(t)
	seedQuiz(repo)
	seedAttempt(repo, models.AttemptInProgress)

	session, err := manager.Start(context.Background(), "att-1", "stu-1")
	require.NoError(t, err)

	require.NoError(t, session.SetAnswer("q1", models.SingleChoiceAnswer("a")))
	require.NoError(t, session.SetAnswer("q2", models.ShortAnswerValue("wrong")))

	attempt, err := session.Submit(context.Background())
	require.NoError(t, err)

	assert.Equal(t, models.AttemptGraded, attempt.Status)
	assert.True(t, attempt.AutoGraded)
	require.NotNil(t, attempt.Grade)
	assert.Equal(t, 50.0, *attempt.Grade)
	require.NotNil(t, attempt.Submission)
	require.NotNil(t, attempt.Submission.Grading)
	assert.Equal(t, 1, attempt.Submission.Grading.CorrectCount)
	assert.NotNil(t, attempt.SubmittedAt)
	assert.NotNil(t, attempt.GradedAt)

	assert.Equal(t, SessionSubmitted, session.State())
	grading, err := session.Evaluation()
	require.NoError(t, err)
	assert.Equal(t, 50.0, grading.Score)

	var types []events.EventType
	for _, e := range publisher.GetPublishedEvents() {
		types = append(types, e.Type)
	}
	assert.Contains(t, types, events.EventAttemptSubmitted)
	assert.Contains(t, types, events.EventAttemptGraded)
}

func TestSession_EditAfterSubmitRejected(t *testing.T) {
	repo, _, manager := newTestEnv(t)
	seedQuiz(repo)
	seedAttempt(repo, models.AttemptInProgress)

	session, err := manager.Start(context.Background(), "att-1", "stu-1")
	require.NoError(t, err)

	_, err = session.Submit(context.Background())
	require.NoError(t, err)

	err = session.SetAnswer("q1", models.SingleChoiceAnswer("b"))
	assert.ErrorIs(t, err, ErrAttemptAlreadySubmitted)

	_, err = session.Submit(context.Background())
	assert.ErrorIs(t, err, ErrAttemptAlreadySubmitted)
}

func TestSession_SubmitFailureKeepsTaking(t *testing.T) {
	repo, _, manager := newTestEnv(t)
	seedQuiz(repo)
	seedAttempt(repo, models.AttemptInProgress)

	session, err := manager.Start(context.Background(), "att-1", "stu-1")
	require.NoError(t, err)
	require.NoError(t, session.SetAnswer("q1", models.SingleChoiceAnswer("a")))

	repo.AttemptStore().FailUpdate = errors.New("store unavailable")
	_, err = session.Submit(context.Background())

	var submissionErr *SubmissionError
	require.ErrorAs(t, err, &submissionErr)
	assert.Equal(t, "att-1", submissionErr.AttemptID)
	assert.Equal(t, SessionTaking, session.State())

	// The learner retries once the store recovers.
	attempt, err := session.Submit(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.AttemptGraded, attempt.Status)
}

func TestSession_SubmitRetriesAfterConflict(t *testing.T) {
	repo, _, manager := newTestEnv(t)
	seedQuiz(repo)
	seedAttempt(repo, models.AttemptInProgress)

	session, err := manager.Start(context.Background(), "att-1", "stu-1")
	require.NoError(t, err)

	// Another device wrote a draft first.
	repo.AttemptStore().Bump("att-1")

	_, err = session.Submit(context.Background())
	var submissionErr *SubmissionError
	require.ErrorAs(t, err, &submissionErr)
	assert.ErrorIs(t, err, repositories.ErrConflict)
	assert.Equal(t, SessionTaking, session.State())

	// The conflict refreshed the session's version; a plain retry
	// succeeds without any further concurrent writer.
	attempt, err := session.Submit(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.AttemptGraded, attempt.Status)
	assert.Equal(t, SessionSubmitted, session.State())
}

func TestSession_SubmitConflictAdoptsRemoteSubmission(t *testing.T) {
	repo, _, manager := newTestEnv(t)
	seedQuiz(repo)
	seedAttempt(repo, models.AttemptInProgress)

	session, err := manager.Start(context.Background(), "att-1", "stu-1")
	require.NoError(t, err)

	// The same attempt was submitted and graded from another device.
	status := models.AttemptGraded
	grade := 100.0
	_, err = repo.AttemptStore().Update(context.Background(), "att-1", models.AttemptPatch{
		Submission:      &models.SubmissionEnvelope{Answers: models.AnswerMap{}},
		Status:          &status,
		Grade:           &grade,
		ExpectedVersion: 0,
	})
	require.NoError(t, err)

	_, err = session.Submit(context.Background())
	assert.ErrorIs(t, err, repositories.ErrConflict)

	// The remote terminal state wins; the session froze read-only.
	assert.Equal(t, SessionSubmitted, session.State())
	assert.Equal(t, models.AttemptGraded, session.Attempt().Status)

	_, err = session.Submit(context.Background())
	assert.ErrorIs(t, err, ErrAttemptAlreadySubmitted)
}

func TestSession_SubmitSucceedsAfterDroppedAutosaveConflict(t *testing.T) {
	repo, _, manager := newTestEnv(t)
	seedQuiz(repo)
	seedAttempt(repo, models.AttemptInProgress)

	session, err := manager.Start(context.Background(), "att-1", "stu-1")
	require.NoError(t, err)

	require.NoError(t, session.SetAnswer("q1", models.SingleChoiceAnswer("a")))
	// Another tab wrote first; the autosave conflicts and is dropped.
	repo.AttemptStore().Bump("att-1")

	require.Eventually(t, func() bool {
		return session.Attempt().Version > 0
	}, time.Second, 5*time.Millisecond, "a dropped conflict re-reads the attempt")

	attempt, err := session.Submit(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.AttemptGraded, attempt.Status)
	require.NotNil(t, attempt.Grade)
	assert.Equal(t, 50.0, *attempt.Grade)
}

func TestSession_OverdueAttemptRejectsEditsAndSubmit(t *testing.T) {
	repo, _, manager := newTestEnv(t)
	seedQuiz(repo)
	past := time.Now().Add(-time.Hour)
	attempt := &models.Attempt{
		ID:         "att-1",
		ArtifactID: "quiz-1",
		StudentID:  "stu-1",
		Status:     models.AttemptInProgress,
		DueDate:    &past,
		Progress:   &models.ProgressEnvelope{Answers: models.AnswerMap{}},
	}
	require.NoError(t, repo.AttemptStore().Create(context.Background(), attempt))

	session, err := manager.Start(context.Background(), "att-1", "stu-1")
	require.NoError(t, err)

	err = session.SetAnswer("q1", models.SingleChoiceAnswer("a"))
	assert.ErrorIs(t, err, ErrAttemptOverdue)

	_, err = session.Submit(context.Background())
	assert.ErrorIs(t, err, ErrAttemptOverdue)
}

func TestSession_ApplyRemoteTerminalStateWins(t *testing.T) {
	repo, _, manager := newTestEnv(t)
	seedQuiz(repo)
	seedAttempt(repo, models.AttemptInProgress)
	updates := make(chan models.Attempt, 10)
	repo.AttemptStore().Updates = updates

	session, err := manager.Start(context.Background(), "att-1", "stu-1")
	require.NoError(t, err)
	require.NoError(t, session.SetAnswer("q1", models.SingleChoiceAnswer("a")))

	grade := 80.0
	remote := &models.Attempt{
		ID:         "att-1",
		ArtifactID: "quiz-1",
		StudentID:  "stu-1",
		Status:     models.AttemptGraded,
		Grade:      &grade,
		Submission: &models.SubmissionEnvelope{
			Answers: models.AnswerMap{"q1": models.SingleChoiceAnswer("b")},
			Grading: &models.EvaluationResult{Score: 80, TotalCount: 2, CorrectCount: 1},
		},
		Version: 99,
	}
	session.ApplyRemote(remote)

	assert.Equal(t, SessionSubmitted, session.State())
	assert.ErrorIs(t, session.SetAnswer("q1", models.SingleChoiceAnswer("c")), ErrAttemptAlreadySubmitted)

	// The pending autosave from the earlier edit must not fire.
	select {
	case <-updates:
		t.Fatal("no local write may follow a remote terminal state")
	case <-time.After(4 * testDebounce):
	}
}

func TestSession_TerminalAttemptOpensReadOnly(t *testing.T) {
	repo, _, manager := newTestEnv(t)
	seedQuiz(repo)
	grade := 100.0
	attempt := &models.Attempt{
		ID:         "att-1",
		ArtifactID: "quiz-1",
		StudentID:  "stu-1",
		Status:     models.AttemptGraded,
		Grade:      &grade,
		Submission: &models.SubmissionEnvelope{
			Answers: models.AnswerMap{"q1": models.SingleChoiceAnswer("a")},
			Grading: &models.EvaluationResult{Score: 100, TotalCount: 1, CorrectCount: 1},
		},
	}
	require.NoError(t, repo.AttemptStore().Create(context.Background(), attempt))

	session, err := manager.Start(context.Background(), "att-1", "stu-1")
	require.NoError(t, err)

	assert.Equal(t, SessionSubmitted, session.State())
	grading, err := session.Evaluation()
	require.NoError(t, err)
	assert.Equal(t, 100.0, grading.Score)

	assert.ErrorIs(t, session.SetAnswer("q1", models.SingleChoiceAnswer("b")), ErrAttemptAlreadySubmitted)
}

func TestSession_EvaluationUnavailableWhileTaking(t *testing.T) {
	repo, _, manager := newTestEnv(t)
	seedQuiz(repo)
	seedAttempt(repo, models.AttemptInProgress)

	session, err := manager.Start(context.Background(), "att-1", "stu-1")
	require.NoError(t, err)

	_, err = session.Evaluation()
	assert.ErrorIs(t, err, ErrAttemptNotTerminal)
}

func TestSessionManager_Lifecycle(t *testing.T) {
	repo, _, manager := newTestEnv(t)
	seedQuiz(repo)
	seedAttempt(repo, models.AttemptInProgress)

	_, err := manager.Get("att-1", "stu-1")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	first, err := manager.Start(context.Background(), "att-1", "stu-1")
	require.NoError(t, err)

	again, err := manager.Start(context.Background(), "att-1", "stu-1")
	require.NoError(t, err)
	assert.Same(t, first, again, "reopening returns the existing session")

	_, err = manager.Start(context.Background(), "att-1", "stu-2")
	assert.ErrorIs(t, err, ErrAttemptAccessDenied)

	require.NoError(t, manager.Close("att-1"))
	_, err = manager.Get("att-1", "stu-1")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	err = first.SetAnswer("q1", models.SingleChoiceAnswer("a"))
	assert.ErrorIs(t, err, ErrSessionClosed)
}

func TestSessionManager_UnknownAttempt(t *testing.T) {
	repo, _, manager := newTestEnv(t)
	seedQuiz(repo)

	_, err := manager.Start(context.Background(), "missing", "stu-1")
	assert.ErrorIs(t, err, ErrAttemptNotFound)
}
