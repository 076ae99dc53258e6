package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/lusia-studio/quiz-engine/internal/events"
	"github.com/lusia-studio/quiz-engine/internal/models"
	"github.com/lusia-studio/quiz-engine/internal/repositories"
	"github.com/lusia-studio/quiz-engine/internal/utils"
)

// SessionState is the lifecycle of one open attempt session.
type SessionState string

const (
	SessionLoading    SessionState = "loading"
	SessionTaking     SessionState = "taking"
	SessionSubmitting SessionState = "submitting"
	SessionSubmitted  SessionState = "submitted"
	SessionLoadError  SessionState = "load_error"
	SessionClosed     SessionState = "closed"
)

// AttemptSession drives one learner through one attempt: it loads the
// quiz and the attempt, seeds and migrates the answer map, accepts
// edits, schedules autosaves and performs the final submission. All
// methods are safe for concurrent use.
type AttemptSession struct {
	attemptID string
	studentID string

	repo      repositories.AttemptRepository
	quizzes   *QuizService
	publisher events.EventPublisher
	logger    utils.Logger
	clock     func() time.Time

	mu           sync.Mutex
	state        SessionState
	attempt      *models.Attempt
	definition   *models.QuizDefinition
	questions    []models.Question
	questionByID map[string]models.Question
	answers      models.AnswerMap
	questionKeys map[string]string
	navIndex     int
	loadErr      error

	scheduler *AutosaveScheduler
}

func newAttemptSession(attemptID, studentID string, repo repositories.AttemptRepository, quizzes *QuizService, publisher events.EventPublisher, logger utils.Logger, debounce, indicatorTTL time.Duration) *AttemptSession {
	s := &AttemptSession{
		attemptID: attemptID,
		studentID: studentID,
		repo:      repo,
		quizzes:   quizzes,
		publisher: publisher,
		logger:    logger.With("attempt_id", attemptID),
		clock:     time.Now,
		state:     SessionLoading,
		answers:   models.AnswerMap{},
	}
	s.scheduler = NewAutosaveScheduler(s, debounce, indicatorTTL, s.logger)
	return s
}

// Load fetches the attempt and its quiz, seeds the answer map from the
// stored record and migrates it when the quiz's question set changed
// since the answers were written. An attempt that cannot be fetched or
// that belongs to someone else fails hard; a question fetch failure
// degrades to an empty question list so the attempt shell still opens.
func (s *AttemptSession) Load(ctx context.Context) error {
	attempt, err := s.repo.GetByID(ctx, s.attemptID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return ErrAttemptNotFound
		}
		return fmt.Errorf("failed to load attempt %s: %w", s.attemptID, err)
	}
	if attempt.StudentID != s.studentID {
		return ErrAttemptAccessDenied
	}

	definition, questions, quizErr := s.quizzes.GetQuiz(ctx, attempt.ArtifactID)
	if quizErr != nil {
		if errors.Is(quizErr, ErrQuizNotFound) || errors.Is(quizErr, ErrNotAQuiz) {
			return quizErr
		}
		s.logger.LogError(quizErr, "question fetch failed, opening attempt with no questions")
	}

	seeded, storedKeys := attempt.SeedAnswers()
	answers := s.coerceTolerant(seeded, questions)
	if NeedsMigration(answers, questions) {
		answers = MigrateAnswers(answers, storedKeys, questions)
		answers = s.coerceTolerant(answers, questions)
	}

	canonical, err := answers.Canonical()
	if err != nil {
		return fmt.Errorf("failed to serialize seeded answers: %w", err)
	}

	started := false
	if attempt.Status == models.AttemptNotStarted && attempt.Editable(s.clock()) {
		status := models.AttemptInProgress
		updated, err := s.repo.Update(ctx, attempt.ID, models.AttemptPatch{
			Status:          &status,
			ExpectedVersion: attempt.Version,
		})
		if err == nil {
			attempt = updated
			started = true
		} else if repositories.IsConflictError(err) {
			// Another session beat us to it; re-read and carry on.
			if fresh, ferr := s.repo.GetByID(ctx, attempt.ID); ferr == nil {
				attempt = fresh
			}
		} else {
			return fmt.Errorf("failed to start attempt %s: %w", attempt.ID, err)
		}
	}

	s.mu.Lock()
	s.attempt = attempt
	s.definition = definition
	s.questions = questions
	s.questionByID = make(map[string]models.Question, len(questions))
	for _, q := range questions {
		s.questionByID[q.ID] = q
	}
	s.answers = answers
	s.questionKeys = QuestionKeys(questions)
	s.navIndex = 0
	s.loadErr = quizErr
	switch {
	case quizErr != nil && !attempt.Status.Terminal():
		s.state = SessionLoadError
	case attempt.Status.Terminal():
		s.state = SessionSubmitted
	default:
		s.state = SessionTaking
	}
	s.mu.Unlock()

	s.scheduler.SetConfirmed(canonical)

	if started {
		s.publish(ctx, events.NewAttemptStartedEvent(attempt.ID, attempt.ArtifactID, attempt.StudentID, s.clock()))
	}
	return nil
}

// coerceTolerant decodes every answer against its question's type,
// dropping entries that no longer decode instead of failing the load.
func (s *AttemptSession) coerceTolerant(answers models.AnswerMap, questions []models.Question) models.AnswerMap {
	types := make(map[string]models.QuestionType, len(questions))
	for _, q := range questions {
		types[q.ID] = q.Type
	}
	out := make(models.AnswerMap, len(answers))
	for id, v := range answers {
		kind, ok := types[id]
		if !ok {
			out[id] = v
			continue
		}
		coerced, err := v.Coerce(kind)
		if err != nil {
			s.logger.Warn("dropping undecodable stored answer", "question_id", id, "error", err)
			continue
		}
		out[id] = coerced
	}
	return out
}

// ===== ACCESSORS =====

func (s *AttemptSession) AttemptID() string { return s.attemptID }

func (s *AttemptSession) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *AttemptSession) SaveState() SaveState {
	return s.scheduler.State()
}

func (s *AttemptSession) Attempt() *models.Attempt {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempt
}

func (s *AttemptSession) Questions() []models.Question {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Question, len(s.questions))
	copy(out, s.questions)
	return out
}

func (s *AttemptSession) Answers() models.AnswerMap {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.answers.Clone()
}

// AnsweredCount reports how many of the quiz's questions currently
// hold a substantive answer.
func (s *AttemptSession) AnsweredCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, q := range s.questions {
		if a, ok := s.answers[q.ID]; ok && a.Answered() {
			n++
		}
	}
	return n
}

// Seek moves the navigation index to the given question position.
func (s *AttemptSession) Seek(index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if index < 0 || index >= len(s.questions) {
		return fmt.Errorf("%w: question index %d out of range", ErrValidationFailed, index)
	}
	s.navIndex = index
	return nil
}

func (s *AttemptSession) NavIndex() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.navIndex
}

// ===== EDITS =====

// SetAnswer records the learner's answer for a question and arms the
// autosave timer. Edits are rejected once the attempt is terminal or
// past its due date.
func (s *AttemptSession) SetAnswer(questionID string, value models.AnswerValue) error {
	s.mu.Lock()
	if err := s.editableLocked(); err != nil {
		s.mu.Unlock()
		return err
	}
	q, ok := s.questionByID[questionID]
	if !ok {
		s.mu.Unlock()
		return ErrQuestionNotFound
	}
	coerced, err := value.Coerce(q.Type)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("%w: %v", ErrValidationFailed, err)
	}
	s.answers[questionID] = coerced
	s.mu.Unlock()

	s.scheduler.OnEdit()
	return nil
}

// ClearAnswer removes the learner's answer for a question.
func (s *AttemptSession) ClearAnswer(questionID string) error {
	s.mu.Lock()
	if err := s.editableLocked(); err != nil {
		s.mu.Unlock()
		return err
	}
	if _, ok := s.questionByID[questionID]; !ok {
		s.mu.Unlock()
		return ErrQuestionNotFound
	}
	delete(s.answers, questionID)
	s.mu.Unlock()

	s.scheduler.OnEdit()
	return nil
}

// editableLocked distinguishes the ways edits are refused. Callers
// hold s.mu.
func (s *AttemptSession) editableLocked() error {
	switch s.state {
	case SessionClosed:
		return ErrSessionClosed
	case SessionLoading, SessionLoadError:
		return ErrAttemptNotEditable
	case SessionSubmitting, SessionSubmitted:
		return ErrAttemptAlreadySubmitted
	}
	if s.attempt.Status.Terminal() {
		return ErrAttemptAlreadySubmitted
	}
	if !s.attempt.Editable(s.clock()) {
		return ErrAttemptOverdue
	}
	return nil
}

// ===== AUTOSAVE WIRING =====

// SnapshotDraft implements DraftWriter.
func (s *AttemptSession) SnapshotDraft() ([]byte, models.ProgressEnvelope, int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	canonical, err := s.answers.Canonical()
	if err != nil {
		// Cannot happen for values built through the model API; log
		// and let the write proceed unconditionally.
		s.logger.LogError(err, "failed to canonicalize draft")
		canonical = nil
	}
	env := models.ProgressEnvelope{
		Answers:      s.answers.Clone(),
		QuestionKeys: s.questionKeys,
	}
	return canonical, env, s.attempt.Version
}

// WriteDraft implements DraftWriter: one debounced progress write.
func (s *AttemptSession) WriteDraft(ctx context.Context, draft models.ProgressEnvelope, version int64) error {
	status := models.AttemptInProgress
	updated, err := s.repo.Update(ctx, s.attemptID, models.AttemptPatch{
		Progress:        &draft,
		Status:          &status,
		ExpectedVersion: version,
	})
	if err != nil {
		if repositories.IsConflictError(err) {
			s.refreshFromStore(ctx)
		}
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == SessionTaking {
		s.attempt = updated
	}
	return nil
}

// ===== SUBMISSION =====

// Submit freezes the answers, evaluates them and writes the graded
// submission in a single store update. On failure the session stays in
// Taking and the error wraps the cause; the learner may retry.
func (s *AttemptSession) Submit(ctx context.Context) (*models.Attempt, error) {
	s.mu.Lock()
	if err := s.editableLocked(); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	s.state = SessionSubmitting
	answers := s.answers.Clone()
	questions := make([]models.Question, len(s.questions))
	copy(questions, s.questions)
	attempt := s.attempt
	s.mu.Unlock()

	// No autosave may race the submission write.
	s.scheduler.Cancel()

	result := Evaluate(questions, answers)
	status := models.AttemptGraded
	autoGraded := true
	patch := models.AttemptPatch{
		Submission:      &models.SubmissionEnvelope{Answers: answers, Grading: &result},
		Status:          &status,
		Grade:           &result.Score,
		AutoGraded:      &autoGraded,
		ExpectedVersion: attempt.Version,
	}

	updated, err := s.repo.Update(ctx, s.attemptID, patch)
	if err != nil {
		s.mu.Lock()
		if s.state == SessionSubmitting {
			s.state = SessionTaking
		}
		s.mu.Unlock()
		if repositories.IsConflictError(err) {
			// A concurrent writer moved the attempt past our version.
			// Pick up the store's current record so a retry does not
			// fail on the same stale version forever.
			s.refreshFromStore(ctx)
		}
		return nil, NewSubmissionError(s.attemptID, err)
	}

	s.mu.Lock()
	s.attempt = updated
	s.state = SessionSubmitted
	s.mu.Unlock()

	now := s.clock()
	s.publish(ctx, events.NewAttemptSubmittedEvent(updated.ID, updated.ArtifactID, updated.StudentID, now, result.AnsweredCount, result.TotalCount))
	s.publish(ctx, events.NewAttemptGradedEvent(updated.ID, updated.ArtifactID, updated.StudentID, now, result.Score, result.CorrectCount, result.TotalCount, true))

	return updated, nil
}

// Evaluation returns the grading embedded in the stored submission.
// Available only once the attempt is terminal.
func (s *AttemptSession) Evaluation() (*models.EvaluationResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.attempt == nil || !s.attempt.Status.Terminal() {
		return nil, ErrAttemptNotTerminal
	}
	if s.attempt.Submission == nil || s.attempt.Submission.Grading == nil {
		return nil, ErrAttemptNotTerminal
	}
	return s.attempt.Submission.Grading, nil
}

// refreshFromStore re-reads the attempt after a version conflict so
// the session's next write carries the store's current version. A
// record another device already submitted freezes the session the same
// way ApplyRemote does.
func (s *AttemptSession) refreshFromStore(ctx context.Context) {
	fresh, err := s.repo.GetByID(ctx, s.attemptID)
	if err != nil {
		s.logger.LogError(err, "failed to re-read attempt after conflict")
		return
	}
	s.ApplyRemote(fresh)
}

// ApplyRemote folds in an attempt record updated outside this session,
// e.g. a submission from another device. A terminal remote state wins
// unconditionally: local edits stop and nothing is written back.
func (s *AttemptSession) ApplyRemote(attempt *models.Attempt) {
	if attempt == nil || attempt.ID != s.attemptID {
		return
	}

	s.mu.Lock()
	if s.state == SessionClosed {
		s.mu.Unlock()
		return
	}
	if attempt.Status.Terminal() {
		s.attempt = attempt
		s.answers, _ = attempt.SeedAnswers()
		s.state = SessionSubmitted
		s.mu.Unlock()
		s.scheduler.Cancel()
		return
	}
	if attempt.Version > s.attempt.Version {
		s.attempt = attempt
	}
	s.mu.Unlock()
}

// Close tears the session down: pending autosaves are cancelled and
// any in-flight write's outcome is ignored.
func (s *AttemptSession) Close() {
	s.mu.Lock()
	s.state = SessionClosed
	s.mu.Unlock()
	s.scheduler.Cancel()
}

func (s *AttemptSession) publish(ctx context.Context, event *events.AttemptEvent) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishAttemptEvent(ctx, event); err != nil {
		s.logger.LogError(err, "failed to publish attempt event", "event_type", event.Type)
	}
}

// ===== SESSION MANAGER =====

// SessionManager owns the open attempt sessions, one per attempt id.
type SessionManager struct {
	repo      repositories.AttemptRepository
	quizzes   *QuizService
	publisher events.EventPublisher
	logger    utils.Logger

	debounce     time.Duration
	indicatorTTL time.Duration

	mu       sync.Mutex
	sessions map[string]*AttemptSession
}

func NewSessionManager(repo repositories.AttemptRepository, quizzes *QuizService, publisher events.EventPublisher, logger utils.Logger, debounce, indicatorTTL time.Duration) *SessionManager {
	return &SessionManager{
		repo:         repo,
		quizzes:      quizzes,
		publisher:    publisher,
		logger:       logger,
		debounce:     debounce,
		indicatorTTL: indicatorTTL,
		sessions:     make(map[string]*AttemptSession),
	}
}

// Start opens (or resumes) the session for an attempt. Only one
// session per attempt exists in a single engine instance; re-opening
// returns the existing one after checking ownership.
func (m *SessionManager) Start(ctx context.Context, attemptID, studentID string) (*AttemptSession, error) {
	m.mu.Lock()
	if existing, ok := m.sessions[attemptID]; ok {
		m.mu.Unlock()
		if existing.studentID != studentID {
			return nil, ErrAttemptAccessDenied
		}
		return existing, nil
	}
	m.mu.Unlock()

	session := newAttemptSession(attemptID, studentID, m.repo, m.quizzes, m.publisher, m.logger, m.debounce, m.indicatorTTL)
	if err := session.Load(ctx); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.sessions[attemptID]; ok {
		// Lost the race to another Start; theirs wins.
		session.Close()
		if existing.studentID != studentID {
			return nil, ErrAttemptAccessDenied
		}
		return existing, nil
	}
	m.sessions[attemptID] = session
	return session, nil
}

// Get returns the open session for an attempt.
func (m *SessionManager) Get(attemptID, studentID string) (*AttemptSession, error) {
	m.mu.Lock()
	session, ok := m.sessions[attemptID]
	m.mu.Unlock()
	if !ok {
		return nil, ErrSessionNotFound
	}
	if session.studentID != studentID {
		return nil, ErrAttemptAccessDenied
	}
	return session, nil
}

// Close tears down and forgets the session for an attempt.
func (m *SessionManager) Close(attemptID string) error {
	m.mu.Lock()
	session, ok := m.sessions[attemptID]
	delete(m.sessions, attemptID)
	m.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}
	session.Close()
	return nil
}

// Shutdown closes every open session.
func (m *SessionManager) Shutdown() {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*AttemptSession)
	m.mu.Unlock()
	for _, s := range sessions {
		s.Close()
	}
}
