// Package memory provides in-memory repository implementations with
// the same conflict semantics as the postgres store. They back unit
// tests and local development without a database.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/lusia-studio/quiz-engine/internal/models"
	"github.com/lusia-studio/quiz-engine/internal/repositories"
)

type QuizRepository struct {
	mu          sync.RWMutex
	definitions map[string]models.QuizDefinition
	questions   map[string]models.Question
}

func NewQuizRepository() *QuizRepository {
	return &QuizRepository{
		definitions: make(map[string]models.QuizDefinition),
		questions:   make(map[string]models.Question),
	}
}

func (r *QuizRepository) PutDefinition(def models.QuizDefinition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.definitions[def.ArtifactID] = def
}

func (r *QuizRepository) PutQuestions(questions ...models.Question) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, q := range questions {
		r.questions[q.ID] = q
	}
}

func (r *QuizRepository) GetDefinition(ctx context.Context, artifactID string) (*models.QuizDefinition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.definitions[artifactID]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	out := def
	return &out, nil
}

// GetQuestions intentionally returns results in map iteration order:
// the bank makes no ordering promise and callers must reindex.
func (r *QuizRepository) GetQuestions(ctx context.Context, ids []string) ([]models.Question, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	var out []models.Question
	for id, q := range r.questions {
		if want[id] {
			out = append(out, q)
		}
	}
	return out, nil
}

type AttemptRepository struct {
	mu       sync.Mutex
	attempts map[string]*models.Attempt

	// FailUpdate, when set, is returned by the next Update call and
	// then cleared. Tests use it to simulate transient write failures.
	FailUpdate error

	// Updates receives a copy of every successfully stored attempt
	// when non-nil; tests use it to observe autosave writes.
	Updates chan models.Attempt
}

func NewAttemptRepository() *AttemptRepository {
	return &AttemptRepository{attempts: make(map[string]*models.Attempt)}
}

func (r *AttemptRepository) Create(ctx context.Context, attempt *models.Attempt) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now().UTC()
	attempt.CreatedAt = now
	attempt.UpdatedAt = now
	cp := *attempt
	r.attempts[attempt.ID] = &cp
	return nil
}

func (r *AttemptRepository) GetByID(ctx context.Context, id string) (*models.Attempt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.attempts[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (r *AttemptRepository) GetForStudent(ctx context.Context, artifactID, studentID string) (*models.Attempt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.attempts {
		if a.ArtifactID == artifactID && a.StudentID == studentID {
			cp := *a
			return &cp, nil
		}
	}
	return nil, repositories.ErrNotFound
}

func (r *AttemptRepository) Update(ctx context.Context, id string, patch models.AttemptPatch) (*models.Attempt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.FailUpdate; err != nil {
		r.FailUpdate = nil
		return nil, err
	}

	a, ok := r.attempts[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	if a.Version != patch.ExpectedVersion {
		return nil, repositories.ErrConflict
	}
	if a.Status.Terminal() && patch.Status != nil && *patch.Status == models.AttemptInProgress {
		return nil, repositories.ErrConflict
	}

	now := time.Now().UTC()
	if patch.Progress != nil {
		p := *patch.Progress
		a.Progress = &p
	}
	if patch.Submission != nil {
		s := *patch.Submission
		a.Submission = &s
		a.SubmittedAt = &now
	}
	if patch.Status != nil {
		a.Status = *patch.Status
		switch *patch.Status {
		case models.AttemptInProgress:
			if a.StartedAt == nil {
				a.StartedAt = &now
			}
		case models.AttemptSubmitted:
			a.SubmittedAt = &now
		case models.AttemptGraded:
			a.GradedAt = &now
		}
	}
	if patch.Grade != nil {
		a.Grade = patch.Grade
	}
	if patch.Feedback != nil {
		a.Feedback = patch.Feedback
	}
	if patch.AutoGraded != nil {
		a.AutoGraded = *patch.AutoGraded
	}
	a.Version++
	a.UpdatedAt = now

	cp := *a
	if r.Updates != nil {
		select {
		case r.Updates <- cp:
		default:
		}
	}
	return &cp, nil
}

// Bump force-advances the stored version, simulating a concurrent
// writer from another tab or device.
func (r *AttemptRepository) Bump(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.attempts[id]; ok {
		a.Version++
	}
}

// Repository bundles the in-memory stores.
type Repository struct {
	quiz    *QuizRepository
	attempt *AttemptRepository
}

func NewRepository() *Repository {
	return &Repository{
		quiz:    NewQuizRepository(),
		attempt: NewAttemptRepository(),
	}
}

func (r *Repository) Quiz() repositories.QuizRepository       { return r.quiz }
func (r *Repository) Attempt() repositories.AttemptRepository { return r.attempt }

// QuizStore and AttemptStore expose the concrete stores for seeding.
func (r *Repository) QuizStore() *QuizRepository       { return r.quiz }
func (r *Repository) AttemptStore() *AttemptRepository { return r.attempt }
