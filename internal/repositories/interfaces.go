package repositories

import (
	"context"
	"errors"

	"github.com/lusia-studio/quiz-engine/internal/models"
)

// ===== STORE ERRORS =====

var (
	ErrNotFound     = errors.New("record not found")
	ErrNotQuiz      = errors.New("artifact is not a quiz")
	ErrUnauthorized = errors.New("unauthorized")

	// ErrConflict means a newer server state exists (version mismatch
	// or an attempted revert of a terminal status). Autosave drops the
	// write silently on this error.
	ErrConflict = errors.New("newer attempt state exists")
)

func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrNotQuiz)
}

func IsConflictError(err error) bool {
	return errors.Is(err, ErrConflict)
}

func IsUnauthorizedError(err error) bool {
	return errors.Is(err, ErrUnauthorized)
}

// ===== REPOSITORY INTERFACES =====

// QuizRepository is the question bank: quiz definitions (ordered
// question-id lists) and question records. GetQuestions makes no
// ordering promise; callers reindex by the requested id list.
type QuizRepository interface {
	GetDefinition(ctx context.Context, artifactID string) (*models.QuizDefinition, error)
	GetQuestions(ctx context.Context, ids []string) ([]models.Question, error)
}

// AttemptRepository persists attempts. Update applies a partial patch
// and returns the stored record; it fails with ErrConflict when the
// expected version is stale or when the patch would revert a terminal
// status back to in_progress.
type AttemptRepository interface {
	Create(ctx context.Context, attempt *models.Attempt) error
	GetByID(ctx context.Context, id string) (*models.Attempt, error)
	GetForStudent(ctx context.Context, artifactID, studentID string) (*models.Attempt, error)
	Update(ctx context.Context, id string, patch models.AttemptPatch) (*models.Attempt, error)
}

// Repository bundles the stores the engine depends on.
type Repository interface {
	Quiz() QuizRepository
	Attempt() AttemptRepository
}
