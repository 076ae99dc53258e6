package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lusia-studio/quiz-engine/internal/cache"
	"github.com/lusia-studio/quiz-engine/internal/models"
	"github.com/lusia-studio/quiz-engine/internal/repositories"
	"github.com/lusia-studio/quiz-engine/internal/utils"
)

const quizCacheTTL = 5 * time.Minute

// cachedQuiz is the cache entry for one artifact: the definition plus
// its questions already reindexed to the definition's order.
type cachedQuiz struct {
	Definition models.QuizDefinition `json:"definition"`
	Questions  []models.Question     `json:"questions"`
}

// QuizService resolves quiz artifacts from the question bank with a
// read-through cache in front of it.
type QuizService struct {
	repo   repositories.QuizRepository
	cache  cache.CacheService
	logger utils.Logger
}

func NewQuizService(repo repositories.QuizRepository, cacheService cache.CacheService, logger utils.Logger) *QuizService {
	return &QuizService{
		repo:   repo,
		cache:  cacheService,
		logger: logger,
	}
}

// GetQuiz returns the quiz definition and its questions in definition
// order. Questions the bank no longer has are dropped from the list.
func (s *QuizService) GetQuiz(ctx context.Context, artifactID string) (*models.QuizDefinition, []models.Question, error) {
	key := quizCacheKey(artifactID)

	var entry cachedQuiz
	if err := s.cache.Get(ctx, key, &entry); err == nil {
		return &entry.Definition, entry.Questions, nil
	} else if !errors.Is(err, cache.ErrCacheMiss) {
		s.logger.WarnContext(ctx, "quiz cache lookup failed, falling through", "artifact_id", artifactID, "error", err)
	}

	definition, err := s.repo.GetDefinition(ctx, artifactID)
	if err != nil {
		switch {
		case errors.Is(err, repositories.ErrNotQuiz):
			return nil, nil, ErrNotAQuiz
		case errors.Is(err, repositories.ErrNotFound):
			return nil, nil, ErrQuizNotFound
		default:
			return nil, nil, fmt.Errorf("failed to load quiz definition %s: %w", artifactID, err)
		}
	}

	fetched, err := s.repo.GetQuestions(ctx, definition.QuestionIDs)
	if err != nil {
		// The definition resolved, so callers can still present the
		// quiz shell; they decide how to degrade.
		return definition, nil, fmt.Errorf("failed to load questions for quiz %s: %w", artifactID, err)
	}
	questions := models.ReindexQuestions(definition.QuestionIDs, fetched)

	if err := s.cache.Set(ctx, key, cachedQuiz{Definition: *definition, Questions: questions}, quizCacheTTL); err != nil {
		s.logger.WarnContext(ctx, "quiz cache store failed", "artifact_id", artifactID, "error", err)
	}

	return definition, questions, nil
}

// Invalidate drops the cached entry for an artifact, e.g. after the
// question bank regenerates its questions.
func (s *QuizService) Invalidate(ctx context.Context, artifactID string) error {
	return s.cache.Delete(ctx, quizCacheKey(artifactID))
}

func quizCacheKey(artifactID string) string {
	return "quiz:" + artifactID
}
