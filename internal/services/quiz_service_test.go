package services

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lusia-studio/quiz-engine/internal/cache"
	"github.com/lusia-studio/quiz-engine/internal/models"
	"github.com/lusia-studio/quiz-engine/internal/repositories/memory"
	"github.com/lusia-studio/quiz-engine/internal/utils"
)

// mapCache is an in-process CacheService for asserting read-through
// behavior.
type mapCache struct {
	mu      sync.Mutex
	entries map[string][]byte
	hits    int
}

func newMapCache() *mapCache {
	return &mapCache{entries: map[string][]byte{}}
}

func (c *mapCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.entries[key] = data
	return nil
}

func (c *mapCache) Get(ctx context.Context, key string, dest interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	data, ok := c.entries[key]
	if !ok {
		return cache.ErrCacheMiss
	}
	c.hits++
	return json.Unmarshal(data, dest)
}

func (c *mapCache) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
	return nil
}

func (c *mapCache) DeletePattern(ctx context.Context, pattern string) error { return nil }

func TestQuizService_GetQuizReindexesAndCaches(t *testing.T) {
	repo := memory.NewRepository()
	repo.QuizStore().PutDefinition(models.QuizDefinition{
		ArtifactID:  "quiz-1",
		QuestionIDs: []string{"q2", "q1"},
	})
	repo.QuizStore().PutQuestions(
		singleChoiceQ("q1", "a"),
		singleChoiceQ("q2", "b"),
	)
	cacheSvc := newMapCache()
	service := NewQuizService(repo.Quiz(), cacheSvc, utils.NewDevelopmentLogger())

	_, questions, err := service.GetQuiz(context.Background(), "quiz-1")
	require.NoError(t, err)
	require.Len(t, questions, 2)
	assert.Equal(t, "q2", questions[0].ID)
	assert.Equal(t, "q1", questions[1].ID)

	// Second read is served from the cache, already reindexed.
	_, questions, err = service.GetQuiz(context.Background(), "quiz-1")
	require.NoError(t, err)
	assert.Equal(t, "q2", questions[0].ID)
	assert.Equal(t, 1, cacheSvc.hits)

	require.NoError(t, service.Invalidate(context.Background(), "quiz-1"))
	_, _, err = service.GetQuiz(context.Background(), "quiz-1")
	require.NoError(t, err)
	assert.Equal(t, 1, cacheSvc.hits, "invalidation forces a bank read")
}

func TestQuizService_UnknownArtifact(t *testing.T) {
	repo := memory.NewRepository()
	service := NewQuizService(repo.Quiz(), cache.NewNoopCache(), utils.NewDevelopmentLogger())

	_, _, err := service.GetQuiz(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrQuizNotFound)
}
