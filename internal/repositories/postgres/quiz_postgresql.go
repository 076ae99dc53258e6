package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/lusia-studio/quiz-engine/internal/models"
	"github.com/lusia-studio/quiz-engine/internal/repositories"
)

type artifactRow struct {
	ID           string         `gorm:"primaryKey;size:64"`
	ArtifactType string         `gorm:"not null;index"`
	ArtifactName string         `gorm:"size:255"`
	Content      datatypes.JSON `gorm:"type:jsonb"`
}

func (artifactRow) TableName() string {
	return "artifacts"
}

type questionRow struct {
	ID      string         `gorm:"primaryKey;size:64"`
	Type    string         `gorm:"not null;index"`
	Prompt  string         `gorm:"type:text"`
	Content datatypes.JSON `gorm:"type:jsonb"`
}

func (questionRow) TableName() string {
	return "questions"
}

type QuizPostgreSQL struct {
	db *gorm.DB
}

func NewQuizPostgreSQL(db *gorm.DB) repositories.QuizRepository {
	return &QuizPostgreSQL{db: db}
}

func (r *QuizPostgreSQL) GetDefinition(ctx context.Context, artifactID string) (*models.QuizDefinition, error) {
	var row artifactRow
	if err := r.db.WithContext(ctx).First(&row, "id = ?", artifactID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repositories.ErrNotFound
		}
		return nil, err
	}
	if row.ArtifactType != "quiz" {
		return nil, repositories.ErrNotQuiz
	}
	return &models.QuizDefinition{
		ArtifactID:  row.ID,
		Title:       row.ArtifactName,
		QuestionIDs: ExtractQuestionIDs(row.Content),
	}, nil
}

func (r *QuizPostgreSQL) GetQuestions(ctx context.Context, ids []string) ([]models.Question, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var rows []questionRow
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&rows).Error; err != nil {
		return nil, err
	}
	questions := make([]models.Question, 0, len(rows))
	for _, row := range rows {
		q := models.Question{
			ID:     row.ID,
			Type:   models.QuestionType(row.Type),
			Prompt: row.Prompt,
		}
		if len(row.Content) > 0 {
			if err := json.Unmarshal(row.Content, &q.Content); err != nil {
				return nil, fmt.Errorf("decode question %s content: %w", row.ID, err)
			}
		}
		questions = append(questions, q)
	}
	return questions, nil
}

// ExtractQuestionIDs pulls the ordered question-id list out of a quiz
// artifact's content. Several historical layouts are in the wild:
// top-level question_ids / quiz_question_ids, a nested quiz section,
// and inline question objects. Order is preserved, duplicates dropped.
func ExtractQuestionIDs(content []byte) []string {
	if len(content) == 0 {
		return nil
	}
	var doc struct {
		QuestionIDs     []string `json:"question_ids"`
		QuizQuestionIDs []string `json:"quiz_question_ids"`
		Quiz            *struct {
			QuestionIDs     []string `json:"question_ids"`
			QuizQuestionIDs []string `json:"quiz_question_ids"`
		} `json:"quiz"`
		Questions []struct {
			ID         string `json:"id"`
			QuestionID string `json:"question_id"`
		} `json:"questions"`
	}
	if err := json.Unmarshal(content, &doc); err != nil {
		return nil
	}

	seen := make(map[string]bool)
	var ordered []string
	push := func(id string) {
		if id == "" || seen[id] {
			return
		}
		seen[id] = true
		ordered = append(ordered, id)
	}

	for _, id := range doc.QuestionIDs {
		push(id)
	}
	for _, id := range doc.QuizQuestionIDs {
		push(id)
	}
	if doc.Quiz != nil {
		for _, id := range doc.Quiz.QuestionIDs {
			push(id)
		}
		for _, id := range doc.Quiz.QuizQuestionIDs {
			push(id)
		}
	}
	for _, q := range doc.Questions {
		if q.ID != "" {
			push(q.ID)
		} else {
			push(q.QuestionID)
		}
	}
	return ordered
}

// Repository bundles the postgres-backed stores.
type Repository struct {
	quiz    repositories.QuizRepository
	attempt repositories.AttemptRepository
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{
		quiz:    NewQuizPostgreSQL(db),
		attempt: NewAttemptPostgreSQL(db),
	}
}

func (r *Repository) Quiz() repositories.QuizRepository       { return r.quiz }
func (r *Repository) Attempt() repositories.AttemptRepository { return r.attempt }

// Migrate creates the engine's tables. Intended for local development
// and integration tests; production schemas are managed externally.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&artifactRow{}, &questionRow{}, &attemptRow{})
}
