package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/lusia-studio/quiz-engine/internal/models"
	"github.com/lusia-studio/quiz-engine/internal/repositories"
)

// attemptRow is the storage shape; progress and submission envelopes
// live in JSONB columns so historical payloads survive schema drift.
type attemptRow struct {
	ID         string         `gorm:"primaryKey;size:64"`
	ArtifactID string         `gorm:"not null;index;size:64"`
	StudentID  string         `gorm:"not null;index;size:64"`
	Status     string         `gorm:"not null;default:not_started;index"`
	Progress   datatypes.JSON `gorm:"type:jsonb"`
	Submission datatypes.JSON `gorm:"type:jsonb"`
	Grade      *float64
	Feedback   *string `gorm:"type:text"`
	AutoGraded bool

	DueDate     *time.Time
	StartedAt   *time.Time
	SubmittedAt *time.Time
	GradedAt    *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	Version     int64 `gorm:"not null;default:0"`
}

func (attemptRow) TableName() string {
	return "attempts"
}

type AttemptPostgreSQL struct {
	db *gorm.DB
}

func NewAttemptPostgreSQL(db *gorm.DB) repositories.AttemptRepository {
	return &AttemptPostgreSQL{db: db}
}

func (r *AttemptPostgreSQL) Create(ctx context.Context, attempt *models.Attempt) error {
	row, err := toAttemptRow(attempt)
	if err != nil {
		return err
	}
	if err := r.db.WithContext(ctx).Create(row).Error; err != nil {
		return fmt.Errorf("create attempt: %w", err)
	}
	attempt.CreatedAt = row.CreatedAt
	attempt.UpdatedAt = row.UpdatedAt
	return nil
}

func (r *AttemptPostgreSQL) GetByID(ctx context.Context, id string) (*models.Attempt, error) {
	var row attemptRow
	if err := r.db.WithContext(ctx).First(&row, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repositories.ErrNotFound
		}
		return nil, err
	}
	return fromAttemptRow(&row)
}

func (r *AttemptPostgreSQL) GetForStudent(ctx context.Context, artifactID, studentID string) (*models.Attempt, error) {
	var row attemptRow
	err := r.db.WithContext(ctx).
		Where("artifact_id = ? AND student_id = ?", artifactID, studentID).
		Order("created_at DESC").
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repositories.ErrNotFound
		}
		return nil, err
	}
	return fromAttemptRow(&row)
}

// Update applies a partial patch under optimistic concurrency. The
// terminal-revert guard runs inside the same transaction as the write:
// a slow autosave landing after submission must never flip a submitted
// attempt back to in_progress.
func (r *AttemptPostgreSQL) Update(ctx context.Context, id string, patch models.AttemptPatch) (*models.Attempt, error) {
	var out *models.Attempt
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row attemptRow
		if err := tx.First(&row, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return repositories.ErrNotFound
			}
			return err
		}

		if row.Version != patch.ExpectedVersion {
			return repositories.ErrConflict
		}
		current := models.AttemptStatus(row.Status)
		if current.Terminal() && patch.Status != nil && *patch.Status == models.AttemptInProgress {
			return repositories.ErrConflict
		}

		now := time.Now().UTC()
		updates := map[string]any{
			"version":    row.Version + 1,
			"updated_at": now,
		}
		if patch.Progress != nil {
			raw, err := json.Marshal(patch.Progress)
			if err != nil {
				return fmt.Errorf("marshal progress: %w", err)
			}
			updates["progress"] = datatypes.JSON(raw)
		}
		if patch.Submission != nil {
			raw, err := json.Marshal(patch.Submission)
			if err != nil {
				return fmt.Errorf("marshal submission: %w", err)
			}
			updates["submission"] = datatypes.JSON(raw)
			updates["submitted_at"] = now
		}
		if patch.Status != nil {
			updates["status"] = string(*patch.Status)
			switch *patch.Status {
			case models.AttemptInProgress:
				if row.StartedAt == nil {
					updates["started_at"] = now
				}
			case models.AttemptSubmitted:
				updates["submitted_at"] = now
			case models.AttemptGraded:
				updates["graded_at"] = now
			}
		}
		if patch.Grade != nil {
			updates["grade"] = *patch.Grade
		}
		if patch.Feedback != nil {
			updates["feedback"] = *patch.Feedback
		}
		if patch.AutoGraded != nil {
			updates["auto_graded"] = *patch.AutoGraded
		}

		res := tx.Model(&attemptRow{}).
			Where("id = ? AND version = ?", id, patch.ExpectedVersion).
			Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return repositories.ErrConflict
		}

		var fresh attemptRow
		if err := tx.First(&fresh, "id = ?", id).Error; err != nil {
			return err
		}
		attempt, err := fromAttemptRow(&fresh)
		if err != nil {
			return err
		}
		out = attempt
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func toAttemptRow(a *models.Attempt) (*attemptRow, error) {
	row := &attemptRow{
		ID:          a.ID,
		ArtifactID:  a.ArtifactID,
		StudentID:   a.StudentID,
		Status:      string(a.Status),
		Grade:       a.Grade,
		Feedback:    a.Feedback,
		AutoGraded:  a.AutoGraded,
		DueDate:     a.DueDate,
		StartedAt:   a.StartedAt,
		SubmittedAt: a.SubmittedAt,
		GradedAt:    a.GradedAt,
		Version:     a.Version,
	}
	if a.Progress != nil {
		raw, err := json.Marshal(a.Progress)
		if err != nil {
			return nil, fmt.Errorf("marshal progress: %w", err)
		}
		row.Progress = datatypes.JSON(raw)
	}
	if a.Submission != nil {
		raw, err := json.Marshal(a.Submission)
		if err != nil {
			return nil, fmt.Errorf("marshal submission: %w", err)
		}
		row.Submission = datatypes.JSON(raw)
	}
	return row, nil
}

func fromAttemptRow(row *attemptRow) (*models.Attempt, error) {
	a := &models.Attempt{
		ID:          row.ID,
		ArtifactID:  row.ArtifactID,
		StudentID:   row.StudentID,
		Status:      models.AttemptStatus(row.Status),
		Grade:       row.Grade,
		Feedback:    row.Feedback,
		AutoGraded:  row.AutoGraded,
		DueDate:     row.DueDate,
		StartedAt:   row.StartedAt,
		SubmittedAt: row.SubmittedAt,
		GradedAt:    row.GradedAt,
		CreatedAt:   row.CreatedAt,
		UpdatedAt:   row.UpdatedAt,
		Version:     row.Version,
	}
	if len(row.Progress) > 0 {
		var p models.ProgressEnvelope
		if err := json.Unmarshal(row.Progress, &p); err != nil {
			return nil, fmt.Errorf("decode progress: %w", err)
		}
		a.Progress = &p
	}
	if len(row.Submission) > 0 {
		var s models.SubmissionEnvelope
		if err := json.Unmarshal(row.Submission, &s); err != nil {
			return nil, fmt.Errorf("decode submission: %w", err)
		}
		a.Submission = &s
	}
	return a, nil
}
