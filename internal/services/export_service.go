package services

import (
	"context"
	"fmt"

	"github.com/xuri/excelize/v2"

	"github.com/lusia-studio/quiz-engine/internal/utils"
)

// ExportService renders a graded attempt's per-question breakdown as
// an Excel workbook.
type ExportService struct {
	attempts *AttemptService
	quizzes  *QuizService
	logger   utils.Logger
}

func NewExportService(attempts *AttemptService, quizzes *QuizService, logger utils.Logger) *ExportService {
	return &ExportService{
		attempts: attempts,
		quizzes:  quizzes,
		logger:   logger,
	}
}

// ExportResults builds the workbook for one terminal attempt.
func (s *ExportService) ExportResults(ctx context.Context, attemptID, studentID string) ([]byte, error) {
	attempt, grading, err := s.attempts.Results(ctx, attemptID, studentID)
	if err != nil {
		return nil, err
	}

	prompts := map[string]string{}
	if _, questions, qerr := s.quizzes.GetQuiz(ctx, attempt.ArtifactID); qerr == nil {
		for _, q := range questions {
			prompts[q.ID] = q.Prompt
		}
	} else {
		// The breakdown still exports without prompts.
		s.logger.WarnContext(ctx, "question fetch failed during export", "artifact_id", attempt.ArtifactID, "error", qerr)
	}

	f := excelize.NewFile()
	sheetName := "Results"

	index, err := f.NewSheet(sheetName)
	if err != nil {
		return nil, fmt.Errorf("failed to create Excel sheet: %w", err)
	}
	f.SetActiveSheet(index)
	f.DeleteSheet("Sheet1")

	// Summary block
	f.SetCellValue(sheetName, "A1", "Attempt ID")
	f.SetCellValue(sheetName, "B1", attempt.ID)
	f.SetCellValue(sheetName, "A2", "Student ID")
	f.SetCellValue(sheetName, "B2", attempt.StudentID)
	f.SetCellValue(sheetName, "A3", "Score")
	f.SetCellValue(sheetName, "B3", grading.Score)
	f.SetCellValue(sheetName, "A4", "Correct")
	f.SetCellValue(sheetName, "B4", fmt.Sprintf("%d / %d", grading.CorrectCount, grading.TotalCount))
	if attempt.SubmittedAt != nil {
		f.SetCellValue(sheetName, "A5", "Submitted At")
		f.SetCellValue(sheetName, "B5", attempt.SubmittedAt.Format("2006-01-02 15:04:05"))
	}

	// Breakdown table
	const headerRow = 7
	headers := []string{"#", "Question", "Type", "Answered", "Correct", "Teacher Override"}
	for i, header := range headers {
		cell := fmt.Sprintf("%c%d", 'A'+i, headerRow)
		f.SetCellValue(sheetName, cell, header)
	}

	for i, result := range grading.Results {
		row := headerRow + 1 + i
		prompt := prompts[result.QuestionID]
		if prompt == "" {
			prompt = result.QuestionID
		}
		values := []interface{}{
			i + 1,
			prompt,
			string(result.Type),
			yesNo(result.Answered),
			yesNo(result.IsCorrect),
			yesNo(result.TeacherOverride),
		}
		for col, value := range values {
			cell := fmt.Sprintf("%c%d", 'A'+col, row)
			f.SetCellValue(sheetName, cell, value)
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to write Excel file: %w", err)
	}
	return buf.Bytes(), nil
}

func yesNo(v bool) string {
	if v {
		return "Yes"
	}
	return "No"
}
