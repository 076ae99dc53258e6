package models

// QuestionResult is the per-question outcome of an evaluation.
type QuestionResult struct {
	QuestionID      string       `json:"question_id"`
	Type            QuestionType `json:"type"`
	IsCorrect       bool         `json:"is_correct"`
	Answered        bool         `json:"answered"`
	TeacherOverride bool         `json:"teacher_override,omitempty"`
}

// EvaluationResult is derived from questions + answers and never
// persisted on its own; it is recomputed on demand and embedded in the
// submission envelope at submit time.
type EvaluationResult struct {
	Results       []QuestionResult `json:"results"`
	CorrectCount  int              `json:"correct_count"`
	AnsweredCount int              `json:"answered_count"`
	TotalCount    int              `json:"total_count"`
	Score         float64          `json:"score"` // 0-100
}
