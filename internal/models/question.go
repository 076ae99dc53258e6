package models

type QuestionType string

const (
	SingleChoice QuestionType = "single_choice"
	MultiChoice  QuestionType = "multi_choice"
	TrueFalse    QuestionType = "true_false"
	ShortAnswer  QuestionType = "short_answer"
	Ordering     QuestionType = "ordering"
	Matching     QuestionType = "matching"
	FillBlank    QuestionType = "fill_blank"
)

// AllQuestionTypes lists every type the engine can evaluate.
var AllQuestionTypes = []QuestionType{
	SingleChoice,
	MultiChoice,
	TrueFalse,
	ShortAnswer,
	Ordering,
	Matching,
	FillBlank,
}

// Option is a selectable choice, an ordering item, or one side of a
// matching pair, depending on the question type.
type Option struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// Blank is a single gap in a fill-blank question. Accepted holds every
// value counted as correct for this blank.
type Blank struct {
	ID       string   `json:"id"`
	Accepted []string `json:"accepted"`
}

// QuestionContent carries the type-specific payload, including the
// correct-answer specification. Only the fields relevant to the
// question's type are populated.
type QuestionContent struct {
	// single_choice / multi_choice / ordering
	Options []Option `json:"options,omitempty"`

	// single_choice
	CorrectOptionID string `json:"correct_option_id,omitempty"`

	// multi_choice
	CorrectOptionIDs []string `json:"correct_option_ids,omitempty"`

	// true_false
	CorrectBool *bool `json:"correct_bool,omitempty"`

	// short_answer
	CorrectAnswers []string `json:"correct_answers,omitempty"`
	CaseSensitive  bool     `json:"case_sensitive,omitempty"`

	// ordering
	CorrectOrder []string `json:"correct_order,omitempty"`

	// matching
	LeftItems    []Option          `json:"left_items,omitempty"`
	RightItems   []Option          `json:"right_items,omitempty"`
	CorrectPairs map[string]string `json:"correct_pairs,omitempty"` // left id -> right id

	// fill_blank
	Blanks []Blank `json:"blanks,omitempty"`
}

// Question is immutable once fetched for an attempt.
type Question struct {
	ID      string          `json:"id"`
	Type    QuestionType    `json:"type" validate:"required,question_type"`
	Prompt  string          `json:"prompt"`
	Content QuestionContent `json:"content"`
}

// QuizDefinition is the ordered question-id list extracted from a quiz
// artifact. Order is authoritative for navigation and display.
type QuizDefinition struct {
	ArtifactID  string   `json:"artifact_id"`
	Title       string   `json:"title"`
	QuestionIDs []string `json:"question_ids"`
}

// ReindexQuestions restores the requested order over an unordered fetch
// result, dropping ids the bank did not return.
func ReindexQuestions(ids []string, fetched []Question) []Question {
	byID := make(map[string]Question, len(fetched))
	for _, q := range fetched {
		byID[q.ID] = q
	}
	ordered := make([]Question, 0, len(ids))
	for _, id := range ids {
		if q, ok := byID[id]; ok {
			ordered = append(ordered, q)
		}
	}
	return ordered
}
