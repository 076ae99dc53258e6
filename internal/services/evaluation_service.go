package services

import (
	"math"
	"sort"
	"strings"

	"github.com/lusia-studio/quiz-engine/internal/models"
)

// Evaluate scores an answer map against a question set. It is a pure
// function: no side effects, identical inputs always yield identical
// output, so callers may invoke it on every render without caching.
//
// Every question counts toward the total. An unanswered question (key
// absent, empty string, empty collection) scores incorrect; it is
// never excluded and never causes an error. A malformed answer value
// is treated the same way.
func Evaluate(questions []models.Question, answers models.AnswerMap) models.EvaluationResult {
	result := models.EvaluationResult{
		Results:    make([]models.QuestionResult, 0, len(questions)),
		TotalCount: len(questions),
	}

	for _, q := range questions {
		answer, answered := lookupAnswer(answers, q)
		correct := answered && isCorrect(q, answer)

		if answered {
			result.AnsweredCount++
		}
		if correct {
			result.CorrectCount++
		}
		result.Results = append(result.Results, models.QuestionResult{
			QuestionID: q.ID,
			Type:       q.Type,
			IsCorrect:  correct,
			Answered:   answered,
		})
	}

	result.Score = scoreOf(result.CorrectCount, result.TotalCount)
	return result
}

// Rescore recomputes the aggregate fields of a result whose
// per-question outcomes were edited (teacher overrides).
func Rescore(result models.EvaluationResult) models.EvaluationResult {
	correct := 0
	for _, r := range result.Results {
		if r.IsCorrect {
			correct++
		}
	}
	result.CorrectCount = correct
	result.Score = scoreOf(correct, result.TotalCount)
	return result
}

func scoreOf(correct, total int) float64 {
	if total == 0 {
		return 0
	}
	return math.Round(float64(correct)/float64(total)*100*100) / 100
}

func lookupAnswer(answers models.AnswerMap, q models.Question) (models.AnswerValue, bool) {
	raw, ok := answers[q.ID]
	if !ok {
		return models.AnswerValue{}, false
	}
	answer, err := raw.Coerce(q.Type)
	if err != nil {
		return models.AnswerValue{}, false
	}
	return answer, answer.Answered()
}

func isCorrect(q models.Question, a models.AnswerValue) bool {
	switch q.Type {
	case models.SingleChoice:
		return correctSingleChoice(q.Content, a)
	case models.TrueFalse:
		return correctTrueFalse(q.Content, a)
	case models.MultiChoice:
		return correctMultiChoice(q.Content, a)
	case models.ShortAnswer:
		return correctShortAnswer(q.Content, a)
	case models.Ordering:
		return correctOrdering(q.Content, a)
	case models.Matching:
		return correctMatching(q.Content, a)
	case models.FillBlank:
		return correctFillBlank(q.Content, a)
	}
	return false
}

func correctSingleChoice(c models.QuestionContent, a models.AnswerValue) bool {
	return c.CorrectOptionID != "" && a.Choice == c.CorrectOptionID
}

func correctTrueFalse(c models.QuestionContent, a models.AnswerValue) bool {
	return c.CorrectBool != nil && a.Bool != nil && *a.Bool == *c.CorrectBool
}

// Set equality: order is irrelevant, a partial selection is incorrect.
func correctMultiChoice(c models.QuestionContent, a models.AnswerValue) bool {
	if len(c.CorrectOptionIDs) == 0 {
		return false
	}
	want := uniqueSorted(c.CorrectOptionIDs)
	got := uniqueSorted(a.Choices)
	if len(got) != len(want) {
		return false
	}
	for i := range want {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

func correctShortAnswer(c models.QuestionContent, a models.AnswerValue) bool {
	if len(c.CorrectAnswers) == 0 {
		return false
	}
	given := strings.TrimSpace(a.Text)
	if !c.CaseSensitive {
		given = strings.ToLower(given)
	}
	for _, accepted := range c.CorrectAnswers {
		want := strings.TrimSpace(accepted)
		if !c.CaseSensitive {
			want = strings.ToLower(want)
		}
		if given == want {
			return true
		}
	}
	return false
}

// Exact sequence equality: order matters.
func correctOrdering(c models.QuestionContent, a models.AnswerValue) bool {
	if len(c.CorrectOrder) == 0 || len(a.Order) != len(c.CorrectOrder) {
		return false
	}
	for i := range c.CorrectOrder {
		if a.Order[i] != c.CorrectOrder[i] {
			return false
		}
	}
	return true
}

// Every pair must match; partial credit is not awarded.
func correctMatching(c models.QuestionContent, a models.AnswerValue) bool {
	if len(c.CorrectPairs) == 0 || len(a.Pairs) != len(c.CorrectPairs) {
		return false
	}
	for left, right := range c.CorrectPairs {
		if a.Pairs[left] != right {
			return false
		}
	}
	return true
}

// Blanks are evaluated independently; the question is correct only if
// every blank is.
func correctFillBlank(c models.QuestionContent, a models.AnswerValue) bool {
	if len(c.Blanks) == 0 {
		return false
	}
	for _, blank := range c.Blanks {
		if !blankCorrect(blank, a.Blanks[blank.ID]) {
			return false
		}
	}
	return true
}

func blankCorrect(blank models.Blank, given string) bool {
	given = strings.TrimSpace(given)
	if given == "" {
		return false
	}
	for _, accepted := range blank.Accepted {
		if given == strings.TrimSpace(accepted) {
			return true
		}
	}
	return false
}

func uniqueSorted(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}
