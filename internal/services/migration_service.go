package services

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/lusia-studio/quiz-engine/internal/models"
)

// Signature returns a stable content-derived key for a question,
// independent of its id: regenerating a quiz gives unchanged questions
// new ids but the same signature. Derived from the normalized type and
// prompt text only; option ids deliberately do not participate, since
// they are regenerated together with the question id.
func Signature(q models.Question) string {
	return signatureOf(q.Type, q.Prompt)
}

func signatureOf(kind models.QuestionType, prompt string) string {
	normalized := string(kind) + "\x00" + normalizePrompt(prompt)
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

// normalizePrompt lowercases and collapses runs of whitespace so
// trivial reformatting does not change the signature.
func normalizePrompt(prompt string) string {
	return strings.Join(strings.Fields(strings.ToLower(prompt)), " ")
}

// QuestionKeys records id -> signature for a question set, in the
// shape the progress envelope persists.
func QuestionKeys(questions []models.Question) map[string]string {
	keys := make(map[string]string, len(questions))
	for _, q := range questions {
		keys[q.ID] = Signature(q)
	}
	return keys
}

// MigrateAnswers reconciles a persisted answer map against the current
// question set. oldKeys supplies the content signature each stale
// answer was recorded against (the progress envelope saves these).
//
// Two passes: build a signature index over the current questions, then
// remap. Keys already present in the current set pass through
// untouched, so running the migration on its own output is a no-op.
// Old entries that match nothing are dropped: losing an answer beats
// mis-attributing it.
func MigrateAnswers(answers models.AnswerMap, oldKeys map[string]string, current []models.Question) models.AnswerMap {
	currentIDs := make(map[string]bool, len(current))
	bySignature := make(map[string]string, len(current))
	for _, q := range current {
		currentIDs[q.ID] = true
		sig := Signature(q)
		if _, taken := bySignature[sig]; !taken {
			bySignature[sig] = q.ID
		}
	}

	migrated := make(models.AnswerMap, len(answers))
	for id, answer := range answers {
		if currentIDs[id] {
			migrated[id] = answer
		}
	}
	for id, answer := range answers {
		if currentIDs[id] {
			continue
		}
		sig, ok := oldKeys[id]
		if !ok {
			continue
		}
		newID, ok := bySignature[sig]
		if !ok {
			continue
		}
		if _, taken := migrated[newID]; taken {
			continue
		}
		migrated[newID] = answer
	}
	return migrated
}

// MigrateWithQuestions is MigrateAnswers for callers that still hold
// the old question records rather than persisted signatures.
func MigrateWithQuestions(answers models.AnswerMap, old, current []models.Question) models.AnswerMap {
	return MigrateAnswers(answers, QuestionKeys(old), current)
}

// NeedsMigration reports whether any answer key is absent from the
// current question set.
func NeedsMigration(answers models.AnswerMap, current []models.Question) bool {
	currentIDs := make(map[string]bool, len(current))
	for _, q := range current {
		currentIDs[q.ID] = true
	}
	for id := range answers {
		if !currentIDs[id] {
			return true
		}
	}
	return false
}
