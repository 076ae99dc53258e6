package models

import (
	"encoding/json"
	"fmt"
	"sort"
)

// AnswerValue is a tagged union with one variant per answer shape. The
// wire representation is the historical one (scalar, list or object
// depending on the question type), so already-persisted attempts keep
// decoding; the tag is recovered from the question set, not the JSON.
type AnswerValue struct {
	Kind QuestionType `json:"-"`

	Choice  string            `json:"-"` // single_choice: selected option id
	Bool    *bool             `json:"-"` // true_false
	Choices []string          `json:"-"` // multi_choice: selected option ids (set)
	Text    string            `json:"-"` // short_answer
	Order   []string          `json:"-"` // ordering: item ids in chosen order
	Pairs   map[string]string `json:"-"` // matching: left id -> right id
	Blanks  map[string]string `json:"-"` // fill_blank: blank id -> value

	raw json.RawMessage
}

func SingleChoiceAnswer(optionID string) AnswerValue {
	return AnswerValue{Kind: SingleChoice, Choice: optionID}
}

func TrueFalseAnswer(v bool) AnswerValue {
	return AnswerValue{Kind: TrueFalse, Bool: &v}
}

func MultiChoiceAnswer(optionIDs ...string) AnswerValue {
	return AnswerValue{Kind: MultiChoice, Choices: optionIDs}
}

func ShortAnswerValue(text string) AnswerValue {
	return AnswerValue{Kind: ShortAnswer, Text: text}
}

func OrderingAnswer(itemIDs ...string) AnswerValue {
	return AnswerValue{Kind: Ordering, Order: itemIDs}
}

func MatchingAnswer(pairs map[string]string) AnswerValue {
	return AnswerValue{Kind: Matching, Pairs: pairs}
}

func FillBlankAnswer(blanks map[string]string) AnswerValue {
	return AnswerValue{Kind: FillBlank, Blanks: blanks}
}

// Answered reports whether the value counts as an answer. Empty strings
// and empty collections are "unanswered" and always score incorrect.
func (a AnswerValue) Answered() bool {
	switch a.Kind {
	case SingleChoice:
		return a.Choice != ""
	case TrueFalse:
		return a.Bool != nil
	case MultiChoice:
		return len(a.Choices) > 0
	case ShortAnswer:
		return a.Text != ""
	case Ordering:
		return len(a.Order) > 0
	case Matching:
		return len(a.Pairs) > 0
	case FillBlank:
		return len(a.Blanks) > 0
	}
	return len(a.raw) > 0
}

// MarshalJSON writes the historical wire shape for the value's kind. A
// value that was never coerced round-trips its original bytes.
func (a AnswerValue) MarshalJSON() ([]byte, error) {
	switch a.Kind {
	case SingleChoice:
		return json.Marshal(a.Choice)
	case TrueFalse:
		if a.Bool == nil {
			return []byte("null"), nil
		}
		return json.Marshal(*a.Bool)
	case MultiChoice:
		return json.Marshal(sortedCopy(a.Choices))
	case ShortAnswer:
		return json.Marshal(a.Text)
	case Ordering:
		return json.Marshal(emptyAsList(a.Order))
	case Matching:
		return json.Marshal(emptyAsMap(a.Pairs))
	case FillBlank:
		return json.Marshal(emptyAsMap(a.Blanks))
	}
	if len(a.raw) > 0 {
		return a.raw, nil
	}
	return []byte("null"), nil
}

// UnmarshalJSON keeps the raw bytes; the variant is only populated once
// Coerce is called with the owning question's type.
func (a *AnswerValue) UnmarshalJSON(data []byte) error {
	a.raw = append(json.RawMessage(nil), data...)
	return nil
}

// Coerce decodes the retained raw bytes into the variant for the given
// question type. Values built through the constructors are already
// typed and pass through unchanged when the kinds agree.
func (a AnswerValue) Coerce(kind QuestionType) (AnswerValue, error) {
	if a.Kind == kind {
		return a, nil
	}
	if a.Kind != "" {
		return AnswerValue{}, fmt.Errorf("answer kind mismatch: have %s, want %s", a.Kind, kind)
	}
	out := AnswerValue{Kind: kind}
	if len(a.raw) == 0 || string(a.raw) == "null" {
		return out, nil
	}
	var err error
	switch kind {
	case SingleChoice:
		err = json.Unmarshal(a.raw, &out.Choice)
	case TrueFalse:
		err = json.Unmarshal(a.raw, &out.Bool)
	case MultiChoice:
		err = json.Unmarshal(a.raw, &out.Choices)
	case ShortAnswer:
		err = json.Unmarshal(a.raw, &out.Text)
	case Ordering:
		err = json.Unmarshal(a.raw, &out.Order)
	case Matching:
		err = json.Unmarshal(a.raw, &out.Pairs)
	case FillBlank:
		err = json.Unmarshal(a.raw, &out.Blanks)
	default:
		err = fmt.Errorf("unknown question type %q", kind)
	}
	if err != nil {
		return AnswerValue{}, fmt.Errorf("decode %s answer: %w", kind, err)
	}
	return out, nil
}

// AnswerMap maps question id to the learner's answer for it. Absence of
// a key means "unanswered".
type AnswerMap map[string]AnswerValue

// Clone returns a key-level copy. Answer values are treated as
// immutable once set, so this is enough to snapshot the map.
func (m AnswerMap) Clone() AnswerMap {
	out := make(AnswerMap, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Coerce resolves every entry's variant against the question set.
// Entries whose question id is unknown are kept raw: migration decides
// their fate, not decoding.
func (m AnswerMap) Coerce(questions []Question) (AnswerMap, error) {
	types := make(map[string]QuestionType, len(questions))
	for _, q := range questions {
		types[q.ID] = q.Type
	}
	out := make(AnswerMap, len(m))
	for id, v := range m {
		kind, ok := types[id]
		if !ok {
			out[id] = v
			continue
		}
		coerced, err := v.Coerce(kind)
		if err != nil {
			return nil, fmt.Errorf("question %s: %w", id, err)
		}
		out[id] = coerced
	}
	return out, nil
}

// Canonical returns a deterministic serialization of the map: object
// keys sorted, set-valued answers sorted. Two maps holding the same
// answers always produce identical bytes, which is what the autosave
// idempotence check compares.
func (m AnswerMap) Canonical() ([]byte, error) {
	// encoding/json sorts map keys, and MarshalJSON on AnswerValue
	// normalizes set order, so marshalling the plain map is canonical.
	plain := map[string]AnswerValue(m)
	if plain == nil {
		plain = map[string]AnswerValue{}
	}
	return json.Marshal(plain)
}

func sortedCopy(in []string) []string {
	out := make([]string, len(in))
	copy(out, in)
	sort.Strings(out)
	return out
}

func emptyAsList(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}

func emptyAsMap(in map[string]string) map[string]string {
	if in == nil {
		return map[string]string{}
	}
	return in
}
