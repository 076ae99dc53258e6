package errors

import (
	"fmt"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidationError(t *testing.T) {
	err := NewValidationError("due_date", "must be in the future", "2001-01-01")

	assert.Equal(t, "due_date", err.Field)
	assert.Equal(t, "must be in the future", err.Message)
	assert.Equal(t, "2001-01-01", err.Value)
	assert.Equal(t, "validation error on field 'due_date': must be in the future", err.Error())
}

func TestNewValidationErrorWithRule(t *testing.T) {
	err := NewValidationErrorWithRule("grade", "must be between 0 and 100", "grade_range", 150)

	assert.Equal(t, "grade", err.Field)
	assert.Equal(t, "grade_range", err.Rule)
	assert.Equal(t, 150, err.Value)
}

func TestValidationErrors_Error(t *testing.T) {
	var errs ValidationErrors
	assert.Equal(t, "validation failed", errs.Error())

	errs = append(errs, *NewValidationError("artifact_id", "is required", nil))
	assert.Equal(t, "validation failed: artifact_id is required", errs.Error())

	errs = append(errs, *NewValidationError("student_id", "is required", nil))
	assert.Equal(t, "validation failed: 2 field errors", errs.Error())
}

func TestToValidationErrors_DomainTagMessages(t *testing.T) {
	v := validator.New()
	for _, tag := range []string{"question_type", "attempt_status", "grade_range"} {
		require.NoError(t, v.RegisterValidation(tag, func(validator.FieldLevel) bool {
			return false
		}))
	}

	input := struct {
		Type   string  `validate:"question_type"`
		Status string  `validate:"attempt_status"`
		Grade  float64 `validate:"grade_range"`
	}{Type: "essay", Status: "paused", Grade: 150}

	errs := ToValidationErrors(v.Struct(input))
	require.Len(t, errs, 3)

	byField := make(map[string]ValidationError, len(errs))
	for _, e := range errs {
		byField[e.Field] = e
	}

	assert.Equal(t, "question_type", byField["Type"].Rule)
	assert.Contains(t, byField["Type"].Message, "single_choice")
	assert.Contains(t, byField["Type"].Message, "true_false")
	assert.Contains(t, byField["Type"].Message, "fill_blank")

	assert.Equal(t, "attempt_status", byField["Status"].Rule)
	assert.Contains(t, byField["Status"].Message, "not_started")
	assert.Contains(t, byField["Status"].Message, "graded")

	assert.Equal(t, "must be between 0 and 100", byField["Grade"].Message)
	assert.Equal(t, 150.0, byField["Grade"].Value)
}

func TestToValidationErrors_UnknownRuleFallsBack(t *testing.T) {
	v := validator.New()
	require.NoError(t, v.RegisterValidation("never", func(validator.FieldLevel) bool {
		return false
	}))

	errs := ToValidationErrors(v.Struct(struct {
		Name string `validate:"never"`
	}{Name: "x"}))

	require.Len(t, errs, 1)
	assert.Equal(t, "validation failed for rule 'never'", errs[0].Message)
}

func TestToValidationErrors_IgnoresForeignErrors(t *testing.T) {
	assert.Empty(t, ToValidationErrors(fmt.Errorf("not a validator error")))
}
