package validator

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidator(t *testing.T) {
	v := New()

	type Channel struct {
		To   string `validate:"required,email"`
		Port int    `validate:"gte=1"`
	}

	// 1. Success
	c := Channel{To: "ops@example.com", Port: 465}
	assert.NoError(t, v.Validate(c))

	// 2. Failure
	bad := Channel{To: "invalid", Port: 0}
	err := v.Validate(bad)
	assert.Error(t, err)

	// 3. Translation
	msgs := TranslateValidationErrors(err)
	assert.Len(t, msgs, 2)

	errorMap := make(map[string]string)
	for _, m := range msgs {
		errorMap[m.Field] = m.Message
	}

	assert.Contains(t, errorMap, "Port")
	assert.Contains(t, errorMap, "To")
	assert.Equal(t, "Value must be greater than or equal to 1", errorMap["Port"])
	assert.Contains(t, Summary(err), "To: Invalid email format")
}

func TestValidator_Clock(t *testing.T) {
	v := New()

	assert.NoError(t, v.ValidateVar("09:00", "clock"))
	assert.NoError(t, v.ValidateVar("23:59", "clock"))
	assert.Error(t, v.ValidateVar("24:10", "clock"))
	assert.Error(t, v.ValidateVar("9am", "clock"))
}

func TestValidator_NestedPath(t *testing.T) {
	v := New()

	type Inner struct {
		Phone string `validate:"required"`
	}
	type Outer struct {
		User Inner
	}

	msgs := TranslateValidationErrors(v.Validate(Outer{}))
	if assert.Len(t, msgs, 1) {
		assert.Equal(t, "User.Phone", msgs[0].Path)
	}
}
