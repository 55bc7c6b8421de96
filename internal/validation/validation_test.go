package validation

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type contactForm struct {
	Name    string `json:"name" validate:"required,max=10"`
	Email   string `json:"email" validate:"required,email"`
	Comment string `json:"comment" validate:"required"`
}

func TestStructReportsJSONFieldNames(t *testing.T) {
	err := Struct(contactForm{Name: "a very long name", Email: "nope"})
	require.Error(t, err)

	var verr *Error
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, map[string]string{
		"name":    "must be at most 10 characters",
		"email":   "must be a valid email address",
		"comment": "is required",
	}, verr.Fields)
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestStructValid(t *testing.T) {
	assert.NoError(t, Struct(contactForm{Name: "Ada", Email: "ada@example.com", Comment: "hi"}))
}

func TestWrapMatchesCause(t *testing.T) {
	tooLarge := errors.New("too large")
	err := Wrap(tooLarge, "file", "must be at most 500 MB")
	assert.ErrorIs(t, err, tooLarge)
	assert.ErrorIs(t, err, ErrInvalid)
	assert.Equal(t, "file must be at most 500 MB", err.Error())
}

func TestCollectorKeepsFirstMessage(t *testing.T) {
	c := Collector{}
	assert.NoError(t, c.Err())
	c.Add("name", "is required")
	c.Add("name", "is too long")
	assert.Equal(t, "name is required", c.Err().Error())
	assert.True(t, Email("someone@example.org"))
	assert.False(t, Email("someone"))
}
