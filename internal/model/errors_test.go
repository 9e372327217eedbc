package model

import (
	"errors"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
)

func TestErrorMessages(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "subreddits: must not be empty", NewValidationError("subreddits", "must not be empty").Error())
	assert.Equal(t, "Invalid port number", (&ValidationError{Message: "Invalid port number"}).Error())
	assert.Equal(t, "scraper not found: nope", (&NotFoundError{Kind: "scraper", Key: "nope"}).Error())
	assert.Equal(t, "scraper reddit is already running", (&AlreadyRunningError{Name: "reddit"}).Error())
	assert.Equal(t, "scraper reddit is disabled", (&DisabledError{Name: "reddit"}).Error())
	assert.Equal(t, "2 target(s) failed: a, b", (&PartialFailureError{Failed: []string{"a", "b"}}).Error())
	assert.Equal(t, "run reddit timed out after 1m0s", (&TimeoutError{Op: "run reddit", After: time.Minute}).Error())
}

func TestErrorsSurviveErisWrap(t *testing.T) {
	t.Parallel()

	err := eris.Wrap(&NotFoundError{Kind: "file", Key: "x.json"}, "payloads: read")
	assert.True(t, IsNotFound(err))
	assert.False(t, IsValidation(err))

	err = eris.Wrap(NewValidationError("port", "out of range"), "settings")
	assert.True(t, IsValidation(err))
}

func TestModelUnavailableError_Unwrap(t *testing.T) {
	t.Parallel()

	inner := errors.New("connection refused")
	err := &ModelUnavailableError{Backend: "ollama", Err: inner}
	assert.ErrorIs(t, err, inner)
	assert.Contains(t, err.Error(), "retry later")
}
