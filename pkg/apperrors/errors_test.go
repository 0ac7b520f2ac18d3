package apperrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidationError(t *testing.T) {
	err := NewValidationError("title", "is required")
	assert.Equal(t, "title: is required", err.Error())

	wrapped := fmt.Errorf("normalize: %w", err)
	assert.True(t, IsValidation(wrapped))
	assert.False(t, IsStorage(wrapped))
}

func TestSourceFetchError_IsRetryable(t *testing.T) {
	cause := errors.New("boom")
	assert.True(t, (&SourceFetchError{Source: "feed", Cause: cause}).IsRetryable())
	assert.True(t, (&SourceFetchError{Source: "feed", StatusCode: 503, Cause: cause}).IsRetryable())
	assert.True(t, (&SourceFetchError{Source: "feed", StatusCode: 429, Cause: cause}).IsRetryable())
	assert.False(t, (&SourceFetchError{Source: "feed", StatusCode: 404, Cause: cause}).IsRetryable())
	assert.Contains(t, (&SourceFetchError{Source: "feed", StatusCode: 404, Cause: cause}).Error(), "HTTP 404")
}

func TestNewStorageError(t *testing.T) {
	assert.Nil(t, NewStorageError("stage", nil))

	cause := errors.New("connection refused")
	err := NewStorageError("stage", cause)
	assert.True(t, IsStorage(err))
	assert.ErrorIs(t, err, cause)

	// already a storage error: not double wrapped
	again := NewStorageError("normalize", err)
	assert.Same(t, err, again)
}

func TestExtractionParseError_Unwrap(t *testing.T) {
	cause := errors.New("unexpected end of JSON input")
	err := &ExtractionParseError{Chunk: "chunk 2", Cause: cause}
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "chunk 2")
}
