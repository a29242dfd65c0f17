package faults

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCodeOfUnwrapsChains(t *testing.T) {
	base := &TransientProviderError{Provider: "openai", Err: errors.New("429")}
	wrapped := fmt.Errorf("generating reply: %w", base)

	assert.Equal(t, CodeProviderTransient, CodeOf(wrapped))
	assert.True(t, IsTransient(wrapped))
}

func TestCodeOfUnknownError(t *testing.T) {
	assert.Equal(t, "INTERNAL", CodeOf(errors.New("who knows")))
}

func TestProviderUnavailableWrapsCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := &ProviderUnavailableError{Provider: "ollama", Attempts: 3, Err: cause}

	assert.True(t, IsProviderUnavailable(err))
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "3 attempts")
}

func TestIngestionErrorNamesFailedChunks(t *testing.T) {
	err := &IngestionError{DocumentID: "doc-1", FailedChunks: []int{2, 5}, Err: errors.New("embed failed")}
	assert.Contains(t, err.Error(), "doc-1")
	assert.Contains(t, err.Error(), "2,5")
	assert.Equal(t, CodeIngestion, CodeOf(err))
}
