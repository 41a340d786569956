package kberrors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewInfersCategoryAndRetryable(t *testing.T) {
	err := New(CodeStoreBusy, "busy")
	assert.Equal(t, CategoryTransientStore, err.Category)
	assert.True(t, err.Retryable)

	err = New(CodeInvalidKind, "bad kind")
	assert.Equal(t, CategoryValidation, err.Category)
	assert.False(t, err.Retryable)
}

func TestErrorIsComparesByCode(t *testing.T) {
	a := New(CodeStoreBusy, "busy 1")
	b := New(CodeStoreBusy, "busy 2")
	c := New(CodeIndexError, "index broke")

	assert.True(t, errors.Is(a, b))
	assert.False(t, errors.Is(a, c))
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("disk full")
	err := Wrap(CodeStoreBusy, "write failed", cause)

	require.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "disk full")
}

func TestWithDetailAndSuggestion(t *testing.T) {
	err := New(CodeIndexError, "dimension mismatch").
		WithDetail("expected", "768").
		WithDetail("got", "384").
		WithSuggestion("re-encode with the configured model")

	assert.Equal(t, "768", err.Details["expected"])
	assert.Equal(t, "384", err.Details["got"])
	assert.Equal(t, "re-encode with the configured model", err.Suggestion)
}

func TestIsRetryableGetCodeGetCategory(t *testing.T) {
	err := TransientStoreError(errors.New("locked"))
	assert.True(t, IsRetryable(err))
	assert.Equal(t, CodeStoreBusy, GetCode(err))
	assert.Equal(t, CategoryTransientStore, GetCategory(err))

	plain := errors.New("not ours")
	assert.False(t, IsRetryable(plain))
	assert.Equal(t, Code(0), GetCode(plain))
}

func TestOrchestratorErrorHasSuggestion(t *testing.T) {
	err := OrchestratorError("all providers failed")
	assert.Equal(t, CategoryOrchestrator, err.Category)
	assert.NotEmpty(t, err.Suggestion)
}
