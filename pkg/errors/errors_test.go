package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppError_Error(t *testing.T) {
	err := New(ErrCodeSessionGet, "session not found", nil)
	assert.Equal(t, "SESSION_GET_FAILED: session not found", err.Error())

	wrapped := New(ErrCodeExecutorFailed, "turn failed", err)
	assert.Contains(t, wrapped.Error(), "EXECUTOR_FAILED: turn failed")
	assert.Contains(t, wrapped.Error(), "SESSION_GET_FAILED")
}

func TestAppError_Unwrap(t *testing.T) {
	cause := fmt.Errorf("connection reset")
	err := New(ErrCodeSessionCreate, "create failed", cause)
	assert.ErrorIs(t, err, cause)
}

func TestHasCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code string
		want bool
	}{
		{
			name: "direct match",
			err:  New(ErrCodeModelValidation, "schema mismatch", nil),
			code: ErrCodeModelValidation,
			want: true,
		},
		{
			name: "nested match",
			err:  New(ErrCodeExecutorFailed, "turn failed", New(ErrCodeContextWindow, "too many tokens", nil)),
			code: ErrCodeContextWindow,
			want: true,
		},
		{
			name: "wrapped by fmt",
			err:  fmt.Errorf("attempt 3: %w", New(ErrCodeModelValidation, "schema mismatch", nil)),
			code: ErrCodeModelValidation,
			want: true,
		},
		{
			name: "no match",
			err:  New(ErrCodeSessionGet, "not found", nil),
			code: ErrCodeContextWindow,
			want: false,
		},
		{
			name: "plain error",
			err:  fmt.Errorf("boom"),
			code: ErrCodeExecutorFailed,
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HasCode(tt.err, tt.code))
		})
	}
}

func TestClassifiers(t *testing.T) {
	assert.True(t, IsModelValidation(New(ErrCodeModelValidation, "bad output", nil)))
	assert.True(t, IsContextWindowExceeded(New(ErrCodeContextWindow, "prompt too large", nil)))
	assert.True(t, IsAuthFailed(New(ErrCodeAuthFailed, "missing token", nil)))
	assert.False(t, IsModelValidation(New(ErrCodeAuthFailed, "missing token", nil)))
}
