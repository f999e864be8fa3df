package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{
			name: "without cause",
			err:  NewError(CodeValidation, "bad graph", nil),
			want: "[VALIDATION] bad graph",
		},
		{
			name: "with cause",
			err:  NewError(CodeStorage, "upload", ErrTimeout),
			want: "[STORAGE] upload: operation timed out",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestPredicates(t *testing.T) {
	wrapped := fmt.Errorf("start: %w", NewError(CodeValidation, "cycle", ErrCycle))

	assert.True(t, IsValidation(wrapped))
	assert.True(t, errors.Is(wrapped, ErrCycle))
	assert.False(t, IsTimeout(wrapped))

	assert.True(t, IsTimeout(fmt.Errorf("node: %w", ErrTimeout)))
	assert.True(t, IsNotConnected(ErrNotConnected))
	assert.False(t, IsValidation(ErrPublishFailed))
}
