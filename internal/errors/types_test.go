package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *AppError
		expected string
	}{
		{
			name: "error without cause",
			err: &AppError{
				Code:    ErrCodeInvalidConfig,
				Message: "configuration is invalid",
			},
			expected: "INVALID_CONFIG: configuration is invalid",
		},
		{
			name: "error with cause",
			err: &AppError{
				Code:    ErrCodeStore,
				Message: "store set failed",
				Cause:   errors.New("database is locked"),
			},
			expected: "STORE: store set failed: database is locked",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.err.Error())
		})
	}
}

func TestAppError_UnwrapAndAs(t *testing.T) {
	cause := errors.New("underlying error")
	appErr := Wrap(cause, ErrCodeInternalError, "something went wrong")
	wrapped := fmt.Errorf("forward: %w", appErr)

	assert.ErrorIs(t, wrapped, cause)

	found, ok := As(wrapped)
	require.True(t, ok)
	assert.Same(t, appErr, found)
	assert.Equal(t, ErrCodeInternalError, GetCode(wrapped))
}

func TestGetCode_PlainError(t *testing.T) {
	assert.Equal(t, ErrCodeInternalError, GetCode(errors.New("plain")))
	assert.False(t, IsRetryable(errors.New("plain")))
}

func TestHasCode_WalksNestedAppErrors(t *testing.T) {
	inner := NewTimeoutError("wait for chat", 5*time.Second)
	outer := Wrap(inner, ErrCodeInternalError, "forward failed")

	assert.True(t, HasCode(outer, ErrCodeTimeout))
	assert.True(t, HasCode(outer, ErrCodeInternalError))
	assert.False(t, HasCode(outer, ErrCodeTargetNotFound))
	assert.False(t, HasCode(nil, ErrCodeTimeout))
}

func TestHelpers(t *testing.T) {
	t.Run("target not found", func(t *testing.T) {
		err := NewTargetNotFoundError("destination", "Trojan")
		assert.Equal(t, ErrCodeTargetNotFound, err.Code)
		assert.Equal(t, "Trojan", err.Context["chat"])
		assert.False(t, err.Retryable)
	})

	t.Run("store error is retryable", func(t *testing.T) {
		err := NewStoreError("set", "forwardQueue", errors.New("disk I/O error"))
		assert.True(t, IsRetryable(err))
		assert.Equal(t, "forwardQueue", err.Context["key"])
	})

	t.Run("page unavailable", func(t *testing.T) {
		err := NewPageUnavailableError("no tab connected")
		assert.True(t, err.Retryable)
		assert.Equal(t, "no tab connected", err.Context["reason"])
	})
}

func TestHTTPStatusCode(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, HTTPStatusCode(NewValidationError("watchedChats", "", "empty title")))
	assert.Equal(t, http.StatusServiceUnavailable, HTTPStatusCode(NewPageUnavailableError("x")))
	assert.Equal(t, http.StatusGatewayTimeout, HTTPStatusCode(NewTimeoutError("x", time.Second)))
	assert.Equal(t, http.StatusUnauthorized, HTTPStatusCode(New(ErrCodeUnauthorized, "no token")))
	assert.Equal(t, http.StatusNotImplemented, HTTPStatusCode(New(ErrCodeUnsupported, "no audit")))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatusCode(errors.New("boom")))
}

func TestToHTTPResponse(t *testing.T) {
	resp := ToHTTPResponse(NewValidationError("watchedChats", "", "title must not be empty"), "req-1")
	assert.Equal(t, ErrCodeInvalidInput, resp.Error.Code)
	assert.Equal(t, "title must not be empty", resp.Error.Message)
	assert.Equal(t, "req-1", resp.RequestID)

	resp = ToHTTPResponse(errors.New("secret detail"), "")
	assert.Equal(t, ErrCodeInternalError, resp.Error.Code)
	assert.NotContains(t, resp.Error.Message, "secret")
}

func TestLogRetryableError(t *testing.T) {
	logger, hook := test.NewNullLogger()

	LogRetryableError(logger, NewPageUnavailableError("no tab"), "drain deferred")
	LogRetryableError(logger, NewTargetNotFoundError("destination", "X"), "forward failed")

	require.Len(t, hook.Entries, 2)
	assert.Equal(t, logrus.WarnLevel, hook.Entries[0].Level)
	assert.Equal(t, ErrCodePageUnavailable, hook.Entries[0].Data["error_code"])
	assert.Equal(t, logrus.ErrorLevel, hook.Entries[1].Level)
	assert.Equal(t, "X", hook.Entries[1].Data["chat"])
}
