package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError(t *testing.T) {
	t.Run("message without cause", func(t *testing.T) {
		err := New(NotFound, "task not found")
		assert.Equal(t, "[NOT_FOUND] task not found", err.Error())
		assert.Nil(t, errors.Unwrap(err))
	})

	t.Run("message with cause", func(t *testing.T) {
		cause := errors.New("connection refused")
		err := Wrap(Internal, "failed to load task", cause)
		assert.Equal(t, "[INTERNAL_ERROR] failed to load task: connection refused", err.Error())
		assert.ErrorIs(t, err, cause)
	})

	t.Run("formatted", func(t *testing.T) {
		err := Newf(InvalidArgument, "unknown policy %q", "rename")
		assert.Equal(t, `unknown policy "rename"`, err.Message)
	})
}

func TestCodeOf(t *testing.T) {
	wrapped := fmt.Errorf("resolve: %w", New(InvalidArgument, "bad policy"))

	assert.Equal(t, InvalidArgument, CodeOf(wrapped))
	assert.True(t, Is(wrapped, InvalidArgument))
	assert.False(t, Is(wrapped, NotFound))
	assert.Equal(t, Internal, CodeOf(errors.New("boom")))
	assert.Equal(t, "bad policy", MessageOf(wrapped))
	assert.Equal(t, "internal error", MessageOf(errors.New("secret detail")))
}

func TestHTTPStatus(t *testing.T) {
	tests := map[Code]int{
		NotFound:        http.StatusNotFound,
		InvalidArgument: http.StatusBadRequest,
		Duplicate:       http.StatusBadRequest,
		Locked:          http.StatusConflict,
		Unidentified:    http.StatusUnauthorized,
		Internal:        http.StatusInternalServerError,
		Code("OTHER"):   http.StatusInternalServerError,
	}
	for code, status := range tests {
		assert.Equal(t, status, HTTPStatus(code), code)
	}
}
