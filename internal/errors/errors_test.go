package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCodeOfUnwrapsChain(t *testing.T) {
	base := NotFound("quote", "q1")
	wrapped := fmt.Errorf("loading quote: %w", base)

	assert.Equal(t, ErrCodeNotFound, CodeOf(wrapped))
	assert.Equal(t, ErrCodeInternal, CodeOf(stderrors.New("plain")))
}

func TestWrapKeepsCause(t *testing.T) {
	cause := stderrors.New("connection refused")
	err := Wrap(cause, ErrCodeInternal, "query failed")

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestHTTPStatusMapping(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, HTTPStatus(InvalidInput("action", "bad")))
	assert.Equal(t, http.StatusNotFound, HTTPStatus(NotFound("quote", "q1")))
	assert.Equal(t, http.StatusConflict, HTTPStatus(New(ErrCodeConflict, "busy")))
	assert.Equal(t, http.StatusForbidden, HTTPStatus(Unauthorized("nope")))
	assert.Equal(t, http.StatusUnprocessableEntity, HTTPStatus(Configuration("no calendar")))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(stderrors.New("plain")))
}
