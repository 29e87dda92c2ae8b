package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_SeverityFromCode(t *testing.T) {
	assert.Equal(t, SeverityFatal, New(Internal, "boom", nil).Severity)
	assert.Equal(t, SeverityError, New(InvalidInput, "bad query", nil).Severity)
	assert.Equal(t, SeverityError, New(QueryFailed, "store exploded", nil).Severity)
	assert.Equal(t, SeverityError, New(VecSearchUnavailable, "no vectors", nil).Severity)
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("fts syntax error near NEAR")
	e := Wrap(InvalidInput, cause)
	require.NotNil(t, e)
	assert.Same(t, cause, errors.Unwrap(e))
	assert.Contains(t, e.Error(), "INVALID_INPUT")
}

func TestError_Is_MatchesByCode(t *testing.T) {
	a := New(QueryFailed, "timeout", nil)
	b := New(QueryFailed, "different message", nil)
	c := New(Internal, "other", nil)

	assert.True(t, errors.Is(a, b))
	assert.False(t, errors.Is(a, c))
}

func TestGetCode(t *testing.T) {
	wrapped := fmt.Errorf("outer: %w", New(VecSearchUnavailable, "index down", nil))
	assert.Equal(t, VecSearchUnavailable, GetCode(wrapped))
	assert.Equal(t, Code(""), GetCode(errors.New("plain")))
}

func TestWithDetail(t *testing.T) {
	e := New(InvalidInput, "bad", nil).WithDetail("query", "foo AND").WithDetail("collection", "notes")
	assert.Equal(t, "foo AND", e.Details["query"])
	assert.Equal(t, "notes", e.Details["collection"])
}
