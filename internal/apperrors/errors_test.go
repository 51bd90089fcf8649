package apperrors

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWrapNil(t *testing.T) {
	t.Parallel()
	assert.NoError(t, Wrap(nil, "ctx"))
	assert.NoError(t, Wrapf(nil, "ctx %d", 1))
	assert.NoError(t, Upstream(nil, "op"))
}

func TestWrapPreservesChain(t *testing.T) {
	t.Parallel()
	err := Wrapf(ErrNotFound, "task %s", "abc")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, "task abc: not found", err.Error())
}

func TestUpstream(t *testing.T) {
	t.Parallel()
	err := Upstream(context.DeadlineExceeded, "hgetall task:1")
	assert.ErrorIs(t, err, ErrUpstream)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	again := Upstream(err, "outer")
	assert.Equal(t, err, again, "already-upstream errors are not re-wrapped")
}

func TestIsClientError(t *testing.T) {
	t.Parallel()
	assert.True(t, IsClientError(Wrap(ErrValidation, "latitude")))
	assert.True(t, IsClientError(ErrInvalidArgument))
	assert.False(t, IsClientError(ErrNotFound))
	assert.False(t, IsClientError(errors.New("boom")))
}
