package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrap(t *testing.T) {
	original := New("original")
	wrapped := Wrap(original, "wrapped")

	assert.Contains(t, wrapped.Error(), "wrapped")
	assert.Contains(t, wrapped.Error(), "original")
	assert.True(t, Is(wrapped, original))
}

func TestWithHint(t *testing.T) {
	err := WithHint(New("scontrol not found"), "is slurm installed on this node?")

	hints := GetAllHints(err)
	require.Len(t, hints, 1)
	assert.Equal(t, "is slurm installed on this node?", hints[0])
}

func TestRequeueFailedMarksButKeepsMessage(t *testing.T) {
	cause := New("slurm_requeue error: Invalid job id specified")
	err := RequeueFailed(cause)

	assert.True(t, IsRequeueFailed(err))
	assert.True(t, Is(err, cause))
	assert.Equal(t, cause.Error(), err.Error())
	assert.Nil(t, RequeueFailed(nil))
}

func TestIsRequeueFailedThroughWrapping(t *testing.T) {
	err := Wrap(RequeueFailed(New("boom")), "requeue 1234")
	assert.True(t, IsRequeueFailed(err))
	assert.False(t, IsTimeout(err))
	assert.False(t, IsRequeueFailed(nil))
}

func TestNewInvalidConfigError(t *testing.T) {
	err := NewInvalidConfigError("requeue.timeout_seconds must be > 0, got %d", -1)
	assert.True(t, Is(err, ErrInvalidConfig))
	assert.Equal(t, "requeue.timeout_seconds must be > 0, got -1", err.Error())
}

func TestStandardLibraryCompatibility(t *testing.T) {
	stdErr := fmt.Errorf("standard error")
	wrapped := Wrap(stdErr, "wrapped")

	assert.True(t, Is(wrapped, stdErr))
	assert.Contains(t, wrapped.Error(), "standard error")
}
