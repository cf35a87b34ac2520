package assistant_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"dealerchat/internal/assistant"
)

func TestInflightGuard(t *testing.T) {
	g := assistant.NewInflightGuard(time.Minute)

	assert.True(t, g.Acquire("thread_a"))
	assert.False(t, g.Acquire("thread_a"))
	assert.True(t, g.Acquire("thread_b"))

	g.Release("thread_a")
	assert.True(t, g.Acquire("thread_a"))
}

func TestInflightGuard_Expires(t *testing.T) {
	g := assistant.NewInflightGuard(30 * time.Millisecond)
	assert.True(t, g.Acquire("thread_a"))
	time.Sleep(60 * time.Millisecond)
	assert.True(t, g.Acquire("thread_a"))
}

func TestRunStatus_Active(t *testing.T) {
	for _, s := range []assistant.RunStatus{assistant.StatusQueued, assistant.StatusInProgress, assistant.StatusRequiresAction} {
		assert.True(t, s.Active(), s)
	}
	for _, s := range []assistant.RunStatus{assistant.StatusCompleted, assistant.StatusFailed, assistant.StatusExpired, assistant.StatusCancelled, "something_new"} {
		assert.False(t, s.Active(), s)
	}
}
