package health

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTracker_DefaultAvailable(t *testing.T) {
	tr := New()
	assert.True(t, tr.Available("p"))
	assert.False(t, tr.InBackoff("p"))
}

func TestTracker_MarksUnavailableAfterMaxFailures(t *testing.T) {
	tr := New(WithMaxFailures(3))
	tr.RecordFailure("p", errors.New("boom"))
	tr.RecordFailure("p", errors.New("boom"))
	assert.True(t, tr.Available("p"))
	tr.RecordFailure("p", errors.New("boom"))
	assert.False(t, tr.Available("p"))
}

func TestTracker_NoAutoReinstate(t *testing.T) {
	now := time.Now()
	tr := New(WithMaxFailures(1), WithBaseBackoff(time.Millisecond))
	tr.now = func() time.Time { return now }

	tr.RecordFailure("p", errors.New("boom"))
	require.False(t, tr.Available("p"))

	now = now.Add(10 * time.Second)
	assert.False(t, tr.Available("p"), "provider must stay unavailable until an explicit Reset")

	tr.Reset("p")
	assert.True(t, tr.Available("p"))
}

func TestTracker_RecordSuccessClearsFailures(t *testing.T) {
	tr := New(WithMaxFailures(3))
	tr.RecordFailure("p", errors.New("x"))
	tr.RecordFailure("p", errors.New("x"))
	tr.RecordSuccess("p")
	assert.Equal(t, 0, tr.Snapshot("p").ConsecutiveFailures)
}

func TestTracker_BackoffFormula(t *testing.T) {
	now := time.Now()
	tr := New(WithBaseBackoff(time.Second), WithBackoffCap(60*time.Second), WithMaxFailures(100))
	tr.now = func() time.Time { return now }

	tr.RecordFailure("p", errors.New("x")) // failures=1 -> backoff 1s
	assert.True(t, tr.InBackoff("p"))
	now = now.Add(2 * time.Second)
	assert.False(t, tr.InBackoff("p"))

	tr.RecordFailure("p", errors.New("x")) // failures=2 -> backoff 2s
	now2 := now.Add(time.Second)
	tr.now = func() time.Time { return now2 }
	assert.True(t, tr.InBackoff("p"))
}

func TestTracker_BackoffCappedAt60s(t *testing.T) {
	tr := New(WithBaseBackoff(time.Second), WithBackoffCap(60*time.Second), WithMaxFailures(100))
	assert.Equal(t, 60*time.Second, tr.backoff(10))
}

func TestTracker_MarkUnavailableForAuth(t *testing.T) {
	tr := New()
	tr.MarkUnavailable("p", errors.New("401"))
	assert.False(t, tr.Available("p"))
}

func TestTracker_ResetReportsWhetherProviderExisted(t *testing.T) {
	tr := New()
	assert.False(t, tr.Reset("never-seen"))
	tr.RecordFailure("p", errors.New("x"))
	assert.True(t, tr.Reset("p"))
}
