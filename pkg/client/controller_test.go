package client

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCleanFinishIsDone(t *testing.T) {
	c := NewController(DefaultConfig())
	c.Begin("turn-1")
	c.ObserveEvent()

	d := c.Finish(OutcomeClean)
	assert.Equal(t, ActionDone, d.Action)
	assert.Equal(t, StateIdle, c.State())
	assert.Zero(t, c.Retries())
}

func TestLocalAbortIsNotRetried(t *testing.T) {
	c := NewController(DefaultConfig())
	c.Begin("turn-1")
	c.ObserveEvent()

	d := c.Finish(OutcomeAborted)
	assert.Equal(t, ActionDone, d.Action)
	assert.Zero(t, c.Retries())
}

func TestCredentialFailureSurfacesError(t *testing.T) {
	c := NewController(DefaultConfig())
	c.Begin("turn-1")

	d := c.Finish(OutcomeCredential)
	assert.Equal(t, ActionSurfaceError, d.Action)
	assert.NotEmpty(t, d.Warning)
	assert.Equal(t, StateError, c.State())
}

func TestInterruptionRetriesWithBackoff(t *testing.T) {
	c := NewController(DefaultConfig())
	c.Begin("turn-1")
	c.ObserveEvent()

	d := c.Finish(OutcomeInterrupted)
	require.Equal(t, ActionRetry, d.Action)
	assert.Positive(t, d.Delay)
	assert.Equal(t, 1, c.Retries())
}

func TestInterruptionAfterSubstantialContentIsNotRetried(t *testing.T) {
	cfg := DefaultConfig()
	c := NewController(cfg)
	c.Begin("turn-1")
	for i := 0; i < cfg.SubstantialEvents+10; i++ {
		c.ObserveEvent()
	}

	// A drop after substantial content most likely hit a limit; retrying
	// would discard what the user already has.
	d := c.Finish(OutcomeInterrupted)
	assert.Equal(t, ActionSurfacePartial, d.Action)
	assert.NotEmpty(t, d.Warning)
	assert.Zero(t, c.Retries())
}

func TestRetryBudgetExhaustsToPartial(t *testing.T) {
	c := NewController(Config{
		MaxRetries:        2,
		SubstantialEvents: 50,
		InitialBackoff:    time.Millisecond,
		MaxBackoff:        10 * time.Millisecond,
	})

	c.Begin("turn-1")
	c.ObserveEvent()
	d := c.Finish(OutcomeInterrupted)
	require.Equal(t, ActionRetry, d.Action)

	c.Begin("turn-1")
	c.ObserveEvent()
	d = c.Finish(OutcomeInterrupted)
	require.Equal(t, ActionRetry, d.Action)
	assert.Equal(t, 2, c.Retries())

	// Third interruption for the same turn exceeds the budget.
	c.Begin("turn-1")
	c.ObserveEvent()
	d = c.Finish(OutcomeInterrupted)
	assert.Equal(t, ActionSurfacePartial, d.Action)
	assert.NotEmpty(t, d.Warning)
	assert.Equal(t, StateError, c.State())
}

func TestNewTurnResetsRetryBudget(t *testing.T) {
	c := NewController(DefaultConfig())

	c.Begin("turn-1")
	c.ObserveEvent()
	c.Finish(OutcomeInterrupted)
	c.Begin("turn-1")
	c.ObserveEvent()
	c.Finish(OutcomeInterrupted)
	require.Equal(t, 2, c.Retries())

	c.Begin("turn-2")
	assert.Zero(t, c.Retries())

	c.ObserveEvent()
	d := c.Finish(OutcomeInterrupted)
	assert.Equal(t, ActionRetry, d.Action)
}

func TestBackoffGrows(t *testing.T) {
	c := NewController(Config{
		MaxRetries:        5,
		SubstantialEvents: 50,
		InitialBackoff:    100 * time.Millisecond,
		MaxBackoff:        time.Minute,
	})
	c.Begin("turn-1")

	first := c.Finish(OutcomeInterrupted).Delay
	c.Begin("turn-1")
	second := c.Finish(OutcomeInterrupted).Delay

	// Jitter aside, the second delay draws from a doubled interval.
	assert.Positive(t, first)
	assert.Positive(t, second)
	assert.Less(t, first, 200*time.Millisecond)
}

func TestObserveEventMovesToStreaming(t *testing.T) {
	c := NewController(DefaultConfig())
	c.Begin("turn-1")
	assert.Equal(t, StateStarting, c.State())

	c.ObserveEvent()
	assert.Equal(t, StateStreaming, c.State())
	assert.Equal(t, 1, c.EventsSeen())
}
