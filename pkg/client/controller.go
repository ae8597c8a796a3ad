// Package client provides the client-side consumption of generation jobs:
// a poll loop over the job endpoints and the resume/retry controller that
// decides what to do when a stream dies without saying goodbye.
package client

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// State is the controller's lifecycle state.
type State int

const (
	StateIdle State = iota
	StateStarting
	StateStreaming
	StateError
)

// Outcome classifies how a stream ended.
type Outcome int

const (
	// OutcomeClean means an explicit finish signal was observed.
	OutcomeClean Outcome = iota
	// OutcomeAborted means the user cancelled locally.
	OutcomeAborted
	// OutcomeCredential means an authentication-failure marker was seen.
	OutcomeCredential
	// OutcomeInterrupted means the connection dropped without a finish
	// signal; the cause is unknown.
	OutcomeInterrupted
)

// Action is the controller's decision after a stream ends.
type Action int

const (
	// ActionDone accepts the result; no retry, no warning.
	ActionDone Action = iota
	// ActionRetry restarts generation for the same turn after Delay.
	ActionRetry
	// ActionSurfacePartial keeps the accumulated content and shows a
	// warning instead of discarding it.
	ActionSurfacePartial
	// ActionSurfaceError shows a visible error.
	ActionSurfaceError
)

// Decision is what the caller should do next.
type Decision struct {
	Action  Action
	Delay   time.Duration
	Warning string
}

// Config holds the retry tunables. SubstantialEvents is a best-effort
// heuristic threshold, not a load-bearing constant.
type Config struct {
	MaxRetries        int
	SubstantialEvents int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
}

// DefaultConfig mirrors the server defaults.
func DefaultConfig() Config {
	return Config{
		MaxRetries:        2,
		SubstantialEvents: 50,
		InitialBackoff:    500 * time.Millisecond,
		MaxBackoff:        10 * time.Second,
	}
}

// Controller tracks one visible assistant turn across retries.
type Controller struct {
	cfg Config

	state      State
	turnID     string
	eventsSeen int
	retries    int
	backoff    *backoff.ExponentialBackOff
}

// NewController creates a controller in the Idle state.
func NewController(cfg Config) *Controller {
	return &Controller{cfg: cfg, state: StateIdle}
}

// State returns the current lifecycle state.
func (c *Controller) State() State { return c.state }

// EventsSeen returns how many stream events the current attempt observed.
func (c *Controller) EventsSeen() int { return c.eventsSeen }

// Retries returns how many automatic retries have run for the current turn.
func (c *Controller) Retries() int { return c.retries }

// Begin starts (or restarts) generation for a turn. A different turn id
// resets the retry counter: retries never leak across messages.
func (c *Controller) Begin(turnID string) {
	if turnID != c.turnID {
		c.turnID = turnID
		c.retries = 0
		c.backoff = nil
	}
	c.eventsSeen = 0
	c.state = StateStarting
}

// ObserveEvent records one received stream event.
func (c *Controller) ObserveEvent() {
	if c.state == StateStarting {
		c.state = StateStreaming
	}
	c.eventsSeen++
}

// Finish classifies the end of the current attempt and decides what happens
// next. Only an ambiguous interruption is ever retried, and only while the
// retry budget holds and the content received so far is not substantial.
func (c *Controller) Finish(outcome Outcome) Decision {
	switch outcome {
	case OutcomeClean:
		c.state = StateIdle
		return Decision{Action: ActionDone}

	case OutcomeAborted:
		c.state = StateIdle
		return Decision{Action: ActionDone}

	case OutcomeCredential:
		c.state = StateError
		return Decision{
			Action:  ActionSurfaceError,
			Warning: "authentication failed; please sign in again",
		}

	case OutcomeInterrupted:
		// A stream that died after substantial content most likely hit a
		// token limit; treat it as a completion with partial content.
		if c.eventsSeen >= c.cfg.SubstantialEvents {
			c.state = StateIdle
			return Decision{
				Action:  ActionSurfacePartial,
				Warning: "response may be incomplete",
			}
		}

		if c.retries < c.cfg.MaxRetries {
			c.retries++
			c.state = StateStarting
			return Decision{Action: ActionRetry, Delay: c.nextBackoff()}
		}

		c.state = StateError
		return Decision{
			Action:  ActionSurfacePartial,
			Warning: "generation was interrupted repeatedly; showing what was received",
		}
	}

	c.state = StateIdle
	return Decision{Action: ActionDone}
}

func (c *Controller) nextBackoff() time.Duration {
	if c.backoff == nil {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = c.cfg.InitialBackoff
		b.MaxInterval = c.cfg.MaxBackoff
		b.MaxElapsedTime = 0
		b.Reset()
		c.backoff = b
	}
	return c.backoff.NextBackOff()
}
