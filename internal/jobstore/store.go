// Package jobstore is the in-process registry of generation jobs.
//
// Jobs live for a fixed retention window from creation and are then evicted,
// whatever their status, to bound memory. The store assumes a single writer
// per job (the owning orchestrator); transports only read snapshots.
package jobstore

import (
	"context"
	"sync"
	"time"

	"github.com/relayloop/chatrelay/internal/accumulate"
	"github.com/relayloop/chatrelay/internal/classify"
	"github.com/relayloop/chatrelay/internal/model"
	"github.com/relayloop/chatrelay/pkg/logger"
	"github.com/relayloop/chatrelay/pkg/metrics"
)

type entry struct {
	job       *model.Job
	expiresAt time.Time
}

// Store is a keyed, time-bounded registry of generation jobs.
type Store struct {
	mu   sync.RWMutex
	jobs map[string]*entry

	retention time.Duration
	now       func() time.Time
	logger    *logger.Logger
}

// New creates a job store with the given retention window.
func New(retention time.Duration, log *logger.Logger) *Store {
	return NewWithClock(retention, log, time.Now)
}

// NewWithClock creates a job store with an injectable clock for tests.
func NewWithClock(retention time.Duration, log *logger.Logger, now func() time.Time) *Store {
	return &Store{
		jobs:      make(map[string]*entry),
		retention: retention,
		now:       now,
		logger:    log,
	}
}

// Create registers a new pending job, scheduled for eviction after the
// retention window.
func (s *Store) Create(jobID, conversationID, tenantID string) *model.Job {
	now := s.now()

	job := &model.Job{
		ID:             jobID,
		ConversationID: conversationID,
		TenantID:       tenantID,
		Status:         model.JobStatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	s.mu.Lock()
	s.jobs[jobID] = &entry{job: job, expiresAt: now.Add(s.retention)}
	s.mu.Unlock()

	metrics.JobsActive.Inc()

	return snapshot(job)
}

// Get returns a snapshot of the job, or false if unknown or expired.
// Expired entries are removed lazily on read as well as by the evictor.
func (s *Store) Get(jobID string) (*model.Job, bool) {
	s.mu.RLock()
	e, ok := s.jobs[jobID]
	s.mu.RUnlock()

	if !ok {
		return nil, false
	}

	if s.now().After(e.expiresAt) {
		s.mu.Lock()
		delete(s.jobs, jobID)
		s.mu.Unlock()
		return nil, false
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return snapshot(e.job), true
}

// Transition applies a monotonic status change. It is a no-op with a warning
// if the job is unknown, and refuses to leave a terminal status.
func (s *Store) Transition(jobID string, status model.JobStatus) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.jobs[jobID]
	if !ok {
		s.logger.Warn("transition on unknown job", "job_id", jobID, "status", status)
		return false
	}

	if e.job.Status.Terminal() {
		s.logger.Warn("transition refused on terminal job",
			"job_id", jobID, "from", e.job.Status, "to", status)
		return false
	}

	e.job.Status = status
	e.job.UpdatedAt = s.now()
	return true
}

// ApplyUpdate folds one classified part update into the job's part sequence
// and bumps the progress counter. Finish-reason updates set terminal metadata
// without touching the parts.
func (s *Store) ApplyUpdate(jobID string, u classify.Update) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.jobs[jobID]
	if !ok {
		s.logger.Warn("part update on unknown job", "job_id", jobID)
		return false
	}

	if e.job.Status.Terminal() {
		// Best-effort cancellation model: the owning orchestrator notices
		// the terminal status and stops, late updates are dropped.
		return false
	}

	switch u.Op {
	case classify.OpSetFinishReason:
		e.job.FinishReason = u.FinishReason
	case classify.OpNoop, classify.OpError:
		return false
	default:
		parts, applied := accumulate.Apply(e.job.Parts, u)
		if !applied {
			s.logger.Warn("dropped part update",
				"job_id", jobID, "op", u.Op, "tool_call_id", u.ToolCallID)
			return false
		}
		e.job.Parts = parts
		e.job.Text = model.PlainText(parts)
		metrics.PartsTotal.WithLabelValues(string(u.Op)).Inc()
	}

	e.job.PartsReceived++
	e.job.UpdatedAt = s.now()
	return true
}

// Complete marks the job completed with its finalized message id and finish
// reason. One of the two ways to reach a terminal state.
func (s *Store) Complete(jobID, messageID, finishReason string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.jobs[jobID]
	if !ok {
		s.logger.Warn("complete on unknown job", "job_id", jobID)
		return false
	}
	if e.job.Status.Terminal() {
		return false
	}

	e.job.Status = model.JobStatusCompleted
	e.job.MessageID = messageID
	if finishReason != "" {
		e.job.FinishReason = finishReason
	}
	e.job.UpdatedAt = s.now()

	metrics.JobsActive.Dec()
	metrics.JobsTotal.WithLabelValues(string(model.JobStatusCompleted)).Inc()
	return true
}

// Fail marks the job failed with the captured error text. Parts accumulated
// before the failure are retained.
func (s *Store) Fail(jobID, errText string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.jobs[jobID]
	if !ok {
		s.logger.Warn("fail on unknown job", "job_id", jobID)
		return false
	}
	if e.job.Status.Terminal() {
		return false
	}

	e.job.Status = model.JobStatusError
	e.job.Error = errText
	e.job.Interrupted = true
	e.job.UpdatedAt = s.now()

	metrics.JobsActive.Dec()
	metrics.JobsTotal.WithLabelValues(string(model.JobStatusError)).Inc()
	return true
}

// StartEvictor runs a background sweep that removes expired jobs until the
// context is cancelled. Lazy expiry on read covers the gaps between sweeps.
func (s *Store) StartEvictor(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.evictExpired()
			}
		}
	}()
}

func (s *Store) evictExpired() {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	for id, e := range s.jobs {
		if now.After(e.expiresAt) {
			if !e.job.Status.Terminal() {
				metrics.JobsActive.Dec()
			}
			delete(s.jobs, id)
			s.logger.Debug("evicted expired job", "job_id", id, "status", e.job.Status)
		}
	}
}

// Len reports the number of live entries.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.jobs)
}

func snapshot(j *model.Job) *model.Job {
	cp := *j
	cp.Parts = make([]model.Part, len(j.Parts))
	copy(cp.Parts, j.Parts)
	return &cp
}
