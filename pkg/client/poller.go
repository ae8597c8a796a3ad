package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/relayloop/chatrelay/internal/model"
)

// ErrStale is returned when a job shows no forward progress for longer than
// the stale timeout. The server-side job is not killed; the client just
// stops waiting.
var ErrStale = errors.New("job made no progress before the stale timeout")

// Poller drives the poll transport: create a job, then re-read its status
// until terminal, stale, or evicted.
type Poller struct {
	baseURL      string
	token        string
	httpClient   *http.Client
	interval     time.Duration
	staleTimeout time.Duration
}

// NewPoller creates a poll client.
func NewPoller(baseURL, token string, interval, staleTimeout time.Duration) *Poller {
	return &Poller{
		baseURL:      baseURL,
		token:        token,
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		interval:     interval,
		staleTimeout: staleTimeout,
	}
}

// CreateJob starts a generation job and returns its id immediately.
func (p *Poller) CreateJob(ctx context.Context, conversationID string, req *model.CreateJobRequest) (string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", err
	}

	url := fmt.Sprintf("%s/api/v1/conversations/%s/jobs", p.baseURL, conversationID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	p.setHeaders(httpReq)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		return "", fmt.Errorf("create job: unexpected status %d", resp.StatusCode)
	}

	var out model.CreateJobResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	return out.JobID, nil
}

// GetJob reads the current job snapshot. Side-effect-free and repeatable.
func (p *Poller) GetJob(ctx context.Context, jobID string) (*model.Job, error) {
	url := fmt.Sprintf("%s/api/v1/jobs/%s", p.baseURL, jobID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	p.setHeaders(httpReq)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("job not found")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("get job: unexpected status %d", resp.StatusCode)
	}

	var job model.Job
	if err := json.NewDecoder(resp.Body).Decode(&job); err != nil {
		return nil, err
	}
	return &job, nil
}

// CancelJob asks the server to cancel. Idempotent.
func (p *Poller) CancelJob(ctx context.Context, jobID string) error {
	url := fmt.Sprintf("%s/api/v1/jobs/%s", p.baseURL, jobID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodDelete, url, nil)
	if err != nil {
		return err
	}
	p.setHeaders(httpReq)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusNotFound {
		return fmt.Errorf("cancel job: unexpected status %d", resp.StatusCode)
	}
	return nil
}

// Wait polls until the job is terminal, invoking onProgress for every
// snapshot that shows new parts. It gives up with ErrStale when the
// parts-received counter stops moving for the stale timeout, returning the
// last snapshot so partial content is never discarded.
func (p *Poller) Wait(ctx context.Context, jobID string, onProgress func(*model.Job)) (*model.Job, error) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	var last *model.Job
	lastParts := -1
	lastChange := time.Now()

	for {
		select {
		case <-ctx.Done():
			return last, ctx.Err()
		case <-ticker.C:
		}

		job, err := p.GetJob(ctx, jobID)
		if err != nil {
			return last, err
		}
		last = job

		if job.PartsReceived != lastParts {
			lastParts = job.PartsReceived
			lastChange = time.Now()
			if onProgress != nil {
				onProgress(job)
			}
		}

		if job.Status.Terminal() {
			return job, nil
		}

		if time.Since(lastChange) > p.staleTimeout {
			return job, ErrStale
		}
	}
}

func (p *Poller) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if p.token != "" {
		req.Header.Set("Authorization", "Bearer "+p.token)
	}
}
