// Package orchestrator drives generation jobs end to end.
//
// One orchestrator instance owns every job it creates until the job reaches a
// terminal state. Both transports are thin adapters over the same three
// operations: start, observe, cancel.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/relayloop/chatrelay/internal/budget"
	"github.com/relayloop/chatrelay/internal/classify"
	"github.com/relayloop/chatrelay/internal/jobstore"
	"github.com/relayloop/chatrelay/internal/llm"
	"github.com/relayloop/chatrelay/internal/model"
	"github.com/relayloop/chatrelay/pkg/logger"
	"github.com/relayloop/chatrelay/pkg/metrics"
)

// CancelledError is the error text recorded when a client cancels a job.
const CancelledError = "cancelled"

var errJobTerminal = errors.New("job reached terminal state")

// Sink persists finalized messages. Failures are logged, never surfaced as
// job errors.
type Sink interface {
	PersistMessage(ctx context.Context, msg *model.Message) (uint64, error)
}

// ConversationUpdater records the latest message on the owning conversation.
type ConversationUpdater interface {
	UpdateLastMessage(ctx context.Context, tenantID, conversationID string, msg *model.Message) error
}

// Observer receives every applied part update together with a fresh job
// snapshot. Used by the push transport; nil for poll.
type Observer func(u classify.Update, job *model.Job)

// StartInput carries everything needed to run one generation.
type StartInput struct {
	ConversationID string
	TenantID       string
	Messages       []model.HistoryEntry
	Model          string

	// ProviderCredential is the opaque per-request upstream credential
	// forwarded by the client. Empty means the server's configured key.
	ProviderCredential string
}

// Orchestrator creates and drives generation jobs.
type Orchestrator struct {
	store      *jobstore.Store
	classifier *classify.Classifier
	budget     budget.Budget
	client     llm.Client
	sink       Sink
	convs      ConversationUpdater
	logger     *logger.Logger

	defaultModel string
	maxTokens    int
}

// Options configures an orchestrator.
type Options struct {
	Store        *jobstore.Store
	Classifier   *classify.Classifier
	Budget       budget.Budget
	Client       llm.Client
	Sink         Sink
	Convs        ConversationUpdater
	Logger       *logger.Logger
	DefaultModel string
	MaxTokens    int
}

// New creates an orchestrator.
func New(opts Options) *Orchestrator {
	if opts.MaxTokens == 0 {
		opts.MaxTokens = 4096
	}
	return &Orchestrator{
		store:        opts.Store,
		classifier:   opts.Classifier,
		budget:       opts.Budget,
		client:       opts.Client,
		sink:         opts.Sink,
		convs:        opts.Convs,
		logger:       opts.Logger,
		defaultModel: opts.DefaultModel,
		maxTokens:    opts.MaxTokens,
	}
}

// Start creates a job and dispatches generation in the background, returning
// the pending snapshot immediately so short-lived requests can respond before
// streaming begins. Poll-transport entry point.
func (o *Orchestrator) Start(in StartInput) *model.Job {
	jobID := uuid.Must(uuid.NewV7()).String()
	job := o.store.Create(jobID, in.ConversationID, in.TenantID)

	// The generation outlives the creating request.
	go o.Run(context.Background(), jobID, in, nil)

	return job
}

// StartObserved creates a job and runs generation synchronously, invoking the
// observer for every applied update. Push-transport entry point; the caller's
// context cancels the provider call on disconnect.
func (o *Orchestrator) StartObserved(ctx context.Context, in StartInput, observe Observer) *model.Job {
	jobID := uuid.Must(uuid.NewV7()).String()
	o.store.Create(jobID, in.ConversationID, in.TenantID)

	o.Run(ctx, jobID, in, observe)

	job, _ := o.store.Get(jobID)
	return job
}

// Get returns the current job snapshot. Idempotent, side-effect-free.
func (o *Orchestrator) Get(jobID string) (*model.Job, bool) {
	return o.store.Get(jobID)
}

// Cancel flips a pending or streaming job to error("cancelled"). The running
// generation is not preempted; it notices the terminal status and stops
// appending. Idempotent: cancelling a terminal or unknown job does nothing.
func (o *Orchestrator) Cancel(jobID string) bool {
	return o.store.Fail(jobID, CancelledError)
}

// Run drives one job to a terminal state. Every failure path is captured into
// the job; Run never lets a provider error or panic escape. Poll jobs run in
// detached goroutines, so an escaping panic would kill the process.
func (o *Orchestrator) Run(ctx context.Context, jobID string, in StartInput, observe Observer) {
	defer func() {
		if r := recover(); r != nil {
			o.store.Fail(jobID, fmt.Sprintf("internal error: %v", r))
			o.logger.Error("generation panicked", "job_id", jobID, "panic", r)
		}
	}()

	if o.client == nil {
		o.store.Fail(jobID, "no generation provider configured")
		o.logger.Error("generation attempted without a provider", "job_id", jobID)
		return
	}

	start := time.Now()

	modelName := in.Model
	if modelName == "" {
		modelName = o.defaultModel
	}

	trimmed := o.budget.Trim(in.Messages)
	if len(trimmed) < len(in.Messages) {
		metrics.HistoryTruncationsTotal.Inc()
		o.logger.Info("history trimmed for token ceiling",
			"job_id", jobID, "kept", len(trimmed), "dropped", len(in.Messages)-len(trimmed))
	}

	req := &llm.CompletionRequest{
		Model:      modelName,
		Messages:   toChatMessages(trimmed),
		MaxTokens:  o.maxTokens,
		Credential: in.ProviderCredential,
	}

	o.store.Transition(jobID, model.JobStatusStreaming)

	var streamErr string

	result, err := o.client.StreamGenerate(ctx, req, func(ev llm.StreamEvent) error {
		u := o.classifier.Classify(ev)

		if u.Op == classify.OpError {
			streamErr = u.ErrorText
			return fmt.Errorf("provider stream error: %s", u.ErrorText)
		}

		applied := o.store.ApplyUpdate(jobID, u)

		// A terminal status mid-stream means the client cancelled; stop
		// pulling events and let the provider call wind down.
		if !applied && u.Op != classify.OpNoop {
			if job, ok := o.store.Get(jobID); ok && job.Status.Terminal() {
				return errJobTerminal
			}
		}

		if applied && observe != nil {
			if job, ok := o.store.Get(jobID); ok {
				observe(u, job)
			}
		}

		return nil
	})

	if err != nil {
		if errors.Is(err, errJobTerminal) {
			o.logger.Info("generation stopped on terminal job", "job_id", jobID)
			return
		}
		errText := err.Error()
		if streamErr != "" {
			errText = streamErr
		}
		o.store.Fail(jobID, errText)
		metrics.RecordLLMStream(modelName, "error", time.Since(start).Seconds(), 0, 0)
		o.logger.Error("generation failed", "job_id", jobID, "error", errText)
		return
	}

	o.finalize(jobID, in, modelName, result, start)
}

// finalize persists the finished message (best-effort) and completes the job.
// An output-length stop is a completed outcome, surfaced as an advisory.
func (o *Orchestrator) finalize(jobID string, in StartInput, modelName string, result *llm.StreamResult, start time.Time) {
	job, ok := o.store.Get(jobID)
	if !ok || job.Status.Terminal() {
		return
	}

	finishReason := result.FinishReason
	if finishReason == "" {
		finishReason = job.FinishReason
	}

	now := time.Now()
	streamStart := start
	msg := &model.Message{
		ID:             uuid.Must(uuid.NewV7()).String(),
		ConversationID: in.ConversationID,
		TenantID:       in.TenantID,
		Role:           model.RoleAssistant,
		Parts:          job.Parts,
		Text:           job.Text,
		Model:          &modelName,
		TokensIn:       &result.TokensIn,
		TokensOut:      &result.TokensOut,
		LatencyMs:      &result.LatencyMs,
		FinishReason:   &finishReason,
		CreatedAt:      now,
		StreamStarted:  &streamStart,
		StreamEnded:    &now,
	}

	if o.sink != nil {
		if _, err := o.sink.PersistMessage(context.Background(), msg); err != nil {
			// Persistence is best-effort; the generation still completed.
			o.logger.Error("failed to persist finalized message",
				"job_id", jobID, "message_id", msg.ID, "error", err)
		} else {
			metrics.MessagesTotal.WithLabelValues(in.TenantID, string(model.RoleAssistant)).Inc()
		}
	}

	if o.convs != nil {
		if err := o.convs.UpdateLastMessage(context.Background(), in.TenantID, in.ConversationID, msg); err != nil {
			o.logger.Warn("failed to update conversation",
				"conversation_id", in.ConversationID, "error", err)
		}
	}

	o.store.Complete(jobID, msg.ID, finishReason)
	metrics.RecordLLMStream(modelName, "success", time.Since(start).Seconds(), result.TokensIn, result.TokensOut)

	o.logger.Info("generation completed",
		"job_id", jobID, "message_id", msg.ID,
		"finish_reason", finishReason, "parts", len(job.Parts))
}

// toChatMessages flattens part-bearing history into the provider chat format.
// Resolved tool outputs are inlined as text so the provider keeps the context.
func toChatMessages(history []model.HistoryEntry) []llm.ChatMessage {
	out := make([]llm.ChatMessage, 0, len(history))
	for _, entry := range history {
		content := ""
		for _, p := range entry.Parts {
			switch p.Type {
			case model.PartTypeText:
				content += p.Text
			case model.PartTypeToolCall:
				if p.State == model.ToolCallStateOutputAvailable {
					content += fmt.Sprintf("\n[%s result: %s]", p.ToolName, string(p.Output))
				}
			}
		}
		out = append(out, llm.ChatMessage{
			Role:    string(entry.Role),
			Content: content,
		})
	}
	return out
}
