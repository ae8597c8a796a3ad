package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/relayloop/chatrelay/internal/classify"
	"github.com/relayloop/chatrelay/internal/middleware"
	"github.com/relayloop/chatrelay/internal/model"
	"github.com/relayloop/chatrelay/internal/orchestrator"
	"github.com/relayloop/chatrelay/internal/service"
	"github.com/relayloop/chatrelay/pkg/logger"
	"github.com/relayloop/chatrelay/pkg/metrics"
)

// PushHandler exposes the push transport: the request body is the
// begin-generation message, the response is a persistent SSE stream carrying
// one event per part update, application heartbeats, and exactly one terminal
// event. It shares the orchestrator with the poll transport and holds no
// generation logic of its own.
type PushHandler struct {
	orchestrator        *orchestrator.Orchestrator
	conversationService *service.ConversationService
	logger              *logger.Logger

	heartbeatInterval time.Duration
	keepAliveInterval time.Duration
}

// NewPushHandler creates a new push handler.
func NewPushHandler(
	orch *orchestrator.Orchestrator,
	convSvc *service.ConversationService,
	log *logger.Logger,
	heartbeat, keepAlive time.Duration,
) *PushHandler {
	return &PushHandler{
		orchestrator:        orch,
		conversationService: convSvc,
		logger:              log,
		heartbeatInterval:   heartbeat,
		keepAliveInterval:   keepAlive,
	}
}

type pushUpdate struct {
	event string
	data  any
}

// Generate handles POST /api/v1/conversations/:id/generate
func (h *PushHandler) Generate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := middleware.GetTenantID(ctx)
	conversationID := chi.URLParam(r, "id")

	if err := middleware.ValidateConversationID(conversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if _, err := h.conversationService.Get(ctx, tenantID, conversationID); err != nil {
		writeError(w, http.StatusNotFound, "conversation not found")
		return
	}

	var req model.CreateJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := middleware.ValidateGenerationRequest(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	// Set SSE headers
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	metrics.IncrementSSEConnections()
	defer metrics.DecrementSSEConnections()

	sendSSEEvent(w, flusher, string(model.PushEventConnected), map[string]string{
		"conversation_id": conversationID,
	})

	updates := make(chan pushUpdate, 64)
	finished := make(chan *model.Job, 1)

	go func() {
		job := h.orchestrator.StartObserved(ctx, orchestrator.StartInput{
			ConversationID:     conversationID,
			TenantID:           tenantID,
			Messages:           req.Messages,
			Model:              req.Model,
			ProviderCredential: middleware.GetProviderCredential(ctx),
		}, func(u classify.Update, job *model.Job) {
			select {
			case updates <- toPushUpdate(u, job):
			case <-ctx.Done():
			}
		})
		finished <- job
	}()

	sendSSEEvent(w, flusher, string(model.PushEventStart), map[string]string{
		"conversation_id": conversationID,
	})

	heartbeat := time.NewTicker(h.heartbeatInterval)
	defer heartbeat.Stop()

	// Transport-level keep-alive: SSE comments, invisible to the event
	// reducer, distinguishable from application heartbeats.
	keepAlive := time.NewTicker(h.keepAliveInterval)
	defer keepAlive.Stop()

	started := false

	for {
		select {
		case <-ctx.Done():
			h.logger.Info("push client disconnected", "conversation_id", conversationID)
			return

		case u := <-updates:
			if !started {
				sendSSEEvent(w, flusher, string(model.PushEventMessageStart), map[string]string{
					"conversation_id": conversationID,
				})
				started = true
			}
			sendSSEEvent(w, flusher, u.event, u.data)

		case <-heartbeat.C:
			sendSSEEvent(w, flusher, string(model.PushEventHeartbeat), &model.HeartbeatEvent{
				Timestamp: time.Now(),
			})

		case <-keepAlive.C:
			fmt.Fprint(w, ": keep-alive\n\n")
			flusher.Flush()

		case job := <-finished:
			h.drainUpdates(w, flusher, updates, &started, conversationID)
			h.sendTerminal(w, flusher, job)
			return
		}
	}
}

// drainUpdates flushes updates that raced with job completion so every part
// event precedes the terminal event.
func (h *PushHandler) drainUpdates(w http.ResponseWriter, flusher http.Flusher, updates chan pushUpdate, started *bool, conversationID string) {
	for {
		select {
		case u := <-updates:
			if !*started {
				sendSSEEvent(w, flusher, string(model.PushEventMessageStart), map[string]string{
					"conversation_id": conversationID,
				})
				*started = true
			}
			sendSSEEvent(w, flusher, u.event, u.data)
		default:
			return
		}
	}
}

// sendTerminal emits exactly one terminal event per generation.
func (h *PushHandler) sendTerminal(w http.ResponseWriter, flusher http.Flusher, job *model.Job) {
	if job == nil {
		sendSSEEvent(w, flusher, string(model.PushEventError), &model.ErrorEvent{
			Code:    "job_lost",
			Message: "generation job expired before completion",
		})
		return
	}

	if job.Status == model.JobStatusError {
		sendSSEEvent(w, flusher, string(model.PushEventError), &model.ErrorEvent{
			Code:    "generation_failed",
			Message: job.Error,
		})
		return
	}

	// An output-length stop is a completed outcome with an advisory, not an
	// error.
	if job.FinishReason == "length" {
		sendSSEEvent(w, flusher, string(model.PushEventWarning), &model.WarningEvent{
			Code:    "length",
			Message: "response was cut short by the output limit",
		})
	}

	sendSSEEvent(w, flusher, string(model.PushEventMessageEnd), &model.PartUpdateEvent{
		JobID:         job.ID,
		PartsReceived: job.PartsReceived,
	})

	sendSSEEvent(w, flusher, string(model.PushEventDone), &model.DoneEvent{
		JobID:        job.ID,
		MessageID:    job.MessageID,
		FinishReason: job.FinishReason,
		Text:         job.Text,
		Parts:        job.Parts,
	})
}

// toPushUpdate maps one classified update to its wire event. The payload
// shape mirrors the poll snapshot fields.
func toPushUpdate(u classify.Update, job *model.Job) pushUpdate {
	ev := &model.PartUpdateEvent{
		JobID:         job.ID,
		PartsReceived: job.PartsReceived,
	}

	switch u.Op {
	case classify.OpAppendText:
		ev.Text = u.Text
		return pushUpdate{event: string(model.PushEventTextDelta), data: ev}
	case classify.OpAppendReasoning:
		ev.Text = u.Text
		return pushUpdate{event: string(model.PushEventReasoningDelta), data: ev}
	case classify.OpOpenToolCall, classify.OpResolveToolCall:
		ev.Part = findToolPart(job.Parts, u.ToolCallID)
		name := model.PushEventToolCall
		if u.Op == classify.OpResolveToolCall {
			name = model.PushEventToolResult
		}
		return pushUpdate{event: string(name), data: ev}
	case classify.OpAppendSource:
		if n := len(job.Parts); n > 0 {
			ev.Part = &job.Parts[n-1]
		}
		return pushUpdate{event: string(model.PushEventSource), data: ev}
	case classify.OpAppendStepBoundary:
		if n := len(job.Parts); n > 0 {
			ev.Part = &job.Parts[n-1]
		}
		return pushUpdate{event: string(model.PushEventStep), data: ev}
	default:
		return pushUpdate{event: string(model.PushEventProgress), data: ev}
	}
}

func findToolPart(parts []model.Part, callID string) *model.Part {
	for i := range parts {
		if parts[i].Type == model.PartTypeToolCall && parts[i].ToolCallID == callID {
			return &parts[i]
		}
	}
	return nil
}

func sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, event string, data interface{}) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "event: %s\n", event)
	fmt.Fprintf(w, "data: %s\n\n", jsonData)
	flusher.Flush()

	return nil
}
