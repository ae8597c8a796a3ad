package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relayloop/chatrelay/internal/budget"
	"github.com/relayloop/chatrelay/internal/classify"
	"github.com/relayloop/chatrelay/internal/jobstore"
	"github.com/relayloop/chatrelay/internal/llm"
	"github.com/relayloop/chatrelay/internal/middleware"
	"github.com/relayloop/chatrelay/internal/model"
	"github.com/relayloop/chatrelay/internal/orchestrator"
	"github.com/relayloop/chatrelay/internal/service"
	"github.com/relayloop/chatrelay/pkg/logger"
)

type stubLLM struct {
	events []llm.StreamEvent
	result *llm.StreamResult
	reqs   chan *llm.CompletionRequest
}

func (c *stubLLM) StreamGenerate(ctx context.Context, req *llm.CompletionRequest, onEvent llm.EventCallback) (*llm.StreamResult, error) {
	if c.reqs != nil {
		select {
		case c.reqs <- req:
		default:
		}
	}
	for _, ev := range c.events {
		if err := onEvent(ev); err != nil {
			return nil, err
		}
	}
	return c.result, nil
}

func (c *stubLLM) Name() string     { return "stub" }
func (c *stubLLM) Models() []string { return nil }

type jobTestEnv struct {
	router         *chi.Mux
	convs          *service.ConversationService
	conversationID string
}

func newJobTestEnv(t *testing.T, client llm.Client) *jobTestEnv {
	t.Helper()
	log := logger.NewNop()

	convs := service.NewConversationService(nil, log)
	conv, err := convs.Create(context.Background(), "tenant-1", "user-1", &model.CreateConversationRequest{Title: "test"})
	require.NoError(t, err)

	orch := orchestrator.New(orchestrator.Options{
		Store:        jobstore.New(10*time.Minute, log),
		Classifier:   classify.New(log),
		Budget:       budget.Budget{TokenCeiling: 100000, ToolOutputCeiling: 5000},
		Client:       client,
		Logger:       log,
		DefaultModel: "test-model",
	})

	h := NewJobHandler(orch, convs, log)

	r := chi.NewRouter()
	r.Post("/conversations/{id}/jobs", h.Create)
	r.Get("/jobs/{jobID}", h.Get)
	r.Delete("/jobs/{jobID}", h.Cancel)

	return &jobTestEnv{router: r, convs: convs, conversationID: conv.ID}
}

func (e *jobTestEnv) do(method, path, tenantID string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	ctx := context.WithValue(req.Context(), middleware.TenantIDKey, tenantID)
	req = req.WithContext(ctx)

	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func generationBody(t *testing.T) []byte {
	t.Helper()
	body, err := json.Marshal(&model.CreateJobRequest{
		Messages: []model.HistoryEntry{{
			Role:  model.RoleUser,
			Parts: []model.Part{{Type: model.PartTypeText, Text: "hi"}},
		}},
	})
	require.NoError(t, err)
	return body
}

func TestCreateJobReturnsAccepted(t *testing.T) {
	env := newJobTestEnv(t, &stubLLM{
		events: []llm.StreamEvent{
			{Type: llm.EventTextDelta, Text: "Hello world"},
			{Type: llm.EventFinish, FinishReason: "stop"},
		},
		result: &llm.StreamResult{FinishReason: "stop"},
	})

	rec := env.do(http.MethodPost, "/conversations/"+env.conversationID+"/jobs", "tenant-1", generationBody(t))
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp model.CreateJobResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.JobID)

	// The snapshot is pending; generation runs in the background.
	require.Eventually(t, func() bool {
		r := env.do(http.MethodGet, "/jobs/"+resp.JobID, "tenant-1", nil)
		if r.Code != http.StatusOK {
			return false
		}
		var job model.Job
		if err := json.Unmarshal(r.Body.Bytes(), &job); err != nil {
			return false
		}
		return job.Status == model.JobStatusCompleted && job.Text == "Hello world"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestCreateJobRejectsUnknownConversation(t *testing.T) {
	env := newJobTestEnv(t, &stubLLM{result: &llm.StreamResult{}})

	rec := env.do(http.MethodPost, "/conversations/0190b86e-5f2a-7000-8000-000000000000/jobs", "tenant-1", generationBody(t))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateJobRejectsWrongTenant(t *testing.T) {
	env := newJobTestEnv(t, &stubLLM{result: &llm.StreamResult{}})

	rec := env.do(http.MethodPost, "/conversations/"+env.conversationID+"/jobs", "tenant-2", generationBody(t))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateJobRejectsEmptyHistory(t *testing.T) {
	env := newJobTestEnv(t, &stubLLM{result: &llm.StreamResult{}})

	body, _ := json.Marshal(&model.CreateJobRequest{})
	rec := env.do(http.MethodPost, "/conversations/"+env.conversationID+"/jobs", "tenant-1", body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateJobRejectsNonUserFinalTurn(t *testing.T) {
	env := newJobTestEnv(t, &stubLLM{result: &llm.StreamResult{}})

	body, _ := json.Marshal(&model.CreateJobRequest{
		Messages: []model.HistoryEntry{{
			Role:  model.RoleAssistant,
			Parts: []model.Part{{Type: model.PartTypeText, Text: "I go last"}},
		}},
	})
	rec := env.do(http.MethodPost, "/conversations/"+env.conversationID+"/jobs", "tenant-1", body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateJobForwardsProviderCredential(t *testing.T) {
	stub := &stubLLM{
		events: []llm.StreamEvent{{Type: llm.EventFinish, FinishReason: "stop"}},
		result: &llm.StreamResult{FinishReason: "stop"},
		reqs:   make(chan *llm.CompletionRequest, 1),
	}
	env := newJobTestEnv(t, stub)

	req := httptest.NewRequest(http.MethodPost, "/conversations/"+env.conversationID+"/jobs", bytes.NewReader(generationBody(t)))
	ctx := context.WithValue(req.Context(), middleware.TenantIDKey, "tenant-1")
	ctx = context.WithValue(ctx, middleware.ProviderCredentialKey, "sk-opaque")
	req = req.WithContext(ctx)

	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusAccepted, rec.Code)

	// The opaque credential reaches the provider request untouched.
	select {
	case got := <-stub.reqs:
		assert.Equal(t, "sk-opaque", got.Credential)
	case <-time.After(2 * time.Second):
		t.Fatal("provider was never called")
	}
}

func TestGetJobHiddenAcrossTenants(t *testing.T) {
	env := newJobTestEnv(t, &stubLLM{
		events: []llm.StreamEvent{{Type: llm.EventFinish, FinishReason: "stop"}},
		result: &llm.StreamResult{FinishReason: "stop"},
	})

	rec := env.do(http.MethodPost, "/conversations/"+env.conversationID+"/jobs", "tenant-1", generationBody(t))
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp model.CreateJobResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	r := env.do(http.MethodGet, "/jobs/"+resp.JobID, "tenant-2", nil)
	assert.Equal(t, http.StatusNotFound, r.Code)
}

func TestGetJobUnknownID(t *testing.T) {
	env := newJobTestEnv(t, &stubLLM{result: &llm.StreamResult{}})

	rec := env.do(http.MethodGet, "/jobs/0190b86e-5f2a-7000-8000-000000000000", "tenant-1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(http.MethodGet, "/jobs/not-a-uuid", "tenant-1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCancelJobIsIdempotent(t *testing.T) {
	env := newJobTestEnv(t, &stubLLM{
		events: []llm.StreamEvent{{Type: llm.EventFinish, FinishReason: "stop"}},
		result: &llm.StreamResult{FinishReason: "stop"},
	})

	rec := env.do(http.MethodPost, "/conversations/"+env.conversationID+"/jobs", "tenant-1", generationBody(t))
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp model.CreateJobResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	r := env.do(http.MethodDelete, "/jobs/"+resp.JobID, "tenant-1", nil)
	assert.Equal(t, http.StatusNoContent, r.Code)

	// A second cancel changes nothing and still succeeds.
	r = env.do(http.MethodDelete, "/jobs/"+resp.JobID, "tenant-1", nil)
	assert.Equal(t, http.StatusNoContent, r.Code)
}
