//nolint:revive // "api" package name is intentionally concise for this layer.
package api

import (
	"context"
	"encoding/json"
	"iter"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/devops-qa/internal/domain"
	"github.com/ashureev/devops-qa/internal/engine"
	"github.com/ashureev/devops-qa/internal/knowledge"
	"github.com/ashureev/devops-qa/internal/store"
	"github.com/ashureev/devops-qa/internal/stream"
)

type fakeChat struct {
	fragments []stream.Fragment
}

func (f *fakeChat) ProcessStream(ctx context.Context, req engine.Request) (string, iter.Seq[stream.Fragment], error) {
	if strings.TrimSpace(req.Message) == "" {
		return "", nil, engine.ErrEmptyMessage
	}
	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = "generated-session"
	}
	seq := func(yield func(stream.Fragment) bool) {
		for _, fr := range f.fragments {
			if !yield(fr) {
				return
			}
		}
	}
	return sessionID, seq, nil
}

type fakeRepo struct {
	states map[string]*domain.ConversationState
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{states: make(map[string]*domain.ConversationState)}
}

func (r *fakeRepo) LoadState(ctx context.Context, sessionID string) (*domain.ConversationState, error) {
	return r.states[sessionID], nil
}

func (r *fakeRepo) SaveState(ctx context.Context, state *domain.ConversationState) error {
	r.states[state.SessionID] = state
	return nil
}

func (r *fakeRepo) ListSessions(ctx context.Context, limit int) ([]*domain.SessionSummary, error) {
	var out []*domain.SessionSummary
	for id := range r.states {
		if len(out) == limit {
			break
		}
		out = append(out, &domain.SessionSummary{SessionID: id})
	}
	return out, nil
}

func (r *fakeRepo) DeleteSession(ctx context.Context, sessionID string) error {
	delete(r.states, sessionID)
	return nil
}

func (r *fakeRepo) CleanupExpiredSessions(ctx context.Context, ttl time.Duration) (int64, error) {
	return 0, nil
}

func (r *fakeRepo) Ping(ctx context.Context) error { return nil }
func (r *fakeRepo) Close() error                   { return nil }

var _ store.Repository = (*fakeRepo)(nil)

func newTestRouter(t *testing.T, chat ChatStreamer, repo store.Repository) chi.Router {
	t.Helper()
	kb, err := knowledge.Load(filepath.Join(t.TempDir(), "kb.json"))
	if err != nil {
		t.Fatalf("Failed to load knowledge base: %v", err)
	}
	h := NewHandler(chat, repo, kb, 100, time.Minute)
	r := chi.NewRouter()
	h.RegisterRoutes(r)
	return r
}

func decodeFrames(t *testing.T, body string) []Frame {
	t.Helper()
	var frames []Frame
	for _, line := range strings.Split(body, "\n") {
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var f Frame
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &f); err != nil {
			t.Fatalf("Failed to decode frame %q: %v", line, err)
		}
		frames = append(frames, f)
	}
	return frames
}

func TestHandleChatStreamsFrames(t *testing.T) {
	chat := &fakeChat{fragments: []stream.Fragment{
		{Kind: stream.KindStatus, Text: "Identified your intent..."},
		{Kind: stream.KindChunk, Text: "Here is the answer."},
	}}
	r := newTestRouter(t, chat, newFakeRepo())

	req := httptest.NewRequest(http.MethodPost, "/api/chat",
		strings.NewReader(`{"message": "How do I deploy?", "session_id": "s1"}`))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Expected text/event-stream, got %q", ct)
	}

	frames := decodeFrames(t, w.Body.String())
	if len(frames) != 3 {
		t.Fatalf("Expected 3 frames, got %d", len(frames))
	}
	if frames[0].Type != "status" || frames[1].Type != "chunk" {
		t.Errorf("Unexpected frame types: %q, %q", frames[0].Type, frames[1].Type)
	}
	if frames[1].Content != "Here is the answer." {
		t.Errorf("Unexpected chunk content: %q", frames[1].Content)
	}
	last := frames[len(frames)-1]
	if last.Type != "complete" || last.SessionID != "s1" {
		t.Errorf("Expected complete frame for s1, got %+v", last)
	}
}

func TestHandleChatRejectsEmptyMessage(t *testing.T) {
	r := newTestRouter(t, &fakeChat{}, newFakeRepo())

	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(`{"message": ""}`))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", w.Code)
	}
}

func TestHandleChatRejectsInvalidBody(t *testing.T) {
	r := newTestRouter(t, &fakeChat{}, newFakeRepo())

	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(`{not json`))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", w.Code)
	}
}

func TestHandleChatRateLimit(t *testing.T) {
	kb, err := knowledge.Load(filepath.Join(t.TempDir(), "kb.json"))
	if err != nil {
		t.Fatalf("Failed to load knowledge base: %v", err)
	}
	h := NewHandler(&fakeChat{}, newFakeRepo(), kb, 1, time.Minute)
	r := chi.NewRouter()
	h.RegisterRoutes(r)

	for i, want := range []int{http.StatusOK, http.StatusTooManyRequests} {
		req := httptest.NewRequest(http.MethodPost, "/api/chat",
			strings.NewReader(`{"message": "hi"}`))
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		if w.Code != want {
			t.Errorf("Request %d: expected status %d, got %d", i, want, w.Code)
		}
	}
}

func TestHandleGetSession(t *testing.T) {
	repo := newFakeRepo()
	state := domain.NewConversationState("s1")
	state.AddMessage(domain.RoleUser, "hello")
	repo.states["s1"] = state

	r := newTestRouter(t, &fakeChat{}, repo)

	req := httptest.NewRequest(http.MethodGet, "/api/sessions/s1", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	var got domain.ConversationState
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if got.SessionID != "s1" || len(got.Messages) != 1 {
		t.Errorf("Unexpected state: %+v", got)
	}
}

func TestHandleGetSessionNotFound(t *testing.T) {
	r := newTestRouter(t, &fakeChat{}, newFakeRepo())

	req := httptest.NewRequest(http.MethodGet, "/api/sessions/missing", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", w.Code)
	}
}

func TestHandleListSessions(t *testing.T) {
	repo := newFakeRepo()
	repo.states["s1"] = domain.NewConversationState("s1")
	repo.states["s2"] = domain.NewConversationState("s2")

	r := newTestRouter(t, &fakeChat{}, repo)

	req := httptest.NewRequest(http.MethodGet, "/api/sessions", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	var got struct {
		Count int `json:"count"`
	}
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if got.Count != 2 {
		t.Errorf("Expected 2 sessions, got %d", got.Count)
	}
}

func TestHandleDeleteSession(t *testing.T) {
	repo := newFakeRepo()
	repo.states["s1"] = domain.NewConversationState("s1")

	r := newTestRouter(t, &fakeChat{}, repo)

	req := httptest.NewRequest(http.MethodDelete, "/api/sessions/s1", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	if _, ok := repo.states["s1"]; ok {
		t.Error("Expected session deleted")
	}
}

func TestHandleAddKnowledge(t *testing.T) {
	r := newTestRouter(t, &fakeChat{}, newFakeRepo())

	body := `{"category": "general_qa", "keywords": ["terraform"], "question": "q", "answer": "a"}`
	req := httptest.NewRequest(http.MethodPost, "/api/knowledge", strings.NewReader(body))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d: %s", w.Code, w.Body.String())
	}
}

func TestHandleAddKnowledgeValidation(t *testing.T) {
	r := newTestRouter(t, &fakeChat{}, newFakeRepo())

	req := httptest.NewRequest(http.MethodPost, "/api/knowledge",
		strings.NewReader(`{"category": "", "keywords": []}`))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", w.Code)
	}
}

func TestHandleHealth(t *testing.T) {
	r := newTestRouter(t, &fakeChat{}, newFakeRepo())

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}
}
