package api

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"careerpilot/internal/auth"
	"careerpilot/internal/config"
	"careerpilot/internal/models"
	"careerpilot/internal/runtime"
	"careerpilot/internal/storage"
	"careerpilot/internal/store"
	"careerpilot/internal/turn"
)

func TestHandlersEndToEndFlow(t *testing.T) {
	router, db, _ := newTestServer(t)
	defer db.Close()

	username := fmt.Sprintf("tester_%d", time.Now().UnixNano())
	password := "pass123"

	// Register a user.
	regResp := doJSONRequest(t, router, http.MethodPost, "/api/users/register", map[string]string{
		"username": username,
		"password": password,
	}, nil)
	assertStatus(t, regResp, http.StatusCreated)
	var regBody struct {
		ID int64 `json:"id"`
	}
	decodeJSON(t, regResp.Body.Bytes(), &regBody)
	if regBody.ID == 0 {
		t.Fatalf("expected user id in register response")
	}

	// Login to fetch auth token.
	loginResp := doJSONRequest(t, router, http.MethodPost, "/api/users/login", map[string]string{
		"username": username,
		"password": password,
	}, nil)
	assertStatus(t, loginResp, http.StatusOK)
	var loginBody struct {
		AuthToken string `json:"auth_token"`
	}
	decodeJSON(t, loginResp.Body.Bytes(), &loginBody)
	if loginBody.AuthToken == "" {
		t.Fatalf("expected auth token from login")
	}
	authHeader := map[string]string{"Authorization": fmt.Sprintf("Bearer %s", loginBody.AuthToken)}

	// Store a provider key.
	keyResp := doJSONRequest(t, router, http.MethodPost,
		fmt.Sprintf("/api/users/%d/api-keys", regBody.ID),
		map[string]string{"provider": "openai", "key": "mock"},
		authHeader)
	assertStatus(t, keyResp, http.StatusNoContent)

	// Create a chat.
	chatResp := doJSONRequest(t, router, http.MethodPost,
		fmt.Sprintf("/api/users/%d/chats", regBody.ID),
		map[string]string{"title": ""},
		authHeader)
	assertStatus(t, chatResp, http.StatusCreated)
	var chat models.Chat
	decodeJSON(t, chatResp.Body.Bytes(), &chat)
	if chat.ID <= 0 {
		t.Fatalf("expected positive chat id")
	}

	// Run a turn over SSE.
	turnResp := postSSE(t, router,
		fmt.Sprintf("/api/users/%d/chat/turn", regBody.ID),
		map[string]any{
			"chat_id":  chat.ID,
			"provider": "openai",
			"model_id": "gpt-5-nano",
			"content":  "hello there",
		},
		authHeader,
	)
	assertStatus(t, turnResp, http.StatusOK)
	events := parseSSE(t, turnResp.Body.String())
	if len(events) < 3 {
		t.Fatalf("expected ack, deltas and done, got %#v", events)
	}
	if events[0].Name != "ack" {
		t.Fatalf("expected first SSE event to be ack, got %s", events[0].Name)
	}
	var ackPayload struct {
		MessageID string `json:"message_id"`
	}
	decodeJSON(t, []byte(events[0].Data), &ackPayload)
	if ackPayload.MessageID == "" {
		t.Fatalf("ack missing message id: %s", events[0].Data)
	}
	if events[1].Name != string(turn.EventTextDelta) {
		t.Fatalf("expected text delta event, got %s", events[1].Name)
	}
	if events[len(events)-1].Name != "done" {
		t.Fatalf("expected done event, got %s", events[len(events)-1].Name)
	}

	// List chats.
	listResp := doJSONRequest(t, router, http.MethodGet,
		fmt.Sprintf("/api/users/%d/chats", regBody.ID), nil, authHeader)
	assertStatus(t, listResp, http.StatusOK)

	// Delete the chat and then the account.
	delChat := doJSONRequest(t, router, http.MethodDelete,
		fmt.Sprintf("/api/users/%d/chats/%d", regBody.ID, chat.ID), nil, authHeader)
	assertStatus(t, delChat, http.StatusNoContent)

	delResp := doJSONRequest(t, router, http.MethodDelete,
		fmt.Sprintf("/api/users/%d", regBody.ID), nil, authHeader)
	assertStatus(t, delResp, http.StatusNoContent)

	failLogin := doJSONRequest(t, router, http.MethodPost, "/api/users/login", map[string]string{
		"username": username,
		"password": password,
	}, nil)
	if failLogin.Code == http.StatusOK {
		t.Fatalf("expected login to fail after user deletion")
	}
}

func TestChatTurnValidation(t *testing.T) {
	router, db, _ := newTestServer(t)
	defer db.Close()

	userID, authHeader := registerAndLogin(t, router)

	// Missing chat id.
	resp := doJSONRequest(t, router, http.MethodPost,
		fmt.Sprintf("/api/users/%d/chat/turn", userID),
		map[string]any{"chat_id": 0, "provider": "openai", "model_id": "gpt", "content": "hi"},
		authHeader)
	assertStatus(t, resp, http.StatusBadRequest)

	// Missing provider.
	resp = doJSONRequest(t, router, http.MethodPost,
		fmt.Sprintf("/api/users/%d/chat/turn", userID),
		map[string]any{"chat_id": 1, "provider": "", "model_id": "gpt", "content": "hi"},
		authHeader)
	assertStatus(t, resp, http.StatusBadRequest)

	// Empty content without files or approval.
	resp = doJSONRequest(t, router, http.MethodPost,
		fmt.Sprintf("/api/users/%d/chat/turn", userID),
		map[string]any{"chat_id": 1, "provider": "openai", "model_id": "gpt", "content": "   "},
		authHeader)
	assertStatus(t, resp, http.StatusBadRequest)
}

func TestChatTurnApprovalAllowsEmptyContent(t *testing.T) {
	router, db, handler := newTestServer(t)
	defer db.Close()

	userID, authHeader := registerAndLogin(t, router)
	chatResp := doJSONRequest(t, router, http.MethodPost,
		fmt.Sprintf("/api/users/%d/chats", userID),
		map[string]string{"title": "t"}, authHeader)
	assertStatus(t, chatResp, http.StatusCreated)
	var chat models.Chat
	decodeJSON(t, chatResp.Body.Bytes(), &chat)

	resp := postSSE(t, router,
		fmt.Sprintf("/api/users/%d/chat/turn", userID),
		map[string]any{
			"chat_id":       chat.ID,
			"provider":      "openai",
			"model_id":      "gpt",
			"tool_approval": true,
		},
		authHeader)
	assertStatus(t, resp, http.StatusOK)

	mr := handler.runtime.(*mockRuntime)
	last := mr.lastTurn()
	if last == nil || !last.ToolApproval {
		t.Fatalf("runtime did not receive a tool-approval turn: %+v", last)
	}
	if len(last.Incoming) != 0 {
		t.Fatalf("approval-only turn should carry no new message, got %+v", last.Incoming)
	}
}

func TestChatTurnRuntimeError(t *testing.T) {
	router, db, handler := newTestServer(t)
	defer db.Close()

	userID, authHeader := registerAndLogin(t, router)
	chatResp := doJSONRequest(t, router, http.MethodPost,
		fmt.Sprintf("/api/users/%d/chats", userID),
		map[string]string{"title": "t"}, authHeader)
	assertStatus(t, chatResp, http.StatusCreated)
	var chat models.Chat
	decodeJSON(t, chatResp.Body.Bytes(), &chat)

	mr := handler.runtime.(*mockRuntime)
	mr.runErr = fmt.Errorf("mock failure")

	resp := postSSE(t, router,
		fmt.Sprintf("/api/users/%d/chat/turn", userID),
		map[string]any{"chat_id": chat.ID, "provider": "openai", "model_id": "gpt", "content": "hello"},
		authHeader)
	assertStatus(t, resp, http.StatusOK)
	events := parseSSE(t, resp.Body.String())
	last := events[len(events)-1]
	if last.Name != "done" || !strings.Contains(last.Data, "false") {
		t.Fatalf("expected done{ok:false}, got %#v", last)
	}
}

type sseEvent struct {
	Name string
	Data string
}

func parseSSE(t *testing.T, payload string) []sseEvent {
	t.Helper()
	payload = strings.TrimSpace(payload)
	if payload == "" {
		return nil
	}
	chunks := strings.Split(payload, "\n\n")
	var events []sseEvent
	for _, chunk := range chunks {
		lines := strings.Split(strings.TrimSpace(chunk), "\n")
		if len(lines) == 0 {
			continue
		}
		var evt sseEvent
		for _, line := range lines {
			switch {
			case strings.HasPrefix(line, "event:"):
				evt.Name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
			case strings.HasPrefix(line, "data:"):
				data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
				if evt.Data == "" {
					evt.Data = data
				} else {
					evt.Data += "\n" + data
				}
			}
		}
		events = append(events, evt)
	}
	return events
}

func newTestServer(t *testing.T) (*gin.Engine, *sql.DB, *Handler) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := &config.Config{Databases: map[string]config.DatabaseConfig{
		"sqlite3": {DSN: ":memory:"},
	}}
	db, err := storage.Open("sqlite3", cfg)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := storage.Migrate(db, "sqlite3"); err != nil {
		t.Fatalf("migrate db: %v", err)
	}
	st := store.NewService(db)
	authSvc := auth.NewService(db, nil, time.Hour)
	handler := NewHandler(st, authSvc, newMockRuntime(st), t.TempDir(), time.Hour)

	router := gin.New()
	handler.RegisterRoutes(router)
	return router, db, handler
}

func doJSONRequest(t *testing.T, router *gin.Engine, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func postSSE(t *testing.T, router *gin.Engine, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	return doJSONRequest(t, router, http.MethodPost, path, body, headers)
}

func decodeJSON(t *testing.T, data []byte, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(data, v); err != nil {
		t.Fatalf("decode json: %v", err)
	}
}

func assertStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("unexpected status %d, body: %s", rec.Code, rec.Body.String())
	}
}

func registerAndLogin(t *testing.T, router *gin.Engine) (int64, map[string]string) {
	t.Helper()
	username := fmt.Sprintf("tester_%d", time.Now().UnixNano())
	password := "pass123"
	regResp := doJSONRequest(t, router, http.MethodPost, "/api/users/register", map[string]string{
		"username": username,
		"password": password,
	}, nil)
	assertStatus(t, regResp, http.StatusCreated)
	var regBody struct {
		ID int64 `json:"id"`
	}
	decodeJSON(t, regResp.Body.Bytes(), &regBody)

	loginResp := doJSONRequest(t, router, http.MethodPost, "/api/users/login", map[string]string{
		"username": username,
		"password": password,
	}, nil)
	assertStatus(t, loginResp, http.StatusOK)
	var loginBody struct {
		AuthToken string `json:"auth_token"`
	}
	decodeJSON(t, loginResp.Body.Bytes(), &loginBody)
	if loginBody.AuthToken == "" {
		t.Fatalf("expected auth token after login")
	}
	authHeader := map[string]string{"Authorization": fmt.Sprintf("Bearer %s", loginBody.AuthToken)}
	return regBody.ID, authHeader
}

// mockRuntime replaces the model-backed runtime with a scripted reply.
type mockRuntime struct {
	store  *store.Service
	runErr error
	turns  []*runtime.TurnRequest
}

func newMockRuntime(st *store.Service) *mockRuntime {
	return &mockRuntime{store: st}
}

func (m *mockRuntime) RunTurn(ctx context.Context, req *runtime.TurnRequest) error {
	m.turns = append(m.turns, req)
	if err := m.runErr; err != nil {
		m.runErr = nil
		return err
	}
	if req.Emit != nil {
		if err := req.Emit(turn.StreamEvent{Type: turn.EventTextDelta, Text: "mock reply"}); err != nil {
			return err
		}
	}
	return nil
}

func (m *mockRuntime) History(ctx context.Context, userID, chatID int64) (*models.Chat, []*models.Message, error) {
	return m.store.GetChatWithMessages(ctx, userID, chatID)
}

func (m *mockRuntime) InvalidateChat(int64, int64) {}
func (m *mockRuntime) ResetUser(int64)             {}

func (m *mockRuntime) lastTurn() *runtime.TurnRequest {
	if len(m.turns) == 0 {
		return nil
	}
	return m.turns[len(m.turns)-1]
}
