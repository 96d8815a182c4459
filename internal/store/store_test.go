package store

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"careerpilot/internal/config"
	"careerpilot/internal/models"
	"careerpilot/internal/storage"
)

func newTestService(t *testing.T) (*Service, *sql.DB) {
	t.Helper()
	cfg := &config.Config{Databases: map[string]config.DatabaseConfig{
		"sqlite3": {DSN: ":memory:"},
	}}
	db, err := storage.Open("sqlite3", cfg)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := storage.Migrate(db, "sqlite3"); err != nil {
		t.Fatalf("migrate db: %v", err)
	}
	return NewService(db), db
}

func TestUserLifecycle(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	user, err := svc.RegisterUser(ctx, "alice", "secret1")
	if err != nil {
		t.Fatalf("RegisterUser: %v", err)
	}
	if user.ID <= 0 {
		t.Fatalf("bad user id %d", user.ID)
	}

	if _, err := svc.RegisterUser(ctx, "alice", "other"); err == nil {
		t.Fatal("duplicate username accepted")
	}

	if _, err := svc.Login(ctx, "alice", "secret1"); err != nil {
		t.Fatalf("Login: %v", err)
	}
	if _, err := svc.Login(ctx, "alice", "wrong"); err == nil {
		t.Fatal("wrong password accepted")
	}

	if err := svc.DeleteUser(ctx, user.ID); err != nil {
		t.Fatalf("DeleteUser: %v", err)
	}
	if _, err := svc.Login(ctx, "alice", "secret1"); err == nil {
		t.Fatal("login succeeded after deletion")
	}
}

func TestAPIKeyRoundTrip(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	user, err := svc.RegisterUser(ctx, "bob", "secret1")
	if err != nil {
		t.Fatalf("RegisterUser: %v", err)
	}

	if _, err := svc.EnsureProviderReady(ctx, user.ID, "openai"); err == nil {
		t.Fatal("provider ready without a key")
	}
	if err := svc.SetUserAPIKey(ctx, user.ID, "openai", "sk-1"); err != nil {
		t.Fatalf("SetUserAPIKey: %v", err)
	}
	key, err := svc.EnsureProviderReady(ctx, user.ID, "openai")
	if err != nil || key != "sk-1" {
		t.Fatalf("EnsureProviderReady = %q, %v", key, err)
	}

	// Setting again overwrites.
	if err := svc.SetUserAPIKey(ctx, user.ID, "openai", "sk-2"); err != nil {
		t.Fatalf("SetUserAPIKey update: %v", err)
	}
	key, _ = svc.UserAPIKey(ctx, user.ID, "openai")
	if key != "sk-2" {
		t.Fatalf("key not updated, got %q", key)
	}

	providers, err := svc.ListUserProviders(ctx, user.ID)
	if err != nil || len(providers) != 1 || providers[0] != "openai" {
		t.Fatalf("ListUserProviders = %v, %v", providers, err)
	}

	if err := svc.DeleteUserAPIKey(ctx, user.ID, "openai"); err != nil {
		t.Fatalf("DeleteUserAPIKey: %v", err)
	}
	if err := svc.DeleteUserAPIKey(ctx, user.ID, "openai"); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("second delete err = %v, want ErrNoRows", err)
	}
}

func TestChatAndMessageRoundTrip(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	user, err := svc.RegisterUser(ctx, "carol", "secret1")
	if err != nil {
		t.Fatalf("RegisterUser: %v", err)
	}
	chat, err := svc.CreateChat(ctx, user.ID, "")
	if err != nil {
		t.Fatalf("CreateChat: %v", err)
	}

	msgs := []*models.Message{
		{
			ID:     "u-1",
			UserID: user.ID,
			ChatID: chat.ID,
			Role:   models.RoleUser,
			Parts:  []models.Part{models.TextPart("review my resume")},
		},
		{
			ID:     "a-1",
			UserID: user.ID,
			ChatID: chat.ID,
			Role:   models.RoleAssistant,
			Parts: []models.Part{
				models.TextPart("Sure."),
				{
					Type:       models.PartTypeToolInvocation,
					ToolCallID: "call-1",
					ToolName:   "update_document",
					Arguments:  []byte(`{"id":"d1"}`),
					State:      models.ToolStatePending,
				},
			},
		},
	}
	if err := svc.InsertMessages(ctx, chat.ID, msgs); err != nil {
		t.Fatalf("InsertMessages: %v", err)
	}

	gotChat, history, err := svc.GetChatWithMessages(ctx, user.ID, chat.ID)
	if err != nil {
		t.Fatalf("GetChatWithMessages: %v", err)
	}
	if gotChat.ID != chat.ID {
		t.Fatalf("chat id mismatch")
	}
	if len(history) != 2 || history[0].ID != "u-1" || history[1].ID != "a-1" {
		t.Fatalf("history out of order: %+v", history)
	}
	// Parts survive the JSON column round trip intact.
	inv := history[1].Parts[1]
	if inv.Type != models.PartTypeToolInvocation || inv.State != models.ToolStatePending || inv.ToolName != "update_document" {
		t.Fatalf("invocation part mangled: %+v", inv)
	}

	// Patch the parts in place under the same id.
	resolved := history[1].ClonedParts()
	resolved[1].State = models.ToolStateResult
	resolved[1].Result = []byte(`{"ok":true}`)
	if err := svc.UpdateMessageParts(ctx, "a-1", resolved); err != nil {
		t.Fatalf("UpdateMessageParts: %v", err)
	}

	_, history, err = svc.GetChatWithMessages(ctx, user.ID, chat.ID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("update created a new row: %d messages", len(history))
	}
	if history[1].Parts[1].State != models.ToolStateResult {
		t.Fatalf("parts not patched: %+v", history[1].Parts[1])
	}

	// Re-applying the same parts is a no-op update, not a missing row.
	if err := svc.UpdateMessageParts(ctx, "a-1", resolved); err != nil {
		t.Fatalf("identical update err = %v, want nil", err)
	}

	exists, err := svc.MessageExists(ctx, "a-1")
	if err != nil || !exists {
		t.Fatalf("MessageExists(a-1) = %v, %v", exists, err)
	}
	if exists, err = svc.MessageExists(ctx, "missing"); err != nil || exists {
		t.Fatalf("MessageExists(missing) = %v, %v", exists, err)
	}

	if err := svc.UpdateMessageParts(ctx, "missing", resolved); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("update of missing message err = %v, want ErrNoRows", err)
	}

	if err := svc.DeleteChat(ctx, user.ID, chat.ID); err != nil {
		t.Fatalf("DeleteChat: %v", err)
	}
	if _, _, err := svc.GetChatWithMessages(ctx, user.ID, chat.ID); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("deleted chat err = %v, want ErrNoRows", err)
	}
}

func TestChatTitleUpdate(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	user, _ := svc.RegisterUser(ctx, "dave", "secret1")
	chat, _ := svc.CreateChat(ctx, user.ID, "")

	if err := svc.UpdateChatTitle(ctx, user.ID, chat.ID, "Resume review"); err != nil {
		t.Fatalf("UpdateChatTitle: %v", err)
	}
	got, err := svc.GetChat(ctx, user.ID, chat.ID)
	if err != nil || got.Title != "Resume review" {
		t.Fatalf("GetChat = %+v, %v", got, err)
	}

	// Other users cannot rename someone else's chat.
	other, _ := svc.RegisterUser(ctx, "eve", "secret1")
	if err := svc.UpdateChatTitle(ctx, other.ID, chat.ID, "stolen"); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("cross-user title update err = %v, want ErrNoRows", err)
	}
}

func TestDocumentRoundTrip(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	user, _ := svc.RegisterUser(ctx, "frank", "secret1")

	doc := &models.Document{ID: "doc-1", UserID: user.ID, Title: "Resume", Content: "v1", Kind: "resume"}
	if err := svc.CreateDocument(ctx, doc); err != nil {
		t.Fatalf("CreateDocument: %v", err)
	}
	if err := svc.UpdateDocumentContent(ctx, user.ID, "doc-1", "v2"); err != nil {
		t.Fatalf("UpdateDocumentContent: %v", err)
	}
	got, err := svc.GetDocument(ctx, user.ID, "doc-1")
	if err != nil || got.Content != "v2" {
		t.Fatalf("GetDocument = %+v, %v", got, err)
	}
	docs, err := svc.ListDocuments(ctx, user.ID)
	if err != nil || len(docs) != 1 {
		t.Fatalf("ListDocuments = %v, %v", docs, err)
	}
}
