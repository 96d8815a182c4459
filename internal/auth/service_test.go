package auth

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"os"
	"strconv"
	"testing"
	"time"

	"careerpilot/internal/config"
	"careerpilot/internal/redis"
	"careerpilot/internal/storage"
)

func newAuthDB(t *testing.T) *sql.DB {
	t.Helper()
	cfg := &config.Config{
		Databases: map[string]config.DatabaseConfig{
			"sqlite3": {DSN: ":memory:"},
		},
	}
	db, err := storage.Open("sqlite3", cfg)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := storage.Migrate(db, "sqlite3"); err != nil {
		t.Fatalf("migrate db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func seedUser(t *testing.T, db *sql.DB, id int64) {
	t.Helper()
	if _, err := db.Exec(
		`INSERT INTO users (id, username, password_hash, created_at) VALUES (?, ?, '', ?)`,
		id, fmt.Sprintf("user-%d", id), time.Now().UTC(),
	); err != nil {
		t.Fatalf("seed user %d: %v", id, err)
	}
}

func TestTokenRoundTrip(t *testing.T) {
	db := newAuthDB(t)
	seedUser(t, db, 1)
	svc := NewService(db, nil, time.Hour)
	ctx := context.Background()

	token, err := svc.IssueToken(ctx, 1)
	if err != nil || token == "" {
		t.Fatalf("IssueToken = %q, %v", token, err)
	}
	if id, err := svc.ValidateToken(ctx, token); err != nil || id != 1 {
		t.Fatalf("ValidateToken = %d, %v", id, err)
	}
	if err := svc.RevokeToken(ctx, token); err != nil {
		t.Fatalf("RevokeToken: %v", err)
	}
	if _, err := svc.ValidateToken(ctx, token); err == nil {
		t.Fatal("revoked token still validates")
	}
}

func TestRevokeUserTokensDropsEverySession(t *testing.T) {
	db := newAuthDB(t)
	seedUser(t, db, 3)
	svc := NewService(db, nil, time.Hour)
	ctx := context.Background()

	var tokens []string
	for i := 0; i < 3; i++ {
		token, err := svc.IssueToken(ctx, 3)
		if err != nil {
			t.Fatalf("IssueToken #%d: %v", i, err)
		}
		tokens = append(tokens, token)
	}
	if err := svc.RevokeUserTokens(ctx, 3); err != nil {
		t.Fatalf("RevokeUserTokens: %v", err)
	}
	for _, token := range tokens {
		if _, err := svc.ValidateToken(ctx, token); err == nil {
			t.Fatal("a token survived the user-wide revoke")
		}
	}
}

func TestExpiredTokenIsPurged(t *testing.T) {
	db := newAuthDB(t)
	seedUser(t, db, 2)
	svc := NewService(db, nil, 10*time.Millisecond)
	ctx := context.Background()

	token, err := svc.IssueToken(ctx, 2)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	if _, err := svc.ValidateToken(ctx, token); err == nil {
		t.Fatal("expired token still validates")
	}
	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM user_tokens WHERE token = ?`, token).Scan(&count); err != nil {
		t.Fatalf("count tokens: %v", err)
	}
	if count != 0 {
		t.Fatal("expired token left in the table")
	}
}

func TestTokenCacheReadThrough(t *testing.T) {
	db := newAuthDB(t)
	seedUser(t, db, 10)
	cacheClient := newCacheClient(t)
	svc := NewService(db, cacheClient, time.Hour)
	ctx := context.Background()

	token, err := svc.IssueToken(ctx, 10)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	raw := cacheClient.Raw()
	if raw == nil {
		t.Fatal("raw redis client nil")
	}
	key := redisTokenPrefix + token
	if got, err := raw.Get(ctx, key).Result(); err != nil || got != "10" {
		t.Fatalf("cached user = %q, %v", got, err)
	}

	// The cache answers even when the database row is gone.
	if _, err := db.Exec(`DELETE FROM user_tokens WHERE token = ?`, token); err != nil {
		t.Fatalf("delete row: %v", err)
	}
	if id, err := svc.ValidateToken(ctx, token); err != nil || id != 10 {
		t.Fatalf("ValidateToken via cache = %d, %v", id, err)
	}

	if err := svc.RevokeToken(ctx, token); err != nil {
		t.Fatalf("RevokeToken: %v", err)
	}
	if _, err := raw.Get(ctx, key).Result(); err == nil {
		t.Fatal("revoke left the cache entry behind")
	}
	if _, err := svc.ValidateToken(ctx, token); err == nil {
		t.Fatal("revoked token still validates")
	}
}

func newCacheClient(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("set TEST_REDIS_ADDR to run redis-backed auth tests")
	}
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatalf("split host port: %v", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("parse port: %v", err)
	}
	dbNum := 0
	if v := os.Getenv("TEST_REDIS_DB"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			dbNum = parsed
		}
	}
	cfg := &config.Config{Redis: config.RedisConfig{Host: host, Port: port, DB: dbNum}}
	client, err := redis.NewClient(cfg)
	if err != nil {
		t.Fatalf("redis client: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if raw := client.Raw(); raw != nil {
		if err := raw.FlushDB(ctx).Err(); err != nil {
			t.Fatalf("flush db: %v", err)
		}
	}
	t.Cleanup(func() { client.Close() })
	return client
}
