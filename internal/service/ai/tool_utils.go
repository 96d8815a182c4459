package ai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	WebSearchHTTPTimeout = 10 * time.Second
	WeatherHTTPTimeout   = 8 * time.Second
)

type toolSessionContextKey struct{}

type toolSession struct {
	UserID int64
	ChatID int64
}

// WithToolSession binds the owning user/chat to the context so tools
// executed mid-stream can act on the caller's behalf.
func WithToolSession(ctx context.Context, userID, chatID int64) context.Context {
	if userID <= 0 {
		return ctx
	}
	return context.WithValue(ctx, toolSessionContextKey{}, toolSession{UserID: userID, ChatID: chatID})
}

// ToolSessionFromContext extracts the bound user/chat ids.
func ToolSessionFromContext(ctx context.Context) (int64, int64, bool) {
	val := ctx.Value(toolSessionContextKey{})
	if val == nil {
		return 0, 0, false
	}
	meta, ok := val.(toolSession)
	if !ok {
		return 0, 0, false
	}
	return meta.UserID, meta.ChatID, true
}

func (w *webSearchTool) fetchURL(ctx context.Context, target string) (string, error) {
	parsed, err := url.Parse(target)
	if err != nil {
		return "", fmt.Errorf("invalid url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", errors.New("unsupported url scheme")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, parsed.String(), nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", "CareerPilot-WebSearch/1.0")

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch url: %s", resp.Status)
	}

	const maxBodySize = 512 * 1024
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return "", err
	}

	return string(body), nil
}

func looksLikeURL(input string) bool {
	lower := strings.ToLower(input)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}
