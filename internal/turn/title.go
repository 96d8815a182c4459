package turn

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

const titlePrompt = `Write a short title (at most six words, no quotes, no trailing
punctuation) for a chat that starts with the following message. Answer in the
message's language.`

const maxTitleRunes = 60

// titleTimeout bounds the detached title task once it no longer answers
// to the turn's context.
const titleTimeout = 30 * time.Second

// TitleGenerator names a new chat from its first user message. It runs as
// a detached task alongside the main pipeline: its only outputs are a
// database update and an opportunistic title event on the mux, and every
// failure is swallowed after logging.
type TitleGenerator struct {
	model model.BaseChatModel
	store Store
}

func NewTitleGenerator(m model.BaseChatModel, store Store) *TitleGenerator {
	return &TitleGenerator{model: m, store: store}
}

// Run generates, persists and announces the title. Callers start it in
// its own goroutine.
func (g *TitleGenerator) Run(ctx context.Context, t *Turn, mux *Mux) {
	latest := t.LatestUserMessage()
	if latest == nil || g.model == nil {
		return
	}
	text := strings.TrimSpace(latest.PlainText())
	if text == "" {
		return
	}

	// The turn's context is cancelled the moment the pipeline returns,
	// and a short turn can finish before the title round trip does. The
	// task keeps the context values but takes its own deadline.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), titleTimeout)
	defer cancel()

	reply, err := g.model.Generate(ctx, []*schema.Message{
		schema.SystemMessage(titlePrompt),
		schema.UserMessage(text),
	})
	if err != nil {
		log.Printf("title: generation failed for chat %d: %v", t.ChatID, err)
		return
	}
	title := cleanTitle(reply.Content)
	if title == "" {
		return
	}

	if err := g.store.UpdateChatTitle(ctx, t.UserID, t.ChatID, title); err != nil {
		log.Printf("title: persist failed for chat %d: %v", t.ChatID, err)
		return
	}
	mux.Inject(StreamEvent{Type: EventTitle, Title: title})
}

func cleanTitle(raw string) string {
	title := strings.TrimSpace(raw)
	title = strings.Trim(title, "\"'“”")
	if i := strings.Index(title, "\n"); i >= 0 {
		title = title[:i]
	}
	runes := []rune(title)
	if len(runes) > maxTitleRunes {
		title = string(runes[:maxTitleRunes])
	}
	return strings.TrimSpace(title)
}
