package turn

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"

	"careerpilot/internal/models"
)

// fakeModel replays scripted responses. Each call to Generate or Stream
// consumes the next entry of replies; Stream delivers the entry's chunks
// one by one.
type fakeModel struct {
	mu      sync.Mutex
	replies [][]*schema.Message
	err     error
	calls   [][]*schema.Message
}

func (f *fakeModel) next(input []*schema.Message) ([]*schema.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, input)
	if f.err != nil {
		return nil, f.err
	}
	if len(f.replies) == 0 {
		return nil, errors.New("fakeModel: no scripted reply left")
	}
	reply := f.replies[0]
	f.replies = f.replies[1:]
	return reply, nil
}

func (f *fakeModel) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeModel) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	chunks, err := f.next(input)
	if err != nil {
		return nil, err
	}
	return schema.ConcatMessages(chunks)
}

func (f *fakeModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	chunks, err := f.next(input)
	if err != nil {
		return nil, err
	}
	sr, sw := schema.Pipe[*schema.Message](len(chunks))
	for _, c := range chunks {
		sw.Send(c, nil)
	}
	sw.Close()
	return sr, nil
}

func (f *fakeModel) WithTools(tools []*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	return f, nil
}

func textChunk(text string) *schema.Message {
	return &schema.Message{Role: schema.Assistant, Content: text}
}

func toolCallChunk(id, name, args string) *schema.Message {
	idx := 0
	return &schema.Message{
		Role: schema.Assistant,
		ToolCalls: []schema.ToolCall{{
			Index:    &idx,
			ID:       id,
			Function: schema.FunctionCall{Name: name, Arguments: args},
		}},
	}
}

// fakeTool answers with a fixed payload and records invocations.
type fakeTool struct {
	name   string
	result string
	err    error

	mu   sync.Mutex
	args []string
}

func (f *fakeTool) Info(ctx context.Context) (*schema.ToolInfo, error) {
	return &schema.ToolInfo{
		Name:        f.name,
		Desc:        "test tool",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{}),
	}, nil
}

func (f *fakeTool) InvokableRun(ctx context.Context, arguments string, opts ...tool.Option) (string, error) {
	f.mu.Lock()
	f.args = append(f.args, arguments)
	f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	return f.result, nil
}

func (f *fakeTool) invocations() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.args)
}

var _ tool.InvokableTool = (*fakeTool)(nil)

// fakeStore records reconciler writes in memory.
type fakeStore struct {
	mu        sync.Mutex
	inserted  []*models.Message
	updated   map[string][]models.Part
	titles    map[int64]string
	insertErr error
	updateErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{updated: map[string][]models.Part{}, titles: map[int64]string{}}
}

func (s *fakeStore) InsertMessages(ctx context.Context, chatID int64, msgs []*models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.insertErr != nil {
		return s.insertErr
	}
	s.inserted = append(s.inserted, msgs...)
	return nil
}

func (s *fakeStore) UpdateMessageParts(ctx context.Context, messageID string, parts []models.Part) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.updateErr != nil {
		return s.updateErr
	}
	s.updated[messageID] = parts
	return nil
}

func (s *fakeStore) UpdateChatTitle(ctx context.Context, userID, chatID int64, title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.titles[chatID] = title
	return nil
}

func (s *fakeStore) title(chatID int64) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.titles[chatID]
}

// fakeExtractor maps sources to extractions and counts calls per source.
type fakeExtractor struct {
	mu      sync.Mutex
	texts   map[string]string
	err     error
	callsBy map[string]int
}

func newFakeExtractor() *fakeExtractor {
	return &fakeExtractor{texts: map[string]string{}, callsBy: map[string]int{}}
}

func (e *fakeExtractor) Extract(ctx context.Context, source string) (*Extraction, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.callsBy[source]++
	if e.err != nil {
		return nil, e.err
	}
	text, ok := e.texts[source]
	if !ok {
		return nil, errors.New("fakeExtractor: unknown source " + source)
	}
	return &Extraction{Text: text, PageCount: 1}, nil
}

// scriptedGenerator emits canned events and returns a canned result.
type scriptedGenerator struct {
	name   string
	events []StreamEvent
	result *Result
	err    error

	mu    sync.Mutex
	turns []*Turn
}

func (g *scriptedGenerator) Name() string { return g.name }

func (g *scriptedGenerator) Generate(ctx context.Context, t *Turn, out chan<- StreamEvent) (*Result, error) {
	g.mu.Lock()
	g.turns = append(g.turns, t)
	g.mu.Unlock()
	for _, ev := range g.events {
		out <- ev
	}
	return g.result, g.err
}

// collectEvents runs a generator and gathers its stream.
func collectEvents(g Generator, t *Turn) ([]StreamEvent, *Result, error) {
	out := make(chan StreamEvent, 64)
	var (
		res *Result
		err error
	)
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer close(out)
		res, err = g.Generate(context.Background(), t, out)
	}()
	var events []StreamEvent
	for ev := range out {
		events = append(events, ev)
	}
	<-done
	return events, res, err
}

func userTurn(texts ...string) *Turn {
	t := &Turn{UserID: 1, ChatID: 42}
	for i, text := range texts {
		t.Messages = append(t.Messages, &models.Message{
			ID:     "msg-" + string(rune('a'+i)),
			UserID: 1,
			ChatID: 42,
			Role:   models.RoleUser,
			Parts:  []models.Part{models.TextPart(text)},
		})
	}
	return t
}

func classificationJSON(intent Intent, confidence float64) string {
	b, _ := json.Marshal(Classification{Intent: intent, Confidence: confidence})
	return string(b)
}
