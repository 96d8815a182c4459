package turn

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"

	"careerpilot/internal/models"
)

// Generator produces the assistant's reply for a routed turn, emitting
// stream events on out as it goes. The returned Result carries whatever
// messages were completed, even when err is non-nil, so a failed turn can
// still persist its partial output.
type Generator interface {
	Name() string
	Generate(ctx context.Context, t *Turn, out chan<- StreamEvent) (*Result, error)
}

// maxToolRounds bounds the model/tool loop so a model that keeps asking
// for tools cannot spin forever.
const maxToolRounds = 6

type llmGenerator struct {
	name    string
	model   model.ToolCallingChatModel
	profile Profile
	tools   map[string]tool.InvokableTool
}

// NewLLMGenerator builds a profile-driven generator. When tools are given
// the model is bound to their schemas up front; binding failure is a
// construction error, not a per-turn one.
func NewLLMGenerator(ctx context.Context, name string, m model.ToolCallingChatModel, profile Profile, tools []tool.InvokableTool) (Generator, error) {
	g := &llmGenerator{name: name, profile: profile, tools: map[string]tool.InvokableTool{}}
	if len(tools) == 0 {
		g.model = m
		return g, nil
	}
	infos := make([]*schema.ToolInfo, 0, len(tools))
	for _, tl := range tools {
		info, err := tl.Info(ctx)
		if err != nil {
			return nil, fmt.Errorf("tool info: %w", err)
		}
		infos = append(infos, info)
		g.tools[info.Name] = tl
	}
	bound, err := m.WithTools(infos)
	if err != nil {
		return nil, fmt.Errorf("bind tools: %w", err)
	}
	g.model = bound
	return g, nil
}

func (g *llmGenerator) Name() string { return g.name }

func (g *llmGenerator) Generate(ctx context.Context, t *Turn, out chan<- StreamEvent) (*Result, error) {
	if t.ToolApproval {
		return g.resumeApproved(ctx, t, out)
	}

	if g.profile.ShortCircuit != nil {
		if text, ok := g.profile.ShortCircuit(t); ok {
			out <- StreamEvent{Type: EventTextDelta, Text: text}
			return &Result{Messages: []*models.Message{g.newAssistantMessage(t, []models.Part{models.TextPart(text)})}}, nil
		}
	}

	history := buildContext(t, g.profile)
	parts, err := g.runRounds(ctx, t, history, out)
	result := &Result{}
	if len(parts) > 0 {
		result.Messages = append(result.Messages, g.newAssistantMessage(t, parts))
	}
	return result, err
}

// runRounds drives the model/tool loop, returning the assistant message
// parts accumulated so far. Parts already produced are returned even on
// error so they survive a mid-stream failure.
func (g *llmGenerator) runRounds(ctx context.Context, t *Turn, history []*schema.Message, out chan<- StreamEvent) ([]models.Part, error) {
	var parts []models.Part
	for round := 0; round < maxToolRounds; round++ {
		full, err := g.streamOnce(ctx, history, out)
		if err != nil {
			return parts, err
		}
		if full.Content != "" {
			parts = append(parts, models.TextPart(full.Content))
		}
		if len(full.ToolCalls) == 0 {
			return parts, nil
		}

		history = append(history, full)
		for i, call := range full.ToolCalls {
			args := json.RawMessage(call.Function.Arguments)
			out <- StreamEvent{
				Type:       EventToolCallStart,
				ToolCallID: call.ID,
				ToolName:   call.Function.Name,
				Arguments:  args,
			}

			if g.profile.ApprovalRequired[call.Function.Name] {
				// Execution stops here. Calls after the gated one have
				// not run either, so the whole tail is recorded as
				// pending; a later continuation turn resolves them all.
				parts = append(parts, pendingInvocation(call))
				for _, rest := range full.ToolCalls[i+1:] {
					out <- StreamEvent{
						Type:       EventToolCallStart,
						ToolCallID: rest.ID,
						ToolName:   rest.Function.Name,
						Arguments:  json.RawMessage(rest.Function.Arguments),
					}
					parts = append(parts, pendingInvocation(rest))
				}
				return parts, nil
			}

			result, isErr := g.invoke(ctx, call.Function.Name, string(args))
			out <- StreamEvent{
				Type:       EventToolCallResult,
				ToolCallID: call.ID,
				ToolName:   call.Function.Name,
				Result:     json.RawMessage(result),
				IsError:    isErr,
			}
			parts = append(parts, models.Part{
				Type:       models.PartTypeToolInvocation,
				ToolCallID: call.ID,
				ToolName:   call.Function.Name,
				Arguments:  args,
				State:      models.ToolStateResult,
				Result:     json.RawMessage(result),
			})
			history = append(history, schema.ToolMessage(result, call.ID))
		}
	}
	return parts, errors.New("tool round limit reached")
}

// streamOnce runs one model call, forwarding deltas and returning the
// concatenated message.
func (g *llmGenerator) streamOnce(ctx context.Context, history []*schema.Message, out chan<- StreamEvent) (*schema.Message, error) {
	sr, err := g.model.Stream(ctx, history)
	if err != nil {
		return nil, fmt.Errorf("model stream: %w", err)
	}
	defer sr.Close()

	var chunks []*schema.Message
	for {
		chunk, err := sr.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("model recv: %w", err)
		}
		if chunk.ReasoningContent != "" {
			out <- StreamEvent{Type: EventReasoningDelta, Text: chunk.ReasoningContent}
		}
		if chunk.Content != "" {
			out <- StreamEvent{Type: EventTextDelta, Text: chunk.Content}
		}
		chunks = append(chunks, chunk)
	}
	if len(chunks) == 0 {
		return &schema.Message{Role: schema.Assistant}, nil
	}
	full, err := schema.ConcatMessages(chunks)
	if err != nil {
		return nil, fmt.Errorf("concat chunks: %w", err)
	}
	return full, nil
}

// invoke runs one tool synchronously. A missing or failing tool never
// fails the turn: the error is rendered as a JSON result the model (and
// the client) can see.
func (g *llmGenerator) invoke(ctx context.Context, name, args string) (result string, isErr bool) {
	tl, ok := g.tools[name]
	if !ok {
		return toolErrorJSON(fmt.Sprintf("unknown tool %q", name)), true
	}
	out, err := tl.InvokableRun(ctx, args)
	if err != nil {
		log.Printf("generator %s: tool %s failed: %v", g.name, name, err)
		return toolErrorJSON(err.Error()), true
	}
	return out, false
}

func pendingInvocation(call schema.ToolCall) models.Part {
	return models.Part{
		Type:       models.PartTypeToolInvocation,
		ToolCallID: call.ID,
		ToolName:   call.Function.Name,
		Arguments:  json.RawMessage(call.Function.Arguments),
		State:      models.ToolStatePending,
	}
}

func toolErrorJSON(msg string) string {
	b, _ := json.Marshal(map[string]string{"error": msg})
	return string(b)
}

// resumeApproved handles a tool-approval continuation: execute the pending
// invocations of the last assistant message in place, then generate the
// follow-up reply with the results in context.
func (g *llmGenerator) resumeApproved(ctx context.Context, t *Turn, out chan<- StreamEvent) (*Result, error) {
	pending := lastPendingMessage(t.Messages)
	if pending == nil {
		// Nothing to resume; treat as an ordinary turn.
		derived := t.WithMessages(t.Messages)
		derived.ToolApproval = false
		return g.Generate(ctx, derived, out)
	}

	updated := *pending
	updated.Parts = pending.ClonedParts()
	for i, part := range updated.Parts {
		if part.Type != models.PartTypeToolInvocation || part.State != models.ToolStatePending {
			continue
		}
		result, isErr := g.invoke(ctx, part.ToolName, string(part.Arguments))
		out <- StreamEvent{
			Type:       EventToolCallResult,
			ToolCallID: part.ToolCallID,
			ToolName:   part.ToolName,
			Result:     json.RawMessage(result),
			IsError:    isErr,
		}
		updated.Parts[i].State = models.ToolStateResult
		updated.Parts[i].Result = json.RawMessage(result)
	}

	// Rebuild the context with the resolved invocations so the follow-up
	// generation sees the tool results.
	rewritten := make([]*models.Message, len(t.Messages))
	for i, m := range t.Messages {
		if m == pending {
			rewritten[i] = &updated
		} else {
			rewritten[i] = m
		}
	}
	derived := t.WithMessages(rewritten)
	history := buildContext(derived, g.profile)

	parts, err := g.runRounds(ctx, t, history, out)
	result := &Result{Messages: []*models.Message{&updated}}
	if len(parts) > 0 {
		result.Messages = append(result.Messages, g.newAssistantMessage(t, parts))
	}
	return result, err
}

func lastPendingMessage(msgs []*models.Message) *models.Message {
	for i := len(msgs) - 1; i >= 0; i-- {
		m := msgs[i]
		if m == nil || m.Role != models.RoleAssistant {
			continue
		}
		for _, p := range m.Parts {
			if p.Type == models.PartTypeToolInvocation && p.State == models.ToolStatePending {
				return m
			}
		}
		return nil
	}
	return nil
}

func (g *llmGenerator) newAssistantMessage(t *Turn, parts []models.Part) *models.Message {
	return &models.Message{
		ID:     uuid.NewString(),
		UserID: t.UserID,
		ChatID: t.ChatID,
		Role:   models.RoleAssistant,
		Parts:  parts,
	}
}

// buildContext renders the turn's history as model messages. The profile's
// system prompt leads; a primer exchange is prepended only on the chat's
// first user message.
func buildContext(t *Turn, p Profile) []*schema.Message {
	msgs := []*schema.Message{schema.SystemMessage(p.SystemPrompt)}
	if p.Primer != nil && t.UserMessageCount() <= 1 {
		msgs = append(msgs, p.Primer(t)...)
	}
	for _, m := range t.Messages {
		msgs = append(msgs, messageToSchema(m)...)
	}
	return msgs
}

// messageToSchema flattens one stored message into model messages. An
// assistant message with tool invocation parts expands into the original
// call plus its tool results.
func messageToSchema(m *models.Message) []*schema.Message {
	if m == nil {
		return nil
	}
	switch m.Role {
	case models.RoleUser:
		var b strings.Builder
		for _, p := range m.Parts {
			switch p.Type {
			case models.PartTypeText:
				if b.Len() > 0 && p.Text != "" {
					b.WriteString("\n")
				}
				b.WriteString(p.Text)
			case models.PartTypeFile:
				if b.Len() > 0 {
					b.WriteString("\n")
				}
				fmt.Fprintf(&b, "[attached file: %s]", p.Filename)
			}
		}
		return []*schema.Message{schema.UserMessage(b.String())}

	case models.RoleAssistant:
		assistant := &schema.Message{Role: schema.Assistant, Content: m.PlainText()}
		var toolMsgs []*schema.Message
		for _, p := range m.Parts {
			if p.Type != models.PartTypeToolInvocation {
				continue
			}
			assistant.ToolCalls = append(assistant.ToolCalls, schema.ToolCall{
				ID: p.ToolCallID,
				Function: schema.FunctionCall{
					Name:      p.ToolName,
					Arguments: string(p.Arguments),
				},
			})
			if p.State == models.ToolStateResult {
				toolMsgs = append(toolMsgs, schema.ToolMessage(string(p.Result), p.ToolCallID))
			}
		}
		return append([]*schema.Message{assistant}, toolMsgs...)

	default:
		return nil
	}
}
