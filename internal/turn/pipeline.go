package turn

import (
	"context"
	"log"
)

// fatalApology is appended to the stream when generation fails outright,
// so the client never sees a raw error in place of a reply.
const fatalApology = "Sorry, something went wrong while generating this reply. Please try again."

// Pipeline wires the turn stages together: preprocess, classify, route,
// generate, multiplex, reconcile. Run executes on the caller's goroutine;
// only title generation is detached.
type Pipeline struct {
	preprocessor *Preprocessor
	classifier   *Classifier
	registry     *Registry
	reconciler   *Reconciler
	titles       *TitleGenerator
}

func NewPipeline(pre *Preprocessor, cls *Classifier, reg *Registry, rec *Reconciler, titles *TitleGenerator) *Pipeline {
	return &Pipeline{
		preprocessor: pre,
		classifier:   cls,
		registry:     reg,
		reconciler:   rec,
		titles:       titles,
	}
}

// Run drives one turn end to end. The stages before generation run
// strictly in order; the stream is forwarded as it is produced; the
// result is persisted after the stream completes, whether or not the
// client is still listening. The returned error reports generation
// failure only; persistence problems are logged, never surfaced.
func (p *Pipeline) Run(ctx context.Context, t *Turn, emit EmitFunc) error {
	mux := NewMux(emit)

	if p.titles != nil && !t.ToolApproval && t.UserMessageCount() <= 1 {
		go p.titles.Run(ctx, t, mux)
	}

	prepared := t.WithMessages(p.preprocessor.Run(ctx, t.Messages))

	var gen Generator
	if t.ToolApproval {
		// A continuation must reach the generator that paused for
		// approval; only the default chat profile gates tools.
		// Re-classifying could flip the intent and strand the pending
		// invocation with a generator that cannot run it.
		gen = p.registry.Lookup(GeneratorChat)
		log.Printf("turn: chat %d approval continuation -> %s", t.ChatID, gen.Name())
	} else {
		cls := p.classifier.Classify(ctx, prepared)
		gen = p.registry.Lookup(RouteIntent(cls.Intent))
		log.Printf("turn: chat %d intent %s (%.2f) -> %s", t.ChatID, cls.Intent, cls.Confidence, gen.Name())
	}

	events := make(chan StreamEvent, 16)
	var (
		res    *Result
		genErr error
	)
	go func() {
		defer close(events)
		res, genErr = gen.Generate(ctx, prepared, events)
	}()
	mux.Forward(events)

	if genErr != nil {
		log.Printf("turn: chat %d generation failed: %v", t.ChatID, genErr)
		mux.Send(StreamEvent{Type: EventTextDelta, Text: fatalApology})
		mux.Send(StreamEvent{Type: EventError, Message: "generation failed"})
	}

	if err := p.reconciler.Persist(ctx, prepared, res); err != nil {
		log.Printf("turn: chat %d persist failed: %v", t.ChatID, err)
	}
	return genErr
}
