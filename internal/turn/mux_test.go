package turn

import (
	"errors"
	"testing"
)

func TestMuxPreservesSourceOrder(t *testing.T) {
	var got []string
	mux := NewMux(func(ev StreamEvent) error {
		got = append(got, ev.Text)
		return nil
	})

	src := make(chan StreamEvent, 8)
	for _, text := range []string{"a", "b", "c", "d"} {
		src <- StreamEvent{Type: EventTextDelta, Text: text}
	}
	close(src)
	mux.Forward(src)

	want := []string{"a", "b", "c", "d"}
	if len(got) != len(want) {
		t.Fatalf("emitted %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("emitted %v, want %v", got, want)
		}
	}
}

func TestMuxDrainsAfterConsumerLoss(t *testing.T) {
	emitted := 0
	mux := NewMux(func(ev StreamEvent) error {
		emitted++
		if emitted >= 2 {
			return errors.New("client went away")
		}
		return nil
	})

	src := make(chan StreamEvent, 8)
	for i := 0; i < 6; i++ {
		src <- StreamEvent{Type: EventTextDelta, Text: "x"}
	}
	close(src)

	// Forward must return normally, having consumed every event even
	// though emission stopped after the failure.
	mux.Forward(src)
	if emitted != 2 {
		t.Fatalf("emit called %d times, want 2 (stop after first failure)", emitted)
	}
	if _, ok := <-src; ok {
		t.Fatal("source not fully drained")
	}
}

func TestMuxInjectInterleavesTitle(t *testing.T) {
	var got []StreamEvent
	mux := NewMux(func(ev StreamEvent) error {
		got = append(got, ev)
		return nil
	})
	mux.Inject(StreamEvent{Type: EventTitle, Title: "Resume review"})

	src := make(chan StreamEvent, 2)
	src <- StreamEvent{Type: EventTextDelta, Text: "hello"}
	close(src)
	mux.Forward(src)

	var sawTitle, sawText bool
	for _, ev := range got {
		switch ev.Type {
		case EventTitle:
			sawTitle = ev.Title == "Resume review"
		case EventTextDelta:
			sawText = true
		}
	}
	if !sawText {
		t.Fatal("source event lost")
	}
	if !sawTitle {
		t.Fatal("injected title never emitted")
	}
}

func TestMuxInjectNeverBlocks(t *testing.T) {
	mux := NewMux(func(StreamEvent) error { return nil })
	// No Forward running and a tiny buffer: extra injects must drop, not block.
	for i := 0; i < 100; i++ {
		mux.Inject(StreamEvent{Type: EventTitle, Title: "t"})
	}
}
