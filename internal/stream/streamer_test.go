package stream

import (
	"context"
	"iter"
	"strings"
	"testing"
)

func stagesOf(names ...string) iter.Seq[string] {
	return func(yield func(string) bool) {
		for _, n := range names {
			if !yield(n) {
				return
			}
		}
	}
}

func collect(t *testing.T, seq iter.Seq[Fragment]) []Fragment {
	t.Helper()
	var out []Fragment
	for f := range seq {
		out = append(out, f)
	}
	return out
}

func TestStreamNoticesThenChunks(t *testing.T) {
	s := New(10, 0)
	answer := strings.Repeat("abcde", 5) // 25 chars -> 3 chunks of 10/10/5

	fragments := collect(t, s.Stream(context.Background(),
		stagesOf("classify_intent", "search_knowledge", "generate_response"),
		func() string { return answer }))

	if len(fragments) != 6 {
		t.Fatalf("Expected 6 fragments, got %d", len(fragments))
	}
	for i := 0; i < 3; i++ {
		if fragments[i].Kind != KindStatus {
			t.Errorf("Fragment %d: expected status, got %q", i, fragments[i].Kind)
		}
	}

	var rebuilt strings.Builder
	for _, f := range fragments[3:] {
		if f.Kind != KindChunk {
			t.Errorf("Expected chunk fragment, got %q", f.Kind)
		}
		rebuilt.WriteString(f.Text)
	}
	if rebuilt.String() != answer {
		t.Errorf("Reassembled answer mismatch: got %q", rebuilt.String())
	}
	if len(fragments[3].Text) != 10 || len(fragments[5].Text) != 5 {
		t.Errorf("Unexpected chunk sizes: %d, %d", len(fragments[3].Text), len(fragments[5].Text))
	}
}

func TestStreamUnknownStageGetsGenericNotice(t *testing.T) {
	s := New(50, 0)
	fragments := collect(t, s.Stream(context.Background(),
		stagesOf("mystery_stage"), func() string { return "" }))

	if len(fragments) != 1 {
		t.Fatalf("Expected 1 fragment, got %d", len(fragments))
	}
	if !strings.Contains(fragments[0].Text, "mystery_stage") {
		t.Errorf("Expected generic notice to name the stage, got %q", fragments[0].Text)
	}
}

func TestStreamEmptyAnswerEmitsNoChunks(t *testing.T) {
	s := New(50, 0)
	fragments := collect(t, s.Stream(context.Background(),
		stagesOf("classify_intent", "request_build_reference"),
		func() string { return "" }))

	for _, f := range fragments {
		if f.Kind == KindChunk {
			t.Errorf("Expected no chunks for empty answer, got %q", f.Text)
		}
	}
	if len(fragments) != 2 {
		t.Errorf("Expected 2 status fragments, got %d", len(fragments))
	}
}

func TestStreamMultiByteAnswerKeepsRunesWhole(t *testing.T) {
	s := New(2, 0)
	answer := "héllo wörld"

	fragments := collect(t, s.Stream(context.Background(), stagesOf(),
		func() string { return answer }))

	var rebuilt strings.Builder
	for _, f := range fragments {
		if !strings.Contains(answer, f.Text) {
			t.Errorf("Chunk %q split a rune", f.Text)
		}
		rebuilt.WriteString(f.Text)
	}
	if rebuilt.String() != answer {
		t.Errorf("Reassembled answer mismatch: got %q", rebuilt.String())
	}
}

func TestStreamCancelledContextStopsEmission(t *testing.T) {
	s := New(10, 0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	fragments := collect(t, s.Stream(ctx, stagesOf("classify_intent"),
		func() string { return "never delivered" }))

	if len(fragments) != 0 {
		t.Errorf("Expected no fragments after cancellation, got %d", len(fragments))
	}
}

func TestStreamConsumerCanStopEarly(t *testing.T) {
	s := New(1, 0)
	seen := 0
	for range s.Stream(context.Background(), stagesOf(), func() string { return "abcdef" }) {
		seen++
		if seen == 2 {
			break
		}
	}
	if seen != 2 {
		t.Errorf("Expected to stop after 2 fragments, got %d", seen)
	}
}
