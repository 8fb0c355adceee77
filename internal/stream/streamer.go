// Package stream turns workflow progress into an ordered, transport-agnostic
// sequence of typed text fragments.
package stream

import (
	"context"
	"fmt"
	"iter"
	"time"
)

// FragmentKind distinguishes progress notices from answer content.
type FragmentKind string

const (
	// KindStatus is a short progress notice emitted as a stage completes.
	KindStatus FragmentKind = "status"
	// KindChunk is a fixed-size slice of the final answer.
	KindChunk FragmentKind = "chunk"
)

// Fragment is one element of the outbound stream.
type Fragment struct {
	Kind FragmentKind
	Text string
}

// progressNotices maps stage names to the short human-readable line emitted
// when the stage completes.
var progressNotices = map[string]string{
	"classify_intent":         "Identified your intent...",
	"request_build_reference": "Checked for a build log reference...",
	"extract_build_reference": "Extracted the build log reference...",
	"lookup_errors":           "Fetched build log error keywords...",
	"search_knowledge":        "Searched the knowledge base...",
	"generate_response":       "Drafted an answer...",
}

// Streamer produces the fragment stream consumed by every transport: one
// progress notice per executed stage, then the final answer split into
// fixed-size chunks with a small delay for a readable typing effect.
type Streamer struct {
	chunkSize  int
	chunkDelay time.Duration
}

// New creates a streamer. chunkSize must be positive; chunkDelay of zero
// disables pacing.
func New(chunkSize int, chunkDelay time.Duration) *Streamer {
	if chunkSize <= 0 {
		chunkSize = 50
	}
	return &Streamer{chunkSize: chunkSize, chunkDelay: chunkDelay}
}

// Stream consumes the lazy stage sequence and yields typed fragments. The
// answer callback is invoked only after the graph reaches a terminal state;
// when it returns an empty string (the waiting-for-input exit with nothing
// appended), no chunks follow the progress notices. The consumer pulls at
// its own pace; stopping early or cancelling ctx ends emission.
func (s *Streamer) Stream(ctx context.Context, stages iter.Seq[string], answer func() string) iter.Seq[Fragment] {
	return func(yield func(Fragment) bool) {
		for stage := range stages {
			if ctx.Err() != nil {
				return
			}
			notice, ok := progressNotices[stage]
			if !ok {
				notice = fmt.Sprintf("Working: %s...", stage)
			}
			if !yield(Fragment{Kind: KindStatus, Text: notice}) {
				return
			}
		}

		if ctx.Err() != nil {
			return
		}

		// Chunk by runes so multi-byte characters are never split.
		text := []rune(answer())
		for i := 0; i < len(text); i += s.chunkSize {
			end := i + s.chunkSize
			if end > len(text) {
				end = len(text)
			}
			if !yield(Fragment{Kind: KindChunk, Text: string(text[i:end])}) {
				return
			}
			if end < len(text) && s.chunkDelay > 0 {
				select {
				case <-ctx.Done():
					return
				case <-time.After(s.chunkDelay):
				}
			}
		}
	}
}
