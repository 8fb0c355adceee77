// Package llm provides the model-backend client used for classification
// and answer generation.
package llm

import "context"

// Client is the boundary to the model backend. Implementations must honor
// context cancellation and deadlines.
type Client interface {
	// Complete sends a system instruction and a user prompt and returns the
	// generated text.
	Complete(ctx context.Context, system, user string) (string, error)
}

// ApologyMessage is the fixed assistant reply substituted when answer
// generation fails. The run still completes; the failure is never surfaced
// as an error to the caller.
const ApologyMessage = "Sorry, I can't answer that right now. Please try again in a moment."
