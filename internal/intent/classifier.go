// Package intent classifies user utterances and extracts build-log references.
package intent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ashureev/devops-qa/internal/domain"
	"github.com/ashureev/devops-qa/internal/llm"
)

const classifierSystemPrompt = `You are an intent classification assistant. Analyze the user's question and decide its intent type.

Pick exactly one of:
1. build - build problems: compilation errors, build failures, CI/CD builds, Jenkins builds, GitLab CI, build logs
2. general - everything else

Reply with only the intent type (build or general), nothing else.`

// Classifier maps a user utterance to a problem category via the model
// backend. Classification is fail-open: any backend error yields general,
// which merely skips log lookup instead of failing the request.
type Classifier struct {
	client llm.Client
}

// NewClassifier creates a classifier backed by the given model client.
func NewClassifier(client llm.Client) *Classifier {
	return &Classifier{client: client}
}

// Classify returns the intent for a user message. Never returns an error.
func (c *Classifier) Classify(ctx context.Context, text string) domain.Intent {
	resp, err := c.client.Complete(ctx, classifierSystemPrompt,
		fmt.Sprintf("User question: %s\n\nIntent type:", text))
	if err != nil {
		slog.Warn("Intent classification failed, defaulting to general", "error", err)
		return domain.IntentGeneral
	}

	if strings.Contains(strings.ToLower(resp), string(domain.IntentBuild)) {
		return domain.IntentBuild
	}
	return domain.IntentGeneral
}
