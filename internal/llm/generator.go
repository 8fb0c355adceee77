package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/ashureev/devops-qa/internal/domain"
)

const generatorSystemPrompt = `You are a technical support assistant helping users resolve engineering problems, especially CI/CD build failures.

Your answers should:
1. Be accurate, professional, and easy to follow
2. Build on the supplied knowledge base snippets
3. Address the user's specific question
4. Offer practical, actionable steps
5. Fall back to general advice when the knowledge base has no coverage

Keep a friendly, professional tone.`

// maxKnowledgeSnippets caps how many corpus hits are folded into the prompt.
const maxKnowledgeSnippets = 3

// Generator composes a context bundle from conversation state and asks the
// model backend for a final answer.
type Generator struct {
	client        Client
	historyWindow int
}

// NewGenerator creates a response generator. historyWindow bounds how many
// trailing messages are included in the prompt.
func NewGenerator(client Client, historyWindow int) *Generator {
	return &Generator{client: client, historyWindow: historyWindow}
}

// Generate produces the assistant answer for the current state. The caller
// decides what to do on error; the run itself must not fail.
func (g *Generator) Generate(ctx context.Context, state *domain.ConversationState) (string, error) {
	question := state.ProblemDescHint
	if question == "" {
		question = state.LatestUserMessage()
	}

	bundle := g.formatContext(state)
	user := fmt.Sprintf("Context:\n%s\n\nUser question: %s", bundle, question)

	answer, err := g.client.Complete(ctx, generatorSystemPrompt, user)
	if err != nil {
		return "", fmt.Errorf("generate response: %w", err)
	}
	return answer, nil
}

func (g *Generator) formatContext(state *domain.ConversationState) string {
	var parts []string

	if state.ProblemDescHint != "" {
		parts = append(parts, "Problem description: "+state.ProblemDescHint)
	}

	if state.CurrentIntent == domain.IntentBuild && len(state.BuildErrors) > 0 {
		parts = append(parts, "Build log error keywords: "+strings.Join(state.BuildErrors, ", "))
	}

	if len(state.KnowledgeResults) > 0 {
		parts = append(parts, "Relevant knowledge:")
		for i, result := range state.KnowledgeResults {
			if i >= maxKnowledgeSnippets {
				break
			}
			parts = append(parts, fmt.Sprintf("%d. Q: %s", i+1, result.Question))
			parts = append(parts, fmt.Sprintf("   A: %s", result.Answer))
		}
	}

	if len(state.Messages) > 0 {
		parts = append(parts, "Conversation history:")
		parts = append(parts, state.RecentContext(g.historyWindow))
	}

	return strings.Join(parts, "\n")
}
