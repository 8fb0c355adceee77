package llm

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/ashureev/devops-qa/internal/domain"
)

type recordingClient struct {
	lastSystem string
	lastUser   string
	response   string
	err        error
}

func (c *recordingClient) Complete(ctx context.Context, system, user string) (string, error) {
	c.lastSystem = system
	c.lastUser = user
	return c.response, c.err
}

func buildTestState() *domain.ConversationState {
	state := domain.NewConversationState("s1")
	state.AddMessage(domain.RoleUser, "my build failed")
	state.CurrentIntent = domain.IntentBuild
	state.BuildErrors = []string{"BUILD FAILED", "Missing dependency"}
	state.KnowledgeResults = []domain.KnowledgeMatch{
		{Category: "build_error", Question: "What should I do when a build fails?", Answer: "Check the log.", MatchedKeyword: "BUILD FAILED"},
		{Category: "build_error", Question: "q2", Answer: "a2", MatchedKeyword: "Missing dependency"},
		{Category: "build_error", Question: "q3", Answer: "a3", MatchedKeyword: "x"},
		{Category: "build_error", Question: "q4-over-cap", Answer: "a4", MatchedKeyword: "y"},
	}
	return state
}

func TestGenerateComposesContext(t *testing.T) {
	client := &recordingClient{response: "Do this."}
	g := NewGenerator(client, 10)

	answer, err := g.Generate(context.Background(), buildTestState())
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if answer != "Do this." {
		t.Errorf("Unexpected answer: %q", answer)
	}

	for _, want := range []string{
		"Build log error keywords: BUILD FAILED, Missing dependency",
		"What should I do when a build fails?",
		"Conversation history:",
		"User question: my build failed",
	} {
		if !strings.Contains(client.lastUser, want) {
			t.Errorf("Expected prompt to contain %q, got:\n%s", want, client.lastUser)
		}
	}
	if strings.Contains(client.lastUser, "q4-over-cap") {
		t.Error("Expected knowledge snippets capped at 3")
	}
}

func TestGeneratePrefersProblemDescription(t *testing.T) {
	client := &recordingClient{response: "ok"}
	g := NewGenerator(client, 10)

	state := buildTestState()
	state.ProblemDescHint = "npm install fails in CI"

	if _, err := g.Generate(context.Background(), state); err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if !strings.Contains(client.lastUser, "User question: npm install fails in CI") {
		t.Errorf("Expected problem description as question, got:\n%s", client.lastUser)
	}
}

func TestGeneratePropagatesError(t *testing.T) {
	client := &recordingClient{err: errors.New("backend down")}
	g := NewGenerator(client, 10)

	if _, err := g.Generate(context.Background(), buildTestState()); err == nil {
		t.Error("Expected error from backend failure")
	}
}

func TestGeneratorHistoryWindowBoundsPrompt(t *testing.T) {
	client := &recordingClient{response: "ok"}
	g := NewGenerator(client, 2)

	state := domain.NewConversationState("s1")
	state.AddMessage(domain.RoleUser, "oldest message")
	state.AddMessage(domain.RoleAssistant, "middle message")
	state.AddMessage(domain.RoleUser, "newest message")

	if _, err := g.Generate(context.Background(), state); err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if strings.Contains(client.lastUser, "oldest message") {
		t.Error("Expected history window to drop the oldest message")
	}
	if !strings.Contains(client.lastUser, "newest message") {
		t.Error("Expected newest message in prompt")
	}
}
