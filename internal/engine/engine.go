// Package engine implements the conversation workflow: a directed graph of
// processing stages driven by a small interpreter loop, with conditional
// routing and re-entrant wait states across turns.
package engine

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"strings"

	"github.com/ashureev/devops-qa/internal/buildlog"
	"github.com/ashureev/devops-qa/internal/domain"
	"github.com/ashureev/devops-qa/internal/intent"
	"github.com/ashureev/devops-qa/internal/llm"
	"github.com/ashureev/devops-qa/internal/store"
	"github.com/ashureev/devops-qa/internal/stream"
)

// IntentClassifier maps a user utterance to a problem category. Fail-open:
// implementations never return an error.
type IntentClassifier interface {
	Classify(ctx context.Context, text string) domain.Intent
}

// KnowledgeSearcher queries the knowledge corpus.
type KnowledgeSearcher interface {
	Search(query string, errorKeywords []string) []domain.KnowledgeMatch
}

// ResponseGenerator produces the final assistant answer for a state.
type ResponseGenerator interface {
	Generate(ctx context.Context, state *domain.ConversationState) (string, error)
}

// maxExtractRetries caps the extract -> request cycle within one run; after
// that the run exits waiting and the next turn re-enters the same stage.
const maxExtractRetries = 2

const requestBuildRefMessage = `I can see your problem is build-related. To help further, please share a build log reference: a link to the build log page, or the pipeline instance id (6 or more digits).

You can usually find it on your CI/CD platform:
- Jenkins build page
- GitLab CI/CD pipeline
- GitHub Actions run

Paste it here and I'll look up the related error details.`

// Engine runs the workflow graph over conversation state. Collaborators are
// injected once at construction; there is no ambient global state.
type Engine struct {
	repo       store.Repository
	classifier IntentClassifier
	lookup     buildlog.Client
	searcher   KnowledgeSearcher
	generator  ResponseGenerator
	streamer   *stream.Streamer
	gate       *sessionGate
}

// New creates a workflow engine with its collaborators.
func New(repo store.Repository, classifier IntentClassifier, lookup buildlog.Client,
	searcher KnowledgeSearcher, generator ResponseGenerator, streamer *stream.Streamer) *Engine {
	return &Engine{
		repo:       repo,
		classifier: classifier,
		lookup:     lookup,
		searcher:   searcher,
		generator:  generator,
		streamer:   streamer,
		gate:       newSessionGate(),
	}
}

// Run executes the graph over state as a lazy, finite sequence of stage
// results, one per stage actually executed. State is persisted after every
// stage; a save failure is logged, never fatal. The sequence is not
// restartable: each call performs a fresh traversal from the current state.
func (e *Engine) Run(ctx context.Context, state *domain.ConversationState) iter.Seq[StageResult] {
	return func(yield func(StageResult) bool) {
		extractAttempts := 0
		stage := StageClassifyIntent
		for {
			next := e.step(ctx, stage, state, &extractAttempts)
			e.persist(ctx, state, stage)
			if !yield(StageResult{Stage: stage, State: state}) {
				return
			}
			if next.terminal() {
				return
			}
			stage = next
		}
	}
}

// step runs one stage and returns the next one. No stage failure aborts the
// run: every external call degrades per its fail-open policy.
func (e *Engine) step(ctx context.Context, stage Stage, state *domain.ConversationState, extractAttempts *int) Stage {
	switch stage {
	case StageClassifyIntent:
		return e.classifyIntent(ctx, state)
	case StageRequestBuildReference:
		return e.requestBuildReference(state)
	case StageExtractBuildReference:
		return e.extractBuildReference(state, extractAttempts)
	case StageLookupErrors:
		return e.lookupErrors(ctx, state)
	case StageSearchKnowledge:
		return e.searchKnowledge(state)
	case StageGenerateResponse:
		return e.generateResponse(ctx, state)
	default:
		slog.Error("Unknown workflow stage, terminating run", "stage", stage, "session_id", state.SessionID)
		return stageDone
	}
}

func (e *Engine) classifyIntent(ctx context.Context, state *domain.ConversationState) Stage {
	switch {
	case strings.EqualFold(state.ProblemTypeHint, string(domain.IntentBuild)):
		// Caller already told us; skip the classifier call.
		state.CurrentIntent = domain.IntentBuild
	case state.WaitingForBuildRef && state.CurrentIntent == domain.IntentBuild:
		// Resuming a turn that is waiting for a build reference. The new
		// message is the reference itself, not a question worth classifying.
	default:
		if text := state.LatestUserMessage(); text != "" {
			state.CurrentIntent = e.classifier.Classify(ctx, text)
		} else if state.CurrentIntent == "" {
			state.CurrentIntent = domain.IntentGeneral
		}
	}

	slog.Info("Intent classified", "session_id", state.SessionID, "intent", state.CurrentIntent)

	if state.CurrentIntent == domain.IntentBuild {
		return StageRequestBuildReference
	}
	return StageSearchKnowledge
}

func (e *Engine) requestBuildReference(state *domain.ConversationState) Stage {
	// Unified acquisition policy: the explicit instance-id hint wins, then
	// the latest user message is scanned for a URL or bare instance id.
	if state.BuildLogRef == "" && state.BuildInstanceHint != "" {
		state.BuildLogRef = state.BuildInstanceHint
	}
	if state.BuildLogRef == "" {
		state.BuildLogRef = intent.ExtractBuildReference(state.LatestUserMessage())
	}

	if state.BuildLogRef != "" {
		state.WaitingForBuildRef = false
		state.AddMessage(domain.RoleAssistant,
			fmt.Sprintf("Got your build log reference: %s. Looking up the build errors now...", state.BuildLogRef))
		return StageExtractBuildReference
	}

	state.WaitingForBuildRef = true
	state.AddMessage(domain.RoleAssistant, requestBuildRefMessage)
	slog.Info("No build reference found, waiting for next turn", "session_id", state.SessionID)
	return stageWaiting
}

func (e *Engine) extractBuildReference(state *domain.ConversationState, attempts *int) Stage {
	// Re-derive from the latest message. Idempotent with the request stage;
	// guards against the reference having been set out-of-band.
	if state.BuildLogRef == "" {
		state.BuildLogRef = intent.ExtractBuildReference(state.LatestUserMessage())
	}

	if state.BuildLogRef != "" {
		return StageLookupErrors
	}

	*attempts++
	if *attempts >= maxExtractRetries {
		state.WaitingForBuildRef = true
		slog.Warn("Build reference extraction exhausted retries, waiting", "session_id", state.SessionID)
		return stageWaiting
	}
	return StageRequestBuildReference
}

func (e *Engine) lookupErrors(ctx context.Context, state *domain.ConversationState) Stage {
	errors, err := e.lookup.QueryErrors(ctx, state.BuildLogRef)
	if err != nil {
		// Best-effort backend: degrade to an empty result, keep going.
		slog.Warn("Build log lookup failed", "session_id", state.SessionID,
			"build_log_ref", state.BuildLogRef, "error", err)
		errors = nil
	}
	state.BuildErrors = errors
	slog.Info("Build errors looked up", "session_id", state.SessionID, "count", len(errors))
	return StageSearchKnowledge
}

func (e *Engine) searchKnowledge(state *domain.ConversationState) Stage {
	query := state.ProblemDescHint
	if query == "" {
		query = state.LatestUserMessage()
	}

	var errorKeywords []string
	if state.CurrentIntent == domain.IntentBuild {
		errorKeywords = state.BuildErrors
	}

	state.KnowledgeResults = e.searcher.Search(query, errorKeywords)
	slog.Info("Knowledge searched", "session_id", state.SessionID, "results", len(state.KnowledgeResults))
	return StageGenerateResponse
}

func (e *Engine) generateResponse(ctx context.Context, state *domain.ConversationState) Stage {
	answer, err := e.generator.Generate(ctx, state)
	if err != nil {
		slog.Error("Answer generation failed, substituting apology", "session_id", state.SessionID, "error", err)
		answer = llm.ApologyMessage
	}
	state.AddMessage(domain.RoleAssistant, answer)
	return stageDone
}

// persist saves the state after a stage. Persistence is best-effort within a
// run: the state already saved up to the last successful stage stays valid.
func (e *Engine) persist(ctx context.Context, state *domain.ConversationState, stage Stage) {
	if err := e.repo.SaveState(ctx, state); err != nil {
		slog.Warn("Failed to persist session state", "session_id", state.SessionID,
			"stage", stage, "error", err)
	}
}
