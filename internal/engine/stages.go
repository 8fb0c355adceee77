package engine

import "github.com/ashureev/devops-qa/internal/domain"

// Stage names the nodes of the workflow graph.
type Stage string

const (
	// StageClassifyIntent decides whether the question is build-related.
	StageClassifyIntent Stage = "classify_intent"
	// StageRequestBuildReference acquires a build-log locator or asks for one.
	StageRequestBuildReference Stage = "request_build_reference"
	// StageExtractBuildReference re-derives the locator from the latest message.
	StageExtractBuildReference Stage = "extract_build_reference"
	// StageLookupErrors fetches error keywords for the build-log reference.
	StageLookupErrors Stage = "lookup_errors"
	// StageSearchKnowledge queries the knowledge corpus.
	StageSearchKnowledge Stage = "search_knowledge"
	// StageGenerateResponse produces the final assistant answer.
	StageGenerateResponse Stage = "generate_response"
)

// Terminal outcomes. Both are valid graph completions, not errors: waiting
// means the session needs the next caller turn to supply missing input.
const (
	stageDone    Stage = "done"
	stageWaiting Stage = "waiting"
)

func (s Stage) terminal() bool {
	return s == stageDone || s == stageWaiting
}

// StageResult is one entry of the lazy execution sequence: the stage that
// just ran and a view of the state after it.
type StageResult struct {
	Stage Stage
	State *domain.ConversationState
}
