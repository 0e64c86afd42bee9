package flowgen

import (
	"github.com/randalmurphal/flowgen/pkg/flowgen/search"
)

// GenerationRequest is one request to generate a workflow.
//
// Endpoint and Token are accepted from clients that want to deploy the
// result themselves. They are carried for the caller and never change the
// pipeline.
type GenerationRequest struct {
	Prompt   string `json:"prompt"`
	Endpoint string `json:"endpoint,omitempty"`
	Token    string `json:"token,omitempty"`
}

// Step names a pipeline stage.
type Step string

// Pipeline stages, in execution order.
const (
	StepExtractKeywords  Step = "extract_keywords"
	StepSearchNodes      Step = "search_nodes"
	StepFetchNodes       Step = "fetch_nodes"
	StepParseNodes       Step = "parse_nodes"
	StepGenerateWorkflow Step = "generate_workflow"
)

// Steps lists every stage in execution order.
var Steps = []Step{
	StepExtractKeywords,
	StepSearchNodes,
	StepFetchNodes,
	StepParseNodes,
	StepGenerateWorkflow,
}

// Status is a stage transition.
type Status string

// Stage transitions.
const (
	StatusStarted   Status = "started"
	StatusCompleted Status = "completed"
)

// SearchResult is the outcome of one search. Error is set when the index
// reported a failure, in which case Data is empty.
type SearchResult struct {
	Query string             `json:"query"`
	Data  []search.Candidate `json:"data"`
	Error string             `json:"error,omitempty"`
}

// HydratedCandidate is a search candidate after its full description was
// fetched. Identity is empty when the fetch failed or the candidate has no
// file ID; such candidates are dropped by Deduplicate.
type HydratedCandidate struct {
	Candidate  search.Candidate
	Identity   string
	RawContent string
}

// Node is a deduplicated node description handed to synthesis. Content
// holds the parsed JSON document, or the original text when it is not JSON.
type Node struct {
	FileID   string `json:"file_id"`
	Filename string `json:"filename,omitempty"`
	Content  any    `json:"content"`
}
