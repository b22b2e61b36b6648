package reasoning

import (
	"context"

	"github.com/medsense-ai/medsense/internal/models"
	"github.com/medsense-ai/medsense/internal/tools"
)

// DecisionKind distinguishes the two terminal shapes a reasoning step can
// take: a batch of tool calls to execute, or final user-facing text.
type DecisionKind string

const (
	DecisionFinal     DecisionKind = "final"
	DecisionToolCalls DecisionKind = "tool_calls"
)

// Decision is the adapter's verdict for one step of the orchestration loop.
// Exactly one of Content / ToolCalls is meaningful, selected by Kind.
type Decision struct {
	Kind      DecisionKind
	Content   string
	ToolCalls []models.ToolCall
}

// StepRequest carries everything one reasoning step may see. The adapter
// receives tool specs only, never handlers.
type StepRequest struct {
	System string
	Window []models.ConversationTurn
	Tools  []tools.Spec
}

// Adapter is the only component allowed to talk to the language model. It is
// stateless across calls; all conversational state rides in the StepRequest.
type Adapter interface {
	// Step runs a single reasoning call. The context carries the per-step
	// timeout; adapters must respect it.
	Step(ctx context.Context, req StepRequest) (*Decision, error)

	// Summarize produces a short best-effort answer from whatever tool
	// results accumulated in the window, with tool calling disabled. Used
	// when the loop hits its iteration ceiling.
	Summarize(ctx context.Context, req StepRequest) (string, error)

	// Name identifies the provider for logs.
	Name() string
}
