package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/go-logr/logr"

	apperrors "github.com/medsense-ai/medsense/internal/errors"
	"github.com/medsense-ai/medsense/internal/metrics"
	"github.com/medsense-ai/medsense/internal/models"
)

// Registry maps statically enumerated tool names to typed handlers. Every
// invocation is bounded by a timeout, and any fault is converted into a
// failed ToolResult rather than propagated to the loop.
type Registry struct {
	mu      sync.RWMutex
	tools   map[string]Tool
	timeout time.Duration
	log     logr.Logger
	metrics *metrics.Metrics
}

// NewRegistry creates a registry with the given per-call timeout.
func NewRegistry(timeout time.Duration, log logr.Logger, m *metrics.Metrics) *Registry {
	return &Registry{
		tools:   make(map[string]Tool),
		timeout: timeout,
		log:     log,
		metrics: m,
	}
}

// Register validates the tool's spec and adds it. Registration errors are
// programming errors and surface at startup, not at invocation time.
func (r *Registry) Register(tool Tool) error {
	spec := tool.Spec()
	if spec.Name == "" {
		return fmt.Errorf("tool has empty name")
	}
	if spec.Parameters == nil || spec.Parameters["type"] != "object" {
		return fmt.Errorf("tool %s: argument schema must be an object schema", spec.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[spec.Name]; exists {
		return fmt.Errorf("tool %s already registered", spec.Name)
	}
	r.tools[spec.Name] = tool
	return nil
}

// Specs returns the registered tool specifications, sorted by name so the
// reasoning adapter always sees the same ordering.
func (r *Registry) Specs() []Spec {
	r.mu.RLock()
	defer r.mu.RUnlock()

	specs := make([]Spec, 0, len(r.tools))
	for _, t := range r.tools {
		specs = append(specs, t.Spec())
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].Name < specs[j].Name })
	return specs
}

// Invoke executes one tool call. It always produces a ToolResult: unknown
// names yield a fatal failure for that call only, timeouts and handler faults
// yield transient failures.
func (r *Registry) Invoke(ctx context.Context, call models.ToolCall) models.ToolResult {
	r.mu.RLock()
	tool, exists := r.tools[call.Name]
	r.mu.RUnlock()

	if !exists {
		// Contract violation between reasoning adapter and registry.
		r.log.Error(nil, "unknown tool requested", "tool", call.Name)
		r.count(call.Name, "fatal")
		return models.ToolResult{
			CallID: call.ID,
			Name:   call.Name,
			Error:  fmt.Sprintf("%s: unknown tool %q", apperrors.ErrCodeFatalTool, call.Name),
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	type outcome struct {
		payload interface{}
		err     error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				done <- outcome{err: fmt.Errorf("tool panicked: %v", rec)}
			}
		}()
		payload, err := tool.Call(callCtx, call.Arguments)
		done <- outcome{payload: payload, err: err}
	}()

	var out outcome
	select {
	case out = <-done:
	case <-callCtx.Done():
		out = outcome{err: callCtx.Err()}
	}

	if out.err != nil {
		r.log.V(1).Info("tool call failed", "tool", call.Name, "error", out.err.Error())
		r.count(call.Name, "error")
		return models.ToolResult{
			CallID: call.ID,
			Name:   call.Name,
			Error:  fmt.Sprintf("%s: %v", apperrors.ErrCodeTransientTool, out.err),
		}
	}

	data, err := json.Marshal(out.payload)
	if err != nil {
		r.count(call.Name, "error")
		return models.ToolResult{
			CallID: call.ID,
			Name:   call.Name,
			Error:  fmt.Sprintf("%s: unencodable tool payload: %v", apperrors.ErrCodeTransientTool, err),
		}
	}

	r.count(call.Name, "ok")
	return models.ToolResult{CallID: call.ID, Name: call.Name, OK: true, Data: data}
}

func (r *Registry) count(tool, status string) {
	if r.metrics != nil {
		r.metrics.ToolInvocations.WithLabelValues(tool, status).Inc()
	}
}
