package tools

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/medsense-ai/medsense/internal/errors"
	"github.com/medsense-ai/medsense/internal/metrics"
	"github.com/medsense-ai/medsense/internal/models"
)

type stubTool struct {
	name    string
	payload interface{}
	err     error
	delay   time.Duration
	panics  bool
}

func (s *stubTool) Spec() Spec {
	return Spec{
		Name:        s.name,
		Description: "stub",
		Parameters:  objectSchema(map[string]interface{}{}),
	}
}

func (s *stubTool) Call(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	if s.panics {
		panic("boom")
	}
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return s.payload, s.err
}

func newTestRegistry(t *testing.T, timeout time.Duration) *Registry {
	t.Helper()
	return NewRegistry(timeout, logr.Discard(), metrics.NewNop())
}

func TestRegister_Validation(t *testing.T) {
	r := newTestRegistry(t, time.Second)

	require.NoError(t, r.Register(&stubTool{name: "echo"}))
	require.Error(t, r.Register(&stubTool{name: "echo"}), "duplicate name must be rejected")
	require.Error(t, r.Register(&stubTool{name: ""}))
}

func TestSpecs_SortedByName(t *testing.T) {
	r := newTestRegistry(t, time.Second)
	require.NoError(t, r.Register(&stubTool{name: "zeta"}))
	require.NoError(t, r.Register(&stubTool{name: "alpha"}))

	specs := r.Specs()
	require.Len(t, specs, 2)
	assert.Equal(t, "alpha", specs[0].Name)
	assert.Equal(t, "zeta", specs[1].Name)
}

func TestInvoke_Success(t *testing.T) {
	r := newTestRegistry(t, time.Second)
	require.NoError(t, r.Register(&stubTool{name: "echo", payload: map[string]string{"hello": "world"}}))

	res := r.Invoke(context.Background(), models.ToolCall{ID: "c1", Name: "echo"})
	require.True(t, res.OK)
	assert.Equal(t, "c1", res.CallID)
	assert.JSONEq(t, `{"hello":"world"}`, string(res.Data))
}

func TestInvoke_UnknownToolIsFatalForThatCallOnly(t *testing.T) {
	r := newTestRegistry(t, time.Second)

	res := r.Invoke(context.Background(), models.ToolCall{ID: "c1", Name: "nope"})
	require.False(t, res.OK)
	assert.True(t, strings.HasPrefix(res.Error, apperrors.ErrCodeFatalTool))
}

func TestInvoke_HandlerErrorIsTransient(t *testing.T) {
	r := newTestRegistry(t, time.Second)
	require.NoError(t, r.Register(&stubTool{name: "flaky", err: errors.New("upstream 503")}))

	res := r.Invoke(context.Background(), models.ToolCall{ID: "c1", Name: "flaky"})
	require.False(t, res.OK)
	assert.Contains(t, res.Error, apperrors.ErrCodeTransientTool)
	assert.Contains(t, res.Error, "upstream 503")
}

func TestInvoke_Timeout(t *testing.T) {
	r := newTestRegistry(t, 20*time.Millisecond)
	require.NoError(t, r.Register(&stubTool{name: "slow", delay: time.Second}))

	start := time.Now()
	res := r.Invoke(context.Background(), models.ToolCall{ID: "c1", Name: "slow"})
	require.False(t, res.OK)
	assert.Less(t, time.Since(start), 500*time.Millisecond, "timeout must bound the call")
}

func TestInvoke_PanicRecovered(t *testing.T) {
	r := newTestRegistry(t, time.Second)
	require.NoError(t, r.Register(&stubTool{name: "bad", panics: true}))

	res := r.Invoke(context.Background(), models.ToolCall{ID: "c1", Name: "bad"})
	require.False(t, res.OK)
	assert.Contains(t, res.Error, "panicked")
}
