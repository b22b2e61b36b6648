package engine

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medsense-ai/medsense/internal/classify"
	"github.com/medsense-ai/medsense/internal/config"
	"github.com/medsense-ai/medsense/internal/dedup"
	"github.com/medsense-ai/medsense/internal/metrics"
	"github.com/medsense-ai/medsense/internal/models"
	"github.com/medsense-ai/medsense/internal/reasoning"
	"github.com/medsense-ai/medsense/internal/session"
	"github.com/medsense-ai/medsense/internal/storage"
	"github.com/medsense-ai/medsense/internal/tools"
)

// stubAdapter scripts the reasoning side of the loop.
type stubAdapter struct {
	mu      sync.Mutex
	steps   []func(req reasoning.StepRequest) (*reasoning.Decision, error)
	calls   int
	summary string
}

func (s *stubAdapter) Step(ctx context.Context, req reasoning.StepRequest) (*reasoning.Decision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.calls
	s.calls++
	if idx < len(s.steps) {
		return s.steps[idx](req)
	}
	if len(s.steps) > 0 {
		return s.steps[len(s.steps)-1](req)
	}
	return &reasoning.Decision{Kind: reasoning.DecisionFinal, Content: "ok"}, nil
}

func (s *stubAdapter) Summarize(ctx context.Context, req reasoning.StepRequest) (string, error) {
	if s.summary == "" {
		return "", errors.New("no summary")
	}
	return s.summary, nil
}

func (s *stubAdapter) Name() string { return "stub" }

func (s *stubAdapter) stepCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func finalStep(content string) func(reasoning.StepRequest) (*reasoning.Decision, error) {
	return func(reasoning.StepRequest) (*reasoning.Decision, error) {
		return &reasoning.Decision{Kind: reasoning.DecisionFinal, Content: content}, nil
	}
}

func toolStep(calls ...models.ToolCall) func(reasoning.StepRequest) (*reasoning.Decision, error) {
	return func(reasoning.StepRequest) (*reasoning.Decision, error) {
		return &reasoning.Decision{Kind: reasoning.DecisionToolCalls, ToolCalls: calls}, nil
	}
}

// recordingDispatcher captures every Response handed to it.
type recordingDispatcher struct {
	mu   sync.Mutex
	sent []models.Response
}

func (d *recordingDispatcher) Send(ctx context.Context, resp models.Response) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sent = append(d.sent, resp)
	return nil
}

func (d *recordingDispatcher) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.sent)
}

// fnTool adapts a function into a registered tool.
type fnTool struct {
	name string
	fn   func(ctx context.Context, args map[string]interface{}) (interface{}, error)
}

func (f *fnTool) Spec() tools.Spec {
	return tools.Spec{Name: f.name, Description: "test tool", Parameters: map[string]interface{}{
		"type": "object", "properties": map[string]interface{}{},
	}}
}

func (f *fnTool) Call(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	return f.fn(ctx, args)
}

type harness struct {
	engine     *Engine
	adapter    *stubAdapter
	dispatcher *recordingDispatcher
	sessions   *session.Store
	store      *storage.Store
	registry   *tools.Registry
}

func newHarness(t *testing.T, adapter *stubAdapter, extraTools ...tools.Tool) *harness {
	t.Helper()

	store, err := storage.Open(config.DatabaseConfig{Driver: "sqlite", DSN: ":memory:"}, logr.Discard())
	require.NoError(t, err)

	registry := tools.NewRegistry(2*time.Second, logr.Discard(), metrics.NewNop())
	for _, tool := range extraTools {
		require.NoError(t, registry.Register(tool))
	}

	cfg := config.EngineConfig{
		MaxIterations:    3,
		ReasoningTimeout: 2 * time.Second,
		ToolTimeout:      time.Second,
		WindowCap:        10,
		SessionTTL:       time.Hour,
		DedupWindow:      10 * time.Minute,
		SweepInterval:    time.Minute,
	}

	sessions := session.NewStore(cfg.SessionTTL, logr.Discard())
	dispatcher := &recordingDispatcher{}

	eng := New(cfg, config.FollowUpConfig{Enabled: true, Delay: 24 * time.Hour}, Deps{
		Dedup:      dedup.New(cfg.DedupWindow),
		Classifier: classify.New(classify.DefaultPolicy(), nil, time.Second, logr.Discard()),
		Sessions:   sessions,
		Registry:   registry,
		Adapter:    adapter,
		Store:      store,
		Dispatcher: dispatcher,
		Metrics:    metrics.NewNop(),
		Log:        logr.Discard(),
	})

	return &harness{engine: eng, adapter: adapter, dispatcher: dispatcher, sessions: sessions, store: store, registry: registry}
}

func textMsg(id, userID, text string) models.Message {
	return models.Message{
		ID:         id,
		UserID:     userID,
		Platform:   models.PlatformTelegram,
		Text:       text,
		ReceivedAt: time.Now(),
	}
}

// seedProfile marks a user as already set up so tests can skip the onboarding
// flow.
func seedProfile(t *testing.T, h *harness, userID string) {
	t.Helper()
	require.NoError(t, h.store.SaveProfile(context.Background(), userID, 30, "female", "telegram"))
}

func TestIdempotence_DuplicateMessageID(t *testing.T) {
	h := newHarness(t, &stubAdapter{steps: []func(reasoning.StepRequest) (*reasoning.Decision, error){finalStep("answer")}})
	seedProfile(t, h, "u1")

	msg := textMsg("msg-1", "u1", "mild cough for two days")

	first, err := h.engine.Process(context.Background(), msg)
	require.NoError(t, err)
	require.NotNil(t, first)

	second, err := h.engine.Process(context.Background(), msg)
	require.NoError(t, err)
	assert.Nil(t, second, "retry of the same message id must produce no response")
	assert.Equal(t, 1, h.dispatcher.count())

	// Exactly one user turn appended.
	sess, lease, err := h.sessions.Acquire(context.Background(), "u1")
	require.NoError(t, err)
	defer h.sessions.Release(lease, sess)
	userTurns := 0
	for _, turn := range sess.Window {
		if turn.Role == models.RoleUser {
			userTurns++
		}
	}
	assert.Equal(t, 1, userTurns)
}

func TestBoundedIterations(t *testing.T) {
	always := toolStep(models.ToolCall{Name: "noop", Arguments: map[string]interface{}{}})
	adapter := &stubAdapter{steps: []func(reasoning.StepRequest) (*reasoning.Decision, error){always}}
	h := newHarness(t, adapter, &fnTool{name: "noop", fn: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
		return map[string]string{"status": "noop"}, nil
	}})
	seedProfile(t, h, "u1")

	resp, err := h.engine.Process(context.Background(), textMsg("m1", "u1", "recurring mild headaches"))
	require.NoError(t, err)
	require.NotNil(t, resp)

	assert.Equal(t, models.ResponseDegraded, resp.Kind, "no summary configured, cap must force the degraded template")
	assert.Equal(t, 3, adapter.stepCount(), "loop must stop at MaxIterations")
}

func TestBoundedIterations_BestEffortSummary(t *testing.T) {
	always := toolStep(models.ToolCall{Name: "noop", Arguments: map[string]interface{}{}})
	adapter := &stubAdapter{
		steps:   []func(reasoning.StepRequest) (*reasoning.Decision, error){always},
		summary: "Based on what I found so far, this looks mild.",
	}
	h := newHarness(t, adapter, &fnTool{name: "noop", fn: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
		return map[string]string{"status": "noop"}, nil
	}})
	seedProfile(t, h, "u1")

	resp, err := h.engine.Process(context.Background(), textMsg("m1", "u1", "recurring mild headaches"))
	require.NoError(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, models.ResponseAnswer, resp.Kind)
	assert.Contains(t, resp.Text, "mild")
}

func TestEmergencyShortCircuit(t *testing.T) {
	adapter := &stubAdapter{steps: []func(reasoning.StepRequest) (*reasoning.Decision, error){finalStep("should never run")}}
	var facilityCalls atomic.Int32
	h := newHarness(t, adapter, &fnTool{name: tools.FindFacilitiesName, fn: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
		facilityCalls.Add(1)
		return map[string]interface{}{"facilities": []string{"City Hospital"}}, nil
	}})
	seedProfile(t, h, "u1")

	msg := textMsg("m1", "u1", "severe chest pain, can't breathe")
	msg.Location = &models.Location{Latitude: 52.52, Longitude: 13.405}

	resp, err := h.engine.Process(context.Background(), msg)
	require.NoError(t, err)
	require.NotNil(t, resp)

	assert.Equal(t, models.ResponseEmergency, resp.Kind)
	assert.Contains(t, resp.Text, "urgent")
	assert.Contains(t, resp.Text, "City Hospital")
	assert.Equal(t, int32(1), facilityCalls.Load(), "at most one narrow tool call")
	assert.Equal(t, 0, adapter.stepCount(), "reasoning loop must never run")

	// No diagnosis record written on the emergency path.
	records, err := h.store.RecentDiagnoses(context.Background(), "u1", 10)
	require.NoError(t, err)
	assert.Empty(t, records)

	sess, lease, err := h.sessions.Acquire(context.Background(), "u1")
	require.NoError(t, err)
	defer h.sessions.Release(lease, sess)
	assert.True(t, sess.EmergencyFlag)
}

func TestPerUserSerialization(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	var inFlight atomic.Int32
	var maxInFlight atomic.Int32

	slow := func(reasoning.StepRequest) (*reasoning.Decision, error) {
		n := inFlight.Add(1)
		if n > maxInFlight.Load() {
			maxInFlight.Store(n)
		}
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
		inFlight.Add(-1)
		return &reasoning.Decision{Kind: reasoning.DecisionFinal, Content: "done"}, nil
	}
	h := newHarness(t, &stubAdapter{steps: []func(reasoning.StepRequest) (*reasoning.Decision, error){slow}})
	seedProfile(t, h, "u1")

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := h.engine.Process(context.Background(), textMsg(fmt.Sprintf("m-%d", i), "u1", "mild rash"))
			require.NoError(t, err)
		}(i)
	}

	<-started
	time.Sleep(50 * time.Millisecond) // give the second loop time to try to enter
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), maxInFlight.Load(), "same-user loops must never overlap")
	assert.Equal(t, 2, h.dispatcher.count())
}

func TestToolFailureIsolation(t *testing.T) {
	adapter := &stubAdapter{steps: []func(reasoning.StepRequest) (*reasoning.Decision, error){
		toolStep(models.ToolCall{Name: "flaky", Arguments: map[string]interface{}{}}),
		finalStep("handled the failure"),
	}}
	h := newHarness(t, adapter, &fnTool{name: "flaky", fn: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
		return nil, errors.New("upstream down")
	}})
	seedProfile(t, h, "u1")

	resp, err := h.engine.Process(context.Background(), textMsg("m1", "u1", "itchy eyes"))
	require.NoError(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, models.ResponseAnswer, resp.Kind)
	assert.Equal(t, "handled the failure", resp.Text)
}

func TestToolBatch_DeterministicOrdering(t *testing.T) {
	adapter := &stubAdapter{steps: []func(reasoning.StepRequest) (*reasoning.Decision, error){
		toolStep(
			models.ToolCall{ID: "call-a", Name: "slow", Arguments: map[string]interface{}{}},
			models.ToolCall{ID: "call-b", Name: "fast", Arguments: map[string]interface{}{}},
		),
		finalStep("done"),
	}}
	h := newHarness(t, adapter,
		&fnTool{name: "slow", fn: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			time.Sleep(100 * time.Millisecond)
			return map[string]string{"tool": "slow"}, nil
		}},
		&fnTool{name: "fast", fn: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			return map[string]string{"tool": "fast"}, nil
		}},
	)
	seedProfile(t, h, "u1")

	_, err := h.engine.Process(context.Background(), textMsg("m1", "u1", "sore throat"))
	require.NoError(t, err)

	sess, lease, err := h.sessions.Acquire(context.Background(), "u1")
	require.NoError(t, err)
	defer h.sessions.Release(lease, sess)

	var toolTurns []models.ConversationTurn
	for _, turn := range sess.Window {
		if turn.Role == models.RoleTool {
			toolTurns = append(toolTurns, turn)
		}
	}
	require.Len(t, toolTurns, 2)
	assert.Equal(t, "call-a", toolTurns[0].ToolCallID, "results must land in request order, not completion order")
	assert.Equal(t, "call-b", toolTurns[1].ToolCallID)
}

func TestScenarioA_ProfileSetupFlow(t *testing.T) {
	adapter := &stubAdapter{steps: []func(reasoning.StepRequest) (*reasoning.Decision, error){finalStep("let me look into that")}}
	h := newHarness(t, adapter)

	// Unknown user triggers setup instead of analysis.
	resp, err := h.engine.Process(context.Background(), textMsg("m1", "u1", "I have a fever and headache"))
	require.NoError(t, err)
	assert.Equal(t, models.ResponseClarification, resp.Kind)
	assert.Contains(t, resp.Text, "age")

	sess, lease, err := h.sessions.Acquire(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, models.PendingAge, sess.Pending)
	h.sessions.Release(lease, sess)

	// Age answer moves on to gender.
	resp, err = h.engine.Process(context.Background(), textMsg("m2", "u1", "I am 25 years old"))
	require.NoError(t, err)
	assert.Equal(t, models.ResponseClarification, resp.Kind)
	assert.Contains(t, resp.Text, "gender")

	// Gender answer completes setup and persists the profile.
	resp, err = h.engine.Process(context.Background(), textMsg("m3", "u1", "female"))
	require.NoError(t, err)
	assert.Equal(t, models.ResponseWelcome, resp.Kind)

	profile, err := h.store.GetProfile(context.Background(), "u1")
	require.NoError(t, err)
	require.NotNil(t, profile)
	assert.Equal(t, 25, profile.Age)
	assert.Equal(t, "female", profile.Gender)

	// Next message goes to the loop.
	resp, err = h.engine.Process(context.Background(), textMsg("m4", "u1", "still have the fever"))
	require.NoError(t, err)
	assert.Equal(t, models.ResponseAnswer, resp.Kind)
	assert.Equal(t, 1, adapter.stepCount(), "exactly one reasoning call after setup")
}

func TestProfileSetup_SkipBothSteps(t *testing.T) {
	h := newHarness(t, &stubAdapter{steps: []func(reasoning.StepRequest) (*reasoning.Decision, error){finalStep("ok")}})

	_, err := h.engine.Process(context.Background(), textMsg("m1", "u1", "hello"))
	require.NoError(t, err)

	resp, err := h.engine.Process(context.Background(), textMsg("m2", "u1", "skip"))
	require.NoError(t, err)
	assert.Contains(t, resp.Text, "gender")

	resp, err = h.engine.Process(context.Background(), textMsg("m3", "u1", "skip"))
	require.NoError(t, err)
	assert.Equal(t, models.ResponseWelcome, resp.Kind)

	// Setup must not restart on the next message even though nothing was
	// shared.
	resp, err = h.engine.Process(context.Background(), textMsg("m4", "u1", "I feel dizzy sometimes"))
	require.NoError(t, err)
	assert.Equal(t, models.ResponseAnswer, resp.Kind)
}

func TestScenarioB_EmergencyWithLocation(t *testing.T) {
	// Covered in detail by TestEmergencyShortCircuit; this variant checks an
	// urgent message without coordinates still short-circuits.
	adapter := &stubAdapter{}
	h := newHarness(t, adapter)
	seedProfile(t, h, "u1")

	resp, err := h.engine.Process(context.Background(), textMsg("m1", "u1", "I think I'm having a heart attack"))
	require.NoError(t, err)
	assert.Equal(t, models.ResponseEmergency, resp.Kind)
	assert.Contains(t, resp.Text, "share your location")
	assert.Equal(t, 0, adapter.stepCount())
}

func TestScenarioC_DuplicateDeliveryNoNewTurns(t *testing.T) {
	h := newHarness(t, &stubAdapter{steps: []func(reasoning.StepRequest) (*reasoning.Decision, error){finalStep("ok")}})
	seedProfile(t, h, "u1")

	msg := textMsg("dup-1", "u1", "runny nose")
	_, err := h.engine.Process(context.Background(), msg)
	require.NoError(t, err)

	sess, lease, err := h.sessions.Acquire(context.Background(), "u1")
	require.NoError(t, err)
	turnsBefore := len(sess.Window)
	h.sessions.Release(lease, sess)

	resp, err := h.engine.Process(context.Background(), msg)
	require.NoError(t, err)
	assert.Nil(t, resp)

	sess, lease, err = h.sessions.Acquire(context.Background(), "u1")
	require.NoError(t, err)
	defer h.sessions.Release(lease, sess)
	assert.Equal(t, turnsBefore, len(sess.Window))
	assert.Equal(t, 1, h.dispatcher.count())
}

func TestReasoningFailure_DegradedResponse(t *testing.T) {
	failing := func(reasoning.StepRequest) (*reasoning.Decision, error) {
		return nil, errors.New("provider unavailable")
	}
	adapter := &stubAdapter{steps: []func(reasoning.StepRequest) (*reasoning.Decision, error){failing}}
	h := newHarness(t, adapter)
	seedProfile(t, h, "u1")

	resp, err := h.engine.Process(context.Background(), textMsg("m1", "u1", "mild back pain"))
	require.NoError(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, models.ResponseDegraded, resp.Kind)
	assert.Equal(t, 2, adapter.stepCount(), "one retry, then degrade")
}

func TestClearCommand_ResetsSession(t *testing.T) {
	h := newHarness(t, &stubAdapter{steps: []func(reasoning.StepRequest) (*reasoning.Decision, error){finalStep("noted")}})
	seedProfile(t, h, "u1")

	_, err := h.engine.Process(context.Background(), textMsg("m1", "u1", "persistent cough"))
	require.NoError(t, err)

	resp, err := h.engine.Process(context.Background(), textMsg("m2", "u1", "clear"))
	require.NoError(t, err)
	assert.Equal(t, models.ResponseReset, resp.Kind)

	sess, lease, err := h.sessions.Acquire(context.Background(), "u1")
	require.NoError(t, err)
	defer h.sessions.Release(lease, sess)
	assert.Empty(t, sess.Window)
	assert.False(t, sess.EmergencyFlag)
}

func TestClearDuringLoop_InterruptsInFlight(t *testing.T) {
	toolStarted := make(chan struct{})
	toolRelease := make(chan struct{})
	always := toolStep(models.ToolCall{Name: "slow", Arguments: map[string]interface{}{}})
	adapter := &stubAdapter{steps: []func(reasoning.StepRequest) (*reasoning.Decision, error){always}}
	h := newHarness(t, adapter, &fnTool{name: "slow", fn: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
		select {
		case toolStarted <- struct{}{}:
		default:
		}
		<-toolRelease
		return map[string]string{"status": "ok"}, nil
	}})
	seedProfile(t, h, "u1")

	type result struct {
		resp *models.Response
		err  error
	}
	first := make(chan result, 1)
	go func() {
		resp, err := h.engine.Process(context.Background(), textMsg("m1", "u1", "dull stomach ache"))
		first <- result{resp, err}
	}()

	<-toolStarted

	second := make(chan result, 1)
	go func() {
		resp, err := h.engine.Process(context.Background(), textMsg("m2", "u1", "clear"))
		second <- result{resp, err}
	}()

	// The clear command flags the reset before queueing on the lock; give it
	// time to do so, then let the blocked tool finish.
	time.Sleep(50 * time.Millisecond)
	close(toolRelease)

	got := <-first
	require.NoError(t, got.err)
	require.NotNil(t, got.resp)
	assert.Equal(t, models.ResponseReset, got.resp.Kind, "next checkpoint must finalize, not keep looping")
	assert.Equal(t, 1, adapter.stepCount(), "no further reasoning calls after the reset")

	got = <-second
	require.NoError(t, got.err)
	require.NotNil(t, got.resp)
	assert.Equal(t, models.ResponseReset, got.resp.Kind)

	sess, lease, err := h.sessions.Acquire(context.Background(), "u1")
	require.NoError(t, err)
	defer h.sessions.Release(lease, sess)
	assert.Empty(t, sess.Window)
}

func TestHistoryCommand(t *testing.T) {
	h := newHarness(t, &stubAdapter{})
	seedProfile(t, h, "u1")

	resp, err := h.engine.Process(context.Background(), textMsg("m1", "u1", "history"))
	require.NoError(t, err)
	assert.Equal(t, models.ResponseHistory, resp.Kind)
	assert.Equal(t, noHistoryMsg, resp.Text)

	_, err = h.store.SaveDiagnosis(context.Background(), &storage.Diagnosis{
		UserID: "u1", Platform: "telegram", Symptoms: "fever", Conclusion: "Likely viral infection", Confidence: 0.7,
	})
	require.NoError(t, err)

	resp, err = h.engine.Process(context.Background(), textMsg("m2", "u1", "history"))
	require.NoError(t, err)
	assert.Contains(t, resp.Text, "Likely viral infection")
}

func TestFollowUpResponseAcknowledged(t *testing.T) {
	h := newHarness(t, &stubAdapter{})
	seedProfile(t, h, "u1")

	diagID, err := h.store.SaveDiagnosis(context.Background(), &storage.Diagnosis{
		UserID: "u1", Platform: "telegram", Symptoms: "fever", Conclusion: "viral", Confidence: 0.6,
	})
	require.NoError(t, err)
	rem := &storage.FollowUpReminder{
		UserID: "u1", Platform: "telegram", DiagnosisID: diagID,
		ScheduledAt: time.Now().Add(-time.Hour),
	}
	require.NoError(t, h.store.ScheduleFollowUp(context.Background(), rem))
	require.NoError(t, h.store.MarkFollowUpSent(context.Background(), rem.ID))

	resp, err := h.engine.Process(context.Background(), textMsg("m1", "u1", "feeling much better now"))
	require.NoError(t, err)
	assert.Equal(t, models.ResponseFollowUp, resp.Kind)

	waiting, err := h.store.AwaitingFollowUpResponse(context.Background(), "u1")
	require.NoError(t, err)
	assert.Nil(t, waiting, "response must be recorded")
}

func TestLocationMessage_SavesCountryFromGeocode(t *testing.T) {
	adapter := &stubAdapter{steps: []func(reasoning.StepRequest) (*reasoning.Decision, error){finalStep("here is what I found")}}
	h := newHarness(t, adapter)
	seedProfile(t, h, "u1")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"display_name":"Connaught Place, New Delhi, Delhi, India"}`)
	}))
	defer srv.Close()
	h.engine.deps.Geo = tools.NewGeoClient(srv.URL, srv.URL, "test-agent")

	msg := textMsg("m1", "u1", "")
	msg.Location = &models.Location{Latitude: 28.63, Longitude: 77.22}

	resp, err := h.engine.Process(context.Background(), msg)
	require.NoError(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, models.ResponseAnswer, resp.Kind)

	country, err := h.store.GetCountry(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "India", country, "country must come from the trailing geocode component")
}

func TestCountryDetection_PersistsBeforeLoop(t *testing.T) {
	adapter := &stubAdapter{steps: []func(reasoning.StepRequest) (*reasoning.Decision, error){finalStep("noted")}}
	h := newHarness(t, adapter)
	seedProfile(t, h, "u1")

	_, err := h.engine.Process(context.Background(), textMsg("m1", "u1", "I live in India and have a mild fever"))
	require.NoError(t, err)

	country, err := h.store.GetCountry(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "India", country)
}

func TestTruncateWindow_CutsAtUserBoundary(t *testing.T) {
	mk := func(role models.Role, id string) models.ConversationTurn {
		return models.ConversationTurn{Role: role, ToolCallID: id}
	}
	window := []models.ConversationTurn{
		mk(models.RoleUser, ""),      // 0
		mk(models.RoleAssistant, ""), // 1 (tool calls)
		mk(models.RoleTool, "a"),     // 2
		mk(models.RoleAssistant, ""), // 3
		mk(models.RoleUser, ""),      // 4
		mk(models.RoleAssistant, ""), // 5
	}

	got := truncateWindow(window, 4)
	require.Len(t, got, 2, "must cut forward to the next user turn, never inside a tool chain")
	assert.Equal(t, models.RoleUser, got[0].Role)

	// Under the cap: untouched.
	assert.Len(t, truncateWindow(window, 10), 6)
}
