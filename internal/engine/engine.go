package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/go-logr/logr"
	"github.com/google/uuid"

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

// Dispatcher delivers a canonical Response to its platform. Send failures are
// reported by the dispatcher itself; the engine does not retry sends.
type Dispatcher interface {
	Send(ctx context.Context, resp models.Response) error
}

// Deps collects the engine's collaborators.
type Deps struct {
	Dedup      *dedup.Deduplicator
	Classifier *classify.Classifier
	Sessions   *session.Store
	Registry   *tools.Registry
	Adapter    reasoning.Adapter
	Store      *storage.Store
	Geo        *tools.GeoClient
	Countries  *CountryPolicy
	Dispatcher Dispatcher
	Metrics    *metrics.Metrics
	Log        logr.Logger
}

// Engine drives one orchestration loop per inbound message: dedup, classify,
// session acquire, reason/act iterations, finalize, dispatch. Loops for the
// same user are serialized by the session store; every path produces exactly
// one Response.
type Engine struct {
	cfg      config.EngineConfig
	followUp config.FollowUpConfig
	deps     Deps
}

// New creates the engine. Geo and Dispatcher may be nil in tests.
func New(cfg config.EngineConfig, followUp config.FollowUpConfig, deps Deps) *Engine {
	if deps.Countries == nil {
		deps.Countries = DefaultCountryPolicy()
	}
	return &Engine{cfg: cfg, followUp: followUp, deps: deps}
}

// Process runs the full pipeline for one inbound message and returns the
// Response that was (or would be) dispatched. Duplicates return nil with no
// side effects.
func (e *Engine) Process(ctx context.Context, msg models.Message) (*models.Response, error) {
	log := e.deps.Log.WithValues("userID", msg.UserID, "platform", msg.Platform)

	if !e.deps.Dedup.ShouldProcess(msg.ID) {
		e.deps.Metrics.DuplicatesTotal.Inc()
		log.V(1).Info("duplicate message dropped", "messageID", msg.ID)
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, e.cfg.AggregateDeadline())
	defer cancel()

	if isResetCommand(msg.Text) {
		// Wake any in-flight loop for this user before queueing on its lock;
		// its next checkpoint finalizes immediately instead of finishing the
		// remaining tool and reasoning calls.
		e.deps.Sessions.RequestReset(msg.UserID)
	}

	sess, lease, err := e.deps.Sessions.Acquire(ctx, msg.UserID)
	if err != nil {
		log.Error(err, "session acquire failed")
		resp := e.respond(msg, models.ResponseDegraded, degradedMsg)
		e.send(resp)
		return &resp, nil
	}

	// Release is idempotent; the deferred call frees the user's lock even if
	// handle panics, while the explicit call below persists the happy path.
	defer e.deps.Sessions.Release(lease, sess)

	resp := e.handle(ctx, msg, sess)

	sess.Window = truncateWindow(sess.Window, e.cfg.WindowCap)
	e.deps.Sessions.Release(lease, sess)

	e.deps.Metrics.MessagesTotal.WithLabelValues(string(msg.Platform), string(resp.Kind)).Inc()
	e.send(resp)
	return &resp, nil
}

// handle decides the path for one message while holding the session lock. It
// mutates sess; the caller truncates and releases.
func (e *Engine) handle(ctx context.Context, msg models.Message, sess *models.Session) models.Response {
	known := e.loadProfile(ctx, msg, sess)

	if resp, done := e.handleCommand(ctx, msg, sess); done {
		return resp
	}

	// The urgency pre-check outranks everything else, including profile
	// setup for a brand-new user.
	verdict := e.deps.Classifier.Classify(ctx, msg, sess)
	if verdict.Urgent {
		return e.handleEmergency(ctx, msg, sess, verdict)
	}

	if resp, done := e.handleFollowUpResponse(ctx, msg); done {
		return resp
	}

	if !known && sess.Pending == models.PendingNone && msg.Text != "" {
		// Brand new user: collect age and gender before analysis. The
		// triggering message gets the setup prompt, not an age parse.
		sess.Pending = models.PendingAge
		return e.respond(msg, models.ResponseClarification, profileSetupMsg)
	}
	if resp, done := e.handleProfileSetup(ctx, msg, sess); done {
		return resp
	}

	e.detectCountry(ctx, msg)

	content := e.loopInput(ctx, msg, sess)
	text, kind := e.runLoop(ctx, msg, sess, content)
	return e.respond(msg, kind, text)
}

// loadProfile pulls the stored profile into a fresh session and reports
// whether the user has been through setup before.
func (e *Engine) loadProfile(ctx context.Context, msg models.Message, sess *models.Session) bool {
	if sess.Profile.Platform != "" {
		return true
	}
	sess.Profile.Platform = msg.Platform
	stored, err := e.deps.Store.GetProfile(ctx, msg.UserID)
	if err != nil {
		e.deps.Log.Error(err, "profile load failed", "userID", msg.UserID)
		return true // do not restart setup on a storage hiccup
	}
	if stored == nil {
		return false
	}
	sess.Profile.Age = stored.Age
	sess.Profile.Gender = stored.Gender
	return true
}

func isResetCommand(text string) bool {
	switch strings.ToLower(strings.TrimSpace(text)) {
	case "clear", "/clear":
		return true
	}
	return false
}

func (e *Engine) handleCommand(ctx context.Context, msg models.Message, sess *models.Session) (models.Response, bool) {
	switch strings.ToLower(strings.TrimSpace(msg.Text)) {
	case "clear", "/clear":
		// Consume the flag this command raised before acquiring the lock so
		// the user's next message does not see a stale reset.
		e.deps.Sessions.ConsumeReset(msg.UserID)
		*sess = models.Session{UserID: sess.UserID, Pending: models.PendingNone}
		return e.respond(msg, models.ResponseReset, sessionClearedMsg), true

	case "/start", "start":
		if sess.Pending != models.PendingNone {
			return e.respond(msg, models.ResponseClarification, profileSetupMsg), true
		}
		return e.respond(msg, models.ResponseWelcome, welcomeMsg), true

	case "history":
		records, err := e.deps.Store.RecentDiagnoses(ctx, msg.UserID, 5)
		if err != nil {
			e.deps.Log.Error(err, "history lookup failed", "userID", msg.UserID)
			return e.respond(msg, models.ResponseHistory, noHistoryMsg), true
		}
		return e.respond(msg, models.ResponseHistory, historySummary(records)), true

	case "help", "/help":
		return e.respond(msg, models.ResponseWelcome, helpMsg), true
	}
	return models.Response{}, false
}

// handleFollowUpResponse treats the next plain-text message after a sent
// follow-up reminder as the user's answer to it.
func (e *Engine) handleFollowUpResponse(ctx context.Context, msg models.Message) (models.Response, bool) {
	if !e.followUp.Enabled || msg.Text == "" || msg.Location != nil || msg.ImageRef != "" {
		return models.Response{}, false
	}
	rem, err := e.deps.Store.AwaitingFollowUpResponse(ctx, msg.UserID)
	if err != nil || rem == nil {
		return models.Response{}, false
	}
	if err := e.deps.Store.RecordFollowUpResponse(ctx, rem.ID, msg.Text); err != nil {
		e.deps.Log.Error(err, "recording follow-up response failed", "userID", msg.UserID)
	}
	return e.respond(msg, models.ResponseFollowUp, followUpThanksMsg), true
}

func (e *Engine) handleProfileSetup(ctx context.Context, msg models.Message, sess *models.Session) (models.Response, bool) {
	switch sess.Pending {
	case models.PendingAge:
		if msg.Text == "" {
			return e.respond(msg, models.ResponseClarification, "Please complete your profile setup first. "+ageRetryMsg), true
		}
		if isSkip(msg.Text) {
			sess.Pending = models.PendingGender
			return e.respond(msg, models.ResponseClarification, genderPromptMsg), true
		}
		if age, ok := extractAge(msg.Text); ok {
			sess.Profile.Age = age
			sess.Pending = models.PendingGender
			return e.respond(msg, models.ResponseClarification, genderPromptMsg), true
		}
		return e.respond(msg, models.ResponseClarification, ageRetryMsg), true

	case models.PendingGender:
		if msg.Text == "" {
			return e.respond(msg, models.ResponseClarification, "Please complete your profile setup first. "+genderRetryMsg), true
		}
		if isSkip(msg.Text) {
			return e.completeProfile(ctx, msg, sess), true
		}
		if gender, ok := extractGender(msg.Text); ok {
			sess.Profile.Gender = gender
			return e.completeProfile(ctx, msg, sess), true
		}
		return e.respond(msg, models.ResponseClarification, genderRetryMsg), true
	}
	return models.Response{}, false
}

func (e *Engine) completeProfile(ctx context.Context, msg models.Message, sess *models.Session) models.Response {
	sess.Pending = models.PendingNone
	err := e.deps.Store.SaveProfile(ctx, msg.UserID, sess.Profile.Age, sess.Profile.Gender, string(msg.Platform))
	if err != nil {
		e.deps.Log.Error(err, "profile save failed", "userID", msg.UserID)
	}
	return e.respond(msg, models.ResponseWelcome, profileCompleteMsg)
}

// detectCountry persists any country mention before the loop runs so the
// outbreak tool can use it in the same turn.
func (e *Engine) detectCountry(ctx context.Context, msg models.Message) {
	if msg.Text == "" {
		return
	}
	country := e.deps.Countries.Detect(msg.Text)
	if country == "" {
		return
	}
	if err := e.deps.Store.SaveCountry(ctx, msg.UserID, country, string(msg.Platform)); err != nil {
		e.deps.Log.Error(err, "country save failed", "userID", msg.UserID)
		return
	}
	e.deps.Log.V(1).Info("country detected", "userID", msg.UserID, "country", country)
}

// loopInput builds the user-turn content for the reasoning loop from the
// message's text, image and location parts.
func (e *Engine) loopInput(ctx context.Context, msg models.Message, sess *models.Session) string {
	text := strings.TrimSpace(msg.Text)

	if msg.Location != nil {
		address := fmt.Sprintf("%.5f, %.5f", msg.Location.Latitude, msg.Location.Longitude)
		if e.deps.Geo != nil {
			address = e.deps.Geo.ReverseGeocode(ctx, msg.Location.Latitude, msg.Location.Longitude)
			if country := tools.CountryFromAddress(address); country != "" {
				if err := e.deps.Store.SaveCountry(ctx, msg.UserID, country, string(msg.Platform)); err != nil {
					e.deps.Log.Error(err, "country save from location failed", "userID", msg.UserID)
				}
			}
		}
		if err := e.deps.Store.SaveLocation(ctx, &storage.UserLocation{
			UserID:    msg.UserID,
			Latitude:  msg.Location.Latitude,
			Longitude: msg.Location.Longitude,
			Address:   address,
			Platform:  string(msg.Platform),
		}); err != nil {
			e.deps.Log.Error(err, "location save failed", "userID", msg.UserID)
		}
		return fmt.Sprintf(
			"Please find medical facilities and health information for my current location: %s (latitude %f, longitude %f). Also check for any disease outbreaks in this area.",
			address, msg.Location.Latitude, msg.Location.Longitude)
	}

	if msg.ImageRef != "" {
		if text == "" {
			text = "Please analyze this medical image for any health concerns."
		}
		return text + "\n[image attached: " + msg.ImageRef + "]"
	}
	return text
}

// handleEmergency is the short-circuit path: at most one facility lookup when
// coordinates are available, never the general reasoning loop, and no
// diagnosis record.
func (e *Engine) handleEmergency(ctx context.Context, msg models.Message, sess *models.Session, verdict classify.Result) models.Response {
	sess.EmergencyFlag = true
	e.deps.Metrics.EmergenciesTotal.Inc()
	e.deps.Log.Info("emergency short-circuit", "userID", msg.UserID, "reason", verdict.Reason)

	now := time.Now()
	sess.Append(models.ConversationTurn{Role: models.RoleUser, Content: strings.TrimSpace(msg.Text), Timestamp: now})

	facilities := ""
	if msg.Location != nil {
		res := e.deps.Registry.Invoke(ctx, models.ToolCall{
			ID:   uuid.NewString(),
			Name: tools.FindFacilitiesName,
			Arguments: map[string]interface{}{
				"latitude":  msg.Location.Latitude,
				"longitude": msg.Location.Longitude,
			},
		})
		if res.OK {
			facilities = string(res.Data)
		}
	}

	text := emergencyResponse(facilities)
	sess.Append(models.ConversationTurn{Role: models.RoleAssistant, Content: text, Timestamp: time.Now()})
	return e.respond(msg, models.ResponseEmergency, text)
}

// runLoop alternates reasoning and tool execution until a final answer, the
// iteration cap, a reset, or the aggregate deadline.
func (e *Engine) runLoop(ctx context.Context, msg models.Message, sess *models.Session, content string) (string, models.ResponseKind) {
	sess.Append(models.ConversationTurn{Role: models.RoleUser, Content: content, Timestamp: time.Now()})

	req := reasoning.StepRequest{
		System: e.systemPrompt(msg, sess),
		Tools:  e.deps.Registry.Specs(),
	}

	iterations := 0
	defer func() { e.deps.Metrics.LoopIterations.Observe(float64(iterations)) }()

	for iterations < e.cfg.MaxIterations {
		if e.deps.Sessions.ConsumeReset(msg.UserID) {
			e.deps.Log.Info("loop interrupted by reset", "userID", msg.UserID, "iterations", iterations)
			return sessionClearedMsg, models.ResponseReset
		}
		if ctx.Err() != nil {
			e.deps.Log.Info("aggregate deadline hit", "userID", msg.UserID, "iterations", iterations)
			return degradedMsg, models.ResponseDegraded
		}

		iterations++
		req.Window = sess.Window

		decision, err := e.step(ctx, req)
		if err != nil {
			e.deps.Log.Error(err, "reasoning failed after retry", "userID", msg.UserID, "iteration", iterations)
			return degradedMsg, models.ResponseDegraded
		}

		if decision.Kind == reasoning.DecisionFinal {
			sess.Append(models.ConversationTurn{Role: models.RoleAssistant, Content: decision.Content, Timestamp: time.Now()})
			return decision.Content, models.ResponseAnswer
		}

		calls := decision.ToolCalls
		for i := range calls {
			if calls[i].ID == "" {
				calls[i].ID = uuid.NewString()
			}
		}
		sess.Append(models.ConversationTurn{
			Role:      models.RoleAssistant,
			Content:   decision.Content,
			ToolCalls: calls,
			Timestamp: time.Now(),
		})

		for _, res := range e.executeBatch(ctx, calls) {
			sess.Append(models.ConversationTurn{
				Role:       models.RoleTool,
				Content:    res.Payload(),
				ToolCallID: res.CallID,
				Timestamp:  time.Now(),
			})
		}
	}

	// Iteration cap reached: best-effort summary from accumulated results.
	e.deps.Log.Info("iteration cap reached", "userID", msg.UserID, "max", e.cfg.MaxIterations)
	sumCtx, cancel := context.WithTimeout(ctx, e.cfg.ReasoningTimeout)
	defer cancel()
	req.Window = sess.Window
	summary, err := e.deps.Adapter.Summarize(sumCtx, req)
	if err != nil || strings.TrimSpace(summary) == "" {
		return degradedMsg, models.ResponseDegraded
	}
	sess.Append(models.ConversationTurn{Role: models.RoleAssistant, Content: summary, Timestamp: time.Now()})
	return summary, models.ResponseAnswer
}

// step runs one bounded reasoning call, retrying once with backoff. A second
// failure surfaces to the caller, which finalizes with the degraded template.
func (e *Engine) step(ctx context.Context, req reasoning.StepRequest) (*reasoning.Decision, error) {
	op := func() (*reasoning.Decision, error) {
		stepCtx, cancel := context.WithTimeout(ctx, e.cfg.ReasoningTimeout)
		defer cancel()

		start := time.Now()
		decision, err := e.deps.Adapter.Step(stepCtx, req)
		e.deps.Metrics.ReasoningLatency.Observe(time.Since(start).Seconds())
		if err != nil {
			if ctx.Err() != nil {
				// Aggregate deadline is gone; retrying cannot help.
				return nil, backoff.Permanent(err)
			}
			return nil, err
		}
		return decision, nil
	}
	return backoff.Retry(ctx, op,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(2))
}

// executeBatch runs one batch of tool calls concurrently but returns results
// indexed by request order, so the next reasoning step sees a deterministic
// sequence regardless of completion order.
func (e *Engine) executeBatch(ctx context.Context, calls []models.ToolCall) []models.ToolResult {
	results := make([]models.ToolResult, len(calls))
	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func(i int, call models.ToolCall) {
			defer wg.Done()
			results[i] = e.deps.Registry.Invoke(ctx, call)
		}(i, call)
	}
	wg.Wait()
	return results
}

func (e *Engine) systemPrompt(msg models.Message, sess *models.Session) string {
	var b strings.Builder
	b.WriteString("You are MedSense AI, a medical triage assistant with access to PubMed, ")
	b.WriteString("a clinical symptom database, WHO Disease Outbreak News, and a medical facility finder. ")
	b.WriteString("Provide evidence-based guidance in a warm, conversational tone and always remind users you are not a doctor.\n\n")
	b.WriteString("Workflow: search the medical literature for mentioned symptoms first, read the user's profile, ")
	b.WriteString("check disease outbreaks when a location is known, and silently record your conclusion with the final_diagnosis tool ")
	b.WriteString("before answering. Always pass the user id " + msg.UserID + " to tools that require it.\n")

	fmt.Fprintf(&b, "\nUser profile: age %s, gender %s.",
		orUnknown(sess.Profile.Age), orUnknownStr(sess.Profile.Gender))
	if sess.EmergencyFlag {
		b.WriteString("\nThis session was previously flagged as a possible emergency; keep urging professional care.")
	}
	return b.String()
}

func orUnknown(age int) string {
	if age == 0 {
		return "unknown"
	}
	return fmt.Sprintf("%d", age)
}

func orUnknownStr(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}

func (e *Engine) respond(msg models.Message, kind models.ResponseKind, text string) models.Response {
	return models.Response{UserID: msg.UserID, Platform: msg.Platform, Kind: kind, Text: text}
}

func (e *Engine) send(resp models.Response) {
	if e.deps.Dispatcher == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := e.deps.Dispatcher.Send(ctx, resp); err != nil {
		e.deps.Metrics.SendFailures.WithLabelValues(string(resp.Platform)).Inc()
		e.deps.Log.Error(err, "dispatch failed", "userID", resp.UserID, "platform", resp.Platform)
	}
}

// truncateWindow drops the oldest turns past the cap, cutting only at a
// user-turn boundary so a tool-call chain is never split.
func truncateWindow(window []models.ConversationTurn, max int) []models.ConversationTurn {
	if len(window) <= max {
		return window
	}
	for i := len(window) - max; i < len(window); i++ {
		if window[i].Role == models.RoleUser {
			return window[i:]
		}
	}
	return window
}
