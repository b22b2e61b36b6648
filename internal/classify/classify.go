package classify

import (
	"context"
	"strings"
	"time"

	"github.com/go-logr/logr"

	"github.com/medsense-ai/medsense/internal/models"
)

// Policy holds the matching rules for the fast urgency pre-check. The exact
// trigger phrases are deliberately injectable so they can be tuned and tested
// independently of the orchestration loop.
type Policy struct {
	// Phrases matched as substrings of the lowercased message text.
	Phrases []string
	// Keywords that only trigger in combination with a severity qualifier.
	Qualified  []string
	Qualifiers []string
}

// DefaultPolicy returns the built-in trigger set.
func DefaultPolicy() Policy {
	return Policy{
		Phrases: []string{
			"emergency",
			"chest pain",
			"can't breathe",
			"cannot breathe",
			"not breathing",
			"difficulty breathing",
			"shortness of breath",
			"unconscious",
			"passed out",
			"heart attack",
			"stroke",
			"seizure",
			"choking",
			"severe bleeding",
			"bleeding heavily",
			"overdose",
			"suicidal",
			"suicide",
			"anaphylaxis",
			"allergic shock",
		},
		Qualified:  []string{"pain", "bleeding", "headache", "burn"},
		Qualifiers: []string{"severe", "unbearable", "worst", "extreme", "intense"},
	}
}

// Match reports whether the text trips the policy, plus the phrase that did.
func (p Policy) Match(text string) (bool, string) {
	lower := strings.ToLower(text)
	for _, phrase := range p.Phrases {
		if strings.Contains(lower, phrase) {
			return true, phrase
		}
	}
	for _, kw := range p.Qualified {
		if !strings.Contains(lower, kw) {
			continue
		}
		for _, q := range p.Qualifiers {
			if strings.Contains(lower, q) {
				return true, q + " " + kw
			}
		}
	}
	return false, ""
}

// UrgencyChecker is an optional lightweight reasoning call with a narrow
// prompt. It must never run the full tool loop.
type UrgencyChecker interface {
	CheckUrgent(ctx context.Context, text string) (bool, error)
}

// Result of a classification.
type Result struct {
	Urgent bool
	Reason string
}

// Classifier runs before the orchestration loop. It is a pure function of
// (message, session) plus the opaque checker call; it does not mutate the
// session itself.
type Classifier struct {
	policy  Policy
	checker UrgencyChecker
	timeout time.Duration
	log     logr.Logger
}

// New creates a classifier. checker may be nil to disable the LLM assist.
func New(policy Policy, checker UrgencyChecker, timeout time.Duration, log logr.Logger) *Classifier {
	if timeout == 0 {
		timeout = 3 * time.Second
	}
	return &Classifier{policy: policy, checker: checker, timeout: timeout, log: log}
}

// Classify flags a message as urgent before any tool loop runs. Latency is
// bounded by the checker timeout and independent of tool availability.
func (c *Classifier) Classify(ctx context.Context, msg models.Message, sess *models.Session) Result {
	if msg.Text == "" {
		return Result{}
	}

	if hit, phrase := c.policy.Match(msg.Text); hit {
		return Result{Urgent: true, Reason: "matched trigger phrase: " + phrase}
	}

	if sess != nil && sess.EmergencyFlag {
		// A session already in emergency mode stays urgent until reset.
		return Result{Urgent: true, Reason: "session already flagged urgent"}
	}

	if c.checker != nil {
		checkCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()
		urgent, err := c.checker.CheckUrgent(checkCtx, msg.Text)
		if err != nil {
			// The fast path must not block on a slow or failing checker.
			c.log.V(1).Info("urgency checker unavailable", "error", err.Error())
			return Result{}
		}
		if urgent {
			return Result{Urgent: true, Reason: "urgency checker"}
		}
	}

	return Result{}
}
