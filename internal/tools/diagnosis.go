package tools

import (
	"context"
	"fmt"
	"time"

	"github.com/medsense-ai/medsense/internal/storage"
)

// DiagnosisName identifies the append-only persistence tool; the engine
// watches for it to know a record was written this turn.
const DiagnosisName = "final_diagnosis"

// DiagnosisTool persists a final diagnosis to the user's history and, when
// enabled, schedules the 24-hour follow-up. Mutating and append-only: it is
// meaningful to call at most once per turn, and records are never rewritten.
type DiagnosisTool struct {
	store         *storage.Store
	followUpDelay time.Duration
}

// NewDiagnosisTool creates the diagnosis persistence tool. A zero delay
// disables follow-up scheduling.
func NewDiagnosisTool(store *storage.Store, followUpDelay time.Duration) *DiagnosisTool {
	return &DiagnosisTool{store: store, followUpDelay: followUpDelay}
}

func (t *DiagnosisTool) Spec() Spec {
	return Spec{
		Name:        DiagnosisName,
		Description: "Save the final diagnosis to the user's medical history. Call once, after the analysis is complete.",
		Parameters: objectSchema(map[string]interface{}{
			"user_id":    map[string]interface{}{"type": "string", "description": "User identifier"},
			"symptoms":   map[string]interface{}{"type": "string", "description": "Patient symptoms"},
			"diagnosis":  map[string]interface{}{"type": "string", "description": "Final diagnosis text"},
			"confidence": map[string]interface{}{"type": "number", "description": "Confidence level 0-1"},
		}, "user_id", "symptoms", "diagnosis", "confidence"),
		Mutating: true,
	}
}

func (t *DiagnosisTool) Call(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	userID := stringArg(args, "user_id")
	symptoms := stringArg(args, "symptoms")
	conclusion := stringArg(args, "diagnosis")
	confidence, _ := numberArg(args, "confidence")
	if userID == "" || symptoms == "" || conclusion == "" {
		return nil, fmt.Errorf("user_id, symptoms and diagnosis are required")
	}

	platform := "unknown"
	if profile, err := t.store.GetProfile(ctx, userID); err == nil && profile != nil && profile.Platform != "" {
		platform = profile.Platform
	}

	id, err := t.store.SaveDiagnosis(ctx, &storage.Diagnosis{
		UserID:     userID,
		Platform:   platform,
		Symptoms:   symptoms,
		Conclusion: conclusion,
		Confidence: confidence,
	})
	if err != nil {
		return nil, err
	}

	followUpScheduled := false
	if t.followUpDelay > 0 {
		err := t.store.ScheduleFollowUp(ctx, &storage.FollowUpReminder{
			UserID:      userID,
			Platform:    platform,
			Symptoms:    symptoms,
			DiagnosisID: id,
			ScheduledAt: time.Now().Add(t.followUpDelay),
		})
		followUpScheduled = err == nil
	}

	return map[string]interface{}{
		"status":              "diagnosis_saved",
		"user_id":             userID,
		"diagnosis_id":        id,
		"symptoms":            symptoms,
		"diagnosis":           conclusion,
		"confidence":          confidence,
		"follow_up_scheduled": followUpScheduled,
	}, nil
}
