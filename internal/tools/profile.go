package tools

import (
	"context"
	"fmt"

	"github.com/medsense-ai/medsense/internal/storage"
)

// ProfileReadTool retrieves a user's stored profile, recent history and
// country. Pure read.
type ProfileReadTool struct {
	store *storage.Store
}

// NewProfileReadTool creates the profile read tool.
func NewProfileReadTool(store *storage.Store) *ProfileReadTool {
	return &ProfileReadTool{store: store}
}

func (t *ProfileReadTool) Spec() Spec {
	return Spec{
		Name:        "get_user_profile",
		Description: "Retrieve the user's profile (age, gender, platform), recent medical history, and country from the database.",
		Parameters: objectSchema(map[string]interface{}{
			"user_id": map[string]interface{}{"type": "string", "description": "User identifier"},
		}, "user_id"),
	}
}

func (t *ProfileReadTool) Call(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	userID := stringArg(args, "user_id")
	if userID == "" {
		return nil, fmt.Errorf("user_id is required")
	}

	profile, err := t.store.GetProfile(ctx, userID)
	if err != nil {
		return nil, err
	}
	history, err := t.store.RecentDiagnoses(ctx, userID, 10)
	if err != nil {
		return nil, err
	}
	country, err := t.store.GetCountry(ctx, userID)
	if err != nil {
		return nil, err
	}

	out := map[string]interface{}{
		"user_id":         userID,
		"country":         country,
		"history_entries": len(history),
		"medical_history": history,
	}
	if profile == nil {
		out["profile"] = nil
	} else {
		out["profile"] = map[string]interface{}{
			"age":      profile.Age,
			"gender":   profile.Gender,
			"platform": profile.Platform,
		}
	}
	return out, nil
}

// ProfileWriteTool saves demographic data. Mutating but idempotent for
// identical args.
type ProfileWriteTool struct {
	store *storage.Store
}

// NewProfileWriteTool creates the profile write tool.
func NewProfileWriteTool(store *storage.Store) *ProfileWriteTool {
	return &ProfileWriteTool{store: store}
}

func (t *ProfileWriteTool) Spec() Spec {
	return Spec{
		Name:        "save_user_profile",
		Description: "Save the user's profile information (age, gender, platform) to the database.",
		Parameters: objectSchema(map[string]interface{}{
			"user_id":  map[string]interface{}{"type": "string", "description": "User identifier"},
			"age":      map[string]interface{}{"type": "integer", "description": "User's age"},
			"gender":   map[string]interface{}{"type": "string", "description": "User's gender"},
			"platform": map[string]interface{}{"type": "string", "description": "Platform (whatsapp/telegram)"},
		}, "user_id"),
		Mutating: true,
	}
}

func (t *ProfileWriteTool) Call(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	userID := stringArg(args, "user_id")
	if userID == "" {
		return nil, fmt.Errorf("user_id is required")
	}
	age := intArg(args, "age", 0)
	gender := stringArg(args, "gender")
	platform := stringArg(args, "platform")

	if err := t.store.SaveProfile(ctx, userID, age, gender, platform); err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"status":  "success",
		"user_id": userID,
		"saved_data": map[string]interface{}{
			"age":      age,
			"gender":   gender,
			"platform": platform,
		},
	}, nil
}
