package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/medsense-ai/medsense/internal/storage"
)

// Outbreak is one disease outbreak event relevant to the user's country.
type Outbreak struct {
	Disease  string `json:"disease"`
	Location string `json:"location"`
	Date     string `json:"date"`
	Summary  string `json:"summary"`
}

// OutbreakFeed fetches the WHO Disease Outbreak News feed.
type OutbreakFeed struct {
	feedURL    string
	httpClient *http.Client
}

// NewOutbreakFeed creates a feed client.
func NewOutbreakFeed(feedURL string) *OutbreakFeed {
	return &OutbreakFeed{
		feedURL:    feedURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// Fetch returns current outbreak events.
func (f *OutbreakFeed) Fetch(ctx context.Context) ([]Outbreak, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.feedURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("outbreak feed returned status %d", resp.StatusCode)
	}

	var body struct {
		Events []struct {
			Disease       string `json:"disease"`
			Location      string `json:"location"`
			DatePublished string `json:"date_published"`
			Summary       string `json:"summary"`
		} `json:"events"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, err
	}

	outbreaks := make([]Outbreak, 0, len(body.Events))
	for _, ev := range body.Events {
		summary := ev.Summary
		if len(summary) > 200 {
			summary = summary[:200] + "..."
		}
		outbreaks = append(outbreaks, Outbreak{
			Disease:  ev.Disease,
			Location: ev.Location,
			Date:     ev.DatePublished,
			Summary:  summary,
		})
	}
	return outbreaks, nil
}

// OutbreakTool checks the outbreak feed against the user's stored country.
// Pure read.
type OutbreakTool struct {
	store *storage.Store
	feed  *OutbreakFeed
}

// NewOutbreakTool creates the outbreak check tool.
func NewOutbreakTool(store *storage.Store, feed *OutbreakFeed) *OutbreakTool {
	return &OutbreakTool{store: store, feed: feed}
}

func (t *OutbreakTool) Spec() Spec {
	return Spec{
		Name:        "check_disease_outbreaks",
		Description: "Check for disease outbreaks in the user's stored country using WHO Disease Outbreak News.",
		Parameters: objectSchema(map[string]interface{}{
			"user_id": map[string]interface{}{"type": "string", "description": "User identifier"},
		}, "user_id"),
	}
}

func (t *OutbreakTool) Call(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	userID := stringArg(args, "user_id")
	if userID == "" {
		return nil, fmt.Errorf("user_id is required")
	}

	country, err := t.store.GetCountry(ctx, userID)
	if err != nil {
		return nil, err
	}
	if country == "" {
		return map[string]interface{}{
			"user_country":    "",
			"outbreaks_found": 0,
			"outbreaks":       []Outbreak{},
			"note":            "no country on record for this user; ask them to mention their country",
		}, nil
	}

	all, err := t.feed.Fetch(ctx)
	if err != nil {
		return nil, err
	}

	relevant := make([]Outbreak, 0)
	for _, ob := range all {
		if strings.Contains(strings.ToLower(ob.Location), strings.ToLower(country)) {
			relevant = append(relevant, ob)
		}
	}

	return map[string]interface{}{
		"user_country":    country,
		"outbreaks_found": len(relevant),
		"outbreaks":       relevant,
		"source":          "WHO Disease Outbreak News",
	}, nil
}
