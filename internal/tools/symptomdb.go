package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Condition is one candidate condition from the clinical symptom database.
type Condition struct {
	Name        string  `json:"name"`
	Probability float64 `json:"probability"`
}

// SymptomDBClient drives the EndlessMedical analysis session protocol:
// init a session, accept terms, push features, analyze.
type SymptomDBClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewSymptomDBClient creates a clinical database client.
func NewSymptomDBClient(baseURL string) *SymptomDBClient {
	return &SymptomDBClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 20 * time.Second},
	}
}

// Analyze returns candidate conditions for free-text symptoms plus optional
// demographics.
func (c *SymptomDBClient) Analyze(ctx context.Context, symptoms string, age int, gender string) ([]Condition, error) {
	var initResp struct {
		Status    string `json:"status"`
		SessionID string `json:"SessionID"`
	}
	if err := c.getJSON(ctx, "/InitSession", nil, &initResp); err != nil {
		return nil, fmt.Errorf("init session: %w", err)
	}
	if initResp.SessionID == "" {
		return nil, fmt.Errorf("no session id from symptom database")
	}
	sid := initResp.SessionID

	terms := url.Values{"SessionID": {sid}, "passphrase": {termsPassphrase}}
	if err := c.postForm(ctx, "/AcceptTermsOfUse", terms); err != nil {
		return nil, fmt.Errorf("accept terms: %w", err)
	}

	if age > 0 {
		c.updateFeature(ctx, sid, "Age", strconv.Itoa(age))
	}
	if gender != "" {
		// The API encodes gender as 2 (male) / 3 (female).
		switch gender {
		case "male":
			c.updateFeature(ctx, sid, "Gender", "2")
		case "female":
			c.updateFeature(ctx, sid, "Gender", "3")
		}
	}
	c.updateFeature(ctx, sid, "presentation", symptoms)

	var analyzeResp struct {
		Status   string `json:"status"`
		Diseases []map[string]string `json:"Diseases"`
	}
	if err := c.getJSON(ctx, "/Analyze", url.Values{"SessionID": {sid}}, &analyzeResp); err != nil {
		return nil, fmt.Errorf("analyze: %w", err)
	}

	var conditions []Condition
	for _, entry := range analyzeResp.Diseases {
		for name, prob := range entry {
			p, _ := strconv.ParseFloat(prob, 64)
			conditions = append(conditions, Condition{Name: name, Probability: p})
		}
	}
	return conditions, nil
}

const termsPassphrase = "I have read, understood and I accept and agree to comply with the Terms of Use of EndlessMedicalAPI and Endless Medical services. The Terms of Use are available on endlessmedical.com"

func (c *SymptomDBClient) updateFeature(ctx context.Context, sid, name, value string) {
	// Individual feature failures degrade the analysis but don't abort it.
	params := url.Values{"SessionID": {sid}, "name": {name}, "value": {value}}
	_ = c.postForm(ctx, "/UpdateFeature", params)
}

func (c *SymptomDBClient) getJSON(ctx context.Context, path string, params url.Values, out interface{}) error {
	u := c.baseURL + path
	if params != nil {
		u += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("symptom database returned status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *SymptomDBClient) postForm(ctx context.Context, path string, params url.Values) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path+"?"+params.Encode(), nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("symptom database returned status %d", resp.StatusCode)
	}
	return nil
}

// SymptomDBTool searches the clinical database for candidate conditions.
// Pure read from the caller's perspective.
type SymptomDBTool struct {
	client *SymptomDBClient
}

// NewSymptomDBTool creates the clinical database search tool.
func NewSymptomDBTool(client *SymptomDBClient) *SymptomDBTool {
	return &SymptomDBTool{client: client}
}

func (t *SymptomDBTool) Spec() Spec {
	return Spec{
		Name:        "search_medical_database",
		Description: "Search a clinical symptom database for possible conditions matching free-text symptoms, optionally refined by age and gender.",
		Parameters: objectSchema(map[string]interface{}{
			"symptoms": map[string]interface{}{"type": "string", "description": "Symptoms to search for"},
			"age":      map[string]interface{}{"type": "integer", "description": "Patient age"},
			"gender":   map[string]interface{}{"type": "string", "description": "Patient gender"},
		}, "symptoms"),
	}
}

func (t *SymptomDBTool) Call(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	symptoms := stringArg(args, "symptoms")
	if symptoms == "" {
		return nil, fmt.Errorf("symptoms is required")
	}
	age := intArg(args, "age", 0)
	gender := stringArg(args, "gender")

	conditions, err := t.client.Analyze(ctx, symptoms, age, gender)
	if err != nil {
		return nil, err
	}
	if len(conditions) == 0 {
		return map[string]interface{}{
			"status":            "no_results",
			"symptoms_analyzed": symptoms,
		}, nil
	}
	return map[string]interface{}{
		"status":            "success",
		"symptoms_analyzed": symptoms,
		"conditions":        conditions,
	}, nil
}
