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

// Article is one literature search hit.
type Article struct {
	PMID    string `json:"pmid"`
	Title   string `json:"title"`
	Journal string `json:"journal"`
	Date    string `json:"date"`
	URL     string `json:"url"`
}

// PubMedClient talks to the NCBI E-utilities search endpoints.
type PubMedClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewPubMedClient creates a literature search client.
func NewPubMedClient(baseURL string) *PubMedClient {
	return &PubMedClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

// Search runs an esearch then esummary round trip and returns article
// summaries, newest first.
func (c *PubMedClient) Search(ctx context.Context, query string, maxResults int) ([]Article, error) {
	params := url.Values{}
	params.Set("db", "pubmed")
	params.Set("term", query)
	params.Set("retmode", "json")
	params.Set("retmax", strconv.Itoa(maxResults))
	params.Set("sort", "pub_date")

	var search struct {
		ESearchResult struct {
			IDList []string `json:"idlist"`
		} `json:"esearchresult"`
	}
	if err := c.getJSON(ctx, "/esearch.fcgi?"+params.Encode(), &search); err != nil {
		return nil, err
	}
	ids := search.ESearchResult.IDList
	if len(ids) == 0 {
		return []Article{}, nil
	}

	sumParams := url.Values{}
	sumParams.Set("db", "pubmed")
	sumParams.Set("retmode", "json")
	for _, id := range ids {
		sumParams.Add("id", id)
	}

	var summary struct {
		Result map[string]json.RawMessage `json:"result"`
	}
	if err := c.getJSON(ctx, "/esummary.fcgi?"+sumParams.Encode(), &summary); err != nil {
		return nil, err
	}

	articles := make([]Article, 0, len(ids))
	for _, id := range ids {
		raw, ok := summary.Result[id]
		if !ok {
			continue
		}
		var doc struct {
			Title       string `json:"title"`
			FullJournal string `json:"fulljournalname"`
			PubDate     string `json:"pubdate"`
		}
		if err := json.Unmarshal(raw, &doc); err != nil {
			continue
		}
		articles = append(articles, Article{
			PMID:    id,
			Title:   doc.Title,
			Journal: doc.FullJournal,
			Date:    doc.PubDate,
			URL:     "https://pubmed.ncbi.nlm.nih.gov/" + id + "/",
		})
	}
	return articles, nil
}

func (c *PubMedClient) getJSON(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("pubmed returned status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// LiteratureTool searches medical literature. Pure read.
type LiteratureTool struct {
	client *PubMedClient
}

// NewLiteratureTool creates the literature search tool.
func NewLiteratureTool(client *PubMedClient) *LiteratureTool {
	return &LiteratureTool{client: client}
}

func (t *LiteratureTool) Spec() Spec {
	return Spec{
		Name:        "web_search_medical",
		Description: "Search PubMed for medical research relevant to a query. Returns article titles, journals and links.",
		Parameters: objectSchema(map[string]interface{}{
			"query":       map[string]interface{}{"type": "string", "description": "Search query"},
			"max_results": map[string]interface{}{"type": "integer", "description": "Maximum number of results", "default": 5},
		}, "query"),
	}
}

func (t *LiteratureTool) Call(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	query := stringArg(args, "query")
	if query == "" {
		return nil, fmt.Errorf("query is required")
	}
	maxResults := intArg(args, "max_results", 5)

	articles, err := t.client.Search(ctx, query, maxResults)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"query":          query,
		"results_count":  len(articles),
		"search_results": articles,
	}, nil
}
