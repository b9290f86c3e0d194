package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Client is a Searcher backed by an HTTP semantic-search service.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a search client. An empty baseURL is invalid; a nil
// httpClient uses http.DefaultClient.
func NewClient(apiKey, baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		apiKey:     strings.TrimSpace(apiKey),
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
	}
}

// Configured reports whether the client has enough configuration to be used.
func (c *Client) Configured() bool {
	return c != nil && c.baseURL != ""
}

// Search queries the service for grounding candidates.
func (c *Client) Search(ctx context.Context, query string, scope Scope, limit int) ([]Candidate, error) {
	if !c.Configured() {
		return nil, fmt.Errorf("search endpoint is not configured")
	}
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("query is required")
	}
	if limit <= 0 {
		limit = 5
	}

	body, err := json.Marshal(map[string]any{
		"query":       query,
		"project_ref": scope.ProjectRef,
		"org_ref":     scope.OrgRef,
		"max_results": limit,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/search", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 8192))
		return nil, fmt.Errorf("search error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}

	var decoded struct {
		Results []struct {
			ID      string  `json:"id"`
			Title   string  `json:"title"`
			Content string  `json:"content"`
			Score   float64 `json:"score"`
		} `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	candidates := make([]Candidate, 0, len(decoded.Results))
	for _, r := range decoded.Results {
		candidates = append(candidates, Candidate{
			ContentID:  r.ID,
			Title:      r.Title,
			Snippet:    r.Content,
			Similarity: r.Score,
		})
	}
	return candidates, nil
}

var _ Searcher = (*Client)(nil)
