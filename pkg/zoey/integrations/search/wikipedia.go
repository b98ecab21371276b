package search

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// WikipediaURL is the English Wikipedia endpoint.
const WikipediaURL = "https://en.wikipedia.org"

// Wikipedia fetches page summaries from the REST API.
type Wikipedia struct {
	client *resty.Client
}

// NewWikipedia creates a Wikipedia searcher. An empty baseURL uses
// WikipediaURL.
func NewWikipedia(baseURL string) *Wikipedia {
	if baseURL == "" {
		baseURL = WikipediaURL
	}
	return &Wikipedia{
		client: resty.New().
			SetBaseURL(baseURL).
			SetHeader("User-Agent", "zoey/1.0").
			SetTimeout(15 * time.Second),
	}
}

type wikiSummary struct {
	Title       string `json:"title"`
	Extract     string `json:"extract"`
	ContentURLs struct {
		Desktop struct {
			Page string `json:"page"`
		} `json:"desktop"`
	} `json:"content_urls"`
}

// Summary returns the page extract for query, followed by the page link.
func (w *Wikipedia) Summary(ctx context.Context, query string) (string, error) {
	title := strings.ReplaceAll(strings.TrimSpace(query), " ", "_")

	var sum wikiSummary
	resp, err := w.client.R().
		SetContext(ctx).
		SetPathParam("title", title).
		Get("/api/rest_v1/page/summary/{title}")
	if err != nil {
		return "", fmt.Errorf("wikipedia request: %w", err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return fmt.Sprintf("No summary found for '%s'.", query), nil
	}
	if resp.StatusCode() != http.StatusOK {
		return "", fmt.Errorf("wikipedia search failed (status %d)", resp.StatusCode())
	}
	if err := json.Unmarshal(resp.Body(), &sum); err != nil {
		return "", fmt.Errorf("decoding wikipedia summary: %w", err)
	}
	if sum.Extract == "" {
		return fmt.Sprintf("No summary found for '%s'.", query), nil
	}
	if link := sum.ContentURLs.Desktop.Page; link != "" {
		return sum.Extract + "\n" + link, nil
	}
	return sum.Extract, nil
}
