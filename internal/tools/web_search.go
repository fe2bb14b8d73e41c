package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/abadojack/whatlanggo"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"
	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
	"golang.org/x/time/rate"

	"github.com/MimeLyc/reactagent/internal/memory"
	"github.com/MimeLyc/reactagent/pkg/log"
	"github.com/MimeLyc/reactagent/pkg/textutil"
)

const (
	WebSearchName = "web_search"

	defaultTavilyURL      = "https://api.tavily.com/search"
	defaultSearchResults  = 5
	maxSearchResults      = 10
	defaultSearchCacheTTL = 10 * time.Minute
	searchCacheSize       = 256
	maxResultContent      = 500
)

// WebSearchTool implements web search using Tavily API
type WebSearchTool struct {
	apiKey     string
	apiURL     string
	httpClient *http.Client
	limiter    *rate.Limiter
	cache      *expirable.LRU[string, *TavilyResponse]
	group      singleflight.Group
	cacheTTL   time.Duration
}

// WebSearchOption configures a WebSearchTool
type WebSearchOption func(*WebSearchTool)

// WithHTTPClient replaces the default HTTP client
func WithHTTPClient(c *http.Client) WebSearchOption {
	return func(t *WebSearchTool) {
		if c != nil {
			t.httpClient = c
		}
	}
}

// WithRateLimit throttles outbound search requests. A non-positive rps disables throttling.
func WithRateLimit(rps float64, burst int) WebSearchOption {
	return func(t *WebSearchTool) {
		if rps <= 0 {
			t.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		t.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithCacheTTL sets how long search responses are reused. Zero disables the cache.
func WithCacheTTL(ttl time.Duration) WebSearchOption {
	return func(t *WebSearchTool) {
		t.cacheTTL = ttl
	}
}

// TavilyRequest represents a request to Tavily API
type TavilyRequest struct {
	APIKey        string `json:"api_key"`
	Query         string `json:"query"`
	SearchDepth   string `json:"search_depth,omitempty"`
	IncludeAnswer bool   `json:"include_answer,omitempty"`
	MaxResults    int    `json:"max_results,omitempty"`
}

// TavilyResponse represents a response from Tavily API
type TavilyResponse struct {
	Query   string         `json:"query"`
	Answer  string         `json:"answer,omitempty"`
	Results []TavilyResult `json:"results"`
}

// TavilyResult represents a single search result
type TavilyResult struct {
	Title   string  `json:"title"`
	URL     string  `json:"url"`
	Content string  `json:"content"`
	Score   float64 `json:"score"`
}

// NewWebSearchTool creates a new web search tool
func NewWebSearchTool(apiKey, apiURL string, opts ...WebSearchOption) *WebSearchTool {
	if apiURL == "" {
		apiURL = defaultTavilyURL
	}
	t := &WebSearchTool{
		apiKey: apiKey,
		apiURL: apiURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		cacheTTL: defaultSearchCacheTTL,
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.cacheTTL > 0 {
		t.cache = expirable.NewLRU[string, *TavilyResponse](searchCacheSize, nil, t.cacheTTL)
	}
	return t
}

func (t *WebSearchTool) Definition() Definition {
	return Definition{
		Name: WebSearchName,
		Description: `Search the web for current facts, documentation and news.
Use this tool when the answer depends on information that may have changed recently
or that is not available in the conversation. Returns a short summary and the top results.`,
		Params: []ParamSpec{
			{Name: "query", Type: TypeString, Required: true,
				Description: "The search query. Be specific."},
			{Name: "language", Type: TypeString,
				Description: "BCP-47 tag of the language results should be in (e.g. 'en', 'zh-Hans'). Detected from the query when omitted."},
			{Name: "max_results", Type: TypeInteger,
				Description: "Number of results to return (1-10, default 5)."},
		},
	}
}

func (t *WebSearchTool) Execute(ctx context.Context, params Parameters, mem memory.Sink) (Result, error) {
	query, err := params.RequireString("query")
	if err != nil {
		return ErrorResult("%v", err), nil
	}

	tag, explicit, err := t.resolveLanguage(params.String("language", ""), query)
	if err != nil {
		return ErrorResult("invalid language: %v", err), nil
	}

	maxResults := params.Int("max_results", defaultSearchResults)
	if maxResults < 1 {
		maxResults = 1
	}
	if maxResults > maxSearchResults {
		maxResults = maxSearchResults
	}

	results, err := t.search(ctx, buildQuery(query, tag, explicit), maxResults)
	if err != nil {
		return ErrorResult("search failed: %v", err), nil
	}

	summary := fmt.Sprintf("query=%q language=%s results=%d", query, tag, len(results.Results))
	if err := mem.AddToModule(ctx, WebSearchName, "tool", summary); err != nil {
		log.Warn("web_search: failed to write memory: %v", err)
	}

	return Result{Content: formatResults(results, tag)}, nil
}

// resolveLanguage parses the explicit language or detects one from the query.
// explicit reports whether the caller asked for the language.
func (t *WebSearchTool) resolveLanguage(raw, query string) (language.Tag, bool, error) {
	if strings.TrimSpace(raw) != "" {
		tag, err := language.Parse(strings.TrimSpace(raw))
		if err != nil {
			return language.Und, false, err
		}
		return tag, true, nil
	}

	code := whatlanggo.DetectLang(query).Iso6391()
	if code == "" {
		return language.Und, false, nil
	}
	tag, err := language.Parse(code)
	if err != nil {
		return language.Und, false, nil
	}
	return tag, false, nil
}

// buildQuery asks for results in an explicitly requested language. A detected
// language already matches the query, so the query is left alone.
func buildQuery(query string, tag language.Tag, explicit bool) string {
	if !explicit || tag == language.Und {
		return query
	}
	base, _ := tag.Base()
	if base.String() == "en" {
		return query
	}
	return fmt.Sprintf("%s (results in %s)", query, display.English.Tags().Name(tag))
}

func (t *WebSearchTool) search(ctx context.Context, query string, maxResults int) (*TavilyResponse, error) {
	key := query + "|" + strconv.Itoa(maxResults)
	if t.cache != nil {
		if cached, ok := t.cache.Get(key); ok {
			return cached, nil
		}
	}

	v, err, _ := t.group.Do(key, func() (any, error) {
		resp, err := t.doSearch(ctx, query, maxResults)
		if err != nil {
			return nil, err
		}
		if t.cache != nil {
			t.cache.Add(key, resp)
		}
		return resp, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*TavilyResponse), nil
}

func (t *WebSearchTool) doSearch(ctx context.Context, query string, maxResults int) (*TavilyResponse, error) {
	if t.limiter != nil {
		if err := t.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit: %w", err)
		}
	}

	request := TavilyRequest{
		APIKey:        t.apiKey,
		Query:         query,
		SearchDepth:   "basic",
		IncludeAnswer: true,
		MaxResults:    maxResults,
	}

	jsonData, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.apiURL, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
	}

	var tavilyResp TavilyResponse
	if err := json.Unmarshal(body, &tavilyResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	return &tavilyResp, nil
}

func formatResults(resp *TavilyResponse, tag language.Tag) string {
	var result strings.Builder

	result.WriteString(fmt.Sprintf("Search Query: %s\n", resp.Query))
	if tag != language.Und {
		result.WriteString(fmt.Sprintf("Language: %s\n", tag))
	}
	result.WriteString("\n")

	if resp.Answer != "" {
		result.WriteString(fmt.Sprintf("Summary: %s\n\n", resp.Answer))
	}

	if len(resp.Results) == 0 {
		result.WriteString("No results found.\n")
		return result.String()
	}

	result.WriteString("Search Results:\n")
	for i, r := range resp.Results {
		result.WriteString(fmt.Sprintf("\n%d. %s\n", i+1, r.Title))
		result.WriteString(fmt.Sprintf("   URL: %s\n", r.URL))
		result.WriteString(fmt.Sprintf("   Content: %s\n", textutil.Truncate(r.Content, maxResultContent)))
	}

	return result.String()
}
