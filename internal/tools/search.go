package tools

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/mohtashammurshid/jarvisd/internal/llm"
	"github.com/mohtashammurshid/jarvisd/internal/logging"
)

const tavilyEndpoint = "https://api.tavily.com/search"

// SearchSource is one attributed search hit.
type SearchSource struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

// SearchAnswer is the structured payload the search tool produces.
type SearchAnswer struct {
	Answer  string         `json:"answer"`
	Sources []SearchSource `json:"sources"`
}

// SearchTool searches the web via the Tavily API and synthesizes a short
// spoken-style answer from the retrieved snippets through the completion
// provider.
type SearchTool struct {
	apiKey     string
	maxResults int
	endpoint   string
	httpClient *http.Client
	synth      llm.Provider
	cache      *searchCache
}

// searchCache provides simple TTL-based caching to reduce API calls.
type searchCache struct {
	mu      sync.RWMutex
	entries map[string]*cacheEntry
	maxSize int
	ttl     time.Duration
}

type cacheEntry struct {
	result    *tavilyResponse
	expiresAt time.Time
}

type tavilyRequest struct {
	APIKey        string `json:"api_key"`
	Query         string `json:"query"`
	SearchDepth   string `json:"search_depth"`
	MaxResults    int    `json:"max_results"`
	IncludeAnswer bool   `json:"include_answer"`
}

type tavilyResponse struct {
	Answer  string         `json:"answer"`
	Query   string         `json:"query"`
	Results []tavilyResult `json:"results"`
}

type tavilyResult struct {
	Title   string  `json:"title"`
	URL     string  `json:"url"`
	Content string  `json:"content"`
	Score   float64 `json:"score"`
}

// SearchOption configures the SearchTool.
type SearchOption func(*SearchTool)

// WithSearchHTTPClient sets a custom HTTP client.
func WithSearchHTTPClient(client *http.Client) SearchOption {
	return func(s *SearchTool) { s.httpClient = client }
}

// WithSearchEndpoint overrides the Tavily endpoint (used by tests).
func WithSearchEndpoint(url string) SearchOption {
	return func(s *SearchTool) { s.endpoint = url }
}

// NewSearchTool creates the web search tool. synth may be nil, in which case
// the provider answer (or a snippet digest) is returned without synthesis.
func NewSearchTool(apiKey string, maxResults int, synth llm.Provider, opts ...SearchOption) *SearchTool {
	if maxResults < 1 || maxResults > 10 {
		maxResults = 5
	}
	s := &SearchTool{
		apiKey:     apiKey,
		maxResults: maxResults,
		endpoint:   tavilyEndpoint,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		synth:      synth,
		cache: &searchCache{
			entries: make(map[string]*cacheEntry),
			maxSize: 100,
			ttl:     5 * time.Minute,
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *SearchTool) Name() string { return "search" }

func (s *SearchTool) Description() string {
	return "Search the web for the given query and return a short spoken answer with sources."
}

func (s *SearchTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"query": {"type": "string", "description": "The query to search for."}
		},
		"required": ["query"]
	}`)
}

type searchArgs struct {
	Query string `json:"query"`
}

func (s *SearchTool) Execute(ctx context.Context, args json.RawMessage) (*Result, error) {
	var in searchArgs
	if len(args) > 0 {
		if err := json.Unmarshal(args, &in); err != nil {
			return nil, fmt.Errorf("parse arguments: %w", err)
		}
	}
	query := strings.TrimSpace(in.Query)
	if query == "" {
		return TextResult("I need a search query to look anything up."), nil
	}

	answer, err := s.Answer(ctx, query)
	if err != nil {
		return TextResult("The web search service is temporarily unavailable. Please try again in a moment."), nil
	}
	return StructuredResult(answer, answer.Answer), nil
}

// Answer performs the search and synthesis directly. A missing API key is
// reported in the answer text rather than as an error; only provider
// failures return one.
func (s *SearchTool) Answer(ctx context.Context, query string) (*SearchAnswer, error) {
	log := logging.WithComponent("search")

	if s.apiKey == "" {
		return &SearchAnswer{Answer: fmt.Sprintf(
			"I'm unable to search the web for %q because the search API key is not configured. "+
				"Add TAVILY_API_KEY to the environment to enable web search.", query)}, nil
	}

	resp, err := s.lookup(ctx, query)
	if err != nil {
		log.Error().Err(err).Str("query", query).Msg("search request failed")
		return nil, err
	}

	sources := make([]SearchSource, 0, len(resp.Results))
	for _, r := range resp.Results {
		title := r.Title
		if title == "" {
			title = "Untitled"
		}
		sources = append(sources, SearchSource{Title: title, URL: r.URL})
	}

	return &SearchAnswer{Answer: s.synthesize(ctx, query, resp), Sources: sources}, nil
}

// lookup performs the Tavily call, consulting the TTL cache first.
func (s *SearchTool) lookup(ctx context.Context, query string) (*tavilyResponse, error) {
	key := cacheKey(query)
	if cached := s.cache.get(key); cached != nil {
		return cached, nil
	}

	reqBody := &tavilyRequest{
		APIKey:        s.apiKey,
		Query:         query,
		SearchDepth:   "basic",
		MaxResults:    s.maxResults,
		IncludeAnswer: true,
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", s.endpoint, strings.NewReader(string(body)))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := s.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("api call failed: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("api returned status %d", httpResp.StatusCode)
	}

	var resp tavilyResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	s.cache.set(key, &resp)
	return &resp, nil
}

// synthesize turns raw search hits into one assistant-voiced paragraph.
func (s *SearchTool) synthesize(ctx context.Context, query string, resp *tavilyResponse) string {
	if s.synth == nil || !s.synth.Available() {
		if resp.Answer != "" {
			return resp.Answer
		}
		return snippetDigest(resp)
	}

	var sb strings.Builder
	for i, r := range resp.Results {
		fmt.Fprintf(&sb, "Source %d: %s\n%s\nURL: %s\n---\n\n", i+1, r.Title, truncateContent(r.Content, 500), r.URL)
	}

	prompt := fmt.Sprintf(
		"Based on the following search results, provide a clear, comprehensive answer to the user's query: %q\n\n"+
			"Search Results:\n%s\n"+
			"Synthesize this information into a coherent, helpful response. Be factual and concise. "+
			"You will be used to narrate the search results to the user, so talk like an assistant. "+
			"Do not include source links.", query, sb.String())

	out, err := s.synth.Chat(ctx, &llm.ChatRequest{
		Messages:    []llm.Message{{Role: "user", Content: prompt}},
		MaxTokens:   200,
		Temperature: 0.3,
	})
	if err != nil || out.Content == "" {
		if resp.Answer != "" {
			return resp.Answer
		}
		return snippetDigest(resp)
	}
	return out.Content
}

func snippetDigest(resp *tavilyResponse) string {
	if len(resp.Results) == 0 {
		return "I couldn't find anything useful for that query."
	}
	var sb strings.Builder
	for i, r := range resp.Results {
		if i >= 3 {
			break
		}
		fmt.Fprintf(&sb, "%s: %s ", r.Title, truncateContent(r.Content, 200))
	}
	return strings.TrimSpace(sb.String())
}

func truncateContent(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

func cacheKey(query string) string {
	normalized := strings.ToLower(strings.TrimSpace(query))
	hash := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(hash[:16])
}

func (c *searchCache) get(key string) *tavilyResponse {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[key]
	if !ok || time.Now().After(entry.expiresAt) {
		return nil
	}
	return entry.result
}

func (c *searchCache) set(key string, result *tavilyResponse) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.entries) >= c.maxSize {
		c.evictOldest()
	}
	c.entries[key] = &cacheEntry{
		result:    result,
		expiresAt: time.Now().Add(c.ttl),
	}
}

func (c *searchCache) evictOldest() {
	var oldestKey string
	var oldestTime time.Time
	for key, entry := range c.entries {
		if oldestKey == "" || entry.expiresAt.Before(oldestTime) {
			oldestKey = key
			oldestTime = entry.expiresAt
		}
	}
	if oldestKey != "" {
		delete(c.entries, oldestKey)
	}
}
