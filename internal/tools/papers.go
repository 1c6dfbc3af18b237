package tools

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/mohtashammurshid/jarvisd/internal/logging"
)

const arxivEndpoint = "http://export.arxiv.org/api/query"

// arxivIDPattern matches modern (2301.01234) and legacy (hep-th/9901001)
// arXiv identifiers, with or without a version suffix.
var arxivIDPattern = regexp.MustCompile(`^(\d{4}\.\d{4,5}|[a-z-]+(\.[A-Z]{2})?/\d{7})(v\d+)?$`)

// PapersTool looks up academic papers on arXiv and summarizes the top hits.
type PapersTool struct {
	endpoint   string
	httpClient *http.Client
}

// PapersOption configures the PapersTool.
type PapersOption func(*PapersTool)

// WithPapersHTTPClient sets a custom HTTP client.
func WithPapersHTTPClient(client *http.Client) PapersOption {
	return func(p *PapersTool) { p.httpClient = client }
}

// WithPapersEndpoint overrides the arXiv endpoint (used by tests).
func WithPapersEndpoint(url string) PapersOption {
	return func(p *PapersTool) { p.endpoint = url }
}

func NewPapersTool(opts ...PapersOption) *PapersTool {
	p := &PapersTool{
		endpoint:   arxivEndpoint,
		httpClient: &http.Client{Timeout: 20 * time.Second},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *PapersTool) Name() string { return "paper_lookup" }

func (p *PapersTool) Description() string {
	return "Look up academic papers on arXiv by topic or by identifier and return titles, authors, and abstracts."
}

func (p *PapersTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"query": {"type": "string", "description": "Topic, title, or author to search for."},
			"id": {"type": "string", "description": "An arXiv identifier, like 2301.01234 or hep-th/9901001. Takes precedence over query."},
			"max_results": {"type": "integer", "description": "How many papers to return, between 1 and 10. Defaults to 5."}
		}
	}`)
}

type papersArgs struct {
	Query      string `json:"query"`
	ID         string `json:"id"`
	MaxResults int    `json:"max_results"`
}

// atomFeed models the subset of the arXiv Atom response the tool reads.
type atomFeed struct {
	XMLName xml.Name    `xml:"feed"`
	Entries []atomEntry `xml:"entry"`
}

type atomEntry struct {
	Title     string       `xml:"title"`
	Summary   string       `xml:"summary"`
	Published string       `xml:"published"`
	ID        string       `xml:"id"`
	Authors   []atomAuthor `xml:"author"`
}

type atomAuthor struct {
	Name string `xml:"name"`
}

func (p *PapersTool) Execute(ctx context.Context, args json.RawMessage) (*Result, error) {
	log := logging.WithComponent("papers")

	var in papersArgs
	if len(args) > 0 {
		if err := json.Unmarshal(args, &in); err != nil {
			return nil, fmt.Errorf("parse arguments: %w", err)
		}
	}
	id := strings.TrimSpace(in.ID)
	query := strings.TrimSpace(in.Query)
	if id == "" && arxivIDPattern.MatchString(query) {
		id = query
	}
	if id == "" && query == "" {
		return TextResult("I need a topic, title, or arXiv identifier to look papers up for."), nil
	}
	subject := query
	if id != "" {
		subject = id
	}
	max := in.MaxResults
	if max < 1 || max > 10 {
		max = 5
	}

	feed, err := p.fetch(ctx, id, query, max)
	if err != nil {
		log.Error().Err(err).Str("subject", subject).Msg("arxiv request failed")
		return TextResult("The paper lookup service is temporarily unavailable. Please try again in a moment."), nil
	}
	if len(feed.Entries) == 0 {
		return TextResult(fmt.Sprintf("I couldn't find any papers on arXiv matching %q.", subject)), nil
	}
	// arXiv occasionally ignores max_results; enforce it here too.
	entries := feed.Entries
	if len(entries) > max {
		entries = entries[:max]
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "I found %d papers on %s. ", len(entries), subject)
	for i, e := range entries {
		title := collapseWhitespace(e.Title)
		fmt.Fprintf(&sb, "Paper %d: %s, by %s", i+1, title, authorLine(e.Authors))
		if year := publishedYear(e.Published); year != "" {
			fmt.Fprintf(&sb, " (%s)", year)
		}
		fmt.Fprintf(&sb, ". %s ", abstractSnippet(e.Summary))
	}
	return TextResult(strings.TrimSpace(sb.String())), nil
}

func (p *PapersTool) fetch(ctx context.Context, id, query string, max int) (*atomFeed, error) {
	params := url.Values{
		"start":       {"0"},
		"max_results": {fmt.Sprintf("%d", max)},
	}
	if id != "" {
		params.Set("id_list", id)
	} else {
		params.Set("search_query", "all:"+query)
		params.Set("sortBy", "relevance")
	}
	endpoint := p.endpoint + "?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, "GET", endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("api call failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("api returned status %d", resp.StatusCode)
	}

	var feed atomFeed
	if err := xml.NewDecoder(resp.Body).Decode(&feed); err != nil {
		return nil, fmt.Errorf("decode feed: %w", err)
	}
	return &feed, nil
}

func authorLine(authors []atomAuthor) string {
	switch len(authors) {
	case 0:
		return "unknown authors"
	case 1:
		return authors[0].Name
	case 2:
		return authors[0].Name + " and " + authors[1].Name
	default:
		return authors[0].Name + " and colleagues"
	}
}

func publishedYear(published string) string {
	if len(published) < 4 {
		return ""
	}
	return published[:4]
}

func abstractSnippet(summary string) string {
	s := collapseWhitespace(summary)
	const maxLen = 300
	if len(s) <= maxLen {
		return s
	}
	cut := s[:maxLen]
	if idx := strings.LastIndex(cut, " "); idx > 0 {
		cut = cut[:idx]
	}
	return cut + "..."
}

// collapseWhitespace flattens the newline-wrapped text arXiv returns.
func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
