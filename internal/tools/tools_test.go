package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// ===========================================================================
// REGISTRY TESTS
// ===========================================================================

type stubTool struct {
	name   string
	result *Result
	err    error
	calls  int
}

func (s *stubTool) Name() string                { return s.name }
func (s *stubTool) Description() string         { return "stub" }
func (s *stubTool) Parameters() json.RawMessage { return json.RawMessage(`{"type":"object"}`) }
func (s *stubTool) Execute(ctx context.Context, args json.RawMessage) (*Result, error) {
	s.calls++
	return s.result, s.err
}

func TestRegistry_Register(t *testing.T) {
	r := NewRegistry()
	tool := &stubTool{name: "echo", result: TextResult("ok")}

	if err := r.Register(tool); err != nil {
		t.Fatalf("failed to register tool: %v", err)
	}
	if err := r.Register(tool); err == nil {
		t.Error("expected error on duplicate registration")
	}

	specs := r.List()
	if len(specs) != 1 || specs[0].Name != "echo" {
		t.Errorf("expected one spec named echo, got %+v", specs)
	}
}

func TestRegistry_ExecuteDegrades(t *testing.T) {
	r := NewRegistry()
	r.Register(&stubTool{name: "boom", err: errors.New("upstream down")})

	// Unknown tools produce explanatory text, not an error.
	res := r.Execute(context.Background(), "missing", nil)
	if !strings.Contains(res.Text(), "not available") {
		t.Errorf("expected unavailable message, got %q", res.Text())
	}

	// Failing tools are reported as text so the model can apologize.
	res = r.Execute(context.Background(), "boom", json.RawMessage(`{}`))
	if !strings.Contains(res.Text(), "upstream down") {
		t.Errorf("expected failure text, got %q", res.Text())
	}

	// Malformed arguments never reach the tool.
	stub := &stubTool{name: "strict", result: TextResult("ok")}
	r.Register(stub)
	res = r.Execute(context.Background(), "strict", json.RawMessage(`{not json`))
	if stub.calls != 0 {
		t.Errorf("expected tool not to run on bad args, got %d calls", stub.calls)
	}
	if res.Text() == "" {
		t.Error("expected explanatory text for bad args")
	}
}

// ===========================================================================
// SEARCH TESTS
// ===========================================================================

func TestSearchTool_NoAPIKey(t *testing.T) {
	s := NewSearchTool("", 5, nil)
	res, err := s.Execute(context.Background(), json.RawMessage(`{"query":"go generics"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(res.Text(), "not configured") {
		t.Errorf("expected not-configured message, got %q", res.Text())
	}
}

func TestSearchTool_Execute(t *testing.T) {
	requests := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		var req tavilyRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("bad request body: %v", err)
		}
		if req.Query != "go generics" {
			t.Errorf("expected query to pass through, got %q", req.Query)
		}
		json.NewEncoder(w).Encode(tavilyResponse{
			Answer: "Generics arrived in Go 1.18.",
			Results: []tavilyResult{
				{Title: "Go Blog", URL: "https://go.dev/blog/intro-generics", Content: "An introduction to generics."},
			},
		})
	}))
	defer srv.Close()

	s := NewSearchTool("key", 5, nil, WithSearchEndpoint(srv.URL))
	res, err := s.Execute(context.Background(), json.RawMessage(`{"query":"go generics"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Kind != KindStructured {
		t.Fatalf("expected structured result, got %v", res.Kind)
	}
	answer, ok := res.Data.(*SearchAnswer)
	if !ok {
		t.Fatalf("expected SearchAnswer payload, got %T", res.Data)
	}
	if answer.Answer != "Generics arrived in Go 1.18." {
		t.Errorf("unexpected answer %q", answer.Answer)
	}
	if len(answer.Sources) != 1 || answer.Sources[0].URL != "https://go.dev/blog/intro-generics" {
		t.Errorf("unexpected sources %+v", answer.Sources)
	}

	// Second identical query is served from the cache.
	if _, err := s.Execute(context.Background(), json.RawMessage(`{"query":"go generics"}`)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if requests != 1 {
		t.Errorf("expected 1 upstream request, got %d", requests)
	}
}

func TestSearchTool_UpstreamFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	s := NewSearchTool("key", 5, nil, WithSearchEndpoint(srv.URL))
	res, err := s.Execute(context.Background(), json.RawMessage(`{"query":"anything"}`))
	if err != nil {
		t.Fatalf("expected degraded text, got error: %v", err)
	}
	if !strings.Contains(res.Text(), "temporarily unavailable") {
		t.Errorf("expected unavailable message, got %q", res.Text())
	}
}

// ===========================================================================
// WEATHER TESTS
// ===========================================================================

func TestWeatherTool_Current(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/current.json") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.URL.Query().Get("q") != "Dubai" {
			t.Errorf("expected q=Dubai, got %q", r.URL.Query().Get("q"))
		}
		json.NewEncoder(w).Encode(weatherCurrentResponse{
			Location: weatherLocation{Name: "Dubai", Region: "Dubai", Country: "United Arab Emirates"},
			Current: weatherCurrent{
				TempC: 38.4, TempF: 101.1, FeelslikeC: 43.2,
				Condition: weatherCondition{Text: "Sunny"},
				Humidity:  41, WindKph: 17.3, WindDir: "NW", UV: 9,
			},
		})
	}))
	defer srv.Close()

	wt := NewWeatherTool("key", WithWeatherBaseURL(srv.URL))
	res, err := wt.Execute(context.Background(), json.RawMessage(`{"location":"Dubai"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	text := res.Text()
	if !strings.HasPrefix(text, "Current weather in Dubai, Dubai: sunny, 38 degrees Celsius") {
		t.Errorf("unexpected report: %q", text)
	}
	if !strings.Contains(text, "winds at 17 kilometers per hour from the NW") {
		t.Errorf("missing wind detail: %q", text)
	}
}

func TestWeatherTool_Forecast(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("days") != "3" {
			t.Errorf("expected days=3, got %q", r.URL.Query().Get("days"))
		}
		resp := weatherForecastResponse{
			Location: weatherLocation{Name: "London", Region: "City of London, Greater London"},
		}
		resp.Forecast.ForecastDay = []weatherForecastDay{
			{Date: "2026-08-30", Day: weatherDay{MaxTempC: 21.6, MinTempC: 13.2, Condition: weatherCondition{Text: "Patchy rain possible"}, DailyChanceRain: 70}},
			{Date: "2026-08-31", Day: weatherDay{MaxTempC: 19.8, MinTempC: 12.4, Condition: weatherCondition{Text: "Cloudy"}}},
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	wt := NewWeatherTool("key", WithWeatherBaseURL(srv.URL))
	res, err := wt.Execute(context.Background(), json.RawMessage(`{"location":"London","mode":"forecast"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	text := res.Text()
	if !strings.Contains(text, "Today will be patchy rain possible with a high of 22 degrees Celsius and a low of 13.") {
		t.Errorf("unexpected today line: %q", text)
	}
	if !strings.Contains(text, "70 percent chance of rain") {
		t.Errorf("missing rain chance: %q", text)
	}
	if !strings.Contains(text, "Tomorrow expects cloudy, between 12 and 20 degrees.") {
		t.Errorf("unexpected tomorrow line: %q", text)
	}
}

func TestWeatherTool_Astronomy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := weatherAstronomyResponse{
			Location: weatherLocation{Name: "Reykjavik", Country: "Iceland"},
		}
		resp.Astronomy.Astro = weatherAstro{
			Sunrise: "06:12 AM", Sunset: "08:45 PM",
			Moonrise: "09:30 PM", Moonset: "05:15 AM", MoonPhase: "Waxing Gibbous",
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	wt := NewWeatherTool("key", WithWeatherBaseURL(srv.URL))
	res, err := wt.Execute(context.Background(), json.RawMessage(`{"location":"Reykjavik","mode":"astronomy"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	text := res.Text()
	if !strings.Contains(text, "Reykjavik, Iceland") {
		t.Errorf("expected country fallback for blank region: %q", text)
	}
	if !strings.Contains(text, "sun rises at 06:12 AM and sets at 08:45 PM") {
		t.Errorf("unexpected astronomy line: %q", text)
	}
	if !strings.Contains(text, "waxing gibbous phase") {
		t.Errorf("missing moon phase: %q", text)
	}
}

func TestWeatherTool_NoAPIKey(t *testing.T) {
	wt := NewWeatherTool("")
	res, err := wt.Execute(context.Background(), json.RawMessage(`{"location":"Paris"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(res.Text(), "not configured") {
		t.Errorf("expected not-configured message, got %q", res.Text())
	}
}

// ===========================================================================
// PAPERS TESTS
// ===========================================================================

const arxivFixture = `<?xml version="1.0" encoding="UTF-8"?>
<feed xmlns="http://www.w3.org/2005/Atom">
  <entry>
    <id>http://arxiv.org/abs/1706.03762v7</id>
    <published>2017-06-12T17:57:34Z</published>
    <title>Attention Is All
 You Need</title>
    <summary>The dominant sequence transduction models are based on complex
 recurrent or convolutional neural networks.</summary>
    <author><name>Ashish Vaswani</name></author>
    <author><name>Noam Shazeer</name></author>
    <author><name>Niki Parmar</name></author>
  </entry>
</feed>`

func TestPapersTool_Execute(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("search_query"); got != "all:transformers" {
			t.Errorf("expected all:transformers, got %q", got)
		}
		if got := r.URL.Query().Get("max_results"); got != "2" {
			t.Errorf("expected max_results=2, got %q", got)
		}
		w.Header().Set("Content-Type", "application/atom+xml")
		w.Write([]byte(arxivFixture))
	}))
	defer srv.Close()

	p := NewPapersTool(WithPapersEndpoint(srv.URL))
	res, err := p.Execute(context.Background(), json.RawMessage(`{"query":"transformers","max_results":2}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	text := res.Text()
	if !strings.Contains(text, "Attention Is All You Need") {
		t.Errorf("expected collapsed title, got %q", text)
	}
	if !strings.Contains(text, "Ashish Vaswani and colleagues (2017)") {
		t.Errorf("expected author line with year, got %q", text)
	}
	if !strings.Contains(text, "sequence transduction models") {
		t.Errorf("expected abstract snippet, got %q", text)
	}
}

func TestPapersTool_LookupByID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("id_list"); got != "1706.03762" {
			t.Errorf("expected id_list=1706.03762, got %q", got)
		}
		if got := r.URL.Query().Get("search_query"); got != "" {
			t.Errorf("expected no search_query for an id lookup, got %q", got)
		}
		w.Header().Set("Content-Type", "application/atom+xml")
		w.Write([]byte(arxivFixture))
	}))
	defer srv.Close()

	p := NewPapersTool(WithPapersEndpoint(srv.URL))
	res, err := p.Execute(context.Background(), json.RawMessage(`{"id":"1706.03762","max_results":1}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	text := res.Text()
	if !strings.Contains(text, "Attention Is All You Need") {
		t.Errorf("expected paper title, got %q", text)
	}
	if !strings.Contains(text, "1706.03762") {
		t.Errorf("expected the id to name the subject, got %q", text)
	}
}

func TestPapersTool_IDShapedQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("id_list"); got != "hep-th/9901001" {
			t.Errorf("expected id_list=hep-th/9901001, got %q", got)
		}
		w.Write([]byte(arxivFixture))
	}))
	defer srv.Close()

	p := NewPapersTool(WithPapersEndpoint(srv.URL))
	if _, err := p.Execute(context.Background(), json.RawMessage(`{"query":"hep-th/9901001"}`)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestPapersTool_TruncatesToMaxResults(t *testing.T) {
	var entries strings.Builder
	for i := 0; i < 5; i++ {
		fmt.Fprintf(&entries, `<entry>
  <id>http://arxiv.org/abs/000%d</id>
  <published>2024-01-0%dT00:00:00Z</published>
  <title>Paper Number %d</title>
  <summary>Abstract %d.</summary>
  <author><name>Author %d</name></author>
</entry>`, i, i+1, i, i, i)
	}
	feed := `<?xml version="1.0"?><feed xmlns="http://www.w3.org/2005/Atom">` + entries.String() + `</feed>`

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(feed))
	}))
	defer srv.Close()

	p := NewPapersTool(WithPapersEndpoint(srv.URL))
	res, err := p.Execute(context.Background(), json.RawMessage(`{"query":"transformer attention","max_results":3}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	text := res.Text()
	if !strings.Contains(text, "I found 3 papers") {
		t.Errorf("expected 3 papers reported, got %q", text)
	}
	if strings.Contains(text, "Paper 4:") {
		t.Errorf("expected truncation at 3, got %q", text)
	}
	for i := 0; i < 3; i++ {
		if !strings.Contains(text, fmt.Sprintf("Paper Number %d", i)) {
			t.Errorf("missing title %d in %q", i, text)
		}
	}
}

func TestPapersTool_NoResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<?xml version="1.0"?><feed xmlns="http://www.w3.org/2005/Atom"></feed>`))
	}))
	defer srv.Close()

	p := NewPapersTool(WithPapersEndpoint(srv.URL))
	res, err := p.Execute(context.Background(), json.RawMessage(`{"query":"zxqv nonsense"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(res.Text(), "couldn't find any papers") {
		t.Errorf("expected empty-result message, got %q", res.Text())
	}
}

// ===========================================================================
// CREATOR TESTS
// ===========================================================================

func TestCreatorTool_Execute(t *testing.T) {
	c := NewCreatorTool()
	res, err := c.Execute(context.Background(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(res.Text(), "Mohtasham Murshid Madani") {
		t.Errorf("expected creator name, got %q", res.Text())
	}
}
