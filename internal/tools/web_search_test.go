package tools

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"golang.org/x/time/rate"
)

type scriptedSearchProvider struct {
	name      string
	results   []searchResult
	err       error
	calls     int
	gotParams searchParams
}

func (p *scriptedSearchProvider) Name() string { return p.name }
func (p *scriptedSearchProvider) Search(ctx context.Context, params searchParams) ([]searchResult, error) {
	p.calls++
	p.gotParams = params
	if p.err != nil {
		return nil, p.err
	}
	return p.results, nil
}

func newTestSearchTool(providers ...SearchProvider) *WebSearchTool {
	return &WebSearchTool{
		providers: providers,
		cache:     newWebCache(defaultCacheMaxEntries, time.Minute),
		limiter:   rate.NewLimiter(rate.Inf, 1),
	}
}

func TestNormalizeFreshness(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"pd", "pd"},
		{" PW ", "pw"},
		{"pm", "pm"},
		{"py", "py"},
		{"", ""},
		{"yesterday", ""},
		{"2024-01-01to2024-06-30", "2024-01-01to2024-06-30"},
		{"2024-01-01TO2024-06-30", "2024-01-01to2024-06-30"},
		{"2024-06-30to2024-01-01", ""}, // start after end
		{"2024-13-40to2024-14-01", ""}, // unparseable dates
	}
	for _, tc := range cases {
		if got := normalizeFreshness(tc.in); got != tc.want {
			t.Errorf("normalizeFreshness(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestBuildSearchCacheKey(t *testing.T) {
	key := buildSearchCacheKey(searchParams{Query: "go concurrency", Count: 5})
	if key != "go concurrency:5:default:default:default" {
		t.Fatalf("key = %q", key)
	}
	key = buildSearchCacheKey(searchParams{Query: "go", Count: 3, Country: "DE", SearchLang: "de", Freshness: "pw"})
	if key != "go:3:DE:de:pw" {
		t.Fatalf("key = %q", key)
	}
}

func TestFormatSearchResults(t *testing.T) {
	results := []searchResult{
		{Title: "Title One", URL: "https://one.example", Description: "First snippet"},
		{Title: "Title Two", URL: "https://two.example"},
	}
	got := formatSearchResults("go", results, "backup")
	want := "Search results for: go (via backup)\n\n" +
		"1. Title One\n   https://one.example\n   First snippet\n\n" +
		"2. Title Two\n   https://two.example\n\n"
	if got != want {
		t.Fatalf("formatted:\n%q\nwant:\n%q", got, want)
	}

	if got := formatSearchResults("go", nil, "backup"); got != "No results found for: go" {
		t.Fatalf("empty results: %q", got)
	}
}

func TestTruncateStr(t *testing.T) {
	if got := truncateStr("short", 10); got != "short" {
		t.Fatalf("got %q", got)
	}
	if got := truncateStr("abcdefghij", 4); got != "abcd..." {
		t.Fatalf("got %q", got)
	}
}

func TestExtractDDGResults(t *testing.T) {
	html := `
<div class="result">
  <a rel="nofollow" class="result__a" href="//duckduckgo.com/l/?uddg=https%3A%2F%2Fexample.com%2Fdocs&amp;rut=abc123">Example <b>Docs</b></a>
  <a class="result__snippet" href="//duckduckgo.com/l/?x">Official <em>documentation</em> site</a>
</div>
<div class="result">
  <a rel="nofollow" class="result__a" href="https://other.example.org/page">Other Page</a>
  <a class="result__snippet" href="//x">Second snippet</a>
</div>`

	results, err := extractDDGResults(html, 5)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results", len(results))
	}
	if results[0].URL != "https://example.com/docs" {
		t.Fatalf("redirect not unwrapped: %q", results[0].URL)
	}
	if results[0].Title != "Example Docs" {
		t.Fatalf("title: %q", results[0].Title)
	}
	if results[0].Description != "Official documentation site" {
		t.Fatalf("description: %q", results[0].Description)
	}
	if results[1].URL != "https://other.example.org/page" || results[1].Description != "Second snippet" {
		t.Fatalf("second result: %+v", results[1])
	}

	results, err = extractDDGResults(html, 1)
	if err != nil || len(results) != 1 {
		t.Fatalf("count cap: %d results, err %v", len(results), err)
	}

	results, err = extractDDGResults("<html><body>no results here</body></html>", 5)
	if err != nil || results != nil {
		t.Fatalf("empty page: %v, %v", results, err)
	}
}

func TestWebSearchFallsBackAndCaches(t *testing.T) {
	failing := &scriptedSearchProvider{name: "primary", err: errors.New("quota exceeded")}
	working := &scriptedSearchProvider{name: "backup", results: []searchResult{
		{Title: "T", URL: "https://t.example", Description: "d"},
	}}
	tool := newTestSearchTool(failing, working)

	res := tool.Execute(context.Background(), map[string]interface{}{"query": "weather"})
	if res.IsError {
		t.Fatalf("search: %s", res.ForLLM)
	}
	if !strings.Contains(res.ForLLM, "(via backup)") {
		t.Fatalf("fallback provider not used: %q", res.ForLLM)
	}
	if !strings.Contains(res.ForLLM, `<external_content source="Web Search">`) {
		t.Fatalf("result not wrapped: %q", res.ForLLM)
	}
	if failing.calls != 1 || working.calls != 1 {
		t.Fatalf("calls: primary=%d backup=%d", failing.calls, working.calls)
	}

	again := tool.Execute(context.Background(), map[string]interface{}{"query": "weather"})
	if again.ForLLM != res.ForLLM {
		t.Fatal("cached result differs")
	}
	if working.calls != 1 {
		t.Fatalf("cache miss: backup called %d times", working.calls)
	}
}

func TestWebSearchAllProvidersFail(t *testing.T) {
	tool := newTestSearchTool(
		&scriptedSearchProvider{name: "a", err: errors.New("down")},
		&scriptedSearchProvider{name: "b", err: errors.New("also down")},
	)
	res := tool.Execute(context.Background(), map[string]interface{}{"query": "q"})
	if !res.IsError || !strings.Contains(res.ForLLM, "all search providers failed: also down") {
		t.Fatalf("result: %+v", res)
	}
}

func TestWebSearchRequiresQuery(t *testing.T) {
	tool := newTestSearchTool()
	res := tool.Execute(context.Background(), map[string]interface{}{})
	if !res.IsError || res.ForLLM != "query is required" {
		t.Fatalf("result: %+v", res)
	}
}

func TestWebSearchCountClamp(t *testing.T) {
	p := &scriptedSearchProvider{name: "p", results: []searchResult{{Title: "t", URL: "https://u.example"}}}
	tool := newTestSearchTool(p)

	tool.Execute(context.Background(), map[string]interface{}{"query": "a", "count": float64(99)})
	if p.gotParams.Count != defaultSearchCount {
		t.Fatalf("out-of-range count honored: %d", p.gotParams.Count)
	}

	tool.Execute(context.Background(), map[string]interface{}{"query": "b", "count": float64(3)})
	if p.gotParams.Count != 3 {
		t.Fatalf("count = %d", p.gotParams.Count)
	}
}
