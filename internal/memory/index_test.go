package memory

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeMemoryFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestStoreContext(t *testing.T) {
	ws := t.TempDir()
	store := NewStore(ws)

	if got := store.Context(); got != "" {
		t.Fatalf("missing file should give empty context, got %q", got)
	}

	writeMemoryFile(t, store.Dir(), "MEMORY.md", "# Memory\n\nUser prefers short answers.\n")
	if got := store.Context(); !strings.Contains(got, "short answers") {
		t.Fatalf("context = %q", got)
	}
}

func TestIndexSearch(t *testing.T) {
	ws := t.TempDir()
	store := NewStore(ws)
	writeMemoryFile(t, store.Dir(), "MEMORY.md", strings.Join([]string{
		"# Memory",
		"",
		"## Preferences",
		"The user likes espresso in the morning and tea after lunch.",
		"",
		"## Projects",
		"Currently renovating the kitchen, plumber visit pending.",
	}, "\n"))

	idx, err := OpenIndex(store)
	if err != nil {
		t.Fatalf("OpenIndex: %v", err)
	}
	defer idx.Close()

	hits, err := idx.Search(context.Background(), "espresso", 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("got %d hits, want 1: %+v", len(hits), hits)
	}
	if hits[0].File != "MEMORY.md" || hits[0].Heading != "Preferences" {
		t.Fatalf("hit = %+v", hits[0])
	}
	if !strings.Contains(hits[0].Snippet, "espresso") {
		t.Fatalf("snippet = %q", hits[0].Snippet)
	}

	if hits, _ := idx.Search(context.Background(), "submarine", 5); len(hits) != 0 {
		t.Fatalf("unexpected hits: %+v", hits)
	}
}

func TestIndexRefreshesOnFileChange(t *testing.T) {
	ws := t.TempDir()
	store := NewStore(ws)
	writeMemoryFile(t, store.Dir(), "MEMORY.md", "## Notes\nnothing yet\n")

	idx, err := OpenIndex(store)
	if err != nil {
		t.Fatalf("OpenIndex: %v", err)
	}
	defer idx.Close()

	if hits, _ := idx.Search(context.Background(), "birthday", 5); len(hits) != 0 {
		t.Fatalf("premature hits: %+v", hits)
	}

	// Ensure the mtime moves even on coarse-grained filesystems.
	time.Sleep(10 * time.Millisecond)
	writeMemoryFile(t, store.Dir(), "MEMORY.md", "## Notes\nthe birthday party is on Saturday\n")
	future := time.Now().Add(2 * time.Second)
	os.Chtimes(filepath.Join(store.Dir(), "MEMORY.md"), future, future)

	hits, err := idx.Search(context.Background(), "birthday", 5)
	if err != nil {
		t.Fatalf("Search after change: %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("index did not refresh: %+v", hits)
	}
}

func TestIndexSearchQuotesOperators(t *testing.T) {
	ws := t.TempDir()
	store := NewStore(ws)
	writeMemoryFile(t, store.Dir(), "MEMORY.md", "## Notes\nremember AND forget are words\n")

	idx, err := OpenIndex(store)
	if err != nil {
		t.Fatalf("OpenIndex: %v", err)
	}
	defer idx.Close()

	// A bare AND/NEAR would be an FTS5 syntax error if passed through.
	if _, err := idx.Search(context.Background(), `remember AND "quoted`, 5); err != nil {
		t.Fatalf("operator-looking query failed: %v", err)
	}
}

func TestSplitSections(t *testing.T) {
	secs := splitSections("intro line\n\n# Title\nbody one\n## Sub\nbody two\n")
	if len(secs) != 3 {
		t.Fatalf("got %d sections: %+v", len(secs), secs)
	}
	if secs[0].heading != "" || !strings.Contains(secs[0].body, "intro") {
		t.Fatalf("preamble = %+v", secs[0])
	}
	if secs[1].heading != "Title" || secs[2].heading != "Sub" {
		t.Fatalf("headings = %q, %q", secs[1].heading, secs[2].heading)
	}
}
