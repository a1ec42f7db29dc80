package memory

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// Hit is one full-text match.
type Hit struct {
	File    string // file name relative to the memory directory
	Heading string // nearest section heading, may be empty
	Snippet string // highlighted excerpt
}

// Index is an FTS5 index over the Markdown files in the memory directory.
// It lives in process memory and is rebuilt whenever a file changes, so a
// search always reflects what is on disk.
type Index struct {
	store *Store
	db    *sql.DB

	mu      sync.Mutex
	lastMod time.Time
	indexed int
}

// OpenIndex builds the initial index. Callers should treat an error as
// "memory search unavailable" rather than fatal.
func OpenIndex(store *Store) (*Index, error) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("open index db: %w", err)
	}
	// The index lives in one in-memory database; a second pooled
	// connection would see an empty schema.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`CREATE VIRTUAL TABLE memory_fts USING fts5(file UNINDEXED, heading, content)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create fts table: %w", err)
	}

	idx := &Index{store: store, db: db}
	if err := idx.Rebuild(); err != nil {
		db.Close()
		return nil, err
	}
	return idx, nil
}

func (i *Index) Close() error {
	return i.db.Close()
}

// Rebuild re-indexes every Markdown file under the memory directory,
// one row per section.
func (i *Index) Rebuild() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.rebuildLocked()
}

func (i *Index) rebuildLocked() error {
	files, newest, err := i.listFiles()
	if err != nil {
		return err
	}

	tx, err := i.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM memory_fts`); err != nil {
		return err
	}
	count := 0
	for _, file := range files {
		data, err := os.ReadFile(filepath.Join(i.store.Dir(), file))
		if err != nil {
			continue
		}
		for _, sec := range splitSections(string(data)) {
			if _, err := tx.Exec(`INSERT INTO memory_fts (file, heading, content) VALUES (?, ?, ?)`,
				file, sec.heading, sec.body); err != nil {
				return err
			}
			count++
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	i.lastMod = newest
	i.indexed = len(files)
	return nil
}

// Search returns the best-ranked sections for query, refreshing the index
// first if any memory file changed since the last rebuild.
func (i *Index) Search(ctx context.Context, query string, limit int) ([]Hit, error) {
	match := buildMatch(query)
	if match == "" {
		return nil, fmt.Errorf("empty query")
	}
	if limit <= 0 {
		limit = 5
	}

	i.mu.Lock()
	if i.stale() {
		if err := i.rebuildLocked(); err != nil {
			i.mu.Unlock()
			return nil, err
		}
	}
	i.mu.Unlock()

	rows, err := i.db.QueryContext(ctx,
		`SELECT file, heading, snippet(memory_fts, 2, '>>', '<<', ' ... ', 12)
		 FROM memory_fts
		 WHERE memory_fts MATCH ?
		 ORDER BY rank
		 LIMIT ?`,
		match, limit)
	if err != nil {
		return nil, fmt.Errorf("memory search: %w", err)
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		var h Hit
		if err := rows.Scan(&h.File, &h.Heading, &h.Snippet); err != nil {
			return nil, err
		}
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

// stale reports whether the directory changed since the last rebuild.
// Caller holds the lock.
func (i *Index) stale() bool {
	files, newest, err := i.listFiles()
	if err != nil {
		return false
	}
	return len(files) != i.indexed || newest.After(i.lastMod)
}

// listFiles returns the Markdown file names in the memory directory and
// the newest modification time among them.
func (i *Index) listFiles() ([]string, time.Time, error) {
	entries, err := os.ReadDir(i.store.Dir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, time.Time{}, nil
		}
		return nil, time.Time{}, err
	}
	var files []string
	var newest time.Time
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".md") {
			continue
		}
		files = append(files, e.Name())
		if info, err := e.Info(); err == nil && info.ModTime().After(newest) {
			newest = info.ModTime()
		}
	}
	sort.Strings(files)
	return files, newest, nil
}

type section struct {
	heading string
	body    string
}

// splitSections cuts a Markdown document at its headings. Text before the
// first heading becomes a section with an empty heading.
func splitSections(doc string) []section {
	var out []section
	cur := section{}
	flush := func() {
		if strings.TrimSpace(cur.body) != "" || cur.heading != "" {
			cur.body = strings.TrimSpace(cur.body)
			out = append(out, cur)
		}
	}
	for _, line := range strings.Split(doc, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "#") {
			flush()
			cur = section{heading: strings.TrimSpace(strings.TrimLeft(trimmed, "#"))}
			continue
		}
		cur.body += line + "\n"
	}
	flush()
	return out
}

// buildMatch quotes each term so user text cannot inject FTS5 operators.
func buildMatch(query string) string {
	fields := strings.Fields(query)
	quoted := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.ReplaceAll(f, `"`, `""`)
		quoted = append(quoted, `"`+f+`"`)
	}
	return strings.Join(quoted, " ")
}
