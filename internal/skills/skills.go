// Package skills loads reusable instruction documents from the workspace
// skills directory. Each skill is a directory holding a SKILL.md whose
// first heading is the title and whose first paragraph becomes the index
// description shown to the model.
package skills

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// Skill is one loaded skill document.
type Skill struct {
	Name        string // directory name, stable identifier
	Title       string // first heading, falls back to Name
	Description string // first body paragraph
	Path        string // location of SKILL.md
	Content     string // full document body
}

// Loader scans the skills directory and serves the current skill set.
type Loader struct {
	dir string
	log *slog.Logger

	mu     sync.RWMutex
	skills map[string]Skill

	watchMu sync.Mutex
	stopFn  func()
}

// Option configures a Loader.
type Option func(*Loader)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(l *Loader) { l.log = log }
}

// NewLoader builds a loader over <workspace>/skills and performs the
// initial scan. A missing directory is an empty skill set, not an error.
func NewLoader(workspace string, opts ...Option) *Loader {
	l := &Loader{
		dir:    filepath.Join(workspace, "skills"),
		log:    slog.Default(),
		skills: make(map[string]Skill),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.Reload()
	return l
}

// Dir returns the skills directory.
func (l *Loader) Dir() string { return l.dir }

// Reload rescans the directory. Unparseable skills are skipped with a
// warning; the rest of the set still loads.
func (l *Loader) Reload() {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		if !os.IsNotExist(err) {
			l.log.Warn("skills.scan_failed", "dir", l.dir, "error", err)
		}
		l.replace(nil)
		return
	}

	loaded := make(map[string]Skill)
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		path := filepath.Join(l.dir, e.Name(), "SKILL.md")
		skill, err := ParseFile(e.Name(), path)
		if err != nil {
			if !os.IsNotExist(err) {
				l.log.Warn("skills.skill_skipped", "skill", e.Name(), "error", err)
			}
			continue
		}
		loaded[skill.Name] = skill
	}
	l.replace(loaded)
	l.log.Debug("skills.reloaded", "count", len(loaded))
}

func (l *Loader) replace(skills map[string]Skill) {
	if skills == nil {
		skills = make(map[string]Skill)
	}
	l.mu.Lock()
	l.skills = skills
	l.mu.Unlock()
}

// List returns the current skills sorted by name.
func (l *Loader) List() []Skill {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Skill, 0, len(l.skills))
	for _, s := range l.skills {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Get returns one skill by name.
func (l *Loader) Get(name string) (Skill, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	s, ok := l.skills[name]
	return s, ok
}

// Index renders the names-and-descriptions block for the system prompt.
// Empty when no skills are installed.
func (l *Loader) Index() string {
	skills := l.List()
	if len(skills) == 0 {
		return ""
	}
	var sb strings.Builder
	for i, s := range skills {
		if i > 0 {
			sb.WriteByte('\n')
		}
		fmt.Fprintf(&sb, "- %s: %s", s.Name, s.Description)
	}
	return sb.String()
}

// ParseFile reads and parses one SKILL.md.
func ParseFile(name, path string) (Skill, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Skill{}, err
	}
	return Parse(name, path, string(data))
}

// Parse extracts title and description from a skill document. The title is
// the first heading line; the description is the first non-empty paragraph
// after it, flattened to one line.
func Parse(name, path, content string) (Skill, error) {
	body := strings.TrimSpace(content)
	if body == "" {
		return Skill{}, fmt.Errorf("skill %s: empty SKILL.md", name)
	}

	skill := Skill{Name: name, Title: name, Path: path, Content: body}

	lines := strings.Split(body, "\n")
	rest := lines
	if strings.HasPrefix(strings.TrimSpace(lines[0]), "#") {
		skill.Title = strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(lines[0]), "#"))
		rest = lines[1:]
	}

	var para []string
	for _, line := range rest {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			if len(para) > 0 {
				break
			}
			continue
		}
		if strings.HasPrefix(trimmed, "#") {
			break
		}
		para = append(para, trimmed)
	}
	skill.Description = strings.Join(para, " ")
	if skill.Description == "" {
		skill.Description = skill.Title
	}
	return skill, nil
}
