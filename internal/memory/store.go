// Package memory gives the agent durable long-term notes. MEMORY.md is
// included verbatim in every system prompt; the rest of the memory
// directory is reachable through a full-text index.
package memory

import (
	"os"
	"path/filepath"
	"strings"
)

// Store locates the memory files under one workspace.
type Store struct {
	dir string
}

func NewStore(workspace string) *Store {
	return &Store{dir: filepath.Join(workspace, "memory")}
}

// Dir returns the memory directory.
func (s *Store) Dir() string { return s.dir }

// MemoryFile is the long-term notes file the agent curates.
func (s *Store) MemoryFile() string { return filepath.Join(s.dir, "MEMORY.md") }

// HeartbeatFile holds the standing instructions for heartbeat runs.
func (s *Store) HeartbeatFile() string { return filepath.Join(s.dir, "HEARTBEAT.md") }

// Context returns MEMORY.md for the system prompt. A missing or empty file
// yields "" and the prompt section is omitted.
func (s *Store) Context() string {
	data, err := os.ReadFile(s.MemoryFile())
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}
