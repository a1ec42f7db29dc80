// Package bootstrap seeds a fresh workspace with the guide files the agent
// reads into every system prompt, and loads them back at runtime.
package bootstrap

import (
	"os"
	"path/filepath"
	"strings"
)

// Workspace file names. Guide files sit at the workspace root; memory files
// live under memory/.
const (
	AgentsFile    = "AGENTS.md"
	SoulFile      = "SOUL.md"
	UserFile      = "USER.md"
	IdentityFile  = "IDENTITY.md"
	BootstrapFile = "BOOTSTRAP.md"
	MemoryFile    = "memory/MEMORY.md"
	HeartbeatFile = "memory/HEARTBEAT.md"
)

// guideFiles are the workspace files injected into the system prompt, in
// prompt order. BOOTSTRAP.md is last: it exists only until the agent finishes
// its first-run ritual and deletes it.
var guideFiles = []string{AgentsFile, SoulFile, UserFile, IdentityFile, BootstrapFile}

// GuideFile is one workspace guide document.
type GuideFile struct {
	Name    string
	Content string
}

// LoadGuideFiles reads the guide files present in the workspace. Missing
// files are skipped; the agent edits these at runtime, so callers re-read
// per turn rather than caching.
func LoadGuideFiles(workspace string) []GuideFile {
	var files []GuideFile
	for _, name := range guideFiles {
		data, err := os.ReadFile(filepath.Join(workspace, name))
		if err != nil {
			continue
		}
		content := strings.TrimSpace(string(data))
		if content == "" {
			continue
		}
		files = append(files, GuideFile{Name: name, Content: content})
	}
	return files
}
