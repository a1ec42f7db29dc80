package bootstrap

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"
)

//go:embed templates/*.md
var templateFS embed.FS

// workspaceDirs are created on every bootstrap, seeded or not.
var workspaceDirs = []string{"memory", "skills", "sessions", "cron", "media"}

// seeds maps embedded template names to their workspace destinations.
// BOOTSTRAP.md is handled separately: only brand-new workspaces get it.
var seeds = []struct {
	template string
	dest     string
}{
	{"AGENTS.md", AgentsFile},
	{"SOUL.md", SoulFile},
	{"USER.md", UserFile},
	{"IDENTITY.md", IdentityFile},
	{"MEMORY.md", MemoryFile},
	{"HEARTBEAT.md", HeartbeatFile},
}

// ReadTemplate returns the content of an embedded template file.
func ReadTemplate(name string) (string, error) {
	content, err := templateFS.ReadFile("templates/" + name)
	if err != nil {
		return "", err
	}
	return string(content), nil
}

// EnsureWorkspace creates the workspace directory tree and seeds any guide
// or memory file that does not exist yet. User edits are never overwritten.
// BOOTSTRAP.md is seeded only when the workspace is brand new (no AGENTS.md),
// so re-running onboard does not revive a finished first-run ritual.
// Returns the list of files that were created.
func EnsureWorkspace(workspace string) ([]string, error) {
	if workspace == "" {
		return nil, fmt.Errorf("workspace path is empty")
	}
	for _, dir := range workspaceDirs {
		if err := os.MkdirAll(filepath.Join(workspace, dir), 0755); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}

	_, err := os.Stat(filepath.Join(workspace, AgentsFile))
	brandNew := os.IsNotExist(err)

	var created []string
	for _, s := range seeds {
		ok, err := seedFile(workspace, s.template, s.dest)
		if err != nil {
			return created, fmt.Errorf("seed %s: %w", s.dest, err)
		}
		if ok {
			created = append(created, s.dest)
		}
	}

	if brandNew {
		ok, err := seedFile(workspace, "BOOTSTRAP.md", BootstrapFile)
		if err != nil {
			return created, fmt.Errorf("seed %s: %w", BootstrapFile, err)
		}
		if ok {
			created = append(created, BootstrapFile)
		}
	}

	return created, nil
}

// seedFile writes one template into the workspace with O_EXCL create
// semantics. Returns true when the file was created, false when it already
// existed.
func seedFile(workspace, template, dest string) (bool, error) {
	path := filepath.Join(workspace, dest)

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		if os.IsExist(err) {
			return false, nil
		}
		return false, err
	}
	defer f.Close()

	content, err := templateFS.ReadFile("templates/" + template)
	if err != nil {
		os.Remove(path)
		return false, err
	}
	if _, err := f.Write(content); err != nil {
		return false, err
	}
	return true, nil
}
