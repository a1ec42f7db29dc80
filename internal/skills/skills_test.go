package skills

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeSkill(t *testing.T, workspace, name, content string) {
	t.Helper()
	dir := filepath.Join(workspace, "skills", name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "SKILL.md"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestParse(t *testing.T) {
	skill, err := Parse("weather", "x/SKILL.md", "# Weather Reports\n\nFetch and summarise the day's forecast.\nUse metric units.\n\n## Steps\n1. ...\n")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if skill.Title != "Weather Reports" {
		t.Fatalf("title = %q", skill.Title)
	}
	if skill.Description != "Fetch and summarise the day's forecast. Use metric units." {
		t.Fatalf("description = %q", skill.Description)
	}

	if _, err := Parse("empty", "x", "   \n"); err == nil {
		t.Fatal("empty document accepted")
	}

	skill, err = Parse("bare", "x", "just instructions, no heading")
	if err != nil {
		t.Fatalf("Parse bare: %v", err)
	}
	if skill.Title != "bare" || skill.Description != "just instructions, no heading" {
		t.Fatalf("bare skill = %+v", skill)
	}
}

func TestLoaderScanAndIndex(t *testing.T) {
	ws := t.TempDir()
	writeSkill(t, ws, "weather", "# Weather\n\nDaily forecast summaries.\n")
	writeSkill(t, ws, "standup", "# Standup\n\nCollect yesterday's commits.\n")
	// A directory without SKILL.md is not a skill.
	if err := os.MkdirAll(filepath.Join(ws, "skills", "junk"), 0o755); err != nil {
		t.Fatal(err)
	}

	loader := NewLoader(ws)
	list := loader.List()
	if len(list) != 2 {
		t.Fatalf("loaded %d skills, want 2: %+v", len(list), list)
	}
	if list[0].Name != "standup" || list[1].Name != "weather" {
		t.Fatalf("order = %s, %s", list[0].Name, list[1].Name)
	}

	idx := loader.Index()
	if !strings.Contains(idx, "- weather: Daily forecast summaries.") {
		t.Fatalf("index = %q", idx)
	}

	if _, ok := loader.Get("weather"); !ok {
		t.Fatal("Get(weather) missed")
	}
	if _, ok := loader.Get("junk"); ok {
		t.Fatal("junk dir loaded as skill")
	}
}

func TestLoaderMissingDir(t *testing.T) {
	loader := NewLoader(t.TempDir())
	if len(loader.List()) != 0 || loader.Index() != "" {
		t.Fatal("expected empty skill set")
	}
}

func TestWatchReloadsOnChange(t *testing.T) {
	ws := t.TempDir()
	writeSkill(t, ws, "first", "# First\n\nOne.\n")
	loader := NewLoader(ws)
	defer loader.Close()

	if err := loader.Watch(context.Background()); err != nil {
		t.Fatalf("Watch: %v", err)
	}

	writeSkill(t, ws, "second", "# Second\n\nTwo.\n")

	deadline := time.After(3 * time.Second)
	for {
		if _, ok := loader.Get("second"); ok {
			break
		}
		select {
		case <-deadline:
			t.Fatal("watcher never picked up the new skill")
		case <-time.After(20 * time.Millisecond):
		}
	}
}

func TestInstallAndRemove(t *testing.T) {
	ws := t.TempDir()
	skillsDir := filepath.Join(ws, "skills")

	srcDir := filepath.Join(t.TempDir(), "deploy-helper")
	if err := os.MkdirAll(srcDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(srcDir, "SKILL.md"), []byte("# Deploy\n\nShip it.\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(srcDir, "notes.txt"), []byte("extra"), 0o644); err != nil {
		t.Fatal(err)
	}

	name, err := Install(skillsDir, srcDir)
	if err != nil {
		t.Fatalf("Install dir: %v", err)
	}
	if name != "deploy-helper" {
		t.Fatalf("name = %q", name)
	}
	if _, err := os.Stat(filepath.Join(skillsDir, "deploy-helper", "notes.txt")); err != nil {
		t.Fatalf("aux file not copied: %v", err)
	}

	srcFile := filepath.Join(t.TempDir(), "review.md")
	if err := os.WriteFile(srcFile, []byte("# Review\n\nCheck the diff.\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	name, err = Install(skillsDir, srcFile)
	if err != nil {
		t.Fatalf("Install file: %v", err)
	}
	if name != "review" {
		t.Fatalf("name = %q", name)
	}
	if _, err := os.Stat(filepath.Join(skillsDir, "review", "SKILL.md")); err != nil {
		t.Fatalf("SKILL.md not created: %v", err)
	}

	if err := Remove(skillsDir, "review"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if err := Remove(skillsDir, "review"); err == nil {
		t.Fatal("removing a missing skill succeeded")
	}
	if err := Remove(skillsDir, "../evil"); err == nil {
		t.Fatal("path traversal accepted")
	}
}
