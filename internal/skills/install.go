package skills

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Install copies a skill into the skills directory and returns its name.
// src may be a directory containing SKILL.md (copied recursively) or a
// single Markdown file (installed as <name>/SKILL.md).
func Install(skillsDir, src string) (string, error) {
	info, err := os.Stat(src)
	if err != nil {
		return "", err
	}

	if info.IsDir() {
		if _, err := os.Stat(filepath.Join(src, "SKILL.md")); err != nil {
			return "", fmt.Errorf("%s has no SKILL.md", src)
		}
		name := filepath.Base(filepath.Clean(src))
		dst := filepath.Join(skillsDir, name)
		if err := copyTree(src, dst); err != nil {
			return "", err
		}
		return name, nil
	}

	name := strings.TrimSuffix(filepath.Base(src), filepath.Ext(src))
	if name == "SKILL" {
		name = filepath.Base(filepath.Dir(src))
	}
	dst := filepath.Join(skillsDir, name)
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return "", err
	}
	if err := copyFile(src, filepath.Join(dst, "SKILL.md")); err != nil {
		return "", err
	}
	return name, nil
}

// Remove deletes an installed skill directory.
func Remove(skillsDir, name string) error {
	if name == "" || strings.ContainsAny(name, `/\`) || !filepath.IsLocal(name) {
		return fmt.Errorf("invalid skill name %q", name)
	}
	dir := filepath.Join(skillsDir, name)
	if _, err := os.Stat(dir); err != nil {
		return fmt.Errorf("skill %s not installed", name)
	}
	return os.RemoveAll(dir)
}

func copyTree(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		return copyFile(path, target)
	})
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()
	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}
