// Package security enforces the filesystem and command policy shared by every
// file- and shell-touching tool. The guard is immutable after construction
// and safe for concurrent use.
package security

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"syscall"
)

// Policy is the guard's construction input. An empty CommandBlacklist means
// "use the built-in defaults"; a non-empty list replaces them entirely.
type Policy struct {
	WorkspaceRoot       string
	RestrictToWorkspace bool
	CommandBlacklist    []string
}

// Dangerous command patterns denied by default. Matching is case-insensitive
// against the full command line.
var defaultBlacklist = []string{
	// destructive file operations
	`\brm\s+-[a-z]*[rf]`,
	`\brm\s+.*--(recursive|force)\b`,
	`\b(mkfs|fdisk|parted|diskpart)\b`,
	`\bdd\s+if=`,
	`>\s*/dev/sd[a-z]\b`,
	// machine state
	`\b(shutdown|reboot|poweroff|halt)\b`,
	`\binit\s+[06]\b`,
	// fork bomb
	`:\(\)\s*\{.*\};\s*:`,
	// remote code piped into an interpreter
	`\b(curl|wget)\b.*\|\s*(ba|z)?sh\b`,
	`\b(curl|wget)\b.*\|\s*python[23]?\b`,
	// privilege escalation
	`\bsudo\b`,
	`^\s*su(\s|$)`,
	`\bsu\s+-`,
	// process slaughter
	`\bkill\s+-9\s`,
	`\bkillall\s+-9\b`,
	`\bpkill\s+-9\b`,
	// kernel modules
	`\b(insmod|rmmod|modprobe)\b`,
}

// Guard validates file paths and shell commands against the policy.
type Guard struct {
	workspace string // canonical form, used for all prefix checks
	restrict  bool
	patterns  []*regexp.Regexp
}

// NewGuard compiles the policy. The workspace root is made absolute and
// canonical here so later checks compare like with like. An invalid custom
// blacklist pattern fails construction (config error, not a runtime one).
func NewGuard(policy Policy) (*Guard, error) {
	ws := expandHome(policy.WorkspaceRoot)
	abs, err := filepath.Abs(ws)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace root: %w", err)
	}
	if real, err := filepath.EvalSymlinks(abs); err == nil {
		abs = real
	}

	sources := policy.CommandBlacklist
	if len(sources) == 0 {
		sources = defaultBlacklist
	}
	patterns := make([]*regexp.Regexp, 0, len(sources))
	for _, src := range sources {
		re, err := regexp.Compile("(?i)" + src)
		if err != nil {
			return nil, fmt.Errorf("compile blacklist pattern %q: %w", src, err)
		}
		patterns = append(patterns, re)
	}

	return &Guard{
		workspace: abs,
		restrict:  policy.RestrictToWorkspace,
		patterns:  patterns,
	}, nil
}

// Workspace returns the canonical workspace root.
func (g *Guard) Workspace() string { return g.workspace }

// CheckFilePath validates a path argument and returns the resolved form the
// caller must use for I/O. Relative paths are taken as workspace-relative.
// When restriction is on, symlinks are resolved before the boundary check so
// a link cannot smuggle access outside the workspace.
func (g *Guard) CheckFilePath(path string) (string, error) {
	expanded := expandHome(path)
	var resolved string
	if filepath.IsAbs(expanded) {
		resolved = filepath.Clean(expanded)
	} else {
		resolved = filepath.Clean(filepath.Join(g.workspace, expanded))
	}

	if !g.restrict {
		return resolved, nil
	}

	real, err := g.canonicalize(resolved)
	if err != nil {
		return "", err
	}
	if !isPathInside(real, g.workspace) {
		slog.Warn("security.path_escape", "path", path, "resolved", real, "workspace", g.workspace)
		return "", fmt.Errorf("Access denied: path outside workspace: %s", path)
	}
	if err := checkHardlink(real); err != nil {
		return "", err
	}
	return real, nil
}

// CheckWorkingDir applies the file-path rule to a working directory.
func (g *Guard) CheckWorkingDir(dir string) (string, error) {
	return g.CheckFilePath(dir)
}

// CheckCommand matches the full command line against every blacklist
// pattern. Any match denies.
func (g *Guard) CheckCommand(cmdline string) error {
	for _, re := range g.patterns {
		if re.MatchString(cmdline) {
			slog.Warn("security.command_denied", "pattern", re.String())
			return fmt.Errorf("Access denied: command blocked by security policy (matches %s)", re.String())
		}
	}
	return nil
}

// canonicalize resolves a cleaned absolute path to its canonical form,
// handling targets that do not exist yet (write_file of a new file) and
// broken symlinks whose targets must still be validated.
func (g *Guard) canonicalize(abs string) (string, error) {
	real, err := filepath.EvalSymlinks(abs)
	if err == nil {
		return real, nil
	}
	if !os.IsNotExist(err) {
		slog.Warn("security.path_resolve_failed", "path", abs, "error", err)
		return "", fmt.Errorf("Access denied: cannot resolve path: %s", abs)
	}

	// A dangling symlink still points somewhere; validate where.
	if info, lerr := os.Lstat(abs); lerr == nil && info.Mode()&os.ModeSymlink != 0 {
		target, rerr := os.Readlink(abs)
		if rerr != nil {
			return "", fmt.Errorf("Access denied: cannot resolve symlink: %s", abs)
		}
		if !filepath.IsAbs(target) {
			target = filepath.Join(filepath.Dir(abs), target)
		}
		resolved, terr := resolveThroughAncestors(filepath.Clean(target))
		if terr != nil {
			return "", fmt.Errorf("Access denied: cannot resolve symlink target: %s", abs)
		}
		return resolved, nil
	}

	// Plain non-existent file: canonicalize the deepest existing ancestor and
	// re-append the missing tail.
	return resolveThroughAncestors(abs)
}

// resolveThroughAncestors canonicalizes the deepest existing ancestor of
// path, then appends the remaining components. Catches chained symlinks in
// intermediate directories.
func resolveThroughAncestors(path string) (string, error) {
	if real, err := filepath.EvalSymlinks(path); err == nil {
		return real, nil
	}
	current := path
	var tail []string
	for {
		parent := filepath.Dir(current)
		if parent == current {
			break
		}
		tail = append([]string{filepath.Base(current)}, tail...)
		current = parent
		if realParent, err := filepath.EvalSymlinks(current); err == nil {
			result := realParent
			for _, component := range tail {
				result = filepath.Join(result, component)
			}
			return result, nil
		}
	}
	return filepath.Clean(path), nil
}

// isPathInside checks whether child is inside or equal to parent.
func isPathInside(child, parent string) bool {
	if child == parent {
		return true
	}
	return strings.HasPrefix(child, parent+string(filepath.Separator))
}

// checkHardlink rejects regular files with nlink > 1. A hardlink inside the
// workspace can alias a file outside it. Directories are exempt.
func checkHardlink(path string) error {
	info, err := os.Lstat(path)
	if err != nil {
		return nil // not created yet; later I/O decides
	}
	if info.IsDir() {
		return nil
	}
	if stat, ok := info.Sys().(*syscall.Stat_t); ok && stat.Nlink > 1 {
		slog.Warn("security.hardlink_rejected", "path", path, "nlink", stat.Nlink)
		return fmt.Errorf("Access denied: hardlinked file not allowed: %s", path)
	}
	return nil
}

func expandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, _ := os.UserHomeDir()
	if len(path) > 1 && path[1] == '/' {
		return home + path[1:]
	}
	return home
}
