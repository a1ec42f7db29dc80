package sessions

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/Leavesfly/TinyClaw-sub001/internal/providers"
)

// Store persists sessions behind the in-memory manager. The manager is the
// write-through cache: every read is served from memory, every Save lands
// here. Implementations must be safe for concurrent use.
type Store interface {
	Save(s Session) error
	LoadAll() ([]Session, error)
	Delete(key string) error
}

// FileStore keeps one JSON document per session under a directory.
type FileStore struct {
	dir string
}

// NewFileStore returns a store rooted at dir, creating it if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create sessions dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// Save writes the session atomically: temp file, fsync, rename. A failed
// save leaves any previous file intact.
func (f *FileStore) Save(s Session) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}

	filename := sanitizeFilename(s.Key)
	if filename == "." || !filepath.IsLocal(filename) || strings.ContainsAny(filename, `/\`) {
		return os.ErrInvalid
	}
	sessionPath := filepath.Join(f.dir, filename+".json")

	tmpFile, err := os.CreateTemp(f.dir, "session-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmpFile.Name()
	cleanup := true
	defer func() {
		if cleanup {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		return err
	}
	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		return err
	}
	tmpFile.Close()

	if err := os.Rename(tmpPath, sessionPath); err != nil {
		return err
	}
	cleanup = false
	return nil
}

// LoadAll reads every session file. Corrupt or unreadable files are
// reported as skipped, never as a failure.
func (f *FileStore) LoadAll() ([]Session, error) {
	files, err := os.ReadDir(f.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var out []Session
	for _, entry := range files {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(f.dir, entry.Name()))
		if err != nil {
			slog.Warn("sessions.load_failed", "file", entry.Name(), "error", err)
			continue
		}
		var s Session
		if err := json.Unmarshal(data, &s); err != nil {
			slog.Warn("sessions.corrupt_file_skipped", "file", entry.Name(), "error", err)
			continue
		}
		if s.Key == "" {
			slog.Warn("sessions.corrupt_file_skipped", "file", entry.Name(), "error", "missing key")
			continue
		}
		if s.Messages == nil {
			s.Messages = []providers.Message{}
		}
		out = append(out, s)
	}
	return out, nil
}

// Delete removes the session file. Missing files are fine.
func (f *FileStore) Delete(key string) error {
	path := filepath.Join(f.dir, sanitizeFilename(key)+".json")
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// sanitizeFilename maps a session key to a safe file name. Colons are the
// only separator the key format produces.
func sanitizeFilename(key string) string {
	return strings.ReplaceAll(key, ":", "_")
}
