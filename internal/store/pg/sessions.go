package pg

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Leavesfly/TinyClaw-sub001/internal/providers"
	"github.com/Leavesfly/TinyClaw-sub001/internal/sessions"
)

// SessionStore implements sessions.Store on the sessions table. The
// sessions.Manager in front of it is the write-through cache, so reads
// only happen once at startup.
type SessionStore struct {
	db *sql.DB
}

func NewSessionStore(db *sql.DB) *SessionStore {
	return &SessionStore{db: db}
}

// Save upserts the whole session snapshot.
func (s *SessionStore) Save(sess sessions.Session) error {
	msgs, err := json.Marshal(sess.Messages)
	if err != nil {
		return fmt.Errorf("marshal messages: %w", err)
	}

	_, err = s.db.Exec(
		`INSERT INTO sessions (session_key, messages, summary, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (session_key) DO UPDATE SET
		   messages = EXCLUDED.messages,
		   summary = EXCLUDED.summary,
		   updated_at = EXCLUDED.updated_at`,
		sess.Key, msgs, nullable(sess.Summary), sess.Created, sess.Updated,
	)
	if err != nil {
		return fmt.Errorf("save session %s: %w", sess.Key, err)
	}
	return nil
}

// LoadAll reads every session row. A row whose messages column fails to
// decode is returned with empty history rather than dropped.
func (s *SessionStore) LoadAll() ([]sessions.Session, error) {
	rows, err := s.db.Query(
		`SELECT session_key, messages, summary, created_at, updated_at FROM sessions`,
	)
	if err != nil {
		return nil, fmt.Errorf("load sessions: %w", err)
	}
	defer rows.Close()

	var out []sessions.Session
	for rows.Next() {
		var (
			sess     sessions.Session
			msgsJSON []byte
			summary  sql.NullString
			created  time.Time
			updated  time.Time
		)
		if err := rows.Scan(&sess.Key, &msgsJSON, &summary, &created, &updated); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		if err := json.Unmarshal(msgsJSON, &sess.Messages); err != nil {
			sess.Messages = []providers.Message{}
		}
		if sess.Messages == nil {
			sess.Messages = []providers.Message{}
		}
		sess.Summary = summary.String
		sess.Created = created
		sess.Updated = updated
		out = append(out, sess)
	}
	return out, rows.Err()
}

// Delete removes the session row. Missing rows are fine.
func (s *SessionStore) Delete(key string) error {
	_, err := s.db.Exec(`DELETE FROM sessions WHERE session_key = $1`, key)
	if err != nil {
		return fmt.Errorf("delete session %s: %w", key, err)
	}
	return nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
