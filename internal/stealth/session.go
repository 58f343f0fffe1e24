package stealth

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/hydrascrape/hydrascrape/internal/types"
)

// Session is the persisted identity of one browsing session: cookies
// and storage, plus the device profile that must be replayed verbatim
// so the fingerprint does not shift between runs.
type Session struct {
	StorageState json.RawMessage `json:"storage_state"`
	Profile      *DeviceProfile  `json:"profile"`
}

// SessionStore persists sessions as one JSON file per session id.
// Corrupt or missing files fall back to a fresh session; the store
// never fails a fetch. Session content (cookies may carry auth) is
// never logged.
type SessionStore struct {
	dir    string
	logger *slog.Logger
}

// NewSessionStore roots the store at dir, creating it if needed.
func NewSessionStore(dir string, logger *slog.Logger) (*SessionStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create session dir: %w", err)
	}
	return &SessionStore{dir: dir, logger: logger.With("component", "session_store")}, nil
}

// Load returns the stored session for id, or (nil, nil) when none
// exists or the file is unreadable. The unreadable case is warned and
// treated as fresh.
func (s *SessionStore) Load(id string) (*Session, error) {
	if id == "" {
		return nil, nil
	}
	raw, err := os.ReadFile(s.path(id))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		s.logger.Warn("session unreadable, starting fresh", "session_id", id, "error", err)
		return nil, nil
	}

	var sess Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		s.logger.Warn("session corrupt, starting fresh",
			"session_id", id,
			"error", types.ErrSessionCorrupt,
		)
		return nil, nil
	}
	return &sess, nil
}

// Save persists the session atomically (write to a temp file, then
// rename) so a crash never leaves a truncated JSON behind.
func (s *SessionStore) Save(id string, sess *Session) error {
	if id == "" || sess == nil {
		return nil
	}
	raw, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	final := s.path(id)
	tmp := final + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return fmt.Errorf("write session: %w", err)
	}
	if err := os.Rename(tmp, final); err != nil {
		return fmt.Errorf("commit session: %w", err)
	}
	return nil
}

// path sanitizes the id so a session name can never traverse out of
// the store directory.
func (s *SessionStore) path(id string) string {
	var b strings.Builder
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		}
	}
	safe := b.String()
	if safe == "" {
		safe = "default"
	}
	return filepath.Join(s.dir, safe+".json")
}
