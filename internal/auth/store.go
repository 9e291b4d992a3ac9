package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/euforicio/docsite/internal/waline"
)

// Storage keys of the persisted session.
const (
	KeyUser  = "WALINE_USER"
	KeyToken = "WALINE_TOKEN"
)

// Role is the account type reported by the comment service.
type Role string

// Known roles.
const (
	RoleAdministrator Role = "administrator"
	RoleGuest         Role = "guest"
)

// State is the current login.
type State struct {
	User     *waline.User `json:"user"`
	Token    string       `json:"-"`
	Role     Role         `json:"role,omitempty"`
	LoggedIn bool         `json:"isLoggedIn"`
}

// IsAdmin reports whether the logged in user administers the comment service.
func (s State) IsAdmin() bool {
	return s.Role == RoleAdministrator
}

// Store keeps the login in memory and mirrors it to a JSON file of string
// values keyed by KeyUser and KeyToken. An empty path keeps it in memory only.
type Store struct {
	logger *slog.Logger
	path   string
	state  State
	mu     sync.RWMutex
}

// OpenStore loads the session persisted at path.
func OpenStore(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{path: path, logger: logger.With("component", "session")}
	if err := s.Load(); err != nil {
		return nil, err
	}
	return s, nil
}

// State returns a copy of the current login.
func (s *Store) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := s.state
	if st.User != nil {
		u := *st.User
		st.User = &u
	}
	return st
}

// Load replaces the in-memory state with the persisted one. Stored user data
// that cannot be decoded clears the storage.
func (s *Store) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state = State{}
	if s.path == "" {
		return nil
	}

	values, err := s.read()
	if err != nil {
		return err
	}
	rawUser, token := values[KeyUser], values[KeyToken]
	if rawUser == "" || token == "" {
		return nil
	}

	var user waline.User
	if err := json.Unmarshal([]byte(rawUser), &user); err != nil {
		s.logger.Error("failed to parse stored user data", slog.Any("err", err))
		return s.write(nil)
	}
	s.state = State{User: &user, Token: token, Role: Role(user.Type), LoggedIn: true}
	return nil
}

// SetUser records a successful login.
func (s *Store) SetUser(user waline.User, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state = State{User: &user, Token: token, Role: Role(user.Type), LoggedIn: true}
	return s.persist()
}

// UpdateUser merges the non-empty fields of patch into the logged in user.
// It is a no-op without a login.
func (s *Store) UpdateUser(patch waline.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.User == nil {
		return nil
	}
	u := s.state.User
	merge(&u.DisplayName, patch.DisplayName)
	merge(&u.Email, patch.Email)
	merge(&u.URL, patch.URL)
	merge(&u.Token, patch.Token)
	merge(&u.Avatar, patch.Avatar)
	merge(&u.MailMD5, patch.MailMD5)
	merge(&u.Type, patch.Type)
	if patch.ObjectID != 0 {
		u.ObjectID = patch.ObjectID
	}
	// Role follows the login, not later profile edits.
	return s.persist()
}

func merge(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

// Clear forgets the login and removes both keys from storage.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state = State{}
	return s.persist()
}

func (s *Store) persist() error {
	if s.path == "" {
		return nil
	}
	if s.state.User == nil {
		return s.write(nil)
	}
	rawUser, err := json.Marshal(s.state.User)
	if err != nil {
		return fmt.Errorf("encode user: %w", err)
	}
	return s.write(map[string]string{KeyUser: string(rawUser), KeyToken: s.state.Token})
}

func (s *Store) read() (map[string]string, error) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read session: %w", err)
	}
	values := map[string]string{}
	if err := json.Unmarshal(raw, &values); err != nil {
		s.logger.Warn("discarding unreadable session file", slog.Any("err", err))
		return nil, nil
	}
	return values, nil
}

func (s *Store) write(values map[string]string) error {
	if len(values) == 0 {
		if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("clear session: %w", err)
		}
		return nil
	}
	raw, err := json.MarshalIndent(values, "", "  ")
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	return writeFileAtomic(s.path, raw)
}

func writeFileAtomic(target string, data []byte) error {
	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("ensure session directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".docsite-session-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	keep := false
	defer func() {
		if !keep {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		return fmt.Errorf("replace session: %w", err)
	}
	keep = true
	return nil
}
