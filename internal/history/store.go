// Package history persists per-session question/answer turns as one JSON file per
// session and caps the number of retained sessions.
package history

import (
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

// DefaultMaxSessions is used when a store is created with a non-positive cap.
const DefaultMaxSessions = 10

const recordExt = ".json"

// Turn roles as persisted on disk.
const (
	RoleHuman = "human"
	RoleAI    = "ai"
)

// Turn is one persisted message of a session.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Record describes one durable session file.
type Record struct {
	SessionID string
	ModTime   time.Time
	path      string
}

// ErrInvalidSessionID is returned for identifiers that cannot address a record.
var ErrInvalidSessionID = errors.New("invalid session id")

var sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

// ValidateSessionID reports whether id can be used as a record key.
func ValidateSessionID(id string) error {
	if !sessionIDPattern.MatchString(id) {
		return fmt.Errorf("%w: %q", ErrInvalidSessionID, id)
	}
	return nil
}

// WriteError is returned when a turn could not be recorded.
type WriteError struct {
	SessionID string
	Err       error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("write history for session %s: %v", e.SessionID, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// Store keeps session histories under a single directory.
type Store struct {
	dir         string
	maxSessions int
	logger      *log.Logger

	// striped per-session locks around read-modify-write
	locks [lockStripes]sync.Mutex
}

const lockStripes = 64

// NewStore creates the history directory if needed.
func NewStore(dir string, maxSessions int, logger *log.Logger) (*Store, error) {
	if dir == "" {
		return nil, errors.New("history dir is empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create history dir: %w", err)
	}
	if maxSessions <= 0 {
		maxSessions = DefaultMaxSessions
	}
	return &Store{
		dir:         dir,
		maxSessions: maxSessions,
		logger:      logger.WithPrefix("history"),
	}, nil
}

// Dir returns the directory holding the records.
func (s *Store) Dir() string { return s.dir }

// MaxSessions returns the retention cap.
func (s *Store) MaxSessions() int { return s.maxSessions }

// Append records a question and its answer at the end of the session history,
// then trims the store down to MaxSessions records.
func (s *Store) Append(sessionID, question, answer string) error {
	if err := ValidateSessionID(sessionID); err != nil {
		return &WriteError{SessionID: sessionID, Err: err}
	}

	unlock := s.lock(sessionID)
	turns, err := s.read(sessionID)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		s.logger.Warn("starting new history, existing record unreadable", "session_id", sessionID, "err", err)
		turns = nil
	}
	turns = append(turns,
		Turn{Role: RoleHuman, Content: question},
		Turn{Role: RoleAI, Content: answer},
	)
	err = s.write(sessionID, turns)
	unlock()
	if err != nil {
		return &WriteError{SessionID: sessionID, Err: err}
	}
	s.logger.Debug("saved history", "session_id", sessionID, "turns", len(turns)/2)

	if _, err := s.Evict(); err != nil {
		s.logger.Warn("evict old sessions", "err", err)
	}
	return nil
}

// Load returns the session's turns in append order. Missing, unreadable or
// corrupt records yield an empty history.
func (s *Store) Load(sessionID string) []Turn {
	if err := ValidateSessionID(sessionID); err != nil {
		s.logger.Warn("load history", "err", err)
		return []Turn{}
	}
	unlock := s.lock(sessionID)
	defer unlock()

	turns, err := s.read(sessionID)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			s.logger.Warn("ignoring unreadable history", "session_id", sessionID, "err", err)
		}
		return []Turn{}
	}
	return turns
}

// Delete removes the session's record. Deleting a missing record is not an error.
func (s *Store) Delete(sessionID string) error {
	if err := ValidateSessionID(sessionID); err != nil {
		return err
	}
	unlock := s.lock(sessionID)
	defer unlock()

	if err := os.Remove(s.path(sessionID)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete history for session %s: %w", sessionID, err)
	}
	s.logger.Info("deleted history", "session_id", sessionID)
	return nil
}

// Sessions lists durable records ordered oldest first. Records with equal
// modification times are ordered by session id.
func (s *Store) Sessions() ([]Record, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("list history dir: %w", err)
	}
	records := make([]Record, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, recordExt) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			// removed between ReadDir and Info
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, err
		}
		records = append(records, Record{
			SessionID: strings.TrimSuffix(name, recordExt),
			ModTime:   info.ModTime(),
			path:      filepath.Join(s.dir, name),
		})
	}
	sort.SliceStable(records, func(i, j int) bool {
		if records[i].ModTime.Equal(records[j].ModTime) {
			return records[i].SessionID < records[j].SessionID
		}
		return records[i].ModTime.Before(records[j].ModTime)
	})
	return records, nil
}

// Evict deletes the oldest records beyond MaxSessions and returns how many were removed.
func (s *Store) Evict() (int, error) {
	records, err := s.Sessions()
	if err != nil {
		return 0, err
	}
	if len(records) <= s.maxSessions {
		return 0, nil
	}
	removed := 0
	var errs []error
	for _, r := range records[:len(records)-s.maxSessions] {
		if err := os.Remove(r.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
			continue
		}
		removed++
		s.logger.Info("evicted old history", "session_id", r.SessionID)
	}
	return removed, errors.Join(errs...)
}

func (s *Store) read(sessionID string) ([]Turn, error) {
	data, err := os.ReadFile(s.path(sessionID))
	if err != nil {
		return nil, err
	}
	var turns []Turn
	if err := json.Unmarshal(data, &turns); err != nil {
		return nil, fmt.Errorf("decode %s: %w", s.path(sessionID), err)
	}
	return turns, nil
}

// write replaces the record atomically: temp file in the same dir, fsync, rename.
func (s *Store) write(sessionID string, turns []Turn) error {
	data, err := json.MarshalIndent(turns, "", "  ")
	if err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	tmp, err := os.CreateTemp(s.dir, "."+sessionID+"-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			_ = os.Remove(tmpName)
		}
	}()
	if _, err = tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync temp: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close temp: %w", err)
	}
	if err = os.Rename(tmpName, s.path(sessionID)); err != nil {
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}

func (s *Store) path(sessionID string) string {
	return filepath.Join(s.dir, sessionID+recordExt)
}

func (s *Store) lock(sessionID string) func() {
	h := fnv.New32a()
	_, _ = h.Write([]byte(sessionID))
	l := &s.locks[h.Sum32()%lockStripes]
	l.Lock()
	return l.Unlock
}
