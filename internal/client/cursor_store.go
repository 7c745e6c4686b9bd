package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"
	"github.com/google/renameio"
)

const cursorsSettingsKey = "lastChangesCursorByAccountId"

// CursorStore keeps the last acknowledged change cursor per account in a
// JSON settings file shared with other local tools. Other top-level keys of
// the file are preserved.
//
// Writes are atomic (temp file + rename) and serialized across processes
// with a lock file next to the settings file.
type CursorStore struct {
	path string
	mu   sync.Mutex
	lock *flock.Flock
}

func NewCursorStore(path string) *CursorStore {
	return &CursorStore{
		path: path,
		lock: flock.New(path + ".lock"),
	}
}

func (s *CursorStore) Path() string {
	return s.path
}

// ReadCursor returns the stored cursor, or 0 when none is recorded.
func (s *CursorStore) ReadCursor(accountID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cursors, _, err := s.load()
	if err != nil {
		return 0, err
	}
	return cursors[accountID], nil
}

// WriteCursor records cursor for the account. Writing 0 removes the record.
func (s *CursorStore) WriteCursor(accountID string, cursor int64) error {
	if accountID == "" {
		return errors.New("account id is required")
	}
	if cursor < 0 {
		return fmt.Errorf("cursor must not be negative, got %d", cursor)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("failed to create settings dir: %w", err)
	}
	if err := s.lock.Lock(); err != nil {
		return fmt.Errorf("failed to lock settings: %w", err)
	}
	defer s.lock.Unlock()

	cursors, settings, err := s.load()
	if err != nil {
		return err
	}

	if cursor == 0 {
		if _, ok := cursors[accountID]; !ok {
			return nil
		}
		delete(cursors, accountID)
	} else {
		if cursors[accountID] == cursor {
			return nil
		}
		cursors[accountID] = cursor
	}

	if len(cursors) == 0 {
		delete(settings, cursorsSettingsKey)
	} else {
		raw, err := json.Marshal(cursors)
		if err != nil {
			return err
		}
		settings[cursorsSettingsKey] = raw
	}

	data, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}
	if err := renameio.WriteFile(s.path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write settings: %w", err)
	}
	return nil
}

// load reads the settings file. A missing file is an empty one.
func (s *CursorStore) load() (map[string]int64, map[string]json.RawMessage, error) {
	cursors := make(map[string]int64)
	settings := make(map[string]json.RawMessage)

	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return cursors, settings, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read settings: %w", err)
	}
	if len(data) == 0 {
		return cursors, settings, nil
	}

	if err := json.Unmarshal(data, &settings); err != nil {
		return nil, nil, fmt.Errorf("failed to parse settings %s: %w", s.path, err)
	}
	if raw, ok := settings[cursorsSettingsKey]; ok {
		if err := json.Unmarshal(raw, &cursors); err != nil {
			return nil, nil, fmt.Errorf("failed to parse %s: %w", cursorsSettingsKey, err)
		}
	}
	return cursors, settings, nil
}
