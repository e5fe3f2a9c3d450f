package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// FileUnsentStore is the production UnsentStore: append-only JSON-lines
// file, one record per persisted payload, grounded on parser/logwriter.go's
// FileLogWriter (same "open once, append lines, guard with a single
// *os.File" shape).
type FileUnsentStore struct {
	mu   sync.Mutex
	file *os.File
}

type unsentRecord struct {
	Kind      string          `json:"kind"`
	Payload   json.RawMessage `json:"payload"`
	PersistedAt string        `json:"persisted_at"`
}

// NewFileUnsentStore opens (creating if absent, appending if present) the
// file at path.
func NewFileUnsentStore(path string) (*FileUnsentStore, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening unsent-messages file: %w", err)
	}
	return &FileUnsentStore{file: f}, nil
}

// Persist appends one JSON-lines record, stamped with the current time.
func (s *FileUnsentStore) Persist(_ context.Context, kind string, payload []byte) error {
	record := unsentRecord{
		Kind:        kind,
		Payload:     json.RawMessage(payload),
		PersistedAt: time.Now().UTC().Format(time.RFC3339),
	}
	line, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshaling unsent record: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.file.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("writing unsent record: %w", err)
	}
	return nil
}

// Close flushes and closes the underlying file.
func (s *FileUnsentStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file.Close()
}
