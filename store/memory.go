package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/bondifuzz/crash-analyzer/model"
)

// MemoryStore is an in-process CrashRecordStore test double: a mutex-guarded
// slice, enforcing the same (fuzzer_id, fuzzer_rev, unique_hash) uniqueness
// invariant the ArangoDB index enforces in production.
type MemoryStore struct {
	mu      sync.Mutex
	records []model.CrashRecord
	nextKey int
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) GetByHash(_ context.Context, fuzzerID, fuzzerRev,
	uniqueHash string) (*model.CrashRecord, error) {

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range s.records {
		if r.FuzzerID == fuzzerID && r.FuzzerRev == fuzzerRev && r.UniqueHash == uniqueHash {
			rc := r
			return &rc, nil
		}
	}
	return nil, nil
}

func (s *MemoryStore) Insert(_ context.Context, record *model.CrashRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range s.records {
		if r.FuzzerID == record.FuzzerID && r.FuzzerRev == record.FuzzerRev &&
			r.UniqueHash == record.UniqueHash {
			return fmt.Errorf("%w: (%s, %s, %s)", model.ErrDBAlreadyExists,
				record.FuzzerID, record.FuzzerRev, record.UniqueHash)
		}
	}

	s.nextKey++
	record.Key = fmt.Sprintf("%d", s.nextKey)
	s.records = append(s.records, *record)
	return nil
}

func (s *MemoryStore) Update(_ context.Context, record model.CrashRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, r := range s.records {
		if r.Key == record.Key {
			s.records[i] = record
			return nil
		}
	}
	return fmt.Errorf("%w: key %q", model.ErrDBNotFound, record.Key)
}

func (s *MemoryStore) Iterate(_ context.Context, fuzzerID,
	fuzzerRev string) (RecordIterator, error) {

	s.mu.Lock()
	defer s.mu.Unlock()

	var matched []model.CrashRecord
	for _, r := range s.records {
		if r.FuzzerID == fuzzerID && r.FuzzerRev == fuzzerRev {
			matched = append(matched, r)
		}
	}
	return &memoryIterator{records: matched}, nil
}

type memoryIterator struct {
	records []model.CrashRecord
	pos     int
}

func (it *memoryIterator) Next(_ context.Context) (*model.CrashRecord, error) {
	if it.pos >= len(it.records) {
		return nil, nil
	}
	r := it.records[it.pos]
	it.pos++
	return &r, nil
}

func (it *memoryIterator) Close() error { return nil }
