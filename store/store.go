// Package store implements the crash record dedup collection described in
// spec.md §4.3: a lookup/insert contract keyed on
// (fuzzer_id, fuzzer_rev, unique_hash), with the first observation winning
// by a uniqueness constraint maintained by the database.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/arangodb/go-driver"

	"github.com/bondifuzz/crash-analyzer/model"
)

// CrashRecordStore is the contract from spec.md §4.3. Iterate and Update
// are exposed for operational use; the coordinator only needs GetByHash
// and Insert.
type CrashRecordStore interface {
	GetByHash(ctx context.Context, fuzzerID, fuzzerRev, uniqueHash string) (*model.CrashRecord, error)
	Insert(ctx context.Context, record *model.CrashRecord) error
	Update(ctx context.Context, record model.CrashRecord) error
	Iterate(ctx context.Context, fuzzerID, fuzzerRev string) (RecordIterator, error)
}

// RecordIterator yields CrashRecords one at a time. Next returns
// (nil, nil) once exhausted.
type RecordIterator interface {
	Next(ctx context.Context) (*model.CrashRecord, error)
	Close() error
}

// ArangoStore is the production CrashRecordStore backed by ArangoDB,
// grounded on database/arangodb/interfaces/crashes.py's DBCrashes.
type ArangoStore struct {
	collection driver.Collection
}

// NewArangoStore wraps an already-open ArangoDB collection handle. The
// caller is expected to have ensured (at bootstrap, once) a persistent
// index over (fuzzer_id, fuzzer_rev, unique_hash) — ArangoDB does not
// enforce uniqueness across a field combination without one, unlike the
// single-document-key uniqueness ArangoDB gives for free. See
// EnsureUniqueIndex.
func NewArangoStore(collection driver.Collection) *ArangoStore {
	return &ArangoStore{collection: collection}
}

// EnsureUniqueIndex creates (idempotently) the persistent index backing
// the (fuzzer_id, fuzzer_rev, unique_hash) uniqueness invariant from
// spec.md §3/§6. Call once at bootstrap.
func EnsureUniqueIndex(ctx context.Context, collection driver.Collection) error {
	_, _, err := collection.EnsurePersistentIndex(ctx,
		[]string{"fuzzer_id", "fuzzer_rev", "unique_hash"},
		&driver.EnsurePersistentIndexOptions{Unique: true, Sparse: false})
	if err != nil {
		return fmt.Errorf("%w: ensuring unique index: %v", model.ErrDBTransport, err)
	}
	return nil
}

type arangoDoc struct {
	Key        string `json:"_key,omitempty"`
	FuzzerID   string `json:"fuzzer_id"`
	FuzzerRev  string `json:"fuzzer_rev"`
	InputHash  string `json:"input_hash"`
	UniqueHash string `json:"unique_hash"`
}

func fromDoc(d arangoDoc) *model.CrashRecord {
	return &model.CrashRecord{
		Key:        d.Key,
		FuzzerID:   d.FuzzerID,
		FuzzerRev:  d.FuzzerRev,
		InputHash:  d.InputHash,
		UniqueHash: d.UniqueHash,
	}
}

// GetByHash returns the first (and, by invariant, only) matching record,
// or (nil, nil) if absent.
func (s *ArangoStore) GetByHash(ctx context.Context, fuzzerID, fuzzerRev,
	uniqueHash string) (*model.CrashRecord, error) {

	query := `
		FOR c IN @@collection
			FILTER c.fuzzer_id == @fuzzerID
				AND c.fuzzer_rev == @fuzzerRev
				AND c.unique_hash == @uniqueHash
			LIMIT 1
			RETURN c
	`
	bindVars := map[string]interface{}{
		"@collection": s.collection.Name(),
		"fuzzerID":    fuzzerID,
		"fuzzerRev":   fuzzerRev,
		"uniqueHash":  uniqueHash,
	}

	db := s.collection.Database()
	cursor, err := db.Query(ctx, query, bindVars)
	if err != nil {
		return nil, classifyErr(err)
	}
	defer cursor.Close()

	var doc arangoDoc
	_, err = cursor.ReadDocument(ctx, &doc)
	if driver.IsNoMoreDocuments(err) {
		return nil, nil
	}
	if err != nil {
		return nil, classifyErr(err)
	}
	return fromDoc(doc), nil
}

// Insert persists record, assigning its Key from the database-generated
// document key. Returns model.ErrDBAlreadyExists on a uniqueness conflict.
func (s *ArangoStore) Insert(ctx context.Context, record *model.CrashRecord) error {
	doc := arangoDoc{
		FuzzerID:   record.FuzzerID,
		FuzzerRev:  record.FuzzerRev,
		InputHash:  record.InputHash,
		UniqueHash: record.UniqueHash,
	}
	meta, err := s.collection.CreateDocument(ctx, doc)
	if err != nil {
		return classifyErr(err)
	}
	record.Key = meta.Key
	return nil
}

// Update persists changes to an existing record. Exposed for operational
// use; the core dedup pipeline never mutates a record after insert.
func (s *ArangoStore) Update(ctx context.Context, record model.CrashRecord) error {
	doc := arangoDoc{
		FuzzerID:   record.FuzzerID,
		FuzzerRev:  record.FuzzerRev,
		InputHash:  record.InputHash,
		UniqueHash: record.UniqueHash,
	}
	_, err := s.collection.UpdateDocument(ctx, record.Key, doc)
	if err != nil {
		return classifyErr(err)
	}
	return nil
}

// Iterate returns every record for (fuzzerID, fuzzerRev). Exposed for
// operational use (e.g. administrative tooling); the core dedup pipeline
// never iterates.
func (s *ArangoStore) Iterate(ctx context.Context, fuzzerID,
	fuzzerRev string) (RecordIterator, error) {

	query := `
		FOR c IN @@collection
			FILTER c.fuzzer_id == @fuzzerID AND c.fuzzer_rev == @fuzzerRev
			RETURN c
	`
	bindVars := map[string]interface{}{
		"@collection": s.collection.Name(),
		"fuzzerID":    fuzzerID,
		"fuzzerRev":   fuzzerRev,
	}

	cursor, err := s.collection.Database().Query(ctx, query, bindVars)
	if err != nil {
		return nil, classifyErr(err)
	}
	return &arangoIterator{cursor: cursor}, nil
}

// arangoIterator wraps a driver.Cursor, mirroring DBArangoCrashIterator.
type arangoIterator struct {
	cursor driver.Cursor
}

func (it *arangoIterator) Next(ctx context.Context) (*model.CrashRecord, error) {
	var doc arangoDoc
	_, err := it.cursor.ReadDocument(ctx, &doc)
	if driver.IsNoMoreDocuments(err) {
		return nil, nil
	}
	if err != nil {
		return nil, classifyErr(err)
	}
	return fromDoc(doc), nil
}

func (it *arangoIterator) Close() error {
	return it.cursor.Close()
}

// classifyErr maps driver errors onto the error kinds from spec.md §7.
func classifyErr(err error) error {
	if err == nil {
		return nil
	}
	if driver.IsConflict(err) {
		return fmt.Errorf("%w: %v", model.ErrDBAlreadyExists, err)
	}
	if driver.IsNotFound(err) {
		return nil
	}
	var arangoErr driver.ArangoError
	if errors.As(err, &arangoErr) {
		return fmt.Errorf("%w: %v", model.ErrDBTransport, err)
	}
	return fmt.Errorf("%w: %v", model.ErrDBTransport, err)
}
