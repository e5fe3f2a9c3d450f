package store

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bondifuzz/crash-analyzer/model"
)

func TestMemoryStore_InsertAndGetByHash(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	record := &model.CrashRecord{
		FuzzerID:   "fz-1",
		FuzzerRev:  "rev-1",
		InputHash:  "deadbeef",
		UniqueHash: "cafebabe",
	}

	require.NoError(t, s.Insert(ctx, record))
	assert.NotEmpty(t, record.Key)

	got, err := s.GetByHash(ctx, "fz-1", "rev-1", "cafebabe")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "deadbeef", got.InputHash)
}

func TestMemoryStore_GetByHash_Miss(t *testing.T) {
	s := NewMemoryStore()
	got, err := s.GetByHash(context.Background(), "fz-1", "rev-1", "nope")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestMemoryStore_Insert_DuplicateConflict(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	first := &model.CrashRecord{FuzzerID: "fz-1", FuzzerRev: "rev-1", UniqueHash: "h1"}
	require.NoError(t, s.Insert(ctx, first))

	second := &model.CrashRecord{FuzzerID: "fz-1", FuzzerRev: "rev-1", UniqueHash: "h1"}
	err := s.Insert(ctx, second)
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrDBAlreadyExists))
}

func TestMemoryStore_Iterate(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.Insert(ctx, &model.CrashRecord{FuzzerID: "fz-1", FuzzerRev: "rev-1", UniqueHash: "a"}))
	require.NoError(t, s.Insert(ctx, &model.CrashRecord{FuzzerID: "fz-1", FuzzerRev: "rev-1", UniqueHash: "b"}))
	require.NoError(t, s.Insert(ctx, &model.CrashRecord{FuzzerID: "fz-1", FuzzerRev: "rev-2", UniqueHash: "c"}))

	it, err := s.Iterate(ctx, "fz-1", "rev-1")
	require.NoError(t, err)
	defer it.Close()

	var hashes []string
	for {
		r, err := it.Next(ctx)
		require.NoError(t, err)
		if r == nil {
			break
		}
		hashes = append(hashes, r.UniqueHash)
	}
	assert.ElementsMatch(t, []string{"a", "b"}, hashes)
}

func TestMemoryStore_Update_NotFound(t *testing.T) {
	s := NewMemoryStore()
	err := s.Update(context.Background(), model.CrashRecord{Key: "missing"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrDBNotFound))
}
