package coordinator

import (
	"context"
	"encoding/base64"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bondifuzz/crash-analyzer/fetch"
	"github.com/bondifuzz/crash-analyzer/model"
	"github.com/bondifuzz/crash-analyzer/store"
)

type fakePublisher struct {
	unique    []model.UniqueCrashEvent
	duplicate []model.DuplicateCrashEvent
}

func (p *fakePublisher) PublishUnique(_ context.Context, e model.UniqueCrashEvent) error {
	p.unique = append(p.unique, e)
	return nil
}

func (p *fakePublisher) PublishDuplicate(_ context.Context, e model.DuplicateCrashEvent) error {
	p.duplicate = append(p.duplicate, e)
	return nil
}

// inlineFetcher satisfies fetch.InputFetcher without needing S3; every
// test here supplies the crash bytes inline via base64 input instead, so
// Fetch/Stream should never actually be invoked.
type inlineFetcher struct{}

func (inlineFetcher) Fetch(context.Context, string, string, string) ([]byte, error) {
	return nil, errNotExpected
}

func (inlineFetcher) Stream(context.Context, string, string, string) (*fetch.ChunkReader, error) {
	return nil, errNotExpected
}

var errNotExpected = assertNever{}

type assertNever struct{}

func (assertNever) Error() string { return "fetch should not be called when input is inline" }

var _ fetch.InputFetcher = inlineFetcher{}

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func validMessage(crash model.CrashBase) model.NewCrashMessage {
	return model.NewCrashMessage{
		FuzzerID:     "fz-1",
		FuzzerRev:    "rev-1",
		FuzzerEngine: model.EngineLibfuzzer,
		FuzzerLang:   model.LangCPP,
		Crash:        crash,
		Created:      "2024-01-01T00:00:00Z",
	}
}

func TestHandleMessage_NonReproduced_SkipsDedup(t *testing.T) {
	s := store.NewMemoryStore()
	pub := &fakePublisher{}
	c := New(newLogger(), inlineFetcher{}, s, pub, 1024)

	msg := validMessage(model.CrashBase{
		Type: "timeout", Input: base64.StdEncoding.EncodeToString([]byte("hi")), Reproduced: false,
	})

	require.NoError(t, c.HandleMessage(context.Background(), msg))
	require.Len(t, pub.unique, 1)
	assert.Equal(t, "timeout: UNKNOWN", pub.unique[0].Brief)

	it, err := s.Iterate(context.Background(), "fz-1", "rev-1")
	require.NoError(t, err)
	rec, err := it.Next(context.Background())
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestHandleMessage_AFL_UniqueThenDuplicate(t *testing.T) {
	s := store.NewMemoryStore()
	pub := &fakePublisher{}
	c := New(newLogger(), inlineFetcher{}, s, pub, 1024)

	msg := validMessage(model.CrashBase{
		Type: "crash", Input: base64.StdEncoding.EncodeToString([]byte("AA==")),
		Reproduced: true, ShowmapHash: "abc123",
	})
	msg.FuzzerEngine = model.EngineAFL

	require.NoError(t, c.HandleMessage(context.Background(), msg))
	require.Len(t, pub.unique, 1)
	assert.Equal(t, "crash: UNKNOWN", pub.unique[0].Brief)
	firstInputHash := pub.unique[0].InputHash

	// S5: submit the same reproduced crash again.
	require.NoError(t, c.HandleMessage(context.Background(), msg))
	require.Len(t, pub.duplicate, 1)
	assert.Equal(t, firstInputHash, pub.duplicate[0].InputHash)
	require.Len(t, pub.unique, 1) // still just the one unique event
}

func TestHandleMessage_RejectsInvalidMessage(t *testing.T) {
	s := store.NewMemoryStore()
	pub := &fakePublisher{}
	c := New(newLogger(), inlineFetcher{}, s, pub, 1024)

	msg := validMessage(model.CrashBase{Type: "crash", Reproduced: true})
	msg.Created = "not-a-timestamp"

	err := c.HandleMessage(context.Background(), msg)
	require.Error(t, err)
}

func TestHandleMessage_PreviewIsCapped(t *testing.T) {
	s := store.NewMemoryStore()
	pub := &fakePublisher{}
	c := New(newLogger(), inlineFetcher{}, s, pub, 4)

	msg := validMessage(model.CrashBase{
		Type: "crash", Input: base64.StdEncoding.EncodeToString([]byte("0123456789")),
		Reproduced: false,
	})

	require.NoError(t, c.HandleMessage(context.Background(), msg))
	require.Len(t, pub.unique, 1)

	decoded, err := base64.StdEncoding.DecodeString(pub.unique[0].Preview)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(decoded), 4)
	assert.Equal(t, []byte("0123"), decoded)
}
