// Package coordinator implements the per-message orchestration from
// spec.md §4.5: fetch input, parse, dedup, publish. Grounded on
// message_queue/agent.py's MC_NewCrash.handle_crash, with the dedup-race
// re-read documented in spec.md §9 "Dedup race handling".
package coordinator

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"

	"github.com/bondifuzz/crash-analyzer/engine"
	"github.com/bondifuzz/crash-analyzer/fetch"
	"github.com/bondifuzz/crash-analyzer/fingerprint"
	"github.com/bondifuzz/crash-analyzer/model"
	"github.com/bondifuzz/crash-analyzer/store"
)

// Publisher is the narrow outbound-event surface the Coordinator needs;
// satisfied by mq.Producer.
type Publisher interface {
	PublishUnique(ctx context.Context, event model.UniqueCrashEvent) error
	PublishDuplicate(ctx context.Context, event model.DuplicateCrashEvent) error
}

// Coordinator wires the Input Fetcher, the Crash Record Store and a
// Publisher around the Engine Parsers, implementing spec.md §4.5 exactly.
type Coordinator struct {
	logger         *slog.Logger
	fetcher        fetch.InputFetcher
	store          store.CrashRecordStore
	publisher      Publisher
	previewMaxSize int
}

// New constructs a Coordinator. previewMaxSize is
// CRASH_ANALYZER_PREVIEW_MAX_SIZE from spec.md §6.
func New(logger *slog.Logger, fetcher fetch.InputFetcher,
	crashStore store.CrashRecordStore, publisher Publisher,
	previewMaxSize int) *Coordinator {

	return &Coordinator{
		logger:         logger,
		fetcher:        fetcher,
		store:          crashStore,
		publisher:      publisher,
		previewMaxSize: previewMaxSize,
	}
}

// HandleMessage runs the full per-message flow of spec.md §4.5. The
// returned error is one of model.Err* and carries the classification the
// mq layer needs to decide ack/dead-letter/redeliver (spec.md §7).
func (c *Coordinator) HandleMessage(ctx context.Context, msg model.NewCrashMessage) error {
	if err := msg.Validate(); err != nil {
		return err
	}

	inputBytes, err := c.resolveInput(ctx, msg)
	if err != nil {
		return err
	}
	inputHash := fingerprint.HexString(string(inputBytes))

	var brief *string
	var duplicateOf *model.CrashRecord
	var uniqueHash string

	if msg.Crash.Reproduced {
		b, hash, err := engine.Parse(msg.FuzzerEngine, msg.FuzzerLang, msg.Crash)
		if err != nil {
			return err
		}
		brief = b
		uniqueHash = hash

		duplicateOf, err = c.dedupe(ctx, msg, inputHash, uniqueHash)
		if err != nil {
			return err
		}
	}

	if brief == nil {
		b := fmt.Sprintf("%s: UNKNOWN", msg.Crash.Type)
		brief = &b
	}

	if duplicateOf == nil {
		return c.publishUnique(ctx, msg, inputBytes, inputHash, *brief)
	}
	return c.publisher.PublishDuplicate(ctx, model.DuplicateCrashEvent{
		FuzzerID:  msg.FuzzerID,
		FuzzerRev: msg.FuzzerRev,
		InputHash: duplicateOf.InputHash,
	})
}

// resolveInput implements the Input Fetcher contract inline: base64
// inline bytes take priority over a storage round-trip (spec.md §4.4).
func (c *Coordinator) resolveInput(ctx context.Context, msg model.NewCrashMessage) ([]byte, error) {
	if msg.Crash.Input != "" {
		decoded, err := base64.StdEncoding.DecodeString(msg.Crash.Input)
		if err != nil {
			return nil, fmt.Errorf("%w: input is not valid base64: %v",
				model.ErrMessageInvalid, err)
		}
		return decoded, nil
	}
	return c.fetcher.Fetch(ctx, msg.FuzzerID, msg.FuzzerRev, msg.Crash.InputID)
}

// dedupe implements spec.md §4.5 steps 4b/4c plus the race-handling design
// note from spec.md §9: a losing Insert racing against a concurrent
// winner is not a failure, it is re-read and treated as the duplicate
// target.
func (c *Coordinator) dedupe(ctx context.Context, msg model.NewCrashMessage,
	inputHash, uniqueHash string) (*model.CrashRecord, error) {

	existing, err := c.store.GetByHash(ctx, msg.FuzzerID, msg.FuzzerRev, uniqueHash)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	record := &model.CrashRecord{
		FuzzerID:   msg.FuzzerID,
		FuzzerRev:  msg.FuzzerRev,
		InputHash:  inputHash,
		UniqueHash: uniqueHash,
	}
	err = c.store.Insert(ctx, record)
	if err == nil {
		return nil, nil
	}
	if !errors.Is(err, model.ErrDBAlreadyExists) {
		return nil, err
	}

	c.logger.Debug("lost dedup insert race, re-reading winner's record",
		"fuzzer_id", msg.FuzzerID, "fuzzer_rev", msg.FuzzerRev, "unique_hash", uniqueHash)

	winner, err := c.store.GetByHash(ctx, msg.FuzzerID, msg.FuzzerRev, uniqueHash)
	if err != nil {
		return nil, err
	}
	if winner == nil {
		// The winner's transaction hasn't become visible yet. Treat this
		// message as its own race loss against a still-settling write
		// rather than spuriously emitting Unique twice for one hash.
		return nil, fmt.Errorf("%w: insert conflict but record not yet visible",
			model.ErrDBTransport)
	}
	return winner, nil
}

func (c *Coordinator) publishUnique(ctx context.Context, msg model.NewCrashMessage,
	inputBytes []byte, inputHash, brief string) error {

	previewLen := len(inputBytes)
	if previewLen > c.previewMaxSize {
		previewLen = c.previewMaxSize
	}
	preview := base64.StdEncoding.EncodeToString(inputBytes[:previewLen])

	return c.publisher.PublishUnique(ctx, model.UniqueCrashEvent{
		Created:    msg.Created,
		FuzzerID:   msg.FuzzerID,
		FuzzerRev:  msg.FuzzerRev,
		Preview:    preview,
		InputID:    msg.Crash.InputID,
		InputHash:  inputHash,
		Output:     msg.Crash.Output,
		Brief:      brief,
		Reproduced: msg.Crash.Reproduced,
		Type:       msg.Crash.Type,
	})
}
