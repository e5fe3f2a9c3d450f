// Package mq wires the message-broker side of the worker described in
// spec.md §5/§6: a Consumer of agent.crash.new, a Producer for the two
// outgoing event types, and an errgroup-backed worker pool grounded on
// worker.go's WorkerGroup/TaskQueue — repurposed from "pull a fuzz Task"
// to "pull a broker message".
package mq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/bondifuzz/crash-analyzer/model"
)

// Message is one delivered broker message: the decoded crash event plus an
// opaque receipt handle the Consumer needs to Ack/DeadLetter it.
type Message struct {
	Crash  model.NewCrashMessage
	Handle string
}

// Consumer abstracts the inbound broker queue (agent.crash.new).
type Consumer interface {
	// Receive long-polls for up to max messages, returning as soon as at
	// least one is available or ctx is done.
	Receive(ctx context.Context, max int32) ([]RawMessage, error)
	Ack(ctx context.Context, handle string) error
	// DeadLetter routes a poison message to the configured DLQ and
	// removes it from the source queue (spec.md §7 MessageInvalid policy).
	DeadLetter(ctx context.Context, raw RawMessage) error
}

// RawMessage is the not-yet-decoded form, kept alongside the decode
// attempt so a MessageInvalid failure can still be dead-lettered with its
// original bytes.
type RawMessage struct {
	Body   []byte
	Handle string
}

// Producer abstracts the two outbound broker queues.
type Producer interface {
	PublishUnique(ctx context.Context, event model.UniqueCrashEvent) error
	PublishDuplicate(ctx context.Context, event model.DuplicateCrashEvent) error
}

// UnsentStore persists outbound events that could not be published;
// SQSProducer hands it every payload whose send fails.
type UnsentStore interface {
	Persist(ctx context.Context, kind string, payload []byte) error
}

// Handler processes one decoded crash message. Implemented by
// *coordinator.Coordinator in production.
type Handler interface {
	HandleMessage(ctx context.Context, msg model.NewCrashMessage) error
}

// Pool is the worker-pool fan-out over a Consumer, grounded on
// WorkerGroup.WorkersStartAndWait/runWorker: numWorkers goroutines each
// loop Receive→decode→Handle→Ack, coordinated by an errgroup so the first
// unrecoverable error stops every worker.
type Pool struct {
	logger      *slog.Logger
	consumer    Consumer
	handler     Handler
	numWorkers  int
	batchSize   int32
}

// NewPool constructs a Pool. numWorkers defaults to runtime.NumCPU() at
// the config layer (MQ_NUM_WORKERS, spec.md §6); batchSize bounds how
// many messages a single Receive call pulls at once.
func NewPool(logger *slog.Logger, consumer Consumer, handler Handler,
	numWorkers int, batchSize int32) *Pool {

	return &Pool{
		logger:     logger,
		consumer:   consumer,
		handler:    handler,
		numWorkers: numWorkers,
		batchSize:  batchSize,
	}
}

// Run starts numWorkers workers and blocks until ctx is cancelled or a
// worker returns an unrecoverable error.
func (p *Pool) Run(ctx context.Context) error {
	group, gctx := errgroup.WithContext(ctx)
	for workerID := 1; workerID <= p.numWorkers; workerID++ {
		id := workerID
		group.Go(func() error {
			return p.runWorker(gctx, id)
		})
	}
	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("one or more mq workers failed: %w", err)
	}
	return nil
}

func (p *Pool) runWorker(ctx context.Context, workerID int) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		raws, err := p.consumer.Receive(ctx, p.batchSize)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("worker %d: receive failed: %w", workerID, err)
		}

		for _, raw := range raws {
			p.processOne(ctx, workerID, raw)
		}
	}
}

// processOne decodes and handles a single raw message per the error
// policy table in spec.md §7. It never returns an error: success is acked,
// MessageInvalid/EngineUnsupported/StorageNotFound are dead-lettered, and
// StorageTransport, DBTransport and any other failure are logged and left
// un-acked for broker redelivery.
func (p *Pool) processOne(ctx context.Context, workerID int, raw RawMessage) {
	var crash model.NewCrashMessage
	if err := json.Unmarshal(raw.Body, &crash); err != nil {
		p.logger.Warn("dead-lettering unparseable message", "workerID", workerID, "error", err)
		p.deadLetter(ctx, raw)
		return
	}

	err := p.handler.HandleMessage(ctx, crash)
	switch {
	case err == nil:
		if ackErr := p.consumer.Ack(ctx, raw.Handle); ackErr != nil {
			p.logger.Error("ack failed", "workerID", workerID, "error", ackErr)
		}

	case errors.Is(err, model.ErrMessageInvalid), errors.Is(err, model.ErrEngineUnsupported),
		errors.Is(err, model.ErrStorageNotFound):
		p.logger.Warn("dead-lettering message", "workerID", workerID, "error", err)
		p.deadLetter(ctx, raw)

	case errors.Is(err, model.ErrStorageTransport), errors.Is(err, model.ErrDBTransport):
		p.logger.Error("transport failure, leaving message for redelivery",
			"workerID", workerID, "error", err)

	default:
		p.logger.Error("unexpected failure, leaving message for redelivery",
			"workerID", workerID, "error", err)
	}
}

func (p *Pool) deadLetter(ctx context.Context, raw RawMessage) {
	if err := p.consumer.DeadLetter(ctx, raw); err != nil {
		p.logger.Error("failed to dead-letter message", "error", err)
	}
}

// DefaultDrainTimeout equals the MQ_DRAIN_TIMEOUT default. The package has
// no shutdown drain step: Pool.Run returns once ctx is cancelled and
// nothing in the module reads this constant. main.go passes the configured
// MQ_DRAIN_TIMEOUT to the SQS consumer as its visibility timeout.
const DefaultDrainTimeout = 30 * time.Second
