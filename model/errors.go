package model

import "errors"

// Error kinds named in spec.md §7. Each package that can raise one of
// these wraps the matching sentinel with fmt.Errorf("...: %w", err) so
// callers can use errors.Is regardless of which layer produced it.
var (
	// ErrMessageInvalid marks deserialization or invariant failures on an
	// incoming message. Policy: route to the dead-letter queue, do not ack
	// as consumed-OK from the origin queue's perspective.
	ErrMessageInvalid = errors.New("message invalid")

	// ErrEngineUnsupported marks a fuzzer_engine outside the afl/libfuzzer
	// families, or a libfuzzer-family engine the engine package has no
	// parser for. Treated identically to ErrMessageInvalid by policy.
	ErrEngineUnsupported = errors.New("engine unsupported")

	// ErrStorageNotFound marks an absent object-storage key when fetching
	// crash input. Fatal for the message; dead-letter.
	ErrStorageNotFound = errors.New("storage object not found")

	// ErrStorageTransport marks an object-storage client/connection
	// failure. Retry via broker redelivery; do not consume.
	ErrStorageTransport = errors.New("storage transport error")

	// ErrUploadLimit marks an upload-limit-exceeded condition. Upload is
	// out of scope for this core's data flow; the kind exists only for
	// completeness of the error-kind enumeration and is never returned by
	// any reachable code path.
	ErrUploadLimit = errors.New("upload limit exceeded")

	// ErrDBNotFound is returned as an absent result by the store, not
	// surfaced as an error to callers of GetByHash.
	ErrDBNotFound = errors.New("db record not found")

	// ErrDBAlreadyExists marks an insert race on the unique triple. The
	// coordinator treats this as a benign race: re-read and treat the
	// now-existing record as the duplicate target.
	ErrDBAlreadyExists = errors.New("db record already exists")

	// ErrDBTransport marks a database driver/connection failure. Retry via
	// broker redelivery.
	ErrDBTransport = errors.New("db transport error")
)
