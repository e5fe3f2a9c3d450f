// Package model defines the wire and storage types shared by the engine
// parsers, the crash record store, the input fetcher and the coordinator.
package model

import (
	"fmt"
	"strings"
	"time"
)

// EngineID is the closed enumeration of fuzzing engines this worker knows
// how to parse crashes for.
type EngineID string

const (
	EngineAFL                EngineID = "afl"
	EngineAFLRust            EngineID = "afl.rs"
	EngineSharpFuzzAFL       EngineID = "sharpfuzz-afl"
	EngineLibfuzzer          EngineID = "libfuzzer"
	EngineJazzer             EngineID = "jazzer"
	EngineAtheris            EngineID = "atheris"
	EngineCargoFuzz          EngineID = "cargo-fuzz"
	EngineGoFuzzLibfuzzer    EngineID = "go-fuzz-libfuzzer"
	EngineSharpFuzzLibfuzzer EngineID = "sharpfuzz-libfuzzer"
)

// aflFamily and libfuzzerFamily partition the EngineID enumeration as
// specified: any EngineID outside the union of the two is rejected at the
// message boundary.
var aflFamily = map[EngineID]bool{
	EngineAFL:          true,
	EngineAFLRust:      true,
	EngineSharpFuzzAFL: true,
}

var libfuzzerFamily = map[EngineID]bool{
	EngineLibfuzzer:          true,
	EngineJazzer:             true,
	EngineAtheris:            true,
	EngineCargoFuzz:          true,
	EngineGoFuzzLibfuzzer:    true,
	EngineSharpFuzzLibfuzzer: true,
}

// IsAFLFamily reports whether id belongs to the afl-family of engines.
func (id EngineID) IsAFLFamily() bool { return aflFamily[id] }

// IsLibfuzzerFamily reports whether id belongs to the libfuzzer-family of
// engines.
func (id EngineID) IsLibfuzzerFamily() bool { return libfuzzerFamily[id] }

// Validate returns an error if id is not one of the nine known engines.
func (id EngineID) Validate() error {
	if id.IsAFLFamily() || id.IsLibfuzzerFamily() {
		return nil
	}
	return fmt.Errorf("%w: %q", ErrEngineUnsupported, string(id))
}

// LangID is the closed enumeration of source languages carried through the
// message but never used to alter parsing.
type LangID string

const (
	LangGo     LangID = "go"
	LangCPP    LangID = "cpp"
	LangRust   LangID = "rust"
	LangJava   LangID = "java"
	LangSwift  LangID = "swift"
	LangPython LangID = "python"
)

func (id LangID) Validate() error {
	switch id {
	case LangGo, LangCPP, LangRust, LangJava, LangSwift, LangPython:
		return nil
	default:
		return fmt.Errorf("%w: unknown fuzzer_lang %q", ErrMessageInvalid,
			string(id))
	}
}

// CrashBase is the incoming crash sub-object. ShowmapHash is only
// populated (and only consulted) for afl-family engines; it is carried
// on the same struct, rather than on a separate AflCrash type, because
// the wire payload is a single flexible JSON object per spec.md §3 and
// Go's encoding/json has no need for a second struct to decode it.
type CrashBase struct {
	Type        string `json:"type"`
	InputID     string `json:"input_id,omitempty"`
	Input       string `json:"input,omitempty"`
	Output      string `json:"output"`
	Reproduced  bool   `json:"reproduced"`
	ShowmapHash string `json:"showmap_hash,omitempty"`
}

// Validate enforces the CrashBase invariant: at least one of InputID
// (non-empty) or Input must be present.
func (c CrashBase) Validate() error {
	if strings.TrimSpace(c.InputID) != "" {
		return nil
	}
	// InputID didn't count as present above (absent, or whitespace-only).
	// Input is allowed to be an empty string in principle (matching the
	// original's `isinstance(data["input"], str)` check, which accepts
	// ""), but it must have been explicitly set — and Go's zero value for
	// string is indistinguishable from "explicitly empty", so only a
	// non-empty Input can satisfy the invariant here.
	if c.Input != "" {
		return nil
	}
	return fmt.Errorf("%w: input_id or input must be set", ErrMessageInvalid)
}

// AflCrash is CrashBase as seen by the afl-family parser: the fingerprint
// is ShowmapHash verbatim, no stacktrace involved.
type AflCrash = CrashBase

// LibfuzzerCrash is CrashBase as seen by the libfuzzer-family parser; the
// fingerprint is derived from Output by the engine package.
type LibfuzzerCrash = CrashBase

// NewCrashMessage is the consumed agent.crash.new event.
type NewCrashMessage struct {
	UserID       string    `json:"user_id"`
	ProjectID    string    `json:"project_id"`
	PoolID       string    `json:"pool_id"`
	FuzzerID     string    `json:"fuzzer_id"`
	FuzzerRev    string    `json:"fuzzer_rev"`
	FuzzerEngine EngineID  `json:"fuzzer_engine"`
	FuzzerLang   LangID    `json:"fuzzer_lang"`
	Crash        CrashBase `json:"crash"`
	Created      string    `json:"created"`
}

// Validate checks every message-boundary invariant named in spec.md §3/§6:
// RFC3339 "Z"-suffixed Created, a known engine/lang, and the CrashBase
// input invariant.
func (m NewCrashMessage) Validate() error {
	if _, err := time.Parse(time.RFC3339, m.Created); err != nil ||
		!strings.HasSuffix(m.Created, "Z") {
		return fmt.Errorf("%w: created %q is not a Z-suffixed RFC3339 "+
			"timestamp", ErrMessageInvalid, m.Created)
	}
	if err := m.FuzzerEngine.Validate(); err != nil {
		return err
	}
	if err := m.FuzzerLang.Validate(); err != nil {
		return err
	}
	if err := m.Crash.Validate(); err != nil {
		return err
	}
	return nil
}

// CrashRecord is the persisted dedup-store document.
type CrashRecord struct {
	Key        string `json:"key,omitempty"`
	FuzzerID   string `json:"fuzzer_id"`
	FuzzerRev  string `json:"fuzzer_rev"`
	InputHash  string `json:"input_hash"`
	UniqueHash string `json:"unique_hash"`
}

// UniqueCrashEvent is published to crash-analyzer.crashes.unique.
type UniqueCrashEvent struct {
	Created    string `json:"created"`
	FuzzerID   string `json:"fuzzer_id"`
	FuzzerRev  string `json:"fuzzer_rev"`
	Preview    string `json:"preview"`
	InputID    string `json:"input_id,omitempty"`
	InputHash  string `json:"input_hash"`
	Output     string `json:"output"`
	Brief      string `json:"brief"`
	Reproduced bool   `json:"reproduced"`
	Type       string `json:"type"`
}

// DuplicateCrashEvent is published to crash-analyzer.crashes.duplicate.
type DuplicateCrashEvent struct {
	FuzzerID  string `json:"fuzzer_id"`
	FuzzerRev string `json:"fuzzer_rev"`
	InputHash string `json:"input_hash"`
}
