// Package engine implements the per-engine crash parsers described in
// spec.md §4.1: pure functions that turn a noisy, heterogeneous fuzzer
// output into a stable (brief, unique_hash) pair.
//
// Grounded on crash_analyzer/app/agents/{afl,libfuzzer}.py from the
// original Python implementation; the dispatch table replaces the
// source's enum-identity branching per the "Polymorphism over engines"
// design note (spec.md §9).
package engine

import (
	"fmt"

	"github.com/bondifuzz/crash-analyzer/model"
)

// Parse dispatches crash to the parser for engine's family and returns the
// extracted brief (nil if none could be derived) and the unique_hash.
//
// afl-family engines never consult the libfuzzer dispatch table: the
// fingerprint is the engine-supplied showmap_hash verbatim, with no
// stacktrace parsing at all (spec.md §4.1).
func Parse(engineID model.EngineID, lang model.LangID,
	crash model.CrashBase) (*string, string, error) {

	switch {
	case engineID.IsAFLFamily():
		return parseAFL(crash.ShowmapHash)

	case engineID.IsLibfuzzerFamily():
		spec, ok := libfuzzerSpecs[engineID]
		if !ok {
			return nil, "", fmt.Errorf("%w: %q has no libfuzzer spec",
				model.ErrEngineUnsupported, string(engineID))
		}
		return parseLibfuzzer(spec, crash.Output)

	default:
		return nil, "", fmt.Errorf("%w: %q", model.ErrEngineUnsupported,
			string(engineID))
	}
}

// parseAFL is the degenerate afl-family parser: no brief, unique_hash is
// the engine-supplied coverage hash.
func parseAFL(showmapHash string) (*string, string, error) {
	return nil, showmapHash, nil
}
