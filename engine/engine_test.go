package engine

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bondifuzz/crash-analyzer/fingerprint"
	"github.com/bondifuzz/crash-analyzer/model"
)

// S1 from spec.md §8: libfuzzer, unique.
func TestParse_Libfuzzer_S1(t *testing.T) {
	output := "==12345==ERROR: AddressSanitizer: heap-buffer-overflow on address 0xdeadbeef\n" +
		"    #0 0x401abc in foo /src/a.c:10:5\n" +
		"    #1 0x401def in main /src/a.c:20:3\n" +
		"SUMMARY: AddressSanitizer: heap-buffer-overflow /src/a.c:10:5 in foo\n"

	crash := model.CrashBase{Type: "crash", Output: output, Reproduced: true}
	brief, hash, err := Parse(model.EngineLibfuzzer, model.LangCPP, crash)
	require.NoError(t, err)
	require.NotNil(t, brief)
	assert.Equal(t, "AddressSanitizer: heap-buffer-overflow /src/a.c:10:5 in foo", *brief)
	assert.Len(t, hash, 64)

	// Determinism (spec.md §8 property 1): identical input reparsed yields
	// the identical hash.
	_, hash2, err := Parse(model.EngineLibfuzzer, model.LangCPP, crash)
	require.NoError(t, err)
	assert.Equal(t, hash, hash2)
}

// S2 from spec.md §8: cargo-fuzz, unique.
func TestParse_CargoFuzz_S2(t *testing.T) {
	output := "thread '<unnamed>' panicked at 'attempt to subtract with overflow', src/main.rs:10:21\n" +
		"note: run with `RUST_BACKTRACE=1` for a backtrace\n"

	crash := model.CrashBase{Type: "crash", Output: output, Reproduced: true}
	brief, _, err := Parse(model.EngineCargoFuzz, model.LangRust, crash)
	require.NoError(t, err)
	require.NotNil(t, brief)
	assert.Equal(t, "attempt to subtract with overflow", *brief)
}

// S3 from spec.md §8: atheris, unique.
func TestParse_Atheris_S3(t *testing.T) {
	output := " === Uncaught Python exception: ===\n" +
		"ZeroDivisionError: division by zero\n" +
		"Traceback (most recent call last):\n" +
		"  File \"/x.py\", line 15, in TestOneInput\n" +
		"    c = a / (b - 30)\n"

	crash := model.CrashBase{Type: "crash", Output: output, Reproduced: true}
	brief, hash, err := Parse(model.EngineAtheris, model.LangPython, crash)
	require.NoError(t, err)
	require.NotNil(t, brief)
	assert.Equal(t, "ZeroDivisionError: division by zero", *brief)

	stacktrace := extractAtherisStacktrace(output)
	canonical := cleanAtheris(stacktrace)

	// Non-indented lines have their hex and decimal runs stripped (none of
	// the S3 non-indented lines carry digits, so a sample line is used)...
	assert.Equal(t, "ValueError: bad value  at ", cleanAtheris("ValueError: bad value 15 at 0x1f"))
	assert.Equal(t, " === Uncaught Python exception: ===\n\n"+
		"ZeroDivisionError: division by zero\n\n"+
		"Traceback (most recent call last):\n\n"+
		"  File \"/x.py\", line 15, in TestOneInput\n\n"+
		"    c = a / (b - 30)", canonical)
	// ...but indented traceback frames survive untouched.
	assert.Contains(t, canonical, "  File \"/x.py\", line 15, in TestOneInput")
	assert.Contains(t, canonical, "    c = a / (b - 30)")

	assert.Equal(t, fingerprint.HexString(canonical), hash)
}

// S4 from spec.md §8: go-fuzz-libfuzzer, multiple panics — only the last
// panic block (and its brief) survives.
func TestParse_GoFuzzLibfuzzer_S4_KeepsLastPanicOnly(t *testing.T) {
	output := "panic: first failure\n" +
		"goroutine 1 [running]:\n" +
		"main.First()\n" +
		"panic: second failure\n" +
		"goroutine 1 [running]:\n" +
		"main.Second()\n" +
		"exit status 2\n"

	crash := model.CrashBase{Type: "crash", Output: output, Reproduced: true}
	brief, _, err := Parse(model.EngineGoFuzzLibfuzzer, model.LangGo, crash)
	require.NoError(t, err)
	require.NotNil(t, brief)
	assert.Equal(t, "second failure", *brief)

	stacktrace := extractGoFuzzStacktrace(output)
	assert.NotContains(t, stacktrace, "first failure")
	assert.Contains(t, stacktrace, "second failure")
}

// S6 from spec.md §8: afl pass-through, brief left to the coordinator.
func TestParse_AFL_S6(t *testing.T) {
	crash := model.CrashBase{
		Type:        "crash",
		Input:       "AA==",
		Output:      "",
		Reproduced:  true,
		ShowmapHash: "abc123",
	}
	brief, hash, err := Parse(model.EngineAFL, model.LangCPP, crash)
	require.NoError(t, err)
	assert.Nil(t, brief)
	assert.Equal(t, "abc123", hash)
}

func TestParse_AFLRust_And_SharpFuzzAFL_AreTrivialToo(t *testing.T) {
	for _, id := range []model.EngineID{model.EngineAFLRust, model.EngineSharpFuzzAFL} {
		crash := model.CrashBase{Type: "crash", Input: "AA==", ShowmapHash: "hash-" + string(id)}
		brief, hash, err := Parse(id, model.LangCPP, crash)
		require.NoError(t, err)
		assert.Nil(t, brief)
		assert.Equal(t, "hash-"+string(id), hash)
	}
}

func TestParse_UnsupportedEngine_Rejected(t *testing.T) {
	crash := model.CrashBase{Type: "crash", Input: "AA=="}
	_, _, err := Parse(model.EngineID("totally-unknown"), model.LangGo, crash)
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrEngineUnsupported)
}

func TestParse_SharpFuzzLibfuzzer_Rejected(t *testing.T) {
	// sharpfuzz-libfuzzer is a libfuzzer-family engine by predicate but is
	// absent from the original's parse_crash whitelist, which raises
	// NotImplementedError for it. Parse must reject it the same way.
	crash := model.CrashBase{Type: "crash", Input: "AA==", Output: "==1==ERROR: x\nSUMMARY: x\n"}
	_, _, err := Parse(model.EngineSharpFuzzLibfuzzer, model.LangGo, crash)
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrEngineUnsupported)
}

func TestJazzerStacktrace_StopsBeforeDedupToken(t *testing.T) {
	output := "== Java Exception: java.lang.ArithmeticException: / by zero\n" +
		"\tat com.example.Fuzz.fuzzerTestOneInput(Fuzz.java:10)\n" +
		"DEDUP_TOKEN: abc\n" +
		"more noise\n"

	stacktrace := extractJazzerStacktrace(output)
	assert.NotContains(t, stacktrace, "DEDUP_TOKEN")
	assert.NotContains(t, stacktrace, "more noise")
	assert.True(t, strings.HasPrefix(stacktrace, "== Java Exception:"))

	brief := briefWithFallback(stacktrace, jazzerBriefRe)
	require.NotNil(t, brief)
	assert.Equal(t, "java.lang.ArithmeticException: / by zero", *brief)
}

func TestCleanGeneric_EmptyWithoutSummary(t *testing.T) {
	// Open Question resolution (spec.md §9, decided in DESIGN.md): engines
	// whose windowed stacktrace never contains "SUMMARY: " canonicalize to
	// the empty string, exactly like the original.
	got := cleanGeneric("thread 'x' panicked at 'y', z.rs:1:1\nnote: something\n")
	assert.Equal(t, "", got)
}

func TestScrubDecimals_PreservesFreshHexTokens(t *testing.T) {
	// The hex pass runs first and inserts " 0x??"; the decimal pass must
	// not mistake that literal "0" for a decimal run.
	in := " 0x??" + " 123"
	got := scrubDecimals(in)
	assert.Equal(t, " 0x?? ??", got)
}

func TestEngineID_FamilyPredicates(t *testing.T) {
	assert.True(t, model.EngineAFL.IsAFLFamily())
	assert.True(t, model.EngineAFLRust.IsAFLFamily())
	assert.True(t, model.EngineSharpFuzzAFL.IsAFLFamily())
	assert.False(t, model.EngineAFL.IsLibfuzzerFamily())

	for _, id := range []model.EngineID{
		model.EngineLibfuzzer, model.EngineJazzer, model.EngineAtheris,
		model.EngineCargoFuzz, model.EngineGoFuzzLibfuzzer, model.EngineSharpFuzzLibfuzzer,
	} {
		assert.True(t, id.IsLibfuzzerFamily())
		assert.False(t, id.IsAFLFamily())
	}
}
