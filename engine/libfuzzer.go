package engine

import (
	"regexp"
	"strings"

	"github.com/bondifuzz/crash-analyzer/fingerprint"
	"github.com/bondifuzz/crash-analyzer/model"
)

// engineSpec is the tagged record of function pointers the "Polymorphism
// over engines" design note (spec.md §9) asks for in place of a deep
// inheritance hierarchy: one entry per libfuzzer-family engine, grounded
// on the corresponding _read_*_stacktrace / _read_brief branch / cleaning
// function in libfuzzer.py.
type engineSpec struct {
	extractStacktrace func(output string) string
	extractBrief      func(stacktrace string) *string
	canonicalize      func(stacktrace string) string
}

var libfuzzerSpecs = map[model.EngineID]engineSpec{
	model.EngineLibfuzzer: {
		extractStacktrace: extractLibfuzzerStacktrace,
		extractBrief:       func(s string) *string { return briefWithFallback(s, nil) },
		canonicalize:       cleanGeneric,
	},
	model.EngineJazzer: {
		extractStacktrace: extractJazzerStacktrace,
		extractBrief:       func(s string) *string { return briefWithFallback(s, jazzerBriefRe) },
		canonicalize:       cleanGeneric,
	},
	model.EngineAtheris: {
		extractStacktrace: extractAtherisStacktrace,
		extractBrief:       func(s string) *string { return briefWithFallback(s, atherisBriefRe) },
		canonicalize:       cleanAtheris,
	},
	model.EngineCargoFuzz: {
		extractStacktrace: extractCargoFuzzStacktrace,
		extractBrief:       func(s string) *string { return briefWithFallback(s, cargoFuzzBriefRe) },
		canonicalize:       cleanGeneric,
	},
	model.EngineGoFuzzLibfuzzer: {
		extractStacktrace: extractGoFuzzStacktrace,
		extractBrief:       func(s string) *string { return briefWithFallback(s, goFuzzBriefRe) },
		canonicalize:       cleanGeneric,
	},
	// sharpfuzz-libfuzzer is deliberately absent: EngineID.IsLibfuzzerFamily
	// includes it (it is a libfuzzer-shaped engine for every other purpose),
	// but parse_crash's explicit whitelist in the original implementation
	// does not, and raises NotImplementedError for it. The miss on this map
	// below makes Parse return ErrEngineUnsupported for it, matching that
	// whitelist exactly.
}

func parseLibfuzzer(spec engineSpec, output string) (*string, string, error) {
	stacktrace := spec.extractStacktrace(output)
	brief := spec.extractBrief(stacktrace)
	canonical := spec.canonicalize(stacktrace)
	return brief, fingerprint.HexString(canonical), nil
}

// --- Stacktrace extraction (spec.md §4.1 step 1) ---

var (
	libfuzzerHeaderRe  = regexp.MustCompile(`^==[0-9]+==ERROR: .*$`)
	jazzerHeaderRe     = regexp.MustCompile(`^== Java Exception: .*$`)
	cargoFuzzHeaderRe  = regexp.MustCompile(`^thread '.*' panicked at '.*', .*$`)
	atherisHeaderRe    = regexp.MustCompile(`^\s*=== Uncaught Python exception: ===$`)
)

// splitLinesKeepEnds mirrors Python's str.splitlines(True) for \n-terminated
// text: each returned element retains its trailing "\n" except possibly the
// last, which has none if the input didn't end in a newline.
func splitLinesKeepEnds(s string) []string {
	var lines []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			lines = append(lines, s[start:i+1])
			start = i + 1
		}
	}
	if start < len(s) {
		lines = append(lines, s[start:])
	}
	return lines
}

func trimEOL(line string) string {
	return strings.TrimRight(line, "\r\n")
}

// extractLibfuzzerStacktrace: start at the ==N==ERROR: header, accumulate
// through and including the first "SUMMARY: " line.
func extractLibfuzzerStacktrace(output string) string {
	var res []string
	inStacktrace := false
	for _, line := range splitLinesKeepEnds(output) {
		if !inStacktrace {
			if libfuzzerHeaderRe.MatchString(trimEOL(line)) {
				inStacktrace = true
				res = append(res, line)
			}
			continue
		}
		res = append(res, line)
		if strings.HasPrefix(line, "SUMMARY: ") {
			break
		}
	}
	return strings.Join(res, "\n")
}

// extractJazzerStacktrace: start at the Java Exception header, stop before
// (not including) the first DEDUP_TOKEN: line.
func extractJazzerStacktrace(output string) string {
	var res []string
	inStacktrace := false
	for _, line := range splitLinesKeepEnds(output) {
		if !inStacktrace {
			if jazzerHeaderRe.MatchString(trimEOL(line)) {
				inStacktrace = true
				res = append(res, line)
			}
			continue
		}
		if strings.HasPrefix(line, "DEDUP_TOKEN:") {
			break
		}
		res = append(res, line)
	}
	return strings.Join(res, "\n")
}

// extractCargoFuzzStacktrace: start at the "thread '...' panicked at" line,
// stop before any line containing "=========" or "== ERROR: ".
func extractCargoFuzzStacktrace(output string) string {
	var res []string
	inStacktrace := false
	for _, line := range splitLinesKeepEnds(output) {
		if !inStacktrace {
			if cargoFuzzHeaderRe.MatchString(trimEOL(line)) {
				inStacktrace = true
				res = append(res, line)
			}
			continue
		}
		if strings.Contains(line, "=========") || strings.Contains(line, "== ERROR: ") {
			break
		}
		res = append(res, line)
	}
	return strings.Join(res, "\n")
}

// extractAtherisStacktrace: start at the "=== Uncaught Python exception: ==="
// line, stop before any line containing "=========" or "== ERROR: ".
func extractAtherisStacktrace(output string) string {
	var res []string
	inStacktrace := false
	for _, line := range splitLinesKeepEnds(output) {
		if !inStacktrace {
			if atherisHeaderRe.MatchString(trimEOL(line)) {
				inStacktrace = true
				res = append(res, line)
			}
			continue
		}
		if strings.Contains(line, "=========") || strings.Contains(line, "== ERROR: ") {
			break
		}
		res = append(res, line)
	}
	return strings.Join(res, "\n")
}

// extractGoFuzzStacktrace: reset the buffer every time a line starts with
// "panic: " (only the last panic block survives), then truncate at the
// first line containing "=========" or "== ERROR: ".
func extractGoFuzzStacktrace(output string) string {
	var res []string
	for _, line := range splitLinesKeepEnds(output) {
		if strings.HasPrefix(line, "panic: ") {
			res = []string{line}
		} else {
			res = append(res, line)
		}
	}
	for i, line := range res {
		if strings.Contains(line, "=========") || strings.Contains(line, "== ERROR: ") {
			res = res[:i]
			break
		}
	}
	return strings.Join(res, "\n")
}

// --- Brief extraction (spec.md §4.1 step 2) ---

var (
	summaryBriefRe   = regexp.MustCompile(`(?m)^SUMMARY: (.+)$`)
	goFuzzBriefRe     = regexp.MustCompile(`(?m)^panic: (.+)$`)
	cargoFuzzBriefRe  = regexp.MustCompile(`(?m)^thread '.+' panicked at '(.+)', `)
	atherisBriefRe    = regexp.MustCompile(`(?m)=== Uncaught Python exception: ===\s+([^\r\n]+)\s+Traceback \(most recent call last\):`)
	jazzerBriefRe     = regexp.MustCompile(`(?m)^== Java Exception: (.+)$`)
)

// briefWithFallback tries the engine-specific pattern first (if non-nil),
// then falls back to the generic SUMMARY: pattern, else returns nil.
func briefWithFallback(stacktrace string, specific *regexp.Regexp) *string {
	if specific != nil {
		if m := specific.FindStringSubmatch(stacktrace); m != nil {
			b := strings.TrimSpace(m[1])
			return &b
		}
	}
	if m := summaryBriefRe.FindStringSubmatch(stacktrace); m != nil {
		b := strings.TrimSpace(m[1])
		return &b
	}
	return nil
}

// --- Canonicalization (spec.md §4.1 step 3) ---

// cleanNumbersRe intentionally has no case-insensitive flag, matching
// clean_numbers in libfuzzer.py exactly (uppercase hex digits A-F are not
// stripped by the atheris path).
var cleanNumbersRe = regexp.MustCompile(`0x[0-9a-f]+|[0-9]+`)

// cleanAtheris implements _clean_atheris_output: lines that start with a
// literal space are kept verbatim (indented traceback frames); all other
// lines have every hex/decimal run deleted.
func cleanAtheris(stacktrace string) string {
	lines := pythonSplitlines(stacktrace)
	for i, line := range lines {
		if strings.HasPrefix(line, " ") {
			continue
		}
		lines[i] = cleanNumbersRe.ReplaceAllString(line, "")
	}
	return strings.Join(lines, "\n")
}

// pythonSplitlines mirrors str.splitlines() with no arguments: splits on
// \n, \r\n and bare \r, keeping no line terminators and producing no
// trailing empty element for a trailing newline.
func pythonSplitlines(s string) []string {
	var lines []string
	start := 0
	i := 0
	for i < len(s) {
		switch s[i] {
		case '\n':
			lines = append(lines, s[start:i])
			i++
			start = i
		case '\r':
			end := i
			i++
			if i < len(s) && s[i] == '\n' {
				i++
			}
			lines = append(lines, s[start:end])
			start = i
		default:
			i++
		}
	}
	if start < len(s) {
		lines = append(lines, s[start:])
	}
	return lines
}

var (
	tcRe     = regexp.MustCompile(`(?i)==[0-9]+==`)
	hexRe    = regexp.MustCompile(`(?i)([^\w+])0x[0-9a-f]+`)
	threadRe = regexp.MustCompile(`(?i)thread T[0-9]+`)
)

// cleanGeneric implements _clean_generic_output for every libfuzzer-family
// engine other than atheris: truncate-llvm-log windowing, then the four
// substitutions in the exact order the original applies them. The order is
// load-bearing: hex-scrubbing must run before decimal-scrubbing so the
// decimal pass's negative lookahead can recognize the "0x??" tokens hex
// scrubbing just produced and leave them alone.
func cleanGeneric(stacktrace string) string {
	cleaned := truncateLLVMLog(stacktrace)
	cleaned = tcRe.ReplaceAllString(cleaned, "==??==")
	cleaned = hexRe.ReplaceAllString(cleaned, "${1}0x??")
	cleaned = scrubDecimals(cleaned)
	cleaned = threadRe.ReplaceAllString(cleaned, "thread T?")
	return cleaned
}

// truncateLLVMLog finds the first "Running: " occurrence, advances past
// its trailing newline (or starts at 0 if absent), then finds the next
// "SUMMARY: " from there and advances past its trailing newline. If no
// SUMMARY: is found from the start position, the result is empty.
func truncateLLVMLog(text string) string {
	start := 0
	if idx := strings.Index(text, "Running: "); idx != -1 {
		if nl := strings.IndexByte(text[idx:], '\n'); nl != -1 {
			start = idx + nl + 1
		} else {
			start = len(text)
		}
	}

	rest := text[start:]
	sumIdx := strings.Index(rest, "SUMMARY: ")
	if sumIdx == -1 {
		return ""
	}
	sumIdx += start

	var end int
	if nl := strings.IndexByte(text[sumIdx:], '\n'); nl != -1 {
		end = sumIdx + nl + 1
	} else {
		end = len(text)
	}

	return text[start:end]
}

// scrubDecimals implements `(\s)(?!0x)\d+` → `\1??` (case-insensitive) by
// hand, since RE2 (Go's regexp engine) has no lookahead support. For every
// whitespace character immediately followed by one or more ASCII digits,
// the run of digits is replaced with "??" unless the two characters right
// after the whitespace spell out "0x"/"0X" — which is exactly the literal
// token the preceding hex-scrub pass (cleanGeneric's hexRe) just inserted,
// and which must survive this pass untouched.
func scrubDecimals(text string) string {
	isSpace := func(b byte) bool {
		switch b {
		case ' ', '\t', '\n', '\r', '\f', '\v':
			return true
		}
		return false
	}
	isDigit := func(b byte) bool { return b >= '0' && b <= '9' }

	var b strings.Builder
	b.Grow(len(text))

	n := len(text)
	i := 0
	for i < n {
		c := text[i]
		if isSpace(c) && i+1 < n && isDigit(text[i+1]) {
			looksLikeHex := text[i+1] == '0' && i+2 < n &&
				(text[i+2] == 'x' || text[i+2] == 'X')
			if looksLikeHex {
				b.WriteByte(c)
				i++
				continue
			}
			j := i + 1
			for j < n && isDigit(text[j]) {
				j++
			}
			b.WriteByte(c)
			b.WriteString("??")
			i = j
			continue
		}
		b.WriteByte(c)
		i++
	}
	return b.String()
}
