package capture

import (
	"regexp"
	"strings"
)

// ansiPattern matches CSI sequences, OSC sequences (BEL or ST
// terminated), and lone two-byte escapes.
var ansiPattern = regexp.MustCompile(`\x1b\[[0-9;?]*[ -/]*[@-~]|\x1b\][^\x07\x1b]*(?:\x07|\x1b\\)|\x1b[@-_]`)

// truncationMarker separates the retained head and tail of oversized
// captured output.
const truncationMarker = "\n... [output truncated] ...\n"

// StripANSI removes ANSI escape sequences from s.
func StripANSI(s string) string {
	return ansiPattern.ReplaceAllString(s, "")
}

// CollapseCarriageReturns emulates what a terminal displays for
// CR-overwrite sequences (progress bars, spinners): on each line, only
// the text after the last carriage return survives.
func CollapseCarriageReturns(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		if idx := strings.LastIndexByte(line, '\r'); idx >= 0 {
			lines[i] = line[idx+1:]
		}
	}
	return strings.Join(lines, "\n")
}

// Truncate bounds s to roughly max bytes by keeping a prefix and a
// suffix around a truncation marker.
func Truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	head := max * 3 / 4
	tail := max - head
	return s[:head] + truncationMarker + s[len(s)-tail:]
}

// Clean turns raw captured PTY bytes into the text a caller should see:
//
//  1. everything from the completion marker onward is dropped;
//  2. ANSI escapes are stripped;
//  3. carriage-return overwrites are collapsed;
//  4. the first line goes (the shell's echo of the wrapped command);
//  5. oversized output is truncated to a bounded prefix and suffix.
//
// The marker is matched together with its trailing exit-status digits so
// the command echo, which contains the marker text followed by a printf
// format verb instead of digits, is not mistaken for completion.
func Clean(raw, sentinel string, max int) string {
	if m := sentinelPattern(sentinel).FindStringIndex(raw); m != nil {
		raw = raw[:m[0]]
	}

	raw = StripANSI(raw)
	raw = CollapseCarriageReturns(raw)

	if idx := strings.IndexByte(raw, '\n'); idx >= 0 {
		raw = raw[idx+1:]
	} else {
		raw = ""
	}

	raw = strings.Trim(raw, "\r\n")
	return Truncate(raw, max)
}

// sentinelPattern compiles the completion pattern for a sentinel: the
// regex-escaped token immediately followed by the exit status digits.
// The sentinel is randomized per run and can contain regex
// metacharacters, hence the quoting.
func sentinelPattern(sentinel string) *regexp.Regexp {
	return regexp.MustCompile(regexp.QuoteMeta(sentinel) + `(\d+)`)
}

// stripSentinel removes sentinel occurrences (with or without trailing
// digits) from a display chunk so the marker never reaches the UI.
func stripSentinel(data []byte, sentinel string) []byte {
	re := regexp.MustCompile(regexp.QuoteMeta(sentinel) + `\d*`)
	return re.ReplaceAll(data, nil)
}
