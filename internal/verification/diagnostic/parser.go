// Package diagnostic extracts library pruning hints from the free-text
// failure output of a source verification service.
package diagnostic

import (
	"regexp"
	"sort"
	"strings"
)

// OptionalMarker is printed after the list of libraries the verifier can
// detect on its own.
const OptionalMarker = "Libraries marked as optional don't need to be specified since their addresses are autodetected by the plugin."

const (
	bulletPrefix   = "  * "
	optionalSuffix = " (optional)"
)

// foreignPattern matches the per-library sentence for an address given for a
// library the contract does not link against.
var foreignPattern = regexp.MustCompile(
	`You gave an address for the library (\S+) in the libraries dictionary, which is not one of the libraries of contract (\S+)`,
)

// libraryWords are used to tell library diagnostics apart from unrelated failures.
var libraryWords = []string{
	OptionalMarker,
	"in the libraries dictionary",
	"which is not one of the libraries of contract",
	"external libraries",
	"library addresses",
	"missing libraries",
}

// Line is one line of a diagnostic, numbered from 1.
type Line struct {
	Number int
	Text   string
}

// Report lists the library names a diagnostic flagged. Both sets are sorted
// and free of duplicates.
type Report struct {
	Optional []string
	Foreign  []string
}

// Empty reports whether neither rule matched.
func (r Report) Empty() bool {
	return len(r.Optional) == 0 && len(r.Foreign) == 0
}

// Names returns the union of both sets, sorted.
func (r Report) Names() []string {
	return uniqueSorted(append(append([]string{}, r.Optional...), r.Foreign...))
}

// Parse turns a diagnostic into a Report for the given contract. It never
// fails: text without any recognised marker yields an empty report.
func Parse(text, contractID string) Report {
	lines := Lines(text)
	return Report{
		Optional: ScanOptional(lines),
		Foreign:  MatchForeign(lines, contractID),
	}
}

// Lines splits text into numbered lines, dropping carriage returns.
func Lines(text string) []Line {
	if text == "" {
		return nil
	}
	raw := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	lines := make([]Line, len(raw))
	for i, l := range raw {
		lines[i] = Line{Number: i + 1, Text: l}
	}
	return lines
}

// ScanOptional collects the names from every optional-library block. A block
// is the run of bullet lines directly beneath the marker, ending at the first
// blank line. When nothing follows the marker, the bullet block printed above
// it is used instead.
func ScanOptional(lines []Line) []string {
	var names []string
	for i, l := range lines {
		if strings.TrimSpace(l.Text) != OptionalMarker {
			continue
		}
		below := collectOptional(lines, i+1, 1)
		if len(below) == 0 && !hasBullets(lines, i+1) {
			below = collectOptional(lines, skipBlankAbove(lines, i-1), -1)
		}
		names = append(names, below...)
	}
	return uniqueSorted(names)
}

// MatchForeign collects every library reported as not belonging to the
// contract. Sentences naming a different contract are ignored.
func MatchForeign(lines []Line, contractID string) []string {
	var names []string
	for _, l := range lines {
		for _, m := range foreignPattern.FindAllStringSubmatch(l.Text, -1) {
			if !sameContract(m[2], contractID) {
				continue
			}
			names = append(names, ShortName(strings.TrimSuffix(m[1], ",")))
		}
	}
	return uniqueSorted(names)
}

// MentionsLibraries reports whether text looks like a library-related
// verification diagnostic.
func MentionsLibraries(text string) bool {
	for _, w := range libraryWords {
		if strings.Contains(text, w) {
			return true
		}
	}
	return false
}

// ShortName strips the source path from a fully qualified name.
func ShortName(name string) string {
	if i := strings.LastIndex(name, ":"); i >= 0 {
		return name[i+1:]
	}
	return name
}

func collectOptional(lines []Line, start, step int) []string {
	var names []string
	for i := start; i >= 0 && i < len(lines); i += step {
		text := lines[i].Text
		if strings.TrimSpace(text) == "" {
			break
		}
		if name, ok := optionalName(text); ok {
			names = append(names, name)
		}
	}
	return names
}

func hasBullets(lines []Line, start int) bool {
	for i := start; i < len(lines); i++ {
		if strings.TrimSpace(lines[i].Text) == "" {
			return false
		}
		if strings.HasPrefix(lines[i].Text, bulletPrefix) {
			return true
		}
	}
	return false
}

// skipBlankAbove steps over the single blank separator hardhat prints
// between the library list and the marker.
func skipBlankAbove(lines []Line, i int) int {
	if i >= 0 && strings.TrimSpace(lines[i].Text) == "" {
		return i - 1
	}
	return i
}

func optionalName(text string) (string, bool) {
	text = strings.TrimRight(text, " \t")
	if !strings.HasPrefix(text, bulletPrefix) || !strings.HasSuffix(text, optionalSuffix) {
		return "", false
	}
	name := strings.TrimSpace(strings.TrimSuffix(strings.TrimPrefix(text, bulletPrefix), optionalSuffix))
	name = ShortName(name)
	return name, name != ""
}

func sameContract(mentioned, contractID string) bool {
	mentioned = strings.TrimRight(mentioned, ".,;")
	if mentioned == contractID {
		return true
	}
	return ShortName(mentioned) == ShortName(contractID)
}

func uniqueSorted(names []string) []string {
	if len(names) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
