// Package segment splits raw extracted document text into per-question
// answer spans using marker heuristics. It recognizes labels like
// "Q1", "Question 1", "1)", "1.", "1 -", "I)", "Part 2" anchored at line
// starts, in decimal or Roman numerals.
package segment

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// questionMarker matches a leading question label: an optional Q/Question/Part
// word, a decimal or Roman numeral, and a closing ) . : - or whitespace.
var questionMarker = regexp.MustCompile(
	`(?i)(?:^|\n)[ \t]*(?:q(?:uestion)?|part)?[ \t]*((?:[IVXLCDM]+)|(?:\d+))[ \t]*(?:[).:\-]+|\s)`,
)

var romanValues = map[byte]int{
	'I': 1, 'V': 5, 'X': 10, 'L': 50, 'C': 100, 'D': 500, 'M': 1000,
}

// romanToInt decodes a Roman numeral using subtractive notation (IV=4, IX=9).
// Returns 0 for anything that is not a valid numeral.
func romanToInt(s string) int {
	s = strings.ToUpper(s)
	total := 0
	prev := 0
	for i := len(s) - 1; i >= 0; i-- {
		v, ok := romanValues[s[i]]
		if !ok {
			return 0
		}
		if v < prev {
			total -= v
		} else {
			total += v
			prev = v
		}
	}
	if total <= 0 {
		return 0
	}
	return total
}

// markerIndex converts a matched marker token to a question index.
// Decimal digits parse directly, otherwise the token is tried as a Roman
// numeral. Anything else yields 0 and the marker is discarded by the caller.
func markerIndex(tok string) int {
	tok = strings.TrimSpace(tok)
	if tok == "" {
		return 0
	}
	if n, err := strconv.Atoi(tok); err == nil {
		return n
	}
	return romanToInt(tok)
}

// Split turns raw document text into a mapping from question index to answer
// text. Each valid marker opens a span that runs to the start of the next
// valid marker or the end of text; the marker label is stripped once from the
// span front and the remainder trimmed. If no valid markers are found the
// whole text is a single answer at index 1. Duplicate indices are resolved
// last-write-wins. A trailing marker with no body keeps its (empty) segment.
func Split(text string) map[int]string {
	locs := questionMarker.FindAllStringSubmatchIndex(text, -1)
	if len(locs) == 0 {
		return map[int]string{1: strings.TrimSpace(text)}
	}

	type span struct {
		idx        int
		start, end int
	}
	spans := make([]span, 0, len(locs))
	for i, m := range locs {
		idx := markerIndex(text[m[2]:m[3]])
		if idx <= 0 {
			// junk marker, e.g. a stray word that only looked like a label
			continue
		}
		end := len(text)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		spans = append(spans, span{idx: idx, start: m[0], end: end})
	}
	if len(spans) == 0 {
		return map[int]string{1: strings.TrimSpace(text)}
	}

	out := make(map[int]string, len(spans))
	for _, sp := range spans {
		chunk := strings.TrimSpace(text[sp.start:sp.end])
		if loc := questionMarker.FindStringIndex(chunk); loc != nil && loc[0] == 0 {
			chunk = chunk[loc[1]:]
		}
		out[sp.idx] = strings.TrimSpace(chunk)
	}
	return out
}

// Indices returns the question indices of a Split result in ascending order.
func Indices(answers map[int]string) []int {
	idxs := make([]int, 0, len(answers))
	for idx := range answers {
		idxs = append(idxs, idx)
	}
	sort.Ints(idxs)
	return idxs
}

// CommaKeywords parses an instructor-entered comma-separated keyword list,
// dropping empty entries.
func CommaKeywords(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
