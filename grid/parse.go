// Copyright 2025 ByteDance Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package grid

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// ErrNoGrid is returned by Parse when no supported notation yields a valid
// grid anywhere in the input.
var ErrNoGrid = errors.New("no parseable grid found")

// Parse recovers a grid from free-form model output. It prefers content
// inside fenced code blocks (last block first), then content after an
// explicit final-answer marker, then the full text, where the row-based
// notation itself prefers the last well-formed block since models finalize
// their answer at the end. Parse never panics; formatting noise around an
// otherwise valid grid does not change the result.
func Parse(text string) (Grid, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, errors.WithStack(ErrNoGrid)
	}

	blocks := fencedBlocks(text)
	for i := len(blocks) - 1; i >= 0; i-- {
		if g, ok := parseCandidate(blocks[i]); ok {
			return g, nil
		}
	}

	if tail, ok := afterAnswerMarker(text); ok {
		if g, ok := parseCandidate(tail); ok {
			return g, nil
		}
	}

	if g, ok := parseCandidate(text); ok {
		return g, nil
	}
	return nil, errors.WithStack(ErrNoGrid)
}

// notation priority is fixed; the structured notations come first so the
// permissive row scanner cannot mis-read their payloads (e.g. the value
// column of a sparse listing).
var strategies = []func(string) (Grid, bool){
	parseJSONList,
	parseSparseCells,
	parseTaggedRows,
	parseSemicolonLine,
	parseDelimitedRows,
}

func parseCandidate(text string) (Grid, bool) {
	text = normalizeText(text)
	for _, parse := range strategies {
		if g, ok := parse(text); ok {
			return g, true
		}
	}
	return nil, false
}

// normalizeText removes punctuation variants that carry no structure.
func normalizeText(text string) string {
	replacer := strings.NewReplacer(
		"“", `"`, "”", `"`, // smart double quotes
		"‘", "'", "’", "'", // smart single quotes
		"\r\n", "\n",
	)
	return replacer.Replace(text)
}

// fencedBlocks returns the contents of all ``` fenced code blocks, in order.
func fencedBlocks(text string) []string {
	var blocks []string
	lines := strings.Split(text, "\n")
	var cur []string
	inside := false
	for _, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			if inside {
				blocks = append(blocks, strings.Join(cur, "\n"))
				cur = nil
			}
			inside = !inside
			continue
		}
		if inside {
			cur = append(cur, line)
		}
	}
	return blocks
}

var answerMarkers = []string{"final answer", "final grid", "final output", "answer:"}

// afterAnswerMarker returns the text after the last explicit answer marker.
func afterAnswerMarker(text string) (string, bool) {
	lower := strings.ToLower(text)
	best := -1
	for _, m := range answerMarkers {
		if idx := strings.LastIndex(lower, m); idx >= 0 && idx+len(m) > best {
			best = idx + len(m)
		}
	}
	if best < 0 || best >= len(text) {
		return "", false
	}
	return text[best:], true
}

var trailingCommaRe = regexp.MustCompile(`,\s*\]`)

// parseJSONList extracts the last bracketed list-of-lists, e.g.
// [[0,1,2],[3,4,5]].
func parseJSONList(text string) (Grid, bool) {
	for start := strings.LastIndex(text, "[["); start >= 0; start = strings.LastIndex(text[:start], "[[") {
		end := matchBracket(text, start)
		if end < 0 {
			continue
		}
		raw := trailingCommaRe.ReplaceAllString(text[start:end+1], "]")
		var g Grid
		if err := json.Unmarshal([]byte(raw), &g); err != nil {
			continue
		}
		if g.Validate() == nil {
			return g, true
		}
	}
	return nil, false
}

// matchBracket returns the index of the ']' closing the '[' at start, or -1.
func matchBracket(text string, start int) int {
	depth := 0
	for i := start; i < len(text); i++ {
		switch text[i] {
		case '[':
			depth++
		case ']':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

var (
	sparseCellRe = regexp.MustCompile(`\(\s*(\d+)\s*,\s*(\d+)\s*\)\s*[:=]\s*(\d+)`)
	sparseSizeRe = regexp.MustCompile(`(?i)size\s*[:=]\s*(\d+)\s*[xX*]\s*(\d+)`)
	sparseBackRe = regexp.MustCompile(`(?i)background\s*[:=]\s*(\d+)`)
)

// parseSparseCells reads the coordinate-list notation: (row,col):value pairs
// with an implied background value and optional size/background headers.
func parseSparseCells(text string) (Grid, bool) {
	pairs := sparseCellRe.FindAllStringSubmatch(text, -1)
	if len(pairs) == 0 {
		return nil, false
	}

	background := 0
	if m := sparseBackRe.FindStringSubmatch(text); m != nil {
		background, _ = strconv.Atoi(m[1])
	}

	rows, cols := -1, -1
	if m := sparseSizeRe.FindStringSubmatch(text); m != nil {
		rows, _ = strconv.Atoi(m[1])
		cols, _ = strconv.Atoi(m[2])
	}

	type cell struct{ r, c, v int }
	cells := make([]cell, 0, len(pairs))
	maxR, maxC := -1, -1
	for _, m := range pairs {
		r, _ := strconv.Atoi(m[1])
		c, _ := strconv.Atoi(m[2])
		v, _ := strconv.Atoi(m[3])
		cells = append(cells, cell{r, c, v})
		if r > maxR {
			maxR = r
		}
		if c > maxC {
			maxC = c
		}
	}
	if rows <= 0 || cols <= 0 {
		rows, cols = maxR+1, maxC+1
	}
	if rows <= 0 || cols <= 0 || rows > MaxSide || cols > MaxSide || maxR >= rows || maxC >= cols {
		return nil, false
	}

	g := make(Grid, rows)
	for i := range g {
		row := make([]int, cols)
		for j := range row {
			row[j] = background
		}
		g[i] = row
	}
	for _, c := range cells {
		g[c.r][c.c] = c.v
	}
	if g.Validate() != nil {
		return nil, false
	}
	return g, true
}

var taggedRowRe = regexp.MustCompile(`(?s)<row>(.*?)</row>`)

// parseTaggedRows reads rows wrapped in <row>...</row> tags.
func parseTaggedRows(text string) (Grid, bool) {
	matches := taggedRowRe.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return nil, false
	}
	g := make(Grid, 0, len(matches))
	for _, m := range matches {
		row, ok := parseRowTokens(m[1])
		if !ok {
			return nil, false
		}
		g = append(g, row)
	}
	if g.Validate() != nil {
		return nil, false
	}
	return g, true
}

// parseSemicolonLine reads a single line of semicolon-joined rows,
// e.g. "0,1;2,3". The last such line wins.
func parseSemicolonLine(text string) (Grid, bool) {
	lines := strings.Split(text, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.Trim(strings.TrimSpace(lines[i]), "`[]\"'")
		if !strings.Contains(line, ";") {
			continue
		}
		parts := strings.Split(line, ";")
		g := make(Grid, 0, len(parts))
		ok := true
		for _, p := range parts {
			row, rowOK := parseRowTokens(p)
			if !rowOK {
				ok = false
				break
			}
			g = append(g, row)
		}
		if ok && g.Validate() == nil {
			return g, true
		}
	}
	return nil, false
}

// parseRowTokens splits a fragment on commas (or whitespace when no comma is
// present) and requires every token to be a bare integer.
func parseRowTokens(s string) ([]int, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, false
	}
	var tokens []string
	if strings.Contains(s, ",") {
		tokens = strings.Split(s, ",")
	} else {
		tokens = strings.Fields(s)
	}
	row := make([]int, 0, len(tokens))
	for _, tok := range tokens {
		tok = strings.TrimSpace(tok)
		if !isDigits(tok) {
			return nil, false
		}
		v, err := strconv.Atoi(tok)
		if err != nil {
			return nil, false
		}
		row = append(row, v)
	}
	if len(row) == 0 {
		return nil, false
	}
	return row, true
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

var (
	rowLabelRe     = regexp.MustCompile(`(?i)^row\s+\d+:?$`)
	numberedListRe = regexp.MustCompile(`^\d+[.)]\s+`)
)

// maxRowGap is the number of non-row lines tolerated inside one block before
// the block is split.
const maxRowGap = 2

// blockWidthSlack tolerates ragged model output when deciding whether a row
// still belongs to the current block; strict rectangularity is enforced by
// Validate afterwards.
const blockWidthSlack = 5

// parseDelimitedRows reconstructs consecutive comma- or whitespace-delimited
// rows into blocks and returns the last valid block. Code fences act as hard
// separators; small gaps of prose inside a block are tolerated.
func parseDelimitedRows(text string) (Grid, bool) {
	lines := strings.Split(text, "\n")

	// one entry per line: the parsed row, or nil for non-row lines
	rows := make([][]int, len(lines))
	hardSep := make([]bool, len(lines))

	for i, line := range lines {
		stripped := strings.TrimSpace(line)
		if strings.HasPrefix(stripped, "```") {
			hardSep[i] = true
			continue
		}
		if stripped == "" || rowLabelRe.MatchString(stripped) {
			continue
		}
		// nested-list syntax belongs to the JSON notation; flattening it
		// here would turn a rejected ragged grid into a bogus row
		if strings.Contains(stripped, "[[") {
			continue
		}
		// bullets are descriptions, not data
		if strings.HasPrefix(stripped, "-") || strings.HasPrefix(stripped, "*") || strings.HasPrefix(stripped, "+") {
			continue
		}
		rows[i] = parseRowLine(stripped)
	}

	var blocks []Grid
	var cur Grid
	lastRowIdx := -1
	for i, row := range rows {
		if row == nil {
			continue
		}
		if len(cur) == 0 {
			cur = Grid{row}
			lastRowIdx = i
			continue
		}
		split := false
		for j := lastRowIdx + 1; j < i; j++ {
			if hardSep[j] {
				split = true
				break
			}
		}
		if i-lastRowIdx-1 > maxRowGap {
			split = true
		}
		if diff := len(row) - len(cur[0]); diff > blockWidthSlack || diff < -blockWidthSlack {
			split = true
		}
		if split {
			blocks = append(blocks, cur)
			cur = Grid{row}
		} else {
			cur = append(cur, row)
		}
		lastRowIdx = i
	}
	if len(cur) > 0 {
		blocks = append(blocks, cur)
	}

	for i := len(blocks) - 1; i >= 0; i-- {
		if blocks[i].Validate() == nil {
			return blocks[i], true
		}
	}
	return nil, false
}

// parseRowLine extracts a row of integers from one line, tolerating
// conversational wrappers like backticks, brackets, labels and numbered list
// prefixes. Returns nil when the line is not a row.
func parseRowLine(stripped string) []int {
	// replace with spaces rather than deleting so digits never merge
	clean := strings.NewReplacer("`", " ", "[", " ", "]", " ").Replace(stripped)
	clean = strings.TrimSpace(clean)
	clean = numberedListRe.ReplaceAllString(clean, "")
	clean = strings.TrimSuffix(strings.TrimSpace(clean), ",")

	if row, ok := parseRowTokens(clean); ok {
		return row
	}

	// lines like "Output: 1,2,3" — keep the part after the last colon
	if idx := strings.LastIndex(clean, ":"); idx >= 0 {
		if row, ok := parseRowTokens(clean[idx+1:]); ok && len(row) > 1 {
			return row
		}
	}

	// last resort: slice from the first to the last digit and require the
	// remainder to be free of letters (pure formatting noise)
	first := strings.IndexFunc(clean, isDigitRune)
	if first < 0 {
		return nil
	}
	last := strings.LastIndexFunc(clean, isDigitRune)
	remainder := clean[last+1:]
	if strings.IndexFunc(remainder, isLetterRune) >= 0 {
		return nil
	}
	if row, ok := parseRowTokens(clean[first : last+1]); ok && len(row) > 1 {
		return row
	}
	return nil
}

func isDigitRune(r rune) bool  { return r >= '0' && r <= '9' }
func isLetterRune(r rune) bool { return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') }
