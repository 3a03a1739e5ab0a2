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

// Package grid defines the rectangular integer grid that puzzle answers are
// expressed in, together with its text renderers and the extractor that
// recovers a grid from free-form model output.
package grid

import (
	"fmt"
	"strconv"
	"strings"
)

// Cell values are confined to a single decimal digit.
const (
	MinCell = 0
	MaxCell = 9
)

// MaxSide bounds grid dimensions; puzzle grids never exceed 30x30.
const MaxSide = 30

// Grid is a rectangular 2-D array of small integers.
type Grid [][]int

// Validate reports whether g is non-empty, rectangular and within the cell
// value domain.
func (g Grid) Validate() error {
	if len(g) == 0 {
		return fmt.Errorf("grid is empty")
	}
	if len(g) > MaxSide {
		return fmt.Errorf("grid has %d rows, max %d", len(g), MaxSide)
	}
	width := len(g[0])
	if width == 0 {
		return fmt.Errorf("grid row 0 is empty")
	}
	if width > MaxSide {
		return fmt.Errorf("grid has %d columns, max %d", width, MaxSide)
	}
	for i, row := range g {
		if len(row) != width {
			return fmt.Errorf("grid is not rectangular: row %d has %d cells, want %d", i, len(row), width)
		}
		for j, c := range row {
			if c < MinCell || c > MaxCell {
				return fmt.Errorf("cell (%d,%d) value %d out of range [%d,%d]", i, j, c, MinCell, MaxCell)
			}
		}
	}
	return nil
}

// Equal reports cell-for-cell equality.
func (g Grid) Equal(other Grid) bool {
	if len(g) != len(other) {
		return false
	}
	for i := range g {
		if len(g[i]) != len(other[i]) {
			return false
		}
		for j := range g[i] {
			if g[i][j] != other[i][j] {
				return false
			}
		}
	}
	return true
}

// Clone returns a deep copy.
func (g Grid) Clone() Grid {
	if g == nil {
		return nil
	}
	out := make(Grid, len(g))
	for i, row := range g {
		out[i] = append([]int(nil), row...)
	}
	return out
}

// Key returns a canonical string usable as a map key for candidate tallies.
func (g Grid) Key() string {
	return g.FormatSemicolon()
}

// String renders the grid for human inspection: a size line followed by one
// digit-run per row.
func (g Grid) String() string {
	if len(g) == 0 {
		return "(empty grid)"
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Size: %dx%d", len(g), len(g[0]))
	for _, row := range g {
		sb.WriteByte('\n')
		for _, c := range row {
			sb.WriteString(strconv.Itoa(c))
		}
	}
	return sb.String()
}

// FormatCSV renders one comma-joined row per line.
func (g Grid) FormatCSV() string {
	rows := make([]string, len(g))
	for i, row := range g {
		rows[i] = joinInts(row, ",")
	}
	return strings.Join(rows, "\n")
}

// FormatRows renders one space-joined row per line.
func (g Grid) FormatRows() string {
	rows := make([]string, len(g))
	for i, row := range g {
		rows[i] = joinInts(row, " ")
	}
	return strings.Join(rows, "\n")
}

// FormatJSON renders the grid as a bracketed list-of-lists, e.g.
// [[0,1],[2,3]].
func (g Grid) FormatJSON() string {
	rows := make([]string, len(g))
	for i, row := range g {
		rows[i] = "[" + joinInts(row, ",") + "]"
	}
	return "[" + strings.Join(rows, ",") + "]"
}

// FormatSemicolon renders all rows on a single line, rows joined by
// semicolons: "0,1;2,3".
func (g Grid) FormatSemicolon() string {
	rows := make([]string, len(g))
	for i, row := range g {
		rows[i] = joinInts(row, ",")
	}
	return strings.Join(rows, ";")
}

// FormatTagged renders one <row>...</row> element per line.
func (g Grid) FormatTagged() string {
	rows := make([]string, len(g))
	for i, row := range g {
		rows[i] = "<row>" + joinInts(row, " ") + "</row>"
	}
	return strings.Join(rows, "\n")
}

// FormatSparse renders the coordinate-list notation: a size header, the
// background value, and one (row,col):value pair per non-background cell.
func (g Grid) FormatSparse(background int) string {
	var sb strings.Builder
	if len(g) == 0 {
		return ""
	}
	fmt.Fprintf(&sb, "size: %dx%d\n", len(g), len(g[0]))
	fmt.Fprintf(&sb, "background: %d", background)
	for i, row := range g {
		for j, c := range row {
			if c != background {
				fmt.Fprintf(&sb, "\n(%d,%d):%d", i, j, c)
			}
		}
	}
	return sb.String()
}

func joinInts(row []int, sep string) string {
	parts := make([]string, len(row))
	for i, c := range row {
		parts[i] = strconv.Itoa(c)
	}
	return strings.Join(parts, sep)
}
