/**
 * Copyright 2025 ByteDance Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     https://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package prompt

import (
	"bytes"
	_ "embed"
	"text/template"

	"github.com/cloudwego/absolver/grid"
	"github.com/cloudwego/absolver/task"
)

type Prompt interface {
	String() string
}

type TextPrompt string

func (p TextPrompt) String() string {
	return string(p)
}

// Notation selects how grids are rendered inside a prompt. Varying the
// notation across attempts decorrelates the models' formatting habits.
type Notation string

const (
	NotationRows      Notation = "rows"
	NotationCSV       Notation = "csv"
	NotationJSON      Notation = "json"
	NotationSemicolon Notation = "semicolon"
	NotationTagged    Notation = "tagged"
	NotationSparse    Notation = "sparse"
)

func (n Notation) Render(g grid.Grid) string {
	switch n {
	case NotationCSV:
		return g.FormatCSV()
	case NotationJSON:
		return g.FormatJSON()
	case NotationSemicolon:
		return g.FormatSemicolon()
	case NotationTagged:
		return g.FormatTagged()
	case NotationSparse:
		return g.FormatSparse(0)
	default:
		return g.FormatRows()
	}
}

//go:embed solve.tmpl
var solveTmpl string

var solveTemplate = template.Must(template.New("solve").Parse(solveTmpl))

// Solve builds the puzzle-solving prompt: the solved training examples
// followed by the test input, all rendered in one notation.
type Solve struct {
	Train    []task.Example
	Input    grid.Grid
	Strategy string
	Notation Notation
	// OmitFinalInstruction drops the "respond with only the grid" line,
	// for calls whose reply feeds another prompt instead of the extractor.
	OmitFinalInstruction bool
}

var _ Prompt = Solve{}

type solveView struct {
	Strategy         string
	Examples         []exampleView
	TestInput        string
	FinalInstruction bool
}

type exampleView struct {
	Index  int
	Input  string
	Output string
}

func (p Solve) String() string {
	view := solveView{
		Strategy:         p.Strategy,
		TestInput:        p.Notation.Render(p.Input),
		FinalInstruction: !p.OmitFinalInstruction,
	}
	for i, ex := range p.Train {
		view.Examples = append(view.Examples, exampleView{
			Index:  i + 1,
			Input:  p.Notation.Render(ex.Input),
			Output: p.Notation.Render(ex.Output),
		})
	}
	var buf bytes.Buffer
	if err := solveTemplate.Execute(&buf, view); err != nil {
		panic(err)
	}
	return buf.String()
}
