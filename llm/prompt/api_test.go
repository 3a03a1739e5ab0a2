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
	"strings"
	"testing"

	"github.com/cloudwego/absolver/grid"
	"github.com/cloudwego/absolver/task"
)

func TestSolvePrompt(t *testing.T) {
	p := Solve{
		Train: []task.Example{
			{Input: grid.Grid{{0, 1}}, Output: grid.Grid{{1, 0}}},
			{Input: grid.Grid{{2, 2}}, Output: grid.Grid{{3, 3}}},
		},
		Input:    grid.Grid{{4, 5}},
		Notation: NotationRows,
	}
	s := p.String()

	for _, want := range []string{
		"Example 1:", "Example 2:",
		"0 1", "1 0", "2 2", "3 3",
		"Test input:\n4 5",
		"Respond with ONLY the completed output grid.",
	} {
		if !strings.Contains(s, want) {
			t.Errorf("prompt missing %q:\n%s", want, s)
		}
	}
	if strings.Contains(s, "Suggested Strategy") {
		t.Error("strategy line rendered without one set")
	}
}

func TestSolvePrompt_StrategyAndOmit(t *testing.T) {
	p := Solve{
		Train:                []task.Example{{Input: grid.Grid{{1}}, Output: grid.Grid{{2}}}},
		Input:                grid.Grid{{3}},
		Strategy:             "mirror the grid",
		Notation:             NotationJSON,
		OmitFinalInstruction: true,
	}
	s := p.String()
	if !strings.Contains(s, "Suggested Strategy: mirror the grid") {
		t.Errorf("missing strategy:\n%s", s)
	}
	if strings.Contains(s, "Respond with ONLY") {
		t.Errorf("final instruction not omitted:\n%s", s)
	}
	if !strings.Contains(s, "[[3]]") {
		t.Errorf("JSON notation not applied:\n%s", s)
	}
}

func TestNotationRender(t *testing.T) {
	g := grid.Grid{{0, 1}, {2, 0}}
	cases := map[Notation]string{
		NotationRows:      "0 1\n2 0",
		NotationCSV:       "0,1\n2,0",
		NotationJSON:      "[[0,1],[2,0]]",
		NotationSemicolon: "0,1;2,0",
		NotationTagged:    "<row>0 1</row>\n<row>2 0</row>",
	}
	for n, want := range cases {
		if got := n.Render(g); got != want {
			t.Errorf("%s: got %q, want %q", n, got, want)
		}
	}
	sparse := NotationSparse.Render(g)
	if !strings.Contains(sparse, "size: 2x2") || !strings.Contains(sparse, "(0,1):1") {
		t.Errorf("sparse render = %q", sparse)
	}
}
