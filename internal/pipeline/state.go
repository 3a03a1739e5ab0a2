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

package pipeline

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/cloudwego/absolver/grid"
	"github.com/cloudwego/absolver/llm"
	"github.com/cloudwego/absolver/task"
)

// Phase is one state of the per-test-case machine. The ordinal only moves
// forward: evaluation after a deeper search keeps the deeper phase, so the
// index never regresses.
type Phase int

const (
	PhaseShallowSearch Phase = iota
	PhaseEval
	PhaseExtendedSearch
	PhaseFullSearch
	PhaseDone
)

func (p Phase) String() string {
	switch p {
	case PhaseShallowSearch:
		return "SHALLOW_SEARCH"
	case PhaseEval:
		return "EVAL"
	case PhaseExtendedSearch:
		return "EXTENDED_SEARCH"
	case PhaseFullSearch:
		return "FULL_SEARCH"
	case PhaseDone:
		return "DONE"
	}
	return "UNKNOWN"
}

// Attempt is one reasoning call and its parse outcome. Immutable once added.
type Attempt struct {
	ID          string        `json:"id"`
	Phase       string        `json:"phase"`
	Model       string        `json:"model"`
	Text        string        `json:"text,omitempty"`
	Grid        grid.Grid     `json:"grid,omitempty"` // nil when extraction failed
	Usage       llm.Usage     `json:"usage"`
	Cost        float64       `json:"cost"`
	Elapsed     time.Duration `json:"elapsed"`
	FailureKind string        `json:"failure_kind,omitempty"`
	Error       string        `json:"error,omitempty"`
}

// StepRecord is an immutable log entry for one step execution.
type StepRecord struct {
	Phase   string     `json:"phase"`
	Attempt int        `json:"attempt"`
	Status  StepStatus `json:"status"`
	Error   string     `json:"error,omitempty"`
	Time    time.Time  `json:"time"`
}

// StepStatus is the outcome of a step run.
type StepStatus string

const (
	StepOK     StepStatus = "ok"
	StepFailed StepStatus = "failed"
	StepRetry  StepStatus = "retry"
)

// Candidate is one distinct answer grid and how often attempts produced it.
type Candidate struct {
	Grid  grid.Grid `json:"grid"`
	Count int       `json:"count"`
	Seen  int       `json:"seen"` // attempt ordinal of first occurrence, for tie-breaking
}

// State is the pipeline's single source of truth for one test case. It is
// owned exclusively by its pipeline instance and never shared across
// pipelines; all intermediate results are serializable for inspection.
type State struct {
	RunID string        `json:"run_id"`
	Case  task.TestCase `json:"case"`

	Phase      Phase                 `json:"phase"`
	Attempts   []Attempt             `json:"attempts"`
	Candidates map[string]*Candidate `json:"candidates"`

	Cost      float64   `json:"cost"`
	StartedAt time.Time `json:"started_at"`

	History []StepRecord `json:"history"`

	Result     grid.Grid `json:"result,omitempty"` // nil until DONE, nil at DONE = no answer
	ForcedExit bool      `json:"forced_exit"`
}

func NewState(runID string, tc task.TestCase) *State {
	return &State{
		RunID:      runID,
		Case:       tc,
		Phase:      PhaseShallowSearch,
		Candidates: make(map[string]*Candidate),
		StartedAt:  time.Now(),
	}
}

// AddAttempt records an attempt and, when it carries a grid, tallies the
// candidate it voted for.
func (s *State) AddAttempt(a Attempt) {
	s.Attempts = append(s.Attempts, a)
	s.Cost += a.Cost
	if a.Grid == nil {
		return
	}
	key := a.Grid.Key()
	c, ok := s.Candidates[key]
	if !ok {
		c = &Candidate{Grid: a.Grid, Seen: len(s.Attempts)}
		s.Candidates[key] = c
	}
	c.Count++
}

// Top returns the most-voted candidate, earliest-seen winning ties, or nil
// when no attempt produced a grid.
func (s *State) Top() *Candidate {
	var top *Candidate
	for _, c := range s.Candidates {
		if top == nil || c.Count > top.Count || (c.Count == top.Count && c.Seen < top.Seen) {
			top = c
		}
	}
	return top
}

func (s *State) Elapsed() time.Duration {
	return time.Since(s.StartedAt)
}

// SaveToFile writes a JSON snapshot of the state to dir/<runID>.json.
// For resume/inspection only; snapshot failures never abort the pipeline.
func (s *State) SaveToFile(dir string) error {
	if s == nil || dir == "" {
		return nil
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, s.RunID+".json"), data, 0644)
}

func errStr(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
