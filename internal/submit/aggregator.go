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

// Package submit records terminal outcomes and serializes the run's
// artifacts. It performs no judgment: entries are written as given, once,
// and a persistence failure is fatal to the whole run because collected
// results are otherwise irrecoverable.
package submit

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/cloudwego/absolver/grid"
	"github.com/cloudwego/absolver/internal/utils"
)

type Status string

const (
	StatusPassVerified   Status = "PASS-verified"
	StatusPassUnverified Status = "PASS-unverified"
	StatusFail           Status = "FAIL"
	StatusNoAnswer       Status = "no-answer"
)

// StatusFor derives the reported status: no grid is no-answer, a grid
// contradicting a known expected output is FAIL, anything else passes at
// the verification level it earned.
func StatusFor(g, expected grid.Grid, verified bool) Status {
	if g == nil {
		return StatusNoAnswer
	}
	if expected != nil && !g.Equal(expected) {
		return StatusFail
	}
	if verified {
		return StatusPassVerified
	}
	return StatusPassUnverified
}

// Entry is one test case's terminal outcome. Written once, never mutated.
type Entry struct {
	TaskID    string        `json:"task_id"`
	TestIndex int           `json:"test_index"`
	Grid      grid.Grid     `json:"grid,omitempty"` // nil = no answer
	Status    Status        `json:"status"`
	Verified  bool          `json:"verified"`
	Elapsed   time.Duration `json:"elapsed"`
	Cost      float64       `json:"cost"`
}

// Aggregator is the only cross-pipeline shared sink. Appends are serialized
// by one mutex and flushed to a JSONL journal immediately, so a crash loses
// at most the entry being written.
type Aggregator struct {
	mu      sync.Mutex
	entries []Entry
	journal *os.File
}

// NewAggregator creates dir and opens the per-entry journal inside it.
func NewAggregator(dir string) (*Aggregator, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, utils.WrapError(err, "create output dir")
	}
	f, err := os.OpenFile(filepath.Join(dir, "entries.jsonl"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, utils.WrapError(err, "open entries journal")
	}
	return &Aggregator{journal: f}, nil
}

// Add appends one terminal entry and flushes it to the journal. An error
// here must abort the run.
func (a *Aggregator) Add(e Entry) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, e)

	line, err := json.Marshal(e)
	if err != nil {
		return utils.WrapError(err, "marshal entry")
	}
	if _, err := a.journal.Write(append(line, '\n')); err != nil {
		return utils.WrapError(err, "flush entry")
	}
	return a.journal.Sync()
}

// Entries returns a copy of everything recorded so far.
func (a *Aggregator) Entries() []Entry {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Entry(nil), a.entries...)
}

func (a *Aggregator) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.journal.Close()
}

type attemptPair struct {
	Attempt1 grid.Grid `json:"attempt_1"`
	Attempt2 grid.Grid `json:"attempt_2"`
}

// WriteSubmission serializes the task → per-test attempts mapping. Each test
// index gets two attempts; with a single chosen grid the first attempt is
// duplicated, and an unanswered index gets the [[0]] placeholder so the
// artifact stays positionally complete.
func (a *Aggregator) WriteSubmission(path string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	byTask := make(map[string]map[int]grid.Grid)
	maxIdx := make(map[string]int)
	for _, e := range a.entries {
		if byTask[e.TaskID] == nil {
			byTask[e.TaskID] = make(map[int]grid.Grid)
		}
		byTask[e.TaskID][e.TestIndex] = e.Grid
		if e.TestIndex > maxIdx[e.TaskID] {
			maxIdx[e.TaskID] = e.TestIndex
		}
	}

	placeholder := grid.Grid{{0}}
	out := make(map[string][]attemptPair, len(byTask))
	for id, tests := range byTask {
		pairs := make([]attemptPair, 0, maxIdx[id])
		for i := 1; i <= maxIdx[id]; i++ {
			g := tests[i]
			if g == nil {
				g = placeholder
			}
			pairs = append(pairs, attemptPair{Attempt1: g, Attempt2: g})
		}
		out[id] = pairs
	}

	return writeJSON(path, out)
}

type resultsFile struct {
	Entries []Entry        `json:"entries"`
	Counts  map[Status]int `json:"counts"`
	Total   int            `json:"total"`
	Cost    float64        `json:"total_cost"`
	Elapsed time.Duration  `json:"total_elapsed"`
}

// WriteResults serializes per-test-case status plus the aggregate counts the
// summary table is built from.
func (a *Aggregator) WriteResults(path string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	entries := append([]Entry(nil), a.entries...)
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].TaskID != entries[j].TaskID {
			return entries[i].TaskID < entries[j].TaskID
		}
		return entries[i].TestIndex < entries[j].TestIndex
	})

	rf := resultsFile{
		Entries: entries,
		Counts:  make(map[Status]int),
		Total:   len(entries),
	}
	for _, e := range entries {
		rf.Counts[e.Status]++
		rf.Cost += e.Cost
		rf.Elapsed += e.Elapsed
	}
	return writeJSON(path, rf)
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return utils.WrapError(err, "marshal artifact")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return utils.WrapError(err, "create artifact dir")
	}
	return utils.WrapError(os.WriteFile(path, data, 0644), "write artifact")
}
