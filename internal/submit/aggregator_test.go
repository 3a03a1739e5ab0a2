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

package submit

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/cloudwego/absolver/grid"
)

func TestStatusFor(t *testing.T) {
	g := grid.Grid{{1, 2}}
	other := grid.Grid{{2, 1}}
	cases := []struct {
		name     string
		got      grid.Grid
		expected grid.Grid
		verified bool
		want     Status
	}{
		{"no answer", nil, nil, false, StatusNoAnswer},
		{"no answer with known output", nil, g, true, StatusNoAnswer},
		{"wrong answer", g, other, true, StatusFail},
		{"verified", g, g, true, StatusPassVerified},
		{"unverified", g, nil, false, StatusPassUnverified},
		{"verified without known output", g, nil, true, StatusPassVerified},
	}
	for _, c := range cases {
		if got := StatusFor(c.got, c.expected, c.verified); got != c.want {
			t.Errorf("%s: got %s, want %s", c.name, got, c.want)
		}
	}
}

func TestAggregator_JournalFlushedPerEntry(t *testing.T) {
	dir := t.TempDir()
	a, err := NewAggregator(dir)
	if err != nil {
		t.Fatal(err)
	}

	entries := []Entry{
		{TaskID: "a", TestIndex: 1, Grid: grid.Grid{{1}}, Status: StatusPassVerified, Verified: true},
		{TaskID: "a", TestIndex: 2, Status: StatusNoAnswer},
		{TaskID: "b", TestIndex: 1, Grid: grid.Grid{{2}}, Status: StatusPassUnverified},
	}
	for _, e := range entries {
		if err := a.Add(e); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}

	// every entry is on disk before any final artifact is written
	f, err := os.Open(filepath.Join(dir, "entries.jsonl"))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	lines := 0
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var e Entry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			t.Fatalf("bad journal line: %v", err)
		}
		lines++
	}
	if lines != len(entries) {
		t.Errorf("journal lines = %d, want %d", lines, len(entries))
	}

	if err := a.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestAggregator_ConcurrentAdd(t *testing.T) {
	a, err := NewAggregator(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = a.Add(Entry{TaskID: "t", TestIndex: i + 1, Status: StatusNoAnswer})
		}(i)
	}
	wg.Wait()

	if got := len(a.Entries()); got != 20 {
		t.Errorf("entries = %d, want 20", got)
	}
}

func TestWriteSubmission(t *testing.T) {
	dir := t.TempDir()
	a, err := NewAggregator(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()

	g1 := grid.Grid{{1, 1}}
	// test 1 answered, test 2 not: index 2 gets the placeholder
	_ = a.Add(Entry{TaskID: "task-a", TestIndex: 1, Grid: g1, Status: StatusPassVerified})
	_ = a.Add(Entry{TaskID: "task-a", TestIndex: 2, Status: StatusNoAnswer})

	path := filepath.Join(dir, "submission.json")
	if err := a.WriteSubmission(path); err != nil {
		t.Fatalf("WriteSubmission: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var out map[string][]struct {
		Attempt1 grid.Grid `json:"attempt_1"`
		Attempt2 grid.Grid `json:"attempt_2"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatal(err)
	}
	pairs := out["task-a"]
	if len(pairs) != 2 {
		t.Fatalf("pairs = %d, want 2", len(pairs))
	}
	if !pairs[0].Attempt1.Equal(g1) || !pairs[0].Attempt2.Equal(g1) {
		t.Errorf("single candidate must fill both attempts: %+v", pairs[0])
	}
	if !pairs[1].Attempt1.Equal(grid.Grid{{0}}) {
		t.Errorf("unanswered index must get the placeholder, got %v", pairs[1].Attempt1)
	}
}

func TestWriteResults(t *testing.T) {
	dir := t.TempDir()
	a, err := NewAggregator(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()

	_ = a.Add(Entry{TaskID: "b", TestIndex: 1, Grid: grid.Grid{{1}}, Status: StatusPassVerified, Verified: true, Cost: 0.5})
	_ = a.Add(Entry{TaskID: "a", TestIndex: 1, Status: StatusNoAnswer, Cost: 0.25})

	path := filepath.Join(dir, "results.json")
	if err := a.WriteResults(path); err != nil {
		t.Fatalf("WriteResults: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var rf struct {
		Entries []Entry        `json:"entries"`
		Counts  map[Status]int `json:"counts"`
		Total   int            `json:"total"`
		Cost    float64        `json:"total_cost"`
	}
	if err := json.Unmarshal(data, &rf); err != nil {
		t.Fatal(err)
	}
	if rf.Total != 2 || rf.Counts[StatusPassVerified] != 1 || rf.Counts[StatusNoAnswer] != 1 {
		t.Errorf("counts = %+v total = %d", rf.Counts, rf.Total)
	}
	if rf.Cost != 0.75 {
		t.Errorf("cost = %v", rf.Cost)
	}
	// sorted by task then index
	if rf.Entries[0].TaskID != "a" {
		t.Errorf("entries not sorted: %+v", rf.Entries)
	}
}
