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

package verify

import (
	"context"
	"fmt"
	"testing"

	"github.com/cloudwego/absolver/grid"
	"github.com/cloudwego/absolver/internal/pipeline"
	"github.com/cloudwego/absolver/task"
)

// fakeRuns answers the consistency re-run with rerun, and replay j of
// example i with replays[i][j] (true = the replay reproduces the withheld
// output, false = it produces garbage). Extra replays repeat the last entry.
type fakeRuns struct {
	rerun    grid.Grid
	replays  map[int][]bool
	calls    int
	perIndex map[int]int
}

func (f *fakeRuns) run(ctx context.Context, train []task.Example, tc task.TestCase) (*pipeline.State, error) {
	f.calls++
	st := pipeline.NewState(fmt.Sprintf("r%d", f.calls), tc)
	st.Phase = pipeline.PhaseDone
	st.Cost = 0.01

	if tc.Index > 0 { // consistency re-run of the real test case
		st.Result = f.rerun
		return st, nil
	}

	// replay of withheld training example -(i+1)
	i := -tc.Index - 1
	if f.perIndex == nil {
		f.perIndex = make(map[int]int)
	}
	j := f.perIndex[i]
	f.perIndex[i]++
	script := f.replays[i]
	ok := false
	if len(script) > 0 {
		if j >= len(script) {
			j = len(script) - 1
		}
		ok = script[j]
	}
	if ok {
		st.Result = tc.Input.Clone() // stand-in for the correct prediction
	} else {
		st.Result = grid.Grid{{9, 9, 9}}
	}
	return st, nil
}

// identityTrain builds n examples whose output equals the input, so a
// "correct" replay is simply echoing the withheld input.
func identityTrain(n int) []task.Example {
	train := make([]task.Example, n)
	for i := range train {
		g := grid.Grid{{i, i + 1}}
		train[i] = task.Example{Input: g, Output: g.Clone()}
	}
	return train
}

func caseFor(id string) task.TestCase {
	return task.TestCase{TaskID: id, Index: 1, Input: grid.Grid{{3, 3}}}
}

func TestVerify_PrecisionProperty(t *testing.T) {
	candidate := grid.Grid{{1, 0}, {0, 1}}
	f := &fakeRuns{
		rerun:   candidate.Clone(),
		replays: map[int][]bool{0: {true}, 1: {true}, 2: {true}},
	}
	v := New(f.run, DefaultConfig())

	rec, err := v.Verify(context.Background(), identityTrain(3), caseFor("t"), candidate)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !rec.Verified {
		t.Fatal("expected verified = true")
	}
	if rec.MatchingRuns != 2 || rec.ExamplesPassed != 3 {
		t.Errorf("matching=%d passed=%d", rec.MatchingRuns, rec.ExamplesPassed)
	}
	// 1 re-run + 3 single-pass replays
	if f.calls != 4 {
		t.Errorf("calls = %d, want 4", f.calls)
	}
	if rec.Cost <= 0 {
		t.Error("verification runs must be billed")
	}
}

func TestVerify_DoubleRunMismatchSkipsBacktests(t *testing.T) {
	f := &fakeRuns{rerun: grid.Grid{{1, 0}, {1, 0}}}
	v := New(f.run, DefaultConfig())

	rec, err := v.Verify(context.Background(), identityTrain(3), caseFor("t"), grid.Grid{{1, 0}, {0, 1}})
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if rec.Verified {
		t.Fatal("expected verified = false")
	}
	if rec.MatchingRuns != 1 {
		t.Errorf("matching runs = %d, want 1", rec.MatchingRuns)
	}
	if f.calls != 1 {
		t.Errorf("calls = %d, backtesting must not run after a mismatch", f.calls)
	}
}

func TestVerify_TwoExampleStrictness(t *testing.T) {
	candidate := grid.Grid{{4}}
	f := &fakeRuns{
		rerun: candidate.Clone(),
		replays: map[int][]bool{
			0: {true, true},          // passes immediately
			1: {false, false, false}, // three failures
		},
	}
	v := New(f.run, DefaultConfig())

	rec, err := v.Verify(context.Background(), identityTrain(2), caseFor("t"), candidate)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if rec.Verified {
		t.Fatal("three replay failures on one example must fail verification")
	}
	if rec.ExamplesPassed != 1 {
		t.Errorf("examples passed = %d, want 1", rec.ExamplesPassed)
	}
}

func TestVerify_TwoExampleNeedsTwoSuccesses(t *testing.T) {
	candidate := grid.Grid{{4}}
	f := &fakeRuns{
		rerun: candidate.Clone(),
		replays: map[int][]bool{
			0: {false, true, true}, // one miss, then two successes
			1: {true, true},
		},
	}
	v := New(f.run, DefaultConfig())

	rec, err := v.Verify(context.Background(), identityTrain(2), caseFor("t"), candidate)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !rec.Verified {
		t.Fatal("two successes per example within the replay budget must verify")
	}
	if rec.ExamplesPassed != 2 {
		t.Errorf("examples passed = %d", rec.ExamplesPassed)
	}
}

func TestVerify_PlainRegimeRetriesOnce(t *testing.T) {
	candidate := grid.Grid{{4}}
	f := &fakeRuns{
		rerun: candidate.Clone(),
		replays: map[int][]bool{
			0: {true},
			1: {false, true}, // flaky: first replay misses, retry passes
			2: {true},
		},
	}
	v := New(f.run, DefaultConfig())

	rec, err := v.Verify(context.Background(), identityTrain(3), caseFor("t"), candidate)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !rec.Verified {
		t.Fatal("a single retried failure must not fail verification")
	}
}

func TestVerify_PlainRegimeFailsFast(t *testing.T) {
	candidate := grid.Grid{{4}}
	f := &fakeRuns{
		rerun: candidate.Clone(),
		replays: map[int][]bool{
			0: {false, false}, // two consecutive failures
			1: {true},
			2: {true},
		},
	}
	v := New(f.run, DefaultConfig())

	rec, err := v.Verify(context.Background(), identityTrain(3), caseFor("t"), candidate)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if rec.Verified {
		t.Fatal("second consecutive failure must fail verification")
	}
	// examples after the failed one are never attempted: 1 re-run + 2 replays
	if f.calls != 3 {
		t.Errorf("calls = %d, want 3", f.calls)
	}
}

func TestVerify_NoCandidate(t *testing.T) {
	f := &fakeRuns{}
	v := New(f.run, DefaultConfig())

	rec, err := v.Verify(context.Background(), identityTrain(3), caseFor("t"), nil)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if rec.Verified || f.calls != 0 {
		t.Errorf("verified=%v calls=%d for a missing candidate", rec.Verified, f.calls)
	}
}
