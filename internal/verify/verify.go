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

// Package verify decides whether a pipeline's answer deserves the verified
// label. The design maximizes precision of "verified" at the cost of recall:
// an unstable or weakly supported answer is left unverified, never the other
// way around.
package verify

import (
	"context"

	"github.com/cloudwego/absolver/grid"
	"github.com/cloudwego/absolver/internal/log"
	"github.com/cloudwego/absolver/internal/pipeline"
	"github.com/cloudwego/absolver/task"
)

// Config holds the empirically tuned strictness constants. They are
// configuration, not law; re-tune per deployment.
type Config struct {
	// Tasks with more training examples than SmallTaskThreshold use the
	// plain regime: every example must pass, one retry per example, a
	// second consecutive failure on one example fails fast.
	RetryPerExample int `json:"retry_per_example"`

	// Tasks at or under the threshold are under-determined and prone to
	// spurious matches, so each example is replayed until it collects
	// RequiredSuccesses, up to MaxReplays, failing once failures reach
	// MaxFailures.
	SmallTaskThreshold int `json:"small_task_threshold"`
	MaxReplays         int `json:"max_replays"`
	RequiredSuccesses  int `json:"required_successes"`
	MaxFailures        int `json:"max_failures"`
}

func DefaultConfig() Config {
	return Config{
		RetryPerExample:    1,
		SmallTaskThreshold: 2,
		MaxReplays:         4,
		RequiredSuccesses:  2,
		MaxFailures:        3,
	}
}

// Record is the verification outcome for one test case. Produced once,
// read-only after creation.
type Record struct {
	CaseKey        string    `json:"case_key"`
	MatchingRuns   int       `json:"matching_runs"`   // independent top-level runs that agreed
	ExamplesPassed int       `json:"examples_passed"` // training examples replayed successfully
	Verified       bool      `json:"verified"`
	GridA          grid.Grid `json:"grid_a,omitempty"`
	GridB          grid.Grid `json:"grid_b,omitempty"`
	Cost           float64   `json:"cost"` // total cost of all verification runs
}

// RunFunc runs one pipeline to a terminal state. The verifier drives it for
// the consistency re-run and for every backtest replay.
type RunFunc func(ctx context.Context, train []task.Example, tc task.TestCase) (*pipeline.State, error)

type Verifier struct {
	run RunFunc
	cfg Config
}

func New(run RunFunc, cfg Config) *Verifier {
	return &Verifier{run: run, cfg: cfg}
}

// Verify scores candidate, the grid one completed pipeline produced for tc.
// Stage one re-runs the pipeline independently: a disagreement resolves the
// coin-flip as unverified with no backtesting. Stage two replays the
// training examples with their outputs withheld, under the regime picked by
// the example count. Disagreements and failed replays are outcomes, not
// errors; the only error is a cancelled context.
func (v *Verifier) Verify(ctx context.Context, train []task.Example, tc task.TestCase, candidate grid.Grid) (*Record, error) {
	rec := &Record{CaseKey: tc.Key(), GridA: candidate}
	if candidate == nil {
		return rec, nil
	}
	rec.MatchingRuns = 1

	st, err := v.run(ctx, train, tc)
	if err != nil {
		return rec, err
	}
	rec.Cost += st.Cost
	rec.GridB = st.Result
	if st.Result == nil || !candidate.Equal(st.Result) {
		log.Info("[%s] double-run disagreement, leaving unverified", tc.Key())
		return rec, nil
	}
	rec.MatchingRuns = 2

	tk := &task.Task{ID: tc.TaskID, Train: train}
	for i := range train {
		var pass bool
		var err error
		if len(train) > v.cfg.SmallTaskThreshold {
			pass, err = v.backtestPlain(ctx, rec, tk, i)
		} else {
			pass, err = v.backtestStrict(ctx, rec, tk, i)
		}
		if err != nil {
			return rec, err
		}
		if !pass {
			log.Info("[%s] backtest failed on example %d, leaving unverified", tc.Key(), i)
			return rec, nil
		}
		rec.ExamplesPassed++
	}

	rec.Verified = true
	return rec, nil
}

// backtestPlain replays example i, retrying RetryPerExample times; a further
// consecutive failure fails verification outright.
func (v *Verifier) backtestPlain(ctx context.Context, rec *Record, tk *task.Task, i int) (bool, error) {
	for try := 0; try <= v.cfg.RetryPerExample; try++ {
		ok, err := v.replay(ctx, rec, tk, i)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// backtestStrict replays example i until RequiredSuccesses accumulate,
// giving up once failures reach MaxFailures or replays MaxReplays.
func (v *Verifier) backtestStrict(ctx context.Context, rec *Record, tk *task.Task, i int) (bool, error) {
	successes, failures := 0, 0
	for replay := 0; replay < v.cfg.MaxReplays; replay++ {
		ok, err := v.replay(ctx, rec, tk, i)
		if err != nil {
			return false, err
		}
		if ok {
			successes++
			if successes >= v.cfg.RequiredSuccesses {
				return true, nil
			}
		} else {
			failures++
			if failures >= v.cfg.MaxFailures {
				return false, nil
			}
		}
	}
	return false, nil
}

// replay runs the pipeline on the task with example i's output withheld and
// checks the prediction against it.
func (v *Verifier) replay(ctx context.Context, rec *Record, tk *task.Task, i int) (bool, error) {
	subset, target := tk.WithheldTrain(i)
	want := target.Output
	target.Output = nil

	st, err := v.run(ctx, subset, target)
	if err != nil {
		return false, err
	}
	rec.Cost += st.Cost
	return st.Result != nil && st.Result.Equal(want), nil
}
