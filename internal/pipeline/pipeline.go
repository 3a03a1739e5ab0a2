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
	"context"
	"sync"
	"time"

	"github.com/cloudwego/absolver/grid"
	"github.com/cloudwego/absolver/internal/log"
	"github.com/cloudwego/absolver/llm"
	"github.com/cloudwego/absolver/llm/prompt"
	"github.com/cloudwego/absolver/task"
	"github.com/google/uuid"
)

// Client is the reasoning-service boundary the pipeline drives. A failed
// call returns a *llm.CallError; the pipeline records it and keeps going.
type Client interface {
	Submit(ctx context.Context, req llm.Request) (*llm.Response, error)
}

// Pipeline escalates one test case through the search phases until a
// consensus candidate emerges or the budgets run out. Instances are cheap;
// one Pipeline value can run many test cases, each run owning its own State.
type Pipeline struct {
	Policy Policy
	Client Client

	// LogDir, when set, receives a JSON state snapshot after every phase.
	LogDir string

	// OnPhase, when set, is called once at run start and then on every
	// forward phase transition. Used by the scheduler's status table;
	// must not block.
	OnPhase func(runID string, phase Phase)
}

func New(policy Policy, client Client) *Pipeline {
	return &Pipeline{Policy: policy, Client: client}
}

// Run drives tc to a terminal state. train is the example set shown to the
// models (the verifier passes subsets here when backtesting). The returned
// State is always terminal: client failures, parse failures, and budget
// exhaustion end in DONE, never in an error. The only error is a cancelled
// context.
func (p *Pipeline) Run(ctx context.Context, train []task.Example, tc task.TestCase) (*State, error) {
	st := NewState(uuid.NewString(), tc)
	log.Info("[%s] pipeline %s started", tc.Key(), st.RunID)
	// NewState already sits at the first phase, so advance would stay
	// silent here; report the starting phase explicitly.
	if p.OnPhase != nil {
		p.OnPhase(st.RunID, st.Phase)
	}

	for phase := PhaseShallowSearch; ; {
		if err := ctx.Err(); err != nil {
			p.finish(st, nil, true)
			return st, err
		}
		if p.exhausted(st) {
			p.forceExit(st)
			return st, nil
		}

		p.advance(st, phase)
		pp, _ := p.Policy.ForPhase(phase)
		p.search(ctx, st, phase, pp, train)
		p.snapshot(st)

		// EVAL: inspect the tally, no reasoning calls
		p.advance(st, PhaseEval)
		if c := p.consensus(st); c != nil {
			log.Info("[%s] consensus on candidate with %d votes after %s", tc.Key(), c.Count, phase)
			p.finish(st, c.Grid, false)
			return st, nil
		}
		if p.exhausted(st) {
			p.forceExit(st)
			return st, nil
		}
		next := Escalation(phase)
		if next == PhaseDone {
			log.Info("[%s] no consensus after %d attempts, giving up", tc.Key(), len(st.Attempts))
			p.finish(st, nil, false)
			return st, nil
		}
		phase = next
	}
}

// search fans out one slot per configured model alias. Slots run
// concurrently; retries within a slot are sequential so an attempt history
// stays coherent and nothing is double-billed.
func (p *Pipeline) search(ctx context.Context, st *State, phase Phase, pp PhasePolicy, train []task.Example) {
	if pp.Budget > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, pp.Budget)
		defer cancel()
	}

	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, alias := range pp.Models {
		wg.Add(1)
		go func(alias string) {
			defer wg.Done()
			for try := 0; try <= pp.Retries; try++ {
				a := p.attempt(ctx, phase, pp, alias, train, st.Case.Input)
				mu.Lock()
				st.AddAttempt(a)
				status := StepOK
				if a.Grid == nil {
					status = StepFailed
					if try < pp.Retries {
						status = StepRetry
					}
				}
				st.History = append(st.History, StepRecord{
					Phase:   phase.String(),
					Attempt: try + 1,
					Status:  status,
					Error:   a.Error,
					Time:    time.Now(),
				})
				mu.Unlock()
				if a.Grid != nil || ctx.Err() != nil {
					return
				}
			}
		}(alias)
	}
	wg.Wait()
}

// attempt issues a single reasoning call and parses the reply.
func (p *Pipeline) attempt(ctx context.Context, phase Phase, pp PhasePolicy, alias string, train []task.Example, input grid.Grid) Attempt {
	a := Attempt{
		ID:    uuid.NewString(),
		Phase: phase.String(),
		Model: alias,
	}
	req := llm.Request{
		Model: alias,
		Prompt: prompt.Solve{
			Train:    train,
			Input:    input,
			Strategy: pp.Strategy,
			Notation: pp.Notation,
		}.String(),
	}
	resp, err := p.Client.Submit(ctx, req)
	if err != nil {
		a.Error = err.Error()
		if ce, ok := err.(*llm.CallError); ok {
			a.FailureKind = string(ce.Kind)
		}
		log.Debug("[%s] %s call failed: %v", phase, alias, err)
		return a
	}
	a.Text = resp.Text
	a.Usage = resp.Usage
	a.Cost = resp.Cost
	a.Elapsed = resp.Elapsed
	g, err := grid.Parse(resp.Text)
	if err != nil {
		// no candidate yet; the retry/escalation policy takes it from here
		a.Error = errStr(err)
		return a
	}
	a.Grid = g
	return a
}

// consensus applies the acceptance rule: the top candidate needs
// ConsensusCount votes and every rival at most MaxRivalCount.
func (p *Pipeline) consensus(st *State) *Candidate {
	top := st.Top()
	if top == nil || top.Count < p.Policy.ConsensusCount {
		return nil
	}
	for _, c := range st.Candidates {
		if c != top && c.Count > p.Policy.MaxRivalCount {
			return nil
		}
	}
	return top
}

func (p *Pipeline) exhausted(st *State) bool {
	if p.Policy.WallClock > 0 && st.Elapsed() > p.Policy.WallClock {
		return true
	}
	if p.Policy.CostCeiling > 0 && st.Cost > p.Policy.CostCeiling {
		return true
	}
	return false
}

// forceExit terminates with the best available candidate, consensus or not.
func (p *Pipeline) forceExit(st *State) {
	var g grid.Grid
	if top := st.Top(); top != nil {
		g = top.Grid
	}
	log.Info("[%s] budget exhausted after %s ($%.4f), forced exit", st.Case.Key(), st.Elapsed().Round(time.Second), st.Cost)
	p.finish(st, g, true)
}

func (p *Pipeline) finish(st *State, result grid.Grid, forced bool) {
	st.Result = result
	st.ForcedExit = forced
	p.advance(st, PhaseDone)
	p.snapshot(st)
}

// advance moves the phase forward only; a smaller ordinal is ignored so the
// phase index is non-decreasing for the whole run.
func (p *Pipeline) advance(st *State, ph Phase) {
	if ph <= st.Phase {
		return
	}
	st.Phase = ph
	if p.OnPhase != nil {
		p.OnPhase(st.RunID, ph)
	}
}

func (p *Pipeline) snapshot(st *State) {
	if p.LogDir == "" {
		return
	}
	if err := st.SaveToFile(p.LogDir); err != nil {
		log.Error("failed to snapshot pipeline state %s: %v", st.RunID, err)
	}
}
