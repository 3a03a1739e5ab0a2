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

package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cloudwego/absolver/internal/log"
	"github.com/cloudwego/absolver/internal/pipeline"
	"github.com/cloudwego/absolver/task"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// Unit is one schedulable piece of work: a test case with the training
// examples its pipeline may look at.
type Unit struct {
	Train []task.Example
	Case  task.TestCase
}

// Outcome pairs a unit with the terminal state its pipeline produced.
type Outcome struct {
	Unit  Unit
	State *pipeline.State
}

// RunFunc executes one unit to completion. update publishes the unit's live
// phase and message into the scheduler's status table; it never blocks.
type RunFunc func(ctx context.Context, unit Unit, update func(phase, message string)) (*pipeline.State, error)

// Scheduler fans units out over a bounded worker pool. At most W units run
// concurrently; the rest wait on the semaphore. The status table is the only
// state workers share, guarded by one mutex and read via copy-out snapshots
// so a display never pauses a worker.
type Scheduler struct {
	workers int64
	run     RunFunc
	sem     *semaphore.Weighted

	mu        sync.Mutex
	rows      map[string]*row
	queued    int
	completed int
}

type row struct {
	phase   string
	message string
	started time.Time
}

// Row is one running pipeline's live status.
type Row struct {
	Case    string
	Phase   string
	Message string
	Elapsed time.Duration
}

// Status is a point-in-time view of the pool.
type Status struct {
	Queued    int
	Running   int
	Completed int
	Rows      []Row
}

func New(workers int, run RunFunc) (*Scheduler, error) {
	if workers < 1 {
		return nil, fmt.Errorf("worker count must be >= 1, got %d", workers)
	}
	return &Scheduler{
		workers: int64(workers),
		run:     run,
		sem:     semaphore.NewWeighted(int64(workers)),
		rows:    make(map[string]*row),
	}, nil
}

// Run executes every unit and returns one outcome per unit, in input order.
// It returns only when all units are terminal; a unit whose pipeline found
// nothing still yields its outcome. The only error is a cancelled context,
// and even then the outcomes collected so far are returned.
func (s *Scheduler) Run(ctx context.Context, units []Unit) ([]Outcome, error) {
	s.mu.Lock()
	s.queued = len(units)
	s.completed = 0
	s.mu.Unlock()

	outcomes := make([]Outcome, len(units))
	g, gctx := errgroup.WithContext(ctx)
	for i, u := range units {
		i, u := i, u
		g.Go(func() error {
			if err := s.sem.Acquire(gctx, 1); err != nil {
				return err
			}
			defer s.sem.Release(1)

			key := u.Case.Key()
			s.start(key)
			st, err := s.run(gctx, u, func(phase, message string) {
				s.update(key, phase, message)
			})
			s.finish(key)
			outcomes[i] = Outcome{Unit: u, State: st}
			if err != nil {
				log.Error("[%s] pipeline aborted: %v", key, err)
			}
			return err
		})
	}
	err := g.Wait()
	return outcomes, err
}

// Snapshot copies the current counts and per-running-unit rows. Safe to call
// from a reporting goroutine at any frequency.
func (s *Scheduler) Snapshot() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{
		Queued:    s.queued - len(s.rows) - s.completed,
		Running:   len(s.rows),
		Completed: s.completed,
		Rows:      make([]Row, 0, len(s.rows)),
	}
	for key, r := range s.rows {
		st.Rows = append(st.Rows, Row{
			Case:    key,
			Phase:   r.phase,
			Message: r.message,
			Elapsed: time.Since(r.started),
		})
	}
	sort.Slice(st.Rows, func(i, j int) bool { return st.Rows[i].Case < st.Rows[j].Case })
	return st
}

func (s *Scheduler) start(key string) {
	s.mu.Lock()
	s.rows[key] = &row{phase: pipeline.PhaseShallowSearch.String(), started: time.Now()}
	s.mu.Unlock()
}

func (s *Scheduler) update(key, phase, message string) {
	s.mu.Lock()
	if r, ok := s.rows[key]; ok {
		r.phase = phase
		r.message = message
	}
	s.mu.Unlock()
}

func (s *Scheduler) finish(key string) {
	s.mu.Lock()
	delete(s.rows, key)
	s.completed++
	s.mu.Unlock()
}
