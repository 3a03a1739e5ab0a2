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
	"sync/atomic"
	"testing"
	"time"

	"github.com/cloudwego/absolver/grid"
	"github.com/cloudwego/absolver/internal/pipeline"
	"github.com/cloudwego/absolver/task"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeUnits(n int) []Unit {
	units := make([]Unit, n)
	for i := range units {
		units[i] = Unit{
			Case: task.TestCase{TaskID: fmt.Sprintf("t%02d", i), Index: 1, Input: grid.Grid{{0}}},
		}
	}
	return units
}

func TestRun_CapacityInvariant(t *testing.T) {
	const workers = 2
	var running, peak int32

	run := func(ctx context.Context, u Unit, update func(phase, message string)) (*pipeline.State, error) {
		cur := atomic.AddInt32(&running, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if cur <= p || atomic.CompareAndSwapInt32(&peak, p, cur) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		atomic.AddInt32(&running, -1)
		st := pipeline.NewState("r-"+u.Case.Key(), u.Case)
		st.Phase = pipeline.PhaseDone
		return st, nil
	}

	s, err := New(workers, run)
	require.NoError(t, err)

	outcomes, err := s.Run(context.Background(), makeUnits(8))
	require.NoError(t, err)
	assert.Len(t, outcomes, 8)
	assert.LessOrEqual(t, peak, int32(workers), "capacity invariant violated")

	// every unit reached a terminal state and kept its input-order slot
	for i, o := range outcomes {
		require.NotNil(t, o.State, "outcome %d missing", i)
		assert.Equal(t, fmt.Sprintf("t%02d", i), o.Unit.Case.TaskID)
		assert.Equal(t, pipeline.PhaseDone, o.State.Phase)
	}

	final := s.Snapshot()
	assert.Equal(t, 0, final.Queued)
	assert.Equal(t, 0, final.Running)
	assert.Equal(t, 8, final.Completed)
}

func TestSnapshot_LiveRows(t *testing.T) {
	release := make(chan struct{})
	started := make(chan string, 4)

	run := func(ctx context.Context, u Unit, update func(phase, message string)) (*pipeline.State, error) {
		update(pipeline.PhaseExtendedSearch.String(), "searching")
		started <- u.Case.Key()
		<-release
		return pipeline.NewState("r", u.Case), nil
	}

	s, err := New(2, run)
	require.NoError(t, err)

	done := make(chan struct{})
	var outcomes []Outcome
	go func() {
		outcomes, _ = s.Run(context.Background(), makeUnits(4))
		close(done)
	}()

	// wait until the pool is saturated
	<-started
	<-started

	snap := s.Snapshot()
	assert.Equal(t, 2, snap.Running)
	assert.Equal(t, 2, snap.Queued)
	assert.Equal(t, 0, snap.Completed)
	require.Len(t, snap.Rows, 2)
	for _, r := range snap.Rows {
		assert.Equal(t, "EXTENDED_SEARCH", r.Phase)
		assert.Equal(t, "searching", r.Message)
		assert.GreaterOrEqual(t, r.Elapsed, time.Duration(0))
	}

	close(release)
	<-started
	<-started
	<-done
	assert.Len(t, outcomes, 4)
}

func TestRun_ContextCancelKeepsPartials(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	var finished int32
	run := func(ctx context.Context, u Unit, update func(phase, message string)) (*pipeline.State, error) {
		if atomic.AddInt32(&finished, 1) == 2 {
			cancel()
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return pipeline.NewState("r-"+u.Case.Key(), u.Case), nil
	}

	s, err := New(1, run)
	require.NoError(t, err)

	outcomes, err := s.Run(ctx, makeUnits(6))
	assert.Error(t, err)
	assert.Len(t, outcomes, 6, "outcome slots survive cancellation")

	got := 0
	for _, o := range outcomes {
		if o.State != nil {
			got++
		}
	}
	assert.GreaterOrEqual(t, got, 1, "completed work must not be dropped")
}

func TestNew_RejectsBadWorkerCount(t *testing.T) {
	_, err := New(0, nil)
	assert.Error(t, err)
}
