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

// Package task models one puzzle instance: training examples that
// demonstrate a transformation and test cases that need a predicted output.
package task

import (
	"fmt"

	"github.com/cloudwego/absolver/grid"
)

// Example is one demonstrated input/output pair. Output is nil only for
// test inputs whose answer is withheld.
type Example struct {
	Input  grid.Grid `json:"input"`
	Output grid.Grid `json:"output,omitempty"`
}

// TestCase is one concrete input needing a predicted output grid.
type TestCase struct {
	TaskID string
	Index  int       // 1-based
	Input  grid.Grid
	Output grid.Grid // nil in production; set when backtesting with answers
}

// Key returns the task-and-test identifier used across status tables,
// artifacts and logs.
func (tc TestCase) Key() string {
	return fmt.Sprintf("%s:%d", tc.TaskID, tc.Index)
}

// Task is one puzzle with its training examples and test cases.
type Task struct {
	ID    string
	Train []Example
	Test  []TestCase
}

// WithheldTrain returns a copy of Train with example i removed, paired with
// that example recast as a test case. Used for backtesting a candidate
// strategy against held-out training data.
func (t *Task) WithheldTrain(i int) ([]Example, TestCase) {
	subset := make([]Example, 0, len(t.Train)-1)
	subset = append(subset, t.Train[:i]...)
	subset = append(subset, t.Train[i+1:]...)
	target := TestCase{
		TaskID: t.ID,
		Index:  -(i + 1), // negative index marks a replayed training example
		Input:  t.Train[i].Input,
		Output: t.Train[i].Output,
	}
	return subset, target
}
