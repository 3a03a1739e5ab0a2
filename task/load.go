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

package task

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/cloudwego/absolver/internal/log"
	"github.com/cloudwego/absolver/internal/utils"
)

type taskFile struct {
	Train []Example `json:"train"`
	Test  []Example `json:"test"`
}

// Load reads a task JSON file ({"train": [...], "test": [...]}). The task ID
// is the file stem. When answerPath is non-empty and exists, withheld test
// outputs are merged from it so the run can be scored.
func Load(path string, answerPath string) (*Task, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, utils.WrapError(err, "read task file")
	}
	var tf taskFile
	if err := json.Unmarshal(data, &tf); err != nil {
		return nil, utils.WrapErrorf(err, "parse task file %s", path)
	}
	if len(tf.Train) == 0 {
		return nil, fmt.Errorf("task %s has no training examples", path)
	}
	if len(tf.Test) == 0 {
		return nil, fmt.Errorf("task %s has no test cases", path)
	}

	id := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	t := &Task{ID: id, Train: tf.Train}
	for i, ex := range tf.Test {
		t.Test = append(t.Test, TestCase{
			TaskID: id,
			Index:  i + 1,
			Input:  ex.Input,
			Output: ex.Output,
		})
	}

	if answerPath != "" {
		if err := mergeAnswers(t, answerPath); err != nil {
			// answers are auxiliary; a bad answers file must not kill the run
			log.Error("failed to merge answers from %s: %v", answerPath, err)
		}
	}

	for i, ex := range t.Train {
		if err := ex.Input.Validate(); err != nil {
			return nil, fmt.Errorf("task %s train[%d] input: %w", id, i, err)
		}
		if err := ex.Output.Validate(); err != nil {
			return nil, fmt.Errorf("task %s train[%d] output: %w", id, i, err)
		}
	}
	for _, tc := range t.Test {
		if err := tc.Input.Validate(); err != nil {
			return nil, fmt.Errorf("task %s test[%d] input: %w", id, tc.Index, err)
		}
	}
	return t, nil
}

func mergeAnswers(t *Task, answerPath string) error {
	data, err := os.ReadFile(answerPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	var af taskFile
	if err := json.Unmarshal(data, &af); err != nil {
		return utils.WrapError(err, "parse answers file")
	}
	for i := range t.Test {
		if t.Test[i].Output == nil && i < len(af.Test) {
			t.Test[i].Output = af.Test[i].Output
		}
	}
	return nil
}

type taskListFile struct {
	Tasks []string `json:"tasks"`
}

// LoadList reads a {"tasks": ["path", ...]} list file and returns the paths.
func LoadList(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, utils.WrapError(err, "read task list")
	}
	var lf taskListFile
	if err := json.Unmarshal(data, &lf); err != nil {
		return nil, utils.WrapErrorf(err, "parse task list %s", path)
	}
	if lf.Tasks == nil {
		return nil, fmt.Errorf("task list %s must contain a \"tasks\" array", path)
	}
	return lf.Tasks, nil
}

// Discover returns all task JSON files directly under dir, sorted by name.
func Discover(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, utils.WrapError(err, "read task directory")
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		paths = append(paths, filepath.Join(dir, e.Name()))
	}
	return paths, nil
}
