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

package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cloudwego/absolver/internal/log"
	"github.com/cloudwego/absolver/internal/pipeline"
	"github.com/cloudwego/absolver/internal/scheduler"
	"github.com/cloudwego/absolver/internal/submit"
	"github.com/cloudwego/absolver/internal/verify"
	"github.com/cloudwego/absolver/llm"
	"github.com/cloudwego/absolver/task"
	"github.com/cloudwego/absolver/version"
)

const Usage = `absolver <Action> <Path> [Flags]
Action:
   run          solve every test case of the tasks at Path (a task JSON, a directory of task JSONs, or a {"tasks": [...]} list file)
   solve        solve a single task JSON; use -test to pick one test case
   version      print the version of absolver
`

// runConfig is the externally supplied configuration: model endpoints, the
// phase policy, optional pricing overrides, and verifier strictness.
type runConfig struct {
	Models  []llm.ModelConfig `json:"models"`
	Policy  *pipeline.Policy  `json:"policy,omitempty"`
	Pricing llm.PricingTable  `json:"pricing,omitempty"`
	Verify  *verify.Config    `json:"verify,omitempty"`
}

func main() {
	flags := flag.NewFlagSet("absolver", flag.ExitOnError)

	flagHelp := flags.Bool("h", false, "Show help message.")
	flagVerbose := flags.Bool("verbose", false, "Verbose mode.")
	flagOutput := flags.String("o", "output", "Output directory for submission.json and results.json.")
	flagModels := flags.String("models", "models.json", "Model and policy configuration file.")
	flagWorkers := flags.Int("workers", 4, "Concurrent pipeline limit.")
	flagAnswers := flags.String("answers", "", "Directory of per-task answer files, for scoring known tasks.")
	flagLogDir := flags.String("log-dir", "", "Directory for per-run pipeline state snapshots.")
	flagNoVerify := flags.Bool("no-verify", false, "Skip double-run and backtest verification.")
	flagTest := flags.Int("test", 0, "Test case index for solve (0 = all test cases of the task).")

	flags.Usage = func() {
		fmt.Fprint(os.Stderr, Usage)
		fmt.Fprintf(os.Stderr, "Flags:\n")
		flags.PrintDefaults()
	}

	if len(os.Args) < 2 {
		flags.Usage()
		os.Exit(1)
	}
	action := strings.ToLower(os.Args[1])

	switch action {
	case "version":
		fmt.Fprintf(os.Stdout, "%s\n", version.Version)

	case "run", "solve":
		uri := parseArgsAndFlags(flags, flagHelp)
		if *flagVerbose {
			log.SetLogLevel(log.DebugLevel)
		}

		cfg, err := loadRunConfig(*flagModels)
		if err != nil {
			log.Error("Failed to load config %s: %v", *flagModels, err)
			os.Exit(1)
		}

		var paths []string
		if action == "solve" {
			paths = []string{uri}
		} else {
			paths, err = resolveTaskPaths(uri)
			if err != nil {
				log.Error("Failed to resolve tasks at %s: %v", uri, err)
				os.Exit(1)
			}
		}

		units, err := loadUnits(paths, *flagAnswers, *flagTest)
		if err != nil {
			log.Error("Failed to load tasks: %v", err)
			os.Exit(1)
		}
		if len(units) == 0 {
			log.Error("No test cases found at %s", uri)
			os.Exit(1)
		}

		if err := runBatch(context.Background(), cfg, units, batchOptions{
			outputDir: *flagOutput,
			logDir:    *flagLogDir,
			workers:   *flagWorkers,
			noVerify:  *flagNoVerify,
		}); err != nil {
			log.Error("Run failed: %v", err)
			os.Exit(1)
		}

	default:
		fmt.Fprintf(os.Stderr, "unsupported action: %s\n", action)
		flags.Usage()
		os.Exit(1)
	}
}

type batchOptions struct {
	outputDir string
	logDir    string
	workers   int
	noVerify  bool
}

func runBatch(ctx context.Context, cfg *runConfig, units []scheduler.Unit, opts batchOptions) error {
	pricing := cfg.Pricing
	if pricing == nil {
		pricing = llm.DefaultPricing()
	}
	caller, err := llm.NewCaller(cfg.Models, pricing)
	if err != nil {
		return err
	}

	policy := pipeline.DefaultPolicy()
	if cfg.Policy != nil {
		policy = *cfg.Policy
	}
	if err := policy.Validate(caller.Aliases()); err != nil {
		return err
	}

	vcfg := verify.DefaultConfig()
	if cfg.Verify != nil {
		vcfg = *cfg.Verify
	}

	agg, err := submit.NewAggregator(opts.outputDir)
	if err != nil {
		return err
	}
	defer agg.Close()

	run := func(ctx context.Context, u scheduler.Unit, update func(phase, message string)) (*pipeline.State, error) {
		pl := pipeline.New(policy, caller)
		pl.LogDir = opts.logDir
		pl.OnPhase = func(runID string, ph pipeline.Phase) {
			update(ph.String(), "")
		}
		st, err := pl.Run(ctx, u.Train, u.Case)
		if err != nil {
			return st, err
		}

		verified := false
		cost := st.Cost
		if !opts.noVerify && st.Result != nil {
			update(pipeline.PhaseDone.String(), "verifying")
			vpl := pipeline.New(policy, caller)
			vpl.LogDir = opts.logDir
			rec, err := verify.New(vpl.Run, vcfg).Verify(ctx, u.Train, u.Case, st.Result)
			if err != nil {
				return st, err
			}
			verified = rec.Verified
			cost += rec.Cost
		}

		// a persistence failure here aborts the whole run
		return st, agg.Add(submit.Entry{
			TaskID:    u.Case.TaskID,
			TestIndex: u.Case.Index,
			Grid:      st.Result,
			Status:    submit.StatusFor(st.Result, u.Case.Output, verified),
			Verified:  verified,
			Elapsed:   st.Elapsed(),
			Cost:      cost,
		})
	}

	sched, err := scheduler.New(opts.workers, run)
	if err != nil {
		return err
	}

	stop := make(chan struct{})
	go pollStatus(sched, stop)

	_, runErr := sched.Run(ctx, units)
	close(stop)

	// flush artifacts even after a partial run; what was collected is kept
	if err := agg.WriteSubmission(filepath.Join(opts.outputDir, "submission.json")); err != nil {
		return err
	}
	if err := agg.WriteResults(filepath.Join(opts.outputDir, "results.json")); err != nil {
		return err
	}
	printSummary(agg.Entries())
	return runErr
}

// pollStatus prints a plain status line every few seconds. Rich terminal
// rendering belongs to a display layer, not here.
func pollStatus(sched *scheduler.Scheduler, stop <-chan struct{}) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s := sched.Snapshot()
			log.Info("progress: queued=%d running=%d completed=%d", s.Queued, s.Running, s.Completed)
			for _, r := range s.Rows {
				log.Debug("  %s  %s  %s  %s", r.Case, r.Phase, r.Elapsed.Round(time.Second), r.Message)
			}
		}
	}
}

func printSummary(entries []submit.Entry) {
	counts := make(map[submit.Status]int)
	var cost float64
	for _, e := range entries {
		counts[e.Status]++
		cost += e.Cost
	}
	log.Info("done: %d test cases, %d verified, %d unverified, %d failed, %d unanswered, total cost $%.4f",
		len(entries),
		counts[submit.StatusPassVerified],
		counts[submit.StatusPassUnverified],
		counts[submit.StatusFail],
		counts[submit.StatusNoAnswer],
		cost)
}

func loadRunConfig(path string) (*runConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg runConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	if len(cfg.Models) == 0 {
		return nil, fmt.Errorf("config %s declares no models", path)
	}
	for i := range cfg.Models {
		if cfg.Models[i].APIKey == "" {
			cfg.Models[i].APIKey = os.Getenv("API_KEY")
		}
	}
	return &cfg, nil
}

// resolveTaskPaths accepts a directory of task files, a {"tasks": [...]}
// list file, or a single task file.
func resolveTaskPaths(uri string) ([]string, error) {
	fi, err := os.Stat(uri)
	if err != nil {
		return nil, err
	}
	if fi.IsDir() {
		return task.Discover(uri)
	}
	if paths, err := task.LoadList(uri); err == nil {
		base := filepath.Dir(uri)
		for i, p := range paths {
			if !filepath.IsAbs(p) {
				paths[i] = filepath.Join(base, p)
			}
		}
		return paths, nil
	}
	return []string{uri}, nil
}

// loadUnits expands task files into one schedulable unit per test case.
// testIdx > 0 keeps only that test case of each task.
func loadUnits(paths []string, answersDir string, testIdx int) ([]scheduler.Unit, error) {
	var units []scheduler.Unit
	for _, p := range paths {
		answers := ""
		if answersDir != "" {
			answers = filepath.Join(answersDir, filepath.Base(p))
		}
		tk, err := task.Load(p, answers)
		if err != nil {
			return nil, err
		}
		for _, tc := range tk.Test {
			if testIdx > 0 && tc.Index != testIdx {
				continue
			}
			units = append(units, scheduler.Unit{Train: tk.Train, Case: tc})
		}
	}
	return units, nil
}

func parseArgsAndFlags(flags *flag.FlagSet, flagHelp *bool) (uri string) {
	if len(os.Args) < 3 {
		flags.Usage()
		os.Exit(1)
	}
	uri = os.Args[2]
	if len(os.Args) > 3 {
		flags.Parse(os.Args[3:])
	}
	if flagHelp != nil && *flagHelp {
		flags.Usage()
		os.Exit(0)
	}
	return uri
}
