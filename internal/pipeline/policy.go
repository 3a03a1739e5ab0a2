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
	"fmt"
	"time"

	"github.com/cloudwego/absolver/llm/prompt"
)

// PhasePolicy configures one search phase: which model aliases to fan out
// to, how often a slot retries, and the phase's time ceiling. The policy is
// data, not control flow, so escalation behavior is unit-testable on its own.
type PhasePolicy struct {
	Models   []string        `json:"models"`
	Retries  int             `json:"retries"` // sequential retries per slot after the first try
	Budget   time.Duration   `json:"budget"`  // ceiling on the whole phase, 0 = unbounded
	Notation prompt.Notation `json:"notation"`
	Strategy string          `json:"strategy,omitempty"` // optional hint line in the prompt
}

// Policy is the full transition table plus the global ceilings and the
// consensus rule. All constants here were tuned empirically upstream and are
// deliberately configuration rather than code.
type Policy struct {
	Shallow  PhasePolicy `json:"shallow"`
	Extended PhasePolicy `json:"extended"`
	Full     PhasePolicy `json:"full"`

	// A candidate is accepted when its vote count reaches ConsensusCount
	// and no rival candidate has more than MaxRivalCount votes.
	ConsensusCount int `json:"consensus_count"`
	MaxRivalCount  int `json:"max_rival_count"`

	WallClock   time.Duration `json:"wall_clock"`   // per-test-case ceiling, 0 = unbounded
	CostCeiling float64       `json:"cost_ceiling"` // USD per test case, 0 = unbounded
}

// DefaultPolicy escalates through the same model at rising effort aliases.
// Callers normally overwrite the alias lists with their own config.
func DefaultPolicy() Policy {
	return Policy{
		Shallow:        PhasePolicy{Models: []string{"effort-low"}, Retries: 1, Budget: 10 * time.Minute, Notation: prompt.NotationRows},
		Extended:       PhasePolicy{Models: []string{"effort-medium", "effort-medium"}, Retries: 1, Budget: 30 * time.Minute, Notation: prompt.NotationRows},
		Full:           PhasePolicy{Models: []string{"effort-high", "effort-high", "effort-high"}, Retries: 2, Budget: 2 * time.Hour, Notation: prompt.NotationJSON},
		ConsensusCount: 2,
		MaxRivalCount:  1,
		WallClock:      4 * time.Hour,
	}
}

// ForPhase returns the policy row for a search phase.
func (p Policy) ForPhase(ph Phase) (PhasePolicy, bool) {
	switch ph {
	case PhaseShallowSearch:
		return p.Shallow, true
	case PhaseExtendedSearch:
		return p.Extended, true
	case PhaseFullSearch:
		return p.Full, true
	}
	return PhasePolicy{}, false
}

// Escalation returns the next deeper search phase, or PhaseDone when none
// remains.
func Escalation(ph Phase) Phase {
	switch ph {
	case PhaseShallowSearch:
		return PhaseExtendedSearch
	case PhaseExtendedSearch:
		return PhaseFullSearch
	}
	return PhaseDone
}

// Validate checks the table against the set of configured model aliases.
// Called at pipeline construction, never mid-run.
func (p Policy) Validate(aliases []string) error {
	known := make(map[string]bool, len(aliases))
	for _, a := range aliases {
		known[a] = true
	}
	for _, row := range []struct {
		name string
		pp   PhasePolicy
	}{
		{"shallow", p.Shallow}, {"extended", p.Extended}, {"full", p.Full},
	} {
		if len(row.pp.Models) == 0 {
			return fmt.Errorf("phase %s has no models", row.name)
		}
		if row.pp.Retries < 0 {
			return fmt.Errorf("phase %s has negative retries", row.name)
		}
		for _, m := range row.pp.Models {
			if !known[m] {
				return fmt.Errorf("phase %s references unknown model alias %q", row.name, m)
			}
		}
	}
	if p.ConsensusCount < 1 {
		return fmt.Errorf("consensus count must be >= 1, got %d", p.ConsensusCount)
	}
	if p.MaxRivalCount < 0 {
		return fmt.Errorf("max rival count must be >= 0, got %d", p.MaxRivalCount)
	}
	return nil
}
