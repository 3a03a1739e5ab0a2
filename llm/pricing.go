/**
 * Copyright 2025 ByteDance Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     https://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package llm

// ModelPricing holds USD prices per 1M tokens. Long-context overrides
// apply when the prompt exceeds LongThreshold tokens (0 = never).
type ModelPricing struct {
	Input         float64 `json:"input"`
	CachedInput   float64 `json:"cached_input"`
	Output        float64 `json:"output"`
	LongThreshold int     `json:"long_threshold,omitempty"`
	LongInput     float64 `json:"long_input,omitempty"`
	LongOutput    float64 `json:"long_output,omitempty"`
}

// PricingTable maps a price-model key to its rates. Unknown keys cost zero,
// so a run never fails for lack of a price row.
type PricingTable map[string]ModelPricing

func DefaultPricing() PricingTable {
	return PricingTable{
		"gpt-5.1":              {Input: 1.25, CachedInput: 0.125, Output: 10.00},
		"claude-sonnet-4-5":    {Input: 3.00, CachedInput: 0.30, Output: 15.00},
		"claude-opus-4-5":      {Input: 5.00, CachedInput: 0.50, Output: 25.00},
		"gemini-3-pro-preview": {Input: 2.00, Output: 12.00, LongThreshold: 200000, LongInput: 4.00, LongOutput: 18.00},
	}
}

// Cost prices one call. Cached prompt tokens are billed at the cached rate,
// the remainder at the input rate.
func (t PricingTable) Cost(priceModel string, u Usage) float64 {
	p, ok := t[priceModel]
	if !ok {
		return 0
	}
	input, output := p.Input, p.Output
	if p.LongThreshold > 0 && u.PromptTokens > p.LongThreshold {
		input, output = p.LongInput, p.LongOutput
	}
	nonCached := u.PromptTokens - u.CachedTokens
	if nonCached < 0 {
		nonCached = 0
	}
	return float64(nonCached)/1e6*input +
		float64(u.CachedTokens)/1e6*p.CachedInput +
		float64(u.CompletionTokens)/1e6*output
}
