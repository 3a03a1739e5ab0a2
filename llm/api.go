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

import (
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
)

type ModelConfig struct {
	Name        string    `json:"name"` // alias of the config, not endpoint!
	APIType     ModelType `json:"type"`
	BaseURL     string    `json:"base_url"`
	APIKey      string    `json:"api_key"`
	ModelName   string    `json:"model_name"` // the endpoint of the model, like `claude-opus-4-20250514`
	Temperature *float32  `json:"temperature"`
	MaxTokens   int       `json:"max_tokens"`
	// PriceModel selects the pricing-table row. Aliases that share one
	// endpoint at different effort levels share one PriceModel.
	PriceModel string        `json:"price_model"`
	Timeout    time.Duration `json:"timeout"` // HTTP request timeout, default: 600s
	// Retries on failure. 0 takes the default of 3; a negative value
	// disables retries (one attempt, no backoff).
	Retries int `json:"retries"`
}

type ModelType string

func NewModelType(t string) ModelType {
	switch strings.ToLower(t) {
	case "ollama":
		return ModelTypeOllama
	case "ark", "doubao":
		return ModelTypeARK
	case "openai", "gpt":
		return ModelTypeOpenAI
	case "claude", "anthropic":
		return ModelTypeClaude
	case "dashscope", "qwen", "tongyi":
		return ModelTypeDashScope
	case "deepseek":
		return ModelTypeDeepSeek
	}
	return ModelTypeUnknown
}

const (
	ModelTypeUnknown   ModelType = ""
	ModelTypeOllama    ModelType = "ollama"
	ModelTypeARK       ModelType = "ark"
	ModelTypeOpenAI    ModelType = "openai"
	ModelTypeClaude    ModelType = "claude"
	ModelTypeDashScope ModelType = "dashscope"
	ModelTypeDeepSeek  ModelType = "deepseek"
)

// ChatModel is the interface for making LLM backend.
type ChatModel interface {
	model.BaseChatModel
}

// Request is one reasoning call: a prompt addressed to a model alias.
type Request struct {
	Model  string // config alias, resolved against the caller's model set
	System string // optional system prompt
	Prompt string
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CachedTokens     int `json:"cached_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

func (u Usage) Add(o Usage) Usage {
	return Usage{
		PromptTokens:     u.PromptTokens + o.PromptTokens,
		CachedTokens:     u.CachedTokens + o.CachedTokens,
		CompletionTokens: u.CompletionTokens + o.CompletionTokens,
	}
}

type Response struct {
	Model   string        `json:"model"`
	Text    string        `json:"text"`
	Usage   Usage         `json:"usage"`
	Cost    float64       `json:"cost"`
	Elapsed time.Duration `json:"elapsed"`
}

// FailureKind classifies a call that could not produce a response.
type FailureKind string

const (
	FailureTimeout FailureKind = "timeout"
	FailureQuota   FailureKind = "quota"
	FailureServer  FailureKind = "server"
)

// CallError reports an exhausted or aborted reasoning call.
type CallError struct {
	Kind     FailureKind
	Model    string
	Attempts int
	Err      error
}

func (e *CallError) Error() string {
	return fmt.Sprintf("model %s failed (%s) after %d attempt(s): %v", e.Model, e.Kind, e.Attempts, e.Err)
}

func (e *CallError) Unwrap() error {
	return e.Err
}
