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
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/absolver/internal/log"
	"github.com/cloudwego/absolver/internal/utils"
	"github.com/cloudwego/eino/schema"
)

// Caller resolves model aliases and submits reasoning requests with
// per-call retries. It is safe for concurrent use: the backends are
// immutable after construction and every call is self-contained.
type Caller struct {
	models  map[string]ChatModel
	configs map[string]ModelConfig
	pricing PricingTable
}

// NewCaller builds one chat backend per config entry. Aliases must be
// unique. Pricing may be nil, in which case every call costs zero.
func NewCaller(configs []ModelConfig, pricing PricingTable) (*Caller, error) {
	if len(configs) == 0 {
		return nil, fmt.Errorf("no model configs given")
	}
	c := &Caller{
		models:  make(map[string]ChatModel, len(configs)),
		configs: make(map[string]ModelConfig, len(configs)),
		pricing: pricing,
	}
	for _, m := range configs {
		if m.Name == "" {
			return nil, fmt.Errorf("model config with empty name")
		}
		if _, ok := c.configs[m.Name]; ok {
			return nil, fmt.Errorf("duplicate model config %q", m.Name)
		}
		m = normalizeConfig(m)
		backend, err := NewChatModel(m)
		if err != nil {
			return nil, utils.WrapErrorf(err, "constructing model %q", m.Name)
		}
		c.models[m.Name] = backend
		c.configs[m.Name] = m
	}
	return c, nil
}

// normalizeConfig fills the per-model defaults. Retries 0 means unset and
// takes the default; a negative value asks for no retries at all.
func normalizeConfig(m ModelConfig) ModelConfig {
	if m.MaxTokens == 0 {
		m.MaxTokens = 16 * 1024
	}
	if m.Timeout == 0 {
		m.Timeout = 600 * time.Second
	}
	switch {
	case m.Retries == 0:
		m.Retries = 3
	case m.Retries < 0:
		m.Retries = 0
	}
	return m
}

// Aliases returns the configured model aliases, for policy validation.
func (c *Caller) Aliases() []string {
	names := make([]string, 0, len(c.configs))
	for n := range c.configs {
		names = append(names, n)
	}
	return names
}

// Submit runs one reasoning call, retrying transient failures with capped
// exponential backoff. A non-nil error is always a *CallError; the response
// text is returned verbatim for the caller to extract a grid from.
func (c *Caller) Submit(ctx context.Context, req Request) (*Response, error) {
	cfg, ok := c.configs[req.Model]
	if !ok {
		return nil, &CallError{
			Kind:     FailureServer,
			Model:    req.Model,
			Attempts: 0,
			Err:      fmt.Errorf("unknown model alias %q", req.Model),
		}
	}
	m := c.models[req.Model]

	msgs := make([]*schema.Message, 0, 2)
	if req.System != "" {
		msgs = append(msgs, schema.SystemMessage(req.System))
	}
	msgs = append(msgs, schema.UserMessage(req.Prompt))
	log.Debug("[%s] %s", req.Model, req.Prompt)

	start := time.Now()
	var lastErr error
	var lastKind FailureKind
	for attempt := 0; attempt <= cfg.Retries; attempt++ {
		if attempt > 0 {
			log.Info("Retrying call to %s (attempt %d/%d)...", req.Model, attempt+1, cfg.Retries+1)
			// Exponential backoff: wait 1s, 2s, 4s...
			waitTime := time.Duration(1<<uint(attempt-1)) * time.Second
			if waitTime > 10*time.Second {
				waitTime = 10 * time.Second
			}
			select {
			case <-time.After(waitTime):
			case <-ctx.Done():
				return nil, &CallError{Kind: FailureTimeout, Model: req.Model, Attempts: attempt, Err: ctx.Err()}
			}
		}

		attemptCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
		out, err := m.Generate(attemptCtx, msgs)
		cancel()
		if err == nil {
			resp := &Response{
				Model:   req.Model,
				Text:    out.Content,
				Usage:   usageOf(out),
				Elapsed: time.Since(start),
			}
			resp.Cost = c.pricing.Cost(cfg.PriceModel, resp.Usage)
			return resp, nil
		}

		lastErr = err
		kind, retryable := classifyFailure(err)
		lastKind = kind
		if !retryable {
			log.Error("Non-retryable error from %s: %v", req.Model, err)
			return nil, &CallError{Kind: kind, Model: req.Model, Attempts: attempt + 1, Err: err}
		}
		if ctx.Err() != nil {
			return nil, &CallError{Kind: FailureTimeout, Model: req.Model, Attempts: attempt + 1, Err: ctx.Err()}
		}
		log.Info("Retryable error from %s (attempt %d/%d): %v", req.Model, attempt+1, cfg.Retries+1, err)
	}

	return nil, &CallError{
		Kind:     lastKind,
		Model:    req.Model,
		Attempts: cfg.Retries + 1,
		Err:      utils.WrapErrorf(lastErr, "failed after %d attempts", cfg.Retries+1),
	}
}

// classifyFailure maps a transport error onto a FailureKind and whether
// another attempt is worth making.
func classifyFailure(err error) (FailureKind, bool) {
	s := strings.ToLower(err.Error())
	switch {
	case strings.Contains(s, "timeout") ||
		strings.Contains(s, "operation timed out") ||
		strings.Contains(s, "context deadline exceeded"):
		return FailureTimeout, true
	case strings.Contains(s, "rate limit") ||
		strings.Contains(s, "too many requests") ||
		strings.Contains(s, "quota") ||
		strings.Contains(s, "429"):
		return FailureQuota, true
	case strings.Contains(s, "connection reset") ||
		strings.Contains(s, "connection refused") ||
		strings.Contains(s, "read tcp") ||
		strings.Contains(s, "write tcp") ||
		strings.Contains(s, "overloaded") ||
		strings.Contains(s, "internal server error") ||
		strings.Contains(s, "502") ||
		strings.Contains(s, "503"):
		return FailureServer, true
	}
	return FailureServer, false
}

func usageOf(msg *schema.Message) Usage {
	if msg == nil || msg.ResponseMeta == nil || msg.ResponseMeta.Usage == nil {
		return Usage{}
	}
	u := msg.ResponseMeta.Usage
	return Usage{
		PromptTokens:     u.PromptTokens,
		CachedTokens:     u.PromptTokenDetails.CachedTokens,
		CompletionTokens: u.CompletionTokens,
	}
}
