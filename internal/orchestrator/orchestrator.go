// Package orchestrator drives the tool-augmented conversation loop: it calls
// the completion provider, dispatches any tool calls the model requests, and
// feeds the results back until the model produces a final answer or the step
// budget runs out.
package orchestrator

import (
	"context"
	"encoding/json"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/mohtashammurshid/jarvisd/internal/llm"
	"github.com/mohtashammurshid/jarvisd/internal/logging"
	"github.com/mohtashammurshid/jarvisd/internal/tools"
)

const defaultStepBudget = 4

// fallbackResponses are returned when the completion provider fails. The
// caller always gets a response, possibly a degraded one.
var fallbackResponses = []string{
	"JARVIS systems temporarily offline. Please try again in a moment, sir.",
	"Experiencing minor technical difficulties. Attempting to restore full functionality.",
	"Neural networks are recalibrating. Please stand by for full system restoration.",
}

// Config holds the per-run model parameters.
type Config struct {
	Model        string
	SystemPrompt string
	MaxTokens    int
	Temperature  float64
	StepBudget   int
}

// ToolCallRecord identifies one tool invocation the model requested.
type ToolCallRecord struct {
	Tool string          `json:"tool"`
	Args json.RawMessage `json:"args,omitempty"`
}

// StepTrace records what happened in one model step.
type StepTrace struct {
	Step      int              `json:"step"`
	ToolCalls []ToolCallRecord `json:"tool_calls,omitempty"`
	Duration  time.Duration    `json:"duration"`
}

// ToolUsage is the informational trace attached to every run.
type ToolUsage struct {
	TotalSteps int              `json:"total_steps"`
	ToolCalls  []ToolCallRecord `json:"tool_calls,omitempty"`
	Steps      []StepTrace      `json:"steps,omitempty"`
}

// RunResult is what a conversation run produces. Degraded is set when the
// answer is a canned fallback rather than model output.
type RunResult struct {
	Answer   string    `json:"answer"`
	Usage    ToolUsage `json:"usage"`
	Model    string    `json:"model,omitempty"`
	Degraded bool      `json:"degraded,omitempty"`
}

// Orchestrator runs bounded tool-call loops against a completion provider.
type Orchestrator struct {
	provider llm.Provider
	registry *tools.Registry
	cfg      Config
	log      zerolog.Logger
}

func New(provider llm.Provider, registry *tools.Registry, cfg Config) *Orchestrator {
	if cfg.StepBudget <= 0 {
		cfg.StepBudget = defaultStepBudget
	}
	return &Orchestrator{
		provider: provider,
		registry: registry,
		cfg:      cfg,
		log:      logging.WithComponent("orchestrator"),
	}
}

// Run executes the conversation loop. It never returns an error: provider
// failures degrade to a canned apology, and budget exhaustion returns the
// last model content as-is.
func (o *Orchestrator) Run(ctx context.Context, messages []llm.Message) *RunResult {
	convo := make([]llm.Message, len(messages))
	copy(convo, messages)

	specs := o.toolSpecs()
	result := &RunResult{}

	var last *llm.ChatResponse
	for step := 1; step <= o.cfg.StepBudget; step++ {
		start := time.Now()
		resp, err := o.provider.Chat(ctx, &llm.ChatRequest{
			Model:        o.cfg.Model,
			SystemPrompt: o.cfg.SystemPrompt,
			Messages:     convo,
			Tools:        specs,
			MaxTokens:    o.cfg.MaxTokens,
			Temperature:  o.cfg.Temperature,
		})
		if err != nil {
			o.log.Error().Err(err).Int("step", step).Msg("completion provider failed")
			result.Answer = fallbackResponses[rand.Intn(len(fallbackResponses))]
			result.Degraded = true
			return result
		}

		result.Usage.TotalSteps = step
		result.Model = resp.Model
		last = resp

		if len(resp.ToolCalls) == 0 {
			result.Answer = resp.Content
			return result
		}

		records := o.dispatch(ctx, step, resp.ToolCalls, &convo)
		result.Usage.ToolCalls = append(result.Usage.ToolCalls, records...)
		result.Usage.Steps = append(result.Usage.Steps, StepTrace{
			Step:      step,
			ToolCalls: records,
			Duration:  time.Since(start),
		})
	}

	// Budget exhausted. The last content, even if empty, is the answer.
	o.log.Warn().Int("budget", o.cfg.StepBudget).Msg("step budget exhausted")
	result.Answer = last.Content
	return result
}

// dispatch runs all tool calls from one step concurrently, waits for the
// barrier, and appends the assistant and tool messages to the conversation
// in call order.
func (o *Orchestrator) dispatch(ctx context.Context, step int, calls []llm.ToolCall, convo *[]llm.Message) []ToolCallRecord {
	records := make([]ToolCallRecord, len(calls))
	results := make([]string, len(calls))

	var wg sync.WaitGroup
	for i, call := range calls {
		records[i] = ToolCallRecord{Tool: call.Name, Args: json.RawMessage(call.Arguments)}
		wg.Add(1)
		go func(i int, call llm.ToolCall) {
			defer wg.Done()
			res := o.registry.Execute(ctx, call.Name, json.RawMessage(call.Arguments))
			results[i] = res.Text()
		}(i, call)
	}
	wg.Wait()

	*convo = append(*convo, llm.Message{Role: "assistant", ToolCalls: calls})
	for i, call := range calls {
		o.log.Debug().Int("step", step).Str("tool", call.Name).Msg("tool executed")
		*convo = append(*convo, llm.Message{
			Role:       "tool",
			Content:    results[i],
			ToolCallID: call.ID,
		})
	}
	return records
}

func (o *Orchestrator) toolSpecs() []llm.ToolSpec {
	list := o.registry.List()
	specs := make([]llm.ToolSpec, len(list))
	for i, s := range list {
		specs[i] = llm.ToolSpec{
			Name:        s.Name,
			Description: s.Description,
			Parameters:  s.Parameters,
		}
	}
	return specs
}
