package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"

	apperrors "github.com/parley-ai/parley/pkg/errors"
	"github.com/parley-ai/parley/pkg/llm"
	"github.com/parley-ai/parley/pkg/session"
)

const defaultMaxIterations = 10

// AgentConfig describes the agent the driver runs.
type AgentConfig struct {
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Instruction string `json:"instruction,omitempty" yaml:"instruction,omitempty"`
	// OutputSchema, when set, requires the final response to be a JSON
	// object carrying every key listed under "required". A response that
	// does not conform fails the turn with a retryable validation error.
	OutputSchema map[string]any `json:"outputSchema,omitempty" yaml:"outputSchema,omitempty"`
	// MaxIterations bounds the model/tool loop within one turn.
	MaxIterations int      `json:"maxIterations,omitempty" yaml:"maxIterations,omitempty"`
	Temperature   *float64 `json:"temperature,omitempty" yaml:"temperature,omitempty"`
	MaxTokens     *int     `json:"maxTokens,omitempty" yaml:"maxTokens,omitempty"`
}

// Driver implements Runtime with an LLM tool-calling loop.
type Driver struct {
	cfg   AgentConfig
	model llm.Client
	store session.Service
	tools map[string]Tool
	hooks Hooks
	log   logr.Logger
	now   func() time.Time
}

// NewDriver creates a driver. A nil hooks is replaced with NoopHooks.
func NewDriver(cfg AgentConfig, model llm.Client, store session.Service, tools []Tool, hooks Hooks, log logr.Logger) *Driver {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = defaultMaxIterations
	}
	if hooks == nil {
		hooks = NoopHooks{}
	}
	indexed := make(map[string]Tool, len(tools))
	for _, t := range tools {
		indexed[t.Name()] = t
	}
	return &Driver{
		cfg:   cfg,
		model: model,
		store: store,
		tools: indexed,
		hooks: hooks,
		log:   log.WithName("driver"),
		now:   time.Now,
	}
}

func (d *Driver) AgentName() string {
	return d.cfg.Name
}

// Run executes one turn. Events are sent in order: zero or more partial
// text events, interleaved function call and response events, and
// exactly one final event on success.
func (d *Driver) Run(ctx context.Context, inv *Invocation, events chan<- *session.Event) error {
	messages, err := d.loadHistory(ctx, inv)
	if err != nil {
		return err
	}
	if inv.Message != nil {
		messages = append(messages, inv.Message)
	}

	genCfg := &llm.GenerateConfig{
		System:      d.cfg.Instruction,
		Temperature: d.cfg.Temperature,
		MaxTokens:   d.cfg.MaxTokens,
	}
	for _, t := range d.tools {
		genCfg.Tools = append(genCfg.Tools, llm.ToolDefinition{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Parameters(),
		})
	}

	for i := 0; i < d.cfg.MaxIterations; i++ {
		if err := d.hooks.BeforeModel(ctx, inv, messages); err != nil {
			return err
		}

		emit := func(delta string) {
			ev := d.newEvent(inv)
			ev.Partial = true
			ev.Content = session.NewTextContent(session.RoleModel, delta)
			d.send(ctx, events, ev)
		}
		resp, err := d.model.GenerateStream(ctx, messages, genCfg, emit)
		if err != nil {
			return err
		}
		if err := d.hooks.AfterModel(ctx, inv, resp); err != nil {
			return err
		}

		if len(resp.ToolCalls) == 0 {
			if err := d.validateOutput(resp.Text); err != nil {
				return err
			}
			final := d.newEvent(inv)
			final.TurnComplete = true
			final.Content = resp.Content
			if err := d.send(ctx, events, final); err != nil {
				return err
			}
			return nil
		}

		callEvent := d.newEvent(inv)
		callEvent.Content = resp.Content
		if err := d.send(ctx, events, callEvent); err != nil {
			return err
		}
		messages = append(messages, resp.Content)

		responseContent := &session.Content{Role: session.RoleUser}
		for i := range resp.ToolCalls {
			call := &resp.ToolCalls[i]
			result := d.runTool(ctx, inv, call)
			responseContent.Parts = append(responseContent.Parts, &session.Part{
				FunctionResponse: &session.FunctionResponse{ID: call.ID, Name: call.Name, Response: result},
			})
		}
		respEvent := d.newEvent(inv)
		respEvent.Content = responseContent
		if err := d.send(ctx, events, respEvent); err != nil {
			return err
		}
		messages = append(messages, responseContent)
	}

	return apperrors.New(apperrors.ErrCodeExecutorFailed,
		fmt.Sprintf("turn did not finish within %d iterations", d.cfg.MaxIterations), nil)
}

func (d *Driver) runTool(ctx context.Context, inv *Invocation, call *llm.ToolCall) map[string]any {
	if err := d.hooks.BeforeTool(ctx, inv, call); err != nil {
		return ToolErrorResult(call.Name, err)
	}
	tool, ok := d.tools[call.Name]
	if !ok {
		return ToolErrorResult(call.Name,
			apperrors.New(apperrors.ErrCodeToolExecution, fmt.Sprintf("unknown tool %q", call.Name), nil))
	}
	result, callErr := tool.Call(ctx, call.Args)
	result, hookErr := d.hooks.AfterTool(ctx, inv, call, result, callErr)
	if hookErr != nil {
		return ToolErrorResult(call.Name, hookErr)
	}
	if callErr != nil {
		d.log.V(1).Info("tool failed", "tool", call.Name, "error", callErr)
		return ToolErrorResult(call.Name, callErr)
	}
	return result
}

// loadHistory rebuilds the model conversation from the session log.
// Partial events and events with no content are skipped.
func (d *Driver) loadHistory(ctx context.Context, inv *Invocation) ([]*session.Content, error) {
	sess, err := d.store.GetSession(ctx, inv.AppName, inv.UserID, inv.SessionID, nil)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, nil
	}
	var messages []*session.Content
	for _, ev := range sess.Events {
		if ev.Partial || ev.Content == nil || len(ev.Content.Parts) == 0 {
			continue
		}
		messages = append(messages, ev.Content)
	}
	return messages, nil
}

func (d *Driver) validateOutput(text string) error {
	if d.cfg.OutputSchema == nil {
		return nil
	}
	var payload map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(text)), &payload); err != nil {
		return apperrors.New(apperrors.ErrCodeModelValidation, "final response is not a JSON object", err)
	}
	required, _ := d.cfg.OutputSchema["required"].([]any)
	for _, key := range required {
		name, _ := key.(string)
		if _, ok := payload[name]; !ok {
			return apperrors.New(apperrors.ErrCodeModelValidation,
				fmt.Sprintf("final response is missing required key %q", name), nil)
		}
	}
	return nil
}

func (d *Driver) newEvent(inv *Invocation) *session.Event {
	return &session.Event{
		ID:           uuid.NewString(),
		InvocationID: inv.InvocationID,
		Author:       d.cfg.Name,
		Timestamp:    d.now(),
	}
}

func (d *Driver) send(ctx context.Context, events chan<- *session.Event, ev *session.Event) error {
	select {
	case events <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
