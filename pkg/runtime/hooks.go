package runtime

import (
	"context"

	"github.com/parley-ai/parley/pkg/llm"
	"github.com/parley-ai/parley/pkg/session"
)

// Hooks intercepts the driver at its four extension points. Every method
// may return an error to abort the turn. BeforeTool may rewrite the
// arguments; AfterTool may rewrite the result.
type Hooks interface {
	BeforeModel(ctx context.Context, inv *Invocation, messages []*session.Content) error
	AfterModel(ctx context.Context, inv *Invocation, resp *llm.Response) error
	BeforeTool(ctx context.Context, inv *Invocation, call *llm.ToolCall) error
	AfterTool(ctx context.Context, inv *Invocation, call *llm.ToolCall, result map[string]any, callErr error) (map[string]any, error)
}

// NoopHooks is the default Hooks implementation.
type NoopHooks struct{}

func (NoopHooks) BeforeModel(context.Context, *Invocation, []*session.Content) error { return nil }
func (NoopHooks) AfterModel(context.Context, *Invocation, *llm.Response) error       { return nil }
func (NoopHooks) BeforeTool(context.Context, *Invocation, *llm.ToolCall) error       { return nil }
func (NoopHooks) AfterTool(_ context.Context, _ *Invocation, _ *llm.ToolCall, result map[string]any, _ error) (map[string]any, error) {
	return result, nil
}

// MultiHooks runs each hook in order. The first error wins; AfterTool
// threads the result through the chain.
type MultiHooks []Hooks

func (m MultiHooks) BeforeModel(ctx context.Context, inv *Invocation, messages []*session.Content) error {
	for _, h := range m {
		if err := h.BeforeModel(ctx, inv, messages); err != nil {
			return err
		}
	}
	return nil
}

func (m MultiHooks) AfterModel(ctx context.Context, inv *Invocation, resp *llm.Response) error {
	for _, h := range m {
		if err := h.AfterModel(ctx, inv, resp); err != nil {
			return err
		}
	}
	return nil
}

func (m MultiHooks) BeforeTool(ctx context.Context, inv *Invocation, call *llm.ToolCall) error {
	for _, h := range m {
		if err := h.BeforeTool(ctx, inv, call); err != nil {
			return err
		}
	}
	return nil
}

func (m MultiHooks) AfterTool(ctx context.Context, inv *Invocation, call *llm.ToolCall, result map[string]any, callErr error) (map[string]any, error) {
	var err error
	for _, h := range m {
		result, err = h.AfterTool(ctx, inv, call, result, callErr)
		if err != nil {
			return result, err
		}
	}
	return result, nil
}
