package agent

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/datacontracts/shepherd/internal/chat"
	"github.com/datacontracts/shepherd/internal/llm"
	"github.com/datacontracts/shepherd/internal/policy"
	"github.com/datacontracts/shepherd/internal/router"
	"github.com/datacontracts/shepherd/internal/tools"
)

// runToolLoop implements spec §4.2's tool-loop path: build the system
// prompt, pick the tool catalog for the intent and channel kind, then let
// the heavy or cheap model iterate against the executor until it produces
// a final reply or MaxToolIterations is exhausted.
func (a *Agent) runToolLoop(ctx context.Context, ev chat.Event, route router.Route, transcript string, kind router.ChannelKind) (string, error) {
	writable := kind != router.ChannelKindDM
	registry := tools.NewCatalog(a.Deps, writable)

	model := a.CheapModel
	if route.Model == router.ModelHeavy {
		model = a.HeavyModel
	}

	messages := []llm.Message{
		{Role: "system", Content: a.buildSystemPrompt(route)},
	}
	if transcript != "" {
		messages = append(messages, llm.Message{Role: "system", Content: "Thread so far:\n" + transcript})
	}
	messages = append(messages, llm.Message{Role: "user", Content: ev.Username + ": " + ev.Text})

	defs := registry.Definitions()
	toolDefs := make([]llm.ToolDefinition, 0, len(defs))
	for _, d := range defs {
		fn := d["function"].(map[string]any)
		toolDefs = append(toolDefs, llm.ToolDefinition{
			Type: "function",
			Function: llm.FunctionDef{
				Name:        fn["name"].(string),
				Description: fn["description"].(string),
				Parameters:  fn["parameters"].(map[string]any),
			},
		})
	}

	for i := 0; i < a.MaxToolIterations; i++ {
		resp, err := a.LLM.Chat(ctx, &llm.ChatRequest{
			Messages:    messages,
			Tools:       toolDefs,
			Model:       model,
			MaxTokens:   1200,
			Temperature: 0.2,
		})
		if err != nil {
			return "", err
		}

		if len(resp.ToolCalls) == 0 {
			return resp.Content, nil
		}

		messages = append(messages, llm.Message{Role: "assistant", Content: resp.Content, ToolCalls: resp.ToolCalls})
		for _, tc := range resp.ToolCalls {
			result, err := a.executeTool(ctx, registry, ev, tc)
			if err != nil {
				slog.Warn("agent: tool execution failed", "tool", tc.Name, "error", err)
				result = `{"success": false, "errors": ["` + err.Error() + `"]}`
			}
			messages = append(messages, llm.Message{Role: "tool", Content: result, ToolCallID: tc.ID})
		}
	}

	return "I wasn't able to finish that within the allowed number of steps. Try breaking the request down.", nil
}

// executeTool authorizes tc against the tool's declared risk tier before
// running it, so a high-risk tool the policy engine hasn't cleared for this
// sender or channel never executes, regardless of what the model asked for.
func (a *Agent) executeTool(ctx context.Context, registry *tools.Registry, ev chat.Event, tc llm.ToolCall) (string, error) {
	tool, ok := registry.Get(tc.Name)
	if !ok {
		return registry.Execute(ctx, tc.Name, tc.Arguments)
	}

	decision := a.Policy.Evaluate(policy.Context{
		Sender:      ev.Username,
		Channel:     ev.ChannelID,
		Tool:        tc.Name,
		Tier:        tools.ToolTier(tool),
		Arguments:   tc.Arguments,
		TraceID:     tc.ID,
		MessageType: "internal",
	})
	if !decision.Allow {
		return fmt.Sprintf(`{"success": false, "errors": ["policy denied: %s"]}`, decision.Reason), nil
	}

	return registry.Execute(ctx, tc.Name, tc.Arguments)
}
