package dialect

import "strings"

// Options configures the transformer (spec.md §4.4 steps 6-7).
type Options struct {
	DefaultTemperature float64
	DefaultMaxTokens   int
	// ModelAliases maps a known source-dialect model name to the upstream
	// model name to substitute (spec.md §4.4 step 7).
	ModelAliases map[string]string
}

// ToChatCompletions applies the responses → chat-completions transform
// (spec.md §4.4). Calling it on an envelope that is already
// chat-completions is a no-op, satisfying the idempotence property in
// spec.md §8.
func ToChatCompletions(env Envelope, opts Options) *ChatCompletionsEnvelope {
	if env.Kind == KindChatCompletions {
		return env.ChatCompletions
	}

	src := env.Responses
	var messages []ChatMessage

	// Step 1: leading system message from instructions.
	if src.Instructions != "" {
		messages = append(messages, ChatMessage{Role: "system", Content: src.Instructions})
	}

	// Step 2: each "message" item's input_text parts joined; non-text
	// parts are dropped per explicit policy.
	for _, item := range src.Input {
		if item.Type != "message" {
			continue
		}
		var parts []string
		for _, c := range item.Content {
			if c.Type == "input_text" {
				parts = append(parts, c.Text)
			}
		}
		messages = append(messages, ChatMessage{Role: item.Role, Content: strings.Join(parts, "")})
	}

	// Step 3: tools gain a nested function object; strict is discarded.
	var tools []ChatTool
	for _, t := range src.Tools {
		tools = append(tools, ChatTool{
			Type: "function",
			Function: ChatFunction{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}

	out := &ChatCompletionsEnvelope{
		Model:             mapModel(src.Model, opts.ModelAliases),
		Messages:          messages,
		Tools:             tools,
		Stream:            src.Stream,
		ToolChoice:        src.ToolChoice,
		ParallelToolCalls: src.ParallelToolCalls,
		Temperature:       opts.DefaultTemperature,
		MaxTokens:         opts.DefaultMaxTokens,
	}
	// Steps 4 & 6: instructions/input/reasoning/store/include/
	// prompt_cache_key are simply never copied onto ChatCompletionsEnvelope.
	// Temperature and max_tokens always come from opts: ResponsesEnvelope
	// carries neither field, so there is no inbound value to keep.

	return out
}

func mapModel(model string, aliases map[string]string) string {
	if aliases == nil {
		return model
	}
	if mapped, ok := aliases[model]; ok {
		return mapped
	}
	return model
}
