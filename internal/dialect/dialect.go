// Package dialect models the two request wire shapes the proxy handles at
// ingress/egress — the "responses" dialect and the "chat-completions"
// dialect — as a sum type, and implements the total transform function
// between them (spec.md §4.4, §9).
package dialect

import "encoding/json"

// Kind tags which dialect an Envelope holds.
type Kind int

const (
	KindChatCompletions Kind = iota
	KindResponses
)

// ContentPart is one typed part of a responses-dialect message's content
// list.
type ContentPart struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// ResponsesMessage is one entry of the responses dialect's "input" list.
type ResponsesMessage struct {
	Type    string        `json:"type"`
	Role    string        `json:"role"`
	Content []ContentPart `json:"content"`
}

// ResponsesTool is a tool definition in the responses dialect.
type ResponsesTool struct {
	Type        string          `json:"type"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Strict      *bool           `json:"strict,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// ResponsesEnvelope is the nested-input dialect (spec.md §3).
type ResponsesEnvelope struct {
	Model             string            `json:"model"`
	Instructions      string            `json:"instructions,omitempty"`
	Input             []ResponsesMessage `json:"input"`
	Tools             []ResponsesTool   `json:"tools,omitempty"`
	Reasoning         json.RawMessage   `json:"reasoning,omitempty"`
	Store             *bool             `json:"store,omitempty"`
	Stream            *bool             `json:"stream,omitempty"`
	ToolChoice        json.RawMessage   `json:"tool_choice,omitempty"`
	ParallelToolCalls *bool             `json:"parallel_tool_calls,omitempty"`
	PromptCacheKey    string            `json:"prompt_cache_key,omitempty"`
	Include           json.RawMessage   `json:"include,omitempty"`
}

// ChatMessage is one entry of the chat-completions dialect's "messages"
// list.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatFunction is the nested function object every chat-completions tool
// carries.
type ChatFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// ChatTool is a tool definition in the chat-completions dialect.
type ChatTool struct {
	Type     string       `json:"type"`
	Function ChatFunction `json:"function"`
}

// ChatCompletionsEnvelope is the flat-messages dialect (spec.md §3).
type ChatCompletionsEnvelope struct {
	Model             string          `json:"model"`
	Messages          []ChatMessage   `json:"messages"`
	Tools             []ChatTool      `json:"tools,omitempty"`
	Stream            *bool           `json:"stream,omitempty"`
	ToolChoice        json.RawMessage `json:"tool_choice,omitempty"`
	ParallelToolCalls *bool           `json:"parallel_tool_calls,omitempty"`
	Temperature       float64         `json:"temperature"`
	MaxTokens         int             `json:"max_tokens"`
}

// Envelope is the sum type over both dialects (spec.md §9: "Refuse to
// represent 'raw JSON plus maybe some fields'; normalise to the sum at
// ingress").
type Envelope struct {
	Kind       Kind
	Responses  *ResponsesEnvelope
	ChatCompletions *ChatCompletionsEnvelope
}

// Parse normalises raw request bytes into the sum type by detecting which
// dialect the body is shaped like: presence of "messages" and absence of
// "input" means chat-completions; otherwise responses (spec.md §4.4
// idempotence detection rule, reused here for ingress classification).
func Parse(body []byte) (Envelope, error) {
	var probe struct {
		Messages json.RawMessage `json:"messages"`
		Input    json.RawMessage `json:"input"`
	}
	if err := json.Unmarshal(body, &probe); err != nil {
		return Envelope{}, err
	}

	if probe.Messages != nil && probe.Input == nil {
		var cc ChatCompletionsEnvelope
		if err := json.Unmarshal(body, &cc); err != nil {
			return Envelope{}, err
		}
		return Envelope{Kind: KindChatCompletions, ChatCompletions: &cc}, nil
	}

	var r ResponsesEnvelope
	if err := json.Unmarshal(body, &r); err != nil {
		return Envelope{}, err
	}
	return Envelope{Kind: KindResponses, Responses: &r}, nil
}
