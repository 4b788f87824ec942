package dialect

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestToChatCompletions_ToolNormalisation(t *testing.T) {
	strict := false
	env := Envelope{
		Kind: KindResponses,
		Responses: &ResponsesEnvelope{
			Model: "gpt-5",
			Tools: []ResponsesTool{{
				Type:        "function",
				Name:        "t",
				Description: "d",
				Strict:      &strict,
				Parameters:  json.RawMessage(`{}`),
			}},
		},
	}

	out := ToChatCompletions(env, Options{DefaultMaxTokens: 4096, DefaultTemperature: 0.2})

	if len(out.Tools) != 1 {
		t.Fatalf("expected 1 tool, got %d", len(out.Tools))
	}
	data, err := json.Marshal(out.Tools[0])
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(data), "strict") {
		t.Errorf("strict field must be discarded, got %s", data)
	}
	if !strings.Contains(string(data), `"function"`) {
		t.Errorf("expected nested function object, got %s", data)
	}
}

func TestToChatCompletions_DropsResponsesOnlyFields(t *testing.T) {
	env := Envelope{
		Kind: KindResponses,
		Responses: &ResponsesEnvelope{
			Model:          "gpt-5",
			Instructions:   "sys",
			Input:          []ResponsesMessage{{Type: "message", Role: "user", Content: []ContentPart{{Type: "input_text", Text: "hi"}}}},
			PromptCacheKey: "abc",
			Reasoning:      json.RawMessage(`{"effort":"high"}`),
		},
	}

	out := ToChatCompletions(env, Options{})
	data, err := json.Marshal(out)
	if err != nil {
		t.Fatal(err)
	}
	for _, forbidden := range []string{"instructions", "input", "reasoning", "store", "include", "prompt_cache_key"} {
		if strings.Contains(string(data), `"`+forbidden+`"`) {
			t.Errorf("transformed payload must not contain %q, got %s", forbidden, data)
		}
	}
}

func TestToChatCompletions_SystemMessageIffInstructions(t *testing.T) {
	withInstructions := Envelope{Kind: KindResponses, Responses: &ResponsesEnvelope{Instructions: "sys", Input: nil}}
	out := ToChatCompletions(withInstructions, Options{})
	if len(out.Messages) != 1 || out.Messages[0].Role != "system" {
		t.Errorf("expected leading system message, got %+v", out.Messages)
	}

	withoutInstructions := Envelope{Kind: KindResponses, Responses: &ResponsesEnvelope{Input: nil}}
	out2 := ToChatCompletions(withoutInstructions, Options{})
	if len(out2.Messages) != 0 {
		t.Errorf("expected no system message without instructions, got %+v", out2.Messages)
	}
}

func TestToChatCompletions_Idempotent(t *testing.T) {
	env := Envelope{Kind: KindChatCompletions, ChatCompletions: &ChatCompletionsEnvelope{
		Model:    "gpt-5",
		Messages: []ChatMessage{{Role: "user", Content: "hi"}},
	}}

	once := ToChatCompletions(env, Options{})
	twice := ToChatCompletions(Envelope{Kind: KindChatCompletions, ChatCompletions: once}, Options{})

	d1, _ := json.Marshal(once)
	d2, _ := json.Marshal(twice)
	if string(d1) != string(d2) {
		t.Errorf("transform applied twice must equal applied once:\n%s\nvs\n%s", d1, d2)
	}
}

func TestParse_DetectsDialectByShape(t *testing.T) {
	env, err := Parse([]byte(`{"model":"x","messages":[{"role":"user","content":"hi"}]}`))
	if err != nil {
		t.Fatal(err)
	}
	if env.Kind != KindChatCompletions {
		t.Errorf("expected chat-completions detection, got %v", env.Kind)
	}

	env2, err := Parse([]byte(`{"model":"x","input":[]}`))
	if err != nil {
		t.Fatal(err)
	}
	if env2.Kind != KindResponses {
		t.Errorf("expected responses detection, got %v", env2.Kind)
	}
}

func TestMapModel(t *testing.T) {
	aliases := map[string]string{"gpt-5": "llama-3.3-70b"}
	if got := mapModel("gpt-5", aliases); got != "llama-3.3-70b" {
		t.Errorf("expected mapped model, got %q", got)
	}
	if got := mapModel("unmapped", aliases); got != "unmapped" {
		t.Errorf("expected passthrough, got %q", got)
	}
}
