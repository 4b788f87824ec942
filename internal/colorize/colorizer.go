package colorize

import (
	"bytes"
	"encoding/json"
)

// choiceState tracks the last known role for one streamed choice index —
// later deltas in the same stream omit role, so it must be carried
// forward (spec.md §3 Colouriser State).
type choiceState struct {
	role string
}

// Colorizer injects role-specific ANSI colour into a streamed SSE byte
// flow. It is a single-use, non-shared streaming state machine: one
// instance per active request (spec.md §3: "not shared across requests").
type Colorizer struct {
	buffer  bytes.Buffer
	choices map[int]*choiceState
}

// New creates a Colorizer with empty per-choice state.
func New() *Colorizer {
	return &Colorizer{choices: make(map[int]*choiceState)}
}

var (
	delimLF  = []byte("\n\n")
	delimCRLF = []byte("\r\n\r\n")
)

// Feed appends chunk to the internal buffer and returns every complete SSE
// event framed so far, each individually colourised. Incomplete trailing
// bytes remain buffered for the next Feed or Close call (spec.md §4.5
// framing: "buffer bytes, scan for \n\n or \r\n\r\n, emit one framed event
// at a time").
func (c *Colorizer) Feed(chunk []byte) []byte {
	if len(chunk) == 0 {
		return nil
	}
	c.buffer.Write(chunk)

	var out bytes.Buffer
	for {
		data := c.buffer.Bytes()
		idx := bytes.Index(data, delimLF)
		delim := delimLF
		if altIdx := bytes.Index(data, delimCRLF); altIdx != -1 && (idx == -1 || altIdx < idx) {
			idx = altIdx
			delim = delimCRLF
		}
		if idx == -1 {
			break
		}

		event := make([]byte, idx)
		copy(event, data[:idx])
		remaining := make([]byte, len(data)-idx-len(delim))
		copy(remaining, data[idx+len(delim):])
		c.buffer.Reset()
		c.buffer.Write(remaining)

		out.Write(c.processEvent(event, delim))
	}

	return out.Bytes()
}

// Close flushes any residual buffered bytes (an incomplete final event) —
// spec.md §4.5: "flush residual bytes on stream end".
func (c *Colorizer) Close() []byte {
	if c.buffer.Len() == 0 {
		return nil
	}
	remainder := c.buffer.Bytes()
	c.buffer.Reset()
	return remainder
}

// processEvent colourises one framed SSE event. Any failure in parsing or
// inspection causes the original bytes to be forwarded verbatim — colour
// is best-effort, never data-lossy (spec.md §4.5 Failure isolation).
func (c *Colorizer) processEvent(event, delim []byte) (result []byte) {
	defer func() {
		if recover() != nil {
			result = append(append([]byte{}, event...), delim...)
		}
	}()

	lines := splitLines(event)

	var otherLines [][]byte
	var dataLines [][]byte
	for _, line := range lines {
		if bytes.HasPrefix(line, []byte("data:")) {
			dataLines = append(dataLines, bytes.TrimLeft(line[len("data:"):], " \t"))
		} else {
			otherLines = append(otherLines, line)
		}
	}

	if len(dataLines) == 0 {
		return append(append([]byte{}, event...), delim...)
	}

	payload := bytes.Join(dataLines, []byte("\n"))
	if bytes.Equal(bytes.TrimSpace(payload), []byte("[DONE]")) {
		return append(append([]byte{}, event...), delim...)
	}

	var parsed map[string]any
	if err := json.Unmarshal(payload, &parsed); err != nil {
		return append(append([]byte{}, event...), delim...)
	}

	if !c.colorizePayload(parsed) {
		return append(append([]byte{}, event...), delim...)
	}

	newPayload, err := json.Marshal(parsed)
	if err != nil {
		return append(append([]byte{}, event...), delim...)
	}

	var rebuilt bytes.Buffer
	lineSep := []byte("\n")
	if bytes.Equal(delim, delimCRLF) {
		lineSep = []byte("\r\n")
	}
	first := true
	for _, l := range otherLines {
		if !first {
			rebuilt.Write(lineSep)
		}
		rebuilt.Write(l)
		first = false
	}
	for _, part := range bytes.Split(newPayload, []byte("\n")) {
		if !first {
			rebuilt.Write(lineSep)
		}
		rebuilt.Write([]byte("data: "))
		rebuilt.Write(part)
		first = false
	}
	rebuilt.Write(delim)
	return rebuilt.Bytes()
}

func splitLines(b []byte) [][]byte {
	normalized := bytes.ReplaceAll(b, []byte("\r\n"), []byte("\n"))
	return bytes.Split(normalized, []byte("\n"))
}

func (c *Colorizer) colorizePayload(payload map[string]any) bool {
	choicesRaw, ok := payload["choices"]
	if !ok {
		return false
	}
	choices, ok := choicesRaw.([]any)
	if !ok {
		return false
	}

	modified := false
	for idx, choiceRaw := range choices {
		choice, ok := choiceRaw.(map[string]any)
		if !ok {
			continue
		}
		if c.colorizeChoice(idx, choice) {
			modified = true
		}
	}
	return modified
}

func (c *Colorizer) colorizeChoice(idx int, choice map[string]any) bool {
	state, ok := c.choices[idx]
	if !ok {
		state = &choiceState{role: "assistant"}
		c.choices[idx] = state
	}

	for _, key := range []string{"delta", "message"} {
		section, ok := choice[key].(map[string]any)
		if !ok {
			continue
		}
		if role, ok := section["role"].(string); ok && role != "" {
			state.role = role
		}
	}

	color := ColorFor(state.role)
	modified := false

	if delta, ok := choice["delta"].(map[string]any); ok {
		if colorizeSection(delta, color) {
			modified = true
		}
	}
	if message, ok := choice["message"].(map[string]any); ok {
		if colorizeSection(message, color) {
			modified = true
		}
	}
	if text, ok := choice["text"].(string); ok {
		wrapped := Apply(text, color)
		if wrapped != text {
			choice["text"] = wrapped
			modified = true
		}
	}

	return modified
}

func colorizeSection(section map[string]any, color string) bool {
	modified := false

	switch content := section["content"].(type) {
	case string:
		wrapped := Apply(content, color)
		if wrapped != content {
			section["content"] = wrapped
			modified = true
		}
	case []any:
		if colorizeContentList(content, color) {
			modified = true
		}
	}

	if toolCalls, ok := section["tool_calls"].([]any); ok {
		if colorizeToolCalls(toolCalls) {
			modified = true
		}
	}

	return modified
}

func colorizeContentList(items []any, color string) bool {
	modified := false
	for _, itemRaw := range items {
		item, ok := itemRaw.(map[string]any)
		if !ok {
			continue
		}
		switch item["type"] {
		case "text":
			if text, ok := item["text"].(string); ok {
				wrapped := Apply(text, color)
				if wrapped != text {
					item["text"] = wrapped
					modified = true
				}
			}
		case "tool_result":
			if applyField(item, "content", ColorFor("tool_result")) {
				modified = true
			}
		case "tool_use":
			if applyField(item, "name", ColorFor("tool")) {
				modified = true
			}
		}
	}
	return modified
}

func colorizeToolCalls(calls []any) bool {
	modified := false
	for _, callRaw := range calls {
		call, ok := callRaw.(map[string]any)
		if !ok || call["type"] != "function" {
			continue
		}
		function, ok := call["function"].(map[string]any)
		if !ok {
			continue
		}
		if applyField(function, "name", ColorFor("tool")) {
			modified = true
		}
	}
	return modified
}

func applyField(container map[string]any, key, color string) bool {
	value, ok := container[key].(string)
	if !ok {
		return false
	}
	wrapped := Apply(value, color)
	if wrapped == value {
		return false
	}
	container[key] = wrapped
	return true
}
