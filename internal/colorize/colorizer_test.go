package colorize

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestColorizer_WrapsAssistantDelta(t *testing.T) {
	c := New()
	in := `data: {"choices":[{"delta":{"role":"assistant","content":"Hello"}}]}` + "\n\n"
	out := c.Feed([]byte(in))

	var parsed map[string]any
	data := extractData(t, out)
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("output not valid JSON: %v, %s", err, data)
	}

	choices := parsed["choices"].([]any)
	delta := choices[0].(map[string]any)["delta"].(map[string]any)
	content := delta["content"].(string)

	want := "\x1b[38;2;189;166;255mHello\x1b[0m"
	if content != want {
		t.Errorf("got %q, want %q", content, want)
	}
}

func TestColorizer_DonePassthroughByteIdentical(t *testing.T) {
	c := New()
	in := "data: [DONE]\n\n"
	out := c.Feed([]byte(in))
	if string(out) != in {
		t.Errorf("DONE frame must forward byte-identical: got %q, want %q", out, in)
	}
}

func TestColorizer_UnparseableDataPassesThroughVerbatim(t *testing.T) {
	c := New()
	in := "data: not json\n\n"
	out := c.Feed([]byte(in))
	if string(out) != in {
		t.Errorf("malformed JSON must pass through verbatim: got %q, want %q", out, in)
	}
}

func TestColorizer_NeverDoubleWraps(t *testing.T) {
	c := New()
	already := "\x1b[38;2;1;2;3mhi\x1b[0m"
	payload := `{"choices":[{"delta":{"role":"assistant","content":` + mustJSONString(already) + `}}]}`
	out := c.Feed([]byte("data: " + payload + "\n\n"))

	data := extractData(t, out)
	var parsed map[string]any
	json.Unmarshal(data, &parsed)
	choices := parsed["choices"].([]any)
	content := choices[0].(map[string]any)["delta"].(map[string]any)["content"].(string)

	if strings.Count(content, "\x1b[") != strings.Count(already, "\x1b[") {
		t.Errorf("expected no extra escape sequences, got %q", content)
	}
}

func TestColorizer_BuffersAcrossChunkBoundaries(t *testing.T) {
	c := New()
	full := `data: {"choices":[{"delta":{"role":"user","content":"hi"}}]}` + "\n\n"
	mid := len(full) / 2

	first := c.Feed([]byte(full[:mid]))
	if len(first) != 0 {
		t.Errorf("expected no output before the delimiter arrives, got %q", first)
	}
	second := c.Feed([]byte(full[mid:]))
	if len(second) == 0 {
		t.Error("expected output once the delimiter completes the event")
	}
}

func TestColorizer_SemanticPassthroughUnderStrip(t *testing.T) {
	c := New()
	in := `data: {"choices":[{"delta":{"role":"assistant","content":"Hello world"}}]}` + "\n\n"
	out := c.Feed([]byte(in))

	data := extractData(t, out)
	stripped := StripANSI(string(data))

	var strippedParsed, origParsed map[string]any
	json.Unmarshal([]byte(stripped), &strippedParsed)
	json.Unmarshal([]byte(`{"choices":[{"delta":{"role":"assistant","content":"Hello world"}}]}`), &origParsed)

	strippedJSON, _ := json.Marshal(strippedParsed)
	origJSON, _ := json.Marshal(origParsed)
	if string(strippedJSON) != string(origJSON) {
		t.Errorf("stripped output must deep-equal input: got %s, want %s", strippedJSON, origJSON)
	}
}

func TestColorizer_ResidualBytesFlushedOnClose(t *testing.T) {
	c := New()
	c.Feed([]byte("data: {\"incomplete"))
	remainder := c.Close()
	if !bytes.Contains(remainder, []byte("incomplete")) {
		t.Errorf("expected residual bytes on close, got %q", remainder)
	}
}

func extractData(t *testing.T, event []byte) []byte {
	t.Helper()
	s := string(event)
	idx := strings.Index(s, "data: ")
	if idx == -1 {
		t.Fatalf("no data: line found in %q", s)
	}
	rest := s[idx+len("data: "):]
	rest = strings.TrimRight(rest, "\n\r")
	return []byte(rest)
}

func mustJSONString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}
