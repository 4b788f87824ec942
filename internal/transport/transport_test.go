package transport

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestHostAllowed(t *testing.T) {
	tr := New(Options{AllowedHosts: []string{"chatgpt.com", "api.openai.com"}})

	if !tr.HostAllowed("chatgpt.com") {
		t.Error("expected chatgpt.com to be allowed")
	}
	if !tr.HostAllowed("API.OpenAI.com:443") {
		t.Error("expected case-insensitive, port-stripped match")
	}
	if tr.HostAllowed("evil.example.com") {
		t.Error("expected host not in allow-list to be rejected")
	}
}

func TestHostAllowed_EmptyListAllowsEverything(t *testing.T) {
	tr := New(Options{})
	if !tr.HostAllowed("anything.example.com") {
		t.Error("expected empty allow-list to permit any host")
	}
}

func TestHostOf(t *testing.T) {
	host, err := hostOf("https://chatgpt.com/backend-api/codex")
	if err != nil {
		t.Fatal(err)
	}
	if host != "chatgpt.com" {
		t.Errorf("got %q", host)
	}
}

func TestCopyRequestHeaders_DropsHopByHop(t *testing.T) {
	src := http.Header{}
	src.Set("Connection", "keep-alive")
	src.Set("Authorization", "Bearer x")
	src.Set("Host", "should-be-dropped")

	dst := http.Header{}
	copyRequestHeaders(dst, src)

	if dst.Get("Connection") != "" {
		t.Error("Connection must not be forwarded")
	}
	if dst.Get("Host") != "" {
		t.Error("Host must not be forwarded")
	}
	if dst.Get("Authorization") != "Bearer x" {
		t.Error("Authorization must be forwarded")
	}
}

func TestResolveBaseURL_Precedence(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "base_url")
	os.WriteFile(file, []byte("https://from-file.example/\n"), 0o644)

	if got := ResolveBaseURL(file, "CODEXPLUS_BASE_URL_TEST", "https://default.example/"); got != "https://from-file.example/" {
		t.Errorf("file should win, got %q", got)
	}

	t.Setenv("CODEXPLUS_BASE_URL_TEST", "https://from-env.example/")
	if got := ResolveBaseURL("", "CODEXPLUS_BASE_URL_TEST", "https://default.example/"); got != "https://from-env.example/" {
		t.Errorf("env should win over default, got %q", got)
	}

	if got := ResolveBaseURL("", "", "https://default.example/"); got != "https://default.example/" {
		t.Errorf("default should apply when nothing else set, got %q", got)
	}
}

func TestValidateBaseURL_RejectsNonHTTPS(t *testing.T) {
	if err := ValidateBaseURL("http://chatgpt.com/backend-api/codex"); err == nil {
		t.Error("expected http:// base URL to be rejected")
	}
	if err := ValidateBaseURL("not-a-url"); err == nil {
		t.Error("expected a schemeless value to be rejected")
	}
	if err := ValidateBaseURL("https://chatgpt.com/backend-api/codex"); err != nil {
		t.Errorf("expected a valid https URL to pass, got %v", err)
	}
}

func TestErrorEvent(t *testing.T) {
	event := string(ErrorEvent("UPSTREAM_ERROR", "connection reset"))
	if !strings.HasPrefix(event, "data: {") {
		t.Errorf("expected SSE data prefix, got %q", event)
	}
	if !strings.HasSuffix(event, "\n\n") {
		t.Errorf("expected blank-line frame terminator, got %q", event)
	}
	if !strings.Contains(event, `"UPSTREAM_ERROR"`) || !strings.Contains(event, "connection reset") {
		t.Errorf("expected code and message embedded, got %q", event)
	}
}
