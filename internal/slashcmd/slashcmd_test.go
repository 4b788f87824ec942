package slashcmd

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDetect(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []Invocation
	}{
		{
			name: "single command with args",
			text: "/echo hi there",
			want: []Invocation{{Name: "echo", Args: "hi there"}},
		},
		{
			name: "command in the middle of a sentence",
			text: "please run /status now",
			want: []Invocation{{Name: "status", Args: "now"}},
		},
		{
			name: "multiple distinct commands",
			text: "/a one /b two",
			want: []Invocation{{Name: "a", Args: "one"}, {Name: "b", Args: "two"}},
		},
		{
			name: "no commands",
			text: "just a normal message",
			want: nil,
		},
		{
			name: "path-like slash is not a command boundary match",
			text: "see a/b/c for details",
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Detect(tt.text)
			if len(got) != len(tt.want) {
				t.Fatalf("got %d invocations %+v, want %d %+v", len(got), got, len(tt.want), tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("invocation %d: got %+v, want %+v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestDetect_MultipleCommandsInOneMessageAllEnumerated(t *testing.T) {
	invocations := Detect("/echo hi /status")
	if len(invocations) != 2 {
		t.Fatalf("expected 2 invocations, got %d", len(invocations))
	}
}

func TestResolver_PrecedenceOrder(t *testing.T) {
	dirA := t.TempDir()
	dirB := t.TempDir()
	os.WriteFile(filepath.Join(dirB, "echo.md"), []byte("fallback body"), 0o644)
	os.WriteFile(filepath.Join(dirA, "echo.md"), []byte("primary body text that should win"), 0o644)

	r := NewResolver([]string{dirA, dirB})
	resolved := r.Resolve([]Invocation{{Name: "echo", Args: "hi"}})

	if len(resolved) != 1 {
		t.Fatalf("expected 1 resolved, got %d", len(resolved))
	}
	if !strings.Contains(resolved[0].SourcePath, dirA) {
		t.Errorf("expected dirA to win precedence, got %q", resolved[0].SourcePath)
	}
}

func TestResolver_Unresolved(t *testing.T) {
	r := NewResolver([]string{t.TempDir()})
	resolved := r.Resolve([]Invocation{{Name: "nonexistent"}})
	if resolved[0].SourcePath != "" {
		t.Errorf("expected unresolved source path, got %q", resolved[0].SourcePath)
	}
}

func TestBuildDirective_UnresolvedGetsGenericDirective(t *testing.T) {
	resolved := []Resolved{{Invocation: Invocation{Name: "mystery", Args: "x"}}}
	directive := BuildDirective(resolved)
	if !strings.Contains(directive, "interpret and execute") {
		t.Errorf("expected generic directive language, got %q", directive)
	}
}

func TestInjectResponsesDialect(t *testing.T) {
	out := InjectResponsesDialect("do the thing", "/echo hi")
	if !strings.HasPrefix(out, "[SYSTEM: do the thing]") {
		t.Errorf("expected SYSTEM prefix, got %q", out)
	}
	if !strings.Contains(out, "/echo") {
		t.Errorf("expected original text preserved, got %q", out)
	}
}

func TestIsStatusLine(t *testing.T) {
	if !IsStatusLine(StatusLineMarker + "some status /fake-command") {
		t.Error("expected status-line marker to be detected")
	}
	if IsStatusLine("regular /echo message") {
		t.Error("regular user text should not be flagged as a status line")
	}
}
