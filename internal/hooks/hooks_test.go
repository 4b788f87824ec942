package hooks

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeHookFile(t *testing.T, dir, name, content string, executable bool) string {
	t.Helper()
	path := filepath.Join(dir, name)
	mode := os.FileMode(0o644)
	if executable {
		mode = 0o755
	}
	if err := os.WriteFile(path, []byte(content), mode); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestParseFrontMatter_YAMLForm(t *testing.T) {
	dir := t.TempDir()
	path := writeHookFile(t, dir, "inject_marker.py", "---\nname: inject_marker\ntype: pre-input\npriority: 5\n---\n# body\n", false)

	fm, err := parseFrontMatter(path)
	if err != nil {
		t.Fatalf("parseFrontMatter: %v", err)
	}
	if fm.Name != "inject_marker" || fm.Type != "pre-input" || fm.Priority != 5 {
		t.Errorf("unexpected front matter: %+v", fm)
	}
	if fm.Enabled == nil || !*fm.Enabled {
		t.Error("expected enabled to default true")
	}
}

func TestParseFrontMatter_ShebangForm(t *testing.T) {
	dir := t.TempDir()
	content := "#!/usr/bin/env python3\n# name: block_on_word\n# type: pre-tool-use\n# priority: 1\n# enabled: true\n\nimport sys\n"
	path := writeHookFile(t, dir, "block_on_word.py", content, true)

	fm, err := parseFrontMatter(path)
	if err != nil {
		t.Fatalf("parseFrontMatter: %v", err)
	}
	if fm.Name != "block_on_word" || fm.Type != "pre-tool-use" || fm.Priority != 1 {
		t.Errorf("unexpected front matter: %+v", fm)
	}
}

func TestParseFrontMatter_Malformed(t *testing.T) {
	dir := t.TempDir()
	path := writeHookFile(t, dir, "broken.py", "just a file with no metadata\n", false)

	if _, err := parseFrontMatter(path); err == nil {
		t.Error("expected error for file with no front matter")
	}
}

func TestRegistry_OrdersByPriorityThenPath(t *testing.T) {
	dir := t.TempDir()
	writeHookFile(t, dir, "b_hook.py", "---\nname: b\ntype: pre-input\npriority: 5\n---\n", false)
	writeHookFile(t, dir, "a_hook.py", "---\nname: a\ntype: pre-input\npriority: 5\n---\n", false)
	writeHookFile(t, dir, "z_hook.py", "---\nname: z\ntype: pre-input\npriority: 1\n---\n", false)

	reg, err := NewRegistry([]string{dir})
	if err != nil {
		t.Fatal(err)
	}

	descs := reg.Descriptors(EventPreInput)
	if len(descs) != 3 {
		t.Fatalf("expected 3 descriptors, got %d", len(descs))
	}
	if descs[0].Name != "z" || descs[1].Name != "a" || descs[2].Name != "b" {
		names := []string{descs[0].Name, descs[1].Name, descs[2].Name}
		t.Errorf("unexpected order: %v", names)
	}
}

func TestRegistry_DropsMalformedButKeepsOthers(t *testing.T) {
	dir := t.TempDir()
	writeHookFile(t, dir, "good.py", "---\nname: good\ntype: pre-input\npriority: 1\n---\n", false)
	writeHookFile(t, dir, "bad.py", "no metadata here\n", false)

	reg, err := NewRegistry([]string{dir})
	if err != nil {
		t.Fatal(err)
	}

	descs := reg.Descriptors(EventPreInput)
	if len(descs) != 1 || descs[0].Name != "good" {
		t.Errorf("expected only the well-formed hook, got %+v", descs)
	}
}

func TestRegistry_DisabledDescriptorNeverExecutes(t *testing.T) {
	dir := t.TempDir()
	writeHookFile(t, dir, "off.py", "---\nname: off\ntype: pre-input\npriority: 1\nenabled: false\n---\n", false)

	reg, err := NewRegistry([]string{dir})
	if err != nil {
		t.Fatal(err)
	}

	if descs := reg.Descriptors(EventPreInput); len(descs) != 0 {
		t.Errorf("expected disabled descriptor to be filtered out, got %+v", descs)
	}
}

func TestRunner_OneHookFailureDoesNotBlockOthers(t *testing.T) {
	dir := t.TempDir()
	reg, err := NewRegistry([]string{dir})
	if err != nil {
		t.Fatal(err)
	}
	// Inject descriptors directly via a reload-equivalent for the test.
	reg.byType.Store(&map[EventType][]Descriptor{
		EventPreInput: {
			{Name: "failing", EventType: EventPreInput, Priority: 1, Enabled: true, SourcePath: "failing", Invoker: InvokerInProcess},
			{Name: "succeeding", EventType: EventPreInput, Priority: 2, Enabled: true, SourcePath: "succeeding", Invoker: InvokerInProcess},
		},
	})

	var ranSucceeding bool
	builtins := map[string]Builtin{
		"failing": func(ctx context.Context, payload map[string]any) (map[string]any, error) {
			return nil, errors.New("boom")
		},
		"succeeding": func(ctx context.Context, payload map[string]any) (map[string]any, error) {
			ranSucceeding = true
			payload["touched"] = true
			return payload, nil
		},
	}

	runner := NewRunner(reg, builtins, 0)
	out, err := runner.RunChain(context.Background(), EventPreInput, map[string]any{})
	if err != nil {
		t.Fatalf("RunChain returned error: %v", err)
	}
	if !ranSucceeding {
		t.Error("expected the second hook to still run after the first failed")
	}
	if out["touched"] != true {
		t.Error("expected final payload to reflect the succeeding hook's change")
	}
}

func TestRunner_BlockShortCircuitsBlockingEvent(t *testing.T) {
	dir := t.TempDir()
	reg, err := NewRegistry([]string{dir})
	if err != nil {
		t.Fatal(err)
	}
	reg.byType.Store(&map[EventType][]Descriptor{
		EventPreToolUse: {
			{Name: "blocker", EventType: EventPreToolUse, Priority: 1, Enabled: true, SourcePath: "blocker", Invoker: InvokerInProcess},
			{Name: "never_runs", EventType: EventPreToolUse, Priority: 2, Enabled: true, SourcePath: "never_runs", Invoker: InvokerInProcess},
		},
	})

	var neverRan bool
	builtins := map[string]Builtin{
		"blocker": func(ctx context.Context, payload map[string]any) (map[string]any, error) {
			return nil, &BlockError{Reason: "forbidden word"}
		},
		"never_runs": func(ctx context.Context, payload map[string]any) (map[string]any, error) {
			neverRan = true
			return payload, nil
		},
	}

	runner := NewRunner(reg, builtins, 0)
	_, err = runner.RunChain(context.Background(), EventPreToolUse, map[string]any{})
	var blockErr *BlockError
	if !errors.As(err, &blockErr) {
		t.Fatalf("expected BlockError, got %v", err)
	}
	if neverRan {
		t.Error("expected chain to short-circuit before the second hook")
	}
}
