package hooks

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/gobwas/glob"
)

// hookFilePattern matches the hook filenames the loader scans for —
// interpreted scripts carrying front-matter metadata (spec.md §4.2's
// "*.py-named file"; this port treats any interpreted extension the same
// way since the subprocess invoker is dialect-agnostic).
var hookFilePattern = glob.MustCompile("*.{py,sh,js,rb}")

// Registry holds the current set of hook descriptors, grouped by event
// type and ordered, behind an atomic pointer so a reload never interrupts
// an in-flight chain invocation (spec.md §4.2 reload policy).
type Registry struct {
	dirs   []string
	byType atomic.Pointer[map[EventType][]Descriptor]
}

// NewRegistry builds a registry by scanning dirs immediately.
func NewRegistry(dirs []string) (*Registry, error) {
	r := &Registry{dirs: dirs}
	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// Reload rescans all hook directories and atomically swaps in the new
// descriptor set. Descriptors with a parse error are dropped and logged,
// never preventing the rest of the registry from loading.
func (r *Registry) Reload() error {
	grouped := make(map[EventType][]Descriptor)

	for _, dir := range r.dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			slog.Warn("hook directory unreadable", "dir", dir, "error", err)
			continue
		}

		for _, entry := range entries {
			if entry.IsDir() || !hookFilePattern.Match(entry.Name()) {
				continue
			}
			path := filepath.Join(dir, entry.Name())
			desc, err := loadDescriptor(path)
			if err != nil {
				slog.Warn("dropping malformed hook descriptor", "path", path, "error", err)
				continue
			}
			grouped[desc.EventType] = append(grouped[desc.EventType], desc)
		}
	}

	for et := range grouped {
		sortDescriptors(grouped[et])
	}

	r.byType.Store(&grouped)
	slog.Info("hook registry reloaded", "eventTypes", len(grouped))
	return nil
}

func loadDescriptor(path string) (Descriptor, error) {
	fm, err := parseFrontMatter(path)
	if err != nil {
		return Descriptor{}, err
	}
	if fm.Type == "" {
		return Descriptor{}, fmt.Errorf("hook %s: missing event type", path)
	}

	invoker := InvokerSubprocess
	if info, err := os.Stat(path); err == nil && info.Mode()&0o111 == 0 {
		// Not executable: treated as an in-process builtin looked up by name.
		invoker = InvokerInProcess
	}

	enabled := true
	if fm.Enabled != nil {
		enabled = *fm.Enabled
	}

	return Descriptor{
		Name:       fm.Name,
		EventType:  EventType(fm.Type),
		Priority:   fm.Priority,
		Enabled:    enabled,
		SourcePath: path,
		Invoker:    invoker,
	}, nil
}

// Descriptors returns a snapshot of the ordered, enabled descriptors for
// one event type. The snapshot is safe to use for the lifetime of one
// request even if Reload runs concurrently (spec.md §5: "hook registry is
// immutable per request (snapshot taken at request start)").
func (r *Registry) Descriptors(et EventType) []Descriptor {
	m := r.byType.Load()
	if m == nil {
		return nil
	}
	all := (*m)[et]
	out := make([]Descriptor, 0, len(all))
	for _, d := range all {
		if d.Enabled {
			out = append(out, d)
		}
	}
	return out
}

// All returns every currently loaded descriptor, enabled or not, for
// display purposes (`codexplusd hooks list`).
func (r *Registry) All() []Descriptor {
	m := r.byType.Load()
	if m == nil {
		return nil
	}
	var out []Descriptor
	for _, descs := range *m {
		out = append(out, descs...)
	}
	sortDescriptors(out)
	return out
}
