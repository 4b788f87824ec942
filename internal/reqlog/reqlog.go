// Package reqlog writes best-effort, redacted snapshots of outbound
// request bodies for later inspection, and indexes their metadata in
// SQLite for fast querying.
package reqlog

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// xAPIKeyPattern, with the authorization/cookie names in isRedactedHeader,
// decides which headers are stripped from any header snapshot — spec.md §4.9: "strip authorization, cookie, and any x-api-key* headers
// before any snapshot that includes headers."
var xAPIKeyPattern = regexp.MustCompile(`(?i)^x-api-key`)

func isRedactedHeader(name string) bool {
	lower := strings.ToLower(name)
	if lower == "authorization" || lower == "cookie" {
		return true
	}
	return xAPIKeyPattern.MatchString(lower)
}

// RedactHeaders returns a copy of headers with sensitive entries removed.
func RedactHeaders(headers http.Header) http.Header {
	out := make(http.Header, len(headers))
	for k, v := range headers {
		if isRedactedHeader(k) {
			continue
		}
		out[k] = v
	}
	return out
}

var branchSlugPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// SanitizeBranchSlug validates a Git branch name for use as a directory
// component, collapsing to "unknown" on anything that could traverse out
// of the logging root (spec.md §4.9).
func SanitizeBranchSlug(branch string) string {
	branch = strings.TrimSpace(branch)
	if branch == "" || !branchSlugPattern.MatchString(branch) {
		return "unknown"
	}
	return branch
}

// Logger writes per-request artefacts under root/<branch-slug>/ and
// indexes them for later querying.
type Logger struct {
	root       string
	index      *Index
	structured *StructuredLogger
}

// Options configures a Logger.
type Options struct {
	Root      string // e.g. /tmp/codexplus
	IndexPath string // SQLite index path; empty disables indexing

	// StructuredOutput receives one zerolog line per logged request. Defaults
	// to os.Stderr, matching the daemon's own log destination.
	StructuredOutput io.Writer
}

// New creates a Logger. If opts.IndexPath is empty, queries are
// unavailable but snapshot writing still works.
func New(opts Options) (*Logger, error) {
	out := opts.StructuredOutput
	if out == nil {
		out = os.Stderr
	}
	l := &Logger{root: opts.Root, structured: NewStructuredLogger(out)}
	if opts.IndexPath != "" {
		idx, err := openIndex(opts.IndexPath)
		if err != nil {
			return nil, err
		}
		l.index = idx
	}
	return l, nil
}

// Index exposes the logger's query surface, or nil if indexing is disabled.
func (l *Logger) Index() *Index {
	return l.index
}

// Close releases the underlying index connection, if any.
func (l *Logger) Close() error {
	if l.index != nil {
		return l.index.close()
	}
	return nil
}

// Snapshot is one logged request.
type Snapshot struct {
	Branch       string
	Path         string
	Method       string
	RequestBody  []byte
	Instructions string // only set when the "instructions" field was a string
	LatencyMs    float64
	Redacted     bool
}

// ShouldLog reports whether the given request path is one of the routes
// that trigger logging — only the responses route and its tool_outputs
// callback variant (spec.md §4.9).
func ShouldLog(path string) bool {
	return strings.Contains(path, "/responses")
}

// Write asynchronously persists a snapshot's artefacts and indexes its
// metadata. Failures are logged at debug level and never propagate —
// logging must never affect request success (spec.md §4.9).
func (l *Logger) Write(snap Snapshot) {
	go func() {
		if err := l.writeArtefacts(snap); err != nil {
			slog.Debug("reqlog: snapshot write failed", "branch", snap.Branch, "path", snap.Path, "error", err)
		}
		if l.index != nil {
			if err := l.index.insert(snap); err != nil {
				slog.Debug("reqlog: index insert failed", "branch", snap.Branch, "error", err)
			}
		}
		if l.structured != nil {
			l.structured.LogRequest(snap)
		}
	}()
}

func (l *Logger) writeArtefacts(snap Snapshot) error {
	dir := filepath.Join(l.root, SanitizeBranchSlug(snap.Branch), fmt.Sprintf("%d", time.Now().UnixNano()))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating snapshot dir: %w", err)
	}

	var pretty []byte
	var obj any
	if err := json.Unmarshal(snap.RequestBody, &obj); err == nil {
		pretty, _ = json.MarshalIndent(obj, "", "  ")
	} else {
		pretty = snap.RequestBody
	}
	if err := os.WriteFile(filepath.Join(dir, "request_payload.json"), pretty, 0o644); err != nil {
		return fmt.Errorf("writing request_payload.json: %w", err)
	}

	if snap.Instructions != "" {
		if err := os.WriteFile(filepath.Join(dir, "instructions.txt"), []byte(snap.Instructions), 0o644); err != nil {
			return fmt.Errorf("writing instructions.txt: %w", err)
		}
	}

	return nil
}

// ExtractInstructions pulls the top-level "instructions" field out of a
// JSON body iff it is a string — any other shape (missing, object,
// number) yields the empty string.
func ExtractInstructions(body []byte) string {
	var probe struct {
		Instructions json.RawMessage `json:"instructions"`
	}
	if err := json.Unmarshal(body, &probe); err != nil || len(probe.Instructions) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(probe.Instructions, &s); err != nil {
		return ""
	}
	return s
}
