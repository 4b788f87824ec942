package reqlog

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// toolOutputsDirName names the directory where Cerebras tool-output follow-up requests are
// snapshotted for debugging, separate from the per-branch request log
// (cerebras_tool_output_logger.py's LOG_DIR).
const toolOutputsDirName = "cereb_conversion"

// IsToolOutputsCallback reports whether path is the Codex tool-output
// follow-up route (spec.md §4.7 step 6).
func IsToolOutputsCallback(path string) bool {
	return strings.Contains(path, "/responses/") && strings.HasSuffix(path, "/tool_outputs")
}

type toolOutputRecord struct {
	Path    string          `json:"path"`
	Body    json.RawMessage `json:"body"`
	Headers map[string]string `json:"headers"`
}

// RecordToolOutputs writes a redacted snapshot of a tool-output callback
// body. A nil or non-JSON body is skipped rather than erroring, matching
// the hot-path-safety requirement the original implementation documents.
func (l *Logger) RecordToolOutputs(path string, body []byte, headers http.Header) {
	if len(body) == 0 {
		slog.Debug("reqlog: tool output record skipped, empty body")
		return
	}
	var parsed json.RawMessage
	if err := json.Unmarshal(body, &parsed); err != nil {
		slog.Warn("reqlog: tool output record skipped, body not JSON")
		return
	}

	safeHeaders := make(map[string]string, len(headers))
	for k, v := range headers {
		if isRedactedHeader(k) {
			continue
		}
		if len(v) > 0 {
			safeHeaders[k] = v[0]
		}
	}

	record := toolOutputRecord{Path: path, Body: parsed, Headers: safeHeaders}

	go func() {
		dir := filepath.Join(os.TempDir(), "codexplus", toolOutputsDirName)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			slog.Debug("reqlog: tool output dir creation failed", "error", err)
			return
		}
		file := filepath.Join(dir, fmt.Sprintf("tool_outputs_%d_%d.json", os.Getpid(), time.Now().Unix()))
		data, err := json.MarshalIndent(record, "", "  ")
		if err != nil {
			slog.Debug("reqlog: tool output marshal failed", "error", err)
			return
		}
		if err := os.WriteFile(file, data, 0o644); err != nil {
			slog.Debug("reqlog: tool output write failed", "error", err)
			return
		}
		slog.Info("recorded tool output follow-up", "file", file)
	}()
}
