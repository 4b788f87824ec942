// Package dashboard serves a small live activity feed over the proxy's
// own HTTP port: a WebSocket stream of request lifecycle events and a
// REST snapshot of recent request-log entries and metric summaries.
package dashboard

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/jleechan/codexplusd/internal/metrics"
	"github.com/jleechan/codexplusd/internal/reqlog"
)

// EventKind classifies one broadcast activity event.
type EventKind string

const (
	EventRequestStart   EventKind = "request_start"
	EventRequestFinish  EventKind = "request_finish"
	EventRequestBlocked EventKind = "request_blocked"
	EventRequestError   EventKind = "request_error"
)

// Event is one entry in the live activity feed.
type Event struct {
	Kind      EventKind `json:"kind"`
	Path      string    `json:"path"`
	Branch    string    `json:"branch,omitempty"`
	LatencyMs float64   `json:"latency_ms,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Index is the subset of internal/reqlog.Index this package depends on.
type Index interface {
	Query(params reqlog.QueryParams) ([]reqlog.Record, error)
}

// Options holds the dependencies injected into the dashboard.
type Options struct {
	Index   Index
	Metrics *metrics.Sink
}

// Dashboard serves the live feed UI, its WebSocket backend, and a small
// REST surface over request-log and metric state.
type Dashboard struct {
	index   Index
	metrics *metrics.Sink
	wsHub   *wsHub
}

// New creates a Dashboard and starts its WebSocket broadcast hub.
func New(opts Options) *Dashboard {
	d := &Dashboard{index: opts.Index, metrics: opts.Metrics, wsHub: newWSHub()}
	go d.wsHub.run()
	return d
}

// ServeHTTP serves the embedded single-page activity feed UI.
func (d *Dashboard) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(dashboardHTML))
}

// WebSocketHandler serves the /dashboard/ws live event stream.
func (d *Dashboard) WebSocketHandler() http.Handler {
	return http.HandlerFunc(d.handleWebSocket)
}

// APIHandler serves the /api/ REST endpoints.
func (d *Dashboard) APIHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/requests", d.handleAPIRequests)
	mux.HandleFunc("/api/metrics", d.handleAPIMetrics)
	return mux
}

// Broadcast pushes an activity event to every connected WebSocket client.
// Non-blocking — dropped if no clients are connected or a client's
// buffer is full.
func (d *Dashboard) Broadcast(e Event) {
	data, err := json.Marshal(e)
	if err != nil {
		slog.Error("dashboard: failed to marshal event", "error", err)
		return
	}
	d.wsHub.broadcast(data)
}

// handleAPIRequests returns recent request-log entries.
// GET /api/requests?limit=50&branch=main
func (d *Dashboard) handleAPIRequests(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "GET only", http.StatusMethodNotAllowed)
		return
	}
	if d.index == nil {
		writeJSON(w, http.StatusOK, []reqlog.Record{})
		return
	}

	limit := 50
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	records, err := d.index.Query(reqlog.QueryParams{Branch: r.URL.Query().Get("branch"), Limit: limit})
	if err != nil {
		slog.Error("dashboard: request-log query failed", "error", err)
		http.Error(w, "query failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

// handleAPIMetrics returns the current coordination-overhead summary.
// GET /api/metrics
func (d *Dashboard) handleAPIMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "GET only", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, d.metrics.ValidateRequirements())
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.Encode(data)
}

// dashboardHTML is the embedded single-page activity feed, kept
// dependency-free the way the proxy itself has no build step.
const dashboardHTML = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="UTF-8">
<meta name="viewport" content="width=device-width, initial-scale=1.0">
<title>codexplusd activity</title>
<style>
  * { margin: 0; padding: 0; box-sizing: border-box; }
  body { font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, sans-serif;
         background: #0f1117; color: #e1e4e8; padding: 24px; }
  h1 { font-size: 24px; margin-bottom: 8px; }
  .subtitle { color: #8b949e; margin-bottom: 24px; }
  .card { background: #161b22; border: 1px solid #30363d; border-radius: 8px; padding: 16px; }
  table { width: 100%; border-collapse: collapse; font-size: 13px; }
  th { text-align: left; color: #8b949e; padding: 6px 8px; border-bottom: 1px solid #30363d; }
  td { padding: 6px 8px; border-bottom: 1px solid #21262d; }
  #live-feed { max-height: 400px; overflow-y: auto; font-family: monospace; font-size: 12px; }
  .feed-entry { padding: 4px 0; border-bottom: 1px solid #21262d; }
  .kind-request_start { color: #58a6ff; }
  .kind-request_finish { color: #3fb950; }
  .kind-request_blocked { color: #d29922; }
  .kind-request_error { color: #f85149; }
</style>
</head>
<body>
<h1>codexplusd</h1>
<p class="subtitle">Live request activity</p>

<div class="card">
  <h2>Activity feed</h2>
  <div id="live-feed"><div class="feed-entry">Connecting...</div></div>
</div>

<script>
function esc(s) {
  if (s == null) return '';
  return String(s).replace(/&/g,'&amp;').replace(/</g,'&lt;').replace(/>/g,'&gt;');
}
function connectWS() {
  const proto = location.protocol === 'https:' ? 'wss:' : 'ws:';
  const ws = new WebSocket(proto + '//' + location.host + '/dashboard/ws');
  ws.onmessage = function(e) {
    try {
      const ev = JSON.parse(e.data);
      const feed = document.getElementById('live-feed');
      const div = document.createElement('div');
      div.className = 'feed-entry';
      div.innerHTML = '[' + esc(ev.timestamp) + '] <span class="kind-' + esc(ev.kind) + '">' + esc(ev.kind) +
        '</span> ' + esc(ev.path) + (ev.latency_ms ? ' (' + ev.latency_ms.toFixed(1) + 'ms)' : '') +
        (ev.detail ? ' — ' + esc(ev.detail) : '');
      feed.insertBefore(div, feed.firstChild);
      while (feed.children.length > 200) feed.removeChild(feed.lastChild);
    } catch(err) { console.error('ws parse error:', err); }
  };
  ws.onclose = function() { setTimeout(connectWS, 3000); };
  ws.onerror = function() { ws.close(); };
}
connectWS();
</script>
</body>
</html>`
