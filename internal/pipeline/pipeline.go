// Package pipeline orchestrates one inbound request end to end: hooks,
// slash-command resolution, dialect transformation, upstream transport,
// and SSE colourisation, timing the whole path for the metric sink.
package pipeline

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/jleechan/codexplusd/internal/colorize"
	"github.com/jleechan/codexplusd/internal/dashboard"
	"github.com/jleechan/codexplusd/internal/dialect"
	"github.com/jleechan/codexplusd/internal/hooks"
	"github.com/jleechan/codexplusd/internal/metrics"
	"github.com/jleechan/codexplusd/internal/reqlog"
	"github.com/jleechan/codexplusd/internal/slashcmd"
	"github.com/jleechan/codexplusd/internal/transport"
)

// Envelope is the mutable per-request object threaded through every
// pipeline stage, wrapping headers and a best-effort-parsed JSON body
// (spec.md §4.7 step 3).
type Envelope struct {
	Method  string
	Path    string
	Query   string
	Headers http.Header
	Body    []byte
	JSON    map[string]any // nil if Body failed to parse as a JSON object
}

func newEnvelope(r *http.Request, body []byte) *Envelope {
	e := &Envelope{
		Method:  r.Method,
		Path:    r.URL.Path,
		Query:   r.URL.RawQuery,
		Headers: r.Header.Clone(),
		Body:    body,
	}
	var m map[string]any
	if json.Unmarshal(body, &m) == nil {
		e.JSON = m
	}
	return e
}

// Options configures a Pipeline.
type Options struct {
	MaxBodyBytes     int64
	Hooks            *hooks.Runner
	SlashCmd         *slashcmd.Resolver
	TransformEnabled bool
	TransformOpts    dialect.Options
	Transport        *transport.Transport
	UpstreamBaseURL  string
	Metrics          *metrics.Sink
	ReqLog           *reqlog.Logger
	BranchDir        string

	// Dashboard receives a live event per request lifecycle transition, if
	// set. Nil disables the feed without affecting request handling.
	Dashboard *dashboard.Dashboard
}

// Pipeline handles every non-health-check request.
type Pipeline struct {
	opts Options
}

// New builds a Pipeline.
func New(opts Options) *Pipeline {
	return &Pipeline{opts: opts}
}

// ServeHTTP implements the catch-all route of spec.md §4.8, delegating
// to the 12-step flow of spec.md §4.7.
func (p *Pipeline) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	t0 := time.Now()

	p.broadcast(dashboard.Event{Kind: dashboard.EventRequestStart, Path: r.URL.Path, Timestamp: t0})

	// Step 2: read body fully, bounded.
	limit := p.opts.MaxBodyBytes
	if limit <= 0 {
		limit = 8 << 20
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	if err != nil {
		p.opts.Metrics.RecordSuccess(metrics.KindCoordinationOverhead, msSince(t0), false)
		p.broadcast(dashboard.Event{Kind: dashboard.EventRequestError, Path: r.URL.Path, Detail: "failed to read request body", Timestamp: time.Now()})
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()
	if int64(len(body)) > limit {
		http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
		return
	}

	// Step 3: build the mutable envelope.
	env := newEnvelope(r, body)

	// Step 4: pre-input hook chain.
	if env.JSON != nil {
		next, err := p.opts.Hooks.RunChain(r.Context(), hooks.EventPreInput, env.JSON)
		if blockErr, ok := err.(*hooks.BlockError); ok {
			p.broadcast(dashboard.Event{Kind: dashboard.EventRequestBlocked, Path: env.Path, Detail: blockErr.Reason, Timestamp: time.Now()})
			writeBlocked(w, env, blockErr.Reason)
			return
		}
		env.JSON = next
	}

	// Step 5: slash-command resolver on the latest user message.
	if env.JSON != nil {
		p.resolveSlashCommands(env)
	}

	// Step 6: tool_outputs snapshot (Cerebras debugging callback).
	if p.opts.ReqLog != nil && reqlog.IsToolOutputsCallback(env.Path) {
		p.opts.ReqLog.RecordToolOutputs(env.Path, env.Body, env.Headers)
	}

	// Step 7: payload transform.
	if p.opts.TransformEnabled && env.JSON != nil {
		p.transform(env)
	}

	// Step 8: re-serialise the body, recompute content-length.
	outBody := env.Body
	if env.JSON != nil {
		if marshaled, err := json.Marshal(env.JSON); err == nil {
			outBody = marshaled
		}
	}

	if p.opts.ReqLog != nil && reqlog.ShouldLog(env.Path) {
		p.opts.ReqLog.Write(reqlog.Snapshot{
			Branch:       reqlog.CurrentBranch(p.opts.BranchDir),
			Path:         env.Path,
			Method:       env.Method,
			RequestBody:  outBody,
			Instructions: reqlog.ExtractInstructions(outBody),
		})
	}

	// Step 9: call upstream transport.
	upstreamURL := p.opts.UpstreamBaseURL + env.Path
	if env.Query != "" {
		upstreamURL += "?" + env.Query
	}
	resp, err := p.opts.Transport.Forward(r.Context(), env.Method, upstreamURL, env.Headers, outBody)
	if err != nil {
		slog.Error("upstream request failed", "path", env.Path, "error", err)
		p.opts.Metrics.RecordSuccess(metrics.KindCoordinationOverhead, msSince(t0), false)
		p.broadcast(dashboard.Event{Kind: dashboard.EventRequestError, Path: env.Path, Detail: err.Error(), Timestamp: time.Now()})
		http.Error(w, "upstream request failed", http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	transport.CopyResponseHeaders(w.Header(), resp.Header)
	w.Header().Del("Content-Length")
	w.WriteHeader(resp.StatusCode)

	// Step 11: header-only post-output hook chain (no body access, to
	// preserve streaming semantics).
	if env.JSON != nil {
		headerPayload := map[string]any{"status": resp.StatusCode, "headers": headerSummary(resp.Header)}
		p.opts.Hooks.RunChain(r.Context(), hooks.EventPostOutput, headerPayload)
	}

	// Step 10 & 12: colourise and stream, cancelling promptly on client
	// disconnect.
	p.streamResponse(r.Context(), w, resp.Body, t0, env.Path)
}

// streamResponse copies body to w through the colouriser a chunk at a
// time, recording a terminal metric event and dashboard notification for
// exactly one of: clean completion, an upstream read error, or a client
// disconnect (spec.md §4.7 step 12, §5 "Cancellation").
func (p *Pipeline) streamResponse(ctx context.Context, w http.ResponseWriter, body io.Reader, t0 time.Time, path string) {
	flusher, _ := w.(http.Flusher)
	colourer := colorize.New()
	buf := make([]byte, 32*1024)
	var streamErr error

readLoop:
	for {
		select {
		case <-ctx.Done():
			p.opts.Metrics.Record(metrics.KindCoordinationOverhead, msSince(t0), map[string]any{"cancelled": true})
			p.broadcast(dashboard.Event{Kind: dashboard.EventRequestError, Path: path, Detail: "client disconnected", LatencyMs: msSince(t0), Timestamp: time.Now()})
			return
		default:
		}

		n, err := body.Read(buf)
		if n > 0 {
			out := colourer.Feed(buf[:n])
			if len(out) > 0 {
				w.Write(out)
				if flusher != nil {
					flusher.Flush()
				}
			}
		}
		if err != nil {
			if err != io.EOF {
				streamErr = err
				w.Write(transport.ErrorEvent("UPSTREAM_ERROR", err.Error()))
				if flusher != nil {
					flusher.Flush()
				}
			}
			break readLoop
		}
	}

	if tail := colourer.Close(); len(tail) > 0 {
		w.Write(tail)
		if flusher != nil {
			flusher.Flush()
		}
	}

	if streamErr != nil {
		p.opts.Metrics.RecordSuccess(metrics.KindCoordinationOverhead, msSince(t0), false)
		p.broadcast(dashboard.Event{Kind: dashboard.EventRequestError, Path: path, Detail: streamErr.Error(), LatencyMs: msSince(t0), Timestamp: time.Now()})
		return
	}

	p.opts.Metrics.RecordSuccess(metrics.KindCoordinationOverhead, msSince(t0), true)
	p.broadcast(dashboard.Event{Kind: dashboard.EventRequestFinish, Path: path, LatencyMs: msSince(t0), Timestamp: time.Now()})
}

// broadcast is a nil-safe forward to the optional dashboard.
func (p *Pipeline) broadcast(e dashboard.Event) {
	if p.opts.Dashboard != nil {
		p.opts.Dashboard.Broadcast(e)
	}
}

func (p *Pipeline) resolveSlashCommands(env *Envelope) {
	text := latestUserMessageText(env.JSON)
	if text == "" || slashcmd.IsStatusLine(text) {
		return
	}
	invocations := slashcmd.Detect(text)
	if len(invocations) == 0 {
		return
	}
	resolved := p.opts.SlashCmd.Resolve(invocations)
	directive := slashcmd.BuildDirective(resolved)
	injectDirective(env, directive)
}

func (p *Pipeline) transform(env *Envelope) {
	raw, err := json.Marshal(env.JSON)
	if err != nil {
		return
	}
	parsedEnv, err := dialect.Parse(raw)
	if err != nil {
		return
	}
	out := dialect.ToChatCompletions(parsedEnv, p.opts.TransformOpts)
	data, err := json.Marshal(out)
	if err != nil {
		return
	}
	var m map[string]any
	if json.Unmarshal(data, &m) == nil {
		env.JSON = m
	}
}

func msSince(t0 time.Time) float64 {
	return float64(time.Since(t0).Microseconds()) / 1000.0
}

// writeBlocked surfaces a HookBlock outcome (spec.md §7): a structured
// `{error:{code:"BLOCKED_BY_HOOK", reason}}` body, as an SSE event when
// the inbound request asked for a streamed response and as plain JSON
// otherwise.
func writeBlocked(w http.ResponseWriter, env *Envelope, reason string) {
	streaming, _ := env.JSON["stream"].(bool)
	if streaming {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusForbidden)
		w.Write(transport.ErrorEvent("BLOCKED_BY_HOOK", reason))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusForbidden)
	data, _ := json.Marshal(map[string]any{
		"error": map[string]string{"code": "BLOCKED_BY_HOOK", "reason": reason},
	})
	w.Write(data)
}

func headerSummary(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k := range h {
		out[k] = h.Get(k)
	}
	return out
}

// latestUserMessageText extracts the text of the most recent user
// message from either dialect's request shape, for slash-command
// detection (spec.md §4.3: "the latest user message only").
func latestUserMessageText(payload map[string]any) string {
	if messages, ok := payload["messages"].([]any); ok {
		for i := len(messages) - 1; i >= 0; i-- {
			msg, ok := messages[i].(map[string]any)
			if !ok || msg["role"] != "user" {
				continue
			}
			if text, ok := msg["content"].(string); ok {
				return text
			}
		}
	}
	if input, ok := payload["input"].([]any); ok {
		for i := len(input) - 1; i >= 0; i-- {
			item, ok := input[i].(map[string]any)
			if !ok || item["role"] != "user" {
				continue
			}
			parts, ok := item["content"].([]any)
			if !ok {
				continue
			}
			var b strings.Builder
			for _, partRaw := range parts {
				part, ok := partRaw.(map[string]any)
				if !ok {
					continue
				}
				if text, ok := part["text"].(string); ok {
					b.WriteString(text)
				}
			}
			return b.String()
		}
	}
	return ""
}

func injectDirective(env *Envelope, directive string) {
	if messages, ok := env.JSON["messages"].([]any); ok {
		msg := slashcmd.InjectChatCompletionsDialect(directive)
		m := map[string]any{"role": msg.Role, "content": msg.Content}
		env.JSON["messages"] = append([]any{m}, messages...)
		return
	}
	if input, ok := env.JSON["input"].([]any); ok {
		for i := len(input) - 1; i >= 0; i-- {
			item, ok := input[i].(map[string]any)
			if !ok || item["role"] != "user" {
				continue
			}
			parts, ok := item["content"].([]any)
			if !ok || len(parts) == 0 {
				continue
			}
			last, ok := parts[len(parts)-1].(map[string]any)
			if !ok {
				continue
			}
			if text, ok := last["text"].(string); ok {
				last["text"] = slashcmd.InjectResponsesDialect(directive, text)
			}
			return
		}
	}
}
