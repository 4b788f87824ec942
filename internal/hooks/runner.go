package hooks

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os/exec"
	"time"
)

// Builtin is an in-process hook implementation, looked up by descriptor
// name for non-executable hook files (spec.md §4.2's in-process invoker:
// "the body defines a class with an async method matching the event type;
// instantiate once, reuse across events").
type Builtin func(ctx context.Context, payload map[string]any) (map[string]any, error)

// BlockError is returned by a subprocess hook that exits 2 on a blocking
// event type (spec.md §4.2, §7 HookBlock).
type BlockError struct {
	Reason string
}

func (e *BlockError) Error() string { return "blocked: " + e.Reason }

// Runner executes a registry's hook chains with per-hook failure isolation.
type Runner struct {
	registry        *Registry
	builtins        map[string]Builtin
	subprocessTimeout time.Duration
}

// NewRunner builds a Runner over the given registry. builtins maps
// descriptor name to its in-process implementation; a descriptor whose
// Invoker is InvokerInProcess but has no matching builtin is skipped and
// logged (treated as a HookLoad-class failure, not fatal).
func NewRunner(registry *Registry, builtins map[string]Builtin, subprocessTimeout time.Duration) *Runner {
	if subprocessTimeout <= 0 {
		subprocessTimeout = 10 * time.Second
	}
	return &Runner{registry: registry, builtins: builtins, subprocessTimeout: subprocessTimeout}
}

// RunChain runs every enabled descriptor for eventType, in order, against
// payload. Each hook receives the current payload and may return a
// modified one; a failing hook (panic-recovered, non-zero non-2 exit,
// timeout, broken pipe) is logged and the chain continues with the
// prior payload (spec.md §4.2, §7 HookRun). On a *BlockError from a
// blocking event type, the chain stops immediately.
func (r *Runner) RunChain(ctx context.Context, eventType EventType, payload map[string]any) (map[string]any, error) {
	descriptors := r.registry.Descriptors(eventType)
	current := payload

	for _, desc := range descriptors {
		next, err := r.runOne(ctx, desc, current)
		if err != nil {
			var blockErr *BlockError
			if errors.As(err, &blockErr) && IsBlocking(eventType) {
				return current, err
			}
			slog.Warn("hook failed, continuing with prior payload", "hook", desc.Name, "path", desc.SourcePath, "error", err)
			continue
		}
		current = next
	}

	return current, nil
}

func (r *Runner) runOne(ctx context.Context, desc Descriptor, payload map[string]any) (out map[string]any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = errFromPanic(rec)
		}
	}()

	switch desc.Invoker {
	case InvokerInProcess:
		fn, ok := r.builtins[desc.Name]
		if !ok {
			slog.Warn("in-process hook has no builtin, skipping", "hook", desc.Name, "path", desc.SourcePath)
			return payload, nil
		}
		return fn(ctx, payload)
	default:
		return r.runSubprocess(ctx, desc, payload)
	}
}

func errFromPanic(rec any) error {
	if e, ok := rec.(error); ok {
		return e
	}
	return &panicError{rec}
}

type panicError struct{ v any }

func (p *panicError) Error() string { return "hook panicked" }

// runSubprocess invokes desc.SourcePath as an executable: the payload is
// marshaled to its standard input, one JSON object is parsed from its
// standard output, and the exit code is interpreted per spec.md §4.2:
// 0 = allow (stdout is the new payload), 2 = block-with-stderr-as-reason
// on a blocking event type, anything else = HookRun failure.
func (r *Runner) runSubprocess(ctx context.Context, desc Descriptor, payload map[string]any) (map[string]any, error) {
	ctx, cancel := context.WithTimeout(ctx, r.subprocessTimeout)
	defer cancel()

	input, err := json.Marshal(payload)
	if err != nil {
		return payload, err
	}

	cmd := exec.CommandContext(ctx, desc.SourcePath)
	cmd.Stdin = bytes.NewReader(input)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()

	if ctx.Err() != nil {
		return payload, errors.New("hook subprocess timed out, killed")
	}

	if runErr == nil {
		var result map[string]any
		if stdout.Len() == 0 {
			return payload, nil
		}
		if err := json.Unmarshal(stdout.Bytes(), &result); err != nil {
			return payload, err
		}
		return result, nil
	}

	var exitErr *exec.ExitError
	if errors.As(runErr, &exitErr) {
		switch exitErr.ExitCode() {
		case 2:
			return payload, &BlockError{Reason: stderr.String()}
		default:
			return payload, errWithStderr(exitErr, stderr.String())
		}
	}

	// Broken pipe or other exec-level failure: never crash the pipeline.
	if errors.Is(runErr, io.ErrClosedPipe) {
		return payload, errors.New("hook subprocess broken pipe")
	}
	return payload, runErr
}

func errWithStderr(base error, stderr string) error {
	if stderr == "" {
		return base
	}
	return errors.New(base.Error() + ": " + stderr)
}
