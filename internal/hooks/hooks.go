// Package hooks discovers extension scripts on disk, orders them by event
// type and priority, and runs them as a priority-ordered chain with
// per-hook failure isolation (spec.md §4.2).
package hooks

import "sort"

// EventType identifies the pipeline moment a hook fires at.
type EventType string

const (
	EventPreInput         EventType = "pre-input"
	EventPostOutput       EventType = "post-output"
	EventPreToolUse       EventType = "pre-tool-use"
	EventPostToolUse      EventType = "post-tool-use"
	EventUserPromptSubmit EventType = "user-prompt-submit"
	EventNotification     EventType = "notification"
	EventStop             EventType = "stop"
	EventSessionStart     EventType = "session-start"
	EventSessionEnd       EventType = "session-end"
	EventPreCompact       EventType = "pre-compact"
)

// blockingEvents short-circuit the chain on subprocess exit code 2
// (spec.md §4.2: "for a blocking event type ... short-circuit").
var blockingEvents = map[EventType]bool{
	EventPreToolUse:       true,
	EventUserPromptSubmit: true,
}

// IsBlocking reports whether a hook exit code 2 on this event type should
// short-circuit the chain with a structured block decision.
func IsBlocking(e EventType) bool {
	return blockingEvents[e]
}

// Invoker is how a hook's body is executed.
type Invoker int

const (
	InvokerSubprocess Invoker = iota
	InvokerInProcess
)

// Descriptor is one discovered hook (spec.md §3 Hook Descriptor).
type Descriptor struct {
	Name       string
	EventType  EventType
	Priority   int
	Enabled    bool
	SourcePath string
	Invoker    Invoker
}

// sortDescriptors orders descriptors by (priority asc, source_path asc),
// the total order spec.md §3 requires within one event type.
func sortDescriptors(descs []Descriptor) {
	sort.SliceStable(descs, func(i, j int) bool {
		if descs[i].Priority != descs[j].Priority {
			return descs[i].Priority < descs[j].Priority
		}
		return descs[i].SourcePath < descs[j].SourcePath
	})
}
