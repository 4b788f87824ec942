// Package slashcmd detects "/name args" tokens in the latest user message
// and resolves them against a precedence-ordered list of command
// directories, synthesizing an execution-directive system message
// (spec.md §4.3).
package slashcmd

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// tokenPattern matches a slash command and its trailing argument string.
// Captures: (1) the command name, (2) the argument string (without the
// leading whitespace). The argument string ends on a non-space character,
// so the whitespace before a following "/name" is left to start the next
// match.
var tokenPattern = regexp.MustCompile(`(?:^|\s)/([A-Za-z0-9_-]+)(?:\s+([^\n/]*[^\s/]))?`)

// Invocation is one detected "/name args" token.
type Invocation struct {
	Name string
	Args string
}

// Resolved pairs an invocation with its resolved definition file, if any.
type Resolved struct {
	Invocation
	SourcePath string // empty when unresolved
	Preview    string // first ~100 chars of the definition file body
}

// Detect scans text (expected to be the latest user message only — spec.md
// §4.3: "not across the entire conversation") for slash-command tokens.
func Detect(text string) []Invocation {
	matches := tokenPattern.FindAllStringSubmatch(text, -1)
	invocations := make([]Invocation, 0, len(matches))
	for _, m := range matches {
		invocations = append(invocations, Invocation{
			Name: m[1],
			Args: strings.TrimSpace(m[2]),
		})
	}
	return invocations
}

// Resolver resolves slash-command names to definition files across a
// precedence-ordered list of directories.
type Resolver struct {
	Directories []string
}

// NewResolver builds a resolver over the given precedence-ordered
// directories (spec.md §6: project .codexplus/commands, project
// .claude/commands, user-home equivalents, in that order).
func NewResolver(directories []string) *Resolver {
	return &Resolver{Directories: directories}
}

// Resolve looks up each invocation's "<name>.md" file across the
// directories in order, returning the first match. An unresolved name
// keeps SourcePath empty (spec.md §4.3: "else unresolved").
func (r *Resolver) Resolve(invocations []Invocation) []Resolved {
	out := make([]Resolved, 0, len(invocations))
	for _, inv := range invocations {
		resolved := Resolved{Invocation: inv}
		for _, dir := range r.Directories {
			path := filepath.Join(dir, inv.Name+".md")
			data, err := os.ReadFile(path)
			if err != nil {
				continue
			}
			resolved.SourcePath = path
			resolved.Preview = preview(string(data), 100)
			break
		}
		out = append(out, resolved)
	}
	return out
}

func preview(body string, maxLen int) string {
	body = strings.TrimSpace(body)
	if len(body) <= maxLen {
		return body
	}
	return body[:maxLen]
}

// BuildDirective synthesizes the single system-message directive text for
// one or more resolved invocations (spec.md §4.3). Multiple distinct
// commands in one message are all enumerated in one directive.
func BuildDirective(resolved []Resolved) string {
	var b strings.Builder
	b.WriteString("You are a slash-command interpreter. Execute the following command(s) rather than describing them. Format output as the command would naturally (code blocks, diffs, git-style logs where applicable).\n\n")

	for _, r := range resolved {
		if r.SourcePath != "" {
			fmt.Fprintf(&b, "- /%s %s (defined at %s): %s\n", r.Name, r.Args, r.SourcePath, r.Preview)
		} else {
			fmt.Fprintf(&b, "- /%s %s (no definition found; interpret and execute this command with the given args)\n", r.Name, r.Args)
		}
	}

	return b.String()
}

// StatusLineMarker is prepended by hooks that inject non-user content
// (e.g. a status line) into the chat-completions user-message stream.
// The pipeline checks IsStatusLine and skips Detect for text carrying this
// marker, so hook-injected content is never mistaken for user-entered
// slash commands (spec.md §4.3 edge case, §9 open question).
const StatusLineMarker = "\x00codexplus-status-line\x00"

// IsStatusLine reports whether text was injected by a hook rather than
// typed by the user.
func IsStatusLine(text string) bool {
	return strings.Contains(text, StatusLineMarker)
}
