package colorize

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Reset is the ANSI sequence that ends a colour run.
const Reset = "\x1b[0m"

var ansiPattern = regexp.MustCompile(`(?:\x1b|\\u001b)\[[0-9;]*m`)

// StripANSI removes ANSI escape codes, keeping the raw content — used by
// the testable property that colourised output deep-equals the input once
// stripped (spec.md §8). Both the raw ESC byte and its JSON-escaped
// `\u001b` form are removed, since re-serialised SSE data carries the
// latter.
func StripANSI(text string) string {
	return ansiPattern.ReplaceAllString(text, "")
}

func rgbEscape(r, g, b int) string {
	return fmt.Sprintf("\x1b[38;2;%d;%d;%dm", r, g, b)
}

func hexToANSI(hex string) string {
	hex = strings.TrimPrefix(strings.TrimSpace(hex), "#")
	r, _ := strconv.ParseInt(hex[0:2], 16, 0)
	g, _ := strconv.ParseInt(hex[2:4], 16, 0)
	b, _ := strconv.ParseInt(hex[4:6], 16, 0)
	return rgbEscape(int(r), int(g), int(b))
}

// roleHex is the Claude Code CLI brand palette: lavender for the
// assistant, cyan for the user, amber for tools, mint for observations,
// soft red for errors (spec.md §4.5).
var roleHex = map[string]string{
	"assistant":       "#BDA6FF",
	"assistant_label": "#E4D9FF",
	"user":            "#6CD9FF",
	"user_label":      "#B4F0FF",
	"system":          "#93A1AD",
	"developer":       "#FF8BC0",
	"tool":            "#F5B971",
	"function":        "#F5B971",
	"tool_result":     "#7FE3AE",
	"observation":     "#7FE3AE",
	"error":           "#FF7A7A",
}

// Palette maps role names to their 24-bit ANSI escape sequence.
var Palette = buildPalette()

func buildPalette() map[string]string {
	p := make(map[string]string, len(roleHex))
	for role, hex := range roleHex {
		p[role] = hexToANSI(hex)
	}
	return p
}

// ColorFor returns the ANSI colour for role, falling back to the assistant
// colour for unknown roles (spec.md §4.5: "Unknown role falls back to the
// assistant colour").
func ColorFor(role string) string {
	if c, ok := Palette[role]; ok {
		return c
	}
	return Palette["assistant"]
}

// Apply wraps text in colour, guarding against double-wrapping already
// coloured text and always appending Reset (spec.md §4.5 Guards).
func Apply(text, color string) string {
	if text == "" || strings.Contains(text, "\x1b[") {
		return text
	}
	return color + text + Reset
}
