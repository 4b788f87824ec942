package hooks

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// frontMatter is the metadata a hook file declares about itself, in either
// front-matter form (spec.md §4.2).
type frontMatter struct {
	Name     string `yaml:"name"`
	Type     string `yaml:"type"`
	Priority int    `yaml:"priority"`
	Enabled  *bool  `yaml:"enabled"`
}

// parseFrontMatter reads a hook file's metadata. It recognises two forms:
//
//   - YAML form: a "---\n...\n---" header preceding the body.
//   - Shebang-comment form: "# name: ...", "# type: ...", "# priority: ...",
//     "# enabled: ..." comment lines near the top of the file.
//
// A file with neither recognisable form returns an error so the caller can
// drop the descriptor (spec.md §7 HookLoad: "malformed front-matter ...
// descriptor dropped, logged, process continues").
func parseFrontMatter(path string) (frontMatter, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return frontMatter{}, fmt.Errorf("reading %s: %w", path, err)
	}

	text := string(data)
	if fm, ok, err := parseYAMLFrontMatter(text); ok {
		return fm, err
	}

	return parseShebangFrontMatter(text)
}

func parseYAMLFrontMatter(text string) (frontMatter, bool, error) {
	lines := strings.SplitN(text, "\n", -1)
	if len(lines) == 0 || strings.TrimSpace(lines[0]) != "---" {
		return frontMatter{}, false, nil
	}

	var body strings.Builder
	closed := false
	for _, line := range lines[1:] {
		if strings.TrimSpace(line) == "---" {
			closed = true
			break
		}
		body.WriteString(line)
		body.WriteByte('\n')
	}
	if !closed {
		return frontMatter{}, true, fmt.Errorf("unterminated YAML front matter")
	}

	var fm frontMatter
	if err := yaml.Unmarshal([]byte(body.String()), &fm); err != nil {
		return frontMatter{}, true, fmt.Errorf("parsing YAML front matter: %w", err)
	}
	if fm.Name == "" {
		return frontMatter{}, true, fmt.Errorf("front matter missing name")
	}
	if fm.Enabled == nil {
		enabled := true
		fm.Enabled = &enabled
	}
	return fm, true, nil
}

// parseShebangFrontMatter scans leading comment lines of the form
// "# key: value" (optionally after a shebang line) for name/type/priority/
// enabled fields.
func parseShebangFrontMatter(text string) (frontMatter, error) {
	fm := frontMatter{}
	enabled := true
	found := map[string]bool{}

	scanner := bufio.NewScanner(strings.NewReader(text))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "#!") {
			continue
		}
		if !strings.HasPrefix(line, "#") {
			break
		}
		line = strings.TrimSpace(strings.TrimPrefix(line, "#"))
		key, val, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		key = strings.TrimSpace(strings.ToLower(key))
		val = strings.TrimSpace(val)
		switch key {
		case "name":
			fm.Name = val
			found["name"] = true
		case "type":
			fm.Type = val
			found["type"] = true
		case "priority":
			p, err := strconv.Atoi(val)
			if err != nil {
				return frontMatter{}, fmt.Errorf("invalid priority %q: %w", val, err)
			}
			fm.Priority = p
			found["priority"] = true
		case "enabled":
			enabled = strings.EqualFold(val, "true")
			found["enabled"] = true
		}
	}

	if !found["name"] {
		return frontMatter{}, fmt.Errorf("shebang front matter missing name: comment line")
	}
	fm.Enabled = &enabled
	return fm, nil
}
