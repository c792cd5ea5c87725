package hookrun

import (
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// HookCommand is one user-configured hook command entry.
type HookCommand struct {
	Type    string `json:"type" yaml:"type"`
	Command string `json:"command" yaml:"command"`
	Timeout int    `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// MatcherGroup scopes a set of hook commands to tool invocations whose name
// matches Matcher (a regex; empty matches every tool).
type MatcherGroup struct {
	Matcher string        `json:"matcher,omitempty" yaml:"matcher,omitempty"`
	Hooks   []HookCommand `json:"hooks" yaml:"hooks"`
}

// Settings is the shape of one hook settings file: a map from hook event
// name (PreToolUse, PostToolUse, Stop, SessionStart, ...) to the matcher
// groups registered for it.
type Settings struct {
	Hooks map[string][]MatcherGroup `json:"hooks" yaml:"hooks"`
}

// DiscoverSettingsPaths returns the settings file paths this orchestrator
// reads, in precedence order: user-global, project, project-local. For
// each conventional JSON location it also probes the .yaml/.yml sibling,
// since some hosts let operators author hook settings as YAML instead of
// JSON; whichever of a pair exists is used (JSON wins if both do). Paths
// that don't exist are still returned; LoadSettings treats a missing file
// as "no hooks configured" rather than an error.
func DiscoverSettingsPaths(homeDir, projectDir string) []string {
	var out []string
	addWithYAMLFallback := func(dir, base string) {
		jsonPath := filepath.Join(dir, base+".json")
		if _, err := os.Stat(jsonPath); err == nil {
			out = append(out, jsonPath)
			return
		}
		for _, ext := range []string{".yaml", ".yml"} {
			yamlPath := filepath.Join(dir, base+ext)
			if _, err := os.Stat(yamlPath); err == nil {
				out = append(out, yamlPath)
				return
			}
		}
		out = append(out, jsonPath)
	}

	if homeDir != "" {
		addWithYAMLFallback(filepath.Join(homeDir, ".claude"), "settings")
	}
	if projectDir != "" {
		addWithYAMLFallback(filepath.Join(projectDir, ".claude"), "settings")
		addWithYAMLFallback(filepath.Join(projectDir, ".claude"), "settings.local")
	}
	return out
}

// LoadSettings reads and parses one settings file, dispatching on its
// extension between JSON and YAML. A missing file yields (nil, nil): the
// caller simply has one fewer source of hook commands.
func LoadSettings(path string) (*Settings, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var s Settings
	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(raw, &s); err != nil {
			return nil, err
		}
	default:
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, err
		}
	}
	return &s, nil
}

// toolScopedEvents are the hook events whose matcher groups are filtered by
// tool name; all other events' groups apply unconditionally.
var toolScopedEvents = map[string]bool{
	"PreToolUse":  true,
	"PostToolUse": true,
}

// ResolveCommands walks files in precedence order and returns the
// deduplicated, cycle-guarded set of hook commands registered for
// eventName. For tool-scoped events, only matcher groups whose Matcher
// regex matches toolName are included (an empty Matcher always matches).
// orchestratorSelfPath identifies this binary's own invocation so a
// misconfigured settings file pointing back at the orchestrator doesn't
// recurse.
func ResolveCommands(files []*Settings, eventName, toolName, orchestratorSelfPath string) []HookCommand {
	seen := map[string]bool{}
	var out []HookCommand

	for _, f := range files {
		if f == nil {
			continue
		}
		for _, group := range f.Hooks[eventName] {
			if toolScopedEvents[eventName] && !matcherMatches(group.Matcher, toolName) {
				continue
			}
			for _, cmd := range group.Hooks {
				key := strings.TrimSpace(cmd.Command)
				if key == "" || seen[key] {
					continue
				}
				if orchestratorSelfPath != "" && strings.Contains(key, orchestratorSelfPath) {
					continue
				}
				seen[key] = true
				out = append(out, cmd)
			}
		}
	}
	return out
}

func matcherMatches(matcher, toolName string) bool {
	matcher = strings.TrimSpace(matcher)
	if matcher == "" {
		return true
	}
	re, err := regexp.Compile(matcher)
	if err != nil {
		return false
	}
	return re.MatchString(toolName)
}
