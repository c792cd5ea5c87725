package report

import (
	"regexp"
	"strings"
)

// fileToolNames lists the host CLI's built-in file-manipulation tools,
// matching the tool names used by execintercept's PostToolUse capture.
var fileToolNames = map[string]bool{
	"Read": true, "Write": true, "Edit": true, "MultiEdit": true,
	"Glob": true, "Grep": true, "NotebookEdit": true,
}

// testCommandPattern flags a Bash-style tool invocation as a test run when
// its input carries a recognizable test-runner invocation. This and the
// tool-name substring check below resolve spec's undefined file/test
// bucketing rule (see DESIGN.md's Open Question decisions).
var testCommandPattern = regexp.MustCompile(`(?i)\b(go test|pytest|py\.test|jest|npm (run )?test|yarn test|cargo test|mvn test|rspec|dotnet test)\b`)

// categorize derives a span's display category from its name and
// attributes, per the rules in spec's Data Model: api spans are CLIENT-kind
// AI-provider calls, hook spans carry hook.event/hook.command, tool spans
// carry tool.duration.ms. file/test are a further split of the tool bucket.
func categorize(name string, attrs map[string]any) Category {
	if _, ok := attrs["ai.model"]; ok {
		return CategoryAPI
	}
	if strings.HasPrefix(name, "api.") {
		return CategoryAPI
	}

	if _, ok := attrs["hook.event"]; ok {
		return CategoryHook
	}
	if _, ok := attrs["hook.command"]; ok {
		return CategoryHook
	}
	if strings.HasPrefix(name, "Hook: ") {
		return CategoryHook
	}

	if _, ok := attrs["tool.duration.ms"]; ok {
		toolName, _ := attrs["tool.name"].(string)
		if fileToolNames[toolName] {
			return CategoryFile
		}
		if strings.Contains(strings.ToLower(toolName), "test") {
			return CategoryTest
		}
		if input, ok := attrs["tool.input"].(string); ok && testCommandPattern.MatchString(input) {
			return CategoryTest
		}
		return CategoryTool
	}

	return CategoryOther
}
