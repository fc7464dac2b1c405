package runner

import (
	"fmt"
	"unicode/utf8"
)

// initialInstruction builds the system-authored message that opens every
// agent conversation, establishing persona and working directory.
func initialInstruction(cfg Config) string {
	return fmt.Sprintf(
		"You are %s, a %s agent. Your working directory is %s. Please introduce yourself and wait for instructions.",
		cfg.Name, cfg.Role, cfg.WorkDir)
}

// activityNotice renders a human-readable line for a tool invocation so
// observers see agent activity even when no prose is produced.
func activityNotice(toolName string, input map[string]any) string {
	switch toolName {
	case "Read":
		return fmt.Sprintf("[tool] reading file %s", stringInput(input, "file_path"))
	case "Write":
		return fmt.Sprintf("[tool] writing file %s", stringInput(input, "file_path"))
	case "Edit", "MultiEdit":
		return fmt.Sprintf("[tool] editing file %s", stringInput(input, "file_path"))
	case "Bash":
		return fmt.Sprintf("[tool] running command %s", truncate(stringInput(input, "command"), 80))
	case "Grep":
		return fmt.Sprintf("[tool] searching for %q", stringInput(input, "pattern"))
	case "Glob":
		return fmt.Sprintf("[tool] listing files matching %q", stringInput(input, "pattern"))
	case "Task":
		return fmt.Sprintf("[tool] delegating task %s", stringInput(input, "description"))
	default:
		return fmt.Sprintf("[tool] using %s", toolName)
	}
}

func stringInput(input map[string]any, key string) string {
	if input == nil {
		return ""
	}
	if s, ok := input[key].(string); ok {
		return s
	}
	return ""
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
