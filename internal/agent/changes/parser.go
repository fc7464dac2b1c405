// Package changes extracts file-edit proposals from free-form agent output.
// Detection is best effort: it keys off the CLI's edit confirmation prompt
// and a unified-diff block, and returns nothing when either is absent.
package changes

import (
	"regexp"
	"strings"
)

const editPromptMarker = "Do you want to make this edit"

var (
	editLineRe = regexp.MustCompile(`Edit\s+(.+?):`)
	fileLineRe = regexp.MustCompile(`^[+\-]{3}\s+(.+?)$`)
)

// Proposal is a detected file edit awaiting human review.
type Proposal struct {
	FilePath string
	Before   string
	After    string
}

// Parser detects edit proposals in agent output text.
type Parser struct{}

// NewParser creates a proposal parser.
func NewParser() *Parser {
	return &Parser{}
}

// Parse returns the proposal embedded in the output chunk, or nil if the
// chunk does not contain an edit confirmation prompt with a parsable diff.
func (p *Parser) Parse(output string) *Proposal {
	if !strings.Contains(output, editPromptMarker) {
		return nil
	}

	lines := strings.Split(output, "\n")

	filePath := extractFilePath(lines)
	if filePath == "" {
		return nil
	}

	before, after := parseDiffContent(lines)
	return &Proposal{
		FilePath: filePath,
		Before:   before,
		After:    after,
	}
}

// HasConfirmationPrompt reports whether the output chunk contains any of the
// known edit confirmation prompts.
func (p *Parser) HasConfirmationPrompt(output string) bool {
	return strings.Contains(output, editPromptMarker) ||
		strings.Contains(output, "(y/n)") ||
		strings.Contains(output, "Accept this change?")
}

// extractFilePath looks for "Edit path/to/file:" first, then falls back to
// unified-diff file header lines.
func extractFilePath(lines []string) string {
	var fallback string
	for _, line := range lines {
		if m := editLineRe.FindStringSubmatch(line); m != nil {
			return strings.TrimSpace(m[1])
		}
		if fallback == "" {
			if m := fileLineRe.FindStringSubmatch(line); m != nil {
				fallback = strings.TrimSpace(m[1])
			}
		}
	}
	return fallback
}

// parseDiffContent reconstructs before/after text from a unified diff hunk.
func parseDiffContent(lines []string) (string, string) {
	var beforeLines, afterLines []string
	inDiff := false

	for _, line := range lines {
		if strings.HasPrefix(line, "@@") {
			inDiff = true
			continue
		}
		if !inDiff {
			continue
		}
		if strings.Contains(line, editPromptMarker) {
			break
		}

		switch {
		case strings.HasPrefix(line, "-") && !strings.HasPrefix(line, "---"):
			beforeLines = append(beforeLines, line[1:])
		case strings.HasPrefix(line, "+") && !strings.HasPrefix(line, "+++"):
			afterLines = append(afterLines, line[1:])
		case strings.HasPrefix(line, `\`):
			// "\ No newline at end of file" marker, skip
		default:
			text := line
			if strings.HasPrefix(line, " ") {
				text = line[1:]
			}
			beforeLines = append(beforeLines, text)
			afterLines = append(afterLines, text)
		}
	}

	return strings.Join(beforeLines, "\n"), strings.Join(afterLines, "\n")
}
