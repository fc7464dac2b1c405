package runner

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestActivityNotice(t *testing.T) {
	assert.Equal(t, "[tool] reading file main.go",
		activityNotice("Read", map[string]any{"file_path": "main.go"}))
	assert.Equal(t, "[tool] editing file main.go",
		activityNotice("Edit", map[string]any{"file_path": "main.go"}))
	assert.Equal(t, `[tool] searching for "func main"`,
		activityNotice("Grep", map[string]any{"pattern": "func main"}))
	assert.Equal(t, "[tool] using WebFetch",
		activityNotice("WebFetch", nil))
}

func TestTruncateKeepsRunesIntact(t *testing.T) {
	short := "echo hello"
	assert.Equal(t, short, truncate(short, 80))

	long := strings.Repeat("x", 100)
	got := truncate(long, 80)
	assert.Equal(t, strings.Repeat("x", 80)+"...", got)

	// A cut that falls inside a multibyte sequence backs up to the rune
	// boundary instead of emitting invalid text.
	multibyte := strings.Repeat("é", 50)
	got = truncate(multibyte, 79)
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, strings.Repeat("é", 39)+"...", got)

	notice := activityNotice("Bash", map[string]any{"command": strings.Repeat("ü", 200)})
	assert.True(t, utf8.ValidString(notice))
}
