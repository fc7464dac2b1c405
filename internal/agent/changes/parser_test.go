package changes

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleEditOutput = `Edit src/components/Button.tsx:
@@ -1,3 +1,3 @@
 function Button() {
-  return <button>Old</button>;
+  return <button>New</button>;
 }
Do you want to make this edit? (y/n)`

func TestParser_ParseEditProposal(t *testing.T) {
	p := NewParser()

	proposal := p.Parse(sampleEditOutput)
	require.NotNil(t, proposal)

	assert.Equal(t, "src/components/Button.tsx", proposal.FilePath)
	assert.Equal(t, "function Button() {\n  return <button>Old</button>;\n}", proposal.Before)
	assert.Equal(t, "function Button() {\n  return <button>New</button>;\n}", proposal.After)
}

func TestParser_NoPromptReturnsNil(t *testing.T) {
	p := NewParser()

	assert.Nil(t, p.Parse("just some agent prose with no edit"))
	assert.Nil(t, p.Parse("@@ -1 +1 @@\n-old\n+new"))
}

func TestParser_PromptWithoutFilePathReturnsNil(t *testing.T) {
	p := NewParser()

	out := "@@ -1 +1 @@\n-old\n+new\nDo you want to make this edit? (y/n)"
	assert.Nil(t, p.Parse(out))
}

func TestParser_FallbackDiffHeaderPath(t *testing.T) {
	p := NewParser()

	out := `--- src/main.go
+++ src/main.go
@@ -1 +1 @@
-fmt.Println("old")
+fmt.Println("new")
Do you want to make this edit?`

	proposal := p.Parse(out)
	require.NotNil(t, proposal)
	assert.Equal(t, "src/main.go", proposal.FilePath)
	assert.Equal(t, `fmt.Println("old")`, proposal.Before)
	assert.Equal(t, `fmt.Println("new")`, proposal.After)
}

func TestParser_SkipsNoNewlineMarker(t *testing.T) {
	p := NewParser()

	out := "Edit a.txt:\n@@ -1 +1 @@\n-old\n\\ No newline at end of file\n+new\nDo you want to make this edit?"

	proposal := p.Parse(out)
	require.NotNil(t, proposal)
	assert.Equal(t, "old", proposal.Before)
	assert.Equal(t, "new", proposal.After)
}

func TestParser_HasConfirmationPrompt(t *testing.T) {
	p := NewParser()

	assert.True(t, p.HasConfirmationPrompt("Do you want to make this edit?"))
	assert.True(t, p.HasConfirmationPrompt("continue? (y/n)"))
	assert.True(t, p.HasConfirmationPrompt("Accept this change?"))
	assert.False(t, p.HasConfirmationPrompt("plain output"))
}
