package registry

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_Defaults(t *testing.T) {
	r := New()

	role, ok := r.Get("dev")
	require.True(t, ok)
	assert.Equal(t, "dev", role.Name)

	roles := r.List()
	assert.Len(t, roles, 3)
	assert.Equal(t, "dev", roles[0].Name)
}

func TestRegistry_LoadFileMergesAndOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "roles.yaml")
	content := `roles:
  - name: dev
    description: Custom dev preset
    patterns:
      - "src/**"
  - name: tester
    description: Writes tests
    patterns:
      - "**/*_test.go"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	r := New()
	require.NoError(t, r.LoadFile(path))

	dev, ok := r.Get("dev")
	require.True(t, ok)
	assert.Equal(t, "Custom dev preset", dev.Description)
	assert.Equal(t, []string{"src/**"}, dev.Patterns)

	tester, ok := r.Get("tester")
	require.True(t, ok)
	assert.Equal(t, "Writes tests", tester.Description)

	// Overriding keeps the original position; new roles append
	roles := r.List()
	assert.Equal(t, "dev", roles[0].Name)
	assert.Equal(t, "tester", roles[len(roles)-1].Name)
}

func TestRegistry_LoadFileRejectsUnnamedRole(t *testing.T) {
	path := filepath.Join(t.TempDir(), "roles.yaml")
	require.NoError(t, os.WriteFile(path, []byte("roles:\n  - description: nameless\n"), 0o644))

	r := New()
	assert.Error(t, r.LoadFile(path))
}

func TestRegistry_LoadFileMissing(t *testing.T) {
	r := New()
	assert.Error(t, r.LoadFile("/no/such/file.yaml"))
}
