package intent

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultCatalog(t *testing.T) {
	c := DefaultCatalog()

	labels := c.Labels()
	assert.Contains(t, labels, "lights.control")
	assert.Contains(t, labels, "conversational")
	assert.Contains(t, labels, "memory.recall")

	spec, ok := c.Lookup("timer.set")
	require.True(t, ok)
	assert.True(t, spec.SideEffect)
	assert.Equal(t, "timer.cancel", spec.Rollback)
	assert.Equal(t, "timer.create", spec.Tool)
	assert.False(t, spec.IsQuery())

	spec, ok = c.Lookup("list.query")
	require.True(t, ok)
	assert.True(t, spec.IsQuery())

	_, ok = c.Lookup("nope")
	assert.False(t, ok)
}

func TestCatalogSubsystems(t *testing.T) {
	c := DefaultCatalog()

	assert.Equal(t, []string{"smart_home", "music"}, c.Subsystems("turn on the lights and play music"))
	assert.Equal(t, []string{"lists"}, c.Subsystems("what is on my shopping list"))
	assert.Empty(t, c.Subsystems("tell me a joke"))
}

func TestParseCatalogErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"bad regex", "intents:\n  - name: a\n    patterns: ['(']\n", "invalid pattern"},
		{"duplicate", "intents:\n  - name: a\n  - name: a\n", "duplicate intent"},
		{"missing name", "intents:\n  - subsystem: x\n", "without name"},
		{"not yaml", "intents: [", "decode"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseCatalog(strings.NewReader(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadCatalogFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
intents:
  - name: garage.open
    subsystem: garage
    tool: garage.open_door
    side_effect: true
    rollback: garage.close_door
    patterns: ['^open the garage$']
    keywords: {garage: 2}
  - name: conversational
`), 0o600))

	c, err := LoadCatalog(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"garage.open", "conversational"}, c.Labels())

	cand, ok, err := NewPatternStrategy(c).Match("open the garage")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "garage.open", cand.Intent)

	_, err = LoadCatalog(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	def, err := LoadCatalog("")
	require.NoError(t, err)
	assert.NotEmpty(t, def.Labels())
}
