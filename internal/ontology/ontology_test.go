package ontology

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultPreservesDeclarationOrder(t *testing.T) {
	o := Default()
	assert.Equal(t, []string{"project", "budget", "calendar", "task", "message", "search"}, o.Names())
	budget, ok := o.Lookup("budget")
	require.True(t, ok)
	assert.NotNil(t, budget.ActionKeywords)
	assert.Empty(t, budget.ActionKeywords)
	task, ok := o.Lookup("task")
	require.True(t, ok)
	assert.Nil(t, task.ActionKeywords)
	assert.Contains(t, o.InfoKeywords, "what")
	assert.Contains(t, o.ActionKeywords, "build")
}

func TestParseSequenceForm(t *testing.T) {
	o, err := Parse([]byte(`
domains:
  zeta: [z, last]
  alpha: [a]
info_keywords: [what]
action_keywords: [do]
`))
	require.NoError(t, err)
	assert.Equal(t, []string{"zeta", "alpha"}, o.Names())
	d, _ := o.Lookup("zeta")
	assert.Equal(t, []string{"z", "last"}, d.Aliases)
}

func TestParseZeroDomains(t *testing.T) {
	o, err := Parse([]byte("domains: {}\n"))
	require.NoError(t, err)
	assert.Empty(t, o.Domains)
}

func TestParseErrors(t *testing.T) {
	cases := map[string]string{
		"malformed":    "domains: [\n",
		"empty":        "",
		"no domains":   "info_keywords: [what]\n",
		"bad domains":  "domains: [a, b]\n",
		"bad aliases":  "domains:\n  a: 3\n",
		"reserved":     "domains:\n  unresolved: [x]\n",
		"unknown key":  "domains: {}\nsynonyms: []\n",
		"bad keywords": "domains: {}\ninfo_keywords: what\n",
	}
	for name, doc := range cases {
		_, err := Parse([]byte(doc))
		assert.Error(t, err, name)
	}
}

func TestLoad(t *testing.T) {
	o, err := Load("")
	require.NoError(t, err)
	assert.NotEmpty(t, o.Domains)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yml"))
	require.Error(t, err)

	path := filepath.Join(t.TempDir(), "ontology.yml")
	require.NoError(t, os.WriteFile(path, []byte("domains:\n  weather: [forecast, rain]\n"), 0o644))
	o, err = Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"weather"}, o.Names())
}
