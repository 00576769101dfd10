package experts

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noEnv(string) string { return "" }

func TestBuild_DefaultsOnly(t *testing.T) {
	registry, err := NewBuilder("", nil).WithEnv(noEnv).Build()

	require.NoError(t, err)
	assert.GreaterOrEqual(t, registry.Len(), 6)

	critic, ok := registry.Get("devils-advocate")
	require.True(t, ok)
	assert.True(t, critic.IsCritic)
	assert.NotEmpty(t, critic.Directive)

	// Snapshot ordering is stable by ID.
	all := registry.All()
	for i := 1; i < len(all); i++ {
		assert.Less(t, all[i-1].ID, all[i].ID)
	}
}

func TestBuild_CatalogOverridesAndExtends(t *testing.T) {
	catalog := `
experts:
  - id: finance-analyst
    model: gpt-4-turbo
    temperature: 0.15
  - id: security-auditor
    name: Nadia Ferro
    title: Security Auditor
    expertise: [security, risk]
    topics: [breach, audit]
    directive: Evaluate exposure.
    provider: openai
    model: gpt-4o
    temperature: 0.3
`
	path := filepath.Join(t.TempDir(), "experts.yaml")
	require.NoError(t, os.WriteFile(path, []byte(catalog), 0o644))

	registry, err := NewBuilder(path, nil).WithEnv(noEnv).Build()
	require.NoError(t, err)

	// Existing entry keeps its defaults except the overridden fields.
	finance, ok := registry.Get("finance-analyst")
	require.True(t, ok)
	assert.Equal(t, "Marcus Chen", finance.Name)
	assert.Equal(t, "gpt-4-turbo", finance.Model)
	assert.InDelta(t, 0.15, finance.Temperature, 1e-9)

	// New entry is added.
	security, ok := registry.Get("security-auditor")
	require.True(t, ok)
	assert.Equal(t, "Nadia Ferro", security.Name)
	assert.Equal(t, []string{"security", "risk"}, security.Expertise)
}

func TestBuild_EnvOverridesWinOverCatalogAndDefaults(t *testing.T) {
	env := map[string]string{
		"PANEL_EXPERT_FINANCE_ANALYST_MODEL":       "local-llama",
		"PANEL_EXPERT_FINANCE_ANALYST_PROVIDER":    "ollama",
		"PANEL_EXPERT_FINANCE_ANALYST_TEMPERATURE": "0.05",
	}
	registry, err := NewBuilder("", nil).
		WithEnv(func(k string) string { return env[k] }).
		Build()
	require.NoError(t, err)

	finance, ok := registry.Get("finance-analyst")
	require.True(t, ok)
	assert.Equal(t, "local-llama", finance.Model)
	assert.Equal(t, "ollama", finance.Provider)
	assert.InDelta(t, 0.05, finance.Temperature, 1e-9)
}

func TestBuild_UnparseableTemperatureOverrideIgnored(t *testing.T) {
	env := map[string]string{
		"PANEL_EXPERT_FINANCE_ANALYST_TEMPERATURE": "hot",
	}
	registry, err := NewBuilder("", nil).
		WithEnv(func(k string) string { return env[k] }).
		Build()
	require.NoError(t, err)

	finance, _ := registry.Get("finance-analyst")
	assert.InDelta(t, 0.3, finance.Temperature, 1e-9) // default preserved
}

func TestBuild_RejectsInvalidCatalogEntry(t *testing.T) {
	catalog := `
experts:
  - name: No ID Provided
    expertise: [misc]
`
	path := filepath.Join(t.TempDir(), "experts.yaml")
	require.NoError(t, os.WriteFile(path, []byte(catalog), 0o644))

	_, err := NewBuilder(path, nil).WithEnv(noEnv).Build()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "without an id")
}

func TestBuild_MissingCatalogFile(t *testing.T) {
	_, err := NewBuilder("/nonexistent/experts.yaml", nil).WithEnv(noEnv).Build()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read expert catalog")
}
