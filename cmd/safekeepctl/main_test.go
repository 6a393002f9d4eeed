package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/oddbit-project/safekeep/compliance"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// resetFlags restores flag variables between Execute calls
func resetFlags() {
	configPath = ""
	verbose = false
	protectFile = ""
	revealOut = ""
	exportFormat = compliance.FormatJSON
	exportSections = nil
	exportOut = ""
	eraseCategories = []string{compliance.CategoryAll}
	eraseReason = ""
	eraseYes = false
	alertsAll = false
	watchUnlock = false
	docUnset = nil
}

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	resetFlags()
	out := &bytes.Buffer{}
	rootCmd.SetArgs(args)
	rootCmd.SetIn(strings.NewReader(stdin))
	rootCmd.SetOut(out)
	rootCmd.SetErr(out)
	err := rootCmd.Execute()
	return out.String(), err
}

func vaultConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "safekeep.yaml")
	doc := "log:\n  level: error\nstorage:\n  driver: sqlite\n  sqlite:\n    path: " + filepath.Join(dir, "vault.db") + "\n"
	require.NoError(t, os.WriteFile(path, []byte(doc), 0600))
	return path
}

func TestCommandTree(t *testing.T) {
	for _, path := range [][]string{
		{"init"}, {"passwd"}, {"status"}, {"protect"}, {"reveal"}, {"list"},
		{"export"}, {"report"}, {"erase"},
		{"consent", "list"}, {"consent", "grant"}, {"consent", "revoke"},
		{"alerts"}, {"alerts", "resolve"},
		{"devices"}, {"devices", "approve"}, {"devices", "forget"},
		{"doc", "show"}, {"doc", "save"}, {"doc", "fix"},
		{"watch"},
	} {
		cmd, _, err := rootCmd.Find(path)
		require.NoError(t, err, path)
		assert.Equal(t, path[len(path)-1], cmd.Name())
	}
}

func TestParseFields(t *testing.T) {
	fields, err := parseFields([]string{"name=Ana", "age=41", "donor=true", "note=a=b"})
	require.NoError(t, err)
	assert.Equal(t, "Ana", fields["name"])
	assert.Equal(t, float64(41), fields["age"])
	assert.Equal(t, true, fields["donor"])
	assert.Equal(t, "a=b", fields["note"])

	_, err = parseFields([]string{"novalue"})
	assert.Error(t, err)
	_, err = parseFields([]string{"=x"})
	assert.Error(t, err)
}

func TestVaultLifecycle(t *testing.T) {
	cfg := vaultConfig(t)
	t.Setenv("NO_COLOR", "1")
	t.Setenv(secretEnv, "Tr0ub4dor&3xyz")

	out, err := execute(t, "", "status", "--config", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, "uninitialized")

	_, err = execute(t, "", "init", "--config", cfg)
	require.NoError(t, err)

	_, err = execute(t, `{"mood":7}`, "protect", "kitchen", "--config", cfg)
	require.NoError(t, err)

	out, err = execute(t, "", "reveal", "kitchen", "--config", cfg)
	require.NoError(t, err)
	assert.Equal(t, `{"mood":7}`, out)

	out, err = execute(t, "", "list", "--config", cfg)
	require.NoError(t, err)
	assert.Equal(t, "kitchen\n", out)

	_, err = execute(t, "", "doc", "save", "health", "allergies=pollen", "--config", cfg)
	assert.ErrorIs(t, err, compliance.ErrConsentRequired)
	_, err = execute(t, "", "consent", "grant", compliance.ConsentMedicalDataLocal, "--config", cfg)
	require.NoError(t, err)
	_, err = execute(t, "", "doc", "save", "health", "allergies=pollen", "--config", cfg)
	require.NoError(t, err)

	out, err = execute(t, "", "export", "--format", compliance.FormatCSV, "--config", cfg)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "section,item,field,value"))
	assert.Contains(t, out, "pollen")
	assert.NotContains(t, out, "mood")

	_, err = execute(t, "", "erase", "--yes", "--reason", "moving out", "--config", cfg)
	require.NoError(t, err)

	out, err = execute(t, "", "list", "--config", cfg)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestWrongSecretIsRejected(t *testing.T) {
	cfg := vaultConfig(t)
	t.Setenv(secretEnv, "Tr0ub4dor&3xyz")
	_, err := execute(t, "", "init", "--config", cfg)
	require.NoError(t, err)

	t.Setenv(secretEnv, "K7#mPlummox92!")
	_, err = execute(t, "", "reveal", "kitchen", "--config", cfg)
	assert.Error(t, err)
}

func TestEraseAbortsWithoutConfirmation(t *testing.T) {
	cfg := vaultConfig(t)
	t.Setenv(secretEnv, "Tr0ub4dor&3xyz")
	_, err := execute(t, "", "init", "--config", cfg)
	require.NoError(t, err)

	_, err = execute(t, "n\n", "erase", "--config", cfg)
	require.NoError(t, err)

	out, err := execute(t, "", "status", "--config", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, "secret_set")
}
