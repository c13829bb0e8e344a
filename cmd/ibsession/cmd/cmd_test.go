package cmd

import (
	"bytes"
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/ibsession/config"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestSizeCommand(t *testing.T) {
	out, err := execute(t, "size", "--account", "100000", "--entry", "50", "--stop", "48", "--risk", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "BUY 500 shares @ 50.00, stop 48.00")
	assert.Contains(t, out, "Max loss:       $1000.00")
	assert.Contains(t, out, "2R       54.00")
}

func TestConnectSim(t *testing.T) {
	out, err := execute(t, "connect", "--sim")
	require.NoError(t, err)
	assert.Contains(t, out, "Next order ID: 1000")
	assert.Contains(t, out, "DU1234567")
}

func TestQuoteSim(t *testing.T) {
	out, err := execute(t, "quote", "MSFT", "--sim")
	require.NoError(t, err)
	assert.Contains(t, out, "Last:    410.00")
	assert.Contains(t, out, "ATR(14)")
}

func TestPlaceBracketJournals(t *testing.T) {
	dir := t.TempDir()
	c := config.Default()
	c.Journal = config.JournalConfig{
		Type:       "csv",
		PlansFile:  filepath.Join(dir, "plans.csv"),
		StatusFile: filepath.Join(dir, "status.csv"),
	}
	path := filepath.Join(dir, "ibsession.yaml")
	require.NoError(t, c.SaveToFile(path))

	out, err := execute(t, "place", "AAPL", "--sim", "--config", path,
		"--type", "bracket", "--qty", "10", "--limit", "190", "--stop", "185", "--target", "200")
	require.NoError(t, err)
	assert.Contains(t, out, "✓ Submitted")
	assert.Contains(t, out, "[1000 1001 1002]")

	plans := readRows(t, c.Journal.PlansFile)
	require.Len(t, plans, 2)
	assert.Equal(t, "AAPL", plans[1][2])
	assert.Equal(t, "1000 1001 1002", plans[1][8])

	assert.Len(t, readRows(t, c.Journal.StatusFile), 4)
}

func TestPlaceRejectedByPolicy(t *testing.T) {
	_, err := execute(t, "place", "AAPL", "--sim", "--config", "",
		"--type", "bracket", "--qty", "10", "--limit", "190", "--stop", "185", "--target", "191")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "risk policy rejected")
}

func TestConfigInitAndValidate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.yaml")

	_, err := execute(t, "config", "init", "-o", path)
	require.NoError(t, err)

	out, err := execute(t, "config", "validate", "-f", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Configuration valid")
}

func readRows(t *testing.T, path string) [][]string {
	t.Helper()

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return rows
}
