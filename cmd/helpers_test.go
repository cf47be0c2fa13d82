package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/tge-sentinel/internal/config"
)

const (
	calderaTGE = "Caldera is launching their TGE next week. $CAL token will be available for trading."
	noise      = "Bitcoin price analysis for the week ahead, with support and resistance levels."
)

// chdirTemp runs the test in a fresh directory so config.Load and the
// default SQLite DSN resolve there.
func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) }) //nolint:errcheck
	return dir
}

// loadTestConfig loads defaults from a temp directory and points the store
// at a file inside it.
func loadTestConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := chdirTemp(t)
	c, err := config.Load()
	require.NoError(t, err)
	c.Store.DSN = filepath.Join(dir, "state.db")
	return c
}

func newTestEnv(t *testing.T, mode string) *detectorEnv {
	t.Helper()
	c := loadTestConfig(t)
	env, err := initDetector(context.Background(), c, mode)
	require.NoError(t, err)
	t.Cleanup(env.Close)
	return env
}

// execute runs the root command with args and returns stdout.
func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetIn(bytes.NewBufferString(stdin))
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetIn(nil)
		rootCmd.SetArgs(nil)
		resetFlags()
	})
	err := rootCmd.Execute()
	return out.String(), err
}

func writeLines(t *testing.T, path string, lines ...string) {
	t.Helper()
	var buf bytes.Buffer
	for _, l := range lines {
		buf.WriteString(l)
		buf.WriteByte('\n')
	}
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
}

// resetFlags restores every subcommand flag to its default, since flag
// values live in package variables shared across executions.
func resetFlags() {
	for _, c := range rootCmd.Commands() {
		c.Flags().VisitAll(func(f *pflag.Flag) {
			_ = f.Value.Set(f.DefValue)
			f.Changed = false
		})
	}
}
