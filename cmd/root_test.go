package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}

	for _, name := range []string{"classify", "scan", "watch", "sources", "serve", "migrate"} {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "tge-sentinel", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestCommandFlags(t *testing.T) {
	tests := []struct {
		cmd  string
		flag string
		def  string
	}{
		{"scan", "input", "-"},
		{"scan", "output", "-"},
		{"watch", "feeds", ""},
		{"watch", "interval", "0s"},
		{"watch", "once", "false"},
		{"sources", "format", "table"},
		{"sources", "reset", ""},
		{"serve", "port", "0"},
		{"serve", "watch", "false"},
		{"classify", "source", "cli"},
	}
	for _, tt := range tests {
		t.Run(tt.cmd+"/"+tt.flag, func(t *testing.T) {
			cmd, _, err := rootCmd.Find([]string{tt.cmd})
			require.NoError(t, err)
			f := cmd.Flags().Lookup(tt.flag)
			require.NotNil(t, f, "%s should have --%s", tt.cmd, tt.flag)
			assert.Equal(t, tt.def, f.DefValue)
		})
	}
}
