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

	for _, name := range []string{"serve", "export"} {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "rag-eval", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestServeCommand_Flags(t *testing.T) {
	flag := serveCmd.Flags().Lookup("port")
	require.NotNil(t, flag, "serve command should have --port flag")
	assert.Equal(t, "0", flag.DefValue)

	require.NotNil(t, serveCmd.Flags().Lookup("secure-cookie"))
}

func TestExportCommand_Flags(t *testing.T) {
	for name, def := range map[string]string{
		"examiner": "All",
		"model":    "All",
		"output":   "filtered_eamr_eval_log.xlsx",
	} {
		flag := exportCmd.Flags().Lookup(name)
		require.NotNil(t, flag, "export should have --%s flag", name)
		assert.Equal(t, def, flag.DefValue)
	}
	assert.Equal(t, "o", exportCmd.Flags().Lookup("output").Shorthand)
}
