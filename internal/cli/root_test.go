package cli

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runCommand executes the shared root command. Flags left set by an earlier
// run, --help included, are put back to their defaults before and after.
func runCommand(t *testing.T, in io.Reader, args ...string) (string, error) {
	t.Helper()
	cmd := GetRootCmd()
	resetFlags(cmd)
	t.Cleanup(func() {
		resetFlags(cmd)
		cmd.SetIn(nil)
	})

	output := &bytes.Buffer{}
	cmd.SetArgs(args)
	cmd.SetOut(output)
	cmd.SetErr(output)
	cmd.SetIn(in)

	err := cmd.Execute()
	return output.String(), err
}

func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, sub := range cmd.Commands() {
		resetFlags(sub)
	}
}

func TestRootCommand(t *testing.T) {
	t.Run("version flag", func(t *testing.T) {
		output, err := runCommand(t, nil, "--version")
		require.NoError(t, err)

		assert.Contains(t, output, "jobats version")
		assert.Contains(t, output, GetVersion())
	})

	t.Run("help flag", func(t *testing.T) {
		helpText, err := runCommand(t, nil, "--help")
		require.NoError(t, err)

		assert.Contains(t, helpText, "Jobats")
		assert.Contains(t, helpText, "per browser tab")
	})

	t.Run("help does not stick to later runs", func(t *testing.T) {
		_, err := runCommand(t, nil, "status", "--help")
		require.NoError(t, err)

		path := filepath.Join(t.TempDir(), "jobats.json")
		require.NoError(t, os.WriteFile(path, []byte(`{}`), 0600))

		output, err := runCommand(t, nil, "status", "--config", path)
		require.NoError(t, err)
		assert.Contains(t, output, "Status: stopped")
		assert.NotContains(t, output, "Usage:")
	})

	t.Run("global flags", func(t *testing.T) {
		cmd := GetRootCmd()

		configFlag := cmd.PersistentFlags().Lookup("config")
		require.NotNil(t, configFlag)
		assert.Equal(t, "", configFlag.DefValue)

		logLevelFlag := cmd.PersistentFlags().Lookup("log-level")
		require.NotNil(t, logLevelFlag)
		assert.Equal(t, "", logLevelFlag.DefValue)
	})

	t.Run("subcommands", func(t *testing.T) {
		names := map[string]bool{}
		for _, c := range GetRootCmd().Commands() {
			names[c.Name()] = true
		}
		for _, want := range []string{"start", "status", "stop", "configure", "cancel-tab", "cancel", "history"} {
			assert.True(t, names[want], "missing command %s", want)
		}
	})
}

func TestGetVersion(t *testing.T) {
	version := GetVersion()
	assert.NotEmpty(t, version)
	assert.True(t, strings.HasPrefix(version, "0."))
}
