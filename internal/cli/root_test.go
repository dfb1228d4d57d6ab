package cli

import (
	"bytes"
	"io"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	ordersDir = filepath.Join("..", "typeinfo", "testdata", "orders")
	brokenDir = filepath.Join("testdata", "broken")
)

// execute runs the root command and returns what it wrote to stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "sqlpersistence", cmd.Use)
	assert.Contains(t, cmd.Long, "installation scripts")
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	commands := []string{"inspect", "scripts", "install", "cleanup"}

	for _, cmdName := range commands {
		t.Run(cmdName, func(t *testing.T) {
			subCmd, _, err := cmd.Find([]string{cmdName})
			require.NoError(t, err, "Command %s should exist", cmdName)
			require.NotNil(t, subCmd)
			assert.Equal(t, cmdName, subCmd.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	verboseFlag := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, verboseFlag)
	assert.Equal(t, "v", verboseFlag.Shorthand)
	assert.Equal(t, "false", verboseFlag.DefValue)

	formatFlag := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, formatFlag)
	assert.Equal(t, "text", formatFlag.DefValue)

	configFlag := cmd.PersistentFlags().Lookup("config")
	require.NotNil(t, configFlag)
	assert.Equal(t, "c", configFlag.Shorthand)
}

func TestScriptsCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	scriptsCmd, _, err := cmd.Find([]string{"scripts"})
	require.NoError(t, err)

	outFlag := scriptsCmd.Flags().Lookup("out")
	require.NotNil(t, outFlag)
	assert.Equal(t, "o", outFlag.Shorthand)

	for _, name := range []string{"clean", "dialect", "prefix", "endpoint", "schema"} {
		assert.NotNil(t, scriptsCmd.Flags().Lookup(name), name)
	}
}

func TestDatabaseCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	for _, name := range []string{"install", "cleanup"} {
		sub, _, err := cmd.Find([]string{name})
		require.NoError(t, err)

		driverFlag := sub.Flags().Lookup("driver")
		require.NotNil(t, driverFlag, name)
		assert.Equal(t, "sqlite3", driverFlag.DefValue)

		dsnFlag := sub.Flags().Lookup("dsn")
		require.NotNil(t, dsnFlag, name)
		assert.Equal(t, "", dsnFlag.DefValue)
	}
}

func TestFormatValidation(t *testing.T) {
	assert.True(t, isValidFormat("text"))
	assert.True(t, isValidFormat("json"))

	assert.False(t, isValidFormat("xml"))
	assert.False(t, isValidFormat(""))
	assert.False(t, isValidFormat("TEXT"))
}

func TestFormatValidationIntegration(t *testing.T) {
	_, err := execute(t, "--format", "invalid", "inspect", ordersDir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
