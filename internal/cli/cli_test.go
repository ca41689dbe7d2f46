package cli

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseDefaultsToHelp(t *testing.T) {
	parsed, err := Parse(nil)
	require.NoError(t, err)
	require.True(t, parsed.ShowHelp)
	require.Equal(t, CommandHelp, parsed.Command)
}

func TestParseCommandWithConfig(t *testing.T) {
	parsed, err := Parse([]string{"--config", "/tmp/candor.jsonc", "--debug", "doctor"})
	require.NoError(t, err)
	require.Equal(t, CommandDoctor, parsed.Command)
	require.Equal(t, "/tmp/candor.jsonc", parsed.ConfigPath)
	require.True(t, parsed.Debug)
	require.False(t, parsed.ShowHelp)
}

func TestParseArgMatrix(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		wantErr  string
		wantCmd  Command
		wantArgs []string
		wantHelp bool
	}{
		{name: "help short flag", args: []string{"-h"}, wantCmd: CommandHelp, wantHelp: true},
		{name: "help long flag", args: []string{"--help"}, wantCmd: CommandHelp, wantHelp: true},
		{name: "version flag", args: []string{"--version"}, wantCmd: CommandVersion},
		{name: "join with file", args: []string{"join", "iv.json"}, wantCmd: CommandJoin, wantArgs: []string{"iv.json"}},
		{name: "join without file", args: []string{"join"}, wantErr: "usage: candor join <file>"},
		{name: "start with id", args: []string{"start", "iv-42"}, wantCmd: CommandStart, wantArgs: []string{"iv-42"}},
		{name: "start with two ids", args: []string{"start", "a", "b"}, wantErr: "usage: candor start"},
		{name: "retry without check", args: []string{"retry"}, wantCmd: CommandRetry},
		{name: "retry with check", args: []string{"retry", "camera"}, wantCmd: CommandRetry, wantArgs: []string{"camera"}},
		{name: "camera toggle", args: []string{"camera-off"}, wantCmd: CommandCameraOff},
		{name: "config after command", args: []string{"status", "--config", "/tmp/cfg"}, wantErr: "unexpected arguments after command"},
		{name: "argument for bare command", args: []string{"exit", "now"}, wantErr: "unexpected arguments after command"},
		{name: "missing config path", args: []string{"--config"}, wantErr: "requires a path"},
		{name: "unknown flag", args: []string{"--verbose"}, wantErr: "unknown flag"},
		{name: "unknown command", args: []string{"toggle"}, wantErr: "unknown command"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			parsed, err := Parse(tc.args)
			if tc.wantErr != "" {
				require.Error(t, err)
				require.Contains(t, err.Error(), tc.wantErr)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.wantCmd, parsed.Command)
			require.Equal(t, tc.wantArgs, parsed.Args)
			require.Equal(t, tc.wantHelp, parsed.ShowHelp)
		})
	}
}

func TestForwardedCommands(t *testing.T) {
	for _, cmd := range []Command{CommandStatus, CommandExit, CommandHere, CommandMute, CommandUnmute, CommandCameraOn, CommandCameraOff, CommandProceed, CommandRetry} {
		require.True(t, cmd.Forwarded(), cmd)
	}
	for _, cmd := range []Command{CommandJoin, CommandStart, CommandCheck, CommandServe, CommandFlush, CommandDoctor} {
		require.False(t, cmd.Forwarded(), cmd)
	}
}

func TestParsedArg(t *testing.T) {
	require.Empty(t, Parsed{}.Arg())
	require.Equal(t, "mic", Parsed{Args: []string{"mic"}}.Arg())
}

func TestHelpTextListsCommands(t *testing.T) {
	text := HelpText("candor")
	for _, want := range []string{"join <file>", "start <interview-id>", "retry [check]", "camera-on", "serve", "flush"} {
		require.Contains(t, text, want)
	}
}
