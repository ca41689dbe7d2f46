// Package cli parses candor command-line arguments.
package cli

import (
	"errors"
	"fmt"
	"strings"
)

type Command string

const (
	CommandJoin      Command = "join"
	CommandStart     Command = "start"
	CommandCheck     Command = "check"
	CommandStatus    Command = "status"
	CommandExit      Command = "exit"
	CommandHere      Command = "here"
	CommandMute      Command = "mute"
	CommandUnmute    Command = "unmute"
	CommandCameraOn  Command = "camera-on"
	CommandCameraOff Command = "camera-off"
	CommandProceed   Command = "proceed"
	CommandRetry     Command = "retry"
	CommandSessions  Command = "sessions"
	CommandDevices   Command = "devices"
	CommandDoctor    Command = "doctor"
	CommandServe     Command = "serve"
	CommandFlush     Command = "flush"
	CommandVersion   Command = "version"
	CommandHelp      Command = "help"
)

// arity is the accepted positional argument count per command.
type arity struct {
	min, max int
	usage    string
}

var validCommands = map[Command]arity{
	CommandJoin:      {1, 1, "join <file>"},
	CommandStart:     {1, 1, "start <interview-id>"},
	CommandCheck:     {},
	CommandStatus:    {},
	CommandExit:      {},
	CommandHere:      {},
	CommandMute:      {},
	CommandUnmute:    {},
	CommandCameraOn:  {},
	CommandCameraOff: {},
	CommandProceed:   {},
	CommandRetry:     {0, 1, "retry [check]"},
	CommandSessions:  {},
	CommandDevices:   {},
	CommandDoctor:    {},
	CommandServe:     {},
	CommandFlush:     {},
	CommandVersion:   {},
	CommandHelp:      {},
}

// Forwarded reports whether the command is sent to the running session.
func (c Command) Forwarded() bool {
	switch c {
	case CommandStatus, CommandExit, CommandHere, CommandMute, CommandUnmute,
		CommandCameraOn, CommandCameraOff, CommandProceed, CommandRetry:
		return true
	}
	return false
}

type Parsed struct {
	Command    Command
	Args       []string
	ConfigPath string
	Debug      bool
	ShowHelp   bool
}

// Arg returns the first positional argument, or "".
func (p Parsed) Arg() string {
	if len(p.Args) == 0 {
		return ""
	}
	return p.Args[0]
}

func Parse(args []string) (Parsed, error) {
	parsed := Parsed{Command: CommandHelp, ShowHelp: true}
	seenCommand := false

	for i := 0; i < len(args); i++ {
		arg := args[i]

		if seenCommand {
			if strings.HasPrefix(arg, "-") {
				return Parsed{}, fmt.Errorf("unexpected arguments after command %q", parsed.Command)
			}
			parsed.Args = append(parsed.Args, arg)
			continue
		}

		switch arg {
		case "-h", "--help":
			parsed.ShowHelp = true
			parsed.Command = CommandHelp
		case "--version":
			parsed.ShowHelp = false
			parsed.Command = CommandVersion
		case "--debug":
			parsed.Debug = true
		case "--config":
			i++
			if i >= len(args) {
				return Parsed{}, errors.New("--config requires a path")
			}
			parsed.ConfigPath = args[i]
		default:
			if strings.HasPrefix(arg, "-") {
				return Parsed{}, fmt.Errorf("unknown flag: %s", arg)
			}

			cmd := Command(arg)
			if _, ok := validCommands[cmd]; !ok {
				return Parsed{}, fmt.Errorf("unknown command: %s", arg)
			}

			parsed.Command = cmd
			parsed.ShowHelp = cmd == CommandHelp
			seenCommand = true
		}
	}

	if seenCommand {
		want := validCommands[parsed.Command]
		switch {
		case len(parsed.Args) > want.max && want.max == 0:
			return Parsed{}, fmt.Errorf("unexpected arguments after command %q", parsed.Command)
		case len(parsed.Args) > want.max || len(parsed.Args) < want.min:
			return Parsed{}, fmt.Errorf("usage: candor %s", want.usage)
		}
	}

	return parsed, nil
}

func HelpText(binaryName string) string {
	return fmt.Sprintf(`Usage:
  %[1]s [--config PATH] [--debug] <command> [args]

Interview:
  join <file>           Stash an interview session config (JSON)
  start <interview-id>  Run the interview for a joined session
  check                 Run the readiness checks and print the report
  sessions              List joined interviews

Session control (sent to the running interview):
  status                Print the current phase
  proceed               Continue past failed readiness checks
  retry [check]         Retry a readiness check or a failed device/call start
  here                  Confirm you are still present
  mute, unmute          Toggle the microphone
  camera-on, camera-off Toggle the camera
  exit                  Leave the interview

Service:
  serve                 Run the feedback and question HTTP service
  flush                 Retry queued feedback handoffs

Diagnostics:
  devices               List audio inputs and cameras
  doctor                Run configuration and environment checks
  version               Print version information
  help                  Show this help

Flags:
  --config PATH   Config file path (default: $XDG_CONFIG_HOME/candor/config.jsonc)
  --debug         Write debug lines to the log
  -h, --help      Show help
  --version       Show version
`, binaryName)
}
