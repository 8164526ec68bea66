// Package cmd provides the commands of the tcplite binary.
package cmd

import (
	"github.com/urfave/cli/v2"

	"github.com/justapithecus/tcplite/client"
)

// Exit codes.
const (
	exitSuccess          = 0
	exitRuntimeError     = 1
	exitUsageError       = 2
	exitRetriesExhausted = 3
)

// Global flags, registered on the app.
var (
	// ConfigFlag points at a tcplite.yaml file.
	ConfigFlag = &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "Path to tcplite.yaml config file",
		EnvVars: []string{"TCPLITE_CONFIG"},
	}

	// LogLevelFlag overrides log.level and TCPLITE_LOG_LEVEL.
	LogLevelFlag = &cli.StringFlag{
		Name:  "log-level",
		Usage: "Log level: debug, info, warn, error",
	}
)

// GlobalFlags returns the app-level flags.
func GlobalFlags() []cli.Flag {
	return []cli.Flag{ConfigFlag, LogLevelFlag}
}

// Output flags for commands that print records.
var (
	// FormatFlag selects output format: json, table, yaml.
	FormatFlag = &cli.StringFlag{
		Name:    "format",
		Aliases: []string{"f"},
		Usage:   "Output format: json, table, yaml",
	}

	// NoColorFlag disables colored table output.
	NoColorFlag = &cli.BoolFlag{
		Name:  "no-color",
		Usage: "Disable colored output",
	}

	// TUIFlag enables the Bubble Tea live view.
	TUIFlag = &cli.BoolFlag{
		Name:  "tui",
		Usage: "Enable interactive TUI mode (listen only)",
	}
)

// OutputFlags returns the shared output flags. --tui is included everywhere
// so unsupported commands can reject it explicitly.
func OutputFlags() []cli.Flag {
	return []cli.Flag{FormatFlag, NoColorFlag, TUIFlag}
}

// clientFlags are shared by send and listen. Unset flags fall back to the
// client section of the config file, then to client package defaults.
func clientFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  "addr",
			Usage: "Relay address (host:port)",
			Value: client.DefaultAddr,
		},
		&cli.StringFlag{
			Name:  "framing",
			Usage: "Wire framing: delimiter or length (must match the relay)",
		},
		&cli.IntFlag{
			Name:  "max-attempts",
			Usage: "Connect attempts per (re)connect sequence",
		},
		&cli.DurationFlag{
			Name:  "retry-delay",
			Usage: "Delay after the first failed attempt",
		},
		&cli.Float64Flag{
			Name:  "backoff-multiplier",
			Usage: "Growth factor of the retry delay (below 1 = constant)",
		},
		&cli.IntFlag{
			Name:  "chunk-size",
			Usage: "Read buffer size in bytes",
		},
		&cli.IntFlag{
			Name:  "max-frame-size",
			Usage: "Largest frame accepted from the relay in bytes (default 16 MiB)",
		},
	}
}
