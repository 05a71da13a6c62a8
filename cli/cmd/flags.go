// Package cmd provides the commands of the tether binary.
package cmd

import "github.com/urfave/cli/v2"

// Output flags shared by every command that renders a result.
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

	// TUIFlag opens the interactive browser. Only inspect supports it.
	TUIFlag = &cli.BoolFlag{
		Name:  "tui",
		Usage: "Browse the value interactively",
	}
)

// OutputFlags returns the rendering flags.
func OutputFlags() []cli.Flag {
	return []cli.Flag{FormatFlag, NoColorFlag}
}

// SessionFlags returns the app-level flags that describe the remote
// runtime. Each one overrides the matching config file value.
func SessionFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "Path to tether.yaml or tether.toml (default: ./tether.{yaml,yml,toml} if present)",
			EnvVars: []string{"TETHER_CONFIG"},
		},
		&cli.StringFlag{
			Name:  "command",
			Usage: "Remote runtime executable",
		},
		&cli.StringSliceFlag{
			Name:  "arg",
			Usage: "Argument passed to the remote runtime (repeatable)",
		},
		&cli.StringFlag{
			Name:  "dir",
			Usage: "Working directory of the remote runtime",
		},
		&cli.StringFlag{
			Name:  "resolve-from",
			Usage: "Directory the remote runtime resolves modules from",
		},
		&cli.StringFlag{
			Name:  "codec",
			Usage: "Frame payload codec: msgpack or cbor",
		},
		&cli.DurationFlag{
			Name:  "timeout",
			Usage: "Per-request timeout",
		},
		&cli.DurationFlag{
			Name:  "shutdown-grace",
			Usage: "How long to wait for the remote to exit before killing it",
		},
		&cli.StringFlag{
			Name:  "log-level",
			Usage: "Log level: debug, info, warn, error",
		},
		&cli.BoolFlag{
			Name:  "stats",
			Usage: "Print session metrics to stderr on exit",
		},
	}
}
