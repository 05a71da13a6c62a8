package cmd

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/tether/types"
)

// NewApp builds the tether CLI application.
//
// Exit codes:
//   - 0: success
//   - 1: remote error or usage error
//   - 2: the remote runtime exited while a request was outstanding
//   - 3: a request timed out
func NewApp(commit string) *cli.App {
	return &cli.App{
		Name:                 "tether",
		Usage:                "Drive objects living in a JavaScript runtime",
		Version:              fmt.Sprintf("%s (commit: %s)", types.Version, commit),
		Flags:                SessionFlags(),
		EnableBashCompletion: true,
		Commands: []*cli.Command{
			CallCommand(),
			InspectCommand(),
			WatchCommand(),
			VersionCommand(commit),
		},
	}
}
