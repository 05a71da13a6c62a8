package cmd

import (
	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/tether/cli/render"
	"github.com/pithecene-io/tether/types"
)

// VersionResponse is the response for the version command.
type VersionResponse struct {
	Version  string `json:"version"`
	Protocol string `json:"protocol"`
	Commit   string `json:"commit"`
}

// VersionCommand returns the version command. It never starts a remote.
func VersionCommand(commit string) *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Show version information",
		Flags: OutputFlags(),
		Action: func(c *cli.Context) error {
			r, err := render.NewRenderer(c, "")
			if err != nil {
				return cli.Exit(err.Error(), exitError)
			}
			return r.Render(VersionResponse{
				Version:  types.Version,
				Protocol: types.ProtocolVersion,
				Commit:   commit,
			})
		},
	}
}
