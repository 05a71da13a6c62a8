package cmd

import (
	"context"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/tether/cli/tui"
)

// InspectCommand returns the inspect command.
func InspectCommand() *cli.Command {
	return &cli.Command{
		Name:      "inspect",
		Usage:     "Describe a remote value",
		ArgsUsage: "<module:attr.attr>",
		Flags:     append(OutputFlags(), TUIFlag),
		Action:    inspectAction,
	}
}

func inspectAction(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("inspect requires exactly one <path> argument", exitError)
	}
	p, err := ParsePath(c.Args().First())
	if err != nil {
		return cli.Exit(err.Error(), exitError)
	}
	if c.Bool("tui") {
		if c.IsSet("format") {
			return cli.Exit("--tui cannot be combined with --format", exitError)
		}
		return withSession(c, func(ctx context.Context, inv *invocation) error {
			return tui.RunBrowser(ctx, browseLoader(inv.bridge(), p), c.App.Reader, c.App.Writer)
		})
	}

	return withSession(c, func(ctx context.Context, inv *invocation) error {
		v, err := resolve(ctx, inv.bridge(), p)
		if err != nil {
			return err
		}
		view, err := describe(ctx, p.String(), v)
		if err != nil {
			return err
		}
		return inv.renderer.Render(view)
	})
}
