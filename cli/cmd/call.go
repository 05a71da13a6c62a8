package cmd

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/tether/bridge"
)

// CallCommand returns the call command.
func CallCommand() *cli.Command {
	return &cli.Command{
		Name:      "call",
		Usage:     "Call a remote function (or constructor) and print the result",
		ArgsUsage: "<module:attr.attr> [json-arg...]",
		Description: "Each argument is decoded as JSON; anything that is not valid JSON is passed as a string.\n" +
			"A path ending in \".new\" constructs an instance.",
		Flags:  OutputFlags(),
		Action: callAction,
	}
}

func callAction(c *cli.Context) error {
	if c.NArg() < 1 {
		return cli.Exit("call requires a <path> argument", exitError)
	}
	p, err := ParsePath(c.Args().First())
	if err != nil {
		return cli.Exit(err.Error(), exitError)
	}
	args := parseArgs(c.Args().Tail())

	return withSession(c, func(ctx context.Context, inv *invocation) error {
		target, err := resolve(ctx, inv.bridge(), p)
		if err != nil {
			return err
		}

		var out bridge.Value
		switch fn := target.(type) {
		case *bridge.Function:
			out, err = fn.Call(ctx, args...)
		case *bridge.Constructor:
			out, err = fn.New(ctx, args...)
		default:
			return fmt.Errorf("%s is not callable (%s)", p, target.Tag())
		}
		if err != nil {
			return fmt.Errorf("call %s: %w", p, err)
		}

		view, err := describe(ctx, p.String(), out)
		if err != nil {
			return err
		}
		return inv.renderer.Render(view)
	})
}
