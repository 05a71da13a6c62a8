package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/tether/bridge"
	"github.com/pithecene-io/tether/session"
)

// Exit codes.
const (
	exitSuccess = 0
	exitError   = 1
	exitCrash   = 2
	exitTimeout = 3
)

// exitCode classifies a command error.
func exitCode(err error) int {
	switch {
	case err == nil:
		return exitSuccess
	case bridge.IsTimeout(err):
		return exitTimeout
	case errors.Is(err, session.ErrRemoteExited):
		return exitCrash
	default:
		return exitError
	}
}

// exitErr converts err into a cli.ExitCoder carrying its exit code. For a
// crash the tail of the remote's stderr is appended when available.
func exitErr(err error, res *session.Result) error {
	if err == nil {
		return nil
	}
	var coder cli.ExitCoder
	if errors.As(err, &coder) {
		return err
	}
	code := exitCode(err)
	msg := err.Error()
	if code == exitCrash && res != nil {
		msg = fmt.Sprintf("%s (exit code %d)", msg, res.ExitCode)
		if tail := strings.TrimSpace(res.Stderr); tail != "" {
			msg += "\n" + tail
		}
	}
	return cli.Exit(msg, code)
}
