package cmd

import (
	"context"
	"io"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/tether/bridge"
	"github.com/pithecene-io/tether/channel"
	"github.com/pithecene-io/tether/cli/config"
	"github.com/pithecene-io/tether/cli/render"
	"github.com/pithecene-io/tether/session"
)

// defaultConfigFiles are probed in order when --config is not given.
var defaultConfigFiles = []string{"tether.yaml", "tether.yml", "tether.toml"}

// invocation is one command run against a live session.
type invocation struct {
	config   *config.Config
	session  *session.Session
	renderer *render.Renderer
	errOut   io.Writer
	stats    bool
}

func (inv *invocation) bridge() *bridge.Bridge { return inv.session.Bridge() }

// withSession loads configuration, starts the remote runtime and runs fn
// against it. The session is always closed; fn's error decides the exit
// code.
func withSession(c *cli.Context, fn func(ctx context.Context, inv *invocation) error) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return cli.Exit(err.Error(), exitError)
	}
	r, err := render.NewRenderer(c, cfg.Output)
	if err != nil {
		return cli.Exit(err.Error(), exitError)
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errOut := c.App.ErrWriter
	if errOut == nil {
		errOut = os.Stderr
	}

	s, err := session.Start(ctx, sessionConfig(cfg, errOut))
	if err != nil {
		return cli.Exit(err.Error(), exitError)
	}

	inv := &invocation{config: cfg, session: s, renderer: r, errOut: errOut, stats: c.Bool("stats")}
	runErr := fn(ctx, inv)

	res, closeErr := s.Close()
	if inv.stats {
		_ = r.WithOutput(errOut).Render(s.Collector().Snapshot())
	}
	if runErr != nil {
		return exitErr(runErr, res)
	}
	if closeErr != nil {
		return cli.Exit(closeErr.Error(), exitError)
	}
	return nil
}

// loadConfig reads the config file, if any, and applies flag overrides.
func loadConfig(c *cli.Context) (*config.Config, error) {
	path := c.String("config")
	if path == "" {
		for _, name := range defaultConfigFiles {
			if _, err := os.Stat(name); err == nil {
				path = name
				break
			}
		}
	}

	cfg := &config.Config{}
	if path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if c.IsSet("command") {
		cfg.Remote.Command = c.String("command")
	}
	if c.IsSet("arg") {
		cfg.Remote.Args = c.StringSlice("arg")
	}
	if c.IsSet("dir") {
		cfg.Remote.Dir = c.String("dir")
	}
	if c.IsSet("resolve-from") {
		cfg.Remote.ResolveFrom = c.String("resolve-from")
	}
	if c.IsSet("codec") {
		cfg.Bridge.Codec = c.String("codec")
	}
	if c.IsSet("timeout") {
		cfg.Bridge.Timeout.Duration = c.Duration("timeout")
	}
	if c.IsSet("shutdown-grace") {
		cfg.Remote.ShutdownGrace.Duration = c.Duration("shutdown-grace")
	}
	if c.IsSet("log-level") {
		cfg.Log.Level = c.String("log-level")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func sessionConfig(cfg *config.Config, errOut io.Writer) session.Config {
	env := make([]string, 0, len(cfg.Remote.Env))
	for k, v := range cfg.Remote.Env {
		env = append(env, k+"="+v)
	}
	sort.Strings(env)

	return session.Config{
		Process: channel.ProcessConfig{
			Command:     cfg.Remote.Command,
			Args:        cfg.Remote.Args,
			Dir:         cfg.Remote.Dir,
			Env:         env,
			ResolveFrom: cfg.Remote.ResolveFrom,
			Stderr:      errOut,
		},
		Codec:         cfg.Bridge.Codec,
		Timeout:       cfg.Bridge.Timeout.Duration,
		ShutdownGrace: cfg.Remote.ShutdownGrace.Duration,
		LogLevel:      cfg.Log.Level,
		LogOutput:     errOut,
	}
}
