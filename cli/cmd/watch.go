package cmd

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/tether/adapter"
	"github.com/pithecene-io/tether/bridge"
	"github.com/pithecene-io/tether/iox"
	"github.com/pithecene-io/tether/session"
	"github.com/pithecene-io/tether/types"
)

// WatchCommand returns the watch command.
func WatchCommand() *cli.Command {
	return &cli.Command{
		Name:      "watch",
		Usage:     "Stream events emitted by a remote object",
		ArgsUsage: "<module:attr.attr> <event>",
		Description: "Optionally call a function first with --trigger, e.g. to start the emitter.\n" +
			"Stops on interrupt, when the remote exits, or when --once/--count/--for is satisfied.",
		Flags: append(append(OutputFlags(), adapterFlags()...),
			&cli.BoolFlag{
				Name:  "once",
				Usage: "Stop after the first event",
			},
			&cli.IntFlag{
				Name:  "count",
				Usage: "Stop after this many events (0 = unlimited)",
			},
			&cli.DurationFlag{
				Name:  "for",
				Usage: "Stop after this long",
			},
			&cli.StringFlag{
				Name:  "trigger",
				Usage: "Path of a function to call once subscribed",
			},
			&cli.StringSliceFlag{
				Name:  "trigger-arg",
				Usage: "JSON argument for --trigger (repeatable)",
			},
		),
		Action: watchAction,
	}
}

func watchAction(c *cli.Context) error {
	if c.NArg() != 2 {
		return cli.Exit("watch requires <path> and <event> arguments", exitError)
	}
	p, err := ParsePath(c.Args().Get(0))
	if err != nil {
		return cli.Exit(err.Error(), exitError)
	}
	event := c.Args().Get(1)

	var trigger *Path
	if t := c.String("trigger"); t != "" {
		tp, err := ParsePath(t)
		if err != nil {
			return cli.Exit(fmt.Sprintf("--trigger: %v", err), exitError)
		}
		trigger = &tp
	}
	limit := c.Int("count")
	if c.Bool("once") {
		limit = 1
	}

	return withSession(c, func(ctx context.Context, inv *invocation) error {
		if d := c.Duration("for"); d > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, d)
			defer cancel()
		}

		v, err := resolve(ctx, inv.bridge(), p)
		if err != nil {
			return err
		}
		source, ok := v.(*bridge.Proxy)
		if !ok {
			return fmt.Errorf("%s is a %s value; only objects emit events", p, v.Tag())
		}

		w := &watcher{
			ctx:   ctx,
			path:  p.String(),
			event: event,
			limit: limit,
			inv:   inv,
			done:  make(chan struct{}),
		}
		ac, err := parseAdapterConfig(c, inv.config)
		if err != nil {
			return cli.Exit(err.Error(), exitError)
		}
		if ac != nil {
			pub, err := buildAdapter(ac)
			if err != nil {
				return cli.Exit(err.Error(), exitError)
			}
			defer iox.DiscardClose(pub)
			w.publisher = pub
		}

		var sub bridge.Subscription
		if limit == 1 {
			sub, err = source.Once(event, w.handle)
		} else {
			sub, err = source.On(event, w.handle)
		}
		if err != nil {
			return err
		}
		defer func() { _, _ = source.Off(event, sub) }()

		if trigger != nil {
			fn, err := resolve(ctx, inv.bridge(), *trigger)
			if err != nil {
				return err
			}
			f, ok := fn.(*bridge.Function)
			if !ok {
				return fmt.Errorf("--trigger %s is not a function (%s)", trigger, fn.Tag())
			}
			if _, err := f.Call(ctx, parseArgs(c.StringSlice("trigger-arg"))...); err != nil {
				return fmt.Errorf("trigger %s: %w", trigger, err)
			}
		}

		return w.wait(ctx, inv.session)
	})
}

// watcher renders deliveries in arrival order. Handlers run on the bridge's
// dispatch goroutine, one at a time.
type watcher struct {
	ctx       context.Context
	path      string
	event     string
	limit     int
	inv       *invocation
	publisher adapter.Adapter

	mu       sync.Mutex
	seq      int
	done     chan struct{}
	doneOnce sync.Once
	err      error
}

func (w *watcher) handle(args ...bridge.Value) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.limit > 0 && w.seq >= w.limit {
		return
	}
	w.seq++

	view := EventView{Event: w.event, Seq: w.seq, Args: make([]any, len(args))}
	for i, a := range args {
		view.Args[i] = plain(a)
	}
	if err := w.inv.renderer.RenderStream(view); err != nil && w.err == nil {
		w.err = err
	}
	w.publish(view)
	if w.limit > 0 && w.seq >= w.limit {
		w.doneOnce.Do(func() { close(w.done) })
	}
}

// publish forwards a delivery. Failures are logged; the stream goes on.
func (w *watcher) publish(view EventView) {
	if w.publisher == nil {
		return
	}
	env := &adapter.EventEnvelope{
		Protocol:  types.ProtocolVersion,
		EventType: adapter.EventType,
		SessionID: w.inv.session.ID(),
		Path:      w.path,
		Event:     view.Event,
		Seq:       view.Seq,
		Args:      view.Args,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	}
	if err := w.publisher.Publish(w.ctx, env); err != nil {
		w.inv.session.Logger().Warn("event forwarding failed", map[string]any{
			"event": view.Event,
			"seq":   view.Seq,
			"error": err.Error(),
		})
	}
}

func (w *watcher) wait(ctx context.Context, s *session.Session) error {
	if w.limit == 1 {
		// A once-subscription: the session tracks it to completion.
		if err := s.Wait(ctx); err != nil && ctx.Err() == nil {
			return err
		}
		return w.result()
	}

	select {
	case <-w.done:
	case <-ctx.Done():
		// Interrupt or --for elapsed: a normal end of the stream.
	case <-s.Done():
		return session.ErrRemoteExited
	}
	return w.result()
}

func (w *watcher) result() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}
