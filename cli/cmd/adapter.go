package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/tether/adapter"
	"github.com/pithecene-io/tether/adapter/redis"
	"github.com/pithecene-io/tether/adapter/webhook"
	"github.com/pithecene-io/tether/cli/config"
)

// adapterFlags configure event forwarding for watch.
func adapterFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  "adapter",
			Usage: "Forward each event to a downstream system: webhook or redis",
		},
		&cli.StringFlag{
			Name:  "adapter-url",
			Usage: "Webhook endpoint or redis:// URL",
		},
		&cli.StringFlag{
			Name:  "adapter-channel",
			Usage: "Redis pub/sub channel (default: " + redis.DefaultChannel + ")",
		},
		&cli.StringSliceFlag{
			Name:  "adapter-header",
			Usage: "Webhook header as Key=Value (repeatable)",
		},
		&cli.DurationFlag{
			Name:  "adapter-timeout",
			Usage: "Per-publish timeout",
		},
		&cli.IntFlag{
			Name:  "adapter-retries",
			Usage: "Retry attempts per event",
			Value: 3,
		},
	}
}

// adapterChoice is the resolved adapter configuration.
type adapterChoice struct {
	adapterType string
	url         string
	channel     string
	headers     map[string]string
	timeout     time.Duration
	retries     int
}

// parseAdapterConfig merges config file defaults with flags; flags win.
// It returns nil when no adapter is configured.
func parseAdapterConfig(c *cli.Context, cfg *config.Config) (*adapterChoice, error) {
	var base config.AdapterConfig
	if cfg != nil {
		base = cfg.Adapter
	}

	ac := &adapterChoice{
		adapterType: base.Type,
		url:         base.URL,
		channel:     base.Channel,
		headers:     make(map[string]string, len(base.Headers)),
		timeout:     base.Timeout.Duration,
		retries:     c.Int("adapter-retries"),
	}
	for k, v := range base.Headers {
		ac.headers[k] = v
	}
	if base.Retries != nil && !c.IsSet("adapter-retries") {
		ac.retries = *base.Retries
	}

	if c.IsSet("adapter") {
		ac.adapterType = c.String("adapter")
	}
	if c.IsSet("adapter-url") {
		ac.url = c.String("adapter-url")
	}
	if c.IsSet("adapter-channel") {
		ac.channel = c.String("adapter-channel")
	}
	if c.IsSet("adapter-timeout") {
		ac.timeout = c.Duration("adapter-timeout")
	}
	for _, h := range c.StringSlice("adapter-header") {
		k, v, ok := strings.Cut(h, "=")
		if !ok || strings.TrimSpace(k) == "" {
			return nil, fmt.Errorf("invalid --adapter-header %q (want Key=Value)", h)
		}
		ac.headers[strings.TrimSpace(k)] = v
	}

	switch ac.adapterType {
	case "":
		return nil, nil
	case "webhook", "redis":
	default:
		return nil, fmt.Errorf("unknown adapter type %q (must be webhook or redis)", ac.adapterType)
	}
	if ac.url == "" {
		return nil, fmt.Errorf("--adapter-url is required when --adapter=%s", ac.adapterType)
	}
	if ac.retries < 0 {
		return nil, fmt.Errorf("--adapter-retries must be >= 0, got %d", ac.retries)
	}
	return ac, nil
}

// buildAdapter constructs the adapter for ac.
func buildAdapter(ac *adapterChoice) (adapter.Adapter, error) {
	switch ac.adapterType {
	case "webhook":
		return webhook.New(webhook.Config{
			URL:     ac.url,
			Headers: ac.headers,
			Timeout: ac.timeout,
			Retries: ac.retries,
		})
	case "redis":
		return redis.New(redis.Config{
			URL:     ac.url,
			Channel: ac.channel,
			Timeout: ac.timeout,
			Retries: ac.retries,
		})
	default:
		return nil, fmt.Errorf("unknown adapter type %q", ac.adapterType)
	}
}
