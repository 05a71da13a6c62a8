// Package session runs one remote runtime and the bridge that drives it.
//
// Start launches the process, puts a channel.Stream over its stdio and
// attaches a bridge.Bridge to the stream. When the stream stops for any
// reason, every pending request fails with ErrRemoteExited.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pithecene-io/tether/bridge"
	"github.com/pithecene-io/tether/channel"
	"github.com/pithecene-io/tether/iox"
	"github.com/pithecene-io/tether/ipc"
	"github.com/pithecene-io/tether/log"
	"github.com/pithecene-io/tether/metrics"
	"github.com/pithecene-io/tether/types"
)

// ErrRemoteExited is the cause attached to requests that were pending, or
// issued, after the channel stopped.
var ErrRemoteExited = errors.New("session: remote runtime exited")

// DefaultShutdownGrace is how long Close waits for the remote to exit on its
// own after its input is closed.
const DefaultShutdownGrace = 2 * time.Second

// Remote abstracts the remote runtime process for testing.
type Remote interface {
	Start(ctx context.Context) error
	Stdin() io.WriteCloser
	Stdout() io.Reader
	Wait() (*channel.ProcessResult, error)
	Kill() error
}

// RemoteFactory creates a Remote. Used for test injection.
type RemoteFactory func(config *channel.ProcessConfig) Remote

// Config configures a session.
type Config struct {
	// Process describes the remote runtime to launch.
	Process channel.ProcessConfig
	// Codec names the frame payload codec. Empty selects msgpack.
	Codec string
	// Timeout bounds each request. Zero selects bridge.DefaultTimeout.
	Timeout time.Duration
	// ShutdownGrace bounds how long Close waits before killing the remote.
	// Zero selects DefaultShutdownGrace.
	ShutdownGrace time.Duration
	// SessionID overrides the generated id.
	SessionID string
	// LogLevel is one of debug, info, warn, error. Empty selects info.
	LogLevel string
	// LogOutput receives log lines. Nil selects stderr.
	LogOutput io.Writer
	// Logger overrides LogLevel and LogOutput.
	Logger *log.Logger
	// Collector records session metrics. Nil creates one.
	Collector *metrics.Collector
	// RemoteFactory overrides process creation (for testing).
	RemoteFactory RemoteFactory
}

// Result describes a closed session.
type Result struct {
	SessionID string
	// ExitCode is the remote's exit code; -1 if it was killed.
	ExitCode int
	// Stderr is the captured tail of the remote's stderr.
	Stderr string
	// StreamErr is why the channel stopped; nil on a clean EOF.
	StreamErr error
	// Killed reports whether Close had to kill the remote.
	Killed   bool
	Duration time.Duration
}

// Session owns a running remote runtime.
type Session struct {
	id        string
	config    Config
	logger    *log.Logger
	collector *metrics.Collector
	remote    Remote
	stream    *channel.Stream
	bridge    *bridge.Bridge
	started   time.Time
	cancel    context.CancelFunc

	runDone chan struct{}
	runErr  error

	closeOnce sync.Once
	result    *Result
	closeErr  error
}

// Start launches the remote runtime and begins serving its channel.
// ctx only bounds the launch; the session lives until Close.
func Start(ctx context.Context, config Config) (*Session, error) {
	codec, err := ipc.ParseCodec(config.Codec)
	if err != nil {
		return nil, err
	}

	id := config.SessionID
	if id == "" {
		id = uuid.NewString()
	}
	meta := &types.SessionMeta{SessionID: id, Remote: config.Process.Command, Codec: codec.Name()}

	logger := config.Logger
	if logger == nil {
		out := config.LogOutput
		if out == nil {
			out = os.Stderr
		}
		logger, err = log.NewLoggerWithLevel(meta, out, config.LogLevel)
		if err != nil {
			return nil, err
		}
	}

	collector := config.Collector
	if collector == nil {
		collector = metrics.NewCollector(id, config.Process.Command, codec.Name())
	}

	var remote Remote
	if config.RemoteFactory != nil {
		remote = config.RemoteFactory(&config.Process)
	} else {
		remote = channel.NewProcess(&config.Process)
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	logger.Info("starting remote", map[string]any{
		"command": config.Process.Command,
		"args":    config.Process.Args,
	})
	if err := remote.Start(runCtx); err != nil {
		cancel()
		logger.Error("failed to start remote", map[string]any{"error": err.Error()})
		return nil, fmt.Errorf("session: %w", err)
	}

	stream := channel.NewStream(remote.Stdout(), remote.Stdin(), codec, logger.Named("channel"), collector)
	br := bridge.New(stream,
		bridge.WithTimeout(config.Timeout),
		bridge.WithLogger(logger.Named("bridge")),
		bridge.WithCollector(collector),
	)

	s := &Session{
		id:        id,
		config:    config,
		logger:    logger,
		collector: collector,
		remote:    remote,
		stream:    stream,
		bridge:    br,
		started:   time.Now(),
		cancel:    cancel,
		runDone:   make(chan struct{}),
	}
	go s.run(runCtx)
	return s, nil
}

func (s *Session) run(ctx context.Context) {
	defer close(s.runDone)

	err := s.stream.Run(ctx, s.bridge)
	s.runErr = err

	cause := ErrRemoteExited
	if err != nil {
		cause = fmt.Errorf("%w: %w", ErrRemoteExited, err)
		if !channel.IsCanceledError(err) {
			s.logger.Error("channel stopped", map[string]any{"error": err.Error()})
		}
	} else {
		s.logger.Debug("channel closed by remote", nil)
	}
	s.bridge.Abort(cause)
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// Bridge returns the bridge driving the remote runtime.
func (s *Session) Bridge() *bridge.Bridge { return s.bridge }

// Collector returns the session's metrics.
func (s *Session) Collector() *metrics.Collector { return s.collector }

// Logger returns the session logger.
func (s *Session) Logger() *log.Logger { return s.logger }

// Alive reports whether the channel worker is running.
func (s *Session) Alive() bool { return s.stream.Alive() }

// Done is closed once the channel worker has stopped.
func (s *Session) Done() <-chan struct{} { return s.runDone }

// Wait blocks until every once-subscription has fired. It returns
// ErrRemoteExited if the channel stops first.
func (s *Session) Wait(ctx context.Context) error {
	waitCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-s.runDone:
			cancel()
		case <-waitCtx.Done():
		}
	}()

	if err := s.bridge.Wait(waitCtx); err != nil {
		if ctx.Err() == nil {
			return ErrRemoteExited
		}
		return err
	}
	return nil
}

// Close shuts the session down: it flushes pending releases, closes the
// remote's input, waits up to the shutdown grace for it to exit, kills it
// otherwise, and reports how it ended. Close is idempotent.
func (s *Session) Close() (*Result, error) {
	s.closeOnce.Do(func() {
		s.result, s.closeErr = s.shutdown()
	})
	return s.result, s.closeErr
}

func (s *Session) shutdown() (*Result, error) {
	iox.DiscardErr(s.bridge.Close)
	if err := s.remote.Stdin().Close(); err != nil {
		s.logger.Debug("closing remote input", map[string]any{"error": err.Error()})
	}

	grace := s.config.ShutdownGrace
	if grace <= 0 {
		grace = DefaultShutdownGrace
	}

	killed := false
	select {
	case <-s.runDone:
	case <-time.After(grace):
		s.logger.Warn("remote did not exit, killing", map[string]any{"grace": grace.String()})
		killed = true
		if err := s.remote.Kill(); err != nil {
			s.logger.Warn("kill failed", map[string]any{"error": err.Error()})
		}
		<-s.runDone
	}
	s.cancel()

	// Wait closes stdout, so it must follow the stream worker.
	res, err := s.remote.Wait()
	if err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}

	result := &Result{
		SessionID: s.id,
		ExitCode:  res.ExitCode,
		Stderr:    string(res.Stderr),
		StreamErr: s.runErr,
		Killed:    killed,
		Duration:  time.Since(s.started),
	}
	s.logger.Info("session closed", map[string]any{
		"exit_code": result.ExitCode,
		"killed":    killed,
		"duration":  result.Duration.String(),
	})
	_ = s.logger.Sync()
	return result, nil
}
