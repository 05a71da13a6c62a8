package channel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"syscall"

	"github.com/pithecene-io/tether/iox"
)

// ResolveFromEnv tells the remote runtime where to resolve bare module
// specifiers.
const ResolveFromEnv = "TETHER_RESOLVE_FROM"

// maxStderr bounds captured stderr; the tail is kept.
const maxStderr = 64 * 1024

// ProcessConfig configures the remote runtime process.
type ProcessConfig struct {
	// Command is the program to run, e.g. "node".
	Command string
	// Args are passed to Command, e.g. the bridge script path.
	Args []string
	// Dir is the working directory. Empty inherits ours.
	Dir string
	// Env holds extra KEY=VALUE entries appended to the inherited
	// environment. Later entries win.
	Env []string
	// ResolveFrom is an optional node_modules directory for module
	// resolution. Exported as TETHER_RESOLVE_FROM and prepended to
	// NODE_PATH.
	ResolveFrom string
	// Stderr, when set, receives a copy of the process's stderr as it is
	// produced.
	Stderr io.Writer
}

// ProcessResult is the outcome of a finished process.
type ProcessResult struct {
	// ExitCode is the process exit code; -1 when killed by a signal.
	ExitCode int
	// Stderr is the captured tail of stderr.
	Stderr []byte
}

// Process manages the remote runtime child process.
type Process struct {
	config *ProcessConfig
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser

	stderr     *iox.Tail
	stderrDone chan struct{}
}

// NewProcess creates a process manager. Call Start to launch it.
func NewProcess(config *ProcessConfig) *Process {
	return &Process{config: config}
}

// Start launches the process. Stdin and stdout carry frames; stderr is
// captured for diagnostics.
func (p *Process) Start(ctx context.Context) error {
	if p.config.Command == "" {
		return errors.New("channel: no command configured")
	}

	p.cmd = exec.CommandContext(ctx, p.config.Command, p.config.Args...)
	p.cmd.Dir = p.config.Dir
	p.cmd.Env = buildEnv(os.Environ(), p.config.Env, p.config.ResolveFrom)

	stdin, err := p.cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("failed to create stdin pipe: %w", err)
	}
	p.stdin = stdin

	stdout, err := p.cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	p.stdout = stdout

	stderr, err := p.cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	if err := p.cmd.Start(); err != nil {
		return fmt.Errorf("failed to start %s: %w", p.config.Command, err)
	}

	// stderr must be drained while the child runs.
	p.stderr = iox.NewTail(maxStderr)
	p.stderrDone = make(chan struct{})
	var sink io.Writer = p.stderr
	if p.config.Stderr != nil {
		sink = io.MultiWriter(p.stderr, p.config.Stderr)
	}
	go func() {
		defer close(p.stderrDone)
		_, _ = io.Copy(sink, stderr)
	}()

	return nil
}

// Stdin returns the writer feeding the process.
func (p *Process) Stdin() io.WriteCloser {
	return p.stdin
}

// Stdout returns the reader for frames produced by the process.
func (p *Process) Stdout() io.Reader {
	return p.stdout
}

// Pid returns the process id, or 0 before Start.
func (p *Process) Pid() int {
	if p.cmd == nil || p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

// Wait waits for the process to exit and returns its result.
// Must be called after Start.
func (p *Process) Wait() (*ProcessResult, error) {
	if p.cmd == nil {
		return nil, errors.New("channel: process not started")
	}

	<-p.stderrDone
	err := p.cmd.Wait()

	result := &ProcessResult{Stderr: p.stderr.Bytes()}
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, fmt.Errorf("process wait failed: %w", err)
		}
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok {
			result.ExitCode = status.ExitStatus()
		} else {
			result.ExitCode = -1
		}
	}
	return result, nil
}

// Kill terminates the process.
func (p *Process) Kill() error {
	if p.cmd != nil && p.cmd.Process != nil {
		err := p.cmd.Process.Kill()
		if errors.Is(err, os.ErrProcessDone) {
			return nil
		}
		return err
	}
	return nil
}

func buildEnv(base, extra []string, resolveFrom string) []string {
	env := append(append([]string(nil), base...), extra...)
	if resolveFrom != "" {
		env = append(env, ResolveFromEnv+"="+resolveFrom)

		// NODE_PATH covers CommonJS require(); the resolve hook covers ESM.
		nodePath := resolveFrom
		if existing := lookupEnv(env, "NODE_PATH"); existing != "" {
			nodePath += string(os.PathListSeparator) + existing
		}
		env = append(env, "NODE_PATH="+nodePath)
	}
	return deduplicateEnv(env)
}

// lookupEnv returns the last value for key in env.
func lookupEnv(env []string, key string) string {
	var val string
	for _, entry := range env {
		k, v, _ := strings.Cut(entry, "=")
		if k == key {
			val = v
		}
	}
	return val
}

// deduplicateEnv keeps the last occurrence of each key, at the position of
// that occurrence.
func deduplicateEnv(env []string) []string {
	seen := make(map[string]int, len(env))
	for i, entry := range env {
		key, _, _ := strings.Cut(entry, "=")
		seen[key] = i
	}
	result := make([]string, 0, len(seen))
	for i, entry := range env {
		key, _, _ := strings.Cut(entry, "=")
		if seen[key] == i {
			result = append(result, entry)
		}
	}
	return result
}
