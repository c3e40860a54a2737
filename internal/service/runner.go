package service

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"
)

// DefaultGracePeriod is how long a Process waits for its output pipe to
// drain after the main process exited. Grandchildren that inherited the pipe
// can otherwise keep it open forever.
const DefaultGracePeriod = 2 * time.Second

// maxLineSize bounds a single output line; longer lines are split.
const maxLineSize = 256 * 1024

type (
	// LineFunc receives one complete, non-empty output line.
	LineFunc func(line string)
	// ExitFunc is called exactly once per launched Command.
	ExitFunc func(success bool)
)

// Command is a ready to start external program.
type Command struct {
	Path string
	Args []string
	Env  []string
	Dir  string
}

// Argv returns path followed by the arguments.
func (c Command) Argv() []string {
	return append([]string{c.Path}, c.Args...)
}

// Handle is the caller's grip on a launched process.
type Handle interface {
	// Terminate kills the process tree. It is idempotent and a no-op once the
	// exit was reported. After it returns no more lines are delivered.
	Terminate()
}

// Launcher starts commands. Runner is the os/exec implementation.
type Launcher interface {
	Launch(ctx context.Context, cmd Command, onLine LineFunc, onExit ExitFunc) Handle
}

type Runner struct {
	grace time.Duration
}

func NewRunner() *Runner {
	return &Runner{grace: DefaultGracePeriod}
}

// WithGracePeriod changes how long output is drained after exit.
func (r *Runner) WithGracePeriod(d time.Duration) *Runner {
	if d > 0 {
		r.grace = d
	}
	return r
}

// Launch starts cmd without waiting for it. Stdout and stderr are merged into
// one stream, split into lines and passed to onLine in arrival order. A
// command which can't be started produces a single "error: ..." line
// followed by onExit(false) before Launch returns.
func (r *Runner) Launch(ctx context.Context, cmd Command, onLine LineFunc, onExit ExitFunc) Handle {
	p := &Process{
		onLine: onLine,
		onExit: onExit,
		done:   make(chan struct{}),
	}
	if err := p.start(cmd); err != nil {
		slog.WarnContext(ctx, "launching process failed", "path", cmd.Path, "dir", cmd.Dir, "error", err)
		p.deliver("error: " + err.Error())
		p.exit(false)
		return p
	}
	slog.DebugContext(ctx, "process started", "path", cmd.Path, "pid", p.cmd.Process.Pid)
	go p.wait(ctx, r.grace)
	return p
}

// Process is a running (or finished) command launched by Runner.
type Process struct {
	mx         sync.Mutex
	cmd        *exec.Cmd
	stdout     *os.File
	onLine     LineFunc
	onExit     ExitFunc
	terminated bool
	exited     bool
	reported   bool
	exitOnce   sync.Once
	done       chan struct{}
	state      *os.ProcessState
}

func (p *Process) start(proto Command) error {
	pr, pw, err := os.Pipe()
	if err != nil {
		return err
	}

	cmd := exec.Command(proto.Path, proto.Args...)
	cmd.Env = proto.Env
	cmd.Dir = proto.Dir
	cmd.Stdout = pw
	cmd.Stderr = pw
	setProcessGroup(cmd)

	if err := cmd.Start(); err != nil {
		_ = pr.Close()
		_ = pw.Close()
		if proto.Dir != "" {
			// a failed chdir is reported as a failed exec of Path
			return fmt.Errorf("starting %s in %s: %w", proto.Path, proto.Dir, err)
		}
		return err
	}
	// the child owns its copy now
	_ = pw.Close()

	p.mx.Lock()
	p.cmd = cmd
	p.stdout = pr
	p.mx.Unlock()
	return nil
}

func (p *Process) wait(ctx context.Context, grace time.Duration) {
	var g errgroup.Group
	g.Go(func() error {
		return p.pump()
	})

	err := p.cmd.Wait()
	p.mx.Lock()
	p.exited = true
	p.state = p.cmd.ProcessState
	p.mx.Unlock()

	drained := make(chan error, 1)
	go func() {
		drained <- g.Wait()
	}()
	var pumpErr error
	select {
	case pumpErr = <-drained:
	case <-time.After(grace):
		slog.DebugContext(ctx, "output still open after exit: closing", "pid", p.cmd.Process.Pid)
		_ = p.stdout.Close()
		pumpErr = <-drained
	}
	_ = p.stdout.Close()
	if pumpErr != nil && !errors.Is(pumpErr, os.ErrClosed) {
		slog.ErrorContext(ctx, "processing output", "error", pumpErr)
	}

	slog.DebugContext(ctx, "process exited", "pid", p.cmd.Process.Pid, "exit_code", p.cmd.ProcessState.ExitCode(), "error", err)
	p.exit(err == nil)
}

func (p *Process) pump() error {
	scanner := bufio.NewScanner(p.stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	scanner.Split(scanLines)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		if !utf8.ValidString(line) {
			line = strings.ToValidUTF8(line, "�")
		}
		p.deliver(line)
	}
	err := scanner.Err()
	if err != nil {
		// keep the pipe flowing so the child never blocks on a full pipe
		_, _ = io.Copy(io.Discard, p.stdout)
	}
	return err
}

// scanLines is bufio.ScanLines which also treats a lone '\r' as a line end.
// Download tools redraw progress with carriage returns.
func scanLines(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		if data[i] == '\r' && i+1 < len(data) && data[i+1] == '\n' {
			return i + 2, data[:i], nil
		}
		if data[i] == '\r' && i+1 == len(data) && !atEOF {
			// might be the first half of \r\n
			return 0, nil, nil
		}
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	if len(data) >= maxLineSize {
		return len(data), data, nil
	}
	return 0, nil, nil
}

func (p *Process) deliver(line string) {
	p.mx.Lock()
	defer p.mx.Unlock()
	if p.terminated || p.onLine == nil {
		return
	}
	p.onLine(line)
}

func (p *Process) exit(success bool) {
	p.exitOnce.Do(func() {
		p.mx.Lock()
		if p.terminated {
			success = false
		}
		p.exited = true
		p.reported = true
		p.mx.Unlock()
		if p.onExit != nil {
			p.onExit(success)
		}
		close(p.done)
	})
}

// Terminate kills the process and everything it spawned. Until the exit is
// reported this includes descendants which outlived the main process.
func (p *Process) Terminate() {
	p.mx.Lock()
	if p.terminated || p.reported || p.cmd == nil {
		p.terminated = true
		p.mx.Unlock()
		return
	}
	p.terminated = true
	cmd, stdout := p.cmd, p.stdout
	p.mx.Unlock()

	if err := killProcessGroup(cmd); err != nil && !errors.Is(err, os.ErrProcessDone) {
		slog.Warn("terminating process failed", "pid", cmd.Process.Pid, "error", err)
	}
	// lines are not delivered anymore, stop draining
	_ = stdout.Close()
}

// Done is closed after onExit returned.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// ExitCode reports the exit code of a finished process or -1.
func (p *Process) ExitCode() int {
	p.mx.Lock()
	defer p.mx.Unlock()
	if p.state == nil {
		return -1
	}
	return p.state.ExitCode()
}
