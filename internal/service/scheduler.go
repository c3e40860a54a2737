package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/CZERTAINLY/batchdl/internal/log"
	"github.com/CZERTAINLY/batchdl/internal/model"
)

// CommandBuilder turns a job into the command which downloads it.
type CommandBuilder interface {
	Build(url string, audio bool, dir string) (Command, error)
}

// CommandBuilderFunc adapts a function to CommandBuilder.
type CommandBuilderFunc func(url string, audio bool, dir string) (Command, error)

func (f CommandBuilderFunc) Build(url string, audio bool, dir string) (Command, error) {
	return f(url, audio, dir)
}

// DirFunc supplies the directory downloads are written to.
type DirFunc func() (string, error)

// Scheduler runs batches of jobs on model.Slots slots.
type Scheduler struct {
	mx       sync.Mutex
	launcher Launcher
	commands CommandBuilder
	dir      DirFunc
	b        *batch
	ctx      context.Context
	done     chan struct{}
	updates  chan struct{}
}

func NewScheduler(launcher Launcher, commands CommandBuilder, dir DirFunc) *Scheduler {
	return &Scheduler{
		launcher: launcher,
		commands: commands,
		dir:      dir,
		b:        newBatch(),
		ctx:      context.Background(),
		updates:  make(chan struct{}, 1),
	}
}

// Submit starts a batch of up to model.MaxJobs URLs and returns without
// waiting for the downloads. Inputs which are empty after normalization are
// skipped; a batch without any URL is a no-op. It returns
// model.ErrBatchRunning while another batch runs.
func (s *Scheduler) Submit(ctx context.Context, urls []string, audio bool) error {
	if len(urls) > model.MaxJobs {
		return fmt.Errorf("%w: got %d, max %d", model.ErrTooManyJobs, len(urls), model.MaxJobs)
	}
	jobs := model.NewJobs(urls)
	if len(jobs) == 0 {
		slog.DebugContext(ctx, "nothing to download: ignoring submit")
		return nil
	}

	// before resolving the directory; batch.submit checks again
	s.mx.Lock()
	running := s.b.running
	s.mx.Unlock()
	if running {
		return model.ErrBatchRunning
	}

	var dir string
	if s.dir != nil {
		var err error
		dir, err = s.dir()
		if err != nil {
			return fmt.Errorf("resolving download directory: %w", err)
		}
	}

	id := uuid.NewString()
	s.mx.Lock()
	intents, err := s.b.submit(id, jobs, audio, dir)
	if err != nil {
		s.mx.Unlock()
		return err
	}
	s.ctx = log.ContextAttrs(context.WithoutCancel(ctx), slog.String("batch", id))
	if s.done != nil {
		close(s.done)
	}
	s.done = make(chan struct{})
	slog.InfoContext(s.ctx, "batch started", "jobs", len(jobs), "audio", audio, "dir", dir)
	s.settle()
	s.mx.Unlock()

	s.notify()
	s.apply(intents)
	return nil
}

// CancelAll discards queued jobs and terminates running ones. Slots are freed
// when their processes exit; nothing is dispatched afterwards. Cancelling an
// idle scheduler is a no-op.
func (s *Scheduler) CancelAll() {
	s.mx.Lock()
	wasRunning := s.b.running
	intents := s.b.cancel()
	if wasRunning {
		for i := range s.b.slots {
			if !s.b.slots[i].idle() {
				s.b.slots[i].log.Append("--- cancelled ---")
			}
		}
	}
	if wasRunning {
		slog.InfoContext(s.ctx, "batch cancelled", "terminating", len(intents))
	}
	s.settle()
	s.mx.Unlock()

	s.notify()
	s.apply(intents)
}

// Snapshot returns a copy of the state for presentation.
func (s *Scheduler) Snapshot() model.Snapshot {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.b.snapshot()
}

// Updates signals state changes. Signals are coalesced, so a reader should
// take a fresh Snapshot after each receive.
func (s *Scheduler) Updates() <-chan struct{} {
	return s.updates
}

// Wait blocks until the current batch is not running and all its processes
// exited, or ctx is done.
func (s *Scheduler) Wait(ctx context.Context) error {
	s.mx.Lock()
	done := s.done
	s.mx.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) apply(intents []intent) {
	for len(intents) > 0 {
		it := intents[0]
		intents = intents[1:]
		switch it.kind {
		case intentTerminate:
			it.handle.Terminate()
		case intentStart:
			intents = append(intents, s.start(it)...)
		}
	}
}

func (s *Scheduler) start(it intent) []intent {
	s.mx.Lock()
	audio, dir, ctx := s.b.audio, s.b.dir, s.ctx
	s.mx.Unlock()

	cmd, err := s.commands.Build(it.job.URL, audio, dir)
	if err != nil {
		slog.WarnContext(ctx, "building command failed", "job", it.job.ID, "error", err)
		s.mx.Lock()
		if s.b.live(it.slot, it.gen) {
			s.b.slots[it.slot].log.Append("error: " + err.Error())
		}
		more := s.finished(it.slot, it.gen, false)
		s.mx.Unlock()
		s.notify()
		return more
	}

	s.mx.Lock()
	if !s.b.live(it.slot, it.gen) {
		// cancelled before the process was launched
		more := s.finished(it.slot, it.gen, false)
		s.mx.Unlock()
		s.notify()
		return more
	}
	s.b.slots[it.slot].log.Append(
		fmt.Sprintf("=== job %d started ===", it.job.Number()),
		"command: "+strings.Join(cmd.Argv(), " "),
		"directory: "+cmd.Dir,
		"",
	)
	s.mx.Unlock()
	slog.InfoContext(ctx, "job started", "job", it.job.ID, "slot", it.slot, "url", it.job.URL)
	s.notify()

	h := s.launcher.Launch(ctx, cmd, s.lineFunc(it.slot, it.gen), s.exitFunc(it.slot, it.gen))

	s.mx.Lock()
	terminate := s.b.attach(it.slot, it.gen, h)
	s.mx.Unlock()
	if terminate {
		h.Terminate()
	}
	return nil
}

func (s *Scheduler) lineFunc(idx int, gen uint64) LineFunc {
	return func(line string) {
		s.mx.Lock()
		live := s.b.live(idx, gen)
		if live {
			s.b.slots[idx].log.Append(line)
		}
		s.mx.Unlock()
		if live {
			s.notify()
		}
	}
}

func (s *Scheduler) exitFunc(idx int, gen uint64) ExitFunc {
	return func(success bool) {
		s.mx.Lock()
		intents := s.finished(idx, gen, success)
		s.mx.Unlock()
		s.notify()
		s.apply(intents)
	}
}

// finished records the exit of the job in slot idx and refills the slots.
// Must be called with s.mx held.
func (s *Scheduler) finished(idx int, gen uint64, success bool) []intent {
	job, state, ok := s.b.release(idx, gen, success)
	if !ok {
		return nil
	}
	sink := s.b.slots[idx].log
	switch state {
	case model.JobCompleted:
		sink.Append(fmt.Sprintf("✓ job %d finished", job.Number()))
		slog.InfoContext(s.ctx, "job finished", "job", job.ID, "slot", idx)
	case model.JobFailed:
		sink.Append(fmt.Sprintf("✗ job %d failed", job.Number()))
		slog.WarnContext(s.ctx, "job failed", "job", job.ID, "slot", idx)
	default:
		slog.DebugContext(s.ctx, "job cancelled", "job", job.ID, "slot", idx)
	}
	intents := s.b.dispatch()
	s.settle()
	return intents
}

// settle closes done once the batch has nothing left to run.
// Must be called with s.mx held.
func (s *Scheduler) settle() {
	if s.done == nil || !s.b.settled() {
		return
	}
	snap := s.b.snapshot()
	slog.InfoContext(s.ctx, "batch finished", "completed", snap.Completed, "failed", snap.Failed, "total", snap.Total)
	close(s.done)
	s.done = nil
}

func (s *Scheduler) notify() {
	select {
	case s.updates <- struct{}{}:
	default:
	}
}
