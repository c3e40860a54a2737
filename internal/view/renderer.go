package view

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/mattn/go-isatty"
	"golang.org/x/time/rate"

	"github.com/CZERTAINLY/batchdl/internal/model"
)

const (
	// DefaultFPS bounds redraws per second.
	DefaultFPS = 10
	// DefaultTail is the number of log lines shown per slot while redrawing.
	DefaultTail = 8

	clearScreen = "\x1b[H\x1b[2J"
)

// Source is what a Renderer observes; service.Scheduler implements it.
type Source interface {
	Snapshot() model.Snapshot
	Updates() <-chan struct{}
}

// Renderer redraws a Source on every update, at most fps times per second.
// On a terminal it repaints the whole frame, otherwise it prints the summary
// whenever it changed.
type Renderer struct {
	w       io.Writer
	limiter *rate.Limiter
	redraw  bool
	tail    int
	last    string
}

func NewRenderer(w io.Writer, fps int) *Renderer {
	if fps <= 0 {
		fps = DefaultFPS
	}
	return &Renderer{
		w:       w,
		limiter: rate.NewLimiter(rate.Every(time.Second/time.Duration(fps)), 1),
		redraw:  IsTerminal(w),
		tail:    DefaultTail,
	}
}

// IsTerminal reports whether w is a terminal.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// Run draws src until ctx is done and then draws the last state once more.
// Updates which arrive while waiting for the limiter are folded into the
// next draw.
func (r *Renderer) Run(ctx context.Context, src Source) error {
	if err := r.Draw(src.Snapshot()); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return r.Draw(src.Snapshot())
		case <-src.Updates():
		}
		if err := r.limiter.Wait(ctx); err != nil {
			return r.Draw(src.Snapshot())
		}
		if err := r.Draw(src.Snapshot()); err != nil {
			return err
		}
	}
}

// Draw writes snap unless it looks the same as the previous draw.
func (r *Renderer) Draw(snap model.Snapshot) error {
	var out string
	if r.redraw {
		out = Frame(snap, r.tail)
	} else {
		out = Summary(snap)
	}
	if out == r.last {
		return nil
	}
	r.last = out
	if r.redraw {
		out = clearScreen + out
	}
	_, err := io.WriteString(r.w, out)
	return err
}
