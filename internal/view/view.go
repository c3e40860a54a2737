// Package view renders scheduler snapshots as terminal text.
package view

import (
	"fmt"
	"io"
	"strings"

	"github.com/CZERTAINLY/batchdl/internal/model"
)

// Status is the one line summary of a snapshot.
func Status(snap model.Snapshot) string {
	switch {
	case snap.Running:
		return fmt.Sprintf("slots: %d | done: %d/%d", snap.ActiveSlots(), snap.Completed, snap.Total)
	case snap.Completed > 0:
		return fmt.Sprintf("finished: %d job(s)", snap.Completed)
	default:
		return "ready"
	}
}

// JobLine describes a single job, e.g. "job 2  running(slot 1)  https://...".
func JobLine(j model.JobView) string {
	state := j.State.String()
	if j.State == model.JobRunning && j.Slot >= 0 {
		state = fmt.Sprintf("running(slot %d)", j.Slot+1)
	}
	return fmt.Sprintf("job %d  %-16s %s", j.Number(), state, j.URL)
}

// Summary is the status line followed by one line per job.
func Summary(snap model.Snapshot) string {
	var b strings.Builder
	b.WriteString(Status(snap))
	b.WriteByte('\n')
	for _, j := range snap.Jobs {
		b.WriteString(JobLine(j))
		b.WriteByte('\n')
	}
	return b.String()
}

// Frame is Summary plus the last tail lines of every slot log. tail <= 0
// shows whole logs.
func Frame(snap model.Snapshot, tail int) string {
	var b strings.Builder
	b.WriteString(Summary(snap))
	for _, s := range snap.Slots {
		b.WriteByte('\n')
		if s.Active {
			fmt.Fprintf(&b, "--- slot %d: job %d ---\n", s.Index+1, s.JobID+1)
		} else {
			fmt.Fprintf(&b, "--- slot %d: idle ---\n", s.Index+1)
		}
		lines := s.Lines
		if tail > 0 && len(lines) > tail {
			lines = lines[len(lines)-tail:]
		}
		for _, l := range lines {
			b.WriteString(l)
			b.WriteByte('\n')
		}
	}
	return b.String()
}

// Render writes Frame(snap, tail) to w.
func Render(w io.Writer, snap model.Snapshot, tail int) error {
	_, err := io.WriteString(w, Frame(snap, tail))
	return err
}
