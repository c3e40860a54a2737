package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/CZERTAINLY/batchdl/internal/downloader"
	"github.com/CZERTAINLY/batchdl/internal/log"
	"github.com/CZERTAINLY/batchdl/internal/model"
	"github.com/CZERTAINLY/batchdl/internal/service"
	"github.com/CZERTAINLY/batchdl/internal/view"
)

func doRun(cmd *cobra.Command, args []string) error {
	attrs := slog.Group("batchdl",
		slog.String("cmd", "run"),
		slog.Int("pid", os.Getpid()),
	)
	ctx := log.ContextAttrs(cmd.Context(), attrs)

	dir := config.DownloadDir
	if flagDir != "" {
		dir = flagDir
	}
	runner := service.NewRunner().WithGracePeriod(config.Service.Grace())
	builder := downloader.NewBuilder(config.Downloader, os.Environ())
	sched := service.NewScheduler(runner, builder, downloader.DirFunc(dir))

	// catch the signals before anything starts
	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := sched.Submit(ctx, args, flagAudio); err != nil {
		return err
	}
	if sched.Snapshot().Total == 0 {
		return errors.New("nothing to download: all URLs are empty")
	}

	out := cmd.OutOrStdout()
	renderCtx, stopRender := context.WithCancel(ctx)
	defer stopRender()

	var g errgroup.Group
	g.Go(func() error {
		return view.NewRenderer(out, view.DefaultFPS).Run(renderCtx, sched)
	})
	g.Go(func() error {
		defer stopRender()
		if err := sched.Wait(sigCtx); err == nil {
			return nil
		}
		// a second signal kills batchdl right away
		stop()
		slog.WarnContext(ctx, "interrupted: cancelling downloads")
		sched.CancelAll()
		return sched.Wait(ctx)
	})
	if err := g.Wait(); err != nil {
		return err
	}

	snap := sched.Snapshot()
	if !view.IsTerminal(out) {
		if err := view.Render(out, snap, 0); err != nil {
			return err
		}
	}
	return result(snap)
}

// result turns an unsuccessful batch into an error, so the exit code
// tells scripts about partial downloads.
func result(snap model.Snapshot) error {
	var cancelled int
	for _, j := range snap.Jobs {
		if j.State == model.JobCancelled {
			cancelled++
		}
	}
	switch {
	case cancelled > 0:
		return fmt.Errorf("batch cancelled: %d of %d job(s) completed", snap.Completed, snap.Total)
	case snap.Failed > 0:
		return fmt.Errorf("%d of %d job(s) failed", snap.Failed, snap.Total)
	default:
		return nil
	}
}
