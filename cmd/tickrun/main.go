package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tickrun/internal/app"
	"tickrun/internal/storage"
)

func main() {
	var (
		cfgPath string
		runs    int
	)
	flag.StringVar(&cfgPath, "config", "./tickrun.yaml", "path to config (yaml or json)")
	flag.IntVar(&runs, "runs", 0, "print the last N recorded runs and exit")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if runs > 0 {
		os.Exit(printRuns(ctx, cfgPath, runs))
	}

	a, err := app.New(cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}

	if err := a.Start(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "fatal start:", err)
		_ = a.Stop(context.Background())
		os.Exit(1)
	}

	progress := progressSignals()
	defer signal.Stop(progress)
wait:
	for {
		select {
		case <-ctx.Done():
			break wait
		case <-a.Done():
			break wait
		case <-progress:
			a.LogProgress("signal")
		}
	}

	if err := a.Stop(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "stop:", err)
	}
	if err := a.Err(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
	sum, ok := a.Summary()
	if !ok || !sum.Succeeded() {
		os.Exit(1)
	}
}

func printRuns(ctx context.Context, cfgPath string, limit int) int {
	list, err := app.RecentRuns(ctx, cfgPath, limit)
	if errors.Is(err, storage.ErrDisabled) {
		fmt.Fprintln(os.Stderr, "storage is disabled in", cfgPath)
		return 1
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "runs:", err)
		return 1
	}
	for _, r := range list {
		line := fmt.Sprintf("%s  %-12s submitted=%d finished=%d failed=%d discarded=%d took=%s",
			r.StartedAt.Local().Format(time.DateTime), r.Runner,
			r.Submitted, r.Finished, r.Failed, r.Discarded,
			r.StoppedAt.Sub(r.StartedAt).Round(time.Millisecond))
		if r.Fault != "" {
			line += " fault=" + r.Fault
		}
		fmt.Println(line)
	}
	return 0
}
