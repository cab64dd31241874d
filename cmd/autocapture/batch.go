package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"time"

	"github.com/ninjra/autocapture-pipeline/pkg/artifact"
	"github.com/ninjra/autocapture-pipeline/pkg/casstore"
	"github.com/ninjra/autocapture-pipeline/pkg/scheduler"
)

// frameBacklog implements scheduler.BacklogSource against the CAS
// store's projection table: unprocessed work is frames that have not
// yet produced a screen_state record (§4.4 backlog accounting, driven
// by the extraction DAG's frame -> screen_state transition).
type frameBacklog struct {
	store *casstore.Store
}

func (b frameBacklog) scanWindow(ctx context.Context, now time.Time) ([]string, map[string]bool, error) {
	tr := casstore.TimeRange{StartMs: 0, EndMs: now.UnixMilli()}
	frames, err := b.store.ScanByKind(ctx, artifact.KindFrame, tr)
	if err != nil {
		return nil, nil, err
	}
	states, err := b.store.ScanByKind(ctx, artifact.KindScreenState, tr)
	if err != nil {
		return nil, nil, err
	}
	processed := make(map[string]bool, len(states))
	for _, id := range states {
		env, err := b.store.GetRecord(ctx, id)
		if err != nil {
			continue
		}
		for _, in := range env.Provenance.InputArtifactIDs {
			processed[in] = true // the frame this screen_state was built from
		}
	}
	return frames, processed, nil
}

func (b frameBacklog) BacklogSize(ctx context.Context) (int64, error) {
	frames, processed, err := b.scanWindow(ctx, time.Now())
	if err != nil {
		return 0, err
	}
	var n int64
	for _, id := range frames {
		if !processed[id] {
			n++
		}
	}
	return n, nil
}

func (b frameBacklog) OldestUnprocessedAge(ctx context.Context, now time.Time) (time.Duration, error) {
	frames, processed, err := b.scanWindow(ctx, now)
	if err != nil {
		return 0, err
	}
	for _, id := range frames {
		if processed[id] {
			continue
		}
		_, createdTsMs, _, err := b.store.GetRawRecord(ctx, id)
		if err != nil {
			continue
		}
		return now.Sub(time.UnixMilli(createdTsMs)), nil
	}
	return 0, nil
}

func freeBytesOf(path string) (int64, error) {
	var stat diskStat
	if err := statFS(path, &stat); err != nil {
		return 0, err
	}
	return stat.AvailBytes, nil
}

func runBatchCmd(args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		fmt.Fprintln(stderr, "usage: batch <run|process> --data-dir PATH [--activity-signal PATH] [--once]")
		return exitInternalError
	}
	if args[0] == "process" {
		return runBatchProcessCmd(args, stdout, stderr)
	}
	if args[0] != "run" {
		fmt.Fprintln(stderr, "usage: batch <run|process> --data-dir PATH [--activity-signal PATH] [--once]")
		return exitInternalError
	}
	fs := flag.NewFlagSet("batch run", flag.ContinueOnError)
	fs.SetOutput(stderr)
	dataDir := fs.String("data-dir", "", "data directory (required)")
	activitySignal := fs.String("activity-signal", "", "path to activity_signal.json (defaults to DATA_DIR/activity/activity_signal.json)")
	yellowBytes := fs.Int64("yellow-below-bytes", 20<<30, "storage-pressure yellow threshold")
	redBytes := fs.Int64("red-below-bytes", 10<<30, "storage-pressure red threshold")
	blackBytes := fs.Int64("black-below-bytes", 2<<30, "storage-pressure black threshold")
	once := fs.Bool("once", false, "evaluate a single tick and exit instead of looping")
	if err := fs.Parse(args[1:]); err != nil {
		return exitInternalError
	}
	if *dataDir == "" {
		fmt.Fprintln(stderr, "--data-dir is required")
		return exitInternalError
	}
	if code := requireConsent(*dataDir, stderr); code != exitOK {
		return code
	}
	if *activitySignal == "" {
		*activitySignal = *dataDir + "/activity/activity_signal.json"
	}

	store, err := casstore.Open(*dataDir + "/metadata.db")
	if err != nil {
		fmt.Fprintf(stderr, "batch run: %v\n", err)
		return exitInternalError
	}
	defer store.Close()

	thresholds := scheduler.PressureThresholds{
		YellowBelowBytes: *yellowBytes,
		RedBelowBytes:    *redBytes,
		BlackBelowBytes:  *blackBytes,
	}
	sched := scheduler.New(*activitySignal, frameBacklog{store: store}, func() (int64, error) {
		return freeBytesOf(*dataDir)
	}, thresholds, nil, nil)

	ctx := context.Background()
	for {
		decision, err := sched.Tick(ctx)
		if err != nil {
			fmt.Fprintf(stderr, "batch run: tick failed: %v\n", err)
			return exitInternalError
		}

		enc := json.NewEncoder(stdout)
		_ = enc.Encode(decision)

		if *once {
			return exitOK
		}
		time.Sleep(sched.TickInterval())
	}
}

// diskStat and statFS are defined per-platform in statfs_*.go.
type diskStat struct {
	AvailBytes int64
}

var errStatUnsupported = errors.New("disk free-space query unsupported on this platform")
