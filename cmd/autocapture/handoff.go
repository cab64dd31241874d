package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/ninjra/autocapture-pipeline/pkg/audit"
	"github.com/ninjra/autocapture-pipeline/pkg/casstore"
	"github.com/ninjra/autocapture-pipeline/pkg/ingest"
)

func openDataRoot(dataDir string) (*casstore.Store, *casstore.BlobStore, *audit.Store, error) {
	store, err := casstore.Open(filepath.Join(dataDir, "metadata.db"))
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open metadata.db: %w", err)
	}
	blobs, err := casstore.NewBlobStore(filepath.Join(dataDir, "media"), store)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open blob store: %w", err)
	}
	auditLog, err := audit.Open(filepath.Join(dataDir, "audit.db"))
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open audit.db: %w", err)
	}
	return store, blobs, auditLog, nil
}

func runHandoffCmd(args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		fmt.Fprintln(stderr, "usage: handoff <ingest|drain> --data-dir PATH ...")
		return exitInternalError
	}

	switch args[0] {
	case "ingest":
		return runHandoffIngest(args[1:], stdout, stderr)
	case "drain":
		return runHandoffDrain(args[1:], stdout, stderr)
	default:
		fmt.Fprintf(stderr, "unknown handoff subcommand: %s\n", args[0])
		return exitInternalError
	}
}

func runHandoffIngest(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("handoff ingest", flag.ContinueOnError)
	fs.SetOutput(stderr)
	handoffRoot := fs.String("handoff-root", "", "handoff directory to ingest (required)")
	dataDir := fs.String("data-dir", "", "destination data directory (required)")
	mode := fs.String("mode", "hardlink", "media transfer mode: hardlink|copy")
	strict := fs.Bool("strict", false, "fail on any record-level inconsistency instead of skipping")
	if err := fs.Parse(args); err != nil {
		return exitInternalError
	}
	if *handoffRoot == "" || *dataDir == "" {
		fmt.Fprintln(stderr, "--handoff-root and --data-dir are required")
		return exitInternalError
	}
	if code := requireConsent(*dataDir, stderr); code != exitOK {
		return code
	}

	var m ingest.Mode
	switch *mode {
	case "hardlink":
		m = ingest.ModeHardlink
	case "copy":
		m = ingest.ModeCopy
	default:
		fmt.Fprintf(stderr, "unknown --mode %q: want hardlink|copy\n", *mode)
		return exitInternalError
	}

	store, blobs, auditLog, err := openDataRoot(*dataDir)
	if err != nil {
		fmt.Fprintf(stderr, "handoff ingest: %v\n", err)
		return exitInternalError
	}

	in := ingest.New(*dataDir, store, blobs, auditLog)
	result, err := in.Ingest(context.Background(), *handoffRoot, m, *strict)
	if err != nil {
		fmt.Fprintf(stderr, "handoff ingest: %v\n", err)
		return exitPreflightOrNoEvidence
	}

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(result.Marker)
	return exitOK
}

func runHandoffDrain(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("handoff drain", flag.ContinueOnError)
	fs.SetOutput(stderr)
	spoolRoot := fs.String("spool-root", "", "directory containing one or more handoff subdirectories (required)")
	dataDir := fs.String("data-dir", "", "destination data directory (required)")
	mode := fs.String("mode", "hardlink", "media transfer mode: hardlink|copy")
	if err := fs.Parse(args); err != nil {
		return exitInternalError
	}
	if *spoolRoot == "" || *dataDir == "" {
		fmt.Fprintln(stderr, "--spool-root and --data-dir are required")
		return exitInternalError
	}
	if code := requireConsent(*dataDir, stderr); code != exitOK {
		return code
	}

	var m ingest.Mode
	switch *mode {
	case "hardlink":
		m = ingest.ModeHardlink
	case "copy":
		m = ingest.ModeCopy
	default:
		fmt.Fprintf(stderr, "unknown --mode %q: want hardlink|copy\n", *mode)
		return exitInternalError
	}

	entries, err := os.ReadDir(*spoolRoot)
	if err != nil {
		fmt.Fprintf(stderr, "handoff drain: %v\n", err)
		return exitInternalError
	}

	store, blobs, auditLog, err := openDataRoot(*dataDir)
	if err != nil {
		fmt.Fprintf(stderr, "handoff drain: %v\n", err)
		return exitInternalError
	}
	in := ingest.New(*dataDir, store, blobs, auditLog)

	ingested, failed := 0, 0
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		root := filepath.Join(*spoolRoot, e.Name())
		result, err := in.Ingest(context.Background(), root, m, false)
		if err != nil {
			fmt.Fprintf(stderr, "handoff drain: %s: %v\n", e.Name(), err)
			failed++
			continue
		}
		ingested++
		fmt.Fprintf(stdout, "%s: ingested %d records, %d bytes\n", e.Name(), result.Marker.Counts.MetadataRowsCopied, result.Marker.Counts.BytesIngested)
	}

	fmt.Fprintf(stdout, "drain complete: %d ingested, %d failed\n", ingested, failed)
	if failed > 0 && ingested == 0 {
		return exitPreflightOrNoEvidence
	}
	return exitOK
}
