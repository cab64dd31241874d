// Command autocapture is the CLI surface for the local screen-capture
// evidence pipeline (§6 EXTERNAL INTERFACES): handoff ingestion, the
// idle-gated batch loop, metadata-only query, consent management,
// backup export/restore, and the localhost query HTTP server. Each
// subcommand uses the same args[1]-dispatch, flag.NewFlagSet-per-
// subcommand parsing, and testable Run(args, stdout, stderr) int shape.
package main

import (
	"fmt"
	"io"
	"os"
)

// Exit codes per §6: 0 success, 2 consent not accepted, 3
// preflight/evidence failure, other nonzero = internal error.
const (
	exitOK                    = 0
	exitConsentDenied         = 2
	exitPreflightOrNoEvidence = 3
	exitInternalError         = 1
)

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run is the CLI entrypoint, separated from main for testability.
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		printUsage(stdout)
		return exitInternalError
	}

	switch args[1] {
	case "handoff":
		return runHandoffCmd(args[2:], stdout, stderr)
	case "batch":
		return runBatchCmd(args[2:], stdout, stderr)
	case "query":
		return runQueryCmd(args[2:], stdout, stderr)
	case "consent":
		return runConsentCmd(args[2:], stdout, stderr)
	case "backup":
		return runBackupCmd(args[2:], stdout, stderr)
	case "serve":
		return runServeCmd(args[2:], stdout, stderr)
	case "help", "--help", "-h":
		printUsage(stdout)
		return exitOK
	default:
		fmt.Fprintf(stderr, "unknown command: %s\n", args[1])
		printUsage(stderr)
		return exitInternalError
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "autocapture — local screen-capture evidence pipeline")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "USAGE:")
	fmt.Fprintln(w, "  autocapture <command> [flags]")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "COMMANDS:")
	fmt.Fprintln(w, "  handoff ingest --handoff-root PATH --data-dir PATH [--mode copy|hardlink] [--strict]")
	fmt.Fprintln(w, "  handoff drain  --spool-root PATH --data-dir PATH")
	fmt.Fprintln(w, "  batch run      --data-dir PATH [--activity-signal PATH]")
	fmt.Fprintln(w, "  batch process  --data-dir PATH [--activity-signal PATH] [--session-id ID] [--ocr-model-cmd PATH] [--ui-parse-model-cmd PATH] [--window-seconds N] [--once]")
	fmt.Fprintln(w, "  query          --data-dir PATH --text QUERY [--app APP] [--since MS] [--until MS]")
	fmt.Fprintln(w, "  consent status --data-dir PATH")
	fmt.Fprintln(w, "  consent accept --data-dir PATH")
	fmt.Fprintln(w, "  backup create  --data-dir PATH --out PATH")
	fmt.Fprintln(w, "  backup restore --in PATH --data-dir PATH")
	fmt.Fprintln(w, "  serve          [--data-dir PATH] [--denylist-expr CEL] [--export-expr CEL]")
}
