package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"

	"github.com/ninjra/autocapture-pipeline/pkg/artifact"
	"github.com/ninjra/autocapture-pipeline/pkg/casstore"
	"github.com/ninjra/autocapture-pipeline/pkg/evidence"
	"github.com/ninjra/autocapture-pipeline/pkg/perr"
	"github.com/ninjra/autocapture-pipeline/pkg/tape"
)

// loadTapeReader rebuilds an in-memory tape.Reader from the CAS store's
// persisted state_span/state_edge records in [startMs, endMs]. This is
// the local, same-process counterpart to pkg/queryapi's HTTP surface —
// both ultimately drive the same evidence.Compiler.
func loadTapeReader(ctx context.Context, store *casstore.Store, startMs, endMs int64) (*tape.Reader, error) {
	tr := casstore.TimeRange{StartMs: startMs, EndMs: endMs}

	spanIDs, err := store.ScanByKind(ctx, artifact.KindStateSpan, tr)
	if err != nil {
		return nil, err
	}
	edgeIDs, err := store.ScanByKind(ctx, artifact.KindStateEdge, tr)
	if err != nil {
		return nil, err
	}

	spans := make([]tape.StateSpan, 0, len(spanIDs))
	for _, id := range spanIDs {
		env, err := store.GetRecord(ctx, id)
		if err != nil {
			continue
		}
		var span tape.StateSpan
		if err := remarshal(env.Payload, &span); err != nil {
			continue
		}
		spans = append(spans, span)
	}

	edges := make([]tape.StateEdge, 0, len(edgeIDs))
	for _, id := range edgeIDs {
		env, err := store.GetRecord(ctx, id)
		if err != nil {
			continue
		}
		var edge tape.StateEdge
		if err := remarshal(env.Payload, &edge); err != nil {
			continue
		}
		edges = append(edges, edge)
	}

	return tape.NewReader(spans, edges), nil
}

func remarshal(payload interface{}, out interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

func runQueryCmd(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("query", flag.ContinueOnError)
	fs.SetOutput(stderr)
	dataDir := fs.String("data-dir", "", "data directory (required)")
	text := fs.String("text", "", "free-text query")
	app := fs.String("app", "", "filter to a single app")
	since := fs.Int64("since", 0, "inclusive start of time range, epoch ms")
	until := fs.Int64("until", 0, "inclusive end of time range, epoch ms (0 = no upper bound)")
	topK := fs.Int("top-k", 8, "max hits to return")
	denylist := fs.String("denylist-expr", "", "CEL expression denying apps from this query")
	exportExpr := fs.String("export-expr", "", "CEL expression granting text export for this query")
	if err := fs.Parse(args); err != nil {
		return exitInternalError
	}
	if *dataDir == "" {
		fmt.Fprintln(stderr, "--data-dir is required")
		return exitInternalError
	}
	if code := requireConsent(*dataDir, stderr); code != exitOK {
		return code
	}
	if *until == 0 {
		*until = 1<<62
	}

	store, err := casstore.Open(*dataDir + "/metadata.db")
	if err != nil {
		fmt.Fprintf(stderr, "query: %v\n", err)
		return exitInternalError
	}
	defer store.Close()

	ctx := context.Background()
	reader, err := loadTapeReader(ctx, store, *since, *until)
	if err != nil {
		fmt.Fprintf(stderr, "query: %v\n", err)
		return exitInternalError
	}

	gate, err := evidence.NewPolicyGate(*denylist, *exportExpr)
	if err != nil {
		fmt.Fprintf(stderr, "query: %v\n", err)
		return exitInternalError
	}

	comp := &evidence.Compiler{Spans: reader, Policy: gate, DefaultTopK: 8, MaxTopK: 64}
	bundle, err := comp.Compile(ctx, evidence.QueryFilters{
		TimeStartMs: *since,
		TimeEndMs:   *until,
		App:         *app,
		QueryText:   *text,
		TopK:        *topK,
	})
	if err != nil {
		if perr.Is(err, perr.KindNoEvidence) {
			fmt.Fprintln(stdout, "no evidence")
			return exitPreflightOrNoEvidence
		}
		fmt.Fprintf(stderr, "query: %v\n", err)
		return exitInternalError
	}

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(bundle)
	return exitOK
}
