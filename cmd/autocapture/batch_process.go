package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/ninjra/autocapture-pipeline/pkg/artifact"
	"github.com/ninjra/autocapture-pipeline/pkg/casstore"
	"github.com/ninjra/autocapture-pipeline/pkg/extract"
	"github.com/ninjra/autocapture-pipeline/pkg/pluginrt"
	"github.com/ninjra/autocapture-pipeline/pkg/scheduler"
	"github.com/ninjra/autocapture-pipeline/pkg/tape"
)

// frameChainState carries the Extraction DAG's cross-frame inputs
// (§4.5: temporal.segment/match.ids compare the current frame against
// the previous one) between successive DAG.Run calls in the process
// loop below. DAG.Run itself is stateless per call — it never returns
// its bag, only invokes commit per node — so the caller owns this.
type frameChainState struct {
	signatures []extract.ElementSignature
	phash      uint64
	gray       []byte
	state      extract.ScreenState
	codeLines  []extract.CodeLine
}

func (s *frameChainState) initialInputs(frame *extract.Frame) map[string]interface{} {
	return map[string]interface{}{
		"frame":           frame,
		"prev_signatures": s.signatures,
		"prev_phash":      s.phash,
		"prev_gray":       s.gray,
		"prev_state":      s.state,
		"prev_code_lines": s.codeLines,
	}
}

// advance folds this frame's committed node results into the carry-
// forward state for the next call to initialInputs. prev_gray is
// recomputed straight from the frame buffer rather than threaded
// through the bag, since no node provides it (it is purely a caller-
// supplied comparison input to temporal.segment).
func (s *frameChainState) advance(frame *extract.Frame, results map[string]pluginrt.Result) {
	if frame != nil && frame.WidthPx > 0 && len(frame.Gray) == frame.WidthPx*frame.HeightPx {
		s.gray = extract.DownscaleTo32Gray(frame.Gray, frame.WidthPx, frame.HeightPx)
	}
	if res, ok := results["preprocess.normalize"]; ok && len(res.Items) == 1 {
		if nr, ok := res.Items[0].(extract.NormalizeResult); ok {
			s.phash = nr.PHash
		}
	}
	if res, ok := results["build.state"]; ok && len(res.Items) == 1 {
		if st, ok := res.Items[0].(extract.ScreenState); ok {
			s.state = st
		}
	}
	if res, ok := results["extract.code"]; ok && len(res.Items) == 1 {
		if obs, ok := res.Items[0].(extract.CodeObservation); ok {
			s.codeLines = obs.Lines
		}
	}
	if res, ok := results["match.ids"]; ok {
		sigs := make([]extract.ElementSignature, 0, len(res.Items))
		for _, item := range res.Items {
			if mr, ok := item.(extract.MatchResult); ok {
				sigs = append(sigs, mr.Signature)
			}
		}
		if len(sigs) > 0 {
			s.signatures = sigs
		}
	}
}

// evidenceForFrame is the single-citation EvidenceRef every artifact
// derived from frame carries: the frame's own image blob, timestamped
// at the moment the frame was captured.
func evidenceForFrame(frame *extract.Frame) []artifact.EvidenceRef {
	return []artifact.EvidenceRef{{
		MediaID:   frame.ImageSHA256,
		TsStartMs: frame.TsMs,
		TsEndMs:   frame.TsMs,
		SHA256:    frame.ImageSHA256,
	}}
}

// persistNodeResult commits one DAG node's output as one or more
// Envelopes, per persistedKinds/singleItemKinds (extract_wire.go).
// Nodes with no persisted kind (intermediate, bag-internal signals)
// are a no-op here.
func persistNodeResult(ctx context.Context, store *casstore.Store, pluginID, version string, result pluginrt.Result, frame *extract.Frame, sessionID string, now time.Time) error {
	kind, ok := persistedKinds[pluginID]
	if !ok || len(result.Items) == 0 {
		return nil
	}
	evidence := evidenceForFrame(frame)
	if singleItemKinds[kind] {
		return commitArtifact(ctx, store, kind, pluginID, version, frame.ArtifactID, result.Items[0], evidence, sessionID, now)
	}
	for _, item := range result.Items {
		if err := commitArtifact(ctx, store, kind, pluginID, version, frame.ArtifactID, item, evidence, sessionID, now); err != nil {
			return err
		}
	}
	return nil
}

// frameObservationFrom builds tape.FrameObservation from a frame's
// committed build.state/temporal.segment results, skipping the feed
// when build.state never ran (e.g. demoted this run). A missing
// temporal.segment result feeds a zero-value SegmentDecision.
func frameObservationFrom(frame *extract.Frame, frameArtifactID string, results map[string]pluginrt.Result) (tape.FrameObservation, bool) {
	stateRes, ok := results["build.state"]
	if !ok || len(stateRes.Items) != 1 {
		return tape.FrameObservation{}, false
	}
	state, ok := stateRes.Items[0].(extract.ScreenState)
	if !ok {
		return tape.FrameObservation{}, false
	}
	var segment extract.SegmentDecision
	if segRes, ok := results["temporal.segment"]; ok && len(segRes.Items) == 1 {
		segment, _ = segRes.Items[0].(extract.SegmentDecision)
	}
	return tape.FrameObservation{
		Frame:           *frame,
		State:           state,
		Segment:         segment,
		FrameArtifactID: frameArtifactID,
		Evidence:        evidenceForFrame(frame),
	}, true
}

// persistStateSpan/persistStateEdge wrap a tape.Builder output
// straight into an Envelope: Builder.closeWindow already derives
// StateID/EdgeID and fills Provenance/Evidence itself, so there is no
// NewEnvelope/DeriveID step here, unlike commitArtifact.
func persistStateSpan(ctx context.Context, store *casstore.Store, span *tape.StateSpan, sessionID string) error {
	env := &artifact.Envelope{
		ArtifactID:    span.StateID,
		Kind:          artifact.KindStateSpan,
		SchemaVersion: 1,
		CreatedTsMs:   span.Provenance.CreatedTsMs,
		Producer: artifact.Producer{
			PluginID:      span.Provenance.ProducerPluginID,
			PluginVersion: span.Provenance.ProducerPluginVersion,
			ModelVersion:  span.Provenance.ModelVersion,
			ConfigHash:    span.Provenance.ConfigHash,
		},
		Provenance: span.Provenance,
		Confidence: 1.0,
		Evidence:   span.Evidence,
		Payload:    span,
	}
	proj := casstore.ProjectionRow{ArtifactID: env.ArtifactID, Kind: artifact.KindStateSpan, TsMs: env.CreatedTsMs, SessionID: sessionID}
	_, err := store.PutRecord(ctx, env, proj)
	return err
}

func persistStateEdge(ctx context.Context, store *casstore.Store, edge *tape.StateEdge, sessionID string) error {
	env := &artifact.Envelope{
		ArtifactID:    edge.EdgeID,
		Kind:          artifact.KindStateEdge,
		SchemaVersion: 1,
		CreatedTsMs:   edge.Provenance.CreatedTsMs,
		Producer: artifact.Producer{
			PluginID:      edge.Provenance.ProducerPluginID,
			PluginVersion: edge.Provenance.ProducerPluginVersion,
			ModelVersion:  edge.Provenance.ModelVersion,
			ConfigHash:    edge.Provenance.ConfigHash,
		},
		Provenance: edge.Provenance,
		Confidence: 1.0,
		Evidence:   edge.Evidence,
		Payload:    edge,
	}
	proj := casstore.ProjectionRow{ArtifactID: env.ArtifactID, Kind: artifact.KindStateEdge, TsMs: env.CreatedTsMs, SessionID: sessionID}
	_, err := store.PutRecord(ctx, env, proj)
	return err
}

// runBatchProcessCmd is the subcommand the idle-gated loop actually
// does extraction work in: it ticks the same Idle Gate batch run
// polls, and on an admitted tick walks every backlogged frame through
// the Extraction DAG (component E), persists each node's citable
// output, and feeds the per-frame screen state into the tape builder
// (component F) so query/serve have StateSpan/StateEdge evidence to
// answer against.
func runBatchProcessCmd(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("batch process", flag.ContinueOnError)
	fs.SetOutput(stderr)
	dataDir := fs.String("data-dir", "", "data directory (required)")
	activitySignal := fs.String("activity-signal", "", "path to activity_signal.json (defaults to DATA_DIR/activity/activity_signal.json)")
	sessionID := fs.String("session-id", "default", "session id stamped on committed state spans/edges")
	ocrCmd := fs.String("ocr-model-cmd", "", "external OCR model subprocess (newline-delimited JSON request/response); omit to run without OCR")
	uiParseCmd := fs.String("ui-parse-model-cmd", "", "external UI-parse model subprocess; omit to run without UI parsing")
	windowSeconds := fs.Int("window-seconds", 10, "tape window duration in seconds")
	nodeTimeout := fs.Duration("node-timeout", 10*time.Second, "per-node Extraction DAG timeout")
	yellowBytes := fs.Int64("yellow-below-bytes", 20<<30, "storage-pressure yellow threshold")
	redBytes := fs.Int64("red-below-bytes", 10<<30, "storage-pressure red threshold")
	blackBytes := fs.Int64("black-below-bytes", 2<<30, "storage-pressure black threshold")
	once := fs.Bool("once", false, "process a single admitted batch and exit instead of looping")
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

	store, blobs, auditLog, err := openDataRoot(*dataDir)
	if err != nil {
		fmt.Fprintf(stderr, "batch process: %v\n", err)
		return exitInternalError
	}
	defer store.Close()

	ctx := context.Background()
	// Frame records are ingested verbatim (not Envelope-shaped, see
	// ingest/handoff) and never populate metadata_projection on write;
	// reconcile once per run so scanWindow's ScanByKind can see them.
	if _, err := store.ReconcileRawProjection(ctx, artifact.KindFrame); err != nil {
		fmt.Fprintf(stderr, "batch process: reconcile frame projection: %v\n", err)
		return exitInternalError
	}

	thresholds := scheduler.PressureThresholds{
		YellowBelowBytes: *yellowBytes,
		RedBelowBytes:    *redBytes,
		BlackBelowBytes:  *blackBytes,
	}
	backlog := frameBacklog{store: store}
	sched := scheduler.New(*activitySignal, backlog, func() (int64, error) {
		return freeBytesOf(*dataDir)
	}, thresholds, nil, nil)

	runtime := pluginrt.NewRuntime(auditLog, nil)
	plugins := extractionPlugins(*ocrCmd, *uiParseCmd, func() string { return uuid.NewString() })
	manifests := make(map[string]*pluginrt.Manifest, len(plugins))
	for _, p := range plugins {
		runtime.Register(p)
		manifests[p.Manifest().ID] = p.Manifest()
	}
	dag := extract.New(runtime, extract.DefaultNodeOrder(*nodeTimeout))

	builder := tape.NewBuilder(tape.BuilderConfig{
		SessionID:     *sessionID,
		WindowSeconds: *windowSeconds,
		BoundaryMode:  tape.BoundaryAppChangePreferred,
		Producer:      artifact.Producer{PluginID: "build.tape", PluginVersion: "1.0.0", ConfigHash: "default"},
	})

	chain := &frameChainState{}
	enc := json.NewEncoder(stdout)

	for {
		decision, err := sched.Tick(ctx)
		if err != nil {
			fmt.Fprintf(stderr, "batch process: tick failed: %v\n", err)
			return exitInternalError
		}

		processedCount := 0
		if decision.Admit {
			frames, processed, err := backlog.scanWindow(ctx, time.Now())
			if err != nil {
				fmt.Fprintf(stderr, "batch process: scan backlog: %v\n", err)
				return exitInternalError
			}
			// frames is ORDER BY ts_ms ASC already (ScanByKind), satisfying
			// AdmitOldestFirst without separate sort logic.
			for _, id := range frames {
				if processed[id] {
					continue
				}
				if err := processOneFrame(ctx, store, blobs, dag, manifests, builder, chain, id, *sessionID, stderr); err != nil {
					fmt.Fprintf(stderr, "batch process: frame %s: %v\n", id, err)
					continue
				}
				processedCount++
			}
			if processedCount > 0 {
				sched.RecordProcessed(int64(processedCount))
			}
		}

		_ = enc.Encode(map[string]interface{}{
			"decision":         decision,
			"frames_processed": processedCount,
		})

		if *once {
			return exitOK
		}
		time.Sleep(sched.TickInterval())
	}
}

// processOneFrame runs one backlogged frame through the Extraction
// DAG, persists every node's citable output, and feeds the resulting
// screen state into the tape builder, persisting any span/edge it
// closes.
func processOneFrame(ctx context.Context, store *casstore.Store, blobs *casstore.BlobStore, dag *extract.DAG, manifests map[string]*pluginrt.Manifest, builder *tape.Builder, chain *frameChainState, frameID, sessionID string, stderr io.Writer) error {
	kind, createdTs, doc, err := store.GetRawRecord(ctx, frameID)
	if err != nil {
		return fmt.Errorf("read frame record: %w", err)
	}
	if kind != string(artifact.KindFrame) {
		return nil
	}
	frame, err := frameFromPayload(ctx, frameID, createdTs, doc, blobs)
	if err != nil {
		return fmt.Errorf("decode frame: %w", err)
	}

	results := make(map[string]pluginrt.Result)
	commit := func(ctx context.Context, pluginID string, result pluginrt.Result) error {
		results[pluginID] = result
		version := "1.0.0"
		if m, ok := manifests[pluginID]; ok {
			version = m.Version
		}
		return persistNodeResult(ctx, store, pluginID, version, result, frame, sessionID, time.UnixMilli(createdTs))
	}

	cc := pluginrt.CallContext{RunID: uuid.NewString(), TsMs: createdTs}
	if err := dag.Run(ctx, cc, manifests, chain.initialInputs(frame), commit); err != nil {
		return fmt.Errorf("run extraction DAG: %w", err)
	}
	chain.advance(frame, results)

	obs, ok := frameObservationFrom(frame, frameID, results)
	if !ok {
		return nil
	}
	span, edge, err := builder.Feed(obs)
	if err != nil {
		return fmt.Errorf("feed tape builder: %w", err)
	}
	if span != nil {
		if err := persistStateSpan(ctx, store, span, sessionID); err != nil {
			return fmt.Errorf("persist state span: %w", err)
		}
	}
	if edge != nil {
		if err := persistStateEdge(ctx, store, edge, sessionID); err != nil {
			return fmt.Errorf("persist state edge: %w", err)
		}
	}
	return nil
}
