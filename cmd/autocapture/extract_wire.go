package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/draw"
	_ "image/jpeg"
	_ "image/png"
	"os/exec"
	"time"

	"github.com/ninjra/autocapture-pipeline/pkg/artifact"
	"github.com/ninjra/autocapture-pipeline/pkg/casstore"
	"github.com/ninjra/autocapture-pipeline/pkg/extract"
	"github.com/ninjra/autocapture-pipeline/pkg/pluginrt"
)

// callModelSubprocess shells out to an externally supplied OCR/UI-parse
// model binary, writing req as one JSON line on stdin and decoding one
// JSON line of response from stdout. This mirrors the newline-delimited
// wire protocol pluginrt.SubprocessPlugin already uses to host a DAG
// node out-of-process (§4.2), narrowed here to the OCRModel/
// UIParseModel function shapes those nodes are built around rather than
// the full Plugin interface.
func callModelSubprocess(ctx context.Context, path string, req, out interface{}) error {
	reqBytes, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal model request: %w", err)
	}
	cmd := exec.CommandContext(ctx, path)
	cmd.Stdin = bytes.NewReader(append(reqBytes, '\n'))
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("model subprocess %s: %w (stderr: %s)", path, err, stderr.String())
	}
	scanner := bufio.NewScanner(&stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	if !scanner.Scan() {
		return fmt.Errorf("model subprocess %s produced no output line", path)
	}
	return json.Unmarshal(scanner.Bytes(), out)
}

// subprocessOCRModel adapts an external OCR binary to extract.OCRModel.
func subprocessOCRModel(path string) extract.OCRModel {
	return func(ctx context.Context, patch extract.Tile) ([]extract.OCRToken, error) {
		var tokens []extract.OCRToken
		if err := callModelSubprocess(ctx, path, patch, &tokens); err != nil {
			return nil, err
		}
		return tokens, nil
	}
}

// subprocessUIParseModel adapts an external detector/VLM binary to
// extract.UIParseModel.
func subprocessUIParseModel(path string) extract.UIParseModel {
	return func(ctx context.Context, frame *extract.Frame) ([]extract.UIElement, error) {
		var elements []extract.UIElement
		if err := callModelSubprocess(ctx, path, frame, &elements); err != nil {
			return nil, err
		}
		return elements, nil
	}
}

// noopOCRModel/noopUIParseModel back the DAG when no external model
// binary is configured. Extraction still runs end to end and commits
// real (if empty) state — the pipeline never refuses to run for lack
// of a model.
func noopOCRModel(ctx context.Context, patch extract.Tile) ([]extract.OCRToken, error) { return nil, nil }

func noopUIParseModel(ctx context.Context, frame *extract.Frame) ([]extract.UIElement, error) {
	return nil, nil
}

// decodeGray decodes an arbitrary image blob (PNG/JPEG, the formats a
// screen-capture host actually produces) into a row-major 8-bit
// grayscale buffer via the standard library's image/draw conversion.
func decodeGray(data []byte) (gray []byte, widthPx, heightPx int, err error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, 0, 0, fmt.Errorf("decode image: %w", err)
	}
	bounds := img.Bounds()
	dst := image.NewGray(bounds)
	draw.Draw(dst, bounds, img, bounds.Min, draw.Src)
	return dst.Pix, bounds.Dx(), bounds.Dy(), nil
}

// intFromJSON coerces a decoded JSON number (always float64) or an int
// into an int, defaulting to 0 for any other shape (strings included).
func intFromJSON(v interface{}) int {
	switch t := v.(type) {
	case float64:
		return int(t)
	case int:
		return t
	default:
		return 0
	}
}

// frameFromPayload builds an *extract.Frame from a frame record's raw
// JSON document (see casstore.Store.GetRawRecord) plus its image blob.
func frameFromPayload(ctx context.Context, id string, createdTsMs int64, doc map[string]interface{}, blobs *casstore.BlobStore) (*extract.Frame, error) {
	sha, _ := doc["image_sha256"].(string)
	if sha == "" {
		return nil, fmt.Errorf("frame %s: payload missing image_sha256", id)
	}
	data, err := blobs.GetBlob(ctx, sha)
	if err != nil {
		return nil, fmt.Errorf("frame %s: fetch blob %s: %w", id, sha, err)
	}
	gray, w, h, err := decodeGray(data)
	if err != nil {
		return nil, fmt.Errorf("frame %s: %w", id, err)
	}
	if declaredW := intFromJSON(doc["width_px"]); declaredW > 0 {
		w = declaredW
	}
	if declaredH := intFromJSON(doc["height_px"]); declaredH > 0 {
		h = declaredH
	}
	windowTitle, _ := doc["window_title"].(string)
	appHint, _ := doc["app_hint"].(string)

	return &extract.Frame{
		ArtifactID:  id,
		ImageSHA256: sha,
		WidthPx:     w,
		HeightPx:    h,
		Gray:        gray,
		TsMs:        createdTsMs,
		WindowTitle: windowTitle,
		AppHint:     appHint,
	}, nil
}

// extractionPlugins builds every node of the Extraction DAG's canonical
// order, backed by ocrCmd/uiParseCmd when configured or an honest
// no-op default otherwise.
func extractionPlugins(ocrCmd, uiParseCmd string, mintID func() string) []pluginrt.Plugin {
	ocrModel := extract.OCRModel(noopOCRModel)
	if ocrCmd != "" {
		ocrModel = subprocessOCRModel(ocrCmd)
	}
	uiModel := extract.UIParseModel(noopUIParseModel)
	if uiParseCmd != "" {
		uiModel = subprocessUIParseModel(uiParseCmd)
	}

	return []pluginrt.Plugin{
		extract.NewNormalizePlugin(),
		extract.NewTilePlugin(extract.DefaultTileConfig()),
		extract.NewOCRPlugin(ocrModel),
		extract.NewUIParsePlugin(uiModel),
		extract.NewLayoutPlugin(),
		extract.NewTablePlugin(),
		extract.NewSpreadsheetPlugin(),
		extract.NewCodePlugin(),
		extract.NewChartPlugin(),
		extract.NewCursorPlugin(nil, extract.DefaultCursorScore),
		extract.NewStatePlugin(),
		extract.NewMatchPlugin(mintID),
		extract.NewTemporalSegmentPlugin(extract.DefaultVisualDiff),
		extract.NewDeltaPlugin(),
		extract.NewActionPlugin(),
	}
}

// persistedKinds maps the DAG nodes whose output corresponds to one of
// §3's top-level artifact kinds to that kind. Nodes absent from this
// map (preprocess.normalize, preprocess.tile, extract.spreadsheet,
// track.cursor, match.ids, temporal.segment) produce values that only
// ever live in the DAG's in-run bag or feed build.state/build.tape —
// there is no dedicated artifact.Kind for a standalone tile set, cursor
// position, or match assignment.
var persistedKinds = map[string]artifact.Kind{
	"ocr":             artifact.KindTextToken,
	"ui.parse":        artifact.KindUIElement,
	"layout.assemble": artifact.KindElementGraph,
	"extract.table":   artifact.KindTable,
	"extract.code":    artifact.KindCodeBlock,
	"extract.chart":   artifact.KindChart,
	"build.state":     artifact.KindScreenState,
	"build.delta":     artifact.KindDeltaEvent,
	"infer.action":    artifact.KindActionEvent,
}

// singleItemKinds are the persisted kinds whose node always emits
// exactly one observation for the whole frame, rather than one item
// per detected token/element/cell.
var singleItemKinds = map[artifact.Kind]bool{
	artifact.KindCodeBlock:   true,
	artifact.KindChart:       true,
	artifact.KindScreenState: true,
	artifact.KindDeltaEvent:  true,
	artifact.KindActionEvent: true,
}

// searchTextFor extracts a best-effort free-text projection for kinds
// a text query can plausibly match against.
func searchTextFor(kind artifact.Kind, payload interface{}) string {
	var sb bytes.Buffer
	switch kind {
	case artifact.KindTextToken:
		if tok, ok := payload.(extract.OCRToken); ok {
			sb.WriteString(tok.Text)
		}
	case artifact.KindUIElement:
		if el, ok := payload.(extract.UIElement); ok {
			sb.WriteString(el.Text)
		}
	case artifact.KindCodeBlock:
		if obs, ok := payload.(extract.CodeObservation); ok {
			for _, l := range obs.Lines {
				sb.WriteString(l.Text)
				sb.WriteByte(' ')
			}
		}
	}
	return sb.String()
}

// commitArtifact wraps a node's output as a validated artifact.Envelope
// and writes it through casstore.Store.PutRecord, deriving the
// artifact_id from the producing plugin, the frame it was derived
// from, and the payload itself (§3 invariant 2).
func commitArtifact(ctx context.Context, store *casstore.Store, kind artifact.Kind, pluginID, version, frameID string, payload interface{}, evidence []artifact.EvidenceRef, sessionID string, now time.Time) error {
	producer := artifact.Producer{PluginID: pluginID, PluginVersion: version, ConfigHash: "default"}
	inputRefs := []artifact.InputRef{{ArtifactID: frameID, Role: "frame"}}
	env, err := artifact.NewEnvelope(kind, 1, producer, inputRefs, payload, evidence, 1.0, now)
	if err != nil {
		return fmt.Errorf("build envelope for %s: %w", pluginID, err)
	}
	proj := casstore.ProjectionRow{
		ArtifactID: env.ArtifactID,
		Kind:       kind,
		TsMs:       env.CreatedTsMs,
		SessionID:  sessionID,
		SearchText: searchTextFor(kind, payload),
	}
	_, err = store.PutRecord(ctx, env, proj)
	return err
}
