package queryapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	apierr "github.com/ninjra/autocapture-pipeline/pkg/api"
	"github.com/ninjra/autocapture-pipeline/pkg/evidence"
	"github.com/ninjra/autocapture-pipeline/pkg/perr"
)

func writeUnauthorized(w http.ResponseWriter, detail string) { apierr.WriteUnauthorized(w, detail) }

// popupRequest is the wire shape of POST /api/query/popup. Field
// names mirror QueryFilters so the handler can translate without an
// intermediate DTO layer beyond json tags.
type popupRequest struct {
	TimeStartMs    int64     `json:"time_start_ms"`
	TimeEndMs      int64     `json:"time_end_ms"`
	App            string    `json:"app,omitempty"`
	Entity         string    `json:"entity,omitempty"`
	QueryText      string    `json:"query_text,omitempty"`
	QueryEmbedding []float32 `json:"query_embedding,omitempty"`
	TopK           int       `json:"top_k,omitempty"`
	MaxHops        int       `json:"max_hops,omitempty"`
}

type popupSnippet struct {
	Text     string `json:"text"`
	Redacted bool   `json:"redacted"`
}

type popupHit struct {
	StateID               string         `json:"state_id"`
	App                   string         `json:"app"`
	TsStartMs             int64          `json:"ts_start_ms"`
	TsEndMs               int64          `json:"ts_end_ms"`
	ExtractedTextSnippets []popupSnippet `json:"extracted_text_snippets"`
	Evidence              int            `json:"evidence_count"`
}

type popupResponse struct {
	Hits            []popupHit `json:"hits"`
	NoEvidence      bool       `json:"no_evidence"`
	CanShowRawMedia bool       `json:"can_show_raw_media"`
	CanExportText   bool       `json:"can_export_text"`
}

// Server is the read-only query HTTP surface. It holds no mutable
// pipeline state of its own — every request is served by compiling a
// fresh QueryEvidenceBundle, so there is nothing here that could
// schedule extraction work or trigger model inference (§6: "strict
// read-only guarantee").
type Server struct {
	Compiler     *evidence.Compiler
	Tokens       *TokenManager
	QueryTimeout time.Duration
	MaxTopK      int

	// RequestsPerSecond/Burst configure the per-IP rate limiter wrapping
	// every route. Zero leaves rate limiting disabled, since a single
	// local popup client is the only expected caller.
	RequestsPerSecond int
	Burst             int
}

// Handler builds the server's http.ServeMux, optionally wrapped in a
// per-IP rate limiter.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/auth/token", s.handleAuthToken)
	mux.HandleFunc("POST /api/query/popup", s.Tokens.RequireBearer(s.handlePopupQuery))

	if s.RequestsPerSecond <= 0 {
		return mux
	}
	return apierr.NewGlobalRateLimiter(s.RequestsPerSecond, s.Burst).Middleware(mux)
}

func (s *Server) handleAuthToken(w http.ResponseWriter, r *http.Request) {
	tok, err := s.Tokens.Issue()
	if err != nil {
		apierr.WriteInternal(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"token": tok})
}

func (s *Server) handlePopupQuery(w http.ResponseWriter, r *http.Request) {
	var req popupRequest
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierr.WriteBadRequest(w, "malformed query body: "+err.Error())
		return
	}

	topK := req.TopK
	if s.MaxTopK > 0 && (topK <= 0 || topK > s.MaxTopK) {
		topK = s.MaxTopK
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.QueryTimeout)
	defer cancel()

	bundle, err := s.Compiler.Compile(ctx, evidence.QueryFilters{
		TimeStartMs:    req.TimeStartMs,
		TimeEndMs:      req.TimeEndMs,
		App:            req.App,
		Entity:         req.Entity,
		QueryText:      req.QueryText,
		QueryEmbedding: req.QueryEmbedding,
		TopK:           topK,
		MaxHops:        req.MaxHops,
	})
	if err != nil {
		if perr.Is(err, perr.KindNoEvidence) {
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(popupResponse{NoEvidence: true})
			return
		}
		writeCompileError(w, r, err)
		return
	}

	resp := popupResponse{
		CanShowRawMedia: bundle.ExportFlags.CanShowRawMedia,
		CanExportText:   bundle.ExportFlags.CanExportText,
	}
	for _, h := range bundle.Hits {
		ph := popupHit{
			StateID:   h.StateID,
			App:       h.App,
			TsStartMs: h.TsStartMs,
			TsEndMs:   h.TsEndMs,
			Evidence:  len(h.Evidence),
		}
		for _, sn := range h.ExtractedTextSnippets {
			ph.ExtractedTextSnippets = append(ph.ExtractedTextSnippets, popupSnippet{Text: sn.Text, Redacted: sn.Redacted})
		}
		resp.Hits = append(resp.Hits, ph)
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

// writeCompileError maps the compiler's remaining classified errors
// onto RFC 7807 responses. KindNoEvidence is handled by the caller
// before reaching here since it is a successful "no evidence" result,
// not an error response (spec overview, item 4).
func writeCompileError(w http.ResponseWriter, r *http.Request, err error) {
	if perr.Is(err, perr.KindPolicyDenied) {
		apierr.WriteErrorR(w, r, http.StatusForbidden, "Policy Denied", "policy gate denied this query")
		return
	}
	apierr.WriteInternal(w, err)
}
