package index

import (
	"context"
	"database/sql"
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/ninjra/autocapture-pipeline/pkg/perr"
	"golang.org/x/text/unicode/norm"
)

// BM25 tuning constants (Robertson/Sparck-Jones defaults).
const (
	bm25K1 = 1.2
	bm25B  = 0.75
)

var tokenSplit = regexp.MustCompile(`[^\p{L}\p{N}]+`)

// Tokenize lowercases and NFC-normalizes text, then splits on
// non-alphanumeric runs — the same normalization discipline the OCR
// plugin applies to token text (§4.5 ocr), so index terms and OCR
// output agree on what counts as "the same word".
func Tokenize(text string) []string {
	normalized := norm.NFC.String(strings.ToLower(text))
	fields := tokenSplit.Split(normalized, -1)
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

// Posting is one (term, document) occurrence record (§4.7: "Postings
// carry {artifact_id, bbox, ts_ms}").
type Posting struct {
	ArtifactID string
	BBox       [4]int
	TsMs       int64
	TermFreq   int
}

// IndexText tokenizes text and upserts its postings for artifactID,
// replacing whatever was previously indexed for that id so reindexing
// is idempotent rather than additive (§4.7 "derived, fully
// rebuildable").
func (s *Store) IndexText(ctx context.Context, artifactID string, text string, bbox [4]int, tsMs int64) error {
	terms := Tokenize(text)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return perr.Wrap(perr.KindStoreTransient, "index.IndexText", "begin tx", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM postings WHERE artifact_id = ?`, artifactID); err != nil {
		return perr.Wrap(perr.KindStoreTransient, "index.IndexText", "clear prior postings", err)
	}

	freq := make(map[string]int, len(terms))
	for _, t := range terms {
		freq[t]++
	}
	for term, tf := range freq {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO postings (term, artifact_id, bbox_x1, bbox_y1, bbox_x2, bbox_y2, ts_ms, term_freq)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			term, artifactID, bbox[0], bbox[1], bbox[2], bbox[3], tsMs, tf)
		if err != nil {
			return perr.Wrap(perr.KindStoreTransient, "index.IndexText", "insert posting", err)
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO doc_stats (artifact_id, length, ts_ms) VALUES (?, ?, ?)
		ON CONFLICT(artifact_id) DO UPDATE SET length = excluded.length, ts_ms = excluded.ts_ms`,
		artifactID, len(terms), tsMs)
	if err != nil {
		return perr.Wrap(perr.KindStoreTransient, "index.IndexText", "upsert doc_stats", err)
	}

	return tx.Commit()
}

// ScoredDoc is one BM25 search result.
type ScoredDoc struct {
	ArtifactID string
	Score      float64
	Postings   []Posting
}

// Search ranks documents containing any query term by BM25 score,
// descending, returning at most topK results (§4.7: "BM25 scoring").
func (s *Store) Search(ctx context.Context, queryText string, topK int) ([]ScoredDoc, error) {
	terms := Tokenize(queryText)
	if len(terms) == 0 {
		return nil, nil
	}

	var totalDocs int
	var avgLen float64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*), COALESCE(AVG(length), 0) FROM doc_stats`).Scan(&totalDocs, &avgLen); err != nil {
		return nil, perr.Wrap(perr.KindStoreTransient, "index.Search", "corpus stats", err)
	}
	if totalDocs == 0 {
		return nil, nil
	}

	scores := make(map[string]float64)
	postingsByDoc := make(map[string][]Posting)
	lengths := make(map[string]int)

	seenTerms := make(map[string]bool, len(terms))
	for _, term := range terms {
		if seenTerms[term] {
			continue
		}
		seenTerms[term] = true

		var df int
		if err := s.db.QueryRowContext(ctx, `SELECT COUNT(DISTINCT artifact_id) FROM postings WHERE term = ?`, term).Scan(&df); err != nil {
			return nil, perr.Wrap(perr.KindStoreTransient, "index.Search", "df lookup", err)
		}
		if df == 0 {
			continue
		}
		idf := math.Log(float64(totalDocs)-float64(df)+0.5) - math.Log(float64(df)+0.5) + 1

		rows, err := s.db.QueryContext(ctx, `
			SELECT p.artifact_id, p.bbox_x1, p.bbox_y1, p.bbox_x2, p.bbox_y2, p.ts_ms, p.term_freq, d.length
			FROM postings p JOIN doc_stats d ON d.artifact_id = p.artifact_id
			WHERE p.term = ?`, term)
		if err != nil {
			return nil, perr.Wrap(perr.KindStoreTransient, "index.Search", "postings lookup", err)
		}
		if err := collectTermScores(rows, idf, avgLen, scores, postingsByDoc, lengths); err != nil {
			return nil, err
		}
	}

	return topScored(scores, postingsByDoc, topK), nil
}

func collectTermScores(rows *sql.Rows, idf, avgLen float64, scores map[string]float64, postingsByDoc map[string][]Posting, lengths map[string]int) error {
	defer rows.Close()
	for rows.Next() {
		var p Posting
		var docLen int
		if err := rows.Scan(&p.ArtifactID, &p.BBox[0], &p.BBox[1], &p.BBox[2], &p.BBox[3], &p.TsMs, &p.TermFreq, &docLen); err != nil {
			return perr.Wrap(perr.KindStoreTransient, "index.Search", "scan posting", err)
		}
		lengths[p.ArtifactID] = docLen
		denom := float64(p.TermFreq) + bm25K1*(1-bm25B+bm25B*float64(docLen)/maxf(avgLen, 1))
		scores[p.ArtifactID] += idf * (float64(p.TermFreq) * (bm25K1 + 1)) / denom
		postingsByDoc[p.ArtifactID] = append(postingsByDoc[p.ArtifactID], p)
	}
	return rows.Err()
}

func topScored(scores map[string]float64, postingsByDoc map[string][]Posting, topK int) []ScoredDoc {
	out := make([]ScoredDoc, 0, len(scores))
	for id, score := range scores {
		out = append(out, ScoredDoc{ArtifactID: id, Score: score, Postings: postingsByDoc[id]})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ArtifactID < out[j].ArtifactID
	})
	if topK > 0 && len(out) > topK {
		out = out[:topK]
	}
	return out
}

func maxf(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
