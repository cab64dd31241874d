package index

import (
	"fmt"
	"math"
	"sort"
	"sync"
)

// ScoredVector is one vector-search result.
type ScoredVector struct {
	ArtifactID string
	Score      float64 // cosine similarity, higher is closer
}

// VectorIndex searches state/text embeddings (§4.7: "Vector index
// over state embeddings and selected text embeddings").
type VectorIndex interface {
	Upsert(artifactID string, vec []float32)
	Delete(artifactID string)
	Search(query []float32, topK int) ([]ScoredVector, error)
}

// LinearScanIndex is the default vector index: an exhaustive,
// deterministic cosine-similarity scan. No approximation, no
// snapshot version to drift — the safe default §4.7 names.
type LinearScanIndex struct {
	mu      sync.RWMutex
	vectors map[string][]float32
}

// NewLinearScanIndex builds an empty linear-scan index.
func NewLinearScanIndex() *LinearScanIndex {
	return &LinearScanIndex{vectors: make(map[string][]float32)}
}

func (l *LinearScanIndex) Upsert(artifactID string, vec []float32) {
	l.mu.Lock()
	defer l.mu.Unlock()
	cp := make([]float32, len(vec))
	copy(cp, vec)
	l.vectors[artifactID] = cp
}

func (l *LinearScanIndex) Delete(artifactID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.vectors, artifactID)
}

// Search never returns an error — it is named in the interface only
// for parity with ANNIndex, whose snapshot check can fail.
func (l *LinearScanIndex) Search(query []float32, topK int) ([]ScoredVector, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]ScoredVector, 0, len(l.vectors))
	for id, vec := range l.vectors {
		out = append(out, ScoredVector{ArtifactID: id, Score: cosine(query, vec)})
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
	return out, nil
}

func (l *LinearScanIndex) Count() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.vectors)
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// ErrANNVersionMismatch is returned when a query names a snapshot
// version that does not match the ANN index currently loaded
// (§4.7: "queries reject an index version mismatch").
type ErrANNVersionMismatch struct {
	Requested string
	Loaded    string
}

func (e *ErrANNVersionMismatch) Error() string {
	return fmt.Sprintf("index: ANN snapshot version mismatch: requested=%s loaded=%s", e.Requested, e.Loaded)
}

// ANNIndex is the optional approximate index §4.7 permits in place of
// LinearScanIndex. This module carries no third-party ANN library, so
// ANNIndex wraps a LinearScanIndex as its search backend and adds the
// snapshot-version contract: a caller must present the version it
// built its query plan against, and a stale/mismatched version is
// refused rather than silently served from the wrong snapshot.
type ANNIndex struct {
	version string
	backend *LinearScanIndex
}

// NewANNIndex builds an ANN-shaped index pinned to snapshotVersion.
func NewANNIndex(snapshotVersion string) *ANNIndex {
	return &ANNIndex{version: snapshotVersion, backend: NewLinearScanIndex()}
}

func (a *ANNIndex) Upsert(artifactID string, vec []float32) { a.backend.Upsert(artifactID, vec) }
func (a *ANNIndex) Delete(artifactID string)                { a.backend.Delete(artifactID) }

// Version reports the snapshot version this index was built against.
func (a *ANNIndex) Version() string { return a.version }

// SearchVersioned rejects a query whose wantVersion does not match
// the loaded snapshot, rather than silently answering from a
// different snapshot than the caller planned the query against.
func (a *ANNIndex) SearchVersioned(wantVersion string, query []float32, topK int) ([]ScoredVector, error) {
	if wantVersion != a.version {
		return nil, &ErrANNVersionMismatch{Requested: wantVersion, Loaded: a.version}
	}
	return a.backend.Search(query, topK)
}

// Search implements VectorIndex without a version check, for callers
// that accept whatever snapshot is currently loaded.
func (a *ANNIndex) Search(query []float32, topK int) ([]ScoredVector, error) {
	return a.backend.Search(query, topK)
}
