package tape

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"io"
	"math"

	"golang.org/x/crypto/hkdf"
)

// OutputDim is z_t's dimensionality after projection.
const OutputDim = 64

// DefaultProjectionSeed seeds the shipped projection matrix. A
// deployment that wants a private projection space overrides it at
// build time (-ldflags -X); either way the matrix is derived, never
// checked in as a blob.
var DefaultProjectionSeed = "autocapture-state-tape-projection-v1"

const (
	projectionSalt = "state-tape-projection-salt"
	projectionInfo = "state-tape-projection-info"
)

// ProjectionMatrix is the fixed, non-trainable matrix that maps the
// concatenated per-span feature vector into the OutputDim embedding
// space (§4.6 z_t). Its Hash is carried in every span/edge's
// provenance so a reconciliation pass can detect a silently changed
// matrix (invariant 8).
type ProjectionMatrix struct {
	Rows, Cols int
	Data       []float32 // row-major, Rows x Cols
	Hash       string
}

// NewProjectionMatrix derives a rows x cols matrix deterministically
// from seed via HKDF-SHA256: every build using the same seed produces
// byte-identical weights, so the matrix never needs to be vendored.
func NewProjectionMatrix(seed string, rows, cols int) *ProjectionMatrix {
	kdf := hkdf.New(sha256.New, []byte(seed), []byte(projectionSalt), []byte(projectionInfo))
	data := make([]float32, rows*cols)
	buf := make([]byte, 4)
	for i := range data {
		if _, err := io.ReadFull(kdf, buf); err != nil {
			panic("tape: derive projection matrix: " + err.Error())
		}
		u := binary.BigEndian.Uint32(buf)
		data[i] = float32(u)/float32(math.MaxUint32)*2 - 1
	}
	return &ProjectionMatrix{Rows: rows, Cols: cols, Data: data, Hash: hashFloat32s(data)}
}

func hashFloat32s(data []float32) string {
	buf := make([]byte, len(data)*4)
	for i, f := range data {
		binary.BigEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	sum := sha256.Sum256(buf)
	return hex.EncodeToString(sum[:])
}

// Project maps vec (length Cols) into the Rows-dimensional output
// space and unit-normalizes the result, so every z_t lies on the unit
// hypersphere and cosine similarity reduces to a dot product.
func (m *ProjectionMatrix) Project(vec []float32) []float32 {
	out := make([]float32, m.Rows)
	for r := 0; r < m.Rows; r++ {
		var sum float32
		row := m.Data[r*m.Cols : r*m.Cols+m.Cols]
		for c := 0; c < m.Cols && c < len(vec); c++ {
			sum += row[c] * vec[c]
		}
		out[r] = sum
	}
	return UnitNormalize(out)
}

// UnitNormalize scales vec to unit length. The zero vector is
// returned unchanged — it has no direction to normalize to.
func UnitNormalize(vec []float32) []float32 {
	var sumSq float64
	for _, x := range vec {
		sumSq += float64(x) * float64(x)
	}
	if sumSq == 0 {
		return vec
	}
	norm := float32(math.Sqrt(sumSq))
	out := make([]float32, len(vec))
	for i, x := range vec {
		out[i] = x / norm
	}
	return out
}

// CosineSimilarity returns the cosine similarity of a and b, treating
// a length mismatch (which should not occur for two z_t's produced by
// the same matrix) as 0 similarity rather than panicking.
func CosineSimilarity(a, b []float32) float64 {
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

// PredError computes 1 - cosine(curr, prev), the baseline predictor
// error (§4.6), clamped to [0, 2] per invariant 7 to absorb floating
// point slack from near-antiparallel pathological inputs.
func PredError(curr, prev []float32) float64 {
	e := 1 - CosineSimilarity(curr, prev)
	if e < 0 {
		return 0
	}
	if e > 2 {
		return 2
	}
	return e
}

// DeltaEmbedding computes curr - prev element-wise, the raw
// (non-normalized) displacement carried on a StateEdge.
func DeltaEmbedding(curr, prev []float32) []float32 {
	n := len(curr)
	if len(prev) < n {
		n = len(prev)
	}
	out := make([]float32, len(curr))
	copy(out, curr)
	for i := 0; i < n; i++ {
		out[i] = curr[i] - prev[i]
	}
	return out
}
