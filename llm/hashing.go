package llm

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math"

	"github.com/brunobiangulo/mentormatch/tokenize"
)

// DefaultDimensions is the vector size used when none is configured.
const DefaultDimensions = 1536

// Hashing is an offline embedder. Each token is hashed into one of dim
// buckets and the bucket term frequencies are L2-normalized, so equal
// texts always yield equal vectors and no network is involved.
type Hashing struct {
	dim int
}

// NewHashing returns a hashing embedder producing dim-length vectors.
func NewHashing(dim int) *Hashing {
	if dim <= 0 {
		dim = DefaultDimensions
	}
	return &Hashing{dim: dim}
}

// Chat is not available on the hashing embedder.
func (h *Hashing) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	return nil, ErrUnsupported
}

// Embed returns one vector per text. Texts without tokens yield nil.
func (h *Hashing) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = h.vector(text)
	}
	return out, nil
}

func (h *Hashing) vector(text string) []float32 {
	tokens := tokenize.Words(text)
	if len(tokens) == 0 {
		return nil
	}

	counts := make(map[int]float64)
	for _, tok := range tokens {
		counts[h.bucket(tok)]++
	}

	total := float64(len(tokens))
	var sum float64
	for _, c := range counts {
		tf := c / total
		sum += tf * tf
	}
	norm := math.Sqrt(sum)

	v := make([]float32, h.dim)
	for idx, c := range counts {
		v[idx] = float32(c / total / norm)
	}
	return v
}

func (h *Hashing) bucket(token string) int {
	sum := sha256.Sum256([]byte(token))
	return int(binary.BigEndian.Uint64(sum[:8]) % uint64(h.dim))
}
