package ranking

import (
	"math"

	"github.com/brunobiangulo/mentormatch/tokenize"
)

// Cosine returns the cosine similarity of a and b. Empty vectors,
// vectors of different length and zero vectors score 0.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	s := dot / (math.Sqrt(na) * math.Sqrt(nb))
	if math.IsNaN(s) || math.IsInf(s, 0) {
		return 0
	}
	return s
}

// Lexical returns the Jaccard overlap of the keyword sets of a and b,
// in [0,1]. Two empty sets score 0.
func Lexical(a, b string) float64 {
	return jaccard(tokenize.Keywords(a), tokenize.Keywords(b))
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	small, large := a, b
	if len(small) > len(large) {
		small, large = large, small
	}
	var inter int
	for w := range small {
		if _, ok := large[w]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}

// similarity scores one pool entity against the subject. Cosine is used
// when both embeddings are present with the same dimension; otherwise
// keyword overlap.
func similarity(subject Entity, subjectKeys map[string]struct{}, obj Entity) (float64, Source) {
	if subject.HasEmbedding() && obj.HasEmbedding() && len(subject.embedding) == len(obj.embedding) {
		return Cosine(subject.embedding, obj.embedding), SourceCosine
	}
	return jaccard(subjectKeys, tokenize.Keywords(obj.Keywords())), SourceLexical
}
