package ranking

import (
	"context"
	"log/slog"
	"math"
	"sort"

	"github.com/brunobiangulo/mentormatch/tokenize"
)

// DefaultTopN is the result size used when a caller passes topN < 1.
const DefaultTopN = 5

// DefaultMinLLMPool is the smallest pool the LLM policy is tried on.
const DefaultMinLLMPool = 5

// Policy names the scoring strategy used for one Rank call.
type Policy string

const (
	PolicyLLM        Policy = "llm"
	PolicySimilarity Policy = "similarity"
)

// Source records how an individual score was produced.
type Source string

const (
	SourceLLM     Source = "llm"
	SourceCosine  Source = "cosine"
	SourceLexical Source = "lexical"
)

// Scored is one ranked pool entity.
type Scored struct {
	Entity Entity
	Score  float64
	Reason string
	Source Source
}

// Ranking is the outcome of a Rank call. Items are ordered by score
// descending, ties by entity id ascending.
type Ranking struct {
	Items  []Scored
	Policy Policy
}

// Pick is one selection returned by an LLM ranker. Index is 0-based
// into the pool that was sent.
type Pick struct {
	Index  int
	Score  float64
	Reason string
}

// LLMRanker asks a language model for a scored top-N selection over
// pool. Implementations must honour ctx and return an error for any
// reply they cannot interpret.
type LLMRanker interface {
	RankCandidates(ctx context.Context, subject string, pool []string, topN int) ([]Pick, error)
}

// Ranker orders candidate pools. It holds no per-call state and is safe
// for concurrent use.
type Ranker struct {
	llm        LLMRanker
	minLLMPool int
	topN       int
}

// Option configures a Ranker.
type Option func(*Ranker)

// WithLLM enables the LLM policy. A nil ranker leaves it disabled.
func WithLLM(l LLMRanker) Option {
	return func(r *Ranker) { r.llm = l }
}

// WithMinLLMPool sets the smallest pool size sent to the LLM.
func WithMinLLMPool(n int) Option {
	return func(r *Ranker) {
		if n > 0 {
			r.minLLMPool = n
		}
	}
}

// WithDefaultTopN sets the result size used for topN < 1.
func WithDefaultTopN(n int) Option {
	return func(r *Ranker) {
		if n > 0 {
			r.topN = n
		}
	}
}

// New creates a Ranker. Without WithLLM it always uses the similarity policy.
func New(opts ...Option) *Ranker {
	r := &Ranker{minLLMPool: DefaultMinLLMPool, topN: DefaultTopN}
	for _, o := range opts {
		o(r)
	}
	return r
}

// LLMEnabled reports whether an LLM ranker was injected.
func (r *Ranker) LLMEnabled() bool { return r.llm != nil }

// SelectPolicy decides the policy for one call from whether an LLM is
// configured and how large the pool is.
func SelectPolicy(llmConfigured bool, poolSize, minPool int) Policy {
	if llmConfigured && poolSize >= minPool {
		return PolicyLLM
	}
	return PolicySimilarity
}

// Rank returns the best min(topN, len(pool)) entities of pool for subject.
// It never fails: an empty pool yields an empty ranking and every LLM
// problem falls back to similarity scoring.
func (r *Ranker) Rank(ctx context.Context, subject Entity, pool []Entity, topN int) Ranking {
	if topN < 1 {
		topN = r.topN
	}
	if len(pool) == 0 {
		return Ranking{Policy: SelectPolicy(r.llm != nil, 0, r.minLLMPool)}
	}
	want := min(topN, len(pool))

	if SelectPolicy(r.llm != nil, len(pool), r.minLLMPool) == PolicyLLM {
		if items, ok := r.rankWithLLM(ctx, subject, pool, want); ok {
			return Ranking{Items: items, Policy: PolicyLLM}
		}
	}
	return Ranking{Items: Fallback(subject, pool, want), Policy: PolicySimilarity}
}

// rankWithLLM runs the LLM policy. ok is false when the reply yielded no
// usable pick, in which case the caller falls back entirely.
func (r *Ranker) rankWithLLM(ctx context.Context, subject Entity, pool []Entity, want int) ([]Scored, bool) {
	texts := make([]string, len(pool))
	for i, e := range pool {
		texts[i] = e.Text()
	}

	picks, err := r.llm.RankCandidates(ctx, subject.Text(), texts, want)
	if err != nil {
		slog.Warn("ranking: llm request failed, using similarity",
			"subject", subject.String(), "pool", len(pool), "error", err)
		return nil, false
	}

	picks = sanitizePicks(picks, len(pool), want)
	if len(picks) == 0 {
		slog.Warn("ranking: llm reply had no valid picks, using similarity",
			"subject", subject.String(), "pool", len(pool))
		return nil, false
	}

	items := make([]Scored, 0, want)
	picked := make(map[int]bool, len(picks))
	for _, p := range picks {
		picked[p.Index] = true
		items = append(items, Scored{Entity: pool[p.Index], Score: p.Score, Reason: p.Reason, Source: SourceLLM})
	}

	if len(items) < want {
		rest := make([]Entity, 0, len(pool)-len(picked))
		for i, e := range pool {
			if !picked[i] {
				rest = append(rest, e)
			}
		}
		slog.Debug("ranking: padding llm picks with similarity scores",
			"subject", subject.String(), "llm", len(items), "want", want)
		items = append(items, Fallback(subject, rest, want-len(items))...)
	}
	sortScored(items)
	return items, true
}

// sanitizePicks drops out-of-range indices and non-finite scores, keeps
// the first occurrence of each index and truncates to limit.
func sanitizePicks(picks []Pick, poolSize, limit int) []Pick {
	seen := make(map[int]bool, len(picks))
	out := make([]Pick, 0, min(len(picks), limit))
	for _, p := range picks {
		if len(out) == limit {
			break
		}
		if p.Index < 0 || p.Index >= poolSize || seen[p.Index] {
			continue
		}
		if math.IsNaN(p.Score) || math.IsInf(p.Score, 0) {
			continue
		}
		seen[p.Index] = true
		out = append(out, p)
	}
	return out
}

// Fallback scores every pool entity independently against subject and
// returns the best topN. It is a pure function of its inputs.
func Fallback(subject Entity, pool []Entity, topN int) []Scored {
	if len(pool) == 0 || topN < 1 {
		return nil
	}
	subjectKeys := tokenize.Keywords(subject.Keywords())

	items := make([]Scored, len(pool))
	for i, e := range pool {
		score, src := similarity(subject, subjectKeys, e)
		items[i] = Scored{Entity: e, Score: score, Source: src, Reason: fallbackReason(src)}
	}
	sortScored(items)
	if len(items) > topN {
		items = items[:topN]
	}
	return items
}

func fallbackReason(src Source) string {
	if src == SourceCosine {
		return "embedding similarity"
	}
	return "keyword overlap"
}

// sortScored orders by score descending, then entity id ascending.
func sortScored(items []Scored) {
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Score != items[j].Score {
			return items[i].Score > items[j].Score
		}
		return items[i].Entity.ID() < items[j].Entity.ID()
	})
}
