package ranking

import (
	"context"
	"errors"
	"fmt"
	"math"
	"reflect"
	"sync/atomic"
	"testing"
)

// fakeLLM returns canned picks and counts calls.
type fakeLLM struct {
	picks []Pick
	err   error
	calls atomic.Int32
}

func (f *fakeLLM) RankCandidates(ctx context.Context, subject string, pool []string, topN int) ([]Pick, error) {
	f.calls.Add(1)
	return f.picks, f.err
}

func student(id int64, keywords string, emb []float32) Entity {
	return NewEntity(KindStudent, id, fmt.Sprintf("student %d", id), "skills: "+keywords, keywords, emb)
}

func topic(keywords string, emb []float32) Entity {
	return NewEntity(KindTopic, 1000, "topic", "topic about "+keywords, keywords, emb)
}

func students(n int) []Entity {
	pool := make([]Entity, n)
	for i := range pool {
		pool[i] = student(int64(i+1), fmt.Sprintf("skill%d", i), nil)
	}
	return pool
}

func assertOrdered(t *testing.T, items []Scored) {
	t.Helper()
	for i := 1; i < len(items); i++ {
		if items[i-1].Score < items[i].Score {
			t.Fatalf("items not ordered at %d: %f < %f", i, items[i-1].Score, items[i].Score)
		}
		if items[i-1].Score == items[i].Score && items[i-1].Entity.ID() > items[i].Entity.ID() {
			t.Fatalf("tie not broken by id at %d: %d > %d", i, items[i-1].Entity.ID(), items[i].Entity.ID())
		}
	}
}

func ids(items []Scored) []int64 {
	out := make([]int64, len(items))
	for i, it := range items {
		out[i] = it.Entity.ID()
	}
	return out
}

// ---------------------------------------------------------------------------
// Similarity
// ---------------------------------------------------------------------------

func TestCosine(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 2, 3}, []float32{1, 2, 3}, 1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1},
		{"zero vector", []float32{0, 0, 0}, []float32{1, 2, 3}, 0},
		{"both zero", []float32{0, 0}, []float32{0, 0}, 0},
		{"length mismatch", []float32{1, 2}, []float32{1, 2, 3}, 0},
		{"empty", nil, nil, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Cosine(tt.a, tt.b)
			if math.IsNaN(got) {
				t.Fatalf("Cosine returned NaN")
			}
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("Cosine: got %f, want %f", got, tt.want)
			}
		})
	}
}

func TestLexical(t *testing.T) {
	if got := Lexical("go sql docker", "go sql"); math.Abs(got-2.0/3.0) > 1e-9 {
		t.Errorf("Lexical: got %f, want %f", got, 2.0/3.0)
	}
	if got := Lexical("", "go"); got != 0 {
		t.Errorf("Lexical with empty side: got %f, want 0", got)
	}
	if got := Lexical("Python", "python"); got != 1 {
		t.Errorf("Lexical case folding: got %f, want 1", got)
	}
}

// ---------------------------------------------------------------------------
// Fallback properties
// ---------------------------------------------------------------------------

func TestFallbackTotality(t *testing.T) {
	subject := NewEntity(KindTopic, 1, "", "", "", nil)
	pool := []Entity{
		NewEntity(KindStudent, 3, "", "", "", nil),
		NewEntity(KindStudent, 2, "", "", "", []float32{0, 0}),
		NewEntity(KindStudent, 1, "", "", "", nil),
	}

	for topN := 1; topN <= 5; topN++ {
		got := New().Rank(context.Background(), subject, pool, topN)
		if want := min(topN, len(pool)); len(got.Items) != want {
			t.Fatalf("topN=%d: got %d items, want %d", topN, len(got.Items), want)
		}
		assertOrdered(t, got.Items)
		for _, it := range got.Items {
			if math.IsNaN(it.Score) {
				t.Fatalf("NaN score for %s", it.Entity)
			}
		}
	}
}

func TestFallbackPrefersCosineWhenBothEmbedded(t *testing.T) {
	subject := topic("go", []float32{1, 0})
	pool := []Entity{
		student(1, "go", []float32{0, 1}),
		student(2, "python", []float32{1, 0.1}),
	}
	got := Fallback(subject, pool, 2)
	if got[0].Entity.ID() != 2 {
		t.Errorf("first = %d, want 2 (closest embedding)", got[0].Entity.ID())
	}
	if got[0].Source != SourceCosine {
		t.Errorf("source = %s, want cosine", got[0].Source)
	}
}

func TestFallbackLexicalWhenEmbeddingMissing(t *testing.T) {
	subject := topic("golang postgres kafka", nil)
	pool := []Entity{
		student(1, "painting music", []float32{1, 0}),
		student(2, "golang kafka", nil),
		student(3, "postgres", nil),
	}
	got := Fallback(subject, pool, 3)
	if want := []int64{2, 3, 1}; !reflect.DeepEqual(ids(got), want) {
		t.Errorf("order: got %v, want %v", ids(got), want)
	}
	for _, it := range got {
		if it.Source != SourceLexical {
			t.Errorf("%s source = %s, want lexical", it.Entity, it.Source)
		}
	}
}

func TestFallbackDeterministic(t *testing.T) {
	subject := topic("ml data python", []float32{0.3, 0.1, 0.5})
	pool := []Entity{
		student(4, "python", []float32{0.3, 0.1, 0.5}),
		student(2, "data", nil),
		student(9, "ml", []float32{0, 0, 0}),
		student(1, "python data", []float32{0.1, 0.9, 0.2}),
	}
	a := Fallback(subject, pool, 4)
	b := Fallback(subject, pool, 4)
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("fallback not deterministic:\n%v\n%v", a, b)
	}
}

func TestFallbackTiesBrokenByID(t *testing.T) {
	subject := topic("", nil)
	pool := []Entity{student(5, "", nil), student(2, "", nil), student(8, "", nil)}
	got := Fallback(subject, pool, 3)
	if want := []int64{2, 5, 8}; !reflect.DeepEqual(ids(got), want) {
		t.Errorf("tie order: got %v, want %v", ids(got), want)
	}
}

func TestRankEmptyPool(t *testing.T) {
	got := New(WithLLM(&fakeLLM{})).Rank(context.Background(), topic("x", nil), nil, 5)
	if len(got.Items) != 0 {
		t.Errorf("expected empty ranking, got %d items", len(got.Items))
	}
}

func TestRankDefaultTopN(t *testing.T) {
	got := New().Rank(context.Background(), topic("x", nil), students(9), 0)
	if len(got.Items) != DefaultTopN {
		t.Errorf("items = %d, want %d", len(got.Items), DefaultTopN)
	}
}

// ---------------------------------------------------------------------------
// Policy selection
// ---------------------------------------------------------------------------

func TestSelectPolicy(t *testing.T) {
	tests := []struct {
		configured bool
		pool       int
		want       Policy
	}{
		{false, 10, PolicySimilarity},
		{true, 4, PolicySimilarity},
		{true, 5, PolicyLLM},
		{true, 8, PolicyLLM},
		{false, 0, PolicySimilarity},
	}
	for _, tt := range tests {
		if got := SelectPolicy(tt.configured, tt.pool, DefaultMinLLMPool); got != tt.want {
			t.Errorf("SelectPolicy(%v, %d): got %s, want %s", tt.configured, tt.pool, got, tt.want)
		}
	}
}

func TestRankSmallPoolNoLLMConfigured(t *testing.T) {
	got := New().Rank(context.Background(), topic("skill0", nil), students(3), 5)
	if got.Policy != PolicySimilarity {
		t.Errorf("policy = %s, want similarity", got.Policy)
	}
	if len(got.Items) != 3 {
		t.Errorf("items = %d, want 3", len(got.Items))
	}
}

func TestRankSmallPoolSkipsLLM(t *testing.T) {
	f := &fakeLLM{picks: []Pick{{Index: 0, Score: 1}}}
	got := New(WithLLM(f)).Rank(context.Background(), topic("x", nil), students(4), 5)
	if f.calls.Load() != 0 {
		t.Errorf("llm called %d times for a pool of 4", f.calls.Load())
	}
	if got.Policy != PolicySimilarity {
		t.Errorf("policy = %s, want similarity", got.Policy)
	}
}

// ---------------------------------------------------------------------------
// LLM policy
// ---------------------------------------------------------------------------

func TestRankLLMFiveValidPicks(t *testing.T) {
	f := &fakeLLM{picks: []Pick{
		{Index: 6, Score: 0.9},
		{Index: 2, Score: 0.8},
		{Index: 7, Score: 0.7},
		{Index: 0, Score: 0.6},
		{Index: 4, Score: 0.5},
	}}
	got := New(WithLLM(f)).Rank(context.Background(), topic("x", nil), students(8), 5)

	if got.Policy != PolicyLLM {
		t.Fatalf("policy = %s, want llm", got.Policy)
	}
	if want := []int64{7, 3, 8, 1, 5}; !reflect.DeepEqual(ids(got.Items), want) {
		t.Errorf("order: got %v, want %v", ids(got.Items), want)
	}
	wantScores := []float64{0.9, 0.8, 0.7, 0.6, 0.5}
	for i, it := range got.Items {
		if it.Score != wantScores[i] || it.Source != SourceLLM {
			t.Errorf("item %d: got (%f, %s), want (%f, llm)", i, it.Score, it.Source, wantScores[i])
		}
	}
}

func TestRankLLMPadsWithFallback(t *testing.T) {
	f := &fakeLLM{picks: []Pick{
		{Index: 5, Score: 0.9},
		{Index: 1, Score: 0.8},
		{Index: 3, Score: 0.7},
	}}
	pool := students(8)
	got := New(WithLLM(f)).Rank(context.Background(), topic("skill0 skill7", nil), pool, 5)

	if len(got.Items) != 5 {
		t.Fatalf("items = %d, want 5", len(got.Items))
	}
	assertOrdered(t, got.Items)

	var llmCount int
	seen := map[int64]bool{}
	for _, it := range got.Items {
		if seen[it.Entity.ID()] {
			t.Fatalf("duplicate entity %d", it.Entity.ID())
		}
		seen[it.Entity.ID()] = true
		if it.Source == SourceLLM {
			llmCount++
		}
	}
	if llmCount != 3 {
		t.Errorf("llm items = %d, want 3", llmCount)
	}
	// Students 1 and 8 share a keyword with the subject, so they win the
	// two padding slots among the five unpicked.
	for _, id := range []int64{1, 8} {
		if !seen[id] {
			t.Errorf("expected padded student %d in %v", id, ids(got.Items))
		}
	}
}

func TestRankLLMSanitizesDuplicatesAndInvalid(t *testing.T) {
	f := &fakeLLM{picks: []Pick{
		{Index: 2, Score: 0.9},
		{Index: 2, Score: 0.85},
		{Index: 42, Score: 0.8},
		{Index: -1, Score: 0.7},
		{Index: 4, Score: math.NaN()},
		{Index: 1, Score: 0.6},
	}}
	got := New(WithLLM(f)).Rank(context.Background(), topic("x", nil), students(6), 5)

	if got.Policy != PolicyLLM {
		t.Fatalf("policy = %s, want llm", got.Policy)
	}
	if len(got.Items) != 5 {
		t.Fatalf("items = %d, want 5", len(got.Items))
	}
	if got.Items[0].Entity.ID() != 3 || got.Items[0].Score != 0.9 {
		t.Errorf("first = %s %f, want student#3 0.9", got.Items[0].Entity, got.Items[0].Score)
	}
	if got.Items[1].Entity.ID() != 2 || got.Items[1].Score != 0.6 {
		t.Errorf("second = %s %f, want student#2 0.6", got.Items[1].Entity, got.Items[1].Score)
	}
	assertOrdered(t, got.Items)
}

func TestRankLLMErrorFallsBack(t *testing.T) {
	f := &fakeLLM{err: errors.New("connection refused")}
	got := New(WithLLM(f)).Rank(context.Background(), topic("skill3", nil), students(8), 5)
	if got.Policy != PolicySimilarity {
		t.Errorf("policy = %s, want similarity", got.Policy)
	}
	if len(got.Items) != 5 {
		t.Errorf("items = %d, want 5", len(got.Items))
	}
	if got.Items[0].Entity.ID() != 4 {
		t.Errorf("first = %d, want 4", got.Items[0].Entity.ID())
	}
}

func TestRankLLMNoValidPicksFallsBack(t *testing.T) {
	f := &fakeLLM{picks: []Pick{{Index: 99, Score: 1}}}
	got := New(WithLLM(f)).Rank(context.Background(), topic("x", nil), students(6), 5)
	if got.Policy != PolicySimilarity {
		t.Errorf("policy = %s, want similarity", got.Policy)
	}
	if f.calls.Load() != 1 {
		t.Errorf("llm calls = %d, want 1", f.calls.Load())
	}
}

func TestRankLLMTruncatesExtraPicks(t *testing.T) {
	f := &fakeLLM{picks: []Pick{
		{Index: 0, Score: 0.1}, {Index: 1, Score: 0.2}, {Index: 2, Score: 0.3},
		{Index: 3, Score: 0.4}, {Index: 4, Score: 0.5}, {Index: 5, Score: 0.6},
	}}
	got := New(WithLLM(f)).Rank(context.Background(), topic("x", nil), students(6), 3)
	if len(got.Items) != 3 {
		t.Fatalf("items = %d, want 3", len(got.Items))
	}
	if want := []int64{3, 2, 1}; !reflect.DeepEqual(ids(got.Items), want) {
		t.Errorf("order: got %v, want %v", ids(got.Items), want)
	}
}
