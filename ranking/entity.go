// Package ranking orders a pool of candidate entities against a subject.
//
// A Ranker runs one of two policies per call. PolicyLLM asks an injected
// LLMRanker for a scored top-N selection; PolicySimilarity scores every
// pool entity independently by embedding cosine similarity, or by keyword
// overlap when an embedding is missing. Both produce the same []Scored
// shape, and any LLM failure degrades to the similarity policy.
package ranking

import "fmt"

// Kind tags the variant of an Entity.
type Kind int

const (
	KindStudent Kind = iota + 1
	KindSupervisor
	KindTopic
	KindRole
)

func (k Kind) String() string {
	switch k {
	case KindStudent:
		return "student"
	case KindSupervisor:
		return "supervisor"
	case KindTopic:
		return "topic"
	case KindRole:
		return "role"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Entity is a subject or pool member. Callers build one from stored
// rows; the ranker only reads it through its methods.
type Entity struct {
	kind      Kind
	id        int64
	name      string
	text      string
	keywords  string
	embedding []float32
	active    bool
}

// NewEntity builds an active entity. text is the descriptive text shown
// to the LLM; keywords is the skill/interest text used for overlap
// scoring and may be empty.
func NewEntity(kind Kind, id int64, name, text, keywords string, embedding []float32) Entity {
	return Entity{
		kind:      kind,
		id:        id,
		name:      name,
		text:      text,
		keywords:  keywords,
		embedding: embedding,
		active:    true,
	}
}

// WithActive returns a copy of e with the active flag set.
func (e Entity) WithActive(active bool) Entity {
	e.active = active
	return e
}

// WithEmbedding returns a copy of e carrying vec.
func (e Entity) WithEmbedding(vec []float32) Entity {
	e.embedding = vec
	return e
}

func (e Entity) Kind() Kind { return e.kind }
func (e Entity) ID() int64 { return e.id }
func (e Entity) Name() string { return e.name }
func (e Entity) Text() string { return e.text }
func (e Entity) Embedding() []float32 { return e.embedding }
func (e Entity) Active() bool { return e.active }
func (e Entity) HasEmbedding() bool { return len(e.embedding) > 0 }
func (e Entity) String() string { return fmt.Sprintf("%s#%d", e.kind, e.id) }

// Keywords returns the keyword text, or the descriptive text when no
// keyword fields were filled in.
func (e Entity) Keywords() string {
	if e.keywords != "" {
		return e.keywords
	}
	return e.text
}
