package mentormatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/brunobiangulo/mentormatch/ranking"
	"github.com/brunobiangulo/mentormatch/store"
)

// MatchResult is the outcome of one ranking pass.
type MatchResult struct {
	Direction  string         `json:"direction"`
	SubjectID  int64          `json:"subject_id"`
	RunID      string         `json:"run_id"`
	Policy     ranking.Policy `json:"policy"`
	PoolSize   int            `json:"pool_size"`
	Candidates []Candidate    `json:"candidates"`
	ElapsedMs  int64          `json:"elapsed_ms"`
}

// Candidate is a stored edge with the object's display name.
type Candidate struct {
	ObjectID  int64   `json:"object_id"`
	Name      string  `json:"name"`
	Score     float64 `json:"score"`
	Rank      int     `json:"rank,omitempty"`
	Reason    string  `json:"reason,omitempty"`
	Source    string  `json:"source,omitempty"`
	Approved  bool    `json:"approved"`
	IsPrimary bool    `json:"is_primary"`
	Stale     bool    `json:"stale,omitempty"`
	UpdatedAt string  `json:"updated_at,omitempty"`
}

// RankAndStore ranks the pool of one subject and reconciles the
// direction's candidate edges with the result. LLM trouble never fails
// the call; ErrNotFound and ErrPersistence do.
func (e *engine) RankAndStore(ctx context.Context, dir store.Direction, subjectID int64) (*MatchResult, error) {
	start := time.Now()

	subject, pool, err := e.loadPool(ctx, dir, subjectID)
	if err != nil {
		return nil, err
	}

	res := e.ranker.Rank(ctx, subject, pool, e.cfg.TopN)

	ranked := make([]store.RankedObject, len(res.Items))
	for i, it := range res.Items {
		ranked[i] = store.RankedObject{
			ObjectID: it.Entity.ID(),
			Score:    it.Score,
			Reason:   it.Reason,
			Source:   string(it.Source),
		}
	}

	runID, err := e.store.ReconcileRun(ctx, dir, subjectID, ranked, store.Run{
		Policy:   string(res.Policy),
		PoolSize: len(pool),
		Elapsed:  time.Since(start),
	})
	if err != nil {
		return nil, err
	}

	names := make(map[int64]string, len(pool))
	for _, p := range pool {
		names[p.ID()] = p.Name()
	}
	edges, err := e.store.Candidates(ctx, dir, subjectID, false)
	if err != nil {
		return nil, fmt.Errorf("reading candidates: %w", err)
	}

	elapsed := time.Since(start)
	slog.Info("match: ranking stored",
		"direction", dir.Name, "subject_id", subjectID, "policy", res.Policy,
		"pool", len(pool), "results", len(ranked), "run_id", runID,
		"elapsed", elapsed.Round(time.Millisecond))

	return &MatchResult{
		Direction:  dir.Name,
		SubjectID:  subjectID,
		RunID:      runID,
		Policy:     res.Policy,
		PoolSize:   len(pool),
		Candidates: toCandidates(edges, names),
		ElapsedMs:  elapsed.Milliseconds(),
	}, nil
}

// RankAll ranks every eligible subject of a direction. Subjects deleted
// while the pass runs are skipped; the first storage fault stops it.
func (e *engine) RankAll(ctx context.Context, dir store.Direction) ([]*MatchResult, error) {
	subjects, err := e.subjects(ctx, dir)
	if err != nil {
		return nil, fmt.Errorf("listing subjects: %w", err)
	}

	results := make([]*MatchResult, len(subjects))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.RankConcurrency)
	for i, id := range subjects {
		g.Go(func() error {
			res, err := e.RankAndStore(gctx, dir, id)
			if errors.Is(err, ErrNotFound) {
				slog.Debug("match: subject vanished", "direction", dir.Name, "subject_id", id)
				return nil
			}
			if err != nil {
				return fmt.Errorf("subject %d: %w", id, err)
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := results[:0]
	for _, r := range results {
		if r != nil {
			out = append(out, r)
		}
	}
	slog.Info("match: direction ranked", "direction", dir.Name, "subjects", len(out))
	return out, nil
}

// Candidates lists the stored edges of a subject.
func (e *engine) Candidates(ctx context.Context, dir store.Direction, subjectID int64, includeStale bool) ([]Candidate, error) {
	edges, err := e.store.Candidates(ctx, dir, subjectID, includeStale)
	if err != nil {
		return nil, err
	}
	ids := make([]int64, len(edges))
	for i, ed := range edges {
		ids[i] = ed.ObjectID
	}
	names, err := e.store.Names(ctx, dir.ObjectKind, ids)
	if err != nil {
		return nil, err
	}
	return toCandidates(edges, names), nil
}

func (e *engine) Approve(ctx context.Context, dir store.Direction, subjectID, objectID int64, makePrimary bool) error {
	if err := e.store.Approve(ctx, dir, subjectID, objectID, makePrimary); err != nil {
		return err
	}
	e.notifier.CandidateApproved(ctx, Approval{
		Direction: dir.Name,
		SubjectID: subjectID,
		ObjectID:  objectID,
		Primary:   makePrimary,
	})
	return nil
}

func (e *engine) Reject(ctx context.Context, dir store.Direction, subjectID, objectID int64) error {
	if err := e.store.Reject(ctx, dir, subjectID, objectID); err != nil {
		return err
	}
	slog.Info("candidate rejected", "direction", dir.Name, "subject_id", subjectID, "object_id", objectID)
	return nil
}

func toCandidates(edges []store.Edge, names map[int64]string) []Candidate {
	out := make([]Candidate, len(edges))
	for i, ed := range edges {
		out[i] = Candidate{
			ObjectID:  ed.ObjectID,
			Name:      names[ed.ObjectID],
			Score:     ed.Score,
			Rank:      ed.Rank,
			Reason:    ed.Reason,
			Source:    ed.Source,
			Approved:  ed.Approved,
			IsPrimary: ed.IsPrimary,
			Stale:     ed.Stale,
			UpdatedAt: ed.UpdatedAt,
		}
	}
	return out
}

// --- Pools ---

// loadPool builds the subject entity and its candidate pool.
func (e *engine) loadPool(ctx context.Context, dir store.Direction, subjectID int64) (ranking.Entity, []ranking.Entity, error) {
	var subject ranking.Entity
	var pool []ranking.Entity

	switch dir.Name {
	case store.TopicUsers.Name:
		t, err := e.store.GetTopic(ctx, subjectID)
		if err != nil {
			return subject, nil, err
		}
		subject = ranking.NewEntity(ranking.KindTopic, t.ID, t.Title, topicText(t), topicKeywords(t), nil).WithActive(t.IsActive)
		if t.SeekingRole == store.RoleStudent {
			pool, err = e.studentPool(ctx, t.AuthorUserID)
		} else {
			pool, err = e.supervisorPool(ctx, t.AuthorUserID)
		}
		if err != nil {
			return subject, nil, err
		}

	case store.SupervisorTopics.Name:
		sv, err := e.store.GetSupervisor(ctx, subjectID)
		if err != nil {
			return subject, nil, err
		}
		subject = ranking.NewEntity(ranking.KindSupervisor, sv.ID, sv.FullName, supervisorText(sv), supervisorKeywords(sv), nil).WithActive(sv.IsActive)
		topics, err := e.store.ListTopics(ctx, store.TopicFilter{SeekingRole: store.RoleSupervisor, ActiveOnly: true})
		if err != nil {
			return subject, nil, err
		}
		for i := range topics {
			t := &topics[i]
			pool = append(pool, ranking.NewEntity(ranking.KindTopic, t.ID, t.Title, topicText(t), topicKeywords(t), nil))
		}

	case store.RoleStudents.Name:
		r, err := e.store.GetRole(ctx, subjectID)
		if err != nil {
			return subject, nil, err
		}
		subject = ranking.NewEntity(ranking.KindRole, r.ID, r.TopicTitle+" / "+r.Name, roleText(r), roleKeywords(r), nil).WithActive(r.TopicActive)
		if pool, err = e.studentPool(ctx, r.TopicAuthorUserID); err != nil {
			return subject, nil, err
		}

	case store.StudentRoles.Name:
		st, err := e.store.GetStudent(ctx, subjectID)
		if err != nil {
			return subject, nil, err
		}
		subject = ranking.NewEntity(ranking.KindStudent, st.ID, st.FullName, e.studentText(ctx, st), studentKeywords(st), nil).WithActive(st.IsActive)
		roles, err := e.store.ListRoles(ctx, store.RoleFilter{OpenOnly: true})
		if err != nil {
			return subject, nil, err
		}
		for i := range roles {
			r := &roles[i]
			if r.TopicAuthorUserID == st.ID {
				continue
			}
			pool = append(pool, ranking.NewEntity(ranking.KindRole, r.ID, r.TopicTitle+" / "+r.Name, roleText(r), roleKeywords(r), nil))
		}

	default:
		return subject, nil, fmt.Errorf("%w: %q", ErrUnknownDirection, dir.Name)
	}

	subjectVec, err := e.store.Embedding(ctx, dir.SubjectKind, subjectID)
	if err != nil {
		return subject, nil, fmt.Errorf("loading subject embedding: %w", err)
	}
	subject = subject.WithEmbedding(subjectVec)

	pool, err = e.limitPool(ctx, dir, subjectVec, pool)
	if err != nil {
		return subject, nil, err
	}
	return subject, pool, e.attachEmbeddings(ctx, dir.ObjectKind, pool)
}

func (e *engine) studentPool(ctx context.Context, excludeID int64) ([]ranking.Entity, error) {
	students, err := e.store.ListStudents(ctx, 0)
	if err != nil {
		return nil, err
	}
	pool := make([]ranking.Entity, 0, len(students))
	for i := range students {
		st := &students[i]
		if st.ID == excludeID {
			continue
		}
		pool = append(pool, ranking.NewEntity(ranking.KindStudent, st.ID, st.FullName, e.studentText(ctx, st), studentKeywords(st), nil))
	}
	return pool, nil
}

func (e *engine) supervisorPool(ctx context.Context, excludeID int64) ([]ranking.Entity, error) {
	sups, err := e.store.ListSupervisors(ctx, 0)
	if err != nil {
		return nil, err
	}
	pool := make([]ranking.Entity, 0, len(sups))
	for i := range sups {
		sv := &sups[i]
		if sv.ID == excludeID {
			continue
		}
		pool = append(pool, ranking.NewEntity(ranking.KindSupervisor, sv.ID, sv.FullName, supervisorText(sv), supervisorKeywords(sv), nil))
	}
	return pool, nil
}

func (e *engine) studentText(ctx context.Context, st *store.Student) string {
	cv := ""
	if st.Profile != nil {
		cv = e.cvs.Resolve(ctx, st.Profile.CV)
	}
	return studentText(st, cv)
}

// maxKNN is the largest k sqlite-vec accepts.
const maxKNN = 4096

// limitPool caps the pool at the configured limit. With a subject vector
// the nearest pool members by vector search come first; the rest of the
// slots go to the newest entities, which is the order pool lists are in.
func (e *engine) limitPool(ctx context.Context, dir store.Direction, subjectVec []float32, pool []ranking.Entity) ([]ranking.Entity, error) {
	limit := e.cfg.poolLimit(dir.ObjectKind == store.KindRole)
	if len(pool) <= limit {
		return pool, nil
	}

	byID := make(map[int64]int, len(pool))
	for i, p := range pool {
		byID[p.ID()] = i
	}

	picked := make([]bool, len(pool))
	out := make([]ranking.Entity, 0, limit)
	if len(subjectVec) > 0 {
		k := min(maxKNN, max(limit*4, len(pool)))
		neighbors, err := e.store.Nearest(ctx, dir.ObjectKind, subjectVec, k)
		if err != nil {
			return nil, err
		}
		for _, n := range neighbors {
			if len(out) == limit {
				break
			}
			if i, ok := byID[n.ID]; ok && !picked[i] {
				picked[i] = true
				out = append(out, pool[i])
			}
		}
	}
	for i, p := range pool {
		if len(out) == limit {
			break
		}
		if !picked[i] {
			out = append(out, p)
		}
	}
	return out, nil
}

func (e *engine) attachEmbeddings(ctx context.Context, kind store.EntityKind, pool []ranking.Entity) error {
	ids := make([]int64, len(pool))
	for i, p := range pool {
		ids[i] = p.ID()
	}
	vecs, err := e.store.Embeddings(ctx, kind, ids)
	if err != nil {
		return fmt.Errorf("loading pool embeddings: %w", err)
	}
	for i, p := range pool {
		pool[i] = p.WithEmbedding(vecs[p.ID()])
	}
	return nil
}

// subjects lists the ids RankAll visits for a direction.
func (e *engine) subjects(ctx context.Context, dir store.Direction) ([]int64, error) {
	var ids []int64
	switch dir.Name {
	case store.TopicUsers.Name:
		topics, err := e.store.ListTopics(ctx, store.TopicFilter{ActiveOnly: true})
		if err != nil {
			return nil, err
		}
		for _, t := range topics {
			ids = append(ids, t.ID)
		}
	case store.SupervisorTopics.Name:
		sups, err := e.store.ListSupervisors(ctx, 0)
		if err != nil {
			return nil, err
		}
		for _, s := range sups {
			ids = append(ids, s.ID)
		}
	case store.RoleStudents.Name:
		roles, err := e.store.ListRoles(ctx, store.RoleFilter{OpenOnly: true})
		if err != nil {
			return nil, err
		}
		for _, r := range roles {
			ids = append(ids, r.ID)
		}
	case store.StudentRoles.Name:
		students, err := e.store.ListStudents(ctx, 0)
		if err != nil {
			return nil, err
		}
		for _, s := range students {
			ids = append(ids, s.ID)
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDirection, dir.Name)
	}
	return ids, nil
}
