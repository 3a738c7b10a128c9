package mentormatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/brunobiangulo/mentormatch/store"
)

const embedBatchSize = 32

// RefreshReport summarises RefreshAllEmbeddings.
type RefreshReport struct {
	Embedded  int   `json:"embedded"`
	Cleared   int   `json:"cleared"`
	Failed    int   `json:"failed"`
	ElapsedMs int64 `json:"elapsed_ms"`
}

// embedJob is one entity awaiting a vector.
type embedJob struct {
	kind store.EntityKind
	id   int64
	text string
}

// RefreshEmbedding recomputes the vector of one entity. An entity with no
// descriptive text, or whose text the embedder finds nothing in, loses its
// vector. Provider failures keep the previous vector and return
// ErrEmbeddingFailed.
func (e *engine) RefreshEmbedding(ctx context.Context, kind store.EntityKind, id int64) error {
	if e.embedLLM == nil {
		return nil
	}
	text, err := e.embedText(ctx, kind, id)
	if err != nil {
		return err
	}
	if text == "" {
		return e.store.DeleteEmbedding(ctx, kind, id)
	}

	vecs, err := e.embedLLM.Embed(ctx, []string{text})
	if err != nil {
		return fmt.Errorf("%w: %s %d: %v", ErrEmbeddingFailed, kind, id, err)
	}
	if len(vecs) == 0 {
		return fmt.Errorf("%w: %s %d: no vector returned", ErrEmbeddingFailed, kind, id)
	}
	if len(vecs[0]) == 0 {
		return e.store.DeleteEmbedding(ctx, kind, id)
	}
	if err := e.store.PutEmbedding(ctx, kind, id, vecs[0]); err != nil {
		return fmt.Errorf("%w: %s %d: %v", ErrEmbeddingFailed, kind, id, err)
	}
	return nil
}

// refreshOnWrite re-embeds an entity after a write when configured to.
// Failures are logged, never returned: the write itself succeeded.
func (e *engine) refreshOnWrite(ctx context.Context, kind store.EntityKind, id int64) {
	if !e.cfg.RefreshOnWrite {
		return
	}
	if err := e.RefreshEmbedding(ctx, kind, id); err != nil {
		slog.Warn("embedding refresh failed", "kind", kind, "id", id, "error", err)
	}
}

// RefreshAllEmbeddings recomputes the vectors of every user, topic and
// role in batches of 32.
func (e *engine) RefreshAllEmbeddings(ctx context.Context) (*RefreshReport, error) {
	start := time.Now()
	report := &RefreshReport{}
	if e.embedLLM == nil {
		return report, nil
	}

	jobs, err := e.allEmbedJobs(ctx)
	if err != nil {
		return nil, err
	}

	var live []embedJob
	for _, j := range jobs {
		if j.text != "" {
			live = append(live, j)
			continue
		}
		if err := e.store.DeleteEmbedding(ctx, j.kind, j.id); err != nil {
			return nil, fmt.Errorf("clearing embedding of %s %d: %w", j.kind, j.id, err)
		}
		report.Cleared++
	}

	embedded, cleared, failed := e.embedJobs(ctx, live)
	report.Embedded, report.Failed = embedded, failed
	report.Cleared += cleared
	report.ElapsedMs = time.Since(start).Milliseconds()

	slog.Info("embeddings refreshed",
		"embedded", report.Embedded, "cleared", report.Cleared, "failed", report.Failed,
		"elapsed", time.Since(start).Round(time.Millisecond))
	if failed > 0 && failed == len(live) {
		return report, fmt.Errorf("%w: all %d texts failed", ErrEmbeddingFailed, failed)
	}
	return report, nil
}

// embedJobs embeds texts in batches. A failed batch falls back to
// embedding each text individually so one bad text does not lose the
// whole batch. An empty vector clears the stored one.
func (e *engine) embedJobs(ctx context.Context, jobs []embedJob) (embedded, cleared, failed int) {
	var ok, gone, bad atomic.Int32

	put := func(j embedJob, vec []float32) {
		if len(vec) == 0 {
			if err := e.store.DeleteEmbedding(ctx, j.kind, j.id); err != nil {
				slog.Warn("clearing embedding failed", "kind", j.kind, "id", j.id, "error", err)
				bad.Add(1)
				return
			}
			gone.Add(1)
			return
		}
		if err := e.store.PutEmbedding(ctx, j.kind, j.id, vec); err != nil {
			slog.Warn("storing embedding failed", "kind", j.kind, "id", j.id, "error", err)
			bad.Add(1)
			return
		}
		ok.Add(1)
	}

	g := new(errgroup.Group)
	g.SetLimit(max(1, e.cfg.RankConcurrency))
	for i := 0; i < len(jobs); i += embedBatchSize {
		batch := jobs[i:min(i+embedBatchSize, len(jobs))]
		g.Go(func() error {
			texts := make([]string, len(batch))
			for k, j := range batch {
				texts[k] = j.text
			}

			vecs, err := e.embedLLM.Embed(ctx, texts)
			if err == nil && len(vecs) == len(batch) {
				for k, j := range batch {
					put(j, vecs[k])
				}
				return nil
			}
			slog.Warn("embedding batch failed, falling back to individual",
				"batch_size", len(batch), "error", err)

			for _, j := range batch {
				single, serr := e.embedLLM.Embed(ctx, []string{j.text})
				if serr != nil || len(single) == 0 {
					slog.Warn("embedding single text failed", "kind", j.kind, "id", j.id, "error", serr)
					bad.Add(1)
					continue
				}
				put(j, single[0])
			}
			return nil
		})
	}
	g.Wait()
	return int(ok.Load()), int(gone.Load()), int(bad.Load())
}

// embedText builds the text embedded for one entity.
func (e *engine) embedText(ctx context.Context, kind store.EntityKind, id int64) (string, error) {
	switch kind {
	case store.KindUser:
		u, err := e.store.GetUser(ctx, id)
		if err != nil {
			return "", err
		}
		switch u.Role {
		case store.RoleStudent:
			st, err := e.store.GetStudent(ctx, id)
			if err != nil {
				return "", err
			}
			return e.studentText(ctx, st), nil
		case store.RoleSupervisor:
			sv, err := e.store.GetSupervisor(ctx, id)
			if err != nil {
				return "", err
			}
			return supervisorText(sv), nil
		}
		return "", nil
	case store.KindTopic:
		t, err := e.store.GetTopic(ctx, id)
		if err != nil {
			return "", err
		}
		return topicText(t), nil
	case store.KindRole:
		r, err := e.store.GetRole(ctx, id)
		if err != nil {
			return "", err
		}
		return roleText(r), nil
	}
	return "", fmt.Errorf("unknown entity kind %q", kind)
}

// allEmbedJobs lists active users and every topic and role with their
// texts.
func (e *engine) allEmbedJobs(ctx context.Context) ([]embedJob, error) {
	var jobs []embedJob

	students, err := e.store.ListStudents(ctx, 0)
	if err != nil {
		return nil, err
	}
	for i := range students {
		st := &students[i]
		jobs = append(jobs, embedJob{store.KindUser, st.ID, e.studentText(ctx, st)})
	}

	sups, err := e.store.ListSupervisors(ctx, 0)
	if err != nil {
		return nil, err
	}
	for i := range sups {
		jobs = append(jobs, embedJob{store.KindUser, sups[i].ID, supervisorText(&sups[i])})
	}

	topics, err := e.store.ListTopics(ctx, store.TopicFilter{})
	if err != nil {
		return nil, err
	}
	for i := range topics {
		jobs = append(jobs, embedJob{store.KindTopic, topics[i].ID, topicText(&topics[i])})
	}

	roles, err := e.store.ListRoles(ctx, store.RoleFilter{})
	if err != nil {
		return nil, err
	}
	for i := range roles {
		jobs = append(jobs, embedJob{store.KindRole, roles[i].ID, roleText(&roles[i])})
	}
	return jobs, nil
}
