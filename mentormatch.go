// Package mentormatch matches students, supervisors, topics and team
// roles on a university platform and keeps ranked candidate lists for
// each matching direction.
package mentormatch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/brunobiangulo/mentormatch/llm"
	"github.com/brunobiangulo/mentormatch/parser"
	"github.com/brunobiangulo/mentormatch/ranking"
	"github.com/brunobiangulo/mentormatch/store"
)

// Engine is the main entry point for matching.
type Engine interface {
	// RankAndStore ranks the pool of one subject and reconciles the
	// direction's candidate edges with the result.
	RankAndStore(ctx context.Context, dir store.Direction, subjectID int64) (*MatchResult, error)

	// RankAll runs RankAndStore for every eligible subject of a direction.
	RankAll(ctx context.Context, dir store.Direction) ([]*MatchResult, error)

	// Candidates lists the stored edges of a subject.
	Candidates(ctx context.Context, dir store.Direction, subjectID int64, includeStale bool) ([]Candidate, error)

	// Approve marks an edge approved, optionally as the subject's primary.
	Approve(ctx context.Context, dir store.Direction, subjectID, objectID int64, makePrimary bool) error

	// Reject withdraws an approval.
	Reject(ctx context.Context, dir store.Direction, subjectID, objectID int64) error

	UpsertUser(ctx context.Context, u store.User) (int64, error)
	GetUser(ctx context.Context, id int64) (*UserDetail, error)
	DeleteUser(ctx context.Context, id int64) error
	UpsertStudentProfile(ctx context.Context, p store.StudentProfile) error
	UpsertSupervisorProfile(ctx context.Context, p store.SupervisorProfile) error
	UpsertTopic(ctx context.Context, t store.Topic) (int64, error)
	GetTopic(ctx context.Context, id int64) (*store.Topic, error)
	DeleteTopic(ctx context.Context, id int64) error
	UpsertRole(ctx context.Context, r store.Role) (int64, error)
	GetRole(ctx context.Context, id int64) (*store.Role, error)
	DeleteRole(ctx context.Context, id int64) error

	// RefreshEmbedding recomputes the vector of one entity.
	RefreshEmbedding(ctx context.Context, kind store.EntityKind, id int64) error

	// RefreshAllEmbeddings recomputes every vector in batches.
	RefreshAllEmbeddings(ctx context.Context) (*RefreshReport, error)

	// Import reads an XLSX workbook of students, supervisors, topics and roles.
	Import(ctx context.Context, path string) (*ImportReport, error)

	// ImportWorkbook imports an already parsed workbook.
	ImportWorkbook(ctx context.Context, wb *parser.Workbook) (*ImportReport, error)

	// ExportCandidates writes the live edges of a direction as XLSX.
	ExportCandidates(ctx context.Context, dir store.Direction, w io.Writer) error

	// Store returns the underlying store for diagnostic access.
	Store() *store.Store

	// Close cleanly shuts down the engine.
	Close() error
}

// UserDetail is a user with whichever profile applies to its role.
type UserDetail struct {
	store.User
	StudentProfile    *store.StudentProfile    `json:"student_profile,omitempty"`
	SupervisorProfile *store.SupervisorProfile `json:"supervisor_profile,omitempty"`
}

// Option configures the engine.
type Option func(*engineOptions)

type engineOptions struct {
	notifier  Notifier
	llmRanker ranking.LLMRanker
	chat      llm.Provider
	embed     llm.Provider
}

// WithNotifier replaces the default log-only approval notifier.
func WithNotifier(n Notifier) Option {
	return func(o *engineOptions) { o.notifier = n }
}

// WithLLMRanker injects the LLM ranking provider directly.
func WithLLMRanker(r ranking.LLMRanker) Option {
	return func(o *engineOptions) { o.llmRanker = r }
}

// WithChatProvider overrides the chat provider built from Config.Chat.
func WithChatProvider(p llm.Provider) Option {
	return func(o *engineOptions) { o.chat = p }
}

// WithEmbeddingProvider overrides the provider built from Config.Embedding.
func WithEmbeddingProvider(p llm.Provider) Option {
	return func(o *engineOptions) { o.embed = p }
}

// engine is the concrete implementation of Engine.
type engine struct {
	cfg      Config
	store    *store.Store
	embedLLM llm.Provider // nil disables embeddings
	ranker   *ranking.Ranker
	parsers  *parser.Registry
	cvs      *cvResolver
	notifier Notifier
}

// New creates a new MentorMatch engine with the given configuration.
func New(cfg Config, opts ...Option) (Engine, error) {
	options := &engineOptions{}
	for _, o := range opts {
		o(options)
	}

	// Apply defaults for zero values
	def := DefaultConfig()
	if cfg.EmbeddingDim == 0 {
		cfg.EmbeddingDim = def.EmbeddingDim
	}
	if cfg.TopN == 0 {
		cfg.TopN = def.TopN
	}
	if cfg.MinLLMPool == 0 {
		cfg.MinLLMPool = def.MinLLMPool
	}
	if cfg.RankConcurrency == 0 {
		cfg.RankConcurrency = def.RankConcurrency
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	// Resolve database path from config (DBPath > DBName+StorageDir > default)
	s, err := store.New(cfg.resolveDBPath(), cfg.EmbeddingDim)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	embedLLM := options.embed
	if embedLLM == nil && cfg.Embedding.Provider != "" {
		embedLLM, err = llm.NewProvider(llm.Config{
			Provider:   cfg.Embedding.Provider,
			Model:      cfg.Embedding.Model,
			BaseURL:    cfg.Embedding.BaseURL,
			APIKey:     cfg.Embedding.APIKey,
			MaxRetries: cfg.LLMRetries,
			Dimensions: cfg.EmbeddingDim,
		})
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("creating embedding provider: %w", err)
		}
	}

	llmRanker := options.llmRanker
	if llmRanker == nil {
		chat := options.chat
		if chat == nil && cfg.Chat.Enabled() {
			chat, err = llm.NewProvider(llm.Config{
				Provider:   cfg.Chat.Provider,
				Model:      cfg.Chat.Model,
				BaseURL:    cfg.Chat.BaseURL,
				APIKey:     cfg.Chat.APIKey,
				Timeout:    cfg.llmTimeout(),
				MaxRetries: cfg.LLMRetries,
			})
			if err != nil {
				s.Close()
				return nil, fmt.Errorf("creating chat provider: %w", err)
			}
		}
		if chat != nil {
			llmRanker = ranking.NewChatRanker(chat, ranking.ChatRankerConfig{
				Model:       cfg.Chat.Model,
				Temperature: cfg.Temperature,
				Timeout:     cfg.llmTimeout(),
			})
		}
	}

	rankOpts := []ranking.Option{
		ranking.WithMinLLMPool(cfg.MinLLMPool),
		ranking.WithDefaultTopN(cfg.TopN),
	}
	if llmRanker != nil {
		rankOpts = append(rankOpts, ranking.WithLLM(llmRanker))
	}

	notifier := options.notifier
	if notifier == nil {
		notifier = logNotifier{}
	}

	reg := parser.NewRegistry()
	e := &engine{
		cfg:      cfg,
		store:    s,
		embedLLM: embedLLM,
		ranker:   ranking.New(rankOpts...),
		parsers:  reg,
		cvs:      newCVResolver(cfg.MediaDir, reg),
		notifier: notifier,
	}
	slog.Info("mentormatch: engine ready",
		"llm_ranking", e.ranker.LLMEnabled(), "embeddings", embedLLM != nil,
		"embedding_dim", cfg.EmbeddingDim, "top_n", cfg.TopN)
	return e, nil
}

func (e *engine) Store() *store.Store { return e.store }

func (e *engine) Close() error { return e.store.Close() }

// --- Entities ---

func (e *engine) UpsertUser(ctx context.Context, u store.User) (int64, error) {
	u.FullName = strings.TrimSpace(u.FullName)
	u.Email = strings.TrimSpace(u.Email)
	u.Role = strings.ToLower(strings.TrimSpace(u.Role))
	if u.FullName == "" {
		return 0, fmt.Errorf("%w: full_name is required", ErrInvalidInput)
	}
	if !validUserRole(u.Role) {
		return 0, fmt.Errorf("%w: role must be student, supervisor or admin, got %q", ErrInvalidInput, u.Role)
	}
	if u.Email != "" && !strings.Contains(u.Email, "@") {
		return 0, fmt.Errorf("%w: malformed email %q", ErrInvalidInput, u.Email)
	}

	id, err := e.store.UpsertUser(ctx, u)
	if err != nil {
		return 0, err
	}
	e.refreshOnWrite(ctx, store.KindUser, id)
	return id, nil
}

func (e *engine) GetUser(ctx context.Context, id int64) (*UserDetail, error) {
	u, err := e.store.GetUser(ctx, id)
	if err != nil {
		return nil, err
	}
	d := &UserDetail{User: *u}
	switch u.Role {
	case store.RoleStudent:
		st, err := e.store.GetStudent(ctx, id)
		if err != nil {
			return nil, err
		}
		d.StudentProfile = st.Profile
	case store.RoleSupervisor:
		sv, err := e.store.GetSupervisor(ctx, id)
		if err != nil {
			return nil, err
		}
		d.SupervisorProfile = sv.Profile
	}
	return d, nil
}

func (e *engine) DeleteUser(ctx context.Context, id int64) error {
	return e.store.DeleteUser(ctx, id)
}

func (e *engine) UpsertStudentProfile(ctx context.Context, p store.StudentProfile) error {
	if err := e.requireRole(ctx, p.UserID, store.RoleStudent); err != nil {
		return err
	}
	if err := e.store.UpsertStudentProfile(ctx, p); err != nil {
		return err
	}
	e.refreshOnWrite(ctx, store.KindUser, p.UserID)
	return nil
}

func (e *engine) UpsertSupervisorProfile(ctx context.Context, p store.SupervisorProfile) error {
	if err := e.requireRole(ctx, p.UserID, store.RoleSupervisor); err != nil {
		return err
	}
	if p.Capacity != nil && *p.Capacity < 0 {
		return fmt.Errorf("%w: capacity must not be negative", ErrInvalidInput)
	}
	if err := e.store.UpsertSupervisorProfile(ctx, p); err != nil {
		return err
	}
	e.refreshOnWrite(ctx, store.KindUser, p.UserID)
	return nil
}

func (e *engine) requireRole(ctx context.Context, userID int64, role string) error {
	u, err := e.store.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	if u.Role != role {
		return fmt.Errorf("%w: user %d is a %s, not a %s", ErrInvalidInput, userID, u.Role, role)
	}
	return nil
}

func (e *engine) UpsertTopic(ctx context.Context, t store.Topic) (int64, error) {
	t.Title = strings.TrimSpace(t.Title)
	t.SeekingRole = strings.ToLower(strings.TrimSpace(t.SeekingRole))
	if t.Title == "" {
		return 0, fmt.Errorf("%w: title is required", ErrInvalidInput)
	}
	if t.SeekingRole == "" {
		t.SeekingRole = store.RoleSupervisor
	}
	if t.SeekingRole != store.RoleSupervisor && t.SeekingRole != store.RoleStudent {
		return 0, fmt.Errorf("%w: seeking_role must be supervisor or student, got %q", ErrInvalidInput, t.SeekingRole)
	}
	if _, err := e.store.GetUser(ctx, t.AuthorUserID); err != nil {
		return 0, fmt.Errorf("topic author: %w", err)
	}

	id, err := e.store.UpsertTopic(ctx, t)
	if err != nil {
		return 0, err
	}
	e.refreshOnWrite(ctx, store.KindTopic, id)

	// Role descriptions embed their topic.
	if e.cfg.RefreshOnWrite {
		roles, err := e.store.ListRoles(ctx, store.RoleFilter{TopicID: id})
		if err != nil {
			slog.Warn("listing roles for refresh failed", "topic_id", id, "error", err)
		}
		for _, r := range roles {
			e.refreshOnWrite(ctx, store.KindRole, r.ID)
		}
	}
	return id, nil
}

func (e *engine) GetTopic(ctx context.Context, id int64) (*store.Topic, error) {
	return e.store.GetTopic(ctx, id)
}

func (e *engine) DeleteTopic(ctx context.Context, id int64) error {
	return e.store.DeleteTopic(ctx, id)
}

func (e *engine) UpsertRole(ctx context.Context, r store.Role) (int64, error) {
	r.Name = strings.TrimSpace(r.Name)
	if r.Name == "" {
		return 0, fmt.Errorf("%w: role name is required", ErrInvalidInput)
	}
	if r.Capacity != nil && *r.Capacity < 0 {
		return 0, fmt.Errorf("%w: capacity must not be negative", ErrInvalidInput)
	}
	if _, err := e.store.GetTopic(ctx, r.TopicID); err != nil {
		return 0, fmt.Errorf("role topic: %w", err)
	}

	id, err := e.store.UpsertRole(ctx, r)
	if err != nil {
		return 0, err
	}
	e.refreshOnWrite(ctx, store.KindRole, id)
	return id, nil
}

func (e *engine) GetRole(ctx context.Context, id int64) (*store.Role, error) {
	return e.store.GetRole(ctx, id)
}

func (e *engine) DeleteRole(ctx context.Context, id int64) error {
	return e.store.DeleteRole(ctx, id)
}

func validUserRole(role string) bool {
	switch role {
	case store.RoleStudent, store.RoleSupervisor, store.RoleAdmin:
		return true
	}
	return false
}
