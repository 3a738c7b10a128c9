package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// User roles.
const (
	RoleStudent    = "student"
	RoleSupervisor = "supervisor"
	RoleAdmin      = "admin"
)

// User represents a row in the users table.
type User struct {
	ID        int64  `json:"id"`
	FullName  string `json:"full_name"`
	Email     string `json:"email,omitempty"`
	Username  string `json:"username,omitempty"`
	Role      string `json:"role"`
	IsActive  bool   `json:"is_active"`
	CreatedAt string `json:"created_at,omitempty"`
	UpdatedAt string `json:"updated_at,omitempty"`
}

// StudentProfile represents a row in the student_profiles table.
type StudentProfile struct {
	UserID             int64  `json:"user_id"`
	Program            string `json:"program"`
	Skills             string `json:"skills"`
	Interests          string `json:"interests"`
	SkillsToLearn      string `json:"skills_to_learn"`
	Achievements       string `json:"achievements"`
	Requirements       string `json:"requirements"`
	TeamRole           string `json:"team_role"`
	TeamNeeds          string `json:"team_needs"`
	PreferredTeamTrack string `json:"preferred_team_track"`
	DevTrack           *int   `json:"dev_track,omitempty"`
	ScienceTrack       *int   `json:"science_track,omitempty"`
	StartupTrack       *int   `json:"startup_track,omitempty"`
	CV                 string `json:"cv"`
}

// SupervisorProfile represents a row in the supervisor_profiles table.
type SupervisorProfile struct {
	UserID       int64  `json:"user_id"`
	Position     string `json:"position"`
	Degree       string `json:"degree"`
	Capacity     *int   `json:"capacity,omitempty"`
	Interests    string `json:"interests"`
	Requirements string `json:"requirements"`
}

// Student is a student user with its profile, if one was filled in.
type Student struct {
	User
	Profile *StudentProfile `json:"profile,omitempty"`
}

// Supervisor is a supervisor user with its profile, if one was filled in.
type Supervisor struct {
	User
	Profile *SupervisorProfile `json:"profile,omitempty"`
}

// Topic represents a row in the topics table.
type Topic struct {
	ID                       int64  `json:"id"`
	AuthorUserID             int64  `json:"author_user_id"`
	AuthorName               string `json:"author_name,omitempty"`
	Title                    string `json:"title"`
	Description              string `json:"description"`
	ExpectedOutcomes         string `json:"expected_outcomes"`
	RequiredSkills           string `json:"required_skills"`
	Direction                *int   `json:"direction,omitempty"`
	SeekingRole              string `json:"seeking_role"`
	IsActive                 bool   `json:"is_active"`
	ApprovedSupervisorUserID *int64 `json:"approved_supervisor_user_id,omitempty"`
	CreatedAt                string `json:"created_at,omitempty"`
}

// Role represents a row in the roles table, joined with its topic.
type Role struct {
	ID                    int64  `json:"id"`
	TopicID               int64  `json:"topic_id"`
	Name                  string `json:"name"`
	Description           string `json:"description"`
	RequiredSkills        string `json:"required_skills"`
	Capacity              *int   `json:"capacity,omitempty"`
	ApprovedStudentUserID *int64 `json:"approved_student_user_id,omitempty"`

	// Read-only fields from the owning topic.
	TopicAuthorUserID     int64  `json:"topic_author_user_id,omitempty"`
	TopicTitle            string `json:"topic_title,omitempty"`
	TopicDescription      string `json:"topic_description,omitempty"`
	TopicExpectedOutcomes string `json:"topic_expected_outcomes,omitempty"`
	TopicRequiredSkills   string `json:"topic_required_skills,omitempty"`
	TopicActive           bool   `json:"topic_active"`
	SeekingRole           string `json:"seeking_role,omitempty"`
}

// --- Users ---

// UpsertUser inserts or updates a user and returns its id. A non-zero ID
// updates that row; otherwise a user with the same email is updated or a
// new row is inserted.
func (s *Store) UpsertUser(ctx context.Context, u User) (int64, error) {
	u.Role = strings.ToLower(strings.TrimSpace(u.Role))
	email := nullString(strings.TrimSpace(u.Email))

	if u.ID != 0 {
		res, err := s.db.ExecContext(ctx, `
			UPDATE users SET full_name = ?, email = ?, username = ?, role = ?, is_active = ?,
				updated_at = CURRENT_TIMESTAMP
			WHERE id = ?
		`, u.FullName, email, u.Username, u.Role, boolInt(u.IsActive), u.ID)
		if err != nil {
			return 0, err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return 0, fmt.Errorf("%w: user %d", ErrNotFound, u.ID)
		}
		return u.ID, nil
	}

	var id int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO users (full_name, email, username, role, is_active)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(email) DO UPDATE SET
			full_name = excluded.full_name,
			username = excluded.username,
			role = excluded.role,
			is_active = excluded.is_active,
			updated_at = CURRENT_TIMESTAMP
		RETURNING id
	`, u.FullName, email, u.Username, u.Role, boolInt(u.IsActive)).Scan(&id)
	return id, err
}

const userColumns = `u.id, u.full_name, COALESCE(u.email, ''), u.username, u.role, u.is_active, u.created_at, u.updated_at`

func scanUser(row interface{ Scan(...any) error }, u *User, extra ...any) error {
	dest := append([]any{&u.ID, &u.FullName, &u.Email, &u.Username, &u.Role, &u.IsActive, &u.CreatedAt, &u.UpdatedAt}, extra...)
	return row.Scan(dest...)
}

// GetUser retrieves a user by id.
func (s *Store) GetUser(ctx context.Context, id int64) (*User, error) {
	u := &User{}
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users u WHERE u.id = ?`, id)
	if err := scanUser(row, u); err != nil {
		return nil, notFound(err, "user", id)
	}
	return u, nil
}

// GetUserByEmail retrieves a user by email address.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	u := &User{}
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users u WHERE u.email = ?`, strings.TrimSpace(email))
	if err := scanUser(row, u); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%w: user with email %q", ErrNotFound, email)
		}
		return nil, err
	}
	return u, nil
}

// DeleteUser removes a user. Profiles, authored topics, candidate edges
// and embeddings go with it.
func (s *Store) DeleteUser(ctx context.Context, id int64) error {
	return s.deleteByID(ctx, "users", "user", id)
}

// --- Profiles ---

// UpsertStudentProfile inserts or replaces the profile of a user.
func (s *Store) UpsertStudentProfile(ctx context.Context, p StudentProfile) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO student_profiles (user_id, program, skills, interests, skills_to_learn,
			achievements, requirements, team_role, team_needs, preferred_team_track,
			dev_track, science_track, startup_track, cv)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			program = excluded.program,
			skills = excluded.skills,
			interests = excluded.interests,
			skills_to_learn = excluded.skills_to_learn,
			achievements = excluded.achievements,
			requirements = excluded.requirements,
			team_role = excluded.team_role,
			team_needs = excluded.team_needs,
			preferred_team_track = excluded.preferred_team_track,
			dev_track = excluded.dev_track,
			science_track = excluded.science_track,
			startup_track = excluded.startup_track,
			cv = excluded.cv
	`, p.UserID, p.Program, p.Skills, p.Interests, p.SkillsToLearn,
		p.Achievements, p.Requirements, p.TeamRole, p.TeamNeeds, p.PreferredTeamTrack,
		nullInt(p.DevTrack), nullInt(p.ScienceTrack), nullInt(p.StartupTrack), p.CV)
	return err
}

// UpsertSupervisorProfile inserts or replaces the profile of a user.
func (s *Store) UpsertSupervisorProfile(ctx context.Context, p SupervisorProfile) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO supervisor_profiles (user_id, position, degree, capacity, interests, requirements)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			position = excluded.position,
			degree = excluded.degree,
			capacity = excluded.capacity,
			interests = excluded.interests,
			requirements = excluded.requirements
	`, p.UserID, p.Position, p.Degree, nullInt(p.Capacity), p.Interests, p.Requirements)
	return err
}

const studentSelect = `
	SELECT ` + userColumns + `, sp.user_id IS NOT NULL,
		COALESCE(sp.program, ''), COALESCE(sp.skills, ''), COALESCE(sp.interests, ''),
		COALESCE(sp.skills_to_learn, ''), COALESCE(sp.achievements, ''), COALESCE(sp.requirements, ''),
		COALESCE(sp.team_role, ''), COALESCE(sp.team_needs, ''), COALESCE(sp.preferred_team_track, ''),
		sp.dev_track, sp.science_track, sp.startup_track, COALESCE(sp.cv, '')
	FROM users u
	LEFT JOIN student_profiles sp ON sp.user_id = u.id
	WHERE u.role = 'student'`

func scanStudent(row interface{ Scan(...any) error }) (*Student, error) {
	st := &Student{}
	var hasProfile bool
	var p StudentProfile
	var dev, sci, startup sql.NullInt64
	err := scanUser(row, &st.User, &hasProfile,
		&p.Program, &p.Skills, &p.Interests,
		&p.SkillsToLearn, &p.Achievements, &p.Requirements,
		&p.TeamRole, &p.TeamNeeds, &p.PreferredTeamTrack,
		&dev, &sci, &startup, &p.CV)
	if err != nil {
		return nil, err
	}
	if hasProfile {
		p.UserID = st.ID
		p.DevTrack, p.ScienceTrack, p.StartupTrack = scanNullInt(dev), scanNullInt(sci), scanNullInt(startup)
		st.Profile = &p
	}
	return st, nil
}

// GetStudent retrieves a student user and profile. ErrNotFound is
// returned when the user is missing or is not a student.
func (s *Store) GetStudent(ctx context.Context, id int64) (*Student, error) {
	st, err := scanStudent(s.db.QueryRowContext(ctx, studentSelect+` AND u.id = ?`, id))
	if err != nil {
		return nil, notFound(err, "student", id)
	}
	return st, nil
}

// ListStudents returns active students, newest first. limit <= 0 means all.
func (s *Store) ListStudents(ctx context.Context, limit int) ([]Student, error) {
	rows, err := s.db.QueryContext(ctx, studentSelect+` AND u.is_active = 1
		ORDER BY u.created_at DESC, u.id DESC LIMIT ?`, sqlLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Student
	for rows.Next() {
		st, err := scanStudent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *st)
	}
	return out, rows.Err()
}

const supervisorSelect = `
	SELECT ` + userColumns + `, sp.user_id IS NOT NULL,
		COALESCE(sp.position, ''), COALESCE(sp.degree, ''), sp.capacity,
		COALESCE(sp.interests, ''), COALESCE(sp.requirements, '')
	FROM users u
	LEFT JOIN supervisor_profiles sp ON sp.user_id = u.id
	WHERE u.role = 'supervisor'`

func scanSupervisor(row interface{ Scan(...any) error }) (*Supervisor, error) {
	sv := &Supervisor{}
	var hasProfile bool
	var p SupervisorProfile
	var capacity sql.NullInt64
	err := scanUser(row, &sv.User, &hasProfile, &p.Position, &p.Degree, &capacity, &p.Interests, &p.Requirements)
	if err != nil {
		return nil, err
	}
	if hasProfile {
		p.UserID = sv.ID
		p.Capacity = scanNullInt(capacity)
		sv.Profile = &p
	}
	return sv, nil
}

// GetSupervisor retrieves a supervisor user and profile. ErrNotFound is
// returned when the user is missing or is not a supervisor.
func (s *Store) GetSupervisor(ctx context.Context, id int64) (*Supervisor, error) {
	sv, err := scanSupervisor(s.db.QueryRowContext(ctx, supervisorSelect+` AND u.id = ?`, id))
	if err != nil {
		return nil, notFound(err, "supervisor", id)
	}
	return sv, nil
}

// ListSupervisors returns active supervisors, newest first. limit <= 0 means all.
func (s *Store) ListSupervisors(ctx context.Context, limit int) ([]Supervisor, error) {
	rows, err := s.db.QueryContext(ctx, supervisorSelect+` AND u.is_active = 1
		ORDER BY u.created_at DESC, u.id DESC LIMIT ?`, sqlLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Supervisor
	for rows.Next() {
		sv, err := scanSupervisor(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *sv)
	}
	return out, rows.Err()
}

// --- Topics ---

// UpsertTopic inserts or updates a topic and returns its id. A non-zero
// ID updates that row; otherwise (author, title) identifies the topic.
func (s *Store) UpsertTopic(ctx context.Context, t Topic) (int64, error) {
	if t.SeekingRole == "" {
		t.SeekingRole = RoleSupervisor
	}
	if t.ID != 0 {
		res, err := s.db.ExecContext(ctx, `
			UPDATE topics SET author_user_id = ?, title = ?, description = ?, expected_outcomes = ?,
				required_skills = ?, direction = ?, seeking_role = ?, is_active = ?,
				updated_at = CURRENT_TIMESTAMP
			WHERE id = ?
		`, t.AuthorUserID, t.Title, t.Description, t.ExpectedOutcomes,
			t.RequiredSkills, nullInt(t.Direction), t.SeekingRole, boolInt(t.IsActive), t.ID)
		if err != nil {
			return 0, err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return 0, fmt.Errorf("%w: topic %d", ErrNotFound, t.ID)
		}
		return t.ID, nil
	}

	var id int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO topics (author_user_id, title, description, expected_outcomes,
			required_skills, direction, seeking_role, is_active)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(author_user_id, title) DO UPDATE SET
			description = excluded.description,
			expected_outcomes = excluded.expected_outcomes,
			required_skills = excluded.required_skills,
			direction = excluded.direction,
			seeking_role = excluded.seeking_role,
			is_active = excluded.is_active,
			updated_at = CURRENT_TIMESTAMP
		RETURNING id
	`, t.AuthorUserID, t.Title, t.Description, t.ExpectedOutcomes,
		t.RequiredSkills, nullInt(t.Direction), t.SeekingRole, boolInt(t.IsActive)).Scan(&id)
	return id, err
}

const topicSelect = `
	SELECT t.id, t.author_user_id, u.full_name, t.title, t.description, t.expected_outcomes,
		t.required_skills, t.direction, t.seeking_role, t.is_active,
		t.approved_supervisor_user_id, t.created_at
	FROM topics t
	JOIN users u ON u.id = t.author_user_id`

func scanTopic(row interface{ Scan(...any) error }) (*Topic, error) {
	t := &Topic{}
	var direction, approved sql.NullInt64
	err := row.Scan(&t.ID, &t.AuthorUserID, &t.AuthorName, &t.Title, &t.Description, &t.ExpectedOutcomes,
		&t.RequiredSkills, &direction, &t.SeekingRole, &t.IsActive, &approved, &t.CreatedAt)
	if err != nil {
		return nil, err
	}
	t.Direction = scanNullInt(direction)
	if approved.Valid {
		t.ApprovedSupervisorUserID = &approved.Int64
	}
	return t, nil
}

// GetTopic retrieves a topic by id.
func (s *Store) GetTopic(ctx context.Context, id int64) (*Topic, error) {
	t, err := scanTopic(s.db.QueryRowContext(ctx, topicSelect+` WHERE t.id = ?`, id))
	if err != nil {
		return nil, notFound(err, "topic", id)
	}
	return t, nil
}

// TopicFilter narrows ListTopics.
type TopicFilter struct {
	SeekingRole string // "" for any
	ActiveOnly  bool
	Limit       int // <= 0 for all
}

// ListTopics returns topics matching f, newest first.
func (s *Store) ListTopics(ctx context.Context, f TopicFilter) ([]Topic, error) {
	query := topicSelect + ` WHERE 1 = 1`
	var args []any
	if f.SeekingRole != "" {
		query += ` AND t.seeking_role = ?`
		args = append(args, f.SeekingRole)
	}
	if f.ActiveOnly {
		query += ` AND t.is_active = 1`
	}
	query += ` ORDER BY t.created_at DESC, t.id DESC LIMIT ?`
	args = append(args, sqlLimit(f.Limit))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Topic
	for rows.Next() {
		t, err := scanTopic(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

// DeleteTopic removes a topic together with its roles and candidate edges.
func (s *Store) DeleteTopic(ctx context.Context, id int64) error {
	return s.deleteByID(ctx, "topics", "topic", id)
}

// --- Roles ---

// UpsertRole inserts or updates a role and returns its id. A non-zero ID
// updates that row; otherwise (topic, name) identifies the role.
func (s *Store) UpsertRole(ctx context.Context, r Role) (int64, error) {
	if r.ID != 0 {
		res, err := s.db.ExecContext(ctx, `
			UPDATE roles SET topic_id = ?, name = ?, description = ?, required_skills = ?, capacity = ?
			WHERE id = ?
		`, r.TopicID, r.Name, r.Description, r.RequiredSkills, nullInt(r.Capacity), r.ID)
		if err != nil {
			return 0, err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return 0, fmt.Errorf("%w: role %d", ErrNotFound, r.ID)
		}
		return r.ID, nil
	}

	var id int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO roles (topic_id, name, description, required_skills, capacity)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(topic_id, name) DO UPDATE SET
			description = excluded.description,
			required_skills = excluded.required_skills,
			capacity = excluded.capacity
		RETURNING id
	`, r.TopicID, r.Name, r.Description, r.RequiredSkills, nullInt(r.Capacity)).Scan(&id)
	return id, err
}

const roleSelect = `
	SELECT r.id, r.topic_id, r.name, r.description, r.required_skills, r.capacity,
		r.approved_student_user_id, t.author_user_id, t.title, t.description, t.expected_outcomes,
		t.required_skills, t.is_active, t.seeking_role
	FROM roles r
	JOIN topics t ON t.id = r.topic_id`

func scanRole(row interface{ Scan(...any) error }) (*Role, error) {
	r := &Role{}
	var capacity, approved sql.NullInt64
	err := row.Scan(&r.ID, &r.TopicID, &r.Name, &r.Description, &r.RequiredSkills, &capacity,
		&approved, &r.TopicAuthorUserID, &r.TopicTitle, &r.TopicDescription, &r.TopicExpectedOutcomes,
		&r.TopicRequiredSkills, &r.TopicActive, &r.SeekingRole)
	if err != nil {
		return nil, err
	}
	r.Capacity = scanNullInt(capacity)
	if approved.Valid {
		r.ApprovedStudentUserID = &approved.Int64
	}
	return r, nil
}

// GetRole retrieves a role by id with its topic fields.
func (s *Store) GetRole(ctx context.Context, id int64) (*Role, error) {
	r, err := scanRole(s.db.QueryRowContext(ctx, roleSelect+` WHERE r.id = ?`, id))
	if err != nil {
		return nil, notFound(err, "role", id)
	}
	return r, nil
}

// RoleFilter narrows ListRoles.
type RoleFilter struct {
	TopicID int64 // 0 for any
	// OpenOnly keeps roles of active topics that seek students.
	OpenOnly bool
	Limit    int // <= 0 for all
}

// ListRoles returns roles matching f, newest topic first.
func (s *Store) ListRoles(ctx context.Context, f RoleFilter) ([]Role, error) {
	query := roleSelect + ` WHERE 1 = 1`
	var args []any
	if f.TopicID != 0 {
		query += ` AND r.topic_id = ?`
		args = append(args, f.TopicID)
	}
	if f.OpenOnly {
		query += ` AND t.is_active = 1 AND t.seeking_role = 'student'`
	}
	query += ` ORDER BY t.created_at DESC, r.id ASC LIMIT ?`
	args = append(args, sqlLimit(f.Limit))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Role
	for rows.Next() {
		r, err := scanRole(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

// DeleteRole removes a role and its candidate edges.
func (s *Store) DeleteRole(ctx context.Context, id int64) error {
	return s.deleteByID(ctx, "roles", "role", id)
}

// FindTopic looks a topic up by author and title.
func (s *Store) FindTopic(ctx context.Context, authorID int64, title string) (*Topic, error) {
	t, err := scanTopic(s.db.QueryRowContext(ctx, topicSelect+` WHERE t.author_user_id = ? AND t.title = ?`,
		authorID, strings.TrimSpace(title)))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%w: topic %q of user %d", ErrNotFound, title, authorID)
		}
		return nil, err
	}
	return t, nil
}

// FindTopicsByTitle returns every topic with the given title, compared
// case-insensitively.
func (s *Store) FindTopicsByTitle(ctx context.Context, title string) ([]Topic, error) {
	rows, err := s.db.QueryContext(ctx, topicSelect+` WHERE lower(t.title) = lower(?) ORDER BY t.id`,
		strings.TrimSpace(title))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Topic
	for rows.Next() {
		t, err := scanTopic(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

// Names returns display names of the given entities: full name for
// users, title for topics, "topic / role" for roles.
func (s *Store) Names(ctx context.Context, kind EntityKind, ids []int64) (map[int64]string, error) {
	out := make(map[int64]string, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	var query string
	switch kind {
	case KindUser:
		query = `SELECT id, full_name FROM users WHERE id IN (%s)`
	case KindTopic:
		query = `SELECT id, title FROM topics WHERE id IN (%s)`
	case KindRole:
		query = `SELECT r.id, t.title || ' / ' || r.name FROM roles r JOIN topics t ON t.id = r.topic_id WHERE r.id IN (%s)`
	default:
		return nil, fmt.Errorf("unknown entity kind %q", kind)
	}

	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(query, placeholders(len(ids))), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var id int64
		var name string
		if err := rows.Scan(&id, &name); err != nil {
			return nil, err
		}
		out[id] = name
	}
	return out, rows.Err()
}

func (s *Store) deleteByID(ctx context.Context, table, what string, id int64) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM "+table+" WHERE id = ?", id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s %d", ErrNotFound, what, id)
	}
	return nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// sqlLimit maps a non-positive limit to SQLite's "no limit".
func sqlLimit(n int) int {
	if n <= 0 {
		return -1
	}
	return n
}
