package store

import (
	"fmt"
	"strings"
)

// schemaSQL returns the DDL for all tables. embeddingDim controls the
// vec0 virtual table dimension.
func schemaSQL(embeddingDim int) string {
	var b strings.Builder
	b.WriteString(`
-- Platform users; role decides which profile applies
CREATE TABLE IF NOT EXISTS users (
    id INTEGER PRIMARY KEY,
    full_name TEXT NOT NULL DEFAULT '',
    email TEXT UNIQUE,
    username TEXT NOT NULL DEFAULT '',
    role TEXT NOT NULL CHECK (role IN ('student', 'supervisor', 'admin')),
    is_active INTEGER NOT NULL DEFAULT 1,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS student_profiles (
    user_id INTEGER PRIMARY KEY REFERENCES users(id) ON DELETE CASCADE,
    program TEXT NOT NULL DEFAULT '',
    skills TEXT NOT NULL DEFAULT '',
    interests TEXT NOT NULL DEFAULT '',
    skills_to_learn TEXT NOT NULL DEFAULT '',
    achievements TEXT NOT NULL DEFAULT '',
    requirements TEXT NOT NULL DEFAULT '',
    team_role TEXT NOT NULL DEFAULT '',
    team_needs TEXT NOT NULL DEFAULT '',
    preferred_team_track TEXT NOT NULL DEFAULT '',
    dev_track INTEGER,
    science_track INTEGER,
    startup_track INTEGER,
    cv TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS supervisor_profiles (
    user_id INTEGER PRIMARY KEY REFERENCES users(id) ON DELETE CASCADE,
    position TEXT NOT NULL DEFAULT '',
    degree TEXT NOT NULL DEFAULT '',
    capacity INTEGER,
    interests TEXT NOT NULL DEFAULT '',
    requirements TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS topics (
    id INTEGER PRIMARY KEY,
    author_user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    title TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    expected_outcomes TEXT NOT NULL DEFAULT '',
    required_skills TEXT NOT NULL DEFAULT '',
    direction INTEGER,
    seeking_role TEXT NOT NULL DEFAULT 'supervisor' CHECK (seeking_role IN ('student', 'supervisor')),
    is_active INTEGER NOT NULL DEFAULT 1,
    approved_supervisor_user_id INTEGER REFERENCES users(id) ON DELETE SET NULL,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    UNIQUE(author_user_id, title)
);

CREATE TABLE IF NOT EXISTS roles (
    id INTEGER PRIMARY KEY,
    topic_id INTEGER NOT NULL REFERENCES topics(id) ON DELETE CASCADE,
    name TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    required_skills TEXT NOT NULL DEFAULT '',
    capacity INTEGER,
    approved_student_user_id INTEGER REFERENCES users(id) ON DELETE SET NULL,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    UNIQUE(topic_id, name)
);

-- Audit log of ranking passes
CREATE TABLE IF NOT EXISTS ranking_runs (
    id TEXT PRIMARY KEY,
    direction TEXT NOT NULL,
    subject_id INTEGER NOT NULL,
    policy TEXT NOT NULL,
    pool_size INTEGER NOT NULL,
    result_count INTEGER NOT NULL,
    elapsed_ms INTEGER NOT NULL DEFAULT 0,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_users_role ON users(role, is_active);
CREATE INDEX IF NOT EXISTS idx_topics_seeking ON topics(seeking_role, is_active);
CREATE INDEX IF NOT EXISTS idx_roles_topic ON roles(topic_id);
CREATE INDEX IF NOT EXISTS idx_ranking_runs_subject ON ranking_runs(direction, subject_id);
`)

	// One vector table per embedded entity kind. vec0 tables do not take
	// part in foreign keys, so delete triggers keep them in sync.
	for _, k := range []EntityKind{KindUser, KindTopic, KindRole} {
		fmt.Fprintf(&b, `
CREATE VIRTUAL TABLE IF NOT EXISTS %[1]s USING vec0(
    %[2]s INTEGER PRIMARY KEY,
    embedding float[%[4]d] distance_metric=cosine
);
CREATE TRIGGER IF NOT EXISTS %[3]s_vec_ad AFTER DELETE ON %[3]s BEGIN
    DELETE FROM %[1]s WHERE %[2]s = old.id;
END;
`, k.vecTable(), k.vecKey(), k.table(), embeddingDim)
	}

	for _, d := range Directions() {
		b.WriteString(candidateTableSQL(d))
	}
	return b.String()
}
