package store

import (
	"fmt"
	"strings"
)

// Direction identifies one matching direction and the mirror table that
// stores its candidate edges. All four tables share one schema.
type Direction struct {
	Name        string
	Table       string
	SubjectCol  string
	ObjectCol   string
	SubjectKind EntityKind
	ObjectKind  EntityKind
}

var (
	// TopicUsers ranks users for a topic (supervisors unless the topic seeks students).
	TopicUsers = Direction{"topic_users", "topic_candidates", "topic_id", "user_id", KindTopic, KindUser}
	// SupervisorTopics ranks topics for a supervisor.
	SupervisorTopics = Direction{"supervisor_topics", "supervisor_candidates", "user_id", "topic_id", KindUser, KindTopic}
	// RoleStudents ranks students for a role.
	RoleStudents = Direction{"role_students", "role_candidates", "role_id", "user_id", KindRole, KindUser}
	// StudentRoles ranks roles for a student.
	StudentRoles = Direction{"student_roles", "student_candidates", "user_id", "role_id", KindUser, KindRole}
)

// Directions returns all matching directions.
func Directions() []Direction {
	return []Direction{TopicUsers, SupervisorTopics, RoleStudents, StudentRoles}
}

var directionAliases = map[string]Direction{
	"topic":      TopicUsers,
	"supervisor": SupervisorTopics,
	"role":       RoleStudents,
	"student":    StudentRoles,
}

// ParseDirection resolves a direction by name or short alias.
func ParseDirection(name string) (Direction, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, d := range Directions() {
		if d.Name == name {
			return d, nil
		}
	}
	if d, ok := directionAliases[name]; ok {
		return d, nil
	}
	return Direction{}, fmt.Errorf("%w: %q", ErrUnknownDirection, name)
}

func (d Direction) String() string { return d.Name }

// candidateTableSQL returns the DDL of one mirror table.
func candidateTableSQL(d Direction) string {
	return fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %[1]s (
    %[2]s INTEGER NOT NULL REFERENCES %[4]s(id) ON DELETE CASCADE,
    %[3]s INTEGER NOT NULL REFERENCES %[5]s(id) ON DELETE CASCADE,
    score REAL NOT NULL,
    rank INTEGER,
    is_primary INTEGER NOT NULL DEFAULT 0,
    approved INTEGER NOT NULL DEFAULT 0,
    stale INTEGER NOT NULL DEFAULT 0,
    reason TEXT NOT NULL DEFAULT '',
    source TEXT NOT NULL DEFAULT '',
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY (%[2]s, %[3]s)
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_%[1]s_primary ON %[1]s(%[2]s) WHERE is_primary = 1;
CREATE INDEX IF NOT EXISTS idx_%[1]s_object ON %[1]s(%[3]s);
`, d.Table, d.SubjectCol, d.ObjectCol, d.SubjectKind.table(), d.ObjectKind.table())
}
