package mentormatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/brunobiangulo/mentormatch/parser"
	"github.com/brunobiangulo/mentormatch/store"
)

// Import sheets and their columns. Headers are matched after
// parser.NormalizeHeader, so "Full Name" and "full_name" are the same.
var (
	studentColumns = []string{
		"full_name", "email", "username", "program", "skills", "interests",
		"skills_to_learn", "achievements", "requirements", "team_role", "team_needs",
		"preferred_team_track", "dev_track", "science_track", "startup_track", "cv",
	}
	supervisorColumns = []string{
		"full_name", "email", "username", "position", "degree", "capacity", "interests", "requirements",
	}
	topicColumns = []string{
		"author_email", "title", "description", "expected_outcomes", "required_skills",
		"direction", "seeking_role", "is_active",
	}
	roleColumns = []string{
		"topic_title", "author_email", "name", "description", "required_skills", "capacity",
	}
)

// ImportReport summarises an import.
type ImportReport struct {
	Students    int          `json:"students"`
	Supervisors int          `json:"supervisors"`
	Topics      int          `json:"topics"`
	Roles       int          `json:"roles"`
	Embedded    int          `json:"embedded"`
	Skipped     []SkippedRow `json:"skipped,omitempty"`
	ElapsedMs   int64        `json:"elapsed_ms"`
}

// SkippedRow is a row that failed validation.
type SkippedRow struct {
	Sheet  string `json:"sheet"`
	Row    int    `json:"row"`
	Reason string `json:"reason"`
}

// Import reads an XLSX workbook and upserts its rows.
func (e *engine) Import(ctx context.Context, path string) (*ImportReport, error) {
	wb, err := parser.ReadWorkbook(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrImportFailed, err)
	}
	return e.ImportWorkbook(ctx, wb)
}

// ImportWorkbook upserts students, supervisors, topics and roles, in that
// order so later sheets can refer to earlier ones. Users are keyed by
// email, topics by (author email, title), roles by (topic title, name).
// Invalid rows are skipped and reported; storage faults abort.
func (e *engine) ImportWorkbook(ctx context.Context, wb *parser.Workbook) (*ImportReport, error) {
	start := time.Now()
	im := &importer{e: e, report: &ImportReport{}}

	steps := []struct {
		sheet string
		cols  []string
		row   func(context.Context, parser.Record) error
		count *int
	}{
		{"students", studentColumns, im.student, &im.report.Students},
		{"supervisors", supervisorColumns, im.supervisor, &im.report.Supervisors},
		{"topics", topicColumns, im.topic, &im.report.Topics},
		{"roles", roleColumns, im.role, &im.report.Roles},
	}

	known := make(map[string]bool, len(steps))
	for _, st := range steps {
		known[st.sheet] = true
		sheet := wb.Sheet(st.sheet)
		if sheet == nil {
			continue
		}
		if missing := missingColumns(sheet.Headers, st.cols); len(missing) > 0 {
			slog.Debug("import: optional columns absent", "sheet", sheet.Name, "columns", missing)
		}
		for _, rec := range sheet.Records {
			err := st.row(ctx, rec)
			var bad rowError
			switch {
			case errors.As(err, &bad):
				im.skip(sheet.Name, rec.Row, bad.reason)
			case err != nil:
				return im.report, fmt.Errorf("import %s row %d: %w", sheet.Name, rec.Row, err)
			default:
				*st.count++
			}
		}
	}
	for _, s := range wb.Sheets {
		if !known[strings.ToLower(strings.TrimSpace(s.Name))] {
			slog.Info("import: ignoring sheet", "sheet", s.Name)
		}
	}

	if e.cfg.RefreshOnWrite && e.embedLLM != nil && len(im.touched) > 0 {
		jobs := make([]embedJob, 0, len(im.touched))
		for _, t := range im.touched {
			text, err := e.embedText(ctx, t.kind, t.id)
			if err != nil {
				slog.Warn("import: building embedding text failed", "kind", t.kind, "id", t.id, "error", err)
				continue
			}
			if text != "" {
				jobs = append(jobs, embedJob{t.kind, t.id, text})
			}
		}
		im.report.Embedded, _, _ = e.embedJobs(ctx, jobs)
	}

	im.report.ElapsedMs = time.Since(start).Milliseconds()
	slog.Info("import complete",
		"students", im.report.Students, "supervisors", im.report.Supervisors,
		"topics", im.report.Topics, "roles", im.report.Roles,
		"skipped", len(im.report.Skipped), "embedded", im.report.Embedded,
		"elapsed", time.Since(start).Round(time.Millisecond))
	return im.report, nil
}

// rowError marks a row as invalid rather than the import as failed.
type rowError struct{ reason string }

func (r rowError) Error() string { return r.reason }

func invalid(format string, args ...any) error {
	return rowError{fmt.Sprintf(format, args...)}
}

type touched struct {
	kind store.EntityKind
	id   int64
}

type importer struct {
	e       *engine
	report  *ImportReport
	touched []touched
}

func (im *importer) skip(sheet string, row int, reason string) {
	slog.Warn("import: row skipped", "sheet", sheet, "row", row, "reason", reason)
	im.report.Skipped = append(im.report.Skipped, SkippedRow{Sheet: sheet, Row: row, Reason: reason})
}

// user upserts the user of a row and checks its role.
func (im *importer) user(ctx context.Context, rec parser.Record, role string) (int64, error) {
	name, email := rec.Get("full_name"), strings.ToLower(rec.Get("email"))
	if name == "" {
		return 0, invalid("full_name is empty")
	}
	if !strings.Contains(email, "@") {
		return 0, invalid("invalid email %q", email)
	}

	existing, err := im.e.store.GetUserByEmail(ctx, email)
	switch {
	case errors.Is(err, store.ErrNotFound):
	case err != nil:
		return 0, err
	case existing.Role != role:
		return 0, invalid("email %s belongs to a %s", email, existing.Role)
	}

	return im.e.store.UpsertUser(ctx, store.User{
		FullName: name,
		Email:    email,
		Username: strings.TrimPrefix(rec.Get("username"), "@"),
		Role:     role,
		IsActive: true,
	})
}

func (im *importer) student(ctx context.Context, rec parser.Record) error {
	tracks := make([]*int, 3)
	for i, col := range []string{"dev_track", "science_track", "startup_track"} {
		v, err := optInt(rec.Get(col))
		if err != nil {
			return invalid("%s: %v", col, err)
		}
		tracks[i] = v
	}

	id, err := im.user(ctx, rec, store.RoleStudent)
	if err != nil {
		return err
	}
	err = im.e.store.UpsertStudentProfile(ctx, store.StudentProfile{
		UserID:             id,
		Program:            rec.Get("program"),
		Skills:             rec.Get("skills"),
		Interests:          rec.Get("interests"),
		SkillsToLearn:      rec.Get("skills_to_learn"),
		Achievements:       rec.Get("achievements"),
		Requirements:       rec.Get("requirements"),
		TeamRole:           rec.Get("team_role"),
		TeamNeeds:          rec.Get("team_needs"),
		PreferredTeamTrack: rec.Get("preferred_team_track"),
		DevTrack:           tracks[0],
		ScienceTrack:       tracks[1],
		StartupTrack:       tracks[2],
		CV:                 rec.Get("cv"),
	})
	if err != nil {
		return err
	}
	im.touched = append(im.touched, touched{store.KindUser, id})
	return nil
}

func (im *importer) supervisor(ctx context.Context, rec parser.Record) error {
	capacity, err := optInt(rec.Get("capacity"))
	if err != nil {
		return invalid("capacity: %v", err)
	}
	if capacity != nil && *capacity < 0 {
		return invalid("capacity must not be negative")
	}

	id, err := im.user(ctx, rec, store.RoleSupervisor)
	if err != nil {
		return err
	}
	err = im.e.store.UpsertSupervisorProfile(ctx, store.SupervisorProfile{
		UserID:       id,
		Position:     rec.Get("position"),
		Degree:       rec.Get("degree"),
		Capacity:     capacity,
		Interests:    rec.Get("interests"),
		Requirements: rec.Get("requirements"),
	})
	if err != nil {
		return err
	}
	im.touched = append(im.touched, touched{store.KindUser, id})
	return nil
}

func (im *importer) topic(ctx context.Context, rec parser.Record) error {
	title := rec.Get("title")
	if title == "" {
		return invalid("title is empty")
	}
	author, err := im.author(ctx, rec)
	if err != nil {
		return err
	}

	direction, err := optInt(rec.Get("direction"))
	if err != nil {
		return invalid("direction: %v", err)
	}
	seeking := strings.ToLower(rec.Get("seeking_role"))
	switch seeking {
	case "":
		seeking = store.RoleSupervisor
	case store.RoleSupervisor, store.RoleStudent:
	default:
		return invalid("seeking_role must be supervisor or student, got %q", seeking)
	}
	active, err := optBool(rec.Get("is_active"), true)
	if err != nil {
		return invalid("is_active: %v", err)
	}

	id, err := im.e.store.UpsertTopic(ctx, store.Topic{
		AuthorUserID:     author,
		Title:            title,
		Description:      rec.Get("description"),
		ExpectedOutcomes: rec.Get("expected_outcomes"),
		RequiredSkills:   rec.Get("required_skills"),
		Direction:        direction,
		SeekingRole:      seeking,
		IsActive:         active,
	})
	if err != nil {
		return err
	}
	im.touched = append(im.touched, touched{store.KindTopic, id})
	return nil
}

func (im *importer) role(ctx context.Context, rec parser.Record) error {
	name, title := rec.Get("name"), rec.Get("topic_title")
	if name == "" {
		return invalid("name is empty")
	}
	if title == "" {
		return invalid("topic_title is empty")
	}
	capacity, err := optInt(rec.Get("capacity"))
	if err != nil {
		return invalid("capacity: %v", err)
	}

	var topicID int64
	if rec.Get("author_email") != "" {
		author, err := im.author(ctx, rec)
		if err != nil {
			return err
		}
		t, err := im.e.store.FindTopic(ctx, author, title)
		if errors.Is(err, store.ErrNotFound) {
			return invalid("no topic %q by %s", title, rec.Get("author_email"))
		}
		if err != nil {
			return err
		}
		topicID = t.ID
	} else {
		topics, err := im.e.store.FindTopicsByTitle(ctx, title)
		if err != nil {
			return err
		}
		switch len(topics) {
		case 0:
			return invalid("no topic %q", title)
		case 1:
			topicID = topics[0].ID
		default:
			return invalid("topic title %q is ambiguous, add author_email", title)
		}
	}

	id, err := im.e.store.UpsertRole(ctx, store.Role{
		TopicID:        topicID,
		Name:           name,
		Description:    rec.Get("description"),
		RequiredSkills: rec.Get("required_skills"),
		Capacity:       capacity,
	})
	if err != nil {
		return err
	}
	im.touched = append(im.touched, touched{store.KindRole, id})
	return nil
}

func (im *importer) author(ctx context.Context, rec parser.Record) (int64, error) {
	email := strings.ToLower(rec.Get("author_email"))
	if email == "" {
		return 0, invalid("author_email is empty")
	}
	u, err := im.e.store.GetUserByEmail(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		return 0, invalid("unknown author %s", email)
	}
	if err != nil {
		return 0, err
	}
	return u.ID, nil
}

func missingColumns(headers, want []string) []string {
	have := make(map[string]bool, len(headers))
	for _, h := range headers {
		have[h] = true
	}
	var missing []string
	for _, w := range want {
		if !have[w] {
			missing = append(missing, w)
		}
	}
	return missing
}

// optInt parses an optional integer cell. Spreadsheets often store
// whole numbers as "4.0", which is accepted.
func optInt(s string) (*int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	if v, err := strconv.Atoi(s); err == nil {
		return &v, nil
	}
	f, err := strconv.ParseFloat(strings.Replace(s, ",", ".", 1), 64)
	if err != nil || f != math.Trunc(f) || math.IsInf(f, 0) {
		return nil, fmt.Errorf("not a whole number: %q", s)
	}
	v := int(f)
	return &v, nil
}

func optBool(s string, def bool) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return def, nil
	case "1", "true", "yes", "y", "да":
		return true, nil
	case "0", "false", "no", "n", "нет":
		return false, nil
	}
	return def, fmt.Errorf("not a boolean: %q", s)
}
