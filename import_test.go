//go:build cgo

package mentormatch

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/xuri/excelize/v2"

	"github.com/brunobiangulo/mentormatch/parser"
	"github.com/brunobiangulo/mentormatch/store"
)

// writeWorkbook saves sheets (first row is the header) as an XLSX file.
func writeWorkbook(t *testing.T, sheets map[string][][]any, order ...string) string {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()

	for i, name := range order {
		if i == 0 {
			if err := f.SetSheetName("Sheet1", name); err != nil {
				t.Fatal(err)
			}
		} else if _, err := f.NewSheet(name); err != nil {
			t.Fatal(err)
		}
		for r, row := range sheets[name] {
			cell, _ := excelize.CoordinatesToCellName(1, r+1)
			if err := f.SetSheetRow(name, cell, &row); err != nil {
				t.Fatal(err)
			}
		}
	}

	path := filepath.Join(t.TempDir(), "import.xlsx")
	if err := f.SaveAs(path); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestImportWorkbookFile(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	path := writeWorkbook(t, map[string][][]any{
		"Students": {
			{"Full Name", "Email", "Program", "Skills", "Dev Track", "CV"},
			{"Ada Lovelace", "ADA@uni.edu", "Mathematics", "python, go", 4, "Wrote the first program"},
			{"", "nobody@uni.edu", "", "", "", ""},
			{"Bob", "bob@uni.edu", "Physics", "c++", "lots", ""},
		},
		"Supervisors": {
			{"full_name", "email", "position", "capacity", "interests"},
			{"Grace Hopper", "grace@uni.edu", "Professor", 3, "compilers"},
			{"Ada Again", "ada@uni.edu", "Professor", "", ""},
		},
		"Topics": {
			{"author_email", "title", "description", "required_skills", "seeking_role", "is_active"},
			{"ada@uni.edu", "Compiler for kids", "A teaching language", "parsing", "supervisor", "yes"},
			{"ada@uni.edu", "Team game", "Multiplayer game", "unity", "student", ""},
			{"ghost@uni.edu", "Orphan", "", "", "", ""},
		},
		"Roles": {
			{"topic_title", "name", "description", "required_skills", "capacity"},
			{"Team game", "Designer", "Level design", "figma", 1},
			{"No such topic", "Tester", "", "", ""},
		},
		"Notes": {
			{"anything"},
			{"ignored"},
		},
	}, "Students", "Supervisors", "Topics", "Roles", "Notes")

	report, err := e.Import(ctx, path)
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if report.Students != 1 || report.Supervisors != 1 || report.Topics != 2 || report.Roles != 1 {
		t.Errorf("counts: %+v", report)
	}
	if len(report.Skipped) != 5 {
		t.Fatalf("skipped: got %d, want 5: %+v", len(report.Skipped), report.Skipped)
	}
	if s := report.Skipped[0]; s.Sheet != "Students" || s.Row != 3 || !strings.Contains(s.Reason, "full_name") {
		t.Errorf("first skip: %+v", s)
	}
	if s := report.Skipped[1]; s.Row != 4 || !strings.Contains(s.Reason, "dev_track") {
		t.Errorf("bad track skip: %+v", s)
	}
	if s := report.Skipped[2]; s.Sheet != "Supervisors" || !strings.Contains(s.Reason, "belongs to a student") {
		t.Errorf("role clash skip: %+v", s)
	}
	if report.Embedded != 5 {
		t.Errorf("embedded: got %d, want 5", report.Embedded)
	}

	ada, err := e.store.GetUserByEmail(ctx, "ada@uni.edu")
	if err != nil {
		t.Fatalf("imported student: %v", err)
	}
	st, err := e.store.GetStudent(ctx, ada.ID)
	if err != nil {
		t.Fatal(err)
	}
	if st.Profile == nil || st.Profile.DevTrack == nil || *st.Profile.DevTrack != 4 || st.Profile.Program != "Mathematics" {
		t.Errorf("student profile: %+v", st.Profile)
	}

	game, err := e.store.FindTopic(ctx, ada.ID, "Team game")
	if err != nil {
		t.Fatal(err)
	}
	if game.SeekingRole != store.RoleStudent || !game.IsActive {
		t.Errorf("topic: %+v", game)
	}

	// A second import updates instead of duplicating.
	if _, err := e.Import(ctx, path); err != nil {
		t.Fatal(err)
	}
	topics, err := e.store.ListTopics(ctx, store.TopicFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(topics) != 2 {
		t.Errorf("topics after re-import: got %d, want 2", len(topics))
	}
}

func TestImportAmbiguousRoleTopic(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	wb := &parser.Workbook{Sheets: []parser.Sheet{
		{Name: "students", Records: []parser.Record{
			{Row: 2, Fields: map[string]string{"full_name": "A", "email": "a@uni.edu"}},
			{Row: 3, Fields: map[string]string{"full_name": "B", "email": "b@uni.edu"}},
		}},
		{Name: "topics", Records: []parser.Record{
			{Row: 2, Fields: map[string]string{"author_email": "a@uni.edu", "title": "Robots", "seeking_role": "student"}},
			{Row: 3, Fields: map[string]string{"author_email": "b@uni.edu", "title": "robots", "seeking_role": "student"}},
		}},
		{Name: "roles", Records: []parser.Record{
			{Row: 2, Fields: map[string]string{"topic_title": "Robots", "name": "Builder"}},
			{Row: 3, Fields: map[string]string{"topic_title": "robots", "author_email": "b@uni.edu", "name": "Builder"}},
		}},
	}}

	report, err := e.ImportWorkbook(ctx, wb)
	if err != nil {
		t.Fatalf("ImportWorkbook: %v", err)
	}
	if report.Roles != 1 || len(report.Skipped) != 1 || !strings.Contains(report.Skipped[0].Reason, "ambiguous") {
		t.Errorf("report: %+v", report)
	}
}

func TestImportUnreadableFile(t *testing.T) {
	e := newTestEngine(t)
	if _, err := e.Import(context.Background(), filepath.Join(t.TempDir(), "missing.xlsx")); !errors.Is(err, ErrImportFailed) {
		t.Errorf("expected ErrImportFailed, got %v", err)
	}
}

func TestExportCandidates(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	f := seed(t, e, 2)

	if _, err := e.RankAndStore(ctx, store.TopicUsers, f.topic); err != nil {
		t.Fatal(err)
	}
	if err := e.Approve(ctx, store.TopicUsers, f.topic, f.supervisors[0], true); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	if err := e.ExportCandidates(ctx, store.TopicUsers, &buf); err != nil {
		t.Fatalf("ExportCandidates: %v", err)
	}

	wb, err := parser.ReadWorkbookFrom(&buf)
	if err != nil {
		t.Fatalf("reading export: %v", err)
	}
	sheet := wb.Sheet("topic_users")
	if sheet == nil {
		t.Fatal("missing topic_users sheet")
	}
	if len(sheet.Records) != 2 {
		t.Fatalf("rows: got %d, want 2", len(sheet.Records))
	}
	first := sheet.Records[0]
	if first.Get("subject") != "Vector search for course recommendations" {
		t.Errorf("subject: got %q", first.Get("subject"))
	}
	if first.Get("rank") != "1" || first.Get("object") != "Supervisor 0" {
		t.Errorf("first row: %+v", first.Fields)
	}
	if first.Get("approved") != "TRUE" || first.Get("is_primary") != "TRUE" {
		t.Errorf("flags: approved=%q is_primary=%q", first.Get("approved"), first.Get("is_primary"))
	}
}
