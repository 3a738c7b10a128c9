package mentormatch

import (
	"fmt"
	"strings"

	"github.com/brunobiangulo/mentormatch/store"
)

const (
	maxEntityTextRunes = 12000
	maxCVExcerptRunes  = 2000
)

// part is one labelled field of an entity description.
type part struct {
	label, value string
}

// joinParts renders the non-empty parts as "Label: value" lines.
func joinParts(parts []part) string {
	lines := make([]string, 0, len(parts))
	for _, p := range parts {
		v := strings.TrimSpace(p.value)
		if v == "" {
			continue
		}
		lines = append(lines, p.label+": "+v)
	}
	return truncateRunes(strings.Join(lines, "\n"), maxEntityTextRunes)
}

// studentText describes a student. cv is the resolved CV text.
func studentText(st *store.Student, cv string) string {
	parts := []part{{"Student", st.FullName}}
	if p := st.Profile; p != nil {
		parts = append(parts,
			part{"Program", p.Program},
			part{"Skills", p.Skills},
			part{"Interests", p.Interests},
			part{"Wants to learn", p.SkillsToLearn},
			part{"Achievements", p.Achievements},
			part{"Requirements", p.Requirements},
			part{"Team role", p.TeamRole},
			part{"Team needs", p.TeamNeeds},
			part{"Preferred track", p.PreferredTeamTrack},
			part{"Tracks", tracksLine(p)},
			part{"CV", truncateRunes(cv, maxCVExcerptRunes)},
		)
	}
	return joinParts(parts)
}

func studentKeywords(st *store.Student) string {
	if st.Profile == nil {
		return ""
	}
	p := st.Profile
	return strings.Join([]string{p.Skills, p.Interests, p.SkillsToLearn, p.TeamRole}, " ")
}

// tracksLine renders the track self-assessments, e.g. "dev_track:4, startup_track:2".
func tracksLine(p *store.StudentProfile) string {
	var out []string
	for _, t := range []struct {
		name string
		v    *int
	}{
		{"dev_track", p.DevTrack},
		{"science_track", p.ScienceTrack},
		{"startup_track", p.StartupTrack},
	} {
		if t.v != nil {
			out = append(out, fmt.Sprintf("%s:%d", t.name, *t.v))
		}
	}
	return strings.Join(out, ", ")
}

func supervisorText(sv *store.Supervisor) string {
	parts := []part{{"Supervisor", sv.FullName}}
	if p := sv.Profile; p != nil {
		capacity := ""
		if p.Capacity != nil {
			capacity = fmt.Sprint(*p.Capacity)
		}
		parts = append(parts,
			part{"Position", p.Position},
			part{"Degree", p.Degree},
			part{"Interests", p.Interests},
			part{"Requirements", p.Requirements},
			part{"Capacity", capacity},
		)
	}
	return joinParts(parts)
}

func supervisorKeywords(sv *store.Supervisor) string {
	if sv.Profile == nil {
		return ""
	}
	return sv.Profile.Interests + " " + sv.Profile.Requirements
}

func topicText(t *store.Topic) string {
	return joinParts([]part{
		{"Topic", t.Title},
		{"Description", t.Description},
		{"Expected outcomes", t.ExpectedOutcomes},
		{"Required skills", t.RequiredSkills},
	})
}

func topicKeywords(t *store.Topic) string {
	return t.Title + " " + t.RequiredSkills
}

func roleText(r *store.Role) string {
	return joinParts([]part{
		{"Role", r.Name},
		{"Role description", r.Description},
		{"Role skills", r.RequiredSkills},
		{"Topic", r.TopicTitle},
		{"Topic description", r.TopicDescription},
		{"Expected outcomes", r.TopicExpectedOutcomes},
		{"Topic skills", r.TopicRequiredSkills},
	})
}

func roleKeywords(r *store.Role) string {
	return strings.Join([]string{r.Name, r.RequiredSkills, r.TopicRequiredSkills}, " ")
}

func truncateRunes(s string, n int) string {
	if n <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
