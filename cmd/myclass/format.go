package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	"gopkg.in/yaml.v3"

	"github.com/myclass/attendsync/internal/session"
	"github.com/myclass/attendsync/internal/ui"
)

var dateParser = func() *when.Parser {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	return w
}()

// parseDay turns a --date value into a calendar day in loc. It accepts
// YYYY-MM-DD or phrases like "today", "yesterday" or "last friday".
// An empty expression means no filter.
func parseDay(expr string, now time.Time, loc *time.Location) (*time.Time, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, nil
	}
	if t, err := time.ParseInLocation("2006-01-02", expr, loc); err == nil {
		return &t, nil
	}

	r, err := dateParser.Parse(expr, now.In(loc))
	if err != nil {
		return nil, fmt.Errorf("invalid date %q: %w", expr, err)
	}
	if r == nil {
		return nil, fmt.Errorf("invalid date %q: expected YYYY-MM-DD or a phrase like \"yesterday\"", expr)
	}
	day := r.Time.In(loc)
	return &day, nil
}

// markStudents applies --present/--absent lists (registration numbers) to
// a working roster. With allPresent every row not listed absent is marked
// present. Unknown registration numbers are returned.
func markStudents(roster []session.Student, present, absent []string, allPresent bool) ([]session.Student, []string) {
	index := make(map[string]int, len(roster))
	out := make([]session.Student, len(roster))
	for i, s := range roster {
		out[i] = s
		index[s.RegNo] = i
		if allPresent {
			out[i].Status = session.StatusPresent
		}
	}

	var unknown []string
	mark := func(regs []string, st session.Status) {
		for _, reg := range regs {
			reg = strings.TrimSpace(reg)
			if reg == "" {
				continue
			}
			i, ok := index[reg]
			if !ok {
				unknown = append(unknown, reg)
				continue
			}
			out[i].Status = st
		}
	}
	mark(present, session.StatusPresent)
	mark(absent, session.StatusAbsent)
	return out, unknown
}

func subjectLabel(s *session.Session) string {
	if s.Subject == nil {
		return ""
	}
	if s.Subject.Name == "" {
		return s.Subject.Code
	}
	return s.Subject.Code + " " + s.Subject.Name
}

// writeSessions prints sessions as a table, JSON or YAML.
func writeSessions(w io.Writer, format string, list []*session.Session, loc *time.Location) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if list == nil {
			list = []*session.Session{}
		}
		return enc.Encode(list)
	case "yaml":
		return yaml.NewEncoder(w).Encode(list)
	case "table", "":
	default:
		return fmt.Errorf("unknown format %q (want table, json or yaml)", format)
	}

	if len(list) == 0 {
		_, err := fmt.Fprintln(w, ui.RenderMuted("No sessions."))
		return err
	}
	rows := make([][]string, 0, len(list))
	for _, s := range list {
		present, absent := s.Counts()
		rows = append(rows, []string{
			s.ID,
			s.CreatedAt.In(loc).Format("2006-01-02 15:04"),
			ui.Truncate(subjectLabel(s), 24),
			ui.Truncate(s.SessionDetails, 28),
			strconv.Itoa(present),
			strconv.Itoa(absent),
			ui.SyncBadge(s.IsSynced),
		})
	}
	_, err := fmt.Fprintln(w, ui.Table([]string{"ID", "CREATED", "SUBJECT", "DETAILS", "PRESENT", "ABSENT", "SYNC"}, rows))
	return err
}

// writeReport prints one session with its totals and student table.
func writeReport(w io.Writer, s *session.Session, loc *time.Location) {
	present, absent := s.Counts()
	total := len(s.Students)
	pct := 0.0
	if total > 0 {
		pct = float64(present) * 100 / float64(total)
	}

	fmt.Fprintf(w, "%s %s\n", ui.RenderAccent("Session"), s.ID)
	fmt.Fprintf(w, "   Created:  %s\n", s.CreatedAt.In(loc).Format("Mon 2 Jan 2006 15:04"))
	if label := subjectLabel(s); label != "" {
		fmt.Fprintf(w, "   Subject:  %s\n", label)
	}
	if s.AcademicYear != "" || s.Semester != "" || s.Section != "" {
		fmt.Fprintf(w, "   Class:    %s\n", strings.Join(nonEmpty(s.AcademicYear, s.SemesterType, s.Semester, s.Section), " / "))
	}
	fmt.Fprintf(w, "   Details:  %s\n", s.SessionDetails)
	fmt.Fprintf(w, "   Sync:     %s\n", ui.SyncBadge(s.IsSynced))
	fmt.Fprintf(w, "   Present:  %d of %d (%.1f%%)\n", present, total, pct)
	fmt.Fprintf(w, "   Absent:   %d\n\n", absent)

	rows := make([][]string, 0, total)
	for i, st := range s.Students {
		rows = append(rows, []string{strconv.Itoa(i + 1), st.RegNo, st.Name, ui.Status(string(st.Status))})
	}
	fmt.Fprintln(w, ui.Table([]string{"#", "REG NO", "NAME", "STATUS"}, rows))
}

func nonEmpty(vals ...string) []string {
	out := vals[:0:0]
	for _, v := range vals {
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}
