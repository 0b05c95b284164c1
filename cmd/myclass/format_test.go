package main

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"gopkg.in/yaml.v3"

	"github.com/myclass/attendsync/internal/session"
	"github.com/myclass/attendsync/internal/ui"
)

func TestParseDay(t *testing.T) {
	loc := time.FixedZone("IST", 5*3600+1800)
	now := time.Date(2024, 4, 10, 14, 30, 0, 0, loc)

	tests := []struct {
		expr string
		want string // YYYY-MM-DD, "" for no filter
	}{
		{"", ""},
		{"2024-04-05", "2024-04-05"},
		{"today", "2024-04-10"},
		{"yesterday", "2024-04-09"},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			got, err := parseDay(tt.expr, now, loc)
			if err != nil {
				t.Fatalf("parseDay(%q) failed: %v", tt.expr, err)
			}
			if tt.want == "" {
				if got != nil {
					t.Errorf("parseDay(%q) = %v, want nil", tt.expr, got)
				}
				return
			}
			if got == nil || got.In(loc).Format("2006-01-02") != tt.want {
				t.Errorf("parseDay(%q) = %v, want %s", tt.expr, got, tt.want)
			}
		})
	}

	if _, err := parseDay("banana", now, loc); err == nil {
		t.Error("parseDay accepted nonsense")
	}
}

func TestMarkStudents(t *testing.T) {
	roster := []session.Student{
		{RegNo: "21CS001", Name: "Priya"},
		{RegNo: "21CS002", Name: "Arun"},
		{RegNo: "21CS003", Name: "Meena"},
	}

	got, unknown := markStudents(roster, []string{"21CS001", " 21CS003 ", "99XX"}, nil, false)
	want := []session.Student{
		{RegNo: "21CS001", Name: "Priya", Status: session.StatusPresent},
		{RegNo: "21CS002", Name: "Arun"},
		{RegNo: "21CS003", Name: "Meena", Status: session.StatusPresent},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("markStudents mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"99XX"}, unknown); diff != "" {
		t.Errorf("unknown mismatch (-want +got):\n%s", diff)
	}
	if roster[0].Status != "" {
		t.Error("markStudents modified the roster")
	}

	got, _ = markStudents(roster, nil, []string{"21CS002"}, true)
	if got[0].Status != session.StatusPresent || got[1].Status != session.StatusAbsent || got[2].Status != session.StatusPresent {
		t.Errorf("all-present marking = %+v", got)
	}
}

func sampleSessions() []*session.Session {
	return []*session.Session{
		{
			ID:             "srv-1",
			CreatedAt:      time.Date(2024, 4, 5, 9, 15, 0, 0, time.UTC),
			Subject:        &session.Subject{Code: "CS401", Name: "Compilers"},
			SessionDetails: "Period 3",
			Students: []session.Student{
				{RegNo: "21CS001", Name: "Priya", Status: session.StatusPresent},
				{RegNo: "21CS002", Name: "Arun", Status: session.StatusAbsent},
			},
			MarkedBy: "u1",
			IsSynced: true,
		},
		{
			ID:             "1712345678901-a1b2c3d4e5",
			CreatedAt:      time.Date(2024, 4, 5, 8, 0, 0, 0, time.UTC),
			SessionDetails: "Period 1",
			Students:       []session.Student{{RegNo: "21CS001", Name: "Priya", Status: session.StatusPresent}},
			MarkedBy:       "u1",
		},
	}
}

func TestWriteSessions(t *testing.T) {
	ui.Init(&bytes.Buffer{})
	list := sampleSessions()

	var buf bytes.Buffer
	if err := writeSessions(&buf, "table", list, time.UTC); err != nil {
		t.Fatalf("table: %v", err)
	}
	for _, want := range []string{"srv-1", "CS401 Compilers", "Period 3", "synced", "pending", "2024-04-05 09:15"} {
		if !strings.Contains(buf.String(), want) {
			t.Errorf("table missing %q:\n%s", want, buf.String())
		}
	}

	buf.Reset()
	if err := writeSessions(&buf, "json", list, time.UTC); err != nil {
		t.Fatalf("json: %v", err)
	}
	var decoded []*session.Session
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("json output does not decode: %v", err)
	}
	if diff := cmp.Diff(list, decoded); diff != "" {
		t.Errorf("json mismatch (-want +got):\n%s", diff)
	}

	buf.Reset()
	if err := writeSessions(&buf, "yaml", list, time.UTC); err != nil {
		t.Fatalf("yaml: %v", err)
	}
	var fromYAML []map[string]any
	if err := yaml.Unmarshal(buf.Bytes(), &fromYAML); err != nil || len(fromYAML) != 2 {
		t.Errorf("yaml output = %v, %v", fromYAML, err)
	}

	buf.Reset()
	if err := writeSessions(&buf, "json", nil, time.UTC); err != nil || strings.TrimSpace(buf.String()) != "[]" {
		t.Errorf("empty json = %q, %v", buf.String(), err)
	}
	if err := writeSessions(&buf, "xml", list, time.UTC); err == nil {
		t.Error("writeSessions accepted an unknown format")
	}
}

func TestWriteReport(t *testing.T) {
	ui.Init(&bytes.Buffer{})
	var buf bytes.Buffer
	writeReport(&buf, sampleSessions()[0], time.UTC)

	out := buf.String()
	for _, want := range []string{"srv-1", "Present:  1 of 2 (50.0%)", "Absent:   1", "21CS002", "Arun", "absent"} {
		if !strings.Contains(out, want) {
			t.Errorf("report missing %q:\n%s", want, out)
		}
	}
}
