package session

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Status is a student's attendance mark.
type Status string

const (
	StatusPresent Status = "present"
	StatusAbsent  Status = "absent"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	return s == StatusPresent || s == StatusAbsent
}

// Student is one row of a roster or of a saved snapshot.
// Status is empty on working rows that have not been marked yet.
type Student struct {
	RegNo  string `json:"regNo" yaml:"regNo"`
	Name   string `json:"name" yaml:"name"`
	Status Status `json:"status,omitempty" yaml:"status,omitempty"`
}

// Subject identifies the course a session was taken for.
type Subject struct {
	Code string `json:"code" yaml:"code"`
	Name string `json:"name" yaml:"name"`
}

// Context describes the class a session belongs to. Every field is
// optional, but SessionDetails falls back to Label, so at least one must
// be set.
type Context struct {
	AcademicYear   string   `json:"academicYear,omitempty" yaml:"academicYear,omitempty"`
	SemesterType   string   `json:"semesterType,omitempty" yaml:"semesterType,omitempty"`
	Semester       string   `json:"semester,omitempty" yaml:"semester,omitempty"`
	Section        string   `json:"section,omitempty" yaml:"section,omitempty"`
	Subject        *Subject `json:"subject,omitempty" yaml:"subject,omitempty"`
	SessionDetails string   `json:"sessionDetails" yaml:"sessionDetails"`
}

// Label builds session details from the other fields, in the form
// "2024-25 • Odd • Sem 5 • Sec B • CS501". Empty fields are left out.
func (c Context) Label() string {
	var parts []string
	add := func(prefix, v string) {
		if v = strings.TrimSpace(v); v != "" {
			parts = append(parts, prefix+v)
		}
	}
	add("", c.AcademicYear)
	add("", c.SemesterType)
	add("Sem ", c.Semester)
	add("Sec ", c.Section)
	if c.Subject != nil {
		subject := c.Subject.Code
		if strings.TrimSpace(subject) == "" {
			subject = c.Subject.Name
		}
		add("", subject)
	}
	return strings.Join(parts, " • ")
}

// Session is the canonical unit of work.
type Session struct {
	// ===== Identity =====
	ID        string    `json:"id" yaml:"id"`
	CreatedAt time.Time `json:"createdAt" yaml:"createdAt"`

	// ===== Class context =====
	AcademicYear   string   `json:"academicYear,omitempty" yaml:"academicYear,omitempty"`
	SemesterType   string   `json:"semesterType,omitempty" yaml:"semesterType,omitempty"`
	Semester       string   `json:"semester,omitempty" yaml:"semester,omitempty"`
	Section        string   `json:"section,omitempty" yaml:"section,omitempty"`
	Subject        *Subject `json:"subject,omitempty" yaml:"subject,omitempty"`
	SessionDetails string   `json:"sessionDetails" yaml:"sessionDetails"`

	// ===== Snapshot =====
	Students []Student `json:"students" yaml:"students"`

	// ===== Ownership & bookkeeping =====
	MarkedBy         string `json:"markedBy,omitempty" yaml:"markedBy,omitempty"`
	IsSynced         bool   `json:"isSynced" yaml:"isSynced"`
	IsOfflineCreated bool   `json:"isOfflineCreated" yaml:"isOfflineCreated"`
}

// New builds an unsynced, offline-created session for owner from the
// working student list. The working list is copied; later edits to it do
// not reach the returned session. Blank session details are replaced by
// c.Label(); if that is blank too New returns a *ValidationError wrapping
// ErrNoDetails.
func New(c Context, working []Student, owner string, now time.Time) (*Session, error) {
	snap, err := Snapshot(working)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(c.SessionDetails) == "" {
		c.SessionDetails = c.Label()
	}
	if c.SessionDetails == "" {
		return nil, &ValidationError{Err: ErrNoDetails}
	}
	s := &Session{
		ID:               NewLocalID(now),
		CreatedAt:        now,
		AcademicYear:     c.AcademicYear,
		SemesterType:     c.SemesterType,
		Semester:         c.Semester,
		Section:          c.Section,
		SessionDetails:   c.SessionDetails,
		Students:         snap,
		MarkedBy:         owner,
		IsSynced:         false,
		IsOfflineCreated: true,
	}
	if c.Subject != nil {
		sub := *c.Subject
		s.Subject = &sub
	}
	return s, nil
}

// Snapshot filters the working list down to rows that carry both a
// registration number and a name, and gives every row a concrete status
// (absent when unmarked). It returns a *ValidationError wrapping
// ErrNoStudents when nothing is left.
func Snapshot(working []Student) ([]Student, error) {
	out := make([]Student, 0, len(working))
	for _, st := range working {
		if st.RegNo == "" || st.Name == "" {
			continue
		}
		status := st.Status
		if status != StatusPresent {
			status = StatusAbsent
		}
		out = append(out, Student{RegNo: st.RegNo, Name: st.Name, Status: status})
	}
	if len(out) == 0 {
		return nil, &ValidationError{Err: ErrNoStudents}
	}
	return out, nil
}

// NewLocalID returns a local handle of the form "{unix-millis}-{hex}".
func NewLocalID(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:10]
	return fmt.Sprintf("%d-%s", now.UnixMilli(), suffix)
}

// IsLocalID reports whether id looks like a handle produced by NewLocalID.
func IsLocalID(id string) bool {
	ms, hex, ok := strings.Cut(id, "-")
	if !ok || ms == "" || hex == "" || strings.Contains(hex, "-") {
		return false
	}
	for _, r := range ms {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// Context returns the class context of s.
func (s *Session) Context() Context {
	c := Context{
		AcademicYear:   s.AcademicYear,
		SemesterType:   s.SemesterType,
		Semester:       s.Semester,
		Section:        s.Section,
		SessionDetails: s.SessionDetails,
	}
	if s.Subject != nil {
		sub := *s.Subject
		c.Subject = &sub
	}
	return c
}

// Clone returns a deep copy of s.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	if s.Subject != nil {
		sub := *s.Subject
		c.Subject = &sub
	}
	c.Students = append([]Student(nil), s.Students...)
	return &c
}

// Counts returns the number of present and absent students.
func (s *Session) Counts() (present, absent int) {
	for _, st := range s.Students {
		if st.Status == StatusPresent {
			present++
		} else {
			absent++
		}
	}
	return present, absent
}

// Validate checks the fields a stored session must carry.
func (s *Session) Validate() error {
	if s.ID == "" {
		return &ValidationError{Err: fmt.Errorf("id is required")}
	}
	if s.MarkedBy == "" {
		return &ValidationError{Err: ErrNoOwner}
	}
	if s.CreatedAt.IsZero() {
		return &ValidationError{Err: fmt.Errorf("createdAt is required")}
	}
	if len(s.Students) == 0 {
		return &ValidationError{Err: ErrNoStudents}
	}
	for i, st := range s.Students {
		if !st.Status.Valid() {
			return &ValidationError{Err: fmt.Errorf("student %d (%s): invalid status %q", i, st.RegNo, st.Status)}
		}
	}
	return nil
}

// DayWindow returns the [start, end) bounds of the calendar day containing
// t in loc.
func DayWindow(t time.Time, loc *time.Location) (time.Time, time.Time) {
	if loc == nil {
		loc = time.Local
	}
	lt := t.In(loc)
	start := time.Date(lt.Year(), lt.Month(), lt.Day(), 0, 0, 0, 0, loc)
	return start, start.AddDate(0, 0, 1)
}
