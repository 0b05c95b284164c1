// Package legacy imports sessions kept by the earlier on-device app, which
// stored the whole session list as one JSON value under StorageKey.
//
// Imported sessions land in the local store as unsynced, offline-created
// records; the next sweep pushes them to the remote service.
package legacy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/myclass/attendsync/internal/localdb"
	"github.com/myclass/attendsync/internal/session"
)

// StorageKey is the key the earlier app kept its session list under.
const StorageKey = "myclass.attendance.sessions"

// Session is one entry of the legacy list. It carries no owner and no
// sync state.
type Session struct {
	ID             string            `json:"id"`
	CreatedAt      string            `json:"createdAt"`
	AcademicYear   string            `json:"academicYear,omitempty"`
	SemesterType   string            `json:"semesterType,omitempty"`
	Semester       string            `json:"semester,omitempty"`
	Subject        *session.Subject  `json:"subject,omitempty"`
	Section        string            `json:"section,omitempty"`
	SessionDetails string            `json:"sessionDetails"`
	Students       []session.Student `json:"students"`
}

// Options contains configuration for an import.
type Options struct {
	From   string // exported JSON file
	Owner  string // markedBy given to every imported session
	DryRun bool   // report without writing
	Backup bool   // copy the input file before importing
	Now    func() time.Time
}

// Result contains statistics about an import.
type Result struct {
	Found         int
	Imported      int
	Skipped       int
	BackupCreated string
	Errors        []string
}

// Parse reads a legacy export. It accepts the bare session array, or a
// storage dump object holding the array (or its JSON string encoding)
// under StorageKey.
func Parse(data []byte) ([]Session, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, nil
	}

	if data[0] == '{' {
		var dump map[string]json.RawMessage
		if err := json.Unmarshal(data, &dump); err != nil {
			return nil, fmt.Errorf("invalid storage dump: %w", err)
		}
		raw, ok := dump[StorageKey]
		if !ok {
			return nil, fmt.Errorf("storage dump has no %q key", StorageKey)
		}
		// AsyncStorage values are strings holding JSON.
		var encoded string
		if err := json.Unmarshal(raw, &encoded); err == nil {
			raw = json.RawMessage(encoded)
		}
		data = bytes.TrimSpace(raw)
		if len(data) == 0 || string(data) == "null" {
			return nil, nil
		}
	}

	var list []Session
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("invalid session list: %w", err)
	}
	return list, nil
}

// Convert turns a legacy entry into an unsynced local session for owner.
// Rows missing a registration number or name are dropped and unmarked
// rows become absent, as on save.
func Convert(ls Session, owner string, now time.Time) (*session.Session, error) {
	students, err := session.Snapshot(ls.Students)
	if err != nil {
		return nil, err
	}

	created := now
	if ls.CreatedAt != "" {
		t, err := time.Parse(time.RFC3339Nano, ls.CreatedAt)
		if err != nil {
			return nil, &session.ValidationError{Err: fmt.Errorf("invalid createdAt %q: %w", ls.CreatedAt, err)}
		}
		created = t
	}

	id := ls.ID
	if id == "" {
		id = session.NewLocalID(created)
	}

	s := &session.Session{
		ID:               id,
		CreatedAt:        created,
		AcademicYear:     ls.AcademicYear,
		SemesterType:     ls.SemesterType,
		Semester:         ls.Semester,
		Section:          ls.Section,
		SessionDetails:   ls.SessionDetails,
		Students:         students,
		MarkedBy:         owner,
		IsSynced:         false,
		IsOfflineCreated: true,
	}
	if ls.Subject != nil {
		sub := *ls.Subject
		s.Subject = &sub
	}
	return s, nil
}

// Import copies a legacy export into db. Sessions whose id the store
// already knows, as a current or a pre-rewrite id, are skipped, so an
// import can be repeated safely.
func Import(ctx context.Context, db *localdb.DB, opts Options) (*Result, error) {
	if opts.Owner == "" {
		return nil, session.ErrNoOwner
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	// #nosec G304 - controlled path from CLI
	input, err := os.ReadFile(opts.From)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", opts.From, err)
	}

	result := &Result{}
	if opts.Backup && !opts.DryRun {
		backupPath := opts.From + ".backup." + opts.Now().Format("20060102-150405")
		if err := os.WriteFile(backupPath, input, 0o600); err != nil {
			return nil, fmt.Errorf("failed to create backup: %w", err)
		}
		result.BackupCreated = backupPath
	}

	list, err := Parse(input)
	if err != nil {
		return nil, err
	}
	result.Found = len(list)

	seen := make(map[string]bool)
	for i, ls := range list {
		s, err := Convert(ls, opts.Owner, opts.Now())
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("entry %d (%s): %v", i, ls.ID, err))
			continue
		}
		if seen[s.ID] {
			result.Skipped++
			continue
		}
		seen[s.ID] = true

		existing, err := db.Get(ctx, s.ID)
		if err != nil {
			return result, err
		}
		if existing != nil {
			result.Skipped++
			continue
		}

		if !opts.DryRun {
			if err := db.Insert(ctx, s); err != nil {
				result.Errors = append(result.Errors, fmt.Sprintf("entry %d (%s): %v", i, s.ID, err))
				continue
			}
		}
		result.Imported++
	}
	return result, nil
}
