package legacy

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/myclass/attendsync/internal/localdb"
	"github.com/myclass/attendsync/internal/session"
)

const exportJSON = `[
  {
    "id": "1712345678901-a1b2c3d4e5",
    "createdAt": "2024-04-05T09:15:00.000Z",
    "academicYear": "2023-24",
    "subject": {"code": "CS401", "name": "Compilers"},
    "sessionDetails": "Period 3",
    "students": [
      {"regNo": "21CS001", "name": "Priya", "status": "present"},
      {"regNo": "21CS002", "name": "Arun", "status": "absent"},
      {"regNo": "", "name": "Nobody", "status": "present"}
    ]
  },
  {
    "id": "1712345999999-ffeeddccbb",
    "createdAt": "2024-04-06T09:15:00.000Z",
    "sessionDetails": "Period 1",
    "students": []
  }
]`

func setupDB(t *testing.T) *localdb.DB {
	t.Helper()
	db, err := localdb.Open(filepath.Join(t.TempDir(), "legacy.db"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.InitSchema(); err != nil {
		t.Fatalf("InitSchema() failed: %v", err)
	}
	return db
}

func writeExport(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sessions.json")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestParse_Forms(t *testing.T) {
	bare, err := Parse([]byte(exportJSON))
	if err != nil {
		t.Fatalf("Parse(array) failed: %v", err)
	}

	quoted := strings.ReplaceAll(strings.ReplaceAll(exportJSON, `"`, `\"`), "\n", "")
	dumped, err := Parse([]byte(`{"` + StorageKey + `": "` + quoted + `"}`))
	if err != nil {
		t.Fatalf("Parse(dump) failed: %v", err)
	}
	if diff := cmp.Diff(bare, dumped); diff != "" {
		t.Errorf("dump parsed differently (-array +dump):\n%s", diff)
	}

	if list, err := Parse([]byte(`{"` + StorageKey + `": null}`)); err != nil || len(list) != 0 {
		t.Errorf("Parse(null) = %v, %v", list, err)
	}
	if _, err := Parse([]byte(`{"other": []}`)); err == nil {
		t.Error("Parse() accepted a dump without the sessions key")
	}
}

func TestConvert(t *testing.T) {
	list, err := Parse([]byte(exportJSON))
	if err != nil {
		t.Fatal(err)
	}
	s, err := Convert(list[0], "u1", time.Now())
	if err != nil {
		t.Fatalf("Convert() failed: %v", err)
	}
	want := &session.Session{
		ID:             "1712345678901-a1b2c3d4e5",
		CreatedAt:      time.Date(2024, 4, 5, 9, 15, 0, 0, time.UTC),
		AcademicYear:   "2023-24",
		Subject:        &session.Subject{Code: "CS401", Name: "Compilers"},
		SessionDetails: "Period 3",
		Students: []session.Student{
			{RegNo: "21CS001", Name: "Priya", Status: session.StatusPresent},
			{RegNo: "21CS002", Name: "Arun", Status: session.StatusAbsent},
		},
		MarkedBy:         "u1",
		IsOfflineCreated: true,
	}
	if diff := cmp.Diff(want, s); diff != "" {
		t.Errorf("Convert() mismatch (-want +got):\n%s", diff)
	}

	if _, err := Convert(list[1], "u1", time.Now()); !errors.Is(err, session.ErrNoStudents) {
		t.Errorf("Convert(empty) = %v, want ErrNoStudents", err)
	}
}

func TestImport(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()
	path := writeExport(t, exportJSON)

	res, err := Import(ctx, db, Options{From: path, Owner: "u1", Backup: true})
	if err != nil {
		t.Fatalf("Import() failed: %v", err)
	}
	if res.Found != 2 || res.Imported != 1 || len(res.Errors) != 1 {
		t.Errorf("result = %+v, want 2 found, 1 imported, 1 error", res)
	}
	if res.BackupCreated == "" {
		t.Error("no backup created")
	} else if _, err := os.Stat(res.BackupCreated); err != nil {
		t.Errorf("backup missing: %v", err)
	}

	unsynced, err := db.ListUnsynced(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if len(unsynced) != 1 || unsynced[0].ID != "1712345678901-a1b2c3d4e5" {
		t.Fatalf("unsynced = %v", unsynced)
	}

	// The imported session syncs; importing again must not bring it back.
	if _, err := db.UpdateIdentity(ctx, "1712345678901-a1b2c3d4e5", "srv-9"); err != nil {
		t.Fatal(err)
	}
	res, err = Import(ctx, db, Options{From: path, Owner: "u1"})
	if err != nil {
		t.Fatalf("second Import() failed: %v", err)
	}
	if res.Imported != 0 || res.Skipped != 1 {
		t.Errorf("second result = %+v, want nothing imported", res)
	}
	c, err := db.CountByOwner(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if c.Total != 1 || c.Unsynced != 0 {
		t.Errorf("counts = %+v, want 1 synced session", c)
	}
}

func TestImport_DryRunAndOwner(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()
	path := writeExport(t, exportJSON)

	if _, err := Import(ctx, db, Options{From: path}); !errors.Is(err, session.ErrNoOwner) {
		t.Errorf("Import() without owner = %v, want ErrNoOwner", err)
	}

	res, err := Import(ctx, db, Options{From: path, Owner: "u1", DryRun: true, Backup: true})
	if err != nil {
		t.Fatalf("Import(dry run) failed: %v", err)
	}
	if res.Imported != 1 || res.BackupCreated != "" {
		t.Errorf("dry run result = %+v", res)
	}
	c, err := db.CountByOwner(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if c.Total != 0 {
		t.Errorf("dry run wrote %d sessions", c.Total)
	}
}
