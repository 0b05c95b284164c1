package reconcile_test

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/myclass/attendsync/internal/localdb"
	"github.com/myclass/attendsync/internal/reconcile"
	"github.com/myclass/attendsync/internal/remote/remotetest"
	"github.com/myclass/attendsync/internal/session"
)

type owner string

func (o owner) CurrentOwner() string { return string(o) }

// Example_offlineSave shows a save while the remote is down and the sweep
// that later syncs it.
func Example_offlineSave() {
	dir, err := os.MkdirTemp("", "attendance-example")
	if err != nil {
		log.Fatal(err)
	}
	defer os.RemoveAll(dir)

	store := localdb.NewHandle(filepath.Join(dir, "attendance.db"), time.UTC)
	defer store.Close()

	svc := remotetest.NewMemory()
	r := reconcile.New(reconcile.Config{
		Store:  store,
		Remote: svc,
		Owner:  owner("staff-42"),
		Logger: log.New(os.Stderr, "[example] ", 0),
	})

	ctx := context.Background()
	svc.SetOffline(true)
	s, err := r.Save(ctx, session.Context{SessionDetails: "CS101 - Period 1"}, []session.Student{
		{RegNo: "21CS001", Name: "Priya", Status: session.StatusPresent},
		{RegNo: "21CS002", Name: "Arun"},
	})
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println("synced after save:", s.IsSynced)

	svc.SetOffline(false)
	res, err := r.Sweep(ctx)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println("synced by sweep:", res.Synced)
	fmt.Println("listed as:", r.Sessions()[0].ID)
	// Output:
	// synced after save: false
	// synced by sweep: 1
	// listed as: srv-1
}
