package loadtest

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/myclass/attendsync/internal/remote/remotetest"
)

func TestRun_FlakyRemote(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping load run in short mode")
	}

	res, err := Run(context.Background(), Config{
		DBPath:         filepath.Join(t.TempDir(), "load.db"),
		Workers:        6,
		SavesPerWorker: 10,
		Students:       8,
		FailEvery:      3,
	})
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}
	if !res.OK() {
		var buf bytes.Buffer
		res.Print(&buf)
		t.Fatalf("run reported violations:\n%s", buf.String())
	}
	if res.LocalTotal != 60 || res.RemoteTotal != 60 || res.RemoteCreates != 60 {
		t.Errorf("totals local=%d remote=%d creates=%d, want 60 each", res.LocalTotal, res.RemoteTotal, res.RemoteCreates)
	}
	if res.Latency.Count != 60 {
		t.Errorf("latency samples = %d, want 60", res.Latency.Count)
	}
}

func TestRun_DetectsUnsynced(t *testing.T) {
	svc := remotetest.NewMemory()
	svc.SetOffline(true)

	res, err := Run(context.Background(), Config{
		DBPath:         filepath.Join(t.TempDir(), "offline.db"),
		Workers:        2,
		SavesPerWorker: 3,
		Students:       2,
		MaxSweeps:      1,
		Remote:         svc,
	})
	if err == nil {
		// Listing the offline remote fails verification outright.
		t.Fatalf("Run() = %+v, want error from offline remote", res)
	}
}

func TestRun_DetectsMissingSyncs(t *testing.T) {
	svc := remotetest.NewMemory()
	svc.FailNextCreates(1000)

	res, err := Run(context.Background(), Config{
		DBPath:         filepath.Join(t.TempDir(), "failing.db"),
		Workers:        2,
		SavesPerWorker: 3,
		Students:       2,
		MaxSweeps:      1,
		Remote:         svc,
	})
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}
	if res.OK() {
		t.Fatal("Run() reported no violations with every create failing")
	}
	if res.Unsynced != 6 || res.LocalTotal != 6 {
		t.Errorf("unsynced=%d local=%d, want 6 each", res.Unsynced, res.LocalTotal)
	}

	var buf bytes.Buffer
	res.Print(&buf)
	if !strings.Contains(buf.String(), "6 sessions still unsynced") {
		t.Errorf("report missing unsynced violation:\n%s", buf.String())
	}
}

func TestComputeLatencyStats(t *testing.T) {
	var ds []time.Duration
	for i := 1; i <= 100; i++ {
		ds = append(ds, time.Duration(i)*time.Millisecond)
	}
	st := computeLatencyStats(ds)
	if st.Min != time.Millisecond || st.Max != 100*time.Millisecond {
		t.Errorf("min/max = %v/%v", st.Min, st.Max)
	}
	if st.P50 != 51*time.Millisecond || st.P99 != 100*time.Millisecond {
		t.Errorf("p50/p99 = %v/%v", st.P50, st.P99)
	}
	if st.Mean != 50500*time.Microsecond {
		t.Errorf("mean = %v", st.Mean)
	}
}
