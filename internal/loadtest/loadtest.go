// Package loadtest drives the reconciler with concurrent saves and sweeps
// against a flaky remote and checks that nothing is lost or duplicated.
//
// A run verifies that:
//   - every save produced a distinct session
//   - after the final sweeps every local session is synced
//   - the remote holds exactly as many sessions as were saved
package loadtest

import (
	"context"
	"fmt"
	"io"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/myclass/attendsync/internal/localdb"
	"github.com/myclass/attendsync/internal/reconcile"
	"github.com/myclass/attendsync/internal/remote"
	"github.com/myclass/attendsync/internal/remote/remotetest"
	"github.com/myclass/attendsync/internal/session"
)

// Config controls a load run.
type Config struct {
	// DBPath is the local store file to use. It should not exist yet.
	DBPath string

	// Owner is the markedBy of every saved session (default "loadtest").
	Owner string

	Workers        int // concurrent savers (default 8)
	SavesPerWorker int // saves per worker (default 25)
	Students       int // roster size per session (default 40)

	// FailEvery makes every nth remote create fail while saves are
	// running. Only applies to the built-in in-memory remote.
	FailEvery int

	// MaxSweeps bounds the sweeps after the saves finish (default 5).
	MaxSweeps int

	// Remote is the service to push to (default: in-memory).
	Remote remote.Service

	Logger *log.Logger
}

// LatencyStats captures save latencies.
type LatencyStats struct {
	Min   time.Duration
	Max   time.Duration
	Mean  time.Duration
	P50   time.Duration // Median
	P95   time.Duration
	P99   time.Duration
	Count int
}

// Result is the outcome of a load run.
type Result struct {
	Saves       int
	SaveErrors  int
	Latency     *LatencyStats
	Sweeps      int
	LocalTotal  int
	Unsynced    int
	RemoteTotal int
	// RemoteCreates is the number of successful creates the remote
	// recorded, or -1 when the remote does not count them.
	RemoteCreates int
	Violations    []string
	Elapsed       time.Duration
}

// OK reports whether the run found no violations.
func (r *Result) OK() bool { return len(r.Violations) == 0 }

// Run performs one load run.
func Run(ctx context.Context, cfg Config) (*Result, error) {
	if cfg.DBPath == "" {
		return nil, fmt.Errorf("loadtest: DBPath is required")
	}
	if cfg.Owner == "" {
		cfg.Owner = "loadtest"
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 8
	}
	if cfg.SavesPerWorker <= 0 {
		cfg.SavesPerWorker = 25
	}
	if cfg.Students <= 0 {
		cfg.Students = 40
	}
	if cfg.MaxSweeps <= 0 {
		cfg.MaxSweeps = 5
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(io.Discard, "", 0)
	}
	mem, isMemory := cfg.Remote.(*remotetest.Memory)
	if cfg.Remote == nil {
		mem, isMemory = remotetest.NewMemory(), true
		cfg.Remote = mem
	}
	if isMemory {
		mem.FailEveryCreate(cfg.FailEvery)
	}

	store := localdb.NewHandle(cfg.DBPath, time.Local)
	defer store.Close()

	rec := reconcile.New(reconcile.Config{
		Store:  store,
		Remote: cfg.Remote,
		Owner:  ownerFunc(func() string { return cfg.Owner }),
		Logger: cfg.Logger,
	})

	start := time.Now()
	res := &Result{RemoteCreates: -1}

	durations, saveErrs := runSavers(ctx, rec, cfg, &res.Sweeps)
	res.Saves = cfg.Workers * cfg.SavesPerWorker
	res.SaveErrors = len(saveErrs)
	for _, err := range saveErrs {
		res.Violations = append(res.Violations, err.Error())
	}
	res.Latency = computeLatencyStats(durations)

	if isMemory {
		mem.FailEveryCreate(0)
	}
	for i := 0; i < cfg.MaxSweeps; i++ {
		sr, err := rec.Sweep(ctx)
		res.Sweeps++
		if err != nil {
			return nil, fmt.Errorf("final sweep failed: %w", err)
		}
		if sr.Pending == 0 || sr.Pending == sr.Synced {
			break
		}
	}

	if err := verify(ctx, store, cfg, res); err != nil {
		return nil, err
	}
	if isMemory {
		res.RemoteCreates = mem.Successful()
		if res.RemoteCreates != res.RemoteTotal {
			res.Violations = append(res.Violations,
				fmt.Sprintf("remote accepted %d creates for %d sessions", res.RemoteCreates, res.RemoteTotal))
		}
	}
	res.Elapsed = time.Since(start)
	return res, nil
}

type ownerFunc func() string

func (f ownerFunc) CurrentOwner() string { return f() }

// runSavers runs the workers plus one sweeper that keeps sweeping until
// the workers are done.
func runSavers(ctx context.Context, rec *reconcile.Reconciler, cfg Config, sweeps *int) ([]time.Duration, []error) {
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		durations []time.Duration
		errs      []error
	)

	done := make(chan struct{})
	sweeperDone := make(chan struct{})
	go func() {
		defer close(sweeperDone)
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			default:
			}
			if _, err := rec.Sweep(ctx); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("concurrent sweep failed: %w", err))
				mu.Unlock()
				return
			}
			mu.Lock()
			*sweeps++
			mu.Unlock()
			time.Sleep(2 * time.Millisecond)
		}
	}()

	for w := 0; w < cfg.Workers; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			local := make([]time.Duration, 0, cfg.SavesPerWorker)
			for j := 0; j < cfg.SavesPerWorker; j++ {
				c := session.Context{SessionDetails: fmt.Sprintf("worker %d period %d", worker, j)}
				t0 := time.Now()
				_, err := rec.Save(ctx, c, roster(cfg.Students, worker+j))
				local = append(local, time.Since(t0))
				if err != nil {
					mu.Lock()
					errs = append(errs, fmt.Errorf("worker %d save %d failed: %w", worker, j, err))
					mu.Unlock()
				}
			}
			mu.Lock()
			durations = append(durations, local...)
			mu.Unlock()
		}(w)
	}

	wg.Wait()
	close(done)
	<-sweeperDone
	return durations, errs
}

// roster builds n students, marking a varying subset present.
func roster(n, seed int) []session.Student {
	out := make([]session.Student, n)
	for i := range out {
		out[i] = session.Student{RegNo: fmt.Sprintf("REG%04d", i), Name: fmt.Sprintf("Student %d", i)}
		if (i+seed)%3 != 0 {
			out[i].Status = session.StatusPresent
		}
	}
	return out
}

func verify(ctx context.Context, store *localdb.Handle, cfg Config, res *Result) error {
	db, err := store.Get(ctx)
	if err != nil {
		return err
	}
	local, err := db.ListByOwner(ctx, cfg.Owner, nil)
	if err != nil {
		return fmt.Errorf("failed to list local sessions: %w", err)
	}
	res.LocalTotal = len(local)

	seen := make(map[string]bool, len(local))
	for _, s := range local {
		if seen[s.ID] {
			res.Violations = append(res.Violations, fmt.Sprintf("duplicate local id %s", s.ID))
		}
		seen[s.ID] = true
		if !s.IsSynced {
			res.Unsynced++
		}
	}

	expected := res.Saves - res.SaveErrors
	if res.LocalTotal != expected {
		res.Violations = append(res.Violations, fmt.Sprintf("local store has %d sessions, want %d", res.LocalTotal, expected))
	}
	if res.Unsynced > 0 {
		res.Violations = append(res.Violations, fmt.Sprintf("%d sessions still unsynced", res.Unsynced))
	}

	remoteList, err := cfg.Remote.List(ctx, cfg.Owner, nil)
	if err != nil {
		return fmt.Errorf("failed to list remote sessions: %w", err)
	}
	res.RemoteTotal = len(remoteList)
	if res.RemoteTotal != expected {
		res.Violations = append(res.Violations, fmt.Sprintf("remote has %d sessions, want %d", res.RemoteTotal, expected))
	}
	for _, s := range remoteList {
		if !seen[s.ID] {
			res.Violations = append(res.Violations, fmt.Sprintf("remote session %s has no local row", s.ID))
		}
	}
	return nil
}

func computeLatencyStats(durations []time.Duration) *LatencyStats {
	if len(durations) == 0 {
		return &LatencyStats{}
	}

	sorted := make([]time.Duration, len(durations))
	copy(sorted, durations)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var sum time.Duration
	for _, d := range durations {
		sum += d
	}

	return &LatencyStats{
		Min:   sorted[0],
		Max:   sorted[len(sorted)-1],
		Mean:  sum / time.Duration(len(durations)),
		P50:   sorted[len(sorted)*50/100],
		P95:   sorted[len(sorted)*95/100],
		P99:   sorted[len(sorted)*99/100],
		Count: len(durations),
	}
}

// Print writes a human-readable report of r to w.
func (r *Result) Print(w io.Writer) {
	fmt.Fprintf(w, "Saves:          %d (%d failed)\n", r.Saves, r.SaveErrors)
	fmt.Fprintf(w, "Sweeps:         %d\n", r.Sweeps)
	fmt.Fprintf(w, "Local sessions: %d (%d unsynced)\n", r.LocalTotal, r.Unsynced)
	fmt.Fprintf(w, "Remote:         %d sessions", r.RemoteTotal)
	if r.RemoteCreates >= 0 {
		fmt.Fprintf(w, ", %d creates", r.RemoteCreates)
	}
	fmt.Fprintln(w)
	if l := r.Latency; l != nil && l.Count > 0 {
		fmt.Fprintf(w, "Save latency:   min %v  p50 %v  mean %v  p95 %v  p99 %v  max %v\n",
			l.Min, l.P50, l.Mean, l.P95, l.P99, l.Max)
	}
	fmt.Fprintf(w, "Elapsed:        %v\n", r.Elapsed.Round(time.Millisecond))
	for _, v := range r.Violations {
		fmt.Fprintf(w, "VIOLATION: %s\n", v)
	}
}
