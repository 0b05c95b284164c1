// Package inbox saves attendance sessions dropped as JSON files into a
// directory.
//
// The inbox:
//  1. Hydrates the reconciler on start, which also resyncs unsynced sessions
//  2. Saves every *.json request already waiting in the directory
//  3. Watches the directory and saves new requests after a debounce
//  4. Moves each request to processed/ or failed/ once handled
//
// A request whose save fails for a retryable reason (local storage) stays
// in place and is tried again later.
package inbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/myclass/attendsync/internal/reconcile"
	"github.com/myclass/attendsync/internal/session"
)

const (
	ProcessedDir = "processed"
	FailedDir    = "failed"
)

// Request is the content of one inbox file.
type Request struct {
	Context  session.Context   `json:"context"`
	Students []session.Student `json:"students"`
}

// Reconciler is the part of *reconcile.Reconciler the inbox drives.
type Reconciler interface {
	Save(ctx context.Context, c session.Context, working []session.Student) (*session.Session, error)
	Hydrate(ctx context.Context, day *time.Time) (reconcile.Report, error)
}

// Config holds configuration for the inbox.
type Config struct {
	// DebounceInterval is how long a file must stay unchanged before it
	// is processed.
	DebounceInterval time.Duration

	// RetryInterval is how long a file waits after a retryable failure.
	RetryInterval time.Duration

	// Logger for inbox activity
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		DebounceInterval: 250 * time.Millisecond,
		RetryInterval:    5 * time.Second,
		Logger:           log.New(os.Stderr, "[inbox] ", log.LstdFlags),
	}
}

// Outcome is what happened to one request file.
type Outcome struct {
	Path      string
	SessionID string
	Err       error
	Retry     bool
}

// Inbox watches a directory and saves what lands in it.
type Inbox struct {
	dir    string
	rec    Reconciler
	config *Config

	watcher *fsnotify.Watcher

	// queue maps a request path to the time it becomes due. handled holds
	// saved requests that could be neither filed nor removed.
	queue   map[string]time.Time
	handled map[string]bool
	queueMu sync.Mutex

	// OnProcessed, when set, is called after each file is handled.
	OnProcessed func(Outcome)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates an inbox for dir. Use Run to start it.
func New(dir string, rec Reconciler, config *Config) (*Inbox, error) {
	if dir == "" {
		return nil, fmt.Errorf("inbox directory cannot be empty")
	}
	if rec == nil {
		return nil, fmt.Errorf("reconciler cannot be nil")
	}
	if config == nil {
		config = DefaultConfig()
	}
	def := DefaultConfig()
	if config.DebounceInterval <= 0 {
		config.DebounceInterval = def.DebounceInterval
	}
	if config.RetryInterval <= 0 {
		config.RetryInterval = def.RetryInterval
	}
	if config.Logger == nil {
		config.Logger = def.Logger
	}

	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", dir, err)
	}
	for _, d := range []string{abs, filepath.Join(abs, ProcessedDir), filepath.Join(abs, FailedDir)} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", d, err)
		}
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Inbox{
		dir:     abs,
		rec:     rec,
		config:  config,
		watcher: watcher,
		queue:   make(map[string]time.Time),
		handled: make(map[string]bool),
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

// Dir returns the watched directory.
func (in *Inbox) Dir() string { return in.dir }

// Run hydrates, queues waiting requests and watches the directory until
// ctx is cancelled.
func (in *Inbox) Run(ctx context.Context) error {
	in.config.Logger.Printf("Starting inbox on %s", in.dir)

	if rep, err := in.rec.Hydrate(ctx, nil); err != nil {
		in.config.Logger.Printf("Warning: hydrate failed: %v", err)
	} else if rep.Sweep.Pending > 0 {
		in.config.Logger.Printf("Resynced %d of %d unsynced sessions", rep.Sweep.Synced, rep.Sweep.Pending)
	}

	if err := in.watcher.Add(in.dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", in.dir, err)
	}

	waiting, err := in.pending()
	if err != nil {
		return err
	}
	for _, p := range waiting {
		in.queueChange(p, time.Now())
	}

	in.wg.Add(2)
	go in.watchFileEvents()
	go in.processChangeQueue()

	select {
	case <-ctx.Done():
		return in.Stop()
	case <-in.ctx.Done():
		return nil
	}
}

// Stop shuts the inbox down and waits for in-progress work.
func (in *Inbox) Stop() error {
	in.cancel()
	if err := in.watcher.Close(); err != nil {
		in.config.Logger.Printf("Error closing watcher: %v", err)
	}
	in.wg.Wait()
	in.config.Logger.Println("Inbox stopped")
	return nil
}

// ProcessAll handles every request currently in the directory once,
// without watching. It returns the outcomes in file name order.
func (in *Inbox) ProcessAll(ctx context.Context) ([]Outcome, error) {
	waiting, err := in.pending()
	if err != nil {
		return nil, err
	}
	out := make([]Outcome, 0, len(waiting))
	for _, p := range waiting {
		out = append(out, in.ProcessFile(ctx, p))
	}
	return out, nil
}

// pending lists request files in the directory, sorted by name.
func (in *Inbox) pending() ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(in.dir, "*.json"))
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", in.dir, err)
	}
	in.queueMu.Lock()
	defer in.queueMu.Unlock()
	var out []string
	for _, m := range matches {
		if isRequest(m) && !in.handled[m] {
			out = append(out, m)
		}
	}
	return out, nil
}

func isRequest(path string) bool {
	base := filepath.Base(path)
	return filepath.Ext(base) == ".json" && !strings.HasPrefix(base, ".")
}

func (in *Inbox) watchFileEvents() {
	defer in.wg.Done()

	for {
		select {
		case <-in.ctx.Done():
			return

		case event, ok := <-in.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if filepath.Dir(event.Name) != in.dir || !isRequest(event.Name) {
				continue
			}
			in.queueChange(event.Name, time.Now())

		case err, ok := <-in.watcher.Errors:
			if !ok {
				return
			}
			in.config.Logger.Printf("Watcher error: %v", err)
		}
	}
}

// queueChange (re)schedules path; a later write pushes the due time back.
func (in *Inbox) queueChange(path string, at time.Time) {
	in.queueMu.Lock()
	defer in.queueMu.Unlock()
	if in.handled[path] {
		return
	}
	in.queue[path] = at
}

func (in *Inbox) processChangeQueue() {
	defer in.wg.Done()

	ticker := time.NewTicker(in.config.DebounceInterval / 2)
	defer ticker.Stop()

	for {
		select {
		case <-in.ctx.Done():
			return
		case <-ticker.C:
			in.processPendingChanges()
		}
	}
}

// processPendingChanges handles files that have been quiet long enough.
func (in *Inbox) processPendingChanges() {
	now := time.Now()

	in.queueMu.Lock()
	var due []string
	for path, queuedAt := range in.queue {
		if now.Sub(queuedAt) >= in.config.DebounceInterval {
			due = append(due, path)
			delete(in.queue, path)
		}
	}
	in.queueMu.Unlock()

	for _, path := range due {
		o := in.ProcessFile(in.ctx, path)
		if o.Retry {
			// due again after RetryInterval
			in.queueChange(path, time.Now().Add(in.config.RetryInterval-in.config.DebounceInterval))
		}
	}
}

// ProcessFile saves one request file and files it away.
func (in *Inbox) ProcessFile(ctx context.Context, path string) Outcome {
	o := in.processFile(ctx, path)
	switch {
	case o.Err == nil && o.SessionID == "":
		// vanished before we got to it
	case o.Err == nil:
		in.config.Logger.Printf("Saved %s as %s", filepath.Base(path), o.SessionID)
	case o.Retry:
		in.config.Logger.Printf("Will retry %s: %v", filepath.Base(path), o.Err)
	default:
		in.config.Logger.Printf("Rejected %s: %v", filepath.Base(path), o.Err)
	}
	if in.OnProcessed != nil {
		in.OnProcessed(o)
	}
	return o
}

func (in *Inbox) processFile(ctx context.Context, path string) Outcome {
	o := Outcome{Path: path}

	in.queueMu.Lock()
	skip := in.handled[path]
	in.queueMu.Unlock()
	if skip {
		return o
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return o
	}
	if err != nil {
		o.Err = fmt.Errorf("failed to read request: %w", err)
		o.Retry = true
		return o
	}

	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		o.Err = fmt.Errorf("malformed request: %w", err)
		in.moveTo(path, FailedDir, o.Err)
		return o
	}

	s, err := in.rec.Save(ctx, req.Context, req.Students)
	if err != nil {
		o.Err = err
		if session.IsRetryable(err) {
			o.Retry = true
			return o
		}
		in.moveTo(path, FailedDir, err)
		return o
	}
	o.SessionID = s.ID
	if err := in.moveTo(path, ProcessedDir, nil); err != nil {
		in.retire(path)
	}
	return o
}

// moveTo files a handled request under sub. Failed requests get a
// sibling .err file with the reason.
func (in *Inbox) moveTo(path, sub string, cause error) error {
	dst := filepath.Join(in.dir, sub, filepath.Base(path))
	if err := os.Rename(path, dst); err != nil {
		in.config.Logger.Printf("Failed to move %s to %s: %v", path, sub, err)
		return err
	}
	if cause != nil {
		_ = os.WriteFile(dst+".err", []byte(cause.Error()+"\n"), 0o644)
	}
	return nil
}

// retire takes a saved request that could not be filed out of the queue,
// so it is never saved twice: renamed to *.done in place, else removed,
// else remembered for the life of the inbox.
func (in *Inbox) retire(path string) {
	done := path + ".done"
	if err := os.Rename(path, done); err == nil {
		in.config.Logger.Printf("Left saved request as %s", filepath.Base(done))
		return
	}
	if err := os.Remove(path); err == nil || errors.Is(err, os.ErrNotExist) {
		in.config.Logger.Printf("Removed saved request %s", filepath.Base(path))
		return
	}
	in.config.Logger.Printf("Warning: %s is saved but still in the inbox; ignoring it", filepath.Base(path))
	in.queueMu.Lock()
	in.handled[path] = true
	delete(in.queue, path)
	in.queueMu.Unlock()
}
