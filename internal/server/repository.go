package server

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/myclass/attendsync/internal/remote"
)

// Repository persists the sessions the service has accepted.
type Repository interface {
	// Create stores req under id.
	Create(ctx context.Context, id string, createdAt time.Time, req remote.CreateRequest) error

	// List returns owner's sessions inside r (all of them when r is nil),
	// newest first.
	List(ctx context.Context, owner string, r *remote.DateRange) ([]remote.SessionRecord, error)

	// Delete removes one session. An empty owner matches any owner.
	// Unknown ids report false, not an error.
	Delete(ctx context.Context, id, owner string) (bool, error)

	// DeleteByOwner removes every session owned by owner.
	DeleteByOwner(ctx context.Context, owner string) (int64, error)

	Ping(ctx context.Context) error
	Close() error
}

// Kind names a repository backend.
type Kind string

const (
	KindMemory   Kind = "memory"
	KindPostgres Kind = "postgres"
)

// Opener creates a repository from a backend-specific DSN.
type Opener func(ctx context.Context, dsn string) (Repository, error)

var (
	openers      = make(map[Kind]Opener)
	openersMutex sync.RWMutex
)

func init() {
	Register(KindMemory, func(context.Context, string) (Repository, error) {
		return NewMemoryRepository(), nil
	})
	Register(KindPostgres, func(ctx context.Context, dsn string) (Repository, error) {
		return OpenPostgres(ctx, dsn)
	})
}

// Register makes a backend available to OpenRepository.
// It panics if opener is nil or kind is already registered.
func Register(kind Kind, opener Opener) {
	openersMutex.Lock()
	defer openersMutex.Unlock()

	if opener == nil {
		panic(fmt.Sprintf("server: Register opener is nil for kind %s", kind))
	}
	if _, exists := openers[kind]; exists {
		panic(fmt.Sprintf("server: Register called twice for kind %s", kind))
	}
	openers[kind] = opener
}

// RegisteredKinds returns the registered backends, sorted.
func RegisteredKinds() []Kind {
	openersMutex.RLock()
	defer openersMutex.RUnlock()

	kinds := make([]Kind, 0, len(openers))
	for k := range openers {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// OpenRepository opens the backend registered for kind.
func OpenRepository(ctx context.Context, kind Kind, dsn string) (Repository, error) {
	openersMutex.RLock()
	opener := openers[kind]
	openersMutex.RUnlock()

	if opener == nil {
		return nil, fmt.Errorf("unknown store %q (registered: %v)", kind, RegisteredKinds())
	}
	return opener(ctx, dsn)
}
