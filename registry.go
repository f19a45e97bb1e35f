package rockbind

// registry.go implements the token registry: the mapping from opaque
// host-visible tokens to native resource objects, with type-checked
// retrieval.
//
// The host runtime only ever sees Token values. The registry's hold on an
// object is represented by the object's baseline reference (established at
// construction), not by the map entry itself; the map entry is removed when
// the host collector reports the token unreachable.

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/aalhour/rockbind/internal/logging"
)

var (
	// ErrNotFound is returned when a token does not resolve to any resource.
	ErrNotFound = errors.New("rockbind: token not found")

	// ErrWrongType is returned when a token resolves to a different
	// resource kind than requested.
	ErrWrongType = errors.New("rockbind: token resolves to a different resource kind")

	// ErrAlreadyClosing is returned when a dependent is created against a
	// root whose shutdown has begun.
	ErrAlreadyClosing = errors.New("rockbind: resource is shutting down")
)

// ResourceKind tags the concrete type behind a token.
type ResourceKind uint8

const (
	// KindDB is a database object.
	KindDB ResourceKind = iota + 1
	// KindColumnFamily is a column family handle.
	KindColumnFamily
	// KindSnapshot is a snapshot handle.
	KindSnapshot
	// KindIterator is an iterator handle.
	KindIterator
	// KindTLogIterator is a transaction log iterator handle.
	KindTLogIterator
	// KindBackupEngine is a backup engine handle.
	KindBackupEngine
)

// String returns the kind name.
func (k ResourceKind) String() string {
	switch k {
	case KindDB:
		return "db"
	case KindColumnFamily:
		return "column-family"
	case KindSnapshot:
		return "snapshot"
	case KindIterator:
		return "iterator"
	case KindTLogIterator:
		return "tlog-iterator"
	case KindBackupEngine:
		return "backup-engine"
	default:
		return "unknown"
	}
}

// Token is the opaque host-visible identifier of a native resource.
type Token uint64

// Registry resolves tokens to native resource objects. One Registry is
// created at process startup by the host binding and lives until process
// exit; it is the only process-wide mutable state in this package.
//
// A Registry is safe for concurrent use.
type Registry struct {
	logger logging.Logger

	mu      sync.RWMutex
	entries map[Token]Resource

	// tokens is the process-wide token counter, initialized at registry
	// construction.
	tokens atomic.Uint64
}

// NewRegistry creates an empty registry. A nil logger falls back to the
// default WARN-level logger.
func NewRegistry(logger logging.Logger) *Registry {
	return &Registry{
		logger:  logging.OrDefault(logger),
		entries: make(map[Token]Resource),
	}
}

// register assigns a fresh token to res. The object's baseline reference
// (set by initLifecycle) represents the registry's hold.
func (r *Registry) register(res Resource) Token {
	tok := Token(r.tokens.Add(1))
	r.mu.Lock()
	r.entries[tok] = res
	r.mu.Unlock()
	r.logger.Debugf(logging.NSRegistry+"registered %s token %d", res.Kind(), tok)
	return tok
}

// retrieve performs a type-checked lookup.
func (r *Registry) retrieve(tok Token, kind ResourceKind) (Resource, error) {
	r.mu.RLock()
	res, ok := r.entries[tok]
	r.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	if res.Kind() != kind {
		return nil, ErrWrongType
	}
	return res, nil
}

// ReleaseToken is the collector-driven entry point for a token: it removes
// the mapping and runs the resource cleanup contract (initiate the close;
// the winner runs the shutdown). Unknown tokens are ignored, since the
// collector may fire after an explicit close already released the mapping.
func (r *Registry) ReleaseToken(tok Token) {
	r.mu.Lock()
	res, ok := r.entries[tok]
	delete(r.entries, tok)
	r.mu.Unlock()
	if !ok {
		return
	}
	r.logger.Debugf(logging.NSRegistry+"collecting %s token %d", res.Kind(), tok)
	ResourceCleanup(res)
}

// Len returns the number of live token mappings.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
