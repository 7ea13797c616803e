// Package storeapi declares the abstract object-store and ref-store
// operations the core consumes. Implementations live outside the core
// (internal/gitstore ships the default, process-backed one); the core
// only ever talks to these interfaces.
package storeapi

import (
	"context"

	"github.com/ossgit/receive-pack/internal/objectid"
	"github.com/ossgit/receive-pack/internal/refname"
)

// ObjectKind classifies a stored git object.
type ObjectKind int

const (
	KindCommit ObjectKind = iota
	KindTree
	KindBlob
	KindTag
)

// ObjectStore is the abstract object database the core depends on.
type ObjectStore interface {
	// Contains reports whether id is present, across the main store
	// and any active quarantine alternates.
	Contains(ctx context.Context, id objectid.ID) (bool, error)

	// Read returns an object's kind and raw (inflated) bytes.
	Read(ctx context.Context, id objectid.ID) (ObjectKind, []byte, error)

	// WritePack streams a packfile (with its trailing checksum) into
	// the store and returns the path to the resulting pack/index pair.
	WritePack(ctx context.Context, stream []byte) (string, error)

	// WriteLoose writes a single loose object and returns its id.
	WriteLoose(ctx context.Context, kind ObjectKind, data []byte) (objectid.ID, error)

	// SetAlternates points the store at additional object directories
	// to consult (but never write) for reachability and reads.
	SetAlternates(ctx context.Context, paths []string) error

	// Promote moves the contents of fromDir into the store's
	// permanent location.
	Promote(ctx context.Context, fromDir string) error
}

// RefStore is the abstract ref database the core depends on.
type RefStore interface {
	// Resolve looks up name, returning its id, or the target of a
	// symref, or ErrRefNotFound.
	Resolve(ctx context.Context, name refname.Name) (id objectid.ID, symref string, err error)

	// IterVisible calls fn for every ref for which hidden(name) is
	// false, in lexicographic order by full name.
	IterVisible(ctx context.Context, hidden func(name string) bool, fn func(name string, id objectid.ID) error) error

	// BeginTransaction starts a ref update. When atomic is true and
	// the store doesn't support atomic multi-ref commits,
	// BeginTransaction must report that via Handle.SupportsAtomic.
	BeginTransaction(ctx context.Context, atomic bool) (Handle, error)
}

// Handle is an in-flight ref transaction.
type Handle interface {
	// SupportsAtomic reports whether this handle can commit multiple
	// ref changes atomically.
	SupportsAtomic() bool

	// Update stages a compare-and-swap update. old may be the zero id
	// to mean "create" (no existing value checked).
	Update(ctx context.Context, name refname.Name, old, new objectid.ID) error

	// Delete stages a compare-and-swap delete. old may be the zero id
	// to mean "no check".
	Delete(ctx context.Context, name refname.Name, old objectid.ID) error

	// Commit applies all staged changes.
	Commit(ctx context.Context) error

	// Abort discards all staged changes.
	Abort(ctx context.Context) error
}

// ErrRefNotFound is returned by RefStore.Resolve for an absent ref.
var ErrRefNotFound = refNotFoundError{}

type refNotFoundError struct{}

func (refNotFoundError) Error() string { return "storeapi: reference not found" }
