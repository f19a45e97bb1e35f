package rockbind

// snapshot_object.go implements the per-snapshot resource object.
//
// Besides the usual scoped reference up to the database, a snapshot keeps
// its own back-link list of iterators reading through it, so closing the
// snapshot force-closes those readers first.

import (
	"sync"
	"sync/atomic"

	"github.com/aalhour/rockbind/internal/engine"
	"github.com/aalhour/rockbind/internal/logging"
)

// SnapshotObject wraps one engine snapshot and keeps its parent database
// alive through a scoped reference.
type SnapshotObject struct {
	LifecycleObject

	token  Token
	logger logging.Logger

	parent ScopedRef[*DBObject]
	snap   atomic.Pointer[engine.Snapshot]

	itrMu   sync.Mutex
	itrList []*IteratorObject
}

// Kind implements Resource.
func (o *SnapshotObject) Kind() ResourceKind { return KindSnapshot }

// Token returns the host-visible token of this object.
func (o *SnapshotObject) Token() Token { return o.token }

// sequence returns the snapshot's read sequence, or ok=false once Shutdown
// released the engine snapshot.
func (o *SnapshotObject) sequence() (uint64, bool) {
	s := o.snap.Load()
	if s == nil {
		return 0, false
	}
	return s.Sequence(), true
}

// GetSnapshot captures a snapshot of the database and returns its token.
func (r *Registry) GetSnapshot(dbTok Token) (Token, error) {
	db, err := r.RetrieveDBObject(dbTok)
	if err != nil {
		return 0, err
	}
	db.Ref()
	defer db.Unref()
	eng, err := db.engine()
	if err != nil {
		return 0, err
	}

	o := &SnapshotObject{logger: db.logger}
	o.parent.Assign(db)
	o.initLifecycle(o.shutdownImpl, o.destroyImpl)

	if !db.AddSnapshotReference(o) {
		o.parent.Release()
		return 0, ErrAlreadyClosing
	}
	s, err := eng.GetSnapshot()
	if err != nil {
		// o is already visible to the root's cascade; unwind through the
		// one-shot teardown so the backout cannot race a force-close.
		ResourceCleanup(o)
		return 0, err
	}
	o.snap.Store(s)
	if o.State() != CloseNotRequested {
		// A cascade force-close raced the construction and saw no handle;
		// release it here.
		if sn := o.snap.Swap(nil); sn != nil {
			eng.ReleaseSnapshot(sn)
		}
		return 0, ErrAlreadyClosing
	}
	o.token = r.register(o)
	o.logger.Debugf(logging.NSSnapshot+"token %d: snapshot at seq %d", o.token, s.Sequence())
	return o.token, nil
}

// RetrieveSnapshotObject resolves a token to a snapshot object.
func (r *Registry) RetrieveSnapshotObject(tok Token) (*SnapshotObject, error) {
	res, err := r.retrieve(tok, KindSnapshot)
	if err != nil {
		return nil, err
	}
	return res.(*SnapshotObject), nil
}

// ReleaseSnapshot explicitly closes a snapshot.
func (r *Registry) ReleaseSnapshot(tok Token) error {
	o, err := r.RetrieveSnapshotObject(tok)
	if err != nil {
		return err
	}
	closeResource(o)
	return nil
}

// AddIteratorReference back-links an iterator reading through this
// snapshot. Returns false once the snapshot's shutdown has begun.
func (o *SnapshotObject) AddIteratorReference(it *IteratorObject) bool {
	o.itrMu.Lock()
	defer o.itrMu.Unlock()
	if o.State() != CloseNotRequested {
		return false
	}
	o.itrList = append(o.itrList, it)
	return true
}

// RemoveIteratorReference removes an iterator back-link.
func (o *SnapshotObject) RemoveIteratorReference(it *IteratorObject) {
	o.itrMu.Lock()
	defer o.itrMu.Unlock()
	o.itrList = removeFromList(o.itrList, it)
}

// shutdownImpl force-closes iterators reading through the snapshot,
// releases the engine snapshot, and drops the registry's baseline hold.
func (o *SnapshotObject) shutdownImpl() {
	o.itrMu.Lock()
	itrs := append([]*IteratorObject(nil), o.itrList...)
	o.itrMu.Unlock()
	for _, it := range itrs {
		ResourceCleanup(it)
	}

	if s := o.snap.Swap(nil); s != nil {
		if db := o.parent.Get(); db != nil {
			if eng := db.eng.Load(); eng != nil {
				eng.ReleaseSnapshot(s)
			}
		}
	}
	o.Unref()
}

// destroyImpl deregisters from the parent and releases the scoped
// reference.
func (o *SnapshotObject) destroyImpl() {
	if db := o.parent.Get(); db != nil {
		db.RemoveSnapshotReference(o)
	}
	o.parent.Release()
	o.logger.Debugf(logging.NSSnapshot+"token %d: destroyed", o.token)
}
