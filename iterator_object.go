package rockbind

// iterator_object.go implements the per-iterator resource object and the
// single-call iterator movement surface.

import (
	"errors"
	"sync/atomic"

	"github.com/aalhour/rockbind/internal/engine"
	"github.com/aalhour/rockbind/internal/logging"
)

// ErrIteratorInvalid is returned by IteratorMove when the movement left the
// iterator without a current entry.
var ErrIteratorInvalid = errors.New("rockbind: iterator is not valid")

// IteratorAction selects the movement performed by IteratorMove.
type IteratorAction uint8

const (
	// IterFirst positions at the first visible key within bounds.
	IterFirst IteratorAction = iota + 1
	// IterLast positions at the last visible key within bounds.
	IterLast
	// IterNext moves to the next visible key.
	IterNext
	// IterPrev moves to the previous visible key.
	IterPrev
	// IterSeek positions at the first visible key >= target.
	IterSeek
	// IterSeekForPrev positions at the last visible key <= target.
	IterSeekForPrev
)

// String returns the action name.
func (a IteratorAction) String() string {
	switch a {
	case IterFirst:
		return "first"
	case IterLast:
		return "last"
	case IterNext:
		return "next"
	case IterPrev:
		return "prev"
	case IterSeek:
		return "seek"
	case IterSeekForPrev:
		return "seek-for-prev"
	default:
		return "unknown"
	}
}

// IteratorObject wraps one engine iterator. It keeps its parent database
// alive through a scoped reference and, when bound to a snapshot, keeps
// that snapshot alive the same way.
type IteratorObject struct {
	LifecycleObject

	token  Token
	logger logging.Logger

	parent  ScopedRef[*DBObject]
	snapRef ScopedRef[*SnapshotObject]

	it atomic.Pointer[engine.Iterator]
}

// Kind implements Resource.
func (o *IteratorObject) Kind() ResourceKind { return KindIterator }

// Token returns the host-visible token of this object.
func (o *IteratorObject) Token() Token { return o.token }

// NewIterator opens an iterator over a column family and returns its token.
// The iterator pins the data it iterates: the column family may be dropped
// afterwards and the iterator stays fully navigable until closed.
func (r *Registry) NewIterator(dbTok Token, opts IteratorOptions) (Token, error) {
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

	cfh, releaseCF, err := r.resolveColumnFamily(opts.ColumnFamily)
	if err != nil {
		return 0, err
	}
	defer releaseCF()

	o := &IteratorObject{logger: db.logger}
	o.parent.Assign(db)
	o.initLifecycle(o.shutdownImpl, o.destroyImpl)

	var readSeq uint64
	if opts.Snapshot != 0 {
		sObj, err := r.RetrieveSnapshotObject(opts.Snapshot)
		if err != nil {
			o.parent.Release()
			return 0, err
		}
		o.snapRef.Assign(sObj)
		seq, ok := sObj.sequence()
		if !ok || !sObj.AddIteratorReference(o) {
			o.snapRef.Release()
			o.parent.Release()
			return 0, ErrAlreadyClosing
		}
		readSeq = seq
	}

	// From here on o may be visible to a cascade (the snapshot's list, then
	// the root's); failed construction unwinds through the one-shot
	// teardown so the backout cannot race a force-close.
	if !db.AddIteratorReference(o) {
		ResourceCleanup(o)
		return 0, ErrAlreadyClosing
	}
	it, err := eng.NewIterator(cfh, readSeq, opts.LowerBound, opts.UpperBound)
	if err != nil {
		ResourceCleanup(o)
		return 0, err
	}
	o.it.Store(it)
	if o.State() != CloseNotRequested {
		// A cascade force-close raced the construction and saw no handle;
		// release it here.
		if h := o.it.Swap(nil); h != nil {
			_ = h.Close()
		}
		return 0, ErrAlreadyClosing
	}
	o.token = r.register(o)
	o.logger.Debugf(logging.NSIter+"token %d: opened iterator (snapshot token %d)", o.token, opts.Snapshot)
	return o.token, nil
}

// RetrieveIteratorObject resolves a token to an iterator object.
func (r *Registry) RetrieveIteratorObject(tok Token) (*IteratorObject, error) {
	res, err := r.retrieve(tok, KindIterator)
	if err != nil {
		return nil, err
	}
	return res.(*IteratorObject), nil
}

// IteratorMove performs one movement on the iterator and returns the entry
// at the resulting position. target is only consulted for IterSeek and
// IterSeekForPrev. An exhausted position reports ErrIteratorInvalid.
func (r *Registry) IteratorMove(tok Token, action IteratorAction, target []byte) (key, value []byte, err error) {
	o, err := r.RetrieveIteratorObject(tok)
	if err != nil {
		return nil, nil, err
	}
	o.Ref()
	defer o.Unref()
	it := o.it.Load()
	if it == nil {
		return nil, nil, ErrAlreadyClosing
	}

	switch action {
	case IterFirst:
		it.SeekToFirst()
	case IterLast:
		it.SeekToLast()
	case IterNext:
		it.Next()
	case IterPrev:
		it.Prev()
	case IterSeek:
		it.Seek(target)
	case IterSeekForPrev:
		it.SeekForPrev(target)
	default:
		return nil, nil, ErrIteratorInvalid
	}
	if !it.Valid() {
		return nil, nil, ErrIteratorInvalid
	}
	return it.Key(), it.Value(), nil
}

// IteratorValid reports whether the iterator is positioned at an entry.
func (r *Registry) IteratorValid(tok Token) (bool, error) {
	o, err := r.RetrieveIteratorObject(tok)
	if err != nil {
		return false, err
	}
	o.Ref()
	defer o.Unref()
	it := o.it.Load()
	if it == nil {
		return false, ErrAlreadyClosing
	}
	return it.Valid(), nil
}

// CloseIterator explicitly closes an iterator.
func (r *Registry) CloseIterator(tok Token) error {
	o, err := r.RetrieveIteratorObject(tok)
	if err != nil {
		return err
	}
	closeResource(o)
	return nil
}

// detachSnapshot unlinks from the bound snapshot (if any) and releases the
// scoped reference on it.
func (o *IteratorObject) detachSnapshot() {
	if s := o.snapRef.Get(); s != nil {
		s.RemoveIteratorReference(o)
	}
	o.snapRef.Release()
}

// shutdownImpl closes the engine iterator and drops the registry's baseline
// hold.
func (o *IteratorObject) shutdownImpl() {
	if it := o.it.Swap(nil); it != nil {
		_ = it.Close()
	}
	o.Unref()
}

// destroyImpl unlinks from the parent database and the bound snapshot, then
// releases the scoped references.
func (o *IteratorObject) destroyImpl() {
	if db := o.parent.Get(); db != nil {
		db.RemoveIteratorReference(o)
	}
	o.detachSnapshot()
	o.parent.Release()
	o.logger.Debugf(logging.NSIter+"token %d: destroyed", o.token)
}
