package rockbind

// transaction_log_object.go implements the transaction log iterator resource
// object: replaying archived write batches from a starting sequence number.

import (
	"sync/atomic"

	"github.com/aalhour/rockbind/internal/engine"
	"github.com/aalhour/rockbind/internal/logging"
)

// TLogIteratorObject wraps one engine transaction log iterator and keeps
// its parent database alive through a scoped reference.
type TLogIteratorObject struct {
	LifecycleObject

	token  Token
	logger logging.Logger

	parent ScopedRef[*DBObject]
	it     atomic.Pointer[engine.LogIterator]
}

// Kind implements Resource.
func (o *TLogIteratorObject) Kind() ResourceKind { return KindTLogIterator }

// Token returns the host-visible token of this object.
func (o *TLogIteratorObject) Token() Token { return o.token }

// GetUpdatesSince opens a transaction log iterator positioned at the first
// archived batch whose sequence number is >= seq, and returns its token.
func (r *Registry) GetUpdatesSince(dbTok Token, seq uint64) (Token, error) {
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

	o := &TLogIteratorObject{logger: db.logger}
	o.parent.Assign(db)
	o.initLifecycle(o.shutdownImpl, o.destroyImpl)

	if !db.AddTLogReference(o) {
		o.parent.Release()
		return 0, ErrAlreadyClosing
	}
	it, err := eng.GetUpdatesSince(seq)
	if err != nil {
		// o is already visible to the root's cascade; unwind through the
		// one-shot teardown so the backout cannot race a force-close.
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
	o.logger.Debugf(logging.NSTLog+"token %d: replaying updates since seq %d", o.token, seq)
	return o.token, nil
}

// RetrieveTLogIteratorObject resolves a token to a transaction log iterator
// object.
func (r *Registry) RetrieveTLogIteratorObject(tok Token) (*TLogIteratorObject, error) {
	res, err := r.retrieve(tok, KindTLogIterator)
	if err != nil {
		return nil, err
	}
	return res.(*TLogIteratorObject), nil
}

// NextBatch returns the current archived batch and advances the iterator.
// Exhaustion and corruption both surface through the batch error.
func (r *Registry) NextBatch(tok Token) (*engine.BatchRecord, error) {
	o, err := r.RetrieveTLogIteratorObject(tok)
	if err != nil {
		return nil, err
	}
	o.Ref()
	defer o.Unref()
	it := o.it.Load()
	if it == nil {
		return nil, ErrAlreadyClosing
	}
	batch, err := it.Batch()
	if err != nil {
		if st := it.Status(); st != nil {
			return nil, st
		}
		return nil, err
	}
	it.Next()
	return batch, nil
}

// CloseTLogIterator explicitly closes a transaction log iterator.
func (r *Registry) CloseTLogIterator(tok Token) error {
	o, err := r.RetrieveTLogIteratorObject(tok)
	if err != nil {
		return err
	}
	closeResource(o)
	return nil
}

// shutdownImpl closes the engine log iterator and drops the registry's
// baseline hold.
func (o *TLogIteratorObject) shutdownImpl() {
	if it := o.it.Swap(nil); it != nil {
		_ = it.Close()
	}
	o.Unref()
}

// destroyImpl unlinks from the parent database and releases the scoped
// reference.
func (o *TLogIteratorObject) destroyImpl() {
	if db := o.parent.Get(); db != nil {
		db.RemoveTLogReference(o)
	}
	o.parent.Release()
	o.logger.Debugf(logging.NSTLog+"token %d: destroyed", o.token)
}
