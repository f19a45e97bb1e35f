package rockbind

// column_family_object.go implements the per-column-family resource object.

import (
	"sync/atomic"

	"github.com/aalhour/rockbind/internal/engine"
	"github.com/aalhour/rockbind/internal/logging"
)

// ColumnFamilyObject wraps one engine column family handle and keeps its
// parent database alive through a scoped reference.
type ColumnFamilyObject struct {
	LifecycleObject

	token  Token
	logger logging.Logger

	parent ScopedRef[*DBObject]
	cf     atomic.Pointer[engine.ColumnFamily]
}

// Kind implements Resource.
func (o *ColumnFamilyObject) Kind() ResourceKind { return KindColumnFamily }

// Token returns the host-visible token of this object.
func (o *ColumnFamilyObject) Token() Token { return o.token }

// handle returns the engine column family, or nil once Shutdown released it.
func (o *ColumnFamilyObject) handle() *engine.ColumnFamily {
	return o.cf.Load()
}

// CreateColumnFamily creates a column family in the database and returns a
// token for its handle. Fails with ErrAlreadyClosing if the database's
// shutdown has begun; the native sub-handle is only created after
// registration with the parent succeeds.
func (r *Registry) CreateColumnFamily(dbTok Token, name string) (Token, error) {
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

	o := &ColumnFamilyObject{logger: db.logger}
	o.parent.Assign(db)
	o.initLifecycle(o.shutdownImpl, o.destroyImpl)

	if !db.AddColumnFamilyReference(o) {
		o.parent.Release()
		return 0, ErrAlreadyClosing
	}
	cfh, err := eng.CreateColumnFamily(name)
	if err != nil {
		// o is already visible to the root's cascade; unwind through the
		// one-shot teardown so the backout cannot race a force-close.
		ResourceCleanup(o)
		return 0, err
	}
	o.cf.Store(cfh)
	if o.State() != CloseNotRequested {
		// A cascade force-close raced the construction and saw no handle;
		// release it here.
		if h := o.cf.Swap(nil); h != nil {
			h.Unref()
		}
		return 0, ErrAlreadyClosing
	}
	o.token = r.register(o)
	o.logger.Debugf(logging.NSCF+"token %d: created column family %q (id %d)", o.token, name, cfh.ID())
	return o.token, nil
}

// RetrieveColumnFamilyObject resolves a token to a column family object.
func (r *Registry) RetrieveColumnFamilyObject(tok Token) (*ColumnFamilyObject, error) {
	res, err := r.retrieve(tok, KindColumnFamily)
	if err != nil {
		return nil, err
	}
	return res.(*ColumnFamilyObject), nil
}

// CloseColumnFamily explicitly closes a column family handle. Closing the
// handle does not drop the column family; it only releases this handle's
// hold on it.
func (r *Registry) CloseColumnFamily(tok Token) error {
	o, err := r.RetrieveColumnFamilyObject(tok)
	if err != nil {
		return err
	}
	closeResource(o)
	return nil
}

// shutdownImpl releases the engine-level data reference and drops the
// registry's baseline hold.
func (o *ColumnFamilyObject) shutdownImpl() {
	if cfh := o.cf.Swap(nil); cfh != nil {
		cfh.Unref()
	}
	o.Unref()
}

// destroyImpl deregisters from the parent and releases the scoped
// reference; the parent may become eligible for destruction here.
func (o *ColumnFamilyObject) destroyImpl() {
	if db := o.parent.Get(); db != nil {
		db.RemoveColumnFamilyReference(o)
	}
	o.parent.Release()
	o.logger.Debugf(logging.NSCF+"token %d: destroyed", o.token)
}
