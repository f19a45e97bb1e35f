package rockbind

// db_object.go implements the database object: the dependent-tracking root.
//
// The database object owns the primary engine handle and keeps back-links to
// every live dependent in four independently locked lists. Dependents hold
// strong (counted) references up to the root; the root holds only raw,
// non-owning pointers down, so no reference cycle prevents collection.
// Shutdown cascades a force-close over all four lists before the primary
// handle is released — the engine forbids destroying the primary handle
// while derived handles are open.

import (
	"sync"
	"sync/atomic"

	"github.com/aalhour/rockbind/internal/engine"
	"github.com/aalhour/rockbind/internal/logging"
)

// DBObject is the per-database resource object.
//
// An extra reference is created upon initialization (the registry's hold)
// and released by Shutdown.
type DBObject struct {
	LifecycleObject

	token  Token
	logger logging.Logger

	// eng is the primary native handle; nil once Shutdown released it.
	eng atomic.Pointer[engine.DB]

	// Dependent back-links. Each list has its own lock so enumerating one
	// kind never blocks registering another.
	cfMu     sync.Mutex
	cfList   []*ColumnFamilyObject
	snapMu   sync.Mutex
	snapList []*SnapshotObject
	itrMu    sync.Mutex
	itrList  []*IteratorObject
	tlogMu   sync.Mutex
	tlogList []*TLogIteratorObject
}

// Kind implements Resource.
func (db *DBObject) Kind() ResourceKind { return KindDB }

// Token returns the host-visible token of this object.
func (db *DBObject) Token() Token { return db.token }

// engine returns the primary handle, or ErrAlreadyClosing once Shutdown has
// released it.
func (db *DBObject) engine() (*engine.DB, error) {
	eng := db.eng.Load()
	if eng == nil {
		return nil, ErrAlreadyClosing
	}
	return eng, nil
}

// newDBObject wraps an engine instance as a registered database object.
func newDBObject(r *Registry, eng *engine.DB, logger logging.Logger) *DBObject {
	db := &DBObject{logger: logger}
	db.eng.Store(eng)
	db.initLifecycle(db.shutdown, db.destroy)
	db.token = r.register(db)
	db.logger.Infof(logging.NSDB+"token %d: opened (session %s)", db.token, eng.SessionID())
	return db
}

// OpenDB opens a new database and returns its token.
func (r *Registry) OpenDB(opts Options) (Token, error) {
	logger := logging.OrDefault(opts.Logger)
	eng := engine.Open(opts.engineOptions())
	db := newDBObject(r, eng, logger)
	return db.token, nil
}

// RetrieveDBObject resolves a token to a database object.
func (r *Registry) RetrieveDBObject(tok Token) (*DBObject, error) {
	res, err := r.retrieve(tok, KindDB)
	if err != nil {
		return nil, err
	}
	return res.(*DBObject), nil
}

// CloseDB explicitly closes a database. If another closer (commonly the
// collector) already owns the teardown, CloseDB blocks until it completes.
func (r *Registry) CloseDB(tok Token) error {
	db, err := r.RetrieveDBObject(tok)
	if err != nil {
		return err
	}
	closeResource(db)
	return nil
}

// AddColumnFamilyReference back-links a column family handle. Returns false
// once shutdown has begun.
func (db *DBObject) AddColumnFamilyReference(cf *ColumnFamilyObject) bool {
	db.cfMu.Lock()
	defer db.cfMu.Unlock()
	if db.State() != CloseNotRequested {
		return false
	}
	db.cfList = append(db.cfList, cf)
	return true
}

// RemoveColumnFamilyReference removes a column family back-link.
func (db *DBObject) RemoveColumnFamilyReference(cf *ColumnFamilyObject) {
	db.cfMu.Lock()
	defer db.cfMu.Unlock()
	db.cfList = removeFromList(db.cfList, cf)
}

// AddSnapshotReference back-links a snapshot handle. Returns false once
// shutdown has begun.
func (db *DBObject) AddSnapshotReference(s *SnapshotObject) bool {
	db.snapMu.Lock()
	defer db.snapMu.Unlock()
	if db.State() != CloseNotRequested {
		return false
	}
	db.snapList = append(db.snapList, s)
	return true
}

// RemoveSnapshotReference removes a snapshot back-link.
func (db *DBObject) RemoveSnapshotReference(s *SnapshotObject) {
	db.snapMu.Lock()
	defer db.snapMu.Unlock()
	db.snapList = removeFromList(db.snapList, s)
}

// AddIteratorReference back-links an iterator handle. Returns false once
// shutdown has begun: no iterator can be created against a closing database.
func (db *DBObject) AddIteratorReference(it *IteratorObject) bool {
	db.itrMu.Lock()
	defer db.itrMu.Unlock()
	if db.State() != CloseNotRequested {
		return false
	}
	db.itrList = append(db.itrList, it)
	return true
}

// RemoveIteratorReference removes an iterator back-link.
func (db *DBObject) RemoveIteratorReference(it *IteratorObject) {
	db.itrMu.Lock()
	defer db.itrMu.Unlock()
	db.itrList = removeFromList(db.itrList, it)
}

// AddTLogReference back-links a transaction log iterator handle. Returns
// false once shutdown has begun.
func (db *DBObject) AddTLogReference(it *TLogIteratorObject) bool {
	db.tlogMu.Lock()
	defer db.tlogMu.Unlock()
	if db.State() != CloseNotRequested {
		return false
	}
	db.tlogList = append(db.tlogList, it)
	return true
}

// RemoveTLogReference removes a transaction log iterator back-link.
func (db *DBObject) RemoveTLogReference(it *TLogIteratorObject) {
	db.tlogMu.Lock()
	defer db.tlogMu.Unlock()
	db.tlogList = removeFromList(db.tlogList, it)
}

// shutdown cascades a force-close over every dependent list, releases the
// primary engine handle, then drops the registry's baseline reference.
//
// Each list is snapshotted under its own lock and closed outside it:
// a force-closed dependent deregisters itself from the same list on its
// destructor path, and new registrations are already rejected because the
// close state moved past CloseNotRequested.
func (db *DBObject) shutdown() {
	db.logger.Infof(logging.NSDB+"token %d: shutdown, cascading close to dependents", db.token)

	db.cfMu.Lock()
	cfs := append([]*ColumnFamilyObject(nil), db.cfList...)
	db.cfMu.Unlock()
	for _, cf := range cfs {
		ResourceCleanup(cf)
	}

	db.snapMu.Lock()
	snaps := append([]*SnapshotObject(nil), db.snapList...)
	db.snapMu.Unlock()
	for _, s := range snaps {
		ResourceCleanup(s)
	}

	db.itrMu.Lock()
	itrs := append([]*IteratorObject(nil), db.itrList...)
	db.itrMu.Unlock()
	for _, it := range itrs {
		ResourceCleanup(it)
	}

	db.tlogMu.Lock()
	tlogs := append([]*TLogIteratorObject(nil), db.tlogList...)
	db.tlogMu.Unlock()
	for _, it := range tlogs {
		ResourceCleanup(it)
	}

	if eng := db.eng.Swap(nil); eng != nil {
		_ = eng.Close()
	}
	db.Unref()
}

// destroy is the destructor body, reached by the decrement to zero once the
// registry's hold and every dependent's strong reference are gone.
func (db *DBObject) destroy() {
	db.logger.Debugf(logging.NSDB+"token %d: destroyed", db.token)
}

// removeFromList removes the first occurrence of v from list.
func removeFromList[T comparable](list []T, v T) []T {
	for i, cur := range list {
		if cur == v {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}

// ---- data plane operations ----
//
// Every operation resolves its tokens, takes a call-duration reference on
// each resolved object, and releases it on return.

// Put writes key→value.
func (r *Registry) Put(dbTok Token, opts WriteOptions, key, value []byte) error {
	db, err := r.RetrieveDBObject(dbTok)
	if err != nil {
		return err
	}
	db.Ref()
	defer db.Unref()
	eng, err := db.engine()
	if err != nil {
		return err
	}
	cfh, release, err := r.resolveColumnFamily(opts.ColumnFamily)
	if err != nil {
		return err
	}
	defer release()
	return eng.Put(cfh, key, value)
}

// Delete removes key.
func (r *Registry) Delete(dbTok Token, opts WriteOptions, key []byte) error {
	db, err := r.RetrieveDBObject(dbTok)
	if err != nil {
		return err
	}
	db.Ref()
	defer db.Unref()
	eng, err := db.engine()
	if err != nil {
		return err
	}
	cfh, release, err := r.resolveColumnFamily(opts.ColumnFamily)
	if err != nil {
		return err
	}
	defer release()
	return eng.Delete(cfh, key)
}

// Get reads the newest value of key visible through opts.
func (r *Registry) Get(dbTok Token, opts ReadOptions, key []byte) ([]byte, error) {
	db, err := r.RetrieveDBObject(dbTok)
	if err != nil {
		return nil, err
	}
	db.Ref()
	defer db.Unref()
	eng, err := db.engine()
	if err != nil {
		return nil, err
	}
	cfh, release, err := r.resolveColumnFamily(opts.ColumnFamily)
	if err != nil {
		return nil, err
	}
	defer release()
	seq, release2, err := r.resolveSnapshot(opts.Snapshot)
	if err != nil {
		return nil, err
	}
	defer release2()
	return eng.Get(cfh, key, seq)
}

// DropColumnFamily invalidates the logical column family for new operations.
// Iterators already open against it stay fully navigable until they are
// explicitly closed; they keep the underlying data alive through their own
// references.
func (r *Registry) DropColumnFamily(dbTok, cfTok Token) error {
	db, err := r.RetrieveDBObject(dbTok)
	if err != nil {
		return err
	}
	db.Ref()
	defer db.Unref()
	eng, err := db.engine()
	if err != nil {
		return err
	}
	cfObj, err := r.RetrieveColumnFamilyObject(cfTok)
	if err != nil {
		return err
	}
	cfObj.Ref()
	defer cfObj.Unref()
	cfh := cfObj.handle()
	if cfh == nil {
		return ErrAlreadyClosing
	}
	db.logger.Infof(logging.NSCF+"token %d: dropping column family %q", cfTok, cfh.Name())
	return eng.DropColumnFamily(cfh)
}

// resolveColumnFamily resolves a column family token to its engine handle,
// holding a call-duration reference on the handle object. Token 0 resolves
// to the default column family (nil engine handle).
func (r *Registry) resolveColumnFamily(tok Token) (*engine.ColumnFamily, func(), error) {
	if tok == 0 {
		return nil, func() {}, nil
	}
	cfObj, err := r.RetrieveColumnFamilyObject(tok)
	if err != nil {
		return nil, nil, err
	}
	cfObj.Ref()
	cfh := cfObj.handle()
	if cfh == nil {
		cfObj.Unref()
		return nil, nil, ErrAlreadyClosing
	}
	return cfh, func() { cfObj.Unref() }, nil
}

// resolveSnapshot resolves a snapshot token to its read sequence, holding a
// call-duration reference on the snapshot object. Token 0 means "latest"
// (sequence 0 at the engine level).
func (r *Registry) resolveSnapshot(tok Token) (uint64, func(), error) {
	if tok == 0 {
		return 0, func() {}, nil
	}
	sObj, err := r.RetrieveSnapshotObject(tok)
	if err != nil {
		return 0, nil, err
	}
	sObj.Ref()
	seq, ok := sObj.sequence()
	if !ok {
		sObj.Unref()
		return 0, nil, ErrAlreadyClosing
	}
	return seq, func() { sObj.Unref() }, nil
}
