package engine

// engine.go implements the database object: column family set, sequence
// number allocation, multi-versioned point reads and writes.
//
// Every write is stamped with a monotonically increasing sequence number and
// stored under an internal key (user key + 8-byte trailer packing seq and
// value kind, seq descending within a user key). Snapshots are plain sequence
// numbers; a read at sequence S observes the newest entry per user key with
// seq <= S. This mirrors the RocksDB memtable data model.

import (
	"bytes"
	"encoding/binary"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

var (
	// ErrDBClosed is returned when operating on a closed database.
	ErrDBClosed = errors.New("engine: database is closed")

	// ErrKeyNotFound is returned when a key does not exist at the read sequence.
	ErrKeyNotFound = errors.New("engine: key not found")

	// ErrColumnFamilyExists is returned when a column family already exists.
	ErrColumnFamilyExists = errors.New("engine: column family already exists")

	// ErrColumnFamilyDropped is returned when operating through a dropped
	// column family handle.
	ErrColumnFamilyDropped = errors.New("engine: column family has been dropped")

	// ErrCannotDropDefault is returned when trying to drop the default
	// column family.
	ErrCannotDropDefault = errors.New("engine: cannot drop default column family")

	// ErrSnapshotsOpen is returned when closing a database that still has
	// unreleased snapshots.
	ErrSnapshotsOpen = errors.New("engine: database has open snapshots")
)

// DefaultColumnFamilyName is the name of the default column family.
const DefaultColumnFamilyName = "default"

// Value kinds packed into the low byte of the internal key trailer.
// Kind 0xff is the seek sentinel: it sorts before every real kind at the
// same sequence number under descending trailer order.
const (
	kindDeletion byte = 0x0
	kindValue    byte = 0x1
	kindSeek     byte = 0xff
)

// packTrailer packs a sequence number and value kind into a trailer.
func packTrailer(seq uint64, kind byte) uint64 {
	return seq<<8 | uint64(kind)
}

// encodeEntry builds a stored entry:
//
//	key_len   : uint32 big-endian
//	user_key  : key_len bytes
//	trailer   : uint64 little-endian (seq << 8 | kind)
//	value     : remaining bytes
func encodeEntry(key []byte, seq uint64, kind byte, value []byte) []byte {
	entry := make([]byte, 0, 4+len(key)+8+len(value))
	entry = binary.BigEndian.AppendUint32(entry, uint32(len(key)))
	entry = append(entry, key...)
	entry = binary.LittleEndian.AppendUint64(entry, packTrailer(seq, kind))
	entry = append(entry, value...)
	return entry
}

// lookupEntry builds a seek target positioning at the first entry of key
// with sequence <= seq.
func lookupEntry(key []byte, seq uint64) []byte {
	return encodeEntry(key, seq, kindSeek, nil)
}

// parseEntry splits a stored entry into its parts.
func parseEntry(entry []byte) (ukey []byte, seq uint64, kind byte, value []byte) {
	klen := binary.BigEndian.Uint32(entry)
	ukey = entry[4 : 4+klen]
	trailer := binary.LittleEndian.Uint64(entry[4+klen : 4+klen+8])
	return ukey, trailer >> 8, byte(trailer), entry[4+klen+8:]
}

// compareEntries orders entries by user key ascending, then trailer
// descending, so the newest version of a key comes first.
func compareEntries(a, b []byte) int {
	aklen := binary.BigEndian.Uint32(a)
	bklen := binary.BigEndian.Uint32(b)
	if c := bytes.Compare(a[4:4+aklen], b[4:4+bklen]); c != 0 {
		return c
	}
	at := binary.LittleEndian.Uint64(a[4+aklen : 4+aklen+8])
	bt := binary.LittleEndian.Uint64(b[4+bklen : 4+bklen+8])
	switch {
	case at > bt:
		return -1
	case at < bt:
		return 1
	default:
		return 0
	}
}

// ColumnFamily is a derived handle over one logically partitioned key space.
//
// The struct is reference counted at the engine level: the column family set
// holds one reference, each handle object holds one, and each open iterator
// holds one. Dropping a column family only removes the set's reference, so
// iterators opened before the drop keep the data readable until they close.
type ColumnFamily struct {
	id   uint32
	name string

	data atomic.Pointer[skipList]

	refs    atomic.Int32
	dropped atomic.Bool
}

func newColumnFamily(id uint32, name string) *ColumnFamily {
	cf := &ColumnFamily{id: id, name: name}
	cf.data.Store(newSkipList(compareEntries))
	cf.refs.Store(1)
	return cf
}

// ID returns the column family ID.
func (cf *ColumnFamily) ID() uint32 { return cf.id }

// Name returns the column family name.
func (cf *ColumnFamily) Name() string { return cf.name }

// Dropped reports whether the column family has been dropped.
func (cf *ColumnFamily) Dropped() bool { return cf.dropped.Load() }

// Ref takes an engine-level reference on the column family data.
func (cf *ColumnFamily) Ref() {
	cf.refs.Add(1)
}

// Unref releases an engine-level reference. The backing data is released
// when the last reference goes away.
func (cf *ColumnFamily) Unref() {
	if cf.refs.Add(-1) == 0 {
		cf.data.Store(nil)
	}
}

// Snapshot is a point-in-time read view: all reads through it observe the
// database state at its sequence number.
type Snapshot struct {
	seq      uint64
	released atomic.Bool
}

// Sequence returns the sequence number at which the snapshot was taken.
func (s *Snapshot) Sequence() uint64 { return s.seq }

// Options configures an engine instance.
type Options struct {
	// TxLogCodec compresses archived transaction log records.
	TxLogCodec Codec

	// TxLogCapacity bounds the number of archived log records; the oldest
	// records are discarded beyond it.
	TxLogCapacity int
}

// DefaultOptions returns the default engine options.
func DefaultOptions() Options {
	return Options{
		TxLogCodec:    SnappyCodec,
		TxLogCapacity: 1024,
	}
}

// DB is the primary native handle. All derived handles (column families,
// snapshots, iterators, log iterators) are created through it.
//
// A DB is safe for concurrent use. Individual iterators are not.
type DB struct {
	opts      Options
	sessionID string

	// writeMu serializes writes so sequence numbers enter the stores and
	// the transaction log in order.
	writeMu sync.Mutex
	seq     atomic.Uint64

	cfMu      sync.RWMutex
	byName    map[string]*ColumnFamily
	byID      map[uint32]*ColumnFamily
	nextCFID  uint32
	defaultCF *ColumnFamily

	snapMu    sync.Mutex
	snapshots []*Snapshot

	log *txLog

	closed atomic.Bool
}

// Open creates a new in-memory database with a fresh session identity.
func Open(opts Options) *DB {
	if opts.TxLogCapacity <= 0 {
		opts.TxLogCapacity = DefaultOptions().TxLogCapacity
	}
	db := &DB{
		opts:      opts,
		sessionID: uuid.NewString(),
		byName:    make(map[string]*ColumnFamily),
		byID:      make(map[uint32]*ColumnFamily),
		nextCFID:  1,
		log:       newTxLog(opts.TxLogCodec, opts.TxLogCapacity),
	}
	db.defaultCF = newColumnFamily(0, DefaultColumnFamilyName)
	db.byName[DefaultColumnFamilyName] = db.defaultCF
	db.byID[0] = db.defaultCF
	return db
}

// SessionID returns the unique identity of this database instance. It is
// recorded in backup metadata to tie a backup to its source.
func (db *DB) SessionID() string { return db.sessionID }

// Sequence returns the sequence number of the most recent write.
func (db *DB) Sequence() uint64 { return db.seq.Load() }

// DefaultColumnFamily returns the default column family.
func (db *DB) DefaultColumnFamily() *ColumnFamily { return db.defaultCF }

// CreateColumnFamily creates a new column family. The returned handle
// carries one engine-level reference owned by the caller.
func (db *DB) CreateColumnFamily(name string) (*ColumnFamily, error) {
	if db.closed.Load() {
		return nil, ErrDBClosed
	}
	db.cfMu.Lock()
	defer db.cfMu.Unlock()
	if _, exists := db.byName[name]; exists {
		return nil, ErrColumnFamilyExists
	}
	id := db.nextCFID
	db.nextCFID++
	cf := newColumnFamily(id, name)
	db.byName[name] = cf
	db.byID[id] = cf
	cf.Ref() // caller's reference; the set keeps the construction reference
	return cf, nil
}

// DropColumnFamily removes the column family from the set and marks it
// dropped for new operations. Data remains readable through iterators that
// were opened before the drop, via their own references.
func (db *DB) DropColumnFamily(cf *ColumnFamily) error {
	if db.closed.Load() {
		return ErrDBClosed
	}
	if cf.id == 0 {
		return ErrCannotDropDefault
	}
	db.cfMu.Lock()
	defer db.cfMu.Unlock()
	if cf.dropped.Load() {
		return ErrColumnFamilyDropped
	}
	cf.dropped.Store(true)
	delete(db.byName, cf.name)
	delete(db.byID, cf.id)
	cf.Unref()
	return nil
}

// Put writes key→value into the column family.
func (db *DB) Put(cf *ColumnFamily, key, value []byte) error {
	return db.write(cf, kindValue, key, value)
}

// Delete removes key from the column family.
func (db *DB) Delete(cf *ColumnFamily, key []byte) error {
	return db.write(cf, kindDeletion, key, nil)
}

func (db *DB) write(cf *ColumnFamily, kind byte, key, value []byte) error {
	if db.closed.Load() {
		return ErrDBClosed
	}
	if cf == nil {
		cf = db.defaultCF
	}
	if cf.Dropped() {
		return ErrColumnFamilyDropped
	}
	data := cf.data.Load()
	if data == nil {
		return ErrColumnFamilyDropped
	}

	db.writeMu.Lock()
	defer db.writeMu.Unlock()
	seq := db.seq.Add(1)
	data.insert(encodeEntry(key, seq, kind, value))

	opKind := OpPut
	if kind == kindDeletion {
		opKind = OpDelete
	}
	return db.log.append(&BatchRecord{
		Sequence: seq,
		Ops:      []BatchOp{{ColumnFamily: cf.id, Kind: opKind, Key: key, Value: value}},
	})
}

// Get reads the newest value of key visible at sequence seq.
// seq == 0 reads the latest state.
func (db *DB) Get(cf *ColumnFamily, key []byte, seq uint64) ([]byte, error) {
	if db.closed.Load() {
		return nil, ErrDBClosed
	}
	if cf == nil {
		cf = db.defaultCF
	}
	if cf.Dropped() {
		return nil, ErrColumnFamilyDropped
	}
	data := cf.data.Load()
	if data == nil {
		return nil, ErrColumnFamilyDropped
	}
	if seq == 0 {
		seq = db.seq.Load()
	}

	it := data.iterator()
	it.seek(lookupEntry(key, seq))
	if !it.valid() {
		return nil, ErrKeyNotFound
	}
	ukey, _, kind, value := parseEntry(it.entry())
	if !bytes.Equal(ukey, key) || kind == kindDeletion {
		return nil, ErrKeyNotFound
	}
	return value, nil
}

// GetSnapshot captures the current sequence number as a read view.
func (db *DB) GetSnapshot() (*Snapshot, error) {
	if db.closed.Load() {
		return nil, ErrDBClosed
	}
	s := &Snapshot{seq: db.seq.Load()}
	db.snapMu.Lock()
	db.snapshots = append(db.snapshots, s)
	db.snapMu.Unlock()
	return s, nil
}

// ReleaseSnapshot releases a snapshot. Releasing twice is a no-op.
func (db *DB) ReleaseSnapshot(s *Snapshot) {
	if s == nil || !s.released.CompareAndSwap(false, true) {
		return
	}
	db.snapMu.Lock()
	for i, cur := range db.snapshots {
		if cur == s {
			db.snapshots = append(db.snapshots[:i], db.snapshots[i+1:]...)
			break
		}
	}
	db.snapMu.Unlock()
}

// Close releases the primary handle. The engine refuses to close while
// snapshots are still open; the caller must release them first (the rockbind
// layer cascades before calling Close). Column family handles survive on
// their own engine-level references.
func (db *DB) Close() error {
	if db.closed.Load() {
		return ErrDBClosed
	}
	db.snapMu.Lock()
	open := len(db.snapshots)
	db.snapMu.Unlock()
	if open > 0 {
		return ErrSnapshotsOpen
	}
	if !db.closed.CompareAndSwap(false, true) {
		return ErrDBClosed
	}
	db.cfMu.Lock()
	for name, cf := range db.byName {
		delete(db.byName, name)
		delete(db.byID, cf.id)
		cf.Unref()
	}
	db.cfMu.Unlock()

	db.log.reset()
	return nil
}

// Closed reports whether Close has been called.
func (db *DB) Closed() bool { return db.closed.Load() }
