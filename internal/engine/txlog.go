package engine

// txlog.go implements the archived transaction log and its iterator.
//
// Every write batch is archived as an encoded record, compressed with the
// configured codec and protected by an XXH3 checksum. A log iterator replays
// batches whose sequence number is >= the requested starting point, for
// replication and catch-up scenarios.

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/zeebo/xxh3"
)

var (
	// ErrLogUnavailable is returned when no archived records cover the
	// requested sequence number.
	ErrLogUnavailable = errors.New("engine: transaction log not available")

	// ErrLogCorrupt is returned when an archived record fails checksum
	// verification or decoding.
	ErrLogCorrupt = errors.New("engine: transaction log record corrupt")

	// ErrIteratorNotValid is returned when accessing an invalid log iterator.
	ErrIteratorNotValid = errors.New("engine: transaction log iterator is not valid")
)

// OpKind identifies the kind of a batch operation.
type OpKind uint8

const (
	// OpPut is a key/value insertion.
	OpPut OpKind = iota + 1

	// OpDelete is a key deletion.
	OpDelete
)

// BatchOp is a single operation within a write batch.
type BatchOp struct {
	// ColumnFamily is the ID of the column family the operation targets.
	ColumnFamily uint32

	// Kind is the operation kind.
	Kind OpKind

	// Key is the user key.
	Key []byte

	// Value is the value for OpPut; nil for OpDelete.
	Value []byte
}

// BatchRecord is a decoded write batch with its starting sequence number.
type BatchRecord struct {
	// Sequence is the sequence number of the first operation in the batch.
	Sequence uint64

	// Ops are the operations in write order.
	Ops []BatchOp
}

// storedRecord is one archived, compressed log record.
// block is [codec byte][compressed payload]; sum is XXH3_64(block).
type storedRecord struct {
	seq   uint64
	block []byte
	sum   uint64
}

// txLog is the bounded in-memory archive of write batches.
type txLog struct {
	mu       sync.Mutex
	codec    Codec
	capacity int
	recs     []storedRecord
}

func newTxLog(codec Codec, capacity int) *txLog {
	return &txLog{codec: codec, capacity: capacity}
}

// append archives one batch, discarding the oldest record beyond capacity.
func (l *txLog) append(rec *BatchRecord) error {
	payload := encodeBatch(rec)
	body, err := compress(l.codec, payload)
	if err != nil {
		return fmt.Errorf("archive batch at seq %d: %w", rec.Sequence, err)
	}
	block := make([]byte, 0, 1+len(body))
	block = append(block, byte(l.codec))
	block = append(block, body...)

	l.mu.Lock()
	defer l.mu.Unlock()
	l.recs = append(l.recs, storedRecord{
		seq:   rec.Sequence,
		block: block,
		sum:   xxh3.Hash(block),
	})
	if len(l.recs) > l.capacity {
		l.recs = l.recs[len(l.recs)-l.capacity:]
	}
	return nil
}

// since returns a copy of the records with seq >= from.
func (l *txLog) since(from uint64) []storedRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	i := 0
	for i < len(l.recs) && l.recs[i].seq < from {
		i++
	}
	out := make([]storedRecord, len(l.recs)-i)
	copy(out, l.recs[i:])
	return out
}

func (l *txLog) reset() {
	l.mu.Lock()
	l.recs = nil
	l.mu.Unlock()
}

// encodeBatch serializes a batch record:
//
//	sequence : uint64 big-endian
//	op_count : uint32 big-endian
//	per op   : cf_id u32, kind u8, key_len u32, key, value_len u32, value
func encodeBatch(rec *BatchRecord) []byte {
	size := 12
	for _, op := range rec.Ops {
		size += 4 + 1 + 4 + len(op.Key) + 4 + len(op.Value)
	}
	buf := make([]byte, 0, size)
	buf = binary.BigEndian.AppendUint64(buf, rec.Sequence)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(rec.Ops)))
	for _, op := range rec.Ops {
		buf = binary.BigEndian.AppendUint32(buf, op.ColumnFamily)
		buf = append(buf, byte(op.Kind))
		buf = binary.BigEndian.AppendUint32(buf, uint32(len(op.Key)))
		buf = append(buf, op.Key...)
		buf = binary.BigEndian.AppendUint32(buf, uint32(len(op.Value)))
		buf = append(buf, op.Value...)
	}
	return buf
}

// decodeBatch parses a serialized batch record.
func decodeBatch(payload []byte) (*BatchRecord, error) {
	if len(payload) < 12 {
		return nil, ErrLogCorrupt
	}
	rec := &BatchRecord{Sequence: binary.BigEndian.Uint64(payload)}
	count := binary.BigEndian.Uint32(payload[8:])
	pos := 12
	for i := uint32(0); i < count; i++ {
		if len(payload)-pos < 9 {
			return nil, ErrLogCorrupt
		}
		op := BatchOp{
			ColumnFamily: binary.BigEndian.Uint32(payload[pos:]),
			Kind:         OpKind(payload[pos+4]),
		}
		pos += 5
		klen := int(binary.BigEndian.Uint32(payload[pos:]))
		pos += 4
		if len(payload)-pos < klen+4 {
			return nil, ErrLogCorrupt
		}
		op.Key = append([]byte(nil), payload[pos:pos+klen]...)
		pos += klen
		vlen := int(binary.BigEndian.Uint32(payload[pos:]))
		pos += 4
		if len(payload)-pos < vlen {
			return nil, ErrLogCorrupt
		}
		if vlen > 0 {
			op.Value = append([]byte(nil), payload[pos:pos+vlen]...)
		}
		pos += vlen
		rec.Ops = append(rec.Ops, op)
	}
	return rec, nil
}

// LogIterator iterates over archived write batches in sequence order.
//
// A LogIterator works on a snapshot of the archive taken at creation time;
// writes issued afterwards are not observed.
type LogIterator struct {
	recs  []storedRecord
	idx   int
	cur   *BatchRecord
	err   error
	valid bool
}

// GetUpdatesSince returns an iterator positioned at the first archived batch
// whose sequence number is >= seq.
func (db *DB) GetUpdatesSince(seq uint64) (*LogIterator, error) {
	if db.closed.Load() {
		return nil, ErrDBClosed
	}
	recs := db.log.since(seq)
	if len(recs) == 0 {
		return nil, ErrLogUnavailable
	}
	it := &LogIterator{recs: recs}
	it.advance()
	return it, nil
}

// Valid returns true if the iterator is positioned at a valid batch.
func (it *LogIterator) Valid() bool {
	return it.valid && it.err == nil
}

// Next moves the iterator to the next batch.
func (it *LogIterator) Next() {
	if !it.valid {
		return
	}
	it.advance()
}

// Batch returns the current batch.
// REQUIRES: Valid() returns true.
func (it *LogIterator) Batch() (*BatchRecord, error) {
	if !it.Valid() {
		return nil, ErrIteratorNotValid
	}
	return it.cur, nil
}

// Status returns any error encountered by the iterator.
func (it *LogIterator) Status() error {
	return it.err
}

// Close releases the iterator. It is safe to call more than once.
func (it *LogIterator) Close() error {
	it.valid = false
	it.recs = nil
	it.cur = nil
	return nil
}

// advance decodes the next archived record, verifying its checksum.
func (it *LogIterator) advance() {
	it.valid = false
	if it.idx >= len(it.recs) {
		return
	}
	rec := it.recs[it.idx]
	it.idx++

	if xxh3.Hash(rec.block) != rec.sum {
		it.err = fmt.Errorf("record at seq %d: %w", rec.seq, ErrLogCorrupt)
		return
	}
	payload, err := decompress(Codec(rec.block[0]), rec.block[1:])
	if err != nil {
		it.err = fmt.Errorf("record at seq %d: %w", rec.seq, ErrLogCorrupt)
		return
	}
	batch, err := decodeBatch(payload)
	if err != nil {
		it.err = fmt.Errorf("record at seq %d: %w", rec.seq, err)
		return
	}
	it.cur = batch
	it.valid = true
}
