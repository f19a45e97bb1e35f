package rockbind

import (
	"errors"
	"fmt"
	"testing"

	"github.com/aalhour/rockbind/internal/engine"
)

func TestGetUpdatesSinceReplay(t *testing.T) {
	r, db := openTestDB(t)
	defer r.CloseDB(db)

	cf, err := r.CreateColumnFamily(db, "logs")
	if err != nil {
		t.Fatalf("create cf: %v", err)
	}
	defer r.CloseColumnFamily(cf)

	if err := r.Put(db, WriteOptions{}, []byte("a"), []byte("1")); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := r.Put(db, WriteOptions{ColumnFamily: cf}, []byte("b"), []byte("2")); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := r.Delete(db, WriteOptions{}, []byte("a")); err != nil {
		t.Fatalf("delete: %v", err)
	}

	tlog, err := r.GetUpdatesSince(db, 1)
	if err != nil {
		t.Fatalf("get updates: %v", err)
	}
	defer r.CloseTLogIterator(tlog)

	var batches []*engine.BatchRecord
	for {
		batch, err := r.NextBatch(tlog)
		if errors.Is(err, engine.ErrIteratorNotValid) {
			break
		}
		if err != nil {
			t.Fatalf("next batch: %v", err)
		}
		batches = append(batches, batch)
	}
	if len(batches) != 3 {
		t.Fatalf("replayed %d batches, want 3", len(batches))
	}
	if op := batches[0].Ops[0]; op.Kind != engine.OpPut || string(op.Key) != "a" {
		t.Fatalf("batch 0 = %+v, want put a", op)
	}
	if op := batches[1].Ops[0]; string(op.Key) != "b" || op.ColumnFamily == 0 {
		t.Fatalf("batch 1 = %+v, want put b in non-default cf", op)
	}
	if op := batches[2].Ops[0]; op.Kind != engine.OpDelete || string(op.Key) != "a" {
		t.Fatalf("batch 2 = %+v, want delete a", op)
	}
}

func TestGetUpdatesSinceBeyondLog(t *testing.T) {
	r, db := openTestDB(t)
	defer r.CloseDB(db)
	if _, err := r.GetUpdatesSince(db, 1); !errors.Is(err, engine.ErrLogUnavailable) {
		t.Fatalf("empty log: %v, want ErrLogUnavailable", err)
	}
	// A failed open must not leave a dangling back-link on the database.
	dbObj, _ := r.RetrieveDBObject(db)
	dbObj.tlogMu.Lock()
	n := len(dbObj.tlogList)
	dbObj.tlogMu.Unlock()
	if n != 0 {
		t.Fatalf("%d tlog back-links after failed open, want 0", n)
	}
}

func TestTLogIteratorSnapshotOfLog(t *testing.T) {
	r, db := openTestDB(t)
	defer r.CloseDB(db)

	for i := 0; i < 3; i++ {
		if err := r.Put(db, WriteOptions{}, fmt.Appendf(nil, "k%d", i), []byte("v")); err != nil {
			t.Fatalf("put: %v", err)
		}
	}
	tlog, err := r.GetUpdatesSince(db, 1)
	if err != nil {
		t.Fatalf("get updates: %v", err)
	}
	defer r.CloseTLogIterator(tlog)

	// Writes after the iterator was created are not replayed by it.
	if err := r.Put(db, WriteOptions{}, []byte("late"), []byte("v")); err != nil {
		t.Fatalf("put: %v", err)
	}
	var n int
	for {
		if _, err := r.NextBatch(tlog); err != nil {
			break
		}
		n++
	}
	if n != 3 {
		t.Fatalf("replayed %d batches, want 3", n)
	}
}

func TestCloseTLogIterator(t *testing.T) {
	r, db := openTestDB(t)
	defer r.CloseDB(db)

	if err := r.Put(db, WriteOptions{}, []byte("k"), []byte("v")); err != nil {
		t.Fatalf("put: %v", err)
	}
	tlog, err := r.GetUpdatesSince(db, 1)
	if err != nil {
		t.Fatalf("get updates: %v", err)
	}
	if err := r.CloseTLogIterator(tlog); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := r.NextBatch(tlog); !errors.Is(err, ErrAlreadyClosing) {
		t.Fatalf("next batch after close: %v, want ErrAlreadyClosing", err)
	}
	obj, _ := r.RetrieveTLogIteratorObject(tlog)
	if obj.State() != DestructorDone {
		t.Fatalf("state = %s, want destructor-done", obj.State())
	}
}
