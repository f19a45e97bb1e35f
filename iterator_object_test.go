package rockbind

import (
	"errors"
	"testing"
)

func fillTestDB(t *testing.T, r *Registry, db Token, pairs map[string]string) {
	t.Helper()
	for k, v := range pairs {
		if err := r.Put(db, WriteOptions{}, []byte(k), []byte(v)); err != nil {
			t.Fatalf("put %q: %v", k, err)
		}
	}
}

func TestIteratorMoveActions(t *testing.T) {
	r, db := openTestDB(t)
	defer r.CloseDB(db)
	fillTestDB(t, r, db, map[string]string{"a": "1", "b": "2", "c": "3", "e": "5"})

	itr, err := r.NewIterator(db, IteratorOptions{})
	if err != nil {
		t.Fatalf("iterator: %v", err)
	}
	defer r.CloseIterator(itr)

	tests := []struct {
		action IteratorAction
		target string
		key    string // "" means ErrIteratorInvalid
		value  string
	}{
		{IterFirst, "", "a", "1"},
		{IterNext, "", "b", "2"},
		{IterNext, "", "c", "3"},
		{IterPrev, "", "b", "2"},
		{IterLast, "", "e", "5"},
		{IterSeek, "c", "c", "3"},
		{IterSeek, "d", "e", "5"},
		{IterSeek, "z", "", ""},
		{IterSeekForPrev, "d", "c", "3"},
		{IterSeekForPrev, "a", "a", "1"},
		{IterSeekForPrev, "A", "", ""},
	}
	for i, tc := range tests {
		key, value, err := r.IteratorMove(itr, tc.action, []byte(tc.target))
		if tc.key == "" {
			if !errors.Is(err, ErrIteratorInvalid) {
				t.Fatalf("step %d %s(%q): err = %v, want ErrIteratorInvalid", i, tc.action, tc.target, err)
			}
			continue
		}
		if err != nil {
			t.Fatalf("step %d %s(%q): %v", i, tc.action, tc.target, err)
		}
		if string(key) != tc.key || string(value) != tc.value {
			t.Fatalf("step %d %s(%q) = %q=%q, want %q=%q", i, tc.action, tc.target, key, value, tc.key, tc.value)
		}
	}
}

func TestIteratorMoveUnknownAction(t *testing.T) {
	r, db := openTestDB(t)
	defer r.CloseDB(db)
	fillTestDB(t, r, db, map[string]string{"a": "1"})

	itr, err := r.NewIterator(db, IteratorOptions{})
	if err != nil {
		t.Fatalf("iterator: %v", err)
	}
	defer r.CloseIterator(itr)
	if _, _, err := r.IteratorMove(itr, IteratorAction(0), nil); !errors.Is(err, ErrIteratorInvalid) {
		t.Fatalf("unknown action: %v, want ErrIteratorInvalid", err)
	}
}

func TestIteratorValidTracking(t *testing.T) {
	r, db := openTestDB(t)
	defer r.CloseDB(db)
	fillTestDB(t, r, db, map[string]string{"a": "1"})

	itr, err := r.NewIterator(db, IteratorOptions{})
	if err != nil {
		t.Fatalf("iterator: %v", err)
	}
	defer r.CloseIterator(itr)

	ok, err := r.IteratorValid(itr)
	if err != nil || ok {
		t.Fatalf("fresh iterator valid = %v, %v, want false", ok, err)
	}
	if _, _, err := r.IteratorMove(itr, IterFirst, nil); err != nil {
		t.Fatalf("first: %v", err)
	}
	ok, err = r.IteratorValid(itr)
	if err != nil || !ok {
		t.Fatalf("positioned iterator valid = %v, %v, want true", ok, err)
	}
	if _, _, err := r.IteratorMove(itr, IterNext, nil); !errors.Is(err, ErrIteratorInvalid) {
		t.Fatalf("step off the end: %v, want ErrIteratorInvalid", err)
	}
	ok, err = r.IteratorValid(itr)
	if err != nil || ok {
		t.Fatalf("exhausted iterator valid = %v, %v, want false", ok, err)
	}
}

func TestIteratorBoundsThroughRegistry(t *testing.T) {
	r, db := openTestDB(t)
	defer r.CloseDB(db)
	fillTestDB(t, r, db, map[string]string{"a": "1", "b": "2", "c": "3", "d": "4"})

	itr, err := r.NewIterator(db, IteratorOptions{
		LowerBound: []byte("b"),
		UpperBound: []byte("d"),
	})
	if err != nil {
		t.Fatalf("iterator: %v", err)
	}
	defer r.CloseIterator(itr)

	key, _, err := r.IteratorMove(itr, IterFirst, nil)
	if err != nil || string(key) != "b" {
		t.Fatalf("first = %q, %v, want b", key, err)
	}
	key, _, err = r.IteratorMove(itr, IterLast, nil)
	if err != nil || string(key) != "c" {
		t.Fatalf("last = %q, %v, want c (upper bound exclusive)", key, err)
	}
}

func TestIteratorSnapshotBinding(t *testing.T) {
	r, db := openTestDB(t)
	defer r.CloseDB(db)

	fillTestDB(t, r, db, map[string]string{"a": "1"})
	snap, err := r.GetSnapshot(db)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	defer r.ReleaseSnapshot(snap)
	fillTestDB(t, r, db, map[string]string{"b": "2"})

	bound, err := r.NewIterator(db, IteratorOptions{Snapshot: snap})
	if err != nil {
		t.Fatalf("bound iterator: %v", err)
	}
	defer r.CloseIterator(bound)
	latest, err := r.NewIterator(db, IteratorOptions{})
	if err != nil {
		t.Fatalf("latest iterator: %v", err)
	}
	defer r.CloseIterator(latest)

	if _, _, err := r.IteratorMove(bound, IterFirst, nil); err != nil {
		t.Fatalf("first: %v", err)
	}
	if _, _, err := r.IteratorMove(bound, IterNext, nil); !errors.Is(err, ErrIteratorInvalid) {
		t.Fatalf("snapshot iterator saw writes after the snapshot: %v", err)
	}

	var n int
	_, _, err = r.IteratorMove(latest, IterFirst, nil)
	for err == nil {
		n++
		_, _, err = r.IteratorMove(latest, IterNext, nil)
	}
	if n != 2 {
		t.Fatalf("latest iterator walked %d keys, want 2", n)
	}
}

func TestIteratorOnSnapshotKeepsItAlive(t *testing.T) {
	r, db := openTestDB(t)
	defer r.CloseDB(db)

	fillTestDB(t, r, db, map[string]string{"a": "1"})
	snap, err := r.GetSnapshot(db)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	itr, err := r.NewIterator(db, IteratorOptions{Snapshot: snap})
	if err != nil {
		t.Fatalf("iterator: %v", err)
	}

	snapObj, _ := r.RetrieveSnapshotObject(snap)
	if got := snapObj.RefCount(); got != 2 {
		t.Fatalf("snapshot refcount = %d, want 2 (registry + iterator)", got)
	}
	if err := r.CloseIterator(itr); err != nil {
		t.Fatalf("close iterator: %v", err)
	}
	if got := snapObj.RefCount(); got != 1 {
		t.Fatalf("snapshot refcount = %d after iterator close, want 1", got)
	}
	if err := r.ReleaseSnapshot(snap); err != nil {
		t.Fatalf("release snapshot: %v", err)
	}
}

func TestIteratorOnReleasedSnapshotFails(t *testing.T) {
	r, db := openTestDB(t)
	defer r.CloseDB(db)

	snap, err := r.GetSnapshot(db)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if err := r.ReleaseSnapshot(snap); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, err := r.NewIterator(db, IteratorOptions{Snapshot: snap}); !errors.Is(err, ErrAlreadyClosing) {
		t.Fatalf("iterator on released snapshot: %v, want ErrAlreadyClosing", err)
	}
}
