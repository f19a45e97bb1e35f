package rockbind

import "testing"

func TestScopedRefAcquireRelease(t *testing.T) {
	f := newFakeResource(KindDB)
	r := NewScopedRef(f)
	if got := f.RefCount(); got != 2 {
		t.Fatalf("refcount after acquire = %d, want 2", got)
	}
	if r.Get() != f {
		t.Fatal("Get returned wrong target")
	}
	r.Release()
	if got := f.RefCount(); got != 1 {
		t.Fatalf("refcount after release = %d, want 1", got)
	}
	if r.Get() != nil {
		t.Fatal("Get after release should be nil")
	}
	r.Release() // releasing empty is a no-op
	if got := f.RefCount(); got != 1 {
		t.Fatalf("refcount after double release = %d, want 1", got)
	}
}

func TestScopedRefAssignReplaces(t *testing.T) {
	a := newFakeResource(KindDB)
	b := newFakeResource(KindDB)

	r := NewScopedRef(a)
	r.Assign(b)
	if a.RefCount() != 1 {
		t.Fatalf("old target refcount = %d, want 1", a.RefCount())
	}
	if b.RefCount() != 2 {
		t.Fatalf("new target refcount = %d, want 2", b.RefCount())
	}

	// Assigning the held target again changes nothing.
	r.Assign(b)
	if b.RefCount() != 2 {
		t.Fatalf("refcount after self-assign = %d, want 2", b.RefCount())
	}
	r.Release()
}

func TestScopedRefClone(t *testing.T) {
	f := newFakeResource(KindDB)
	r := NewScopedRef(f)
	c := r.Clone()
	if f.RefCount() != 3 {
		t.Fatalf("refcount after clone = %d, want 3", f.RefCount())
	}
	r.Release()
	if f.RefCount() != 2 {
		t.Fatalf("refcount = %d, want 2 (clone still holds)", f.RefCount())
	}
	c.Release()
	if f.RefCount() != 1 {
		t.Fatalf("refcount = %d, want 1", f.RefCount())
	}
}

func TestScopedRefReleaseTriggersDestruction(t *testing.T) {
	f := newFakeResource(KindDB)
	r := NewScopedRef(f)
	closeResource(f) // consumes the baseline reference
	if f.destroys.Load() != 0 {
		t.Fatal("destroyed while a scoped reference is held")
	}
	r.Release()
	if f.destroys.Load() != 1 {
		t.Fatalf("destroys = %d, want 1 after the last reference dropped", f.destroys.Load())
	}
}
