package rockbind

// scoped_ref.go implements the typed strong-reference holder used by
// dependent objects to keep an ancestor alive.

// Referent constrains ScopedRef targets to reference-counted handle types.
type Referent interface {
	comparable
	Ref() int32
	Unref() int32
}

// ScopedRef holds at most one strong reference to a reference-counted
// target. Acquiring a target increments its count; Release (or a subsequent
// Assign) decrements it. Every increment a live ScopedRef performs has a
// matching decrement before or at its Release.
//
// Plain struct assignment is disabled (noCopy): silently transferring a
// counted reference through ordinary copy semantics is a logic error.
// Callers use Assign or Clone explicitly.
type ScopedRef[T Referent] struct {
	noCopy noCopy
	t      T
}

// NewScopedRef creates a ScopedRef holding t, incrementing its count if t
// is non-zero. An embedded ScopedRef field is initialized in place with
// Assign instead.
func NewScopedRef[T Referent](t T) *ScopedRef[T] {
	r := &ScopedRef[T]{}
	r.Assign(t)
	return r
}

// Get returns the held target (possibly the zero value).
func (r *ScopedRef[T]) Get() T {
	return r.t
}

// Clone returns a new ScopedRef on the same target, incrementing its count.
func (r *ScopedRef[T]) Clone() *ScopedRef[T] {
	return NewScopedRef(r.t)
}

// Assign replaces the held target: the old target (if any) is decremented
// first, then the new one is stored and incremented. The
// decrement-then-increment ordering on distinct objects keeps counts correct
// even when old and new targets share ancestry.
func (r *ScopedRef[T]) Assign(t T) {
	if t == r.t {
		return
	}
	var zero T
	if r.t != zero {
		r.t.Unref()
	}
	r.t = t
	if t != zero {
		t.Ref()
	}
}

// Release drops the held reference, decrementing the target. The target may
// be destroyed during this call. Releasing an empty ScopedRef is a no-op.
func (r *ScopedRef[T]) Release() {
	var zero T
	if r.t != zero {
		t := r.t
		r.t = zero
		t.Unref()
	}
}
