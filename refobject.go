package rockbind

// refobject.go implements the reference counting and close/shutdown state
// machine shared by every native resource handle.
//
// Every handle kind (database, column family, snapshot, iterator,
// transaction log iterator, backup engine) embeds LifecycleObject. The host
// runtime's collector may finalize a token at any time on its own goroutine,
// concurrently with an explicit close; the state machine guarantees the
// kind-specific teardown runs exactly once and that every waiter observes
// completion.

import (
	"sync"
	"sync/atomic"
)

// CloseState is the close marker of a lifecycle-managed object. It only
// moves forward; late observers treat every non-initial state as "close has
// been decided elsewhere".
type CloseState uint32

const (
	// CloseNotRequested: no close has been requested yet.
	CloseNotRequested CloseState = iota

	// CloseRequested: exactly one caller won the close race and will run
	// the shutdown logic.
	CloseRequested

	// DestructorRunning: the fatal decrement is executing the destructor
	// body.
	DestructorRunning

	// DestructorDone: teardown fully completed. Terminal.
	DestructorDone
)

// String returns the state name.
func (s CloseState) String() string {
	switch s {
	case CloseNotRequested:
		return "not-requested"
	case CloseRequested:
		return "close-requested"
	case DestructorRunning:
		return "destructor-running"
	case DestructorDone:
		return "destructor-done"
	default:
		return "unknown"
	}
}

// noCopy makes `go vet -copylocks` flag copies of the embedding struct.
// Copying a reference-counted identity is a logic error.
type noCopy struct{}

func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}

// RefObject gives an object an atomic reference count with destruction at
// zero. Destruction executes synchronously on the goroutine that performed
// the fatal decrement; the rendezvous in LifecycleObject exists to hand that
// off predictably.
type RefObject struct {
	noCopy noCopy
	refs   atomic.Int32
}

// Ref increments the reference count and returns the new count.
func (o *RefObject) Ref() int32 {
	return o.refs.Add(1)
}

// unref decrements the count; when it reaches zero, destroy runs on the
// calling goroutine before unref returns.
func (o *RefObject) unref(destroy func()) int32 {
	n := o.refs.Add(-1)
	if n == 0 && destroy != nil {
		destroy()
	}
	return n
}

// RefCount returns the current reference count.
func (o *RefObject) RefCount() int32 {
	return o.refs.Load()
}

// LifecycleObject extends RefObject with the close state machine and the
// rendezvous between an explicit close request and the collector-driven
// finalizer.
//
// Shutdown dispatch is a closed set: the kind-specific teardown and
// destructor bodies are plain funcs selected once at construction, invoked
// through the shared machinery.
type LifecycleObject struct {
	RefObject

	state atomic.Uint32

	// Rendezvous primitives for forced close. These are plain fields, never
	// placed in a container: a late AwaitCloseAndDestructor may lock and
	// wait after the destructor body has already run, and the fields must
	// still be usable at that point. (In Go the waiter's own pointer keeps
	// the memory reachable; the rule here is that nothing is reassigned or
	// nilled during teardown.)
	closeMu   sync.Mutex
	closeCond sync.Cond

	// Kind-specific hooks, set once by initLifecycle and never changed.
	shutdown func()
	destroy  func()
}

// initLifecycle wires the kind-specific teardown hooks and establishes the
// registry's baseline reference. Must be called exactly once, before the
// object is shared.
func (o *LifecycleObject) initLifecycle(shutdown, destroy func()) {
	o.refs.Store(1)
	o.closeCond.L = &o.closeMu
	o.shutdown = shutdown
	o.destroy = destroy
}

// State returns the current close state.
func (o *LifecycleObject) State() CloseState {
	return CloseState(o.state.Load())
}

// lifecycle lets every embedding kind satisfy the Resource interface.
func (o *LifecycleObject) lifecycle() *LifecycleObject { return o }

// Unref decrements the reference count. The decrement that reaches zero
// runs the destructor body on the calling goroutine, then marks the object
// DestructorDone and wakes every thread parked in AwaitCloseAndDestructor.
func (o *LifecycleObject) Unref() int32 {
	return o.unref(o.runDestructor)
}

func (o *LifecycleObject) runDestructor() {
	// The count can cross zero again when a late caller takes a
	// call-duration reference on an already-destroyed object; the destructor
	// body must not rerun.
	for {
		s := o.state.Load()
		if s >= uint32(DestructorRunning) {
			return
		}
		if o.state.CompareAndSwap(s, uint32(DestructorRunning)) {
			break
		}
	}
	if o.destroy != nil {
		o.destroy()
	}
	o.closeMu.Lock()
	o.state.Store(uint32(DestructorDone))
	o.closeCond.Broadcast()
	o.closeMu.Unlock()
}

// InitiateCloseRequest attempts the CloseNotRequested → CloseRequested
// transition. It returns true only to the single caller that performed the
// winning transition; that caller, and only that caller, must subsequently
// run Shutdown. All other concurrent or later callers get false and must
// not repeat the shutdown logic.
func (o *LifecycleObject) InitiateCloseRequest() bool {
	return o.state.CompareAndSwap(uint32(CloseNotRequested), uint32(CloseRequested))
}

// Shutdown runs the kind-specific teardown. Only the winner of
// InitiateCloseRequest may call it.
func (o *LifecycleObject) Shutdown() {
	if o.shutdown != nil {
		o.shutdown()
	}
}

// AwaitCloseAndDestructor blocks the calling goroutine, with no timeout,
// until teardown has fully completed. Any number of independent waiters may
// block; the DestructorDone signal is broadcast so all of them wake.
func (o *LifecycleObject) AwaitCloseAndDestructor() {
	o.closeMu.Lock()
	for CloseState(o.state.Load()) != DestructorDone {
		o.closeCond.Wait()
	}
	o.closeMu.Unlock()
}

// Resource is implemented by every handle kind (via the embedded
// LifecycleObject plus a kind tag).
type Resource interface {
	lifecycle() *LifecycleObject

	// Kind returns the resource kind tag used for type-checked retrieval.
	Kind() ResourceKind
}

// closeResource implements the explicit-close contract: the winner of the
// close race runs Shutdown directly and returns; a loser waits for whoever
// owns the teardown (commonly the collector) to finish it.
func closeResource(res Resource) {
	o := res.lifecycle()
	if o.InitiateCloseRequest() {
		o.Shutdown()
		return
	}
	o.AwaitCloseAndDestructor()
}

// ResourceCleanup is the collector entry point: invoked by the host runtime
// when a token becomes unreachable. It initiates the close and, if it won
// the race, runs the shutdown; a lost race means some explicit close already
// owns the teardown and there is nothing left to do here.
func ResourceCleanup(res Resource) {
	o := res.lifecycle()
	if o.InitiateCloseRequest() {
		o.Shutdown()
	}
}
