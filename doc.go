/*
Package rockbind manages the lifetime of native storage-engine resources on
behalf of a garbage-collected host runtime.

The host only ever holds opaque tokens. A Registry maps each token to a
reference-counted resource object: a database, column family handle,
snapshot, iterator, transaction log iterator, or backup engine. Dependent
handles hold strong references up to their database, and the database keeps
back-links down to every live dependent, so closing a database force-closes
everything derived from it before the primary handle is released.

# Close semantics

A resource can be closed explicitly through the binding surface or
implicitly when the host collector reports its token unreachable
(ReleaseToken). The two paths may race; exactly one of them runs the
kind-specific teardown, and an explicit closer that loses the race blocks
until the winner finishes. Closing an already-closing resource is therefore
always safe.

# Concurrency

A Registry and every resource object are safe for concurrent use. The
iterator movement surface serializes externally: a single iterator must not
be moved from two goroutines at once.
*/
package rockbind
