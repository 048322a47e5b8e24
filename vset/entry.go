package vset

// Entry is an opaque, externally-owned handle. VSet never dereferences it;
// equality is Go's `==` on the interface value, so callers typically make
// Entry a pointer type. The container holds weak references only -- it
// never allocates, frees, or mutates the pointee (spec §3 "Ownership").
type Entry interface{}

// ExpiryFunc returns e's absolute expiration timestamp in milliseconds.
// Spec §9 "Callback-driven expiry getter": the reference implementation
// parameterises every sort/search routine through a thread-local function
// pointer; slotkv instead threads the same function explicitly through
// every VSet operation that reads expiries, making the container generic over
// "expiry(&E) -> i64" without any ambient/global state.
type ExpiryFunc func(Entry) int64
