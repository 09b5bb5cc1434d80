package future

import (
	"sync"

	"github.com/vk/stagegridgo/internal/result"
)

// Canceled marks a promise that was dropped before being fulfilled. This
// most typically happens when the owner of the promise is torn down before
// it could produce a value.
type Canceled struct{}

// CancelableResult is the resolution of a cancellable future: the produced
// value, or Canceled.
type CancelableResult[T any] = result.Result[T, Canceled]

// CancelableFuture always resolves: either with a value or, when the paired
// scoped promise is cancelled, with Canceled.
type CancelableFuture[T any] = *Future[CancelableResult[T]]

// ScopedPromise wraps a promise so that dropping it unfulfilled still
// resolves the paired future. Go has no destructors, so "dropping" is the
// explicit Cancel call; every owner that discards a scoped promise must
// call Cancel, and Cancel after fulfilment is a no-op.
type ScopedPromise[T any] struct {
	mu        sync.Mutex
	promise   *Promise[CancelableResult[T]]
	fulfilled bool
}

// NewScopedPromise returns an unfulfilled scoped promise.
func NewScopedPromise[T any]() *ScopedPromise[T] {
	return &ScopedPromise[T]{promise: NewPromise[CancelableResult[T]]()}
}

// SetValue fulfils the promise with v. It panics if the promise was already
// fulfilled or cancelled.
func (sp *ScopedPromise[T]) SetValue(v T) {
	sp.mu.Lock()
	if sp.fulfilled {
		sp.mu.Unlock()
		panic("future: scoped promise fulfilled twice")
	}
	sp.fulfilled = true
	sp.mu.Unlock()

	sp.promise.Set(result.Ok[T, Canceled](v))
}

// Cancel resolves the paired future with Canceled unless the promise was
// already fulfilled. Idempotent.
func (sp *ScopedPromise[T]) Cancel() {
	sp.mu.Lock()
	if sp.fulfilled {
		sp.mu.Unlock()
		return
	}
	sp.fulfilled = true
	sp.mu.Unlock()

	sp.promise.Set(result.Err[T, Canceled](Canceled{}))
}

// Future returns the paired cancellable future. May be called at most once.
func (sp *ScopedPromise[T]) Future() CancelableFuture[T] {
	return sp.promise.Future()
}

// IfNotCanceled registers a continuation invoked with the resolved value
// only when the future resolved to a value; a cancelled resolution is
// discarded.
func IfNotCanceled[T any](f CancelableFuture[T], continuation func(T)) {
	f.Next(func(r CancelableResult[T]) {
		if r.HasValue() {
			continuation(r.Value())
		}
	})
}
