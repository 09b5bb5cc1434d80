package future

import "github.com/vk/stagegridgo/internal/result"

// Next chains a continuation onto a future, returning a future for the
// continuation's result. Continuations that produce nothing return Unit.
func Next[T, U any](f *Future[T], continuation func(T) U) *Future[U] {
	chain := NewPromise[U]()
	chained := chain.Future()
	f.Next(func(v T) {
		chain.Set(continuation(v))
	})
	return chained
}

// AggregateFutures combines futures into a single future that resolves once
// every input has resolved. The result is built by folding each input's
// resolution into the accumulator in input order, regardless of the order
// the inputs resolve in.
func AggregateFutures[T, R any](futures []*Future[T], initial R, fold func(R, T) R) *Future[R] {
	aggregate := NewPromise[R]()
	aggregated := aggregate.Future()
	aggregateInto(futures, initial, fold, aggregate)
	return aggregated
}

// aggregateInto folds the head future's resolution into the accumulator and
// recurses on the tail. The recursion happens inside the head's
// continuation, so each step waits for its future before folding.
func aggregateInto[T, R any](futures []*Future[T], acc R, fold func(R, T) R, aggregate *Promise[R]) {
	if len(futures) == 0 {
		aggregate.Set(acc)
		return
	}

	head, tail := futures[0], futures[1:]
	head.Next(func(v T) {
		aggregateInto(tail, fold(acc, v), fold, aggregate)
	})
}

// CollapseFutureCanceledToError turns a cancellable future of a result into
// a plain future of that result, mapping cancellation to errIfCanceled.
func CollapseFutureCanceledToError[T, E any](f CancelableFuture[result.Result[T, E]], errIfCanceled E) *Future[result.Result[T, E]] {
	return Next(f, func(r CancelableResult[result.Result[T, E]]) result.Result[T, E] {
		return result.CollapseNested(r, func(Canceled) E { return errIfCanceled })
	})
}
