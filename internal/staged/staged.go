// Package staged implements a thread-safe scheduler for work organized into
// named stages. Stages declare prerequisite stages, hold zero or more tasks,
// and move through a four-state machine:
//
//  1. Undefined: the stage has been mentioned (as a prerequisite or task
//     host) but AddStage has not been called yet.
//  2. Defined: prerequisites are known; the stage waits for them to
//     complete.
//  3. Executing: every prerequisite resolved; tasks have been released.
//  4. Completed: all tasks finished and SetAllTasksAdded was called.
//
// Registration order is free: tasks may be added and prerequisites declared
// before the stage itself is defined. Tasks are represented as a nested
// future/promise pair: AddTaskToStage returns a future that yields a
// completion promise once the stage starts executing; the caller performs
// the task's work and fulfils that promise when done:
//
//	fut, err := sched.AddTaskToStage("spawn-actors", "policeman-tom")
//	if err != nil {
//		// handle error...
//	}
//	future.IfNotCanceled(fut, func(done *staged.TaskCompletionPromise) {
//		// perform task actions...
//		done.SetValue(future.Unit{})
//	})
package staged

import (
	"fmt"

	"github.com/vk/stagegridgo/internal/future"
)

// Promise/future pairs exchanged between the scheduler and its callers.
type (
	// StageCompletionPromise is fulfilled when a stage completes; one is
	// handed out per dependent.
	StageCompletionPromise = future.ScopedPromise[future.Unit]
	// FutureStageCompletion resolves when the followed stage completes, or
	// to Canceled when the scheduler is torn down first.
	FutureStageCompletion = future.CancelableFuture[future.Unit]

	// TaskCompletionPromise is fulfilled by the task owner when the task's
	// work is done.
	TaskCompletionPromise = future.ScopedPromise[future.Unit]
	// FutureTaskCompletion resolves when the task owner fulfils the
	// completion promise.
	FutureTaskCompletion = future.CancelableFuture[future.Unit]

	// TaskExecutionPromise yields the task's completion promise when the
	// hosting stage starts executing.
	TaskExecutionPromise = future.ScopedPromise[*TaskCompletionPromise]
	// FutureTaskExecution is returned by AddTaskToStage; it resolves with
	// the completion promise once the task is released for execution.
	FutureTaskExecution = future.CancelableFuture[*TaskCompletionPromise]
)

// StageStateID identifies the current variant of a stage's state machine.
type StageStateID int

const (
	StateUnknown StageStateID = iota
	StateUndefined
	StateDefined
	StateExecuting
	StateCompleted
)

func (s StageStateID) String() string {
	switch s {
	case StateUndefined:
		return "undefined"
	case StateDefined:
		return "defined"
	case StateExecuting:
		return "executing"
	case StateCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

// defaultLogString renders an id for log messages and error reports.
// Override per scheduler with WithLogString.
func defaultLogString[K comparable](id K) string {
	return fmt.Sprint(id)
}
