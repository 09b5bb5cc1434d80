package staged

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/vk/stagegridgo/internal/future"
)

// Scheduler coordinates stages keyed by K. All methods are safe for
// concurrent use.
//
// The registry mutex is never held across caller-supplied continuations:
// every transition collects the promises it must fulfil while locked and
// resolves them after unlocking. Continuations may therefore re-enter the
// scheduler freely.
type Scheduler[K comparable] struct {
	mu     sync.Mutex
	stages map[K]stageState[K]

	logger    *slog.Logger
	logString func(K) string

	inspect inspection[K]
}

// Option configures a Scheduler.
type Option[K comparable] func(*Scheduler[K])

// WithLogger attaches a progress log sink. Without one the scheduler is
// silent.
func WithLogger[K comparable](logger *slog.Logger) Option[K] {
	return func(s *Scheduler[K]) { s.logger = logger }
}

// WithLogString overrides how ids are rendered in log messages and error
// reports. The default is fmt.Sprint.
func WithLogString[K comparable](logString func(K) string) Option[K] {
	return func(s *Scheduler[K]) { s.logString = logString }
}

// NewScheduler returns an empty scheduler.
func NewScheduler[K comparable](opts ...Option[K]) *Scheduler[K] {
	s := &Scheduler[K]{
		stages:    make(map[K]stageState[K]),
		logString: defaultLogString[K],
	}
	s.inspect.init()
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// StageTimes reports how long a stage spent waiting for prerequisites and
// executing tasks. A nil field means the corresponding phase has not
// started (or inspection is disabled in this build).
type StageTimes struct {
	Waiting   *time.Duration
	Execution *time.Duration
}

// changePhase / changeEdge identify which inspection timestamp a state
// change stamps.
type changePhase int

const (
	phaseWaiting changePhase = iota
	phaseExecution
)

type changeEdge int

const (
	edgeStarted changeEdge = iota
	edgeFinished
)

// AddStage defines a stage and its prerequisites. Tasks should be added
// with AddTaskToStage and capped with SetAllTasksAdded; both may also be
// called before AddStage. Returns *StageAlreadyAddedError when the stage
// was defined before, or *CircularDependencyError when the declared
// prerequisites would close a cycle (inspection-enabled builds only).
func (s *Scheduler[K]) AddStage(stageID K, prerequisites []K) error {
	s.mu.Lock()

	// Obtain one completion future per prerequisite before touching the
	// stage itself. On a later error these futures are simply discarded;
	// the promises stay queued on the prerequisite stages and resolve
	// unobserved.
	futurePrereqs := make([]FutureStageCompletion, 0, len(prerequisites))
	for _, prereqID := range prerequisites {
		futurePrereqs = append(futurePrereqs, s.followUpLocked(prereqID, s.logString(stageID)))
	}

	if err := s.inspect.addStage(stageID, prerequisites, s.logString); err != nil {
		if _, isDup := err.(*StageAlreadyAddedError[K]); isDup {
			s.warnf("attempted to re-add an already added stage. Ignoring.")
		}
		s.mu.Unlock()
		return err
	}

	st := s.findOrAddLocked(stageID)
	undef, ok := st.(*undefinedStage[K])
	if !ok {
		s.warnf("attempted to re-add an already added stage. Ignoring.")
		s.mu.Unlock()
		return &StageAlreadyAddedError[K]{StageID: stageID, logString: s.logString}
	}

	s.stages[stageID] = &definedStage[K]{
		pendingStage:  undef.pendingStage,
		futurePrereqs: futurePrereqs,
	}
	s.inspect.notifyChange(stageID, phaseWaiting, edgeStarted)
	s.mu.Unlock()

	s.awaitPrereqs(stageID)
	return nil
}

// AddTaskToStage registers a task with a stage. The stage does not have to
// be defined yet; the only requirement is that SetAllTasksAdded has not
// been called for it. The returned future resolves with the task's
// completion promise once the stage starts executing (immediately when it
// already is).
func (s *Scheduler[K]) AddTaskToStage(stageID, taskID K) (FutureTaskExecution, error) {
	s.mu.Lock()

	st := s.findOrAddLocked(stageID)
	if pend := pending[K](st); pend != nil {
		if pend.allTasksCollected {
			s.mu.Unlock()
			return nil, &AllTasksCollectedError[K]{StageID: stageID, TaskID: taskID, logString: s.logString}
		}
		execution := future.NewScopedPromise[*TaskCompletionPromise]()
		futureExecution := execution.Future()
		pend.tasks = append(pend.tasks, pendingTask[K]{id: taskID, execution: execution})
		s.logf("Stage %s: added task - %s, waiting for prerequisites", s.logString(stageID), s.logString(taskID))
		s.mu.Unlock()
		return futureExecution, nil
	}

	switch cur := st.(type) {
	case *executingStage[K]:
		if cur.allTasksCollected {
			s.mu.Unlock()
			return nil, &AllTasksCollectedError[K]{StageID: stageID, TaskID: taskID, logString: s.logString}
		}
		completion := future.NewScopedPromise[future.Unit]()
		futureCompletion := completion.Future()
		cur.tasks = append(cur.tasks, executingTask[K]{id: taskID, futureCompletion: futureCompletion})
		s.inspect.observeTask(taskID, futureCompletion)
		execution := future.NewScopedPromise[*TaskCompletionPromise]()
		futureExecution := execution.Future()
		s.logf("Stage %s: added task - %s, started execution", s.logString(stageID), s.logString(taskID))
		s.mu.Unlock()

		// The stage is already executing, so the execution future is
		// handed its completion promise before we return.
		execution.SetValue(completion)
		return futureExecution, nil

	default: // *completedStage
		s.warnf("attempted to add task - %s - to a completed stage, ignored", s.logString(taskID))
		s.mu.Unlock()
		return nil, &AllTasksCollectedError[K]{StageID: stageID, TaskID: taskID, logString: s.logString}
	}
}

// SetAllTasksAdded marks a stage as accepting no further tasks. Once every
// released task finishes, the stage completes and dependents are notified.
// Idempotent; may be called before AddStage.
func (s *Scheduler[K]) SetAllTasksAdded(stageID K) {
	s.mu.Lock()

	st := s.findOrAddLocked(stageID)
	if pend := pending[K](st); pend != nil {
		pend.allTasksCollected = true
		s.logf("Stage %s: all tasks added, waiting for prerequisites", s.logString(stageID))
		s.mu.Unlock()
		return
	}

	switch cur := st.(type) {
	case *executingStage[K]:
		cur.allTasksCollected = true
		s.logf("Stage %s: all tasks added, waiting for task completion", s.logString(stageID))
		s.mu.Unlock()
		s.drain(stageID)
	default: // *completedStage: nothing left to cap
		s.mu.Unlock()
	}
}

// AddTask adds a single task with its own prerequisites. Under the hood
// this creates a single-task stage with the same id as the task.
func (s *Scheduler[K]) AddTask(taskID K, prerequisites []K) (FutureTaskExecution, error) {
	if err := s.AddStage(taskID, prerequisites); err != nil {
		return nil, err
	}
	futureExecution, err := s.AddTaskToStage(taskID, taskID)
	if err != nil {
		// Unreachable by construction: the stage was just defined and
		// nothing has called SetAllTasksAdded for it.
		return nil, err
	}
	s.SetAllTasksAdded(taskID)
	return futureExecution, nil
}

// FollowUp returns a future that resolves when the given stage completes,
// immediately if it already has. The dependent name is only used in log
// lines.
func (s *Scheduler[K]) FollowUp(stageID K, dependentName string) FutureStageCompletion {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.followUpLocked(stageID, dependentName)
}

// DebugPrerequisiteIDs returns the prerequisites declared for a stage.
// Reports false when the stage is unknown or inspection is disabled in
// this build.
func (s *Scheduler[K]) DebugPrerequisiteIDs(stageID K) ([]K, bool) {
	return s.inspect.prerequisiteIDs(stageID)
}

// DebugWaitingAndExecutionTime reports how long the given stage (or task)
// has spent waiting and executing. Phases still in flight are measured up
// to now; in inspection-disabled builds both fields are nil.
func (s *Scheduler[K]) DebugWaitingAndExecutionTime(id K) StageTimes {
	return s.inspect.waitingAndExecutionTime(id)
}

// StageIDs returns a snapshot of every id known to the scheduler.
func (s *Scheduler[K]) StageIDs() []K {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]K, 0, len(s.stages))
	for id := range s.stages {
		ids = append(ids, id)
	}
	return ids
}

// StateOf returns the current state of a stage, StateUnknown for ids never
// mentioned.
func (s *Scheduler[K]) StateOf(stageID K) StageStateID {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.stages[stageID]
	if !ok {
		return StateUnknown
	}
	return st.stateID()
}

// Shutdown cancels every promise the scheduler still holds: queued stage
// completion promises and the execution promises of tasks that were never
// released. Dependents waiting on those futures observe cancellation
// instead of blocking forever. Task completion promises already handed to
// callers remain the callers' responsibility.
func (s *Scheduler[K]) Shutdown() {
	s.mu.Lock()
	var toCancel []interface{ Cancel() }
	for _, st := range s.stages {
		if pend := pending[K](st); pend != nil {
			for _, t := range pend.tasks {
				toCancel = append(toCancel, t.execution)
			}
			for _, p := range pend.completionPromises {
				toCancel = append(toCancel, p)
			}
			continue
		}
		if exec, ok := st.(*executingStage[K]); ok {
			for _, p := range exec.completionPromises {
				toCancel = append(toCancel, p)
			}
		}
	}
	s.mu.Unlock()

	for _, p := range toCancel {
		p.Cancel()
	}
}

// findOrAddLocked returns the state for an id, inserting an Undefined stub
// on first mention. Callers hold s.mu.
func (s *Scheduler[K]) findOrAddLocked(stageID K) stageState[K] {
	if st, ok := s.stages[stageID]; ok {
		return st
	}
	st := &undefinedStage[K]{pendingStage: pendingStage[K]{id: stageID}}
	s.stages[stageID] = st
	return st
}

// followUpLocked hands out a stage completion future. Callers hold s.mu.
// A fresh promise carries no continuations yet, so fulfilling it for an
// already-completed stage is safe under the lock.
func (s *Scheduler[K]) followUpLocked(stageID K, dependentName string) FutureStageCompletion {
	st := s.findOrAddLocked(stageID)

	if _, done := st.(*completedStage[K]); done {
		promise := future.NewScopedPromise[future.Unit]()
		futureCompletion := promise.Future()
		promise.SetValue(future.Unit{})
		s.logf("Stage %s: added dependent stage - %s, stage complete, notifying immediately", s.logString(stageID), dependentName)
		return futureCompletion
	}

	promise := future.NewScopedPromise[future.Unit]()
	futureCompletion := promise.Future()
	if pend := pending[K](st); pend != nil {
		pend.completionPromises = append(pend.completionPromises, promise)
	} else {
		exec := st.(*executingStage[K])
		exec.completionPromises = append(exec.completionPromises, promise)
	}
	s.logf("Stage %s: added dependent stage - %s", s.logString(stageID), dependentName)
	return futureCompletion
}

// awaitPrereqs consumes a Defined stage's prerequisite futures one at a
// time. Futures that are already resolved are consumed in a loop rather
// than by recursing through continuations, so synchronous resolution does
// not grow the stack. A cancelled prerequisite stops the chain: the stage
// stays Defined forever, which is the intended teardown behaviour.
func (s *Scheduler[K]) awaitPrereqs(stageID K) {
	for {
		s.mu.Lock()
		def, ok := s.stages[stageID].(*definedStage[K])
		if !ok {
			s.mu.Unlock()
			return
		}

		if len(def.futurePrereqs) == 0 {
			handoffs := s.beginExecutionLocked(def)
			s.mu.Unlock()
			for _, handoff := range handoffs {
				handoff()
			}
			s.drain(stageID)
			return
		}

		last := len(def.futurePrereqs) - 1
		futurePrereq := def.futurePrereqs[last]
		def.futurePrereqs = def.futurePrereqs[:last]
		s.mu.Unlock()

		if r, ready := futurePrereq.TryGet(); ready {
			if r.HasError() {
				return
			}
			continue
		}

		future.IfNotCanceled(futurePrereq, func(future.Unit) {
			s.awaitPrereqs(stageID)
		})
		return
	}
}

// beginExecutionLocked transitions Defined -> Executing. Every pending task
// gets a fresh completion promise; the returned handoffs fulfil the task
// execution promises with those completion promises and must run after the
// lock is released, because they invoke caller continuations. Task order is
// preserved.
func (s *Scheduler[K]) beginExecutionLocked(def *definedStage[K]) []func() {
	stageID := def.id
	exec := &executingStage[K]{
		id:                 stageID,
		allTasksCollected:  def.allTasksCollected,
		completionPromises: def.completionPromises,
	}

	handoffs := make([]func(), 0, len(def.tasks))
	for _, task := range def.tasks {
		completion := future.NewScopedPromise[future.Unit]()
		futureCompletion := completion.Future()
		exec.tasks = append(exec.tasks, executingTask[K]{id: task.id, futureCompletion: futureCompletion})
		s.inspect.observeTask(task.id, futureCompletion)

		execution := task.execution
		handoffs = append(handoffs, func() {
			execution.SetValue(completion)
		})
	}

	s.stages[stageID] = exec
	s.inspect.notifyChange(stageID, phaseWaiting, edgeFinished)
	s.inspect.notifyChange(stageID, phaseExecution, edgeStarted)
	return handoffs
}

// drain consumes an Executing stage's task completion futures from the end
// of the list, then completes the stage once the list is empty and
// allTasksCollected is set. Like awaitPrereqs it loops over already-ready
// futures and parks on the first pending one.
func (s *Scheduler[K]) drain(stageID K) {
	for {
		s.mu.Lock()
		exec, ok := s.stages[stageID].(*executingStage[K])
		if !ok {
			s.mu.Unlock()
			return
		}

		if len(exec.tasks) == 0 {
			if exec.inFlight > 0 {
				// A popped task is still running; its completion
				// continuation re-enters drain.
				s.mu.Unlock()
				return
			}
			if !exec.allTasksCollected {
				s.logf("Stage %s: no more tasks, waiting for all tasks collected", s.logString(stageID))
				s.mu.Unlock()
				return
			}

			promises := exec.completionPromises
			s.stages[stageID] = &completedStage[K]{id: stageID}
			s.logf("Stage %s: completed, notifying %d dependent stage(s)", s.logString(stageID), len(promises))
			s.inspect.notifyChange(stageID, phaseExecution, edgeFinished)
			s.mu.Unlock()

			for _, promise := range promises {
				promise.SetValue(future.Unit{})
			}
			return
		}

		s.logf("Stage %s: %d task(s) remaining", s.logString(stageID), len(exec.tasks))
		last := len(exec.tasks) - 1
		task := exec.tasks[last]
		exec.tasks = exec.tasks[:last]
		exec.inFlight++
		s.mu.Unlock()

		if r, ready := task.futureCompletion.TryGet(); ready {
			if r.HasError() {
				return
			}
			s.settleTask(stageID)
			continue
		}

		// A cancelled completion future never fires this continuation, so
		// the in-flight count stays up and the stage parks in Executing,
		// which is the intended teardown behaviour.
		future.IfNotCanceled(task.futureCompletion, func(future.Unit) {
			s.settleTask(stageID)
			s.drain(stageID)
		})
		return
	}
}

// settleTask decrements the in-flight count for a stage still in Executing.
func (s *Scheduler[K]) settleTask(stageID K) {
	s.mu.Lock()
	if exec, ok := s.stages[stageID].(*executingStage[K]); ok {
		exec.inFlight--
	}
	s.mu.Unlock()
}

func (s *Scheduler[K]) logf(format string, args ...any) {
	if s.logger != nil {
		s.logger.Info(fmt.Sprintf(format, args...))
	}
}

func (s *Scheduler[K]) warnf(format string, args ...any) {
	if s.logger != nil {
		s.logger.Warn(fmt.Sprintf(format, args...))
	}
}
