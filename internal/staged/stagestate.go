package staged

// pendingTask is a task registered before its stage started executing. The
// execution promise's future was returned to the caller at registration.
type pendingTask[K comparable] struct {
	id        K
	execution *TaskExecutionPromise
}

// executingTask is a released task the stage is waiting on.
type executingTask[K comparable] struct {
	id               K
	futureCompletion FutureTaskCompletion
}

// stageState is the closed set of per-stage state variants. Exactly one
// value exists per id ever mentioned to the scheduler; transitions replace
// the registry entry and never go backwards.
type stageState[K comparable] interface {
	stageID() K
	stateID() StageStateID
}

// pendingStage carries the bookkeeping shared by the Undefined and Defined
// variants: tasks not yet released and completion promises handed out to
// dependents.
type pendingStage[K comparable] struct {
	id                 K
	allTasksCollected  bool
	tasks              []pendingTask[K]
	completionPromises []*StageCompletionPromise
}

func (p *pendingStage[K]) stageID() K { return p.id }

// undefinedStage: registered implicitly (as a prerequisite or task host) but
// AddStage has not been called.
type undefinedStage[K comparable] struct {
	pendingStage[K]
}

func (*undefinedStage[K]) stateID() StageStateID { return StateUndefined }

// definedStage: AddStage has been called; waiting for the prerequisite
// completion futures to resolve.
type definedStage[K comparable] struct {
	pendingStage[K]
	futurePrereqs []FutureStageCompletion
}

func (*definedStage[K]) stateID() StageStateID { return StateDefined }

// executingStage: prerequisites cleared, tasks released. Waits for every
// task's completion future, then for the allTasksCollected flag. inFlight
// counts tasks popped off the list whose completion future has not resolved
// yet; the stage must not complete while any remain.
type executingStage[K comparable] struct {
	id                 K
	allTasksCollected  bool
	tasks              []executingTask[K]
	inFlight           int
	completionPromises []*StageCompletionPromise
}

func (e *executingStage[K]) stageID() K          { return e.id }
func (*executingStage[K]) stateID() StageStateID { return StateExecuting }

// completedStage: terminal.
type completedStage[K comparable] struct {
	id K
}

func (c *completedStage[K]) stageID() K          { return c.id }
func (*completedStage[K]) stateID() StageStateID { return StateCompleted }

// pending returns the shared pending payload for the Undefined and Defined
// variants, or nil for the others.
func pending[K comparable](st stageState[K]) *pendingStage[K] {
	switch cur := st.(type) {
	case *undefinedStage[K]:
		return &cur.pendingStage
	case *definedStage[K]:
		return &cur.pendingStage
	default:
		return nil
	}
}
