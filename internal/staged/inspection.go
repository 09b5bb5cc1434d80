//go:build !staged_noinspect

package staged

import (
	"slices"
	"sync"
	"time"

	"github.com/vk/stagegridgo/internal/future"
)

// InspectionEnabled reports whether this build carries the inspection
// substructure (cycle detection and waiting/execution timing). Build with
// the staged_noinspect tag to compile it out.
const InspectionEnabled = true

// stageTimestamps records the four moments of a stage's life. A zero time
// means the moment has not happened yet.
type stageTimestamps struct {
	waitingStart   time.Time
	waitingEnd     time.Time
	executionStart time.Time
	executionEnd   time.Time
}

// inspection accumulates debug state per id. It has its own mutex because
// observeTask continuations fire on whatever goroutine resolves a task
// completion promise, outside the scheduler lock.
type inspection[K comparable] struct {
	mu                sync.Mutex
	prerequisitesByID map[K][]K
	timestampsByID    map[K]*stageTimestamps
}

func (ins *inspection[K]) init() {
	ins.prerequisitesByID = make(map[K][]K)
	ins.timestampsByID = make(map[K]*stageTimestamps)
}

// addStage records a stage's prerequisites after verifying they do not
// close a dependency cycle.
func (ins *inspection[K]) addStage(stageID K, prerequisiteIDs []K, logString func(K) string) error {
	ins.mu.Lock()
	defer ins.mu.Unlock()

	if _, exists := ins.prerequisitesByID[stageID]; exists {
		return &StageAlreadyAddedError[K]{StageID: stageID, logString: logString}
	}

	cycle := []K{stageID}
	for _, prereqID := range prerequisiteIDs {
		cycle = append(cycle, prereqID)
		if checkDependencyCycle(&cycle, ins.prerequisitesByID) {
			return &CircularDependencyError[K]{
				StageID:         stageID,
				PrerequisiteIDs: slices.Clone(prerequisiteIDs),
				Cycle:           cycle,
				logString:       logString,
			}
		}
		cycle = cycle[:len(cycle)-1]
	}

	ins.prerequisitesByID[stageID] = slices.Clone(prerequisiteIDs)
	return nil
}

// checkDependencyCycle walks depth-first from the last id on the cycle
// stack. When a prerequisite already on the stack is re-encountered it is
// appended once more and true is returned, leaving the stack holding the
// full cycle path.
func checkDependencyCycle[K comparable](cycle *[]K, prerequisitesByID map[K][]K) bool {
	last := (*cycle)[len(*cycle)-1]
	prerequisiteIDs, ok := prerequisitesByID[last]
	if !ok {
		return false
	}

	for _, prereqID := range prerequisiteIDs {
		if slices.Contains(*cycle, prereqID) {
			*cycle = append(*cycle, prereqID)
			return true
		}

		*cycle = append(*cycle, prereqID)
		if checkDependencyCycle(cycle, prerequisitesByID) {
			return true
		}
		*cycle = (*cycle)[:len(*cycle)-1]
	}

	return false
}

func (ins *inspection[K]) prerequisiteIDs(stageID K) ([]K, bool) {
	ins.mu.Lock()
	defer ins.mu.Unlock()
	prereqs, ok := ins.prerequisitesByID[stageID]
	if !ok {
		return nil, false
	}
	return slices.Clone(prereqs), true
}

func (ins *inspection[K]) waitingAndExecutionTime(id K) StageTimes {
	ins.mu.Lock()
	defer ins.mu.Unlock()

	ts, ok := ins.timestampsByID[id]
	if !ok {
		return StageTimes{}
	}

	elapsed := func(start, end time.Time) *time.Duration {
		if start.IsZero() {
			return nil
		}
		if end.IsZero() {
			end = time.Now()
		}
		d := end.Sub(start)
		return &d
	}

	return StageTimes{
		Waiting:   elapsed(ts.waitingStart, ts.waitingEnd),
		Execution: elapsed(ts.executionStart, ts.executionEnd),
	}
}

// notifyChange stamps "now" into the slot selected by phase and edge. A
// Finished edge without a preceding Started backfills the start so elapsed
// time reads as zero rather than nonsense.
func (ins *inspection[K]) notifyChange(id K, phase changePhase, edge changeEdge) {
	ins.mu.Lock()
	defer ins.mu.Unlock()

	ts, ok := ins.timestampsByID[id]
	if !ok {
		ts = &stageTimestamps{}
		ins.timestampsByID[id] = ts
	}

	now := time.Now()
	switch phase {
	case phaseWaiting:
		if edge == edgeStarted {
			ts.waitingStart = now
		} else {
			ts.waitingEnd = now
			if ts.waitingStart.IsZero() {
				ts.waitingStart = now
			}
		}
	case phaseExecution:
		if edge == edgeStarted {
			ts.executionStart = now
		} else {
			ts.executionEnd = now
			if ts.executionStart.IsZero() {
				ts.executionStart = now
			}
		}
	}
}

// observeTask stamps per-task execution timing: released now, finished when
// the task's completion future resolves.
func (ins *inspection[K]) observeTask(taskID K, futureCompletion FutureTaskCompletion) {
	ins.notifyChange(taskID, phaseExecution, edgeStarted)
	futureCompletion.Next(func(future.CancelableResult[future.Unit]) {
		ins.notifyChange(taskID, phaseExecution, edgeFinished)
	})
}
