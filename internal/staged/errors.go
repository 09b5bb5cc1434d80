package staged

import (
	"fmt"
	"strings"
)

// StageAlreadyAddedError reports a second AddStage call for the same id.
type StageAlreadyAddedError[K comparable] struct {
	StageID K

	logString func(K) string
}

func (e *StageAlreadyAddedError[K]) Error() string {
	return fmt.Sprintf("Stage %q has already been added. Aborting operation.", e.logString(e.StageID))
}

// CircularDependencyError reports that declaring a stage's prerequisites
// would close a dependency cycle. Cycle lists the ids in discovery order,
// starting and ending at the repeated id.
type CircularDependencyError[K comparable] struct {
	StageID         K
	PrerequisiteIDs []K
	Cycle           []K

	logString func(K) string
}

func (e *CircularDependencyError[K]) Error() string {
	var b strings.Builder

	b.WriteString("Adding stage \"")
	b.WriteString(e.logString(e.StageID))
	b.WriteString("\" with prerequisite(s) {")
	for i, id := range e.PrerequisiteIDs {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("\"")
		b.WriteString(e.logString(id))
		b.WriteString("\"")
	}
	b.WriteString("} would introduce cycle ")
	for i, id := range e.Cycle {
		if i > 0 {
			b.WriteString(" -> ")
		}
		b.WriteString("\"")
		b.WriteString(e.logString(id))
		b.WriteString("\"")
	}
	b.WriteString(". Aborting operation.")

	return b.String()
}

// AllTasksCollectedError reports a task added after SetAllTasksAdded, or to
// a completed stage.
type AllTasksCollectedError[K comparable] struct {
	StageID K
	TaskID  K

	logString func(K) string
}

func (e *AllTasksCollectedError[K]) Error() string {
	return fmt.Sprintf("Cannot add task %q to stage %q: all tasks have already been collected. Aborting operation.",
		e.logString(e.TaskID), e.logString(e.StageID))
}
