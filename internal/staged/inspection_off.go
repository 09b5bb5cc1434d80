//go:build staged_noinspect

package staged

// InspectionEnabled reports whether this build carries the inspection
// substructure. This is the compiled-out variant: cycle detection is
// skipped (cycles deadlock instead of erroring) and the debug queries
// return unknown.
const InspectionEnabled = false

// inspection carries no state in this build; every method is a no-op the
// compiler can discard.
type inspection[K comparable] struct{}

func (*inspection[K]) init() {}

func (*inspection[K]) addStage(K, []K, func(K) string) error { return nil }

func (*inspection[K]) prerequisiteIDs(K) ([]K, bool) { return nil, false }

func (*inspection[K]) waitingAndExecutionTime(K) StageTimes { return StageTimes{} }

func (*inspection[K]) notifyChange(K, changePhase, changeEdge) {}

func (*inspection[K]) observeTask(K, FutureTaskCompletion) {}
