// Package runner bridges a loaded plan to the staged scheduler: it
// registers every stage and task, executes released tasks on a bounded
// worker pool, and fulfils the task completion promises the scheduler is
// waiting on.
package runner

import (
	"context"
	"fmt"
	"net/http"

	"golang.org/x/sync/errgroup"

	"github.com/vk/stagegridgo/internal/ctxlog"
	"github.com/vk/stagegridgo/internal/future"
	"github.com/vk/stagegridgo/internal/plan"
	"github.com/vk/stagegridgo/internal/staged"
)

// Runner executes plans. The zero value is not usable; construct with New.
type Runner struct {
	workers    int
	httpClient *http.Client
}

// New returns a runner with the given worker pool size.
func New(workers int) *Runner {
	if workers < 1 {
		workers = 1
	}
	return &Runner{
		workers:    workers,
		httpClient: &http.Client{},
	}
}

// taskRun is a released task queued for a worker: the work to do plus the
// completion promise the scheduler expects to be fulfilled.
type taskRun struct {
	stage string
	task  *plan.Task
	done  *staged.TaskCompletionPromise
}

// Run drives the whole plan through a staged scheduler and blocks until
// every stage has completed. Task failures do not abort the scheduler:
// the failing task is recorded, the run context is cancelled so remaining
// tasks are skipped, and every completion promise is still fulfilled so the
// stage graph drains. The first task failure is returned alongside the
// report.
func (r *Runner) Run(ctx context.Context, p *plan.Plan) (*Report, error) {
	logger := ctxlog.FromContext(ctx)

	sched := staged.NewScheduler[string](staged.WithLogger[string](logger))

	totalTasks := 0
	for _, st := range p.Stages {
		totalTasks += len(st.Tasks)
	}

	// Buffered for every task in the plan, so the release continuations
	// running inside scheduler transitions never block.
	readyCh := make(chan *taskRun, totalTasks)
	report := newReport()

	// Register tasks first and cap each stage; stages are defined below.
	// The scheduler tolerates any ordering, and registering tasks up front
	// means a stage with satisfied prerequisites releases its whole batch
	// the moment AddStage is called.
	for _, st := range p.Stages {
		for _, task := range st.Tasks {
			futureExecution, err := sched.AddTaskToStage(st.Name, task.Name)
			if err != nil {
				return nil, fmt.Errorf("registering task %q in stage %q: %w", task.Name, st.Name, err)
			}
			stageName, task := st.Name, task
			future.IfNotCanceled(futureExecution, func(done *staged.TaskCompletionPromise) {
				readyCh <- &taskRun{stage: stageName, task: task, done: done}
			})
		}
		sched.SetAllTasksAdded(st.Name)
	}

	for _, st := range p.Stages {
		if err := sched.AddStage(st.Name, st.Prerequisites); err != nil {
			sched.Shutdown()
			return nil, fmt.Errorf("defining stage %q: %w", st.Name, err)
		}
	}

	// One follow-up future per stage, folded into a completion count.
	stageFutures := make([]*future.Future[future.CancelableResult[future.Unit]], 0, len(p.Stages))
	for _, st := range p.Stages {
		stageFutures = append(stageFutures, sched.FollowUp(st.Name, "runner"))
	}
	allStages := future.AggregateFutures(stageFutures, 0,
		func(n int, r future.CancelableResult[future.Unit]) int {
			if r.HasValue() {
				return n + 1
			}
			return n
		})

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	logger.Debug("Starting worker pool.", "workers", r.workers)
	var g errgroup.Group
	for i := 0; i < r.workers; i++ {
		workerID := i
		g.Go(func() error {
			r.worker(runCtx, workerID, readyCh, report, cancel)
			return nil
		})
	}

	completed := allStages.Get()
	close(readyCh)
	_ = g.Wait()

	for _, st := range p.Stages {
		report.setStageTimes(st.Name, sched.DebugWaitingAndExecutionTime(st.Name))
	}
	logger.Info("All stages completed.", "count", completed)

	if err := report.FirstError(); err != nil {
		return report, fmt.Errorf("plan execution failed: %w", err)
	}
	return report, nil
}

// worker is the core processing loop for a single concurrent worker. A task
// failure cancels the run context so later tasks are skipped, but the
// completion promise is fulfilled in every branch: the scheduler must always
// see the stage graph drain.
func (r *Runner) worker(ctx context.Context, workerID int, readyCh <-chan *taskRun, report *Report, cancel context.CancelFunc) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("Worker started.", "workerID", workerID)

	for tr := range readyCh {
		workerLogger := logger.With("workerID", workerID, "stage", tr.stage, "task", tr.task.Name)

		if ctx.Err() != nil {
			workerLogger.Warn("Run cancelled, skipping task.")
			report.record(TaskResult{
				Stage:  tr.stage,
				Task:   tr.task.Name,
				Status: StatusSkipped,
				Err:    fmt.Errorf("skipped: %w", context.Cause(ctx)),
			})
			tr.done.SetValue(future.Unit{})
			continue
		}

		workerLogger.Debug("Worker picked up task.")
		res := r.execute(ctx, tr.task)
		res.Stage = tr.stage
		report.record(res)

		if res.Err != nil {
			workerLogger.Error("Task failed.", "error", res.Err)
			cancel()
		} else {
			workerLogger.Debug("Task succeeded.", "duration", res.Duration)
		}

		tr.done.SetValue(future.Unit{})
	}
	logger.Debug("Worker finished.", "workerID", workerID)
}
