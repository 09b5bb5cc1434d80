package app

import (
	"context"
	"fmt"

	"github.com/vk/stagegridgo/internal/ctxlog"
	"github.com/vk/stagegridgo/internal/runner"
	"github.com/vk/stagegridgo/internal/staged"
)

// Run executes the loaded plan and logs a per-stage summary.
func (a *App) Run(ctx context.Context) error {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	a.logger.Debug("App.Run method started.")

	if len(a.plan.Stages) == 0 {
		a.logger.Warn("No stages found in plan, execution not required.")
		return nil
	}

	a.logger.Info("🚀 Starting staged execution...", "stages", len(a.plan.Stages))
	r := runner.New(a.config.WorkerCount)
	report, err := r.Run(ctx, a.plan)
	if report != nil {
		a.logSummary(report)
	}
	if err != nil {
		return fmt.Errorf("execution failed: %w", err)
	}
	a.logger.Info("🏁 Execution finished.")

	a.logger.Debug("App.Run method finished.")
	return nil
}

// logSummary reports per-task outcomes and, when inspection is compiled in,
// per-stage waiting/execution times.
func (a *App) logSummary(report *runner.Report) {
	for _, res := range report.Results() {
		switch res.Status {
		case runner.StatusOK:
			a.logger.Info("Task finished.", "stage", res.Stage, "task", res.Task, "duration", res.Duration)
		case runner.StatusFailed:
			a.logger.Error("Task failed.", "stage", res.Stage, "task", res.Task, "error", res.Err)
		case runner.StatusSkipped:
			a.logger.Warn("Task skipped.", "stage", res.Stage, "task", res.Task)
		}
	}

	if !staged.InspectionEnabled {
		return
	}
	for _, st := range a.plan.Stages {
		times, ok := report.StageTimes(st.Name)
		if !ok {
			continue
		}
		attrs := []any{"stage", st.Name}
		if times.Waiting != nil {
			attrs = append(attrs, "waiting", *times.Waiting)
		}
		if times.Execution != nil {
			attrs = append(attrs, "execution", *times.Execution)
		}
		a.logger.Info("Stage timing.", attrs...)
	}
}
