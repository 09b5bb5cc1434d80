package runner

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"sort"
	"strings"
	"time"

	"github.com/vk/stagegridgo/internal/ctxlog"
	"github.com/vk/stagegridgo/internal/plan"
)

// execute dispatches on the task kind and returns a populated result.
func (r *Runner) execute(ctx context.Context, task *plan.Task) TaskResult {
	start := time.Now()

	var err error
	switch task.Kind {
	case plan.KindExec:
		err = r.runExec(ctx, task.Exec)
	case plan.KindHTTP:
		err = r.runHTTP(ctx, task.HTTP)
	case plan.KindPrint:
		err = r.runPrint(ctx, task.Print)
	default:
		err = fmt.Errorf("unknown task kind %q", task.Kind)
	}

	status := StatusOK
	if err != nil {
		status = StatusFailed
	}
	return TaskResult{
		Task:     task.Name,
		Status:   status,
		Err:      err,
		Duration: time.Since(start),
	}
}

// runExec runs a local command, inheriting the process environment plus the
// task's env map.
func (r *Runner) runExec(ctx context.Context, spec *plan.ExecTask) error {
	cmd := exec.CommandContext(ctx, spec.Command, spec.Args...)
	cmd.Dir = spec.Dir
	if len(spec.Env) > 0 {
		env := os.Environ()
		keys := make([]string, 0, len(spec.Env))
		for k := range spec.Env {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			env = append(env, k+"="+spec.Env[k])
		}
		cmd.Env = env
	}

	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("command %q: %w (output: %s)", spec.Command, err, tail(output, 512))
	}
	return nil
}

// runHTTP performs a single request and checks the response status.
func (r *Runner) runHTTP(ctx context.Context, spec *plan.HTTPTask) error {
	reqCtx, cancel := context.WithTimeout(ctx, spec.Timeout)
	defer cancel()

	var body io.Reader
	if spec.Body != "" {
		body = strings.NewReader(spec.Body)
	}
	req, err := http.NewRequestWithContext(reqCtx, spec.Method, spec.URL, body)
	if err != nil {
		return fmt.Errorf("building request for %q: %w", spec.URL, err)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", spec.Method, spec.URL, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != spec.ExpectStatus {
		return fmt.Errorf("%s %s: expected status %d, got %d", spec.Method, spec.URL, spec.ExpectStatus, resp.StatusCode)
	}
	return nil
}

// runPrint logs the task's values with sorted keys for stable output.
func (r *Runner) runPrint(ctx context.Context, spec *plan.PrintTask) error {
	logger := ctxlog.FromContext(ctx)

	if len(spec.Values) == 0 {
		logger.Info("print: (no values)")
		return nil
	}

	keys := make([]string, 0, len(spec.Values))
	for k := range spec.Values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		logger.Info(fmt.Sprintf("print: %s = %q", k, spec.Values[k]))
	}
	return nil
}

// tail returns at most n trailing bytes of output as a trimmed string.
func tail(output []byte, n int) string {
	s := strings.TrimSpace(string(output))
	if len(s) > n {
		s = "..." + s[len(s)-n:]
	}
	return s
}
