// Package testutil provides shared helpers for integration tests: a
// thread-safe log buffer and a harness that writes plan files to a temp
// directory and runs the app against them.
package testutil

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vk/stagegridgo/internal/app"
)

// SafeBuffer is a thread-safe buffer for capturing log output in tests.
type SafeBuffer struct {
	b  bytes.Buffer
	mu sync.Mutex
}

// Write implements the io.Writer interface for SafeBuffer.
func (b *SafeBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.b.Write(p)
}

// String implements the fmt.Stringer interface for SafeBuffer.
func (b *SafeBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.b.String()
}

// HarnessResult holds the outcomes of an integration test run.
type HarnessResult struct {
	LogOutput string
	Err       error
	App       *app.App
}

// RunPlanTest writes the given plan files (relative path -> contents) into
// a temp directory, builds an app against it and runs the whole plan,
// capturing logs. Startup panics are converted to errors.
func RunPlanTest(t *testing.T, files map[string]string, workers int) *HarnessResult {
	t.Helper()

	tmpDir := t.TempDir()
	for name, content := range files {
		filePath := filepath.Join(tmpDir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(filePath), 0o755))
		require.NoError(t, os.WriteFile(filePath, []byte(content), 0o644))
	}

	cfg, err := app.NewConfig(app.Config{
		PlanPath:    tmpDir,
		LogFormat:   "text",
		LogLevel:    "debug",
		WorkerCount: workers,
	})
	require.NoError(t, err)

	logBuffer := &SafeBuffer{}
	result := &HarnessResult{}

	func() {
		defer func() {
			if r := recover(); r != nil {
				result.Err = fmt.Errorf("startup panicked: %v", r)
			}
		}()
		testApp := app.NewApp(logBuffer, cfg)
		result.App = testApp
		result.Err = testApp.Run(context.Background())
	}()

	result.LogOutput = logBuffer.String()
	return result
}
