// Package schema declares the HCL shapes of plan files. Decoding targets
// only; validation and translation into the runtime model live in
// internal/plan.
package schema

import (
	"github.com/zclconf/go-cty/cty"
)

// Plan represents the top-level structure of a plan file: a flat list of
// stage blocks.
type Plan struct {
	Stages []*Stage `hcl:"stage,block"`
}

// Stage represents a `stage` block. Prerequisites name other stages that
// must complete before this stage's tasks are released.
type Stage struct {
	Name          string   `hcl:"name,label"`
	Prerequisites []string `hcl:"prerequisites,optional"`
	Tasks         []*Task  `hcl:"task,block"`
}

// Task represents a `task` block. Exactly one kind block (exec, http or
// print) must be present; internal/plan enforces that.
type Task struct {
	Name  string     `hcl:"name,label"`
	Exec  *ExecSpec  `hcl:"exec,block"`
	HTTP  *HTTPSpec  `hcl:"http,block"`
	Print *PrintSpec `hcl:"print,block"`
}

// ExecSpec runs a local command. Env is decoded as a cty value so plans can
// use object syntax; internal/plan converts it to a string map.
type ExecSpec struct {
	Command string    `hcl:"command"`
	Args    []string  `hcl:"args,optional"`
	Env     cty.Value `hcl:"env,optional"`
	Dir     string    `hcl:"dir,optional"`
}

// HTTPSpec performs a single HTTP request and checks the response status.
type HTTPSpec struct {
	URL            string  `hcl:"url"`
	Method         string  `hcl:"method,optional"`
	Body           string  `hcl:"body,optional"`
	ExpectStatus   int     `hcl:"expect_status,optional"`
	TimeoutSeconds float64 `hcl:"timeout_seconds,optional"`
}

// PrintSpec logs its values; useful as a placeholder task and in tests.
type PrintSpec struct {
	Values cty.Value `hcl:"values,optional"`
}
