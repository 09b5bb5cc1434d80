package plan

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"

	"github.com/vk/stagegridgo/internal/ctxlog"
	"github.com/vk/stagegridgo/internal/fsutil"
	"github.com/vk/stagegridgo/internal/schema"
)

const defaultHTTPTimeout = 10 * time.Second

// Load reads a plan from a single .hcl file or, for a directory, from every
// .hcl file under it (merged in path order).
func Load(ctx context.Context, path string) (*Plan, error) {
	logger := ctxlog.FromContext(ctx)

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("plan path %q: %w", path, err)
	}

	files := []string{path}
	if info.IsDir() {
		files, err = fsutil.FindFilesByExtension(path, ".hcl")
		if err != nil {
			return nil, fmt.Errorf("scanning plan directory %q: %w", path, err)
		}
		if len(files) == 0 {
			return nil, fmt.Errorf("no .hcl files found under %q", path)
		}
	}
	logger.Debug("Loading plan files.", "count", len(files))

	parser := hclparse.NewParser()
	var raw schema.Plan
	for _, file := range files {
		hclFile, diags := parser.ParseHCLFile(file)
		if diags.HasErrors() {
			return nil, fmt.Errorf("failed to parse %s: %w", file, diags)
		}
		var part schema.Plan
		if diags := gohcl.DecodeBody(hclFile.Body, nil, &part); diags.HasErrors() {
			return nil, fmt.Errorf("failed to decode %s: %w", file, diags)
		}
		raw.Stages = append(raw.Stages, part.Stages...)
	}

	p, err := translate(&raw)
	if err != nil {
		return nil, err
	}
	logger.Debug("Plan loaded.", "stages", len(p.Stages))
	return p, nil
}

// translate validates the decoded schema and builds the runtime model.
func translate(raw *schema.Plan) (*Plan, error) {
	p := &Plan{}
	stagesByName := make(map[string]*Stage, len(raw.Stages))

	for _, rawStage := range raw.Stages {
		if _, dup := stagesByName[rawStage.Name]; dup {
			return nil, fmt.Errorf("stage %q is declared more than once", rawStage.Name)
		}

		st := &Stage{
			Name:          rawStage.Name,
			Prerequisites: rawStage.Prerequisites,
		}

		taskNames := make(map[string]struct{}, len(rawStage.Tasks))
		for _, rawTask := range rawStage.Tasks {
			if _, dup := taskNames[rawTask.Name]; dup {
				return nil, fmt.Errorf("stage %q declares task %q more than once", rawStage.Name, rawTask.Name)
			}
			taskNames[rawTask.Name] = struct{}{}

			task, err := translateTask(rawTask)
			if err != nil {
				return nil, fmt.Errorf("stage %q task %q: %w", rawStage.Name, rawTask.Name, err)
			}
			st.Tasks = append(st.Tasks, task)
		}

		stagesByName[st.Name] = st
		p.Stages = append(p.Stages, st)
	}

	// Prerequisites must name stages in the plan. The scheduler itself
	// tolerates forward references, but a plan referencing a stage nobody
	// defines would wait forever.
	for _, st := range p.Stages {
		for _, prereq := range st.Prerequisites {
			if prereq == st.Name {
				return nil, fmt.Errorf("stage %q lists itself as a prerequisite", st.Name)
			}
			if _, ok := stagesByName[prereq]; !ok {
				return nil, fmt.Errorf("stage %q lists undefined prerequisite %q", st.Name, prereq)
			}
		}
	}

	return p, nil
}

func translateTask(raw *schema.Task) (*Task, error) {
	kinds := 0
	if raw.Exec != nil {
		kinds++
	}
	if raw.HTTP != nil {
		kinds++
	}
	if raw.Print != nil {
		kinds++
	}
	if kinds != 1 {
		return nil, fmt.Errorf("expected exactly one of exec, http or print, got %d", kinds)
	}

	switch {
	case raw.Exec != nil:
		env, err := stringMapFromCty(raw.Exec.Env)
		if err != nil {
			return nil, fmt.Errorf("env: %w", err)
		}
		if raw.Exec.Command == "" {
			return nil, fmt.Errorf("exec command must not be empty")
		}
		return &Task{
			Name: raw.Name,
			Kind: KindExec,
			Exec: &ExecTask{
				Command: raw.Exec.Command,
				Args:    raw.Exec.Args,
				Env:     env,
				Dir:     raw.Exec.Dir,
			},
		}, nil

	case raw.HTTP != nil:
		method := strings.ToUpper(raw.HTTP.Method)
		if method == "" {
			method = http.MethodGet
		}
		expect := raw.HTTP.ExpectStatus
		if expect == 0 {
			expect = http.StatusOK
		}
		timeout := defaultHTTPTimeout
		if raw.HTTP.TimeoutSeconds > 0 {
			timeout = time.Duration(raw.HTTP.TimeoutSeconds * float64(time.Second))
		}
		return &Task{
			Name: raw.Name,
			Kind: KindHTTP,
			HTTP: &HTTPTask{
				URL:          raw.HTTP.URL,
				Method:       method,
				Body:         raw.HTTP.Body,
				ExpectStatus: expect,
				Timeout:      timeout,
			},
		}, nil

	default:
		values, err := stringMapFromCty(raw.Print.Values)
		if err != nil {
			return nil, fmt.Errorf("values: %w", err)
		}
		return &Task{
			Name:  raw.Name,
			Kind:  KindPrint,
			Print: &PrintTask{Values: values},
		}, nil
	}
}

// stringMapFromCty converts an HCL object or map of strings into a Go map.
// A null or absent value yields nil.
func stringMapFromCty(val cty.Value) (map[string]string, error) {
	if val.IsNull() {
		return nil, nil
	}
	if !val.Type().IsObjectType() && !val.Type().IsMapType() {
		return nil, fmt.Errorf("expected a map of strings, got %s", val.Type().FriendlyName())
	}

	out := make(map[string]string)
	for it := val.ElementIterator(); it.Next(); {
		k, v := it.Element()
		if v.Type() != cty.String || v.IsNull() {
			return nil, fmt.Errorf("value for %q must be a string", k.AsString())
		}
		out[k.AsString()] = v.AsString()
	}
	return out, nil
}
