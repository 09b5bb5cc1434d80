package plan

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writePlanFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadSingleFile(t *testing.T) {
	path := writePlanFile(t, "main.hcl", `
stage "prep" {
  task "warm-up" {
    exec {
      command = "sh"
      args    = ["-c", "true"]
      env     = { SEASON = "spring", FIELD = "north" }
    }
  }
}

stage "work" {
  prerequisites = ["prep"]

  task "probe" {
    http {
      url             = "http://localhost:8080/health"
      method          = "get"
      expect_status   = 204
      timeout_seconds = 2.5
    }
  }

  task "announce" {
    print {
      values = { msg = "working" }
    }
  }
}
`)

	p, err := Load(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, p.Stages, 2)

	prep := p.Stages[0]
	assert.Equal(t, "prep", prep.Name)
	assert.Empty(t, prep.Prerequisites)
	require.Len(t, prep.Tasks, 1)
	warmUp := prep.Tasks[0]
	assert.Equal(t, KindExec, warmUp.Kind)
	assert.Equal(t, "sh", warmUp.Exec.Command)
	assert.Equal(t, []string{"-c", "true"}, warmUp.Exec.Args)
	assert.Equal(t, map[string]string{"SEASON": "spring", "FIELD": "north"}, warmUp.Exec.Env)

	work := p.Stages[1]
	assert.Equal(t, []string{"prep"}, work.Prerequisites)
	require.Len(t, work.Tasks, 2)

	probe := work.Tasks[0]
	assert.Equal(t, KindHTTP, probe.Kind)
	assert.Equal(t, "GET", probe.HTTP.Method, "method is upper-cased")
	assert.Equal(t, 204, probe.HTTP.ExpectStatus)
	assert.Equal(t, 2500*time.Millisecond, probe.HTTP.Timeout)

	announce := work.Tasks[1]
	assert.Equal(t, KindPrint, announce.Kind)
	assert.Equal(t, map[string]string{"msg": "working"}, announce.Print.Values)

	assert.Equal(t, []string{"prep", "work"}, p.StageNames())
}

func TestLoadDirectoryMergesFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.hcl"), []byte(`
stage "one" {
  task "t" {
    print {}
  }
}
`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.hcl"), []byte(`
stage "two" {
  prerequisites = ["one"]
}
`), 0o644))

	p, err := Load(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"one", "two"}, p.StageNames())
}

func TestLoadDefaults(t *testing.T) {
	path := writePlanFile(t, "main.hcl", `
stage "s" {
  task "probe" {
    http {
      url = "http://localhost:9/"
    }
  }
}
`)

	p, err := Load(context.Background(), path)
	require.NoError(t, err)
	probe := p.Stages[0].Tasks[0]
	assert.Equal(t, "GET", probe.HTTP.Method)
	assert.Equal(t, 200, probe.HTTP.ExpectStatus)
	assert.Equal(t, 10*time.Second, probe.HTTP.Timeout)
}

func TestLoadErrors(t *testing.T) {
	cases := []struct {
		name    string
		hcl     string
		wantErr string
	}{
		{
			name: "duplicate stage",
			hcl: `
stage "a" {}
stage "a" {}
`,
			wantErr: `stage "a" is declared more than once`,
		},
		{
			name: "duplicate task",
			hcl: `
stage "a" {
  task "t" {
    print {}
  }
  task "t" {
    print {}
  }
}
`,
			wantErr: `declares task "t" more than once`,
		},
		{
			name: "undefined prerequisite",
			hcl: `
stage "a" {
  prerequisites = ["ghost"]
}
`,
			wantErr: `undefined prerequisite "ghost"`,
		},
		{
			name: "self prerequisite",
			hcl: `
stage "a" {
  prerequisites = ["a"]
}
`,
			wantErr: `lists itself as a prerequisite`,
		},
		{
			name: "task without kind",
			hcl: `
stage "a" {
  task "t" {}
}
`,
			wantErr: "expected exactly one of exec, http or print",
		},
		{
			name: "task with two kinds",
			hcl: `
stage "a" {
  task "t" {
    print {}
    exec {
      command = "true"
    }
  }
}
`,
			wantErr: "expected exactly one of exec, http or print",
		},
		{
			name: "empty exec command",
			hcl: `
stage "a" {
  task "t" {
    exec {
      command = ""
    }
  }
}
`,
			wantErr: "exec command must not be empty",
		},
		{
			name: "non-string env value",
			hcl: `
stage "a" {
  task "t" {
    exec {
      command = "true"
      env     = { COUNT = 3 }
    }
  }
}
`,
			wantErr: `value for "COUNT" must be a string`,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := writePlanFile(t, "main.hcl", tc.hcl)
			_, err := Load(context.Background(), path)
			require.Error(t, err)
			assert.ErrorContains(t, err, tc.wantErr)
		})
	}
}

func TestLoadMissingPath(t *testing.T) {
	_, err := Load(context.Background(), filepath.Join(t.TempDir(), "nope.hcl"))
	require.Error(t, err)
}

func TestLoadEmptyDirectory(t *testing.T) {
	_, err := Load(context.Background(), t.TempDir())
	require.Error(t, err)
	assert.ErrorContains(t, err, "no .hcl files found")
}
