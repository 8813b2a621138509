package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/autoflow/internal/config"
	"github.com/rendis/autoflow/pkg/schema"
)

const sumWorkflow = `{
  "name": "sum",
  "nodes": {
    "seed":  {"type": "transform", "expression": "{\"n\": 1}", "next": "total"},
    "total": {"type": "transform", "expression": "{\"total\": (.previousData.seed.n + 1)}"}
  }
}`

type cliEnv struct {
	dir      string
	config   string
	workflow string
}

func newCLIEnv(t *testing.T) cliEnv {
	t.Helper()
	dir := t.TempDir()
	cfg := "log:\n  level: error\nstore:\n  driver: file\n  path: " + filepath.Join(dir, "runs") +
		"\nevents:\n  backend: memory\n"
	env := cliEnv{
		dir:      dir,
		config:   filepath.Join(dir, "config.yaml"),
		workflow: filepath.Join(dir, "sum.json"),
	}
	require.NoError(t, os.WriteFile(env.config, []byte(cfg), 0o600))
	require.NoError(t, os.WriteFile(env.workflow, []byte(sumWorkflow), 0o600))
	return env
}

// runCLI executes the root command and returns stdout.
func runCLI(t *testing.T, env cliEnv, args ...string) (string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	root := newRootCommand()
	root.Writer = &stdout
	root.ErrWriter = &stderr
	err := root.Run(context.Background(), append([]string{"autoflow", "--config", env.config}, args...))
	return stdout.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := runCLI(t, newCLIEnv(t), "version")
	require.NoError(t, err)
	assert.Equal(t, version+"\n", out)
}

func TestRunCommandPersistsRun(t *testing.T) {
	env := newCLIEnv(t)

	out, err := runCLI(t, env, "run", "--output", "json", env.workflow)
	require.NoError(t, err)

	var result map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.Equal(t, true, result["success"])
	assert.Equal(t, string(schema.StateComplete), result["final_state"])
	assert.Equal(t, map[string]any{"total": float64(2)}, result["final_output"])

	id, _ := result["execution_id"].(string)
	require.NotEmpty(t, id)

	out, err = runCLI(t, env, "runs", "list", "--json")
	require.NoError(t, err)
	var runs []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &runs))
	require.Len(t, runs, 1)
	assert.Equal(t, id, runs[0]["execution_id"])

	out, err = runCLI(t, env, "runs", "show", id)
	require.NoError(t, err)
	assert.Contains(t, out, `"workflow_name": "sum"`)

	out, err = runCLI(t, env, "graph", "--format", "ascii", "--run", id, env.workflow)
	require.NoError(t, err)
	assert.Contains(t, out, "seed")
}

func TestRunCommandSummary(t *testing.T) {
	env := newCLIEnv(t)
	out, err := runCLI(t, env, "run", env.workflow)
	require.NoError(t, err)
	assert.Contains(t, out, "sum")
	assert.Contains(t, out, "seed")
	assert.Contains(t, out, "total")
}

func TestRunCommandRequiresWorkflow(t *testing.T) {
	_, err := runCLI(t, newCLIEnv(t), "run")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "workflow file argument is required")
}

func TestValidateCommand(t *testing.T) {
	env := newCLIEnv(t)

	out, err := runCLI(t, env, "validate", env.workflow)
	require.NoError(t, err)
	assert.Contains(t, out, "valid")

	bad := filepath.Join(env.dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`{"nodes": {"a": {"type": "teleport"}}}`), 0o600))
	out, err = runCLI(t, env, "validate", "--json", bad)
	require.Error(t, err)

	var result map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.Equal(t, false, result["valid"])
}

func TestGraphCommandLevels(t *testing.T) {
	env := newCLIEnv(t)
	out, err := runCLI(t, env, "graph", env.workflow)
	require.NoError(t, err)
	assert.Equal(t, "0: seed\n1: total\norder: seed -> total\n", out)
}

func TestGraphCommandRejectsUnknownFormat(t *testing.T) {
	env := newCLIEnv(t)
	_, err := runCLI(t, env, "graph", "--format", "svg", env.workflow)
	assert.Error(t, err)
}

func TestRunsListEmpty(t *testing.T) {
	out, err := runCLI(t, newCLIEnv(t), "runs", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "no runs")
}

func TestRunsListRejectsConflictingFilters(t *testing.T) {
	_, err := runCLI(t, newCLIEnv(t), "runs", "list", "--failed", "--succeeded")
	assert.Error(t, err)
}

func TestScheduleListRequiresSchedules(t *testing.T) {
	_, err := runCLI(t, newCLIEnv(t), "schedule", "--list")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no schedules configured")
}

func TestScheduleListAdHoc(t *testing.T) {
	env := newCLIEnv(t)
	out, err := runCLI(t, env, "schedule", "--list", "--workflow", env.workflow, "--cron", "@hourly")
	require.NoError(t, err)
	assert.Contains(t, out, "@hourly")
}

func TestOpenStoreNone(t *testing.T) {
	st, err := openStore(context.Background(), config.StoreConfig{Driver: config.StoreNone})
	require.NoError(t, err)
	assert.Nil(t, st)
}

func TestOpenStoreLibSQL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "autoflow.db")
	st, err := openStore(context.Background(), config.StoreConfig{Driver: config.StoreLibSQL, Path: path})
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.NoError(t, st.Close())
}
