package bootstrap

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func writeTestConfig(t *testing.T) string {
	t.Helper()
	tmp := t.TempDir()
	content := `log:
  log_level: info
  log_dir: ` + filepath.Join(tmp, "logs") + `
storage:
  dsn: ` + filepath.Join(tmp, "test.db") + `
music:
  output_dir: ` + filepath.Join(tmp, "generated_music") + `
`
	path := filepath.Join(tmp, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestInitGraphOrder(t *testing.T) {
	steps := InitGraph()
	want := []string{
		"config:load",
		"logging:init",
		"storage:init-database",
		"music:init-pipeline",
		"recognition:init-clients",
	}
	if len(steps) != len(want) {
		t.Fatalf("unexpected step count: got %d want %d", len(steps), len(want))
	}
	for i, step := range steps {
		if step.ID != want[i] {
			t.Fatalf("step %d mismatch: got %s want %s", i, step.ID, want[i])
		}
	}
}

func TestExecuteInitGraph(t *testing.T) {
	state := &appState{configPath: writeTestConfig(t)}
	if err := executeInitSteps(context.Background(), InitGraph(), state); err != nil {
		t.Fatalf("executeInitSteps failed: %v", err)
	}
	if state.config == nil {
		t.Fatal("config is nil after init")
	}
	if state.logger == nil {
		t.Fatal("logger is nil after init")
	}
	if state.repo == nil {
		t.Fatal("generation repository is nil after init")
	}
	if state.dispatcher == nil {
		t.Fatal("dispatcher is nil after init")
	}
	if state.asyncClient == nil || state.composer == nil {
		t.Fatal("recognition clients are nil after init")
	}
	state.logger.Close()
}

func TestExecuteInitStepsRejectsUnmetDependency(t *testing.T) {
	steps := []initStep{
		{
			ID:        "b",
			DependsOn: []string{"a"},
			Execute:   func(context.Context, *appState) error { return nil },
		},
	}
	if err := executeInitSteps(context.Background(), steps, &appState{}); err == nil {
		t.Fatal("expected dependency error")
	}
}
