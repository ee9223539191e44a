package integrationtests

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vk/apw/internal/app"
	"github.com/vk/apw/internal/testutil"
)

// harnessResult holds the outcomes of an integration test run.
type harnessResult struct {
	LogOutput string
	Err       error
	Dir       string
}

// read returns the trimmed content of a file the build wrote into Dir.
func (r *harnessResult) read(t *testing.T, name string) string {
	t.Helper()
	b, err := os.ReadFile(filepath.Join(r.Dir, name))
	require.NoError(t, err)
	return strings.TrimSpace(string(b))
}

// lines returns the non-empty lines of a file the build wrote into Dir.
func (r *harnessResult) lines(t *testing.T, name string) []string {
	t.Helper()
	content := r.read(t, name)
	if content == "" {
		return nil
	}
	return strings.Split(content, "\n")
}

// runIntegrationTest writes files into a temporary build directory and runs
// a full build of it.
func runIntegrationTest(t *testing.T, files map[string]string, mutate func(*app.Config)) *harnessResult {
	t.Helper()
	return runIntegrationTestWithContext(t.Context(), t, files, mutate)
}

func runIntegrationTestWithContext(ctx context.Context, t *testing.T, files map[string]string, mutate func(*app.Config)) *harnessResult {
	t.Helper()

	dir := t.TempDir()
	for name, content := range files {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}

	raw := app.Config{BuildPath: dir, LogLevel: "debug"}
	if mutate != nil {
		mutate(&raw)
	}
	cfg, err := app.NewConfig(raw)
	require.NoError(t, err)

	logs := &testutil.SafeBuffer{}
	runErr := app.NewApp(logs, cfg).Run(ctx)

	if os.Getenv("APW_TEST_LOGS") == "true" {
		t.Logf("--- Full Log Output for %s ---\n%s", t.Name(), logs.String())
	}
	return &harnessResult{LogOutput: logs.String(), Err: runErr, Dir: dir}
}
