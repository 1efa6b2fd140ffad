package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/songzhibin97/dolphin-sync/config"
	"github.com/songzhibin97/dolphin-sync/errcode"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "dsync.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newCmdRoot()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestRootCommand(t *testing.T) {
	cmd := newCmdRoot()
	var names []string
	for _, c := range cmd.Commands() {
		names = append(names, c.Name())
	}
	for _, name := range []string{"serve", "preview", "commit", "sync-project", "versions", "diff", "rollback", "delete-version"} {
		assert.Contains(t, names, name)
	}
	assert.NotNil(t, cmd.PersistentFlags().Lookup("config"))
}

func TestFlagValidation(t *testing.T) {
	cases := []struct {
		args []string
		want string
	}{
		{[]string{"preview"}, errMissingWorkflow.Error()},
		{[]string{"commit", "--project", "1"}, errMissingWorkflow.Error()},
		{[]string{"sync-project"}, "--project is required"},
		{[]string{"versions"}, errMissingWorkflowID.Error()},
		{[]string{"diff", "--workflow-id", "1"}, "--right is required"},
		{[]string{"rollback", "--workflow-id", "1"}, "--target is required"},
		{[]string{"delete-version", "--workflow-id", "1"}, "--version-id is required"},
	}
	for _, c := range cases {
		t.Run(c.args[0], func(t *testing.T) {
			_, err := execute(t, c.args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), c.want)
		})
	}
}

func TestNewApp(t *testing.T) {
	ctx := context.Background()

	t.Run("memory", func(t *testing.T) {
		cfg, err := config.Load(writeConfig(t, "log:\n  level: error\n"), nil)
		require.NoError(t, err)
		a, err := newApp(ctx, cfg)
		require.NoError(t, err)
		assert.NotNil(t, a.svc)
		assert.Equal(t, cfg.Sync.IngestMode(), a.svc.Mode())
		assert.NoError(t, a.Close())
	})

	t.Run("sqlite without cache", func(t *testing.T) {
		cfg, err := config.Load(writeConfig(t, `
log:
  level: error
store:
  driver: sqlite
  dsn: "file:cmd_test?mode=memory&cache=shared"
cache:
  driver: none
`), nil)
		require.NoError(t, err)
		a, err := newApp(ctx, cfg)
		require.NoError(t, err)
		assert.Len(t, a.closers, 1)
		assert.NoError(t, a.Close())
	})

	t.Run("bad log level", func(t *testing.T) {
		cfg, err := config.Load(writeConfig(t, "log:\n  level: loud\n"), nil)
		require.NoError(t, err)
		_, err = newApp(ctx, cfg)
		assert.Error(t, err)
	})
}

func TestCatalogCommands(t *testing.T) {
	path := writeConfig(t, "log:\n  level: error\n")

	_, err := execute(t, "versions", "--config", path, "--workflow-id", "42")
	require.Error(t, err)
	assert.Equal(t, "WORKFLOW_NOT_FOUND", errcode.Code(err))

	_, err = execute(t, "--config", path, "--mode=turbo", "versions", "--workflow-id", "42")
	assert.ErrorIs(t, err, config.ErrInvalidMode)
}
