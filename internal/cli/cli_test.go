package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/lineageq/internal/backoff"
	"github.com/cuongbtq/lineageq/internal/domain"
	"github.com/cuongbtq/lineageq/internal/storage"
	"github.com/cuongbtq/lineageq/shared/database"
	"github.com/cuongbtq/lineageq/shared/logger"
)

func newTestStore(t *testing.T) *storage.Storage {
	t.Helper()

	log := logger.NewNop().Logger
	client, err := database.NewClient(&database.Config{
		Driver: database.DriverSQLite,
		Path:   filepath.Join(t.TempDir(), "queue.db"),
	}, log)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	return storage.New(client.GetDB(), storage.Options{Backoff: backoff.Default(), Logger: log})
}

// run executes one lineageqctl invocation against store and returns its output
func run(t *testing.T, store Store, args ...string) (string, error) {
	t.Helper()

	var gotPath string
	closed := false
	root := NewRootCommand(func(configPath string) (Store, func() error, error) {
		gotPath = configPath
		return store, func() error { closed = true; return nil }, nil
	})

	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--config", "test.yaml"}, args...))

	err := root.ExecuteContext(context.Background())
	if err == nil && args[0] != "help" {
		assert.Equal(t, "test.yaml", gotPath)
		assert.True(t, closed, "store not closed")
	}
	return out.String(), err
}

func migrated(t *testing.T) *storage.Storage {
	t.Helper()
	store := newTestStore(t)
	_, err := run(t, store, "migrate")
	require.NoError(t, err)
	return store
}

func TestMigrate(t *testing.T) {
	store := newTestStore(t)

	out, err := run(t, store, "migrate")
	require.NoError(t, err)
	assert.Contains(t, out, "up to date")

	// idempotent
	_, err = run(t, store, "migrate")
	require.NoError(t, err)
}

func TestEnqueue(t *testing.T) {
	store := migrated(t)

	out, err := run(t, store, "enqueue",
		"--git-url", "https://example.com/app.git",
		"--branch", "main",
		"--conn", "warehouse",
		"--priority", "7",
		"--max-attempts", "5",
		"--schedule-at", "2030-01-02T03:04:05+02:00",
	)
	require.NoError(t, err)
	assert.Equal(t, "Job 1 queued.\n", out)

	job, err := store.GetJob(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusQueued, job.Status)
	assert.Equal(t, 7, job.Priority)
	assert.Equal(t, 5, job.MaxAttempts)
	assert.Equal(t, "warehouse", job.ConnName)
	require.NotNil(t, job.GitBranch)
	assert.Equal(t, "main", *job.GitBranch)
	assert.Equal(t, "2030-01-02T01:04:05Z", job.ScheduledAt.UTC().Format("2006-01-02T15:04:05Z07:00"))
}

func TestEnqueue_Rejections(t *testing.T) {
	store := migrated(t)

	tests := []struct {
		name string
		args []string
	}{
		{name: "no source", args: []string{"enqueue", "--conn", "c"}},
		{name: "no conn", args: []string{"enqueue", "--repo-path", "/x"}},
		{name: "bad schedule", args: []string{"enqueue", "--repo-path", "/x", "--conn", "c", "--schedule-at", "soon"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := run(t, store, tt.args...)
			require.Error(t, err)
		})
	}

	jobs, err := store.ListJobs(context.Background(), storage.JobFilter{})
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestListGetCancel(t *testing.T) {
	store := migrated(t)
	ctx := context.Background()

	for _, path := range []string{"/repo/a", "/repo/b", "/repo/c"} {
		_, err := store.InsertJob(ctx, domain.JobSpec{RepoPath: path, ConnName: "c"})
		require.NoError(t, err)
	}

	out, err := run(t, store, "list", "--limit", "2")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "ID"))
	assert.True(t, strings.HasPrefix(lines[1], "3 "))
	assert.Contains(t, lines[1], "/repo/c")
	assert.True(t, strings.HasPrefix(lines[2], "2 "))

	out, err = run(t, store, "cancel", "2")
	require.NoError(t, err)
	assert.Equal(t, "Job 2 canceled.\n", out)

	out, err = run(t, store, "cancel", "2")
	require.NoError(t, err)
	assert.Equal(t, "Job 2 is already canceled.\n", out)

	out, err = run(t, store, "list", "--status", "canceled")
	require.NoError(t, err)
	lines = strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[1], "2 "))

	out, err = run(t, store, "list", "--before", "2")
	require.NoError(t, err)
	lines = strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[1], "1 "))

	out, err = run(t, store, "get", "2")
	require.NoError(t, err)
	var job domain.Job
	require.NoError(t, json.Unmarshal([]byte(out), &job))
	assert.Equal(t, domain.JobStatusCanceled, job.Status)

	_, err = run(t, store, "get", "99")
	assert.True(t, errors.Is(err, domain.ErrJobNotFound))

	_, err = run(t, store, "cancel", "99")
	assert.True(t, errors.Is(err, domain.ErrJobNotFound))

	_, err = run(t, store, "get", "abc")
	assert.Error(t, err)

	_, err = run(t, store, "list", "--status", "sleeping")
	assert.True(t, errors.Is(err, domain.ErrValidation))
}

func TestList_Empty(t *testing.T) {
	store := migrated(t)

	out, err := run(t, store, "list")
	require.NoError(t, err)
	assert.Equal(t, "No jobs found.\n", out)
}

func TestStats(t *testing.T) {
	store := migrated(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := store.InsertJob(ctx, domain.JobSpec{RepoPath: "/x", ConnName: "c"})
		require.NoError(t, err)
	}
	_, err := store.CancelJob(ctx, 1)
	require.NoError(t, err)

	out, err := run(t, store, "stats")
	require.NoError(t, err)

	fields := map[string]string{}
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		i := strings.LastIndex(line, " ")
		fields[strings.TrimSpace(line[:i])] = line[i+1:]
	}
	assert.Equal(t, "1", fields["queued"])
	assert.Equal(t, "1", fields["canceled"])
	assert.Equal(t, "0", fields["done"])
	assert.Equal(t, "1", fields["eligible now"])
}

func TestOpenFailure(t *testing.T) {
	root := NewRootCommand(func(string) (Store, func() error, error) {
		return nil, nil, errors.New("connection refused")
	})
	root.SetArgs([]string{"stats"})
	root.SetOut(&bytes.Buffer{})

	err := root.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}
