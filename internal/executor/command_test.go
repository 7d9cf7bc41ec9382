package executor

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/lineageq/internal/domain"
	"github.com/cuongbtq/lineageq/shared/logger"
)

func requireShell(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

func newShellCommand(t *testing.T, script string) *Command {
	t.Helper()
	cmd, err := NewCommand(CommandConfig{
		Command:     "sh",
		Args:        []string{"-c", script},
		CheckoutDir: t.TempDir(),
	}, logger.NewNop().Logger)
	require.NoError(t, err)
	return cmd
}

func TestNewCommand_RequiresCommand(t *testing.T) {
	_, err := NewCommand(CommandConfig{}, logger.NewNop().Logger)
	assert.Error(t, err)
}

func TestNewRequest(t *testing.T) {
	path := "/src/repo"
	started := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	job := &domain.Job{ID: 9, RepoPath: &path, ConnName: "demo_pg", Owner: "team"}

	req := NewRequest(job, "scan-1", started)
	assert.Equal(t, Request{
		JobID:        9,
		RepoPath:     "/src/repo",
		ConnName:     "demo_pg",
		Owner:        "team",
		RunID:        "scan-1",
		RunStartedAt: started,
	}, req)
}

func TestFunc(t *testing.T) {
	want := errors.New("boom")
	var adapter Adapter = Func(func(ctx context.Context, req Request) error { return want })
	assert.ErrorIs(t, adapter.Execute(context.Background(), Request{}), want)
}

func TestCommand_RunsInRepoPathWithEnv(t *testing.T) {
	requireShell(t)

	repo := t.TempDir()
	cmd := newShellCommand(t, `printf '%s|%s|%s' "$LINEAGE_CONN_NAME" "$LINEAGE_RUN_ID" "$LINEAGE_OWNER" > result.txt`)

	err := cmd.Execute(context.Background(), Request{
		JobID:        1,
		RepoPath:     repo,
		ConnName:     "demo_pg",
		Owner:        "team",
		RunID:        "scan-1",
		RunStartedAt: time.Now(),
	})
	require.NoError(t, err)

	out, err := os.ReadFile(filepath.Join(repo, "result.txt"))
	require.NoError(t, err)
	assert.Equal(t, "demo_pg|scan-1|team", string(out))
}

func TestCommand_FailureIncludesOutput(t *testing.T) {
	requireShell(t)

	cmd := newShellCommand(t, `echo "parse error in models.py" >&2; exit 3`)

	err := cmd.Execute(context.Background(), Request{JobID: 1, RepoPath: t.TempDir()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "scanner failed")
	assert.Contains(t, err.Error(), "parse error in models.py")
}

func TestCommand_OutputTailIsBounded(t *testing.T) {
	err := commandError("scanner", errors.New("exit status 1"), []byte(strings.Repeat("x", outputTail*2)+"END"))
	assert.True(t, strings.HasSuffix(err.Error(), "END"))
	assert.Less(t, len(err.Error()), outputTail+64)
}

func TestCommand_OutputTailIsValidUTF8(t *testing.T) {
	tests := []struct {
		name string
		out  []byte
	}{
		{name: "multibyte cut mid rune", out: []byte(strings.Repeat("é", 1500) + "x")},
		{name: "four byte runes", out: []byte(strings.Repeat("𝄞", 700) + "end")},
		{name: "invalid bytes from the scanner", out: append([]byte("partial \xff\xfe"), []byte(" done")...)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := commandError("scanner", errors.New("exit status 1"), tt.out)
			msg := err.Error()
			assert.True(t, utf8.ValidString(msg), "message is not valid UTF-8")
			assert.LessOrEqual(t, len(msg), outputTail+64)
		})
	}

	err := commandError("scanner", errors.New("exit status 1"), []byte(strings.Repeat("é", 1500)+"x"))
	assert.True(t, strings.HasSuffix(err.Error(), "éx"))
}

func TestCommand_NoSource(t *testing.T) {
	cmd := newShellCommand(t, "true")
	err := cmd.Execute(context.Background(), Request{JobID: 1})
	assert.Error(t, err)
}

func TestCommand_ContextTimeout(t *testing.T) {
	requireShell(t)

	cmd := newShellCommand(t, "exec sleep 5")
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := cmd.Execute(ctx, Request{JobID: 1, RepoPath: t.TempDir()})
	assert.Error(t, err)
	assert.Less(t, time.Since(start), 4*time.Second)
}

func TestCommand_CloneFailureCleansUp(t *testing.T) {
	requireShell(t)

	checkouts := t.TempDir()
	cmd, err := NewCommand(CommandConfig{
		Command:     "true",
		CheckoutDir: checkouts,
		// a git stand-in that creates the target then fails
		GitBinary: writeScript(t, `mkdir -p "$(eval echo \${$#})"; echo "repository not found" >&2; exit 128`),
	}, logger.NewNop().Logger)
	require.NoError(t, err)

	err = cmd.Execute(context.Background(), Request{JobID: 4, GitURL: "https://example.invalid/repo.git", GitBranch: "main"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "git clone failed")
	assert.Contains(t, err.Error(), "repository not found")

	_, statErr := os.Stat(filepath.Join(checkouts, "job-4"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestCommand_CloneThenScan(t *testing.T) {
	requireShell(t)

	checkouts := t.TempDir()
	marker := filepath.Join(t.TempDir(), "scanned")
	cmd, err := NewCommand(CommandConfig{
		Command:     "sh",
		Args:        []string{"-c", `test -f README && echo "$LINEAGE_GIT_BRANCH" > "` + marker + `"`},
		CheckoutDir: checkouts,
		GitBinary:   writeScript(t, `d="$(eval echo \${$#})"; mkdir -p "$d" && touch "$d/README"`),
	}, logger.NewNop().Logger)
	require.NoError(t, err)

	err = cmd.Execute(context.Background(), Request{JobID: 5, GitURL: "https://example.invalid/repo.git", GitBranch: "dev"})
	require.NoError(t, err)

	out, err := os.ReadFile(marker)
	require.NoError(t, err)
	assert.Equal(t, "dev\n", string(out))

	_, statErr := os.Stat(filepath.Join(checkouts, "job-5"))
	assert.True(t, os.IsNotExist(statErr))
}

func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fake-git")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return path
}
