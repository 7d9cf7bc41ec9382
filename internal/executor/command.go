package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

// outputTail is how much trailing output a failure message keeps
const outputTail = 2048

const waitDelay = 5 * time.Second

// CommandConfig configures the command adapter
type CommandConfig struct {
	// Command is the scanner executable, run with Args
	Command string
	Args    []string
	// CheckoutDir holds per-job git checkouts
	CheckoutDir string
	// GitBinary defaults to "git"
	GitBinary string
}

// Command checks out the job's repository when needed and runs the scanner in it
type Command struct {
	config CommandConfig
	logger *slog.Logger
}

// NewCommand creates the command adapter
func NewCommand(config CommandConfig, logger *slog.Logger) (*Command, error) {
	if strings.TrimSpace(config.Command) == "" {
		return nil, errors.New("executor command is required")
	}
	if config.GitBinary == "" {
		config.GitBinary = "git"
	}
	if config.CheckoutDir == "" {
		config.CheckoutDir = filepath.Join(os.TempDir(), "lineageq-checkouts")
	}
	return &Command{config: config, logger: logger}, nil
}

// Execute runs one job
func (c *Command) Execute(ctx context.Context, req Request) error {
	dir := req.RepoPath
	if req.GitURL != "" {
		checkout, err := c.checkout(ctx, req)
		if checkout != "" {
			defer c.cleanup(checkout)
		}
		if err != nil {
			return err
		}
		dir = checkout
	}
	if dir == "" {
		return errors.New("job has no repository to scan")
	}

	cmd := exec.CommandContext(ctx, c.config.Command, c.config.Args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), scanEnv(req, dir)...)
	// children that outlive a killed scanner must not hold the output pipe open
	cmd.WaitDelay = waitDelay

	c.logger.Info("Running scanner",
		slog.Int64("job_id", req.JobID),
		slog.String("run_id", req.RunID),
		slog.String("dir", dir),
		slog.String("command", c.config.Command),
	)

	start := time.Now()
	out, err := cmd.CombinedOutput()
	if err != nil {
		return commandError("scanner", err, out)
	}

	c.logger.Info("Scanner finished",
		slog.Int64("job_id", req.JobID),
		slog.Duration("duration", time.Since(start)),
	)
	return nil
}

func (c *Command) checkout(ctx context.Context, req Request) (string, error) {
	if err := os.MkdirAll(c.config.CheckoutDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create checkout dir: %w", err)
	}

	dir := filepath.Join(c.config.CheckoutDir, "job-"+strconv.FormatInt(req.JobID, 10))
	// a previous attempt may have left a partial checkout behind
	if err := os.RemoveAll(dir); err != nil {
		return "", fmt.Errorf("failed to clear checkout dir: %w", err)
	}

	args := []string{"clone", "--depth", "1"}
	if req.GitBranch != "" {
		args = append(args, "--branch", req.GitBranch)
	}
	args = append(args, req.GitURL, dir)

	c.logger.Info("Cloning repository",
		slog.Int64("job_id", req.JobID),
		slog.String("git_url", req.GitURL),
		slog.String("branch", req.GitBranch),
	)

	cmd := exec.CommandContext(ctx, c.config.GitBinary, args...)
	if out, err := cmd.CombinedOutput(); err != nil {
		return dir, commandError("git clone", err, out)
	}
	return dir, nil
}

func (c *Command) cleanup(dir string) {
	if err := os.RemoveAll(dir); err != nil {
		c.logger.Warn("Failed to remove checkout",
			slog.String("dir", dir),
			slog.Any("error", err),
		)
	}
}

func scanEnv(req Request, dir string) []string {
	return []string{
		"LINEAGE_REPO_PATH=" + dir,
		"LINEAGE_GIT_URL=" + req.GitURL,
		"LINEAGE_GIT_BRANCH=" + req.GitBranch,
		"LINEAGE_CONN_NAME=" + req.ConnName,
		"LINEAGE_OWNER=" + req.Owner,
		"LINEAGE_RUN_ID=" + req.RunID,
		"LINEAGE_RUN_STARTED_AT=" + req.RunStartedAt.UTC().Format(time.RFC3339),
	}
}

func commandError(what string, err error, out []byte) error {
	tail := bytes.TrimSpace(out)
	if len(tail) > outputTail {
		tail = tail[len(tail)-outputTail:]
		// start on a rune boundary
		for len(tail) > 0 && !utf8.RuneStart(tail[0]) {
			tail = tail[1:]
		}
	}
	if len(tail) == 0 {
		return fmt.Errorf("%s failed: %w", what, err)
	}
	// the message ends up in a TEXT column, which rejects invalid UTF-8
	return fmt.Errorf("%s failed: %w: %s", what, err, bytes.ToValidUTF8(tail, []byte("\uFFFD")))
}
