package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/teemow/inboxagent/internal/logging"
)

// ErrTimeout is wrapped by invocations that ran past their deadline.
var ErrTimeout = errors.New("agent invocation timed out")

// Environment variables set for the agent process.
const (
	EnvRunID          = "INBOXAGENT_RUN_ID"
	EnvConversationID = "INBOXAGENT_CONVERSATION_ID"
)

// logsDir matches router.LogsDir.
const logsDir = "logs"

// CommandExecutor runs an external command per invocation. The Request is
// written to stdin as JSON and a Result is read from stdout. Stderr is
// appended to <workspace>/logs/<run-id>.log.
type CommandExecutor struct {
	command string
	args    []string
	logger  *slog.Logger

	// waitDelay bounds how long Run waits for I/O after the process is killed.
	waitDelay time.Duration
}

var _ Executor = (*CommandExecutor)(nil)

// NewCommandExecutor creates an executor for command with args.
func NewCommandExecutor(command string, args []string, logger *slog.Logger) (*CommandExecutor, error) {
	if strings.TrimSpace(command) == "" {
		return nil, &Error{Op: "initialize", Err: fmt.Errorf("agent command is not configured")}
	}
	if _, err := exec.LookPath(command); err != nil {
		return nil, &Error{Op: "initialize", Err: fmt.Errorf("agent command %q not found: %w", command, err)}
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &CommandExecutor{
		command:   command,
		args:      args,
		logger:    logging.WithComponent(logger, "agent"),
		waitDelay: 5 * time.Second,
	}, nil
}

// Invoke runs the command for req. A missing RunID is generated.
func (e *CommandExecutor) Invoke(ctx context.Context, req Request) (Result, error) {
	if req.RunID == "" {
		req.RunID = uuid.NewString()
	}
	if req.Workspace == "" {
		return Result{}, &Error{Op: "start", RunID: req.RunID, Err: fmt.Errorf("workspace is required")}
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return Result{}, &Error{Op: "encode", RunID: req.RunID, Err: err}
	}

	logPath := filepath.Join(req.Workspace, logsDir, req.RunID+".log")
	if err := os.MkdirAll(filepath.Dir(logPath), 0o700); err != nil {
		return Result{}, &Error{Op: "start", RunID: req.RunID, Err: err}
	}
	logFile, err := os.OpenFile(logPath, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o600)
	if err != nil {
		return Result{}, &Error{Op: "start", RunID: req.RunID, Err: fmt.Errorf("opening run log: %w", err)}
	}
	defer logFile.Close()

	cmd := exec.CommandContext(ctx, e.command, e.args...)
	cmd.Dir = req.Workspace
	cmd.Env = append(os.Environ(),
		EnvRunID+"="+req.RunID,
		EnvConversationID+"="+req.ConversationID,
	)
	cmd.WaitDelay = e.waitDelay

	var stdout bytes.Buffer
	cmd.Stdin = bytes.NewReader(payload)
	cmd.Stdout = &stdout
	cmd.Stderr = logFile

	start := time.Now()
	err = cmd.Run()
	duration := time.Since(start)

	if ctxErr := ctx.Err(); ctxErr != nil {
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			ctxErr = fmt.Errorf("%w after %s", ErrTimeout, duration.Round(time.Millisecond))
		}
		return Result{}, &Error{Op: "run", RunID: req.RunID, Err: ctxErr}
	}
	if err != nil {
		return Result{}, &Error{Op: "run", RunID: req.RunID, Err: fmt.Errorf("%w (see %s)", err, logPath)}
	}

	var res Result
	if err := json.Unmarshal(bytes.TrimSpace(stdout.Bytes()), &res); err != nil {
		return Result{}, &Error{Op: "decode", RunID: req.RunID, Err: fmt.Errorf("invalid result JSON: %w", err)}
	}
	if err := res.Validate(); err != nil {
		return Result{}, &Error{Op: "decode", RunID: req.RunID, Err: err}
	}

	e.logger.DebugContext(ctx, "agent run finished",
		logging.RunID(req.RunID),
		logging.Status(res.Status),
		"duration_ms", duration.Milliseconds(),
	)
	return res, nil
}
