// Package execstage runs a pipeline stage as an external shell command.
//
// The command receives a JSON request on stdin:
//
//	{"stage": "psf", "inputs": {...}, "params": {...}}
//
// and must print a single JSON object of outputs on stdout. A non-zero exit
// status fails the stage.
package execstage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"time"

	"github.com/lucasnoah/imgchar/internal/stage"
)

// DefaultTimeout bounds a stage command when no timeout is configured.
const DefaultTimeout = 10 * time.Minute

// CommandRunner abstracts command execution for testability.
type CommandRunner interface {
	Run(ctx context.Context, dir string, command string, stdin io.Reader) (stdout string, stderr string, exitCode int, err error)
}

// ExecRunner implements CommandRunner by shelling out.
type ExecRunner struct{}

func (e *ExecRunner) Run(ctx context.Context, dir string, command string, stdin io.Reader) (string, string, int, error) {
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = dir
	cmd.Stdin = stdin

	var stdoutBuf, stderrBuf strings.Builder
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf

	err := cmd.Run()
	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			return stdoutBuf.String(), stderrBuf.String(), -1, fmt.Errorf("exec: %w", err)
		}
	}
	return stdoutBuf.String(), stderrBuf.String(), exitCode, nil
}

// Request is the JSON document written to a stage command's stdin.
type Request struct {
	Stage  string         `json:"stage"`
	Inputs map[string]any `json:"inputs"`
	Params stage.Params   `json:"params"`
}

// Command is a stage.Impl that runs a shell command.
type Command struct {
	Stage   stage.ID
	Command string
	Dir     string
	Timeout time.Duration

	cmd CommandRunner
}

// New returns a Command for id. A nil runner uses ExecRunner.
func New(id stage.ID, command string, runner CommandRunner) *Command {
	if runner == nil {
		runner = &ExecRunner{}
	}
	return &Command{Stage: id, Command: command, cmd: runner}
}

// Invoke implements stage.Impl.
func (c *Command) Invoke(ctx context.Context, inputs map[string]any, params stage.Params) (map[string]any, error) {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := json.Marshal(Request{Stage: c.Stage.String(), Inputs: inputs, Params: params})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	stdout, stderr, exitCode, err := c.cmd.Run(ctx, c.Dir, c.Command, bytes.NewReader(req))
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("timeout after %s", timeout)
		}
		return nil, fmt.Errorf("run %q: %w", c.Command, err)
	}
	if exitCode != 0 {
		return nil, fmt.Errorf("exit status %d: %s", exitCode, tail(stderr, 512))
	}
	return decodeOutputs(stdout)
}

func decodeOutputs(stdout string) (map[string]any, error) {
	if strings.TrimSpace(stdout) == "" {
		return map[string]any{}, nil
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(stdout), &out); err != nil {
		return nil, fmt.Errorf("decode stage output: %w", err)
	}
	if out == nil {
		out = map[string]any{}
	}
	return out, nil
}

// tail returns at most the last n bytes of s, trimmed.
func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) > n {
		return "..." + s[len(s)-n:]
	}
	return s
}
