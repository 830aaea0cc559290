/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package runner executes external device-control tools with a bounded timeout.
package runner

//go:generate mockgen -destination=mock_runner.go -package=runner github.com/carverauto/devicefleet/pkg/runner CommandRunner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"
	"time"

	"github.com/carverauto/devicefleet/pkg/logger"
)

const outputWaitDelay = 2 * time.Second

// CommandStatus is the terminal outcome of an external command.
type CommandStatus string

const (
	StatusSuccess   CommandStatus = "SUCCESS"
	StatusFailed    CommandStatus = "FAILED"
	StatusTimedOut  CommandStatus = "TIMED_OUT"
	StatusException CommandStatus = "EXCEPTION"
)

// CommandResult carries the status and captured output of one invocation.
type CommandResult struct {
	Status   CommandStatus
	Stdout   string
	Stderr   string
	ExitCode int
}

// Succeeded reports whether the command exited with status zero in time.
func (r *CommandResult) Succeeded() bool {
	return r != nil && r.Status == StatusSuccess
}

// Output returns stdout followed by stderr.
func (r *CommandResult) Output() string {
	if r == nil {
		return ""
	}

	return r.Stdout + r.Stderr
}

// CommandRunner runs external processes. A timeout is always a failure, never a
// separate cancellation signal.
type CommandRunner interface {
	RunTimed(ctx context.Context, timeout time.Duration, name string, args ...string) *CommandResult
	RunTimedWithEnv(ctx context.Context, timeout time.Duration, env map[string]string, name string, args ...string) *CommandResult
}

// ExecRunner is the os/exec backed CommandRunner.
type ExecRunner struct {
	logger logger.Logger
}

// NewExecRunner returns a runner that logs every invocation at debug level.
func NewExecRunner(log logger.Logger) *ExecRunner {
	return &ExecRunner{logger: log}
}

func (r *ExecRunner) RunTimed(ctx context.Context, timeout time.Duration, name string, args ...string) *CommandResult {
	return r.RunTimedWithEnv(ctx, timeout, nil, name, args...)
}

func (r *ExecRunner) RunTimedWithEnv(
	ctx context.Context, timeout time.Duration, env map[string]string, name string, args ...string) *CommandResult {
	runCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc

		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, name, args...)
	// children that inherit stdout can outlive a killed parent
	cmd.WaitDelay = outputWaitDelay

	if len(env) > 0 {
		cmd.Env = append(os.Environ(), flattenEnv(env)...)
	}

	var stdout, stderr bytes.Buffer

	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()

	result := &CommandResult{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}

	var exitErr *exec.ExitError

	switch {
	case err == nil:
		result.Status = StatusSuccess
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		result.Status = StatusTimedOut
		result.ExitCode = -1
	case errors.As(err, &exitErr):
		result.Status = StatusFailed
		result.ExitCode = exitErr.ExitCode()
	case runCtx.Err() != nil:
		result.Status = StatusFailed
		result.ExitCode = -1
	default:
		result.Status = StatusException
		result.ExitCode = -1
		result.Stderr += fmt.Sprintf("%v", err)
	}

	r.logger.Debug().
		Str("command", name).
		Str("args", strings.Join(args, " ")).
		Str("status", string(result.Status)).
		Dur("elapsed", time.Since(start)).
		Msg("External command finished")

	return result
}

func flattenEnv(env map[string]string) []string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+env[k])
	}

	return out
}
