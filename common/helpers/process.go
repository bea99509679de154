package helpers

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"strings"
	"time"
)

/**
describes a single external process invocation
*/
type ProcessSpec struct {
	Argv    []string
	Dir     string
	Env     []string //appended to the current environment, may be nil
	Timeout time.Duration
}

func (s ProcessSpec) String() string {
	return fmt.Sprintf("'%s' in %s", strings.Join(s.Argv, " "), s.Dir)
}

type ProcessResult struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
}

/**
anything that can run an external process to completion.
the error return is reserved for failing to start or time out; a process that ran and exited non-zero
returns a nil error and a non-zero ExitCode
*/
type ProcessRunner interface {
	Run(ctx context.Context, spec ProcessSpec) (*ProcessResult, error)
}

/**
ProcessRunner implementation that uses os/exec
*/
type ExecRunner struct{}

func (r ExecRunner) Run(ctx context.Context, spec ProcessSpec) (*ProcessResult, error) {
	if len(spec.Argv) == 0 {
		return nil, fmt.Errorf("no command given to run in %s", spec.Dir)
	}
	if spec.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, spec.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, spec.Argv[0], spec.Argv[1:]...)
	cmd.Dir = spec.Dir
	if spec.Env != nil {
		cmd.Env = append(os.Environ(), spec.Env...)
	}
	return RunCommand(ctx, cmd)
}

/**
helper function to run the given command and capture output
*/
func RunCommand(ctx context.Context, cmd *exec.Cmd) (*ProcessResult, error) {
	log.Print("DEBUG: exec command is ", cmd)
	var outBuf bytes.Buffer
	var errBuf bytes.Buffer
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf

	startErr := cmd.Start()
	if startErr != nil {
		log.Print("Could not start command: ", startErr)
		return nil, startErr
	}

	completeErr := cmd.Wait()
	result := &ProcessResult{
		Stdout: outBuf.Bytes(),
		Stderr: errBuf.Bytes(),
	}

	if ctx.Err() == context.DeadlineExceeded {
		log.Printf("ERROR: %s timed out", cmd)
		return result, fmt.Errorf("command %s timed out: %w", cmd, ctx.Err())
	}

	if completeErr != nil {
		exitErr, isExitError := completeErr.(*exec.ExitError)
		if isExitError {
			log.Print("Failure code: ", exitErr)
			log.Printf("Subprocess exited with an error: \n%s", errBuf.String())
			result.ExitCode = exitErr.ExitCode()
			return result, nil
		} else {
			log.Print("Could not run subprocess: ", completeErr)
			return result, completeErr
		}
	}

	return result, nil
}
