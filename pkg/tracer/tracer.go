// Copyright 2025 topfuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package tracer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"syscall"

	"github.com/topfuzz/topfuzz/pkg/crash"
	"github.com/topfuzz/topfuzz/pkg/flow"
	"github.com/topfuzz/topfuzz/pkg/osutil"
)

// Config describes how to spawn the target under the DBI tracer.
type Config struct {
	Drrun      string   // path to the drrun launcher
	TracerLib  string   // path to the tracer client library
	Target     string   // path to the target program
	TargetArgs []string // extra target arguments
	MaxEntries int      // trace capacity, DefaultMaxEntries if zero
	Redirect   string   // file receiving target stdout/stderr, /dev/null if empty
}

// Result of one target run.
type Result struct {
	Trace   flow.Trace
	Crashed bool
	Signal  int32
}

// Handle is one worker's persistent connection to its tracer: the mapped
// region plus the canonical argument vector. Handles are not safe for
// concurrent use; each worker owns exactly one.
type Handle struct {
	region *Region
	argv   []string
	cfg    Config
}

// BuildArgv assembles the canonical invocation:
// <drrun> -c <tracer-lib> -shm <shm-name> -- <target> [target-args...]
func BuildArgv(cfg Config, shmName string) []string {
	argv := []string{cfg.Drrun, "-c", cfg.TracerLib, "-shm", shmName, "--", cfg.Target}
	return append(argv, cfg.TargetArgs...)
}

// NewHandle creates or reuses the worker's region and prepares the
// argument vector.
func NewHandle(workerID int, cfg Config) (*Handle, error) {
	if cfg.MaxEntries == 0 {
		cfg.MaxEntries = DefaultMaxEntries
	}
	if cfg.Redirect == "" {
		cfg.Redirect = os.DevNull
	}
	name := RegionName(workerID)
	region, err := OpenRegion(name, cfg.MaxEntries)
	if err != nil {
		return nil, err
	}
	return &Handle{
		region: region,
		argv:   BuildArgv(cfg, name),
		cfg:    cfg,
	}, nil
}

// Argv returns the full invocation vector.
func (h *Handle) Argv() []string {
	return h.argv
}

// TargetArgs returns the argument vector after the "--" separator,
// the form recorded in crash artifacts.
func (h *Handle) TargetArgs() []string {
	for i, arg := range h.argv {
		if arg == "--" {
			return h.argv[i+1:]
		}
	}
	return nil
}

// Run executes the target once with the given input on stdin and returns
// the recorded trace. A signal-terminated child is a crash, not an error.
// The input is written from a separate goroutine, so inputs larger than
// the pipe buffer cannot deadlock the parent. On context cancellation the
// child is killed and reaped before returning.
func (h *Handle) Run(ctx context.Context, input flow.Input) (Result, error) {
	if h.region == nil {
		return Result{}, fmt.Errorf("tracer handle is closed")
	}
	h.region.ClearCount()

	cmd := osutil.Command(h.argv[0], h.argv[1:]...)
	redirect, err := os.OpenFile(h.cfg.Redirect, os.O_CREATE|os.O_WRONLY|os.O_APPEND, osutil.DefaultFilePerm)
	if err != nil {
		return Result{}, fmt.Errorf("failed to open redirect file: %w", err)
	}
	defer redirect.Close()
	cmd.Stdout = redirect
	cmd.Stderr = redirect

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return Result{}, fmt.Errorf("failed to create stdin pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		stdin.Close()
		return Result{}, fmt.Errorf("failed to start %v: %w", h.argv[0], err)
	}
	go func() {
		stdin.Write(input)
		stdin.Close()
	}()

	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
	}()
	var waitErr error
	select {
	case waitErr = <-done:
	case <-ctx.Done():
		// Kill the whole process group (drrun plus target) and reap.
		syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		<-done
		return Result{}, ctx.Err()
	}

	res := Result{}
	if sig, ok := crash.ExitSignal(waitErr); ok {
		res.Crashed = true
		res.Signal = sig
	} else if waitErr != nil {
		var ee *exec.ExitError
		if !errors.As(waitErr, &ee) {
			return Result{}, fmt.Errorf("failed to run target: %w", waitErr)
		}
		// Non-zero exits are normal for a fuzzed target.
	}

	// The child is reaped, so the count write happened-before this read.
	res.Trace = h.region.ReadTrace()
	return res, nil
}

// Close detaches from the shared region.
func (h *Handle) Close() error {
	if h.region == nil {
		return nil
	}
	err := h.region.Close()
	h.region = nil
	return err
}
