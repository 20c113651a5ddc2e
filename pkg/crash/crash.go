// Copyright 2025 topfuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package crash captures everything needed to reproduce a target crash:
// the terminating signal, the target argument vector, the crashing input,
// the trace captured up to the crash, and a snapshot of the explored graph.
package crash

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/topfuzz/topfuzz/pkg/embed"
	"github.com/topfuzz/topfuzz/pkg/flow"
	"github.com/topfuzz/topfuzz/pkg/wire"
)

// Info is one crash artifact.
type Info struct {
	Signal     int32    // signal that terminated the target
	TargetArgs []string // argument vector after the "--" separator
	Input      flow.Input
	Trace      flow.Trace
	Graph      *embed.Graph // snapshot taken at crash time
}

// ExitSignal extracts the terminating signal from a Wait error.
// Returns false for normal exits (any code) and non-exit errors.
func ExitSignal(err error) (int32, bool) {
	var ee *exec.ExitError
	if !errors.As(err, &ee) {
		return 0, false
	}
	ws, ok := ee.Sys().(syscall.WaitStatus)
	if !ok || !ws.Signaled() {
		return 0, false
	}
	return int32(ws.Signal()), true
}

// Serialize writes the artifact in the fixed little-endian layout:
// endianness marker, signal, target args, input, trace, graph payload.
func (info *Info) Serialize(w io.Writer) error {
	if err := wire.WriteEndianness(w); err != nil {
		return err
	}
	if err := wire.WriteI32(w, info.Signal); err != nil {
		return err
	}
	if err := wire.WriteStringVector(w, info.TargetArgs); err != nil {
		return err
	}
	if err := wire.WriteBytes(w, info.Input); err != nil {
		return err
	}
	if err := wire.WriteU32Vector(w, info.Trace); err != nil {
		return err
	}
	return info.Graph.WritePayload(w)
}

// Deserialize reads an artifact written by Serialize.
// Files recorded on a system of the other endianness are refused.
func Deserialize(r io.Reader) (*Info, error) {
	if err := wire.ReadEndianness(r); err != nil {
		return nil, err
	}
	info := new(Info)
	var err error
	if info.Signal, err = wire.ReadI32(r); err != nil {
		return nil, fmt.Errorf("failed to read signal: %w", err)
	}
	if info.TargetArgs, err = wire.ReadStringVector(r); err != nil {
		return nil, fmt.Errorf("failed to read target args: %w", err)
	}
	if info.Input, err = wire.ReadBytes(r); err != nil {
		return nil, fmt.Errorf("failed to read input: %w", err)
	}
	if info.Trace, err = wire.ReadU32Vector(r); err != nil {
		return nil, fmt.Errorf("failed to read trace: %w", err)
	}
	if info.Graph, err = embed.ReadPayload(r); err != nil {
		return nil, err
	}
	return info, nil
}

// Save writes the artifact into dir under a unique name and returns the
// full path.
func Save(info *Info, dir string, workerID int) (string, error) {
	name := fmt.Sprintf("crash_w%v_sig%v_%v_%v.crash",
		workerID, info.Signal, time.Now().Format("20060102_150405"), uuid.NewString()[:8])
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	bw := bufio.NewWriter(f)
	if err := info.Serialize(bw); err != nil {
		f.Close()
		os.Remove(path)
		return "", err
	}
	if err := bw.Flush(); err != nil {
		f.Close()
		os.Remove(path)
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", err
	}
	return path, nil
}

// LoadFile reads an artifact file.
func LoadFile(path string) (*Info, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	info, err := Deserialize(bufio.NewReader(f))
	if err != nil {
		return nil, fmt.Errorf("crash artifact %v: %w", path, err)
	}
	return info, nil
}
