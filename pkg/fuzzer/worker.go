// Copyright 2025 topfuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package fuzzer

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	mrand "math/rand"
	"time"

	"github.com/topfuzz/topfuzz/pkg/crash"
	"github.com/topfuzz/topfuzz/pkg/flow"
	"github.com/topfuzz/topfuzz/pkg/log"
	"github.com/topfuzz/topfuzz/pkg/mutate"
	"github.com/topfuzz/topfuzz/pkg/tracer"
)

// Worker is one fuzzing thread. It owns its tracer handle, its per-byte
// exploration-speed vector and its own rand source; everything else it
// touches is the shared store.
type Worker struct {
	cfg        *Config
	stats      *Stats
	id         int
	exec       Executor
	targetSize int
	speed      mutate.Speed
	rnd        *mrand.Rand
	status     Status
}

func newWorker(cfg *Config, stats *Stats, id int, exec Executor) *Worker {
	return &Worker{
		cfg:        cfg,
		stats:      stats,
		id:         id,
		exec:       exec,
		targetSize: TargetSize(cfg, id),
		speed:      mutate.NewSpeed(TargetSize(cfg, id)),
		rnd:        mrand.New(mrand.NewSource(osSeed())),
		status:     Status{state: StateStopped},
	}
}

// osSeed seeds a worker's rand source from the OS entropy pool, so workers
// generate independent inputs. The engine's own rand source stays
// deterministic and separate.
func osSeed() int64 {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return time.Now().UnixNano()
	}
	return int64(binary.LittleEndian.Uint64(buf[:]))
}

// Status exposes the worker's status block.
func (w *Worker) Status() StatusSnapshot {
	return w.status.Get()
}

// TargetSize reports the input size this worker fuzzes at.
func (w *Worker) TargetSize() int {
	return w.targetSize
}

// loop runs the worker until cancellation. Contract violations in the
// core (empty traces where non-empty ones are required, size mismatches)
// are programmer errors; they terminate this worker with a diagnostic and
// leave the siblings running.
func (w *Worker) loop(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("contract violation: %v", r)
			log.Errorf("worker %v: %v", w.id, err)
			w.status.fail(err)
		}
	}()

	w.status.setState(StateInitializing)
	if err := w.initRun(ctx); err != nil {
		w.exit(err)
		return
	}
	w.status.setState(StateFuzzing)
	w.exit(w.fuzz(ctx))
}

func (w *Worker) exit(err error) {
	if err == nil || err == context.Canceled {
		w.status.setState(StateStopped)
		return
	}
	log.Errorf("worker %v: %v", w.id, err)
	w.status.fail(err)
}

// initRun bootstraps the shared store to at least two distinct
// executions. The first input is uniformly random; the second mutates the
// sole stored input by re-randomizing 10% to 60% of its bytes.
func (w *Worker) initRun(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return context.Canceled
		}
		slots, _ := w.cfg.Store.Snapshot()
		var have []flow.Execution
		for _, exec := range slots {
			if !exec.Empty() {
				have = append(have, exec)
			}
		}
		if len(have) >= 2 {
			return nil
		}

		var input flow.Input
		if len(have) == 0 {
			input = w.randomInput(w.targetSize)
		} else {
			input = w.resizeInput(have[0].Input, w.targetSize)
			w.flipBytes(input)
		}
		w.speed.Resize(len(input))

		res, err := w.runOnce(ctx, input)
		if err != nil {
			return err
		}
		if len(res.Trace) != 0 {
			if w.cfg.Store.TryInsert(flow.Execution{Input: input, Trace: res.Trace}) {
				w.stats.statInserts.Add(1)
				w.status.countUnique()
			}
		}
	}
}

// fuzz is the steady-state loop: pick a forbidden execution from the
// ring, descend the current input away from it, execute, insert, adjust
// the exploration speed.
func (w *Worker) fuzz(ctx context.Context) error {
	current := w.latestExecution()
	current.Input = w.resizeInput(current.Input, w.targetSize)

	for {
		if err := ctx.Err(); err != nil {
			return context.Canceled
		}

		forbidden, ok := w.pickForbidden()
		if !ok {
			return fmt.Errorf("no forbidden execution in a bootstrapped store")
		}
		forbidden.Input = w.resizeInput(forbidden.Input, w.targetSize)
		current.Input = w.resizeInput(current.Input, w.targetSize)
		w.speed.Resize(w.targetSize)

		input := mutate.Descend(w.cfg.Store.Graph(), forbidden, current, w.speed)

		res, err := w.runOnce(ctx, input)
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return context.Canceled
		}

		added := false
		if len(res.Trace) != 0 {
			added = w.cfg.Store.TryInsert(flow.Execution{Input: input, Trace: res.Trace})
		}
		if added {
			w.stats.statInserts.Add(1)
			w.status.countUnique()
			w.speed.Freeze(current.Input, input)
		}
		w.speed.Thaw()

		// A run that died before tracing anything leaves no trace to
		// descend from next round; keep the previous execution current.
		if len(res.Trace) != 0 {
			current = flow.Execution{Input: input, Trace: res.Trace}
		}
	}
}

// runOnce executes one input, accounts for it, and emits a crash artifact
// if the target died on a signal. Crashes are expected events; only
// tracer-level failures (fork/pipe/attach) are returned as errors.
func (w *Worker) runOnce(ctx context.Context, input flow.Input) (tracer.Result, error) {
	start := time.Now()
	res, err := w.exec.Run(ctx, input)
	if err != nil {
		if ctx.Err() != nil {
			return tracer.Result{}, context.Canceled
		}
		return tracer.Result{}, fmt.Errorf("execution failed: %w", err)
	}
	w.stats.statExecs.Add(1)
	w.stats.statExecTime.Add(int(time.Since(start).Milliseconds()))
	w.status.countExec()

	if res.Crashed {
		w.stats.statCrashes.Add(1)
		w.status.countCrash()
		info := &crash.Info{
			Signal:     res.Signal,
			TargetArgs: w.cfg.TargetArgs,
			Input:      input,
			Trace:      res.Trace,
			Graph:      w.cfg.Store.Graph().Clone(),
		}
		if path, err := crash.Save(info, w.cfg.WorkDir, w.id); err != nil {
			log.Errorf("worker %v: failed to save crash artifact: %v", w.id, err)
		} else {
			log.Logf(0, "worker %v: target crashed with signal %v, artifact %v", w.id, res.Signal, path)
		}
	}
	return res, nil
}

// pickForbidden selects a stored execution uniformly-ish: a random ring
// index, then the first occupied slot scanning forward from it.
func (w *Worker) pickForbidden() (flow.Execution, bool) {
	slots, _ := w.cfg.Store.Snapshot()
	start := w.rnd.Intn(len(slots))
	for i := 0; i < len(slots); i++ {
		exec := slots[(start+i)%len(slots)]
		if !exec.Empty() {
			return exec, true
		}
	}
	return flow.Execution{}, false
}

// latestExecution returns the most recently written slot (the one just
// behind the write index), falling back to any occupied slot.
func (w *Worker) latestExecution() flow.Execution {
	slots, writeIdx := w.cfg.Store.Snapshot()
	n := uint32(len(slots))
	for i := uint32(0); i < n; i++ {
		exec := slots[(writeIdx+n-1-i)%n]
		if !exec.Empty() {
			return exec
		}
	}
	panic("no execution in a bootstrapped store")
}

func (w *Worker) randomInput(n int) flow.Input {
	input := make(flow.Input, n)
	w.rnd.Read(input)
	return input
}

// resizeInput pads the input with random bytes (or truncates it) to n.
func (w *Worker) resizeInput(input flow.Input, n int) flow.Input {
	if len(input) == n {
		return input
	}
	resized := make(flow.Input, n)
	copied := copy(resized, input)
	if copied < n {
		w.rnd.Read(resized[copied:])
	}
	return resized
}

// flipBytes re-randomizes between 10% and 60% of the input's positions
// (at least one).
func (w *Worker) flipBytes(input flow.Input) {
	if len(input) == 0 {
		return
	}
	percent := 0.10 + w.rnd.Float64()*0.50
	count := int(float64(len(input)) * percent)
	if count == 0 {
		count = 1
	}
	chosen := make(map[int]bool, count)
	for len(chosen) < count {
		idx := w.rnd.Intn(len(input))
		if chosen[idx] {
			continue
		}
		chosen[idx] = true
		input[idx] = byte(w.rnd.Intn(256))
	}
}
