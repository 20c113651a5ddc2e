// Copyright 2025 topfuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package fuzzer drives the fuzzing loop: every worker owns a tracer
// handle and an exploration-speed vector, bootstraps the shared knowledge
// store, and then repeatedly descends away from a forbidden execution
// picked from the ring. Workers share nothing but the store and the
// cancellation context.
package fuzzer

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/topfuzz/topfuzz/pkg/flow"
	"github.com/topfuzz/topfuzz/pkg/knowledge"
	"github.com/topfuzz/topfuzz/pkg/stat"
	"github.com/topfuzz/topfuzz/pkg/tracer"
)

// Executor runs the target once. The real implementation is
// tracer.Handle; tests substitute deterministic fakes.
type Executor interface {
	Run(ctx context.Context, input flow.Input) (tracer.Result, error)
}

// Config is shared by all workers of a run.
type Config struct {
	Store      *knowledge.Store
	WorkDir    string   // receives crash artifacts
	TargetArgs []string // recorded in crash artifacts
	MinLen     int
	MaxLen     int
	StepLen    int
}

// TargetSize computes the worker's input size:
// clamp(min + step*id, min, max). Workers cover a spread of sizes so the
// run explores several input lengths at once.
func TargetSize(cfg *Config, workerID int) int {
	size := cfg.MinLen + cfg.StepLen*workerID
	if size < cfg.MinLen {
		size = cfg.MinLen
	}
	if size > cfg.MaxLen {
		size = cfg.MaxLen
	}
	return size
}

// Stats are the run-global metrics, exported via pkg/stat.
type Stats struct {
	statExecs    *stat.Val
	statCrashes  *stat.Val
	statInserts  *stat.Val
	statCorpus   *stat.Val
	statExecTime *stat.Val
}

func newStats(store *knowledge.Store) Stats {
	return Stats{
		statExecs: stat.New("executions", "Total target executions", stat.Console,
			stat.Rate{}, stat.Prometheus("topfuzz_executions_total")),
		statCrashes: stat.New("crashes", "Target crashes observed", stat.Console,
			stat.Prometheus("topfuzz_crashes_total")),
		statInserts: stat.New("corpus inserts", "Executions with a new distinct trace", stat.Simple,
			stat.Prometheus("topfuzz_corpus_inserts_total")),
		statCorpus: stat.New("corpus size", "Occupied knowledge ring slots", stat.Console,
			func() int { return store.Count() }, stat.Prometheus("topfuzz_corpus_size")),
		statExecTime: stat.New("exec time ms", "Target execution latency", stat.All,
			stat.Distribution{}),
	}
}

// State of one worker, surfaced to the dashboard.
type State string

const (
	StateStopped      State = "stopped"
	StateInitializing State = "initializing"
	StateFuzzing      State = "fuzzing"
	StateFailed       State = "failed"
)

// Status is a worker's mutable status block, read by the dashboard.
type Status struct {
	mu         sync.Mutex
	state      State
	executions int
	crashes    int
	uniques    int
	lastErr    string
}

type StatusSnapshot struct {
	State      State
	Executions int
	Crashes    int
	Uniques    int
	LastErr    string
}

func (s *Status) Get() StatusSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return StatusSnapshot{
		State:      s.state,
		Executions: s.executions,
		Crashes:    s.crashes,
		Uniques:    s.uniques,
		LastErr:    s.lastErr,
	}
}

func (s *Status) setState(state State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
}

func (s *Status) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateFailed
	s.lastErr = err.Error()
}

func (s *Status) countExec() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.executions++
}

func (s *Status) countCrash() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.crashes++
}

func (s *Status) countUnique() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.uniques++
}

// Pool owns the run's workers.
type Pool struct {
	cfg     *Config
	stats   Stats
	workers []*Worker
}

// NewPool builds one worker per executor, with worker i bound to
// executors[i].
func NewPool(cfg *Config, executors []Executor) *Pool {
	pool := &Pool{
		cfg:   cfg,
		stats: newStats(cfg.Store),
	}
	for i, exec := range executors {
		pool.workers = append(pool.workers, newWorker(cfg, &pool.stats, i, exec))
	}
	return pool
}

// Run starts all workers and blocks until every one of them has stopped.
// A worker failing is not fatal to its siblings; only cancellation stops
// the run.
func (pool *Pool) Run(ctx context.Context) error {
	if len(pool.workers) == 0 {
		return fmt.Errorf("fuzzer pool has no workers")
	}
	var g errgroup.Group
	for _, w := range pool.workers {
		g.Go(func() error {
			w.loop(ctx)
			return nil
		})
	}
	return g.Wait()
}

// Statuses returns the status of every worker, indexed by worker id.
func (pool *Pool) Statuses() []StatusSnapshot {
	res := make([]StatusSnapshot, len(pool.workers))
	for i, w := range pool.workers {
		res[i] = w.status.Get()
	}
	return res
}
