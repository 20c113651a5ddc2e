// Copyright 2025 topfuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package config holds the effective run settings and their validation.
// Values come from the CLI; nothing here affects the core algorithms
// except as the parameters the components already take.
package config

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/topfuzz/topfuzz/pkg/knowledge"
	"github.com/topfuzz/topfuzz/pkg/osutil"
)

// Settings is the full configuration of one run.
type Settings struct {
	Target     string   // target program to fuzz
	TargetArgs []string // extra target arguments

	MinLen  int // minimum input length
	MaxLen  int // maximum input length
	StepLen int // per-worker input length step

	Workers    int // number of fuzzer workers
	MaxHistory int // knowledge ring capacity

	TracerLib string // path to the DBI tracer client library
	DrrunPath string // path to the drrun launcher

	WorkDir  string // checkpoints and crash artifacts land here
	SeedDir  string // optional directory of seed inputs
	Redirect string // target stdout/stderr destination

	RefreshPeriod time.Duration // dashboard refresh period
	Plain         bool          // disable the dashboard, log to stdout
	MetricsAddr   string        // optional prometheus listen address
	Verbosity     int
}

// Default returns the settings that the CLI starts from.
func Default() *Settings {
	return &Settings{
		Workers:       1,
		MaxHistory:    100,
		TracerLib:     "./libtracer.so",
		DrrunPath:     "drrun",
		WorkDir:       "./fuzzer_output",
		Redirect:      "/dev/null",
		RefreshPeriod: 50 * time.Millisecond,
	}
}

// Validate checks the settings and creates the work directory.
func (cfg *Settings) Validate() error {
	if cfg.Target == "" {
		return fmt.Errorf("target program is required")
	}
	if cfg.MinLen <= 0 || cfg.MaxLen <= 0 {
		return fmt.Errorf("input lengths must be positive")
	}
	if cfg.MinLen > cfg.MaxLen {
		return fmt.Errorf("min input length %v exceeds max %v", cfg.MinLen, cfg.MaxLen)
	}
	if cfg.StepLen < 0 {
		return fmt.Errorf("step length cannot be negative")
	}
	if cfg.Workers < 1 {
		return fmt.Errorf("worker count must be at least 1")
	}
	if cfg.MaxHistory < 1 {
		return fmt.Errorf("history capacity must be at least 1")
	}
	if cfg.RefreshPeriod <= 0 {
		return fmt.Errorf("refresh period must be positive")
	}
	if osutil.IsExist(cfg.WorkDir) && !osutil.IsDir(cfg.WorkDir) {
		return fmt.Errorf("work directory path %v exists but is not a directory", cfg.WorkDir)
	}
	if err := osutil.MkdirAll(cfg.WorkDir); err != nil {
		return fmt.Errorf("failed to create work directory: %w", err)
	}
	if cfg.SeedDir != "" && !osutil.IsDir(cfg.SeedDir) {
		return fmt.Errorf("seed directory %v does not exist", cfg.SeedDir)
	}
	return nil
}

// CheckpointPath is the fixed checkpoint location inside the work dir.
func (cfg *Settings) CheckpointPath() string {
	return filepath.Join(cfg.WorkDir, "knowledge_checkpoint.knowledge")
}

// Meta converts the settings into the header serialized with checkpoints.
func (cfg *Settings) Meta() knowledge.Meta {
	return knowledge.Meta{
		MinLen:     uint32(cfg.MinLen),
		MaxLen:     uint32(cfg.MaxLen),
		StepLen:    uint32(cfg.StepLen),
		Workers:    uint32(cfg.Workers),
		MaxHistory: uint32(cfg.MaxHistory),
		Target:     cfg.Target,
		TracerLib:  cfg.TracerLib,
		DrrunPath:  cfg.DrrunPath,
		WorkDir:    cfg.WorkDir,
	}
}
