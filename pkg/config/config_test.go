// Copyright 2025 topfuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validSettings(t *testing.T) *Settings {
	cfg := Default()
	cfg.Target = "./target"
	cfg.MinLen = 4
	cfg.MaxLen = 16
	cfg.StepLen = 2
	cfg.WorkDir = filepath.Join(t.TempDir(), "out")
	return cfg
}

func TestValidateCreatesWorkDir(t *testing.T) {
	cfg := validSettings(t)
	require.NoError(t, cfg.Validate())
	assert.DirExists(t, cfg.WorkDir)
	assert.Equal(t, filepath.Join(cfg.WorkDir, "knowledge_checkpoint.knowledge"), cfg.CheckpointPath())
}

func TestValidateRejectsBadSettings(t *testing.T) {
	for _, tweak := range []func(*Settings){
		func(cfg *Settings) { cfg.Target = "" },
		func(cfg *Settings) { cfg.MinLen = 0 },
		func(cfg *Settings) { cfg.MinLen = 20 }, // above MaxLen
		func(cfg *Settings) { cfg.StepLen = -1 },
		func(cfg *Settings) { cfg.Workers = 0 },
		func(cfg *Settings) { cfg.MaxHistory = 0 },
		func(cfg *Settings) { cfg.RefreshPeriod = 0 },
		func(cfg *Settings) { cfg.SeedDir = filepath.Join(cfg.WorkDir, "missing") },
	} {
		cfg := validSettings(t)
		tweak(cfg)
		assert.Error(t, cfg.Validate())
	}
}

func TestMetaMirrorsSettings(t *testing.T) {
	cfg := validSettings(t)
	meta := cfg.Meta()
	assert.EqualValues(t, cfg.MinLen, meta.MinLen)
	assert.EqualValues(t, cfg.MaxLen, meta.MaxLen)
	assert.EqualValues(t, cfg.StepLen, meta.StepLen)
	assert.EqualValues(t, cfg.Workers, meta.Workers)
	assert.EqualValues(t, cfg.MaxHistory, meta.MaxHistory)
	assert.Equal(t, cfg.Target, meta.Target)
	assert.Equal(t, cfg.WorkDir, meta.WorkDir)
}
