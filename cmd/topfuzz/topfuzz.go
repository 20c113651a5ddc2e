// Copyright 2025 topfuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// topfuzz is a directional fuzzer for native executables: it runs the
// target under a DBI tracer, learns Node2Vec embeddings over the observed
// control-flow graph, and mutates inputs by gradient descent away from
// already-explored executions.
package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/topfuzz/topfuzz/pkg/config"
	"github.com/topfuzz/topfuzz/pkg/embed"
	"github.com/topfuzz/topfuzz/pkg/fuzzer"
	"github.com/topfuzz/topfuzz/pkg/knowledge"
	"github.com/topfuzz/topfuzz/pkg/log"
	"github.com/topfuzz/topfuzz/pkg/osutil"
	"github.com/topfuzz/topfuzz/pkg/seed"
	"github.com/topfuzz/topfuzz/pkg/tracer"
	"github.com/topfuzz/topfuzz/pkg/tui"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cfg := config.Default()
	cmd := &cobra.Command{
		Use:           "topfuzz",
		Short:         "An experimental directional fuzzing framework",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg.TargetArgs = args
			if err := cfg.Validate(); err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&cfg.Target, "target", "", "path to target program to fuzz")
	flags.IntVar(&cfg.MinLen, "min-length", 0, "minimum input length to write to stdin of target program")
	flags.IntVar(&cfg.MaxLen, "max-length", 0, "maximum input length to write to stdin of target program")
	flags.IntVar(&cfg.StepLen, "step-length", 0, "step size between minimum and maximum input length")
	flags.IntVar(&cfg.Workers, "thread-count", cfg.Workers, "number of fuzzer workers to spawn")
	flags.IntVar(&cfg.MaxHistory, "max-history-count", cfg.MaxHistory, "maximum number of interesting historical inputs to store")
	flags.StringVar(&cfg.TracerLib, "tracer", cfg.TracerLib, "path to the tracer client library")
	flags.StringVar(&cfg.DrrunPath, "drrun", cfg.DrrunPath, "path to the drrun executable")
	flags.StringVar(&cfg.WorkDir, "work-dir", cfg.WorkDir, "directory for checkpoints and crash artifacts")
	flags.StringVar(&cfg.SeedDir, "seed-path", "", "directory containing seed inputs to load into history")
	flags.StringVar(&cfg.Redirect, "stdout-redirect", cfg.Redirect, "redirect target program stdout/stderr to this file")
	flags.DurationVar(&cfg.RefreshPeriod, "ui-update-freq", cfg.RefreshPeriod, "dashboard update period")
	flags.BoolVar(&cfg.Plain, "plain", false, "disable the dashboard and log to stdout")
	flags.StringVar(&cfg.MetricsAddr, "metrics-addr", "", "serve prometheus metrics on this address (e.g. :9090)")
	flags.IntVar(&cfg.Verbosity, "vv", 0, "verbosity")
	cobra.CheckErr(cmd.MarkFlagRequired("target"))
	cobra.CheckErr(cmd.MarkFlagRequired("min-length"))
	cobra.CheckErr(cmd.MarkFlagRequired("max-length"))
	cobra.CheckErr(cmd.MarkFlagRequired("step-length"))
	return cmd
}

func run(baseCtx context.Context, cfg *config.Settings) error {
	log.SetVerbosity(cfg.Verbosity)
	log.EnableLogCaching(256, 1<<20)

	store := openStore(cfg)
	store.SetCheckpointPath(cfg.CheckpointPath())

	handles := make([]*tracer.Handle, cfg.Workers)
	executors := make([]fuzzer.Executor, cfg.Workers)
	for i := range handles {
		h, err := tracer.NewHandle(i, tracer.Config{
			Drrun:      cfg.DrrunPath,
			TracerLib:  cfg.TracerLib,
			Target:     cfg.Target,
			TargetArgs: cfg.TargetArgs,
			Redirect:   cfg.Redirect,
		})
		if err != nil {
			return fmt.Errorf("worker %v: %w", i, err)
		}
		defer h.Close()
		handles[i] = h
		executors[i] = h
	}

	ctx, cancel := context.WithCancel(baseCtx)
	defer cancel()
	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		go func() {
			if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
				log.Errorf("metrics server failed: %v", err)
			}
		}()
	}
	osutil.HandleInterrupts(func(sig os.Signal) {
		log.Logf(0, "received %v, shutting down", sig)
		cancel()
	})

	if cfg.SeedDir != "" {
		if _, err := seed.LoadDir(ctx, cfg.SeedDir, cfg.MaxLen, store, executors[0]); err != nil {
			return err
		}
	}

	pool := fuzzer.NewPool(&fuzzer.Config{
		Store:      store,
		WorkDir:    cfg.WorkDir,
		TargetArgs: handles[0].TargetArgs(),
		MinLen:     cfg.MinLen,
		MaxLen:     cfg.MaxLen,
		StepLen:    cfg.StepLen,
	}, executors)

	if cfg.Plain {
		log.Logf(0, "fuzzing %v with %v workers", cfg.Target, cfg.Workers)
		return pool.Run(ctx)
	}

	// The dashboard owns the terminal; keep the log in the cache only.
	log.SuppressOutput(io.Discard)
	prog := tea.NewProgram(tui.New(pool, cfg.RefreshPeriod, cancel), tea.WithAltScreen())
	go func() {
		<-ctx.Done()
		prog.Quit()
	}()
	done := make(chan error, 1)
	go func() {
		done <- pool.Run(ctx)
	}()
	if _, err := prog.Run(); err != nil {
		log.Errorf("dashboard failed: %v", err)
	}
	cancel()
	return <-done
}

// openStore resumes from the checkpoint when a compatible one exists,
// otherwise starts empty.
func openStore(cfg *config.Settings) *knowledge.Store {
	path := cfg.CheckpointPath()
	if osutil.IsExist(path) {
		store, err := knowledge.Load(path)
		if err != nil {
			log.Logf(0, "abandoning checkpoint: %v", err)
		} else if store.Capacity() != cfg.MaxHistory {
			log.Logf(0, "abandoning checkpoint: capacity %v does not match configured %v",
				store.Capacity(), cfg.MaxHistory)
		} else {
			log.Logf(0, "resumed from checkpoint %v (%v executions)", path, store.Count())
			return store
		}
	}
	return knowledge.NewStore(cfg.Meta(), embed.NewGraph(embed.DefaultParams()))
}
