package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/xtxerr/taucorr/internal/config"
	"github.com/xtxerr/taucorr/internal/driver"
	"github.com/xtxerr/taucorr/internal/errors"
	"github.com/xtxerr/taucorr/internal/logging"
	"github.com/xtxerr/taucorr/internal/metrics"
	"github.com/xtxerr/taucorr/internal/parquet"
)

type runFlags struct {
	steps         int64
	outDir        string
	checkpointDir string
	resumeDir     string
	metricsFile   string
	finalize      bool
}

func newRunCmd(g *globalFlags) *cobra.Command {
	f := &runFlags{}

	cmd := &cobra.Command{
		Use:   "run <config.yaml>",
		Short: "run the correlators of a configuration",
		Long: `
Sample the observables of a configuration for the configured number of
steps, feed the correlators and write one Parquet result table per
correlator. Interrupting a run writes a checkpoint when a checkpoint
directory is set; --resume continues from it.
`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCorrelators(cmd, g, f, args[0])
		},
	}

	flags := cmd.Flags()
	flags.Int64Var(&f.steps, "steps", 0, "number of steps (overrides config)")
	flags.StringVar(&f.outDir, "out", "", "result directory (overrides config)")
	flags.StringVar(&f.checkpointDir, "checkpoint-dir", "", "checkpoint directory (overrides config)")
	flags.StringVar(&f.resumeDir, "resume", "", "resume from the checkpoint in this directory")
	flags.StringVar(&f.metricsFile, "metrics-file", "", "write Prometheus metrics to this file (overrides config)")
	flags.BoolVar(&f.finalize, "finalize", false, "drain the correlators before export")
	return cmd
}

func runCorrelators(cmd *cobra.Command, g *globalFlags, f *runFlags, path string) error {
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	levelName := cfg.Log.Level
	if flags.Changed("log-level") {
		levelName = g.logLevel
	}
	level, err := logging.ParseLevel(levelName)
	if err != nil {
		return err
	}
	logging.InitWithWriter(cmd.ErrOrStderr(), level, g.logJSON || cfg.Log.JSON)

	if flags.Changed("steps") {
		if f.steps < 1 {
			return errors.NewInvalidValue("steps", f.steps, "must be >= 1")
		}
		cfg.Steps = int(f.steps)
	}
	if f.outDir != "" {
		cfg.Output.Dir = f.outDir
	}
	if f.checkpointDir != "" {
		cfg.Output.CheckpointDir = f.checkpointDir
	}
	if f.metricsFile != "" {
		cfg.Output.MetricsFile = f.metricsFile
	}
	if f.finalize {
		cfg.Output.Finalize = true
	}

	opts := parquet.DefaultOptions()
	opts.Compression = parquet.ParseCompressionType(cfg.Output.Compression)

	m := metrics.New()
	d, err := driver.FromConfig(cfg, m)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logging.ContextWithRunID(ctx, strconv.FormatInt(time.Now().UnixNano(), 36))
	log := logging.WithContext(ctx)

	if f.resumeDir != "" {
		if err := d.Resume(f.resumeDir); err != nil {
			return err
		}
	}

	remaining := max(int64(cfg.Steps)-d.Steps(), 0)
	if err := d.Run(ctx, remaining); err != nil {
		if ctx.Err() != nil && cfg.Output.CheckpointDir != "" {
			// Interrupted: keep the progress for --resume.
			if cerr := d.Checkpoint(context.Background(), cfg.Output.CheckpointDir); cerr != nil {
				log.Error("checkpoint after interrupt failed", "error", cerr)
			}
		}
		return err
	}

	if cfg.Output.Finalize {
		if err := d.Finalize(); err != nil {
			return err
		}
	}

	paths, err := d.Export(ctx, cfg.Output.Dir, opts)
	if err != nil {
		return err
	}

	if cfg.Output.CheckpointDir != "" {
		if err := d.Checkpoint(ctx, cfg.Output.CheckpointDir); err != nil {
			return err
		}
	}

	if cfg.Output.MetricsFile != "" {
		if err := m.WriteFile(cfg.Output.MetricsFile); err != nil {
			return fmt.Errorf("write metrics: %w", err)
		}
	}

	log.Info("run complete", "steps", d.Steps(), "results", len(paths), "dir", cfg.Output.Dir)

	out := cmd.OutOrStdout()
	stats := d.Stats()
	rows := make([][]string, len(stats))
	for i, s := range stats {
		rows[i] = []string{
			s.Name,
			s.Observable,
			s.ObservableB,
			strconv.FormatUint(s.Frames, 10),
			strconv.Itoa(s.Depth),
			fmt.Sprintf("%d/%d", s.FilledLags, s.Lags),
			paths[i],
		}
	}
	render(out, []string{"correlator", "a", "b", "frames", "depth", "lags", "file"}, rows)

	if summaries := d.Summaries(); len(summaries) > 0 {
		fmt.Fprintln(out)
		header, rows := summaryTable(summaries)
		render(out, header, rows)
	}
	return nil
}
