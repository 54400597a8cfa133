//go:build linux

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/opencar/watchdogd/pkg/collector"
	"github.com/opencar/watchdogd/pkg/config"
	"github.com/opencar/watchdogd/pkg/logutil"
	"github.com/opencar/watchdogd/pkg/profiler"
	"github.com/opencar/watchdogd/pkg/report"
	"github.com/opencar/watchdogd/pkg/stats"
)

type opts struct {
	configPath string

	topN             int
	topNProcesses    int
	periodicInterval time.Duration
	boottimeWindow   time.Duration
	procRoot         string
	textDumpPath     string
	protoDumpPath    string
}

func main() {
	var o opts

	root := &cobra.Command{
		Use:   "watchdogd",
		Short: "Performance profiling daemon",
		Long: `watchdogd periodically samples per-UID and system-wide resource usage
from procfs, reduces each sample to bounded top-N summaries per collection
context, and renders them as text or structured dumps.

Signals:
  SIGUSR1  write the text report to stdout
  SIGUSR2  toggle a custom collection; ending it prints its report
  SIGTERM  write the configured text and structured dumps, then exit`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), cmd, o)
		},
	}

	root.Flags().StringVarP(&o.configPath, "config", "c", "", "path to the YAML configuration file")
	root.Flags().IntVar(&o.topN, "top-n", profiler.DefaultTopNStatsPerCategory,
		"number of packages to rank per metric")
	root.Flags().IntVar(&o.topNProcesses, "top-n-processes", profiler.DefaultTopNStatsPerSubcategory,
		"number of processes to rank per package")
	root.Flags().DurationVarP(&o.periodicInterval, "interval", "i", time.Minute,
		"periodic collection interval (e.g. 30s, 1m)")
	root.Flags().DurationVar(&o.boottimeWindow, "boot-window", 30*time.Second,
		"how long after startup to run boot-time collections")
	root.Flags().StringVar(&o.procRoot, "proc-root", "/proc", "procfs mount point")
	root.Flags().StringVar(&o.textDumpPath, "text-dump", "", "shutdown text dump path")
	root.Flags().StringVar(&o.protoDumpPath, "proto-dump", "", "shutdown structured dump path")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logutil.InitLogger()
	defer logutil.Sync()

	if err := root.ExecuteContext(ctx); err != nil {
		logutil.GetLogger().Error("watchdogd exited with error", zap.Error(err))
		os.Exit(1)
	}
}

// mergeFlags applies explicitly set command-line flags over the loaded
// file configuration.
func mergeFlags(cfg *config.Config, cmd *cobra.Command, o opts) {
	if cmd.Flags().Changed("top-n") {
		cfg.TopNStatsPerCategory = o.topN
	}
	if cmd.Flags().Changed("top-n-processes") {
		cfg.TopNStatsPerSubcategory = o.topNProcesses
	}
	if cmd.Flags().Changed("interval") {
		cfg.PeriodicInterval = config.Duration(o.periodicInterval)
	}
	if cmd.Flags().Changed("boot-window") {
		cfg.BoottimeWindow = config.Duration(o.boottimeWindow)
	}
	if cmd.Flags().Changed("proc-root") {
		cfg.ProcRoot = o.procRoot
	}
	if cmd.Flags().Changed("text-dump") {
		cfg.TextDumpPath = o.textDumpPath
	}
	if cmd.Flags().Changed("proto-dump") {
		cfg.ProtoDumpPath = o.protoDumpPath
	}
}

func run(ctx context.Context, cmd *cobra.Command, o opts) error {
	log := logutil.GetLogger()

	cfg, err := config.Load(o.configPath)
	if err != nil {
		return err
	}
	mergeFlags(&cfg, cmd, o)
	if err := cfg.Validate(); err != nil {
		return err
	}

	prof, err := profiler.New(cfg.ProfilerConfig(), log)
	if err != nil {
		return err
	}
	uidC := collector.NewUIDStats(cfg.ProcRoot)
	procC := collector.NewProcStat(cfg.ProcRoot)

	prof.OnSystemStartup()
	log.Info("watchdogd started",
		zap.String("proc_root", cfg.ProcRoot),
		zap.Duration("boot_window", cfg.BoottimeWindow.Std()),
		zap.Duration("interval", cfg.PeriodicInterval.Std()))

	dumpCh := make(chan os.Signal, 1)
	signal.Notify(dumpCh, syscall.SIGUSR1)
	customCh := make(chan os.Signal, 1)
	signal.Notify(customCh, syscall.SIGUSR2)
	defer signal.Stop(dumpCh)
	defer signal.Stop(customCh)

	// Boot-time passes run on a tight ticker until the boot window
	// elapses, then the loop settles into the periodic interval.
	ticker := time.NewTicker(cfg.BoottimeInterval.Std())
	defer ticker.Stop()
	bootDeadline := time.Now().Add(cfg.BoottimeWindow.Std())
	booting := true
	custom := false

	collect := func(now time.Time) {
		var err error
		switch {
		case booting:
			err = prof.OnBoottimeCollection(now, uidC, procC)
		case custom:
			err = prof.OnCustomCollection(now, stats.NormalMode, nil, uidC, procC)
		default:
			err = prof.OnPeriodicCollection(now, stats.NormalMode, uidC, procC)
		}
		if err != nil {
			log.Warn("collection pass failed", zap.Error(err))
		}
	}

	for {
		select {
		case <-ctx.Done():
			log.Info("shutting down")
			return writeShutdownDumps(cfg, prof, log)

		case <-dumpCh:
			if err := prof.WriteDump(os.Stdout); err != nil {
				log.Warn("text dump failed", zap.Error(err))
			}

		case <-customCh:
			if custom {
				if err := prof.EndCustomCollection(os.Stdout); err != nil {
					log.Warn("custom collection dump failed", zap.Error(err))
				}
				custom = false
				log.Info("custom collection ended")
			} else if !booting {
				custom = true
				log.Info("custom collection started")
			}

		case now := <-ticker.C:
			if err := uidC.Collect(); err != nil {
				log.Warn("per-UID collection failed", zap.Error(err))
				continue
			}
			if err := procC.Collect(); err != nil {
				log.Warn("proc stat collection failed", zap.Error(err))
				continue
			}
			collect(now)
			if booting && now.After(bootDeadline) {
				booting = false
				ticker.Reset(cfg.PeriodicInterval.Std())
				log.Info("boot-time collection window ended")
			}
		}
	}
}

func intervals(cfg config.Config) report.CollectionIntervals {
	return report.CollectionIntervals{
		Boottime:   cfg.BoottimeInterval.Std(),
		WakeUp:     cfg.BoottimeInterval.Std(),
		UserSwitch: cfg.PeriodicInterval.Std(),
		Periodic:   cfg.PeriodicInterval.Std(),
		Custom:     cfg.PeriodicInterval.Std(),
	}
}

func writeShutdownDumps(cfg config.Config, prof *profiler.Profiler, log *zap.Logger) error {
	var firstErr error
	keep := func(path string, err error) {
		if err == nil {
			log.Info("wrote shutdown dump", zap.String("path", path))
			return
		}
		log.Error("failed to write shutdown dump", zap.String("path", path), zap.Error(err))
		if firstErr == nil {
			firstErr = err
		}
	}

	if cfg.TextDumpPath != "" {
		keep(cfg.TextDumpPath, dumpToFile(cfg.TextDumpPath, prof.WriteDump))
	}
	if cfg.ProtoDumpPath != "" {
		keep(cfg.ProtoDumpPath, dumpToFile(cfg.ProtoDumpPath, func(w io.Writer) error {
			return prof.WriteProtoDump(intervals(cfg), w)
		}))
	}
	prof.Terminate()
	return firstErr
}

func dumpToFile(path string, write func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	if err := write(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
