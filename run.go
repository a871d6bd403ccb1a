package main

import (
	"context"
	"sync"
	"time"

	"github.com/go-i2p/logger"
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/smite-net/smite-node/lib/backhaul"
	"github.com/smite-net/smite-node/lib/config"
	"github.com/smite-net/smite-node/lib/core"
	"github.com/smite-net/smite-node/lib/manager"
	"github.com/smite-net/smite-node/lib/manifest"
	"github.com/smite-net/smite-node/lib/metrics"
	"github.com/smite-net/smite-node/lib/rathole"
	"github.com/smite-net/smite-node/lib/usage"
	"github.com/smite-net/smite-node/lib/util"
	"github.com/smite-net/smite-node/lib/util/signals"
)

// cleanupTimeout bounds tunnel removal at shutdown.
const cleanupTimeout = 30 * time.Second

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the node: re-adopt, apply the manifest and supervise tunnels",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runNode(config.CurrentConfig())
	},
}

func newAdapters(cfg config.NodeConfig) []core.Adapter {
	return []core.Adapter{
		rathole.New(rathole.Options{
			ConfigDir:      cfg.Rathole.ConfigDir,
			Binary:         cfg.Rathole.Binary,
			ConfirmWindow:  cfg.Rathole.ConfirmWindow,
			StopTimeout:    cfg.Rathole.StopTimeout,
			SampleInterval: cfg.Rathole.SampleInterval,
		}),
		backhaul.New(backhaul.Options{
			ConfigDir:      cfg.Backhaul.ConfigDir,
			Binary:         cfg.Backhaul.Binary,
			ConfirmWindow:  cfg.Backhaul.ConfirmWindow,
			StopTimeout:    cfg.Backhaul.StopTimeout,
			SampleInterval: cfg.Backhaul.SampleInterval,
		}),
	}
}

func runNode(cfg config.NodeConfig) error {
	if err := config.Validate(cfg); err != nil {
		return err
	}
	if err := config.PrepareAdapterDirs(cfg); err != nil {
		return oops.In("node").Wrapf(err, "prepare adapter directories")
	}

	m := metrics.New()
	mgr, err := manager.New(manager.Config{
		Workers:          cfg.Manager.Workers,
		OperationTimeout: cfg.Manager.OperationTimeout,
		Observer:         m,
	}, newAdapters(cfg)...)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	var shutdown sync.Once

	go signals.Handle()
	signals.RegisterReloadHandler(func() {
		adopted, err := mgr.Reconcile(ctx)
		logReconcile("reload", adopted, err)
	})
	signals.RegisterDrainHandler(signals.Handler(cancel))
	signals.RegisterInterruptHandler(func() {
		shutdown.Do(func() {
			cctx, ccancel := context.WithTimeout(context.Background(), cleanupTimeout)
			defer ccancel()
			if err := mgr.Cleanup(cctx); err != nil {
				log.WithError(err).WithField("at", "main.shutdown").Warn("some tunnels did not stop cleanly")
			}
			util.CloseAll()
			close(done)
		})
	})

	if cfg.Metrics.Enabled {
		if err := m.Start(cfg.Metrics.ListenAddr, cfg.Metrics.Path); err != nil {
			return oops.In("node").With("addr", cfg.Metrics.ListenAddr).Wrapf(err, "start metrics")
		}
		util.RegisterCloser(m)
	}

	if cfg.Manager.ReconcileOnStart {
		adopted, err := mgr.Reconcile(ctx)
		logReconcile("start", adopted, err)
	}

	manifestPath, err := config.ManifestPath(cfg)
	if err != nil {
		return err
	}
	if manifestPath != "" {
		mf, err := manifest.Load(manifestPath)
		if err != nil {
			log.WithError(err).WithField("path", manifestPath).Error("tunnel manifest not applied")
		} else {
			applied, err := mf.Apply(ctx, mgr)
			log.WithFields(logger.Fields{
				"at":       "main.runNode",
				"path":     manifestPath,
				"declared": len(mf.Tunnels),
				"applied":  len(applied),
			}).Info("tunnel manifest applied")
			if err != nil {
				log.WithError(err).Warn("some declared tunnels failed to apply")
			}
		}
	}

	if cfg.Usage.Enabled {
		reporter := usage.NewReporter(usage.Config{
			Source:   mgr,
			Sink:     usage.LogSink{},
			Gauge:    m,
			NodeID:   cfg.Usage.NodeID,
			Interval: cfg.Usage.Interval,
		})
		go func() { _ = reporter.Run(ctx) }()
	}

	log.WithFields(logger.Fields{
		"at":      "main.runNode",
		"version": Version,
		"tunnels": len(mgr.Tunnels()),
	}).Info("smite-node running")
	<-done
	signals.StopHandle()
	log.Info("smite-node stopped")
	return nil
}

func logReconcile(trigger string, adopted []core.TunnelID, err error) {
	entry := log.WithFields(logger.Fields{
		"at":      "main.reconcile",
		"trigger": trigger,
		"adopted": len(adopted),
	})
	if err != nil {
		entry.WithError(err).Warn("reconcile finished with errors")
		return
	}
	entry.Info("reconcile finished")
}
