// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Command txschedsim is an in-process development and bring-up tool
// for the TX packet scheduler core: it runs a Scheduler, serves its
// Prometheus metrics, and exposes a handful of subcommands to drive
// doorbells and completions by hand. It is not the host-side
// introspection CLI that talks to the real device over PCIe — that
// tool and its device-open code are out of scope for this module;
// txschedsim drives the in-memory core directly for local development
// and scenario replay.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"code.hybscloud.com/txsched"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		metricsAddr  string
		configPath   string
		stepInterval time.Duration
	)

	root := &cobra.Command{
		Use:   "txschedsim",
		Short: "Run the TX packet scheduler core standalone for bring-up and scenario testing",
	}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the scheduler pipeline until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := txsched.DefaultSchedulerConfig()
			cfg.StepInterval = stepInterval
			sched := txsched.NewScheduler(cfg)

			if configPath != "" {
				watcher, err := txsched.NewConfigWatcher(sched, configPath)
				if err != nil {
					return err
				}
				defer watcher.Close()
			}

			reg := prometheus.NewRegistry()
			reg.MustRegister(txsched.NewSchedulerCollector(sched))
			http.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
			srv := &http.Server{Addr: metricsAddr}
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					fmt.Fprintf(os.Stderr, "metrics server: %v\n", err)
				}
			}()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			err := sched.Run(ctx)
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
			if err != nil && err != context.Canceled {
				return err
			}
			return nil
		},
	}
	runCmd.Flags().StringVar(&metricsAddr, "metrics-addr", ":9600", "address to serve Prometheus metrics on")
	runCmd.Flags().StringVar(&configPath, "config", "", "path to a bring-up INI config, hot-reloaded on change")
	runCmd.Flags().DurationVar(&stepInterval, "step-interval", 0, "pipeline step pacing; 0 runs as fast as possible")

	root.AddCommand(runCmd, newScenarioCmd())
	return root
}

// newScenarioCmd replays the spec's canonical single-queue round-trip
// scenario against a freshly built scheduler and prints the observed
// TX requests, useful for sanity-checking a build without wiring up
// real descriptor rings.
func newScenarioCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scenario",
		Short: "Replay a canonical single-queue round-trip and print the result",
		RunE: func(cmd *cobra.Command, args []string) error {
			sched := txsched.NewScheduler(txsched.DefaultSchedulerConfig())
			a := sched.Arbiter()

			if err := sched.SetGlobalEnable(true); err != nil {
				return err
			}
			if err := sched.SetQueueEnable(3, true); err != nil {
				return err
			}
			if err := sched.SetPortControl(3, 0, 0, true, false); err != nil {
				return err
			}
			a.Channels()[0].Enabled.StoreRelease(true)
			if err := sched.Doorbell(3); err != nil {
				return err
			}

			// The init walk takes one step per queue record and has top
			// priority, so step past it before the doorbell can be served.
			for i := 0; i < a.Store().Len()+32; i++ {
				a.Step()
			}

			req, err := sched.TxRequests().Pop()
			if err != nil {
				fmt.Println("no TX request observed")
				return nil
			}
			fmt.Printf("tx request: queue=%d tag=%d dest=%d\n", req.Queue, req.Tag, req.DestHint)
			return nil
		},
	}
}
