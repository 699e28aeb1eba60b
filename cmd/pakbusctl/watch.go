// Copyright 2025 The go-pakbus Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/destiny/pakbus"
	"github.com/destiny/pakbus/metrics"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Check the datalogger clock periodically and serve metrics",
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := dialRunner(cmd.Context(), cfg, logger, engineLogger)
		if err != nil {
			return err
		}
		defer r.Close()

		reg := prometheus.NewRegistry()
		if err := reg.Register(metrics.NewCollector(r.net, pakbus.Address(cfg.Node))); err != nil {
			return err
		}
		metrics.RegisterMetrics()
		gatherers := prometheus.Gatherers{reg, prometheus.DefaultGatherer}

		err = runWatch(cmd.Context(), r, cfg.Watch, promhttp.HandlerFor(gatherers, promhttp.HandlerOpts{}))
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	},
}

// runWatch runs the clock loop and, when a listen address is configured,
// the metrics server until ctx ends or either fails.
func runWatch(ctx context.Context, r *runner, wc WatchConfig, handler http.Handler) error {
	g, ctx := errgroup.WithContext(ctx)

	if wc.MetricsListen != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", handler)
		srv := &http.Server{
			Addr:              wc.MetricsListen,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			r.log.Info("serving metrics", zap.String("addr", wc.MetricsListen))
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	g.Go(func() error {
		return r.watch(ctx, wc)
	})
	return g.Wait()
}

// watch checks the clock every interval, recording each result. The
// network is pumped between checks so the link stays serviced.
func (r *runner) watch(ctx context.Context, wc WatchConfig) error {
	interval := wc.Interval
	if interval <= 0 {
		interval = time.Minute
	}
	station := r.st.Address()
	for {
		next := time.Now().Add(interval)
		res, off, err := r.sync(ctx, wc.Set, wc.Tolerance)
		if err != nil {
			return err
		}
		metrics.RecordClock(station, res, off)
		if res.Outcome.Succeeded() {
			r.log.Info("clock checked",
				zap.Stringer("outcome", res.Outcome),
				zap.Duration("offset", off),
				zap.Duration("round_trip", res.RoundTrip))
		} else {
			r.log.Warn("clock check failed", zap.Stringer("outcome", res.Outcome))
		}
		if err := r.pumpUntil(ctx, func() bool { return !time.Now().Before(next) }); err != nil {
			return err
		}
	}
}

func init() {
	rootCmd.AddCommand(watchCmd)
}
