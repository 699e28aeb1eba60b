// Copyright 2025 The go-pakbus Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/destiny/pakbus/bmp5"
)

var (
	clockSet       bool
	clockTolerance time.Duration
)

var clockCmd = &cobra.Command{
	Use:   "clock",
	Short: "Check the datalogger clock, optionally setting it",
	RunE: func(cmd *cobra.Command, args []string) error {
		tolerance := cfg.Watch.Tolerance
		if cmd.Flags().Changed("tolerance") {
			tolerance = clockTolerance
		}
		r, err := dialRunner(cmd.Context(), cfg, logger, engineLogger)
		if err != nil {
			return err
		}
		defer r.Close()

		res, off, err := r.sync(cmd.Context(), clockSet, tolerance)
		if err != nil {
			return err
		}
		return printClock(cmd.OutOrStdout(), res, off)
	},
}

func printClock(w io.Writer, res bmp5.ClockResult, off time.Duration) error {
	switch res.Outcome {
	case bmp5.OutcomeChecked:
		fmt.Fprintf(w, "logger time: %s\n", res.LoggerTime.Format("2006-01-02 15:04:05.000"))
		fmt.Fprintf(w, "offset:      %s\n", off.Round(time.Millisecond))
		fmt.Fprintf(w, "round trip:  %s\n", res.RoundTrip.Round(time.Millisecond))
	case bmp5.OutcomeSet:
		fmt.Fprintf(w, "clock set by %s (was %s)\n", off.Round(time.Millisecond), res.LoggerTime.Format("2006-01-02 15:04:05.000"))
	default:
		return fmt.Errorf("clock transaction failed: %s", res.Outcome)
	}
	return nil
}

func init() {
	clockCmd.Flags().BoolVar(&clockSet, "set", false, "set the clock when it is off by more than the tolerance")
	clockCmd.Flags().DurationVar(&clockTolerance, "tolerance", 0, "allowed clock offset (default from config)")
	rootCmd.AddCommand(clockCmd)
}
