// Copyright 2025 The go-pakbus Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/destiny/pakbus"
)

var (
	cfgFile      string
	endpoint     string
	logLevel     string
	nodeAddr     uint16
	stationAddr  uint16
	neighborAddr uint16
	securityCode uint16

	// Set by PersistentPreRunE.
	cfg          *Config
	logger       *zap.Logger
	engineLogger *pakbus.Logger
)

var rootCmd = &cobra.Command{
	Use:   "pakbusctl",
	Short: "Talk to PakBus dataloggers over TCP",
	Long: `pakbusctl connects to a PakBus datalogger over TCP, checks or sets its
clock, and can watch clock drift while exporting engine statistics to
Prometheus.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		path := cfgFile
		if path == "" {
			path = DefaultPath()
		}
		var err error
		cfg, err = LoadConfig(path)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		flags := cmd.Flags()
		if flags.Changed("endpoint") {
			cfg.Endpoint = endpoint
		}
		if flags.Changed("log-level") {
			cfg.Log.Level = logLevel
		}
		if flags.Changed("node") {
			cfg.Node = nodeAddr
		}
		if flags.Changed("station") {
			cfg.Station = stationAddr
		}
		if flags.Changed("neighbor") {
			cfg.Neighbor = neighborAddr
		}
		if flags.Changed("security-code") {
			cfg.SecurityCode = securityCode
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}

		logger, engineLogger, err = setupLogger(cfg.Log)
		if err != nil {
			return fmt.Errorf("failed to set up logging: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

// Execute runs the root command until ctx ends.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default is ~/.pakbus/config.yaml)")
	pf.StringVarP(&endpoint, "endpoint", "e", "", "datalogger host:port")
	pf.StringVar(&logLevel, "log-level", "", "log level: error, warn, info, debug, trace")
	pf.Uint16Var(&nodeAddr, "node", 0, "PakBus address of this host")
	pf.Uint16VarP(&stationAddr, "station", "s", 0, "PakBus address of the datalogger")
	pf.Uint16Var(&neighborAddr, "neighbor", 0, "neighbor the datalogger is reached through")
	pf.Uint16Var(&securityCode, "security-code", 0, "datalogger security code")
}
