// Copyright 2025 Trailsense
// SPDX-License-Identifier: Apache-2.0

// Package main provides the trailsyncd daemon: it opens the local artifact
// store, wires the sync engine against the configured remote store and
// backup relay, and keeps the connectivity-aware orchestrator running.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/trailsense/go-trailsync/localstore"
)

const version = "0.3.0"

var configFile string

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "trailsyncd",
	Short: "Offline-first sync daemon for field-collected trail artifacts",
	Long: `trailsyncd keeps locally captured routes, trail guides, photos and
accessibility surveys durable on disk and reconciles them with the remote
store whenever connectivity allows. Saves always succeed locally; uploads
are retried across network flaps and process restarts.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (default: trailsyncd.yaml)")
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("trailsyncd v" + version)
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the sync daemon until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(configFile)
		if err != nil {
			return err
		}
		logger := newLogger(cfg)

		store, err := localstore.Open(cfg.StorePath)
		if err != nil {
			return fmt.Errorf("failed to open local store: %w", err)
		}
		defer store.Close()

		engine, err := buildEngine(store, cfg, logger)
		if err != nil {
			return err
		}
		defer engine.Close()

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()
		engine.Start(ctx)
		logger.Info("trailsyncd running", "store", cfg.StorePath, "remote", cfg.RemoteBaseURL)

		// Kick an initial pass; failure here is advisory, the monitor
		// reschedules when connectivity settles.
		if _, err := engine.SyncAll(ctx); err != nil {
			logger.Info("initial sync skipped", "reason", err)
		}

		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		logger.Info("shutting down")
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show pending work counts from the local store",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(configFile)
		if err != nil {
			return err
		}
		store, err := localstore.Open(cfg.StorePath)
		if err != nil {
			return fmt.Errorf("failed to open local store: %w", err)
		}
		defer store.Close()

		ctx := cmd.Context()
		routes, err := store.CountPending(ctx, localstore.CollectionRoutes)
		if err != nil {
			return err
		}
		guides, err := store.CountPending(ctx, localstore.CollectionGuides)
		if err != nil {
			return err
		}
		unsent, err := store.CountUnsent(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("pending routes:        %d\n", routes)
		fmt.Printf("pending trail guides:  %d\n", guides)
		fmt.Printf("unsent backup entries: %d\n", unsent)
		return nil
	},
}
