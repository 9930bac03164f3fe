package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/zonesync/zonesync/internal/daemon"
	"github.com/zonesync/zonesync/internal/dashboard"
	"github.com/zonesync/zonesync/internal/syncer"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Start the sync daemon (foreground)",
	Long: `Run the replica's sync daemon in the foreground.

The daemon will:
  1. Sync on a fixed interval (--interval, config sync_interval)
  2. Watch the trigger directory for on-demand sync requests; drop any
     file into <data-dir>/sync-trigger to force an immediate round
  3. Apply account events from the transport
  4. Serve the real-time dashboard when --dashboard is set

Daemon logs rotate in <data-dir>/daemon.log.`,
	Run: func(cmd *cobra.Command, args []string) {
		interval := viper.GetDuration("sync_interval")
		if interval <= 0 {
			interval = 30 * time.Second
		}
		withDashboard, _ := cmd.Flags().GetBool("dashboard")
		port := viper.GetInt("dashboard_port")

		dir, err := dataDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		// Rotating log sink so a long-lived daemon does not grow a log
		// without bound.
		logger := log.New(&lumberjack.Logger{
			Filename:   filepath.Join(dir, "daemon.log"),
			MaxSize:    10, // megabytes
			MaxBackups: 3,
			MaxAge:     28, // days
		}, "[zs] ", log.LstdFlags)

		var observer syncer.Observer
		var dashServer *dashboard.Server
		if withDashboard {
			dashServer = dashboard.NewServer(&dashboard.Config{
				Port:   port,
				Logger: logger,
			})
			if err := dashServer.Start(); err != nil {
				fmt.Fprintf(os.Stderr, "Error starting dashboard: %v\n", err)
				os.Exit(1)
			}
			observer = dashboard.NewHandler(dashServer, logger)
			fmt.Printf("Dashboard: http://localhost:%d (ws://localhost:%d/ws)\n", port, port)
		}

		r, err := openReplicaWithObserver(logger, observer)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer r.Close()

		cfg := daemon.DefaultConfig()
		cfg.SyncInterval = interval
		cfg.Logger = logger

		triggerDir := filepath.Join(dir, "sync-trigger")
		d, err := daemon.NewWithConfig(r.coord, r.remote.AccountEvents(), triggerDir, cfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error creating daemon: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("Starting sync daemon\n")
		fmt.Printf("   Data dir: %s\n", dir)
		fmt.Printf("   Interval: %v\n", interval)
		fmt.Printf("   Trigger dir: %s\n", triggerDir)
		fmt.Printf("\nPress Ctrl+C to stop\n\n")

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		if err := d.Start(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Daemon stopped with error: %v\n", err)
			os.Exit(1)
		}

		if dashServer != nil {
			if err := dashServer.Stop(); err != nil {
				fmt.Fprintf(os.Stderr, "Error stopping dashboard: %v\n", err)
			}
		}
	},
}

func init() {
	daemonCmd.Flags().Duration("interval", 0, "sync interval (overrides config)")
	daemonCmd.Flags().Bool("dashboard", false, "serve the real-time dashboard")
	daemonCmd.Flags().IntP("port", "p", 0, "dashboard port (overrides config)")
	_ = viper.BindPFlag("sync_interval", daemonCmd.Flags().Lookup("interval"))
	_ = viper.BindPFlag("dashboard_port", daemonCmd.Flags().Lookup("port"))

	rootCmd.AddCommand(daemonCmd)
}
