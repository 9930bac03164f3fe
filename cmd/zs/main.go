// Command zs is the zonesync replica CLI.
//
// It manages a local record replica (add/list/delete), drives sync
// cycles against the record store (send/fetch/sync/status), and can run
// as a background daemon with a real-time dashboard.
package main

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/zonesync/zonesync/internal/record"
	"github.com/zonesync/zonesync/internal/store"
	"github.com/zonesync/zonesync/internal/syncer"
	"github.com/zonesync/zonesync/internal/transport"
)

var rootCmd = &cobra.Command{
	Use:   "zs",
	Short: "Multi-replica record synchronization",
	Long: `zs manages a local replica of named records and keeps it
synchronized with a shared record store.

Records live in zones; edits queue locally and upload in batches, with
conflicts resolved by last writer wins on the user's modification time.

Configuration is read from $ZS_DATA_DIR/config.yaml and the ZS_*
environment, with flags taking precedence.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().String("data-dir", "", "replica data directory (default ~/.zonesync)")
	rootCmd.PersistentFlags().String("zone", record.DefaultZoneID, "default zone for new records")
	_ = viper.BindPFlag("data_dir", rootCmd.PersistentFlags().Lookup("data-dir"))
	_ = viper.BindPFlag("zone", rootCmd.PersistentFlags().Lookup("zone"))

	viper.SetDefault("sync_interval", "30s")
	viper.SetDefault("dashboard_port", 8080)

	viper.SetEnvPrefix("zs")
	viper.AutomaticEnv()

	cobra.OnInitialize(loadConfig)
}

// loadConfig reads config.yaml from the data directory if present.
func loadConfig() {
	dir, err := dataDir()
	if err != nil {
		return
	}
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(dir)
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			fmt.Fprintf(os.Stderr, "Warning: failed to read config: %v\n", err)
		}
	}
}

// dataDir resolves the replica data directory and ensures it exists.
func dataDir() (string, error) {
	dir := viper.GetString("data_dir")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to resolve home directory: %w", err)
		}
		dir = filepath.Join(home, ".zonesync")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create data directory: %w", err)
	}
	return dir, nil
}

// replica bundles the open collaborators a command operates on.
type replica struct {
	dir    string
	store  *store.Store
	remote *transport.Memory
	coord  *syncer.Coordinator
}

func (r *replica) Close() {
	if err := r.store.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to close store: %v\n", err)
	}
}

// openReplica opens the local store and builds a coordinator over the
// in-process record store. The remote side lives in this process; a
// networked transport plugs in through the same interface.
func openReplica(logger *log.Logger) (*replica, error) {
	return openReplicaWithObserver(logger, nil)
}

func openReplicaWithObserver(logger *log.Logger, observer syncer.Observer) (*replica, error) {
	dir, err := dataDir()
	if err != nil {
		return nil, err
	}

	st, err := store.Open(filepath.Join(dir, "zonesync.db"))
	if err != nil {
		return nil, fmt.Errorf("failed to open replica store: %w", err)
	}

	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}

	remote := transport.NewMemory()
	coord, err := syncer.New(syncer.Config{
		Transport:   remote,
		Persistence: st,
		ZoneID:      viper.GetString("zone"),
		Observer:    observer,
		Logger:      logger,
	})
	if err != nil {
		st.Close()
		return nil, err
	}

	return &replica{dir: dir, store: st, remote: remote, coord: coord}, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
