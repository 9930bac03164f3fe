package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/zonesync/zonesync/internal/syncer"
)

var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Run one outbound send cycle",
	Long: `Upload the pending change queue to the record store in per-zone
batches and reconcile the per-record outcomes.

An incomplete round (conflicts merged and requeued, transient failures)
exits with status 2; run send again to continue.

The record store is an in-process loopback that lives only as long as
the invocation. One-shot runs exercise a full cycle against an empty
store each time; use "zs daemon" to sync against a store that survives
across cycles.`,
	Run: func(cmd *cobra.Command, args []string) {
		r, err := openReplica(nil)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer r.Close()

		res, err := r.coord.SendChanges(context.Background())
		printSendResult(res)
		if errors.Is(err, syncer.ErrSyncIncomplete) {
			fmt.Println("Sync incomplete, run again to continue")
			os.Exit(2)
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error sending changes: %v\n", err)
			os.Exit(1)
		}
	},
}

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Run one inbound fetch cycle",
	Long: `Fetch remote changes past the stored cursor and apply them locally.

The record store is an in-process loopback; a one-shot invocation
fetches from an empty store. Use "zs daemon" for a store that survives
across cycles.`,
	Run: func(cmd *cobra.Command, args []string) {
		r, err := openReplica(nil)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer r.Close()

		res, err := r.coord.FetchChanges(context.Background())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error fetching changes: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Applied %d, removed %d (%d zones), cursor %q\n",
			res.Applied, res.Removed, res.ZonesRemoved, res.Cursor)
	},
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run a full sync (fetch + send until drained)",
	Long: `Run fetch and send rounds until the pending queue drains.

The record store is an in-process loopback that lives only as long as
the invocation. Use "zs daemon" to sync against a store that survives
across cycles.`,
	Run: func(cmd *cobra.Command, args []string) {
		r, err := openReplica(nil)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer r.Close()

		start := time.Now()
		if err := r.coord.Sync(context.Background()); err != nil {
			fmt.Fprintf(os.Stderr, "Error during sync: %v\n", err)
			os.Exit(1)
		}

		stats := r.coord.Stats()
		fmt.Printf("Sync complete in %v\n", time.Since(start).Round(time.Millisecond))
		fmt.Printf("   Uploaded: %d\n", stats.Uploaded)
		fmt.Printf("   Downloaded: %d\n", stats.Downloaded)
		fmt.Printf("   Conflicts: %d\n", stats.Conflicts)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show replica status",
	Long: `Display the replica's record count, pending queue depth, cursor,
and accumulated sync statistics.`,
	Run: func(cmd *cobra.Command, args []string) {
		r, err := openReplica(nil)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer r.Close()

		stats := r.coord.Stats()
		fmt.Printf("\nReplica status\n\n")
		fmt.Printf("Data dir: %s\n", r.dir)
		fmt.Printf("Zone: %s\n", r.coord.ZoneID())
		fmt.Printf("Records: %d\n", len(r.coord.Records()))
		fmt.Printf("Pending changes: %d\n", r.coord.PendingCount())
		fmt.Printf("Cursor: %q\n", r.coord.Cursor())
		fmt.Printf("Send rounds: %d\n", stats.SendRounds)
		fmt.Printf("Fetch rounds: %d\n", stats.FetchRounds)
		fmt.Printf("Conflicts resolved: %d\n", stats.Conflicts)
		fmt.Printf("Errors: %d\n", stats.Errors)
		if !stats.LastSendAt.IsZero() {
			fmt.Printf("Last send: %s\n", stats.LastSendAt.Format("2006-01-02 15:04:05"))
		}
		fmt.Println()
	},
}

var (
	wipeLocal  bool
	wipeRemote bool
)

var wipeCmd = &cobra.Command{
	Use:   "wipe",
	Short: "Delete replica data",
	Long: `Delete data on one side of the sync relationship.

  --local   discard local records, queue, and cursor; the store is untouched
  --remote  delete the replica's zone from the record store; local data
            is removed when the zone deletion is fetched back`,
	Run: func(cmd *cobra.Command, args []string) {
		if !wipeLocal && !wipeRemote {
			fmt.Fprintf(os.Stderr, "Error: pass --local and/or --remote\n")
			os.Exit(1)
		}

		r, err := openReplica(nil)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer r.Close()

		if wipeRemote {
			if _, err := r.coord.DeleteRemoteData(context.Background()); err != nil {
				fmt.Fprintf(os.Stderr, "Error wiping remote data: %v\n", err)
				os.Exit(1)
			}
			fmt.Println("Remote zone deleted")
		}
		if wipeLocal {
			if err := r.coord.DeleteLocalData(); err != nil {
				fmt.Fprintf(os.Stderr, "Error wiping local data: %v\n", err)
				os.Exit(1)
			}
			fmt.Println("Local data deleted")
		}
	},
}

func printSendResult(res syncer.SendResult) {
	fmt.Printf("Saved %d, requeued %d, remaining %d, failed %d\n",
		res.Saved, res.Requeued, res.Remaining, res.Failed)
	for _, re := range res.Errors {
		fmt.Fprintf(os.Stderr, "   %v\n", re)
	}
}

func init() {
	wipeCmd.Flags().BoolVar(&wipeLocal, "local", false, "delete local replica data")
	wipeCmd.Flags().BoolVar(&wipeRemote, "remote", false, "delete the zone from the record store")

	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(fetchCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(wipeCmd)
}
