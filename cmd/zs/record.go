package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/zonesync/zonesync/internal/record"
)

var addCmd = &cobra.Command{
	Use:   "add NAME",
	Short: "Add a record to the local replica",
	Long: `Create a record with the given name in the default zone and queue
it for upload on the next sync cycle.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		r, err := openReplica(nil)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer r.Close()

		rec := record.Record{
			ID:             uuid.NewString(),
			ZoneID:         r.coord.ZoneID(),
			Name:           args[0],
			UserModifiedAt: time.Now().UTC(),
		}
		if err := r.coord.SaveRecords(rec); err != nil {
			fmt.Fprintf(os.Stderr, "Error adding record: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("Added %s (%s)\n", rec.Name, rec.ID)
	},
}

var renameCmd = &cobra.Command{
	Use:   "rename ID NAME",
	Short: "Rename a record",
	Long: `Rename an existing record. The edit carries the current time as the
user modification time, which decides conflicts against other replicas.`,
	Args: cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		r, err := openReplica(nil)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer r.Close()

		rec, ok := r.coord.Record(args[0])
		if !ok {
			fmt.Fprintf(os.Stderr, "Error: record %s not found\n", args[0])
			os.Exit(1)
		}
		rec.Name = args[1]
		rec.UserModifiedAt = time.Now().UTC()
		if err := r.coord.SaveRecords(rec); err != nil {
			fmt.Fprintf(os.Stderr, "Error renaming record: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("Renamed %s to %s\n", rec.ID, rec.Name)
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List local records",
	Run: func(cmd *cobra.Command, args []string) {
		r, err := openReplica(nil)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer r.Close()

		recs := r.coord.Records()
		if len(recs) == 0 {
			fmt.Println("No records")
			return
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tZONE\tNAME\tMODIFIED\tSYNCED")
		for _, rec := range recs {
			synced := "no"
			if !rec.Meta.IsZero() {
				synced = "yes"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
				rec.ID, rec.ZoneID, rec.Name,
				rec.UserModifiedAt.Format("2006-01-02 15:04:05"), synced)
		}
		_ = w.Flush()
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete ID...",
	Short: "Delete records from the replica",
	Long: `Remove records locally and queue deletion for the next sync cycle.
The remote copies are removed when the deletion uploads.`,
	Args: cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		r, err := openReplica(nil)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer r.Close()

		if err := r.coord.DeleteRecords(args...); err != nil {
			fmt.Fprintf(os.Stderr, "Error deleting records: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("Deleted %d record(s)\n", len(args))
	},
}

func init() {
	rootCmd.AddCommand(addCmd)
	rootCmd.AddCommand(renameCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(deleteCmd)
}
