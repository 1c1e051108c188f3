package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/npclinic/databridge/internal/ledger"
	"github.com/npclinic/databridge/internal/ui"
)

var migrateMaxRecords int

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Bulk-load the GIS incident layer into the case manager",
	Long: `Perform the initial load: fetch the full incident layer (or up to
--max-records of it), create a case for every incident without looking
for existing ones, upload attachments, and schedule calendar entries
for hearings still in the future.

Afterward the case-side watermark is set just past now, so the first
incremental pull does not echo back the cases the migration created.`,
	Run: func(cmd *cobra.Command, args []string) {
		a := newApp(true)
		defer a.close()

		ctx := context.Background()
		started := time.Now()

		fmt.Printf("%s Migrating incident layer...\n", ui.RenderAccent("🚀"))
		fetchStats, pushStats, err := a.bridge.MigrateGeo(ctx, migrateMaxRecords)

		run := ledger.Run{
			Command:   "migrate",
			Direction: "geo",
			StartedAt: started,
			Duration:  time.Since(started),
			Fetched:   fetchStats.Fetched,
			Staged:    fetchStats.Staged + fetchStats.Attachments,
			Pushed:    pushStats.Pushed,
			Failed:    pushStats.Failed,
		}
		if err != nil {
			run.Error = err.Error()
		}
		if lerr := a.runs.RecordRun(ctx, run); lerr != nil {
			fmt.Printf("%s could not record run: %v\n", ui.RenderWarn("⚠"), lerr)
		}
		if err != nil {
			fatal("%v", err)
		}

		fmt.Printf("%s Migration complete in %v\n", ui.RenderPass("✓"), run.Duration.Round(time.Millisecond))
		fmt.Printf("   Fetched: %d\n", fetchStats.Fetched)
		fmt.Printf("   Pushed:  %d\n", pushStats.Pushed)
		if pushStats.Failed > 0 {
			fmt.Printf("   Requeued: %d\n", pushStats.Failed)
		}
	},
}

func init() {
	migrateCmd.Flags().IntVar(&migrateMaxRecords, "max-records", 0, "cap on migrated records (0 = no cap)")
	rootCmd.AddCommand(migrateCmd)
}
