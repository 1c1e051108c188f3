package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/npclinic/databridge/internal/ledger"
	"github.com/npclinic/databridge/internal/pipeline"
	"github.com/npclinic/databridge/internal/ui"
)

var fetchMaxRecords int

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Fetch changed records into the staging queues",
}

var fetchGeoCmd = &cobra.Command{
	Use:   "geo",
	Short: "Fetch GIS incidents changed since the last sync",
	Long: `Query the GIS incident layer for features modified past the current
watermark, enrich them with dismissal status from the history layer,
and stage them (plus their attachment listings) as batch files. The
watermark advances only after the batch is durably on disk.`,
	Run: func(cmd *cobra.Command, args []string) {
		a := newApp(true)
		defer a.close()

		runFetch(a, "fetch geo", "geo", func(ctx context.Context) (pipeline.FetchStats, error) {
			return a.bridge.FetchGeo(ctx, fetchMaxRecords)
		})
	},
}

var fetchCMSCmd = &cobra.Command{
	Use:   "cms",
	Short: "Fetch case changes since the last sync",
	Long: `Query the case manager for cases updated past the current watermark,
join each case's next scheduled hearing from the clinic calendar, and
stage snapshots of dismissed cases and cases with upcoming hearings.`,
	Run: func(cmd *cobra.Command, args []string) {
		a := newApp(true)
		defer a.close()

		runFetch(a, "fetch cms", "cms", func(ctx context.Context) (pipeline.FetchStats, error) {
			return a.bridge.FetchCMS(ctx, fetchMaxRecords)
		})
	},
}

func runFetch(a *app, name, direction string, fn func(ctx context.Context) (pipeline.FetchStats, error)) {
	ctx := context.Background()
	started := time.Now()

	stats, err := fn(ctx)
	run := ledger.Run{
		Command:   name,
		Direction: direction,
		StartedAt: started,
		Duration:  time.Since(started),
		Fetched:   stats.Fetched,
		Staged:    stats.Staged + stats.Attachments,
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

	fmt.Printf("%s Fetched %d, staged %d records", ui.RenderPass("✓"), stats.Fetched, stats.Staged)
	if stats.Attachments > 0 {
		fmt.Printf(" and %d attachments", stats.Attachments)
	}
	fmt.Printf(" in %v\n", run.Duration.Round(time.Millisecond))
}

func init() {
	fetchCmd.PersistentFlags().IntVar(&fetchMaxRecords, "max-records", 0, "cap on fetched records (0 = no cap)")
	fetchCmd.AddCommand(fetchGeoCmd)
	fetchCmd.AddCommand(fetchCMSCmd)
	rootCmd.AddCommand(fetchCmd)
}
