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

var pushMigrate bool

var pushCmd = &cobra.Command{
	Use:   "push",
	Short: "Push staged batches to the other side",
}

var pushGeoCmd = &cobra.Command{
	Use:   "geo",
	Short: "Push staged GIS incidents and attachments into the case manager",
	Long: `Drain the staged incident and attachment batches, oldest first.
Each incident is matched to its case by civil warrant number and
updated, or a new case is created when none exists. Records that fail
stay queued for the next run.`,
	Run: func(cmd *cobra.Command, args []string) {
		a := newApp(true)
		defer a.close()

		runPush(a, "push geo", "geo", func(ctx context.Context) (pipeline.PushStats, error) {
			return a.bridge.PushGeo(ctx, pushMigrate)
		})
	},
}

var pushCMSCmd = &cobra.Command{
	Use:   "cms",
	Short: "Push staged case snapshots to the GIS history layer",
	Run: func(cmd *cobra.Command, args []string) {
		a := newApp(true)
		defer a.close()

		runPush(a, "push cms", "cms", func(ctx context.Context) (pipeline.PushStats, error) {
			return a.bridge.PushCMS(ctx)
		})
	},
}

func runPush(a *app, name, direction string, fn func(ctx context.Context) (pipeline.PushStats, error)) {
	ctx := context.Background()
	started := time.Now()

	stats, err := fn(ctx)
	run := ledger.Run{
		Command:   name,
		Direction: direction,
		StartedAt: started,
		Duration:  time.Since(started),
		Pushed:    stats.Pushed,
		Failed:    stats.Failed,
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

	if stats.Failed > 0 {
		fmt.Printf("%s Pushed %d of %d records from %d batches; %d requeued\n",
			ui.RenderWarn("⚠"), stats.Pushed, stats.Pushed+stats.Failed, stats.Batches, stats.Failed)
		return
	}
	fmt.Printf("%s Pushed %d records from %d batches in %v\n",
		ui.RenderPass("✓"), stats.Pushed, stats.Batches, run.Duration.Round(time.Millisecond))
}

func init() {
	pushGeoCmd.Flags().BoolVar(&pushMigrate, "migrate", false, "create every incident as a new case, skipping lookups")
	pushCmd.AddCommand(pushGeoCmd)
	pushCmd.AddCommand(pushCMSCmd)
	rootCmd.AddCommand(pushCmd)
}
