package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/npclinic/databridge/internal/ui"
	"github.com/npclinic/databridge/internal/watermark"
)

var statusRuns int

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show watermarks, queue depth and recent runs",
	Run: func(cmd *cobra.Command, args []string) {
		a := newApp(false)
		defer a.close()

		fmt.Printf("\n%s Sync Status\n\n", ui.RenderAccent("📊"))

		fmt.Println("Watermarks:")
		for _, d := range []watermark.Direction{watermark.PullGeo, watermark.PullCMS} {
			stamp, ok := a.bridge.Marks.Read(d)
			if !ok {
				fmt.Printf("   %-4s %s\n", d, ui.RenderWarn("none (next fetch is a full sync)"))
				continue
			}
			fmt.Printf("   %-4s %s\n", d, stamp)
		}

		fmt.Println("\nQueued batches:")
		printQueue("incidents", count(a.bridge.Incidents.Pending()))
		printQueue("attachments", count(a.bridge.Attachments.Pending()))
		printQueue("cases", count(a.bridge.Updates.Pending()))

		runs, err := a.runs.RecentRuns(context.Background(), statusRuns)
		if err != nil {
			fatal("%v", err)
		}
		fmt.Println("\nRecent runs:")
		if len(runs) == 0 {
			fmt.Printf("   %s\n", ui.RenderDim("none"))
		}
		for _, r := range runs {
			mark := ui.RenderPass("✓")
			if r.Error != "" {
				mark = ui.RenderFail("✗")
			} else if r.Failed > 0 {
				mark = ui.RenderWarn("⚠")
			}
			fmt.Printf("   %s %-10s %s  fetched=%d pushed=%d failed=%d  %v\n",
				mark, r.Command, r.StartedAt.Local().Format(time.DateTime),
				r.Fetched, r.Pushed, r.Failed, r.Duration.Round(time.Millisecond))
			if r.Error != "" {
				fmt.Printf("     %s\n", ui.RenderDim(r.Error))
			}
		}
		fmt.Println()
	},
}

func count(names []string, err error) int {
	if err != nil {
		return -1
	}
	return len(names)
}

func printQueue(name string, n int) {
	switch {
	case n < 0:
		fmt.Printf("   %-12s %s\n", name, ui.RenderFail("unreadable"))
	case n == 0:
		fmt.Printf("   %-12s %s\n", name, ui.RenderDim("empty"))
	default:
		fmt.Printf("   %-12s %d\n", name, n)
	}
}

func init() {
	statusCmd.Flags().IntVar(&statusRuns, "runs", 10, "number of recent runs to show")
	rootCmd.AddCommand(statusCmd)
}
