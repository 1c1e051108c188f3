package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/npclinic/databridge/internal/daemon"
	"github.com/npclinic/databridge/internal/pipeline"
	"github.com/npclinic/databridge/internal/ui"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run fetch and push continuously",
	Long: `Run unattended: fetch both directions on an interval, and push as
soon as a staged batch file appears. Stops cleanly on SIGINT/SIGTERM.`,
	Run: func(cmd *cobra.Command, args []string) {
		a := newApp(true)
		defer a.close()

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		d := daemon.New(daemon.Config{
			IncidentsDir:   a.cfg.QueueDir("incidents"),
			AttachmentsDir: a.cfg.QueueDir("attachments"),
			UpdatesDir:     a.cfg.QueueDir("cases"),
			FetchInterval:  a.cfg.FetchInterval(),
		}, daemon.Hooks{
			FetchGeo: func(ctx context.Context) error {
				_, err := a.bridge.FetchGeo(ctx, 0)
				return err
			},
			FetchCMS: func(ctx context.Context) error {
				_, err := a.bridge.FetchCMS(ctx, 0)
				return err
			},
			PushGeo: func(ctx context.Context) error {
				return drain(a.bridge.PushGeo(ctx, false))
			},
			PushCMS: func(ctx context.Context) error {
				return drain(a.bridge.PushCMS(ctx))
			},
		}, a.log)

		fmt.Printf("%s Daemon started, fetching every %v\n", ui.RenderAccent("🚀"), a.cfg.FetchInterval())
		if err := d.Run(ctx); err != nil && ctx.Err() == nil {
			fatal("%v", err)
		}
		fmt.Printf("%s Daemon stopped\n", ui.RenderPass("✓"))
	},
}

func drain(_ pipeline.PushStats, err error) error {
	return err
}

func init() {
	rootCmd.AddCommand(daemonCmd)
}
