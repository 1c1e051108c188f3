package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/npclinic/databridge/internal/bootstrap"
	"github.com/npclinic/databridge/internal/ledger"
	"github.com/npclinic/databridge/internal/ui"
)

var bootstrapCmd = &cobra.Command{
	Use:   "bootstrap",
	Short: "Provision the case-manager reference entities",
	Long: `Find or create the billing contact, matter group, practice area,
clinic calendar and custom-field schema the sync depends on, and cache
them as entity files under the data directory.

Safe to re-run: existing entities are found by name, never duplicated.`,
	Run: func(cmd *cobra.Command, args []string) {
		a := newApp(false)
		defer a.close()

		ctx := context.Background()
		started := time.Now()

		fmt.Printf("%s Provisioning reference entities...\n", ui.RenderAccent("🔧"))
		ents, fields, err := bootstrap.Run(ctx, a.cms, bootstrap.Config{
			Dir:              a.cfg.DataDir,
			ClientName:       a.cfg.Entities.ClientName,
			GroupName:        a.cfg.Entities.GroupName,
			PracticeAreaName: a.cfg.Entities.PracticeAreaName,
			CalendarName:     a.cfg.Entities.CalendarName,
		}, a.log)

		run := ledger.Run{Command: "bootstrap", StartedAt: started, Duration: time.Since(started)}
		if err != nil {
			run.Error = err.Error()
		}
		if lerr := a.runs.RecordRun(ctx, run); lerr != nil {
			fmt.Printf("%s could not record run: %v\n", ui.RenderWarn("⚠"), lerr)
		}
		if err != nil {
			fatal("%v", err)
		}

		fmt.Printf("%s Bootstrap complete\n", ui.RenderPass("✓"))
		fmt.Printf("   Client:        %s (%d)\n", ents.ClientName, ents.ClientID)
		fmt.Printf("   Group:         %s (%d)\n", ents.GroupName, ents.GroupID)
		fmt.Printf("   Practice area: %s (%d)\n", ents.PracticeAreaName, ents.PracticeAreaID)
		fmt.Printf("   Calendar:      %s (%d)\n", ents.CalendarName, ents.CalendarID)
		fmt.Printf("   Custom fields: %d\n", len(fields.All()))
	},
}

func init() {
	rootCmd.AddCommand(bootstrapCmd)
}
