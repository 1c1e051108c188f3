// Command databridge reconciles property-code enforcement records
// between the city GIS feature service and the legal clinic's case
// management system. Changed records are staged as durable batch files
// between fetch and push, so neither side's outage loses data.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/npclinic/databridge/internal/bootstrap"
	"github.com/npclinic/databridge/internal/cms"
	"github.com/npclinic/databridge/internal/config"
	"github.com/npclinic/databridge/internal/geo"
	"github.com/npclinic/databridge/internal/ledger"
	"github.com/npclinic/databridge/internal/logging"
	"github.com/npclinic/databridge/internal/pipeline"
	"github.com/npclinic/databridge/internal/queue"
	"github.com/npclinic/databridge/internal/record"
	"github.com/npclinic/databridge/internal/schema"
	"github.com/npclinic/databridge/internal/watermark"
)

var (
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "databridge",
	Short: "Sync property-code cases between GIS and the case manager",
	Long: `databridge keeps the city GIS litigation layers and the legal
clinic's case management system in agreement.

Changed records are fetched incrementally past a per-direction
watermark, staged as durable batch files under the data directory, and
pushed with per-record retry. A record that fails to push stays queued;
everything else in its batch goes through.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default databridge.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}

// app is everything a command needs, wired once per invocation.
type app struct {
	cfg    *config.Config
	log    *zap.Logger
	bridge *pipeline.Bridge
	cms    *cms.Client
	tokens *cms.TokenStore
	runs   *ledger.Ledger
}

// newApp loads config and builds the full pipeline wiring. When
// requireBootstrap is set, missing entity or schema files are fatal
// with a pointer at the bootstrap command.
func newApp(requireBootstrap bool) *app {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		fatal("%v", err)
	}
	if verbose {
		cfg.Logging.Level = "debug"
	}

	log, err := logging.New(cfg.Logging)
	if err != nil {
		fatal("%v", err)
	}

	tokens, err := cms.NewTokenStore(filepath.Join(cfg.DataDir, "auth"))
	if err != nil {
		fatal("%v", err)
	}

	cmsClient := cms.NewClient(
		cms.Config{BaseURL: cfg.CMS.BaseURL, Timeout: cfg.CMSTimeout(), RetryCount: cfg.CMS.RetryCount},
		oauthConfig(cfg),
		tokens,
		log,
	)
	geoClient := geo.NewClient(geo.Config{
		Host:          cfg.Geo.Host,
		FeaturePath:   cfg.Geo.FeaturePath,
		IncidentLayer: cfg.Geo.IncidentLayer,
		HistoryLayer:  cfg.Geo.HistoryLayer,
		Timeout:       cfg.GeoTimeout(),
		RetryCount:    cfg.Geo.RetryCount,
	}, log)

	incidents, err := queue.New[record.Incident](cfg.QueueDir("incidents"))
	if err != nil {
		fatal("%v", err)
	}
	attachments, err := queue.New[record.Attachment](cfg.QueueDir("attachments"))
	if err != nil {
		fatal("%v", err)
	}
	updates, err := queue.New[record.CaseSnapshot](cfg.QueueDir("cases"))
	if err != nil {
		fatal("%v", err)
	}

	marks, err := watermark.NewStore(filepath.Join(cfg.DataDir, "watermarks"))
	if err != nil {
		fatal("%v", err)
	}

	runs, err := ledger.Open(filepath.Join(cfg.DataDir, "runs.db"))
	if err != nil {
		fatal("%v", err)
	}

	ents, haveEnts, err := bootstrap.Load(cfg.DataDir)
	if err != nil {
		fatal("%v", err)
	}
	fields, haveFields, err := schema.Load(bootstrap.FieldsPath(cfg.DataDir))
	if err != nil {
		fatal("%v", err)
	}
	if requireBootstrap && (!haveEnts || !haveFields || !ents.Complete()) {
		fatal("reference entities not provisioned; run 'databridge bootstrap' first")
	}

	bridge := &pipeline.Bridge{
		Geo:         geoClient,
		History:     geoClient,
		Cases:       cmsClient,
		Incidents:   incidents,
		Attachments: attachments,
		Updates:     updates,
		Marks:       marks,
		Fields:      fields,
		Refs:        ents,
		Log:         log,
	}

	return &app{cfg: cfg, log: log, bridge: bridge, cms: cmsClient, tokens: tokens, runs: runs}
}

func (a *app) close() {
	_ = a.runs.Close()
	_ = a.log.Sync()
}

func oauthConfig(cfg *config.Config) cms.OAuthConfig {
	return cms.OAuthConfig{
		ClientID:     cfg.CMS.ClientID,
		ClientSecret: cfg.CMS.ClientSecret,
		AuthURL:      cfg.CMS.AuthURL,
		TokenURL:     cfg.CMS.TokenURL,
		CallbackURL:  cfg.CMS.CallbackURL,
	}
}
