package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/oncolens/fhirbridge/internal/audit"
	"github.com/oncolens/fhirbridge/internal/config"
	"github.com/oncolens/fhirbridge/internal/extract"
	"github.com/oncolens/fhirbridge/internal/runner"
	"github.com/oncolens/fhirbridge/internal/secrets"
	"github.com/oncolens/fhirbridge/internal/session"
	"github.com/oncolens/fhirbridge/internal/storage"
	"github.com/oncolens/fhirbridge/internal/variant"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "fhirbridge",
		Short: "Batch clinical data extraction from EHR FHIR endpoints",
	}

	rootCmd.AddCommand(runCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one extraction for the configured cohort",
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath, _ := cmd.Flags().GetString("config")
			if configPath == "" {
				configPath = os.Getenv("CONFIG_FILE")
			}
			if configPath == "" {
				return fmt.Errorf("--config or CONFIG_FILE is required")
			}
			return runExtraction(configPath)
		},
	}
	cmd.Flags().String("config", "", "Path to the run configuration YAML")
	return cmd
}

func runExtraction(configPath string) error {
	// Logger
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if os.Getenv("ENVIRONMENT") == "development" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	runID := uuid.New().String()
	logger = logger.With().Str("run_id", runID).Logger()
	recorder := audit.NewRecorder(runID, logger)
	recorder.Record(audit.StatusStarted, "main process", "Extraction run started")

	ctx := context.Background()

	// The audit trail must survive every exit path; store and audit path are
	// bound as soon as they are known.
	var store storage.Store
	var auditPath string
	flush := func() {
		flushAudit(ctx, recorder, store, auditPath, logger)
	}

	// Config
	cfg, err := config.Load(configPath)
	if err != nil {
		recorder.Record(audit.StatusErrored, "main process", fmt.Sprintf("Unable to load configuration - %v", err))
		flush()
		return err
	}
	recorder.SetContext(cfg.Customer, cfg.SiteID, cfg.Variant, cfg.CohortListFile)
	cfg.ExpandOutputPaths(time.Now())
	auditPath = cfg.AuditOutputFilePath
	logger.Info().Str("customer", cfg.Customer).Str("site", cfg.SiteID).
		Str("variant", cfg.Variant).Msg("configuration loaded")

	// Variant profile
	profile, err := variant.ForName(cfg.Variant)
	if err != nil {
		recorder.Record(audit.StatusErrored, "main process", fmt.Sprintf("Unknown fhirBridgeType - %v", err))
		flush()
		return err
	}

	// Blob store
	bucket := storage.BucketName(cfg.Environment, cfg.Customer)
	s3store, err := storage.NewS3Store(ctx, bucket, cfg.S3Endpoint, logger)
	if err != nil {
		recorder.Record(audit.StatusErrored, "main process", fmt.Sprintf("Unable to initialize object storage - %v", err))
		flush()
		return err
	}
	store = s3store

	// Site credentials
	resolver, err := secrets.NewManagerResolver(ctx)
	if err != nil {
		recorder.Record(audit.StatusErrored, "main process", fmt.Sprintf("Unable to reach secret store - %v", err))
		flush()
		return err
	}
	raw, err := resolver.Resolve(ctx, cfg.SecretName)
	if err != nil {
		recorder.Record(audit.StatusErrored, "main process", fmt.Sprintf("Unable to resolve secret %s - %v", cfg.SecretName, err))
		flush()
		return err
	}
	creds, err := secrets.Lookup(raw, cfg.Customer, cfg.SiteID)
	if err != nil {
		recorder.Record(audit.StatusErrored, "main process",
			fmt.Sprintf("No credentials for customer %s site %s - %v", cfg.Customer, cfg.SiteID, err))
		flush()
		return err
	}
	cfg.ClientID = creds.ClientID
	cfg.ClientSecret = creds.ClientSecret

	// Token provider and session manager
	provider, err := session.ProviderFor(profile.TokenStrategy, logger)
	if err != nil {
		recorder.Record(audit.StatusErrored, "main process", fmt.Sprintf("Unsupported token strategy - %v", err))
		flush()
		return err
	}
	sessions := session.NewManager(cfg, provider, profile.RequireAuthURL, recorder, logger)

	// Extraction pipeline
	fetcher := extract.NewFetcher(recorder, logger)
	cohort := extract.NewResolver(recorder, logger)
	orch := extract.NewOrchestrator(cfg, profile, fetcher, store, recorder, logger)
	run := runner.New(cfg, profile, sessions, cohort, orch, store, recorder, logger)

	if err := run.Run(ctx); err != nil {
		recorder.Record(audit.StatusErrored, "main process", fmt.Sprintf("Extraction run failed - %s", audit.Trace(err)))
		logger.Error().Err(err).Msg("extraction run failed")
		flush()
		return err
	}

	recorder.Record(audit.StatusCompleted, "main process", "Extraction run completed")
	flush()
	logger.Info().Msg("extraction run completed")
	return nil
}

// flushAudit writes the run's audit trail locally and mirrors it to the blob
// store when one was initialized. Flush failures are logged, never fatal; the
// run's own outcome must not be masked by trouble persisting the trail.
func flushAudit(ctx context.Context, recorder *audit.Recorder, store storage.Store, path string, logger zerolog.Logger) {
	body, err := recorder.NDJSON()
	if err != nil {
		logger.Error().Err(err).Msg("unable to serialize audit trail")
		return
	}
	if path == "" {
		path = "fhirbridge-audit-" + recorder.RunID()
	}
	flushed := true
	if err := os.WriteFile(path, body, 0o644); err != nil {
		logger.Error().Err(err).Str("path", path).Msg("unable to write audit trail")
		flushed = false
	}
	if store != nil {
		if err := store.Upload(ctx, path, "application/x-ndjson", body); err != nil {
			logger.Error().Err(err).Str("key", path).Msg("unable to upload audit trail")
			flushed = false
		}
	}
	if flushed {
		logger.Info().Int("events", recorder.Len()).Str("path", path).Msg("audit trail flushed")
	}
}
