// Package runner sequences a whole extraction run: cohort load, session
// bootstrap, the per-patient extraction loop with its single re-auth retry,
// and the persistence of each patient's serialized record.
package runner

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"

	"github.com/oncolens/fhirbridge/internal/audit"
	"github.com/oncolens/fhirbridge/internal/config"
	"github.com/oncolens/fhirbridge/internal/extract"
	"github.com/oncolens/fhirbridge/internal/fhir"
	"github.com/oncolens/fhirbridge/internal/session"
	"github.com/oncolens/fhirbridge/internal/storage"
	"github.com/oncolens/fhirbridge/internal/variant"
)

// Runner owns one run end to end. It is built once in main and discarded when
// the run finishes.
type Runner struct {
	cfg      *config.RunConfig
	profile  *variant.Profile
	sessions *session.Manager
	resolver *extract.Resolver
	orch     *extract.Orchestrator
	store    storage.Store
	recorder *audit.Recorder
	logger   zerolog.Logger
}

// New wires a Runner from its already-constructed parts.
func New(cfg *config.RunConfig, profile *variant.Profile, sessions *session.Manager, resolver *extract.Resolver, orch *extract.Orchestrator, store storage.Store, recorder *audit.Recorder, logger zerolog.Logger) *Runner {
	return &Runner{
		cfg:      cfg,
		profile:  profile,
		sessions: sessions,
		resolver: resolver,
		orch:     orch,
		store:    store,
		recorder: recorder,
		logger:   logger,
	}
}

// Run executes the full extraction. Per-patient recoverable failures trigger
// exactly one session rebuild and retry; a second failure for the same
// patient aborts the run so a stuck credential does not burn through the
// whole cohort.
func (r *Runner) Run(ctx context.Context) error {
	if len(r.cfg.Extracts) == 0 {
		r.recorder.Record(audit.StatusException, "CreateExtract",
			"No extracts configured, nothing to do")
		return fmt.Errorf("no extracts configured")
	}

	sess, err := r.sessions.Initialize(ctx)
	if err != nil {
		return err
	}

	entries, err := r.readCohortFile(r.cfg.CohortListFile)
	if err != nil {
		r.recorder.Record(audit.StatusException, "createPatientCohort",
			fmt.Sprintf("Unable to read cohort file %s - %v", r.cfg.CohortListFile, err))
		return err
	}
	r.logger.Info().Int("entries", len(entries)).Msg("cohort file loaded")

	patients, err := r.resolver.Resolve(ctx, sess, entries, r.cfg.CohortSelectionType)
	if err != nil {
		return err
	}
	r.logger.Info().Int("patients", len(patients)).Msg("cohort resolved")

	accum := &extract.Accumulator{}
	for _, patient := range patients {
		req := extract.NewRequest(r.cfg.Extracts)
		lines, err := r.orch.Extract(ctx, sess, patient, req, accum)
		if fhir.IsRecoverable(err) {
			r.logger.Warn().Err(err).Str("patient", patient.Identifier).
				Msg("recoverable failure, rebuilding session and retrying patient once")
			sess, err = r.sessions.Initialize(ctx)
			if err != nil {
				return err
			}
			req = extract.NewRequest(r.cfg.Extracts)
			lines, err = r.orch.Extract(ctx, sess, patient, req, accum)
		}
		if err != nil {
			r.recorder.Record(audit.StatusException, "Patient/"+patient.LogicalID,
				fmt.Sprintf("Exception occurred extracting patient %s - %s", patient.Identifier, audit.Trace(err)))
			return err
		}

		if leftover := req.Remaining(); len(leftover) > 0 {
			r.logger.Warn().Strs("extracts", leftover).
				Msg("configured extracts not supported by this variant")
		}

		if err := r.persistPatient(ctx, patient, lines); err != nil {
			return err
		}
	}

	r.logger.Info().Int("patients", len(patients)).Int("resources", accum.Count()).
		Msg("extraction run finished")
	return nil
}

// persistPatient writes the patient's NDJSON record locally and mirrors it to
// the blob store keyed by logical id.
func (r *Runner) persistPatient(ctx context.Context, patient extract.ResolvedPatient, lines []string) error {
	body := []byte(strings.Join(lines, "\n") + "\n")
	key := r.cfg.DataOutputFilePath + "-" + patient.LogicalID

	if err := os.WriteFile(key, body, 0o644); err != nil {
		r.recorder.Record(audit.StatusException, "Patient/"+patient.LogicalID,
			fmt.Sprintf("Unable to write extract file %s - %v", key, err))
		return err
	}
	if err := r.store.Upload(ctx, key, "text/plain", body); err != nil {
		r.recorder.Record(audit.StatusException, "Patient/"+patient.LogicalID,
			fmt.Sprintf("Unable to upload extract file %s - %v", key, err))
		return err
	}
	r.logger.Info().Str("key", key).Int("resources", len(lines)).Msg("patient extract persisted")
	return nil
}

// readCohortFile returns the non-blank lines of the cohort file.
func (r *Runner) readCohortFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var entries []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		entries = append(entries, line)
	}
	return entries, scanner.Err()
}
