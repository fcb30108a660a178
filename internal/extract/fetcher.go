package extract

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/oncolens/fhirbridge/internal/audit"
	"github.com/oncolens/fhirbridge/internal/fhir"
	"github.com/oncolens/fhirbridge/internal/session"
	"github.com/oncolens/fhirbridge/internal/variant"
)

// Fetcher retrieves one resource type for one patient: every query of the
// plan's fan-out in order, every page of every query, then post-fetch type
// validation. Query-level rejections are audited and degrade to empty
// results; authentication and connection failures bubble up so the caller
// can rebuild the session.
type Fetcher struct {
	recorder *audit.Recorder
	logger   zerolog.Logger
}

// NewFetcher returns a Fetcher.
func NewFetcher(recorder *audit.Recorder, logger zerolog.Logger) *Fetcher {
	return &Fetcher{recorder: recorder, logger: logger}
}

// FetchSet executes the plan for one patient and returns the accumulated
// resource set. Zero results is not an error. Duplicates across fan-out
// categories are preserved.
func (f *Fetcher) FetchSet(ctx context.Context, sess *session.Session, plan variant.Plan, patientID string) ([]fhir.Resource, error) {
	var out []fhir.Resource
	for _, query := range plan.SearchQueries(patientID) {
		resources, err := sess.Client.SearchAll(ctx, query)
		switch {
		case errors.Is(err, fhir.ErrNotFound):
			// Some servers 404 an empty compartment; treat as zero results.
			continue
		case err != nil:
			var reqErr *fhir.RequestError
			if errors.As(err, &reqErr) {
				// Bad request usually means bad data on the server side;
				// skip this query only and keep going.
				f.logger.Error().Err(err).Str("query", query).Msg("query rejected, skipping")
				f.recorder.Record(audit.StatusValidationFailed, query,
					fmt.Sprintf("Exception occurred getting resources by URL - %v", err))
				continue
			}
			return nil, err
		}
		if plan.Validate {
			resources = f.ensureType(resources, plan.ResourceType)
		}
		f.logger.Info().Int("count", len(resources)).Str("query", query).Msgf("%s fetched", plan.Label)
		out = append(out, resources...)
	}
	return out, nil
}

// ensureType drops every resource whose concrete type is not the expected
// one. Error/outcome payloads get their diagnostic text logged before being
// dropped; any other mismatch is logged by type.
func (f *Fetcher) ensureType(resources []fhir.Resource, want string) []fhir.Resource {
	kept := resources[:0]
	for _, r := range resources {
		if r.Type == want {
			kept = append(kept, r)
			continue
		}
		if r.Type == "OperationOutcome" {
			f.logger.Info().Str("diagnostics", fhir.OutcomeText(r.Raw)).Msg("operation outcome returned in result set, dropped")
			continue
		}
		f.logger.Info().Str("expected", want).Str("found", r.Type).Msg("unexpected resource type, dropped")
	}
	return kept
}
