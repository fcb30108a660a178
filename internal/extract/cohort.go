package extract

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/rs/zerolog"

	"github.com/oncolens/fhirbridge/internal/audit"
	"github.com/oncolens/fhirbridge/internal/config"
	"github.com/oncolens/fhirbridge/internal/fhir"
	"github.com/oncolens/fhirbridge/internal/session"
)

// ErrInvalidCohortMode reports an unsupported cohort selection type. Fatal:
// no cohort can be resolved.
var ErrInvalidCohortMode = errors.New("invalid cohort selection type")

// ResolvedPatient pairs a submitted cohort identifier with the patient record
// it resolved to. Identifier is preserved verbatim from the cohort file;
// LogicalID is the server-assigned id used for all subsequent queries.
type ResolvedPatient struct {
	Identifier string
	LogicalID  string
	Resource   fhir.Resource
}

// Resolver converts caller-supplied cohort entries into resolved patients.
// Entries that resolve to zero or multiple patients are audited and skipped;
// they never abort the run.
type Resolver struct {
	recorder *audit.Recorder
	logger   zerolog.Logger
}

// NewResolver returns a Resolver.
func NewResolver(recorder *audit.Recorder, logger zerolog.Logger) *Resolver {
	return &Resolver{recorder: recorder, logger: logger}
}

// Resolve looks up every cohort entry. Each entry is a "system, identifier"
// line; the remote service is queried for a patient carrying exactly that
// identifier in that system.
func (r *Resolver) Resolve(ctx context.Context, sess *session.Session, entries []string, mode string) ([]ResolvedPatient, error) {
	if mode != config.CohortModePatientID {
		r.recorder.Record(audit.StatusErrored, "createPatientCohort",
			fmt.Sprintf("Invalid cohortSelectionType : %s", mode))
		return nil, fmt.Errorf("%w: %q", ErrInvalidCohortMode, mode)
	}

	var resolved []ResolvedPatient
	seen := make(map[string]bool)
	for _, entry := range entries {
		parts := strings.SplitN(entry, ",", 2)
		if len(parts) != 2 {
			r.recorder.Record(audit.StatusValidationFailed, "Patient:"+entry,
				fmt.Sprintf("Malformed cohort entry %q, expected system, identifier", entry))
			continue
		}
		system := strings.TrimSpace(parts[0])
		identifier := strings.TrimSpace(parts[1])

		query := "Patient?identifier=" + url.QueryEscape(system+"|"+identifier)
		results, err := sess.Client.SearchAll(ctx, query)
		if errors.Is(err, fhir.ErrNotFound) {
			results, err = nil, nil
		}
		if err != nil {
			return nil, err
		}

		if len(results) != 1 {
			r.recorder.Record(audit.StatusValidationFailed, "Patient:"+entry,
				fmt.Sprintf("%d patients returned for %s ,expected one", len(results), entry))
			continue
		}

		res := results[0]
		switch res.Type {
		case "Patient":
			if seen[identifier] {
				r.recorder.Record(audit.StatusValidationFailed, "Patient:"+entry,
					fmt.Sprintf("Duplicate cohort identifier %s, already resolved in this run", identifier))
				continue
			}
			seen[identifier] = true
			resolved = append(resolved, ResolvedPatient{
				Identifier: identifier,
				LogicalID:  res.ID,
				Resource:   res,
			})
		case "OperationOutcome":
			r.recorder.Record(audit.StatusValidationFailed, "Patient:"+entry,
				fmt.Sprintf("Patient retrieval unsuccessful for %s due to %s", entry, fhir.OutcomeText(res.Raw)))
		default:
			r.recorder.Record(audit.StatusValidationFailed, "Patient:"+entry,
				fmt.Sprintf("Patient retrieval unsuccessful for %s due to unknown reasons", entry))
		}
	}
	return resolved, nil
}
