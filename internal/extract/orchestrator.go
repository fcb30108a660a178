package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/rs/zerolog"

	"github.com/oncolens/fhirbridge/internal/audit"
	"github.com/oncolens/fhirbridge/internal/config"
	"github.com/oncolens/fhirbridge/internal/fhir"
	"github.com/oncolens/fhirbridge/internal/session"
	"github.com/oncolens/fhirbridge/internal/storage"
	"github.com/oncolens/fhirbridge/internal/variant"
)

// ccdOperation is the vendor operation that generates a consolidated CCD for
// a patient, returned as a base64-encoded Binary.
const ccdOperation = "autogen-ccd-if"

// Orchestrator drives the ordered list of requested extract types for one
// patient: the patient's own record first, then each recognized token in the
// variant's priority order. Structured resources are serialized into the
// returned NDJSON lines; documents and consolidated CCDs go straight to blob
// storage and are never part of the serialized output.
type Orchestrator struct {
	cfg      *config.RunConfig
	profile  *variant.Profile
	fetcher  *Fetcher
	store    storage.Store
	recorder *audit.Recorder
	logger   zerolog.Logger
}

// NewOrchestrator returns an Orchestrator.
func NewOrchestrator(cfg *config.RunConfig, profile *variant.Profile, fetcher *Fetcher, store storage.Store, recorder *audit.Recorder, logger zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		cfg:      cfg,
		profile:  profile,
		fetcher:  fetcher,
		store:    store,
		recorder: recorder,
		logger:   logger,
	}
}

// Extract processes every recognized extract token still pending in req and
// returns the serialized structured resources in their stable output order.
// Tokens are consumed as they are attempted; unrecognized tokens stay in req
// for the caller to report.
func (o *Orchestrator) Extract(ctx context.Context, sess *session.Session, patient ResolvedPatient, req *Request, accum *Accumulator) ([]string, error) {
	resources := []fhir.Resource{patient.Resource}

	for _, plan := range o.profile.Plans {
		if !req.Has(plan.Token) {
			continue
		}
		switch plan.Kind {
		case variant.KindStructured:
			fetched, err := o.fetcher.FetchSet(ctx, sess, plan, patient.LogicalID)
			if err != nil {
				return nil, err
			}
			resources = append(resources, fetched...)
		case variant.KindDocument:
			if err := o.fetchDocuments(ctx, sess, plan, patient); err != nil {
				return nil, err
			}
		case variant.KindOperation:
			if err := o.fetchConsolidatedCCD(ctx, sess, patient); err != nil {
				return nil, err
			}
		}
		req.Remove(plan.Token)
	}

	lines := make([]string, 0, len(resources))
	for _, r := range resources {
		line, err := r.CompactJSON()
		if err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	accum.Add(len(resources))
	return lines, nil
}

// fetchDocuments retrieves the patient's referenced documents: every
// DocumentReference content attachment whose content type matches the
// configured one is read by URL, base64-decoded, and persisted keyed by
// patient and document identifiers. Per-document failures are audited and
// skipped; only auth/connection failures abort.
func (o *Orchestrator) fetchDocuments(ctx context.Context, sess *session.Session, plan variant.Plan, patient ResolvedPatient) error {
	refs, err := o.fetcher.FetchSet(ctx, sess, plan, patient.LogicalID)
	if err != nil {
		return err
	}
	o.logger.Info().Int("count", len(refs)).Msg("document references fetched")

	for _, ref := range refs {
		var doc fhir.DocumentReference
		if err := json.Unmarshal(ref.Raw, &doc); err != nil {
			o.recorder.Record(audit.StatusValidationFailed, "DocumentReference/"+ref.ID,
				fmt.Sprintf("Unparseable document reference for patient %s - %v", patient.Identifier, err))
			continue
		}
		// A document can be offered in several renditions; only the
		// configured content type is persisted.
		for _, content := range doc.Content {
			contentType := content.Attachment.ContentType
			contentURL := content.Attachment.URL
			if contentType == "" || contentURL == "" {
				o.logger.Info().Msg("content type and URL were null")
				continue
			}
			if !strings.EqualFold(contentType, o.cfg.DocumentContentType) {
				o.logger.Info().
					Str("found", contentType).
					Str("looking_for", o.cfg.DocumentContentType).
					Msg("document content type did not match")
				continue
			}
			if err := o.persistDocument(ctx, sess, contentURL, doc.ID, patient); err != nil {
				return err
			}
		}
	}
	return nil
}

// persistDocument reads one Binary document and uploads it keyed by
// patient and document id.
func (o *Orchestrator) persistDocument(ctx context.Context, sess *session.Session, contentURL, docID string, patient ResolvedPatient) error {
	bin, err := sess.Client.ReadBinary(ctx, contentURL)
	if err != nil {
		if fhir.IsRecoverable(err) {
			return err
		}
		o.recorder.Record(audit.StatusValidationFailed, "Binary/"+docID,
			fmt.Sprintf("Exception occurred getting CCD document and hence skipping, for patient %s due to %v", patient.LogicalID, err))
		return nil
	}
	data, err := bin.Decoded()
	if err != nil {
		o.recorder.Record(audit.StatusValidationFailed, "Binary/"+docID,
			fmt.Sprintf("Exception occurred getting CCD document and hence skipping, for patient %s due to %v", patient.LogicalID, err))
		return nil
	}

	key := o.cfg.CCDOutputFilePath + "-" + patient.LogicalID + "-" + docID
	if err := o.store.Upload(ctx, key, o.cfg.DocumentContentType, data); err != nil {
		o.recorder.Record(audit.StatusValidationFailed, "Binary/"+docID,
			fmt.Sprintf("Exception occurred storing CCD document for patient %s due to %v", patient.LogicalID, err))
		return nil
	}
	o.logger.Info().Str("key", key).Int("bytes", len(data)).Msg("document persisted")
	return nil
}

// fetchConsolidatedCCD invokes the consolidated-document generation
// operation for the patient and persists the result. The operation needs the
// patient's logical id; identifiers such as MRNs do not work.
func (o *Orchestrator) fetchConsolidatedCCD(ctx context.Context, sess *session.Session, patient ResolvedPatient) error {
	params := url.Values{}
	params.Set("patient", patient.LogicalID)
	par, err := sess.Client.Operation(ctx, "Binary", ccdOperation, params)
	if err != nil {
		if fhir.IsRecoverable(err) {
			return err
		}
		o.recorder.Record(audit.StatusValidationFailed, "Patient/"+patient.LogicalID,
			fmt.Sprintf("Exception occurred getting CCD using operationccd and hence skipping, for %s due to %v", patient.Identifier, err))
		return nil
	}
	if len(par.Parameter) == 0 || len(par.Parameter[0].Resource) == 0 {
		o.recorder.Record(audit.StatusValidationFailed, "Patient/"+patient.LogicalID,
			fmt.Sprintf("Exception occurred getting CCD using operationccd and hence skipping, for %s due to empty operation response", patient.Identifier))
		return nil
	}

	var bin fhir.Binary
	if err := json.Unmarshal(par.Parameter[0].Resource, &bin); err != nil {
		o.recorder.Record(audit.StatusValidationFailed, "Patient/"+patient.LogicalID,
			fmt.Sprintf("Exception occurred getting CCD using operationccd and hence skipping, for %s due to %v", patient.Identifier, err))
		return nil
	}
	data, err := bin.Decoded()
	if err != nil {
		o.recorder.Record(audit.StatusValidationFailed, "Patient/"+patient.LogicalID,
			fmt.Sprintf("Exception occurred getting CCD using operationccd and hence skipping, for %s due to %v", patient.Identifier, err))
		return nil
	}

	key := o.cfg.CCDOutputFilePath + "-" + patient.Identifier
	if err := o.store.Upload(ctx, key, "application/xml", data); err != nil {
		o.recorder.Record(audit.StatusValidationFailed, "Patient/"+patient.LogicalID,
			fmt.Sprintf("Exception occurred storing generated CCD for %s due to %v", patient.Identifier, err))
		return nil
	}
	o.logger.Info().Str("key", key).Int("bytes", len(data)).Msg("consolidated CCD persisted")
	return nil
}
