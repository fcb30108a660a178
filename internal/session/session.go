// Package session owns the authenticated connection to the remote FHIR
// server: endpoint discovery from the published conformance document, bearer
// token acquisition via a vendor-specific strategy, and wholesale session
// rebuild when a mid-run authentication or connection failure occurs. A
// Session is never patched in place — callers that hit a recoverable failure
// discard it and ask the Manager for a fresh one.
package session

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/oncolens/fhirbridge/internal/audit"
	"github.com/oncolens/fhirbridge/internal/config"
	"github.com/oncolens/fhirbridge/internal/fhir"
)

// Session is one authenticated connection: the REST client with its bearer
// token bound. Valid from Initialize until the next recoverable failure.
type Session struct {
	Client *fhir.Client
	Token  string
}

// Manager builds sessions. It owns the conformance-discovery and
// token-acquisition sequence; the rest of the engine only ever sees finished
// sessions.
type Manager struct {
	cfg            *config.RunConfig
	provider       TokenProvider
	requireAuthURL bool
	recorder       *audit.Recorder
	logger         zerolog.Logger
}

// NewManager returns a Manager for the given run. requireAuthURL comes from
// the variant profile: R4 servers must advertise both URLs, DSTU2 servers
// only the token URL.
func NewManager(cfg *config.RunConfig, provider TokenProvider, requireAuthURL bool, recorder *audit.Recorder, logger zerolog.Logger) *Manager {
	return &Manager{
		cfg:            cfg,
		provider:       provider,
		requireAuthURL: requireAuthURL,
		recorder:       recorder,
		logger:         logger,
	}
}

// Initialize opens a connection to the FHIR base, discovers the authorization
// endpoints from the conformance document, acquires a bearer token, and
// returns the bound session. A missing token (or, where required, authorize)
// URL is fatal and not retried.
func (m *Manager) Initialize(ctx context.Context) (*Session, error) {
	client := fhir.NewClient(m.cfg.FHIRBaseURL, m.logger)

	m.logger.Info().Str("base", m.cfg.FHIRBaseURL).Msg("reaching out to the conformance endpoint")
	caps, err := client.Metadata(ctx)
	if err != nil {
		m.recorder.Record(audit.StatusException, "processConformance",
			fmt.Sprintf("Unable to retrieve conformance from %s - %s", m.cfg.FHIRBaseURL, audit.Trace(err)))
		return nil, fmt.Errorf("retrieve conformance: %w", err)
	}

	m.discoverEndpoints(caps)
	if m.cfg.TokenURL == "" || (m.requireAuthURL && m.cfg.AuthURL == "") {
		m.recorder.Record(audit.StatusException, "getTokenURL",
			fmt.Sprintf("Unable to find token URL using fhirbase :%s token key :%s",
				m.cfg.FHIRBaseURL, m.cfg.TokenURLKey))
		m.logger.Error().Msg("failed to get authorization URLs, cannot proceed")
		return nil, fhir.ErrAuthConfiguration
	}

	m.logger.Info().Msg("going to get authorization token")
	token, err := m.provider.AcquireToken(ctx, m.cfg)
	if err != nil {
		m.recorder.Record(audit.StatusException, "getAccessToken",
			fmt.Sprintf("Unable to get auth token :%s token url :%s Exception - %s",
				m.cfg.FHIRBaseURL, m.cfg.TokenURL, audit.Trace(err)))
		m.logger.Error().Err(err).Msg("failed to acquire token")
		return nil, err
	}
	m.logger.Info().Msg("token received successfully")

	client.SetToken(token)
	m.logger.Info().Msg("session initialization successful")
	return &Session{Client: client, Token: token}, nil
}

// discoverEndpoints searches the conformance security extensions declared
// under the configured authorization namespace for the authorize and token
// URLs, storing whatever it finds on the run config.
func (m *Manager) discoverEndpoints(caps *fhir.CapabilityStatement) {
	exts := caps.SecurityExtensions(m.cfg.AuthNamespace)
	if len(exts) == 0 {
		return
	}
	m.logger.Info().Msg("found authorization details in conformance, looking for auth and token urls")
	for _, ext := range exts {
		switch ext.URL {
		case m.cfg.AuthURLKey:
			m.cfg.AuthURL = ext.Value()
			m.logger.Info().Msg("found authorization URL in conformance")
		case m.cfg.TokenURLKey:
			m.cfg.TokenURL = ext.Value()
			m.logger.Info().Msg("found token URL in conformance")
		}
	}
}
