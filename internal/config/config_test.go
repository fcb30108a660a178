package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

const testConfigYAML = `fhirBaseURL: https://ehr.example.com/api/FHIR/R4
fhirSourceSystem: epic
fhirVersion: r4
scope: system/*.read
cohortListFile: /data/cohort.txt
dataOutputFilePath: siteId-fhirSourceSystem-fhirVersion-date-data
ccdOutputFilePath: siteId-fhirSourceSystem-fhirVersion-date-ccd
auditOutputFilePath: siteId-fhirSourceSystem-fhirVersion-datetime-audit
documentContentType: text/xml
fhirBridgeType: R4EPIC
extracts:
  - observation
  - condition
  - documentreference
fhirAuthNameSpace: http://fhir-registry.smarthealthit.org/StructureDefinition/oauth-uris
fhirAuthUrlKey: authorize
fhirTokenUrlKey: token
environment: dev
customer: uky
siteId: site-9
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "run.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	cfg, err := Load(writeConfig(t, testConfigYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.FHIRBaseURL != "https://ehr.example.com/api/FHIR/R4" {
		t.Errorf("unexpected base URL %s", cfg.FHIRBaseURL)
	}
	if cfg.Variant != "R4EPIC" {
		t.Errorf("expected variant R4EPIC, got %s", cfg.Variant)
	}
	if len(cfg.Extracts) != 3 || cfg.Extracts[0] != "observation" {
		t.Errorf("unexpected extracts %v", cfg.Extracts)
	}
	if cfg.Customer != "uky" || cfg.SiteID != "site-9" {
		t.Errorf("unexpected identity %s/%s", cfg.Customer, cfg.SiteID)
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, testConfigYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.CohortSelectionType != CohortModePatientID {
		t.Errorf("expected default cohortSelectionType %s, got %s", CohortModePatientID, cfg.CohortSelectionType)
	}
	if cfg.SecretName != "fhir/dev/secrets" {
		t.Errorf("expected default secretName, got %s", cfg.SecretName)
	}
	if cfg.GrantType != "client_credentials" {
		t.Errorf("expected default grantType, got %s", cfg.GrantType)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("COHORT_FILE", "/mnt/run/cohort-override.txt")
	t.Setenv("SECRET_NAME", "fhir/prod/secrets")

	cfg, err := Load(writeConfig(t, testConfigYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.CohortListFile != "/mnt/run/cohort-override.txt" {
		t.Errorf("COHORT_FILE must override the file value, got %s", cfg.CohortListFile)
	}
	if cfg.SecretName != "fhir/prod/secrets" {
		t.Errorf("SECRET_NAME must override the default, got %s", cfg.SecretName)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestValidate(t *testing.T) {
	base := func() *RunConfig {
		return &RunConfig{
			FHIRBaseURL:    "https://ehr.example.com",
			Variant:        "R4",
			CohortListFile: "/data/cohort.txt",
			AuthNamespace:  "http://example.com/oauth-uris",
			TokenURLKey:    "token",
			Customer:       "uky",
			SiteID:         "site-9",
		}
	}

	if err := base().Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*RunConfig)
	}{
		{"missing base URL", func(c *RunConfig) { c.FHIRBaseURL = "" }},
		{"missing variant", func(c *RunConfig) { c.Variant = "" }},
		{"missing cohort file", func(c *RunConfig) { c.CohortListFile = "" }},
		{"missing token key", func(c *RunConfig) { c.TokenURLKey = "" }},
		{"missing customer", func(c *RunConfig) { c.Customer = "" }},
		{"missing site", func(c *RunConfig) { c.SiteID = "" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base()
			tc.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestExpandOutputPaths(t *testing.T) {
	cfg := &RunConfig{
		SiteID:              "site-9",
		FHIRSourceSystem:    "epic",
		FHIRVersion:         "r4",
		DataOutputFilePath:  "siteId-fhirSourceSystem-fhirVersion-date-data",
		CCDOutputFilePath:   "siteId-fhirSourceSystem-fhirVersion-date-ccd",
		AuditOutputFilePath: "siteId-fhirSourceSystem-fhirVersion-datetime-audit",
	}

	now := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	cfg.ExpandOutputPaths(now)

	if cfg.DataOutputFilePath != "site-9-epic-r4-20260314-data" {
		t.Errorf("unexpected data path %s", cfg.DataOutputFilePath)
	}
	if cfg.CCDOutputFilePath != "site-9-epic-r4-20260314-ccd" {
		t.Errorf("unexpected ccd path %s", cfg.CCDOutputFilePath)
	}
	// The audit path carries the full timestamp so reruns on the same day do
	// not overwrite each other's trail.
	if cfg.AuditOutputFilePath != "site-9-epic-r4-20260314092653-audit" {
		t.Errorf("unexpected audit path %s", cfg.AuditOutputFilePath)
	}
}
