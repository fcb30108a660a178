// Package config loads and validates the immutable per-run configuration for
// the extraction engine. A run config is read once at startup from a YAML
// file (plus a few environment overrides) and never mutated afterwards,
// except for the two authorization URLs discovered from the server's
// conformance document.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// CohortModePatientID is the only supported cohort selection mode: each
// cohort line is a "system, identifier" pair looked up verbatim.
const CohortModePatientID = "patientid"

// RunConfig is the per-run settings bundle. Field names mirror the YAML keys
// sites already ship.
type RunConfig struct {
	// Populated during endpoint discovery, not from the config file.
	AuthURL  string `mapstructure:"-"`
	TokenURL string `mapstructure:"-"`

	FHIRBaseURL      string `mapstructure:"fhirBaseURL"`
	FHIRSourceSystem string `mapstructure:"fhirSourceSystem"`
	FHIRVersion      string `mapstructure:"fhirVersion"`
	Scope            string `mapstructure:"scope"`
	GrantType        string `mapstructure:"grantType"`

	// Populated from the secret store after load, keyed by customer/site.
	ClientID     string `mapstructure:"-"`
	ClientSecret string `mapstructure:"-"`

	CohortSelectionType string `mapstructure:"cohortSelectionType"`
	CohortListFile      string `mapstructure:"cohortListFile"`

	DataOutputFilePath  string `mapstructure:"dataOutputFilePath"`
	CCDOutputFilePath   string `mapstructure:"ccdOutputFilePath"`
	AuditOutputFilePath string `mapstructure:"auditOutputFilePath"`
	DocumentContentType string `mapstructure:"documentContentType"`

	Variant  string   `mapstructure:"fhirBridgeType"`
	Extracts []string `mapstructure:"extracts"`

	AuthNamespace string `mapstructure:"fhirAuthNameSpace"`
	AuthURLKey    string `mapstructure:"fhirAuthUrlKey"`
	TokenURLKey   string `mapstructure:"fhirTokenUrlKey"`

	S3Endpoint  string `mapstructure:"s3Endpoint"`
	Environment string `mapstructure:"environment"`
	Customer    string `mapstructure:"customer"`
	SiteID      string `mapstructure:"siteId"`
	SecretName  string `mapstructure:"secretName"`
}

// Load reads the run configuration from the given YAML file. COHORT_FILE,
// S3_ENDPOINT, ENVIRONMENT and SECRET_NAME environment variables override
// their file counterparts so container schedulers can inject them per run.
func Load(path string) (*RunConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetDefault("cohortSelectionType", CohortModePatientID)
	v.SetDefault("secretName", "fhir/dev/secrets")
	v.SetDefault("grantType", "client_credentials")

	v.BindEnv("cohortListFile", "COHORT_FILE")
	v.BindEnv("s3Endpoint", "S3_ENDPOINT")
	v.BindEnv("environment", "ENVIRONMENT")
	v.BindEnv("secretName", "SECRET_NAME")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	cfg := &RunConfig{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that the settings a run cannot start without are present.
func (c *RunConfig) Validate() error {
	if c.FHIRBaseURL == "" {
		return fmt.Errorf("fhirBaseURL is required")
	}
	if c.Variant == "" {
		return fmt.Errorf("fhirBridgeType is required")
	}
	if c.CohortListFile == "" {
		return fmt.Errorf("cohortListFile is required (config key or COHORT_FILE)")
	}
	if c.AuthNamespace == "" || c.TokenURLKey == "" {
		return fmt.Errorf("fhirAuthNameSpace and fhirTokenUrlKey are required for endpoint discovery")
	}
	if c.Customer == "" || c.SiteID == "" {
		return fmt.Errorf("customer and siteId are required")
	}
	return nil
}

// ExpandOutputPaths substitutes the site/source/version/date placeholders in
// the configured output path templates. Data and CCD paths are stamped with
// the run date, the audit path with the full timestamp so successive runs do
// not overwrite each other's trail.
func (c *RunConfig) ExpandOutputPaths(now time.Time) {
	date := now.Format("20060102")
	datetime := now.Format("20060102150405")

	expand := func(tmpl, stamp, stampKey string) string {
		r := strings.NewReplacer(
			"siteId", c.SiteID,
			"fhirSourceSystem", c.FHIRSourceSystem,
			"fhirVersion", c.FHIRVersion,
			stampKey, stamp,
		)
		return r.Replace(tmpl)
	}

	c.DataOutputFilePath = expand(c.DataOutputFilePath, date, "date")
	c.CCDOutputFilePath = expand(c.CCDOutputFilePath, date, "date")
	c.AuditOutputFilePath = expand(c.AuditOutputFilePath, datetime, "datetime")
}
