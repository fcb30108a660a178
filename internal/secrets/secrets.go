// Package secrets resolves per-customer, per-site EHR client credentials from
// a secret store. The secret value is a small YAML document mapping
// customer -> site -> {clientId, clientSecret}; a missing entry for the
// configured customer/site pair is a fatal configuration error.
package secrets

import (
	"context"
	"errors"
	"fmt"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"gopkg.in/yaml.v3"
)

// ErrSiteNotFound reports that the secret document has no entry for the
// requested customer/site pair.
var ErrSiteNotFound = errors.New("no credentials for customer/site in secret")

// Resolver fetches a named secret's value from a secret store.
type Resolver interface {
	Resolve(ctx context.Context, name string) (string, error)
}

// SiteCredentials is one site's EHR client registration. The client secret is
// the site's RSA signing key for variants that authenticate with a signed
// assertion.
type SiteCredentials struct {
	ClientID     string `yaml:"clientId"`
	ClientSecret string `yaml:"clientSecret"`
}

// Lookup extracts the credentials for one customer/site pair from a raw
// secret document.
func Lookup(raw, customer, siteID string) (SiteCredentials, error) {
	var doc map[string]map[string]SiteCredentials
	if err := yaml.Unmarshal([]byte(raw), &doc); err != nil {
		return SiteCredentials{}, fmt.Errorf("parse secret document: %w", err)
	}
	sites, ok := doc[customer]
	if !ok {
		return SiteCredentials{}, fmt.Errorf("%w: customer %q", ErrSiteNotFound, customer)
	}
	creds, ok := sites[siteID]
	if !ok || creds.ClientID == "" || creds.ClientSecret == "" {
		return SiteCredentials{}, fmt.Errorf("%w: site %q under customer %q", ErrSiteNotFound, siteID, customer)
	}
	return creds, nil
}

// ---------------------------------------------------------------------------
// AWS Secrets Manager
// ---------------------------------------------------------------------------

// ManagerResolver resolves secrets from AWS Secrets Manager using the ambient
// credential chain (environment variables locally, the injected role in a
// container).
type ManagerResolver struct {
	client *secretsmanager.Client
}

// NewManagerResolver builds a resolver from the default AWS configuration.
func NewManagerResolver(ctx context.Context) (*ManagerResolver, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &ManagerResolver{client: secretsmanager.NewFromConfig(cfg)}, nil
}

// Resolve fetches the named secret's string value.
func (r *ManagerResolver) Resolve(ctx context.Context, name string) (string, error) {
	out, err := r.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: &name,
	})
	if err != nil {
		return "", fmt.Errorf("get secret %s: %w", name, err)
	}
	if out.SecretString == nil {
		return "", fmt.Errorf("secret %s has no string value", name)
	}
	return *out.SecretString, nil
}

// ---------------------------------------------------------------------------
// Static resolver (tests, local runs)
// ---------------------------------------------------------------------------

// StaticResolver serves secrets from an in-memory map.
type StaticResolver map[string]string

// Resolve returns the named secret or an error when absent.
func (s StaticResolver) Resolve(_ context.Context, name string) (string, error) {
	v, ok := s[name]
	if !ok {
		return "", fmt.Errorf("secret %s not found", name)
	}
	return v, nil
}
