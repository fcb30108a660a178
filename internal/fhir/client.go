package fhir

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const fhirJSONType = "application/fhir+json"

// Client is a bearer-token REST client for one FHIR base URL. It is rebuilt
// wholesale (never patched) when the session is re-initialized.
type Client struct {
	base   string
	hc     *http.Client
	token  string
	logger zerolog.Logger
}

// NewClient returns a client for the given base URL. The token is attached
// later, once the session manager has acquired one.
func NewClient(base string, logger zerolog.Logger) *Client {
	return &Client{
		base:   strings.TrimRight(base, "/"),
		hc:     &http.Client{Timeout: 120 * time.Second},
		logger: logger,
	}
}

// BaseURL returns the server base this client talks to.
func (c *Client) BaseURL() string { return c.base }

// SetToken binds a bearer token to every subsequent request.
func (c *Client) SetToken(token string) { c.token = token }

// ResolveURL turns a possibly relative reference into an absolute URL against
// the client's base.
func (c *Client) ResolveURL(ref string) string {
	if strings.Contains(ref, "http") {
		return ref
	}
	return c.base + "/" + strings.TrimLeft(ref, "/")
}

// get issues one GET and classifies failures into the engine's error
// taxonomy.
func (c *Client) get(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request for %s: %w", rawURL, err)
	}
	req.Header.Set("Accept", fhirJSONType+", application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, &ConnectionError{URL: rawURL, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &ConnectionError{URL: rawURL, Err: err}
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return body, nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, &AuthError{URL: rawURL, StatusCode: resp.StatusCode}
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrNotFound, rawURL)
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return nil, &RequestError{URL: rawURL, StatusCode: resp.StatusCode, Outcome: OutcomeText(body)}
	default:
		return nil, &ConnectionError{URL: rawURL, Err: fmt.Errorf("server returned status %d", resp.StatusCode)}
	}
}

// Metadata retrieves the server's capability/conformance document.
func (c *Client) Metadata(ctx context.Context) (*CapabilityStatement, error) {
	body, err := c.get(ctx, c.base+"/metadata")
	if err != nil {
		return nil, err
	}
	var caps CapabilityStatement
	if err := json.Unmarshal(body, &caps); err != nil {
		return nil, fmt.Errorf("parse capability statement: %w", err)
	}
	return &caps, nil
}

// Search executes one search query (absolute URL or a reference relative to
// the base, e.g. "Observation?patient=123&category=laboratory") and returns a
// single result page.
func (c *Client) Search(ctx context.Context, query string) (*Bundle, error) {
	body, err := c.get(ctx, c.ResolveURL(query))
	if err != nil {
		return nil, err
	}
	var b Bundle
	if err := json.Unmarshal(body, &b); err != nil {
		return nil, fmt.Errorf("parse search bundle for %s: %w", query, err)
	}
	return &b, nil
}

// SearchAll executes a search and follows "next" links to exhaustion,
// returning the concatenation of every page in order. The pagination walk
// itself introduces no duplicates: each page is fetched exactly once.
func (c *Client) SearchAll(ctx context.Context, query string) ([]Resource, error) {
	bundle, err := c.Search(ctx, query)
	if err != nil {
		return nil, err
	}
	resources := bundle.Resources()
	for next := bundle.NextLink(); next != ""; next = bundle.NextLink() {
		bundle, err = c.Search(ctx, next)
		if err != nil {
			return nil, err
		}
		resources = append(resources, bundle.Resources()...)
	}
	return resources, nil
}

// ReadBinary reads a Binary resource by direct URL.
func (c *Client) ReadBinary(ctx context.Context, ref string) (*Binary, error) {
	body, err := c.get(ctx, c.ResolveURL(ref))
	if err != nil {
		return nil, err
	}
	var b Binary
	if err := json.Unmarshal(body, &b); err != nil {
		return nil, fmt.Errorf("parse binary %s: %w", ref, err)
	}
	return &b, nil
}

// Operation invokes a named type-level operation via GET, e.g.
// Binary/$autogen-ccd-if?patient=xyz.
func (c *Client) Operation(ctx context.Context, resourceType, name string, params url.Values) (*Parameters, error) {
	opURL := fmt.Sprintf("%s/%s/$%s", c.base, resourceType, name)
	if len(params) > 0 {
		opURL += "?" + params.Encode()
	}
	body, err := c.get(ctx, opURL)
	if err != nil {
		return nil, err
	}
	var p Parameters
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("parse operation response for $%s: %w", name, err)
	}
	return &p, nil
}
