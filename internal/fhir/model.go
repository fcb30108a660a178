// Package fhir holds a deliberately small FHIR wire model and the REST client
// used to talk to a remote EHR's FHIR endpoint. Clinical resources are treated
// as opaque payloads: only the envelope fields the extraction engine needs
// (resourceType, id, bundle links, attachment pointers) are modelled, and the
// original bytes are carried through untouched so output is reproducible.
package fhir

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// Resource is one fetched resource: its parsed envelope plus the raw JSON it
// arrived as.
type Resource struct {
	Type string
	ID   string
	Raw  json.RawMessage
}

// CompactJSON returns the resource's canonical single-line JSON form.
func (r Resource) CompactJSON() (string, error) {
	var buf bytes.Buffer
	if err := json.Compact(&buf, r.Raw); err != nil {
		return "", fmt.Errorf("compact %s/%s: %w", r.Type, r.ID, err)
	}
	return buf.String(), nil
}

// ParseResource reads the envelope of a raw resource payload.
func ParseResource(raw json.RawMessage) (Resource, error) {
	var env struct {
		ResourceType string `json:"resourceType"`
		ID           string `json:"id"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return Resource{}, fmt.Errorf("parse resource envelope: %w", err)
	}
	if env.ResourceType == "" {
		return Resource{}, fmt.Errorf("resource has no resourceType")
	}
	return Resource{Type: env.ResourceType, ID: env.ID, Raw: raw}, nil
}

// ---------------------------------------------------------------------------
// Bundle
// ---------------------------------------------------------------------------

// BundleLink is a paging link on a search result bundle.
type BundleLink struct {
	Relation string `json:"relation"`
	URL      string `json:"url"`
}

// BundleEntry wraps one resource in a bundle.
type BundleEntry struct {
	FullURL  string          `json:"fullUrl"`
	Resource json.RawMessage `json:"resource"`
}

// Bundle is a FHIR searchset page: a batch of resources plus paging links.
// The shape is identical in DSTU2 and R4 for the fields used here.
type Bundle struct {
	ResourceType string        `json:"resourceType"`
	Type         string        `json:"type"`
	Total        *int          `json:"total,omitempty"`
	Link         []BundleLink  `json:"link,omitempty"`
	Entry        []BundleEntry `json:"entry,omitempty"`
}

// NextLink returns the URL of the next page, or "" when this is the last one.
func (b *Bundle) NextLink() string {
	for _, l := range b.Link {
		if l.Relation == "next" {
			return l.URL
		}
	}
	return ""
}

// Resources parses every entry's envelope. Entries that are not valid
// resources are skipped.
func (b *Bundle) Resources() []Resource {
	out := make([]Resource, 0, len(b.Entry))
	for _, e := range b.Entry {
		if len(e.Resource) == 0 {
			continue
		}
		r, err := ParseResource(e.Resource)
		if err != nil {
			continue
		}
		out = append(out, r)
	}
	return out
}

// ---------------------------------------------------------------------------
// OperationOutcome
// ---------------------------------------------------------------------------

// OutcomeIssue is one issue inside an OperationOutcome.
type OutcomeIssue struct {
	Severity    string `json:"severity"`
	Code        string `json:"code"`
	Diagnostics string `json:"diagnostics"`
	Details     struct {
		Text string `json:"text"`
	} `json:"details"`
}

// OperationOutcome is the error/diagnostic payload a FHIR server returns in
// place of (or alongside) real resources.
type OperationOutcome struct {
	ResourceType string         `json:"resourceType"`
	Issue        []OutcomeIssue `json:"issue"`
}

// IssueText returns the first issue's human-readable text, preferring
// details.text over diagnostics.
func (o *OperationOutcome) IssueText() string {
	if len(o.Issue) == 0 {
		return ""
	}
	if t := o.Issue[0].Details.Text; t != "" {
		return t
	}
	return o.Issue[0].Diagnostics
}

// OutcomeText parses raw as an OperationOutcome and returns its issue text.
// Returns "" when raw is not an outcome.
func OutcomeText(raw json.RawMessage) string {
	var o OperationOutcome
	if err := json.Unmarshal(raw, &o); err != nil || o.ResourceType != "OperationOutcome" {
		return ""
	}
	return o.IssueText()
}

// ---------------------------------------------------------------------------
// Conformance / CapabilityStatement
// ---------------------------------------------------------------------------

// Extension is a (possibly nested) FHIR extension. Only URI and string values
// are needed: the SMART security extension publishes its endpoints as
// valueUri.
type Extension struct {
	URL         string      `json:"url"`
	ValueURI    string      `json:"valueUri,omitempty"`
	ValueString string      `json:"valueString,omitempty"`
	Extension   []Extension `json:"extension,omitempty"`
}

// Value returns whichever primitive value the extension carries.
func (e Extension) Value() string {
	if e.ValueURI != "" {
		return e.ValueURI
	}
	return e.ValueString
}

// CapabilityStatement is the server's published capability/metadata document.
// DSTU2 servers return resourceType "Conformance", R4 servers
// "CapabilityStatement"; the security extension layout read here is the same.
type CapabilityStatement struct {
	ResourceType string `json:"resourceType"`
	FHIRVersion  string `json:"fhirVersion"`
	Rest         []struct {
		Mode     string `json:"mode"`
		Security struct {
			Extension []Extension `json:"extension"`
		} `json:"security"`
	} `json:"rest"`
}

// SecurityExtensions returns the security extensions declared under the given
// namespace URL on the first rest entry, or nil when absent.
func (c *CapabilityStatement) SecurityExtensions(namespace string) []Extension {
	if len(c.Rest) == 0 {
		return nil
	}
	for _, ext := range c.Rest[0].Security.Extension {
		if ext.URL == namespace {
			return ext.Extension
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// DocumentReference / Binary / Parameters
// ---------------------------------------------------------------------------

// Attachment points at document content hosted by the server.
type Attachment struct {
	ContentType string `json:"contentType"`
	URL         string `json:"url"`
}

// DocumentContent is one rendition of a referenced document.
type DocumentContent struct {
	Attachment Attachment `json:"attachment"`
}

// DocumentReference indexes a clinical document; the document bytes live
// behind the content attachment URLs.
type DocumentReference struct {
	ResourceType string            `json:"resourceType"`
	ID           string            `json:"id"`
	Content      []DocumentContent `json:"content"`
}

// Binary carries raw document bytes, base64-encoded. R4 uses "data", DSTU2
// used "content"; both are accepted.
type Binary struct {
	ResourceType string `json:"resourceType"`
	ID           string `json:"id"`
	ContentType  string `json:"contentType"`
	Data         string `json:"data,omitempty"`
	Content      string `json:"content,omitempty"`
}

// Decoded returns the decoded document bytes.
func (b *Binary) Decoded() ([]byte, error) {
	enc := b.Data
	if enc == "" {
		enc = b.Content
	}
	out, err := base64.StdEncoding.DecodeString(enc)
	if err != nil {
		return nil, fmt.Errorf("decode binary %s: %w", b.ID, err)
	}
	return out, nil
}

// Parameter is one entry in a Parameters payload.
type Parameter struct {
	Name     string          `json:"name"`
	Resource json.RawMessage `json:"resource,omitempty"`
}

// Parameters is the response envelope of a FHIR operation invocation.
type Parameters struct {
	ResourceType string      `json:"resourceType"`
	Parameter    []Parameter `json:"parameter"`
}
