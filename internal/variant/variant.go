// Package variant describes the per-vendor extraction profiles. Clinical
// system vendors differ in which FHIR version they speak, how tokens are
// acquired, which extract types they support, and — most visibly — which
// searches require a category fan-out (several distinct queries whose results
// are concatenated in a fixed order). Each supported vendor/version pair is
// one Profile value selected by configuration; behavior differences are data,
// not subclass hierarchies.
package variant

import (
	"fmt"
	"net/url"
	"strings"
)

// Kind classifies what an extract token yields.
type Kind int

const (
	// KindStructured tokens yield structured resources included in the
	// per-patient NDJSON output.
	KindStructured Kind = iota
	// KindDocument tokens yield referenced binary documents persisted
	// directly to blob storage, never serialized into the NDJSON output.
	KindDocument
	// KindOperation tokens invoke the consolidated-document generation
	// operation and persist its binary result to blob storage.
	KindOperation
)

// Plan describes how one extract token is satisfied: the concrete resource
// type searched, an optional category fan-out, and whether post-fetch type
// validation applies.
type Plan struct {
	Token        string   // extract vocabulary token, e.g. "observation"
	ResourceType string   // expected concrete resource type, e.g. "Observation"
	Categories   []string // fan-out category codes, executed in this order; empty = one plain query
	Extra        string   // extra query parameters appended verbatim, e.g. "_include=Encounter:practitioner"
	Validate     bool     // drop entries whose type mismatches ResourceType
	Kind         Kind
	Label        string // short description used in fetch logging
}

// SearchQueries returns the search query (or queries, for a category fan-out)
// for one patient, in the fixed execution order. Duplicate resources across
// overlapping categories are accepted as-is downstream; no query here
// de-duplicates.
func (p Plan) SearchQueries(patientID string) []string {
	base := p.ResourceType + "?patient=" + url.QueryEscape(patientID)
	if p.Extra != "" {
		base += "&" + p.Extra
	}
	if len(p.Categories) == 0 {
		return []string{base}
	}
	queries := make([]string, 0, len(p.Categories))
	for _, cat := range p.Categories {
		queries = append(queries, base+"&category="+url.QueryEscape(cat))
	}
	return queries
}

// Profile is one vendor/version extraction profile.
type Profile struct {
	Name        string // workflow tag stamped on audit events, e.g. "R4EPIC"
	FHIRVersion string
	// TokenStrategy names the token acquisition capability this vendor
	// uses; the session package maps it to a TokenProvider.
	TokenStrategy string
	// RequireAuthURL: R4 discovery must yield both the authorize and token
	// URLs; DSTU2 servers only advertise (and only need) the token URL.
	RequireAuthURL bool
	// Plans in processing priority order: patient-scoped clinical
	// categories first, documents and the consolidated-document operation
	// last, so output ordering is stable for downstream consumers.
	Plans []Plan
}

// Plan returns the plan for an extract token, if the vocabulary contains it.
func (p *Profile) Plan(token string) (Plan, bool) {
	for _, plan := range p.Plans {
		if plan.Token == token {
			return plan, true
		}
	}
	return Plan{}, false
}

// TokenStrategyJWTAssertion is the signed-assertion (private-key JWT)
// client-credentials exchange Epic requires.
const TokenStrategyJWTAssertion = "jwt-assertion"

// ForName returns the profile selected by the configured variant tag.
func ForName(name string) (*Profile, error) {
	switch strings.ToUpper(name) {
	case "R4":
		return R4Profile(), nil
	case "R4EPIC":
		return R4EpicProfile(), nil
	case "DSTU2EPIC":
		return DSTU2EpicProfile(), nil
	default:
		return nil, fmt.Errorf("unsupported fhirBridgeType %q", name)
	}
}

// R4Profile is the vendor-neutral R4 profile: plain patient-scoped searches,
// no category fan-outs.
func R4Profile() *Profile {
	return &Profile{
		Name:           "R4",
		FHIRVersion:    "R4",
		TokenStrategy:  TokenStrategyJWTAssertion,
		RequireAuthURL: true,
		Plans: []Plan{
			{Token: "observation", ResourceType: "Observation", Validate: true, Kind: KindStructured, Label: "observations"},
			{Token: "servicerequest", ResourceType: "ServiceRequest", Validate: true, Kind: KindStructured, Label: "service requests"},
			{Token: "condition", ResourceType: "Condition", Validate: true, Kind: KindStructured, Label: "conditions"},
			{Token: "careteam", ResourceType: "CareTeam", Validate: true, Kind: KindStructured, Label: "care team records"},
			{Token: "familymemberhistory", ResourceType: "FamilyMemberHistory", Validate: true, Kind: KindStructured, Label: "family member histories"},
			// The practitioner include mixes resource types into the result
			// set on purpose, so type validation stays off.
			{Token: "encounter", ResourceType: "Encounter", Extra: "_include=Encounter:practitioner", Validate: false, Kind: KindStructured, Label: "encounters"},
			{Token: "diagnosticreport", ResourceType: "DiagnosticReport", Validate: true, Kind: KindStructured, Label: "diagnostic reports"},
			{Token: "medicationrequest", ResourceType: "MedicationRequest", Validate: true, Kind: KindStructured, Label: "medication requests"},
			{Token: "careplan", ResourceType: "CarePlan", Validate: true, Kind: KindStructured, Label: "care plans"},
			{Token: "goal", ResourceType: "Goal", Validate: true, Kind: KindStructured, Label: "goals"},
			{Token: "allergyintolerance", ResourceType: "AllergyIntolerance", Validate: true, Kind: KindStructured, Label: "allergies"},
			{Token: "immunization", ResourceType: "Immunization", Validate: true, Kind: KindStructured, Label: "immunizations"},
			{Token: "procedure", ResourceType: "Procedure", Validate: true, Kind: KindStructured, Label: "procedures"},
			{Token: "documentreference", ResourceType: "DocumentReference", Validate: true, Kind: KindDocument, Label: "document references"},
			{Token: "operationccd", ResourceType: "Binary", Kind: KindOperation, Label: "consolidated CCD"},
		},
	}
}

// R4EpicProfile is the Epic R4 profile. Epic requires category-scoped
// searches for observations, conditions and care plans; the fan-out orders
// below are fixed and results are concatenated without de-duplication.
func R4EpicProfile() *Profile {
	p := R4Profile()
	p.Name = "R4EPIC"

	for i, plan := range p.Plans {
		switch plan.Token {
		case "observation":
			plan.Categories = []string{
				"laboratory",
				"social-history", // covers smoking as well as obstetrics
				"vital-signs",
				"LDA",
				"smartdata",
				"core-characteristics",
				"functional-mental-status",
			}
		case "condition":
			plan.Categories = []string{
				"health-concern",
				"problem-list-item",
				"encounter-diagnosis",
				"genomics",
			}
		case "careplan":
			// SNOMED category codes: longitudinal, encounter, outpatient,
			// inpatient, oncology.
			plan.Categories = []string{
				"38717003",
				"734163000",
				"736271009",
				"736353004",
				"736378000",
			}
		}
		p.Plans[i] = plan
	}
	return p
}

// DSTU2EpicProfile is the Epic DSTU2 profile: a smaller vocabulary, a
// three-category observation fan-out, and the "document" token in place of
// R4's "documentreference".
func DSTU2EpicProfile() *Profile {
	return &Profile{
		Name:           "DSTU2EPIC",
		FHIRVersion:    "DSTU2",
		TokenStrategy:  TokenStrategyJWTAssertion,
		RequireAuthURL: false,
		Plans: []Plan{
			{
				Token:        "observation",
				ResourceType: "Observation",
				Categories:   []string{"laboratory", "social-history", "vital-signs"},
				Validate:     true,
				Kind:         KindStructured,
				Label:        "observations",
			},
			{Token: "condition", ResourceType: "Condition", Validate: true, Kind: KindStructured, Label: "conditions"},
			{Token: "encounter", ResourceType: "Encounter", Validate: true, Kind: KindStructured, Label: "encounters"},
			{Token: "medicationstatement", ResourceType: "MedicationStatement", Validate: true, Kind: KindStructured, Label: "medication statements"},
			{Token: "procedure", ResourceType: "Procedure", Validate: true, Kind: KindStructured, Label: "procedures"},
			{Token: "document", ResourceType: "DocumentReference", Validate: true, Kind: KindDocument, Label: "document references"},
			{Token: "operationccd", ResourceType: "Binary", Kind: KindOperation, Label: "consolidated CCD"},
		},
	}
}
