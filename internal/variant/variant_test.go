package variant

import (
	"reflect"
	"testing"
)

func TestForName(t *testing.T) {
	cases := []struct {
		name    string
		want    string
		wantErr bool
	}{
		{"R4", "R4", false},
		{"r4epic", "R4EPIC", false},
		{"DSTU2Epic", "DSTU2EPIC", false},
		{"CERNER", "", true},
		{"", "", true},
	}
	for _, tc := range cases {
		p, err := ForName(tc.name)
		if tc.wantErr {
			if err == nil {
				t.Errorf("ForName(%q): expected error", tc.name)
			}
			continue
		}
		if err != nil {
			t.Errorf("ForName(%q): unexpected error %v", tc.name, err)
			continue
		}
		if p.Name != tc.want {
			t.Errorf("ForName(%q): expected profile %s, got %s", tc.name, tc.want, p.Name)
		}
	}
}

func TestPlan_SearchQueries_NoFanOut(t *testing.T) {
	p := Plan{Token: "condition", ResourceType: "Condition"}
	got := p.SearchQueries("p1")
	want := []string{"Condition?patient=p1"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestPlan_SearchQueries_CategoryFanOut(t *testing.T) {
	p := Plan{
		Token:        "observation",
		ResourceType: "Observation",
		Categories:   []string{"laboratory", "vital-signs"},
	}
	got := p.SearchQueries("p1")
	want := []string{
		"Observation?patient=p1&category=laboratory",
		"Observation?patient=p1&category=vital-signs",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("fan-out order must follow the category list, got %v", got)
	}
}

func TestPlan_SearchQueries_ExtraParams(t *testing.T) {
	p := Plan{Token: "encounter", ResourceType: "Encounter", Extra: "_include=Encounter:practitioner"}
	got := p.SearchQueries("p1")
	want := []string{"Encounter?patient=p1&_include=Encounter:practitioner"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestPlan_SearchQueries_EscapesPatientID(t *testing.T) {
	p := Plan{Token: "condition", ResourceType: "Condition"}
	got := p.SearchQueries("id with space")
	if got[0] != "Condition?patient=id+with+space" {
		t.Errorf("patient id must be query-escaped, got %q", got[0])
	}
}

func TestProfile_Plan(t *testing.T) {
	p := R4Profile()

	plan, ok := p.Plan("observation")
	if !ok {
		t.Fatal("expected observation plan in R4 vocabulary")
	}
	if plan.ResourceType != "Observation" || plan.Kind != KindStructured {
		t.Errorf("unexpected plan %+v", plan)
	}

	if _, ok := p.Plan("medicationstatement"); ok {
		t.Error("medicationstatement is not in the R4 vocabulary")
	}
}

func TestR4Profile_PlanOrdering(t *testing.T) {
	p := R4Profile()

	// Documents and the consolidated-document operation come last so the
	// structured NDJSON ordering is stable.
	n := len(p.Plans)
	if p.Plans[n-2].Token != "documentreference" || p.Plans[n-1].Token != "operationccd" {
		t.Errorf("expected documentreference then operationccd last, got %s, %s",
			p.Plans[n-2].Token, p.Plans[n-1].Token)
	}
	if p.Plans[0].Token != "observation" {
		t.Errorf("expected observation first, got %s", p.Plans[0].Token)
	}
}

func TestR4Profile_EncounterIncludeSkipsValidation(t *testing.T) {
	p := R4Profile()
	plan, _ := p.Plan("encounter")
	if plan.Extra != "_include=Encounter:practitioner" {
		t.Errorf("unexpected encounter extra %q", plan.Extra)
	}
	if plan.Validate {
		t.Error("encounter results include practitioners, validation must be off")
	}
}

func TestR4EpicProfile_FanOuts(t *testing.T) {
	p := R4EpicProfile()

	obs, _ := p.Plan("observation")
	wantObs := []string{
		"laboratory", "social-history", "vital-signs", "LDA",
		"smartdata", "core-characteristics", "functional-mental-status",
	}
	if !reflect.DeepEqual(obs.Categories, wantObs) {
		t.Errorf("unexpected observation categories %v", obs.Categories)
	}

	cond, _ := p.Plan("condition")
	wantCond := []string{"health-concern", "problem-list-item", "encounter-diagnosis", "genomics"}
	if !reflect.DeepEqual(cond.Categories, wantCond) {
		t.Errorf("unexpected condition categories %v", cond.Categories)
	}

	cp, _ := p.Plan("careplan")
	wantCP := []string{"38717003", "734163000", "736271009", "736353004", "736378000"}
	if !reflect.DeepEqual(cp.Categories, wantCP) {
		t.Errorf("unexpected careplan categories %v", cp.Categories)
	}

	// The fan-outs are an Epic overlay on the shared R4 vocabulary.
	if len(p.Plans) != len(R4Profile().Plans) {
		t.Errorf("Epic overlay must not change the vocabulary size")
	}
	if !p.RequireAuthURL {
		t.Error("R4 Epic discovery requires both authorize and token URLs")
	}
}

func TestDSTU2EpicProfile(t *testing.T) {
	p := DSTU2EpicProfile()

	if p.RequireAuthURL {
		t.Error("DSTU2 servers only advertise the token URL")
	}
	if p.FHIRVersion != "DSTU2" {
		t.Errorf("unexpected FHIR version %s", p.FHIRVersion)
	}

	obs, _ := p.Plan("observation")
	if !reflect.DeepEqual(obs.Categories, []string{"laboratory", "social-history", "vital-signs"}) {
		t.Errorf("unexpected observation categories %v", obs.Categories)
	}

	// DSTU2 uses "document" where R4 uses "documentreference".
	if _, ok := p.Plan("document"); !ok {
		t.Error("expected document token in DSTU2 vocabulary")
	}
	if _, ok := p.Plan("documentreference"); ok {
		t.Error("documentreference is an R4 token, not DSTU2")
	}
}

func TestProfiles_TokenStrategy(t *testing.T) {
	for _, name := range []string{"R4", "R4EPIC", "DSTU2EPIC"} {
		p, err := ForName(name)
		if err != nil {
			t.Fatalf("ForName(%s): %v", name, err)
		}
		if p.TokenStrategy != TokenStrategyJWTAssertion {
			t.Errorf("%s: expected jwt-assertion strategy, got %s", name, p.TokenStrategy)
		}
	}
}
