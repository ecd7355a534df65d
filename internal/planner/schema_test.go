package planner

import "testing"

func TestValidatePlanDocument(t *testing.T) {
	payload := []byte(`{"plan":[{"agent":"Search","id":"1","need":[],"task":"find"},{"agent":"File","id":2,"need":[1],"task":"save"}]}`)
	if err := ValidatePlanDocument(payload); err != nil {
		t.Fatalf("expected payload to validate: %v", err)
	}
}

func TestValidatePlanDocumentFails(t *testing.T) {
	for _, payload := range []string{
		`{"steps":[]}`,
		`{"plan":[]}`,
		`{"plan":[{"agent":"Search","id":"1"}]}`,
		`{"plan":[{"agent":"","id":"1","task":"x"}]}`,
	} {
		if err := ValidatePlanDocument([]byte(payload)); err == nil {
			t.Fatalf("expected schema validation to fail for %s", payload)
		}
	}
}
