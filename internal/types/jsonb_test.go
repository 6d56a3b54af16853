package types

import "testing"

func TestTemplateVariablesRoundTrip(t *testing.T) {
	vars := TemplateVariables{
		{Name: "name", Required: true, Example: "Jane"},
		{Name: "amount", Required: false},
	}

	raw, err := vars.Value()
	if err != nil {
		t.Fatalf("Value() error: %v", err)
	}

	var scanned TemplateVariables
	if err := scanned.Scan(raw); err != nil {
		t.Fatalf("Scan() error: %v", err)
	}
	if len(scanned) != 2 || scanned[0].Name != "name" || !scanned[0].Required {
		t.Errorf("unexpected scan result: %+v", scanned)
	}
}

func TestTemplateVariablesNil(t *testing.T) {
	raw, err := TemplateVariables(nil).Value()
	if err != nil {
		t.Fatalf("Value() error: %v", err)
	}
	if string(raw.([]byte)) != "[]" {
		t.Errorf("nil list should serialize as [] but got %s", raw)
	}

	var tv TemplateVariables
	if err := tv.Scan(nil); err != nil || tv != nil {
		t.Errorf("Scan(nil) should leave a nil list, got %v (%v)", tv, err)
	}
	if err := tv.Scan(42); err == nil {
		t.Errorf("Scan of an unsupported type should fail")
	}
}

func TestRequiredVariables(t *testing.T) {
	tpl := &Template{Variables: TemplateVariables{
		{Name: "name", Required: true},
		{Name: "clinic"},
		{Name: "amount", Required: true},
	}}

	got := tpl.RequiredVariables()
	if len(got) != 2 || got[0] != "name" || got[1] != "amount" {
		t.Errorf("RequiredVariables() = %v", got)
	}
}
