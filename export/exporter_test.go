package export

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/gofhir/shorthand"
	"github.com/gofhir/shorthand/fsh"
	"github.com/gofhir/shorthand/loader"
	"github.com/gofhir/shorthand/specs"
)

func newTestExporter(t *testing.T, opts ...shorthand.Option) *Exporter {
	t.Helper()
	e, err := New(context.Background(), shorthand.R4, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return e
}

func exampleInstance(name, of string, rules ...fsh.Rule) *fsh.Instance {
	return &fsh.Instance{Name: name, InstanceOf: of, Usage: fsh.UsageExample, Rules: rules}
}

func mustAddInstance(t *testing.T, cat *fsh.Catalog, inst *fsh.Instance) {
	t.Helper()
	if err := cat.AddInstance(inst); err != nil {
		t.Fatalf("AddInstance(%s): %v", inst.Name, err)
	}
}

func mustDecimal(t *testing.T, raw string) fsh.Decimal {
	t.Helper()
	d, err := fsh.NewDecimal(raw)
	if err != nil {
		t.Fatalf("NewDecimal(%q): %v", raw, err)
	}
	return d
}

func marshalDoc(t *testing.T, doc *shorthand.Document) string {
	t.Helper()
	if doc == nil {
		t.Fatal("no document to marshal")
	}
	data, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("marshal document: %v", err)
	}
	return string(data)
}

func TestNew_UnsupportedVersion(t *testing.T) {
	if _, err := New(context.Background(), shorthand.FHIRVersion("R99")); err == nil {
		t.Fatal("expected an error for version R99")
	}
}

func TestExporter_Accessors(t *testing.T) {
	e := newTestExporter(t)
	if e.Version() != shorthand.R4 {
		t.Errorf("Version() = %s, want R4", e.Version())
	}
	if e.Options() == nil {
		t.Error("Options() returned nil")
	}
	if e.Metrics() == nil {
		t.Error("Metrics() returned nil")
	}
}

func TestExport_MinimalPatient(t *testing.T) {
	e := newTestExporter(t)
	inst := exampleInstance("PatientExample", "Patient",
		assignAt("active", fsh.Boolean{Value: true}, 2),
		assignAt("gender", fsh.Code{Code: "female"}, 3),
		assignAt("birthDate", fsh.String{Value: "1974-12-25"}, 4),
	)

	doc, res, err := e.Export(context.Background(), inst)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if !res.Valid {
		t.Fatalf("expected a valid result, got %v", res.Diagnostics)
	}
	if len(res.Diagnostics) != 0 {
		t.Errorf("expected no diagnostics, got %v", res.Diagnostics)
	}

	want := `{"resourceType":"Patient","id":"PatientExample","active":true,"gender":"female","birthDate":"1974-12-25"}`
	if got := marshalDoc(t, doc); got != want {
		t.Errorf("document mismatch:\n got %s\nwant %s", got, want)
	}
	if doc.ID != "PatientExample" {
		t.Errorf("doc.ID = %q, want PatientExample", doc.ID)
	}
	if got := doc.Filename(); got != "Patient-PatientExample.json" {
		t.Errorf("Filename() = %q", got)
	}
}

func TestExport_NestedArrays(t *testing.T) {
	e := newTestExporter(t)
	inst := exampleInstance("Named", "Patient",
		assignAt("name[0].family", fsh.String{Value: "Chalmers"}, 2),
		assignAt("name[0].given[0]", fsh.String{Value: "Peter"}, 3),
		assignAt("name[0].given[1]", fsh.String{Value: "James"}, 4),
	)

	doc, res, err := e.Export(context.Background(), inst)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if !res.Valid {
		t.Fatalf("unexpected diagnostics: %v", res.Diagnostics)
	}
	got := marshalDoc(t, doc)
	if want := `"name":[{"family":"Chalmers","given":["Peter","James"]}]`; !strings.Contains(got, want) {
		t.Errorf("document %s\nmissing %s", got, want)
	}
}

func TestExport_IDHandling(t *testing.T) {
	e := newTestExporter(t)

	t.Run("rule assigned", func(t *testing.T) {
		inst := exampleInstance("Whatever", "Patient",
			assignAt("id", fsh.String{Value: "my-patient"}, 2),
		)
		doc, res, err := e.Export(context.Background(), inst)
		if err != nil {
			t.Fatalf("Export: %v", err)
		}
		if doc.ID != "my-patient" {
			t.Errorf("doc.ID = %q, want my-patient", doc.ID)
		}
		if got := doc.Filename(); got != "Patient-my-patient.json" {
			t.Errorf("Filename() = %q", got)
		}
		if len(res.Diagnostics) != 0 {
			t.Errorf("unexpected diagnostics: %v", res.Diagnostics)
		}
	})

	t.Run("sanitized instance name", func(t *testing.T) {
		inst := exampleInstance("My Patient Example", "Patient",
			assignAt("active", fsh.Boolean{Value: true}, 2),
		)
		doc, res, err := e.Export(context.Background(), inst)
		if err != nil {
			t.Fatalf("Export: %v", err)
		}
		if doc.ID != "My-Patient-Example" {
			t.Errorf("doc.ID = %q, want My-Patient-Example", doc.ID)
		}
		d := findCode(res, shorthand.CodeInvalidID)
		if d == nil {
			t.Fatal("expected an invalid-id warning")
		}
		if d.Severity != shorthand.SeverityWarning {
			t.Errorf("severity = %s, want warning", d.Severity)
		}
		if !res.Valid {
			t.Error("a sanitized id should not invalidate the document")
		}
	})
}

func TestExport_NilInstance(t *testing.T) {
	e := newTestExporter(t)
	doc, res := e.ExportInstance(context.Background(), nil, NewBatchContext(nil))
	if doc != nil {
		t.Error("expected no document")
	}
	d := findCode(res, shorthand.CodeMissingDefinition)
	if d == nil || d.Severity != shorthand.SeverityFatal {
		t.Fatalf("expected a fatal missing-definition diagnostic, got %v", res.Diagnostics)
	}
}

func TestExport_UnknownInstanceOf(t *testing.T) {
	e := newTestExporter(t)
	inst := exampleInstance("Mystery", "Wibble")

	doc, res, err := e.Export(context.Background(), inst)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if doc != nil {
		t.Error("expected no document for an unresolvable type")
	}
	d := findCode(res, shorthand.CodeMissingDefinition)
	if d == nil {
		t.Fatal("expected a missing-definition diagnostic")
	}
	if !strings.Contains(d.Message, `"Wibble"`) {
		t.Errorf("message %q does not name the type", d.Message)
	}
	if res.Valid {
		t.Error("result should be invalid")
	}
}

func TestExport_PathNotFound(t *testing.T) {
	e := newTestExporter(t)
	inst := exampleInstance("Typo", "Patient",
		assignAt("wibble", fsh.Boolean{Value: true}, 2),
		assignAt("active", fsh.Boolean{Value: true}, 3),
	)

	doc, res, err := e.Export(context.Background(), inst)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	d := findCode(res, shorthand.CodePathNotFound)
	if d == nil {
		t.Fatal("expected a path-not-found diagnostic")
	}
	if !strings.Contains(d.Message, `no element "wibble" under Patient`) {
		t.Errorf("unexpected message: %s", d.Message)
	}
	// The document still materializes with the surviving rules.
	got := marshalDoc(t, doc)
	if !strings.Contains(got, `"active":true`) {
		t.Errorf("surviving rule missing from %s", got)
	}
	if strings.Contains(got, "wibble") {
		t.Errorf("rejected rule leaked into %s", got)
	}
}

func TestExport_FirstValueWins(t *testing.T) {
	e := newTestExporter(t)
	inst := exampleInstance("Conflicted", "Patient",
		assignAt("gender", fsh.Code{Code: "female"}, 2),
		assignAt("gender", fsh.Code{Code: "male"}, 3),
	)

	doc, res, err := e.Export(context.Background(), inst)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	d := findCode(res, shorthand.CodeValueConflict)
	if d == nil {
		t.Fatal("expected a value-conflict diagnostic")
	}
	if !strings.Contains(d.Message, "cannot assign male to Patient.gender: it already holds female") {
		t.Errorf("unexpected message: %s", d.Message)
	}
	if got := marshalDoc(t, doc); !strings.Contains(got, `"gender":"female"`) {
		t.Errorf("first value did not stand: %s", got)
	}
}

func TestExport_Exactly(t *testing.T) {
	e := newTestExporter(t)
	marital := fsh.Code{System: "http://terminology.hl7.org/CodeSystem/v3-MaritalStatus", Code: "M"}
	fixed := assignAt("maritalStatus", marital, 2)
	fixed.Exactly = true
	restated := assignAt("maritalStatus", marital, 4)
	restated.Exactly = true
	inst := exampleInstance("Locked", "Patient",
		fixed,
		assignAt("maritalStatus.text", fsh.String{Value: "Married"}, 3),
		restated,
	)

	doc, res, err := e.Export(context.Background(), inst)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	d := findCode(res, shorthand.CodeValueConflict)
	if d == nil {
		t.Fatal("expected a value-conflict diagnostic for the added child")
	}
	if !strings.Contains(d.Message, `cannot add "text" to a value fixed with (exactly)`) {
		t.Errorf("unexpected message: %s", d.Message)
	}
	if res.ErrorCount() != 1 {
		t.Errorf("restating the same exact value should be quiet: %v", res.Errors())
	}
	if got := marshalDoc(t, doc); strings.Contains(got, "Married") {
		t.Errorf("blocked child leaked into %s", got)
	}
}

func TestExport_ChoiceVariants(t *testing.T) {
	e := newTestExporter(t)

	t.Run("concrete variant", func(t *testing.T) {
		inst := exampleInstance("WeightExample", "Observation",
			assignAt("status", fsh.Code{Code: "final"}, 2),
			assignAt("code", fsh.Code{System: "http://loinc.org", Code: "29463-7", Display: "Body Weight"}, 3),
			assignAt("valueQuantity", fsh.Quantity{Value: mustDecimal(t, "85.5"), Code: "kg"}, 4),
		)
		doc, res, err := e.Export(context.Background(), inst)
		if err != nil {
			t.Fatalf("Export: %v", err)
		}
		if !res.Valid {
			t.Fatalf("unexpected diagnostics: %v", res.Diagnostics)
		}
		want := `{"resourceType":"Observation","id":"WeightExample","status":"final",` +
			`"code":{"coding":[{"system":"http://loinc.org","code":"29463-7","display":"Body Weight"}]},` +
			`"valueQuantity":{"value":85.5,"system":"http://unitsofmeasure.org","code":"kg"}}`
		if got := marshalDoc(t, doc); got != want {
			t.Errorf("document mismatch:\n got %s\nwant %s", got, want)
		}
	})

	t.Run("generic name rejected", func(t *testing.T) {
		inst := exampleInstance("Vague", "Observation",
			assignAt("status", fsh.Code{Code: "final"}, 2),
			assignAt("code", fsh.Code{System: "http://loinc.org", Code: "29463-7"}, 3),
			assignAt("value[x]", fsh.Integer{Value: 5}, 4),
		)
		doc, res, err := e.Export(context.Background(), inst)
		if err != nil {
			t.Fatalf("Export: %v", err)
		}
		d := findCode(res, shorthand.CodePathNotFound)
		if d == nil {
			t.Fatal("expected a diagnostic for the generic choice name")
		}
		if !strings.Contains(d.Message, `e.g. "valueQuantity"`) {
			t.Errorf("message should suggest a concrete name: %s", d.Message)
		}
		if got := marshalDoc(t, doc); strings.Contains(got, "value") {
			t.Errorf("no variant should materialize: %s", got)
		}
	})

	t.Run("two variants swept", func(t *testing.T) {
		inst := exampleInstance("Doubled", "Observation",
			assignAt("status", fsh.Code{Code: "final"}, 2),
			assignAt("code", fsh.Code{System: "http://loinc.org", Code: "29463-7"}, 3),
			assignAt("valueString", fsh.String{Value: "eighty-five"}, 4),
			assignAt("valueQuantity", fsh.Quantity{Value: mustDecimal(t, "85"), Code: "kg"}, 5),
		)
		_, res, err := e.Export(context.Background(), inst)
		if err != nil {
			t.Fatalf("Export: %v", err)
		}
		d := findCode(res, shorthand.CodeCardinality)
		if d == nil {
			t.Fatal("expected a cardinality diagnostic")
		}
		if !strings.Contains(d.Message, "holds 2 type variants (valueQuantity, valueString)") {
			t.Errorf("unexpected message: %s", d.Message)
		}
	})
}

func TestExport_RequiredElements(t *testing.T) {
	e := newTestExporter(t)

	t.Run("top level", func(t *testing.T) {
		inst := exampleInstance("Incomplete", "Observation",
			assignAt("status", fsh.Code{Code: "final"}, 2),
		)
		doc, res, err := e.Export(context.Background(), inst)
		if err != nil {
			t.Fatalf("Export: %v", err)
		}
		d := findCode(res, shorthand.CodeCardinality)
		if d == nil {
			t.Fatal("expected a cardinality diagnostic")
		}
		if !strings.Contains(d.Message, "required element Observation.code is missing") {
			t.Errorf("unexpected message: %s", d.Message)
		}
		if res.Valid {
			t.Error("result should be invalid")
		}
		if doc == nil {
			t.Error("the incomplete document should still materialize")
		}
	})

	t.Run("inside a backbone element", func(t *testing.T) {
		inst := exampleInstance("Talkative", "Patient",
			assignAt("communication[0].preferred", fsh.Boolean{Value: true}, 2),
		)
		_, res, err := e.Export(context.Background(), inst)
		if err != nil {
			t.Fatalf("Export: %v", err)
		}
		d := findCode(res, shorthand.CodeCardinality)
		if d == nil {
			t.Fatal("expected a cardinality diagnostic")
		}
		if !strings.Contains(d.Message, "required element Patient.communication[0].language is missing") {
			t.Errorf("unexpected message: %s", d.Message)
		}
	})
}

func TestExport_ArrayGaps(t *testing.T) {
	e := newTestExporter(t)
	inst := exampleInstance("Gappy", "Patient",
		assignAt("name[1].family", fsh.String{Value: "Two"}, 2),
	)

	doc, res, err := e.Export(context.Background(), inst)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	got := marshalDoc(t, doc)
	if want := `"name":[null,{"family":"Two"}]`; !strings.Contains(got, want) {
		t.Errorf("document %s\nmissing %s", got, want)
	}
	d := findCode(res, shorthand.CodeCardinality)
	if d == nil {
		t.Fatal("expected a gap warning")
	}
	if d.Severity != shorthand.SeverityWarning {
		t.Errorf("severity = %s, want warning", d.Severity)
	}
	if !strings.Contains(d.Message, "Patient.name[0] was never assigned") {
		t.Errorf("unexpected message: %s", d.Message)
	}
	if !res.Valid {
		t.Error("a gap alone should not invalidate the document")
	}
}

func TestExport_SoftIndexes(t *testing.T) {
	e := newTestExporter(t)
	inst := exampleInstance("Reachable", "Patient",
		assignAt("telecom[+].system", fsh.Code{Code: "phone"}, 2),
		assignAt("telecom[=].value", fsh.String{Value: "555-0100"}, 3),
		assignAt("telecom[+].system", fsh.Code{Code: "email"}, 4),
	)

	doc, res, err := e.Export(context.Background(), inst)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if !res.Valid {
		t.Fatalf("unexpected diagnostics: %v", res.Diagnostics)
	}
	got := marshalDoc(t, doc)
	if want := `"telecom":[{"system":"phone","value":"555-0100"},{"system":"email"}]`; !strings.Contains(got, want) {
		t.Errorf("document %s\nmissing %s", got, want)
	}
}

func TestExport_SingleValueIndexes(t *testing.T) {
	e := newTestExporter(t)

	t.Run("zero index equals no index", func(t *testing.T) {
		plain := exampleInstance("ByDefault", "Patient",
			assignAt("gender", fsh.Code{Code: "female"}, 2),
		)
		indexed := exampleInstance("ByDefault", "Patient",
			assignAt("gender[0]", fsh.Code{Code: "female"}, 2),
		)

		docPlain, res, err := e.Export(context.Background(), plain)
		if err != nil {
			t.Fatalf("Export: %v", err)
		}
		if !res.Valid {
			t.Fatalf("unexpected diagnostics: %v", res.Diagnostics)
		}
		docIndexed, res, err := e.Export(context.Background(), indexed)
		if err != nil {
			t.Fatalf("Export: %v", err)
		}
		if !res.Valid {
			t.Fatalf("unexpected diagnostics: %v", res.Diagnostics)
		}
		if got, want := marshalDoc(t, docIndexed), marshalDoc(t, docPlain); got != want {
			t.Errorf("documents differ:\n got %s\nwant %s", got, want)
		}
	})

	t.Run("larger index rejected", func(t *testing.T) {
		inst := exampleInstance("Doubled", "Patient",
			assignAt("gender[1]", fsh.Code{Code: "male"}, 2),
		)
		doc, res, err := e.Export(context.Background(), inst)
		if err != nil {
			t.Fatalf("Export: %v", err)
		}
		d := findCode(res, shorthand.CodeCardinality)
		if d == nil {
			t.Fatal("expected a cardinality diagnostic")
		}
		if !strings.Contains(d.Message, "single value") {
			t.Errorf("unexpected message: %s", d.Message)
		}
		if got := marshalDoc(t, doc); strings.Contains(got, "gender") {
			t.Errorf("rejected rule leaked into the document: %s", got)
		}
	})

	t.Run("soft index rejected", func(t *testing.T) {
		inst := exampleInstance("Appended", "Patient",
			assignAt("birthDate[+]", fsh.String{Value: "1974-12-25"}, 2),
		)
		_, res, err := e.Export(context.Background(), inst)
		if err != nil {
			t.Fatalf("Export: %v", err)
		}
		if findCode(res, shorthand.CodeCardinality) == nil {
			t.Fatal("expected a cardinality diagnostic")
		}
	})
}

func TestExport_AdHocExtension(t *testing.T) {
	e := newTestExporter(t)
	inst := exampleInstance("Born", "Patient",
		assignAt("extension[http://hl7.org/fhir/StructureDefinition/patient-birthPlace].valueAddress.city",
			fsh.String{Value: "Springfield"}, 2),
	)

	doc, res, err := e.Export(context.Background(), inst)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if !res.Valid {
		t.Fatalf("unexpected diagnostics: %v", res.Diagnostics)
	}
	got := marshalDoc(t, doc)
	want := `"extension":[{"url":"http://hl7.org/fhir/StructureDefinition/patient-birthPlace",` +
		`"valueAddress":{"city":"Springfield"}}]`
	if !strings.Contains(got, want) {
		t.Errorf("document %s\nmissing %s", got, want)
	}
}

func TestExport_LocalCodeCheck(t *testing.T) {
	inst := func() *fsh.Instance {
		return exampleInstance("Coded", "Patient",
			assignAt("gender", fsh.Code{System: "administrative-gender", Code: "nope"}, 2),
		)
	}

	t.Run("warns by default", func(t *testing.T) {
		e := newTestExporter(t)
		doc, res, err := e.Export(context.Background(), inst())
		if err != nil {
			t.Fatalf("Export: %v", err)
		}
		d := findCode(res, shorthand.CodeInvalid)
		if d == nil {
			t.Fatal("expected an unknown-code warning")
		}
		if !strings.Contains(d.Message, `code "nope" is not defined in system http://hl7.org/fhir/administrative-gender`) {
			t.Errorf("unexpected message: %s", d.Message)
		}
		if !res.Valid {
			t.Error("a code warning should not invalidate the document")
		}
		if got := marshalDoc(t, doc); !strings.Contains(got, `"gender":"nope"`) {
			t.Errorf("the value should still be assigned: %s", got)
		}
	})

	t.Run("strict mode invalidates", func(t *testing.T) {
		e := newTestExporter(t, shorthand.WithStrictMode(true))
		_, res, err := e.Export(context.Background(), inst())
		if err != nil {
			t.Fatalf("Export: %v", err)
		}
		if res.Valid {
			t.Error("strict mode should fail the document on warnings")
		}
	})

	t.Run("disabled", func(t *testing.T) {
		e := newTestExporter(t, shorthand.WithLocalCodeCheck(false))
		_, res, err := e.Export(context.Background(), inst())
		if err != nil {
			t.Fatalf("Export: %v", err)
		}
		if d := findCode(res, shorthand.CodeInvalid); d != nil {
			t.Errorf("unexpected code warning: %s", d.Message)
		}
	})
}

func TestExport_References(t *testing.T) {
	e := newTestExporter(t)
	cat := fsh.NewCatalog()
	mustAddInstance(t, cat, exampleInstance("PatientOne", "Patient",
		assignAt("id", fsh.String{Value: "pat-1"}, 2),
	))
	mustAddInstance(t, cat, exampleInstance("OrgOne", "Organization"))

	inst := exampleInstance("Vitals", "Observation",
		assignAt("status", fsh.Code{Code: "final"}, 2),
		assignAt("code", fsh.Code{System: "http://loinc.org", Code: "15074-8"}, 3),
		assignAt("subject", fsh.Reference{Target: "PatientOne", Display: "Peter"}, 4),
		assignAt("performer", fsh.Reference{Target: "OrgOne"}, 5),
		assignAt("basedOn", fsh.Reference{Target: "http://acme.org/orders/123"}, 6),
		assignAt("encounter", fsh.Reference{Target: "PatientOne"}, 7),
	)

	doc, res := e.ExportInstance(context.Background(), inst, NewBatchContext(cat))
	got := marshalDoc(t, doc)

	if want := `"subject":{"reference":"Patient/pat-1","display":"Peter"}`; !strings.Contains(got, want) {
		t.Errorf("document %s\nmissing %s", got, want)
	}
	// An instance without an id rule exports under its sanitized name.
	if want := `"performer":[{"reference":"Organization/OrgOne"}]`; !strings.Contains(got, want) {
		t.Errorf("document %s\nmissing %s", got, want)
	}
	// Unknown targets pass through as written.
	if want := `"basedOn":[{"reference":"http://acme.org/orders/123"}]`; !strings.Contains(got, want) {
		t.Errorf("document %s\nmissing %s", got, want)
	}
	if strings.Contains(got, "encounter") {
		t.Errorf("type-mismatched reference leaked into %s", got)
	}
	d := findCode(res, shorthand.CodeTypeMismatch)
	if d == nil {
		t.Fatal("expected a type-mismatch diagnostic for encounter")
	}
	if !strings.Contains(d.Message, "Observation.encounter does not allow references to Patient resources") {
		t.Errorf("unexpected message: %s", d.Message)
	}
}

func TestExport_ContainedInline(t *testing.T) {
	e := newTestExporter(t)
	cat := fsh.NewCatalog()
	org := exampleInstance("EmbeddedOrg", "Organization",
		assignAt("name", fsh.String{Value: "Acme Healthcare"}, 2),
	)
	org.Usage = fsh.UsageInline
	mustAddInstance(t, cat, org)

	inst := exampleInstance("Measured", "Observation",
		assignAt("status", fsh.Code{Code: "final"}, 2),
		assignAt("code", fsh.Code{System: "http://loinc.org", Code: "15074-8"}, 3),
		assignAt("performer[0]", fsh.Reference{Target: "EmbeddedOrg"}, 4),
		assignAt("performer[1]", fsh.Reference{Target: "EmbeddedOrg"}, 5),
	)

	doc, res := e.ExportInstance(context.Background(), inst, NewBatchContext(cat))
	if !res.Valid {
		t.Fatalf("unexpected diagnostics: %v", res.Diagnostics)
	}
	got := marshalDoc(t, doc)

	want := `"contained":[{"resourceType":"Organization","id":"EmbeddedOrg","name":"Acme Healthcare"}]`
	if !strings.Contains(got, want) {
		t.Errorf("document %s\nmissing %s", got, want)
	}
	// Both references share the single contained entry.
	if want := `"performer":[{"reference":"#EmbeddedOrg"},{"reference":"#EmbeddedOrg"}]`; !strings.Contains(got, want) {
		t.Errorf("document %s\nmissing %s", got, want)
	}
	if strings.Index(got, `"contained"`) > strings.Index(got, `"status"`) {
		t.Errorf("contained should precede status in %s", got)
	}
	if e.Metrics().MemoHits() == 0 {
		t.Error("the second reference should hit the inline memo")
	}
}

func TestExport_InstanceGraft(t *testing.T) {
	e := newTestExporter(t)
	cat := fsh.NewCatalog()
	mustAddInstance(t, cat, exampleInstance("PatientOne", "Patient",
		assignAt("id", fsh.String{Value: "pat-1"}, 2),
		assignAt("gender", fsh.Code{Code: "female"}, 3),
	))

	inst := exampleInstance("Coll", "Bundle",
		assignAt("type", fsh.Code{Code: "collection"}, 2),
		assignAt("entry[0].resource", fsh.InstanceRef{Name: "PatientOne"}, 3),
	)

	doc, res := e.ExportInstance(context.Background(), inst, NewBatchContext(cat))
	if !res.Valid {
		t.Fatalf("unexpected diagnostics: %v", res.Diagnostics)
	}
	want := `{"resourceType":"Bundle","id":"Coll","type":"collection",` +
		`"entry":[{"resource":{"resourceType":"Patient","id":"pat-1","gender":"female"}}]}`
	if got := marshalDoc(t, doc); got != want {
		t.Errorf("document mismatch:\n got %s\nwant %s", got, want)
	}
}

func TestExport_InlineCycle(t *testing.T) {
	e := newTestExporter(t)
	cat := fsh.NewCatalog()
	selfie := exampleInstance("Selfie", "Patient",
		assignAt("link[0].other", fsh.Reference{Target: "Selfie"}, 2),
	)
	selfie.Usage = fsh.UsageInline
	mustAddInstance(t, cat, selfie)

	inst := exampleInstance("Root", "Observation",
		assignAt("status", fsh.Code{Code: "final"}, 2),
		assignAt("code", fsh.Code{System: "http://loinc.org", Code: "15074-8"}, 3),
		assignAt("subject", fsh.Reference{Target: "Selfie"}, 4),
	)

	doc, res := e.ExportInstance(context.Background(), inst, NewBatchContext(cat))
	d := findCode(res, shorthand.CodeRuleDropped)
	if d == nil {
		t.Fatal("expected a dropped-rule diagnostic for the cycle")
	}
	if !strings.Contains(d.Message, "Root -> Selfie -> Selfie") {
		t.Errorf("message should name the cycle: %s", d.Message)
	}
	if !res.HasErrors() {
		t.Error("the cycle should surface as an error")
	}
	// The embedded instance still materializes with the cyclic rule cut.
	got := marshalDoc(t, doc)
	if want := `"subject":{"reference":"#Selfie"}`; !strings.Contains(got, want) {
		t.Errorf("document %s\nmissing %s", got, want)
	}
	if want := `"contained":[{"resourceType":"Patient","id":"Selfie"}]`; !strings.Contains(got, want) {
		t.Errorf("document %s\nmissing %s", got, want)
	}
}

func TestExport_CanonicalValues(t *testing.T) {
	e := newTestExporter(t)

	t.Run("resolved with version", func(t *testing.T) {
		inst := exampleInstance("Ruled", "Patient",
			assignAt("implicitRules", fsh.Canonical{Entity: "Patient", Version: "4.0.1"}, 2),
		)
		doc, res, err := e.Export(context.Background(), inst)
		if err != nil {
			t.Fatalf("Export: %v", err)
		}
		if !res.Valid {
			t.Fatalf("unexpected diagnostics: %v", res.Diagnostics)
		}
		got := marshalDoc(t, doc)
		if want := `"implicitRules":"http://hl7.org/fhir/StructureDefinition/Patient|4.0.1"`; !strings.Contains(got, want) {
			t.Errorf("document %s\nmissing %s", got, want)
		}
	})

	t.Run("unresolvable", func(t *testing.T) {
		inst := exampleInstance("Adrift", "Patient",
			assignAt("implicitRules", fsh.Canonical{Entity: "NowhereProfile"}, 2),
		)
		_, res, err := e.Export(context.Background(), inst)
		if err != nil {
			t.Fatalf("Export: %v", err)
		}
		d := findCode(res, shorthand.CodeMissingDefinition)
		if d == nil {
			t.Fatal("expected a missing-definition diagnostic")
		}
		if !strings.Contains(d.Message, `canonical target "NowhereProfile" does not resolve to a URL`) {
			t.Errorf("unexpected message: %s", d.Message)
		}
	})
}

func TestExport_AliasedInstanceOf(t *testing.T) {
	e := newTestExporter(t)
	cat := fsh.NewCatalog()
	cat.SetAlias("$Patient", "http://hl7.org/fhir/StructureDefinition/Patient")
	inst := exampleInstance("Aliased", "$Patient",
		assignAt("active", fsh.Boolean{Value: true}, 2),
	)

	doc, res := e.ExportInstance(context.Background(), inst, NewBatchContext(cat))
	if !res.Valid {
		t.Fatalf("unexpected diagnostics: %v", res.Diagnostics)
	}
	if doc.ResourceType != "Patient" {
		t.Errorf("ResourceType = %q, want Patient", doc.ResourceType)
	}
}

func TestExport_DataTypeDocument(t *testing.T) {
	e := newTestExporter(t)
	inst := exampleInstance("WeightQuantity", "Quantity",
		assignAt("value", mustDecimal(t, "4.2"), 2),
		assignAt("unit", fsh.String{Value: "mg"}, 3),
		assignAt("system", fsh.String{Value: "http://unitsofmeasure.org"}, 4),
		assignAt("code", fsh.Code{Code: "mg"}, 5),
	)

	doc, res, err := e.Export(context.Background(), inst)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if !res.Valid {
		t.Fatalf("unexpected diagnostics: %v", res.Diagnostics)
	}
	want := `{"value":4.2,"unit":"mg","system":"http://unitsofmeasure.org","code":"mg"}`
	if got := marshalDoc(t, doc); got != want {
		t.Errorf("document mismatch:\n got %s\nwant %s", got, want)
	}
	if doc.ID != "" {
		t.Errorf("data type documents carry no id, got %q", doc.ID)
	}
	if got := doc.Filename(); got != "WeightQuantity.json" {
		t.Errorf("Filename() = %q", got)
	}
}

func TestExport_Carets(t *testing.T) {
	e := newTestExporter(t)
	inst := exampleInstance("Annotated", "Patient",
		assignAt("active", fsh.Boolean{Value: true}, 2),
		&fsh.CaretRule{
			RuleBase: fsh.RuleBase{Loc: fsh.SourceLocation{File: "test.fsh", Line: 3, Col: 1}},
			Caret:    "id",
			Value:    fsh.String{Value: "caret-id"},
		},
		&fsh.CaretRule{
			RuleBase: fsh.RuleBase{Loc: fsh.SourceLocation{File: "test.fsh", Line: 4, Col: 1}},
			Caret:    "language",
			Value:    fsh.Code{Code: "en"},
		},
		&fsh.CaretRule{
			RuleBase: fsh.RuleBase{Loc: fsh.SourceLocation{File: "test.fsh", Line: 5, Col: 1}},
			Caret:    "version",
			Value:    fsh.String{Value: "1.0.0"},
		},
	)

	doc, res, err := e.Export(context.Background(), inst)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	want := `{"resourceType":"Patient","id":"caret-id","language":"en","active":true}`
	if got := marshalDoc(t, doc); got != want {
		t.Errorf("document mismatch:\n got %s\nwant %s", got, want)
	}
	if doc.ID != "caret-id" {
		t.Errorf("doc.ID = %q, want caret-id", doc.ID)
	}
	d := findCode(res, shorthand.CodeRuleDropped)
	if d == nil {
		t.Fatal("expected a dropped-rule warning for ^version")
	}
	if !strings.Contains(d.Message, "^version does not carry into a document") {
		t.Errorf("unexpected message: %s", d.Message)
	}
	if !res.Valid {
		t.Error("a dropped metadata rule should not invalidate the document")
	}
}

func TestExport_MaxErrors(t *testing.T) {
	e := newTestExporter(t, shorthand.WithMaxErrors(1))
	inst := exampleInstance("Budgeted", "Patient",
		assignAt("wibble", fsh.Boolean{Value: true}, 2),
		assignAt("wobble", fsh.Boolean{Value: true}, 3),
		assignAt("active", fsh.Boolean{Value: true}, 4),
	)

	doc, res, err := e.Export(context.Background(), inst)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if len(res.Diagnostics) != 2 {
		t.Fatalf("expected 2 diagnostics, got %v", res.Diagnostics)
	}
	d := findCode(res, shorthand.CodeRuleDropped)
	if d == nil {
		t.Fatal("expected an error limit warning")
	}
	if !strings.Contains(d.Message, "error limit of 1 reached; 2 remaining rules skipped") {
		t.Errorf("unexpected message: %s", d.Message)
	}
	if got := marshalDoc(t, doc); strings.Contains(got, "active") {
		t.Errorf("skipped rule leaked into %s", got)
	}
}

const weightProfileJSON = `{
  "resourceType": "StructureDefinition",
  "id": "weight-observation",
  "url": "http://example.org/StructureDefinition/weight-observation",
  "name": "WeightObservation",
  "status": "active",
  "fhirVersion": "4.0.1",
  "kind": "resource",
  "abstract": false,
  "type": "Observation",
  "baseDefinition": "http://hl7.org/fhir/StructureDefinition/Observation",
  "derivation": "constraint",
  "snapshot": {
    "element": [
      {"id": "Observation", "path": "Observation", "min": 0, "max": "*"},
      {"id": "Observation.id", "path": "Observation.id", "min": 0, "max": "1", "type": [{"code": "http://hl7.org/fhirpath/System.String"}]},
      {"id": "Observation.meta", "path": "Observation.meta", "min": 0, "max": "1", "type": [{"code": "Meta"}]},
      {"id": "Observation.status", "path": "Observation.status", "min": 1, "max": "1", "type": [{"code": "code"}], "fixedCode": "final"},
      {"id": "Observation.code", "path": "Observation.code", "min": 1, "max": "1", "type": [{"code": "CodeableConcept"}], "patternCodeableConcept": {"coding": [{"system": "http://loinc.org", "code": "29463-7"}]}},
      {"id": "Observation.subject", "path": "Observation.subject", "min": 0, "max": "1", "type": [{"code": "Reference", "targetProfile": ["http://hl7.org/fhir/StructureDefinition/Patient"]}]},
      {"id": "Observation.value[x]", "path": "Observation.value[x]", "min": 0, "max": "1", "type": [{"code": "Quantity"}]}
    ]
  }
}`

func newProfileExporter(t *testing.T) *Exporter {
	t.Helper()
	e := newTestExporter(t)
	ps := loader.NewProfileStore(64)
	if _, err := specs.Load(specs.R4, ps, nil); err != nil {
		t.Fatalf("load embedded definitions: %v", err)
	}
	if n, err := ps.LoadJSON([]byte(weightProfileJSON)); err != nil || n != 1 {
		t.Fatalf("load profile: n=%d err=%v", n, err)
	}
	e.SetProfileResolver(ps)
	return e
}

func TestExport_ProfileDocument(t *testing.T) {
	t.Run("header and mandated content", func(t *testing.T) {
		e := newProfileExporter(t)
		inst := exampleInstance("BodyWeight", "WeightObservation",
			assignAt("valueQuantity", fsh.Quantity{Value: mustDecimal(t, "72"), Code: "kg"}, 2),
		)
		doc, res, err := e.Export(context.Background(), inst)
		if err != nil {
			t.Fatalf("Export: %v", err)
		}
		if !res.Valid {
			t.Fatalf("unexpected diagnostics: %v", res.Diagnostics)
		}
		want := `{"resourceType":"Observation","id":"BodyWeight",` +
			`"meta":{"profile":["http://example.org/StructureDefinition/weight-observation"]},` +
			`"status":"final",` +
			`"code":{"coding":[{"system":"http://loinc.org","code":"29463-7"}]},` +
			`"valueQuantity":{"value":72,"system":"http://unitsofmeasure.org","code":"kg"}}`
		if got := marshalDoc(t, doc); got != want {
			t.Errorf("document mismatch:\n got %s\nwant %s", got, want)
		}
	})

	t.Run("no meta claim when disabled", func(t *testing.T) {
		e := newTestExporter(t, shorthand.WithMetaProfile(false))
		ps := loader.NewProfileStore(64)
		if _, err := specs.Load(specs.R4, ps, nil); err != nil {
			t.Fatalf("load embedded definitions: %v", err)
		}
		if _, err := ps.LoadJSON([]byte(weightProfileJSON)); err != nil {
			t.Fatalf("load profile: %v", err)
		}
		e.SetProfileResolver(ps)

		doc, _, err := e.Export(context.Background(), exampleInstance("Bare", "WeightObservation"))
		if err != nil {
			t.Fatalf("Export: %v", err)
		}
		if got := marshalDoc(t, doc); strings.Contains(got, "meta") {
			t.Errorf("meta claim present despite the option: %s", got)
		}
	})

	t.Run("fixed value conflict", func(t *testing.T) {
		e := newProfileExporter(t)
		inst := exampleInstance("Contrary", "WeightObservation",
			assignAt("status", fsh.Code{Code: "preliminary"}, 2),
		)
		doc, res, err := e.Export(context.Background(), inst)
		if err != nil {
			t.Fatalf("Export: %v", err)
		}
		d := findCode(res, shorthand.CodeValueConflict)
		if d == nil {
			t.Fatal("expected a value-conflict diagnostic")
		}
		if !strings.Contains(d.Message, "cannot assign preliminary to Observation.status: it already holds final") {
			t.Errorf("unexpected message: %s", d.Message)
		}
		if got := marshalDoc(t, doc); !strings.Contains(got, `"status":"final"`) {
			t.Errorf("the fixed value should stand: %s", got)
		}
	})
}

func TestExport_ContextCancelled(t *testing.T) {
	e := newTestExporter(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	inst := exampleInstance("Late", "Patient",
		assignAt("active", fsh.Boolean{Value: true}, 2),
	)
	doc, res, err := e.Export(ctx, inst)
	if err != context.Canceled {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if doc != nil {
		t.Error("expected no document after cancellation")
	}
	if res == nil {
		t.Error("the partial result should still come back")
	}
}

func TestExport_Metrics(t *testing.T) {
	e := newTestExporter(t)
	inst := exampleInstance("Counted", "Patient",
		assignAt("gender", fsh.Code{Code: "female"}, 2),
		assignAt("active", fsh.Boolean{Value: true}, 3),
		assignAt("wibble", fsh.Boolean{Value: true}, 4),
	)
	if _, _, err := e.Export(context.Background(), inst); err != nil {
		t.Fatalf("Export: %v", err)
	}

	m := e.Metrics()
	if got := m.DocumentsTotal(); got != 1 {
		t.Errorf("DocumentsTotal() = %d, want 1", got)
	}
	if got := m.DocumentsValid(); got != 0 {
		t.Errorf("DocumentsValid() = %d, want 0", got)
	}
	if got := m.RulesApplied(); got != 2 {
		t.Errorf("RulesApplied() = %d, want 2", got)
	}
	if got := m.RulesFailed(); got != 1 {
		t.Errorf("RulesFailed() = %d, want 1", got)
	}
	for _, stage := range []string{"linearize", "assign", "populate", "cardinality"} {
		st, ok := m.StageStats(stage)
		if !ok || st.Invocations != 1 {
			t.Errorf("stage %s: invocations = %d, ok = %t", stage, st.Invocations, ok)
		}
	}
}

func TestExportBatch(t *testing.T) {
	e := newTestExporter(t)
	cat := fsh.NewCatalog()
	mustAddInstance(t, cat, exampleInstance("Alpha", "Patient",
		assignAt("gender", fsh.Code{Code: "female"}, 2),
	))
	mustAddInstance(t, cat, exampleInstance("Beta", "Observation",
		assignAt("status", fsh.Code{Code: "final"}, 2),
		assignAt("code", fsh.Code{System: "http://loinc.org", Code: "15074-8"}, 3),
	))
	gamma := exampleInstance("Gamma", "Patient")
	gamma.Usage = fsh.UsageInline
	mustAddInstance(t, cat, gamma)

	br, err := e.ExportBatch(context.Background(), cat)
	if err != nil {
		t.Fatalf("ExportBatch: %v", err)
	}
	if br.HasErrors() {
		t.Fatalf("unexpected errors: %v", br.Results)
	}
	if len(br.Documents) != 2 || len(br.Results) != 2 {
		t.Fatalf("got %d documents, %d results; want 2 and 2", len(br.Documents), len(br.Results))
	}
	if br.Documents[0].Name != "Alpha" || br.Documents[1].Name != "Beta" {
		t.Errorf("catalog order lost: %s, %s", br.Documents[0].Name, br.Documents[1].Name)
	}
	if br.Document("Gamma") != nil {
		t.Error("inline instances should not export standalone")
	}
	if br.Document("Alpha") == nil {
		t.Error("Document(Alpha) returned nil")
	}
	if br.Results[0].JobID == "" || br.Results[1].JobID == "" {
		t.Error("results should carry job ids")
	}
	if br.Results[0].JobID == br.Results[1].JobID {
		t.Error("job ids should be unique")
	}
}

func TestExportBatch_NilCatalog(t *testing.T) {
	e := newTestExporter(t)
	if _, err := e.ExportBatch(context.Background(), nil); err == nil {
		t.Fatal("expected an error for a nil catalog")
	}
}

func TestExportBatch_DuplicateIDs(t *testing.T) {
	e := newTestExporter(t)
	cat := fsh.NewCatalog()
	mustAddInstance(t, cat, exampleInstance("Dup1", "Patient",
		assignAt("id", fsh.String{Value: "shared-id"}, 2),
	))
	mustAddInstance(t, cat, exampleInstance("Dup2", "Patient",
		assignAt("id", fsh.String{Value: "shared-id"}, 2),
	))

	br, err := e.ExportBatch(context.Background(), cat)
	if err != nil {
		t.Fatalf("ExportBatch: %v", err)
	}
	if !br.HasErrors() {
		t.Fatal("expected a duplicate-id error")
	}
	if d := findCode(br.Results[0], shorthand.CodeDuplicateID); d != nil {
		t.Errorf("the first claimant should be clean, got %s", d.Message)
	}
	d := findCode(br.Results[1], shorthand.CodeDuplicateID)
	if d == nil {
		t.Fatal("expected the duplicate on the second instance")
	}
	if !strings.Contains(d.Message, `id Patient/shared-id is already used by instance "Dup1"`) {
		t.Errorf("unexpected message: %s", d.Message)
	}
}

// Output ordering comes from schema positions, so compatible rules give
// the same document in either order.
func TestExport_CompatibleRulesCommute(t *testing.T) {
	exportOrder := func(t *testing.T, rules []fsh.Rule) string {
		t.Helper()
		e := newTestExporter(t)
		doc, res, err := e.Export(context.Background(), exampleInstance("Commute", "Patient", rules...))
		if err != nil {
			t.Fatalf("Export: %v", err)
		}
		if !res.Valid {
			t.Fatalf("unexpected diagnostics: %v", res.Diagnostics)
		}
		return marshalDoc(t, doc)
	}

	t.Run("disjoint fields", func(t *testing.T) {
		forward := exportOrder(t, []fsh.Rule{
			assignAt("name.family", fsh.String{Value: "Chalmers"}, 2),
			assignAt("gender", fsh.Code{Code: "female"}, 3),
			assignAt("birthDate", fsh.String{Value: "1974-12-25"}, 4),
		})
		reversed := exportOrder(t, []fsh.Rule{
			assignAt("birthDate", fsh.String{Value: "1974-12-25"}, 2),
			assignAt("gender", fsh.Code{Code: "female"}, 3),
			assignAt("name.family", fsh.String{Value: "Chalmers"}, 4),
		})
		if forward != reversed {
			t.Errorf("rule order changed the document:\n%s\n%s", forward, reversed)
		}
	})

	t.Run("structured merge", func(t *testing.T) {
		whole := fsh.Code{System: "http://terminology.hl7.org/CodeSystem/v3-MaritalStatus", Code: "M"}
		wholeFirst := exportOrder(t, []fsh.Rule{
			assignAt("maritalStatus", whole, 2),
			assignAt("maritalStatus.text", fsh.String{Value: "Married"}, 3),
		})
		textFirst := exportOrder(t, []fsh.Rule{
			assignAt("maritalStatus.text", fsh.String{Value: "Married"}, 2),
			assignAt("maritalStatus", whole, 3),
		})
		if wholeFirst != textFirst {
			t.Errorf("rule order changed the document:\n%s\n%s", wholeFirst, textFirst)
		}
	})
}

func TestExportBatch_DeterministicAcrossWorkers(t *testing.T) {
	buildCatalog := func(t *testing.T) *fsh.Catalog {
		t.Helper()
		cat := fsh.NewCatalog()
		genders := []string{"female", "male", "other", "female", "male", "unknown"}
		for i, g := range genders {
			mustAddInstance(t, cat, exampleInstance(
				"Pat"+string(rune('A'+i)), "Patient",
				assignAt("gender", fsh.Code{Code: g}, 2),
				assignAt("birthDate", fsh.String{Value: "1990-01-01"}, 3),
			))
		}
		return cat
	}

	exportAll := func(t *testing.T, workers int) []string {
		t.Helper()
		e := newTestExporter(t, shorthand.WithWorkerCount(workers))
		br, err := e.ExportBatch(context.Background(), buildCatalog(t))
		if err != nil {
			t.Fatalf("ExportBatch(workers=%d): %v", workers, err)
		}
		out := make([]string, len(br.Documents))
		for i, doc := range br.Documents {
			out[i] = doc.Filename() + ":" + marshalDoc(t, doc)
		}
		return out
	}

	sequential := exportAll(t, 1)
	parallel := exportAll(t, 4)
	if len(sequential) != len(parallel) {
		t.Fatalf("document counts differ: %d vs %d", len(sequential), len(parallel))
	}
	for i := range sequential {
		if sequential[i] != parallel[i] {
			t.Errorf("document %d differs across worker counts:\n%s\n%s", i, sequential[i], parallel[i])
		}
	}
}
