package forms

import (
	"context"
	"strconv"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/pitabwire/portdesk/internal/definition"
	"github.com/pitabwire/portdesk/internal/draft"
	"github.com/pitabwire/portdesk/internal/form"
	"github.com/pitabwire/portdesk/internal/openapi"
	"github.com/pitabwire/portdesk/model"
)

func builtin(t *testing.T) *definition.Registry {
	t.Helper()
	defs, err := Definitions()
	if err != nil {
		t.Fatalf("Definitions() error = %v", err)
	}
	return definition.NewRegistry(defs)
}

func TestDefinitions_loadAndValidate(t *testing.T) {
	reg := builtin(t)

	var ids []string
	for _, d := range reg.AllForms() {
		ids = append(ids, d.ID)
	}
	if diff := cmp.Diff([]string{AccessLevel, PDA, Vendor, WorkDone}, ids); diff != "" {
		t.Errorf("form ids (-want +got):\n%s", diff)
	}

	idx := openapi.NewIndex()
	if err := idx.Load(context.Background(), "../openapi/testdata/portagency.yaml"); err != nil {
		t.Fatalf("loading OpenAPI index: %v", err)
	}
	if errs := definition.NewValidator().Validate(reg.AllForms(), idx); len(errs) != 0 {
		t.Errorf("Validate() = %v, want no errors", errs)
	}
}

func TestDefinitions_invoiceKinds(t *testing.T) {
	reg := builtin(t)
	for id, want := range map[string]string{PDA: model.InvoiceKindPDA, WorkDone: model.InvoiceKindWorkDone} {
		def, ok := reg.GetForm(id)
		if !ok {
			t.Fatalf("form %s not registered", id)
		}
		if got := def.Blank["kind"]; got != want {
			t.Errorf("%s blank kind = %v, want %q", id, got, want)
		}
	}
}

func TestMerge_extraReplacesBuiltin(t *testing.T) {
	builtin := []definition.FormDefinition{{ID: "pda", Title: "PDA"}, {ID: "vendor", Title: "Vendor"}}
	extra := []definition.FormDefinition{{ID: "vendor", Title: "Supplier"}, {ID: "crew", Title: "Crew"}}

	got := Merge(builtin, extra)
	var titles []string
	for _, d := range got {
		titles = append(titles, d.Title)
	}
	if diff := cmp.Diff([]string{"PDA", "Supplier", "Crew"}, titles); diff != "" {
		t.Errorf("Merge() titles (-want +got):\n%s", diff)
	}
}

type nopSubmitter struct{ doc map[string]any }

func (s *nopSubmitter) Submit(_ context.Context, _ string, doc map[string]any) error {
	s.doc = doc
	return nil
}

func TestPDA_builtinFormEndToEnd(t *testing.T) {
	def, ok := builtin(t).GetForm(PDA)
	if !ok {
		t.Fatal("pda form missing")
	}
	sub := &nopSubmitter{}
	ctrl := form.New(def, form.Deps{
		Drafts:    draft.NewStore(draft.NewMemoryBackend(0), nil, nil),
		Submitter: sub,
	})
	ctx := context.Background()
	must := func(err error) {
		t.Helper()
		if err != nil {
			t.Fatal(err)
		}
	}

	must(ctrl.OpenAdd(ctx))
	must(ctrl.SetField(ctx, "port_call_id", "pc-17"))
	must(ctrl.SetField(ctx, "date", "2026-03-01"))
	must(ctrl.SetField(ctx, "time", "06:30"))
	must(ctrl.SetField(ctx, "tables.0.title", "Port dues"))
	must(ctrl.AddGroupItem(ctx, "tables.0.rows", nil))
	must(ctrl.AddGroupItem(ctx, "tables.0.rows", nil))
	must(ctrl.SetField(ctx, "tables.0.rows.0.description", "Light dues"))
	for i, amount := range []string{"100.50", "", "49.50"} {
		must(ctrl.SetField(ctx, "tables.0.rows."+strconv.Itoa(i)+".amount", amount))
	}

	summary := InvoiceTotals(ctrl.Working())
	if summary.GrandDisplay != "150.00" || summary.Tables[0].Rows != 3 {
		t.Errorf("InvoiceTotals() = %+v", summary)
	}

	must(ctrl.Submit(ctx))
	if sub.doc["kind"] != model.InvoiceKindPDA {
		t.Errorf("submitted kind = %v", sub.doc["kind"])
	}
}
