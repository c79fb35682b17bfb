// Package forms holds the port-agency forms compiled into the binary and the
// derived views their screens need: permissions grouped by module, invoice
// totals and document expiry alerts.
package forms

import (
	"embed"
	"fmt"

	"github.com/pitabwire/portdesk/internal/definition"
	"github.com/pitabwire/portdesk/model"
)

// Built-in form ids.
const (
	AccessLevel = "access_level"
	PDA         = "pda"
	WorkDone    = "work_done"
	Vendor      = "vendor"
)

// invoiceKinds is the document kind each invoice form submits.
var invoiceKinds = map[string]string{
	PDA:      model.InvoiceKindPDA,
	WorkDone: model.InvoiceKindWorkDone,
}

//go:embed definitions/*.yaml
var definitionsFS embed.FS

// Definitions parses the built-in form definitions.
func Definitions() ([]definition.FormDefinition, error) {
	defs, err := definition.NewLoader().LoadFS(definitionsFS, "definitions")
	if err != nil {
		return nil, fmt.Errorf("forms: loading built-in definitions: %w", err)
	}
	for _, d := range defs {
		if kind, ok := invoiceKinds[d.ID]; ok && d.Blank["kind"] != kind {
			return nil, fmt.Errorf("forms: %s: blank kind is %v, want %q", d.ID, d.Blank["kind"], kind)
		}
	}
	return defs, nil
}

// Merge combines the built-in definitions with extra ones loaded from disk.
// An extra definition replaces the built-in form with the same id.
func Merge(builtin, extra []definition.FormDefinition) []definition.FormDefinition {
	out := make([]definition.FormDefinition, 0, len(builtin)+len(extra))
	overridden := make(map[string]bool, len(extra))
	for _, d := range extra {
		overridden[d.ID] = true
	}
	for _, d := range builtin {
		if !overridden[d.ID] {
			out = append(out, d)
		}
	}
	return append(out, extra...)
}
