package form

import (
	"fmt"
	"strconv"

	"github.com/pitabwire/portdesk/internal/definition"
	"github.com/pitabwire/portdesk/internal/derived"
	"github.com/pitabwire/portdesk/internal/docpath"
	"github.com/pitabwire/portdesk/model"
)

// Field error codes.
const (
	CodeRequired   = "REQUIRED"
	CodeRequireAny = "REQUIRE_ANY"
)

// Validate checks the working document against the form's rules without
// submitting it.
func (c *Controller) Validate() []model.FieldError {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.working == nil {
		return nil
	}
	return c.validate(c.working)
}

func (c *Controller) validate(doc map[string]any) []model.FieldError {
	var errs []model.FieldError

	for _, path := range c.def.Required {
		for _, concrete := range instances(doc, path) {
			if v, _ := docpath.Get(doc, concrete); isBlank(v) {
				errs = append(errs, model.FieldError{
					Field:   concrete,
					Code:    CodeRequired,
					Message: fmt.Sprintf("%s is required", lastSegment(concrete)),
				})
			}
		}
	}

	for _, pair := range c.def.DatePairs {
		for _, p := range []string{pair.Date, pair.Time} {
			if v, _ := docpath.Get(doc, p); isBlank(v) {
				errs = append(errs, model.FieldError{
					Field:   p,
					Code:    CodeRequired,
					Message: fmt.Sprintf("%s is required", lastSegment(p)),
				})
			}
		}
	}

	for _, rule := range c.def.RequireAny {
		if !anyPopulated(doc, rule) {
			msg := rule.Message
			if msg == "" {
				msg = fmt.Sprintf("at least one entry with a %s is required", rule.Field)
			}
			errs = append(errs, model.FieldError{Field: rule.Group, Code: CodeRequireAny, Message: msg})
		}
	}

	return errs
}

// instances resolves a possibly wildcarded field path to the concrete paths
// it names, including ones whose leaf key is absent.
func instances(doc map[string]any, path string) []string {
	return definition.GroupDef{Path: path}.Instances(doc)
}

func anyPopulated(doc map[string]any, rule definition.RequireAnyDef) bool {
	for _, inst := range instances(doc, rule.Group) {
		for _, item := range docpath.GetList(doc, inst) {
			if v, _ := docpath.Get(item, rule.Field); !isBlank(v) {
				return true
			}
		}
	}
	return false
}

func lastSegment(path string) string {
	parts, err := docpath.Split(path)
	if err != nil {
		return path
	}
	for i := len(parts) - 1; i >= 0; i-- {
		if _, err := strconv.Atoi(parts[i]); err != nil {
			return parts[i]
		}
	}
	return path
}

// Total is one computed sum over a group instance. Totals are never stored
// in the document.
type Total struct {
	Name    string  `json:"name"`
	Path    string  `json:"path,omitempty"`
	Value   float64 `json:"value"`
	Display string  `json:"display"`
}

// Totals computes every declared total over the working document: one entry
// per group instance, plus a grand entry (empty Path) per total when the
// group is wildcarded.
func (c *Controller) Totals() []Total {
	c.mu.Lock()
	doc := c.working
	c.mu.Unlock()
	if doc == nil {
		return nil
	}
	return ComputeTotals(c.def, doc)
}

// ComputeTotals evaluates def's totals over doc.
func ComputeTotals(def definition.FormDefinition, doc map[string]any) []Total {
	var out []Total
	for _, t := range def.Totals {
		g := definition.GroupDef{Path: t.Group}
		var grand float64
		insts := g.Instances(doc)
		for _, inst := range insts {
			sum := derived.SumNumericField(docpath.GetList(doc, inst), func(row any) string {
				return docpath.GetString(row, t.Field)
			})
			grand += sum
			out = append(out, Total{Name: t.Name, Path: inst, Value: sum, Display: derived.FormatAmount(sum)})
		}
		if len(insts) != 1 || insts[0] != t.Group {
			out = append(out, Total{Name: t.Name, Value: grand, Display: derived.FormatAmount(grand)})
		}
	}
	return out
}
