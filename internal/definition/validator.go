package definition

import (
	"fmt"
	"strings"

	"github.com/pitabwire/portdesk/internal/docpath"
	"github.com/pitabwire/portdesk/internal/openapi"
)

// VError describes a single validation error in a definition.
type VError struct {
	Path    string `json:"path"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e VError) Error() string {
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// Validator validates form definitions structurally, referentially, and
// against the backend OpenAPI document.
type Validator struct{}

// NewValidator creates a new Validator.
func NewValidator() *Validator {
	return &Validator{}
}

// Validate checks all definitions. The index may be nil to skip OpenAPI
// checks. Form IDs and draft keys must be unique across the set, since the
// draft key space is shared by every form.
func (v *Validator) Validate(defs []FormDefinition, index *openapi.Index) []VError {
	var errs []VError
	ids := make(map[string]string)
	keys := make(map[string]string)

	for i, def := range defs {
		prefix := fmt.Sprintf("forms[%d]", i)
		if def.SourceFile != "" {
			prefix = def.SourceFile
		}
		errs = append(errs, v.validateForm(prefix, def, index)...)

		if def.ID != "" {
			if other, dup := ids[def.ID]; dup {
				errs = append(errs, VError{Path: prefix + ".id", Code: "DUPLICATE", Message: fmt.Sprintf("form id %q already defined in %s", def.ID, other)})
			} else {
				ids[def.ID] = prefix
			}
		}
		if def.DraftKey != "" {
			if other, dup := keys[def.DraftKey]; dup {
				errs = append(errs, VError{Path: prefix + ".draft_key", Code: "DUPLICATE", Message: fmt.Sprintf("draft key %q already used by %s", def.DraftKey, other)})
			} else {
				keys[def.DraftKey] = prefix
			}
		}
	}
	return errs
}

func (v *Validator) validateForm(prefix string, f FormDefinition, index *openapi.Index) []VError {
	var errs []VError

	if f.ID == "" {
		errs = append(errs, VError{Path: prefix + ".id", Code: "REQUIRED", Message: "id is required"})
	}
	if f.Title == "" {
		errs = append(errs, VError{Path: prefix + ".title", Code: "REQUIRED", Message: "title is required"})
	}
	if f.DraftKey == "" {
		errs = append(errs, VError{Path: prefix + ".draft_key", Code: "REQUIRED", Message: "draft_key is required"})
	} else if strings.ContainsAny(f.DraftKey, ":/") {
		errs = append(errs, VError{Path: prefix + ".draft_key", Code: "INVALID", Message: "draft_key must not contain ':' or '/'"})
	}

	groups := make(map[string]bool, len(f.Groups))
	for i, g := range f.Groups {
		gp := fmt.Sprintf("%s.groups[%d]", prefix, i)
		if _, err := docpath.Split(g.Path); err != nil {
			errs = append(errs, VError{Path: gp + ".path", Code: "INVALID", Message: fmt.Sprintf("invalid group path %q", g.Path)})
			continue
		}
		if groups[g.Path] {
			errs = append(errs, VError{Path: gp + ".path", Code: "DUPLICATE", Message: fmt.Sprintf("group %q declared twice", g.Path)})
		}
		groups[g.Path] = true
		if g.SequenceField != "" && g.Template == nil {
			errs = append(errs, VError{Path: gp + ".template", Code: "REQUIRED", Message: "template is required for a numbered group"})
		}
		errs = append(errs, v.validateFloors(gp, f, g)...)
	}

	for i, s := range f.Sets {
		sp := fmt.Sprintf("%s.sets[%d]", prefix, i)
		if s.Path == "" {
			errs = append(errs, VError{Path: sp + ".path", Code: "REQUIRED", Message: "path is required"})
		}
		if s.Source == "" {
			errs = append(errs, VError{Path: sp + ".source", Code: "REQUIRED", Message: "source collection is required"})
		}
		if groups[s.Path] {
			errs = append(errs, VError{Path: sp + ".path", Code: "CONFLICT", Message: fmt.Sprintf("%q is both a group and a set", s.Path)})
		}
	}

	for i, r := range f.Required {
		if _, err := docpath.Split(r); err != nil {
			errs = append(errs, VError{Path: fmt.Sprintf("%s.required[%d]", prefix, i), Code: "INVALID", Message: fmt.Sprintf("invalid path %q", r)})
		}
	}
	for i, p := range f.DatePairs {
		if p.Date == "" || p.Time == "" {
			errs = append(errs, VError{Path: fmt.Sprintf("%s.date_pairs[%d]", prefix, i), Code: "REQUIRED", Message: "date and time are both required"})
		}
	}
	for i, r := range f.RequireAny {
		rp := fmt.Sprintf("%s.require_any[%d]", prefix, i)
		if !groups[r.Group] {
			errs = append(errs, VError{Path: rp + ".group", Code: "REF_NOT_FOUND", Message: fmt.Sprintf("group %q not declared", r.Group)})
		}
		if r.Field == "" {
			errs = append(errs, VError{Path: rp + ".field", Code: "REQUIRED", Message: "field is required"})
		}
	}

	names := make(map[string]bool, len(f.Totals))
	for i, t := range f.Totals {
		tp := fmt.Sprintf("%s.totals[%d]", prefix, i)
		if t.Name == "" {
			errs = append(errs, VError{Path: tp + ".name", Code: "REQUIRED", Message: "name is required"})
		} else if names[t.Name] {
			errs = append(errs, VError{Path: tp + ".name", Code: "DUPLICATE", Message: fmt.Sprintf("total %q declared twice", t.Name)})
		}
		names[t.Name] = true
		if !groups[t.Group] {
			errs = append(errs, VError{Path: tp + ".group", Code: "REF_NOT_FOUND", Message: fmt.Sprintf("group %q not declared", t.Group)})
		}
		if t.Field == "" {
			errs = append(errs, VError{Path: tp + ".field", Code: "REQUIRED", Message: "field is required"})
		}
	}

	if f.Submit.Create.IsZero() && f.Submit.Update.IsZero() {
		errs = append(errs, VError{Path: prefix + ".submit", Code: "REQUIRED", Message: "at least one of submit.create or submit.update is required"})
	}
	errs = append(errs, v.validateEndpoint(prefix+".submit.create", f.Submit.Create, index)...)
	errs = append(errs, v.validateEndpoint(prefix+".submit.update", f.Submit.Update, index)...)

	return errs
}

// validateFloors checks that the blank document, and the template of every
// enclosing group, satisfy the group's non-empty floor.
func (v *Validator) validateFloors(prefix string, f FormDefinition, g GroupDef) []VError {
	if !g.NonEmpty {
		return nil
	}
	var errs []VError
	for _, inst := range g.Instances(f.Blank) {
		if len(docpath.GetList(f.Blank, inst)) == 0 {
			errs = append(errs, VError{Path: prefix, Code: "FLOOR_VIOLATION", Message: fmt.Sprintf("blank document has no element at %q", inst)})
		}
	}
	for _, outer := range f.Groups {
		rel, ok := strings.CutPrefix(g.Path, outer.Path+"."+docpath.Wildcard+".")
		if !ok || strings.Contains(rel, docpath.Wildcard) || outer.Template == nil {
			continue
		}
		if len(docpath.GetList(outer.Template, rel)) == 0 {
			errs = append(errs, VError{Path: prefix, Code: "FLOOR_VIOLATION", Message: fmt.Sprintf("template of %q has no element at %q", outer.Path, rel)})
		}
	}
	return errs
}

func (v *Validator) validateEndpoint(prefix string, ep Endpoint, index *openapi.Index) []VError {
	if ep.IsZero() {
		return nil
	}
	if ep.OperationID != "" && ep.Path != "" {
		return []VError{{Path: prefix, Code: "CONFLICT", Message: "set operation_id or path, not both"}}
	}
	if ep.OperationID != "" && index != nil {
		if _, ok := index.Operation(ep.OperationID); !ok {
			return []VError{{
				Path:    prefix + ".operation_id",
				Code:    "OPERATION_NOT_FOUND",
				Message: fmt.Sprintf("operation %q not found in backend OpenAPI document", ep.OperationID),
			}}
		}
	}
	return nil
}
