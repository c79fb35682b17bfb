package definition

import (
	"strings"

	"github.com/pitabwire/portdesk/internal/docpath"
)

// FormDefinition declares one editable form: its draft slot, the shape of a
// blank document, the repeated groups and selection sets it contains, its
// validation rules, its totals and where it submits.
type FormDefinition struct {
	ID         string          `yaml:"id" json:"id"`
	Title      string          `yaml:"title" json:"title"`
	DraftKey   string          `yaml:"draft_key" json:"draft_key"`
	Collection string          `yaml:"collection" json:"collection,omitempty"`
	Blank      map[string]any  `yaml:"blank" json:"blank,omitempty"`
	Groups     []GroupDef      `yaml:"groups" json:"groups,omitempty"`
	Sets       []SetDef        `yaml:"sets" json:"sets,omitempty"`
	Required   []string        `yaml:"required" json:"required,omitempty"`
	DatePairs  []DatePairDef   `yaml:"date_pairs" json:"date_pairs,omitempty"`
	RequireAny []RequireAnyDef `yaml:"require_any" json:"require_any,omitempty"`
	Totals     []TotalDef      `yaml:"totals" json:"totals,omitempty"`
	Submit     SubmitDef       `yaml:"submit" json:"submit"`

	Checksum   string `yaml:"-" json:"-"`
	SourceFile string `yaml:"-" json:"-"`
}

// GroupDef is a repeated group. Path may contain "*" to address a group
// nested inside every element of an outer group ("pics.*.emails").
type GroupDef struct {
	Path          string `yaml:"path" json:"path"`
	NonEmpty      bool   `yaml:"non_empty" json:"non_empty,omitempty"`
	SequenceField string `yaml:"sequence_field" json:"sequence_field,omitempty"`
	// Template is the element appended by an add; scalar groups use Value.
	Template map[string]any `yaml:"template" json:"template,omitempty"`
	Value    any            `yaml:"value" json:"value,omitempty"`
}

// NewElement returns a fresh element for the group.
func (g GroupDef) NewElement() any {
	if g.Template != nil {
		return docpath.Clone(g.Template)
	}
	if g.Value != nil {
		return g.Value
	}
	return map[string]any{}
}

// SetDef is a multi-select list of ids drawn from a collection.
type SetDef struct {
	Path   string `yaml:"path" json:"path"`
	Source string `yaml:"source" json:"source"`
	// IDField names the id of source items, "id" when empty.
	IDField string `yaml:"id_field" json:"id_field,omitempty"`
}

// SourceIDField returns the id field of the set's source items.
func (s SetDef) SourceIDField() string {
	if s.IDField == "" {
		return "id"
	}
	return s.IDField
}

// DatePairDef requires a date and a time to be present together.
type DatePairDef struct {
	Date string `yaml:"date" json:"date"`
	Time string `yaml:"time" json:"time"`
}

// RequireAnyDef requires at least one element of Group to have a non-blank
// Field.
type RequireAnyDef struct {
	Group   string `yaml:"group" json:"group"`
	Field   string `yaml:"field" json:"field"`
	Message string `yaml:"message" json:"message,omitempty"`
}

// TotalDef sums Field over the elements of Group. When Group contains a
// wildcard, one total is produced per match plus a grand total.
type TotalDef struct {
	Name  string `yaml:"name" json:"name"`
	Group string `yaml:"group" json:"group"`
	Field string `yaml:"field" json:"field"`
}

// SubmitDef names the create and update endpoints.
type SubmitDef struct {
	Create Endpoint `yaml:"create" json:"create"`
	Update Endpoint `yaml:"update" json:"update"`
}

// Endpoint addresses a backend operation by OpenAPI operationId or by a
// literal method and path.
type Endpoint struct {
	OperationID string `yaml:"operation_id" json:"operation_id,omitempty"`
	Method      string `yaml:"method" json:"method,omitempty"`
	Path        string `yaml:"path" json:"path,omitempty"`
}

// IsZero reports whether the endpoint is unset.
func (e Endpoint) IsZero() bool {
	return e.OperationID == "" && e.Path == ""
}

// Group returns the group declared at path.
func (f FormDefinition) Group(path string) (GroupDef, bool) {
	for _, g := range f.Groups {
		if g.Path == path {
			return g, true
		}
	}
	return GroupDef{}, false
}

// Set returns the set declared at path.
func (f FormDefinition) Set(path string) (SetDef, bool) {
	for _, s := range f.Sets {
		if s.Path == path {
			return s, true
		}
	}
	return SetDef{}, false
}

// Instances returns the concrete paths of every instance of the group that
// doc holds: one per matching parent for wildcard groups, the path itself
// otherwise.
func (g GroupDef) Instances(doc any) []string {
	if !strings.Contains(g.Path, docpath.Wildcard) {
		return []string{g.Path}
	}
	cut := strings.LastIndexByte(g.Path, '.')
	if cut < 0 {
		return nil
	}
	parents := docpath.Expand(doc, g.Path[:cut])
	out := make([]string, 0, len(parents))
	for _, p := range parents {
		out = append(out, p+g.Path[cut:])
	}
	return out
}
