package form

import (
	"fmt"
	"slices"
	"strings"

	"github.com/pitabwire/portdesk/internal/definition"
	"github.com/pitabwire/portdesk/internal/docpath"
)

// normalizeDoc converts v to a JSON-shaped object.
func normalizeDoc(v any) (map[string]any, error) {
	n, err := docpath.Normalize(v)
	if err != nil {
		return nil, err
	}
	if n == nil {
		return map[string]any{}, nil
	}
	m, ok := n.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("form: document must be an object, got %T", n)
	}
	return m, nil
}

// overlay returns base with every key of top written over it, recursing
// into nested objects. Lists and scalars in top replace those in base.
func overlay(base, top map[string]any) map[string]any {
	out := docpath.Clone(base).(map[string]any)
	for k, v := range top {
		if bm, ok := out[k].(map[string]any); ok {
			if tm, ok := v.(map[string]any); ok {
				out[k] = overlay(bm, tm)
				continue
			}
		}
		out[k] = docpath.Clone(v)
	}
	return out
}

// groupsByDepth returns the form's groups, outer groups first, so that
// nested group instances exist by the time they are visited.
func groupsByDepth(def definition.FormDefinition) []definition.GroupDef {
	groups := slices.Clone(def.Groups)
	slices.SortStableFunc(groups, func(a, b definition.GroupDef) int {
		return strings.Count(a.Path, ".") - strings.Count(b.Path, ".")
	})
	return groups
}

// newElement returns the normalized default element of g.
func newElement(g definition.GroupDef) any {
	el, err := docpath.Normalize(g.NewElement())
	if err != nil {
		return map[string]any{}
	}
	return el
}

// enforceFloors gives every instance of a non-empty group at least one
// element.
func enforceFloors(def definition.FormDefinition, doc map[string]any) map[string]any {
	var cur any = doc
	for _, g := range groupsByDepth(def) {
		if !g.NonEmpty {
			continue
		}
		for _, inst := range g.Instances(cur) {
			if len(docpath.GetList(cur, inst)) > 0 {
				continue
			}
			if next, err := docpath.Set(cur, inst, []any{newElement(g)}); err == nil {
				cur = next
			}
		}
	}
	return cur.(map[string]any)
}

// resequence renumbers the sequence field of every numbered group 1..n.
func resequence(def definition.FormDefinition, doc map[string]any) map[string]any {
	var cur any = doc
	for _, g := range groupsByDepth(def) {
		if g.SequenceField == "" {
			continue
		}
		for _, inst := range g.Instances(cur) {
			items := docpath.GetList(cur, inst)
			if items == nil {
				continue
			}
			renumbered := make([]any, len(items))
			changed := false
			for i, item := range items {
				el, ok := item.(map[string]any)
				if !ok {
					renumbered[i] = item
					continue
				}
				want := float64(i + 1)
				if n, ok := el[g.SequenceField].(float64); ok && n == want {
					renumbered[i] = el
					continue
				}
				cp := make(map[string]any, len(el)+1)
				for k, v := range el {
					cp[k] = v
				}
				cp[g.SequenceField] = want
				renumbered[i] = cp
				changed = true
			}
			if !changed {
				continue
			}
			if next, err := docpath.Set(cur, inst, renumbered); err == nil {
				cur = next
			}
		}
	}
	return cur.(map[string]any)
}

// shape applies the structural invariants of def to doc.
func shape(def definition.FormDefinition, doc map[string]any) map[string]any {
	return resequence(def, enforceFloors(def, doc))
}

// groupFor returns the declared group whose pattern matches the concrete
// group path.
func groupFor(def definition.FormDefinition, path string) (definition.GroupDef, bool) {
	for _, g := range def.Groups {
		if docpath.Match(g.Path, path) {
			return g, true
		}
	}
	return definition.GroupDef{}, false
}

// stringList reads a list of ids.
func stringList(doc any, path string) []string {
	items := docpath.GetList(doc, path)
	out := make([]string, 0, len(items))
	for _, v := range items {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func toAny(ids []string) []any {
	out := make([]any, len(ids))
	for i, id := range ids {
		out[i] = id
	}
	return out
}

func isBlank(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	case []any:
		return len(t) == 0
	}
	return false
}
