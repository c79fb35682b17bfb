package forms

import (
	"strings"

	"github.com/pitabwire/portdesk/internal/derived"
	"github.com/pitabwire/portdesk/model"
)

// GeneralModule collects permissions that name no module.
const GeneralModule = "General"

// PermissionGroup is the permissions of one module, in collection order.
type PermissionGroup = derived.Group[string, model.Permission]

func moduleOf(p model.Permission) string {
	if m := strings.TrimSpace(p.Module); m != "" {
		return m
	}
	return GeneralModule
}

// SearchPermissions filters permissions by name, module or description.
func SearchPermissions(perms []model.Permission, term string) []model.Permission {
	return derived.FilterBySearchTerm(perms, term,
		func(p model.Permission) string { return p.Name },
		func(p model.Permission) string { return p.Module },
		func(p model.Permission) string { return p.Description },
	)
}

// GroupPermissionsByModule buckets permissions by module. Modules appear in
// the order they are first seen.
func GroupPermissionsByModule(perms []model.Permission) []PermissionGroup {
	return derived.GroupBy(perms, moduleOf)
}

// ModuleSummary reports how much of one module an access level grants.
type ModuleSummary struct {
	Module     string  `json:"module"`
	Selected   int     `json:"selected"`
	Total      int     `json:"total"`
	Percentage float64 `json:"percentage"`
	// All is true when every permission of the module is selected.
	All bool `json:"all"`
}

// ModuleSelectionSummary counts the selected permissions of every module.
// Selected ids that are not in perms are ignored.
func ModuleSelectionSummary(perms []model.Permission, selected []string) []ModuleSummary {
	chosen := make(map[string]bool, len(selected))
	for _, id := range selected {
		chosen[id] = true
	}

	groups := GroupPermissionsByModule(perms)
	out := make([]ModuleSummary, 0, len(groups))
	for _, g := range groups {
		s := ModuleSummary{Module: g.Key, Total: len(g.Items)}
		for _, p := range g.Items {
			if chosen[p.ID] {
				s.Selected++
			}
		}
		s.Percentage = derived.Percentage(s.Selected, s.Total)
		s.All = s.Total > 0 && s.Selected == s.Total
		out = append(out, s)
	}
	return out
}

// VisibleInModule returns the ids of the permissions of module that match
// term. It is the id list behind "select all" within a filtered module.
func VisibleInModule(perms []model.Permission, module, term string) []string {
	var ids []string
	for _, p := range SearchPermissions(perms, term) {
		if moduleOf(p) == module {
			ids = append(ids, p.ID)
		}
	}
	return ids
}
