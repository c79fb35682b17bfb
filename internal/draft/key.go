package draft

import "strings"

// Key returns the draft slot for a form. Add-mode forms share one slot per
// form; edit-mode forms get one slot per target entity, so editing two
// vendors never mixes their drafts.
func Key(formKey, entityID string) string {
	if entityID == "" {
		return formKey
	}
	return formKey + ":" + entityID
}

// Namespaced prefixes key with the session subject so that users sharing a
// process never share a draft slot. An empty subject leaves key unchanged.
func Namespaced(subject, key string) string {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return key
	}
	return subject + "/" + key
}
