package form

import "github.com/pitabwire/portdesk/internal/docpath"

// View is a consistent read of a form instance for rendering.
type View struct {
	FormID       string              `json:"form_id"`
	Title        string              `json:"title"`
	State        State               `json:"state"`
	EntityID     string              `json:"entity_id,omitempty"`
	Document     map[string]any      `json:"document,omitempty"`
	Dirty        bool                `json:"dirty"`
	Resumed      bool                `json:"resumed_draft"`
	Totals       []Total             `json:"totals,omitempty"`
	Selections   map[string][]string `json:"selections,omitempty"`
	DraftWarning string              `json:"draft_warning,omitempty"`
}

// View returns the current state, document and derived values in one read.
func (c *Controller) View() View {
	c.mu.Lock()
	v := View{
		FormID:   c.def.ID,
		Title:    c.def.Title,
		State:    c.state,
		EntityID: c.entityID,
		Resumed:  c.resumed,
	}
	doc := c.working
	if doc != nil {
		v.Dirty = !docpath.Equal(doc, c.baseline)
	}
	c.mu.Unlock()

	if doc != nil {
		v.Document = docpath.Clone(doc).(map[string]any)
		v.Totals = ComputeTotals(c.def, doc)
		if len(c.def.Sets) > 0 {
			v.Selections = make(map[string][]string, len(c.def.Sets))
			for _, s := range c.def.Sets {
				v.Selections[s.Path] = c.selection(doc, s.Path)
			}
		}
	}
	if err := c.DraftWarning(); err != nil {
		v.DraftWarning = DraftUnavailableMessage
	}
	return v
}
