package form

import "fmt"

// State is the lifecycle state of one form instance.
type State int

const (
	// Closed: no working draft is held.
	Closed State = iota
	// Editing: the working draft accepts mutations.
	Editing
	// Submitting: a submit is outstanding; mutations and a second submit
	// are rejected.
	Submitting
	// ConfirmDiscard: the user asked to close a changed form and must pick
	// a CloseChoice.
	ConfirmDiscard
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Editing:
		return "editing"
	case Submitting:
		return "submitting"
	case ConfirmDiscard:
		return "confirm_discard"
	default:
		return "unknown"
	}
}

// MarshalText renders the state by name in JSON views.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a state name written by MarshalText.
func (s *State) UnmarshalText(text []byte) error {
	for _, st := range []State{Closed, Editing, Submitting, ConfirmDiscard} {
		if st.String() == string(text) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("form: unknown state %q", text)
}

// CloseChoice answers the ConfirmDiscard prompt.
type CloseChoice string

const (
	// SaveDraft keeps the draft slot populated and closes.
	SaveDraft CloseChoice = "save_draft"
	// Discard clears the draft slot and closes.
	Discard CloseChoice = "discard"
	// Cancel returns to editing.
	Cancel CloseChoice = "cancel"
)

// Valid reports whether c is a known choice.
func (c CloseChoice) Valid() bool {
	switch c {
	case SaveDraft, Discard, Cancel:
		return true
	}
	return false
}
