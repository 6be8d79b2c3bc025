// Package engine reconciles optimistic local chat state against the remote
// store while a generation is streaming in.
package engine

import (
	"time"

	"github.com/google/uuid"
	"github.com/softwind-labs/companion/internal/store"
)

// Ref identifies a message: either confirmed by the remote store (ID set) or
// still local to this view (Local token set). Local messages can never reach
// the store.
type Ref struct {
	ID    int64  `json:"id,omitempty"`
	Local string `json:"local,omitempty"`
}

func ConfirmedRef(id int64) Ref { return Ref{ID: id} }

func NewLocalRef() Ref { return Ref{Local: uuid.NewString()} }

func (r Ref) Confirmed() bool { return r.Local == "" && r.ID != 0 }

// Message is one displayed turn. Confirmed messages mirror a store record;
// pending ones exist only in the display list.
type Message struct {
	Ref       Ref
	ChatID    int64
	IsBot     bool
	IsMain    bool
	Text      string
	CreatedAt time.Time
}

// FromStored wraps a confirmed store record.
func FromStored(m store.Message) Message {
	return Message{
		Ref:       ConfirmedRef(m.ID),
		ChatID:    m.ChatID,
		IsBot:     m.IsBot,
		IsMain:    m.IsMain,
		Text:      m.Text,
		CreatedAt: m.CreatedAt,
	}
}

// State is the reconciliation state of one open chat view.
type State struct {
	// Messages holds everything confirmed by the remote store, ordered by id.
	Messages []Message
	// ToDisplay is Messages plus any in-flight local messages; it collapses
	// back to Messages once the turn is confirmed.
	ToDisplay []Message
	// ChoiceIndex selects which bot alternate of the current turn is shown.
	// A value equal to the number of alternates means "generate a new one".
	ChoiceIndex int
}

// MainMessages filters the displayed canonical thread.
func (s State) MainMessages() []Message {
	var out []Message
	for _, m := range s.ToDisplay {
		if m.IsMain {
			out = append(out, m)
		}
	}
	return out
}

// BotChoices filters the displayed bot alternates of the current turn.
func (s State) BotChoices() []Message {
	var out []Message
	for _, m := range s.ToDisplay {
		if m.IsBot && !m.IsMain {
			out = append(out, m)
		}
	}
	return out
}

// Action mutates State through Apply. The variants mirror the five
// transitions the view needs; anything else is expressed in terms of these.
type Action interface{ isAction() }

// SetMessages replaces the confirmed list and resets the display list to it.
type SetMessages struct{ Messages []Message }

// SetIndex moves the alternate cursor.
type SetIndex struct{ Index int }

// NewClientMessages shows local, unconfirmed messages after the confirmed
// ones. Each dispatch replaces the previous local tail.
type NewClientMessages struct{ Messages []Message }

// NewServerMessages appends confirmed records and collapses the display list.
type NewServerMessages struct{ Messages []Message }

// MessageEdited replaces a confirmed message in place, matched by Ref.
type MessageEdited struct{ Message Message }

func (SetMessages) isAction()       {}
func (SetIndex) isAction()          {}
func (NewClientMessages) isAction() {}
func (NewServerMessages) isAction() {}
func (MessageEdited) isAction()     {}

// Apply is the pure transition function. Inputs are never mutated; slices in
// the returned state are fresh.
func Apply(s State, action Action) State {
	switch a := action.(type) {
	case SetMessages:
		return State{
			Messages:    append([]Message(nil), a.Messages...),
			ToDisplay:   append([]Message(nil), a.Messages...),
			ChoiceIndex: s.ChoiceIndex,
		}

	case SetIndex:
		s.ChoiceIndex = a.Index
		return s

	case NewClientMessages:
		s.ToDisplay = append(append([]Message(nil), s.Messages...), a.Messages...)
		return s

	case NewServerMessages:
		merged := append(append([]Message(nil), s.Messages...), a.Messages...)
		s.Messages = merged
		s.ToDisplay = append([]Message(nil), merged...)
		return s

	case MessageEdited:
		edited := append([]Message(nil), s.Messages...)
		for i := range edited {
			if edited[i].Ref == a.Message.Ref {
				edited[i] = a.Message
			}
		}
		return Apply(s, SetMessages{Messages: edited})

	default:
		return s
	}
}

func (m Message) stored() store.Message {
	return store.Message{
		ID:        m.Ref.ID,
		ChatID:    m.ChatID,
		IsBot:     m.IsBot,
		IsMain:    m.IsMain,
		Text:      m.Text,
		CreatedAt: m.CreatedAt,
	}
}
