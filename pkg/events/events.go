package events

import (
	"encoding/json"

	"github.com/rs/zerolog"

	"github.com/multiverse-chat/multiverse/pkg/conversation"
)

type EventType string

const (
	// EventTypeStart is emitted once when a completion begins streaming into
	// a pending node.
	EventTypeStart EventType = "start"
	// EventTypePartial carries one token delta plus the completion so far.
	EventTypePartial EventType = "partial"
	// EventTypeFinal carries the full sealed content; it terminates the
	// stream on success.
	EventTypeFinal EventType = "final"
	// EventTypeError terminates the stream on failure. The node has been
	// sealed with whatever partial content accumulated.
	EventTypeError EventType = "error"
)

// EventMetadata identifies the node a token stream belongs to. Concurrent
// streams against sibling branches are disambiguated purely through this.
type EventMetadata struct {
	NodeID    conversation.NodeID `json:"node_id"`
	ParentID  conversation.NodeID `json:"parent_id"`
	SessionID string              `json:"session_id"`
	Model     string              `json:"model,omitempty"`
}

func (em EventMetadata) MarshalZerologObject(e *zerolog.Event) {
	e.Str("node_id", em.NodeID.String())
	e.Str("parent_id", em.ParentID.String())
	e.Str("session_id", em.SessionID)
	if em.Model != "" {
		e.Str("model", em.Model)
	}
}

type Event interface {
	Type() EventType
	Metadata() EventMetadata
}

type EventImpl struct {
	Type_     EventType     `json:"type"`
	Metadata_ EventMetadata `json:"meta"`
}

func (e *EventImpl) Type() EventType {
	return e.Type_
}

func (e *EventImpl) Metadata() EventMetadata {
	return e.Metadata_
}

func (e *EventImpl) MarshalZerologObject(ev *zerolog.Event) {
	ev.Str("type", string(e.Type_))
	ev.Object("meta", e.Metadata_)
}

var _ Event = &EventImpl{}

type EventStart struct {
	EventImpl
}

func NewStartEvent(metadata EventMetadata) *EventStart {
	return &EventStart{
		EventImpl: EventImpl{
			Type_:     EventTypeStart,
			Metadata_: metadata,
		},
	}
}

var _ Event = &EventStart{}

type EventPartial struct {
	EventImpl
	Delta      string `json:"delta"`
	Completion string `json:"completion"`
}

func NewPartialEvent(metadata EventMetadata, delta, completion string) *EventPartial {
	return &EventPartial{
		EventImpl: EventImpl{
			Type_:     EventTypePartial,
			Metadata_: metadata,
		},
		Delta:      delta,
		Completion: completion,
	}
}

var _ Event = &EventPartial{}

type EventFinal struct {
	EventImpl
	Text string `json:"text"`
}

func NewFinalEvent(metadata EventMetadata, text string) *EventFinal {
	return &EventFinal{
		EventImpl: EventImpl{
			Type_:     EventTypeFinal,
			Metadata_: metadata,
		},
		Text: text,
	}
}

var _ Event = &EventFinal{}

type EventError struct {
	EventImpl
	ErrorString string `json:"error_string"`
	// Partial is the content accumulated before the failure, which is what
	// the node was sealed with.
	Partial string `json:"partial,omitempty"`
}

func NewErrorEvent(metadata EventMetadata, err error, partial string) *EventError {
	return &EventError{
		EventImpl: EventImpl{
			Type_:     EventTypeError,
			Metadata_: metadata,
		},
		ErrorString: err.Error(),
		Partial:     partial,
	}
}

var _ Event = &EventError{}

// MarshalEvent is a helper for transports that ship events as JSON.
func MarshalEvent(e Event) ([]byte, error) {
	return json.Marshal(e)
}
