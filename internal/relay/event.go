package relay

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

// Kind identifies a signaling event type on the wire.
type Kind string

const (
	// Client-initiated kinds.
	KindJoin         Kind = "join"
	KindLeave        Kind = "leave"
	KindOffer        Kind = "offer"
	KindAnswer       Kind = "answer"
	KindICECandidate Kind = "ice-candidate"
	KindChatMessage  Kind = "chat-message"

	// Server-generated kinds.
	KindPeerJoined Kind = "peer-joined"
	KindPeerLeft   Kind = "peer-left"
	KindError      Kind = "error"
)

// Event is the wire envelope exchanged between a connection and the relay.
//
// Payload stays an uninterpreted blob at this layer: SDP offers/answers, ICE
// candidates and chat text are produced and consumed by the peers' media and
// chat layers, never parsed here. Only the envelope fields are typed.
type Event struct {
	Kind   Kind   `json:"kind"`
	RoomID string `json:"roomId,omitempty"`

	Payload json.RawMessage `json:"payload,omitempty"`

	// From is the sender's connection handle. It is populated by the server on
	// outbound events and ignored on inbound ones.
	From string `json:"from,omitempty"`

	// FromName annotates chat and membership events with the sender's display
	// identifier. Untrusted, informational only.
	FromName string `json:"fromName,omitempty"`

	// Code and Message are set on kind "error" events only.
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// relayed reports whether events of this kind are forwarded verbatim to all
// other room members.
func (k Kind) relayed() bool {
	switch k {
	case KindOffer, KindAnswer, KindICECandidate, KindChatMessage:
		return true
	}
	return false
}

// ParseEvent decodes and validates one inbound client event. Unknown fields
// and trailing data are rejected so protocol mistakes surface immediately
// instead of being silently ignored.
func ParseEvent(data []byte) (Event, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var evt Event
	if err := dec.Decode(&evt); err != nil {
		return Event{}, err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return Event{}, fmt.Errorf("unexpected trailing data")
	}
	if err := evt.validateInbound(); err != nil {
		return Event{}, err
	}
	return evt, nil
}

func (e Event) validateInbound() error {
	switch e.Kind {
	case KindJoin, KindLeave, KindOffer, KindAnswer, KindICECandidate, KindChatMessage:
		if e.RoomID == "" {
			return fmt.Errorf("%s event missing roomId", e.Kind)
		}
		if e.Code != "" || e.Message != "" {
			return fmt.Errorf("%s event has unexpected error fields", e.Kind)
		}
		return nil
	case KindPeerJoined, KindPeerLeft, KindError:
		return fmt.Errorf("event kind %q is server-generated", e.Kind)
	case "":
		return fmt.Errorf("event missing kind")
	default:
		return fmt.Errorf("unsupported event kind %q", e.Kind)
	}
}

// Encode marshals an outbound event. Events are small; a marshal failure
// indicates a programming error, so Encode panics rather than returning an
// error every caller would have to ignore.
func (e Event) Encode() []byte {
	data, err := json.Marshal(e)
	if err != nil {
		panic("relay: encode event: " + err.Error())
	}
	return data
}

// ErrorEvent builds the single error event sent back to a sender whose
// message could not be processed.
func ErrorEvent(code, message string) Event {
	return Event{Kind: KindError, Code: code, Message: message}
}
