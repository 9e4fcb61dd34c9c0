// Package wire defines the events the relay sends to clients and the frame
// codecs used to put them on a WebSocket.
package wire

import "encoding/json"

type Kind string

const (
	KindWelcome      Kind = "welcome"
	KindUserJoined   Kind = "user-joined"
	KindUserLeft     Kind = "user-left"
	KindHostJoined   Kind = "host-joined"
	KindOffer        Kind = "offer"
	KindAnswer       Kind = "answer"
	KindICECandidate Kind = "ice-candidate"
	KindPong         Kind = "pong"
	KindError        Kind = "error"
)

// IsSignal reports whether k is one of the routed handshake kinds.
func (k Kind) IsSignal() bool {
	return k == KindOffer || k == KindAnswer || k == KindICECandidate
}

// Event is a relay -> client message. Signal payloads are carried as raw JSON
// and never decoded by the relay.
type Event struct {
	Type     Kind   `json:"type"`
	ID       string `json:"id,omitempty"`
	RoomID   string `json:"roomId,omitempty"`
	Role     string `json:"role,omitempty"`
	SenderID string `json:"senderId,omitempty"`

	Offer     json.RawMessage `json:"offer,omitempty"`
	Answer    json.RawMessage `json:"answer,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`

	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// Delivery pairs an event with the connection it is addressed to.
type Delivery struct {
	To    string
	Event Event
}

func Welcome(id string) Event {
	return Event{Type: KindWelcome, ID: id}
}

func Error(code, message string) Event {
	return Event{Type: KindError, Code: code, Message: message}
}

// Signal builds a forwarded offer/answer/candidate tagged with its sender.
func Signal(kind Kind, senderID, roomID string, payload json.RawMessage) Event {
	ev := Event{Type: kind, SenderID: senderID, RoomID: roomID}
	switch kind {
	case KindOffer:
		ev.Offer = payload
	case KindAnswer:
		ev.Answer = payload
	case KindICECandidate:
		ev.Candidate = payload
	}
	return ev
}

// Payload returns the signal payload carried by ev, if any.
func (ev Event) Payload() json.RawMessage {
	switch ev.Type {
	case KindOffer:
		return ev.Offer
	case KindAnswer:
		return ev.Answer
	case KindICECandidate:
		return ev.Candidate
	default:
		return nil
	}
}
