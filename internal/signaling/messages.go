package signaling

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/wilsonzlin/aero/proxy/webrtc-signaling-relay/internal/registry"
	"github.com/wilsonzlin/aero/proxy/webrtc-signaling-relay/internal/router"
	"github.com/wilsonzlin/aero/proxy/webrtc-signaling-relay/internal/wire"
)

type messageType string

const (
	messageTypeJoin         messageType = "join"
	messageTypeLeave        messageType = "leave"
	messageTypeOffer        messageType = "offer"
	messageTypeAnswer       messageType = "answer"
	messageTypeICECandidate messageType = "ice-candidate"
	messageTypePing         messageType = "ping"
)

// Older clients name rooms "classes" and use the shorter candidate tag.
var messageTypeAliases = map[string]messageType{
	"join-room":   messageTypeJoin,
	"join-class":  messageTypeJoin,
	"leave-room":  messageTypeLeave,
	"leave-class": messageTypeLeave,
	"candidate":   messageTypeICECandidate,
}

const (
	codeBadMessage  = "bad_message"
	codeRateLimited = "rate_limited"
	codeHostTaken   = "host_taken"
	codeInternal    = "internal_error"
)

// protocolError is a client mistake that is reported back as an error event.
type protocolError struct {
	Code    string
	Message string
}

func (e *protocolError) Error() string { return e.Code + ": " + e.Message }

func badMessage(format string, args ...any) error {
	return &protocolError{Code: codeBadMessage, Message: fmt.Sprintf(format, args...)}
}

// clientFrame is the union of every inbound field as it appears on the wire.
type clientFrame struct {
	Type      string          `json:"type"`
	RoomID    string          `json:"roomId,omitempty"`
	ClassID   string          `json:"classId,omitempty"`
	Role      string          `json:"role,omitempty"`
	TargetID  string          `json:"targetId,omitempty"`
	Offer     json.RawMessage `json:"offer,omitempty"`
	Answer    json.RawMessage `json:"answer,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
}

// clientMessage is a validated inbound message.
type clientMessage struct {
	Type     messageType
	RoomID   string
	Role     registry.Role
	TargetID string
	Payload  json.RawMessage
}

func (m clientMessage) signal() router.Message {
	return router.Message{
		Kind:     wire.Kind(m.Type),
		RoomID:   m.RoomID,
		TargetID: m.TargetID,
		Payload:  m.Payload,
	}
}

// parseClientMessage strictly decodes one JSON frame. maxRoomIDLen <= 0
// disables the room id length check.
func parseClientMessage(data []byte, maxRoomIDLen int) (clientMessage, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var f clientFrame
	if err := dec.Decode(&f); err != nil {
		return clientMessage{}, badMessage("invalid message: %v", err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return clientMessage{}, badMessage("unexpected trailing data")
	}

	typ := messageType(f.Type)
	if alias, ok := messageTypeAliases[f.Type]; ok {
		typ = alias
	}

	roomID := f.RoomID
	if f.ClassID != "" {
		if roomID != "" && roomID != f.ClassID {
			return clientMessage{}, badMessage("roomId and classId disagree")
		}
		roomID = f.ClassID
	}
	if maxRoomIDLen > 0 && len(roomID) > maxRoomIDLen {
		return clientMessage{}, badMessage("roomId longer than %d bytes", maxRoomIDLen)
	}

	msg := clientMessage{Type: typ, RoomID: roomID, TargetID: f.TargetID}
	payloads := 0
	for _, p := range []json.RawMessage{f.Offer, f.Answer, f.Candidate} {
		if len(p) > 0 {
			payloads++
		}
	}

	switch typ {
	case messageTypeJoin:
		if roomID == "" {
			return clientMessage{}, badMessage("%s message missing roomId", typ)
		}
		role, ok := registry.ParseRole(f.Role)
		if !ok {
			return clientMessage{}, badMessage("unsupported role %q", f.Role)
		}
		if f.TargetID != "" || payloads != 0 {
			return clientMessage{}, badMessage("%s message has unexpected fields", typ)
		}
		msg.Role = role

	case messageTypeLeave, messageTypePing:
		if typ == messageTypePing && roomID != "" {
			return clientMessage{}, badMessage("%s message has unexpected fields", typ)
		}
		if f.Role != "" || f.TargetID != "" || payloads != 0 {
			return clientMessage{}, badMessage("%s message has unexpected fields", typ)
		}

	case messageTypeOffer, messageTypeAnswer, messageTypeICECandidate:
		payload := map[messageType]json.RawMessage{
			messageTypeOffer:        f.Offer,
			messageTypeAnswer:       f.Answer,
			messageTypeICECandidate: f.Candidate,
		}[typ]
		if len(payload) == 0 || bytes.Equal(payload, []byte("null")) {
			return clientMessage{}, badMessage("%s message missing payload", typ)
		}
		if payloads != 1 || f.Role != "" {
			return clientMessage{}, badMessage("%s message has unexpected fields", typ)
		}
		msg.Payload = payload

	case "":
		return clientMessage{}, badMessage("message missing type")
	default:
		return clientMessage{}, badMessage("unsupported message type %q", f.Type)
	}
	return msg, nil
}
