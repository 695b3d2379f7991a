package signal

import (
	"encoding/json"

	"github.com/pion/webrtc/v4"

	"github.com/dkeye/meshvoice/internal/domain"
)

// Wire event names, shared with the signaling server.
const (
	evHello         = "Hello"
	evJoinRoom      = "JoinRoom"
	evLeaveRoom     = "LeaveRoom"
	evSendOffer     = "SendOffer"
	evSendAnswer    = "SendAnswer"
	evSendCandidate = "SendCandidate"

	evJoinedRoom       = "JoinedRoom"
	evLeavedRoom       = "LeavedRoom"
	evReceiveOffer     = "ReceiveOffer"
	evReceiveAnswer    = "ReceiveAnswer"
	evReceiveCandidate = "ReceiveCandidate"
)

// envelope frames every message on the signaling channel.
type envelope struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type helloPayload struct {
	UserID     domain.UserID `json:"userId"`
	Login      string        `json:"login"`
	InstanceID string        `json:"instanceId"`
}

type roomPayload struct {
	RoomID domain.RoomID `json:"roomId"`
}

type offerPayload struct {
	Offer webrtc.SessionDescription `json:"offer"`
}

type answerPayload struct {
	Answer   webrtc.SessionDescription `json:"answer"`
	ToUserID domain.UserID             `json:"toUserId"`
}

type candidatePayload struct {
	Candidate webrtc.ICECandidateInit `json:"candidate"`
}

// membershipPayload carries JoinedRoom / LeavedRoom.
type membershipPayload struct {
	User domain.User `json:"user"`
	Room domain.Room `json:"room"`
}

func marshalEnvelope(event string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelope{Event: event, Payload: raw})
}
