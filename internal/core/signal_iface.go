package core

import (
	"github.com/pion/webrtc/v4"

	"github.com/dkeye/meshvoice/internal/domain"
)

// OfferEvent carries a remote session-description offer.
// Receivers filter broadcast events by FromUserID.
type OfferEvent struct {
	Offer      webrtc.SessionDescription `json:"offer"`
	FromUserID domain.UserID             `json:"fromUserId"`
}

type AnswerEvent struct {
	Answer     webrtc.SessionDescription `json:"answer"`
	FromUserID domain.UserID             `json:"fromUserId"`
}

type CandidateEvent struct {
	Candidate  webrtc.ICECandidateInit `json:"candidate"`
	FromUserID domain.UserID           `json:"fromUserId"`
}

// SignalingTransport abstracts the bidirectional signaling channel.
// Owned by the adapter; the adapter must reconnect and Close() it.
//
// Handler registration is idempotent: setting a handler for an event
// replaces the previous one, so resubscribing after a reconnect never
// registers duplicates.
type SignalingTransport interface {
	// SendOffer broadcasts an offer to the current room.
	SendOffer(offer webrtc.SessionDescription) error
	// SendAnswer delivers an answer to one user.
	SendAnswer(answer webrtc.SessionDescription, to domain.UserID) error
	// SendCandidate broadcasts a locally gathered ICE candidate.
	SendCandidate(cand webrtc.ICECandidateInit) error

	JoinRoom(room domain.RoomID) error
	LeaveRoom(room domain.RoomID) error

	OnJoinedRoom(func(user domain.User, room domain.Room))
	OnLeavedRoom(func(user domain.User, room domain.Room))
	OnOffer(func(OfferEvent))
	OnAnswer(func(AnswerEvent))
	OnCandidate(func(CandidateEvent))
}
