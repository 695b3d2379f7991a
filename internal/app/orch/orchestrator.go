// Package orch routes signaling events to the session registry and
// drives the room-membership reconciliation policy: already-present
// members initiate toward a newcomer, the newcomer answers.
package orch

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/meshvoice/internal/app"
	"github.com/dkeye/meshvoice/internal/core"
	"github.com/dkeye/meshvoice/internal/domain"
)

type Orchestrator struct {
	Registry    *app.Registry
	Transport   core.SignalingTransport
	CurrentUser domain.User

	mu          sync.RWMutex
	currentRoom *domain.Room
}

// Subscribe registers the five signaling event handlers. Safe to call
// again after a transport reconnect: registration replaces, never
// duplicates. Each handler contains its own failure; an error in one
// event never crosses into another session or handler.
func (o *Orchestrator) Subscribe(ctx context.Context) {
	o.Transport.OnJoinedRoom(func(user domain.User, room domain.Room) {
		o.onJoinedRoom(ctx, user, room)
	})
	o.Transport.OnLeavedRoom(o.onLeavedRoom)
	o.Transport.OnOffer(func(ev core.OfferEvent) {
		o.onOffer(ctx, ev)
	})
	o.Transport.OnAnswer(o.onAnswer)
	o.Transport.OnCandidate(o.onCandidate)
	log.Info().Str("module", "app.orch").Msg("signaling handlers registered")
}

func (o *Orchestrator) onJoinedRoom(ctx context.Context, user domain.User, room domain.Room) {
	if user.ID == o.CurrentUser.ID {
		o.setRoom(&room)
		// Server-authoritative snapshot: answer whoever was already
		// present. Adds only; idempotent for sessions that exist.
		o.Registry.Reconcile(ctx, room)
		return
	}
	if !o.inRoom(room.ID) {
		log.Debug().Str("module", "app.orch").Str("user", string(user.ID)).
			Str("room", string(room.ID)).Msg("join for a room we are not in")
		return
	}
	// We are the existing member: initiate toward the newcomer.
	if _, _, err := o.Registry.CreateSession(ctx, user.ID, app.RoleInitiator); err != nil {
		log.Warn().Err(err).Str("module", "app.orch").
			Str("user", string(user.ID)).Msg("create session on join")
	}
}

func (o *Orchestrator) onLeavedRoom(user domain.User, room domain.Room) {
	if user.ID == o.CurrentUser.ID {
		o.setRoom(nil)
		o.Registry.RemoveAll()
		return
	}
	o.Registry.RemoveSession(user.ID)
	log.Info().Str("module", "app.orch").Str("user", string(user.ID)).
		Str("room", string(room.ID)).Msg("peer left")
}

func (o *Orchestrator) onOffer(ctx context.Context, ev core.OfferEvent) {
	s, _, err := o.Registry.CreateSession(ctx, ev.FromUserID, app.RoleResponder)
	if err != nil {
		log.Warn().Err(err).Str("module", "app.orch").
			Str("from", string(ev.FromUserID)).Msg("offer: create session")
		return
	}
	go func() {
		if err := s.HandleOffer(ctx, ev.Offer); err != nil {
			o.logSessionErr(ev.FromUserID, "offer", err)
			if !errors.Is(err, app.ErrStaleEvent) {
				o.Registry.RemoveSession(ev.FromUserID)
			}
			return
		}
		if o.Registry.Muted() {
			_ = s.SetMuted(true)
		}
	}()
}

func (o *Orchestrator) onAnswer(ev core.AnswerEvent) {
	s, ok := o.Registry.Lookup(ev.FromUserID)
	if !ok {
		// The remote answered a session already torn down locally.
		log.Debug().Str("module", "app.orch").
			Str("from", string(ev.FromUserID)).Msg("answer for unknown session, discarded")
		return
	}
	if err := s.HandleAnswer(ev.Answer); err != nil {
		o.logSessionErr(ev.FromUserID, "answer", err)
		if !errors.Is(err, app.ErrStaleEvent) {
			o.Registry.RemoveSession(ev.FromUserID)
		}
	}
}

func (o *Orchestrator) onCandidate(ev core.CandidateEvent) {
	s, ok := o.Registry.Lookup(ev.FromUserID)
	if !ok {
		log.Debug().Str("module", "app.orch").
			Str("from", string(ev.FromUserID)).Msg("candidate for unknown session, discarded")
		return
	}
	if err := s.HandleCandidate(ev.Candidate); err != nil {
		o.logSessionErr(ev.FromUserID, "candidate", err)
		if !errors.Is(err, app.ErrStaleEvent) {
			o.Registry.RemoveSession(ev.FromUserID)
		}
	}
}

func (o *Orchestrator) logSessionErr(from domain.UserID, kind string, err error) {
	if errors.Is(err, app.ErrStaleEvent) {
		log.Debug().Str("module", "app.orch").Str("from", string(from)).
			Str("event", kind).Msg("stale event, discarded")
		return
	}
	log.Warn().Err(err).Str("module", "app.orch").Str("from", string(from)).
		Str("event", kind).Msg("session error")
}
