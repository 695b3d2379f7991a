package orch

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/meshvoice/internal/domain"
)

var ErrNotInCall = errors.New("not in a call")

// JoinCall starts a call in the given room: announces the join over
// signaling and creates responder sessions toward everyone already in
// the snapshot. The already-present members will offer toward us.
func (o *Orchestrator) JoinCall(ctx context.Context, room domain.Room) error {
	if err := o.Transport.JoinRoom(room.ID); err != nil {
		return err
	}
	o.setRoom(&room)
	o.Registry.Reconcile(ctx, room)
	log.Info().Str("module", "app.orch").Str("room", string(room.ID)).
		Int("members", len(room.Members)).Msg("joined call")
	return nil
}

// LeaveCall tears down every session and stops the shared capture.
// Idempotent: leaving while not in a call returns ErrNotInCall only.
func (o *Orchestrator) LeaveCall() error {
	room := o.Room()
	if room == nil {
		return ErrNotInCall
	}
	o.setRoom(nil)
	o.Registry.RemoveAll()
	if err := o.Transport.LeaveRoom(room.ID); err != nil {
		log.Warn().Err(err).Str("module", "app.orch").
			Str("room", string(room.ID)).Msg("leave room send")
	}
	log.Info().Str("module", "app.orch").Str("room", string(room.ID)).Msg("left call")
	return nil
}

// Room returns the current room snapshot, nil outside a call.
func (o *Orchestrator) Room() *domain.Room {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.currentRoom
}

func (o *Orchestrator) setRoom(room *domain.Room) {
	o.mu.Lock()
	o.currentRoom = room
	o.mu.Unlock()
}

func (o *Orchestrator) inRoom(id domain.RoomID) bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.currentRoom != nil && o.currentRoom.ID == id
}
