package signal

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/meshvoice/internal/core"
)

func (c *Client) writePump(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(c.opts.PingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Warn().Err(err).Str("module", "signal").Msg("writePump ping")
				return
			}
		case data := <-c.send:
			if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		}
	}
}

// readPump blocks until the connection drops or ctx is done.
func (c *Client) readPump(ctx context.Context, conn *websocket.Conn) {
	for {
		if ctx.Err() != nil {
			return
		}
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil && !c.isClosed() {
				log.Warn().Err(err).Str("module", "signal").Msg("readPump read error")
			}
			return
		}
		c.dispatch(data)
	}
}

// dispatch routes one inbound envelope to its registered handler. A
// handler panicking or an unknown event never takes the pump down.
func (c *Client) dispatch(data []byte) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Any("panic", r).Str("module", "signal").Msg("handler panic")
		}
	}()

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad envelope")
		return
	}

	switch env.Event {
	case evJoinedRoom:
		var p membershipPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			log.Error().Err(err).Str("module", "signal").Msg("bad JoinedRoom payload")
			return
		}
		c.hmu.RLock()
		fn := c.onJoined
		c.hmu.RUnlock()
		if fn != nil {
			fn(p.User, p.Room)
		}
	case evLeavedRoom:
		var p membershipPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			log.Error().Err(err).Str("module", "signal").Msg("bad LeavedRoom payload")
			return
		}
		c.hmu.RLock()
		fn := c.onLeaved
		c.hmu.RUnlock()
		if fn != nil {
			fn(p.User, p.Room)
		}
	case evReceiveOffer:
		var p core.OfferEvent
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			log.Error().Err(err).Str("module", "signal").Msg("bad ReceiveOffer payload")
			return
		}
		c.hmu.RLock()
		fn := c.onOffer
		c.hmu.RUnlock()
		if fn != nil {
			fn(p)
		}
	case evReceiveAnswer:
		var p core.AnswerEvent
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			log.Error().Err(err).Str("module", "signal").Msg("bad ReceiveAnswer payload")
			return
		}
		c.hmu.RLock()
		fn := c.onAnswer
		c.hmu.RUnlock()
		if fn != nil {
			fn(p)
		}
	case evReceiveCandidate:
		var p core.CandidateEvent
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			log.Error().Err(err).Str("module", "signal").Msg("bad ReceiveCandidate payload")
			return
		}
		c.hmu.RLock()
		fn := c.onCandidate
		c.hmu.RUnlock()
		if fn != nil {
			fn(p)
		}
	default:
		log.Warn().Str("module", "signal").Str("event", env.Event).Msg("unknown signal")
	}
}
