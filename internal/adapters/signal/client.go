// Package signal implements the client side of the signaling channel:
// a persistent, reconnecting websocket speaking the JSON envelope
// protocol of the room server.
package signal

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/meshvoice/internal/core"
	"github.com/dkeye/meshvoice/internal/domain"
)

var (
	ErrBackpressure = errors.New("backpressure")
	ErrClosed       = errors.New("signaling client closed")
)

const (
	writeWait       = 5 * time.Second
	defaultSendBuf  = 32
	maxReconnectGap = 30 * time.Second
)

type Options struct {
	URL        string
	User       domain.User
	PingPeriod time.Duration
}

// Client implements core.SignalingTransport over gorilla/websocket.
// Handlers live on the client, not the connection, so a reconnect
// re-attaches the same set: registration stays idempotent.
type Client struct {
	opts       Options
	instanceID string

	mu     sync.RWMutex
	conn   *websocket.Conn
	send   chan []byte
	closed bool
	cancel context.CancelFunc

	hmu         sync.RWMutex
	onJoined    func(domain.User, domain.Room)
	onLeaved    func(domain.User, domain.Room)
	onOffer     func(core.OfferEvent)
	onAnswer    func(core.AnswerEvent)
	onCandidate func(core.CandidateEvent)
	onReconnect func()
}

func NewClient(opts Options) *Client {
	if opts.PingPeriod == 0 {
		opts.PingPeriod = 54 * time.Second
	}
	return &Client{
		opts:       opts,
		instanceID: uuid.NewString(),
		send:       make(chan []byte, defaultSendBuf),
	}
}

// Connect dials the signaling server and starts the pump loop. The
// first dial failing is an error; later drops reconnect with
// exponential backoff until ctx is done or Close is called.
func (c *Client) Connect(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		cancel()
		return ErrClosed
	}
	c.cancel = cancel
	c.mu.Unlock()

	conn, err := c.dial(ctx)
	if err != nil {
		cancel()
		return err
	}
	c.setConn(conn)
	if err := c.sendHello(); err != nil {
		log.Warn().Err(err).Str("module", "signal").Msg("hello")
	}

	go c.run(ctx)
	return nil
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.opts.URL, nil)
	if err != nil {
		return nil, err
	}
	log.Info().Str("module", "signal").Str("url", c.opts.URL).Msg("connected")
	return conn, nil
}

// run owns the connection: pumps until the read side fails, then
// redials forever. Handlers stay registered across reconnects.
func (c *Client) run(ctx context.Context) {
	for {
		conn := c.current()
		if conn == nil {
			return
		}

		pumpCtx, stopPumps := context.WithCancel(ctx)
		go c.writePump(pumpCtx, conn)
		c.readPump(ctx, conn) // blocks until error or ctx done
		stopPumps()
		_ = conn.Close()

		if ctx.Err() != nil || c.isClosed() {
			return
		}

		bo := backoff.NewExponentialBackOff()
		bo.MaxInterval = maxReconnectGap
		bo.MaxElapsedTime = 0 // retry forever
		for {
			wait := bo.NextBackOff()
			log.Warn().Str("module", "signal").Dur("retry_in", wait).Msg("connection lost, reconnecting")
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
			conn, err := c.dial(ctx)
			if err != nil {
				continue
			}
			c.setConn(conn)
			if err := c.sendHello(); err != nil {
				log.Warn().Err(err).Str("module", "signal").Msg("hello after reconnect")
			}
			c.notifyReconnect()
			break
		}
	}
}

// Close tears the client down for good; it will not reconnect.
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	if c.cancel != nil {
		c.cancel()
	}
	conn := c.conn
	c.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
	log.Info().Str("module", "signal").Msg("client closed")
}

// --- core.SignalingTransport: outbound -------------------------------

func (c *Client) SendOffer(offer webrtc.SessionDescription) error {
	return c.trySendEvent(evSendOffer, offerPayload{Offer: offer})
}

func (c *Client) SendAnswer(answer webrtc.SessionDescription, to domain.UserID) error {
	return c.trySendEvent(evSendAnswer, answerPayload{Answer: answer, ToUserID: to})
}

func (c *Client) SendCandidate(cand webrtc.ICECandidateInit) error {
	return c.trySendEvent(evSendCandidate, candidatePayload{Candidate: cand})
}

func (c *Client) JoinRoom(room domain.RoomID) error {
	return c.trySendEvent(evJoinRoom, roomPayload{RoomID: room})
}

func (c *Client) LeaveRoom(room domain.RoomID) error {
	return c.trySendEvent(evLeaveRoom, roomPayload{RoomID: room})
}

// --- core.SignalingTransport: subscriptions --------------------------

func (c *Client) OnJoinedRoom(fn func(domain.User, domain.Room)) {
	c.hmu.Lock()
	c.onJoined = fn
	c.hmu.Unlock()
}

func (c *Client) OnLeavedRoom(fn func(domain.User, domain.Room)) {
	c.hmu.Lock()
	c.onLeaved = fn
	c.hmu.Unlock()
}

func (c *Client) OnOffer(fn func(core.OfferEvent)) {
	c.hmu.Lock()
	c.onOffer = fn
	c.hmu.Unlock()
}

func (c *Client) OnAnswer(fn func(core.AnswerEvent)) {
	c.hmu.Lock()
	c.onAnswer = fn
	c.hmu.Unlock()
}

func (c *Client) OnCandidate(fn func(core.CandidateEvent)) {
	c.hmu.Lock()
	c.onCandidate = fn
	c.hmu.Unlock()
}

// OnReconnected fires after every re-established connection, after the
// hello announce. The caller typically rejoins its room here.
func (c *Client) OnReconnected(fn func()) {
	c.hmu.Lock()
	c.onReconnect = fn
	c.hmu.Unlock()
}

// --- internals -------------------------------------------------------

func (c *Client) setConn(conn *websocket.Conn) {
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
}

func (c *Client) current() *websocket.Conn {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn
}

func (c *Client) isClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

func (c *Client) sendHello() error {
	return c.trySendEvent(evHello, helloPayload{
		UserID:     c.opts.User.ID,
		Login:      c.opts.User.Login,
		InstanceID: c.instanceID,
	})
}

func (c *Client) notifyReconnect() {
	c.hmu.RLock()
	fn := c.onReconnect
	c.hmu.RUnlock()
	if fn != nil {
		fn()
	}
}

func (c *Client) trySendEvent(event string, payload any) error {
	if c.isClosed() {
		return ErrClosed
	}
	b, err := marshalEnvelope(event, payload)
	if err != nil {
		return err
	}
	select {
	case c.send <- b:
		return nil
	default:
		return ErrBackpressure
	}
}
