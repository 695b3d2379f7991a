// Package coretest provides in-memory fakes of the core contracts for
// tests: a media connection, a signaling transport, a capture source
// and an audio sink, all recording what was done to them.
package coretest

import (
	"context"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/dkeye/meshvoice/internal/core"
	"github.com/dkeye/meshvoice/internal/domain"
)

// Conn is a fake core.MediaConnection recording operations in order.
type Conn struct {
	mu        sync.Mutex
	ops       []string
	remoteSet bool
	closed    int

	ApplyOfferErr  error
	ApplyAnswerErr error
	CandidateErr   error
	OfferErr       error

	onICE       func(webrtc.ICECandidateInit)
	onTrack     func(*webrtc.TrackRemote)
	onConnected func()
	onFailed    func()
}

func NewConn() *Conn { return &Conn{} }

func (c *Conn) CreateAndSetOffer() (webrtc.SessionDescription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.OfferErr != nil {
		return webrtc.SessionDescription{}, c.OfferErr
	}
	c.ops = append(c.ops, "create_offer")
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "offer-sdp"}, nil
}

func (c *Conn) ApplyRemoteOffer(webrtc.SessionDescription) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ApplyOfferErr != nil {
		return c.ApplyOfferErr
	}
	c.remoteSet = true
	c.ops = append(c.ops, "apply_offer")
	return nil
}

func (c *Conn) CreateAndSetAnswer() (webrtc.SessionDescription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ops = append(c.ops, "create_answer")
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "answer-sdp"}, nil
}

func (c *Conn) ApplyAnswer(webrtc.SessionDescription) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ApplyAnswerErr != nil {
		return c.ApplyAnswerErr
	}
	c.remoteSet = true
	c.ops = append(c.ops, "apply_answer")
	return nil
}

func (c *Conn) HasRemoteDescription() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remoteSet
}

func (c *Conn) AddICECandidate(ci webrtc.ICECandidateInit) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.CandidateErr != nil {
		return c.CandidateErr
	}
	c.ops = append(c.ops, "candidate:"+ci.Candidate)
	return nil
}

func (c *Conn) AddLocalTrack(t webrtc.TrackLocal) (*webrtc.RTPSender, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ops = append(c.ops, "add_track:"+t.ID())
	return nil, nil
}

func (c *Conn) OnICECandidate(fn func(webrtc.ICECandidateInit)) { c.onICE = fn }
func (c *Conn) OnTrack(fn func(*webrtc.TrackRemote))           { c.onTrack = fn }
func (c *Conn) OnConnected(fn func())                          { c.onConnected = fn }
func (c *Conn) OnFailed(fn func())                             { c.onFailed = fn }

func (c *Conn) Close() {
	c.mu.Lock()
	c.closed++
	c.ops = append(c.ops, "close")
	c.mu.Unlock()
}

// Ops returns the recorded operation log.
func (c *Conn) Ops() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.ops))
	copy(out, c.ops)
	return out
}

func (c *Conn) CloseCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// EmitICE simulates the transport gathering a local candidate.
func (c *Conn) EmitICE(ci webrtc.ICECandidateInit) {
	if c.onICE != nil {
		c.onICE(ci)
	}
}

// EmitTrack simulates a remote track arriving.
func (c *Conn) EmitTrack(t *webrtc.TrackRemote) {
	if c.onTrack != nil {
		c.onTrack(t)
	}
}

// EmitConnected simulates the transport reaching connected.
func (c *Conn) EmitConnected() {
	if c.onConnected != nil {
		c.onConnected()
	}
}

// EmitFailed simulates irrecoverable transport failure.
func (c *Conn) EmitFailed() {
	if c.onFailed != nil {
		c.onFailed()
	}
}

// SentAnswer pairs an answer with its addressee.
type SentAnswer struct {
	Answer webrtc.SessionDescription
	To     domain.UserID
}

// Transport is a fake core.SignalingTransport recording outbound
// traffic and exposing the registered handlers for tests to fire.
type Transport struct {
	mu         sync.Mutex
	offers     []webrtc.SessionDescription
	answers    []SentAnswer
	candidates []webrtc.ICECandidateInit
	joined     []domain.RoomID
	left       []domain.RoomID

	joinedFn    func(domain.User, domain.Room)
	leavedFn    func(domain.User, domain.Room)
	offerFn     func(core.OfferEvent)
	answerFn    func(core.AnswerEvent)
	candidateFn func(core.CandidateEvent)
}

func NewTransport() *Transport { return &Transport{} }

func (t *Transport) SendOffer(offer webrtc.SessionDescription) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.offers = append(t.offers, offer)
	return nil
}

func (t *Transport) SendAnswer(answer webrtc.SessionDescription, to domain.UserID) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.answers = append(t.answers, SentAnswer{Answer: answer, To: to})
	return nil
}

func (t *Transport) SendCandidate(ci webrtc.ICECandidateInit) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.candidates = append(t.candidates, ci)
	return nil
}

func (t *Transport) JoinRoom(room domain.RoomID) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.joined = append(t.joined, room)
	return nil
}

func (t *Transport) LeaveRoom(room domain.RoomID) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.left = append(t.left, room)
	return nil
}

func (t *Transport) OnJoinedRoom(fn func(domain.User, domain.Room)) {
	t.mu.Lock()
	t.joinedFn = fn
	t.mu.Unlock()
}

func (t *Transport) OnLeavedRoom(fn func(domain.User, domain.Room)) {
	t.mu.Lock()
	t.leavedFn = fn
	t.mu.Unlock()
}

func (t *Transport) OnOffer(fn func(core.OfferEvent)) {
	t.mu.Lock()
	t.offerFn = fn
	t.mu.Unlock()
}

func (t *Transport) OnAnswer(fn func(core.AnswerEvent)) {
	t.mu.Lock()
	t.answerFn = fn
	t.mu.Unlock()
}

func (t *Transport) OnCandidate(fn func(core.CandidateEvent)) {
	t.mu.Lock()
	t.candidateFn = fn
	t.mu.Unlock()
}

func (t *Transport) Offers() []webrtc.SessionDescription {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]webrtc.SessionDescription, len(t.offers))
	copy(out, t.offers)
	return out
}

func (t *Transport) Answers() []SentAnswer {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]SentAnswer, len(t.answers))
	copy(out, t.answers)
	return out
}

func (t *Transport) Candidates() []webrtc.ICECandidateInit {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]webrtc.ICECandidateInit, len(t.candidates))
	copy(out, t.candidates)
	return out
}

func (t *Transport) JoinedRooms() []domain.RoomID {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]domain.RoomID, len(t.joined))
	copy(out, t.joined)
	return out
}

func (t *Transport) LeftRooms() []domain.RoomID {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]domain.RoomID, len(t.left))
	copy(out, t.left)
	return out
}

// FireJoinedRoom delivers a JoinedRoom event to the registered handler.
func (t *Transport) FireJoinedRoom(user domain.User, room domain.Room) {
	t.mu.Lock()
	fn := t.joinedFn
	t.mu.Unlock()
	if fn != nil {
		fn(user, room)
	}
}

func (t *Transport) FireLeavedRoom(user domain.User, room domain.Room) {
	t.mu.Lock()
	fn := t.leavedFn
	t.mu.Unlock()
	if fn != nil {
		fn(user, room)
	}
}

func (t *Transport) FireOffer(ev core.OfferEvent) {
	t.mu.Lock()
	fn := t.offerFn
	t.mu.Unlock()
	if fn != nil {
		fn(ev)
	}
}

func (t *Transport) FireAnswer(ev core.AnswerEvent) {
	t.mu.Lock()
	fn := t.answerFn
	t.mu.Unlock()
	if fn != nil {
		fn(ev)
	}
}

func (t *Transport) FireCandidate(ev core.CandidateEvent) {
	t.mu.Lock()
	fn := t.candidateFn
	t.mu.Unlock()
	if fn != nil {
		fn(ev)
	}
}

// Audio is a fake core.LocalAudio counting Stop calls.
type Audio struct {
	mu     sync.Mutex
	tracks []webrtc.TrackLocal
	stops  int
}

func NewAudio(tracks ...webrtc.TrackLocal) *Audio { return &Audio{tracks: tracks} }

func (a *Audio) Tracks() []webrtc.TrackLocal {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.tracks
}

func (a *Audio) Stop() {
	a.mu.Lock()
	a.stops++
	a.mu.Unlock()
}

func (a *Audio) Stops() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stops
}

// Source is a fake core.MediaSource counting acquisitions. When Block
// is set, AcquireAudio waits on it before returning, letting tests
// close a session mid-acquisition.
type Source struct {
	mu    sync.Mutex
	count int

	Audio *Audio
	Err   error
	Block chan struct{}
}

func NewSource() *Source { return &Source{Audio: NewAudio()} }

func (s *Source) AcquireAudio(ctx context.Context) (core.LocalAudio, error) {
	s.mu.Lock()
	s.count++
	block := s.Block
	s.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", core.ErrMediaAcquisition, ctx.Err())
		}
	}
	if s.Err != nil {
		return nil, s.Err
	}
	return s.Audio, nil
}

func (s *Source) Acquisitions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

// Sink is a fake core.AudioSink recording bind/unbind calls.
type Sink struct {
	mu      sync.Mutex
	bound   []domain.UserID
	unbound []domain.UserID
}

func NewSink() *Sink { return &Sink{} }

func (s *Sink) BindRemoteTrack(user domain.UserID, _ *webrtc.TrackRemote) {
	s.mu.Lock()
	s.bound = append(s.bound, user)
	s.mu.Unlock()
}

func (s *Sink) UnbindRemote(user domain.UserID) {
	s.mu.Lock()
	s.unbound = append(s.unbound, user)
	s.mu.Unlock()
}

func (s *Sink) Bound() []domain.UserID {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.UserID, len(s.bound))
	copy(out, s.bound)
	return out
}

func (s *Sink) Unbound() []domain.UserID {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.UserID, len(s.unbound))
	copy(out, s.unbound)
	return out
}
