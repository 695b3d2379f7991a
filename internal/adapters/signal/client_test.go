package signal

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/meshvoice/internal/core"
	"github.com/dkeye/meshvoice/internal/domain"
)

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// testServer accepts one signaling connection at a time, records every
// received envelope and can push envelopes to the client.
type testServer struct {
	srv *httptest.Server

	mu       sync.Mutex
	conn     *websocket.Conn
	received []envelope
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ts := &testServer{}
	ts.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		ts.mu.Lock()
		ts.conn = conn
		ts.mu.Unlock()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var env envelope
			if err := json.Unmarshal(data, &env); err != nil {
				continue
			}
			ts.mu.Lock()
			ts.received = append(ts.received, env)
			ts.mu.Unlock()
		}
	}))
	t.Cleanup(ts.srv.Close)
	return ts
}

func (ts *testServer) url() string {
	return "ws" + strings.TrimPrefix(ts.srv.URL, "http")
}

func (ts *testServer) push(t *testing.T, event string, payload any) {
	t.Helper()
	require.Eventually(t, func() bool {
		ts.mu.Lock()
		defer ts.mu.Unlock()
		return ts.conn != nil
	}, time.Second, 5*time.Millisecond)

	b, err := marshalEnvelope(event, payload)
	require.NoError(t, err)
	ts.mu.Lock()
	defer ts.mu.Unlock()
	require.NoError(t, ts.conn.WriteMessage(websocket.TextMessage, b))
}

func (ts *testServer) events(t *testing.T) []string {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	out := make([]string, len(ts.received))
	for i, env := range ts.received {
		out[i] = env.Event
	}
	return out
}

func newTestClient(t *testing.T, ts *testServer) *Client {
	t.Helper()
	c := NewClient(Options{
		URL:  ts.url(),
		User: domain.User{ID: "u1", Login: "alice"},
	})
	require.NoError(t, c.Connect(context.Background()))
	t.Cleanup(c.Close)
	return c
}

func TestClientAnnouncesItself(t *testing.T) {
	ts := newTestServer(t)
	newTestClient(t, ts)

	require.Eventually(t, func() bool {
		evs := ts.events(t)
		return len(evs) == 1 && evs[0] == evHello
	}, time.Second, 5*time.Millisecond)
}

func TestOutboundEnvelopes(t *testing.T) {
	ts := newTestServer(t)
	c := newTestClient(t, ts)

	require.NoError(t, c.JoinRoom("room-1"))
	require.NoError(t, c.SendOffer(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0"}))
	require.NoError(t, c.SendAnswer(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0"}, "u2"))
	require.NoError(t, c.SendCandidate(webrtc.ICECandidateInit{Candidate: "cand"}))
	require.NoError(t, c.LeaveRoom("room-1"))

	require.Eventually(t, func() bool {
		return len(ts.events(t)) == 6
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{
		evHello, evJoinRoom, evSendOffer, evSendAnswer, evSendCandidate, evLeaveRoom,
	}, ts.events(t))
}

func TestInboundDispatch(t *testing.T) {
	ts := newTestServer(t)
	c := newTestClient(t, ts)

	offers := make(chan core.OfferEvent, 1)
	c.OnOffer(func(ev core.OfferEvent) { offers <- ev })

	joined := make(chan domain.Room, 1)
	c.OnJoinedRoom(func(u domain.User, r domain.Room) { joined <- r })

	ts.push(t, evReceiveOffer, core.OfferEvent{
		Offer:      webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0"},
		FromUserID: "u2",
	})
	ts.push(t, evJoinedRoom, membershipPayload{
		User: domain.User{ID: "u2", Login: "bob"},
		Room: domain.Room{ID: "room-1", Title: "daily"},
	})

	select {
	case ev := <-offers:
		assert.Equal(t, domain.UserID("u2"), ev.FromUserID)
		assert.Equal(t, "v=0", ev.Offer.SDP)
	case <-time.After(time.Second):
		t.Fatal("offer not dispatched")
	}
	select {
	case room := <-joined:
		assert.Equal(t, domain.RoomID("room-1"), room.ID)
	case <-time.After(time.Second):
		t.Fatal("join not dispatched")
	}
}

func TestHandlerRegistrationReplaces(t *testing.T) {
	ts := newTestServer(t)
	c := newTestClient(t, ts)

	var firstCalls, secondCalls int
	var mu sync.Mutex
	done := make(chan struct{}, 2)
	c.OnCandidate(func(core.CandidateEvent) {
		mu.Lock()
		firstCalls++
		mu.Unlock()
		done <- struct{}{}
	})
	c.OnCandidate(func(core.CandidateEvent) {
		mu.Lock()
		secondCalls++
		mu.Unlock()
		done <- struct{}{}
	})

	ts.push(t, evReceiveCandidate, core.CandidateEvent{
		Candidate:  webrtc.ICECandidateInit{Candidate: "cand"},
		FromUserID: "u2",
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("candidate not dispatched")
	}
	// Give a duplicate registration a chance to misfire.
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Zero(t, firstCalls, "replaced handler still registered")
	assert.Equal(t, 1, secondCalls)
}

func TestUnknownEventIgnored(t *testing.T) {
	ts := newTestServer(t)
	c := newTestClient(t, ts)

	got := make(chan struct{}, 1)
	c.OnAnswer(func(core.AnswerEvent) { got <- struct{}{} })

	ts.push(t, "SomethingNew", map[string]string{"x": "y"})
	ts.push(t, evReceiveAnswer, core.AnswerEvent{
		Answer:     webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0"},
		FromUserID: "u2",
	})

	select {
	case <-got:
	case <-time.After(time.Second):
		t.Fatal("answer after unknown event not dispatched")
	}
}

func TestSendAfterCloseFails(t *testing.T) {
	ts := newTestServer(t)
	c := newTestClient(t, ts)
	c.Close()

	assert.ErrorIs(t, c.JoinRoom("room-1"), ErrClosed)
}
