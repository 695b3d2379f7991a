package app

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/meshvoice/internal/core"
	"github.com/dkeye/meshvoice/internal/core/coretest"
	"github.com/dkeye/meshvoice/internal/domain"
)

type testRig struct {
	reg   *Registry
	tr    *coretest.Transport
	src   *coretest.Source
	sink  *coretest.Sink
	conns map[domain.UserID]*coretest.Conn
	mu    sync.Mutex
}

func newTestRig(current domain.UserID) *testRig {
	rig := &testRig{
		tr:    coretest.NewTransport(),
		src:   coretest.NewSource(),
		sink:  coretest.NewSink(),
		conns: make(map[domain.UserID]*coretest.Conn),
	}
	factory := func(remote domain.UserID) (core.MediaConnection, error) {
		c := coretest.NewConn()
		rig.mu.Lock()
		rig.conns[remote] = c
		rig.mu.Unlock()
		return c, nil
	}
	rig.reg = NewRegistry(current, rig.tr, rig.src, factory, rig.sink)
	return rig
}

func (r *testRig) conn(id domain.UserID) *coretest.Conn {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.conns[id]
}

func TestCreateSessionIsIdempotent(t *testing.T) {
	rig := newTestRig("me")
	ctx := context.Background()

	s1, created, err := rig.reg.CreateSession(ctx, "peer", RoleResponder)
	require.NoError(t, err)
	assert.True(t, created)

	s2, created, err := rig.reg.CreateSession(ctx, "peer", RoleInitiator)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Same(t, s1, s2)
	assert.Equal(t, 1, rig.reg.Size())
	// The original role sticks: roles are fixed at creation.
	assert.Equal(t, RoleResponder, s2.Role())
}

func TestCreateSessionRejectsOwnID(t *testing.T) {
	rig := newTestRig("me")
	_, _, err := rig.reg.CreateSession(context.Background(), "me", RoleInitiator)
	assert.True(t, errors.Is(err, ErrOwnUserID))
	assert.Zero(t, rig.reg.Size())
}

func TestInitiatorSessionStartsNegotiation(t *testing.T) {
	rig := newTestRig("me")
	s, created, err := rig.reg.CreateSession(context.Background(), "peer", RoleInitiator)
	require.NoError(t, err)
	require.True(t, created)

	require.Eventually(t, func() bool {
		return s.State() == StateOfferSent
	}, time.Second, 5*time.Millisecond)
	assert.Len(t, rig.tr.Offers(), 1)
	assert.Equal(t, 1, rig.src.Acquisitions())
}

func TestMediaFailureRemovesSessionFromRegistry(t *testing.T) {
	rig := newTestRig("me")
	rig.src.Err = core.ErrMediaAcquisition

	_, created, err := rig.reg.CreateSession(context.Background(), "peer", RoleInitiator)
	require.NoError(t, err)
	require.True(t, created)

	require.Eventually(t, func() bool {
		return rig.reg.Size() == 0
	}, time.Second, 5*time.Millisecond)
	assert.Empty(t, rig.tr.Offers())
}

func TestRemoveSessionIsIdempotent(t *testing.T) {
	rig := newTestRig("me")
	ctx := context.Background()

	_, _, err := rig.reg.CreateSession(ctx, "peer", RoleResponder)
	require.NoError(t, err)

	rig.reg.RemoveSession("peer")
	rig.reg.RemoveSession("peer")
	rig.reg.RemoveSession("never-existed")

	assert.Zero(t, rig.reg.Size())
	assert.Equal(t, 1, rig.conn("peer").CloseCount())
}

func TestRemoveAllStopsSharedCaptureOnce(t *testing.T) {
	rig := newTestRig("me")
	ctx := context.Background()

	// Two sessions sharing the one capture stream.
	sa, _, err := rig.reg.CreateSession(ctx, "a", RoleInitiator)
	require.NoError(t, err)
	sb, _, err := rig.reg.CreateSession(ctx, "b", RoleInitiator)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return sa.State() == StateOfferSent && sb.State() == StateOfferSent
	}, time.Second, 5*time.Millisecond)
	require.Equal(t, 1, rig.src.Acquisitions(), "capture re-acquired mid-call")

	rig.reg.RemoveAll()
	assert.Zero(t, rig.reg.Size())
	assert.Equal(t, 1, rig.src.Audio.Stops())
	assert.Equal(t, 1, rig.conn("a").CloseCount())
	assert.Equal(t, 1, rig.conn("b").CloseCount())

	// Calling again is a no-op, including for the capture.
	rig.reg.RemoveAll()
	assert.Equal(t, 1, rig.src.Audio.Stops())
}

func TestAcquireSharedIsSerialized(t *testing.T) {
	rig := newTestRig("me")
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := rig.reg.acquireShared(context.Background())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, rig.src.Acquisitions())
}

func TestReconcileAddsOnly(t *testing.T) {
	rig := newTestRig("me")
	ctx := context.Background()
	room := domain.Room{
		ID:    "room-1",
		Title: "standup",
		Members: []domain.User{
			{ID: "me", Login: "me"},
			{ID: "a", Login: "alice"},
			{ID: "b", Login: "bob"},
		},
	}

	rig.reg.Reconcile(ctx, room)
	assert.Equal(t, 2, rig.reg.Size())

	sa, ok := rig.reg.Lookup("a")
	require.True(t, ok)
	assert.Equal(t, RoleResponder, sa.Role())
	_, ok = rig.reg.Lookup("me")
	assert.False(t, ok, "session created for the local user")

	// A second reconcile with a shrunk snapshot removes nothing:
	// leaves are explicit events, not snapshot diffs.
	rig.reg.Reconcile(ctx, domain.Room{ID: "room-1", Members: []domain.User{{ID: "a"}}})
	assert.Equal(t, 2, rig.reg.Size())
}

func TestTransportFailureDropsSessionAndUnbindsSink(t *testing.T) {
	rig := newTestRig("me")
	_, _, err := rig.reg.CreateSession(context.Background(), "peer", RoleResponder)
	require.NoError(t, err)

	rig.conn("peer").EmitFailed()

	require.Eventually(t, func() bool {
		return rig.reg.Size() == 0
	}, time.Second, 5*time.Millisecond)
	assert.Contains(t, rig.sink.Unbound(), domain.UserID("peer"))
}

func TestRemoteTrackBindsSink(t *testing.T) {
	rig := newTestRig("me")
	_, _, err := rig.reg.CreateSession(context.Background(), "peer", RoleResponder)
	require.NoError(t, err)

	rig.conn("peer").EmitTrack(nil)
	assert.Equal(t, []domain.UserID{"peer"}, rig.sink.Bound())

	// A track surfacing after close is ignored.
	rig.reg.RemoveSession("peer")
	rig.conn("peer").EmitTrack(nil)
	assert.Equal(t, []domain.UserID{"peer"}, rig.sink.Bound())
}
