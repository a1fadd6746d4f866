package ws

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"memematch/internal/app"
	"memematch/internal/domain"
	"memematch/internal/store"
)

type testServer struct {
	srv   *httptest.Server
	hub   *app.Hub
	mem   *store.Memory
	lobby domain.Lobby
	host  domain.Player
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(t *testing.T, limits Limits) *testServer {
	t.Helper()
	mem := store.NewMemory()
	hub := app.NewHub(app.HubConfig{Store: mem, Logger: discardLogger()})
	srv := httptest.NewServer(NewHandler(hub, mem, limits, discardLogger()))
	t.Cleanup(func() {
		srv.Close()
		hub.Close()
		mem.Close()
	})

	lobby, host, err := hub.CreateLobby(context.Background(), "Ada", domain.LobbySettings{})
	require.NoError(t, err)
	return &testServer{srv: srv, hub: hub, mem: mem, lobby: lobby, host: host}
}

func (ts *testServer) url(lobby, playerID string) string {
	return "ws" + strings.TrimPrefix(ts.srv.URL, "http") + "?lobby=" + lobby + "&playerId=" + playerID
}

func (ts *testServer) dial(t *testing.T) *RemoteStore {
	t.Helper()
	r, err := Dial(context.Background(), ts.url(ts.lobby.Code, ts.host.ID), discardLogger())
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r
}

func next(t *testing.T, ch <-chan store.Snapshot) store.Snapshot {
	t.Helper()
	select {
	case s := <-ch:
		return s
	case <-time.After(2 * time.Second):
		t.Fatal("no snapshot received")
		return store.Snapshot{}
	}
}

func TestRemoteStore_ReadWriteUpdate(t *testing.T) {
	ts := newTestServer(t, DefaultLimits())
	r := ts.dial(t)
	ctx := context.Background()
	code := ts.lobby.Code

	require.NoError(t, r.Write(ctx, domain.GameStateField(code, "currentSituation"), "when the build is green"))
	snap, err := r.Read(ctx, domain.GameStateField(code, "currentSituation"))
	require.NoError(t, err)
	assert.Equal(t, "when the build is green", snap.Value)

	require.NoError(t, r.Update(ctx, map[string]any{
		domain.GameStateField(code, "roundNumber"):    3,
		domain.GameStateField(code, "phaseStartTime"): store.ServerTimestamp,
	}))
	snap, err = r.Read(ctx, domain.GameStatePath(code))
	require.NoError(t, err)
	var g domain.GameState
	require.NoError(t, snap.Decode(&g))
	assert.Equal(t, 3, g.RoundNumber)
	assert.Positive(t, g.PhaseStartTime)

	// values arrive as json.Number like the in-memory store hands them out
	snap, err = r.Read(ctx, domain.GameStateField(code, "roundNumber"))
	require.NoError(t, err)
	assert.Equal(t, json.Number("3"), snap.Value)

	require.NoError(t, r.Write(ctx, domain.GameStateField(code, "currentSituation"), nil))
	snap, err = r.Read(ctx, domain.GameStateField(code, "currentSituation"))
	require.NoError(t, err)
	assert.False(t, snap.Exists())
}

func TestRemoteStore_SubscribeDeliversInOrder(t *testing.T) {
	ts := newTestServer(t, DefaultLimits())
	r := ts.dial(t)
	ctx := context.Background()
	path := domain.GameStateField(ts.lobby.Code, "roundNumber")

	ch := make(chan store.Snapshot, 16)
	unsub := r.Subscribe(path, func(s store.Snapshot) { ch <- s }, func(err error) {
		t.Errorf("unexpected subscription error: %v", err)
	})

	assert.Equal(t, json.Number("1"), next(t, ch).Value)

	for round := 2; round <= 4; round++ {
		require.NoError(t, ts.mem.Write(ctx, path, round))
	}
	assert.Equal(t, json.Number("2"), next(t, ch).Value)
	assert.Equal(t, json.Number("3"), next(t, ch).Value)
	assert.Equal(t, json.Number("4"), next(t, ch).Value)

	unsub()
	require.Eventually(t, func() bool { return ts.mem.SubscriberCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestRemoteStore_ScopeEnforced(t *testing.T) {
	ts := newTestServer(t, DefaultLimits())
	r := ts.dial(t)
	ctx := context.Background()

	other, _, err := ts.hub.CreateLobby(ctx, "Eve", domain.LobbySettings{})
	require.NoError(t, err)

	_, err = r.Read(ctx, domain.LobbyPath(other.Code))
	assert.ErrorIs(t, err, ErrForbidden)

	err = r.Write(ctx, domain.LobbyMetaPath(ts.lobby.Code)+"/hostId", "someone")
	assert.ErrorIs(t, err, ErrForbidden, "lobby meta is server owned")

	err = r.Update(ctx, map[string]any{
		domain.GameStateField(ts.lobby.Code, "phase"): domain.PhaseGameOver,
		domain.GameStateField(other.Code, "phase"):    domain.PhaseGameOver,
	})
	assert.ErrorIs(t, err, ErrForbidden)
	snap, err := r.Read(ctx, domain.GameStateField(ts.lobby.Code, "phase"))
	require.NoError(t, err)
	assert.Equal(t, string(domain.PhaseWaiting), snap.Value, "rejected update applies nothing")

	_, err = r.Read(ctx, domain.LobbyPath(ts.lobby.Code)+"/../x")
	assert.ErrorIs(t, err, store.ErrInvalidPath)

	errs := make(chan error, 1)
	r.Subscribe(domain.LobbyPath(other.Code), func(store.Snapshot) {
		t.Error("snapshot from another lobby")
	}, func(err error) { errs <- err })
	select {
	case err := <-errs:
		assert.ErrorIs(t, err, ErrForbidden)
	case <-time.After(2 * time.Second):
		t.Fatal("no subscription error")
	}
}

func TestRemoteStore_RateLimited(t *testing.T) {
	ts := newTestServer(t, Limits{MessagesPerSecond: 0.001, Burst: 1, MaxMessageBytes: 4096})
	r := ts.dial(t)
	ctx := context.Background()

	_, err := r.Read(ctx, domain.GameStatePath(ts.lobby.Code))
	require.NoError(t, err)
	_, err = r.Read(ctx, domain.GameStatePath(ts.lobby.Code))
	assert.ErrorIs(t, err, ErrRateLimited)
}

func TestRemoteStore_ClosedRejectsCalls(t *testing.T) {
	ts := newTestServer(t, DefaultLimits())
	r := ts.dial(t)

	states := make(chan store.ConnState, 4)
	r.WatchConnection(func(s store.ConnState) { states <- s })
	assert.Equal(t, store.Connected, <-states)

	require.NoError(t, r.Close())
	assert.Equal(t, store.Disconnected, <-states)

	_, err := r.Read(context.Background(), domain.GameStatePath(ts.lobby.Code))
	assert.ErrorIs(t, err, store.ErrClosed)
	assert.NoError(t, r.Close())
}

func TestHandler_RejectsUnknownLobbyOrPlayer(t *testing.T) {
	ts := newTestServer(t, DefaultLimits())
	ctx := context.Background()

	_, err := Dial(ctx, ts.url("NOPE00", ts.host.ID), discardLogger())
	assert.Error(t, err)

	_, err = Dial(ctx, ts.url(ts.lobby.Code, "stranger"), discardLogger())
	assert.Error(t, err)

	resp, err := http.Get(ts.srv.URL + "?lobby=" + ts.lobby.Code)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestController_OverWebsocket(t *testing.T) {
	ts := newTestServer(t, DefaultLimits())
	ctx := context.Background()

	bob, err := ts.hub.JoinLobby(ctx, ts.lobby.Code, "Bob")
	require.NoError(t, err)
	require.NoError(t, ts.hub.StartGame(ctx, ts.lobby.Code, ts.host.ID))

	r, err := Dial(ctx, ts.url(ts.lobby.Code, bob.ID), discardLogger())
	require.NoError(t, err)
	defer r.Close()

	c, err := app.NewController(app.Config{
		LobbyCode: ts.lobby.Code,
		UserID:    bob.ID,
		Store:     r,
		Logger:    discardLogger(),
	})
	require.NoError(t, err)
	c.Start(ctx)
	defer c.Close()

	require.Eventually(t, func() bool {
		v := c.View()
		return !v.Loading && v.Phase() == domain.PhaseTransition && len(v.Hand) == domain.HandSize
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, store.Connected, c.View().Connection)
	assert.False(t, c.View().IsHost())

	require.NoError(t, c.CompleteGameTransition(ctx))
	require.Eventually(t, func() bool {
		v := c.View()
		return v.Phase() == domain.PhaseCountdown && v.IsTimerHost()
	}, 2*time.Second, 10*time.Millisecond)
}
