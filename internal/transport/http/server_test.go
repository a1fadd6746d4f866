package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"memematch/internal/app"
	"memematch/internal/config"
	"memematch/internal/domain"
	"memematch/internal/store"
)

type apiResponse struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *ErrorInfo      `json:"error"`
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	mem := store.NewMemory()
	hub := app.NewHub(app.HubConfig{Store: mem, Logger: logger})
	t.Cleanup(hub.Close)

	cfg := config.Load()
	return NewServer(cfg, hub, mem, logger)
}

func do(t *testing.T, s *Server, method, path string, body interface{}) (int, apiResponse) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	s.Handler().ServeHTTP(rec, req)

	var resp apiResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	return rec.Code, resp
}

func TestServer_LobbyLifecycle(t *testing.T) {
	s := newTestServer(t)

	status, resp := do(t, s, http.MethodPost, "/api/lobbies", CreateLobbyRequest{Name: "Ada"})
	require.Equal(t, http.StatusCreated, status)
	var created LobbyResponse
	require.NoError(t, json.Unmarshal(resp.Data, &created))
	assert.Len(t, created.Player.Cards, domain.HandSize)
	assert.True(t, created.Player.IsHost)
	assert.Equal(t, "http://example.com/join/"+created.LobbyCode, created.InviteLink)
	assert.Equal(t, "/ws?lobby="+created.LobbyCode+"&playerId="+created.Player.ID, created.SocketPath)

	status, resp = do(t, s, http.MethodPost, "/api/lobbies/"+created.LobbyCode+"/join", JoinLobbyRequest{Name: "Bob"})
	require.Equal(t, http.StatusOK, status)
	var joined LobbyResponse
	require.NoError(t, json.Unmarshal(resp.Data, &joined))
	assert.False(t, joined.Player.IsHost)

	status, resp = do(t, s, http.MethodPost, "/api/lobbies/"+created.LobbyCode+"/bots",
		AddBotRequest{PlayerID: joined.Player.ID})
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "NOT_HOST", resp.Error.Code)

	status, _ = do(t, s, http.MethodPost, "/api/lobbies/"+created.LobbyCode+"/bots",
		AddBotRequest{PlayerID: created.Player.ID, Difficulty: "hard"})
	assert.Equal(t, http.StatusCreated, status)

	// codes are case-insensitive in the URL
	status, resp = do(t, s, http.MethodGet, "/api/lobbies/"+string(bytes.ToLower([]byte(created.LobbyCode))), nil)
	require.Equal(t, http.StatusOK, status)
	var summary app.LobbySummary
	require.NoError(t, json.Unmarshal(resp.Data, &summary))
	assert.Len(t, summary.Players, 3)

	status, _ = do(t, s, http.MethodPost, "/api/lobbies/"+created.LobbyCode+"/start", PlayerRequest{PlayerID: created.Player.ID})
	assert.Equal(t, http.StatusOK, status)

	status, resp = do(t, s, http.MethodPost, "/api/lobbies/"+created.LobbyCode+"/join", JoinLobbyRequest{Name: "Late"})
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "GAME_ALREADY_STARTED", resp.Error.Code)

	status, resp = do(t, s, http.MethodGet, "/api/stats", nil)
	require.Equal(t, http.StatusOK, status)
	var stats StatsResponse
	require.NoError(t, json.Unmarshal(resp.Data, &stats))
	assert.Equal(t, StatsResponse{Lobbies: 1, Playing: 1, Players: 3}, stats)
}

func TestServer_Errors(t *testing.T) {
	s := newTestServer(t)

	status, resp := do(t, s, http.MethodGet, "/api/lobbies/NOPE00", nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "LOBBY_NOT_FOUND", resp.Error.Code)

	status, resp = do(t, s, http.MethodPost, "/api/lobbies", CreateLobbyRequest{Name: "  "})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "EMPTY_NAME", resp.Error.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/lobbies", bytes.NewBufferString("{not json"))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	status, resp = do(t, s, http.MethodGet, "/api/health", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.True(t, resp.Success)

	lobby, host, err := s.hub.CreateLobby(context.Background(), "Ada", domain.LobbySettings{})
	require.NoError(t, err)
	status, resp = do(t, s, http.MethodPost, "/api/lobbies/"+lobby.Code+"/start", PlayerRequest{PlayerID: host.ID})
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "NOT_ENOUGH_PLAYERS", resp.Error.Code)
}

func TestServer_WebsocketRouteRequiresSeat(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/ws?lobby=NOPE00&playerId=x", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestClient_AgainstServer(t *testing.T) {
	s := newTestServer(t)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	ctx := context.Background()
	c := NewClient(srv.URL + "/")

	host, err := c.CreateLobby(ctx, CreateLobbyRequest{Name: "Ada"})
	require.NoError(t, err)
	assert.Equal(t, "ws"+srv.URL[len("http"):]+host.SocketPath, c.SocketURL(host))

	require.NoError(t, c.AddBot(ctx, host.LobbyCode, AddBotRequest{PlayerID: host.Player.ID}))
	guest, err := c.JoinLobby(ctx, host.LobbyCode, "Bob")
	require.NoError(t, err)
	require.NoError(t, c.StartGame(ctx, host.LobbyCode, host.Player.ID))

	err = c.StartGame(ctx, host.LobbyCode, guest.Player.ID)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusForbidden, apiErr.Status)
	assert.Equal(t, "NOT_HOST", apiErr.Code)

	require.NoError(t, c.LeaveLobby(ctx, host.LobbyCode, guest.Player.ID))
	_, err = c.JoinLobby(ctx, "NOPE00", "Cy")
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "LOBBY_NOT_FOUND", apiErr.Code)
}
