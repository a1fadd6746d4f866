package ws

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"memematch/internal/app"
	"memematch/internal/domain"
	"memematch/internal/store"
)

// Handler handles WebSocket connections
type Handler struct {
	hub      *app.Hub
	store    store.Store
	limits   Limits
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewHandler creates a new WebSocket handler serving s to seated players of hub's lobbies
func NewHandler(hub *app.Hub, s store.Store, limits Limits, logger *slog.Logger) *Handler {
	return &Handler{
		hub:    hub,
		store:  s,
		limits: limits,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				// Allow all origins for development
				// In production, you should validate the origin
				return true
			},
		},
		logger: logger,
	}
}

// ServeHTTP handles WebSocket upgrade requests
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	lobbyCode := r.URL.Query().Get("lobby")
	playerID := r.URL.Query().Get("playerId")
	if lobbyCode == "" || playerID == "" {
		http.Error(w, "lobby and playerId are required", http.StatusBadRequest)
		return
	}

	summary, err := h.hub.GetLobby(r.Context(), lobbyCode)
	if err != nil {
		if errors.Is(err, domain.ErrLobbyNotFound) {
			http.Error(w, "Lobby not found", http.StatusNotFound)
			return
		}
		h.logger.Error("lookup lobby", "lobby", lobbyCode, "error", err)
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}
	if !seated(summary, playerID) {
		http.Error(w, "Player is not in this lobby", http.StatusForbidden)
		return
	}

	// Upgrade connection to WebSocket
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	client := NewClient(conn, h.store, lobbyCode, playerID, h.limits, h.logger)

	h.logger.Info("websocket connected",
		"lobby", lobbyCode,
		"playerID", playerID,
	)

	client.sendMessage(MsgConnected, "", &ConnectedPayload{
		PlayerID:  playerID,
		LobbyCode: lobbyCode,
	})

	client.Run()

	h.logger.Info("websocket disconnected", "lobby", lobbyCode, "playerID", playerID)
}

func seated(summary app.LobbySummary, playerID string) bool {
	for _, p := range summary.Players {
		if p.ID == playerID {
			return true
		}
	}
	return false
}
