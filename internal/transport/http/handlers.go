package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"memematch/internal/cards"
	"memematch/internal/domain"
)

const maxBodyBytes = 16 * 1024

// Response is a standard API response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *ErrorInfo  `json:"error,omitempty"`
}

// ErrorInfo contains error details
type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// CreateLobbyRequest is the body of POST /api/lobbies
type CreateLobbyRequest struct {
	Name     string                `json:"name"`
	Settings *domain.LobbySettings `json:"settings,omitempty"`
}

// JoinLobbyRequest is the body of POST /api/lobbies/{code}/join
type JoinLobbyRequest struct {
	Name string `json:"name"`
}

// AddBotRequest is the body of POST /api/lobbies/{code}/bots
type AddBotRequest struct {
	PlayerID      string `json:"playerId"`
	PersonalityID string `json:"personalityId,omitempty"`
	Difficulty    string `json:"difficulty,omitempty"`
}

// PlayerRequest identifies the acting player for start and leave
type PlayerRequest struct {
	PlayerID string `json:"playerId"`
}

// LobbyResponse is returned when a player takes a seat
type LobbyResponse struct {
	LobbyCode  string        `json:"lobbyCode"`
	Player     domain.Player `json:"player"`
	InviteLink string        `json:"inviteLink"`
	SocketPath string        `json:"socketPath"`
}

// HealthResponse is the response for health check
type HealthResponse struct {
	Status string `json:"status"`
}

// StatsResponse is the response for stats endpoint
type StatsResponse struct {
	Lobbies int `json:"lobbies"`
	Playing int `json:"playing"`
	Players int `json:"players"`
}

// handleCreateLobby handles POST /api/lobbies
func (s *Server) handleCreateLobby(w http.ResponseWriter, r *http.Request) {
	var req CreateLobbyRequest
	if !s.decode(w, r, &req) {
		return
	}
	var settings domain.LobbySettings
	if req.Settings != nil {
		settings = *req.Settings
	}

	lobby, host, err := s.hub.CreateLobby(r.Context(), req.Name, settings)
	if err != nil {
		s.sendDomainError(w, err)
		return
	}

	s.logger.Info("lobby created", "lobby", lobby.Code, "playerID", host.ID)
	s.sendCreated(w, s.seatResponse(r, lobby.Code, host))
}

// handleGetLobby handles GET /api/lobbies/{code}
func (s *Server) handleGetLobby(w http.ResponseWriter, r *http.Request) {
	summary, err := s.hub.GetLobby(r.Context(), lobbyCode(r))
	if err != nil {
		s.sendDomainError(w, err)
		return
	}
	s.sendSuccess(w, summary)
}

// handleJoinLobby handles POST /api/lobbies/{code}/join
func (s *Server) handleJoinLobby(w http.ResponseWriter, r *http.Request) {
	var req JoinLobbyRequest
	if !s.decode(w, r, &req) {
		return
	}
	code := lobbyCode(r)

	player, err := s.hub.JoinLobby(r.Context(), code, req.Name)
	if err != nil {
		s.sendDomainError(w, err)
		return
	}
	s.sendSuccess(w, s.seatResponse(r, code, player))
}

// handleAddBot handles POST /api/lobbies/{code}/bots
func (s *Server) handleAddBot(w http.ResponseWriter, r *http.Request) {
	var req AddBotRequest
	if !s.decode(w, r, &req) {
		return
	}

	bot, err := s.hub.AddBot(r.Context(), lobbyCode(r), req.PlayerID, req.PersonalityID, domain.ParseDifficulty(req.Difficulty))
	if err != nil {
		s.sendDomainError(w, err)
		return
	}
	s.sendCreated(w, bot)
}

// handleStartGame handles POST /api/lobbies/{code}/start
func (s *Server) handleStartGame(w http.ResponseWriter, r *http.Request) {
	var req PlayerRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.hub.StartGame(r.Context(), lobbyCode(r), req.PlayerID); err != nil {
		s.sendDomainError(w, err)
		return
	}
	s.sendSuccess(w, nil)
}

// handleLeaveLobby handles POST /api/lobbies/{code}/leave
func (s *Server) handleLeaveLobby(w http.ResponseWriter, r *http.Request) {
	var req PlayerRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.hub.LeaveLobby(r.Context(), lobbyCode(r), req.PlayerID); err != nil {
		s.sendDomainError(w, err)
		return
	}
	s.sendSuccess(w, nil)
}

// handleHealth handles GET /api/health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.sendSuccess(w, &HealthResponse{
		Status: "ok",
	})
}

// handleStats handles GET /api/stats
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats := s.hub.Stats(r.Context())
	s.sendSuccess(w, &StatsResponse{
		Lobbies: stats.Lobbies,
		Playing: stats.Playing,
		Players: stats.Players,
	})
}

func (s *Server) seatResponse(r *http.Request, code string, p domain.Player) *LobbyResponse {
	scheme := "http"
	if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
		scheme = "https"
	}
	return &LobbyResponse{
		LobbyCode:  code,
		Player:     p,
		InviteLink: scheme + "://" + r.Host + "/join/" + code,
		SocketPath: "/ws?lobby=" + code + "&playerId=" + p.ID,
	}
}

func lobbyCode(r *http.Request) string {
	return strings.ToUpper(chi.URLParam(r, "code"))
}

// decode reads a JSON body; an empty body leaves v zeroed
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if r.ContentLength == 0 {
		return true
	}
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v)
	if err != nil {
		s.sendError(w, http.StatusBadRequest, "INVALID_REQUEST", "Request body is not valid JSON")
		return false
	}
	return true
}

// sendDomainError maps hub errors onto HTTP statuses
func (s *Server) sendDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrLobbyNotFound):
		s.sendError(w, http.StatusNotFound, "LOBBY_NOT_FOUND", "Lobby not found")
	case errors.Is(err, domain.ErrPlayerNotFound):
		s.sendError(w, http.StatusNotFound, "PLAYER_NOT_FOUND", "Player not found")
	case errors.Is(err, domain.ErrEmptyName):
		s.sendError(w, http.StatusBadRequest, "EMPTY_NAME", err.Error())
	case errors.Is(err, domain.ErrNotHost):
		s.sendError(w, http.StatusForbidden, "NOT_HOST", err.Error())
	case errors.Is(err, domain.ErrLobbyFull):
		s.sendError(w, http.StatusConflict, "LOBBY_FULL", err.Error())
	case errors.Is(err, domain.ErrGameAlreadyStarted):
		s.sendError(w, http.StatusConflict, "GAME_ALREADY_STARTED", err.Error())
	case errors.Is(err, domain.ErrNotEnoughPlayers):
		s.sendError(w, http.StatusConflict, "NOT_ENOUGH_PLAYERS", err.Error())
	case errors.Is(err, cards.ErrPoolExhausted):
		s.sendError(w, http.StatusConflict, "CARD_POOL_EXHAUSTED", "No cards left to deal")
	default:
		s.logger.Error("request failed", "error", err)
		s.sendError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Internal server error")
	}
}

// sendSuccess sends a successful JSON response
func (s *Server) sendSuccess(w http.ResponseWriter, data interface{}) {
	s.sendJSON(w, http.StatusOK, &Response{Success: true, Data: data})
}

func (s *Server) sendCreated(w http.ResponseWriter, data interface{}) {
	s.sendJSON(w, http.StatusCreated, &Response{Success: true, Data: data})
}

// sendError sends an error JSON response
func (s *Server) sendError(w http.ResponseWriter, status int, code, message string) {
	s.sendJSON(w, status, &Response{
		Success: false,
		Error: &ErrorInfo{
			Code:    code,
			Message: message,
		},
	})
}

func (s *Server) sendJSON(w http.ResponseWriter, status int, resp *Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resp)
}
