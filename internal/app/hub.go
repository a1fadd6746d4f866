package app

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"memematch/internal/cards"
	"memematch/internal/domain"
	"memematch/internal/store"
	"memematch/internal/timer"
)

const (
	// DefaultRoomCodeLength is the default length for room codes
	DefaultRoomCodeLength = 6

	// StaleLobbyTimeout is how long a lobby without online humans is kept
	StaleLobbyTimeout = 2 * time.Hour

	cleanupInterval    = 10 * time.Minute
	stallCheckInterval = 5 * time.Second
)

// RoomCodeChars are characters used for room codes (no ambiguous chars)
const RoomCodeChars = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// HubConfig wires the lobby hub
type HubConfig struct {
	Store          store.Store
	Catalog        []domain.MemeCard
	Situations     SituationSource
	Settings       domain.LobbySettings
	Timings        Timings
	Clock          timer.Clock
	Reporter       Reporter
	Logger         *slog.Logger
	RoomCodeLength int
}

// LobbySummary is the public view of a lobby
type LobbySummary struct {
	Lobby   domain.Lobby    `json:"lobby"`
	Phase   domain.Phase    `json:"phase,omitempty"`
	Round   int             `json:"round,omitempty"`
	Players []PlayerSummary `json:"players"`
}

// PlayerSummary is a player without their hand
type PlayerSummary struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	IsAI   bool   `json:"isAI,omitempty"`
	IsHost bool   `json:"isHost,omitempty"`
	Score  int    `json:"score"`
	Online bool   `json:"online"`
}

// HubStats counts what the hub is tracking
type HubStats struct {
	Lobbies int `json:"lobbies"`
	Playing int `json:"playing"`
	Players int `json:"players"`
}

// Hub creates lobbies and seats players in the shared store. Seating is
// serialized by the hub so hands dealt at join never overlap.
type Hub struct {
	cfg HubConfig

	mu           sync.Mutex
	lobbies      map[string]time.Time // code -> created
	stalledSince map[string]time.Time
	done         chan struct{}
	closeOnce    sync.Once
}

// NewHub creates a hub and starts its cleanup and stall monitors
func NewHub(cfg HubConfig) *Hub {
	h := newHub(cfg)
	go h.cleanupLoop()
	go h.stallLoop()
	return h
}

func newHub(cfg HubConfig) *Hub {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Reporter == nil {
		cfg.Reporter = NewLogReporter(cfg.Logger)
	}
	if len(cfg.Catalog) == 0 {
		cfg.Catalog = cards.DefaultCatalog()
	}
	if cfg.Situations == nil {
		cfg.Situations = NewSituationDeck(nil, nil)
	}
	if cfg.Settings == (domain.LobbySettings{}) {
		cfg.Settings = domain.DefaultLobbySettings()
	}
	if cfg.Timings == (Timings{}) {
		cfg.Timings = DefaultTimings()
	}
	if cfg.Clock == nil {
		cfg.Clock = timer.SystemClock{}
	}
	if cfg.RoomCodeLength <= 0 {
		cfg.RoomCodeLength = DefaultRoomCodeLength
	}
	return &Hub{
		cfg:          cfg,
		lobbies:      make(map[string]time.Time),
		stalledSince: make(map[string]time.Time),
		done:         make(chan struct{}),
	}
}

// CreateLobby opens a lobby seated with its host
func (h *Hub) CreateLobby(ctx context.Context, hostName string, settings domain.LobbySettings) (domain.Lobby, domain.Player, error) {
	hostName = strings.TrimSpace(hostName)
	if hostName == "" {
		return domain.Lobby{}, domain.Player{}, domain.ErrEmptyName
	}
	settings = h.normalizeSettings(settings)

	h.mu.Lock()
	defer h.mu.Unlock()

	code, err := h.uniqueCode(ctx)
	if err != nil {
		return domain.Lobby{}, domain.Player{}, err
	}

	now := h.cfg.Clock.Now()
	host := domain.NewPlayer(uuid.NewString(), hostName, now)
	host.IsHost = true
	hand, err := cards.NewAllocator(h.cfg.Catalog, nil, nil).Draw(domain.HandSize)
	if err != nil {
		return domain.Lobby{}, domain.Player{}, err
	}
	host.Cards = hand

	lobby := domain.Lobby{
		Code:      code,
		HostID:    host.ID,
		Status:    domain.LobbyOpen,
		Settings:  settings,
		CreatedAt: now.UnixMilli(),
	}
	waiting := domain.GameState{Phase: domain.PhaseWaiting, RoundNumber: 1, TotalRounds: settings.TotalRounds}

	err = h.cfg.Store.Update(ctx, map[string]any{
		domain.LobbyMetaPath(code):       lobby,
		domain.PlayerPath(code, host.ID): host,
		domain.GameStatePath(code):       waiting,
	})
	if err != nil {
		return domain.Lobby{}, domain.Player{}, fmt.Errorf("create lobby: %w", err)
	}
	h.lobbies[code] = now

	h.cfg.Logger.Info("lobby created", "lobby", code, "hostID", host.ID)
	return lobby, host, nil
}

// JoinLobby seats a human player and deals their hand
func (h *Hub) JoinLobby(ctx context.Context, code, name string) (domain.Player, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.Player{}, domain.ErrEmptyName
	}
	p := domain.NewPlayer(uuid.NewString(), name, h.cfg.Clock.Now())
	return h.seat(ctx, code, p)
}

// AddBot seats an AI player (lobby host only)
func (h *Hub) AddBot(ctx context.Context, code, requesterID, personalityID string, difficulty domain.Difficulty) (domain.Player, error) {
	lobby, err := h.readLobby(ctx, code)
	if err != nil {
		return domain.Player{}, err
	}
	if lobby.HostID != requesterID {
		return domain.Player{}, domain.ErrNotHost
	}
	if personalityID == "" {
		personalityID = "default"
	}
	id := "ai_" + uuid.NewString()
	name := fmt.Sprintf("Bot %s", strings.ToUpper(id[3:7]))
	p := domain.NewAIPlayer(id, name, personalityID, domain.ParseDifficulty(string(difficulty)), h.cfg.Clock.Now())
	return h.seat(ctx, code, p)
}

func (h *Hub) seat(ctx context.Context, code string, p domain.Player) (domain.Player, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	lobby, err := h.readLobby(ctx, code)
	if err != nil {
		return domain.Player{}, err
	}
	if lobby.Status == domain.LobbyPlaying {
		return domain.Player{}, domain.ErrGameAlreadyStarted
	}
	players, err := h.readPlayers(ctx, code)
	if err != nil {
		return domain.Player{}, err
	}
	if len(players) >= lobby.Settings.MaxPlayers {
		return domain.Player{}, domain.ErrLobbyFull
	}

	hand, err := cards.NewAllocator(h.cfg.Catalog, domain.HeldCardIDs(players), nil).Draw(domain.HandSize)
	if err != nil {
		h.cfg.Reporter.Report(ctx, domain.EventCardPoolExhausted, err, "lobby", code, "playerID", p.ID)
		return domain.Player{}, err
	}
	p.Cards = hand

	if err := h.cfg.Store.Write(ctx, domain.PlayerPath(code, p.ID), p); err != nil {
		return domain.Player{}, fmt.Errorf("seat player: %w", err)
	}
	h.lobbies[code] = h.createdAt(code, lobby)

	h.cfg.Logger.Info("player joined", "lobby", code, "playerID", p.ID, "isAI", p.IsAI)
	return p, nil
}

// LeaveLobby removes a player, handing the lobby to the longest seated human
// when the host leaves. A lobby without humans is deleted.
func (h *Hub) LeaveLobby(ctx context.Context, code, playerID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	lobby, err := h.readLobby(ctx, code)
	if err != nil {
		return err
	}
	players, err := h.readPlayers(ctx, code)
	if err != nil {
		return err
	}
	if _, ok := players[playerID]; !ok {
		return domain.ErrPlayerNotFound
	}
	delete(players, playerID)

	successor := oldestHuman(players)
	if successor == "" {
		if err := h.cfg.Store.Write(ctx, domain.LobbyPath(code), nil); err != nil {
			return fmt.Errorf("delete lobby: %w", err)
		}
		delete(h.lobbies, code)
		delete(h.stalledSince, code)
		h.cfg.Logger.Info("lobby closed", "lobby", code, "lastPlayer", playerID)
		return nil
	}

	u := map[string]any{domain.PlayerPath(code, playerID): nil}
	if lobby.HostID == playerID {
		u[domain.LobbyMetaPath(code)+"/hostId"] = successor
		u[domain.PlayerField(code, successor, "isHost")] = true
	}
	if err := h.cfg.Store.Update(ctx, u); err != nil {
		return fmt.Errorf("leave lobby: %w", err)
	}

	h.cfg.Logger.Info("player left", "lobby", code, "playerID", playerID)
	return nil
}

// StartGame moves the lobby out of its waiting room (lobby host only)
func (h *Hub) StartGame(ctx context.Context, code, requesterID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	lobby, err := h.readLobby(ctx, code)
	if err != nil {
		return err
	}
	if lobby.HostID != requesterID {
		return domain.ErrNotHost
	}
	if lobby.Status == domain.LobbyPlaying {
		return domain.ErrGameAlreadyStarted
	}
	players, err := h.readPlayers(ctx, code)
	if err != nil {
		return err
	}
	if len(players) < lobby.Settings.MinPlayers {
		return domain.ErrNotEnoughPlayers
	}

	g := domain.NewGameState(lobby.Settings.TotalRounds)
	g.CurrentSituation = h.cfg.Situations.Next()
	err = h.cfg.Store.Update(ctx, map[string]any{
		domain.GameStatePath(code):             g,
		domain.LobbyMetaPath(code) + "/status": domain.LobbyPlaying,
	})
	if err != nil {
		return fmt.Errorf("start game: %w", err)
	}

	h.cfg.Logger.Info("game started", "lobby", code, "players", len(players), "rounds", g.TotalRounds)
	return nil
}

// GetLobby returns a lobby with its players, hands omitted
func (h *Hub) GetLobby(ctx context.Context, code string) (LobbySummary, error) {
	lobby, err := h.readLobby(ctx, code)
	if err != nil {
		return LobbySummary{}, err
	}
	players, err := h.readPlayers(ctx, code)
	if err != nil {
		return LobbySummary{}, err
	}

	summary := LobbySummary{Lobby: lobby, Players: make([]PlayerSummary, 0, len(players))}
	if g, err := h.readGame(ctx, code); err == nil && g != nil {
		summary.Phase = g.Phase
		summary.Round = g.RoundNumber
	}

	now := h.cfg.Clock.Now()
	for _, p := range players {
		summary.Players = append(summary.Players, PlayerSummary{
			ID:     p.ID,
			Name:   p.Name,
			IsAI:   p.IsAI,
			IsHost: p.ID == lobby.HostID,
			Score:  p.Score,
			Online: p.IsOnline(now, h.cfg.Timings.PresenceWindow),
		})
	}
	sort.Slice(summary.Players, func(i, j int) bool {
		return summary.Players[i].ID < summary.Players[j].ID
	})
	return summary, nil
}

// Stats counts tracked lobbies and their players
func (h *Hub) Stats(ctx context.Context) HubStats {
	var stats HubStats
	for _, code := range h.codes() {
		lobby, err := h.readLobby(ctx, code)
		if err != nil {
			continue
		}
		stats.Lobbies++
		if lobby.Status == domain.LobbyPlaying {
			stats.Playing++
		}
		if players, err := h.readPlayers(ctx, code); err == nil {
			stats.Players += len(players)
		}
	}
	return stats
}

// Close stops the background monitors
func (h *Hub) Close() {
	h.closeOnce.Do(func() { close(h.done) })
}

func (h *Hub) normalizeSettings(s domain.LobbySettings) domain.LobbySettings {
	def := h.cfg.Settings
	if s.MinPlayers <= 0 {
		s.MinPlayers = def.MinPlayers
	}
	if s.MaxPlayers <= 0 {
		s.MaxPlayers = def.MaxPlayers
	}
	if s.TotalRounds <= 0 {
		s.TotalRounds = def.TotalRounds
	}
	if s.MinPlayers < 2 {
		s.MinPlayers = 2
	}
	if s.MaxPlayers < s.MinPlayers {
		s.MaxPlayers = s.MinPlayers
	}
	// Every seat needs a full hand of distinct cards.
	if limit := len(h.cfg.Catalog) / domain.HandSize; s.MaxPlayers > limit {
		s.MaxPlayers = limit
	}
	return s
}

func (h *Hub) uniqueCode(ctx context.Context) (string, error) {
	for attempts := 0; attempts < 10; attempts++ {
		code := h.generateRoomCode()
		if _, exists := h.lobbies[code]; exists {
			continue
		}
		snap, err := h.cfg.Store.Read(ctx, domain.LobbyMetaPath(code))
		if err != nil {
			return "", err
		}
		if !snap.Exists() {
			return code, nil
		}
	}
	return "", fmt.Errorf("failed to generate unique room code")
}

// generateRoomCode generates a random room code
func (h *Hub) generateRoomCode() string {
	b := make([]byte, h.cfg.RoomCodeLength)
	rand.Read(b)

	code := make([]byte, h.cfg.RoomCodeLength)
	for i := range code {
		code[i] = RoomCodeChars[int(b[i])%len(RoomCodeChars)]
	}

	return string(code)
}

func (h *Hub) createdAt(code string, lobby domain.Lobby) time.Time {
	if t, ok := h.lobbies[code]; ok {
		return t
	}
	return time.UnixMilli(lobby.CreatedAt)
}

func (h *Hub) codes() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	codes := make([]string, 0, len(h.lobbies))
	for code := range h.lobbies {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

func (h *Hub) readLobby(ctx context.Context, code string) (domain.Lobby, error) {
	snap, err := h.cfg.Store.Read(ctx, domain.LobbyMetaPath(code))
	if err != nil {
		return domain.Lobby{}, fmt.Errorf("read lobby: %w", err)
	}
	if !snap.Exists() {
		return domain.Lobby{}, domain.ErrLobbyNotFound
	}
	var lobby domain.Lobby
	if err := snap.Decode(&lobby); err != nil {
		return domain.Lobby{}, fmt.Errorf("decode lobby: %w", err)
	}
	return lobby, nil
}

func (h *Hub) readPlayers(ctx context.Context, code string) (map[string]domain.Player, error) {
	snap, err := h.cfg.Store.Read(ctx, domain.PlayersPath(code))
	if err != nil {
		return nil, fmt.Errorf("read players: %w", err)
	}
	players := make(map[string]domain.Player)
	if err := snap.Decode(&players); err != nil {
		return nil, fmt.Errorf("decode players: %w", err)
	}
	return players, nil
}

func (h *Hub) readGame(ctx context.Context, code string) (*domain.GameState, error) {
	snap, err := h.cfg.Store.Read(ctx, domain.GameStatePath(code))
	if err != nil || !snap.Exists() {
		return nil, err
	}
	var g domain.GameState
	if err := snap.Decode(&g); err != nil {
		return nil, err
	}
	return &g, nil
}

// cleanupLoop periodically cleans up stale lobbies
func (h *Hub) cleanupLoop() {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-h.done:
			return
		case <-ticker.C:
			h.cleanupStaleLobbies(context.Background())
		}
	}
}

// cleanupStaleLobbies removes lobbies nobody has been present in for too long
func (h *Hub) cleanupStaleLobbies(ctx context.Context) {
	now := h.cfg.Clock.Now()
	for _, code := range h.codes() {
		players, err := h.readPlayers(ctx, code)
		if err != nil {
			continue
		}
		h.mu.Lock()
		created, tracked := h.lobbies[code]
		h.mu.Unlock()
		if !tracked {
			continue
		}

		_, online := domain.CountHumans(players, now, h.cfg.Timings.PresenceWindow)
		if online > 0 || now.Sub(lastActivity(players, created)) <= StaleLobbyTimeout {
			continue
		}

		if err := h.cfg.Store.Write(ctx, domain.LobbyPath(code), nil); err != nil {
			h.cfg.Reporter.Report(ctx, domain.EventStoreWriteFailed, err, "lobby", code)
			continue
		}
		h.mu.Lock()
		delete(h.lobbies, code)
		delete(h.stalledSince, code)
		h.mu.Unlock()
		h.cfg.Logger.Info("stale lobby cleaned up", "lobby", code)
	}
}

// stallLoop ends games whose timer nobody can drive any more
func (h *Hub) stallLoop() {
	ticker := time.NewTicker(stallCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-h.done:
			return
		case <-ticker.C:
			h.checkStalls(context.Background())
		}
	}
}

// checkStalls force-ends a game once it has been in a timed phase with a
// silent timer host and no online human for StallGrace
func (h *Hub) checkStalls(ctx context.Context) {
	now := h.cfg.Clock.Now()
	for _, code := range h.codes() {
		g, err := h.readGame(ctx, code)
		if err != nil {
			continue
		}
		players, err := h.readPlayers(ctx, code)
		if err != nil {
			continue
		}

		if !stalled(g, players, now, h.cfg.Timings) {
			h.mu.Lock()
			delete(h.stalledSince, code)
			h.mu.Unlock()
			continue
		}

		h.mu.Lock()
		since, seen := h.stalledSince[code]
		if !seen {
			h.stalledSince[code] = now
		}
		h.mu.Unlock()

		if !seen {
			h.cfg.Reporter.Report(ctx, domain.EventTimerStalled, nil, "lobby", code, "phase", g.Phase, "phaseID", g.PhaseID())
			continue
		}
		if now.Sub(since) < h.cfg.Timings.StallGrace {
			continue
		}
		h.forceEnd(ctx, code, g)
	}
}

func (h *Hub) forceEnd(ctx context.Context, code string, g *domain.GameState) {
	err := h.cfg.Store.Update(ctx, map[string]any{
		domain.GameStateField(code, "phase"):          domain.PhaseGameOver,
		domain.GameStateField(code, "timeLeft"):       0,
		domain.GameStateField(code, "phaseStartTime"): store.ServerTimestamp,
		domain.GameStateField(code, "timerMeta"):      nil,
	})
	if err != nil {
		h.cfg.Reporter.Report(ctx, domain.EventStoreWriteFailed, err, "lobby", code)
		return
	}

	h.mu.Lock()
	delete(h.stalledSince, code)
	h.mu.Unlock()
	h.cfg.Reporter.Report(ctx, domain.EventGameForceEnded, nil, "lobby", code, "phase", g.Phase, "round", g.RoundNumber)
}

func stalled(g *domain.GameState, players map[string]domain.Player, now time.Time, t Timings) bool {
	if g == nil || !g.Phase.IsTimed() || g.TimerMeta == nil {
		return false
	}
	if now.Sub(time.UnixMilli(g.TimerMeta.LastHeartbeat)) <= t.HeartbeatTimeout {
		return false
	}
	_, online := domain.CountHumans(players, now, t.PresenceWindow)
	return online == 0
}

// oldestHuman picks the human seated longest, ties broken by id
func oldestHuman(players map[string]domain.Player) string {
	best := ""
	var bestJoined int64
	for _, id := range sortedIDs(players) {
		p := players[id]
		if p.IsAI {
			continue
		}
		if best == "" || p.JoinedAt < bestJoined {
			best, bestJoined = id, p.JoinedAt
		}
	}
	return best
}

func lastActivity(players map[string]domain.Player, created time.Time) time.Time {
	last := created
	for _, p := range players {
		if seen := time.UnixMilli(p.LastSeen); !p.IsAI && seen.After(last) {
			last = seen
		}
	}
	return last
}
