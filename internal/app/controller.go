package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"memematch/internal/bots"
	"memematch/internal/cards"
	"memematch/internal/domain"
	"memematch/internal/scoring"
	"memematch/internal/store"
	"memematch/internal/timer"
)

// Scorer turns one round of votes into cumulative scores
type Scorer interface {
	Score(in scoring.Input) scoring.Result
}

// BotPlayer plays for AI seats
type BotPlayer interface {
	ProcessSubmissions(ctx context.Context, lobbyCode string, players []domain.Player, situation string) error
	ProcessVotes(ctx context.Context, lobbyCode string, players []domain.Player, submissions map[string]domain.Submission, situation string) error
}

// SituationSource hands out round prompts
type SituationSource interface {
	Next(excluded ...string) string
}

var (
	_ Scorer          = scoring.Engine{}
	_ BotPlayer       = (*bots.Service)(nil)
	_ SituationSource = (*SituationDeck)(nil)
)

// Config wires a controller to its lobby and collaborators
type Config struct {
	LobbyCode  string
	UserID     string
	Store      store.Store
	Scorer     Scorer
	Bots       BotPlayer // nil disables bot hooks
	Situations SituationSource
	Catalog    []domain.MemeCard
	Timings    Timings
	Clock      timer.Clock
	Reporter   Reporter
	Logger     *slog.Logger
	OnChange   func(View)
}

// Controller is one acting player's view of a lobby's game. The last store
// snapshots are the only state it keeps; actions write to the store and wait
// for the subscription to bring the result back.
type Controller struct {
	cfg   Config
	coord *timer.Coordinator
	guard *phaseGuard

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	manual bool // no background loops; tests drive ticks

	mu         sync.Mutex
	snap       snapshot
	hostLoop   string
	handWarned map[string]string // player id -> short hand already reported
	closed     bool
	unsubs     []func()
}

type snapshot struct {
	game       *domain.GameState
	players    map[string]domain.Player
	hand       []domain.MemeCard
	lobby      *domain.Lobby
	gotGame    bool
	gotPlayers bool
	err        error
	conn       store.ConnState
}

// NewController validates cfg and fills in defaults
func NewController(cfg Config) (*Controller, error) {
	if cfg.Store == nil {
		return nil, errors.New("controller: store is required")
	}
	if cfg.LobbyCode == "" {
		return nil, domain.ErrLobbyNotFound
	}
	if cfg.UserID == "" {
		return nil, domain.ErrNotAuthenticated
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Reporter == nil {
		cfg.Reporter = NewLogReporter(cfg.Logger)
	}
	if cfg.Scorer == nil {
		cfg.Scorer = scoring.DefaultEngine()
	}
	if cfg.Situations == nil {
		cfg.Situations = NewSituationDeck(nil, nil)
	}
	if len(cfg.Catalog) == 0 {
		cfg.Catalog = cards.DefaultCatalog()
	}
	if cfg.Timings == (Timings{}) {
		cfg.Timings = DefaultTimings()
	}
	if cfg.Clock == nil {
		cfg.Clock = timer.SystemClock{}
	}
	cfg.Logger = cfg.Logger.With("lobby", cfg.LobbyCode, "userID", cfg.UserID)

	return &Controller{
		cfg:   cfg,
		coord: timer.NewCoordinator(cfg.UserID, cfg.Clock, cfg.Timings.HeartbeatTimeout),
		guard: newPhaseGuard(),
		ctx:   context.Background(),
		snap:  snapshot{conn: store.Connected},

		handWarned: make(map[string]string),
	}, nil
}

// Start subscribes to the lobby and begins presence and ownership checks
func (c *Controller) Start(ctx context.Context) {
	c.ctx, c.cancel = context.WithCancel(ctx)
	code := c.cfg.LobbyCode

	var unsubs []func()
	if w, ok := c.cfg.Store.(store.ConnectionWatcher); ok {
		unsubs = append(unsubs, w.WatchConnection(c.onConnection))
	}
	unsubs = append(unsubs,
		c.cfg.Store.Subscribe(domain.LobbyMetaPath(code), c.onLobby, c.onSubscriptionError("meta")),
		c.cfg.Store.Subscribe(domain.PlayersPath(code), c.onPlayers, c.onSubscriptionError("players")),
		c.cfg.Store.Subscribe(domain.HandPath(code, c.cfg.UserID), c.onHand, c.onSubscriptionError("hand")),
		c.cfg.Store.Subscribe(domain.GameStatePath(code), c.onGameState, c.onSubscriptionError("gameState")),
	)

	c.mu.Lock()
	c.unsubs = unsubs
	c.mu.Unlock()

	c.touchPresence(c.ctx)
	if !c.manual {
		c.goTracked(c.watchLoop)
	}
}

// Close stops every loop and subscription
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	unsubs := c.unsubs
	c.unsubs = nil
	c.mu.Unlock()

	if c.cancel != nil {
		c.cancel()
	}
	for _, unsub := range unsubs {
		unsub()
	}
	c.wg.Wait()
}

// goTracked runs fn in a goroutine Close waits for; a no-op once closed
func (c *Controller) goTracked(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		fn()
	}()
}

func (c *Controller) onLobby(snap store.Snapshot) {
	var lobby *domain.Lobby
	if snap.Exists() {
		var l domain.Lobby
		if err := snap.Decode(&l); err != nil {
			c.report(domain.EventSubscriptionFailed, err, "path", snap.Path)
			return
		}
		lobby = &l
	}
	c.mu.Lock()
	c.snap.lobby = lobby
	c.mu.Unlock()
	c.publish()
}

func (c *Controller) onPlayers(snap store.Snapshot) {
	players := make(map[string]domain.Player)
	if err := snap.Decode(&players); err != nil {
		c.report(domain.EventSubscriptionFailed, err, "path", snap.Path)
		return
	}
	c.mu.Lock()
	c.snap.players = players
	c.snap.gotPlayers = true
	c.mu.Unlock()
	c.checkHands()
	c.publish()
}

func (c *Controller) onHand(snap store.Snapshot) {
	var hand []domain.MemeCard
	if err := snap.Decode(&hand); err != nil {
		c.report(domain.EventSubscriptionFailed, err, "path", snap.Path)
		return
	}
	c.mu.Lock()
	c.snap.hand = hand
	c.mu.Unlock()
	c.checkHands()
	c.publish()
}

func (c *Controller) onGameState(snap store.Snapshot) {
	var game *domain.GameState
	if snap.Exists() {
		var g domain.GameState
		if err := snap.Decode(&g); err != nil {
			c.report(domain.EventSubscriptionFailed, err, "path", snap.Path)
			return
		}
		game = &g
	}
	c.mu.Lock()
	c.snap.game = game
	c.snap.gotGame = true
	c.snap.err = nil
	c.mu.Unlock()

	c.checkHands()
	c.publish()
	if game != nil {
		c.evaluate(c.ctx, game)
	}
}

func (c *Controller) onSubscriptionError(name string) func(error) {
	return func(err error) {
		c.mu.Lock()
		c.snap.err = err
		c.mu.Unlock()
		c.report(domain.EventSubscriptionFailed, err, "subscription", name)
		c.publish()
	}
}

func (c *Controller) onConnection(state store.ConnState) {
	c.mu.Lock()
	c.snap.conn = state
	c.mu.Unlock()
	c.cfg.Logger.Info("store connection changed", "state", state)
	c.publish()
}

func (c *Controller) publish() {
	if c.cfg.OnChange != nil {
		c.cfg.OnChange(c.View())
	}
}

// evaluate decides, from one game state snapshot, whether this client should
// own the phase timer
func (c *Controller) evaluate(ctx context.Context, g *domain.GameState) {
	if ctx.Err() != nil || !g.Phase.IsTimed() {
		return
	}
	players := c.players()
	if c.actingAsAI(players) {
		c.detectStall(ctx, g, players)
		return
	}

	meta := g.TimerMeta
	switch {
	case meta == nil:
		c.createTimer(ctx, g.Phase)
	case c.coord.IsHost(meta):
		c.ensureHostLoop(meta.PhaseID)
		c.runBotHooks(ctx, g, players)
	case c.coord.IsStale(meta):
		c.takeOver(ctx, meta.PhaseID)
	}
}

func (c *Controller) createTimer(ctx context.Context, phase domain.Phase) {
	cur, err := c.readGame(ctx)
	if err != nil {
		c.report(domain.EventStoreWriteFailed, err)
		return
	}
	if cur == nil || cur.Phase != phase || cur.TimerMeta != nil {
		return
	}
	meta := c.coord.Create(c.cfg.Timings.PhaseDuration(phase), phase, cur.RoundNumber)
	if err := c.cfg.Store.Write(ctx, c.field("timerMeta"), meta.Fields()); err != nil {
		c.report(domain.EventStoreWriteFailed, err, "phase", phase)
		return
	}
	c.cfg.Logger.Debug("timer created", "phase", phase, "phaseID", meta.PhaseID)
}

func (c *Controller) takeOver(ctx context.Context, phaseID string) {
	cur, err := c.readGame(ctx)
	if err != nil {
		c.report(domain.EventStoreWriteFailed, err)
		return
	}
	if cur == nil || cur.PhaseID() != phaseID || c.coord.IsHost(cur.TimerMeta) || !c.coord.IsStale(cur.TimerMeta) {
		return
	}
	previous := cur.TimerMeta.HostID
	meta := c.coord.TakeOver(*cur.TimerMeta)
	if err := c.cfg.Store.Write(ctx, c.field("timerMeta"), meta.Fields()); err != nil {
		c.report(domain.EventStoreWriteFailed, err, "phaseID", phaseID)
		return
	}
	c.cfg.Logger.Info("took over timer", "phase", cur.Phase, "phaseID", phaseID, "previousHost", previous)
}

func (c *Controller) ensureHostLoop(phaseID string) {
	c.mu.Lock()
	if c.hostLoop == phaseID {
		c.mu.Unlock()
		return
	}
	c.hostLoop = phaseID
	manual := c.manual
	c.mu.Unlock()

	if !manual {
		c.goTracked(func() { c.hostLoopRun(phaseID) })
	}
}

func (c *Controller) hostLoopRun(phaseID string) {
	ticker := time.NewTicker(c.cfg.Timings.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			if !c.tick(c.ctx, phaseID) {
				c.mu.Lock()
				if c.hostLoop == phaseID {
					c.hostLoop = ""
				}
				c.mu.Unlock()
				return
			}
		}
	}
}

// tick is one beat of the host loop. It returns false once this client no
// longer owns phaseID. Ownership is checked against the stored meta, not the
// last snapshot.
func (c *Controller) tick(ctx context.Context, phaseID string) bool {
	if phaseID == "" {
		return false
	}
	g, err := c.readGame(ctx)
	if err != nil {
		c.report(domain.EventStoreWriteFailed, err, "phaseID", phaseID)
		return true
	}
	if g == nil || g.PhaseID() != phaseID || !c.coord.IsHost(g.TimerMeta) {
		return false
	}

	meta, _ := c.coord.Heartbeat(g.TimerMeta)
	left := c.coord.TimeLeft(&meta)
	err = c.cfg.Store.Update(ctx, map[string]any{
		c.field("timerMeta", "lastHeartbeat"): meta.LastHeartbeat,
		c.field("timeLeft"):                   left,
	})
	if err != nil {
		c.report(domain.EventStoreWriteFailed, err, "phaseID", phaseID)
		return true
	}

	if left > 0 && !c.readyToAdvance(g, c.players()) {
		return true
	}
	if err := c.expire(ctx, g.Phase, phaseID); err != nil {
		c.report(domain.EventTransitionFailed, err, "phase", g.Phase, "phaseID", phaseID)
	}
	return true
}

// readyToAdvance reports whether the phase may end before its timer does
func (c *Controller) readyToAdvance(g *domain.GameState, players map[string]domain.Player) bool {
	switch g.Phase {
	case domain.PhaseSubmission:
		if !g.AllSubmitted(players) {
			return false
		}
		elapsed := c.cfg.Clock.Now().Sub(time.UnixMilli(g.PhaseStartTime))
		return elapsed >= c.cfg.Timings.MinSubmission
	case domain.PhaseVoting:
		return g.AllResponded(players)
	}
	return false
}

func (c *Controller) runBotHooks(ctx context.Context, g *domain.GameState, players map[string]domain.Player) {
	if c.cfg.Bots == nil {
		return
	}
	phaseID := g.PhaseID()
	list := playerList(players)

	switch g.Phase {
	case domain.PhaseSubmission:
		if !c.guard.claim(hookBotSubmissions, phaseID) {
			return
		}
		situation := g.CurrentSituation
		c.goTracked(func() {
			if err := c.cfg.Bots.ProcessSubmissions(ctx, c.cfg.LobbyCode, list, situation); err != nil && ctx.Err() == nil {
				c.report(domain.EventBotFailed, err, "phaseID", phaseID)
			}
		})
	case domain.PhaseVoting:
		if !c.guard.claim(hookBotVotes, phaseID) {
			return
		}
		subs, situation := g.Submissions, g.CurrentSituation
		c.goTracked(func() {
			if err := c.cfg.Bots.ProcessVotes(ctx, c.cfg.LobbyCode, list, subs, situation); err != nil && ctx.Err() == nil {
				c.report(domain.EventBotFailed, err, "phaseID", phaseID)
			}
		})
	}
}

// detectStall reports, once per phase instance, a timer nobody can drive
func (c *Controller) detectStall(ctx context.Context, g *domain.GameState, players map[string]domain.Player) {
	if g.TimerMeta == nil || !c.coord.IsStale(g.TimerMeta) {
		return
	}
	_, online := domain.CountHumans(players, c.cfg.Clock.Now(), c.cfg.Timings.PresenceWindow)
	if online > 0 || !c.guard.claim(hookStallReport, g.PhaseID()) {
		return
	}
	c.cfg.Reporter.Report(ctx, domain.EventTimerStalled, nil,
		"lobby", c.cfg.LobbyCode, "phase", g.Phase, "phaseID", g.PhaseID())
}

func (c *Controller) checkHands() {
	c.mu.Lock()
	g := c.snap.game
	if g == nil || !g.Phase.IsActive() {
		c.mu.Unlock()
		return
	}
	type short struct {
		id   string
		size int
	}
	var found []short
	for _, id := range sortedIDs(c.snap.players) {
		hand := c.snap.players[id].Cards
		if id == c.cfg.UserID && c.snap.hand != nil {
			hand = c.snap.hand
		}
		if len(hand) == domain.HandSize {
			delete(c.handWarned, id)
			continue
		}
		ids := make([]string, 0, len(hand))
		for _, card := range hand {
			ids = append(ids, card.ID)
		}
		key := strings.Join(ids, ",")
		if warned, ok := c.handWarned[id]; ok && warned == key {
			continue
		}
		c.handWarned[id] = key
		found = append(found, short{id: id, size: len(hand)})
	}
	c.mu.Unlock()

	for _, f := range found {
		c.report(domain.EventHandSizeMismatch, nil, "playerID", f.id, "size", f.size, "round", g.RoundNumber)
	}
}

// watchLoop re-checks timer ownership every tick, so a silent host is replaced
// even when nothing else writes, and keeps the presence heartbeat going
func (c *Controller) watchLoop() {
	ticker := time.NewTicker(c.cfg.Timings.TickInterval)
	defer ticker.Stop()
	lastPresence := c.cfg.Clock.Now()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			c.recheck(c.ctx)
			if now := c.cfg.Clock.Now(); now.Sub(lastPresence) >= c.cfg.Timings.PresenceInterval {
				lastPresence = now
				c.touchPresence(c.ctx)
			}
		}
	}
}

func (c *Controller) recheck(ctx context.Context) {
	if g := c.game(); g != nil {
		c.evaluate(ctx, g)
	}
}

// touchPresence records that a human client is still here
func (c *Controller) touchPresence(ctx context.Context) {
	players := c.players()
	me, ok := players[c.cfg.UserID]
	if !ok || me.IsAI {
		return
	}
	if err := c.cfg.Store.Write(ctx, domain.PlayerField(c.cfg.LobbyCode, c.cfg.UserID, "lastSeen"), store.ServerTimestamp); err != nil && ctx.Err() == nil {
		c.report(domain.EventStoreWriteFailed, err, "field", "lastSeen")
	}
}

func (c *Controller) actingAsAI(players map[string]domain.Player) bool {
	me, ok := players[c.cfg.UserID]
	return ok && me.IsAI
}

func (c *Controller) game() *domain.GameState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snap.game
}

func (c *Controller) players() map[string]domain.Player {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snap.players
}

func (c *Controller) readGame(ctx context.Context) (*domain.GameState, error) {
	snap, err := c.cfg.Store.Read(ctx, domain.GameStatePath(c.cfg.LobbyCode))
	if err != nil {
		return nil, fmt.Errorf("read game state: %w", err)
	}
	if !snap.Exists() {
		return nil, nil
	}
	var g domain.GameState
	if err := snap.Decode(&g); err != nil {
		return nil, fmt.Errorf("decode game state: %w", err)
	}
	return &g, nil
}

func (c *Controller) readPlayers(ctx context.Context) (map[string]domain.Player, error) {
	snap, err := c.cfg.Store.Read(ctx, domain.PlayersPath(c.cfg.LobbyCode))
	if err != nil {
		return nil, fmt.Errorf("read players: %w", err)
	}
	players := make(map[string]domain.Player)
	if err := snap.Decode(&players); err != nil {
		return nil, fmt.Errorf("decode players: %w", err)
	}
	return players, nil
}

func (c *Controller) field(name ...string) string {
	return domain.GameStateField(c.cfg.LobbyCode, name...)
}

func (c *Controller) report(kind domain.EventKind, err error, attrs ...any) {
	attrs = append([]any{"lobby", c.cfg.LobbyCode, "userID", c.cfg.UserID}, attrs...)
	c.cfg.Reporter.Report(c.ctx, kind, err, attrs...)
}

func playerList(players map[string]domain.Player) []domain.Player {
	list := make([]domain.Player, 0, len(players))
	for _, id := range sortedIDs(players) {
		list = append(list, players[id])
	}
	return list
}
