package app

import (
	"context"
	"io"
	"log/slog"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"memematch/internal/cards"
	"memematch/internal/domain"
	"memematch/internal/scoring"
	"memematch/internal/store"
)

const code = "MEME42"

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.UnixMilli(1_700_000_000_000)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordedEvent struct {
	kind domain.EventKind
	err  error
}

type recordingReporter struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (r *recordingReporter) Report(_ context.Context, kind domain.EventKind, err error, _ ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, recordedEvent{kind: kind, err: err})
}

func (r *recordingReporter) count(kind domain.EventKind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.kind == kind {
			n++
		}
	}
	return n
}

type testEnv struct {
	t        *testing.T
	ctx      context.Context
	clock    *fakeClock
	mem      *store.Memory
	reporter *recordingReporter
	catalog  []domain.MemeCard
	ctrls    map[string]*Controller
	order    []string
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newEnv seeds a lobby whose first id is the lobby host; ids prefixed "ai" are bots
func newEnv(t *testing.T, ids []string, game domain.GameState) *testEnv {
	t.Helper()
	clock := newFakeClock()
	e := &testEnv{
		t:        t,
		ctx:      context.Background(),
		clock:    clock,
		mem:      store.NewMemory(store.WithClock(clock.Now)),
		reporter: &recordingReporter{},
		catalog:  cards.DefaultCatalog(),
		ctrls:    make(map[string]*Controller),
	}
	e.seed(ids, game)
	return e
}

func (e *testEnv) seed(ids []string, game domain.GameState) {
	u := map[string]any{
		domain.LobbyMetaPath(code): domain.Lobby{
			Code:     code,
			HostID:   ids[0],
			Status:   domain.LobbyPlaying,
			Settings: domain.DefaultLobbySettings(),
		},
		domain.GameStatePath(code): game,
	}
	for i, id := range ids {
		var p domain.Player
		if len(id) > 2 && id[:2] == "ai" {
			p = domain.NewAIPlayer(id, "bot "+id, "deadpan", domain.DifficultyEasy, e.clock.Now())
		} else {
			p = domain.NewPlayer(id, "name-"+id, e.clock.Now())
		}
		p.Cards = append([]domain.MemeCard(nil), e.catalog[i*domain.HandSize:(i+1)*domain.HandSize]...)
		u[domain.PlayerPath(code, id)] = p
	}
	require.NoError(e.t, e.mem.Update(e.ctx, u))
}

func (e *testEnv) start(id string, mutate ...func(*Config)) *Controller {
	e.t.Helper()
	cfg := Config{
		LobbyCode:  code,
		UserID:     id,
		Store:      e.mem,
		Situations: NewSituationDeck(nil, rand.New(rand.NewSource(1))),
		Catalog:    e.catalog,
		Clock:      e.clock,
		Reporter:   e.reporter,
		Logger:     discardLogger(),
	}
	for _, m := range mutate {
		m(&cfg)
	}
	c, err := NewController(cfg)
	require.NoError(e.t, err)
	c.manual = true
	c.Start(e.ctx)
	e.t.Cleanup(c.Close)

	e.ctrls[id] = c
	e.order = append(e.order, id)
	return c
}

func (e *testEnv) stop(id string) {
	e.ctrls[id].Close()
	delete(e.ctrls, id)
	for i, o := range e.order {
		if o == id {
			e.order = append(e.order[:i], e.order[i+1:]...)
			break
		}
	}
}

// step advances the clock one second at a time and ticks every live controller
func (e *testEnv) step(n int) {
	for i := 0; i < n; i++ {
		e.clock.Advance(time.Second)
		for _, id := range e.order {
			c := e.ctrls[id]
			if g := c.game(); g != nil {
				c.tick(e.ctx, g.PhaseID())
			}
		}
	}
}

// runUntil steps until the stored phase is want and returns the number of steps taken
func (e *testEnv) runUntil(want domain.Phase, max int) int {
	e.t.Helper()
	for i := 1; i <= max; i++ {
		e.step(1)
		if e.state().Phase == want {
			return i
		}
	}
	e.t.Fatalf("phase %s not reached after %d steps, at %s", want, max, e.state().Phase)
	return 0
}

func (e *testEnv) state() domain.GameState {
	e.t.Helper()
	snap, err := e.mem.Read(e.ctx, domain.GameStatePath(code))
	require.NoError(e.t, err)
	var g domain.GameState
	require.NoError(e.t, snap.Decode(&g))
	return g
}

func (e *testEnv) players() map[string]domain.Player {
	e.t.Helper()
	snap, err := e.mem.Read(e.ctx, domain.PlayersPath(code))
	require.NoError(e.t, err)
	players := make(map[string]domain.Player)
	require.NoError(e.t, snap.Decode(&players))
	return players
}

func TestController_EndToEndThreePlayers(t *testing.T) {
	e := newEnv(t, []string{"p1", "p2", "p3"}, domain.NewGameState(3))
	a, b, c := e.start("p1"), e.start("p2"), e.start("p3")
	ctx := e.ctx

	assert.False(t, a.View().Loading)
	assert.True(t, a.View().IsHost())
	assert.False(t, b.View().IsHost())

	require.NoError(t, b.CompleteGameTransition(ctx))
	require.NoError(t, c.CompleteGameTransition(ctx), "late transition calls are no-ops")
	require.Equal(t, domain.PhaseCountdown, e.state().Phase)
	assert.True(t, b.View().IsTimerHost())

	e.runUntil(domain.PhaseSubmission, 5)
	assert.NotEmpty(t, e.state().CurrentSituation)

	played := make(map[string]string)
	for id, ctrl := range map[string]*Controller{"p1": a, "p2": b, "p3": c} {
		card := ctrl.View().Hand[0].ID
		require.NoError(t, ctrl.SubmitCard(ctx, card))
		played[id] = card
		assert.True(t, ctrl.View().HasSubmitted())
	}

	steps := e.runUntil(domain.PhaseVoting, 60)
	assert.Equal(t, 10, steps, "all submitted ends the phase at the minimum time")

	assert.True(t, b.View().CanVote("p1"))
	assert.False(t, a.View().CanVote("p1"))
	require.NoError(t, b.Vote(ctx, "p1"))
	require.NoError(t, c.Vote(ctx, "p1"))
	require.NoError(t, a.Abstain(ctx))
	assert.False(t, b.View().CanVote("p3"), "already voted")

	e.runUntil(domain.PhaseResults, 1)
	engine := scoring.DefaultEngine()
	g := e.state()
	assert.Equal(t, "p1", g.Winner)
	assert.Equal(t, 2*engine.PointsPerVote+engine.WinnerBonus, g.Scores["p1"])
	assert.Zero(t, g.Scores["p2"])
	players := e.players()
	assert.Equal(t, g.Scores["p1"], players["p1"].Score)
	assert.Equal(t, domain.StatusWinner, players["p1"].Status)

	results := a.View().Results()
	require.NotEmpty(t, results)
	assert.Equal(t, "p1", results[0].PlayerID)
	assert.True(t, results[0].IsWinner)

	e.runUntil(domain.PhaseLeaderboard, 10)
	require.NoError(t, a.NextRound(ctx))

	g = e.state()
	assert.Equal(t, domain.PhaseCountdown, g.Phase)
	assert.Equal(t, 2, g.RoundNumber)
	assert.Equal(t, 2*engine.PointsPerVote+engine.WinnerBonus, g.Scores["p1"], "scores survive the round")
	assert.Empty(t, g.Submissions)
	assert.Empty(t, g.Votes)
	assert.Empty(t, g.Winner)

	seen := make(map[string]string)
	for id, p := range e.players() {
		require.Len(t, p.Cards, domain.HandSize, id)
		assert.Equal(t, domain.StatusWaiting, p.Status)
		_, stillHeld := p.HasCard(played[id])
		assert.False(t, stillHeld, "%s still holds the card they played", id)
		for _, card := range p.Cards {
			owner, dup := seen[card.ID]
			assert.False(t, dup, "card %s held by %s and %s", card.ID, owner, id)
			seen[card.ID] = id
		}
	}
	assert.Zero(t, e.reporter.count(domain.EventHandSizeMismatch))
}

func TestController_PhaseSequence(t *testing.T) {
	e := newEnv(t, []string{"p1", "p2"}, domain.NewGameState(2))
	a := e.start("p1")
	e.start("p2")

	var (
		mu     sync.Mutex
		phases []domain.Phase
		rounds []int
	)
	unsub := e.mem.Subscribe(domain.GameStatePath(code), func(s store.Snapshot) {
		var g domain.GameState
		require.NoError(t, s.Decode(&g))
		mu.Lock()
		defer mu.Unlock()
		if len(phases) == 0 || phases[len(phases)-1] != g.Phase {
			phases = append(phases, g.Phase)
		}
		if len(rounds) == 0 || rounds[len(rounds)-1] != g.RoundNumber {
			rounds = append(rounds, g.RoundNumber)
		}
	}, nil)
	defer unsub()

	require.NoError(t, a.CompleteGameTransition(e.ctx))
	e.runUntil(domain.PhaseGameOver, 400)

	cycle := []domain.Phase{
		domain.PhaseCountdown, domain.PhaseSubmission, domain.PhaseVoting,
		domain.PhaseResults, domain.PhaseLeaderboard,
	}
	want := []domain.Phase{domain.PhaseTransition}
	want = append(want, cycle...)
	want = append(want, cycle...)
	want = append(want, domain.PhaseGameOver)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, want, phases)
	assert.Equal(t, []int{1, 2}, rounds)
}

func TestController_TimerHostFailover(t *testing.T) {
	game := domain.GameState{
		Phase:       domain.PhaseVoting,
		RoundNumber: 1,
		TotalRounds: 3,
		Submissions: map[string]domain.Submission{
			"p1": {CardID: "meme_001"},
			"p2": {CardID: "meme_008"},
			"p3": {CardID: "meme_015"},
		},
	}
	e := newEnv(t, []string{"p1", "p2", "p3"}, game)
	start := e.clock.Now()
	e.start("p1")
	b := e.start("p2")
	e.start("p3")

	meta := e.state().TimerMeta
	require.NotNil(t, meta)
	require.Equal(t, "p1", meta.HostID, "first client to see the phase owns it")
	require.Equal(t, start.Add(30*time.Second).UnixMilli(), meta.ExpectedEndTime)

	e.step(3)
	assert.Equal(t, 27, e.state().TimeLeft)

	e.stop("p1")
	e.clock.Advance(6 * time.Second)

	e.ctrls["p3"].recheck(e.ctx)
	b.recheck(e.ctx)

	taken := e.state().TimerMeta
	require.NotNil(t, taken)
	assert.Equal(t, "p3", taken.HostID)
	assert.Equal(t, meta.PhaseID, taken.PhaseID)
	assert.Equal(t, meta.ExpectedEndTime, taken.ExpectedEndTime)
	assert.False(t, b.View().IsTimerHost())

	e.step(1)
	g := e.state()
	assert.Equal(t, domain.PhaseVoting, g.Phase)
	assert.Equal(t, 20, g.TimeLeft, "countdown resumes from the deadline")
}

func TestController_TimerCreationRaceConvergesOnOneHost(t *testing.T) {
	e := newEnv(t, []string{"p1", "p2"}, domain.GameState{Phase: domain.PhaseSubmission, RoundNumber: 1, TotalRounds: 3})
	fast := func(cfg *Config) {
		cfg.Timings = DefaultTimings()
		cfg.Timings.TickInterval = time.Millisecond
	}
	a := e.start("p1", fast)
	b := e.start("p2", fast)

	first := e.state().TimerMeta
	require.NotNil(t, first)
	require.Equal(t, "p1", first.HostID)

	// p2 also read a nil meta and its write lands second
	second := b.coord.Create(b.cfg.Timings.PhaseDuration(domain.PhaseSubmission), domain.PhaseSubmission, 1)
	require.NoError(t, e.mem.Write(e.ctx, b.field("timerMeta"), second.Fields()))

	stored := e.state().TimerMeta
	require.NotNil(t, stored)
	assert.Equal(t, "p2", stored.HostID)
	assert.NotEqual(t, first.PhaseID, stored.PhaseID)

	a.hostLoopRun(first.PhaseID)
	a.mu.Lock()
	assert.Empty(t, a.hostLoop, "losing client stops its host loop")
	a.mu.Unlock()

	e.clock.Advance(time.Second)
	assert.True(t, b.tick(e.ctx, second.PhaseID))
	assert.Equal(t, 59, e.state().TimeLeft)
	assert.Equal(t, "p2", e.state().TimerMeta.HostID)
	assert.False(t, a.View().IsTimerHost())
	assert.True(t, b.View().IsTimerHost())
}

func TestController_TickIgnoresStaleSnapshot(t *testing.T) {
	e := newEnv(t, []string{"p1", "p2"}, domain.GameState{Phase: domain.PhaseVoting, RoundNumber: 1, TotalRounds: 3})
	a := e.start("p1")
	old := a.game()
	require.NotNil(t, old)
	require.NotEmpty(t, old.PhaseID())

	require.NoError(t, a.EndGame(e.ctx))

	// the host loop still holds the snapshot from before the phase ended
	a.mu.Lock()
	a.snap.game = old
	a.mu.Unlock()

	e.clock.Advance(time.Second)
	assert.False(t, a.tick(e.ctx, old.PhaseID()))
	g := e.state()
	assert.Equal(t, domain.PhaseGameOver, g.Phase)
	assert.Nil(t, g.TimerMeta, "no partial meta written after the phase ended")
}

func TestController_SubmitCardTwiceKeepsLast(t *testing.T) {
	e := newEnv(t, []string{"p1", "p2"}, domain.GameState{Phase: domain.PhaseSubmission, RoundNumber: 1, TotalRounds: 3})
	a := e.start("p1")

	hand := a.View().Hand
	require.Len(t, hand, domain.HandSize)
	require.NoError(t, a.SubmitCard(e.ctx, hand[0].ID))
	require.NoError(t, a.SubmitCard(e.ctx, hand[1].ID))

	g := e.state()
	require.Len(t, g.Submissions, 1)
	assert.Equal(t, hand[1].ID, g.Submissions["p1"].CardID)
	assert.Equal(t, hand[1].Filename, g.Submissions["p1"].CardName)
	assert.Equal(t, e.clock.Now().UnixMilli(), g.Submissions["p1"].SubmittedAt)

	assert.ErrorIs(t, a.SubmitCard(e.ctx, "meme_150"), domain.ErrCardNotInHand)
}

func TestController_ActionPreconditions(t *testing.T) {
	game := domain.GameState{
		Phase:       domain.PhaseVoting,
		RoundNumber: 1,
		TotalRounds: 3,
		Submissions: map[string]domain.Submission{"p1": {CardID: "meme_001"}, "p2": {CardID: "meme_008"}},
	}
	e := newEnv(t, []string{"p1", "p2", "p3"}, game)
	a, b := e.start("p1"), e.start("p2")
	ctx := e.ctx

	assert.ErrorIs(t, a.Vote(ctx, "p1"), domain.ErrCannotVoteSelf)
	assert.ErrorIs(t, a.Vote(ctx, "p3"), domain.ErrInvalidTargetID)
	assert.ErrorIs(t, a.SubmitCard(ctx, a.View().Hand[0].ID), domain.ErrInvalidPhase)
	assert.Empty(t, e.state().Votes)

	require.NoError(t, a.Abstain(ctx))
	assert.True(t, a.View().HasAbstained())
	require.NoError(t, a.Vote(ctx, "p2"))
	assert.False(t, a.View().HasAbstained(), "a vote withdraws the abstention")
	assert.ErrorIs(t, a.Abstain(ctx), domain.ErrAlreadyVoted)

	g := e.state()
	assert.Equal(t, map[string]string{"p1": "p2"}, g.Votes)
	assert.Equal(t, 1, domain.CountResponders(g.Votes, g.Abstentions))

	assert.ErrorIs(t, b.StartRound(ctx), domain.ErrNotHost)
	assert.ErrorIs(t, b.EndGame(ctx), domain.ErrNotHost)
	assert.ErrorIs(t, b.ResetGameState(ctx), domain.ErrNotHost)
	assert.ErrorIs(t, a.StartRound(ctx), domain.ErrInvalidTransition)
	assert.ErrorIs(t, a.NextRound(ctx), domain.ErrInvalidPhase)
}

func TestController_EndAndResetGame(t *testing.T) {
	game := domain.GameState{
		Phase:       domain.PhaseResults,
		RoundNumber: 2,
		TotalRounds: 4,
		Scores:      map[string]int{"p1": 300, "p2": 100},
		Winner:      "p1",
	}
	e := newEnv(t, []string{"p1", "p2"}, game)
	a := e.start("p1")

	require.NoError(t, a.EndGame(e.ctx))
	g := e.state()
	assert.Equal(t, domain.PhaseGameOver, g.Phase)
	assert.Nil(t, g.TimerMeta)

	require.NoError(t, a.ResetGameState(e.ctx))
	g = e.state()
	assert.Equal(t, domain.PhaseWaiting, g.Phase)
	assert.Equal(t, 1, g.RoundNumber)
	assert.Equal(t, 4, g.TotalRounds)
	assert.Empty(t, g.Scores)
	assert.Empty(t, g.Winner)
	for _, p := range e.players() {
		assert.Zero(t, p.Score)
		assert.Equal(t, domain.StatusWaiting, p.Status)
	}

	require.NoError(t, a.StartRound(e.ctx))
	assert.Equal(t, domain.PhaseCountdown, e.state().Phase)
}

func TestController_NextRoundReportsExhaustedPool(t *testing.T) {
	game := domain.GameState{
		Phase:       domain.PhaseLeaderboard,
		RoundNumber: 1,
		TotalRounds: 3,
		Submissions: map[string]domain.Submission{
			"p1": {CardID: "meme_001"},
			"p2": {CardID: "meme_008"},
			"p3": {CardID: "meme_015"},
		},
	}
	e := newEnv(t, []string{"p1", "p2", "p3"}, game)
	e.catalog = e.catalog[:3*domain.HandSize+1]
	small := func(cfg *Config) { cfg.Catalog = e.catalog }
	a := e.start("p1", small)
	e.start("p2", small)

	require.NoError(t, a.NextRound(e.ctx))

	players := e.players()
	assert.Len(t, players["p1"].Cards, domain.HandSize)
	assert.Len(t, players["p2"].Cards, domain.HandSize-1)
	assert.Len(t, players["p3"].Cards, domain.HandSize-1)
	assert.Equal(t, 2, e.reporter.count(domain.EventCardPoolExhausted))
	assert.Equal(t, domain.PhaseCountdown, e.state().Phase, "a short hand does not block the round")
	// both running clients see the two short hands
	assert.Equal(t, 4, e.reporter.count(domain.EventHandSizeMismatch))
}

func TestController_ReportsEveryShortHandOnce(t *testing.T) {
	e := newEnv(t, []string{"p1", "p2"}, domain.GameState{Phase: domain.PhaseSubmission, RoundNumber: 1, TotalRounds: 3})
	e.start("p1")
	full := e.players()["p2"].Cards
	require.Len(t, full, domain.HandSize)
	setHand := func(hand []domain.MemeCard) {
		require.NoError(t, e.mem.Write(e.ctx, domain.HandPath(code, "p2"), hand))
	}

	setHand(full[:domain.HandSize-1])
	assert.Equal(t, 1, e.reporter.count(domain.EventHandSizeMismatch), "another player's short hand is reported")

	require.NoError(t, e.mem.Write(e.ctx, domain.PlayerField(code, "p2", "status"), domain.StatusSubmitted))
	assert.Equal(t, 1, e.reporter.count(domain.EventHandSizeMismatch), "same hand is not reported twice")

	setHand(full[:domain.HandSize-2])
	assert.Equal(t, 2, e.reporter.count(domain.EventHandSizeMismatch))

	setHand(full)
	setHand(full[:domain.HandSize-2])
	assert.Equal(t, 3, e.reporter.count(domain.EventHandSizeMismatch), "a hand that was refilled warns again")
}

type fakeBots struct {
	mu          sync.Mutex
	submissions int
	votes       int
}

func (f *fakeBots) ProcessSubmissions(context.Context, string, []domain.Player, string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submissions++
	return nil
}

func (f *fakeBots) ProcessVotes(context.Context, string, []domain.Player, map[string]domain.Submission, string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.votes++
	return nil
}

func TestController_BotHooksOncePerPhase(t *testing.T) {
	e := newEnv(t, []string{"p1", "ai1"}, domain.GameState{Phase: domain.PhaseSubmission, RoundNumber: 1, TotalRounds: 3})
	bots := &fakeBots{}
	a := e.start("p1", func(cfg *Config) { cfg.Bots = bots })
	other := e.start("ai1", func(cfg *Config) { cfg.Bots = bots })

	require.True(t, a.View().IsTimerHost())
	e.step(5)
	require.NoError(t, a.SubmitCard(e.ctx, a.View().Hand[0].ID))
	e.runUntil(domain.PhaseVoting, 60)
	e.step(3)

	a.Close()
	other.Close()
	bots.mu.Lock()
	defer bots.mu.Unlock()
	assert.Equal(t, 1, bots.submissions)
	assert.Equal(t, 1, bots.votes)
}

func TestController_AISeatReportsStallOnce(t *testing.T) {
	stale := newFakeClock().Now().Add(-10 * time.Second).UnixMilli()
	game := domain.GameState{
		Phase:       domain.PhaseSubmission,
		RoundNumber: 1,
		TotalRounds: 3,
		TimerMeta: &domain.TimerMeta{
			HostID:          "p1",
			PhaseID:         "submission_1_x",
			ExpectedEndTime: stale + 60_000,
			LastHeartbeat:   stale,
		},
	}
	e := newEnv(t, []string{"p1", "ai1"}, game)
	e.clock.Advance(time.Minute)

	bot := e.start("ai1")
	bot.recheck(e.ctx)

	assert.Equal(t, 1, e.reporter.count(domain.EventTimerStalled))
	assert.Equal(t, "p1", e.state().TimerMeta.HostID, "AI seats never take the timer")
	assert.True(t, bot.View().Stalled())
	assert.False(t, bot.View().IsOnline("p1"))
}

func TestController_PresenceHeartbeat(t *testing.T) {
	e := newEnv(t, []string{"p1", "p2"}, domain.GameState{Phase: domain.PhaseWaiting, RoundNumber: 1, TotalRounds: 3})
	e.clock.Advance(time.Minute)
	a := e.start("p1")

	assert.Equal(t, e.clock.Now().UnixMilli(), e.players()["p1"].LastSeen)
	assert.True(t, a.View().IsOnline("p1"))
	assert.False(t, a.View().IsOnline("p2"))

	e.clock.Advance(45 * time.Second)
	assert.False(t, a.View().IsOnline("p1"))
	a.touchPresence(e.ctx)
	assert.True(t, a.View().IsOnline("p1"))
}

func TestNewController_Validation(t *testing.T) {
	_, err := NewController(Config{LobbyCode: code, UserID: "p1"})
	assert.Error(t, err)
	_, err = NewController(Config{Store: store.NewMemory(), UserID: "p1"})
	assert.ErrorIs(t, err, domain.ErrLobbyNotFound)
	_, err = NewController(Config{Store: store.NewMemory(), LobbyCode: code})
	assert.ErrorIs(t, err, domain.ErrNotAuthenticated)
}
