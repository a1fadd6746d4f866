package app

import (
	"time"

	"memematch/internal/domain"
	"memematch/internal/scoring"
	"memematch/internal/store"
)

// View is a read-only projection of the controller's last snapshots.
// Every derived flag is computed from these fields; nothing else is tracked.
type View struct {
	UserID     string
	Lobby      *domain.Lobby
	Game       *domain.GameState
	Players    map[string]domain.Player
	Hand       []domain.MemeCard
	Loading    bool
	Error      error
	Connection store.ConnState

	now            time.Time
	presenceWindow time.Duration
	heartbeat      time.Duration
}

// View returns the current projection. Maps and slices must not be modified.
func (c *Controller) View() View {
	c.mu.Lock()
	defer c.mu.Unlock()
	return View{
		UserID:         c.cfg.UserID,
		Lobby:          c.snap.lobby,
		Game:           c.snap.game,
		Players:        c.snap.players,
		Hand:           c.snap.hand,
		Loading:        !c.snap.gotGame || !c.snap.gotPlayers,
		Error:          c.snap.err,
		Connection:     c.snap.conn,
		now:            c.cfg.Clock.Now(),
		presenceWindow: c.cfg.Timings.PresenceWindow,
		heartbeat:      c.cfg.Timings.HeartbeatTimeout,
	}
}

// Phase returns the current phase, or empty before the game state exists
func (v View) Phase() domain.Phase {
	if v.Game == nil {
		return ""
	}
	return v.Game.Phase
}

func (v View) HasSubmitted() bool {
	return v.Game != nil && v.Game.HasSubmitted(v.UserID)
}

func (v View) HasVoted() bool {
	return v.Game != nil && v.Game.HasVoted(v.UserID)
}

func (v View) HasAbstained() bool {
	return v.Game != nil && v.Game.HasAbstained(v.UserID)
}

// CanVote reports whether the acting player may vote for playerID right now
func (v View) CanVote(playerID string) bool {
	if v.Phase() != domain.PhaseVoting || playerID == v.UserID || v.HasVoted() {
		return false
	}
	return v.Game.HasSubmitted(playerID)
}

// IsHost reports whether the acting player is the lobby host
func (v View) IsHost() bool {
	return v.Lobby != nil && v.Lobby.HostID == v.UserID
}

// IsTimerHost reports whether the acting player currently drives the phase timer
func (v View) IsTimerHost() bool {
	return v.Game != nil && v.Game.TimerMeta != nil && v.Game.TimerMeta.HostID == v.UserID
}

// IsOnline reports whether a human player's presence heartbeat is recent
func (v View) IsOnline(playerID string) bool {
	p, ok := v.Players[playerID]
	return ok && p.IsOnline(v.now, v.presenceWindow)
}

// Results ranks this round's submissions by votes
func (v View) Results() []domain.VoteResult {
	if v.Game == nil {
		return nil
	}
	return scoring.Tally(v.Players, v.Game.Submissions, v.Game.Votes, v.Game.Winner)
}

// Stalled reports whether the timer host is gone and no human is left to replace it
func (v View) Stalled() bool {
	if v.Game == nil || !v.Game.Phase.IsTimed() || v.Game.TimerMeta == nil {
		return false
	}
	if v.now.Sub(time.UnixMilli(v.Game.TimerMeta.LastHeartbeat)) <= v.heartbeat {
		return false
	}
	_, online := domain.CountHumans(v.Players, v.now, v.presenceWindow)
	return online == 0
}

func (v View) requirePlayer() error {
	if v.Game == nil {
		return domain.ErrGameNotStarted
	}
	if _, ok := v.Players[v.UserID]; !ok {
		return domain.ErrPlayerNotFound
	}
	return nil
}

func (v View) findCard(cardID string) (domain.MemeCard, bool) {
	for _, card := range v.Hand {
		if card.ID == cardID {
			return card, true
		}
	}
	if p, ok := v.Players[v.UserID]; ok {
		return p.HasCard(cardID)
	}
	return domain.MemeCard{}, false
}
