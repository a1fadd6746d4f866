package app

import (
	"context"
	"fmt"

	"memematch/internal/domain"
	"memematch/internal/store"
)

// SubmitCard plays a card from the acting player's hand. A second call in the
// same round replaces the first submission.
func (c *Controller) SubmitCard(ctx context.Context, cardID string) error {
	v := c.View()
	if err := v.requirePlayer(); err != nil {
		return err
	}
	if v.Phase() != domain.PhaseSubmission {
		return fmt.Errorf("%w: cannot submit during %s", domain.ErrInvalidPhase, v.Phase())
	}
	card, ok := v.findCard(cardID)
	if !ok {
		return domain.ErrCardNotInHand
	}

	return c.write(ctx, "submit card", map[string]any{
		c.field("submissions", c.cfg.UserID): map[string]any{
			"cardId":      card.ID,
			"cardName":    card.Filename,
			"submittedAt": store.ServerTimestamp,
		},
		domain.PlayerField(c.cfg.LobbyCode, c.cfg.UserID, "status"): domain.StatusSubmitted,
	})
}

// Vote records the acting player's vote and withdraws any abstention in the same write
func (c *Controller) Vote(ctx context.Context, targetID string) error {
	v := c.View()
	if err := v.requirePlayer(); err != nil {
		return err
	}
	if v.Phase() != domain.PhaseVoting {
		return fmt.Errorf("%w: cannot vote during %s", domain.ErrInvalidPhase, v.Phase())
	}
	if targetID == c.cfg.UserID {
		return domain.ErrCannotVoteSelf
	}
	if !v.Game.HasSubmitted(targetID) {
		return domain.ErrInvalidTargetID
	}

	return c.write(ctx, "vote", map[string]any{
		c.field("votes", c.cfg.UserID):       targetID,
		c.field("abstentions", c.cfg.UserID): nil,
	})
}

// Abstain declines to vote this round
func (c *Controller) Abstain(ctx context.Context) error {
	v := c.View()
	if err := v.requirePlayer(); err != nil {
		return err
	}
	if v.Phase() != domain.PhaseVoting {
		return fmt.Errorf("%w: cannot abstain during %s", domain.ErrInvalidPhase, v.Phase())
	}
	if v.HasVoted() {
		return domain.ErrAlreadyVoted
	}

	return c.write(ctx, "abstain", map[string]any{
		c.field("abstentions", c.cfg.UserID): true,
	})
}

// StartRound begins the current round from the waiting room (lobby host only)
func (c *Controller) StartRound(ctx context.Context) error {
	if !c.View().IsHost() {
		return domain.ErrNotHost
	}
	g, err := c.readGame(ctx)
	if err != nil {
		return c.failed("start round", err)
	}
	if g == nil {
		return domain.ErrGameNotStarted
	}
	if g.Phase != domain.PhaseWaiting && g.Phase != domain.PhaseTransition {
		return fmt.Errorf("%w: cannot start a round during %s", domain.ErrInvalidTransition, g.Phase)
	}
	if err := c.startCountdown(ctx, g); err != nil {
		return c.failed("start round", err)
	}
	return nil
}

// CompleteGameTransition leaves the transition screen. Any client may call it;
// only the first call in the transition phase has an effect.
func (c *Controller) CompleteGameTransition(ctx context.Context) error {
	g, err := c.readGame(ctx)
	if err != nil {
		return c.failed("complete transition", err)
	}
	if g == nil || g.Phase != domain.PhaseTransition {
		return nil
	}
	if err := c.startCountdown(ctx, g); err != nil {
		return c.failed("complete transition", err)
	}
	return nil
}

// NextRound skips the rest of the leaderboard (timer host or lobby host)
func (c *Controller) NextRound(ctx context.Context) error {
	v := c.View()
	if !v.IsHost() && !v.IsTimerHost() {
		return domain.ErrNotHost
	}
	g, err := c.readGame(ctx)
	if err != nil {
		return c.failed("next round", err)
	}
	if g == nil {
		return domain.ErrGameNotStarted
	}
	if g.Phase != domain.PhaseLeaderboard {
		return fmt.Errorf("%w: next round from %s", domain.ErrInvalidPhase, g.Phase)
	}
	players, err := c.readPlayers(ctx)
	if err != nil {
		return c.failed("next round", err)
	}
	if err := c.nextRound(ctx, g, players); err != nil {
		return c.failed("next round", err)
	}
	return nil
}

// EndGame jumps straight to game_over (lobby host only)
func (c *Controller) EndGame(ctx context.Context) error {
	if !c.View().IsHost() {
		return domain.ErrNotHost
	}
	err := c.write(ctx, "end game", map[string]any{
		c.field("phase"):          domain.PhaseGameOver,
		c.field("timeLeft"):       0,
		c.field("phaseStartTime"): store.ServerTimestamp,
		c.field("timerMeta"):      nil,
	})
	if err == nil {
		c.cfg.Logger.Info("game ended by host")
	}
	return err
}

// ResetGameState returns the lobby to the waiting room with scores cleared (lobby host only)
func (c *Controller) ResetGameState(ctx context.Context) error {
	v := c.View()
	if !v.IsHost() {
		return domain.ErrNotHost
	}
	total := domain.DefaultLobbySettings().TotalRounds
	if v.Game != nil && v.Game.TotalRounds > 0 {
		total = v.Game.TotalRounds
	}

	fresh := domain.GameState{
		Phase:       domain.PhaseWaiting,
		RoundNumber: 1,
		TotalRounds: total,
	}
	u := map[string]any{domain.GameStatePath(c.cfg.LobbyCode): fresh}
	for id := range v.Players {
		u[domain.PlayerField(c.cfg.LobbyCode, id, "score")] = 0
		u[domain.PlayerField(c.cfg.LobbyCode, id, "status")] = domain.StatusWaiting
	}
	c.guard.reset()
	return c.write(ctx, "reset game", u)
}

func (c *Controller) write(ctx context.Context, action string, u map[string]any) error {
	if err := c.cfg.Store.Update(ctx, u); err != nil {
		return c.failed(action, err)
	}
	return nil
}

// failed reports an action error and hands it back to the caller
func (c *Controller) failed(action string, err error) error {
	c.report(domain.EventStoreWriteFailed, err, "action", action)
	return fmt.Errorf("%s: %w", action, err)
}
