package app

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"memematch/internal/cards"
	"memematch/internal/domain"
	"memematch/internal/scoring"
	"memematch/internal/store"
)

// expire moves the game past phase once its timer ran out or it completed early.
// Nothing is written unless the store still shows the same phase instance.
func (c *Controller) expire(ctx context.Context, phase domain.Phase, phaseID string) error {
	g, err := c.readGame(ctx)
	if err != nil {
		return err
	}
	if g == nil || g.Phase != phase || g.PhaseID() != phaseID {
		return nil
	}

	switch phase {
	case domain.PhaseCountdown:
		return c.enterSubmission(ctx, g)
	case domain.PhaseSubmission:
		return c.enterVoting(ctx, g)
	case domain.PhaseVoting:
		players, err := c.readPlayers(ctx)
		if err != nil {
			return err
		}
		return c.enterResults(ctx, g, players)
	case domain.PhaseResults:
		return c.commit(ctx, g, domain.PhaseLeaderboard, c.phaseUpdate(domain.PhaseLeaderboard, g.RoundNumber))
	case domain.PhaseLeaderboard:
		players, err := c.readPlayers(ctx)
		if err != nil {
			return err
		}
		return c.nextRound(ctx, g, players)
	}
	return fmt.Errorf("%w: %s has no timer", domain.ErrInvalidTransition, phase)
}

func (c *Controller) startCountdown(ctx context.Context, g *domain.GameState) error {
	return c.commit(ctx, g, domain.PhaseCountdown, c.phaseUpdate(domain.PhaseCountdown, g.RoundNumber))
}

func (c *Controller) enterSubmission(ctx context.Context, g *domain.GameState) error {
	u := c.phaseUpdate(domain.PhaseSubmission, g.RoundNumber)
	if g.CurrentSituation == "" {
		u[c.field("currentSituation")] = c.cfg.Situations.Next()
	}
	return c.commit(ctx, g, domain.PhaseSubmission, u)
}

func (c *Controller) enterVoting(ctx context.Context, g *domain.GameState) error {
	u := c.phaseUpdate(domain.PhaseVoting, g.RoundNumber)
	u[c.field("votes")] = nil
	u[c.field("abstentions")] = nil
	return c.commit(ctx, g, domain.PhaseVoting, u)
}

func (c *Controller) enterResults(ctx context.Context, g *domain.GameState, players map[string]domain.Player) error {
	res := c.cfg.Scorer.Score(scoring.Input{
		Players:     players,
		Submissions: g.Submissions,
		Votes:       g.Votes,
		RoundNumber: g.RoundNumber,
		Scores:      g.Scores,
		Streaks:     g.PlayerStreaks,
	})

	u := c.phaseUpdate(domain.PhaseResults, g.RoundNumber)
	u[c.field("scores")] = res.Scores
	u[c.field("playerStreaks")] = res.Streaks
	u[c.field("winner")] = nilIfEmpty(res.Winner)
	for id := range players {
		u[domain.PlayerField(c.cfg.LobbyCode, id, "score")] = res.Scores[id]
	}
	if res.Winner != "" {
		u[domain.PlayerField(c.cfg.LobbyCode, res.Winner, "status")] = domain.StatusWinner
	}

	if err := c.commit(ctx, g, domain.PhaseResults, u); err != nil {
		return err
	}
	c.cfg.Logger.Info("round scored", "round", g.RoundNumber, "winner", res.Winner, "votes", res.VoteCounts[res.Winner])
	return nil
}

// nextRound either ends the game or refills every hand and opens the next round.
// Hands, statuses and round fields go out in one update so no drawn card can be
// handed to two players.
func (c *Controller) nextRound(ctx context.Context, g *domain.GameState, players map[string]domain.Player) error {
	if g.RoundNumber >= g.TotalRounds {
		return c.commit(ctx, g, domain.PhaseGameOver, c.phaseUpdate(domain.PhaseGameOver, g.RoundNumber))
	}

	next := g.RoundNumber + 1
	u := c.phaseUpdate(domain.PhaseCountdown, next)

	alloc := cards.NewAllocator(c.cfg.Catalog, domain.HeldCardIDs(players), nil)
	for _, id := range sortedIDs(players) {
		p := players[id]
		hand := make([]domain.MemeCard, 0, domain.HandSize)
		played := ""
		if sub, ok := g.Submissions[id]; ok {
			played = sub.CardID
		}
		for _, card := range p.Cards {
			if card.ID != played {
				hand = append(hand, card)
			}
		}

		if need := domain.HandSize - len(hand); need > 0 {
			drawn, err := alloc.Draw(need)
			switch {
			case errors.Is(err, cards.ErrPoolExhausted):
				c.report(domain.EventCardPoolExhausted, err, "playerID", id, "shortfall", need)
			case err != nil:
				return err
			default:
				hand = append(hand, drawn...)
			}
		}

		u[domain.HandPath(c.cfg.LobbyCode, id)] = hand
		u[domain.PlayerField(c.cfg.LobbyCode, id, "status")] = domain.StatusWaiting
	}

	u[c.field("roundNumber")] = next
	u[c.field("currentSituation")] = c.cfg.Situations.Next(g.CurrentSituation)
	u[c.field("submissions")] = nil
	u[c.field("votes")] = nil
	u[c.field("abstentions")] = nil
	u[c.field("winner")] = nil

	return c.commit(ctx, g, domain.PhaseCountdown, u)
}

// phaseUpdate builds the fields every transition writes
func (c *Controller) phaseUpdate(to domain.Phase, round int) map[string]any {
	u := map[string]any{
		c.field("phase"):          to,
		c.field("timeLeft"):       c.cfg.Timings.Seconds(to),
		c.field("phaseStartTime"): store.ServerTimestamp,
		c.field("timerMeta"):      nil,
	}
	// AI seats never own a timer; a human client creates one on its next snapshot.
	if to.IsTimed() && !c.actingAsAI(c.players()) {
		meta := c.coord.Create(c.cfg.Timings.PhaseDuration(to), to, round)
		u[c.field("timerMeta")] = meta.Fields()
	}
	return u
}

func (c *Controller) commit(ctx context.Context, g *domain.GameState, to domain.Phase, u map[string]any) error {
	if !g.Phase.CanTransitionTo(to) {
		return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, g.Phase, to)
	}
	if err := c.cfg.Store.Update(ctx, u); err != nil {
		return fmt.Errorf("transition %s -> %s: %w", g.Phase, to, err)
	}
	c.cfg.Logger.Info("phase changed", "from", g.Phase, "to", to, "round", g.RoundNumber)
	return nil
}

func sortedIDs(players map[string]domain.Player) []string {
	ids := make([]string, 0, len(players))
	for id := range players {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func nilIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
