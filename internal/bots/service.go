// Package bots plays on behalf of AI seats by writing straight into the store.
package bots

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sort"
	"sync"
	"time"

	"memematch/internal/domain"
	"memematch/internal/store"
)

// Latency bounds per difficulty; harder bots answer faster
var latencies = map[domain.Difficulty][2]time.Duration{
	domain.DifficultyEasy:   {4 * time.Second, 9 * time.Second},
	domain.DifficultyMedium: {2 * time.Second, 6 * time.Second},
	domain.DifficultyHard:   {1 * time.Second, 4 * time.Second},
}

// Service writes submissions and votes for AI players
type Service struct {
	store  store.Store
	logger *slog.Logger

	mu    sync.Mutex
	rng   *rand.Rand
	sleep func(ctx context.Context, d time.Duration) error
	scale float64
}

// NewService creates a bot service writing to s
func NewService(s store.Store, logger *slog.Logger) *Service {
	return &Service{
		store:  s,
		logger: logger,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
		sleep:  sleepCtx,
		scale:  1,
	}
}

// WithLatencyScale multiplies every artificial delay; 0 disables them
func (s *Service) WithLatencyScale(scale float64) *Service {
	s.scale = scale
	return s
}

// round identifies the phase window a bot is allowed to write into
type round struct {
	phase  domain.Phase
	number int
}

// ProcessSubmissions plays one card for every AI player that has not submitted yet.
// Nothing is written unless the lobby is in the submission phase, and a bot whose
// latency outlives that phase or round drops its card.
func (s *Service) ProcessSubmissions(ctx context.Context, lobbyCode string, players []domain.Player, situation string) error {
	window, open, err := s.openWindow(ctx, lobbyCode, domain.PhaseSubmission)
	if err != nil || !open {
		return err
	}

	var wg sync.WaitGroup
	errs := make([]error, len(players))

	for i, p := range players {
		if !p.IsAI || len(p.Cards) == 0 {
			continue
		}
		wg.Add(1)
		go func(i int, p domain.Player) {
			defer wg.Done()
			errs[i] = s.submit(ctx, lobbyCode, window, p, situation)
		}(i, p)
	}
	wg.Wait()
	return errors.Join(errs...)
}

// ProcessVotes casts a vote for every AI player that has not voted yet, under the
// same phase window rule as ProcessSubmissions
func (s *Service) ProcessVotes(ctx context.Context, lobbyCode string, players []domain.Player, submissions map[string]domain.Submission, situation string) error {
	window, open, err := s.openWindow(ctx, lobbyCode, domain.PhaseVoting)
	if err != nil || !open {
		return err
	}

	var wg sync.WaitGroup
	errs := make([]error, len(players))

	for i, p := range players {
		if !p.IsAI {
			continue
		}
		wg.Add(1)
		go func(i int, p domain.Player) {
			defer wg.Done()
			errs[i] = s.vote(ctx, lobbyCode, window, p, submissions)
		}(i, p)
	}
	wg.Wait()
	return errors.Join(errs...)
}

func (s *Service) submit(ctx context.Context, lobbyCode string, window round, p domain.Player, situation string) error {
	if err := s.sleep(ctx, s.latency(p.AIDifficulty)); err != nil {
		return err
	}
	if ok, err := s.stillOpen(ctx, lobbyCode, window, p.ID); err != nil || !ok {
		return err
	}

	done, err := s.exists(ctx, domain.GameStateField(lobbyCode, "submissions", p.ID))
	if err != nil || done {
		return err
	}

	card := p.Cards[s.intn(len(p.Cards))]
	err = s.store.Update(ctx, map[string]any{
		domain.GameStateField(lobbyCode, "submissions", p.ID): map[string]any{
			"cardId":      card.ID,
			"cardName":    card.Filename,
			"submittedAt": store.ServerTimestamp,
		},
		domain.PlayerField(lobbyCode, p.ID, "status"): domain.StatusSubmitted,
	})
	if err != nil {
		return fmt.Errorf("bot %s submit: %w", p.ID, err)
	}

	s.logger.Debug("bot submitted", "lobby", lobbyCode, "playerID", p.ID, "card", card.ID, "situation", situation)
	return nil
}

func (s *Service) vote(ctx context.Context, lobbyCode string, window round, p domain.Player, submissions map[string]domain.Submission) error {
	candidates := make([]string, 0, len(submissions))
	for id := range submissions {
		if id != p.ID {
			candidates = append(candidates, id)
		}
	}
	if len(candidates) == 0 {
		return nil
	}
	sort.Strings(candidates)

	if err := s.sleep(ctx, s.latency(p.AIDifficulty)); err != nil {
		return err
	}
	if ok, err := s.stillOpen(ctx, lobbyCode, window, p.ID); err != nil || !ok {
		return err
	}

	voted, err := s.exists(ctx, domain.GameStateField(lobbyCode, "votes", p.ID))
	if err != nil || voted {
		return err
	}

	target := candidates[s.intn(len(candidates))]
	err = s.store.Update(ctx, map[string]any{
		domain.GameStateField(lobbyCode, "votes", p.ID):       target,
		domain.GameStateField(lobbyCode, "abstentions", p.ID): nil,
	})
	if err != nil {
		return fmt.Errorf("bot %s vote: %w", p.ID, err)
	}

	s.logger.Debug("bot voted", "lobby", lobbyCode, "playerID", p.ID, "target", target)
	return nil
}

// openWindow reads the current phase and round; open is false unless the phase is want
func (s *Service) openWindow(ctx context.Context, lobbyCode string, want domain.Phase) (round, bool, error) {
	current, err := s.current(ctx, lobbyCode)
	if err != nil {
		return round{}, false, err
	}
	if current.phase != want {
		s.logger.Debug("bots skipped, phase closed", "lobby", lobbyCode, "want", want, "phase", current.phase)
		return current, false, nil
	}
	return current, true, nil
}

// stillOpen re-reads the phase and round after a bot's latency
func (s *Service) stillOpen(ctx context.Context, lobbyCode string, window round, playerID string) (bool, error) {
	current, err := s.current(ctx, lobbyCode)
	if err != nil {
		return false, err
	}
	if current != window {
		s.logger.Debug("bot dropped late move", "lobby", lobbyCode, "playerID", playerID,
			"phase", current.phase, "round", current.number, "expectedRound", window.number)
		return false, nil
	}
	return true, nil
}

func (s *Service) current(ctx context.Context, lobbyCode string) (round, error) {
	snap, err := s.store.Read(ctx, domain.GameStatePath(lobbyCode))
	if err != nil {
		return round{}, fmt.Errorf("read game state: %w", err)
	}
	var g struct {
		Phase       domain.Phase `json:"phase"`
		RoundNumber int          `json:"roundNumber"`
	}
	if err := snap.Decode(&g); err != nil {
		return round{}, fmt.Errorf("decode game state: %w", err)
	}
	return round{phase: g.Phase, number: g.RoundNumber}, nil
}

func (s *Service) exists(ctx context.Context, path string) (bool, error) {
	snap, err := s.store.Read(ctx, path)
	if err != nil {
		return false, err
	}
	return snap.Exists(), nil
}

func (s *Service) latency(d domain.Difficulty) time.Duration {
	bounds, ok := latencies[d]
	if !ok {
		bounds = latencies[domain.DifficultyMedium]
	}
	spread := int64(bounds[1] - bounds[0])
	base := bounds[0] + time.Duration(s.int63n(spread+1))
	return time.Duration(float64(base) * s.scale)
}

func (s *Service) intn(n int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Intn(n)
}

func (s *Service) int63n(n int64) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Int63n(n)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
