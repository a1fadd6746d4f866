package domain

// Phase represents the current stage of a lobby's game
type Phase string

const (
	PhaseWaiting     Phase = "waiting"     // Lobby assembled, game not started
	PhaseTransition  Phase = "transition"  // Waiting room handing over to the game screen
	PhaseCountdown   Phase = "countdown"   // Short pause before cards can be played
	PhaseSubmission  Phase = "submission"  // Players pick a card for the situation
	PhaseVoting      Phase = "voting"      // Everyone votes for the best submission
	PhaseResults     Phase = "results"     // Votes and round winner revealed
	PhaseLeaderboard Phase = "leaderboard" // Cumulative scores shown
	PhaseGameOver    Phase = "game_over"   // Terminal until reset
)

// String returns the string representation of the phase
func (p Phase) String() string {
	return string(p)
}

// IsTimed reports whether the phase runs on a countdown owned by a timer host
func (p Phase) IsTimed() bool {
	switch p {
	case PhaseCountdown, PhaseSubmission, PhaseVoting, PhaseResults, PhaseLeaderboard:
		return true
	}
	return false
}

// IsActive reports whether a game is underway (cards are expected in hands)
func (p Phase) IsActive() bool {
	return p != PhaseWaiting && p != PhaseGameOver && p != ""
}

// CanTransitionTo checks if a transition from current phase to target phase is valid.
// EndGame and ResetGameState bypass this table.
func (p Phase) CanTransitionTo(target Phase) bool {
	validTransitions := map[Phase][]Phase{
		PhaseWaiting:     {PhaseTransition, PhaseCountdown},
		PhaseTransition:  {PhaseCountdown},
		PhaseCountdown:   {PhaseSubmission},
		PhaseSubmission:  {PhaseVoting},
		PhaseVoting:      {PhaseResults},
		PhaseResults:     {PhaseLeaderboard},
		PhaseLeaderboard: {PhaseCountdown, PhaseGameOver}, // Next round or final standings
		PhaseGameOver:    {PhaseWaiting},
	}

	allowed, ok := validTransitions[p]
	if !ok {
		return false
	}

	for _, phase := range allowed {
		if phase == target {
			return true
		}
	}
	return false
}

// AfterExpiry returns the phase that follows p when its timer runs out.
// Leaderboard depends on the round count, so it is resolved by the caller.
func (p Phase) AfterExpiry() (Phase, bool) {
	switch p {
	case PhaseCountdown:
		return PhaseSubmission, true
	case PhaseSubmission:
		return PhaseVoting, true
	case PhaseVoting:
		return PhaseResults, true
	case PhaseResults:
		return PhaseLeaderboard, true
	}
	return "", false
}
