package domain

// GameState is the shared document driving a lobby's game
type GameState struct {
	Phase            Phase                 `json:"phase"`
	TimeLeft         int                   `json:"timeLeft"`
	CurrentSituation string                `json:"currentSituation,omitempty"`
	Submissions      map[string]Submission `json:"submissions,omitempty"`
	Votes            map[string]string     `json:"votes,omitempty"`
	Abstentions      map[string]bool       `json:"abstentions,omitempty"`
	RoundNumber      int                   `json:"roundNumber"`
	TotalRounds      int                   `json:"totalRounds"`
	Scores           map[string]int        `json:"scores,omitempty"`
	PlayerStreaks    map[string]Streak     `json:"playerStreaks,omitempty"`
	Winner           string                `json:"winner,omitempty"`
	PhaseStartTime   int64                 `json:"phaseStartTime,omitempty"`
	TimerMeta        *TimerMeta            `json:"timerMeta,omitempty"`
}

// NewGameState returns the state written when a lobby leaves the waiting room
func NewGameState(totalRounds int) GameState {
	return GameState{
		Phase:       PhaseTransition,
		RoundNumber: 1,
		TotalRounds: totalRounds,
	}
}

// PhaseID returns the id of the current phase instance, or empty
func (g GameState) PhaseID() string {
	if g.TimerMeta == nil {
		return ""
	}
	return g.TimerMeta.PhaseID
}

// HasSubmitted reports whether the player has a submission this round
func (g GameState) HasSubmitted(playerID string) bool {
	_, ok := g.Submissions[playerID]
	return ok
}

// HasVoted reports whether the player has voted this round
func (g GameState) HasVoted(playerID string) bool {
	_, ok := g.Votes[playerID]
	return ok
}

// HasAbstained reports whether the player declined to vote this round
func (g GameState) HasAbstained(playerID string) bool {
	return g.Abstentions[playerID]
}

// AllSubmitted reports whether every player has a submission
func (g GameState) AllSubmitted(players map[string]Player) bool {
	if len(players) == 0 {
		return false
	}
	for id := range players {
		if !g.HasSubmitted(id) {
			return false
		}
	}
	return true
}

// AllResponded reports whether votes plus abstentions cover the player count
func (g GameState) AllResponded(players map[string]Player) bool {
	if len(players) == 0 {
		return false
	}
	return CountResponders(g.Votes, g.Abstentions) >= len(players)
}

// TotalScore sums the cumulative scores
func (g GameState) TotalScore() int {
	total := 0
	for _, s := range g.Scores {
		total += s
	}
	return total
}
