package domain

// VoteResult represents the voting results for display
type VoteResult struct {
	PlayerID  string   `json:"playerId"`
	Name      string   `json:"name"`
	CardID    string   `json:"cardId"`
	VoteCount int      `json:"voteCount"`
	VotedBy   []string `json:"votedBy"`
	IsWinner  bool     `json:"isWinner"`
}

// Streak is the per-player bookkeeping the scoring engine carries across rounds
type Streak struct {
	Current      int `json:"current"`
	Best         int `json:"best"`
	LastWonRound int `json:"lastWonRound,omitempty"`
}

// CountResponders returns how many distinct players either voted or abstained
func CountResponders(votes map[string]string, abstentions map[string]bool) int {
	seen := make(map[string]struct{}, len(votes)+len(abstentions))
	for voter := range votes {
		seen[voter] = struct{}{}
	}
	for id, ok := range abstentions {
		if ok {
			seen[id] = struct{}{}
		}
	}
	return len(seen)
}
