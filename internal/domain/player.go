package domain

import "time"

// HandSize is the number of cards every player holds after a refill
const HandSize = 7

// Player represents a lobby member as stored under lobbies/{code}/players/{id}
type Player struct {
	ID              string       `json:"id"`
	Name            string       `json:"name"`
	Status          PlayerStatus `json:"status"`
	Cards           []MemeCard   `json:"cards,omitempty"`
	Score           int          `json:"score"`
	IsAI            bool         `json:"isAI,omitempty"`
	AIPersonalityID string       `json:"aiPersonalityId,omitempty"`
	AIDifficulty    Difficulty   `json:"aiDifficulty,omitempty"`
	LastSeen        int64        `json:"lastSeen,omitempty"`
	IsHost          bool         `json:"isHost,omitempty"`
	JoinedAt        int64        `json:"joinedAt,omitempty"`
}

// NewPlayer creates a new human player with the given ID and name
func NewPlayer(id, name string, now time.Time) Player {
	return Player{
		ID:       id,
		Name:     name,
		Status:   StatusWaiting,
		LastSeen: now.UnixMilli(),
		JoinedAt: now.UnixMilli(),
	}
}

// NewAIPlayer creates a bot-controlled player
func NewAIPlayer(id, name, personalityID string, difficulty Difficulty, now time.Time) Player {
	p := NewPlayer(id, name, now)
	p.IsAI = true
	p.AIPersonalityID = personalityID
	p.AIDifficulty = difficulty
	return p
}

// IsOnline reports whether the player's heartbeat is within window of now.
// AI players are never considered online; they have no client.
func (p Player) IsOnline(now time.Time, window time.Duration) bool {
	if p.IsAI || p.LastSeen == 0 {
		return false
	}
	return now.Sub(time.UnixMilli(p.LastSeen)) < window
}

// HasCard reports whether the card is in the player's hand
func (p Player) HasCard(cardID string) (MemeCard, bool) {
	for _, c := range p.Cards {
		if c.ID == cardID {
			return c, true
		}
	}
	return MemeCard{}, false
}

// CardIDs returns the ids of the cards currently held
func (p Player) CardIDs() []string {
	ids := make([]string, 0, len(p.Cards))
	for _, c := range p.Cards {
		ids = append(ids, c.ID)
	}
	return ids
}

// HeldCardIDs collects every card id held by any of the players
func HeldCardIDs(players map[string]Player) []string {
	ids := make([]string, 0, len(players)*HandSize)
	for _, p := range players {
		ids = append(ids, p.CardIDs()...)
	}
	return ids
}

// CountHumans returns how many non-AI players are in the map, and how many of them are online
func CountHumans(players map[string]Player, now time.Time, window time.Duration) (total, online int) {
	for _, p := range players {
		if p.IsAI {
			continue
		}
		total++
		if p.IsOnline(now, window) {
			online++
		}
	}
	return total, online
}
