package domain

// PlayerStatus represents a player's progress within a round
type PlayerStatus string

const (
	StatusWaiting   PlayerStatus = "waiting"
	StatusSubmitted PlayerStatus = "submitted"
	StatusWinner    PlayerStatus = "winner"
)

// String returns the string representation of the status
func (s PlayerStatus) String() string {
	return string(s)
}

// Difficulty is an AI player's skill setting
type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

// ParseDifficulty maps free text to a difficulty, defaulting to medium
func ParseDifficulty(s string) Difficulty {
	switch Difficulty(s) {
	case DifficultyEasy, DifficultyHard:
		return Difficulty(s)
	}
	return DifficultyMedium
}
