package domain

// LobbyStatus tracks whether a lobby is still in its waiting room
type LobbyStatus string

const (
	LobbyOpen    LobbyStatus = "open"
	LobbyPlaying LobbyStatus = "playing"
)

// LobbySettings holds configurable game parameters
type LobbySettings struct {
	MinPlayers  int `json:"minPlayers"`
	MaxPlayers  int `json:"maxPlayers"`
	TotalRounds int `json:"totalRounds"`
}

// DefaultLobbySettings returns the default lobby settings
func DefaultLobbySettings() LobbySettings {
	return LobbySettings{
		MinPlayers:  2,
		MaxPlayers:  8,
		TotalRounds: 5,
	}
}

// Lobby is the metadata stored at lobbies/{code}/meta
type Lobby struct {
	Code      string        `json:"code"`
	HostID    string        `json:"hostId"`
	Status    LobbyStatus   `json:"status"`
	Settings  LobbySettings `json:"settings"`
	CreatedAt int64         `json:"createdAt"`
}
