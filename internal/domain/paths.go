package domain

import "strings"

// LobbiesRoot is the store path under which every lobby lives
const LobbiesRoot = "lobbies"

// LobbyPath returns the root path of a lobby
func LobbyPath(code string) string {
	return LobbiesRoot + "/" + code
}

// LobbyMetaPath returns the path of the lobby metadata
func LobbyMetaPath(code string) string {
	return LobbyPath(code) + "/meta"
}

// GameStatePath returns the path of the lobby's game state
func GameStatePath(code string) string {
	return LobbyPath(code) + "/gameState"
}

// GameStateField returns the path of one game state field
func GameStateField(code string, field ...string) string {
	return GameStatePath(code) + "/" + strings.Join(field, "/")
}

// PlayersPath returns the path of the lobby's players
func PlayersPath(code string) string {
	return LobbyPath(code) + "/players"
}

// PlayerPath returns the path of one player
func PlayerPath(code, playerID string) string {
	return PlayersPath(code) + "/" + playerID
}

// PlayerField returns the path of one player field
func PlayerField(code, playerID, field string) string {
	return PlayerPath(code, playerID) + "/" + field
}

// HandPath returns the path of a player's cards
func HandPath(code, playerID string) string {
	return PlayerField(code, playerID, "cards")
}
