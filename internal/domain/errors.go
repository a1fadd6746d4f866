package domain

import "errors"

// Domain errors
var (
	ErrLobbyNotFound      = errors.New("lobby not found")
	ErrLobbyFull          = errors.New("lobby is full")
	ErrGameAlreadyStarted = errors.New("game already started")
	ErrGameNotStarted     = errors.New("game not started")
	ErrNotEnoughPlayers   = errors.New("not enough players to start")
	ErrNotAuthenticated   = errors.New("no acting user")
	ErrAlreadyVoted       = errors.New("already voted this round")
	ErrInvalidPhase       = errors.New("invalid action for current phase")
	ErrPlayerNotFound     = errors.New("player not found")
	ErrNotHost            = errors.New("only host can perform this action")
	ErrCannotVoteSelf     = errors.New("cannot vote for yourself")
	ErrInvalidTransition  = errors.New("invalid phase transition")
	ErrInvalidTargetID    = errors.New("invalid vote target")
	ErrCardNotInHand      = errors.New("card is not in hand")
	ErrEmptyName          = errors.New("name cannot be empty")
)
