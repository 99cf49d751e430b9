package game

import "github.com/ethereum/go-ethereum/common"

// ValidateJoin checks that challenger may join the game created by initiator
func (g *GameState) ValidateJoin(gameID uint64, challenger, initiator common.Address) error {
	if !g.IsCorrectGameID(gameID) {
		return ErrIncorrectGameID
	}
	if !g.IsInitiator(initiator) {
		return ErrIncorrectInitiator
	}
	if g.IsEnded() {
		return ErrGameAlreadyEnded
	}
	if g.IsInitiator(challenger) {
		return ErrCannotJoinOwnGame
	}
	if !g.Joinable() {
		return ErrGameAlreadyFull
	}
	return nil
}

// ValidateClose checks that player may close or draw an active game. Draw uses the same guard.
func (g *GameState) ValidateClose(gameID uint64, player, initiator common.Address) error {
	if !g.IsCorrectGameID(gameID) {
		return ErrIncorrectGameID
	}
	if !g.IsActive() {
		return ErrGameNotActive
	}
	if !g.IsParticipant(player) {
		return ErrNotAuthorized
	}
	if !g.IsInitiator(initiator) {
		return ErrIncorrectInitiator
	}
	return nil
}

// ValidateWithdraw checks that the initiator may cancel a game nobody joined
func (g *GameState) ValidateWithdraw(gameID uint64, initiator common.Address) error {
	if !g.IsCorrectGameID(gameID) {
		return ErrIncorrectGameID
	}
	if !g.IsInitiator(initiator) {
		return ErrNotInitiator
	}
	if g.IsEnded() {
		return ErrGameAlreadyEnded
	}
	if !g.Joinable() {
		return ErrWithdrawalBlocked
	}
	return nil
}
