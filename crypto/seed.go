package crypto

import (
	"encoding/binary"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

const (
	EscrowSeed    = "game_vault"
	GameStateSeed = "game_state"
)

// DeriveAddress hashes the seed, the initiator address and the little-endian game id
// and keeps the low 20 bytes of the digest
func DeriveAddress(seed string, initiator common.Address, gameID uint64) common.Address {
	var id [8]byte
	binary.LittleEndian.PutUint64(id[:], gameID)

	digest := ethcrypto.Keccak256([]byte(seed), initiator.Bytes(), id[:])
	return common.BytesToAddress(digest[12:])
}

// EscrowAddress is the account holding the stakes of a game
func EscrowAddress(initiator common.Address, gameID uint64) common.Address {
	return DeriveAddress(EscrowSeed, initiator, gameID)
}

// GameAddress is the stable external address of a game record
func GameAddress(initiator common.Address, gameID uint64) common.Address {
	return DeriveAddress(GameStateSeed, initiator, gameID)
}
