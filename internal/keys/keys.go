// Package keys derives the deterministic identifiers every record is stored under.
package keys

import (
	"encoding/binary"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	poolSeed       = []byte("pool")
	positionSeed   = []byte("position")
	stakeSeed      = []byte("stake")
	treasurySeed   = []byte("treasury")
	stakingSeed    = []byte("staking")
	rewardsSeed    = []byte("rewards_vault")
	feeVaultSeed   = []byte("fee_vault")
	stakeVaultSeed = []byte("staking_vault")
	bondSeed       = []byte("bond")
)

// BurnAddress receives burned protocol tokens.
var BurnAddress = common.HexToAddress("0x000000000000000000000000000000000000dEaD")

// Pool derives the pool key from its defining parameters.
func Pool(baseMint, quoteMint common.Address, binStep uint16) common.Hash {
	var step [2]byte
	binary.LittleEndian.PutUint16(step[:], binStep)
	return crypto.Keccak256Hash(poolSeed, baseMint.Bytes(), quoteMint.Bytes(), step[:])
}

// Position derives the key of the single position an owner holds in a pool.
func Position(pool common.Hash, owner common.Address) common.Hash {
	return crypto.Keccak256Hash(positionSeed, pool.Bytes(), owner.Bytes())
}

// Stake derives the stake account key for an owner.
func Stake(owner common.Address) common.Hash {
	return crypto.Keccak256Hash(stakeSeed, owner.Bytes())
}

// Treasury is the key of the treasury singleton.
func Treasury() common.Hash {
	return crypto.Keccak256Hash(treasurySeed)
}

// Staking is the key of the staking pool singleton.
func Staking() common.Hash {
	return crypto.Keccak256Hash(stakingSeed)
}

// Signer returns the program-owned address that holds vault balances for a
// record and authorizes transfers out of them.
func Signer(key common.Hash) common.Address {
	return common.BytesToAddress(key.Bytes()[12:])
}

// FeeVault is the treasury account that receives recorded fees.
func FeeVault() common.Address {
	return Signer(crypto.Keccak256Hash(feeVaultSeed, Treasury().Bytes()))
}

// RewardsVault is the staking account that pays out claimed rewards.
func RewardsVault() common.Address {
	return Signer(crypto.Keccak256Hash(rewardsSeed, Staking().Bytes()))
}

// StakingVault is the staking account that custodies staked principal.
func StakingVault() common.Address {
	return Signer(crypto.Keccak256Hash(stakeVaultSeed, Staking().Bytes()))
}

// BondVault escrows the creation bond of a pool until it is closed.
func BondVault(pool common.Hash) common.Address {
	return Signer(crypto.Keccak256Hash(bondSeed, pool.Bytes()))
}
