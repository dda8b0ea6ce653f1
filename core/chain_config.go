package core

import (
	"math/big"

	"github.com/eth2030/evmcore/core/vm"
)

// ChainConfig holds chain-level configuration for fork scheduling.
// The chain is assumed to be post-merge: all block-number forks through
// Paris are active from genesis, and later forks activate by timestamp.
type ChainConfig struct {
	ChainID      *big.Int
	ShanghaiTime *uint64
	CancunTime   *uint64
}

func isTimestampForked(forkTime *uint64, blockTime uint64) bool {
	if forkTime == nil {
		return false
	}
	return *forkTime <= blockTime
}

// IsShanghai returns whether the given block time is at or past the Shanghai fork.
func (c *ChainConfig) IsShanghai(time uint64) bool {
	return isTimestampForked(c.ShanghaiTime, time)
}

// IsCancun returns whether the given block time is at or past the Cancun fork.
func (c *ChainConfig) IsCancun(time uint64) bool {
	return isTimestampForked(c.CancunTime, time)
}

// Rules returns the fork rule set active at the given block timestamp.
func (c *ChainConfig) Rules(time uint64) vm.ForkRules {
	return vm.ForkRules{
		IsCancun:         c.IsCancun(time),
		IsShanghai:       c.IsShanghai(time),
		IsMerge:          true,
		IsLondon:         true,
		IsBerlin:         true,
		IsIstanbul:       true,
		IsConstantinople: true,
		IsByzantium:      true,
		IsHomestead:      true,
		IsEIP158:         true,
	}
}

func newUint64(v uint64) *uint64 { return &v }

// MainnetConfig is the chain config for Ethereum mainnet.
var MainnetConfig = &ChainConfig{
	ChainID:      big.NewInt(1),
	ShanghaiTime: newUint64(1681338455),
	CancunTime:   newUint64(1710338135),
}

// TestConfig is a chain config with all forks active at genesis (time 0).
var TestConfig = &ChainConfig{
	ChainID:      big.NewInt(1337),
	ShanghaiTime: newUint64(0),
	CancunTime:   newUint64(0),
}
