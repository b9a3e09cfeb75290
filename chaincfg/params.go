// Copyright (c) 2014-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chaincfg

import (
	"math/big"
	"time"

	"github.com/vaultnet/vaultd/wire"
)

// These variables are the chain proof-of-work limit parameters for each
// default network.
var (
	// bigOne is 1 represented as a big.Int. It is defined here to avoid
	// the overhead of creating it multiple times.
	bigOne = big.NewInt(1)

	// mainPowLimit is the highest proof of work value a block can have for
	// the main network.
	mainPowLimit = new(big.Int).Sub(new(big.Int).Lsh(bigOne, 232), bigOne)

	// regressionPowLimit is the highest proof of work value a block can
	// have for the regression test network.
	regressionPowLimit = new(big.Int).Sub(new(big.Int).Lsh(bigOne, 255), bigOne)
)

// Params defines a network by its parameters. These parameters may be used
// by applications to differentiate networks as well as addresses and keys
// for one network from those intended for use on another network.
type Params struct {
	// Name defines a human-readable identifier for the network.
	Name string

	// GenesisBlock defines the first block of the chain.
	GenesisBlock *wire.MsgBlock

	// GenesisHash is the starting block hash.
	GenesisHash *wire.Hash

	// PowLimit defines the highest allowed proof of work value for a
	// block as a uint256.
	PowLimit *big.Int

	// PowLimitBits defines the highest allowed proof of work value for a
	// block in compact form.
	PowLimitBits uint32

	// TargetTimePerBlock is the desired amount of time to generate each
	// block.
	TargetTimePerBlock time.Duration

	// CoinbaseMaturity is the number of blocks required before newly
	// created coinbase outputs can be spent.
	CoinbaseMaturity uint16

	// CoinbaseMaturitySkipHeight is the height below which the coinbase
	// maturity rule is not enforced. This is a bootstrap accommodation
	// carried over from chain launch and is deliberately a parameter
	// rather than a constant; its exact per-network thresholds should not
	// be assumed load-bearing for general correctness.
	CoinbaseMaturitySkipHeight int32

	// FeeMatchActivationHeight is the height at which the block-producer
	// reward is required to equal exactly the fees collected in the
	// block. Before this height the reward may not exceed the fees.
	FeeMatchActivationHeight int32

	// MaxReorgDepth is the maximum depth below the active tip at which
	// the fork point of a chain reorganization may sit. Deeper
	// reorganizations are rejected regardless of cumulative work.
	MaxReorgDepth int32

	// EnforceUTXOCommitments requires every block header to commit to the
	// post-block multiset hash of the unspent-output set.
	EnforceUTXOCommitments bool

	// RelayNonStdTxs defines whether the default policy accepts
	// non-standard transactions into the pending pool.
	RelayNonStdTxs bool
}

// MainNetParams defines the network parameters for the main network.
var MainNetParams = Params{
	Name:         "mainnet",
	GenesisBlock: &genesisBlock,
	GenesisHash:  &genesisHash,
	PowLimit:     mainPowLimit,
	PowLimitBits: 0x1d00ffff,

	TargetTimePerBlock:         time.Minute,
	CoinbaseMaturity:           100,
	CoinbaseMaturitySkipHeight: 576,
	FeeMatchActivationHeight:   4096,
	MaxReorgDepth:              576,
	EnforceUTXOCommitments:     true,
	RelayNonStdTxs:             false,
}

// TestNetParams defines the network parameters for the test network.
var TestNetParams = Params{
	Name:         "testnet",
	GenesisBlock: &testNetGenesisBlock,
	GenesisHash:  &testNetGenesisHash,
	PowLimit:     regressionPowLimit,
	PowLimitBits: 0x207fffff,

	TargetTimePerBlock:         time.Minute,
	CoinbaseMaturity:           100,
	CoinbaseMaturitySkipHeight: 144,
	FeeMatchActivationHeight:   1024,
	MaxReorgDepth:              576,
	EnforceUTXOCommitments:     true,
	RelayNonStdTxs:             true,
}

// RegressionNetParams defines the network parameters for the regression test
// network. Not to be confused with the test network, this network is
// sometimes simply called "regnet".
var RegressionNetParams = Params{
	Name:         "regnet",
	GenesisBlock: &regNetGenesisBlock,
	GenesisHash:  &regNetGenesisHash,
	PowLimit:     regressionPowLimit,
	PowLimitBits: 0x207fffff,

	TargetTimePerBlock:         time.Minute,
	CoinbaseMaturity:           10,
	CoinbaseMaturitySkipHeight: 0,
	FeeMatchActivationHeight:   0,
	MaxReorgDepth:              64,
	EnforceUTXOCommitments:     false,
	RelayNonStdTxs:             true,
}
