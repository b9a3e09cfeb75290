// Copyright (c) 2014-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chaincfg

import (
	"time"

	"github.com/kaspanet/go-muhash"

	"github.com/vaultnet/vaultd/wire"
)

// genesisCoinbaseTx is the coinbase transaction for the genesis blocks. The
// single output is provably unspendable and carries no value, so the genesis
// block contributes nothing to the unspent-output set and its header commits
// to the empty multiset.
var genesisCoinbaseTx = wire.MsgTx{
	Version: 1,
	Type:    wire.TxTypeCoinbase,
	TxIn:    []*wire.TxIn{},
	TxOut: []*wire.TxOut{
		{
			Value:    0,
			PkScript: []byte{0x6a},
		},
	},
	LockTime: 0,
	Payload:  []byte("pooled collateral, bearer claims"),
}

// emptyUTXOCommitment is the multiset hash of an empty unspent-output set.
var emptyUTXOCommitment = wire.Hash(*muhash.EmptyMuHashHash.AsArray())

func newGenesisBlock(timestamp int64, bits uint32, nonce uint64) wire.MsgBlock {
	coinbase := genesisCoinbaseTx.Copy()
	return wire.MsgBlock{
		Header: wire.BlockHeader{
			Version:        1,
			PrevBlock:      wire.ZeroHash,
			MerkleRoot:     coinbase.TxHash(),
			UTXOCommitment: emptyUTXOCommitment,
			Timestamp:      time.Unix(timestamp, 0),
			Bits:           bits,
			Nonce:          nonce,
		},
		Transactions: []*wire.MsgTx{coinbase},
	}
}

// genesisBlock defines the genesis block of the block chain which serves as
// the public transaction ledger for the main network.
var genesisBlock = newGenesisBlock(0x60e31f00, 0x1d00ffff, 0x44c8f1)

// genesisHash is the hash of the first block in the block chain for the main
// network (genesis block).
var genesisHash = genesisBlock.BlockHash()

// testNetGenesisBlock defines the genesis block of the block chain which
// serves as the public transaction ledger for the test network.
var testNetGenesisBlock = newGenesisBlock(0x60e31f01, 0x207fffff, 0x2)

// testNetGenesisHash is the hash of the first block in the block chain for
// the test network.
var testNetGenesisHash = testNetGenesisBlock.BlockHash()

// regNetGenesisBlock defines the genesis block of the block chain which
// serves as the public transaction ledger for the regression test network.
var regNetGenesisBlock = newGenesisBlock(0x60e31f02, 0x207fffff, 0x0)

// regNetGenesisHash is the hash of the first block in the block chain for
// the regression test network.
var regNetGenesisHash = regNetGenesisBlock.BlockHash()
