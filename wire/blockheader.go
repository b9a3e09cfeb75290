// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wire

import (
	"bytes"
	"io"
	"time"
)

// blockHeaderLen is a constant that represents the number of bytes for a
// block header.
// Version 4 bytes + PrevBlock, MerkleRoot and UTXOCommitment hashes 32 bytes
// each + Timestamp 8 bytes + Bits 4 bytes + Nonce 8 bytes.
const blockHeaderLen = 120

// BlockHeader defines information about a block and is used in the block
// message.
type BlockHeader struct {
	// Version of the block. This is not the same as the protocol version.
	Version int32

	// Hash of the previous block header in the block chain.
	PrevBlock Hash

	// Merkle tree reference to hash of all transactions for the block.
	MerkleRoot Hash

	// UTXOCommitment is the multiset hash of the unspent-output set as of
	// this block.
	UTXOCommitment Hash

	// Time the block was created.
	Timestamp time.Time

	// Difficulty target for the block.
	Bits uint32

	// Nonce used to generate the block.
	Nonce uint64
}

// BlockHash computes the block identifier hash for the given block header.
func (h *BlockHeader) BlockHash() Hash {
	buf := bytes.NewBuffer(make([]byte, 0, blockHeaderLen))
	_ = h.Serialize(buf)
	return HashH(buf.Bytes())
}

// Deserialize decodes a block header from r using the canonical
// serialization format.
func (h *BlockHeader) Deserialize(r io.Reader) error {
	version, err := readUint32(r)
	if err != nil {
		return err
	}
	h.Version = int32(version)

	err = readHash(r, &h.PrevBlock)
	if err != nil {
		return err
	}

	err = readHash(r, &h.MerkleRoot)
	if err != nil {
		return err
	}

	err = readHash(r, &h.UTXOCommitment)
	if err != nil {
		return err
	}

	h.Timestamp, err = readTimestamp(r)
	if err != nil {
		return err
	}

	h.Bits, err = readUint32(r)
	if err != nil {
		return err
	}

	h.Nonce, err = readUint64(r)
	return err
}

// Serialize encodes a block header to w using the canonical serialization
// format.
func (h *BlockHeader) Serialize(w io.Writer) error {
	err := writeUint32(w, uint32(h.Version))
	if err != nil {
		return err
	}

	err = writeHash(w, &h.PrevBlock)
	if err != nil {
		return err
	}

	err = writeHash(w, &h.MerkleRoot)
	if err != nil {
		return err
	}

	err = writeHash(w, &h.UTXOCommitment)
	if err != nil {
		return err
	}

	err = writeTimestamp(w, h.Timestamp)
	if err != nil {
		return err
	}

	err = writeUint32(w, h.Bits)
	if err != nil {
		return err
	}

	return writeUint64(w, h.Nonce)
}

// NewBlockHeader returns a new BlockHeader using the provided values. The
// timestamp is rounded down to one second precision since the header
// serializes it as a unix timestamp.
func NewBlockHeader(version int32, prevBlock *Hash, merkleRoot *Hash,
	utxoCommitment *Hash, bits uint32, nonce uint64) *BlockHeader {

	return &BlockHeader{
		Version:        version,
		PrevBlock:      *prevBlock,
		MerkleRoot:     *merkleRoot,
		UTXOCommitment: *utxoCommitment,
		Timestamp:      time.Unix(time.Now().Unix(), 0),
		Bits:           bits,
		Nonce:          nonce,
	}
}
