// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wire

import (
	"bytes"
	"fmt"
	"io"
	"strconv"
)

// TxVersion is the current latest supported transaction version.
const TxVersion = 1

const (
	// MaxTxInSequenceNum is the maximum sequence number an input can be.
	MaxTxInSequenceNum uint64 = 0xffffffffffffffff

	// MaxPrevOutIndex is the maximum index an output reference can be.
	MaxPrevOutIndex uint32 = 0xffffffff

	// MaxTxPayloadSize is the maximum number of bytes a transaction-kind
	// payload may occupy.
	MaxTxPayloadSize = 100 * 1024

	// maxTxInPerMessage is the maximum number of transaction inputs a
	// deserialized transaction may carry.
	maxTxInPerMessage = 1024 * 8

	// maxTxOutPerMessage is the maximum number of transaction outputs a
	// deserialized transaction may carry.
	maxTxOutPerMessage = 1024 * 8

	// MaxSignatureScriptSize is the maximum size in bytes of a signature
	// script.
	MaxSignatureScriptSize = 10 * 1024

	// MaxPkScriptSize is the maximum size in bytes of a public key script.
	MaxPkScriptSize = 10 * 1024

	// LockTimeThreshold is the number below which a transaction lock time
	// is interpreted as a block height rather than a unix timestamp.
	LockTimeThreshold = 5e11
)

// TxType identifies the kind of a transaction. The set is closed: every
// consumer is expected to match it exhaustively and treat unknown values as
// malformed.
type TxType uint16

// The closed set of transaction kinds.
const (
	// TxTypeRegular is an ordinary base-asset value transfer.
	TxTypeRegular TxType = iota

	// TxTypeCoinbase is the block-producer reward transaction. It carries
	// no inputs and its output sum is bound to the fees collected in the
	// block.
	TxTypeCoinbase

	// TxTypeAssetLock locks base asset into a collateral vault and
	// surfaces a bearer receipt of equal value.
	TxTypeAssetLock

	// TxTypeAssetUnlock redeems bearer receipts against pooled vaults,
	// paying out base asset.
	TxTypeAssetUnlock

	// TxTypeReceiptTransfer moves a single bearer receipt to a new owner.
	TxTypeReceiptTransfer

	// TxTypeReceiptSplit splits a single bearer receipt into two or more
	// smaller receipts.
	TxTypeReceiptSplit

	// TxTypeSwapCreate locks a bearer receipt behind hashed secrets and a
	// refund timeout.
	TxTypeSwapCreate

	// TxTypeSwapClaim consumes a swap-locked receipt given matching
	// preimages.
	TxTypeSwapClaim

	// TxTypeSwapRefund returns a swap-locked receipt to its creator after
	// the expiry height.
	TxTypeSwapRefund

	// TxTypeProofMint creates new base-asset supply from an externally
	// proven burn event.
	TxTypeProofMint

	// TxTypeHeaderPublish carries a signed batch of externally-sourced
	// chain headers from a registered publisher.
	TxTypeHeaderPublish

	// numTxTypes is the number of recognized transaction kinds. It must be
	// defined last.
	numTxTypes
)

var txTypeStrings = map[TxType]string{
	TxTypeRegular:         "Regular",
	TxTypeCoinbase:        "Coinbase",
	TxTypeAssetLock:       "AssetLock",
	TxTypeAssetUnlock:     "AssetUnlock",
	TxTypeReceiptTransfer: "ReceiptTransfer",
	TxTypeReceiptSplit:    "ReceiptSplit",
	TxTypeSwapCreate:      "SwapCreate",
	TxTypeSwapClaim:       "SwapClaim",
	TxTypeSwapRefund:      "SwapRefund",
	TxTypeProofMint:       "ProofMint",
	TxTypeHeaderPublish:   "HeaderPublish",
}

// String returns the TxType in human-readable form.
func (t TxType) String() string {
	if s, ok := txTypeStrings[t]; ok {
		return s
	}
	return fmt.Sprintf("Unknown TxType (%d)", uint16(t))
}

// IsKnown returns whether t is a member of the closed transaction-kind set.
func (t TxType) IsKnown() bool {
	return t < numTxTypes
}

// OutPoint defines a data type that is used to track previous transaction
// outputs.
type OutPoint struct {
	Hash  Hash
	Index uint32
}

// NewOutPoint returns a new transaction outpoint point with the provided
// hash and index.
func NewOutPoint(hash *Hash, index uint32) *OutPoint {
	return &OutPoint{
		Hash:  *hash,
		Index: index,
	}
}

// String returns the OutPoint in the human-readable form "hash:index".
func (o OutPoint) String() string {
	// Allocate enough for hash string, colon, and 10 digits. Although at
	// the time of writing, the number of digits can be no greater than
	// the length of the decimal representation of maxTxOutPerMessage, the
	// maximum message payload may increase in the future.
	buf := make([]byte, 2*HashSize+1, 2*HashSize+1+10)
	copy(buf, o.Hash.String())
	buf[2*HashSize] = ':'
	buf = strconv.AppendUint(buf, uint64(o.Index), 10)
	return string(buf)
}

// TxIn defines a transaction input.
type TxIn struct {
	PreviousOutPoint OutPoint
	SignatureScript  []byte
	Sequence         uint64
}

// SerializeSize returns the number of bytes it would take to serialize the
// the transaction input.
func (t *TxIn) SerializeSize() int {
	// Outpoint Hash 32 bytes + Outpoint Index 4 bytes + Sequence 8 bytes +
	// serialized varint size for the length of SignatureScript +
	// SignatureScript bytes.
	return 44 + VarIntSerializeSize(uint64(len(t.SignatureScript))) +
		len(t.SignatureScript)
}

// NewTxIn returns a new transaction input with the provided previous outpoint
// point and signature script with a default sequence of MaxTxInSequenceNum.
func NewTxIn(prevOut *OutPoint, signatureScript []byte) *TxIn {
	return &TxIn{
		PreviousOutPoint: *prevOut,
		SignatureScript:  signatureScript,
		Sequence:         MaxTxInSequenceNum,
	}
}

// TxOut defines a transaction output.
type TxOut struct {
	Value    int64
	PkScript []byte
}

// SerializeSize returns the number of bytes it would take to serialize the
// the transaction output.
func (t *TxOut) SerializeSize() int {
	// Value 8 bytes + serialized varint size for the length of PkScript +
	// PkScript bytes.
	return 8 + VarIntSerializeSize(uint64(len(t.PkScript))) + len(t.PkScript)
}

// NewTxOut returns a new transaction output with the provided transaction
// value and public key script.
func NewTxOut(value int64, pkScript []byte) *TxOut {
	return &TxOut{
		Value:    value,
		PkScript: pkScript,
	}
}

// MsgTx implements the Message interface and represents a transaction. It is
// used to deliver transaction information in response to a getdata message
// for a given transaction, and is the canonical serialization txids are
// computed over.
type MsgTx struct {
	Version  int32
	Type     TxType
	TxIn     []*TxIn
	TxOut    []*TxOut
	LockTime uint64
	Payload  []byte
}

// AddTxIn adds a transaction input to the message.
func (msg *MsgTx) AddTxIn(ti *TxIn) {
	msg.TxIn = append(msg.TxIn, ti)
}

// AddTxOut adds a transaction output to the message.
func (msg *MsgTx) AddTxOut(to *TxOut) {
	msg.TxOut = append(msg.TxOut, to)
}

// TxHash generates the Hash for the transaction.
func (msg *MsgTx) TxHash() Hash {
	// Ignore the error returns since the only way the encode could fail
	// is being out of memory and the returned buffer would be nil in that
	// case anyway.
	buf := bytes.NewBuffer(make([]byte, 0, msg.SerializeSize()))
	_ = msg.Serialize(buf)
	return HashH(buf.Bytes())
}

// Copy creates a deep copy of a transaction so that the original does not get
// modified when the copy is manipulated.
func (msg *MsgTx) Copy() *MsgTx {
	newTx := MsgTx{
		Version:  msg.Version,
		Type:     msg.Type,
		TxIn:     make([]*TxIn, 0, len(msg.TxIn)),
		TxOut:    make([]*TxOut, 0, len(msg.TxOut)),
		LockTime: msg.LockTime,
	}

	if msg.Payload != nil {
		newTx.Payload = make([]byte, len(msg.Payload))
		copy(newTx.Payload, msg.Payload)
	}

	for _, oldTxIn := range msg.TxIn {
		var newScript []byte
		if oldTxIn.SignatureScript != nil {
			newScript = make([]byte, len(oldTxIn.SignatureScript))
			copy(newScript, oldTxIn.SignatureScript)
		}
		newTx.TxIn = append(newTx.TxIn, &TxIn{
			PreviousOutPoint: oldTxIn.PreviousOutPoint,
			SignatureScript:  newScript,
			Sequence:         oldTxIn.Sequence,
		})
	}

	for _, oldTxOut := range msg.TxOut {
		var newScript []byte
		if oldTxOut.PkScript != nil {
			newScript = make([]byte, len(oldTxOut.PkScript))
			copy(newScript, oldTxOut.PkScript)
		}
		newTx.TxOut = append(newTx.TxOut, &TxOut{
			Value:    oldTxOut.Value,
			PkScript: newScript,
		})
	}

	return &newTx
}

// Deserialize decodes a transaction from r into the receiver using the
// canonical serialization format.
func (msg *MsgTx) Deserialize(r io.Reader) error {
	version, err := readUint32(r)
	if err != nil {
		return err
	}
	msg.Version = int32(version)

	txType, err := readUint16(r)
	if err != nil {
		return err
	}
	msg.Type = TxType(txType)

	count, err := ReadVarInt(r)
	if err != nil {
		return err
	}
	if count > maxTxInPerMessage {
		return messageError("MsgTx.Deserialize", fmt.Sprintf(
			"too many input transactions [count %d, max %d]", count, maxTxInPerMessage))
	}

	msg.TxIn = make([]*TxIn, count)
	for i := uint64(0); i < count; i++ {
		ti := TxIn{}
		err = readHash(r, &ti.PreviousOutPoint.Hash)
		if err != nil {
			return err
		}
		ti.PreviousOutPoint.Index, err = readUint32(r)
		if err != nil {
			return err
		}
		ti.SignatureScript, err = ReadVarBytes(r, MaxSignatureScriptSize,
			"transaction input signature script")
		if err != nil {
			return err
		}
		ti.Sequence, err = readUint64(r)
		if err != nil {
			return err
		}
		msg.TxIn[i] = &ti
	}

	count, err = ReadVarInt(r)
	if err != nil {
		return err
	}
	if count > maxTxOutPerMessage {
		return messageError("MsgTx.Deserialize", fmt.Sprintf(
			"too many output transactions [count %d, max %d]", count, maxTxOutPerMessage))
	}

	msg.TxOut = make([]*TxOut, count)
	for i := uint64(0); i < count; i++ {
		to := TxOut{}
		value, err := readUint64(r)
		if err != nil {
			return err
		}
		to.Value = int64(value)
		to.PkScript, err = ReadVarBytes(r, MaxPkScriptSize,
			"transaction output public key script")
		if err != nil {
			return err
		}
		msg.TxOut[i] = &to
	}

	msg.LockTime, err = readUint64(r)
	if err != nil {
		return err
	}

	msg.Payload, err = ReadVarBytes(r, MaxTxPayloadSize, "transaction payload")
	if err != nil {
		return err
	}

	return nil
}

// Serialize encodes the transaction to w using the canonical serialization
// format.
func (msg *MsgTx) Serialize(w io.Writer) error {
	err := writeUint32(w, uint32(msg.Version))
	if err != nil {
		return err
	}

	err = writeUint16(w, uint16(msg.Type))
	if err != nil {
		return err
	}

	err = WriteVarInt(w, uint64(len(msg.TxIn)))
	if err != nil {
		return err
	}
	for _, ti := range msg.TxIn {
		err = writeHash(w, &ti.PreviousOutPoint.Hash)
		if err != nil {
			return err
		}
		err = writeUint32(w, ti.PreviousOutPoint.Index)
		if err != nil {
			return err
		}
		err = WriteVarBytes(w, ti.SignatureScript)
		if err != nil {
			return err
		}
		err = writeUint64(w, ti.Sequence)
		if err != nil {
			return err
		}
	}

	err = WriteVarInt(w, uint64(len(msg.TxOut)))
	if err != nil {
		return err
	}
	for _, to := range msg.TxOut {
		err = writeUint64(w, uint64(to.Value))
		if err != nil {
			return err
		}
		err = WriteVarBytes(w, to.PkScript)
		if err != nil {
			return err
		}
	}

	err = writeUint64(w, msg.LockTime)
	if err != nil {
		return err
	}

	return WriteVarBytes(w, msg.Payload)
}

// SerializeSize returns the number of bytes it would take to serialize the
// the transaction.
func (msg *MsgTx) SerializeSize() int {
	// Version 4 bytes + Type 2 bytes + LockTime 8 bytes + serialized
	// varint size for the number of transaction inputs and outputs and the
	// payload length.
	n := 14 + VarIntSerializeSize(uint64(len(msg.TxIn))) +
		VarIntSerializeSize(uint64(len(msg.TxOut))) +
		VarIntSerializeSize(uint64(len(msg.Payload))) +
		len(msg.Payload)

	for _, txIn := range msg.TxIn {
		n += txIn.SerializeSize()
	}

	for _, txOut := range msg.TxOut {
		n += txOut.SerializeSize()
	}

	return n
}

// NewMsgTx returns a new tx message of the given kind that conforms to the
// Message interface. The return instance has a default version of TxVersion
// and there are no transaction inputs or outputs. Also, the lock time is set
// to zero to indicate the transaction is valid immediately as opposed to
// some time in future.
func NewMsgTx(version int32, txType TxType) *MsgTx {
	return &MsgTx{
		Version: version,
		Type:    txType,
		TxIn:    make([]*TxIn, 0, 8),
		TxOut:   make([]*TxOut, 0, 8),
	}
}
