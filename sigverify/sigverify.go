// Copyright (c) 2013-2017 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package sigverify

import (
	"bytes"
	"encoding/binary"

	"github.com/kaspanet/go-secp256k1"
	"github.com/pkg/errors"

	"github.com/vaultnet/vaultd/settlement"
	"github.com/vaultnet/vaultd/wire"
)

const (
	// pubKeySize is the size of a serialized Schnorr public key.
	pubKeySize = 32

	// signatureSize is the size of a serialized Schnorr signature.
	signatureSize = 64

	// opData32 pushes the next 32 bytes onto the evaluation stack.
	opData32 = 0x20

	// opCheckSig verifies a Schnorr signature against a public key.
	opCheckSig = 0xac

	// opReturn marks an output as provably unspendable.
	opReturn = 0x6a

	// payToPubKeyScriptLen is the length of a standard pay-to-pubkey
	// script: push, key, checksig.
	payToPubKeyScriptLen = 2 + pubKeySize
)

// PayToPubKeyScript returns a standard pay-to-pubkey script paying to the
// given serialized Schnorr public key.
func PayToPubKeyScript(serializedPubKey []byte) ([]byte, error) {
	if len(serializedPubKey) != pubKeySize {
		return nil, errors.Errorf("public key is %d bytes, want %d",
			len(serializedPubKey), pubKeySize)
	}
	script := make([]byte, 0, payToPubKeyScriptLen)
	script = append(script, opData32)
	script = append(script, serializedPubKey...)
	return append(script, opCheckSig), nil
}

// IsPayToPubKey returns whether pkScript is a standard pay-to-pubkey script.
func IsPayToPubKey(pkScript []byte) bool {
	return len(pkScript) == payToPubKeyScriptLen &&
		pkScript[0] == opData32 && pkScript[payToPubKeyScriptLen-1] == opCheckSig
}

// IsUnspendable returns whether pkScript is provably unspendable: empty or
// starting with a data-carrier marker. Such outputs are never added to the
// unspent set.
func IsUnspendable(pkScript []byte) bool {
	return len(pkScript) == 0 || pkScript[0] == opReturn
}

// CalcSignatureHash computes the digest a spender of the given input signs:
// the transaction serialized with every signature script blanked, followed by
// the input index and the previous output script being spent. Committing to
// all inputs and outputs means a signature cannot be replayed onto a
// different spend shape.
func CalcSignatureHash(msgTx *wire.MsgTx, idx int, pkScript []byte) (wire.Hash, error) {
	if idx < 0 || idx >= len(msgTx.TxIn) {
		return wire.Hash{}, errors.Errorf("input index %d out of range for %d inputs",
			idx, len(msgTx.TxIn))
	}

	txCopy := msgTx.Copy()
	for _, txIn := range txCopy.TxIn {
		txIn.SignatureScript = nil
	}

	w := &bytes.Buffer{}
	if err := txCopy.Serialize(w); err != nil {
		return wire.Hash{}, err
	}
	var idxBytes [4]byte
	binary.LittleEndian.PutUint32(idxBytes[:], uint32(idx))
	w.Write(idxBytes[:])
	if err := wire.WriteVarBytes(w, pkScript); err != nil {
		return wire.Hash{}, err
	}
	return wire.HashH(w.Bytes()), nil
}

// SignInput produces the signature script authorizing the given input against
// pkScript: a bare serialized Schnorr signature.
func SignInput(msgTx *wire.MsgTx, idx int, pkScript []byte, key *secp256k1.SchnorrKeyPair) ([]byte, error) {
	sigHash, err := CalcSignatureHash(msgTx, idx, pkScript)
	if err != nil {
		return nil, err
	}
	secpHash := secp256k1.Hash(sigHash)
	signature, err := key.SchnorrSign(&secpHash)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot sign input %d", idx)
	}
	return signature.Serialize()[:], nil
}

// VerifyInput checks the signature script of the given input against the
// previous output script it spends.
//
// Vault and swap-lock outputs carry no key of their own: who may spend them,
// and into what, is governed entirely by the per-kind conservation rules, so
// their inputs verify vacuously. Receipt outputs and pay-to-pubkey outputs
// require a Schnorr signature from the embedded key.
func VerifyInput(msgTx *wire.MsgTx, idx int, pkScript []byte) error {
	if idx < 0 || idx >= len(msgTx.TxIn) {
		return errors.Errorf("input index %d out of range for %d inputs",
			idx, len(msgTx.TxIn))
	}
	if IsUnspendable(pkScript) {
		return errors.Errorf("input %d spends an unspendable output", idx)
	}

	var classifier settlement.StandardClassifier
	switch {
	case classifier.IsVaultScript(pkScript), classifier.IsSwapScript(pkScript):
		return nil
	case classifier.IsReceiptScript(pkScript):
		return verifySignature(msgTx, idx, pkScript, settlement.ReceiptScriptOwner(pkScript))
	case IsPayToPubKey(pkScript):
		return verifySignature(msgTx, idx, pkScript, pkScript[1:1+pubKeySize])
	default:
		return errors.Errorf("input %d spends a nonstandard output script", idx)
	}
}

func verifySignature(msgTx *wire.MsgTx, idx int, pkScript, serializedPubKey []byte) error {
	sigScript := msgTx.TxIn[idx].SignatureScript
	if len(sigScript) != signatureSize {
		return errors.Errorf("input %d signature script is %d bytes, want %d",
			idx, len(sigScript), signatureSize)
	}

	pubKey, err := secp256k1.DeserializeSchnorrPubKey(serializedPubKey)
	if err != nil {
		return errors.Wrapf(err, "input %d references an unusable public key", idx)
	}
	signature, err := secp256k1.DeserializeSchnorrSignatureFromSlice(sigScript)
	if err != nil {
		return errors.Wrapf(err, "input %d carries an unparsable signature", idx)
	}

	sigHash, err := CalcSignatureHash(msgTx, idx, pkScript)
	if err != nil {
		return err
	}
	secpHash := secp256k1.Hash(sigHash)
	if !pubKey.SchnorrVerify(&secpHash, signature) {
		return errors.Errorf("input %d signature does not verify", idx)
	}
	return nil
}
