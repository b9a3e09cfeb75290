// Copyright (c) 2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mempool

import (
	"crypto/sha256"
	"testing"

	"github.com/kaspanet/go-secp256k1"
	"github.com/stretchr/testify/require"

	"github.com/vaultnet/vaultd/settlement"
	"github.com/vaultnet/vaultd/util"
	"github.com/vaultnet/vaultd/wire"
)

// fabricateForeignHeader builds an 80-byte foreign header extending prev,
// with the salt making the content unique.
func fabricateForeignHeader(prev wire.Hash, salt byte) []byte {
	header := make([]byte, settlement.ForeignHeaderSize)
	copy(header[4:], prev[:])
	header[settlement.ForeignHeaderSize-1] = salt
	return header
}

func foreignHash(header []byte) wire.Hash {
	first := sha256.Sum256(header)
	return wire.Hash(sha256.Sum256(first[:]))
}

// newPublisher generates a keypair and registers it under a fresh identity.
func (p *poolHarness) newPublisher(t *testing.T, tag byte) (settlement.PublisherID, *secp256k1.SchnorrKeyPair) {
	t.Helper()
	key, err := secp256k1.GenerateSchnorrKeyPair()
	require.NoError(t, err)
	pubKey, err := key.SchnorrPublicKey()
	require.NoError(t, err)
	serialized, err := pubKey.Serialize()
	require.NoError(t, err)

	var id settlement.PublisherID
	id[0] = tag
	p.publishers.Register(id, serialized[:])
	return id, key
}

// publicationTx builds a signed header publication extending the harness
// oracle with count fabricated headers. The salt varies the header content so
// distinct publications of equal length get distinct identifiers.
func (p *poolHarness) publicationTx(t *testing.T, id settlement.PublisherID, key *secp256k1.SchnorrKeyPair, count int, salt byte) *util.Tx {
	t.Helper()

	tipHash, ok := p.headers.HeaderAtHeight(p.headers.TipHeight())
	require.True(t, ok)

	payload := &settlement.HeaderPublishPayload{
		PublisherID: id,
		StartHeight: p.headers.TipHeight() + 1,
	}
	prev := *tipHash
	for i := 0; i < count; i++ {
		header := fabricateForeignHeader(prev, byte(i)^salt)
		payload.Headers = append(payload.Headers, header)
		prev = foreignHash(header)
	}

	message := secp256k1.Hash(payload.SigningMessage())
	signature, err := key.SchnorrSign(&message)
	require.NoError(t, err)
	copy(payload.Signature[:], signature.Serialize()[:])

	msgTx := wire.NewMsgTx(1, wire.TxTypeHeaderPublish)
	msgTx.Payload = payload.Serialize()
	return util.NewTx(msgTx)
}

func TestHeaderPublicationSingleton(t *testing.T) {
	harness := newPoolHarness(t, nil)
	id, key := harness.newPublisher(t, 0x01)

	// The first publication occupies the singleton slot.
	incumbent := harness.publicationTx(t, id, key, 3, 0x00)
	_, err := harness.txPool.ProcessTransaction(incumbent, false)
	require.NoError(t, err)
	require.Equal(t, 1, harness.txPool.Count())

	// A batch carrying strictly more headers replaces it.
	longer := harness.publicationTx(t, id, key, 5, 0x00)
	_, err = harness.txPool.ProcessTransaction(longer, false)
	require.NoError(t, err)
	require.Equal(t, 1, harness.txPool.Count())
	require.False(t, harness.txPool.IsTransactionInPool(incumbent.Hash()))
	require.True(t, harness.txPool.IsTransactionInPool(longer.Hash()))

	// A shorter batch never displaces the incumbent.
	shorter := harness.publicationTx(t, id, key, 2, 0x10)
	_, err = harness.txPool.ProcessTransaction(shorter, false)
	require.True(t, IsTxRuleErrorCode(err, RejectDuplicate))
	require.True(t, harness.txPool.IsTransactionInPool(longer.Hash()))
}

func TestHeaderPublicationInvalidChallengerKeepsIncumbent(t *testing.T) {
	harness := newPoolHarness(t, nil)
	id, key := harness.newPublisher(t, 0x01)

	incumbent := harness.publicationTx(t, id, key, 3, 0x00)
	_, err := harness.txPool.ProcessTransaction(incumbent, false)
	require.NoError(t, err)
	require.Equal(t, 1, harness.txPool.Count())

	// A longer batch whose signature does not verify must not displace
	// anything: the incumbent gives way only to a fully valid newcomer.
	forged := harness.publicationTx(t, id, key, 5, 0x00)
	payload, err := settlement.ParseHeaderPublishPayload(forged.MsgTx().Payload)
	require.NoError(t, err)
	payload.Signature[0] ^= 0xff
	forgedMsg := wire.NewMsgTx(1, wire.TxTypeHeaderPublish)
	forgedMsg.Payload = payload.Serialize()

	_, err = harness.txPool.ProcessTransaction(util.NewTx(forgedMsg), false)
	require.True(t, IsTxRuleErrorCode(err, RejectInvalid))
	require.Equal(t, 1, harness.txPool.Count())
	require.True(t, harness.txPool.IsTransactionInPool(incumbent.Hash()))

	// A valid longer batch still replaces it afterwards.
	longer := harness.publicationTx(t, id, key, 5, 0x30)
	_, err = harness.txPool.ProcessTransaction(longer, false)
	require.NoError(t, err)
	require.Equal(t, 1, harness.txPool.Count())
	require.True(t, harness.txPool.IsTransactionInPool(longer.Hash()))
	require.False(t, harness.txPool.IsTransactionInPool(incumbent.Hash()))
}

func TestHeaderPublicationEqualCountTieBreak(t *testing.T) {
	harness := newPoolHarness(t, nil)
	id, key := harness.newPublisher(t, 0x01)

	// Two distinct equal-length batches; order them by transaction
	// identifier to make the tie-break deterministic.
	first := harness.publicationTx(t, id, key, 3, 0x20)
	second := harness.publicationTx(t, id, key, 3, 0x40)
	smaller, larger := first, second
	if larger.Hash().Less(smaller.Hash()) {
		smaller, larger = larger, smaller
	}

	// At an equal header count the lexicographically smaller identifier
	// wins the slot.
	_, err := harness.txPool.ProcessTransaction(larger, false)
	require.NoError(t, err)
	_, err = harness.txPool.ProcessTransaction(smaller, false)
	require.NoError(t, err)
	require.True(t, harness.txPool.IsTransactionInPool(smaller.Hash()))
	require.False(t, harness.txPool.IsTransactionInPool(larger.Hash()))

	// The displaced transaction cannot shoulder its way back in.
	_, err = harness.txPool.ProcessTransaction(larger, false)
	require.True(t, IsTxRuleErrorCode(err, RejectDuplicate))
	require.True(t, harness.txPool.IsTransactionInPool(smaller.Hash()))
}
