package settlement

import (
	"testing"

	"github.com/kaspanet/go-secp256k1"
	"github.com/stretchr/testify/require"

	"github.com/vaultnet/vaultd/util"
	"github.com/vaultnet/vaultd/wire"
)

// foreignHeader fabricates an 80-byte foreign header extending prev, with the
// given nonce bytes making it unique.
func foreignHeader(prev wire.Hash, nonce byte) []byte {
	header := make([]byte, ForeignHeaderSize)
	copy(header[4:], prev[:])
	header[ForeignHeaderSize-1] = nonce
	return header
}

// signPublication fills in the payload signature with the given key's
// signature over the signing message.
func signPublication(t *testing.T, payload *HeaderPublishPayload, key *secp256k1.SchnorrKeyPair) {
	t.Helper()
	message := secp256k1.Hash(payload.SigningMessage())
	signature, err := key.SchnorrSign(&message)
	require.NoError(t, err)
	copy(payload.Signature[:], signature.Serialize()[:])
}

// newTestPublisher generates a keypair and registers it under a fresh
// identity.
func newTestPublisher(t *testing.T, registry *MemoryPublisherRegistry, tag byte) (PublisherID, *secp256k1.SchnorrKeyPair) {
	t.Helper()
	key, err := secp256k1.GenerateSchnorrKeyPair()
	require.NoError(t, err)
	pubKey, err := key.SchnorrPublicKey()
	require.NoError(t, err)
	serialized, err := pubKey.Serialize()
	require.NoError(t, err)

	var id PublisherID
	id[0] = tag
	registry.Register(id, serialized[:])
	return id, key
}

// publicationTx builds a header-publication transaction extending the given
// oracle with count fabricated headers, signed by key.
func publicationTx(t *testing.T, oracle *MemoryHeaderStore, id PublisherID, key *secp256k1.SchnorrKeyPair, count int) *util.Tx {
	t.Helper()
	tipHash, ok := oracle.HeaderAtHeight(oracle.TipHeight())
	require.True(t, ok)

	payload := &HeaderPublishPayload{
		PublisherID: id,
		StartHeight: oracle.TipHeight() + 1,
	}
	prev := *tipHash
	for i := 0; i < count; i++ {
		header := foreignHeader(prev, byte(i))
		payload.Headers = append(payload.Headers, header)
		prev = foreignHeaderHash(header)
	}
	signPublication(t, payload, key)

	msgTx := wire.NewMsgTx(1, wire.TxTypeHeaderPublish)
	msgTx.Payload = payload.Serialize()
	return util.NewTx(msgTx)
}

func TestCheckHeaderPublish(t *testing.T) {
	processor, _, headers, publishers := newTestProcessor(t)
	id, key := newTestPublisher(t, publishers, 0x01)

	tx := publicationTx(t, headers, id, key, 3)
	_, err := processor.CheckTransaction(tx, &Context{Height: 10, PoolContext: true}, fakeResolver{})
	require.NoError(t, err)

	// A publication naming an unregistered identity is rejected outright.
	var strangerID PublisherID
	strangerID[0] = 0x99
	stranger := publicationTx(t, headers, strangerID, key, 1)
	_, err = processor.CheckTransaction(stranger, &Context{Height: 10, PoolContext: true}, fakeResolver{})
	requireSettlementError(t, err, ErrPublisherUnknown)

	// Publications carry no inputs or outputs.
	withOutput := tx.MsgTx().Copy()
	withOutput.AddTxOut(wire.NewTxOut(1, ordinaryScript()))
	_, err = processor.CheckTransaction(util.NewTx(withOutput), &Context{Height: 10}, fakeResolver{})
	requireSettlementError(t, err, ErrWrongShape)
}

func TestHeaderPublishSignature(t *testing.T) {
	processor, _, headers, publishers := newTestProcessor(t)
	id, key := newTestPublisher(t, publishers, 0x01)

	// Corrupt the signature of an otherwise valid publication.
	tx := publicationTx(t, headers, id, key, 1)
	payload, err := ParseHeaderPublishPayload(tx.MsgTx().Payload)
	require.NoError(t, err)
	payload.Signature[5] ^= 0x01
	corrupted := wire.NewMsgTx(1, wire.TxTypeHeaderPublish)
	corrupted.Payload = payload.Serialize()

	_, err = processor.CheckTransaction(util.NewTx(corrupted), &Context{Height: 10, PoolContext: true}, fakeResolver{})
	requireSettlementError(t, err, ErrPublisherSignature)

	// A forged signature is not attributable to the named publisher, so the
	// publisher is not suppressed and its genuine publication still passes.
	_, err = processor.CheckTransaction(tx, &Context{Height: 10, PoolContext: true}, fakeResolver{})
	require.NoError(t, err)
}

func TestHeaderPublishExtension(t *testing.T) {
	processor, _, headers, publishers := newTestProcessor(t)
	id, key := newTestPublisher(t, publishers, 0x01)

	// A batch starting past the oracle tip does not extend it.
	payload := &HeaderPublishPayload{
		PublisherID: id,
		StartHeight: headers.TipHeight() + 2,
	}
	tipHash, ok := headers.HeaderAtHeight(headers.TipHeight())
	require.True(t, ok)
	payload.Headers = append(payload.Headers, foreignHeader(*tipHash, 0))
	signPublication(t, payload, key)

	msgTx := wire.NewMsgTx(1, wire.TxTypeHeaderPublish)
	msgTx.Payload = payload.Serialize()
	_, err := processor.CheckTransaction(util.NewTx(msgTx), &Context{Height: 10}, fakeResolver{})
	requireSettlementError(t, err, ErrHeadersNotExtending)

	// A batch whose headers do not chain to each other is torn.
	torn := &HeaderPublishPayload{
		PublisherID: id,
		StartHeight: headers.TipHeight() + 1,
	}
	first := foreignHeader(*tipHash, 0)
	var unrelated wire.Hash
	unrelated[0] = 0x77
	torn.Headers = append(torn.Headers, first, foreignHeader(unrelated, 1))
	signPublication(t, torn, key)

	tornTx := wire.NewMsgTx(1, wire.TxTypeHeaderPublish)
	tornTx.Payload = torn.Serialize()
	_, err = processor.CheckTransaction(util.NewTx(tornTx), &Context{Height: 10}, fakeResolver{})
	requireSettlementError(t, err, ErrHeadersNotContiguous)
}

func TestHeaderPublishBlacklist(t *testing.T) {
	processor, _, headers, publishers := newTestProcessor(t)
	id, key := newTestPublisher(t, publishers, 0x01)

	// A correctly signed batch that fails validation is attributable to the
	// signing publisher: during pool admission it gets suppressed.
	payload := &HeaderPublishPayload{
		PublisherID: id,
		StartHeight: headers.TipHeight() + 5,
	}
	var detached wire.Hash
	detached[0] = 0x55
	payload.Headers = append(payload.Headers, foreignHeader(detached, 0))
	signPublication(t, payload, key)

	msgTx := wire.NewMsgTx(1, wire.TxTypeHeaderPublish)
	msgTx.Payload = payload.Serialize()
	_, err := processor.CheckTransaction(util.NewTx(msgTx), &Context{Height: 10, PoolContext: true}, fakeResolver{})
	requireSettlementError(t, err, ErrHeadersNotExtending)

	// Even a perfectly valid follow-up is refused from the pool while the
	// suppression lasts.
	valid := publicationTx(t, headers, id, key, 1)
	_, err = processor.CheckTransaction(valid, &Context{Height: 10, PoolContext: true}, fakeResolver{})
	requireSettlementError(t, err, ErrPublisherBlacklisted)

	// Block validation is not subject to the pool blacklist.
	_, err = processor.CheckTransaction(valid, &Context{Height: 10}, fakeResolver{})
	require.NoError(t, err)

	// Another publisher is unaffected.
	otherID, otherKey := newTestPublisher(t, publishers, 0x02)
	other := publicationTx(t, headers, otherID, otherKey, 1)
	_, err = processor.CheckTransaction(other, &Context{Height: 10, PoolContext: true}, fakeResolver{})
	require.NoError(t, err)
}
