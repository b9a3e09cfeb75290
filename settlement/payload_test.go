package settlement

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vaultnet/vaultd/wire"
)

func TestSwapCreatePayloadRoundTrip(t *testing.T) {
	commitment := wire.HashH([]byte("template"))
	payload := &SwapCreatePayload{
		HashLocks:          [][wire.HashSize]byte{wire.HashH([]byte("a")), wire.HashH([]byte("b"))},
		ExpiryHeight:       1234,
		ClaimOwner:         testOwner(0xc0),
		RefundOwner:        testOwner(0xb0),
		CovenantCommitment: &commitment,
	}

	parsed, err := ParseSwapCreatePayload(payload.Serialize())
	require.NoError(t, err)
	require.Equal(t, payload, parsed)

	// Trailing bytes are malformed, not ignored.
	_, err = ParseSwapCreatePayload(append(payload.Serialize(), 0x00))
	requireSettlementError(t, err, ErrMalformedPayload)

	// The hash lock count is bounded.
	tooMany := &SwapCreatePayload{
		HashLocks: [][wire.HashSize]byte{
			wire.HashH([]byte("a")), wire.HashH([]byte("b")),
			wire.HashH([]byte("c")), wire.HashH([]byte("d")),
		},
		ExpiryHeight: 1,
		ClaimOwner:   testOwner(0xc0),
		RefundOwner:  testOwner(0xb0),
	}
	_, err = ParseSwapCreatePayload(tooMany.Serialize())
	requireSettlementError(t, err, ErrMalformedPayload)
}

func TestProofMintPayloadRoundTrip(t *testing.T) {
	payload := &ProofMintPayload{
		BurnTxID:      wire.HashH([]byte("burn tx")),
		BurnBlockHash: wire.HashH([]byte("burn block")),
		BurnHeight:    700123,
		Amount:        5_000_000,
	}

	parsed, err := ParseProofMintPayload(payload.Serialize())
	require.NoError(t, err)
	require.Equal(t, payload, parsed)

	_, err = ParseProofMintPayload(payload.Serialize()[:40])
	requireSettlementError(t, err, ErrMalformedPayload)
}

func TestHeaderPublishPayloadRoundTrip(t *testing.T) {
	payload := &HeaderPublishPayload{
		PublisherID: PublisherID{0x01},
		StartHeight: 42,
		Headers: [][]byte{
			foreignHeader(wire.Hash{}, 0),
			foreignHeader(wire.HashH([]byte("x")), 1),
		},
	}
	payload.Signature[0] = 0x5a

	parsed, err := ParseHeaderPublishPayload(payload.Serialize())
	require.NoError(t, err)
	require.Equal(t, payload, parsed)

	// The signing message covers everything but the signature itself.
	resigned := *payload
	resigned.Signature[0] = 0xa5
	require.Equal(t, payload.SigningMessage(), resigned.SigningMessage())

	// An empty batch says nothing and is malformed.
	empty := &HeaderPublishPayload{PublisherID: PublisherID{0x01}, StartHeight: 42}
	_, err = ParseHeaderPublishPayload(empty.Serialize())
	requireSettlementError(t, err, ErrMalformedPayload)
}
