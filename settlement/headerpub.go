package settlement

import (
	"crypto/sha256"
	"fmt"

	"github.com/jellydator/ttlcache/v3"
	"github.com/kaspanet/go-secp256k1"

	"github.com/vaultnet/vaultd/util"
	"github.com/vaultnet/vaultd/wire"
)

// foreignHeaderHash computes the identifying hash of an externally-sourced
// chain header. Foreign chains of the supported family use double sha256
// over the fixed 80-byte header, not this chain's own hash function.
func foreignHeaderHash(header []byte) wire.Hash {
	first := sha256.Sum256(header)
	return wire.Hash(sha256.Sum256(first[:]))
}

// foreignHeaderPrev extracts the previous-header hash field from a fixed
// 80-byte foreign header.
func foreignHeaderPrev(header []byte) (prev wire.Hash) {
	copy(prev[:], header[4:4+wire.HashSize])
	return prev
}

// checkHeaderPublish enforces the header-publication rules: a registered
// publisher extends the foreign header oracle's best chain with a contiguous,
// signed batch of headers. Failures that are provably the signing publisher's
// doing suppress that publisher from pool admission for a while; failures a
// third party could have forged do not.
func (p *Processor) checkHeaderPublish(tx *util.Tx, ctx *Context) (*TxResults, error) {
	msgTx := tx.MsgTx()
	if len(msgTx.TxIn) != 0 || len(msgTx.TxOut) != 0 {
		return nil, ruleError(ErrWrongShape, fmt.Sprintf(
			"header publication %s carries inputs or outputs", tx.Hash()))
	}

	payload, err := ParseHeaderPublishPayload(msgTx.Payload)
	if err != nil {
		return nil, err
	}

	if ctx.PoolContext && p.blacklist.Has(payload.PublisherID) {
		return nil, ruleError(ErrPublisherBlacklisted, fmt.Sprintf(
			"header publication %s from suppressed publisher %s",
			tx.Hash(), payload.PublisherID))
	}

	serializedKey, ok := p.cfg.Publishers.PublisherKey(payload.PublisherID)
	if !ok {
		return nil, ruleError(ErrPublisherUnknown, fmt.Sprintf(
			"header publication %s names unregistered publisher %s",
			tx.Hash(), payload.PublisherID))
	}
	pubKey, err := secp256k1.DeserializeSchnorrPubKey(serializedKey)
	if err != nil {
		return nil, ruleError(ErrPublisherUnknown, fmt.Sprintf(
			"publisher %s has an unusable registered key: %s",
			payload.PublisherID, err))
	}
	signature, err := secp256k1.DeserializeSchnorrSignatureFromSlice(payload.Signature[:])
	if err != nil {
		return nil, ruleError(ErrPublisherSignature, fmt.Sprintf(
			"header publication %s carries an unparsable signature", tx.Hash()))
	}
	message := payload.SigningMessage()
	secpHash := secp256k1.Hash(message)
	if !pubKey.SchnorrVerify(&secpHash, signature) {
		// A bad signature is forgeable by anyone, so it never
		// implicates the named publisher.
		return nil, ruleError(ErrPublisherSignature, fmt.Sprintf(
			"header publication %s signature does not verify for publisher %s",
			tx.Hash(), payload.PublisherID))
	}

	// From here on every failure is under the publisher's signature and is
	// attributable to it.
	if err := p.checkPublishedHeaders(tx, payload); err != nil {
		if ctx.PoolContext {
			p.blacklist.Set(payload.PublisherID, err.Error(), ttlcache.DefaultTTL)
			log.Debugf("Suppressing publisher %s: %s", payload.PublisherID, err)
		}
		return nil, err
	}

	return &TxResults{}, nil
}

// checkPublishedHeaders validates the header batch itself against the
// oracle's best chain: the batch starts right past the tip, the first header
// extends the tip, and each subsequent header references the one before it.
func (p *Processor) checkPublishedHeaders(tx *util.Tx, payload *HeaderPublishPayload) error {
	tipHeight := p.cfg.Proofs.TipHeight()
	if payload.StartHeight != tipHeight+1 {
		return ruleError(ErrHeadersNotExtending, fmt.Sprintf(
			"header publication %s starts at height %d, oracle tip is %d",
			tx.Hash(), payload.StartHeight, tipHeight))
	}

	tipHash, ok := p.cfg.Proofs.HeaderAtHeight(tipHeight)
	if !ok {
		return ruleError(ErrHeadersNotExtending, fmt.Sprintf(
			"header publication %s cannot extend an oracle with no tip header",
			tx.Hash()))
	}

	prev := *tipHash
	for i, header := range payload.Headers {
		if foreignHeaderPrev(header) != prev {
			if i == 0 {
				return ruleError(ErrHeadersNotExtending, fmt.Sprintf(
					"header publication %s first header does not extend oracle tip %s",
					tx.Hash(), tipHash))
			}
			return ruleError(ErrHeadersNotContiguous, fmt.Sprintf(
				"header publication %s header %d does not reference header %d",
				tx.Hash(), i, i-1))
		}
		prev = foreignHeaderHash(header)
	}
	return nil
}
