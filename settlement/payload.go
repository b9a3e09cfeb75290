package settlement

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/vaultnet/vaultd/wire"
)

// Payload structural bounds.
const (
	// MinHashLocks and MaxHashLocks bound the number of hashed secrets a
	// swap may be locked behind. The 3-secret variant is the largest
	// supported form.
	MinHashLocks = 1
	MaxHashLocks = 3

	// MaxPreimageSize is the maximum size in bytes of a single hash-lock
	// preimage.
	MaxPreimageSize = 80

	// ForeignHeaderSize is the size in bytes of one externally-sourced
	// chain header.
	ForeignHeaderSize = 80

	// MaxHeadersPerPublication bounds the number of foreign headers one
	// publication transaction may carry.
	MaxHeadersPerPublication = 2000

	// publisherSignatureSize is the size of the Schnorr signature over a
	// header-publication payload.
	publisherSignatureSize = 64

	// maxOwnerKeySize bounds the serialized owner keys carried in swap
	// payloads.
	maxOwnerKeySize = 64
)

func readUint32LE(r io.Reader) (uint32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}

func writeUint32LE(w io.Writer, val uint32) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], val)
	_, err := w.Write(buf[:])
	return err
}

func readUint64LE(r io.Reader) (uint64, error) {
	var buf [8]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(buf[:]), nil
}

func writeUint64LE(w io.Writer, val uint64) error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], val)
	_, err := w.Write(buf[:])
	return err
}

// SwapCreatePayload is the payload of a swap-create transaction: the
// hashed-secret locks, the refund timeout, the claim and refund identities
// and an optional covenant commitment constraining the claim transaction.
type SwapCreatePayload struct {
	HashLocks          [][wire.HashSize]byte
	ExpiryHeight       int32
	ClaimOwner         []byte
	RefundOwner        []byte
	CovenantCommitment *wire.Hash
}

// Serialize encodes the payload into its canonical byte form.
func (p *SwapCreatePayload) Serialize() []byte {
	w := &bytes.Buffer{}
	w.WriteByte(byte(len(p.HashLocks)))
	for i := range p.HashLocks {
		w.Write(p.HashLocks[i][:])
	}
	_ = writeUint32LE(w, uint32(p.ExpiryHeight))
	_ = wire.WriteVarBytes(w, p.ClaimOwner)
	_ = wire.WriteVarBytes(w, p.RefundOwner)
	if p.CovenantCommitment != nil {
		w.WriteByte(1)
		w.Write(p.CovenantCommitment[:])
	} else {
		w.WriteByte(0)
	}
	return w.Bytes()
}

// ParseSwapCreatePayload decodes a swap-create payload.
func ParseSwapCreatePayload(payload []byte) (*SwapCreatePayload, error) {
	r := bytes.NewReader(payload)
	p := &SwapCreatePayload{}

	var count [1]byte
	if _, err := io.ReadFull(r, count[:]); err != nil {
		return nil, ruleError(ErrMalformedPayload, "swap-create payload too short")
	}
	if int(count[0]) < MinHashLocks || int(count[0]) > MaxHashLocks {
		return nil, ruleError(ErrMalformedPayload, "swap-create hash lock count out of range")
	}
	p.HashLocks = make([][wire.HashSize]byte, count[0])
	for i := range p.HashLocks {
		if _, err := io.ReadFull(r, p.HashLocks[i][:]); err != nil {
			return nil, ruleError(ErrMalformedPayload, "swap-create payload truncated hash lock")
		}
	}

	expiry, err := readUint32LE(r)
	if err != nil {
		return nil, ruleError(ErrMalformedPayload, "swap-create payload truncated expiry")
	}
	p.ExpiryHeight = int32(expiry)

	p.ClaimOwner, err = wire.ReadVarBytes(r, maxOwnerKeySize, "swap claim owner")
	if err != nil {
		return nil, ruleError(ErrMalformedPayload, "swap-create payload bad claim owner")
	}
	p.RefundOwner, err = wire.ReadVarBytes(r, maxOwnerKeySize, "swap refund owner")
	if err != nil {
		return nil, ruleError(ErrMalformedPayload, "swap-create payload bad refund owner")
	}

	var covenantFlag [1]byte
	if _, err := io.ReadFull(r, covenantFlag[:]); err != nil {
		return nil, ruleError(ErrMalformedPayload, "swap-create payload truncated covenant flag")
	}
	if covenantFlag[0] != 0 {
		var commitment wire.Hash
		if _, err := io.ReadFull(r, commitment[:]); err != nil {
			return nil, ruleError(ErrMalformedPayload, "swap-create payload truncated covenant")
		}
		p.CovenantCommitment = &commitment
	}

	if r.Len() != 0 {
		return nil, ruleError(ErrMalformedPayload, "swap-create payload trailing bytes")
	}
	return p, nil
}

// SwapClaimPayload is the payload of a swap-claim transaction: the preimage
// set matching the swap's hash locks.
type SwapClaimPayload struct {
	Preimages [][]byte
}

// Serialize encodes the payload into its canonical byte form.
func (p *SwapClaimPayload) Serialize() []byte {
	w := &bytes.Buffer{}
	w.WriteByte(byte(len(p.Preimages)))
	for _, preimage := range p.Preimages {
		_ = wire.WriteVarBytes(w, preimage)
	}
	return w.Bytes()
}

// ParseSwapClaimPayload decodes a swap-claim payload.
func ParseSwapClaimPayload(payload []byte) (*SwapClaimPayload, error) {
	r := bytes.NewReader(payload)
	p := &SwapClaimPayload{}

	var count [1]byte
	if _, err := io.ReadFull(r, count[:]); err != nil {
		return nil, ruleError(ErrMalformedPayload, "swap-claim payload too short")
	}
	if int(count[0]) < MinHashLocks || int(count[0]) > MaxHashLocks {
		return nil, ruleError(ErrMalformedPayload, "swap-claim preimage count out of range")
	}
	p.Preimages = make([][]byte, count[0])
	for i := range p.Preimages {
		preimage, err := wire.ReadVarBytes(r, MaxPreimageSize, "swap preimage")
		if err != nil {
			return nil, ruleError(ErrMalformedPayload, "swap-claim payload bad preimage")
		}
		p.Preimages[i] = preimage
	}

	if r.Len() != 0 {
		return nil, ruleError(ErrMalformedPayload, "swap-claim payload trailing bytes")
	}
	return p, nil
}

// ProofMintPayload is the payload of an external-proof mint: the reference
// to the previously verified burn event on the foreign chain.
type ProofMintPayload struct {
	BurnTxID      wire.Hash
	BurnBlockHash wire.Hash
	BurnHeight    uint32
	Amount        int64
}

// Serialize encodes the payload into its canonical byte form.
func (p *ProofMintPayload) Serialize() []byte {
	w := &bytes.Buffer{}
	w.Write(p.BurnTxID[:])
	w.Write(p.BurnBlockHash[:])
	_ = writeUint32LE(w, p.BurnHeight)
	_ = writeUint64LE(w, uint64(p.Amount))
	return w.Bytes()
}

// ParseProofMintPayload decodes an external-proof mint payload.
func ParseProofMintPayload(payload []byte) (*ProofMintPayload, error) {
	r := bytes.NewReader(payload)
	p := &ProofMintPayload{}

	if _, err := io.ReadFull(r, p.BurnTxID[:]); err != nil {
		return nil, ruleError(ErrMalformedPayload, "mint payload truncated burn txid")
	}
	if _, err := io.ReadFull(r, p.BurnBlockHash[:]); err != nil {
		return nil, ruleError(ErrMalformedPayload, "mint payload truncated burn block hash")
	}
	burnHeight, err := readUint32LE(r)
	if err != nil {
		return nil, ruleError(ErrMalformedPayload, "mint payload truncated burn height")
	}
	p.BurnHeight = burnHeight
	amount, err := readUint64LE(r)
	if err != nil {
		return nil, ruleError(ErrMalformedPayload, "mint payload truncated amount")
	}
	p.Amount = int64(amount)

	if r.Len() != 0 {
		return nil, ruleError(ErrMalformedPayload, "mint payload trailing bytes")
	}
	return p, nil
}

// HeaderPublishPayload is the payload of a header-publication transaction: a
// batch of externally-sourced chain headers plus the publisher identity and
// its signature over the rest of the payload.
type HeaderPublishPayload struct {
	PublisherID PublisherID
	StartHeight uint32
	Headers     [][]byte
	Signature   [publisherSignatureSize]byte
}

func (p *HeaderPublishPayload) serializeForSigning(w io.Writer) {
	_, _ = w.Write(p.PublisherID[:])
	_ = writeUint32LE(w, p.StartHeight)
	_ = wire.WriteVarInt(w, uint64(len(p.Headers)))
	for _, header := range p.Headers {
		_, _ = w.Write(header)
	}
}

// Serialize encodes the payload into its canonical byte form.
func (p *HeaderPublishPayload) Serialize() []byte {
	w := &bytes.Buffer{}
	p.serializeForSigning(w)
	w.Write(p.Signature[:])
	return w.Bytes()
}

// SigningMessage returns the digest the publisher signs: the payload
// serialization minus the signature itself.
func (p *HeaderPublishPayload) SigningMessage() wire.Hash {
	w := &bytes.Buffer{}
	p.serializeForSigning(w)
	return wire.HashH(w.Bytes())
}

// ParseHeaderPublishPayload decodes a header-publication payload.
func ParseHeaderPublishPayload(payload []byte) (*HeaderPublishPayload, error) {
	r := bytes.NewReader(payload)
	p := &HeaderPublishPayload{}

	if _, err := io.ReadFull(r, p.PublisherID[:]); err != nil {
		return nil, ruleError(ErrMalformedPayload, "header publication truncated publisher id")
	}
	startHeight, err := readUint32LE(r)
	if err != nil {
		return nil, ruleError(ErrMalformedPayload, "header publication truncated start height")
	}
	p.StartHeight = startHeight

	count, err := wire.ReadVarInt(r)
	if err != nil {
		return nil, ruleError(ErrMalformedPayload, "header publication truncated header count")
	}
	if count == 0 || count > MaxHeadersPerPublication {
		return nil, ruleError(ErrMalformedPayload, "header publication header count out of range")
	}
	p.Headers = make([][]byte, count)
	for i := range p.Headers {
		header := make([]byte, ForeignHeaderSize)
		if _, err := io.ReadFull(r, header); err != nil {
			return nil, ruleError(ErrMalformedPayload, "header publication truncated header")
		}
		p.Headers[i] = header
	}

	if _, err := io.ReadFull(r, p.Signature[:]); err != nil {
		return nil, ruleError(ErrMalformedPayload, "header publication truncated signature")
	}

	if r.Len() != 0 {
		return nil, ruleError(ErrMalformedPayload, "header publication trailing bytes")
	}
	return p, nil
}
