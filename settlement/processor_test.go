package settlement

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vaultnet/vaultd/util"
	"github.com/vaultnet/vaultd/wire"
)

// fakeLedger is a hand-filled classification oracle and swap store.
type fakeLedger struct {
	vaults   map[wire.OutPoint]int64
	receipts map[wire.OutPoint]*ReceiptRecord
	swaps    map[wire.OutPoint]*SwapRecord
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		vaults:   make(map[wire.OutPoint]int64),
		receipts: make(map[wire.OutPoint]*ReceiptRecord),
		swaps:    make(map[wire.OutPoint]*SwapRecord),
	}
}

func (l *fakeLedger) IsVault(outpoint wire.OutPoint) bool {
	_, ok := l.vaults[outpoint]
	return ok
}

func (l *fakeLedger) IsReceipt(outpoint wire.OutPoint) bool {
	_, ok := l.receipts[outpoint]
	return ok
}

func (l *fakeLedger) ReadReceipt(outpoint wire.OutPoint) (*ReceiptRecord, bool) {
	record, ok := l.receipts[outpoint]
	return record, ok
}

func (l *fakeLedger) FindVaultsCovering(amount int64) []VaultRef {
	var refs []VaultRef
	var covered int64
	for outpoint, value := range l.vaults {
		refs = append(refs, VaultRef{OutPoint: outpoint, Value: value})
		covered += value
		if covered >= amount {
			return refs
		}
	}
	return nil
}

func (l *fakeLedger) ReadSwap(outpoint wire.OutPoint) (*SwapRecord, bool) {
	record, ok := l.swaps[outpoint]
	return record, ok
}

// fakeResolver resolves inputs from a hand-filled coin map.
type fakeResolver map[wire.OutPoint]*Coin

func (r fakeResolver) Coin(outpoint wire.OutPoint) (*Coin, bool) {
	coin, ok := r[outpoint]
	return coin, ok
}

// testOutPoint returns a synthetic outpoint distinguished by the given tag.
func testOutPoint(tag byte, index uint32) wire.OutPoint {
	var hash wire.Hash
	hash[0] = tag
	return wire.OutPoint{Hash: hash, Index: index}
}

// ordinaryScript is a base-asset script carrying none of the settlement tags.
func ordinaryScript() []byte {
	return []byte{0x20, 0x01, 0xac}
}

func testOwner(tag byte) []byte {
	owner := make([]byte, 32)
	owner[0] = tag
	return owner
}

// newTestProcessor wires a processor against fake collaborators and an empty
// foreign header oracle anchored at height 100.
func newTestProcessor(t *testing.T) (*Processor, *fakeLedger, *MemoryHeaderStore, *MemoryPublisherRegistry) {
	t.Helper()

	ledger := newFakeLedger()
	var anchor wire.Hash
	anchor[31] = 0xaa
	headers := NewMemoryHeaderStore(100, anchor)
	publishers := NewMemoryPublisherRegistry()
	processor := NewProcessor(Config{
		Classifier: StandardClassifier{},
		Ledger:     ledger,
		Swaps:      ledger,
		Proofs:     headers,
		Publishers: publishers,
	})
	t.Cleanup(processor.Close)
	return processor, ledger, headers, publishers
}

func requireSettlementError(t *testing.T, err error, code ErrorCode) {
	t.Helper()
	require.Error(t, err)
	serr, ok := err.(Error)
	require.Truef(t, ok, "got %T (%v), want settlement.Error", err, err)
	require.Equalf(t, code, serr.ErrorCode, "got %v (%v), want %v",
		serr.ErrorCode, serr.Description, code)
}

func TestCheckAssetLock(t *testing.T) {
	processor, ledger, _, _ := newTestProcessor(t)
	ctx := &Context{Height: 10}

	fundingOut := testOutPoint(0x01, 0)
	resolver := fakeResolver{
		fundingOut: {Value: 150, PkScript: ordinaryScript(), Height: 5},
	}

	// Lock 100 units from a 150-unit input: vault and receipt of 100 each
	// plus 40 of base change leaves 10 to the base-asset fee, which is the
	// chain fee rules' concern, not this check's.
	lock := wire.NewMsgTx(1, wire.TxTypeAssetLock)
	lock.AddTxIn(wire.NewTxIn(&fundingOut, nil))
	lock.AddTxOut(wire.NewTxOut(100, VaultScript()))
	lock.AddTxOut(wire.NewTxOut(100, ReceiptScript(testOwner(0xb0))))
	lock.AddTxOut(wire.NewTxOut(40, ordinaryScript()))

	results, err := processor.CheckTransaction(util.NewTx(lock), ctx, resolver)
	require.NoError(t, err)
	require.Equal(t, int64(0), results.ReceiptFee)

	// The receipt must be an exact claim on the vault.
	unbalanced := lock.Copy()
	unbalanced.TxOut[1].Value = 99
	_, err = processor.CheckTransaction(util.NewTx(unbalanced), ctx, resolver)
	requireSettlementError(t, err, ErrLockConservation)

	// Output 0 must be a vault.
	misshapen := lock.Copy()
	misshapen.TxOut[0].PkScript = ordinaryScript()
	_, err = processor.CheckTransaction(util.NewTx(misshapen), ctx, resolver)
	requireSettlementError(t, err, ErrWrongShape)

	// Receipts cannot be locked again.
	ledger.receipts[fundingOut] = &ReceiptRecord{Value: 150, Owner: testOwner(0xb0)}
	_, err = processor.CheckTransaction(util.NewTx(lock), ctx, resolver)
	requireSettlementError(t, err, ErrRestrictedInput)
}

func TestOrdinaryInputRestrictions(t *testing.T) {
	processor, ledger, _, _ := newTestProcessor(t)
	ctx := &Context{Height: 10}

	vaultOut := testOutPoint(0x10, 0)
	receiptOut := testOutPoint(0x11, 0)
	swapOut := testOutPoint(0x12, 0)
	unseenVaultOut := testOutPoint(0x13, 0)
	plainOut := testOutPoint(0x14, 0)
	ledger.vaults[vaultOut] = 100
	ledger.receipts[receiptOut] = &ReceiptRecord{Value: 100, Owner: testOwner(0xb0)}
	ledger.swaps[swapOut] = &SwapRecord{Value: 100}
	resolver := fakeResolver{
		vaultOut:       {Value: 100, PkScript: VaultScript(), Height: 5},
		receiptOut:     {Value: 100, PkScript: ReceiptScript(testOwner(0xb0)), Height: 5},
		swapOut:        {Value: 100, PkScript: SwapScript(), Height: 5},
		unseenVaultOut: {Value: 100, PkScript: VaultScript(), Height: 5},
		plainOut:       {Value: 100, PkScript: ordinaryScript(), Height: 5},
	}

	spend := func(outpoint wire.OutPoint) *util.Tx {
		tx := wire.NewMsgTx(1, wire.TxTypeRegular)
		tx.AddTxIn(wire.NewTxIn(&outpoint, nil))
		tx.AddTxOut(wire.NewTxOut(90, ordinaryScript()))
		return util.NewTx(tx)
	}

	// The classified output forms never move through an ordinary spend:
	// the pooled collateral would otherwise leak while its receipts remain
	// outstanding.
	_, err := processor.CheckTransaction(spend(vaultOut), ctx, resolver)
	requireSettlementError(t, err, ErrRestrictedInput)
	_, err = processor.CheckTransaction(spend(receiptOut), ctx, resolver)
	requireSettlementError(t, err, ErrRestrictedInput)
	_, err = processor.CheckTransaction(spend(swapOut), ctx, resolver)
	requireSettlementError(t, err, ErrRestrictedInput)

	// An output the ledger index has not recorded yet is still caught by
	// the script form of the resolved coin.
	_, err = processor.CheckTransaction(spend(unseenVaultOut), ctx, resolver)
	requireSettlementError(t, err, ErrRestrictedInput)

	// A plain base-asset coin passes.
	_, err = processor.CheckTransaction(spend(plainOut), ctx, resolver)
	require.NoError(t, err)
}

func TestCheckAssetUnlock(t *testing.T) {
	processor, ledger, _, _ := newTestProcessor(t)
	ctx := &Context{Height: 10}

	receiptOut := testOutPoint(0x02, 1)
	vaultOut := testOutPoint(0x03, 0)
	ledger.receipts[receiptOut] = &ReceiptRecord{Value: 120, Owner: testOwner(0xb0)}
	ledger.vaults[vaultOut] = 110
	resolver := fakeResolver{
		vaultOut: {Value: 110, PkScript: VaultScript(), Height: 5},
	}

	// Redeem receipts of 120 for 100 base: 15 of receipt change leaves a
	// receipt fee of 5, and the 110 vault covers the payout with 10
	// returning to the pool.
	unlock := wire.NewMsgTx(1, wire.TxTypeAssetUnlock)
	unlock.AddTxIn(wire.NewTxIn(&receiptOut, nil))
	unlock.AddTxIn(wire.NewTxIn(&vaultOut, nil))
	unlock.AddTxOut(wire.NewTxOut(100, ordinaryScript()))
	unlock.AddTxOut(wire.NewTxOut(15, ReceiptScript(testOwner(0xb0))))
	unlock.AddTxOut(wire.NewTxOut(10, VaultScript()))

	results, err := processor.CheckTransaction(util.NewTx(unlock), ctx, resolver)
	require.NoError(t, err)
	require.Equal(t, int64(5), results.ReceiptFee)

	// Receipt change pushing the redeemed value past the receipts consumed
	// violates receipt conservation.
	over := unlock.Copy()
	over.TxOut[1].Value = 25
	_, err = processor.CheckTransaction(util.NewTx(over), ctx, resolver)
	requireSettlementError(t, err, ErrUnlockConservation)

	// Collateral must be accounted for exactly, excess cannot be kept as
	// base change.
	leak := unlock.Copy()
	leak.TxOut[2].Value = 5
	_, err = processor.CheckTransaction(util.NewTx(leak), ctx, resolver)
	requireSettlementError(t, err, ErrCollateralConservation)

	// An unlock with no vault inputs redeems against nothing.
	receiptOnly := wire.NewMsgTx(1, wire.TxTypeAssetUnlock)
	otherReceipt := testOutPoint(0x04, 0)
	ledger.receipts[otherReceipt] = &ReceiptRecord{Value: 30, Owner: testOwner(0xb1)}
	receiptOnly.AddTxIn(wire.NewTxIn(&receiptOut, nil))
	receiptOnly.AddTxIn(wire.NewTxIn(&otherReceipt, nil))
	receiptOnly.AddTxOut(wire.NewTxOut(100, ordinaryScript()))
	_, err = processor.CheckTransaction(util.NewTx(receiptOnly), ctx, resolver)
	requireSettlementError(t, err, ErrNotVault)
}

func TestCheckReceiptSpend(t *testing.T) {
	processor, ledger, _, _ := newTestProcessor(t)
	ctx := &Context{Height: 10}
	resolver := fakeResolver{}

	receiptOut := testOutPoint(0x05, 0)
	ledger.receipts[receiptOut] = &ReceiptRecord{Value: 100, Owner: testOwner(0xb0)}

	// A transfer passes the receipt on minus the receipt fee.
	transfer := wire.NewMsgTx(1, wire.TxTypeReceiptTransfer)
	transfer.AddTxIn(wire.NewTxIn(&receiptOut, nil))
	transfer.AddTxOut(wire.NewTxOut(90, ReceiptScript(testOwner(0xb1))))

	results, err := processor.CheckTransaction(util.NewTx(transfer), ctx, resolver)
	require.NoError(t, err)
	require.Equal(t, int64(10), results.ReceiptFee)

	// Transfers have exactly one output.
	twoOut := transfer.Copy()
	twoOut.TxOut = append(twoOut.TxOut, wire.NewTxOut(5, ReceiptScript(testOwner(0xb2))))
	_, err = processor.CheckTransaction(util.NewTx(twoOut), ctx, resolver)
	requireSettlementError(t, err, ErrWrongShape)

	// A split divides the receipt, again minus the fee.
	split := wire.NewMsgTx(1, wire.TxTypeReceiptSplit)
	split.AddTxIn(wire.NewTxIn(&receiptOut, nil))
	split.AddTxOut(wire.NewTxOut(60, ReceiptScript(testOwner(0xb1))))
	split.AddTxOut(wire.NewTxOut(30, ReceiptScript(testOwner(0xb2))))

	results, err = processor.CheckTransaction(util.NewTx(split), ctx, resolver)
	require.NoError(t, err)
	require.Equal(t, int64(10), results.ReceiptFee)

	// The output sum must stay strictly below the input value.
	exact := split.Copy()
	exact.TxOut[1].Value = 40
	_, err = processor.CheckTransaction(util.NewTx(exact), ctx, resolver)
	requireSettlementError(t, err, ErrReceiptConservation)

	// Spending a non-receipt through the receipt path is rejected.
	unknown := testOutPoint(0x06, 0)
	stranger := wire.NewMsgTx(1, wire.TxTypeReceiptTransfer)
	stranger.AddTxIn(wire.NewTxIn(&unknown, nil))
	stranger.AddTxOut(wire.NewTxOut(10, ReceiptScript(testOwner(0xb1))))
	_, err = processor.CheckTransaction(util.NewTx(stranger), ctx, resolver)
	requireSettlementError(t, err, ErrNotReceipt)
}

func TestCheckSwapCreate(t *testing.T) {
	processor, ledger, _, _ := newTestProcessor(t)
	ctx := &Context{Height: 100}
	resolver := fakeResolver{}

	receiptOut := testOutPoint(0x07, 0)
	ledger.receipts[receiptOut] = &ReceiptRecord{Value: 100, Owner: testOwner(0xb0)}

	var hashLock [wire.HashSize]byte
	copy(hashLock[:], wire.HashB([]byte("secret"))[:])
	payload := &SwapCreatePayload{
		HashLocks:    [][wire.HashSize]byte{hashLock},
		ExpiryHeight: 200,
		ClaimOwner:   testOwner(0xc0),
		RefundOwner:  testOwner(0xb0),
	}

	create := wire.NewMsgTx(1, wire.TxTypeSwapCreate)
	create.AddTxIn(wire.NewTxIn(&receiptOut, nil))
	create.AddTxOut(wire.NewTxOut(80, SwapScript()))
	create.AddTxOut(wire.NewTxOut(20, ReceiptScript(testOwner(0xb0))))
	create.Payload = payload.Serialize()

	_, err := processor.CheckTransaction(util.NewTx(create), ctx, resolver)
	require.NoError(t, err)

	// The expiry must be in the future relative to the admission height.
	expired := create.Copy()
	expiredPayload := *payload
	expiredPayload.ExpiryHeight = 100
	expired.Payload = expiredPayload.Serialize()
	_, err = processor.CheckTransaction(util.NewTx(expired), ctx, resolver)
	requireSettlementError(t, err, ErrMalformedPayload)

	// The swap path conserves receipt value exactly.
	leaky := create.Copy()
	leaky.TxOut[1].Value = 15
	_, err = processor.CheckTransaction(util.NewTx(leaky), ctx, resolver)
	requireSettlementError(t, err, ErrReceiptConservation)
}

func TestCheckSwapClaim(t *testing.T) {
	processor, ledger, _, _ := newTestProcessor(t)
	resolver := fakeResolver{}

	preimage := []byte("the shared secret")
	swapOut := testOutPoint(0x08, 0)
	ledger.swaps[swapOut] = &SwapRecord{
		Value:        80,
		HashLocks:    [][wire.HashSize]byte{wire.HashH(preimage)},
		ExpiryHeight: 200,
		ClaimOwner:   testOwner(0xc0),
		RefundOwner:  testOwner(0xb0),
	}

	claim := wire.NewMsgTx(1, wire.TxTypeSwapClaim)
	claim.AddTxIn(wire.NewTxIn(&swapOut, nil))
	claim.AddTxOut(wire.NewTxOut(80, ReceiptScript(testOwner(0xc0))))
	claim.Payload = (&SwapClaimPayload{Preimages: [][]byte{preimage}}).Serialize()

	_, err := processor.CheckTransaction(util.NewTx(claim), &Context{Height: 150}, resolver)
	require.NoError(t, err)

	// A wrong preimage does not open the lock.
	badPreimage := claim.Copy()
	badPreimage.Payload = (&SwapClaimPayload{Preimages: [][]byte{[]byte("guess")}}).Serialize()
	_, err = processor.CheckTransaction(util.NewTx(badPreimage), &Context{Height: 150}, resolver)
	requireSettlementError(t, err, ErrSwapPreimage)

	// At the expiry height the claim window has closed.
	_, err = processor.CheckTransaction(util.NewTx(claim), &Context{Height: 200}, resolver)
	requireSettlementError(t, err, ErrSwapExpired)

	// The claim must pay the claim identity.
	wrongOwner := claim.Copy()
	wrongOwner.TxOut[0].PkScript = ReceiptScript(testOwner(0xdd))
	_, err = processor.CheckTransaction(util.NewTx(wrongOwner), &Context{Height: 150}, resolver)
	requireSettlementError(t, err, ErrWrongShape)

	// Claiming an outpoint with no outstanding record fails.
	unknown := testOutPoint(0x09, 0)
	orphan := claim.Copy()
	orphan.TxIn[0].PreviousOutPoint = unknown
	_, err = processor.CheckTransaction(util.NewTx(orphan), &Context{Height: 150}, resolver)
	requireSettlementError(t, err, ErrSwapUnknown)
}

func TestCheckSwapClaimCovenant(t *testing.T) {
	processor, ledger, _, _ := newTestProcessor(t)
	resolver := fakeResolver{}

	preimage := []byte("covenant secret")

	// The covenant pre-commits the claim to a two-way receipt split.
	template := []*wire.TxOut{
		wire.NewTxOut(50, ReceiptScript(testOwner(0xc0))),
		wire.NewTxOut(30, ReceiptScript(testOwner(0xc1))),
	}
	commitment := ComputeTemplateCommitment(template)

	swapOut := testOutPoint(0x0a, 0)
	ledger.swaps[swapOut] = &SwapRecord{
		Value:              80,
		HashLocks:          [][wire.HashSize]byte{wire.HashH(preimage)},
		ExpiryHeight:       200,
		ClaimOwner:         testOwner(0xc0),
		RefundOwner:        testOwner(0xb0),
		CovenantCommitment: &commitment,
	}

	claim := wire.NewMsgTx(1, wire.TxTypeSwapClaim)
	claim.AddTxIn(wire.NewTxIn(&swapOut, nil))
	claim.TxOut = template
	claim.Payload = (&SwapClaimPayload{Preimages: [][]byte{preimage}}).Serialize()

	_, err := processor.CheckTransaction(util.NewTx(claim), &Context{Height: 150}, resolver)
	require.NoError(t, err)

	// Any deviation from the committed output shape, value or script, is
	// caught by the recomputed commitment.
	tweaked := claim.Copy()
	tweaked.TxOut[1].Value = 29
	tweaked.TxOut[0].Value = 51
	_, err = processor.CheckTransaction(util.NewTx(tweaked), &Context{Height: 150}, resolver)
	requireSettlementError(t, err, ErrCovenantMismatch)
}

func TestCheckSwapRefund(t *testing.T) {
	processor, ledger, _, _ := newTestProcessor(t)
	resolver := fakeResolver{}

	swapOut := testOutPoint(0x0b, 0)
	ledger.swaps[swapOut] = &SwapRecord{
		Value:        80,
		HashLocks:    [][wire.HashSize]byte{wire.HashH([]byte("s"))},
		ExpiryHeight: 200,
		ClaimOwner:   testOwner(0xc0),
		RefundOwner:  testOwner(0xb0),
	}

	refund := wire.NewMsgTx(1, wire.TxTypeSwapRefund)
	refund.AddTxIn(wire.NewTxIn(&swapOut, nil))
	refund.AddTxOut(wire.NewTxOut(80, ReceiptScript(testOwner(0xb0))))

	// Before expiry the refund path is closed.
	_, err := processor.CheckTransaction(util.NewTx(refund), &Context{Height: 199}, resolver)
	requireSettlementError(t, err, ErrSwapNotExpired)

	// At expiry the full value returns to the refund identity.
	_, err = processor.CheckTransaction(util.NewTx(refund), &Context{Height: 200}, resolver)
	require.NoError(t, err)

	// Partial refunds are not a thing.
	partial := refund.Copy()
	partial.TxOut[0].Value = 79
	_, err = processor.CheckTransaction(util.NewTx(partial), &Context{Height: 200}, resolver)
	requireSettlementError(t, err, ErrReceiptConservation)
}

func TestCheckProofMint(t *testing.T) {
	processor, _, headers, _ := newTestProcessor(t)
	resolver := fakeResolver{}

	anchorHash, ok := headers.HeaderAtHeight(100)
	require.True(t, ok)

	payload := &ProofMintPayload{
		BurnBlockHash: *anchorHash,
		BurnHeight:    100,
		Amount:        500,
	}
	mint := wire.NewMsgTx(1, wire.TxTypeProofMint)
	mint.AddTxOut(wire.NewTxOut(300, ordinaryScript()))
	mint.AddTxOut(wire.NewTxOut(200, ordinaryScript()))
	mint.Payload = payload.Serialize()

	// Mints are valid only as a block component.
	_, err := processor.CheckTransaction(util.NewTx(mint), &Context{Height: 10, PoolContext: true}, resolver)
	requireSettlementError(t, err, ErrMintLoose)

	_, err = processor.CheckTransaction(util.NewTx(mint), &Context{Height: 10}, resolver)
	require.NoError(t, err)

	// The surfaced value must equal the proven burn exactly.
	over := mint.Copy()
	over.TxOut[1].Value = 201
	_, err = processor.CheckTransaction(util.NewTx(over), &Context{Height: 10}, resolver)
	requireSettlementError(t, err, ErrMintUnproven)

	// A burn block the oracle does not attest cannot mint.
	var bogus wire.Hash
	bogus[0] = 0xff
	forged := mint.Copy()
	forgedPayload := *payload
	forgedPayload.BurnBlockHash = bogus
	forged.Payload = forgedPayload.Serialize()
	_, err = processor.CheckTransaction(util.NewTx(forged), &Context{Height: 10}, resolver)
	requireSettlementError(t, err, ErrMintUnproven)

	// A burn height past the oracle tip is not yet provable.
	future := mint.Copy()
	futurePayload := *payload
	futurePayload.BurnHeight = 101
	future.Payload = futurePayload.Serialize()
	_, err = processor.CheckTransaction(util.NewTx(future), &Context{Height: 10}, resolver)
	requireSettlementError(t, err, ErrMintUnproven)
}

func TestComputeTemplateCommitment(t *testing.T) {
	outs := []*wire.TxOut{
		wire.NewTxOut(50, ReceiptScript(testOwner(0xc0))),
		wire.NewTxOut(30, ReceiptScript(testOwner(0xc1))),
	}
	commitment := ComputeTemplateCommitment(outs)

	// The commitment is over both values and scripts, in order.
	reordered := []*wire.TxOut{outs[1], outs[0]}
	require.False(t, bytes.Equal(commitment[:],
		func() []byte { c := ComputeTemplateCommitment(reordered); return c[:] }()))

	same := ComputeTemplateCommitment([]*wire.TxOut{
		wire.NewTxOut(50, ReceiptScript(testOwner(0xc0))),
		wire.NewTxOut(30, ReceiptScript(testOwner(0xc1))),
	})
	require.Equal(t, commitment, same)
}
