package settlement

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vaultnet/vaultd/wire"
)

func blockViewOf(tag byte, txs ...*wire.MsgTx) *BlockView {
	var hash wire.Hash
	hash[0] = tag
	return &BlockView{Hash: hash, Transactions: txs}
}

func TestMemoryLedgerIndexRoundTrip(t *testing.T) {
	index := NewMemoryLedgerIndex(StandardClassifier{})

	// Block 1 confirms an asset lock creating a vault and a receipt.
	funding := testOutPoint(0x01, 0)
	lock := wire.NewMsgTx(1, wire.TxTypeAssetLock)
	lock.AddTxIn(wire.NewTxIn(&funding, nil))
	lock.AddTxOut(wire.NewTxOut(100, VaultScript()))
	lock.AddTxOut(wire.NewTxOut(100, ReceiptScript(testOwner(0xb0))))

	block1 := blockViewOf(0x10, lock)
	require.NoError(t, index.ConnectBlock(block1, 1))

	lockHash := lock.TxHash()
	vaultOut := wire.OutPoint{Hash: lockHash, Index: 0}
	receiptOut := wire.OutPoint{Hash: lockHash, Index: 1}
	require.True(t, index.IsVault(vaultOut))
	require.True(t, index.IsReceipt(receiptOut))

	record, ok := index.ReadReceipt(receiptOut)
	require.True(t, ok)
	require.Equal(t, int64(100), record.Value)
	require.Equal(t, testOwner(0xb0), record.Owner)

	// Block 2 transfers the receipt: the old record leaves the index and
	// the new one enters it.
	transfer := wire.NewMsgTx(1, wire.TxTypeReceiptTransfer)
	transfer.AddTxIn(wire.NewTxIn(&receiptOut, nil))
	transfer.AddTxOut(wire.NewTxOut(90, ReceiptScript(testOwner(0xb1))))

	block2 := blockViewOf(0x20, transfer)
	require.NoError(t, index.ConnectBlock(block2, 2))

	require.False(t, index.IsReceipt(receiptOut))
	newReceiptOut := wire.OutPoint{Hash: transfer.TxHash(), Index: 0}
	record, ok = index.ReadReceipt(newReceiptOut)
	require.True(t, ok)
	require.Equal(t, int64(90), record.Value)

	// Disconnecting block 2 restores the spent receipt exactly.
	require.NoError(t, index.DisconnectBlock(block2))
	require.False(t, index.IsReceipt(newReceiptOut))
	record, ok = index.ReadReceipt(receiptOut)
	require.True(t, ok)
	require.Equal(t, int64(100), record.Value)

	// Disconnecting block 1 leaves the index empty again.
	require.NoError(t, index.DisconnectBlock(block1))
	require.False(t, index.IsVault(vaultOut))
	require.False(t, index.IsReceipt(receiptOut))
}

func TestMemoryLedgerIndexSwapRecords(t *testing.T) {
	index := NewMemoryLedgerIndex(StandardClassifier{})

	receiptOut := testOutPoint(0x02, 0)
	payload := &SwapCreatePayload{
		HashLocks:    [][wire.HashSize]byte{wire.HashH([]byte("s1")), wire.HashH([]byte("s2"))},
		ExpiryHeight: 300,
		ClaimOwner:   testOwner(0xc0),
		RefundOwner:  testOwner(0xb0),
	}
	create := wire.NewMsgTx(1, wire.TxTypeSwapCreate)
	create.AddTxIn(wire.NewTxIn(&receiptOut, nil))
	create.AddTxOut(wire.NewTxOut(80, SwapScript()))
	create.Payload = payload.Serialize()

	block := blockViewOf(0x30, create)
	require.NoError(t, index.ConnectBlock(block, 5))

	swapOut := wire.OutPoint{Hash: create.TxHash(), Index: 0}
	record, ok := index.ReadSwap(swapOut)
	require.True(t, ok)
	require.Equal(t, int64(80), record.Value)
	require.Equal(t, payload.HashLocks, record.HashLocks)
	require.Equal(t, int32(300), record.ExpiryHeight)
	require.Equal(t, payload.ClaimOwner, record.ClaimOwner)
	require.Equal(t, payload.RefundOwner, record.RefundOwner)
	require.Nil(t, record.CovenantCommitment)

	require.NoError(t, index.DisconnectBlock(block))
	_, ok = index.ReadSwap(swapOut)
	require.False(t, ok)
}

func TestMemoryLedgerIndexDisconnectOrder(t *testing.T) {
	index := NewMemoryLedgerIndex(StandardClassifier{})

	block1 := blockViewOf(0x01)
	block2 := blockViewOf(0x02)
	require.NoError(t, index.ConnectBlock(block1, 1))
	require.NoError(t, index.ConnectBlock(block2, 2))

	// Blocks must disconnect newest-first.
	require.Error(t, index.DisconnectBlock(block1))
	require.NoError(t, index.DisconnectBlock(block2))
	require.NoError(t, index.DisconnectBlock(block1))
	require.Error(t, index.DisconnectBlock(block1))
}

func TestMemoryHeaderStoreRoundTrip(t *testing.T) {
	var anchor wire.Hash
	anchor[31] = 0xaa
	store := NewMemoryHeaderStore(500, anchor)
	require.Equal(t, uint32(500), store.TipHeight())
	require.Equal(t, uint32(500), store.MinSupportedHeight())

	// A confirmed publication advances the published tip.
	payload := &HeaderPublishPayload{StartHeight: 501}
	prev := anchor
	var hashes []wire.Hash
	for i := 0; i < 3; i++ {
		header := foreignHeader(prev, byte(i))
		payload.Headers = append(payload.Headers, header)
		prev = foreignHeaderHash(header)
		hashes = append(hashes, prev)
	}
	publish := wire.NewMsgTx(1, wire.TxTypeHeaderPublish)
	publish.Payload = payload.Serialize()

	block := blockViewOf(0x40, publish)
	require.NoError(t, store.ConnectBlock(block, 9))
	require.Equal(t, uint32(503), store.TipHeight())

	got, ok := store.HeaderAtHeight(502)
	require.True(t, ok)
	require.Equal(t, hashes[1], *got)
	require.True(t, store.IsInBestChain(&hashes[2]))

	// Heights outside the attested range are not answered.
	_, ok = store.HeaderAtHeight(499)
	require.False(t, ok)
	_, ok = store.HeaderAtHeight(504)
	require.False(t, ok)

	// Disconnecting the block rewinds the published tip exactly.
	require.NoError(t, store.DisconnectBlock(block))
	require.Equal(t, uint32(500), store.TipHeight())
	require.False(t, store.IsInBestChain(&hashes[0]))
	got, ok = store.HeaderAtHeight(500)
	require.True(t, ok)
	require.Equal(t, anchor, *got)
}

func TestMultiIndexerOrdering(t *testing.T) {
	var trace []string
	first := &traceIndexer{name: "first", trace: &trace}
	second := &traceIndexer{name: "second", trace: &trace}
	multi := MultiIndexer{first, second}

	block := blockViewOf(0x50)
	require.NoError(t, multi.ConnectBlock(block, 1))
	require.NoError(t, multi.DisconnectBlock(block))

	// Connect runs in slice order, disconnect in reverse.
	require.Equal(t, []string{
		"first connect", "second connect",
		"second disconnect", "first disconnect",
	}, trace)
}

type traceIndexer struct {
	name  string
	trace *[]string
}

func (i *traceIndexer) ConnectBlock(block *BlockView, height int32) error {
	*i.trace = append(*i.trace, i.name+" connect")
	return nil
}

func (i *traceIndexer) DisconnectBlock(block *BlockView) error {
	*i.trace = append(*i.trace, i.name+" disconnect")
	return nil
}
