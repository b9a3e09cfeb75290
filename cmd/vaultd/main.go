// Copyright (c) 2013-2017 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/vaultnet/vaultd/blockchain"
	"github.com/vaultnet/vaultd/config"
	"github.com/vaultnet/vaultd/mempool"
	"github.com/vaultnet/vaultd/settlement"
	"github.com/vaultnet/vaultd/util"
	"github.com/vaultnet/vaultd/version"
	"github.com/vaultnet/vaultd/wire"
)

// vaultdMain is the real main function for vaultd. It is necessary to work
// around the fact that deferred functions do not run when os.Exit() is
// called.
func vaultdMain() error {
	// Load configuration and parse command line. This function also
	// initializes logging and configures it accordingly.
	cfg, _, err := config.LoadConfig()
	if err != nil {
		return err
	}

	// Get a channel that will be closed when a shutdown signal has been
	// triggered either from an OS signal such as SIGINT (Ctrl+C) or from
	// another subsystem such as the RPC server.
	interrupt := interruptListener()
	defer vltdLog.Infof("Shutdown complete")

	if err := initLogging(cfg); err != nil {
		return err
	}
	defer logBackend.Close()

	// Show version at startup.
	vltdLog.Infof("Version %s", version.Version())
	vltdLog.Infof("Runtime %s on %s/%s", runtime.Version(),
		runtime.GOOS, runtime.GOARCH)

	params := cfg.NetParams()

	// The ledger index, foreign header store and publisher registry are
	// the external collaborators of the settlement processor. The header
	// store is anchored at the foreign genesis; publisher provisioning
	// happens out of band and starts empty.
	classifier := settlement.StandardClassifier{}
	ledgerIndex := settlement.NewMemoryLedgerIndex(classifier)
	headerStore := settlement.NewMemoryHeaderStore(0, wire.ZeroHash)
	publishers := settlement.NewMemoryPublisherRegistry()

	settlementProc := settlement.NewProcessor(settlement.Config{
		Classifier: classifier,
		Ledger:     ledgerIndex,
		Swaps:      ledgerIndex,
		Proofs:     headerStore,
		Publishers: publishers,
		Indexer: settlement.MultiIndexer{
			ledgerIndex,
			headerStore,
		},
	})
	defer settlementProc.Close()

	sigCache, err := blockchain.NewSigCache()
	if err != nil {
		return err
	}

	chain, err := blockchain.New(&blockchain.Config{
		DBPath:      filepath.Join(cfg.DataDir, "chainstate"),
		ChainParams: params,
		TimeSource:  blockchain.NewMedianTime(),
		SigCache:    sigCache,
		Settlement:  settlementProc,
		Interrupt:   interrupt,
	})
	if err != nil {
		vltdLog.Errorf("Unable to initialize chain: %v", err)
		return err
	}
	defer func() {
		vltdLog.Infof("Gracefully shutting down the chain database...")
		if err := chain.Close(); err != nil {
			vltdLog.Errorf("Chain database shutdown failed: %v", err)
		}
	}()

	txPool := mempool.New(&mempool.Config{
		Policy: mempool.Policy{
			AcceptNonStd:    cfg.RelayNonStd,
			MaxOrphanTxs:    cfg.MaxOrphanTxs,
			MaxOrphanTxSize: 100000,
			MaxPoolTxs:      cfg.MaxPoolTxs,
			MaxAncestors:    config.DefaultMaxAncestors,
			MaxDescendants:  config.DefaultMaxDescendants,
			MinRelayTxFee:   cfg.MinRelayTxFeeAmount,
			MaxTxVersion:    1,
		},
		ChainParams:    params,
		FetchUtxoView:  chain.FetchUtxoView,
		BestHeight:     func() int32 { return chain.BestSnapshot().Height },
		MedianTimePast: chain.CalcPastMedianTime,
		SigCache:       sigCache,
		Settlement:     settlementProc,
	})

	// Keep the pending pool reconciled against every tip movement: a
	// connected block confirms and conflicts entries away, a disconnected
	// block resurrects what it can, and after either the pool is swept
	// for entries the shift invalidated.
	chain.Subscribe(func(n *blockchain.Notification) {
		block, ok := n.Data.(*util.Block)
		if !ok {
			return
		}
		switch n.Type {
		case blockchain.NTBlockConnected:
			txPool.HandleConnectedBlock(block)
			txPool.PruneInvalidTransactions()
		case blockchain.NTBlockDisconnected:
			txPool.HandleDisconnectedBlock(block)
			txPool.PruneInvalidTransactions()
		}
	})

	best := chain.BestSnapshot()
	vltdLog.Infof("Chain ready at height %d (%s), pool empty with %d "+
		"entry capacity", best.Height, best.Hash, cfg.MaxPoolTxs)

	// Wait until the interrupt signal is received from an OS signal or
	// shutdown is requested through one of the subsystems.
	<-interrupt
	return nil
}

func main() {
	// Up some limits.
	if runtime.GOMAXPROCS(0) < runtime.NumCPU() {
		runtime.GOMAXPROCS(runtime.NumCPU())
	}

	if err := vaultdMain(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
