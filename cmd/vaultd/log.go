// Copyright (c) 2013-2017 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"os"
	"path/filepath"

	"github.com/vaultnet/vaultd/blockchain"
	"github.com/vaultnet/vaultd/config"
	"github.com/vaultnet/vaultd/logger"
	"github.com/vaultnet/vaultd/mempool"
	"github.com/vaultnet/vaultd/settlement"
)

// logBackend is the logging backend used to create all subsystem loggers.
var logBackend = logger.NewBackend()

// vltdLog is the daemon's own subsystem logger. Package loggers are handed
// out to each subsystem during initLogging.
var vltdLog = logBackend.Logger("VLTD")

// initLogging opens the rotating log file under the configured log
// directory, sets every subsystem logger to the configured level and hands
// the loggers out to the packages that want them.
func initLogging(cfg *config.Config) error {
	if err := os.MkdirAll(cfg.LogDir, 0700); err != nil {
		return err
	}
	logFile := filepath.Join(cfg.LogDir, config.DefaultLogFilename)
	if err := logBackend.AddLogFile(logFile, 10*1024, 8); err != nil {
		return err
	}

	level, _ := logger.LevelFromString(cfg.LogLevel)

	subsystems := map[string]func(*logger.Logger){
		"CHAN": blockchain.UseLogger,
		"TXMP": mempool.UseLogger,
		"SETL": settlement.UseLogger,
	}
	for tag, use := range subsystems {
		l := logBackend.Logger(tag)
		l.SetLevel(level)
		use(l)
	}
	vltdLog.SetLevel(level)

	return nil
}
