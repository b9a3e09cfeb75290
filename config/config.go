// Copyright (c) 2013-2017 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/btcsuite/btcutil"
	"github.com/jessevdk/go-flags"
	"github.com/pkg/errors"

	"github.com/vaultnet/vaultd/logger"
	"github.com/vaultnet/vaultd/version"
)

const (
	defaultConfigFilename = "vaultd.conf"
	defaultDataDirname    = "data"
	defaultLogLevel       = "info"
	defaultLogDirname     = "logs"
	defaultMaxOrphanTxs   = 100
	defaultMaxPoolTxs     = 50000

	// DefaultMaxAncestors and DefaultMaxDescendants are the pending-pool
	// package bounds.
	DefaultMaxAncestors   = 25
	DefaultMaxDescendants = 25

	// DefaultLogFilename is the file the rotating log writes into under
	// the log directory.
	DefaultLogFilename = "vaultd.log"
)

var (
	// DefaultHomeDir is the default home directory for vaultd.
	DefaultHomeDir = btcutil.AppDataDir("vaultd", false)

	defaultConfigFile = filepath.Join(DefaultHomeDir, defaultConfigFilename)
	defaultDataDir    = filepath.Join(DefaultHomeDir, defaultDataDirname)
	defaultLogDir     = filepath.Join(DefaultHomeDir, defaultLogDirname)
)

// Flags defines the configuration options for vaultd.
//
// See loadConfig for details on the configuration load process.
type Flags struct {
	ShowVersion     bool    `short:"V" long:"version" description:"Display version information and exit"`
	ConfigFile      string  `short:"C" long:"configfile" description:"Path to configuration file"`
	DataDir         string  `short:"b" long:"datadir" description:"Directory to store data"`
	LogDir          string  `long:"logdir" description:"Directory to log output"`
	LogLevel        string  `short:"d" long:"loglevel" description:"Logging level {trace, debug, info, warn, error, critical}"`
	RelayNonStd     bool    `long:"relaynonstd" description:"Relay non-standard transactions regardless of the default settings for the active network"`
	MinRelayTxFee   float64 `long:"minrelaytxfee" description:"The minimum transaction fee in VLT/kB to be considered a non-zero fee"`
	MaxOrphanTxs    int     `long:"maxorphantx" description:"Max number of orphan transactions to keep in memory"`
	MaxPoolTxs      int     `long:"maxpooltx" description:"Max number of transactions to keep in the pending pool"`
	NetworkFlags
}

// Config defines the configuration options for vaultd after resolution.
type Config struct {
	*Flags

	// MinRelayTxFeeAmount is MinRelayTxFee converted to the internal
	// integer amount form.
	MinRelayTxFeeAmount btcutil.Amount
}

// cleanAndExpandPath expands environment variables and leading ~ in the
// passed path, cleans the result, and returns it.
func cleanAndExpandPath(path string) string {
	// Expand initial ~ to OS specific home directory.
	if strings.HasPrefix(path, "~") {
		homeDir := filepath.Dir(DefaultHomeDir)
		path = strings.Replace(path, "~", homeDir, 1)
	}

	// NOTE: The os.ExpandEnv doesn't work with Windows-style %VARIABLE%,
	// but the variables can still be expanded via POSIX-style $VARIABLE.
	return filepath.Clean(os.ExpandEnv(path))
}

// validLogLevel returns whether or not logLevel is a valid debug log level.
func validLogLevel(logLevel string) bool {
	_, ok := logger.LevelFromString(logLevel)
	return ok
}

// defaultFlags returns the default configuration.
func defaultFlags() *Flags {
	return &Flags{
		ConfigFile:    defaultConfigFile,
		DataDir:       defaultDataDir,
		LogDir:        defaultLogDir,
		LogLevel:      defaultLogLevel,
		MinRelayTxFee: defaultMinRelayTxFee,
		MaxOrphanTxs:  defaultMaxOrphanTxs,
		MaxPoolTxs:    defaultMaxPoolTxs,
	}
}

// defaultMinRelayTxFee is the default minimum relay fee in VLT/kB.
const defaultMinRelayTxFee = 1e-5

// LoadConfig initializes and parses the config using a config file and
// command line options.
//
// The configuration proceeds as follows:
//  1. Start with a default config with sane settings
//  2. Pre-parse the command line to check for an alternative config file
//  3. Load configuration file overwriting defaults with any specified options
//  4. Parse CLI options and overwrite/add any specified options
func LoadConfig() (*Config, []string, error) {
	cfgFlags := defaultFlags()

	// Pre-parse the command line options to see if an alternative config
	// file or the version flag was specified. Any errors aside from the
	// help message error can be ignored here since they will be caught by
	// the final parse below.
	preCfg := *cfgFlags
	preParser := flags.NewParser(&preCfg, flags.HelpFlag)
	_, err := preParser.Parse()
	if err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			return nil, nil, err
		}
	}

	appName := filepath.Base(os.Args[0])
	appName = strings.TrimSuffix(appName, filepath.Ext(appName))
	if preCfg.ShowVersion {
		fmt.Println(appName, "version", version.Version())
		os.Exit(0)
	}

	// Load additional config from file.
	parser := flags.NewParser(cfgFlags, flags.Default)
	configFile := preCfg.ConfigFile
	if configFile == "" {
		configFile = defaultConfigFile
	}
	err = flags.NewIniParser(parser).ParseFile(configFile)
	if err != nil {
		if _, ok := err.(*os.PathError); !ok {
			return nil, nil, errors.Wrapf(err, "error parsing config file %s", configFile)
		}
		// A missing config file at the default location is fine.
		if preCfg.ConfigFile != defaultConfigFile && preCfg.ConfigFile != "" {
			return nil, nil, errors.Wrapf(err, "config file %s does not exist", configFile)
		}
	}

	// Parse command line options again to ensure they take precedence.
	remainingArgs, err := parser.Parse()
	if err != nil {
		return nil, nil, err
	}

	if err := cfgFlags.ResolveNetwork(parser); err != nil {
		return nil, nil, err
	}

	cfg := &Config{Flags: cfgFlags}

	// All paths are cleaned, expanded and namespaced by network so it is
	// possible to run multiple networks from the same home directory.
	cfg.DataDir = cleanAndExpandPath(cfg.DataDir)
	cfg.DataDir = filepath.Join(cfg.DataDir, cfg.NetParams().Name)
	cfg.LogDir = cleanAndExpandPath(cfg.LogDir)
	cfg.LogDir = filepath.Join(cfg.LogDir, cfg.NetParams().Name)

	if !validLogLevel(cfg.LogLevel) {
		str := fmt.Sprintf("the specified debug level [%s] is invalid", cfg.LogLevel)
		return nil, nil, errors.New(str)
	}

	cfg.MinRelayTxFeeAmount, err = btcutil.NewAmount(cfg.MinRelayTxFee)
	if err != nil {
		return nil, nil, errors.Wrap(err, "invalid minrelaytxfee")
	}

	if cfg.MaxOrphanTxs < 0 {
		return nil, nil, errors.New("maxorphantx must not be negative")
	}
	if cfg.MaxPoolTxs <= 0 {
		return nil, nil, errors.New("maxpooltx must be positive")
	}

	// The network parameters carry the relay default; an explicit flag
	// overrides it.
	if !cfg.RelayNonStd {
		cfg.RelayNonStd = cfg.NetParams().RelayNonStdTxs
	}

	return cfg, remainingArgs, nil
}
