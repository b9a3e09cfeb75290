package config

import (
	"os"

	"github.com/jessevdk/go-flags"
	"github.com/pkg/errors"

	"github.com/vaultnet/vaultd/chaincfg"
)

// NetworkFlags holds the network configuration, that is which network is
// selected.
type NetworkFlags struct {
	TestNet bool `long:"testnet" description:"Use the test network"`
	RegNet  bool `long:"regnet" description:"Use the regression test network"`

	activeNetParams *chaincfg.Params
}

// ResolveNetwork parses the network command line arguments and sets the
// active network parameters accordingly. It returns an error if more than one
// network was selected.
func (networkFlags *NetworkFlags) ResolveNetwork(parser *flags.Parser) error {
	// Default network is mainnet.
	networkFlags.activeNetParams = &chaincfg.MainNetParams

	// Multiple networks can't be selected simultaneously.
	numNets := 0
	if networkFlags.TestNet {
		numNets++
		networkFlags.activeNetParams = &chaincfg.TestNetParams
	}
	if networkFlags.RegNet {
		numNets++
		networkFlags.activeNetParams = &chaincfg.RegressionNetParams
	}
	if numNets > 1 {
		message := "multiple networks parameters (testnet, regnet) cannot be used together"
		err := errors.New(message)
		printErrorAndHelp(parser, err)
		return err
	}

	return nil
}

// NetParams returns the ActiveNetParams
func (networkFlags *NetworkFlags) NetParams() *chaincfg.Params {
	return networkFlags.activeNetParams
}

func printErrorAndHelp(parser *flags.Parser, err error) {
	if parser == nil {
		return
	}
	os.Stderr.WriteString(err.Error() + "\n")
	parser.WriteHelp(os.Stderr)
}
