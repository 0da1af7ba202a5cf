package btc

import (
	"errors"

	"github.com/btcsuite/btcd/chaincfg"
)

const (
	defaultMainnetAPIURL = "https://blockstream.info/api"
	defaultTestnetAPIURL = "https://blockstream.info/testnet/api"
	defaultSignetAPIURL  = "https://mempool.space/signet/api"
	defaultRegtestAPIURL = "http://localhost:3004"
)

// ErrConflictingNetworks is returned if more than one network is selected.
var ErrConflictingNetworks = errors.New("only one of mainnet, testnet and " +
	"signet can be selected")

// ChainParams returns the parameters of the selected network. Regtest is the
// default.
func ChainParams(mainnet, testnet, signet bool) (*chaincfg.Params, error) {
	selected := 0
	params := &chaincfg.RegressionNetParams
	for _, net := range []struct {
		set    bool
		params *chaincfg.Params
	}{
		{mainnet, &chaincfg.MainNetParams},
		{testnet, &chaincfg.TestNet3Params},
		{signet, &chaincfg.SigNetParams},
	} {
		if net.set {
			selected++
			params = net.params
		}
	}
	if selected > 1 {
		return nil, ErrConflictingNetworks
	}

	return params, nil
}

// DefaultAPIURL returns the Esplora instance used for a network when the
// operator doesn't pick one.
func DefaultAPIURL(params *chaincfg.Params) string {
	switch params.Name {
	case chaincfg.MainNetParams.Name:
		return defaultMainnetAPIURL
	case chaincfg.TestNet3Params.Name:
		return defaultTestnetAPIURL
	case chaincfg.SigNetParams.Name:
		return defaultSignetAPIURL
	default:
		return defaultRegtestAPIURL
	}
}
