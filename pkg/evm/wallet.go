// Package evm implements the chain-access capability over go-ethereum:
// wallet derivation from a recovery phrase, balance and fee queries, and
// native/ERC-20 transfer submission.
package evm

import (
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/tyler-smith/go-bip39"

	"github.com/helix-wallet/sweeperd/pkg/sweep"
)

// bip44Path is m/44'/60'/0'/0/0, the first external account of the standard
// Ethereum derivation path.
var bip44Path = []uint32{
	44 + hdkeychain.HardenedKeyStart,
	60 + hdkeychain.HardenedKeyStart,
	0 + hdkeychain.HardenedKeyStart,
	0,
	0,
}

// DeriveWallet turns a BIP-39 recovery phrase into the signing wallet used by
// a sweep cycle. Invalid phrases are a configuration error rejected here,
// before any cycle starts.
func DeriveWallet(mnemonic string) (sweep.Wallet, error) {
	mnemonic = strings.TrimSpace(strings.ToLower(mnemonic))
	if !bip39.IsMnemonicValid(mnemonic) {
		return sweep.Wallet{}, fmt.Errorf("invalid recovery phrase")
	}

	seed := bip39.NewSeed(mnemonic, "")
	key, err := hdkeychain.NewMaster(seed, &chaincfg.MainNetParams)
	if err != nil {
		return sweep.Wallet{}, fmt.Errorf("derive master key: %w", err)
	}
	for _, index := range bip44Path {
		if key, err = key.Derive(index); err != nil {
			return sweep.Wallet{}, fmt.Errorf("derive path index %d: %w", index, err)
		}
	}

	privKey, err := key.ECPrivKey()
	if err != nil {
		return sweep.Wallet{}, fmt.Errorf("extract private key: %w", err)
	}
	ecdsaKey := privKey.ToECDSA()
	return sweep.Wallet{
		Address:    crypto.PubkeyToAddress(ecdsaKey.PublicKey),
		PrivateKey: ecdsaKey,
	}, nil
}

// ValidDestination reports whether s is a well-formed 0x address.
func ValidDestination(s string) bool {
	return common.IsHexAddress(s)
}
