package evm

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Well-known development mnemonic with a published m/44'/60'/0'/0/0 address.
const devMnemonic = "test test test test test test test test test test test junk"

func TestDeriveWalletKnownVector(t *testing.T) {
	w, err := DeriveWallet(devMnemonic)
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"), w.Address)
	require.NotNil(t, w.PrivateKey)
}

func TestDeriveWalletIsDeterministic(t *testing.T) {
	a, err := DeriveWallet(devMnemonic)
	require.NoError(t, err)
	b, err := DeriveWallet("  TEST test test test test test test test test test test JUNK  ")
	require.NoError(t, err)
	assert.Equal(t, a.Address, b.Address, "derivation normalizes case and whitespace")
}

func TestDeriveWalletRejectsInvalidPhrase(t *testing.T) {
	_, err := DeriveWallet("not a valid phrase")
	assert.Error(t, err)

	_, err = DeriveWallet("")
	assert.Error(t, err)
}

func TestValidDestination(t *testing.T) {
	assert.True(t, ValidDestination("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"))
	assert.False(t, ValidDestination("f39Fd6e51aad88F6F4ce"))
	assert.False(t, ValidDestination(""))
	assert.False(t, ValidDestination("bc1qxy2kgdygjrsqtzq2n0yrf2493p83kkfjhx0wlh"))
}

func TestERC20PackingRoundTrip(t *testing.T) {
	owner := common.HexToAddress("0xaa")
	data, err := packBalanceOf(owner)
	require.NoError(t, err)
	assert.Len(t, data, 4+32, "selector plus one padded argument")

	transfer, err := packTransfer(common.HexToAddress("0xbb"), big.NewInt(12345))
	require.NoError(t, err)
	assert.Len(t, transfer, 4+32+32)

	// balanceOf output decoding
	out := make([]byte, 32)
	out[31] = 42
	balance, err := unpackBalanceOf(out)
	require.NoError(t, err)
	assert.Equal(t, int64(42), balance.Int64())
}
