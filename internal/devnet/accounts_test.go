package devnet

import (
	"strings"
	"testing"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddressOfKnownKey(t *testing.T) {
	var one secp256k1.ModNScalar
	one.SetInt(1)
	priv := secp256k1.NewPrivateKey(&one)
	assert.Equal(t, "0x7e5f4552091a69125d5dfcb7b8c2659029395bdf", AddressOf(priv.PubKey()))
}

func TestDeriveAccountsIsDeterministic(t *testing.T) {
	a, err := DeriveAccounts("goOracled devnet", 20)
	require.NoError(t, err)
	b, err := DeriveAccounts("goOracled devnet", 20)
	require.NoError(t, err)
	assert.Equal(t, Addresses(a), Addresses(b))

	seen := make(map[string]bool)
	for _, acct := range a {
		assert.True(t, strings.HasPrefix(acct.Address, "0x"))
		assert.Len(t, acct.Address, 42)
		assert.Equal(t, strings.ToLower(acct.Address), acct.Address)
		assert.Len(t, acct.PrivateKeyHex(), 66)
		assert.Equal(t, acct.Address, AddressOf(acct.PrivateKey.PubKey()))
		assert.False(t, seen[acct.Address], "duplicate address %s", acct.Address)
		seen[acct.Address] = true
	}
}

func TestDeriveAccountsSeedMatters(t *testing.T) {
	a, err := DeriveAccounts("seed one", 3)
	require.NoError(t, err)
	b, err := DeriveAccounts("seed two", 3)
	require.NoError(t, err)
	assert.NotEqual(t, Addresses(a), Addresses(b))

	prefix, err := DeriveAccounts("seed one", 2)
	require.NoError(t, err)
	assert.Equal(t, Addresses(a)[:2], Addresses(prefix))
}

func TestDeriveAccountsRejectsNegative(t *testing.T) {
	_, err := DeriveAccounts("x", -1)
	assert.Error(t, err)

	none, err := DeriveAccounts("x", 0)
	require.NoError(t, err)
	assert.Empty(t, none)
}
