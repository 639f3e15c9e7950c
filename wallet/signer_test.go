package wallet

import (
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Helper function to create a test private key
func createTestPrivKey(t *testing.T, seed byte) *btcec.PrivateKey {
	t.Helper()
	keyBytes := make([]byte, 32)
	for i := range keyBytes {
		keyBytes[i] = seed
	}
	privKey, _ := btcec.PrivKeyFromBytes(keyBytes)
	return privKey
}

func TestKeySignerSignsAndVerifies(t *testing.T) {
	signer := NewKeySigner(createTestPrivKey(t, 0x01), "Backbone")
	hash := chainhash.DoubleHashB([]byte("tx"))

	sig, err := signer.Sign(hash)
	require.NoError(t, err)
	assert.Len(t, sig, 64)
	assert.True(t, Verify(signer.PublicKey(), hash, sig))

	other := chainhash.DoubleHashB([]byte("other"))
	assert.False(t, Verify(signer.PublicKey(), other, sig))

	_, err = signer.Sign([]byte("short"))
	assert.ErrorIs(t, err, ErrInvalidHash)
}

func TestAddressDerivationIsStable(t *testing.T) {
	a := NewKeySigner(createTestPrivKey(t, 0x02), "Backbone")
	b := NewKeySigner(createTestPrivKey(t, 0x02), "Backbone")
	assert.Equal(t, a.Address(), b.Address())

	test := NewKeySigner(createTestPrivKey(t, 0x02), "testnet")
	assert.NotEqual(t, a.Address(), test.Address())

	require.NoError(t, ValidateAddress(a.Address()))
	require.NoError(t, ValidateAddress(test.Address()))
}

func TestNewKeySignerFromSeed(t *testing.T) {
	a, err := NewKeySignerFromSeed([]byte("alice"), "Backbone")
	require.NoError(t, err)
	b, err := NewKeySignerFromSeed([]byte("alice"), "Backbone")
	require.NoError(t, err)
	assert.Equal(t, a.Address(), b.Address())

	_, err = NewKeySignerFromSeed(nil, "Backbone")
	assert.Error(t, err)
}

func TestValidateAddressRejectsGarbage(t *testing.T) {
	tests := []struct {
		name string
		addr string
	}{
		{"empty", ""},
		{"not base58", "0OIl"},
		{"bad checksum", "1111111111111111111114oLvT3"},
		{"plain word", "bob"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, ValidateAddress(tt.addr), ErrInvalidAddress)
		})
	}
}
