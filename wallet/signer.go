// Package wallet holds the signing side of composition: the Signer port the
// composer calls at assembly time and a key-backed implementation.
package wallet

import (
	"crypto/sha256"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/base58"
)

var (
	// ErrInvalidAddress is returned for strings that are not wallet addresses.
	ErrInvalidAddress = errors.New("invalid wallet address")

	// ErrInvalidHash is returned when asked to sign something that is not a
	// 32-byte transaction hash.
	ErrInvalidHash = errors.New("hash must be 32 bytes")
)

// Address version bytes per network
var networkVersions = map[string]byte{
	"mainnet":        0x1c,
	"Backbone":       0x1c,
	"testnet":        0x6f,
	"mileena":        0x4d,
	"kelvin-testnet": 0x4b,
	"KelVPN":         0x4b,
}

const defaultVersion byte = 0x1c

// Signer signs transaction hashes on behalf of one wallet.
type Signer interface {
	// Address is the wallet address that owns spent inputs and receives change.
	Address() string
	// Sign signs a 32-byte transaction hash.
	Sign(hash []byte) ([]byte, error)
}

// KeySigner signs with a secp256k1 key using BIP-340 schnorr signatures.
type KeySigner struct {
	key     *btcec.PrivateKey
	address string
}

// NewKeySigner creates a signer for key whose address is encoded for network.
func NewKeySigner(key *btcec.PrivateKey, network string) *KeySigner {
	return &KeySigner{
		key:     key,
		address: AddressFromPubKey(key.PubKey(), network),
	}
}

// NewKeySignerFromSeed derives the key as SHA-256 of seed.
func NewKeySignerFromSeed(seed []byte, network string) (*KeySigner, error) {
	if len(seed) == 0 {
		return nil, errors.New("seed is required")
	}
	sum := sha256.Sum256(seed)
	key, _ := btcec.PrivKeyFromBytes(sum[:])
	return NewKeySigner(key, network), nil
}

// Address implements Signer.
func (k *KeySigner) Address() string { return k.address }

// PublicKey returns the signer's public key.
func (k *KeySigner) PublicKey() *btcec.PublicKey { return k.key.PubKey() }

// Sign implements Signer.
func (k *KeySigner) Sign(hash []byte) ([]byte, error) {
	if len(hash) != 32 {
		return nil, ErrInvalidHash
	}
	sig, err := schnorr.Sign(k.key, hash)
	if err != nil {
		return nil, fmt.Errorf("schnorr sign: %w", err)
	}
	return sig.Serialize(), nil
}

// Verify checks a signature produced by KeySigner.Sign.
func Verify(pub *btcec.PublicKey, hash, sig []byte) bool {
	parsed, err := schnorr.ParseSignature(sig)
	if err != nil {
		return false
	}
	return parsed.Verify(hash, pub)
}

// NetworkVersion returns the address version byte used on network.
func NetworkVersion(network string) byte {
	if v, ok := networkVersions[network]; ok {
		return v
	}
	return defaultVersion
}

// AddressFromPubKey encodes base58check(version, Hash160(pubkey)).
func AddressFromPubKey(pub *btcec.PublicKey, network string) string {
	return base58.CheckEncode(btcutil.Hash160(pub.SerializeCompressed()), NetworkVersion(network))
}

// ValidateAddress checks that addr is a base58check wallet address with a
// known version byte.
func ValidateAddress(addr string) error {
	if addr == "" {
		return fmt.Errorf("%w: empty", ErrInvalidAddress)
	}
	payload, version, err := base58.CheckDecode(addr)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	if len(payload) != 20 {
		return fmt.Errorf("%w: payload is %d bytes", ErrInvalidAddress, len(payload))
	}
	for _, v := range networkVersions {
		if v == version {
			return nil
		}
	}
	return fmt.Errorf("%w: unknown version 0x%02x", ErrInvalidAddress, version)
}
