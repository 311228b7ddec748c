package devnet

import (
	"encoding/binary"
	"encoding/hex"
	"errors"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"golang.org/x/crypto/sha3"
)

// Account is a development account with a known private key.
type Account struct {
	Address    string
	PrivateKey *secp256k1.PrivateKey
}

// PrivateKeyHex returns the private key as 0x-prefixed hex.
func (a Account) PrivateKeyHex() string {
	b := a.PrivateKey.Key.Bytes()
	return "0x" + hex.EncodeToString(b[:])
}

// DeriveAccounts derives n accounts from seed. Account i uses the private key
// keccak256(seed || uint32be(i)); keys falling outside the curve order are
// rehashed.
func DeriveAccounts(seed string, n int) ([]Account, error) {
	if n < 0 {
		return nil, errors.New("negative account count")
	}
	out := make([]Account, n)
	for i := range out {
		buf := make([]byte, len(seed)+4)
		copy(buf, seed)
		binary.BigEndian.PutUint32(buf[len(seed):], uint32(i))
		key := keccak256(buf)

		var scalar secp256k1.ModNScalar
		for overflow := scalar.SetByteSlice(key); overflow || scalar.IsZero(); overflow = scalar.SetByteSlice(key) {
			key = keccak256(key)
		}

		priv := secp256k1.NewPrivateKey(&scalar)
		out[i] = Account{
			Address:    AddressOf(priv.PubKey()),
			PrivateKey: priv,
		}
	}
	return out, nil
}

// AddressOf returns the lowercase 0x-prefixed address of pub: the last 20
// bytes of the keccak256 of its uncompressed coordinates.
func AddressOf(pub *secp256k1.PublicKey) string {
	raw := pub.SerializeUncompressed()
	sum := keccak256(raw[1:])
	return "0x" + hex.EncodeToString(sum[12:])
}

// Addresses returns the addresses of accounts in order.
func Addresses(accounts []Account) []string {
	out := make([]string, len(accounts))
	for i, a := range accounts {
		out[i] = a.Address
	}
	return out
}

func keccak256(data []byte) []byte {
	h := sha3.NewLegacyKeccak256()
	h.Write(data)
	return h.Sum(nil)
}
