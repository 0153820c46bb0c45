package ledger

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// Signer holds the keyed MAC material for one address. Per spec §1, real
// cryptographic signatures are a non-goal: a keyed one-way MAC over the
// transaction digest stands in for a signature.
type Signer struct {
	Address string
	Key     []byte
}

// Sign returns the MAC of txid under the signer's key.
func (s Signer) Sign(txid string) string {
	mac := hmac.New(sha256.New, s.Key)
	mac.Write([]byte(txid))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature reports whether sig is the valid MAC of txid under key.
func VerifySignature(txid, sig string, key []byte) bool {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(txid))
	expected := mac.Sum(nil)
	got, err := hex.DecodeString(sig)
	if err != nil {
		return false
	}
	return hmac.Equal(expected, got)
}

// KeyStore resolves an address to its MAC key. The ledger is agnostic to
// how keys are distributed; the node orchestrator's demo harness is the
// one collaborator that actually owns a KeyStore of its simulated
// accounts.
type KeyStore interface {
	KeyFor(address string) ([]byte, bool)
}

// MapKeyStore is the simplest KeyStore: a plain map, good enough for a
// single-process simulation where every account's key is known locally.
type MapKeyStore map[string][]byte

func (m MapKeyStore) KeyFor(address string) ([]byte, bool) {
	k, ok := m[address]
	return k, ok
}
