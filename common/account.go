package common

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// PublicKey identifies an account on chain. It is the compressed
// public key of the account owner; the execution core treats it as an
// opaque 32-byte identifier.
type PublicKey [32]byte

const (
	mainnetAddressPrefix = "tos"
	testnetAddressPrefix = "tst"
)

// Address returns the human-readable form of the key. The mainnet flag
// only changes the prefix, never the identity.
func (p PublicKey) Address(mainnet bool) string {
	prefix := testnetAddressPrefix
	if mainnet {
		prefix = mainnetAddressPrefix
	}
	return fmt.Sprintf("%s:%s", prefix, hex.EncodeToString(p[:]))
}

func (p PublicKey) Bytes() []byte {
	return p[:]
}

func (p PublicKey) Hex() string {
	return "0x" + hex.EncodeToString(p[:])
}

func (p PublicKey) String() string {
	return p.Hex()
}

// Cmp compares two keys byte-wise; used for canonical ordering during
// the merge stage.
func (p PublicKey) Cmp(other PublicKey) int {
	return bytes.Compare(p[:], other[:])
}

func (p PublicKey) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.Hex())
}

func (p *PublicKey) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	copy(p[:], FromHex(s))
	return nil
}

// BytesToPublicKey converts a byte slice to a PublicKey, truncating or
// left-padding like BytesToHash.
func BytesToPublicKey(b []byte) PublicKey {
	var p PublicKey
	if len(b) > len(p) {
		b = b[len(b)-len(p):]
	}
	copy(p[len(p)-len(b):], b)
	return p
}

// FromHex decodes a hex string with optional 0x prefix.
func FromHex(s string) []byte {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		s = s[2:]
	}
	if len(s)%2 == 1 {
		s = "0" + s
	}
	b, _ := hex.DecodeString(s)
	return b
}
