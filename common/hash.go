package common

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"

	ethereumCommon "github.com/ethereum/go-ethereum/common"
	"golang.org/x/crypto/blake2b"
)

// Hash is a custom type based on Ethereum's common.Hash
type Hash ethereumCommon.Hash

// TopoHeight is the topological ordering index assigned to a block.
type TopoHeight = uint64

// MaximumSupply is the hard cap on circulating atomic units. Aggregate
// fee/burn counters are bounded by this value so that an economic
// overflow surfaces as an error instead of a silent wrap.
const MaximumSupply uint64 = 18_000_000_000_000_000

// CoinValue is the number of atomic units per whole coin.
const CoinValue uint64 = 1_000_000_000

// NativeAsset is the asset identifier of the native coin (zero hash).
var NativeAsset = Hash{}

// Bytes returns the byte representation of the hash.
func (h Hash) Bytes() []byte {
	return ethereumCommon.Hash(h).Bytes()
}

// Hex returns the hexadecimal string representation of the hash.
func (h Hash) Hex() string {
	return ethereumCommon.Hash(h).Hex()
}

// String returns the string representation of the hash.
func (h Hash) String() string {
	return ethereumCommon.Hash(h).String()
}

func (h Hash) StringShort() string {
	return fmt.Sprintf("%s..%s", h.Hex()[2:6], h.Hex()[62:66])
}

func (h Hash) IsZero() bool {
	return h == Hash{}
}

// Cmp compares two hashes byte-wise; used for canonical ordering.
func (h Hash) Cmp(other Hash) int {
	return bytes.Compare(h[:], other[:])
}

func (h Hash) MarshalJSON() ([]byte, error) {
	return json.Marshal(h.Hex())
}

func (h *Hash) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*h = HexToHash(s)
	return nil
}

// BytesToHash converts a byte slice to a Hash.
func BytesToHash(b []byte) Hash {
	return Hash(ethereumCommon.BytesToHash(b))
}

// HexToHash converts a hexadecimal string to a Hash.
func HexToHash(s string) Hash {
	return Hash(ethereumCommon.HexToHash(s))
}

// Blake2Hash computes the BLAKE2b-256 hash of the given data.
func Blake2Hash(data []byte) Hash {
	return Hash(blake2b.Sum256(data))
}

func Uint64ToBytes(val uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, val)
	return b
}

func BytesToUint64(data []byte) uint64 {
	if len(data) < 8 {
		panic("BytesToUint64: byte slice too short")
	}
	return binary.BigEndian.Uint64(data)
}
