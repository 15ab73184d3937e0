package storage

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/rlp"
	"github.com/syndtr/goleveldb/leveldb"
	ldbstorage "github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/tos-network/gtos/common"
	"github.com/tos-network/gtos/log"
	"github.com/tos-network/gtos/types"
)

// Key layout. Versioned records append the big-endian topoheight so
// that a reverse scan within the account (or account+asset) range
// yields the latest record first.
//
//	'n' || account(32) || topo(8)              -> uint64 big-endian nonce
//	'b' || account(32) || asset(32) || topo(8) -> uint64 big-endian balance
//	'm' || account(32) || topo(8)              -> rlp(multisigRecord)
//	'r' || account(32)                         -> topo(8) of registration
const (
	prefixNonce    = byte('n')
	prefixBalance  = byte('b')
	prefixMultisig = byte('m')
	prefixAccount  = byte('r')
)

// multisigRecord is the on-disk form of a multisig update. Removed
// distinguishes an explicit deletion from a configured state, so that
// a later read does not fall through to an older configuration.
type multisigRecord struct {
	Removed      bool
	Threshold    uint8
	Participants []common.PublicKey
}

// LevelDBStore implements Storage on top of goleveldb.
type LevelDBStore struct {
	db      *leveldb.DB
	mainnet bool
}

var _ Storage = (*LevelDBStore)(nil)

// NewLevelDBStore opens (or creates) a store at path.
func NewLevelDBStore(path string, mainnet bool) (*LevelDBStore, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("open leveldb at %s: %w", path, err)
	}
	log.Info(log.StorageMonitoring, "opened account store", "path", path, "mainnet", mainnet)
	return &LevelDBStore{db: db, mainnet: mainnet}, nil
}

// NewMemoryStore returns a store backed by an in-memory database,
// used by tests and the replay tool.
func NewMemoryStore(mainnet bool) *LevelDBStore {
	db, err := leveldb.Open(ldbstorage.NewMemStorage(), nil)
	if err != nil {
		panic(err) // memory open cannot fail
	}
	return &LevelDBStore{db: db, mainnet: mainnet}
}

func (s *LevelDBStore) IsMainnet() bool { return s.mainnet }

func (s *LevelDBStore) Close() error { return s.db.Close() }

func nonceKey(account common.PublicKey, topo common.TopoHeight) []byte {
	k := make([]byte, 0, 1+32+8)
	k = append(k, prefixNonce)
	k = append(k, account.Bytes()...)
	return append(k, common.Uint64ToBytes(uint64(topo))...)
}

func balanceKey(account common.PublicKey, asset common.Hash, topo common.TopoHeight) []byte {
	k := make([]byte, 0, 1+32+32+8)
	k = append(k, prefixBalance)
	k = append(k, account.Bytes()...)
	k = append(k, asset.Bytes()...)
	return append(k, common.Uint64ToBytes(uint64(topo))...)
}

func multisigKey(account common.PublicKey, topo common.TopoHeight) []byte {
	k := make([]byte, 0, 1+32+8)
	k = append(k, prefixMultisig)
	k = append(k, account.Bytes()...)
	return append(k, common.Uint64ToBytes(uint64(topo))...)
}

func accountKey(account common.PublicKey) []byte {
	k := make([]byte, 0, 1+32)
	k = append(k, prefixAccount)
	return append(k, account.Bytes()...)
}

// latestAtOrBelow scans the versioned range [base||0, base||maxTopo]
// and returns the value and topoheight of the newest record. The
// exclusive limit is base||maxTopo incremented by one in the last
// byte position, which is always representable since the topo suffix
// of the start key is strictly smaller.
func (s *LevelDBStore) latestAtOrBelow(base []byte, maxTopo common.TopoHeight) (value []byte, topo common.TopoHeight, found bool, err error) {
	start := make([]byte, 0, len(base)+8)
	start = append(start, base...)
	start = append(start, common.Uint64ToBytes(0)...)

	limit := make([]byte, 0, len(base)+8)
	limit = append(limit, base...)
	limit = append(limit, common.Uint64ToBytes(uint64(maxTopo))...)
	limit = incremented(limit)

	iter := s.db.NewIterator(&util.Range{Start: start, Limit: limit}, nil)
	defer iter.Release()
	if !iter.Last() {
		return nil, 0, false, iter.Error()
	}
	key := iter.Key()
	topo = common.TopoHeight(common.BytesToUint64(key[len(key)-8:]))
	value = append([]byte(nil), iter.Value()...)
	if err := iter.Error(); err != nil {
		return nil, 0, false, err
	}
	return value, topo, true, nil
}

// incremented returns the smallest byte slice strictly greater than b,
// treating b as a big-endian number. All-0xff input would have no
// successor of the same length, but our callers always embed a key
// prefix byte below 0xff so the carry terminates.
func incremented(b []byte) []byte {
	out := append([]byte(nil), b...)
	for i := len(out) - 1; i >= 0; i-- {
		out[i]++
		if out[i] != 0 {
			break
		}
	}
	return out
}

func (s *LevelDBStore) GetNonceAtMaximumTopoHeight(ctx context.Context, account common.PublicKey, maxTopo common.TopoHeight) (uint64, common.TopoHeight, bool, error) {
	if err := ctx.Err(); err != nil {
		return 0, 0, false, err
	}
	base := append([]byte{prefixNonce}, account.Bytes()...)
	value, topo, found, err := s.latestAtOrBelow(base, maxTopo)
	if err != nil || !found {
		return 0, 0, false, err
	}
	if len(value) != 8 {
		return 0, 0, false, fmt.Errorf("corrupt nonce record for %s at %d: %d bytes", account.Hex(), topo, len(value))
	}
	return common.BytesToUint64(value), topo, true, nil
}

func (s *LevelDBStore) SetLastNonceTo(ctx context.Context, account common.PublicKey, topo common.TopoHeight, nonce uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Put(nonceKey(account, topo), common.Uint64ToBytes(nonce), nil)
}

func (s *LevelDBStore) GetBalanceAtMaximumTopoHeight(ctx context.Context, account common.PublicKey, asset common.Hash, maxTopo common.TopoHeight) (uint64, common.TopoHeight, bool, error) {
	if err := ctx.Err(); err != nil {
		return 0, 0, false, err
	}
	base := make([]byte, 0, 1+32+32)
	base = append(base, prefixBalance)
	base = append(base, account.Bytes()...)
	base = append(base, asset.Bytes()...)
	value, topo, found, err := s.latestAtOrBelow(base, maxTopo)
	if err != nil || !found {
		return 0, 0, false, err
	}
	if len(value) != 8 {
		return 0, 0, false, fmt.Errorf("corrupt balance record for %s asset %s at %d: %d bytes", account.Hex(), asset.StringShort(), topo, len(value))
	}
	return common.BytesToUint64(value), topo, true, nil
}

func (s *LevelDBStore) SetLastBalanceTo(ctx context.Context, account common.PublicKey, asset common.Hash, topo common.TopoHeight, balance uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Put(balanceKey(account, asset, topo), common.Uint64ToBytes(balance), nil)
}

func (s *LevelDBStore) GetMultisigAtMaximumTopoHeight(ctx context.Context, account common.PublicKey, maxTopo common.TopoHeight) (*types.MultiSigPayload, common.TopoHeight, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, false, err
	}
	base := append([]byte{prefixMultisig}, account.Bytes()...)
	value, topo, found, err := s.latestAtOrBelow(base, maxTopo)
	if err != nil || !found {
		return nil, 0, false, err
	}
	var record multisigRecord
	if err := rlp.DecodeBytes(value, &record); err != nil {
		return nil, 0, false, fmt.Errorf("corrupt multisig record for %s at %d: %w", account.Hex(), topo, err)
	}
	if record.Removed {
		return nil, topo, true, nil
	}
	return &types.MultiSigPayload{
		Threshold:    record.Threshold,
		Participants: record.Participants,
	}, topo, true, nil
}

func (s *LevelDBStore) SetLastMultisigTo(ctx context.Context, account common.PublicKey, topo common.TopoHeight, config *types.MultiSigPayload) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	record := multisigRecord{Removed: config == nil}
	if config != nil {
		record.Threshold = config.Threshold
		record.Participants = config.Participants
	}
	encoded, err := rlp.EncodeToBytes(&record)
	if err != nil {
		return fmt.Errorf("encode multisig record: %w", err)
	}
	return s.db.Put(multisigKey(account, topo), encoded, nil)
}

func (s *LevelDBStore) HasAccount(ctx context.Context, account common.PublicKey) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	has, err := s.db.Has(accountKey(account), nil)
	if err != nil {
		return false, err
	}
	return has, nil
}

func (s *LevelDBStore) RegisterAccount(ctx context.Context, account common.PublicKey, topo common.TopoHeight) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	has, err := s.db.Has(accountKey(account), nil)
	if err != nil {
		return err
	}
	if has {
		return nil // registration is first-appearance only
	}
	log.Debug(log.StorageMonitoring, "registering account", "account", account.Hex(), "topoheight", topo)
	return s.db.Put(accountKey(account), common.Uint64ToBytes(uint64(topo)), nil)
}
