// Package bolt is the primary store.Storage backend: one bbolt bucket per
// column family, mirroring the disjoint-bucket layout used for similarly
// shaped ledger state elsewhere in the ecosystem.
package bolt

import (
	"encoding/binary"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/tangleforge/tnode/internal/codec"
	"github.com/tangleforge/tnode/internal/store"
	"github.com/tangleforge/tnode/internal/tmsg"
)

var (
	bucketMessages      = []byte("messages")
	bucketMetadata      = []byte("metadata")
	bucketApprovers     = []byte("approvers")
	bucketMilestones    = []byte("milestones")
	bucketOutputs       = []byte("outputs")
	bucketSpent         = []byte("spent")
	bucketUnspent       = []byte("unspent")
	bucketAddressOutput = []byte("address_outputs")
	bucketSEPs          = []byte("seps")
	bucketLedgerIndex   = []byte("ledger_index")
	bucketSnapshotInfo  = []byte("snapshot_info")
	bucketIndexation    = []byte("indexation")

	allBuckets = [][]byte{
		bucketMessages, bucketMetadata, bucketApprovers, bucketMilestones,
		bucketOutputs, bucketSpent, bucketUnspent, bucketAddressOutput,
		bucketSEPs, bucketLedgerIndex, bucketSnapshotInfo, bucketIndexation,
	}

	ledgerIndexKey  = []byte("index")
	snapshotInfoKey = []byte("info")
)

// Store is a bbolt-backed store.Storage.
type Store struct {
	db *bolt.DB
}

// Open opens (creating if necessary) a bbolt database at path and ensures
// every column-family bucket exists.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("bolt: open %s: %w", path, err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		for _, b := range allBuckets {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("bolt: create bucket %s: %w", b, err)
			}
		}
		return nil
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func put(db *bolt.DB, bucket, key, value []byte) error {
	return db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucket).Put(key, value)
	})
}

func get(db *bolt.DB, bucket, key []byte) ([]byte, bool, error) {
	var out []byte
	err := db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucket).Get(key)
		if v == nil {
			return nil
		}
		out = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return out, out != nil, nil
}

func del(db *bolt.DB, bucket, key []byte) error {
	return db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucket).Delete(key)
	})
}

func (s *Store) PutMessage(id tmsg.MessageId, msg *tmsg.Message) error {
	data, err := codec.Pack(msg)
	if err != nil {
		return err
	}
	return put(s.db, bucketMessages, id[:], data)
}

func (s *Store) GetMessage(id tmsg.MessageId) (*tmsg.Message, bool, error) {
	data, ok, err := get(s.db, bucketMessages, id[:])
	if err != nil || !ok {
		return nil, ok, err
	}
	var msg tmsg.Message
	if err := codec.Unpack(data, &msg); err != nil {
		return nil, false, err
	}
	return &msg, true, nil
}

func (s *Store) DeleteMessage(id tmsg.MessageId) error {
	return del(s.db, bucketMessages, id[:])
}

func (s *Store) PutMetadata(id tmsg.MessageId, md *tmsg.MessageMetadata) error {
	data, err := codec.Pack(md)
	if err != nil {
		return err
	}
	return put(s.db, bucketMetadata, id[:], data)
}

func (s *Store) GetMetadata(id tmsg.MessageId) (*tmsg.MessageMetadata, bool, error) {
	data, ok, err := get(s.db, bucketMetadata, id[:])
	if err != nil || !ok {
		return nil, ok, err
	}
	var md tmsg.MessageMetadata
	if err := codec.Unpack(data, &md); err != nil {
		return nil, false, err
	}
	return &md, true, nil
}

func (s *Store) DeleteMetadata(id tmsg.MessageId) error {
	return del(s.db, bucketMetadata, id[:])
}

// approver keys are parent(32) || child(32); GetApprovers scans the
// parent's key prefix.
func approverKey(parent, child tmsg.MessageId) []byte {
	key := make([]byte, 0, 64)
	key = append(key, parent[:]...)
	key = append(key, child[:]...)
	return key
}

func (s *Store) AddApprover(parent, child tmsg.MessageId) error {
	return put(s.db, bucketApprovers, approverKey(parent, child), []byte{1})
}

func (s *Store) GetApprovers(parent tmsg.MessageId) ([]tmsg.MessageId, error) {
	var out []tmsg.MessageId
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketApprovers).Cursor()
		prefix := parent[:]
		for k, _ := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, _ = c.Next() {
			var child tmsg.MessageId
			copy(child[:], k[32:64])
			out = append(out, child)
		}
		return nil
	})
	return out, err
}

func (s *Store) DeleteApprovers(parent tmsg.MessageId) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketApprovers)
		c := b.Cursor()
		prefix := parent[:]
		var keys [][]byte
		for k, _ := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, _ = c.Next() {
			keys = append(keys, append([]byte(nil), k...))
		}
		for _, k := range keys {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

func hasPrefix(b, prefix []byte) bool {
	return len(b) >= len(prefix) && string(b[:len(prefix)]) == string(prefix)
}

func milestoneKey(index uint32) []byte {
	key := make([]byte, 4)
	binary.BigEndian.PutUint32(key, index)
	return key
}

func (s *Store) PutMilestone(index uint32, ms *tmsg.MilestonePayload) error {
	data, err := codec.Pack(ms)
	if err != nil {
		return err
	}
	return put(s.db, bucketMilestones, milestoneKey(index), data)
}

func (s *Store) GetMilestone(index uint32) (*tmsg.MilestonePayload, bool, error) {
	data, ok, err := get(s.db, bucketMilestones, milestoneKey(index))
	if err != nil || !ok {
		return nil, ok, err
	}
	var ms tmsg.MilestonePayload
	if err := codec.Unpack(data, &ms); err != nil {
		return nil, false, err
	}
	return &ms, true, nil
}

func (s *Store) DeleteMilestone(index uint32) error {
	return del(s.db, bucketMilestones, milestoneKey(index))
}

func outputIdKey(id tmsg.OutputId) []byte {
	data, _ := codec.Pack(&id)
	return data
}

func (s *Store) PutOutput(id tmsg.OutputId, out tmsg.Output) error {
	data, err := codec.Pack(&out)
	if err != nil {
		return err
	}
	return put(s.db, bucketOutputs, outputIdKey(id), data)
}

func (s *Store) GetOutput(id tmsg.OutputId) (tmsg.Output, bool, error) {
	data, ok, err := get(s.db, bucketOutputs, outputIdKey(id))
	if err != nil || !ok {
		return tmsg.Output{}, ok, err
	}
	var out tmsg.Output
	if err := codec.Unpack(data, &out); err != nil {
		return tmsg.Output{}, false, err
	}
	return out, true, nil
}

func (s *Store) DeleteOutput(id tmsg.OutputId) error {
	return del(s.db, bucketOutputs, outputIdKey(id))
}

func (s *Store) PutSpent(id tmsg.OutputId, spent tmsg.SpentOutput) error {
	data, err := codec.Pack(&spent)
	if err != nil {
		return err
	}
	return put(s.db, bucketSpent, outputIdKey(id), data)
}

func (s *Store) GetSpent(id tmsg.OutputId) (tmsg.SpentOutput, bool, error) {
	data, ok, err := get(s.db, bucketSpent, outputIdKey(id))
	if err != nil || !ok {
		return tmsg.SpentOutput{}, ok, err
	}
	var sp tmsg.SpentOutput
	if err := codec.Unpack(data, &sp); err != nil {
		return tmsg.SpentOutput{}, false, err
	}
	return sp, true, nil
}

func (s *Store) DeleteSpent(id tmsg.OutputId) error {
	return del(s.db, bucketSpent, outputIdKey(id))
}

func (s *Store) AddUnspent(id tmsg.OutputId) error {
	return put(s.db, bucketUnspent, outputIdKey(id), []byte{1})
}

func (s *Store) RemoveUnspent(id tmsg.OutputId) error {
	return del(s.db, bucketUnspent, outputIdKey(id))
}

func (s *Store) IsUnspent(id tmsg.OutputId) (bool, error) {
	_, ok, err := get(s.db, bucketUnspent, outputIdKey(id))
	return ok, err
}

func (s *Store) ForEachUnspent(fn func(tmsg.OutputId) error) error {
	var ids []tmsg.OutputId
	if err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketUnspent).ForEach(func(k, _ []byte) error {
			var id tmsg.OutputId
			if err := codec.Unpack(k, &id); err != nil {
				return err
			}
			ids = append(ids, id)
			return nil
		})
	}); err != nil {
		return err
	}
	for _, id := range ids {
		if err := fn(id); err != nil {
			return err
		}
	}
	return nil
}

func addressOutputKey(addr tmsg.Address, id tmsg.OutputId) ([]byte, error) {
	addrBytes, err := codec.Pack(addr)
	if err != nil {
		return nil, err
	}
	key := append(addrBytes, outputIdKey(id)...)
	return key, nil
}

func (s *Store) AddAddressOutput(addr tmsg.Address, id tmsg.OutputId) error {
	key, err := addressOutputKey(addr, id)
	if err != nil {
		return err
	}
	return put(s.db, bucketAddressOutput, key, []byte{1})
}

func (s *Store) RemoveAddressOutput(addr tmsg.Address, id tmsg.OutputId) error {
	key, err := addressOutputKey(addr, id)
	if err != nil {
		return err
	}
	return del(s.db, bucketAddressOutput, key)
}

func (s *Store) ListAddressOutputs(addr tmsg.Address) ([]tmsg.OutputId, error) {
	addrBytes, err := codec.Pack(addr)
	if err != nil {
		return nil, err
	}
	var out []tmsg.OutputId
	err = s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketAddressOutput).Cursor()
		for k, _ := c.Seek(addrBytes); k != nil && hasPrefix(k, addrBytes); k, _ = c.Next() {
			var id tmsg.OutputId
			if err := codec.Unpack(k[len(addrBytes):], &id); err != nil {
				return err
			}
			out = append(out, id)
		}
		return nil
	})
	return out, err
}

func (s *Store) AddSolidEntryPoint(id tmsg.MessageId) error {
	return put(s.db, bucketSEPs, id[:], []byte{1})
}

func (s *Store) RemoveSolidEntryPoint(id tmsg.MessageId) error {
	return del(s.db, bucketSEPs, id[:])
}

func (s *Store) IsSolidEntryPoint(id tmsg.MessageId) (bool, error) {
	_, ok, err := get(s.db, bucketSEPs, id[:])
	return ok, err
}

func (s *Store) ListSolidEntryPoints() ([]tmsg.MessageId, error) {
	var out []tmsg.MessageId
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSEPs).ForEach(func(k, _ []byte) error {
			var id tmsg.MessageId
			copy(id[:], k)
			out = append(out, id)
			return nil
		})
	})
	return out, err
}

func (s *Store) TruncateSolidEntryPoints() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(bucketSEPs); err != nil {
			return err
		}
		_, err := tx.CreateBucket(bucketSEPs)
		return err
	})
}

func (s *Store) SetLedgerIndex(index uint32) error {
	return put(s.db, bucketLedgerIndex, ledgerIndexKey, milestoneKey(index))
}

func (s *Store) GetLedgerIndex() (uint32, error) {
	data, ok, err := get(s.db, bucketLedgerIndex, ledgerIndexKey)
	if err != nil || !ok {
		return 0, err
	}
	return binary.BigEndian.Uint32(data), nil
}

func (s *Store) SetSnapshotInfo(info store.SnapshotInfo) error {
	data := make([]byte, 8+4+4+4+8)
	binary.LittleEndian.PutUint64(data[0:8], info.NetworkId)
	binary.LittleEndian.PutUint32(data[8:12], info.SnapshotIndex)
	binary.LittleEndian.PutUint32(data[12:16], info.EntryPointIndex)
	binary.LittleEndian.PutUint32(data[16:20], info.PruningIndex)
	binary.LittleEndian.PutUint64(data[20:28], info.Timestamp)
	return put(s.db, bucketSnapshotInfo, snapshotInfoKey, data)
}

func (s *Store) GetSnapshotInfo() (store.SnapshotInfo, bool, error) {
	data, ok, err := get(s.db, bucketSnapshotInfo, snapshotInfoKey)
	if err != nil || !ok {
		return store.SnapshotInfo{}, ok, err
	}
	if len(data) != 28 {
		return store.SnapshotInfo{}, false, fmt.Errorf("bolt: corrupt snapshot_info record")
	}
	info := store.SnapshotInfo{
		NetworkId:       binary.LittleEndian.Uint64(data[0:8]),
		SnapshotIndex:   binary.LittleEndian.Uint32(data[8:12]),
		EntryPointIndex: binary.LittleEndian.Uint32(data[12:16]),
		PruningIndex:    binary.LittleEndian.Uint32(data[16:20]),
		Timestamp:       binary.LittleEndian.Uint64(data[20:28]),
	}
	return info, true, nil
}

func (s *Store) AddIndexationEntry(index tmsg.HashedIndex, id tmsg.MessageId) error {
	key := append(append([]byte(nil), index[:]...), id[:]...)
	return put(s.db, bucketIndexation, key, []byte{1})
}

func (s *Store) ListIndexationEntries(index tmsg.HashedIndex) ([]tmsg.MessageId, error) {
	var out []tmsg.MessageId
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketIndexation).Cursor()
		prefix := index[:]
		for k, _ := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, _ = c.Next() {
			var id tmsg.MessageId
			copy(id[:], k[len(prefix):])
			out = append(out, id)
		}
		return nil
	})
	return out, err
}

var _ store.Storage = (*Store)(nil)
