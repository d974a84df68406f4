// Package tangle is the in-memory, bounded view over the message DAG: a
// cache of recently touched messages and their metadata, backed by
// store.Storage for everything that falls out of the cache.
package tangle

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/tangleforge/tnode/internal/store"
	"github.com/tangleforge/tnode/internal/tmsg"
	"github.com/tangleforge/tnode/pkg/logging"
)

// DefaultCacheCapacity is the ceiling ComputeCacheCapacity never exceeds,
// reached once the sync gap is wide.
const DefaultCacheCapacity = 100_000

// MinCacheCapacity is the floor ComputeCacheCapacity never drops below,
// which is what a fully synced node (zero sync gap) gets.
const MinCacheCapacity = 8192

type entry struct {
	message  *tmsg.Message
	metadata *tmsg.MessageMetadata
}

// Tangle is a bounded LRU cache of messages and metadata over a durable
// store.Storage. Reads that miss the cache fall through to storage; writes
// go to storage first, then populate the cache, so an eviction under
// memory pressure never loses data.
type Tangle struct {
	mu    sync.Mutex
	cache *lru.Cache[tmsg.MessageId, *entry]
	store store.Storage
	log   *logging.Logger
}

// New builds a Tangle with the given initial cache capacity.
func New(s store.Storage, capacity int) (*Tangle, error) {
	if capacity < 1 {
		capacity = MinCacheCapacity
	}
	cache, err := lru.New[tmsg.MessageId, *entry](capacity)
	if err != nil {
		return nil, err
	}
	return &Tangle{
		cache: cache,
		store: s,
		log:   logging.GetDefault().Component("tangle"),
	}, nil
}

// ComputeCacheCapacity derives the cache size from how far behind the
// solid milestone is from the latest known one: 1000 + 500 per milestone of
// gap, clamped to [MinCacheCapacity, DefaultCacheCapacity]. A wide gap (just
// after startup, or after a long outage) grows the cache toward
// DefaultCacheCapacity; once the node catches up it shrinks back toward
// MinCacheCapacity.
func ComputeCacheCapacity(syncGap uint32) int {
	n := 1000 + int(syncGap)*500
	if n < MinCacheCapacity {
		n = MinCacheCapacity
	}
	if n > DefaultCacheCapacity {
		n = DefaultCacheCapacity
	}
	return n
}

// Resize changes the cache's capacity, evicting the least recently used
// entries if it shrinks.
func (t *Tangle) Resize(capacity int) {
	if capacity < 1 {
		capacity = MinCacheCapacity
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cache.Resize(capacity)
}

// GetMessage returns the message and its metadata, checking the cache
// before falling through to storage.
func (t *Tangle) GetMessage(id tmsg.MessageId) (*tmsg.Message, *tmsg.MessageMetadata, bool, error) {
	t.mu.Lock()
	if e, ok := t.cache.Get(id); ok {
		t.mu.Unlock()
		return e.message, e.metadata, true, nil
	}
	t.mu.Unlock()

	msg, ok, err := t.store.GetMessage(id)
	if err != nil || !ok {
		return nil, nil, false, err
	}
	md, ok, err := t.store.GetMetadata(id)
	if err != nil || !ok {
		return nil, nil, false, err
	}

	t.mu.Lock()
	t.cache.Add(id, &entry{message: msg, metadata: md})
	t.mu.Unlock()
	return msg, md, true, nil
}

// Contains reports whether id is already known, without materializing it
// into the cache.
func (t *Tangle) Contains(id tmsg.MessageId) (bool, error) {
	t.mu.Lock()
	if t.cache.Contains(id) {
		t.mu.Unlock()
		return true, nil
	}
	t.mu.Unlock()
	_, ok, err := t.store.GetMessage(id)
	return ok, err
}

// InsertMessage stores msg and a freshly initialized metadata record if it
// is not already known, then links it into both parents' approver sets.
// Insertion is idempotent: re-inserting a known message is a silent no-op.
func (t *Tangle) InsertMessage(id tmsg.MessageId, msg *tmsg.Message, arrivalTime uint64) (bool, error) {
	if known, err := t.Contains(id); err != nil {
		return false, err
	} else if known {
		return false, nil
	}

	md := &tmsg.MessageMetadata{ArrivalTime: arrivalTime}
	if err := t.store.PutMessage(id, msg); err != nil {
		return false, err
	}
	if err := t.store.PutMetadata(id, md); err != nil {
		return false, err
	}

	for _, parent := range msg.Parents() {
		if err := t.store.AddApprover(parent, id); err != nil {
			return false, err
		}
	}

	t.mu.Lock()
	t.cache.Add(id, &entry{message: msg, metadata: md})
	t.mu.Unlock()

	t.log.Debug("message inserted", "id", id, "parent1", msg.Parent1, "parent2", msg.Parent2)
	return true, nil
}

// GetApprovers returns the ids of messages that name id as a parent.
func (t *Tangle) GetApprovers(id tmsg.MessageId) ([]tmsg.MessageId, error) {
	return t.store.GetApprovers(id)
}

// UpdateMetadata applies fn to id's current metadata and persists the
// result, then updates the cached entry (if any) in place. If id has no
// stored metadata yet, fn receives a fresh zero-valued record.
func (t *Tangle) UpdateMetadata(id tmsg.MessageId, fn func(*tmsg.MessageMetadata)) error {
	md, ok, err := t.store.GetMetadata(id)
	if err != nil {
		return err
	}
	if !ok {
		md = &tmsg.MessageMetadata{}
	}
	fn(md)
	if err := t.store.PutMetadata(id, md); err != nil {
		return err
	}

	t.mu.Lock()
	if e, ok := t.cache.Get(id); ok {
		e.metadata = md
	}
	t.mu.Unlock()
	return nil
}

// GetMilestone returns the milestone payload stored at index, if any.
func (t *Tangle) GetMilestone(index uint32) (*tmsg.MilestonePayload, bool, error) {
	return t.store.GetMilestone(index)
}

// InsertMilestone persists a milestone payload at index.
func (t *Tangle) InsertMilestone(index uint32, ms *tmsg.MilestonePayload) error {
	return t.store.PutMilestone(index, ms)
}
