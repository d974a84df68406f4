// Package milestone tracks the node's milestone index cursors and solid
// entry point set: the small amount of global, frequently-read consensus
// state that sits alongside the Tangle cache.
package milestone

import (
	"sync"
	"sync/atomic"

	"github.com/tangleforge/tnode/internal/store"
	"github.com/tangleforge/tnode/internal/tangle"
	"github.com/tangleforge/tnode/internal/tmsg"
)

// DefaultSyncThreshold is the default threshold used by IsSynced/IsConfirmed
// when the caller does not need a custom one.
const DefaultSyncThreshold = 2

// Manager holds the six atomically-tracked index cursors plus the
// milestone-by-index map and solid entry point set layered on top of a
// Tangle. Updates are relaxed stores: callers are expected to serialize
// milestone application themselves (in this node only the snapshot importer
// sets the solid cursor), so these cursors only need to be safe for
// concurrent reads.
type Manager struct {
	latest     atomic.Uint32
	solid      atomic.Uint32
	confirmed  atomic.Uint32
	snapshot   atomic.Uint32
	pruning    atomic.Uint32
	entryPoint atomic.Uint32

	tangle *tangle.Tangle
	store  store.Storage

	mu         sync.Mutex
	milestones map[uint32]*tmsg.MilestonePayload
}

// New builds a Manager backed by tg (for metadata flag updates on
// add_milestone) and s (for SEP persistence and milestone rehydration on a
// map miss).
func New(tg *tangle.Tangle, s store.Storage) *Manager {
	return &Manager{
		tangle:     tg,
		store:      s,
		milestones: make(map[uint32]*tmsg.MilestonePayload),
	}
}

func (m *Manager) LatestIndex() uint32     { return m.latest.Load() }
func (m *Manager) SolidIndex() uint32      { return m.solid.Load() }
func (m *Manager) ConfirmedIndex() uint32  { return m.confirmed.Load() }
func (m *Manager) SnapshotIndex() uint32   { return m.snapshot.Load() }
func (m *Manager) PruningIndex() uint32    { return m.pruning.Load() }
func (m *Manager) EntryPointIndex() uint32 { return m.entryPoint.Load() }

func (m *Manager) SetLatestIndex(i uint32)    { m.latest.Store(i) }
func (m *Manager) SetConfirmedIndex(i uint32) { m.confirmed.Store(i) }
func (m *Manager) SetSnapshotIndex(i uint32)  { m.snapshot.Store(i) }
func (m *Manager) SetPruningIndex(i uint32)   { m.pruning.Store(i) }
func (m *Manager) SetEntryPointIndex(i uint32) { m.entryPoint.Store(i) }

// SetSolidMilestoneIndex updates the solid cursor and resizes the Tangle
// cache to match the new sync gap.
func (m *Manager) SetSolidMilestoneIndex(i uint32) {
	m.solid.Store(i)
	gap := saturatingSub(m.latest.Load(), i)
	m.tangle.Resize(tangle.ComputeCacheCapacity(gap))
}

func saturatingSub(a, b uint32) uint32 {
	if b > a {
		return 0
	}
	return a - b
}

// IsSynced reports whether the solid index is within threshold of latest.
func (m *Manager) IsSynced(threshold uint32) bool {
	return m.solid.Load() >= saturatingSub(m.latest.Load(), threshold)
}

// IsConfirmed reports whether the confirmed index is within threshold of
// latest.
func (m *Manager) IsConfirmed(threshold uint32) bool {
	return m.confirmed.Load() >= saturatingSub(m.latest.Load(), threshold)
}

// AddMilestone records ms at index i: it flags the carrying message as a
// milestone with OMRSI/YMRSI rooted at (i, id), persists the milestone
// payload, caches it in the in-memory index map, and walks the milestone's
// past cone marking every message it confirms as referenced.
func (m *Manager) AddMilestone(i uint32, id tmsg.MessageId, ms *tmsg.MilestonePayload) error {
	err := m.tangle.UpdateMetadata(id, func(md *tmsg.MessageMetadata) {
		md.Flags.MilestoneSet = true
		md.MilestoneIndex = i
		md.OMRSI = tmsg.MilestoneRoot{Index: i, MessageId: id}
		md.YMRSI = tmsg.MilestoneRoot{Index: i, MessageId: id}
	})
	if err != nil {
		return err
	}

	if err := m.tangle.InsertMilestone(i, ms); err != nil {
		return err
	}

	m.mu.Lock()
	m.milestones[i] = ms
	m.mu.Unlock()

	if _, err := m.tangle.Solidify(id); err != nil {
		return err
	}
	return m.markReferenced(ms)
}

// markReferenced walks the milestone's past cone from its essence parents,
// setting the referenced flag on every stored message it reaches. The walk
// stops at solid entry points, at messages already referenced by an earlier
// milestone, and at messages not yet stored; a message that arrives later
// is picked up by the next milestone's walk instead. Referenced is
// monotonic, so reconverging paths through the cone are visited once.
func (m *Manager) markReferenced(ms *tmsg.MilestonePayload) error {
	queue := []tmsg.MessageId{ms.Essence.Parent1, ms.Essence.Parent2}
	for len(queue) > 0 {
		cur := queue[len(queue)-1]
		queue = queue[:len(queue)-1]

		sep, err := m.store.IsSolidEntryPoint(cur)
		if err != nil {
			return err
		}
		if sep {
			continue
		}

		msg, md, ok, err := m.tangle.GetMessage(cur)
		if err != nil {
			return err
		}
		if !ok || md.Flags.Referenced {
			continue
		}

		if err := m.tangle.UpdateMetadata(cur, func(md *tmsg.MessageMetadata) {
			md.Flags.Referenced = true
		}); err != nil {
			return err
		}

		queue = append(queue, msg.Parent1, msg.Parent2)
	}
	return nil
}

// PullMilestone returns the milestone at index i, checking the in-memory map
// first and lazily rehydrating from storage on a miss.
func (m *Manager) PullMilestone(i uint32) (*tmsg.MilestonePayload, bool, error) {
	m.mu.Lock()
	if ms, ok := m.milestones[i]; ok {
		m.mu.Unlock()
		return ms, true, nil
	}
	m.mu.Unlock()

	ms, ok, err := m.tangle.GetMilestone(i)
	if err != nil || !ok {
		return nil, false, err
	}

	m.mu.Lock()
	m.milestones[i] = ms
	m.mu.Unlock()
	return ms, true, nil
}

// AddSolidEntryPoint marks id as a solid entry point.
func (m *Manager) AddSolidEntryPoint(id tmsg.MessageId) error {
	return m.store.AddSolidEntryPoint(id)
}

// IsSolidEntryPoint reports whether id is a recorded solid entry point.
func (m *Manager) IsSolidEntryPoint(id tmsg.MessageId) (bool, error) {
	return m.store.IsSolidEntryPoint(id)
}

// ClearSolidEntryPoints truncates the solid entry point set, used when
// snapshot import replaces it wholesale.
func (m *Manager) ClearSolidEntryPoints() error {
	return m.store.TruncateSolidEntryPoints()
}
