// Package memstore is an in-memory store.Storage implementation used by
// tests and by short-lived tooling that does not need durability.
package memstore

import (
	"sync"

	"github.com/tangleforge/tnode/internal/codec"
	"github.com/tangleforge/tnode/internal/store"
	"github.com/tangleforge/tnode/internal/tmsg"
)

// Store is a mutex-guarded in-memory implementation of store.Storage.
type Store struct {
	mu sync.RWMutex

	messages   map[tmsg.MessageId]*tmsg.Message
	metadata   map[tmsg.MessageId]*tmsg.MessageMetadata
	approvers  map[tmsg.MessageId]map[tmsg.MessageId]struct{}
	milestones map[uint32]*tmsg.MilestonePayload
	outputs    map[tmsg.OutputId]tmsg.Output
	spent      map[tmsg.OutputId]tmsg.SpentOutput
	unspent    map[tmsg.OutputId]struct{}
	addrOuts   map[string]map[tmsg.OutputId]struct{}
	seps       map[tmsg.MessageId]struct{}
	ledgerIdx  uint32
	snapInfo   store.SnapshotInfo
	hasSnap    bool
	indexation map[tmsg.HashedIndex]map[tmsg.MessageId]struct{}
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		messages:   make(map[tmsg.MessageId]*tmsg.Message),
		metadata:   make(map[tmsg.MessageId]*tmsg.MessageMetadata),
		approvers:  make(map[tmsg.MessageId]map[tmsg.MessageId]struct{}),
		milestones: make(map[uint32]*tmsg.MilestonePayload),
		outputs:    make(map[tmsg.OutputId]tmsg.Output),
		spent:      make(map[tmsg.OutputId]tmsg.SpentOutput),
		unspent:    make(map[tmsg.OutputId]struct{}),
		addrOuts:   make(map[string]map[tmsg.OutputId]struct{}),
		seps:       make(map[tmsg.MessageId]struct{}),
		indexation: make(map[tmsg.HashedIndex]map[tmsg.MessageId]struct{}),
	}
}

func addrKey(addr tmsg.Address) (string, error) {
	data, err := codec.Pack(addr)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (s *Store) PutMessage(id tmsg.MessageId, msg *tmsg.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[id] = msg
	return nil
}

func (s *Store) GetMessage(id tmsg.MessageId) (*tmsg.Message, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.messages[id]
	return m, ok, nil
}

func (s *Store) DeleteMessage(id tmsg.MessageId) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.messages, id)
	return nil
}

func (s *Store) PutMetadata(id tmsg.MessageId, md *tmsg.MessageMetadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metadata[id] = md
	return nil
}

func (s *Store) GetMetadata(id tmsg.MessageId) (*tmsg.MessageMetadata, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.metadata[id]
	return m, ok, nil
}

func (s *Store) DeleteMetadata(id tmsg.MessageId) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.metadata, id)
	return nil
}

func (s *Store) AddApprover(parent, child tmsg.MessageId) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.approvers[parent]
	if !ok {
		set = make(map[tmsg.MessageId]struct{})
		s.approvers[parent] = set
	}
	set[child] = struct{}{}
	return nil
}

func (s *Store) GetApprovers(parent tmsg.MessageId) ([]tmsg.MessageId, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	set := s.approvers[parent]
	out := make([]tmsg.MessageId, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	return out, nil
}

func (s *Store) DeleteApprovers(parent tmsg.MessageId) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.approvers, parent)
	return nil
}

func (s *Store) PutMilestone(index uint32, ms *tmsg.MilestonePayload) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.milestones[index] = ms
	return nil
}

func (s *Store) GetMilestone(index uint32) (*tmsg.MilestonePayload, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ms, ok := s.milestones[index]
	return ms, ok, nil
}

func (s *Store) DeleteMilestone(index uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.milestones, index)
	return nil
}

func (s *Store) PutOutput(id tmsg.OutputId, out tmsg.Output) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outputs[id] = out
	return nil
}

func (s *Store) GetOutput(id tmsg.OutputId) (tmsg.Output, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out, ok := s.outputs[id]
	return out, ok, nil
}

func (s *Store) DeleteOutput(id tmsg.OutputId) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.outputs, id)
	return nil
}

func (s *Store) PutSpent(id tmsg.OutputId, spent tmsg.SpentOutput) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.spent[id] = spent
	return nil
}

func (s *Store) GetSpent(id tmsg.OutputId) (tmsg.SpentOutput, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sp, ok := s.spent[id]
	return sp, ok, nil
}

func (s *Store) DeleteSpent(id tmsg.OutputId) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.spent, id)
	return nil
}

func (s *Store) AddUnspent(id tmsg.OutputId) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unspent[id] = struct{}{}
	return nil
}

func (s *Store) RemoveUnspent(id tmsg.OutputId) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.unspent, id)
	return nil
}

func (s *Store) IsUnspent(id tmsg.OutputId) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.unspent[id]
	return ok, nil
}

func (s *Store) ForEachUnspent(fn func(tmsg.OutputId) error) error {
	s.mu.RLock()
	ids := make([]tmsg.OutputId, 0, len(s.unspent))
	for id := range s.unspent {
		ids = append(ids, id)
	}
	s.mu.RUnlock()
	for _, id := range ids {
		if err := fn(id); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) AddAddressOutput(addr tmsg.Address, id tmsg.OutputId) error {
	key, err := addrKey(addr)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.addrOuts[key]
	if !ok {
		set = make(map[tmsg.OutputId]struct{})
		s.addrOuts[key] = set
	}
	set[id] = struct{}{}
	return nil
}

func (s *Store) RemoveAddressOutput(addr tmsg.Address, id tmsg.OutputId) error {
	key, err := addrKey(addr)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if set, ok := s.addrOuts[key]; ok {
		delete(set, id)
	}
	return nil
}

func (s *Store) ListAddressOutputs(addr tmsg.Address) ([]tmsg.OutputId, error) {
	key, err := addrKey(addr)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	set := s.addrOuts[key]
	out := make([]tmsg.OutputId, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	return out, nil
}

func (s *Store) AddSolidEntryPoint(id tmsg.MessageId) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seps[id] = struct{}{}
	return nil
}

func (s *Store) RemoveSolidEntryPoint(id tmsg.MessageId) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.seps, id)
	return nil
}

func (s *Store) IsSolidEntryPoint(id tmsg.MessageId) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.seps[id]
	return ok, nil
}

func (s *Store) ListSolidEntryPoints() ([]tmsg.MessageId, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]tmsg.MessageId, 0, len(s.seps))
	for id := range s.seps {
		out = append(out, id)
	}
	return out, nil
}

func (s *Store) TruncateSolidEntryPoints() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seps = make(map[tmsg.MessageId]struct{})
	return nil
}

func (s *Store) SetLedgerIndex(index uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ledgerIdx = index
	return nil
}

func (s *Store) GetLedgerIndex() (uint32, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ledgerIdx, nil
}

func (s *Store) SetSnapshotInfo(info store.SnapshotInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapInfo = info
	s.hasSnap = true
	return nil
}

func (s *Store) GetSnapshotInfo() (store.SnapshotInfo, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapInfo, s.hasSnap, nil
}

func (s *Store) AddIndexationEntry(index tmsg.HashedIndex, id tmsg.MessageId) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.indexation[index]
	if !ok {
		set = make(map[tmsg.MessageId]struct{})
		s.indexation[index] = set
	}
	set[id] = struct{}{}
	return nil
}

func (s *Store) ListIndexationEntries(index tmsg.HashedIndex) ([]tmsg.MessageId, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	set := s.indexation[index]
	out := make([]tmsg.MessageId, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	return out, nil
}

func (s *Store) Close() error { return nil }

var _ store.Storage = (*Store)(nil)
