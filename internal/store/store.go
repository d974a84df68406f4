// Package store defines the storage abstraction every persistence backend
// in this node implements: a disjoint set of column families holding
// messages, their mutable metadata, the approver (child) index, milestones,
// the UTXO ledger and its indices, solid entry points and node-wide
// counters.
package store

import (
	"errors"

	"github.com/tangleforge/tnode/internal/tmsg"
)

// ErrNotFound names the not-found condition as an error value. The Storage
// lookups do not return it: they report absence through their bool result
// with a nil error.
var ErrNotFound = errors.New("store: not found")

// SnapshotInfo is the node-wide snapshot bookkeeping record persisted under
// the snapshot_info column family.
type SnapshotInfo struct {
	NetworkId       uint64
	SnapshotIndex   uint32
	EntryPointIndex uint32
	PruningIndex    uint32
	Timestamp       uint64
}

// Storage is the full set of operations the Tangle, ledger, milestone
// tracker, tip pool and snapshot importer/exporter need from persistence.
// Every method is safe for concurrent use.
type Storage interface {
	// Messages (MessageId -> Message)
	PutMessage(id tmsg.MessageId, msg *tmsg.Message) error
	GetMessage(id tmsg.MessageId) (*tmsg.Message, bool, error)
	DeleteMessage(id tmsg.MessageId) error

	// Metadata (MessageId -> MessageMetadata)
	PutMetadata(id tmsg.MessageId, md *tmsg.MessageMetadata) error
	GetMetadata(id tmsg.MessageId) (*tmsg.MessageMetadata, bool, error)
	DeleteMetadata(id tmsg.MessageId) error

	// Approvers: parent MessageId -> set of child MessageIds that name it
	// as a parent.
	AddApprover(parent, child tmsg.MessageId) error
	GetApprovers(parent tmsg.MessageId) ([]tmsg.MessageId, error)
	DeleteApprovers(parent tmsg.MessageId) error

	// Milestones (MilestoneIndex -> MilestonePayload)
	PutMilestone(index uint32, ms *tmsg.MilestonePayload) error
	GetMilestone(index uint32) (*tmsg.MilestonePayload, bool, error)
	DeleteMilestone(index uint32) error

	// Outputs (OutputId -> Output)
	PutOutput(id tmsg.OutputId, out tmsg.Output) error
	GetOutput(id tmsg.OutputId) (tmsg.Output, bool, error)
	DeleteOutput(id tmsg.OutputId) error

	// Spent (OutputId -> SpentOutput), for milestone rollback.
	PutSpent(id tmsg.OutputId, spent tmsg.SpentOutput) error
	GetSpent(id tmsg.OutputId) (tmsg.SpentOutput, bool, error)
	DeleteSpent(id tmsg.OutputId) error

	// Unspent is the set of currently unspent OutputIds.
	AddUnspent(id tmsg.OutputId) error
	RemoveUnspent(id tmsg.OutputId) error
	IsUnspent(id tmsg.OutputId) (bool, error)
	ForEachUnspent(fn func(tmsg.OutputId) error) error

	// AddressOutputs indexes OutputIds by the address that owns them.
	AddAddressOutput(addr tmsg.Address, id tmsg.OutputId) error
	RemoveAddressOutput(addr tmsg.Address, id tmsg.OutputId) error
	ListAddressOutputs(addr tmsg.Address) ([]tmsg.OutputId, error)

	// SolidEntryPoints is the set of message ids the Tangle treats as
	// having no real parents below the current pruning horizon.
	AddSolidEntryPoint(id tmsg.MessageId) error
	RemoveSolidEntryPoint(id tmsg.MessageId) error
	IsSolidEntryPoint(id tmsg.MessageId) (bool, error)
	ListSolidEntryPoints() ([]tmsg.MessageId, error)
	TruncateSolidEntryPoints() error

	// LedgerIndex is the milestone index the ledger's current UTXO state
	// corresponds to.
	SetLedgerIndex(index uint32) error
	GetLedgerIndex() (uint32, error)

	// SnapshotInfo is the node-wide snapshot bookkeeping record.
	SetSnapshotInfo(info SnapshotInfo) error
	GetSnapshotInfo() (SnapshotInfo, bool, error)

	// Indexation indexes MessageIds by the HashedIndex of an indexation
	// payload they carry, whether top-level or embedded in a transaction's
	// essence.
	AddIndexationEntry(index tmsg.HashedIndex, id tmsg.MessageId) error
	ListIndexationEntries(index tmsg.HashedIndex) ([]tmsg.MessageId, error)

	Close() error
}
