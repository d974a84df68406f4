package tangle

import (
	"github.com/tangleforge/tnode/internal/tmsg"
)

// IsSolid reports whether id counts as solid from an approver's point of
// view: either a recorded solid entry point, or a stored message whose
// metadata already carries the solid flag.
func (t *Tangle) IsSolid(id tmsg.MessageId) (bool, error) {
	sep, err := t.store.IsSolidEntryPoint(id)
	if err != nil || sep {
		return sep, err
	}
	md, ok, err := t.store.GetMetadata(id)
	if err != nil || !ok {
		return false, err
	}
	return md.Flags.Solid, nil
}

// Solidify marks id solid if both of its parents are solid, then re-checks
// every approver that may have been waiting on it, promoting whole subtrees
// in one pass when a late-arriving ancestor closes the gap. The solid flag
// is only ever set, never cleared, so repeated calls are harmless.
//
// It returns whether id itself ended up solid. A message whose parents are
// still missing is left untouched; it will be revisited through the
// approver walk once a parent arrives and solidifies.
func (t *Tangle) Solidify(id tmsg.MessageId) (bool, error) {
	queue := []tmsg.MessageId{id}
	for len(queue) > 0 {
		cur := queue[len(queue)-1]
		queue = queue[:len(queue)-1]

		msg, md, ok, err := t.GetMessage(cur)
		if err != nil {
			return false, err
		}
		if !ok || md.Flags.Solid {
			continue
		}

		solid := true
		for _, parent := range msg.Parents() {
			ps, err := t.IsSolid(parent)
			if err != nil {
				return false, err
			}
			if !ps {
				solid = false
				break
			}
		}
		if !solid {
			continue
		}

		if err := t.UpdateMetadata(cur, func(md *tmsg.MessageMetadata) {
			md.Flags.Solid = true
		}); err != nil {
			return false, err
		}
		t.log.Debug("message solidified", "id", cur)

		approvers, err := t.store.GetApprovers(cur)
		if err != nil {
			return false, err
		}
		queue = append(queue, approvers...)
	}

	return t.IsSolid(id)
}
