// Package tipselect maintains the pool of non-lazy tips — recently arrived
// messages not yet approved by anything else — new messages reference when
// they attach to the Tangle.
package tipselect

import (
	"sync"

	"github.com/tangleforge/tnode/internal/tmsg"
	"github.com/tangleforge/tnode/pkg/logging"
)

// DefaultMaxDeltaMsIndex is the default below-max-depth threshold: a tip
// whose OMRSI has fallen more than this far behind the solid milestone index
// is lazy and excluded from selection.
const DefaultMaxDeltaMsIndex = 15

type tip struct {
	omrsi uint32
	ymrsi uint32
}

// Pool tracks the current set of non-lazy tips and the OMRSI/YMRSI score
// each carries.
type Pool struct {
	mu   sync.Mutex
	tips map[tmsg.MessageId]*tip
	log  *logging.Logger
}

// New returns an empty tip pool.
func New() *Pool {
	return &Pool{
		tips: make(map[tmsg.MessageId]*tip),
		log:  logging.GetDefault().Component("tipselect"),
	}
}

// Insert registers id as a new tip with the given OMRSI/YMRSI and removes
// each of its parents from the pool, since a message with an approver is no
// longer a tip itself.
func (p *Pool) Insert(id tmsg.MessageId, parents [2]tmsg.MessageId, omrsi, ymrsi uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.tips[id] = &tip{omrsi: omrsi, ymrsi: ymrsi}
	for _, parent := range parents {
		delete(p.tips, parent)
	}
	p.log.Debug("tip inserted", "id", id, "pool_size", len(p.tips))
}

// Remove drops id from the pool unconditionally. Nothing in this repository
// calls it; tips leave the pool through Insert, UpdateScores or ReduceTips.
func (p *Pool) Remove(id tmsg.MessageId) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.tips, id)
}

// Len reports how many tips the pool currently holds.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.tips)
}

// ChooseNonLazyTips returns up to two distinct, non-lazy tips for a new
// message to reference. It returns ok=false if the pool holds no non-lazy
// tip at all.
func (p *Pool) ChooseNonLazyTips(solidMilestoneIndex, maxDeltaMsIndex uint32) (t1, t2 tmsg.MessageId, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var chosen []tmsg.MessageId
	for id, sc := range p.tips {
		if isLazy(sc.omrsi, solidMilestoneIndex, maxDeltaMsIndex) {
			continue
		}
		chosen = append(chosen, id)
		if len(chosen) == 2 {
			break
		}
	}

	switch len(chosen) {
	case 0:
		return tmsg.MessageId{}, tmsg.MessageId{}, false
	case 1:
		return chosen[0], chosen[0], true
	default:
		return chosen[0], chosen[1], true
	}
}

// UpdateScores re-evaluates every tip's OMRSI/YMRSI against the latest
// values the Tangle tracks for it. Nothing in this repository calls it, so
// a tip keeps the scores it was inserted with. scoreOf looks up the current OMRSI/YMRSI for a tip id; a tip that can no
// longer be found (pruned away) is dropped.
func (p *Pool) UpdateScores(scoreOf func(tmsg.MessageId) (omrsi, ymrsi uint32, ok bool)) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for id := range p.tips {
		omrsi, ymrsi, ok := scoreOf(id)
		if !ok {
			delete(p.tips, id)
			continue
		}
		p.tips[id] = &tip{omrsi: omrsi, ymrsi: ymrsi}
	}
}

// ReduceTips evicts every tip that has crossed the lazy threshold relative
// to solidMilestoneIndex, returning the number removed.
func (p *Pool) ReduceTips(solidMilestoneIndex, maxDeltaMsIndex uint32) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	removed := 0
	for id, sc := range p.tips {
		if isLazy(sc.omrsi, solidMilestoneIndex, maxDeltaMsIndex) {
			delete(p.tips, id)
			removed++
		}
	}
	if removed > 0 {
		p.log.Debug("reduced lazy tips", "removed", removed, "remaining", len(p.tips))
	}
	return removed
}

func isLazy(omrsi, solidMilestoneIndex, maxDeltaMsIndex uint32) bool {
	if solidMilestoneIndex <= omrsi {
		return false
	}
	return solidMilestoneIndex-omrsi > maxDeltaMsIndex
}
