// Package dispatch routes newly inserted messages to payload-specific
// workers by tag, persisting the indexation and milestone side effects each
// payload kind requires.
package dispatch

import (
	"context"
	"sync"

	"github.com/tangleforge/tnode/internal/milestone"
	"github.com/tangleforge/tnode/internal/store"
	"github.com/tangleforge/tnode/internal/tangle"
	"github.com/tangleforge/tnode/internal/tmsg"
	"github.com/tangleforge/tnode/pkg/logging"
)

// DefaultBufferSize is the channel capacity used between the router and
// each payload worker when callers don't specify one.
const DefaultBufferSize = 256

type job struct {
	id  tmsg.MessageId
	msg *tmsg.Message
}

// Dispatcher is the top-level payload worker: it receives MessageId events
// from Tangle insertion, fetches each message and forwards it to exactly
// one of a transaction, milestone or indexation sub-worker by payload tag.
type Dispatcher struct {
	tg         *tangle.Tangle
	store      store.Storage
	milestones *milestone.Manager
	log        *logging.Logger

	in     chan tmsg.MessageId
	txIn   chan job
	msIn   chan job
	idxIn  chan job
	wg     sync.WaitGroup
	closed bool
}

// New builds a Dispatcher reading messages from tg, persisting through s,
// and registering milestone payloads with m.
func New(tg *tangle.Tangle, s store.Storage, m *milestone.Manager) *Dispatcher {
	return &Dispatcher{
		tg:         tg,
		store:      s,
		milestones: m,
		log:        logging.GetDefault().Component("dispatch"),
	}
}

// Start spawns the router and the three payload workers, each connected by
// a channel of capacity bufferSize. Start must be called once; Stop ends
// all four goroutines.
func (d *Dispatcher) Start(bufferSize int) {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	d.in = make(chan tmsg.MessageId, bufferSize)
	d.txIn = make(chan job, bufferSize)
	d.msIn = make(chan job, bufferSize)
	d.idxIn = make(chan job, bufferSize)

	d.wg.Add(4)
	go d.route()
	go d.runTransactionWorker()
	go d.runMilestoneWorker()
	go d.runIndexationWorker()
}

// Submit enqueues id for dispatch. It blocks if the router's input channel
// is full; ctx cancellation aborts the send.
func (d *Dispatcher) Submit(ctx context.Context, id tmsg.MessageId) error {
	select {
	case d.in <- id:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop closes the input channel and waits for every worker to drain its
// queue and exit, so already-queued indexation entries are never lost on
// shutdown. Stop is idempotent.
func (d *Dispatcher) Stop() {
	if d.closed {
		return
	}
	d.closed = true
	close(d.in)
	d.wg.Wait()
}

func (d *Dispatcher) route() {
	defer d.wg.Done()
	for id := range d.in {
		msg, _, ok, err := d.tg.GetMessage(id)
		if err != nil {
			d.log.Warn("dispatch: failed to fetch message", "id", id, "err", err)
			continue
		}
		if !ok || msg.Payload == nil {
			continue
		}

		j := job{id: id, msg: msg}
		switch msg.Payload.Kind() {
		case tmsg.PayloadKindTransaction:
			d.txIn <- j
		case tmsg.PayloadKindMilestone:
			d.msIn <- j
		case tmsg.PayloadKindIndexation:
			d.idxIn <- j
		default:
			// Receipt and treasury transaction payloads are accepted and
			// stored but not routed to any worker.
		}
	}
	close(d.txIn)
	close(d.msIn)
	close(d.idxIn)
}

func (d *Dispatcher) runTransactionWorker() {
	defer d.wg.Done()
	for j := range d.txIn {
		tx, ok := j.msg.Payload.(*tmsg.TransactionPayload)
		if !ok {
			d.log.Warn("dispatch: transaction worker got non-transaction payload", "id", j.id)
			continue
		}
		if tx.Essence.Indexation != nil {
			if err := d.store.AddIndexationEntry(tx.Essence.Indexation.Index, j.id); err != nil {
				d.log.Error("dispatch: failed to index embedded indexation payload", "id", j.id, "err", err)
			}
		}
	}
}

func (d *Dispatcher) runMilestoneWorker() {
	defer d.wg.Done()
	for j := range d.msIn {
		ms, ok := j.msg.Payload.(*tmsg.MilestonePayload)
		if !ok {
			d.log.Warn("dispatch: milestone worker got non-milestone payload", "id", j.id)
			continue
		}
		if err := d.milestones.AddMilestone(ms.Essence.Index, j.id, ms); err != nil {
			d.log.Error("dispatch: failed to register milestone", "id", j.id, "index", ms.Essence.Index, "err", err)
		}
	}
}

func (d *Dispatcher) runIndexationWorker() {
	defer d.wg.Done()
	for j := range d.idxIn {
		idx, ok := j.msg.Payload.(*tmsg.IndexationPayload)
		if !ok {
			d.log.Warn("dispatch: indexation worker got non-indexation payload", "id", j.id)
			continue
		}
		if err := d.store.AddIndexationEntry(idx.Index, j.id); err != nil {
			d.log.Error("dispatch: failed to index top-level indexation payload", "id", j.id, "err", err)
		}
	}
}
