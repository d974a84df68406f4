// Package swarm composes the gossip protocol handler with per-connection
// stream processors and the milestone broadcast topic, translating libp2p
// connection/stream lifecycle into the internal events internal/host
// relays to the rest of the node.
package swarm

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"sync"
	"time"

	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multiaddr"

	"github.com/tangleforge/tnode/internal/gossip"
	"github.com/tangleforge/tnode/internal/tmsg"
	"github.com/tangleforge/tnode/pkg/logging"
)

const (
	// streamBufferSize is the size of the buffered reader/writer wrapped
	// around each gossip substream.
	streamBufferSize = 32 * 1024
	// maxFrameSize bounds a single gossip frame.
	maxFrameSize = 1 << 20

	outboundChannelDepth = 64
	eventChannelDepth    = 256
)

// Stream is the minimal surface this package needs from a libp2p
// network.Stream, narrowed so the processors can be exercised in tests
// against an in-memory pipe instead of a real connection.
type Stream interface {
	io.Reader
	io.Writer
	Close() error
}

// ConnInfo identifies the remote side of an established gossip connection.
type ConnInfo struct {
	Peer   peer.ID
	Addr   multiaddr.Multiaddr
	Origin gossip.Origin
}

// Event is one of the internal events this behavior emits.
type Event interface{ isEvent() }

// ProtocolEstablished fires once a connection's substream is upgraded;
// GossipIn delivers inbound frames, GossipOut accepts outbound ones.
type ProtocolEstablished struct {
	Conn      ConnInfo
	GossipIn  <-chan []byte
	GossipOut chan<- []byte
}

// MessageReceived fires once per inbound frame, in addition to it being
// delivered on the connection's GossipIn channel.
type MessageReceived struct {
	From  peer.ID
	Bytes []byte
}

// ConnectionDropped fires when a connection's processors observe a remote
// EOF or a send failure.
type ConnectionDropped struct {
	Peer peer.ID
}

// MilestoneAdvertised fires when a milestone id arrives on the broadcast
// pubsub topic. It is advisory only: tip selection and solidification
// never wait on it.
type MilestoneAdvertised struct {
	From peer.ID
	Id   tmsg.MessageId
}

func (ProtocolEstablished) isEvent() {}
func (MessageReceived) isEvent()     {}
func (ConnectionDropped) isEvent()   {}
func (MilestoneAdvertised) isEvent() {}

// Behavior composes the gossip substream processors with the milestone
// broadcast topic for one network.
type Behavior struct {
	networkId uint64
	events    chan Event
	log       *logging.Logger

	mu    sync.Mutex
	conns map[peer.ID]*connState

	topic *pubsub.Topic
	sub   *pubsub.Subscription
}

type connState struct {
	handler *gossip.Handler
	out     chan []byte
	cancel  context.CancelFunc
}

// New builds a Behavior for the given network id. Use JoinMilestoneTopic
// to additionally wire the broadcast topic once a PubSub instance exists.
func New(networkId uint64) *Behavior {
	return &Behavior{
		networkId: networkId,
		events:    make(chan Event, eventChannelDepth),
		log:       logging.GetDefault().Component("swarm"),
		conns:     make(map[peer.ID]*connState),
	}
}

// Events returns the channel of internal events produced by this behavior.
func (b *Behavior) Events() <-chan Event { return b.events }

// MilestoneTopicName returns this network's milestone broadcast topic name.
func MilestoneTopicName(networkId uint64) string {
	return fmt.Sprintf("/tnode/%d/milestones/1.0.0", networkId)
}

// JoinMilestoneTopic subscribes to the network's milestone broadcast topic
// over an already-running GossipSub instance.
func (b *Behavior) JoinMilestoneTopic(ctx context.Context, ps *pubsub.PubSub) error {
	topic, err := ps.Join(MilestoneTopicName(b.networkId))
	if err != nil {
		return fmt.Errorf("swarm: join milestone topic: %w", err)
	}
	sub, err := topic.Subscribe()
	if err != nil {
		topic.Close()
		return fmt.Errorf("swarm: subscribe milestone topic: %w", err)
	}
	b.topic = topic
	b.sub = sub
	go b.readMilestoneTopic(ctx)
	return nil
}

func (b *Behavior) readMilestoneTopic(ctx context.Context) {
	for {
		msg, err := b.sub.Next(ctx)
		if err != nil {
			return
		}
		if len(msg.Data) != tmsg.MessageIdLength {
			b.log.Warn("swarm: malformed milestone broadcast", "len", len(msg.Data))
			continue
		}
		var id tmsg.MessageId
		copy(id[:], msg.Data)
		b.emit(MilestoneAdvertised{From: msg.ReceivedFrom, Id: id})
	}
}

// PublishMilestone advertises a confirmed milestone's message id on the
// broadcast topic. It is a no-op if JoinMilestoneTopic was never called.
func (b *Behavior) PublishMilestone(ctx context.Context, id tmsg.MessageId) error {
	if b.topic == nil {
		return nil
	}
	return b.topic.Publish(ctx, id[:])
}

// HandleUpgrade wires an upgraded gossip substream into the node: split s into
// buffered read/write halves, spawn the incoming and outgoing processors,
// then emit ProtocolEstablished.
func (b *Behavior) HandleUpgrade(conn ConnInfo, handler *gossip.Handler, s Stream) {
	out := make(chan []byte, outboundChannelDepth)
	in := make(chan []byte, outboundChannelDepth)
	ctx, cancel := context.WithCancel(context.Background())

	b.mu.Lock()
	b.conns[conn.Peer] = &connState{handler: handler, out: out, cancel: cancel}
	b.mu.Unlock()

	go b.runIncoming(ctx, conn, handler, s, in)
	go b.runOutgoing(ctx, conn, handler, s, out)

	b.emit(ProtocolEstablished{Conn: conn, GossipIn: in, GossipOut: out})
}

func (b *Behavior) runIncoming(ctx context.Context, conn ConnInfo, handler *gossip.Handler, s Stream, in chan<- []byte) {
	defer close(in)
	r := bufio.NewReaderSize(s, streamBufferSize)
	for {
		frame, err := readFrame(r)
		if err != nil {
			b.dropConnection(conn, handler)
			return
		}
		handler.Touch(time.Now())
		select {
		case in <- frame:
		case <-ctx.Done():
			return
		}
		b.emit(MessageReceived{From: conn.Peer, Bytes: frame})
	}
}

func (b *Behavior) runOutgoing(ctx context.Context, conn ConnInfo, handler *gossip.Handler, s Stream, out <-chan []byte) {
	w := bufio.NewWriterSize(s, streamBufferSize)
	for {
		select {
		case frame, ok := <-out:
			if !ok {
				return
			}
			if err := writeFrame(w, frame); err != nil {
				b.dropConnection(conn, handler)
				return
			}
			if err := w.Flush(); err != nil {
				b.dropConnection(conn, handler)
				return
			}
			handler.Touch(time.Now())
		case <-ctx.Done():
			return
		}
	}
}

func (b *Behavior) dropConnection(conn ConnInfo, handler *gossip.Handler) {
	if _, ok := handler.RemoteClosed(); !ok {
		return
	}
	b.mu.Lock()
	cs, ok := b.conns[conn.Peer]
	if ok {
		delete(b.conns, conn.Peer)
	}
	b.mu.Unlock()
	if ok {
		cs.cancel()
	}
	b.emit(ConnectionDropped{Peer: conn.Peer})
}

func (b *Behavior) emit(ev Event) {
	select {
	case b.events <- ev:
	default:
		b.log.Warn("swarm: event channel full, dropping event", "event", fmt.Sprintf("%T", ev))
	}
}

// Close tears down every active connection's processors and the milestone
// topic subscription.
func (b *Behavior) Close() {
	b.mu.Lock()
	conns := b.conns
	b.conns = make(map[peer.ID]*connState)
	b.mu.Unlock()
	for _, cs := range conns {
		cs.cancel()
	}
	if b.sub != nil {
		b.sub.Cancel()
	}
	if b.topic != nil {
		b.topic.Close()
	}
}

func readFrame(r io.Reader) ([]byte, error) {
	var length uint32
	if err := binary.Read(r, binary.BigEndian, &length); err != nil {
		return nil, err
	}
	if length > maxFrameSize {
		return nil, fmt.Errorf("swarm: frame too large: %d > %d", length, maxFrameSize)
	}
	data := make([]byte, length)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, err
	}
	return data, nil
}

func writeFrame(w io.Writer, data []byte) error {
	if len(data) > maxFrameSize {
		return fmt.Errorf("swarm: frame too large: %d > %d", len(data), maxFrameSize)
	}
	if err := binary.Write(w, binary.BigEndian, uint32(len(data))); err != nil {
		return err
	}
	_, err := w.Write(data)
	return err
}
