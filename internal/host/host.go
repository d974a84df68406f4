// Package host binds a libp2p host to the node's configured listen
// addresses and translates its connection/stream lifecycle, plus the
// operator commands it accepts, into the internal events the rest of the
// node consumes.
package host

import (
	"context"
	"crypto/rand"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p"
	dht "github.com/libp2p/go-libp2p-kad-dht"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/crypto"
	lhost "github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/peerstore"
	"github.com/libp2p/go-libp2p/core/protocol"
	"github.com/libp2p/go-libp2p/p2p/discovery/mdns"
	drouting "github.com/libp2p/go-libp2p/p2p/discovery/routing"
	dutil "github.com/libp2p/go-libp2p/p2p/discovery/util"
	connmgr "github.com/libp2p/go-libp2p/p2p/net/connmgr"
	"github.com/multiformats/go-multiaddr"

	"github.com/google/uuid"

	"github.com/tangleforge/tnode/internal/config"
	"github.com/tangleforge/tnode/internal/gossip"
	"github.com/tangleforge/tnode/internal/store/peerbook"
	"github.com/tangleforge/tnode/internal/swarm"
	"github.com/tangleforge/tnode/pkg/logging"
)

// Event is any of the internal events the host's main loop produces:
// AddressBound, PeerConnected, PeerDisconnected and ListenerError below,
// plus swarm.ProtocolEstablished, swarm.MessageReceived,
// swarm.ConnectionDropped and swarm.MilestoneAdvertised forwarded verbatim
// from internal/swarm.
type Event = any

// AddressBound fires once per listen address the host successfully binds.
type AddressBound struct{ Addr multiaddr.Multiaddr }

// PeerConnected/PeerDisconnected fire on the libp2p network's own
// connect/disconnect notifications.
type PeerConnected struct{ Peer peer.ID }
type PeerDisconnected struct{ Peer peer.ID }

// ListenerError fires when a background operation (discovery, mDNS) fails
// in a way that doesn't abort startup.
type ListenerError struct{ Err error }

// Command is something a caller asks the host's main loop to do. Every
// dial command is gated by the PeerPolicy before it reaches the libp2p
// host.
type Command interface{ isCommand() }

type DialPeer struct{ Peer peer.ID }
type DialAddress struct{ Addr multiaddr.Multiaddr }
type BanPeer struct{ Peer peer.ID }
type UnbanPeer struct{ Peer peer.ID }
type DisconnectPeer struct{ Peer peer.ID }

func (DialPeer) isCommand()       {}
func (DialAddress) isCommand()    {}
func (BanPeer) isCommand()        {}
func (UnbanPeer) isCommand()      {}
func (DisconnectPeer) isCommand() {}

// PeerPolicy gates dial commands: a banned peer or our own id is rejected
// before any libp2p dial is attempted.
type PeerPolicy struct {
	mu     sync.RWMutex
	banned map[peer.ID]struct{}
}

func newPeerPolicy() *PeerPolicy {
	return &PeerPolicy{banned: make(map[peer.ID]struct{})}
}

func (p *PeerPolicy) Ban(id peer.ID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.banned[id] = struct{}{}
}

func (p *PeerPolicy) Unban(id peer.ID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.banned, id)
}

func (p *PeerPolicy) IsBanned(id peer.ID) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.banned[id]
	return ok
}

// reconnectWindow bounds how recently a peer must have been seen to be a
// reconnect candidate at startup; peerBookRetention is how long a peer is
// kept at all before the startup prune drops it.
const (
	reconnectWindow   = 7 * 24 * time.Hour
	peerBookRetention = 30 * 24 * time.Hour
)

// discoveryInterval is how often the DHT rendezvous discovery loop looks
// for new peers.
const discoveryInterval = 30 * time.Second

// Host binds a single libp2p host and runs its main event/command loop.
type Host struct {
	cfg    *config.Config
	log    *logging.Logger
	behave *swarm.Behavior
	peers  *peerbook.PeerBook
	policy *PeerPolicy

	host lhost.Host
	dht  *dht.IpfsDHT
	ps   *pubsub.PubSub
	mdns mdns.Service

	routingDisc *drouting.RoutingDiscovery

	commands chan commandEnvelope
	events   chan Event

	ctx    context.Context
	cancel context.CancelFunc
}

// New binds a libp2p host to cfg's configured listen addresses and wires
// the gossip protocol, pubsub milestone topic and configured discovery
// mechanisms. peers may be nil to disable reconnect-on-startup.
func New(ctx context.Context, cfg *config.Config, peers *peerbook.PeerBook) (*Host, error) {
	ctx, cancel := context.WithCancel(ctx)

	h := &Host{
		cfg:      cfg,
		log:      logging.GetDefault().Component("host"),
		behave:   swarm.New(cfg.NetworkId),
		peers:    peers,
		policy:   newPeerPolicy(),
		commands: make(chan commandEnvelope, 64),
		events:   make(chan Event, 256),
		ctx:      ctx,
		cancel:   cancel,
	}

	privKey, err := h.loadOrCreateKey()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("host: load identity: %w", err)
	}

	listenAddrs := make([]multiaddr.Multiaddr, 0, len(cfg.Network.ListenAddrs))
	for _, addr := range cfg.Network.ListenAddrs {
		ma, err := multiaddr.NewMultiaddr(addr)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("host: invalid listen address %s: %w", addr, err)
		}
		listenAddrs = append(listenAddrs, ma)
	}

	cm, err := connmgr.NewConnManager(
		cfg.Network.ConnMgr.LowWater,
		cfg.Network.ConnMgr.HighWater,
		connmgr.WithGracePeriod(cfg.Network.ConnMgr.GracePeriod),
	)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("host: connection manager: %w", err)
	}

	opts := []libp2p.Option{
		libp2p.Identity(privKey),
		libp2p.ListenAddrs(listenAddrs...),
		libp2p.ConnectionManager(cm),
		libp2p.DefaultTransports,
		libp2p.DefaultMuxers,
		libp2p.DefaultSecurity,
	}
	if cfg.Network.EnableNAT {
		opts = append(opts, libp2p.NATPortMap())
	}
	if cfg.Network.EnableRelay {
		opts = append(opts, libp2p.EnableRelay())
	}
	if cfg.Network.EnableHolePunching {
		opts = append(opts, libp2p.EnableHolePunching())
	}

	lh, err := libp2p.New(opts...)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("host: create libp2p host: %w", err)
	}
	h.host = lh

	lh.Network().Notify(&network.NotifyBundle{
		ConnectedF: func(_ network.Network, conn network.Conn) {
			h.emit(PeerConnected{Peer: conn.RemotePeer()})
			if h.peers != nil {
				go h.rememberPeer(conn.RemotePeer())
			}
		},
		DisconnectedF: func(_ network.Network, conn network.Conn) {
			h.emit(PeerDisconnected{Peer: conn.RemotePeer()})
		},
	})

	lh.SetStreamHandler(gossip.ProtocolID(cfg.NetworkId), h.handleInboundStream)

	if cfg.Network.EnableDHT {
		if err := h.initDHT(ctx); err != nil {
			lh.Close()
			cancel()
			return nil, fmt.Errorf("host: init DHT: %w", err)
		}
	}

	ps, err := pubsub.NewGossipSub(ctx, lh, pubsub.WithPeerExchange(true), pubsub.WithFloodPublish(true))
	if err != nil {
		lh.Close()
		cancel()
		return nil, fmt.Errorf("host: init pubsub: %w", err)
	}
	h.ps = ps
	if err := h.behave.JoinMilestoneTopic(ctx, ps); err != nil {
		lh.Close()
		cancel()
		return nil, fmt.Errorf("host: join milestone topic: %w", err)
	}

	if cfg.Network.EnableMDNS {
		h.mdns = mdns.NewMdnsService(lh, cfg.DiscoveryNamespace(), &mdnsNotifee{h: h})
		if err := h.mdns.Start(); err != nil {
			h.log.Warn("host: mDNS init failed", "err", err)
			h.mdns = nil
		}
	}

	for _, addr := range lh.Addrs() {
		h.emit(AddressBound{Addr: addr})
	}

	return h, nil
}

func (h *Host) initDHT(ctx context.Context) error {
	var err error
	h.dht, err = dht.New(ctx, h.host,
		dht.Mode(dht.ModeAutoServer),
		dht.ProtocolPrefix(protocol.ID(h.cfg.DHTPrefix())),
	)
	if err != nil {
		return err
	}
	if err := h.dht.Bootstrap(ctx); err != nil {
		return err
	}
	h.routingDisc = drouting.NewRoutingDiscovery(h.dht)
	return nil
}

func (h *Host) loadOrCreateKey() (crypto.PrivKey, error) {
	keyPath := h.cfg.Identity.KeyFile
	if !filepath.IsAbs(keyPath) {
		keyPath = filepath.Join(config.ExpandPath(h.cfg.Storage.DataDir), keyPath)
	}
	if err := os.MkdirAll(filepath.Dir(keyPath), 0700); err != nil {
		return nil, err
	}
	if data, err := os.ReadFile(keyPath); err == nil {
		return crypto.UnmarshalPrivateKey(data)
	}

	privKey, _, err := crypto.GenerateEd25519Key(rand.Reader)
	if err != nil {
		return nil, err
	}
	data, err := crypto.MarshalPrivateKey(privKey)
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(keyPath, data, 0600); err != nil {
		return nil, err
	}
	h.log.Info("host: generated new node identity")
	return privKey, nil
}

func (h *Host) rememberPeer(id peer.ID) {
	addrs := h.host.Peerstore().Addrs(id)
	strs := make([]string, len(addrs))
	for i, a := range addrs {
		strs[i] = a.String()
	}
	if err := h.peers.Touch(id.String(), strs); err != nil {
		h.log.Warn("host: record peer failed", "peer", id, "err", err)
	}
}

func (h *Host) recordDial(id peer.ID, ok bool) {
	if h.peers == nil {
		return
	}
	if err := h.peers.RecordDial(id.String(), ok); err != nil {
		h.log.Debug("host: record dial failed", "peer", id, "err", err)
	}
}

// handleInboundStream is set as the gossip protocol's stream handler: by
// the time libp2p invokes it, the substream has already negotiated, so the
// handshake is driven straight through to Established.
func (h *Host) handleInboundStream(s network.Stream) {
	remote := s.Conn().RemotePeer()
	if h.policy.IsBanned(remote) {
		s.Reset()
		return
	}

	handler := gossip.NewHandler(gossip.OriginInbound)
	now := time.Now()
	if _, err := handler.ConnectionEstablished(now); err != nil {
		h.log.Warn("host: inbound handshake rejected", "peer", remote, "err", err)
		s.Reset()
		return
	}
	if _, err := handler.SubstreamNegotiated(now); err != nil {
		h.log.Warn("host: inbound negotiation rejected", "peer", remote, "err", err)
		s.Reset()
		return
	}

	conn := swarm.ConnInfo{Peer: remote, Origin: gossip.OriginInbound, Addr: s.Conn().RemoteMultiaddr()}
	h.behave.HandleUpgrade(conn, handler, s)
}

func (h *Host) dialPeer(ctx context.Context, id peer.ID) {
	if h.policy.IsBanned(id) {
		h.log.Debug("host: dial rejected, peer banned", "peer", id)
		return
	}
	if id == h.host.ID() {
		h.log.Debug("host: dial rejected, local address", "peer", id)
		return
	}
	if h.host.Network().Connectedness(id) == network.Connected {
		return
	}
	addrs := h.host.Peerstore().Addrs(id)
	if len(addrs) == 0 {
		h.log.Warn("host: dial rejected, no known address", "peer", id)
		return
	}
	if err := h.host.Connect(ctx, peer.AddrInfo{ID: id, Addrs: addrs}); err != nil {
		h.log.Warn("host: dial failed", "peer", id, "err", err)
		h.recordDial(id, false)
		return
	}
	h.recordDial(id, true)
	h.openGossipStream(ctx, id)
}

func (h *Host) dialAddress(ctx context.Context, addr multiaddr.Multiaddr) {
	pi, err := peer.AddrInfoFromP2pAddr(addr)
	if err != nil {
		h.log.Warn("host: invalid dial address", "addr", addr, "err", err)
		return
	}
	if h.policy.IsBanned(pi.ID) || pi.ID == h.host.ID() {
		h.log.Debug("host: dial rejected", "peer", pi.ID)
		return
	}
	if err := h.host.Connect(ctx, *pi); err != nil {
		h.log.Warn("host: dial failed", "addr", addr, "err", err)
		h.recordDial(pi.ID, false)
		return
	}
	h.recordDial(pi.ID, true)
	h.openGossipStream(ctx, pi.ID)
}

func (h *Host) openGossipStream(ctx context.Context, id peer.ID) {
	s, err := h.host.NewStream(ctx, id, gossip.ProtocolID(h.cfg.NetworkId))
	if err != nil {
		h.log.Warn("host: open gossip stream failed", "peer", id, "err", err)
		return
	}

	handler := gossip.NewHandler(gossip.OriginOutbound)
	now := time.Now()
	if _, err := handler.ConnectionEstablished(now); err != nil {
		h.log.Warn("host: outbound handshake rejected", "peer", id, "err", err)
		s.Reset()
		return
	}
	if _, err := handler.SubstreamNegotiated(now); err != nil {
		h.log.Warn("host: outbound negotiation rejected", "peer", id, "err", err)
		s.Reset()
		return
	}

	conn := swarm.ConnInfo{Peer: id, Origin: gossip.OriginOutbound, Addr: s.Conn().RemoteMultiaddr()}
	h.behave.HandleUpgrade(conn, handler, s)
}

func (h *Host) disconnectPeer(id peer.ID) {
	if err := h.host.Network().ClosePeer(id); err != nil {
		h.log.Warn("host: disconnect failed", "peer", id, "err", err)
	}
}

// commandEnvelope tags a submitted Command with a correlation id so the
// handful of log lines a single dial can produce (submit, dial attempt,
// stream open, handshake outcome) can be tied back together.
type commandEnvelope struct {
	id  uuid.UUID
	cmd Command
}

// Submit enqueues cmd for the main loop to act on. It blocks if the
// command channel is full; ctx cancellation aborts the send. The returned
// correlation id appears in every log line this command produces.
func (h *Host) Submit(ctx context.Context, cmd Command) (uuid.UUID, error) {
	id := uuid.New()
	select {
	case h.commands <- commandEnvelope{id: id, cmd: cmd}:
		return id, nil
	case <-ctx.Done():
		return uuid.Nil, ctx.Err()
	}
}

// Events returns the channel of internal events this host and its swarm
// behavior produce.
func (h *Host) Events() <-chan Event {
	return h.events
}

func (h *Host) emit(ev Event) {
	select {
	case h.events <- ev:
	default:
		h.log.Warn("host: event channel full, dropping event", "event", fmt.Sprintf("%T", ev))
	}
}

// Run is the host's main loop: it awaits concurrently on
// shutdown, the next swarm event, and the next command until ctx is
// cancelled. Call it in its own goroutine.
func (h *Host) Run() {
	for {
		select {
		case <-h.ctx.Done():
			return
		case ev, ok := <-h.behave.Events():
			if !ok {
				continue
			}
			h.emit(ev)
		case env, ok := <-h.commands:
			if !ok {
				continue
			}
			h.handleCommand(env.id, env.cmd)
		}
	}
}

func (h *Host) handleCommand(cmdId uuid.UUID, cmd Command) {
	switch c := cmd.(type) {
	case DialPeer:
		h.log.Debug("host: dialing peer", "peer", c.Peer, "cmd_id", cmdId)
		h.dialPeer(h.ctx, c.Peer)
	case DialAddress:
		h.log.Debug("host: dialing address", "addr", c.Addr, "cmd_id", cmdId)
		h.dialAddress(h.ctx, c.Addr)
	case BanPeer:
		h.policy.Ban(c.Peer)
		if h.peers != nil {
			if err := h.peers.Forget(c.Peer.String()); err != nil {
				h.log.Debug("host: forget banned peer failed", "peer", c.Peer, "err", err)
			}
		}
	case UnbanPeer:
		h.policy.Unban(c.Peer)
	case DisconnectPeer:
		h.disconnectPeer(c.Peer)
	}
}

// Start runs the main loop, dials configured bootstrap peers, reconnects
// peers known from a prior run (peerbook), and starts DHT rendezvous
// discovery. Call once after New.
func (h *Host) Start() {
	go h.Run()

	for _, addrStr := range h.cfg.Network.BootstrapPeers {
		ma, err := multiaddr.NewMultiaddr(addrStr)
		if err != nil {
			h.log.Warn("host: invalid bootstrap address", "addr", addrStr, "err", err)
			continue
		}
		go func() {
			cmdId, err := h.Submit(h.ctx, DialAddress{Addr: ma})
			if err != nil {
				h.log.Warn("host: bootstrap dial not submitted", "addr", addrStr, "err", err)
				return
			}
			h.log.Debug("host: bootstrap dial submitted", "addr", addrStr, "cmd_id", cmdId)
		}()
	}

	h.reconnectKnownPeers()

	if h.routingDisc != nil {
		go dutil.Advertise(h.ctx, h.routingDisc, h.cfg.DiscoveryNamespace())
		go h.discoverPeers()
	}
}

func (h *Host) reconnectKnownPeers() {
	if h.peers == nil {
		return
	}
	if removed, err := h.peers.Prune(peerBookRetention); err != nil {
		h.log.Debug("host: peer book prune failed", "err", err)
	} else if removed > 0 {
		h.log.Debug("host: pruned stale peers", "removed", removed)
	}

	cands, err := h.peers.Candidates(reconnectWindow, 50)
	if err != nil {
		h.log.Warn("host: list known peers failed", "err", err)
		return
	}
	for _, cand := range cands {
		id, err := peer.Decode(cand.ID)
		if err != nil {
			continue
		}
		for _, a := range cand.Addrs {
			if ma, err := multiaddr.NewMultiaddr(a); err == nil {
				h.host.Peerstore().AddAddr(id, ma, peerstore.TempAddrTTL)
			}
		}
		go func() {
			cmdId, err := h.Submit(h.ctx, DialPeer{Peer: id})
			if err != nil {
				h.log.Warn("host: reconnect dial not submitted", "peer", id, "err", err)
				return
			}
			h.log.Debug("host: reconnect dial submitted", "peer", id, "cmd_id", cmdId)
		}()
	}
}

func (h *Host) discoverPeers() {
	ticker := time.NewTicker(discoveryInterval)
	defer ticker.Stop()
	for {
		select {
		case <-h.ctx.Done():
			return
		case <-ticker.C:
			peers, err := dutil.FindPeers(h.ctx, h.routingDisc, h.cfg.DiscoveryNamespace())
			if err != nil {
				continue
			}
			for _, pi := range peers {
				if pi.ID == h.host.ID() {
					continue
				}
				if h.host.Network().Connectedness(pi.ID) == network.Connected {
					continue
				}
				h.host.Peerstore().AddAddrs(pi.ID, pi.Addrs, peerstore.TempAddrTTL)
				if _, err := h.Submit(h.ctx, DialPeer{Peer: pi.ID}); err != nil {
					return
				}
			}
		}
	}
}

// mdnsNotifee adapts Host to mdns.Notifee without exposing HandlePeerFound
// on Host's own exported surface.
type mdnsNotifee struct{ h *Host }

func (n *mdnsNotifee) HandlePeerFound(pi peer.AddrInfo) {
	if pi.ID == n.h.host.ID() {
		return
	}
	n.h.host.Peerstore().AddAddrs(pi.ID, pi.Addrs, peerstore.PermanentAddrTTL)
	if _, err := n.h.Submit(n.h.ctx, DialPeer{Peer: pi.ID}); err != nil {
		n.h.log.Debug("host: mDNS dial not submitted", "peer", pi.ID, "err", err)
	}
}

// Close tears down the libp2p host, DHT, mDNS service and swarm behavior.
func (h *Host) Close() error {
	h.cancel()
	h.behave.Close()
	if h.mdns != nil {
		h.mdns.Close()
	}
	if h.dht != nil {
		h.dht.Close()
	}
	return h.host.Close()
}

func (h *Host) ID() peer.ID                  { return h.host.ID() }
func (h *Host) Addrs() []multiaddr.Multiaddr { return h.host.Addrs() }
func (h *Host) PeerCount() int               { return len(h.host.Network().Peers()) }
func (h *Host) Policy() *PeerPolicy          { return h.policy }
func (h *Host) Underlying() lhost.Host       { return h.host }
