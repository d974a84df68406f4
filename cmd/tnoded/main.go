// Command tnoded is the node daemon entrypoint: it parses flags, loads
// configuration, wires storage, tangle, ledger, snapshot import, dispatch
// and networking in dependency order, and runs until an interrupt or
// terminate signal arrives.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/tangleforge/tnode/internal/codec"
	"github.com/tangleforge/tnode/internal/config"
	"github.com/tangleforge/tnode/internal/dispatch"
	"github.com/tangleforge/tnode/internal/host"
	"github.com/tangleforge/tnode/internal/ledger"
	"github.com/tangleforge/tnode/internal/milestone"
	"github.com/tangleforge/tnode/internal/snapshot"
	"github.com/tangleforge/tnode/internal/store"
	boltstore "github.com/tangleforge/tnode/internal/store/bolt"
	"github.com/tangleforge/tnode/internal/store/peerbook"
	"github.com/tangleforge/tnode/internal/swarm"
	"github.com/tangleforge/tnode/internal/tangle"
	"github.com/tangleforge/tnode/internal/tipselect"
	"github.com/tangleforge/tnode/internal/tmsg"
	"github.com/tangleforge/tnode/pkg/logging"
)

var (
	version = "0.1.0-dev"
	commit  = "unknown"
)

func main() {
	var (
		dataDir     = flag.String("data-dir", "~/.tnode", "Data directory")
		listenAddr  = flag.String("listen", "", "Listen address (multiaddr), overrides config")
		testnet     = flag.Bool("testnet", false, "Run on testnet (separate network and data)")
		logLevel    = flag.String("log-level", "", "Log level (debug, info, warn, error), overrides config")
		showVersion = flag.Bool("version", false, "Show version and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("tnoded %s (%s)\n", version, commit)
		return
	}

	cfg, err := config.LoadConfig(*dataDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "tnoded: load config: %v\n", err)
		os.Exit(1)
	}
	if *testnet {
		cfg.NetworkType = config.NetworkTestnet
	}
	if *listenAddr != "" {
		cfg.Network.ListenAddrs = []string{*listenAddr}
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}

	logging.SetDefault(logging.New(&logging.Config{
		Level:      cfg.Logging.Level,
		TimeFormat: time.Kitchen,
	}))
	log := logging.GetDefault().Component("daemon")
	log.Info("starting tnoded", "version", version, "commit", commit, "network", cfg.NetworkType, "network_id", cfg.NetworkId)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal("tnoded exited with error", "err", err)
	}
}

// run wires every component in dependency order: storage, tangle,
// milestone/SEP state, tip pool, ledger, snapshot import (blocking),
// payload dispatch workers, gossip swarm, network host. The host comes
// last so inbound connections never race a half-initialized tangle.
func run(ctx context.Context, cfg *config.Config, log *logging.Logger) error {
	dataDir := config.ExpandPath(cfg.Storage.DataDir)
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	st, err := boltstore.Open(filepath.Join(dataDir, "tangle.db"))
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer st.Close()

	tg, err := tangle.New(st, tangle.ComputeCacheCapacity(0))
	if err != nil {
		return fmt.Errorf("init tangle: %w", err)
	}

	ms := milestone.New(tg, st)
	tips := tipselect.New()
	ldg := ledger.New(st)

	imp := snapshot.NewImporter(st, ldg, ms, cfg.NetworkId, cfg.Milestone.TotalSupply)
	if cfg.Snapshot.FullPath != "" {
		src := snapshot.Source{
			FullPath:  filepath.Join(dataDir, cfg.Snapshot.FullPath),
			DeltaPath: filepath.Join(dataDir, cfg.Snapshot.DeltaPath),
			FullURL:   cfg.Snapshot.FullURL,
			DeltaURL:  cfg.Snapshot.DeltaURL,
		}
		if err := imp.Import(ctx, src); err != nil {
			return fmt.Errorf("snapshot import: %w", err)
		}
	}

	disp := dispatch.New(tg, st, ms)
	disp.Start(dispatch.DefaultBufferSize)
	defer disp.Stop()

	peers, err := peerbook.Open(dataDir)
	if err != nil {
		log.Warn("peer book unavailable, reconnect-on-startup disabled", "err", err)
		peers = nil
	} else {
		defer peers.Close()
	}

	h, err := host.New(ctx, cfg, peers)
	if err != nil {
		return fmt.Errorf("init host: %w", err)
	}
	defer h.Close()

	n := &node{
		cfg:   cfg,
		log:   log,
		store: st,
		tg:    tg,
		ms:    ms,
		tips:  tips,
		disp:  disp,
		host:  h,
	}

	h.Start()
	go n.runEventLoop(ctx)

	log.Info("node ready", "id", h.ID(), "addrs", h.Addrs())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		log.Info("received shutdown signal", "signal", sig)
	case <-ctx.Done():
	}
	return nil
}

// node holds the handles the host event loop needs to turn an inbound
// gossip frame into a Tangle insertion, a tip pool update and a dispatch
// submission.
type node struct {
	cfg   *config.Config
	log   *logging.Logger
	store store.Storage
	tg    *tangle.Tangle
	ms    *milestone.Manager
	tips  *tipselect.Pool
	disp  *dispatch.Dispatcher
	host  *host.Host

	mu      sync.Mutex
	outputs map[string]chan<- []byte
}

func (n *node) runEventLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-n.host.Events():
			if !ok {
				return
			}
			n.handleEvent(ctx, ev)
		}
	}
}

func (n *node) handleEvent(ctx context.Context, ev host.Event) {
	switch e := ev.(type) {
	case host.AddressBound:
		n.log.Info("listening", "addr", e.Addr)
	case host.PeerConnected:
		n.log.Info("peer connected", "peer", e.Peer)
	case host.PeerDisconnected:
		n.log.Info("peer disconnected", "peer", e.Peer)
	case host.ListenerError:
		n.log.Warn("listener error", "err", e.Err)
	case swarm.ProtocolEstablished:
		n.registerPeer(e.Conn.Peer.String(), e.GossipOut)
	case swarm.ConnectionDropped:
		n.unregisterPeer(e.Peer.String())
	case swarm.MessageReceived:
		n.handleGossipFrame(ctx, e.From.String(), e.Bytes)
	case swarm.MilestoneAdvertised:
		n.log.Debug("milestone advertised", "from", e.From)
	}
}

func (n *node) registerPeer(id string, out chan<- []byte) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.outputs == nil {
		n.outputs = make(map[string]chan<- []byte)
	}
	n.outputs[id] = out
}

func (n *node) unregisterPeer(id string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.outputs, id)
}

// handleGossipFrame decodes an inbound gossip frame, inserts it into the
// Tangle, registers it as a tip candidate and submits it to the payload
// dispatcher.
func (n *node) handleGossipFrame(ctx context.Context, from string, raw []byte) {
	msg := &tmsg.Message{}
	if err := codec.Unpack(raw, msg); err != nil {
		n.log.Warn("dropping malformed gossip frame", "from", from, "err", err)
		return
	}
	if msg.NetworkId != n.cfg.NetworkId {
		n.log.Debug("dropping cross-network message", "from", from, "network_id", msg.NetworkId)
		return
	}

	id, err := msg.Id()
	if err != nil {
		n.log.Warn("failed to hash inbound message", "from", from, "err", err)
		return
	}

	inserted, err := n.tg.InsertMessage(id, msg, uint64(time.Now().Unix()))
	if err != nil {
		n.log.Error("failed to insert message", "id", id, "err", err)
		return
	}
	if !inserted {
		return
	}

	// Solidify eagerly: if both parents are already known and solid this
	// message solidifies now, and any approvers that arrived before their
	// parents get promoted through the approver index.
	if _, err := n.tg.Solidify(id); err != nil {
		n.log.Warn("failed to solidify message", "id", id, "err", err)
	}

	solid := n.ms.SolidIndex()
	n.tips.Insert(id, msg.Parents(), solid, solid)

	if err := n.disp.Submit(ctx, id); err != nil {
		n.log.Warn("failed to submit message for dispatch", "id", id, "err", err)
	}

	n.broadcast(from, raw)
}

// broadcast forwards a just-received frame to every other connected peer,
// the minimal store-and-forward relay the two-parent DAG gossip substrate
// needs. Flood relay keeps propagation simple; a slow peer's full channel
// drops the frame rather than stalling the loop.
func (n *node) broadcast(except string, raw []byte) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for id, out := range n.outputs {
		if id == except {
			continue
		}
		select {
		case out <- raw:
		default:
			n.log.Warn("gossip out channel full, dropping relay", "peer", id)
		}
	}
}
