package host

import (
	"context"
	"testing"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multiaddr"

	"github.com/tangleforge/tnode/internal/config"
	"github.com/tangleforge/tnode/internal/swarm"
)

func TestPeerPolicyBanUnban(t *testing.T) {
	p := newPeerPolicy()
	id := peer.ID("some-peer")

	if p.IsBanned(id) {
		t.Fatal("peer should not start banned")
	}

	p.Ban(id)
	if !p.IsBanned(id) {
		t.Fatal("peer should be banned after Ban")
	}

	p.Unban(id)
	if p.IsBanned(id) {
		t.Fatal("peer should not be banned after Unban")
	}
}

func testConfig(t *testing.T, dataDir string) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Storage.DataDir = dataDir
	cfg.Network.ListenAddrs = []string{"/ip4/127.0.0.1/tcp/0"}
	cfg.Network.EnableMDNS = false
	cfg.Network.EnableDHT = false
	cfg.Network.EnableRelay = false
	cfg.Network.EnableNAT = false
	cfg.Network.EnableHolePunching = false
	cfg.Identity.KeyFile = "node.key"
	return cfg
}

func newTestHost(t *testing.T) *Host {
	t.Helper()
	cfg := testConfig(t, t.TempDir())
	h, err := New(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { h.Close() })
	return h
}

func TestNewBindsListenAddress(t *testing.T) {
	h := newTestHost(t)
	if len(h.Addrs()) == 0 {
		t.Fatal("expected at least one bound address")
	}

	select {
	case ev := <-h.Events():
		if _, ok := ev.(AddressBound); !ok {
			t.Fatalf("first event = %T, want AddressBound", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for AddressBound")
	}
}

func TestDialAddressEstablishesGossip(t *testing.T) {
	a := newTestHost(t)
	b := newTestHost(t)
	a.Start()
	b.Start()

	bAddr := b.Addrs()[0]
	full, err := multiaddr.NewMultiaddr(bAddr.String() + "/p2p/" + b.ID().String())
	if err != nil {
		t.Fatalf("build dial address: %v", err)
	}

	if _, err := a.Submit(context.Background(), DialAddress{Addr: full}); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	deadline := time.After(5 * time.Second)
	var aEstablished, bEstablished bool
	for !aEstablished || !bEstablished {
		select {
		case ev := <-a.Events():
			if _, ok := ev.(swarm.ProtocolEstablished); ok {
				aEstablished = true
			}
		case ev := <-b.Events():
			if _, ok := ev.(swarm.ProtocolEstablished); ok {
				bEstablished = true
			}
		case <-deadline:
			t.Fatalf("timed out waiting for gossip handshake (a=%v b=%v)", aEstablished, bEstablished)
		}
	}
}

func TestBannedPeerRejectsDial(t *testing.T) {
	a := newTestHost(t)
	b := newTestHost(t)
	a.Start()

	a.Policy().Ban(b.ID())

	full, err := multiaddr.NewMultiaddr(b.Addrs()[0].String() + "/p2p/" + b.ID().String())
	if err != nil {
		t.Fatalf("build dial address: %v", err)
	}
	if _, err := a.Submit(context.Background(), DialAddress{Addr: full}); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	deadline := time.After(300 * time.Millisecond)
	for {
		select {
		case ev := <-a.Events():
			if _, ok := ev.(AddressBound); ok {
				continue
			}
			t.Fatalf("expected no connection event for banned peer, got %T", ev)
		case <-deadline:
			return
		}
	}
}
