package peerbook

import (
	"testing"
	"time"
)

func openTestBook(t *testing.T) *PeerBook {
	t.Helper()
	pb, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { pb.Close() })
	return pb
}

func TestTouchAccumulatesAddresses(t *testing.T) {
	pb := openTestBook(t)

	if err := pb.Touch("peer-a", []string{"/ip4/10.0.0.1/tcp/15600"}); err != nil {
		t.Fatalf("Touch: %v", err)
	}
	if err := pb.Touch("peer-a", []string{"/ip4/10.0.0.2/tcp/15600"}); err != nil {
		t.Fatalf("Touch: %v", err)
	}

	cands, err := pb.Candidates(time.Hour, 10)
	if err != nil {
		t.Fatalf("Candidates: %v", err)
	}
	if len(cands) != 1 {
		t.Fatalf("len(cands) = %d, want 1", len(cands))
	}
	if len(cands[0].Addrs) != 2 {
		t.Fatalf("len(Addrs) = %d, want 2 (addresses accumulate)", len(cands[0].Addrs))
	}
}

func TestCandidatesOrderedByDialRecord(t *testing.T) {
	pb := openTestBook(t)

	for _, id := range []string{"flaky", "reliable"} {
		if err := pb.Touch(id, []string{"/ip4/127.0.0.1/tcp/1"}); err != nil {
			t.Fatalf("Touch: %v", err)
		}
	}
	for i := 0; i < 3; i++ {
		if err := pb.RecordDial("flaky", false); err != nil {
			t.Fatalf("RecordDial: %v", err)
		}
		if err := pb.RecordDial("reliable", true); err != nil {
			t.Fatalf("RecordDial: %v", err)
		}
	}

	cands, err := pb.Candidates(time.Hour, 10)
	if err != nil {
		t.Fatalf("Candidates: %v", err)
	}
	if len(cands) != 2 {
		t.Fatalf("len(cands) = %d, want 2", len(cands))
	}
	if cands[0].ID != "reliable" {
		t.Fatalf("first candidate = %s, want reliable (fewest failures first)", cands[0].ID)
	}
	if cands[0].DialAttempts != 3 || cands[0].DialFailures != 0 {
		t.Fatalf("reliable record = %d/%d, want 3 attempts, 0 failures", cands[0].DialAttempts, cands[0].DialFailures)
	}
}

func TestCandidatesSkipsAddresslessPeers(t *testing.T) {
	pb := openTestBook(t)

	if err := pb.Touch("no-addrs", nil); err != nil {
		t.Fatalf("Touch: %v", err)
	}
	cands, err := pb.Candidates(time.Hour, 10)
	if err != nil {
		t.Fatalf("Candidates: %v", err)
	}
	if len(cands) != 0 {
		t.Fatalf("len(cands) = %d, want 0 (nothing to dial)", len(cands))
	}
}

func TestForgetAndCount(t *testing.T) {
	pb := openTestBook(t)

	if err := pb.Touch("peer-a", []string{"/ip4/127.0.0.1/tcp/1"}); err != nil {
		t.Fatalf("Touch: %v", err)
	}
	if n, _ := pb.Count(); n != 1 {
		t.Fatalf("Count = %d, want 1", n)
	}
	if err := pb.Forget("peer-a"); err != nil {
		t.Fatalf("Forget: %v", err)
	}
	if n, _ := pb.Count(); n != 0 {
		t.Fatalf("Count = %d, want 0 after Forget", n)
	}
}

func TestPruneDropsStalePeers(t *testing.T) {
	pb := openTestBook(t)

	if err := pb.Touch("fresh", []string{"/ip4/127.0.0.1/tcp/1"}); err != nil {
		t.Fatalf("Touch: %v", err)
	}
	// Backdate a second peer well past any window this test uses.
	if _, err := pb.db.Exec(
		`INSERT INTO gossip_peers (id, first_seen, last_seen) VALUES (?, ?, ?)`,
		"stale", 1000, 1000,
	); err != nil {
		t.Fatalf("insert stale peer: %v", err)
	}

	removed, err := pb.Prune(time.Hour)
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if removed != 1 {
		t.Fatalf("Prune removed %d, want 1", removed)
	}
	if n, _ := pb.Count(); n != 1 {
		t.Fatalf("Count = %d, want 1 after prune", n)
	}
}
