package p2p

import (
	"testing"
	"time"

	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"
)

func newTestPeerAddr(t *testing.T) (peer.ID, ma.Multiaddr) {
	t.Helper()
	_, pub, err := crypto.GenerateEd25519Key(nil)
	if err != nil {
		t.Fatalf("GenerateEd25519Key: %v", err)
	}
	id, err := peer.IDFromPublicKey(pub)
	if err != nil {
		t.Fatalf("IDFromPublicKey: %v", err)
	}
	addr, err := ma.NewMultiaddr("/ip4/127.0.0.1/tcp/4001/p2p/" + id.String())
	if err != nil {
		t.Fatalf("NewMultiaddr: %v", err)
	}
	return id, addr
}

func TestShouldDialAllowsUnknownPeer(t *testing.T) {
	_, addr := newTestPeerAddr(t)
	rep := NewReputationStore(DefaultReputationConfig())

	if !ShouldDial(addr, rep, time.Now()) {
		t.Error("an unbanned peer's address should be dialable")
	}
}

func TestShouldDialRefusesBannedPeer(t *testing.T) {
	id, addr := newTestPeerAddr(t)
	rep := NewReputationStore(DefaultReputationConfig())
	now := time.Now()
	rep.Ban(id, now)

	if ShouldDial(addr, rep, now) {
		t.Error("a banned peer's address should not be dialable")
	}
}

func TestShouldDialAllowsAddrWithoutPeerID(t *testing.T) {
	addr, err := ma.NewMultiaddr("/ip4/127.0.0.1/tcp/4001")
	if err != nil {
		t.Fatalf("NewMultiaddr: %v", err)
	}
	rep := NewReputationStore(DefaultReputationConfig())

	if !ShouldDial(addr, rep, time.Now()) {
		t.Error("a bare address with no peer ID should always be dialable")
	}
}

func TestDiscoveryEventVariantsSatisfyInterface(t *testing.T) {
	_, addr := newTestPeerAddr(t)
	events := []DiscoveryEvent{
		MultiaddrFound{Addr: addr},
		BootnodeFailed{Addr: addr, Err: nil},
		PeerDiscovered{Peer: peer.ID("x")},
	}
	if len(events) != 3 {
		t.Fatal("expected three discovery event variants")
	}
}
