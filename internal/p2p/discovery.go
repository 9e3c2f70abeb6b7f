package p2p

import (
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"
)

// DiscoveryEvent is the sum type emitted by a Discoverer as it learns about
// the network. The driver drains these non-blockingly on every turn,
// alongside commands, before polling the swarm.
type DiscoveryEvent interface {
	isDiscoveryEvent()
}

// MultiaddrFound reports a dialable address for a peer, either a new
// address for a known peer or a fully resolved bootnode.
type MultiaddrFound struct {
	Addr ma.Multiaddr
}

func (MultiaddrFound) isDiscoveryEvent() {}

// BootnodeFailed reports that a configured bootnode address could not be
// resolved or dialed. The driver surfaces this as an Event rather than
// acting on it directly.
type BootnodeFailed struct {
	Addr ma.Multiaddr
	Err  error
}

func (BootnodeFailed) isDiscoveryEvent() {}

// PeerDiscovered reports a peer identity learned without yet having a
// dialable address for it (e.g. from a DHT record). The driver does not act
// on this by itself; it exists for observability.
type PeerDiscovered struct {
	Peer PeerID
}

func (PeerDiscovered) isDiscoveryEvent() {}

// Discoverer is the capability a driver needs from a discovery mechanism
// (mDNS, a DHT, or a static bootnode list). Implementations run their own
// background work and deliver results as DiscoveryEvents; the driver only
// ever reads from the channel.
type Discoverer interface {
	Discoveries() <-chan DiscoveryEvent
}

// ShouldDial decides whether the driver should act on a MultiaddrFound
// event. It extracts the peer identity from addr when present and refuses
// to dial a peer that reputation currently bans. Addresses that do not
// encode a peer identity (bare bootnode multiaddrs) are always dialed; the
// swarm itself will apply reputation once the handshake completes and the
// identity becomes known.
func ShouldDial(addr ma.Multiaddr, rep ReputationBackend, now time.Time) bool {
	info, err := peer.AddrInfoFromP2pAddr(addr)
	if err != nil || info == nil {
		return true
	}
	return !rep.IsBanned(info.ID, now)
}
