// Package p2p implements the networking driver for the preconfirmation
// gossip protocol: a peer reputation engine, a request rate limiter, a
// validation path for inbound gossip and request/response traffic, and the
// event loop that ties them to the underlying libp2p swarm.
package p2p

import (
	"github.com/libp2p/go-libp2p/core/peer"
)

// PeerID identifies a remote node. It is a thin alias over libp2p's peer.ID
// so the driver and reputation store never depend on the transport package
// directly beyond this one type.
type PeerID = peer.ID

// Score is a peer's reputation value. Zero is neutral; negative scores move
// a peer toward greylisting and eventually banning.
type Score float64

// Head is the current best known preconfirmed chain tip, served verbatim on
// head requests and mutated only through UpdateHead commands.
type Head struct {
	BlockNumber uint64
	BlockHash   [32]byte
	ParentHash  [32]byte
}

// IsZero reports whether h is the default, unset head.
func (h Head) IsZero() bool {
	return h.BlockNumber == 0 && h.BlockHash == [32]byte{} && h.ParentHash == [32]byte{}
}
