package p2p

import "context"

// SwarmEvent is the sum type a Swarm implementation delivers to the driver.
// The driver polls for exactly one of these per turn when it has no pending
// commands or discovery events to drain.
type SwarmEvent interface {
	isSwarmEvent()
}

// SwarmConnectionEstablished reports a new inbound or outbound connection,
// before the driver has applied any reputation check.
type SwarmConnectionEstablished struct {
	Peer PeerID
}

func (SwarmConnectionEstablished) isSwarmEvent() {}

// SwarmConnectionClosed reports that a connection has ended, for any
// reason.
type SwarmConnectionClosed struct {
	Peer PeerID
}

func (SwarmConnectionClosed) isSwarmEvent() {}

// SwarmCommitmentsGossip carries an undecoded commitments-topic gossip
// message as received from peer.
type SwarmCommitmentsGossip struct {
	Peer PeerID
	Data []byte
}

func (SwarmCommitmentsGossip) isSwarmEvent() {}

// SwarmRawTxListsGossip carries an undecoded raw-txlists-topic gossip
// message as received from peer.
type SwarmRawTxListsGossip struct {
	Peer PeerID
	Data []byte
}

func (SwarmRawTxListsGossip) isSwarmEvent() {}

// SwarmRequestReceived carries an undecoded inbound request on one of the
// three req/resp protocols. The driver sends at most one encoded response
// frame on RespondTo and then closes it; the stream handler that produced
// this event is blocked reading from it, and resets the stream when it is
// closed without a frame.
type SwarmRequestReceived struct {
	Protocol  string
	Peer      PeerID
	Data      []byte
	RespondTo chan<- []byte
}

func (SwarmRequestReceived) isSwarmEvent() {}

// SwarmInboundFailure reports an inbound request/response exchange whose
// request frame could not be read from the stream.
type SwarmInboundFailure struct {
	Protocol string
	Peer     PeerID
	Err      error
}

func (SwarmInboundFailure) isSwarmEvent() {}

// Swarm is the transport capability the driver depends on. A *Libp2pSwarm
// is the production implementation; tests may supply an in-memory fake.
type Swarm interface {
	// Events returns the channel the driver polls for exactly one SwarmEvent
	// per idle turn.
	Events() <-chan SwarmEvent

	// Dial connects to addr. Called by the driver in reaction to a
	// MultiaddrFound discovery event that passes ShouldDial.
	Dial(ctx context.Context, addr string) error

	// Disconnect forcibly closes all connections to peer. Called when
	// reputation crosses into a ban.
	Disconnect(peer PeerID) error

	// ConnectedPeers returns the peers the transport layer currently has a
	// connection to. It does not consult reputation; the driver filters out
	// banned peers itself.
	ConnectedPeers() []PeerID

	// PublishCommitments and PublishRawTxLists gossip an already-encoded
	// payload on their respective topics.
	PublishCommitments(ctx context.Context, data []byte) error
	PublishRawTxLists(ctx context.Context, data []byte) error

	// SendCommitmentsRequest, SendRawTxListRequest, and SendHeadRequest open
	// a stream to peer on the matching protocol, write req, and return the
	// single response frame.
	SendCommitmentsRequest(ctx context.Context, peer PeerID, req []byte) ([]byte, error)
	SendRawTxListRequest(ctx context.Context, peer PeerID, req []byte) ([]byte, error)
	SendHeadRequest(ctx context.Context, peer PeerID, req []byte) ([]byte, error)

	// Close tears down the underlying host.
	Close() error
}
