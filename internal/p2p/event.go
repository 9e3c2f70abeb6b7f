package p2p

// Event is the sum type the driver emits to the application through its
// event channel. The driver never blocks waiting for an application
// reaction to an Event; inbound requests are answered synchronously from
// the driver's own state via a Responder, and an Event is emitted purely
// for observability.
type Event interface {
	isEvent()
}

// PeerConnected reports a newly established, non-banned connection.
type PeerConnected struct {
	Peer PeerID
}

func (PeerConnected) isEvent() {}

// PeerDisconnected reports that a previously connected peer has gone away.
type PeerDisconnected struct {
	Peer PeerID
}

func (PeerDisconnected) isEvent() {}

// CommitmentGossipReceived reports a SignedCommitment that arrived over the
// commitments gossip topic and passed validation.
type CommitmentGossipReceived struct {
	Peer       PeerID
	Commitment SignedCommitment
}

func (CommitmentGossipReceived) isEvent() {}

// RawTxListGossipReceived reports a RawTxListGossip that arrived over the
// raw-txlists gossip topic and passed validation.
type RawTxListGossipReceived struct {
	Peer PeerID
	List RawTxListGossip
}

func (RawTxListGossipReceived) isEvent() {}

// CommitmentsRequested reports an inbound get-commitments-by-number request.
// The driver has already answered it via Responder by the time this event
// is emitted.
type CommitmentsRequested struct {
	Peer             PeerID
	StartBlockNumber uint64
	MaxCount         uint32
}

func (CommitmentsRequested) isEvent() {}

// RawTxListRequested reports an inbound get-raw-txlist request, answered by
// the time this event is emitted.
type RawTxListRequested struct {
	Peer          PeerID
	RawTxListHash [32]byte
}

func (RawTxListRequested) isEvent() {}

// HeadRequested reports an inbound get-head request, answered from the
// driver's current Head by the time this event is emitted.
type HeadRequested struct {
	Peer PeerID
}

func (HeadRequested) isEvent() {}

// Error reports a non-fatal condition the driver could not otherwise
// surface: a failed bootnode dial, a swarm-level transport error.
type Error struct {
	Err error
}

func (Error) isEvent() {}

// Stopped is emitted on a best-effort basis when the driver shuts down.
type Stopped struct{}

func (Stopped) isEvent() {}
