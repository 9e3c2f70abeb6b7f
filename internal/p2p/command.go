package p2p

// Command is the sum type the driver consumes from its command channel,
// drained non-blockingly at the start of every turn before discovery events
// and the single swarm poll.
type Command interface {
	isCommand()
}

// PublishCommitment gossips a SignedCommitment on the commitments topic.
type PublishCommitment struct {
	Commitment SignedCommitment
}

func (PublishCommitment) isCommand() {}

// PublishRawTxList gossips a RawTxListGossip on the raw-txlists topic.
type PublishRawTxList struct {
	List RawTxListGossip
}

func (PublishRawTxList) isCommand() {}

// RequestCommitmentsResult is delivered on RequestCommitments' RespondTo
// channel exactly once.
type RequestCommitmentsResult struct {
	Response *GetCommitmentsByNumberResponse
	Err      error
}

// RequestCommitments asks a peer for commitments starting at
// StartBlockNumber. If PreferredPeer is nil, the driver chooses the first
// connected, non-banned peer.
type RequestCommitments struct {
	StartBlockNumber uint64
	MaxCount         uint32
	PreferredPeer    *PeerID
	RespondTo        chan<- RequestCommitmentsResult
}

func (RequestCommitments) isCommand() {}

// RequestRawTxListResult is delivered on RequestRawTxList's RespondTo
// channel exactly once.
type RequestRawTxListResult struct {
	List *RawTxList
	Err  error
}

// RequestRawTxList asks a peer for the raw transaction list with the given
// hash. If PreferredPeer is nil, the driver chooses the first connected,
// non-banned peer.
type RequestRawTxList struct {
	RawTxListHash [32]byte
	PreferredPeer *PeerID
	RespondTo     chan<- RequestRawTxListResult
}

func (RequestRawTxList) isCommand() {}

// RequestHeadResult is delivered on RequestHead's RespondTo channel exactly
// once.
type RequestHeadResult struct {
	Head *Head
	Err  error
}

// RequestHead asks a peer for its current head snapshot. If PreferredPeer
// is nil, the driver chooses the first connected, non-banned peer.
type RequestHead struct {
	PreferredPeer *PeerID
	RespondTo     chan<- RequestHeadResult
}

func (RequestHead) isCommand() {}

// UpdateHead overwrites the driver's locally tracked head. It produces no
// event and is not gossiped; peers learn the new head only by requesting
// it.
type UpdateHead struct {
	Head Head
}

func (UpdateHead) isCommand() {}
