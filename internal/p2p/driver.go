package p2p

import (
	"context"
	"errors"
	"fmt"
	"time"

	plog "github.com/taikoxyz/preconf-net/internal/log"
)

// errNoPeer is returned when a driver-level request command has no
// connected, non-banned peer to send to.
var errNoPeer = errors.New("p2p: no connected peer available")

// Responder supplies the data the driver needs to answer inbound
// get-commitments-by-number and get-raw-txlist requests without involving
// the application. Head requests are answered directly from the driver's
// own UpdateHead-maintained state.
type Responder interface {
	CommitmentsByNumber(start uint64, maxCount uint32) (*GetCommitmentsByNumberResponse, error)
	RawTxList(hash [32]byte) (*RawTxList, error)
}

// NullResponder answers every request with an empty result. It is useful
// for nodes that only gossip and never backfill.
type NullResponder struct{}

func (NullResponder) CommitmentsByNumber(uint64, uint32) (*GetCommitmentsByNumberResponse, error) {
	return &GetCommitmentsByNumberResponse{}, nil
}

func (NullResponder) RawTxList([32]byte) (*RawTxList, error) {
	return &RawTxList{}, nil
}

var _ Responder = NullResponder{}

// Driver runs the single-threaded cooperative event loop that ties the
// reputation store, rate limiter, validator, and swarm together. Run and
// Step are called from the one goroutine that owns the driver's state; other
// goroutines interact with it only by sending on Commands() and receiving
// from Events().
type Driver struct {
	chainID uint64
	swarm   Swarm
	disc    Discoverer

	reputation ReputationBackend
	limiter    *RateLimiter
	validator  Validator
	responder  Responder
	metrics    *Metrics

	commands chan Command
	events   chan Event

	head Head

	log *plog.Logger
}

// NewDriver builds a Driver from its dependencies. swarm and disc are
// usually the same *Libp2pSwarm value. Lookahead-schedule validation is not
// a separate dependency here: a Driver that must enforce it is built with a
// LookaheadValidationAdapter as validator, which is itself constructed from
// a LookaheadResolver.
func NewDriver(chainID uint64, swarm Swarm, disc Discoverer, reputation ReputationBackend, limiter *RateLimiter, validator Validator, responder Responder, metrics *Metrics, logger *plog.Logger) *Driver {
	if validator == nil {
		validator = NullValidator{}
	}
	if responder == nil {
		responder = NullResponder{}
	}
	if logger == nil {
		logger = plog.Default()
	}
	return &Driver{
		chainID:    chainID,
		swarm:      swarm,
		disc:       disc,
		reputation: reputation,
		limiter:    limiter,
		validator:  validator,
		responder:  responder,
		metrics:    metrics,
		commands:   make(chan Command, 256),
		events:     make(chan Event, 256),
		log:        logger.Module("driver"),
	}
}

// Commands returns the channel callers send Commands to.
func (d *Driver) Commands() chan<- Command { return d.commands }

// Events returns the channel the driver publishes Events to.
func (d *Driver) Events() <-chan Event { return d.events }

// Run drives the event loop until ctx is cancelled, emitting a best-effort
// Stopped event on the way out.
func (d *Driver) Run(ctx context.Context) {
	defer d.emit(Stopped{})
	for {
		if !d.Step(ctx) {
			return
		}
	}
}

// Step executes one turn: it drains every pending command, then every
// pending discovery event, then blocks until exactly one swarm event or one
// command arrives, or ctx is cancelled. It returns false when the loop
// should stop.
func (d *Driver) Step(ctx context.Context) bool {
	for d.drainCommand() {
	}
	for d.drainDiscovery() {
	}

	select {
	case <-ctx.Done():
		return false
	case ev, ok := <-d.swarm.Events():
		if !ok {
			return false
		}
		d.handleSwarmEvent(ctx, ev)
		return true
	case cmd, ok := <-d.commands:
		if !ok {
			return true
		}
		d.handleCommand(ctx, cmd)
		return true
	}
}

// drainCommand services at most one queued command without blocking.
// Returns true if a command was handled.
func (d *Driver) drainCommand() bool {
	select {
	case cmd := <-d.commands:
		d.handleCommand(context.Background(), cmd)
		return true
	default:
		return false
	}
}

// drainDiscovery services at most one queued discovery event without
// blocking. Returns true if an event was handled.
func (d *Driver) drainDiscovery() bool {
	if d.disc == nil {
		return false
	}
	select {
	case ev := <-d.disc.Discoveries():
		d.handleDiscoveryEvent(ev)
		return true
	default:
		return false
	}
}

func (d *Driver) emit(ev Event) {
	select {
	case d.events <- ev:
	default:
		d.log.Warn("dropped event, channel full")
	}
}

// ---------------------------------------------------------------------------
// Discovery events
// ---------------------------------------------------------------------------

func (d *Driver) handleDiscoveryEvent(ev DiscoveryEvent) {
	switch e := ev.(type) {
	case MultiaddrFound:
		now := time.Now()
		if !ShouldDial(e.Addr, d.reputation, now) {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := d.swarm.Dial(ctx, e.Addr.String()); err != nil {
			d.emit(Error{Err: err})
		}
	case BootnodeFailed:
		d.emit(Error{Err: e.Err})
	case PeerDiscovered:
		// Informational only; the driver takes no action until a dialable
		// address is known.
	}
}

// ---------------------------------------------------------------------------
// Swarm events
// ---------------------------------------------------------------------------

func (d *Driver) handleSwarmEvent(ctx context.Context, ev SwarmEvent) {
	now := time.Now()
	switch e := ev.(type) {
	case SwarmConnectionEstablished:
		if d.reputation.IsBanned(e.Peer, now) {
			_ = d.swarm.Disconnect(e.Peer)
			return
		}
		if d.metrics != nil {
			d.metrics.ConnectedPeers.Set(float64(len(d.swarm.ConnectedPeers())))
		}
		d.emit(PeerConnected{Peer: e.Peer})

	case SwarmConnectionClosed:
		if d.metrics != nil {
			d.metrics.ConnectedPeers.Set(float64(len(d.swarm.ConnectedPeers())))
		}
		d.emit(PeerDisconnected{Peer: e.Peer})

	case SwarmCommitmentsGossip:
		d.handleCommitmentsGossip(e.Peer, e.Data, now)

	case SwarmRawTxListsGossip:
		d.handleRawTxListsGossip(e.Peer, e.Data, now)

	case SwarmRequestReceived:
		d.handleRequestReceived(ctx, e, now)

	case SwarmInboundFailure:
		d.applyReputation(e.Peer, ActionReqRespError, now)
	}
}

func (d *Driver) handleCommitmentsGossip(peer PeerID, data []byte, now time.Time) {
	if d.reputation.IsBanned(peer, now) {
		return
	}
	var c SignedCommitment
	if err := c.UnmarshalBinary(data); err != nil {
		d.applyReputation(peer, ActionMalformed, now)
		return
	}
	if err := d.validator.VerifySignedCommitment(&c, now); err != nil {
		d.applyReputation(peer, ActionGossipInvalid, now)
		return
	}
	d.applyReputation(peer, ActionGossipValid, now)
	if d.metrics != nil {
		d.metrics.CommitmentsReceived.Inc()
	}
	d.emit(CommitmentGossipReceived{Peer: peer, Commitment: c})
}

func (d *Driver) handleRawTxListsGossip(peer PeerID, data []byte, now time.Time) {
	if d.reputation.IsBanned(peer, now) {
		return
	}
	var l RawTxListGossip
	if err := l.UnmarshalBinary(data); err != nil {
		d.applyReputation(peer, ActionMalformed, now)
		return
	}
	if err := d.validator.ValidateRawTxListGossip(&l); err != nil {
		d.applyReputation(peer, ActionGossipInvalid, now)
		return
	}
	d.applyReputation(peer, ActionGossipValid, now)
	if d.metrics != nil {
		d.metrics.RawTxListsReceived.Inc()
	}
	d.emit(RawTxListGossipReceived{Peer: peer, List: l})
}

func (d *Driver) handleRequestReceived(_ context.Context, e SwarmRequestReceived, now time.Time) {
	if d.reputation.IsBanned(e.Peer, now) {
		close(e.RespondTo)
		return
	}

	isHeadRequest := e.Protocol == d.headProtoName()
	if !isHeadRequest && d.limiter != nil && !d.limiter.Allow(e.Peer, now) {
		if d.metrics != nil {
			d.metrics.RequestsRateLimited.WithLabelValues(e.Protocol).Inc()
		}
		d.applyReputation(e.Peer, ActionTimeout, now)
		d.emit(Error{Err: fmt.Errorf("%s: rate limit exceeded for peer %s", e.Protocol, e.Peer)})
		close(e.RespondTo)
		return
	}

	switch {
	case e.Protocol == d.commitmentsProtoName():
		d.serveCommitmentsRequest(e, now)
	case e.Protocol == d.rawTxListProtoName():
		d.serveRawTxListRequest(e, now)
	case isHeadRequest:
		d.serveHeadRequest(e, now)
	default:
		close(e.RespondTo)
	}
}

func (d *Driver) serveCommitmentsRequest(e SwarmRequestReceived, now time.Time) {
	var req GetCommitmentsByNumberRequest
	if len(e.Data) >= 12 {
		req.StartBlockNumber = beUint64(e.Data[0:8])
		req.MaxCount = beUint32(e.Data[8:12])
	}
	resp, err := d.responder.CommitmentsByNumber(req.StartBlockNumber, req.MaxCount)
	if err != nil || resp == nil {
		d.applyReputation(e.Peer, ActionReqRespError, now)
		close(e.RespondTo)
		return
	}
	encoded, err := resp.MarshalBinary()
	if err != nil {
		close(e.RespondTo)
		return
	}
	e.RespondTo <- encoded
	close(e.RespondTo)
	d.applyReputation(e.Peer, ActionReqRespSuccess, now)
	if d.metrics != nil {
		d.metrics.RequestsServed.WithLabelValues(e.Protocol).Inc()
	}
	d.emit(CommitmentsRequested{Peer: e.Peer, StartBlockNumber: req.StartBlockNumber, MaxCount: req.MaxCount})
}

func (d *Driver) serveRawTxListRequest(e SwarmRequestReceived, now time.Time) {
	var hash [32]byte
	if len(e.Data) >= 32 {
		copy(hash[:], e.Data[:32])
	}
	list, err := d.responder.RawTxList(hash)
	if err != nil || list == nil {
		d.applyReputation(e.Peer, ActionReqRespError, now)
		close(e.RespondTo)
		return
	}
	encoded, err := list.MarshalBinary()
	if err != nil {
		close(e.RespondTo)
		return
	}
	e.RespondTo <- encoded
	close(e.RespondTo)
	d.applyReputation(e.Peer, ActionReqRespSuccess, now)
	if d.metrics != nil {
		d.metrics.RequestsServed.WithLabelValues(e.Protocol).Inc()
	}
	d.emit(RawTxListRequested{Peer: e.Peer, RawTxListHash: hash})
}

func (d *Driver) serveHeadRequest(e SwarmRequestReceived, now time.Time) {
	encoded, err := d.head.MarshalBinary()
	if err != nil {
		close(e.RespondTo)
		return
	}
	e.RespondTo <- encoded
	close(e.RespondTo)
	d.applyReputation(e.Peer, ActionReqRespSuccess, now)
	if d.metrics != nil {
		d.metrics.RequestsServed.WithLabelValues(e.Protocol).Inc()
	}
	d.emit(HeadRequested{Peer: e.Peer})
}

// applyReputation applies action to peer and, on a ban-transition,
// disconnects it; on a greylist-transition, just tracks the metric.
func (d *Driver) applyReputation(peer PeerID, action PeerAction, now time.Time) {
	ev := d.reputation.Apply(peer, action, now)
	if d.metrics != nil {
		state := "ok"
		if ev.IsBanned {
			state = "banned"
		} else if ev.IsGreylisted {
			state = "greylisted"
		}
		d.metrics.ReputationEvents.WithLabelValues(actionName(action), state).Inc()
	}
	if ev.IsBanned && !ev.WasBanned {
		_ = d.swarm.Disconnect(peer)
		if d.metrics != nil {
			d.metrics.BannedPeers.Inc()
		}
	} else if ev.IsGreylisted && !ev.WasGreylisted && d.metrics != nil {
		d.metrics.GreylistedPeers.Inc()
	}
}

// ---------------------------------------------------------------------------
// Commands
// ---------------------------------------------------------------------------

func (d *Driver) handleCommand(ctx context.Context, cmd Command) {
	switch c := cmd.(type) {
	case PublishCommitment:
		data, err := c.Commitment.MarshalBinary()
		if err != nil {
			d.emit(Error{Err: err})
			return
		}
		if err := d.swarm.PublishCommitments(ctx, data); err != nil {
			d.emit(Error{Err: err})
		}

	case PublishRawTxList:
		data, err := c.List.MarshalBinary()
		if err != nil {
			d.emit(Error{Err: err})
			return
		}
		if err := d.swarm.PublishRawTxLists(ctx, data); err != nil {
			d.emit(Error{Err: err})
		}

	case RequestCommitments:
		d.handleRequestCommitments(ctx, c)

	case RequestRawTxList:
		d.handleRequestRawTxList(ctx, c)

	case RequestHead:
		d.handleRequestHead(ctx, c)

	case UpdateHead:
		d.head = c.Head
	}
}

func (d *Driver) choosePeer(preferred *PeerID) (PeerID, bool) {
	if preferred != nil {
		return *preferred, true
	}
	now := time.Now()
	for _, p := range d.swarm.ConnectedPeers() {
		if !d.reputation.IsBanned(p, now) {
			return p, true
		}
	}
	return "", false
}

func (d *Driver) handleRequestCommitments(ctx context.Context, c RequestCommitments) {
	peer, ok := d.choosePeer(c.PreferredPeer)
	if !ok {
		d.replyCommitments(c.RespondTo, nil, errNoPeer)
		return
	}
	var buf [12]byte
	putUint64(buf[0:8], c.StartBlockNumber)
	putUint32(buf[8:12], c.MaxCount)

	data, err := d.swarm.SendCommitmentsRequest(ctx, peer, buf[:])
	now := time.Now()
	if err != nil {
		d.applyReputation(peer, ActionReqRespError, now)
		d.replyCommitments(c.RespondTo, nil, err)
		return
	}
	var resp GetCommitmentsByNumberResponse
	if err := resp.UnmarshalBinary(data); err != nil {
		d.applyReputation(peer, ActionReqRespError, now)
		d.replyCommitments(c.RespondTo, nil, err)
		return
	}
	if err := d.validator.ValidateCommitmentsResponse(&resp); err != nil {
		d.applyReputation(peer, ActionReqRespError, now)
		d.replyCommitments(c.RespondTo, nil, err)
		return
	}
	d.applyReputation(peer, ActionReqRespSuccess, now)
	if d.metrics != nil {
		d.metrics.RequestsSent.WithLabelValues(d.commitmentsProtoName(), "success").Inc()
	}
	d.replyCommitments(c.RespondTo, &resp, nil)
}

func (d *Driver) handleRequestRawTxList(ctx context.Context, c RequestRawTxList) {
	peer, ok := d.choosePeer(c.PreferredPeer)
	if !ok {
		d.replyRawTxList(c.RespondTo, nil, errNoPeer)
		return
	}
	data, err := d.swarm.SendRawTxListRequest(ctx, peer, c.RawTxListHash[:])
	now := time.Now()
	if err != nil {
		d.applyReputation(peer, ActionReqRespError, now)
		d.replyRawTxList(c.RespondTo, nil, err)
		return
	}
	var list RawTxList
	if err := list.UnmarshalBinary(data); err != nil {
		d.applyReputation(peer, ActionReqRespError, now)
		d.replyRawTxList(c.RespondTo, nil, err)
		return
	}
	d.applyReputation(peer, ActionReqRespSuccess, now)
	if d.metrics != nil {
		d.metrics.RequestsSent.WithLabelValues(d.rawTxListProtoName(), "success").Inc()
	}
	d.replyRawTxList(c.RespondTo, &list, nil)
}

func (d *Driver) handleRequestHead(ctx context.Context, c RequestHead) {
	peer, ok := d.choosePeer(c.PreferredPeer)
	if !ok {
		d.replyHead(c.RespondTo, nil, errNoPeer)
		return
	}
	data, err := d.swarm.SendHeadRequest(ctx, peer, nil)
	now := time.Now()
	if err != nil {
		d.applyReputation(peer, ActionReqRespError, now)
		d.replyHead(c.RespondTo, nil, err)
		return
	}
	var h Head
	if err := h.UnmarshalBinary(data); err != nil {
		d.applyReputation(peer, ActionReqRespError, now)
		d.replyHead(c.RespondTo, nil, err)
		return
	}
	d.applyReputation(peer, ActionReqRespSuccess, now)
	if d.metrics != nil {
		d.metrics.RequestsSent.WithLabelValues(d.headProtoName(), "success").Inc()
	}
	d.replyHead(c.RespondTo, &h, nil)
}

func (d *Driver) replyCommitments(ch chan<- RequestCommitmentsResult, resp *GetCommitmentsByNumberResponse, err error) {
	if ch == nil {
		return
	}
	select {
	case ch <- RequestCommitmentsResult{Response: resp, Err: err}:
	default:
	}
}

func (d *Driver) replyRawTxList(ch chan<- RequestRawTxListResult, list *RawTxList, err error) {
	if ch == nil {
		return
	}
	select {
	case ch <- RequestRawTxListResult{List: list, Err: err}:
	default:
	}
}

func (d *Driver) replyHead(ch chan<- RequestHeadResult, head *Head, err error) {
	if ch == nil {
		return
	}
	select {
	case ch <- RequestHeadResult{Head: head, Err: err}:
	default:
	}
}

func (d *Driver) commitmentsProtoName() string { return string(CommitmentsByNumberProtocolID(d.chainID)) }
func (d *Driver) rawTxListProtoName() string    { return string(RawTxListProtocolID(d.chainID)) }
func (d *Driver) headProtoName() string         { return string(HeadProtocolID(d.chainID)) }

func actionName(a PeerAction) string {
	switch a {
	case ActionGossipValid:
		return "gossip_valid"
	case ActionGossipInvalid:
		return "gossip_invalid"
	case ActionReqRespSuccess:
		return "reqresp_success"
	case ActionReqRespError:
		return "reqresp_error"
	case ActionTimeout:
		return "timeout"
	case ActionMalformed:
		return "malformed"
	default:
		return "unknown"
	}
}

func beUint64(b []byte) uint64 {
	return uint64(b[0])<<56 | uint64(b[1])<<48 | uint64(b[2])<<40 | uint64(b[3])<<32 |
		uint64(b[4])<<24 | uint64(b[5])<<16 | uint64(b[6])<<8 | uint64(b[7])
}

func beUint32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

func putUint64(b []byte, v uint64) {
	b[0] = byte(v >> 56)
	b[1] = byte(v >> 48)
	b[2] = byte(v >> 40)
	b[3] = byte(v >> 32)
	b[4] = byte(v >> 24)
	b[5] = byte(v >> 16)
	b[6] = byte(v >> 8)
	b[7] = byte(v)
}

func putUint32(b []byte, v uint32) {
	b[0] = byte(v >> 24)
	b[1] = byte(v >> 16)
	b[2] = byte(v >> 8)
	b[3] = byte(v)
}
