package p2p

import (
	"context"
	"testing"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
)

// fakeSwarm is an in-memory Swarm used to drive the event loop
// deterministically without a real libp2p host.
type fakeSwarm struct {
	events    chan SwarmEvent
	connected map[PeerID]bool
	published [][]byte
	disconnected []PeerID
}

func newFakeSwarm() *fakeSwarm {
	return &fakeSwarm{
		events:    make(chan SwarmEvent, 16),
		connected: make(map[PeerID]bool),
	}
}

func (f *fakeSwarm) Events() <-chan SwarmEvent { return f.events }

func (f *fakeSwarm) Dial(context.Context, string) error { return nil }

func (f *fakeSwarm) Disconnect(p PeerID) error {
	f.disconnected = append(f.disconnected, p)
	delete(f.connected, p)
	return nil
}

func (f *fakeSwarm) ConnectedPeers() []PeerID {
	out := make([]PeerID, 0, len(f.connected))
	for p := range f.connected {
		out = append(out, p)
	}
	return out
}

func (f *fakeSwarm) PublishCommitments(_ context.Context, data []byte) error {
	f.published = append(f.published, data)
	return nil
}

func (f *fakeSwarm) PublishRawTxLists(_ context.Context, data []byte) error {
	f.published = append(f.published, data)
	return nil
}

func (f *fakeSwarm) SendCommitmentsRequest(context.Context, PeerID, []byte) ([]byte, error) {
	return (&GetCommitmentsByNumberResponse{}).MarshalBinary()
}

func (f *fakeSwarm) SendRawTxListRequest(context.Context, PeerID, []byte) ([]byte, error) {
	return (&RawTxList{}).MarshalBinary()
}

func (f *fakeSwarm) SendHeadRequest(context.Context, PeerID, []byte) ([]byte, error) {
	return (&Head{BlockNumber: 7}).MarshalBinary()
}

func (f *fakeSwarm) Close() error { return nil }

var _ Swarm = (*fakeSwarm)(nil)

func newTestDriver(swarm *fakeSwarm) (*Driver, ReputationBackend) {
	rep := NewReputationStore(DefaultReputationConfig())
	limiter := NewRateLimiter(RateLimitConfig{Window: time.Minute, MaxRequests: 10})
	d := NewDriver(1, swarm, nil, rep, limiter, NullValidator{}, NullResponder{}, nil, nil)
	return d, rep
}

func TestDriverConnectionEstablishedEmitsPeerConnected(t *testing.T) {
	swarm := newFakeSwarm()
	d, _ := newTestDriver(swarm)
	p := peer.ID("peer1")
	swarm.connected[p] = true

	swarm.events <- SwarmConnectionEstablished{Peer: p}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if !d.Step(ctx) {
		t.Fatal("Step returned false unexpectedly")
	}

	select {
	case ev := <-d.Events():
		pc, ok := ev.(PeerConnected)
		if !ok || pc.Peer != p {
			t.Fatalf("expected PeerConnected{%v}, got %#v", p, ev)
		}
	default:
		t.Fatal("expected an event to be emitted")
	}
}

func TestDriverDisconnectsBannedPeerOnConnect(t *testing.T) {
	swarm := newFakeSwarm()
	d, rep := newTestDriver(swarm)
	p := peer.ID("peer1")
	swarm.connected[p] = true
	rep.(*ReputationStore).Ban(p, time.Now())

	swarm.events <- SwarmConnectionEstablished{Peer: p}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	d.Step(ctx)

	if len(swarm.disconnected) != 1 || swarm.disconnected[0] != p {
		t.Errorf("expected banned peer to be disconnected, got %v", swarm.disconnected)
	}
}

func TestDriverMalformedGossipDegradesReputationAndDropsEvent(t *testing.T) {
	swarm := newFakeSwarm()
	d, rep := newTestDriver(swarm)
	p := peer.ID("peer1")

	swarm.events <- SwarmCommitmentsGossip{Peer: p, Data: []byte{1, 2, 3}}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	d.Step(ctx)

	if rep.Score(p, time.Now()) >= 0 {
		t.Error("malformed gossip should degrade reputation below zero")
	}
	select {
	case ev := <-d.Events():
		t.Fatalf("expected no event for malformed gossip, got %#v", ev)
	default:
	}
}

func TestDriverValidGossipEmitsEventAndImprovesReputation(t *testing.T) {
	swarm := newFakeSwarm()
	d, rep := newTestDriver(swarm)
	p := peer.ID("peer1")

	c := SignedCommitment{Commitment: Preconfirmation{BlockNumber: 42}}
	data, err := c.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary: %v", err)
	}

	swarm.events <- SwarmCommitmentsGossip{Peer: p, Data: data}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	d.Step(ctx)

	if rep.Score(p, time.Now()) <= 0 {
		t.Error("valid gossip should improve reputation above zero")
	}
	select {
	case ev := <-d.Events():
		cg, ok := ev.(CommitmentGossipReceived)
		if !ok || cg.Commitment.Commitment.BlockNumber != 42 {
			t.Fatalf("expected CommitmentGossipReceived with block 42, got %#v", ev)
		}
	default:
		t.Fatal("expected an event to be emitted")
	}
}

func TestDriverUpdateHeadHasNoEvent(t *testing.T) {
	swarm := newFakeSwarm()
	d, _ := newTestDriver(swarm)

	d.commands <- UpdateHead{Head: Head{BlockNumber: 99}}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	d.Step(ctx)

	if d.head.BlockNumber != 99 {
		t.Errorf("expected head to be updated, got %+v", d.head)
	}
	select {
	case ev := <-d.Events():
		t.Fatalf("UpdateHead should not emit an event, got %#v", ev)
	default:
	}
}

func TestDriverRequestHeadRoundTrip(t *testing.T) {
	swarm := newFakeSwarm()
	d, _ := newTestDriver(swarm)
	p := peer.ID("peer1")
	swarm.connected[p] = true

	respCh := make(chan RequestHeadResult, 1)
	d.commands <- RequestHead{RespondTo: respCh}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	d.Step(ctx)

	select {
	case res := <-respCh:
		if res.Err != nil {
			t.Fatalf("unexpected error: %v", res.Err)
		}
		if res.Head.BlockNumber != 7 {
			t.Errorf("expected head block 7 from fake swarm, got %d", res.Head.BlockNumber)
		}
	default:
		t.Fatal("expected a result on RespondTo")
	}
}

func TestDriverRequestHeadNoPeerAvailable(t *testing.T) {
	swarm := newFakeSwarm()
	d, _ := newTestDriver(swarm)

	respCh := make(chan RequestHeadResult, 1)
	d.commands <- RequestHead{RespondTo: respCh}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	d.Step(ctx)

	select {
	case res := <-respCh:
		if res.Err == nil {
			t.Fatal("expected an error when no peer is connected")
		}
	default:
		t.Fatal("expected a result on RespondTo even on failure")
	}
}

func TestDriverRejectsGossipFromWrongLookaheadSigner(t *testing.T) {
	swarm := newFakeSwarm()
	rep := NewReputationStore(DefaultReputationConfig())
	limiter := NewRateLimiter(RateLimitConfig{Window: time.Minute, MaxRequests: 10})
	expected := [20]byte{9, 9, 9}
	wrong := [20]byte{1, 1, 1}
	resolver := StaticLookaheadResolver{Signer: expected, SlotLength: 12 * time.Second}
	validator := LookaheadValidationAdapter{Lookahead: resolver}
	d := NewDriver(1, swarm, nil, rep, limiter, validator, NullResponder{}, nil, nil)
	p := peer.ID("peer1")

	ts := time.Unix(1200, 0)
	end, _ := resolver.ExpectedSlotEnd(ts)
	c := SignedCommitment{
		Commitment: Preconfirmation{
			BlockNumber:         42,
			Timestamp:           uint64(ts.Unix()),
			SubmissionWindowEnd: uint64(end.Unix()),
		},
		Signer: wrong,
	}
	data, err := c.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary: %v", err)
	}

	swarm.events <- SwarmCommitmentsGossip{Peer: p, Data: data}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	d.Step(ctx)

	if rep.Score(p, time.Now()) >= 0 {
		t.Error("gossip from an unexpected signer should degrade reputation below zero")
	}
	select {
	case ev := <-d.Events():
		t.Fatalf("expected no event for a commitment rejected by the lookahead schedule, got %#v", ev)
	default:
	}
}

func TestDriverAcceptsGossipFromExpectedLookaheadSigner(t *testing.T) {
	swarm := newFakeSwarm()
	rep := NewReputationStore(DefaultReputationConfig())
	limiter := NewRateLimiter(RateLimitConfig{Window: time.Minute, MaxRequests: 10})
	expected := [20]byte{9, 9, 9}
	resolver := StaticLookaheadResolver{Signer: expected, SlotLength: 12 * time.Second}
	validator := LookaheadValidationAdapter{Lookahead: resolver}
	d := NewDriver(1, swarm, nil, rep, limiter, validator, NullResponder{}, nil, nil)
	p := peer.ID("peer1")

	ts := time.Unix(1200, 0)
	end, _ := resolver.ExpectedSlotEnd(ts)
	c := SignedCommitment{
		Commitment: Preconfirmation{
			BlockNumber:         42,
			Timestamp:           uint64(ts.Unix()),
			SubmissionWindowEnd: uint64(end.Unix()),
		},
		Signer: expected,
	}
	data, err := c.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary: %v", err)
	}

	swarm.events <- SwarmCommitmentsGossip{Peer: p, Data: data}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	d.Step(ctx)

	if rep.Score(p, time.Now()) <= 0 {
		t.Error("gossip from the expected signer should improve reputation above zero")
	}
	select {
	case ev := <-d.Events():
		cg, ok := ev.(CommitmentGossipReceived)
		if !ok || cg.Commitment.Commitment.BlockNumber != 42 {
			t.Fatalf("expected CommitmentGossipReceived with block 42, got %#v", ev)
		}
	default:
		t.Fatal("expected an event to be emitted")
	}
}

func TestDriverRateLimitsNonHeadRequests(t *testing.T) {
	swarm := newFakeSwarm()
	rep := NewReputationStore(DefaultReputationConfig())
	limiter := NewRateLimiter(RateLimitConfig{Window: time.Minute, MaxRequests: 1})
	d := NewDriver(1, swarm, nil, rep, limiter, NullValidator{}, NullResponder{}, nil, nil)
	p := peer.ID("peer1")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	respCh1 := make(chan []byte, 1)
	swarm.events <- SwarmRequestReceived{Protocol: d.commitmentsProtoName(), Peer: p, Data: make([]byte, 12), RespondTo: respCh1}
	d.Step(ctx)
	if _, ok := <-respCh1; !ok {
		t.Fatal("first request should be served")
	}
	select {
	case ev := <-d.Events():
		if _, ok := ev.(CommitmentsRequested); !ok {
			t.Fatalf("first (admitted) request should emit CommitmentsRequested, not an Error event, got %#v", ev)
		}
	default:
		t.Fatal("expected a CommitmentsRequested event for the admitted request")
	}

	scoreBefore := rep.Score(p, time.Now())

	respCh2 := make(chan []byte, 1)
	swarm.events <- SwarmRequestReceived{Protocol: d.commitmentsProtoName(), Peer: p, Data: make([]byte, 12), RespondTo: respCh2}
	d.Step(ctx)
	if _, ok := <-respCh2; ok {
		t.Fatal("second request within the window should be rate limited (closed, no payload)")
	}

	select {
	case ev := <-d.Events():
		if _, ok := ev.(Error); !ok {
			t.Fatalf("expected an Error event for the rate-limited request, got %#v", ev)
		}
	default:
		t.Fatal("expected an Error event for the rate-limited request")
	}

	scoreAfter := rep.Score(p, time.Now())
	if scoreAfter >= scoreBefore {
		t.Errorf("expected Timeout reputation penalty to lower score: before=%v after=%v", scoreBefore, scoreAfter)
	}
}
