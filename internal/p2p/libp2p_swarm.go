package p2p

import (
	"context"
	"fmt"

	libp2p "github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
	"github.com/libp2p/go-libp2p/p2p/discovery/mdns"
	ma "github.com/multiformats/go-multiaddr"

	plog "github.com/taikoxyz/preconf-net/internal/log"
)

// mdnsServiceTag is the prefix of the mDNS service tag; NewLibp2pSwarm
// appends the chain ID so nodes tracking different chains do not find each
// other via mDNS.
const mdnsServiceTag = "preconf-net"

// Libp2pSwarm is the production Swarm backed by a real libp2p host,
// gossipsub, and per-protocol request/response stream handlers.
type Libp2pSwarm struct {
	host  host.Host
	pubsb *pubsub.PubSub

	commitmentsTopic *pubsub.Topic
	commitmentsSub   *pubsub.Subscription
	rawTxListsTopic  *pubsub.Topic
	rawTxListsSub    *pubsub.Subscription

	commitmentsProto protocol.ID
	rawTxListProto   protocol.ID
	headProto        protocol.ID

	cfg ReqRespConfig

	events     chan SwarmEvent
	discovery  chan DiscoveryEvent
	cancel     context.CancelFunc

	log *plog.Logger
}

// NewLibp2pSwarm builds a Libp2pSwarm listening on listenAddrs, joins the
// two gossip topics for chainID, and installs stream handlers for the three
// req/resp protocols.
func NewLibp2pSwarm(ctx context.Context, chainID uint64, listenAddrs []string, cfg ReqRespConfig, disableDiscovery bool, logger *plog.Logger) (*Libp2pSwarm, error) {
	if logger == nil {
		logger = plog.Default()
	}
	logger = logger.Module("swarm")

	opts := []libp2p.Option{}
	for _, a := range listenAddrs {
		opts = append(opts, libp2p.ListenAddrStrings(a))
	}
	h, err := libp2p.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("p2p: create host: %w", err)
	}

	ps, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		h.Close()
		return nil, fmt.Errorf("p2p: create gossipsub: %w", err)
	}

	commitmentsTopic, err := ps.Join(GossipCommitmentsTopic(chainID))
	if err != nil {
		h.Close()
		return nil, fmt.Errorf("p2p: join commitments topic: %w", err)
	}
	commitmentsSub, err := commitmentsTopic.Subscribe()
	if err != nil {
		h.Close()
		return nil, fmt.Errorf("p2p: subscribe commitments topic: %w", err)
	}

	rawTxListsTopic, err := ps.Join(GossipRawTxListsTopic(chainID))
	if err != nil {
		h.Close()
		return nil, fmt.Errorf("p2p: join raw-txlists topic: %w", err)
	}
	rawTxListsSub, err := rawTxListsTopic.Subscribe()
	if err != nil {
		h.Close()
		return nil, fmt.Errorf("p2p: subscribe raw-txlists topic: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)

	s := &Libp2pSwarm{
		host:             h,
		pubsb:            ps,
		commitmentsTopic: commitmentsTopic,
		commitmentsSub:   commitmentsSub,
		rawTxListsTopic:  rawTxListsTopic,
		rawTxListsSub:    rawTxListsSub,
		commitmentsProto: CommitmentsByNumberProtocolID(chainID),
		rawTxListProto:   RawTxListProtocolID(chainID),
		headProto:        HeadProtocolID(chainID),
		cfg:              cfg,
		events:           make(chan SwarmEvent, 256),
		discovery:        make(chan DiscoveryEvent, 64),
		cancel:           cancel,
		log:              logger,
	}

	h.Network().Notify(&network.NotifyBundle{
		ConnectedF:    s.handleConnected,
		DisconnectedF: s.handleDisconnected,
	})

	h.SetStreamHandler(s.commitmentsProto, s.requestHandler(string(s.commitmentsProto)))
	h.SetStreamHandler(s.rawTxListProto, s.requestHandler(string(s.rawTxListProto)))
	h.SetStreamHandler(s.headProto, s.requestHandler(string(s.headProto)))

	go s.consumeGossip(ctx, commitmentsSub, s.events, func(peer PeerID, data []byte) SwarmEvent {
		return SwarmCommitmentsGossip{Peer: peer, Data: data}
	})
	go s.consumeGossip(ctx, rawTxListsSub, s.events, func(peer PeerID, data []byte) SwarmEvent {
		return SwarmRawTxListsGossip{Peer: peer, Data: data}
	})

	if !disableDiscovery {
		svc := mdns.NewMdnsService(h, fmt.Sprintf("%s/%d", mdnsServiceTag, chainID), &mdnsNotifee{swarm: s})
		if err := svc.Start(); err != nil {
			s.log.Warn("mdns start failed", "err", err)
		}
	}

	return s, nil
}

func (s *Libp2pSwarm) Events() <-chan SwarmEvent { return s.events }

// Discoveries returns the channel of DiscoveryEvents produced by mDNS,
// satisfying the Discoverer capability the driver consumes.
func (s *Libp2pSwarm) Discoveries() <-chan DiscoveryEvent { return s.discovery }

func (s *Libp2pSwarm) handleConnected(_ network.Network, c network.Conn) {
	select {
	case s.events <- SwarmConnectionEstablished{Peer: c.RemotePeer()}:
	default:
		s.log.Warn("dropped connection-established event, channel full")
	}
}

func (s *Libp2pSwarm) handleDisconnected(_ network.Network, c network.Conn) {
	select {
	case s.events <- SwarmConnectionClosed{Peer: c.RemotePeer()}:
	default:
		s.log.Warn("dropped connection-closed event, channel full")
	}
}

func (s *Libp2pSwarm) consumeGossip(ctx context.Context, sub *pubsub.Subscription, out chan<- SwarmEvent, wrap func(PeerID, []byte) SwarmEvent) {
	self := s.host.ID()
	for {
		msg, err := sub.Next(ctx)
		if err != nil {
			return
		}
		if msg.ReceivedFrom == self {
			continue
		}
		select {
		case out <- wrap(msg.ReceivedFrom, msg.Data):
		case <-ctx.Done():
			return
		}
	}
}

// requestHandler builds a network.StreamHandler for one of the three
// req/resp protocols: it reads one request frame, emits a SwarmEvent with a
// response channel, waits for the driver to produce a response, writes it
// back, and closes the stream.
func (s *Libp2pSwarm) requestHandler(protoName string) network.StreamHandler {
	return func(stream network.Stream) {
		defer stream.Close()

		data, err := ReceiveRequest(stream, s.cfg)
		if err != nil {
			stream.Reset()
			select {
			case s.events <- SwarmInboundFailure{Protocol: protoName, Peer: stream.Conn().RemotePeer(), Err: err}:
			default:
			}
			return
		}

		respCh := make(chan []byte, 1)
		select {
		case s.events <- SwarmRequestReceived{Protocol: protoName, Peer: stream.Conn().RemotePeer(), Data: data, RespondTo: respCh}:
		default:
			stream.Reset()
			return
		}

		resp, ok := <-respCh
		if !ok {
			stream.Reset()
			return
		}
		if err := WriteFrame(stream, resp, s.cfg.MaxMessageSize); err != nil {
			s.log.Warn("write response failed", "protocol", protoName, "err", err)
		}
	}
}

func (s *Libp2pSwarm) Dial(ctx context.Context, addr string) error {
	maddr, err := ma.NewMultiaddr(addr)
	if err != nil {
		return fmt.Errorf("p2p: parse multiaddr: %w", err)
	}
	info, err := peer.AddrInfoFromP2pAddr(maddr)
	if err != nil {
		return fmt.Errorf("p2p: resolve addr info: %w", err)
	}
	return s.host.Connect(ctx, *info)
}

func (s *Libp2pSwarm) Disconnect(p PeerID) error {
	return s.host.Network().ClosePeer(p)
}

func (s *Libp2pSwarm) ConnectedPeers() []PeerID {
	conns := s.host.Network().Peers()
	out := make([]PeerID, len(conns))
	copy(out, conns)
	return out
}

func (s *Libp2pSwarm) PublishCommitments(ctx context.Context, data []byte) error {
	return s.commitmentsTopic.Publish(ctx, data)
}

func (s *Libp2pSwarm) PublishRawTxLists(ctx context.Context, data []byte) error {
	return s.rawTxListsTopic.Publish(ctx, data)
}

func (s *Libp2pSwarm) sendRequest(ctx context.Context, proto protocol.ID, p PeerID, req []byte) ([]byte, error) {
	stream, err := s.host.NewStream(ctx, p, proto)
	if err != nil {
		return nil, fmt.Errorf("p2p: open stream: %w", err)
	}
	defer stream.Close()
	return SendRequest(stream, req, s.cfg)
}

func (s *Libp2pSwarm) SendCommitmentsRequest(ctx context.Context, p PeerID, req []byte) ([]byte, error) {
	return s.sendRequest(ctx, s.commitmentsProto, p, req)
}

func (s *Libp2pSwarm) SendRawTxListRequest(ctx context.Context, p PeerID, req []byte) ([]byte, error) {
	return s.sendRequest(ctx, s.rawTxListProto, p, req)
}

func (s *Libp2pSwarm) SendHeadRequest(ctx context.Context, p PeerID, req []byte) ([]byte, error) {
	return s.sendRequest(ctx, s.headProto, p, req)
}

func (s *Libp2pSwarm) Close() error {
	s.cancel()
	_ = s.commitmentsSub
	_ = s.rawTxListsSub
	return s.host.Close()
}

// Host exposes the underlying libp2p host for callers (e.g. the CLI
// entrypoint) that need to print the node's listen addresses.
func (s *Libp2pSwarm) Host() host.Host { return s.host }

var _ Swarm = (*Libp2pSwarm)(nil)
var _ Discoverer = (*Libp2pSwarm)(nil)

// mdnsNotifee forwards mDNS peer discoveries as MultiaddrFound
// DiscoveryEvents. It does not dial directly: the driver decides whether to
// dial, gating on ShouldDial against current reputation.
type mdnsNotifee struct {
	swarm *Libp2pSwarm
}

func (n *mdnsNotifee) HandlePeerFound(pi peer.AddrInfo) {
	addrs, err := peer.AddrInfoToP2pAddrs(&pi)
	if err != nil || len(addrs) == 0 {
		select {
		case n.swarm.discovery <- PeerDiscovered{Peer: pi.ID}:
		default:
		}
		return
	}
	for _, addr := range addrs {
		select {
		case n.swarm.discovery <- MultiaddrFound{Addr: addr}:
		default:
		}
	}
}
