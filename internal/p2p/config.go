package p2p

import "time"

// Config is the full configuration surface for a Driver: chain identity,
// listen address, bootnodes, and the reputation/rate-limit tuning knobs.
type Config struct {
	// ChainID namespaces every gossip topic and req/resp protocol this node
	// joins, so nodes tracking different chains never interact.
	ChainID uint64

	// ListenAddrs are the multiaddrs the libp2p host listens on.
	ListenAddrs []string

	// Bootnodes are multiaddrs (optionally including a /p2p/<peer-id>
	// component) dialed at startup.
	Bootnodes []string

	// DisableDiscovery turns off mDNS peer discovery, leaving only the
	// configured bootnodes and any peers learned through gossip.
	DisableDiscovery bool

	Reputation ReputationConfig
	RateLimit  RateLimitConfig
	ReqResp    ReqRespConfig

	// ExpectedSigner is used to build a StaticLookaheadResolver when the
	// caller does not supply its own LookaheadResolver.
	ExpectedSigner [20]byte
	SlotLength     time.Duration
}

// DefaultConfig returns a Config with conservative defaults for all tuning
// knobs and a single wildcard TCP listen address; ChainID and
// ExpectedSigner still need to be set by the caller.
func DefaultConfig() Config {
	return Config{
		ListenAddrs: []string{"/ip4/0.0.0.0/tcp/0"},
		Reputation:  DefaultReputationConfig(),
		RateLimit: RateLimitConfig{
			Window:      time.Minute,
			MaxRequests: 120,
		},
		ReqResp:    DefaultReqRespConfig(),
		SlotLength: 12 * time.Second,
	}
}
