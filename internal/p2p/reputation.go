package p2p

import (
	"math"
	"sync"
	"time"
)

// PeerAction is an observation about a peer that moves its reputation score.
// The magnitude of each action is fixed below; it is not part of
// ReputationConfig because it encodes protocol severity, not an operator
// tuning knob.
type PeerAction int

const (
	// ActionGossipValid is recorded when a peer relays gossip that passes
	// validation.
	ActionGossipValid PeerAction = iota
	// ActionGossipInvalid is recorded when a peer relays gossip that fails
	// validation.
	ActionGossipInvalid
	// ActionReqRespSuccess is recorded when a request/response exchange with
	// a peer completes and the payload validates.
	ActionReqRespSuccess
	// ActionReqRespError is recorded when a request/response exchange fails
	// or its payload fails validation.
	ActionReqRespError
	// ActionTimeout is recorded when the rate limiter rejects an inbound
	// request from a peer.
	ActionTimeout
	// ActionMalformed is recorded when a peer sends a message that cannot be
	// decoded at all.
	ActionMalformed
)

// delta returns the score adjustment for a PeerAction.
func (a PeerAction) delta() Score {
	switch a {
	case ActionGossipValid:
		return 0.1
	case ActionGossipInvalid:
		return -2.0
	case ActionReqRespSuccess:
		return 0.05
	case ActionReqRespError:
		return -1.0
	case ActionTimeout:
		return -0.5
	case ActionMalformed:
		return -3.0
	default:
		return 0
	}
}

// ReputationConfig tunes the greylist/ban thresholds and the exponential
// decay rate shared by every tracked peer. Invariant: BanThreshold <=
// GreylistThreshold <= 0.
type ReputationConfig struct {
	GreylistThreshold Score
	BanThreshold      Score
	Halflife          time.Duration
	BanDuration       time.Duration
}

// DefaultReputationConfig returns a sensible default configuration.
func DefaultReputationConfig() ReputationConfig {
	return ReputationConfig{
		GreylistThreshold: -1.0,
		BanThreshold:      -5.0,
		Halflife:          10 * time.Minute,
		BanDuration:       1 * time.Hour,
	}
}

// peerReputation is the mutable state tracked per peer.
type peerReputation struct {
	score       Score
	lastUpdate  time.Time
	bannedUntil time.Time
}

// ReputationEvent reports a peer's greylist/ban state immediately before and
// after an Apply call, so callers can react to edge transitions (e.g.
// disconnect a peer the instant it crosses into a ban) without re-deriving
// state from the raw score.
type ReputationEvent struct {
	Peer          PeerID
	WasGreylisted bool
	IsGreylisted  bool
	WasBanned     bool
	IsBanned      bool
}

// ReputationBackend is the capability a driver needs from a reputation
// store. It is satisfied by *ReputationStore; tests may supply a fake.
type ReputationBackend interface {
	Apply(peer PeerID, action PeerAction, now time.Time) ReputationEvent
	IsBanned(peer PeerID, now time.Time) bool
	Score(peer PeerID, now time.Time) Score
}

// ReputationStore tracks peer scores with lazy exponential decay: a peer's
// score is only recomputed when it is read or written, scaled by
// 0.5^(elapsed/halflife) since its last update. All methods are safe for
// concurrent use.
type ReputationStore struct {
	mu   sync.Mutex
	cfg  ReputationConfig
	data map[PeerID]*peerReputation
}

var _ ReputationBackend = (*ReputationStore)(nil)

// NewReputationStore builds an empty store using cfg.
func NewReputationStore(cfg ReputationConfig) *ReputationStore {
	return &ReputationStore{
		cfg:  cfg,
		data: make(map[PeerID]*peerReputation),
	}
}

// decayed returns e's score decayed to now, without mutating e.
func (s *ReputationStore) decayed(e *peerReputation, now time.Time) Score {
	if s.cfg.Halflife <= 0 {
		return e.score
	}
	elapsed := now.Sub(e.lastUpdate)
	if elapsed <= 0 {
		return e.score
	}
	factor := math.Pow(0.5, elapsed.Seconds()/s.cfg.Halflife.Seconds())
	return e.score * Score(factor)
}

// classify derives greylist/ban state from an already-decayed score and a
// hard ban deadline.
func (s *ReputationStore) classify(score Score, bannedUntil time.Time, now time.Time) (greylisted, banned bool) {
	banned = (!bannedUntil.IsZero() && now.Before(bannedUntil)) || score <= s.cfg.BanThreshold
	greylisted = banned || score <= s.cfg.GreylistThreshold
	return greylisted, banned
}

// Apply records action against peer, decaying its stored score to now
// first, and returns the resulting edge-transition event. Crossing into a
// ban starts a fresh BanDuration hold, independent of subsequent score
// recovery.
func (s *ReputationStore) Apply(peer PeerID, action PeerAction, now time.Time) ReputationEvent {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.data[peer]
	if !ok {
		e = &peerReputation{lastUpdate: now}
		s.data[peer] = e
	}

	decayed := s.decayed(e, now)
	wasGreylisted, wasBanned := s.classify(decayed, e.bannedUntil, now)

	e.score = decayed + action.delta()
	e.lastUpdate = now

	isGreylisted, isBanned := s.classify(e.score, e.bannedUntil, now)
	if isBanned && !wasBanned {
		e.bannedUntil = now.Add(s.cfg.BanDuration)
	}

	return ReputationEvent{
		Peer:          peer,
		WasGreylisted: wasGreylisted,
		IsGreylisted:  isGreylisted,
		WasBanned:     wasBanned,
		IsBanned:      isBanned,
	}
}

// IsBanned reports whether peer is currently banned, decaying its score to
// now but without mutating the stored entry. Peers never seen are never
// banned.
func (s *ReputationStore) IsBanned(peer PeerID, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.data[peer]
	if !ok {
		return false
	}
	_, banned := s.classify(s.decayed(e, now), e.bannedUntil, now)
	return banned
}

// Score returns peer's current score decayed to now, without mutating the
// stored entry. Unseen peers have a neutral score of zero.
func (s *ReputationStore) Score(peer PeerID, now time.Time) Score {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.data[peer]
	if !ok {
		return 0
	}
	return s.decayed(e, now)
}

// Ban forces peer into a ban until now+BanDuration regardless of score. Used
// for operator-driven bans (e.g. a static blocklist entry) distinct from
// score-driven ones.
func (s *ReputationStore) Ban(peer PeerID, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.data[peer]
	if !ok {
		e = &peerReputation{lastUpdate: now}
		s.data[peer] = e
	}
	e.bannedUntil = now.Add(s.cfg.BanDuration)
}
