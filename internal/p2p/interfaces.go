// Package p2p implements the networking driver for the preconfirmation
// gossip protocol.
//
// Key interfaces for driver integration:
//   - Swarm: the transport capability the driver polls and issues commands to
//   - ReputationBackend: peer scoring, greylisting, and banning
//   - Validator: application-level checks for gossip and request/response payloads
//   - LookaheadResolver: maps a slot timestamp to its expected preconfirmer
package p2p

import (
	"fmt"
	"time"
)

// Validator performs application-level checks on inbound traffic that the
// driver itself cannot verify (signatures, lookahead membership, list
// consistency). A driver built with NullValidator accepts everything, which
// is useful in tests that only exercise reputation and rate-limiting paths.
type Validator interface {
	// VerifySignedCommitment checks that a gossiped or requested commitment
	// carries a valid signature from the signer expected for its slot.
	VerifySignedCommitment(c *SignedCommitment, now time.Time) error

	// ValidateRawTxListGossip checks that a gossiped raw transaction list is
	// internally consistent (hash matches contents, anchor is plausible).
	ValidateRawTxListGossip(l *RawTxListGossip) error

	// ValidateCommitmentsResponse checks a get-commitments-by-number response
	// body before the driver reports it to the application.
	ValidateCommitmentsResponse(resp *GetCommitmentsByNumberResponse) error
}

// LookaheadResolver answers who is expected to sign commitments at a given
// slot, and when that slot's submission window ends. The driver consults it
// while validating gossiped commitments; it does not maintain any lookahead
// state itself.
type LookaheadResolver interface {
	// SignerForTimestamp returns the address expected to sign commitments
	// for the slot covering ts.
	SignerForTimestamp(ts time.Time) ([20]byte, error)

	// ExpectedSlotEnd returns the submission window end for the slot
	// covering ts.
	ExpectedSlotEnd(ts time.Time) (time.Time, error)
}

// NullValidator accepts every payload unconditionally. It is useful for
// tests of the reputation, rate-limiting, and driver plumbing that do not
// want to also construct a real lookahead schedule.
type NullValidator struct{}

// VerifySignedCommitment always succeeds.
func (NullValidator) VerifySignedCommitment(*SignedCommitment, time.Time) error { return nil }

// ValidateRawTxListGossip always succeeds.
func (NullValidator) ValidateRawTxListGossip(*RawTxListGossip) error { return nil }

// ValidateCommitmentsResponse always succeeds.
func (NullValidator) ValidateCommitmentsResponse(*GetCommitmentsByNumberResponse) error { return nil }

var _ Validator = NullValidator{}

// StaticLookaheadResolver answers lookahead queries from a single
// fixed signer and window length, useful for single-sequencer
// deployments and for tests.
type StaticLookaheadResolver struct {
	Signer     [20]byte
	SlotLength time.Duration
}

// SignerForTimestamp always returns the configured signer.
func (r StaticLookaheadResolver) SignerForTimestamp(time.Time) ([20]byte, error) {
	return r.Signer, nil
}

// ExpectedSlotEnd returns ts rounded up to the next SlotLength boundary.
func (r StaticLookaheadResolver) ExpectedSlotEnd(ts time.Time) (time.Time, error) {
	if r.SlotLength <= 0 {
		return ts, nil
	}
	rem := ts.UnixNano() % r.SlotLength.Nanoseconds()
	if rem == 0 {
		return ts, nil
	}
	return ts.Add(r.SlotLength - time.Duration(rem)), nil
}

var _ LookaheadResolver = StaticLookaheadResolver{}

// LookaheadValidationAdapter implements Validator by checking a gossiped or
// requested commitment's signer and submission window against a
// LookaheadResolver before delegating any remaining structural checks to
// Inner. A Driver built with this as its Validator is the one that actually
// rejects commitments from the wrong signer; NullValidator alone never
// consults the lookahead schedule at all.
type LookaheadValidationAdapter struct {
	Lookahead LookaheadResolver
	Inner     Validator
}

// VerifySignedCommitment rejects a commitment whose Signer does not match
// the signer the lookahead schedule expects for its slot, or whose
// SubmissionWindowEnd does not match that slot's expected end.
func (a LookaheadValidationAdapter) VerifySignedCommitment(c *SignedCommitment, now time.Time) error {
	ts := time.Unix(int64(c.Commitment.Timestamp), 0)

	signer, err := a.Lookahead.SignerForTimestamp(ts)
	if err != nil {
		return fmt.Errorf("resolve lookahead signer: %w", err)
	}
	if c.Signer != signer {
		return fmt.Errorf("commitment signer %x does not match lookahead signer %x", c.Signer, signer)
	}

	end, err := a.Lookahead.ExpectedSlotEnd(ts)
	if err != nil {
		return fmt.Errorf("resolve expected slot end: %w", err)
	}
	if c.Commitment.SubmissionWindowEnd != uint64(end.Unix()) {
		return fmt.Errorf("commitment submission window end %d does not match expected %d", c.Commitment.SubmissionWindowEnd, end.Unix())
	}

	if a.Inner != nil {
		return a.Inner.VerifySignedCommitment(c, now)
	}
	return nil
}

// ValidateRawTxListGossip delegates to Inner; lookahead membership has no
// bearing on raw transaction list structure.
func (a LookaheadValidationAdapter) ValidateRawTxListGossip(l *RawTxListGossip) error {
	if a.Inner != nil {
		return a.Inner.ValidateRawTxListGossip(l)
	}
	return nil
}

// ValidateCommitmentsResponse accepts a batch only if every commitment in it
// passes VerifySignedCommitment, then delegates to Inner.
func (a LookaheadValidationAdapter) ValidateCommitmentsResponse(resp *GetCommitmentsByNumberResponse) error {
	now := time.Now()
	for i := range resp.Commitments {
		if err := a.VerifySignedCommitment(&resp.Commitments[i], now); err != nil {
			return fmt.Errorf("commitment %d: %w", i, err)
		}
	}
	if a.Inner != nil {
		return a.Inner.ValidateCommitmentsResponse(resp)
	}
	return nil
}

var _ Validator = LookaheadValidationAdapter{}
