package p2p

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrShortBuffer is returned by Unmarshal methods when the input is
// truncated relative to the expected wire layout.
var ErrShortBuffer = errors.New("p2p: message buffer too short")

// Wire encoding is out of this driver's scope: the production stack encodes
// these payloads with SSZ (see preconfirmation_types in the reference
// implementation). The Marshal/Unmarshal pair below is a minimal
// length-prefixed binary codec that preserves field semantics so the driver,
// validator, and tests have something concrete to decode without pulling in
// a full SSZ schema compiler.

// Preconfirmation is the unsigned body of a preconfirmation commitment.
type Preconfirmation struct {
	EndOfPreconf              bool
	BlockNumber               uint64
	Timestamp                 uint64
	GasLimit                  uint64
	Coinbase                  [20]byte
	AnchorBlockNumber         uint64
	RawTxListHash             [32]byte
	ParentPreconfirmationHash [32]byte
	SubmissionWindowEnd       uint64
	ProverAuth                [20]byte
	ProposalID                uint64
}

// SignedCommitment is a Preconfirmation together with the signature
// attesting it and the address that produced that signature.
type SignedCommitment struct {
	Commitment     Preconfirmation
	SlasherAddress [20]byte
	Signature      [65]byte
	Signer         [20]byte
}

// MarshalBinary encodes a SignedCommitment for gossip or req/resp transport.
func (m *SignedCommitment) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	writeBool(&buf, m.Commitment.EndOfPreconf)
	writeU64(&buf, m.Commitment.BlockNumber)
	writeU64(&buf, m.Commitment.Timestamp)
	writeU64(&buf, m.Commitment.GasLimit)
	buf.Write(m.Commitment.Coinbase[:])
	writeU64(&buf, m.Commitment.AnchorBlockNumber)
	buf.Write(m.Commitment.RawTxListHash[:])
	buf.Write(m.Commitment.ParentPreconfirmationHash[:])
	writeU64(&buf, m.Commitment.SubmissionWindowEnd)
	buf.Write(m.Commitment.ProverAuth[:])
	writeU64(&buf, m.Commitment.ProposalID)
	buf.Write(m.SlasherAddress[:])
	buf.Write(m.Signature[:])
	buf.Write(m.Signer[:])
	return buf.Bytes(), nil
}

// UnmarshalBinary decodes a SignedCommitment previously produced by
// MarshalBinary. It returns ErrShortBuffer on truncated input.
func (m *SignedCommitment) UnmarshalBinary(data []byte) error {
	r := bytes.NewReader(data)
	var err error
	if m.Commitment.EndOfPreconf, err = readBool(r); err != nil {
		return err
	}
	if m.Commitment.BlockNumber, err = readU64(r); err != nil {
		return err
	}
	if m.Commitment.Timestamp, err = readU64(r); err != nil {
		return err
	}
	if m.Commitment.GasLimit, err = readU64(r); err != nil {
		return err
	}
	if err = readFixed(r, m.Commitment.Coinbase[:]); err != nil {
		return err
	}
	if m.Commitment.AnchorBlockNumber, err = readU64(r); err != nil {
		return err
	}
	if err = readFixed(r, m.Commitment.RawTxListHash[:]); err != nil {
		return err
	}
	if err = readFixed(r, m.Commitment.ParentPreconfirmationHash[:]); err != nil {
		return err
	}
	if m.Commitment.SubmissionWindowEnd, err = readU64(r); err != nil {
		return err
	}
	if err = readFixed(r, m.Commitment.ProverAuth[:]); err != nil {
		return err
	}
	if m.Commitment.ProposalID, err = readU64(r); err != nil {
		return err
	}
	if err = readFixed(r, m.SlasherAddress[:]); err != nil {
		return err
	}
	if err = readFixed(r, m.Signature[:]); err != nil {
		return err
	}
	if err = readFixed(r, m.Signer[:]); err != nil {
		return err
	}
	return nil
}

// RawTxListGossip is the gossiped form of a raw transaction list referenced
// by a SignedCommitment's RawTxListHash.
type RawTxListGossip struct {
	RawTxListHash     [32]byte
	AnchorBlockNumber uint64
	TxList            [][]byte
}

// MarshalBinary encodes a RawTxListGossip.
func (m *RawTxListGossip) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	buf.Write(m.RawTxListHash[:])
	writeU64(&buf, m.AnchorBlockNumber)
	writeU32(&buf, uint32(len(m.TxList)))
	for _, tx := range m.TxList {
		writeU32(&buf, uint32(len(tx)))
		buf.Write(tx)
	}
	return buf.Bytes(), nil
}

// UnmarshalBinary decodes a RawTxListGossip previously produced by
// MarshalBinary.
func (m *RawTxListGossip) UnmarshalBinary(data []byte) error {
	r := bytes.NewReader(data)
	if err := readFixed(r, m.RawTxListHash[:]); err != nil {
		return err
	}
	var err error
	if m.AnchorBlockNumber, err = readU64(r); err != nil {
		return err
	}
	count, err := readU32(r)
	if err != nil {
		return err
	}
	m.TxList = make([][]byte, 0, count)
	for i := uint32(0); i < count; i++ {
		n, err := readU32(r)
		if err != nil {
			return err
		}
		tx := make([]byte, n)
		if err := readFixed(r, tx); err != nil {
			return err
		}
		m.TxList = append(m.TxList, tx)
	}
	return nil
}

// RawTxList is the response body for a get-raw-txlist request. It is an
// alias of RawTxListGossip, so both share one type and one encoding.
type RawTxList = RawTxListGossip

// GetCommitmentsByNumberRequest requests commitments starting at a block
// number, bounded by MaxCount.
type GetCommitmentsByNumberRequest struct {
	StartBlockNumber uint64
	MaxCount         uint32
}

// GetCommitmentsByNumberResponse carries zero or more commitments.
type GetCommitmentsByNumberResponse struct {
	Commitments []SignedCommitment
}

// MarshalBinary encodes a GetCommitmentsByNumberResponse.
func (m *GetCommitmentsByNumberResponse) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	writeU32(&buf, uint32(len(m.Commitments)))
	for i := range m.Commitments {
		b, err := m.Commitments[i].MarshalBinary()
		if err != nil {
			return nil, err
		}
		writeU32(&buf, uint32(len(b)))
		buf.Write(b)
	}
	return buf.Bytes(), nil
}

// UnmarshalBinary decodes a GetCommitmentsByNumberResponse.
func (m *GetCommitmentsByNumberResponse) UnmarshalBinary(data []byte) error {
	r := bytes.NewReader(data)
	count, err := readU32(r)
	if err != nil {
		return err
	}
	m.Commitments = make([]SignedCommitment, count)
	for i := uint32(0); i < count; i++ {
		n, err := readU32(r)
		if err != nil {
			return err
		}
		sub := make([]byte, n)
		if err := readFixed(r, sub); err != nil {
			return err
		}
		if err := m.Commitments[i].UnmarshalBinary(sub); err != nil {
			return err
		}
	}
	return nil
}

// GetRawTxListRequest requests the raw transaction list with the given hash.
type GetRawTxListRequest struct {
	RawTxListHash [32]byte
}

// GetHeadRequest requests the current head snapshot; it carries no fields.
type GetHeadRequest struct{}

// MarshalBinary encodes a Head snapshot.
func (h *Head) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	writeU64(&buf, h.BlockNumber)
	buf.Write(h.BlockHash[:])
	buf.Write(h.ParentHash[:])
	return buf.Bytes(), nil
}

// UnmarshalBinary decodes a Head snapshot.
func (h *Head) UnmarshalBinary(data []byte) error {
	r := bytes.NewReader(data)
	var err error
	if h.BlockNumber, err = readU64(r); err != nil {
		return err
	}
	if err = readFixed(r, h.BlockHash[:]); err != nil {
		return err
	}
	return readFixed(r, h.ParentHash[:])
}

func writeBool(buf *bytes.Buffer, v bool) {
	if v {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}
}

func writeU32(buf *bytes.Buffer, v uint32) {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	buf.Write(tmp[:])
}

func writeU64(buf *bytes.Buffer, v uint64) {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], v)
	buf.Write(tmp[:])
}

func readBool(r *bytes.Reader) (bool, error) {
	b, err := r.ReadByte()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrShortBuffer, err)
	}
	return b != 0, nil
}

func readU32(r *bytes.Reader) (uint32, error) {
	var tmp [4]byte
	if _, err := readFull(r, tmp[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(tmp[:]), nil
}

func readU64(r *bytes.Reader) (uint64, error) {
	var tmp [8]byte
	if _, err := readFull(r, tmp[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(tmp[:]), nil
}

func readFixed(r *bytes.Reader, dst []byte) error {
	_, err := readFull(r, dst)
	return err
}

func readFull(r *bytes.Reader, dst []byte) (int, error) {
	n, err := r.Read(dst)
	if err != nil || n != len(dst) {
		return n, fmt.Errorf("%w: %v", ErrShortBuffer, err)
	}
	return n, nil
}
