package p2p

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/protocol"
)

// ReqRespConfig configures the request-response protocols.
type ReqRespConfig struct {
	// MaxMessageSize bounds a single request or response frame.
	MaxMessageSize uint32
	// Timeout bounds how long the driver waits for a stream round trip.
	Timeout time.Duration
}

// DefaultReqRespConfig returns the default request-response configuration.
func DefaultReqRespConfig() ReqRespConfig {
	return ReqRespConfig{
		MaxMessageSize: 1 << 20, // 1 MiB
		Timeout:        10 * time.Second,
	}
}

var (
	// ErrFrameTooLarge is returned when a frame's declared length exceeds
	// MaxMessageSize.
	ErrFrameTooLarge = errors.New("reqresp: frame exceeds max message size")
)

// Protocol IDs for the three request-response protocols, each namespaced by
// chain ID so nodes tracking different chains never cross streams.
func CommitmentsByNumberProtocolID(chainID uint64) protocol.ID {
	return protocol.ID(fmt.Sprintf("/get-commitments-by-number/%d", chainID))
}

func RawTxListProtocolID(chainID uint64) protocol.ID {
	return protocol.ID(fmt.Sprintf("/get-raw-txlist/%d", chainID))
}

func HeadProtocolID(chainID uint64) protocol.ID {
	return protocol.ID(fmt.Sprintf("/get-head/%d", chainID))
}

// GossipCommitmentsTopic and GossipRawTxListsTopic are the two gossipsub
// topics the driver joins, namespaced by chain ID.
func GossipCommitmentsTopic(chainID uint64) string {
	return fmt.Sprintf("preconfirmation-commitments/%d", chainID)
}

func GossipRawTxListsTopic(chainID uint64) string {
	return fmt.Sprintf("raw-txlists/%d", chainID)
}

// WriteFrame writes a length-prefixed frame to w: a 4-byte big-endian
// length followed by payload. Streams that speak these req/resp protocols
// use this framing in both directions.
func WriteFrame(w io.Writer, payload []byte, maxSize uint32) error {
	if uint32(len(payload)) > maxSize {
		return ErrFrameTooLarge
	}
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(payload)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

// ReadFrame reads a single length-prefixed frame from r, rejecting frames
// declared larger than maxSize before allocating a buffer for them.
func ReadFrame(r io.Reader, maxSize uint32) ([]byte, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	size := binary.BigEndian.Uint32(hdr[:])
	if size > maxSize {
		return nil, ErrFrameTooLarge
	}
	buf := make([]byte, size)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// SendRequest opens a request/response round trip on an already-established
// stream: it writes req, then reads and returns the single response frame.
// When cfg.Timeout is positive it sets that deadline on s; the caller is
// responsible for closing s.
func SendRequest(s network.Stream, req []byte, cfg ReqRespConfig) ([]byte, error) {
	if cfg.Timeout > 0 {
		_ = s.SetDeadline(time.Now().Add(cfg.Timeout))
	}
	if err := WriteFrame(s, req, cfg.MaxMessageSize); err != nil {
		return nil, err
	}
	if err := s.CloseWrite(); err != nil {
		return nil, err
	}
	return ReadFrame(s, cfg.MaxMessageSize)
}

// ReceiveRequest reads a single request frame from an inbound stream. The
// caller writes the response with WriteFrame and then closes s.
func ReceiveRequest(s network.Stream, cfg ReqRespConfig) ([]byte, error) {
	if cfg.Timeout > 0 {
		_ = s.SetDeadline(time.Now().Add(cfg.Timeout))
	}
	return ReadFrame(s, cfg.MaxMessageSize)
}
