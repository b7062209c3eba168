// Package p2p provides message serialization for the event bus.
package p2p

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/shadowvault/core/internal/ledger"
	"github.com/shadowvault/core/pkg/types"
)

// Message types
const (
	MsgTypeLeaf   uint8 = 0x01
	MsgTypeOutput uint8 = 0x02
	MsgTypeStatus uint8 = 0x20
)

// Message errors
var (
	ErrInvalidMessageType = errors.New("invalid message type")
	ErrMessageTooLarge    = errors.New("message too large")
	ErrShortMessage       = errors.New("message too short")
	ErrUnknownTree        = errors.New("unknown tree id")
)

// MaxMessageSize is the maximum size of a bus message
const MaxMessageSize = 64 * 1024

// ProtocolVersion is carried in status messages
const ProtocolVersion uint32 = 1

// Message represents a framed bus message
type Message struct {
	Type    uint8
	Payload []byte
}

// Tree ids on the wire
const (
	TreeIDCommitments uint8 = 0
	TreeIDNullifiers  uint8 = 1
)

// TreeID maps a ledger tree to its wire id
func TreeID(name ledger.TreeName) (uint8, error) {
	switch name {
	case ledger.TreeCommitments:
		return TreeIDCommitments, nil
	case ledger.TreeNullifiers:
		return TreeIDNullifiers, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownTree, name)
}

// TreeName maps a wire id back to the ledger tree
func TreeName(id uint8) (ledger.TreeName, error) {
	switch id {
	case TreeIDCommitments:
		return ledger.TreeCommitments, nil
	case TreeIDNullifiers:
		return ledger.TreeNullifiers, nil
	}
	return "", fmt.Errorf("%w: %d", ErrUnknownTree, id)
}

// LeafMessage announces a leaf appended to one of the trees together
// with the root after the append
type LeafMessage struct {
	Tree  uint8
	Index uint64
	Leaf  types.Hash
	Root  types.Hash
}

const leafMessageSize = 1 + 8 + types.HashSize + types.HashSize

// OutputMessage publishes a transfer's output commitment for its recipient
type OutputMessage struct {
	Commitment types.Hash
	Timestamp  int64
}

const outputMessageSize = types.HashSize + 8

// StatusMessage exchanges tree sizes and roots
type StatusMessage struct {
	Version        uint32
	NetworkID      uint32
	CommitmentSize uint64
	CommitmentRoot types.Hash
	NullifierSize  uint64
	NullifierRoot  types.Hash
}

const statusMessageSize = 4 + 4 + 8 + types.HashSize + 8 + types.HashSize

// Encode serializes a message for network transmission
func (m *Message) Encode(w io.Writer) error {
	if len(m.Payload) > MaxMessageSize {
		return ErrMessageTooLarge
	}
	if err := binary.Write(w, binary.BigEndian, m.Type); err != nil {
		return err
	}
	if err := binary.Write(w, binary.BigEndian, uint32(len(m.Payload))); err != nil {
		return err
	}
	_, err := w.Write(m.Payload)
	return err
}

// Decode deserializes a message from network data
func (m *Message) Decode(r io.Reader) error {
	if err := binary.Read(r, binary.BigEndian, &m.Type); err != nil {
		return err
	}

	var payloadLen uint32
	if err := binary.Read(r, binary.BigEndian, &payloadLen); err != nil {
		return err
	}
	if payloadLen > MaxMessageSize {
		return ErrMessageTooLarge
	}

	m.Payload = make([]byte, payloadLen)
	_, err := io.ReadFull(r, m.Payload)
	return err
}

// EncodeLeaf serializes a leaf announcement
func EncodeLeaf(msg *LeafMessage) []byte {
	buf := make([]byte, 0, leafMessageSize)
	buf = append(buf, msg.Tree)
	buf = binary.BigEndian.AppendUint64(buf, msg.Index)
	buf = append(buf, msg.Leaf[:]...)
	buf = append(buf, msg.Root[:]...)
	return buf
}

// DecodeLeaf deserializes a leaf announcement
func DecodeLeaf(data []byte) (*LeafMessage, error) {
	if len(data) < leafMessageSize {
		return nil, fmt.Errorf("%w: leaf %d bytes", ErrShortMessage, len(data))
	}
	msg := &LeafMessage{
		Tree:  data[0],
		Index: binary.BigEndian.Uint64(data[1:9]),
	}
	copy(msg.Leaf[:], data[9:41])
	copy(msg.Root[:], data[41:73])
	return msg, nil
}

// EncodeOutput serializes an output commitment announcement
func EncodeOutput(msg *OutputMessage) []byte {
	buf := make([]byte, 0, outputMessageSize)
	buf = append(buf, msg.Commitment[:]...)
	buf = binary.BigEndian.AppendUint64(buf, uint64(msg.Timestamp))
	return buf
}

// DecodeOutput deserializes an output commitment announcement
func DecodeOutput(data []byte) (*OutputMessage, error) {
	if len(data) < outputMessageSize {
		return nil, fmt.Errorf("%w: output %d bytes", ErrShortMessage, len(data))
	}
	msg := &OutputMessage{Timestamp: int64(binary.BigEndian.Uint64(data[32:40]))}
	copy(msg.Commitment[:], data[:32])
	return msg, nil
}

// EncodeStatus serializes a status message
func EncodeStatus(status *StatusMessage) []byte {
	buf := make([]byte, 0, statusMessageSize)
	buf = binary.BigEndian.AppendUint32(buf, status.Version)
	buf = binary.BigEndian.AppendUint32(buf, status.NetworkID)
	buf = binary.BigEndian.AppendUint64(buf, status.CommitmentSize)
	buf = append(buf, status.CommitmentRoot[:]...)
	buf = binary.BigEndian.AppendUint64(buf, status.NullifierSize)
	buf = append(buf, status.NullifierRoot[:]...)
	return buf
}

// DecodeStatus deserializes a status message
func DecodeStatus(data []byte) (*StatusMessage, error) {
	if len(data) < statusMessageSize {
		return nil, fmt.Errorf("%w: status %d bytes", ErrShortMessage, len(data))
	}

	status := &StatusMessage{
		Version:        binary.BigEndian.Uint32(data[0:4]),
		NetworkID:      binary.BigEndian.Uint32(data[4:8]),
		CommitmentSize: binary.BigEndian.Uint64(data[8:16]),
		NullifierSize:  binary.BigEndian.Uint64(data[48:56]),
	}
	copy(status.CommitmentRoot[:], data[16:48])
	copy(status.NullifierRoot[:], data[56:88])
	return status, nil
}

// EventMessages turns a committed ledger event into bus messages
func EventMessages(ev *ledger.Event) []*Message {
	var msgs []*Message

	if ev.HasCommitment() {
		msgs = append(msgs, &Message{Type: MsgTypeLeaf, Payload: EncodeLeaf(&LeafMessage{
			Tree:  TreeIDCommitments,
			Index: ev.CommitmentIndex,
			Leaf:  ev.Commitment,
			Root:  ev.CommitmentRoot,
		})})
	}
	if ev.HasNullifier() {
		msgs = append(msgs, &Message{Type: MsgTypeLeaf, Payload: EncodeLeaf(&LeafMessage{
			Tree:  TreeIDNullifiers,
			Index: ev.NullifierIndex,
			Leaf:  ev.Nullifier,
			Root:  ev.NullifierRoot,
		})})
	}
	if ev.Kind == ledger.EventTransferred && !ev.OutputCommitment.IsEmpty() {
		msgs = append(msgs, &Message{Type: MsgTypeOutput, Payload: EncodeOutput(&OutputMessage{
			Commitment: ev.OutputCommitment,
			Timestamp:  ev.Timestamp,
		})})
	}
	return msgs
}
