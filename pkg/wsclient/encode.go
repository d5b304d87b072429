package wsclient

import (
	"encoding/binary"

	"github.com/yourusername/wsclient/internal/wsbuf"
)

// Encoder serializes outgoing messages as masked client frames into a
// tx buffer. Every outgoing message maps to a single FIN=1 frame;
// fragmentation on send is optional under RFC 6455 and nothing in
// this client needs to split an outgoing message.
type Encoder struct {
	keys *maskKeySource
}

// NewEncoder creates an Encoder drawing mask keys from a
// connection-private PRNG.
func NewEncoder() *Encoder {
	return &Encoder{keys: newMaskKeySource()}
}

// EncodeData appends a Text or Binary message to tx, masked in place
// with a freshly drawn key. It does not allocate once tx has grown to
// accommodate a payload of this size.
func (e *Encoder) EncodeData(tx *wsbuf.Buffer, kind MessageKind, payload []byte) {
	opcode := OpcodeBinary
	if kind == KindText {
		opcode = OpcodeText
	}
	e.writeFrame(tx, true, opcode, payload)
}

// EncodeControl appends a Ping or Pong control frame. payload must be
// at most MaxControlFramePayload bytes.
func (e *Encoder) EncodeControl(tx *wsbuf.Buffer, kind MessageKind, payload []byte) error {
	if len(payload) > MaxControlFramePayload {
		return ErrControlTooLarge
	}
	var opcode Opcode
	switch kind {
	case KindPing:
		opcode = OpcodePing
	case KindPong:
		opcode = OpcodePong
	default:
		return ErrReservedOpcode
	}
	e.writeFrame(tx, true, opcode, payload)
	return nil
}

// EncodeClose appends a Close control frame. An empty reason with
// code 0 serializes as a zero-length payload.
func (e *Encoder) EncodeClose(tx *wsbuf.Buffer, code uint16, reason string) error {
	if code == 0 {
		e.writeFrame(tx, true, OpcodeClose, nil)
		return nil
	}

	payloadLen := 2 + len(reason)
	if payloadLen > MaxControlFramePayload {
		return ErrControlTooLarge
	}

	var buf [MaxControlFramePayload]byte
	binary.BigEndian.PutUint16(buf[:2], code)
	copy(buf[2:], reason)

	e.writeFrame(tx, true, OpcodeClose, buf[:payloadLen])
	return nil
}

// writeFrame serializes header+payload into tx and masks the payload
// in place. The header is appended with Write, then the payload is
// copied into room reserved with Grow and XORed there.
func (e *Encoder) writeFrame(tx *wsbuf.Buffer, fin bool, opcode Opcode, payload []byte) {
	key := e.keys.NextKey()

	var headerBuf [MaxFrameHeaderSize]byte
	n := serializeFrameHeader(headerBuf[:], fin, opcode, true, uint64(len(payload)), key)
	tx.Write(headerBuf[:n])

	if len(payload) == 0 {
		return
	}
	dst := tx.Grow(len(payload))
	copy(dst, payload)
	maskBytes(dst, key)
}
