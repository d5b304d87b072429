package wsclient

import (
	"encoding/binary"

	"github.com/yourusername/wsclient/internal/wsbuf"
)

// Message is a single fully-assembled WebSocket message. Payload
// borrows directly from the connection's receive buffer: it stays
// valid only until the next call to Decoder.Decode. Callers that need
// to retain a message past that point must copy it themselves.
type Message struct {
	Kind        MessageKind
	Payload     []byte
	CloseCode   uint16 // valid when Kind == KindClose
	CloseReason string // valid when Kind == KindClose
}

// DecodeStatus reports what Decoder.Decode produced.
type DecodeStatus int

const (
	// DecodeIncomplete means rx does not yet hold a full frame; the
	// caller must read more bytes from the stream into rx and call
	// Decode again.
	DecodeIncomplete DecodeStatus = iota
	// DecodeMessage means Decode returned a complete Message.
	DecodeMessage
)

// ReceiveState tracks an in-progress fragmented data message: whether
// one is open, its kind, where its assembled bytes currently live in
// rx (as an absolute index/length pair), and for Text the UTF-8
// validator carrying state across fragment boundaries. It must not be
// reset between fragments of the same message.
type ReceiveState struct {
	inProgress bool
	kind       MessageKind
	msgStart   int
	msgLen     int
	validator  Validator
}

func (s *ReceiveState) idle() bool { return !s.inProgress }

// Idle reports whether no fragmented data message is currently being
// assembled. A caller must not compact or otherwise discard the bytes
// behind rx's read cursor while this is false: decodeData parks each
// completed fragment's bytes there, ahead of where the next fragment
// will land, rather than in rx's unread region.
func (d *Decoder) Idle() bool { return d.state.idle() }

// Decoder turns a byte stream buffered in a *wsbuf.Buffer into
// messages, enforcing RFC 6455 framing and control-frame interleave
// rules.
type Decoder struct {
	state          ReceiveState
	maxMessageSize int64
}

// NewDecoder creates a Decoder that rejects assembled messages larger
// than maxMessageSize. A value <= 0 selects DefaultMaxMessageSize.
func NewDecoder(maxMessageSize int64) *Decoder {
	if maxMessageSize <= 0 {
		maxMessageSize = DefaultMaxMessageSize
	}
	return &Decoder{maxMessageSize: maxMessageSize}
}

// Decode attempts to assemble the next message out of rx. It
// processes as many buffered frames as necessary, including every
// fragment of a single data message, but never blocks: once rx runs
// out of bytes mid-frame it reports DecodeIncomplete and the caller
// is responsible for reading more bytes into rx and calling again.
//
// A returned Message's Payload aliases rx; it is valid until the next
// call to Decode (which may compact or grow rx) or until the caller
// calls rx.Advance/Compact directly.
func (d *Decoder) Decode(rx *wsbuf.Buffer) (Message, DecodeStatus, error) {
	for {
		unread := rx.Unread()
		res := parseFrameHeader(unread)
		if res.err != nil {
			return Message{}, DecodeIncomplete, res.err
		}
		if res.needMore > 0 {
			return Message{}, DecodeIncomplete, nil
		}

		h := res.header
		if h.Opcode.IsData() && int64(h.PayloadLen) > d.maxMessageSize {
			return Message{}, DecodeIncomplete, newProtocolError(CloseMessageTooBig, ErrMessageTooLarge)
		}
		total := uint64(res.headerLen) + h.PayloadLen
		if total > uint64(len(unread)) {
			return Message{}, DecodeIncomplete, nil
		}

		// RFC 6455 Section 5.1: frames arriving at a client must not
		// be masked.
		if h.Masked {
			return Message{}, DecodeIncomplete, newProtocolError(CloseProtocolError, ErrServerMasked)
		}

		start := rx.ReadCursor() + res.headerLen
		end := start + int(h.PayloadLen)

		if h.Opcode.IsControl() {
			msg, err := d.decodeControl(rx, h, start, end)
			rx.Advance(res.headerLen + int(h.PayloadLen))
			if err != nil {
				return Message{}, DecodeIncomplete, err
			}
			return msg, DecodeMessage, nil
		}

		msg, done, err := d.decodeData(rx, h, res.headerLen, start, end)
		if err != nil {
			return Message{}, DecodeIncomplete, err
		}
		if done {
			return msg, DecodeMessage, nil
		}
		// Fragment consumed, message still open: loop to look for the
		// next frame already buffered in rx.
	}
}

func (d *Decoder) decodeControl(rx *wsbuf.Buffer, h FrameHeader, start, end int) (Message, error) {
	payload := rx.Raw()[start:end]

	switch h.Opcode {
	case OpcodePing:
		return Message{Kind: KindPing, Payload: payload}, nil
	case OpcodePong:
		return Message{Kind: KindPong, Payload: payload}, nil
	case OpcodeClose:
		return decodeClosePayload(payload)
	default:
		return Message{}, newProtocolError(CloseProtocolError, ErrReservedOpcode)
	}
}

func decodeClosePayload(payload []byte) (Message, error) {
	switch {
	case len(payload) == 0:
		return Message{Kind: KindClose}, nil
	case len(payload) == 1:
		return Message{}, newProtocolError(CloseProtocolError, ErrInvalidClosePayload)
	default:
		code := binary.BigEndian.Uint16(payload[:2])
		if !isValidReceivedCloseCode(code) {
			return Message{}, newProtocolError(CloseProtocolError, ErrInvalidCloseCode)
		}
		reason := payload[2:]
		if !validUTF8(reason) {
			return Message{}, newProtocolError(CloseInvalidPayload, ErrInvalidUTF8)
		}
		return Message{Kind: KindClose, CloseCode: code, CloseReason: string(reason)}, nil
	}
}

// validUTF8 checks a complete, self-contained byte slice (used for
// control-frame payloads, which are never fragmented and so never
// need the incremental Validator to carry state across calls).
func validUTF8(p []byte) bool {
	var v Validator
	return v.Feed(p) && v.Finish()
}

func (d *Decoder) decodeData(rx *wsbuf.Buffer, h FrameHeader, headerLen, start, end int) (Message, bool, error) {
	s := &d.state

	if h.Opcode == OpcodeContinuation {
		if s.idle() {
			return Message{}, false, newProtocolError(CloseProtocolError, ErrUnexpectedContinuation)
		}
	} else {
		if !s.idle() {
			return Message{}, false, newProtocolError(CloseProtocolError, ErrExpectedContinuation)
		}
		s.inProgress = true
		s.kind = dataKind(h.Opcode)
		s.msgStart = start
		s.msgLen = 0
		s.validator.Reset()
	}

	payloadLen := end - start
	if int64(s.msgLen+payloadLen) > d.maxMessageSize {
		d.abort()
		return Message{}, false, newProtocolError(CloseMessageTooBig, ErrMessageTooLarge)
	}
	raw := rx.Raw()

	if payloadLen > 0 {
		if s.kind == KindText {
			if !s.validator.Feed(raw[start:end]) {
				d.abort()
				return Message{}, false, newProtocolError(CloseInvalidPayload, ErrInvalidUTF8)
			}
		}

		// Compact this fragment's payload over the frame bytes that
		// separate it from the message assembled so far (its own header,
		// earlier headers, any interleaved control frames) so the
		// message stays one contiguous region: move it, in place, to
		// just after the assembled bytes. copy() handles the overlap
		// correctly since dst precedes src.
		dstStart := s.msgStart + s.msgLen
		copy(raw[dstStart:dstStart+payloadLen], raw[start:end])
		s.msgLen += payloadLen
	}

	rx.Advance(headerLen + payloadLen)

	if !h.Fin {
		return Message{}, false, nil
	}

	if s.kind == KindText && !s.validator.Finish() {
		d.abort()
		return Message{}, false, newProtocolError(CloseInvalidPayload, ErrInvalidUTF8)
	}

	msg := Message{Kind: s.kind, Payload: raw[s.msgStart : s.msgStart+s.msgLen]}
	d.abort()
	return msg, true, nil
}

// abort resets ReceiveState to idle, whether the in-progress message
// completed normally or was terminated by a protocol error.
func (d *Decoder) abort() {
	d.state = ReceiveState{}
}

func dataKind(o Opcode) MessageKind {
	if o == OpcodeText {
		return KindText
	}
	return KindBinary
}
