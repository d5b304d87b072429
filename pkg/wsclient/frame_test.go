package wsclient

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func TestSerializeParseFrameHeaderRoundTrip(t *testing.T) {
	tests := []struct {
		name       string
		fin        bool
		opcode     Opcode
		masked     bool
		payloadLen uint64
		maskKey    [4]byte
	}{
		{"small unmasked", true, OpcodeText, false, 10, [4]byte{}},
		{"small masked", true, OpcodeBinary, true, 10, [4]byte{1, 2, 3, 4}},
		{"exactly 125", true, OpcodeBinary, true, 125, [4]byte{9, 9, 9, 9}},
		{"16-bit length", true, OpcodeBinary, true, 126, [4]byte{1, 2, 3, 4}},
		{"16-bit length max", true, OpcodeBinary, false, 0xFFFF, [4]byte{}},
		{"64-bit length", true, OpcodeBinary, true, 0x10000, [4]byte{5, 6, 7, 8}},
		{"large 64-bit length", false, OpcodeContinuation, true, 1 << 32, [4]byte{0xAA, 0xBB, 0xCC, 0xDD}},
		{"zero length", true, OpcodePing, true, 0, [4]byte{1, 1, 1, 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf [MaxFrameHeaderSize]byte
			n := serializeFrameHeader(buf[:], tt.fin, tt.opcode, tt.masked, tt.payloadLen, tt.maskKey)

			res := parseFrameHeader(buf[:n])
			if res.err != nil {
				t.Fatalf("parseFrameHeader returned error: %v", res.err)
			}
			if res.needMore != 0 {
				t.Fatalf("parseFrameHeader reported needMore=%d for a complete header", res.needMore)
			}
			if res.headerLen != n {
				t.Errorf("headerLen = %d, want %d", res.headerLen, n)
			}

			h := res.header
			if h.Fin != tt.fin || h.Opcode != tt.opcode || h.Masked != tt.masked || h.PayloadLen != tt.payloadLen {
				t.Errorf("parsed header = %+v, want fin=%v opcode=%v masked=%v len=%d",
					h, tt.fin, tt.opcode, tt.masked, tt.payloadLen)
			}
			if tt.masked && h.MaskKey != tt.maskKey {
				t.Errorf("parsed mask key = %v, want %v", h.MaskKey, tt.maskKey)
			}
		})
	}
}

func TestSerializeFrameHeaderShortestEncoding(t *testing.T) {
	tests := []struct {
		payloadLen uint64
		wantLen    int // header bytes before any mask key
	}{
		{0, 2},
		{125, 2},
		{126, 4},
		{0xFFFF, 4},
		{0x10000, 10},
	}
	for _, tt := range tests {
		var buf [MaxFrameHeaderSize]byte
		n := serializeFrameHeader(buf[:], true, OpcodeBinary, false, tt.payloadLen, [4]byte{})
		if n != tt.wantLen {
			t.Errorf("payloadLen=%d: header length = %d, want %d", tt.payloadLen, n, tt.wantLen)
		}
	}
}

func TestParseFrameHeaderNeedsMoreBytes(t *testing.T) {
	var buf [MaxFrameHeaderSize]byte
	n := serializeFrameHeader(buf[:], true, OpcodeBinary, true, 0x10000, [4]byte{1, 2, 3, 4})

	for i := 0; i < n; i++ {
		res := parseFrameHeader(buf[:i])
		if res.err != nil {
			t.Fatalf("at %d bytes: unexpected error %v", i, res.err)
		}
		if res.needMore <= 0 {
			t.Errorf("at %d of %d bytes: expected needMore > 0", i, n)
		}
	}

	res := parseFrameHeader(buf[:n])
	if res.err != nil || res.needMore != 0 {
		t.Fatalf("full header should parse cleanly, got err=%v needMore=%d", res.err, res.needMore)
	}
}

func TestParseFrameHeaderRejectsReservedOpcode(t *testing.T) {
	buf := []byte{0x80 | 0x03, 0x00}
	res := parseFrameHeader(buf)
	if res.err == nil {
		t.Fatal("expected an error for reserved opcode 0x3")
	}
	if res.err.Code != CloseProtocolError {
		t.Errorf("close code = %d, want %d", res.err.Code, CloseProtocolError)
	}
}

func TestParseFrameHeaderRejectsReservedBits(t *testing.T) {
	buf := []byte{0x80 | 0x40 | byte(OpcodeText), 0x00}
	res := parseFrameHeader(buf)
	if res.err == nil {
		t.Fatal("expected an error when RSV1 is set")
	}
}

func TestParseFrameHeaderRejectsFragmentedControl(t *testing.T) {
	buf := []byte{byte(OpcodePing), 0x00} // FIN=0
	res := parseFrameHeader(buf)
	if res.err == nil {
		t.Fatal("expected an error for a fragmented control frame")
	}
}

func TestParseFrameHeaderRejectsOversizeControl(t *testing.T) {
	buf := []byte{0x80 | byte(OpcodePing), 126, 0x00, 0x7E} // length field 126 invalid for control
	res := parseFrameHeader(buf)
	if res.err == nil {
		t.Fatal("expected an error for a control frame using the 16-bit length escape")
	}
}

func TestParseFrameHeaderRejectsHighBitExtendedLength(t *testing.T) {
	var buf [10]byte
	buf[0] = 0x80 | byte(OpcodeBinary)
	buf[1] = 127
	buf[2] = 0x80 // sets the top bit of the 64-bit length, RFC 6455 forbids this
	res := parseFrameHeader(buf[:])
	if res.err == nil {
		t.Fatal("expected an error when the top bit of a 64-bit length is set")
	}
}

func TestParseFrameHeaderRejectsNonMinimal16BitLength(t *testing.T) {
	buf := []byte{byte(OpcodeBinary), 126, 0x00, 125} // 125 fits in the 7-bit field
	res := parseFrameHeader(buf)
	if res.err == nil {
		t.Fatal("expected an error for a 16-bit length encoding a value <= 125")
	}
	if res.err.Code != CloseProtocolError {
		t.Errorf("close code = %d, want %d", res.err.Code, CloseProtocolError)
	}
}

func TestParseFrameHeaderAccepts16BitLengthAtBoundary(t *testing.T) {
	buf := []byte{byte(OpcodeBinary), 126, 0x00, 126} // 126 requires the 16-bit field
	res := parseFrameHeader(buf)
	if res.err != nil {
		t.Fatalf("unexpected error at the minimal-encoding boundary: %v", res.err)
	}
}

func TestParseFrameHeaderRejectsNonMinimal64BitLength(t *testing.T) {
	var buf [10]byte
	buf[0] = byte(OpcodeBinary)
	buf[1] = 127
	binary.BigEndian.PutUint64(buf[2:], 0xFFFF) // fits in the 16-bit field
	res := parseFrameHeader(buf[:])
	if res.err == nil {
		t.Fatal("expected an error for a 64-bit length encoding a value <= 0xFFFF")
	}
	if res.err.Code != CloseProtocolError {
		t.Errorf("close code = %d, want %d", res.err.Code, CloseProtocolError)
	}
}

func TestParseFrameHeaderAccepts64BitLengthAtBoundary(t *testing.T) {
	var buf [10]byte
	buf[0] = byte(OpcodeBinary)
	buf[1] = 127
	binary.BigEndian.PutUint64(buf[2:], 0x10000) // requires the 64-bit field
	res := parseFrameHeader(buf[:])
	if res.err != nil {
		t.Fatalf("unexpected error at the minimal-encoding boundary: %v", res.err)
	}
}

func TestParseFrameHeaderMaskKeyBytes(t *testing.T) {
	buf := []byte{0x80 | byte(OpcodeText), 0x80 | 4, 0xDE, 0xAD, 0xBE, 0xEF}
	res := parseFrameHeader(buf)
	if res.err != nil {
		t.Fatalf("unexpected error: %v", res.err)
	}
	want := [4]byte{0xDE, 0xAD, 0xBE, 0xEF}
	if res.header.MaskKey != want {
		t.Errorf("mask key = %v, want %v", res.header.MaskKey, want)
	}
	if !bytes.Equal(buf[:res.headerLen], buf) {
		t.Errorf("headerLen = %d, want %d", res.headerLen, len(buf))
	}
}
