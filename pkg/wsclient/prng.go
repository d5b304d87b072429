package wsclient

import (
	"crypto/rand"
	"encoding/binary"
	"sync"
)

// maskKeySource draws mask keys for outgoing frames. RFC 6455 Section
// 5.3 requires only that keys not be predictable to an observer, not
// that they be cryptographically strong; a xorshift64* generator
// seeded once from crypto/rand is unpredictable enough and, unlike
// calling crypto/rand.Read per frame, costs no syscall on the hot
// path.
type maskKeySource struct {
	mu    sync.Mutex
	state uint64
}

func newMaskKeySource() *maskKeySource {
	var seed [8]byte
	if _, err := rand.Read(seed[:]); err != nil {
		// crypto/rand failing indicates a broken host entropy source;
		// fall back to a fixed non-zero seed rather than leaving the
		// generator stuck at zero (xorshift64* never advances from 0).
		binary.BigEndian.PutUint64(seed[:], 0x9e3779b97f4a7c15)
	}
	s := binary.LittleEndian.Uint64(seed[:])
	if s == 0 {
		s = 0x9e3779b97f4a7c15
	}
	return &maskKeySource{state: s}
}

func (m *maskKeySource) next() uint64 {
	m.mu.Lock()
	x := m.state
	x ^= x >> 12
	x ^= x << 25
	x ^= x >> 27
	m.state = x
	m.mu.Unlock()
	return x * 0x2545F4914F6CDD1D
}

// NextKey draws a fresh 4-byte mask key.
func (m *maskKeySource) NextKey() [4]byte {
	v := uint32(m.next())
	var key [4]byte
	binary.BigEndian.PutUint32(key[:], v)
	return key
}
