//go:build amd64

package wsclient

import "testing"

func TestMaskBytesWideMatchesGeneric(t *testing.T) {
	key := [4]byte{0x11, 0x22, 0x33, 0x44}
	for n := 0; n < 64; n++ {
		data := make([]byte, n)
		for i := range data {
			data[i] = byte(i*13 + 1)
		}
		generic := append([]byte(nil), data...)
		wide := append([]byte(nil), data...)

		maskBytesGeneric(generic, key)
		maskBytesWide(wide, key)

		for i := range generic {
			if generic[i] != wide[i] {
				t.Fatalf("n=%d: maskBytesWide diverges from maskBytesGeneric at byte %d", n, i)
			}
		}
	}
}
