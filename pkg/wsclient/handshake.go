package wsclient

import (
	"bufio"
	"crypto/rand"
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/yourusername/wsclient/internal/wsbuf"
)

// handshakeRequest holds the nonce generated for a single opening
// handshake, plus the accept key a compliant server must echo back.
type handshakeRequest struct {
	key            string
	expectedAccept string
}

// newHandshakeRequest generates a fresh Sec-WebSocket-Key nonce.
func newHandshakeRequest() (*handshakeRequest, error) {
	var nonce [16]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, fmt.Errorf("wsclient: generating handshake nonce: %w", err)
	}
	key := base64.StdEncoding.EncodeToString(nonce[:])
	return &handshakeRequest{
		key:            key,
		expectedAccept: computeAcceptKey(key),
	}, nil
}

// computeAcceptKey derives the Sec-WebSocket-Accept value a compliant
// server must return for the given Sec-WebSocket-Key, RFC 6455
// Section 1.3: base64(SHA1(key + GUID)).
func computeAcceptKey(key string) string {
	h := sha1.New()
	h.Write([]byte(key))
	h.Write([]byte(websocketGUID))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// writeHandshakeRequest serializes the GET upgrade request for u into
// tx by hand, so the handshake itself stays allocation-light even
// though the response side uses net/http to parse. extraHeader, if
// non-nil, is appended verbatim (e.g. Origin, Sec-WebSocket-Protocol,
// Authorization) after the required fields.
func writeHandshakeRequest(tx *wsbuf.Buffer, u *url.URL, hr *handshakeRequest, extraHeader http.Header) {
	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	if u.RawQuery != "" {
		path += "?" + u.RawQuery
	}

	tx.Write([]byte("GET "))
	tx.Write([]byte(path))
	tx.Write([]byte(" HTTP/1.1\r\n"))

	tx.Write([]byte("Host: "))
	tx.Write([]byte(u.Host))
	tx.Write([]byte("\r\n"))

	tx.Write([]byte("Upgrade: websocket\r\n"))
	tx.Write([]byte("Connection: Upgrade\r\n"))

	tx.Write([]byte("Sec-WebSocket-Key: "))
	tx.Write([]byte(hr.key))
	tx.Write([]byte("\r\n"))

	tx.Write([]byte("Sec-WebSocket-Version: 13\r\n"))

	for name, values := range extraHeader {
		for _, v := range values {
			tx.Write([]byte(name))
			tx.Write([]byte(": "))
			tx.Write([]byte(v))
			tx.Write([]byte("\r\n"))
		}
	}

	tx.Write([]byte("\r\n"))
}

// handshakeResult carries what the client learns from a validated
// handshake response beyond the fact that it succeeded.
type handshakeResult struct {
	subprotocol string
	// leftover holds any bytes br had already buffered past the header
	// block (a server that pipelines its first frame behind the 101
	// response); the caller seeds rx with these before starting the
	// message loop.
	leftover []byte
}

// readHandshakeResponse parses the server's handshake response out of
// br and validates it against hr.
func readHandshakeResponse(br *bufio.Reader, hr *handshakeRequest) (*handshakeResult, error) {
	resp, err := http.ReadResponse(br, &http.Request{Method: http.MethodGet})
	if err != nil {
		return nil, fmt.Errorf("wsclient: reading handshake response: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusSwitchingProtocols {
		return nil, &HandshakeError{
			StatusCode: resp.StatusCode,
			Reason:     "server did not return 101 Switching Protocols",
		}
	}
	if !headerTokenEquals(resp.Header, "Upgrade", "websocket") {
		return nil, &HandshakeError{Reason: "missing or invalid Upgrade header"}
	}
	if !headerTokenEquals(resp.Header, "Connection", "upgrade") {
		return nil, &HandshakeError{Reason: "missing or invalid Connection header"}
	}
	accept := resp.Header.Get("Sec-WebSocket-Accept")
	if accept == "" || accept != hr.expectedAccept {
		return nil, &HandshakeError{Reason: "Sec-WebSocket-Accept does not match the request nonce"}
	}

	result := &handshakeResult{subprotocol: resp.Header.Get("Sec-WebSocket-Protocol")}

	// bufio.Reader may have read ahead past the blank line terminating
	// the header block; anything still buffered is the start of the
	// WebSocket byte stream proper and must not be discarded.
	if n := br.Buffered(); n > 0 {
		result.leftover = make([]byte, n)
		if _, err := br.Read(result.leftover); err != nil {
			return nil, fmt.Errorf("wsclient: draining buffered handshake bytes: %w", err)
		}
	}
	return result, nil
}

// headerTokenEquals reports whether any comma-separated value of
// header h[key] contains token, compared case-insensitively. RFC 6455
// Section 4.1 allows both Connection and Upgrade to appear among
// other comma-separated tokens rather than as the header's sole value.
func headerTokenEquals(h http.Header, key, token string) bool {
	for _, v := range h[key] {
		for _, part := range strings.Split(v, ",") {
			if strings.EqualFold(strings.TrimSpace(part), token) {
				return true
			}
		}
	}
	return false
}
